// Package fake provides a DDSIngress/TypeRegistry test double driven
// entirely by direct method calls, used by the scenario tests mirroring
// spec.md §8's seed cases. It deliberately performs no timing or network
// simulation: callers control ordering explicitly.
package fake

import (
	"context"
	"sync"

	"github.com/otusdds/recorder/internal/model"
)

// Ingress is a synchronous, buffered DDSIngress test double.
type Ingress struct {
	ch chan model.Sample
}

// NewIngress creates an Ingress with the given channel capacity.
func NewIngress(capacity int) *Ingress {
	return &Ingress{ch: make(chan model.Sample, capacity)}
}

// Run implements ingress.DDSIngress: it simply blocks until ctx is
// cancelled, since Deliver already pushes directly onto the channel.
func (i *Ingress) Run(ctx context.Context) error {
	<-ctx.Done()
	close(i.ch)
	return ctx.Err()
}

// Samples implements ingress.DDSIngress.
func (i *Ingress) Samples() <-chan model.Sample {
	return i.ch
}

// Deliver pushes one sample as if received from the wire.
func (i *Ingress) Deliver(s model.Sample) {
	i.ch <- s
}

// TypeRegistry is a TypeRegistry test double resolving schemas that have
// been pre-registered via Register, or queuing the callback until they
// are.
type TypeRegistry struct {
	mu       sync.Mutex
	schemas  map[string]model.Schema
	pending  map[string][]func(model.Schema)
	resolved map[string]bool
}

// NewTypeRegistry creates an empty TypeRegistry double.
func NewTypeRegistry() *TypeRegistry {
	return &TypeRegistry{
		schemas:  make(map[string]model.Schema),
		pending:  make(map[string][]func(model.Schema)),
		resolved: make(map[string]bool),
	}
}

// Register makes typeName resolvable, immediately invoking any callbacks
// already waiting on it.
func (r *TypeRegistry) Register(schema model.Schema) {
	r.mu.Lock()
	r.schemas[schema.TypeName] = schema
	waiters := r.pending[schema.TypeName]
	delete(r.pending, schema.TypeName)
	r.mu.Unlock()

	for _, cb := range waiters {
		cb(schema)
	}
}

// Resolve implements ingress.TypeRegistry: at most one callback per
// typeName is ever invoked, matching spec.md §9.
func (r *TypeRegistry) Resolve(typeName string, cb func(model.Schema)) {
	r.mu.Lock()
	if r.resolved[typeName] {
		r.mu.Unlock()
		return
	}
	if schema, ok := r.schemas[typeName]; ok {
		r.resolved[typeName] = true
		r.mu.Unlock()
		cb(schema)
		return
	}
	r.pending[typeName] = append(r.pending[typeName], cb)
	r.resolved[typeName] = true
	r.mu.Unlock()
}
