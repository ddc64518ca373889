// Package pending implements the Handler's holding area for samples whose
// schema has not yet arrived (spec.md §4.4).
package pending

import (
	"sync"

	"github.com/otusdds/recorder/internal/model"
)

// EvictedHandler is called with a sample dropped from capacity (spec.md
// §4.4): at-capacity eviction of the oldest entry in a per-type queue.
type EvictedHandler func(typeName string, s *model.Sample)

// Store is a map from type_name to a bounded FIFO of samples awaiting
// that type's schema. It is the recorder's answer to DDS discovery
// delivering type information after the first samples of that type
// (spec.md §4.4 "Rationale").
//
// MaxPerType follows spec.md §6 recorder.max-pending-samples: 0 disables
// the store entirely (every push is rejected), a negative value means
// unlimited, any positive value is the per-type bound.
type Store struct {
	mu         sync.Mutex
	maxPerType int
	queues     map[string]*fifo
	onEvict    EvictedHandler
}

// New creates a PendingStore bounded at maxPerType entries per type name.
// onEvict is invoked (outside the store's lock) whenever capacity forces
// the oldest entry in a queue to be dropped.
func New(maxPerType int, onEvict EvictedHandler) *Store {
	return &Store{
		maxPerType: maxPerType,
		queues:     make(map[string]*fifo),
		onEvict:    onEvict,
	}
}

// Disabled reports whether the store accepts no samples at all
// (max-pending-samples == 0).
func (s *Store) Disabled() bool {
	return s.maxPerType == 0
}

// Push enqueues a sample for its type. If the per-type queue is full, the
// oldest entry is evicted and handed to onEvict before the new sample is
// appended.
func (s *Store) Push(typeName string, sample *model.Sample) {
	if s.Disabled() {
		return
	}

	var evicted *model.Sample
	s.mu.Lock()
	q, ok := s.queues[typeName]
	if !ok {
		q = newFIFO()
		s.queues[typeName] = q
	}
	if s.maxPerType > 0 && q.len() >= s.maxPerType {
		evicted = q.popOldest()
	}
	q.push(sample)
	s.mu.Unlock()

	if evicted != nil && s.onEvict != nil {
		s.onEvict(typeName, evicted)
	}
}

// Drain removes and returns, in original order, every sample queued for
// typeName. Returns nil if there is nothing pending for that type.
func (s *Store) Drain(typeName string) []*model.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	q, ok := s.queues[typeName]
	if !ok {
		return nil
	}
	delete(s.queues, typeName)
	return q.items()
}

// DrainAll removes and returns every pending sample across all types,
// used on STOPPED to flush remaining pending samples with blank schemas
// (spec.md §4.3 "RUNNING -> STOPPED").
func (s *Store) DrainAll() map[string][]*model.Sample {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make(map[string][]*model.Sample, len(s.queues))
	for typeName, q := range s.queues {
		out[typeName] = q.items()
	}
	s.queues = make(map[string]*fifo)
	return out
}

// Reset clears the store without invoking onEvict, used on
// STOPPED->RUNNING/PAUSED (spec.md §4.3 "clear PendingStore").
func (s *Store) Reset() {
	s.mu.Lock()
	s.queues = make(map[string]*fifo)
	s.mu.Unlock()
}

// Len reports the number of samples queued for typeName, for metrics and
// tests.
func (s *Store) Len(typeName string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if q, ok := s.queues[typeName]; ok {
		return q.len()
	}
	return 0
}

// fifo is an ordered, growable queue of samples for one type. Bounded
// growth is enforced by Store.Push's capacity check above; fifo itself
// just tracks order and supports removing from the front.
type fifo struct {
	buf []*model.Sample
}

func newFIFO() *fifo {
	return &fifo{}
}

func (f *fifo) push(s *model.Sample) {
	f.buf = append(f.buf, s)
}

func (f *fifo) popOldest() *model.Sample {
	if len(f.buf) == 0 {
		return nil
	}
	oldest := f.buf[0]
	f.buf = f.buf[1:]
	return oldest
}

func (f *fifo) len() int {
	return len(f.buf)
}

func (f *fifo) items() []*model.Sample {
	out := f.buf
	f.buf = nil
	return out
}
