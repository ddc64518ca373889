// Package writer defines the append-only output sink abstraction (spec.md
// §4.6, §9 "Writer polymorphism") and its shared resource-limit policy.
// Two concrete containers implement it: writer/chunklog (a framed binary
// log) and writer/relstore (a SQLite-backed relational store).
package writer

import "github.com/otusdds/recorder/internal/model"

// Writer is the Handler's only view of its output sink; the Handler must
// not know which concrete container it has (spec.md §9).
type Writer interface {
	// Open creates (or reopens, after rotation) the current output file
	// from fileBaseName, per the naming rule in spec.md §4.6.
	Open(fileBaseName string) error

	// AddSchema registers a schema. A schema is registered at most once
	// per TypeName (spec.md §3 invariant); calling it again for the same
	// TypeName is a no-op.
	AddSchema(schema model.Schema) error

	// AddChannel registers a (topic, type, qos) triple. Only meaningful
	// for containers with a Channel concept (chunklog); relstore no-ops.
	AddChannel(channel model.Channel) error

	// WriteRecord appends one sample. Returns an error wrapping
	// rerr.ErrInconsistency if the sample fails the payload invariant, or
	// rerr.ErrCapacity if resource limits block the write (and rotation,
	// where enabled, did not free room).
	WriteRecord(sample *model.Sample) error

	// WriteMetadata persists the dynamic-type collection as a trailer
	// record. Called once, immediately before Close.
	WriteMetadata(collection DynamicTypeCollection) error

	// Close flushes, writes any final trailer, and atomically finalizes
	// the current file (temp-file rename per spec.md §4.6).
	Close() error

	// BytesWritten reports the cumulative bytes written across every file
	// produced by this Writer instance (for metrics and size-bound
	// tests).
	BytesWritten() int64
}

// DynamicTypeCollection accumulates every schema seen during a run, for
// the trailer metadata record written on close (spec.md §3 "Schema
// Lifecycle").
type DynamicTypeCollection struct {
	Schemas []model.Schema
}

// Add appends s if its TypeName is not already present.
func (c *DynamicTypeCollection) Add(s model.Schema) {
	for _, existing := range c.Schemas {
		if existing.TypeName == s.TypeName {
			return
		}
	}
	c.Schemas = append(c.Schemas, s)
}
