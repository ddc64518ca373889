package model

import "sync"

// Pool is a reference-counted owner of sample payload bytes, shared by the
// DDS ingress, the Handler's buffers/PendingStore, and the Writer. Per
// spec.md §5 ("Shared resource policy"), the pool is a root owner: slabs
// are returned to the underlying sync.Pool only once every holder has
// dropped its reference, and there are no cyclic references to manage.
type Pool struct {
	slabs sync.Pool
}

// NewPool creates an empty payload pool.
func NewPool() *Pool {
	return &Pool{
		slabs: sync.Pool{New: func() any { return new([]byte) }},
	}
}

// Acquire copies data into a pooled slab and returns a PayloadRef with a
// single reference held by the caller.
func (p *Pool) Acquire(data []byte) *PayloadRef {
	slabPtr := p.slabs.Get().(*[]byte)
	slab := *slabPtr
	if cap(slab) < len(data) {
		slab = make([]byte, len(data))
	} else {
		slab = slab[:len(data)]
	}
	copy(slab, data)
	ref := &PayloadRef{pool: p, buf: slab}
	ref.refs.Store(1)
	return ref
}

// PayloadRef is a reference-counted view over pooled payload bytes.
type PayloadRef struct {
	pool *Pool
	buf  []byte
	refs refcount
}

// Bytes returns the payload's bytes. The returned slice is only valid
// while the caller holds a reference.
func (r *PayloadRef) Bytes() []byte {
	if r == nil {
		return nil
	}
	return r.buf
}

// Len returns the payload length, 0 for a nil ref.
func (r *PayloadRef) Len() int {
	if r == nil {
		return 0
	}
	return len(r.buf)
}

// Retain adds a reference, to be held by a new owner (e.g. the Writer,
// while the Handler's buffer still holds its own reference until drained).
func (r *PayloadRef) Retain() *PayloadRef {
	if r != nil {
		r.refs.add(1)
	}
	return r
}

// Release drops a reference; when the last reference drops, the backing
// slab returns to the pool.
func (r *PayloadRef) Release() {
	if r == nil {
		return
	}
	if r.refs.add(-1) == 0 {
		buf := r.buf[:0]
		r.pool.slabs.Put(&buf)
		r.buf = nil
	}
}

// refcount is a tiny atomic counter kept as its own type so PayloadRef's
// zero value never aliases another ref's count.
type refcount struct {
	mu sync.Mutex
	n  int64
}

func (c *refcount) Store(v int64) {
	c.mu.Lock()
	c.n = v
	c.mu.Unlock()
}

func (c *refcount) add(delta int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.n += delta
	return c.n
}
