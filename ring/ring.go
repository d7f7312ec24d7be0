// Package ring implements a bounded, single-producer/single-consumer
// circular buffer. Exactly one goroutine may call the Write* methods and
// exactly one goroutine may call the Read* methods; there is no lock and no
// compare-and-swap on the hot path, only a release store on commit and an
// acquire load on the first observation of the updated index.
package ring

import "sync/atomic"

// SPSCRing is a fixed-capacity circular buffer of T, owned by exactly one
// producer and one consumer goroutine. T should be trivially copyable; the
// ring stores values, not pointers, so large T defeats the cache-locality
// the ring exists for.
type SPSCRing[T any] struct {
	writeIdx uint64
	_        [56]byte // cache-line isolation between producer and consumer cursors
	readIdx  uint64
	_        [56]byte

	mask uint64
	buf  []T
}

// NewSPSCRing allocates a ring of the given capacity. Capacity is rounded up
// to the next power of two so the index-to-slot mapping is a cheap bitwise
// mask instead of a modulo.
func NewSPSCRing[T any](capacity int) *SPSCRing[T] {
	if capacity < 1 {
		capacity = 1
	}
	size := 1
	for size < capacity {
		size <<= 1
	}
	return &SPSCRing[T]{
		mask: uint64(size - 1),
		buf:  make([]T, size),
	}
}

// Cap returns the ring's fixed capacity.
func (r *SPSCRing[T]) Cap() int {
	return len(r.buf)
}

// Size returns the current element count. It is exact for the single caller
// living on the same side as the most recent index update and approximate
// from the other side, but it never falls outside [0, Cap()].
func (r *SPSCRing[T]) Size() int {
	w := atomic.LoadUint64(&r.writeIdx)
	rd := atomic.LoadUint64(&r.readIdx)
	return int(w - rd)
}

// NextWriteSlot returns a pointer to the slot the producer should fill next.
// The caller must follow with CommitWrite once the slot's contents are
// fully written. Calling this when the ring is full is a precondition
// violation the ring does not itself detect — the caller must size the ring
// so that cannot happen at steady state.
func (r *SPSCRing[T]) NextWriteSlot() *T {
	return &r.buf[r.writeIdx&r.mask]
}

// CommitWrite publishes the slot most recently returned by NextWriteSlot to
// the consumer. The store is a release: everything the producer wrote to the
// slot happens-before the consumer's next acquire load of writeIdx.
func (r *SPSCRing[T]) CommitWrite() {
	atomic.StoreUint64(&r.writeIdx, r.writeIdx+1)
}

// NextReadSlot returns a pointer to the next unread slot, or nil if the ring
// is empty. The returned pointer is valid until the matching CommitRead.
func (r *SPSCRing[T]) NextReadSlot() *T {
	w := atomic.LoadUint64(&r.writeIdx)
	if r.readIdx == w {
		return nil
	}
	return &r.buf[r.readIdx&r.mask]
}

// CommitRead releases the slot most recently returned by NextReadSlot back
// to the producer.
func (r *SPSCRing[T]) CommitRead() {
	atomic.StoreUint64(&r.readIdx, r.readIdx+1)
}
