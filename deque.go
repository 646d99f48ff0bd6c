package taskmill

import (
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// Deque is a Chase-Lev dynamic circular work-stealing deque of *T.
//
// One goroutine, the owner, pushes and pops at the bottom (LIFO). Any number
// of thieves steal from the top (FIFO). The two ends are coordinated through
// the top index alone: a CAS on top decides every race for an element, so
// each pushed element is returned by exactly one PopBottom or Steal.
//
// The backing ring grows by doubling when full. Rings replaced by growth are
// retired, not dropped: a thief that loaded the old ring may still be reading
// from it, so the deque keeps every retired ring reachable for as long as the
// deque itself is.
//
// sync/atomic operations are sequentially consistent, which subsumes every
// acquire, release and full fence the algorithm requires.
type Deque[T any] struct {
	_ cpu.CacheLinePad

	// top is the steal end, advanced only by CAS
	top atomic.Int64

	_ cpu.CacheLinePad

	// bottom is the owner end, written only by the owner
	bottom atomic.Int64

	_ cpu.CacheLinePad

	ring atomic.Pointer[ring[T]]

	// retired rings, owner-only; kept for the lifetime of the deque
	retired []*ring[T]

	// grows mirrors len(retired) for readers other than the owner
	grows atomic.Int64
}

// ring is a power-of-two circular buffer. Slots are atomic because a thief's
// speculative read of a slot may overlap the owner overwriting it; the CAS
// on top discards such reads.
type ring[T any] struct {
	mask  int64
	slots []atomic.Pointer[T]
}

func newRing[T any](capacity int64) *ring[T] {
	return &ring[T]{
		mask:  capacity - 1,
		slots: make([]atomic.Pointer[T], capacity),
	}
}

func (r *ring[T]) capacity() int64 { return r.mask + 1 }

func (r *ring[T]) get(i int64) *T { return r.slots[i&r.mask].Load() }

func (r *ring[T]) put(i int64, v *T) { r.slots[i&r.mask].Store(v) }

// grow returns a ring of twice the capacity holding the live range [top, bottom).
func (r *ring[T]) grow(top, bottom int64) *ring[T] {
	n := newRing[T](r.capacity() * 2)
	for i := top; i < bottom; i++ {
		n.put(i, r.get(i))
	}
	return n
}

// NewDeque creates a deque whose first ring holds capacity elements.
// It panics if capacity is not a positive power of two.
func NewDeque[T any](capacity int) *Deque[T] {
	if !isPowerOfTwo(capacity) {
		panic(errInvalidConfig("deque capacity must be a power of 2"))
	}
	d := &Deque[T]{}
	d.ring.Store(newRing[T](int64(capacity)))
	return d
}

// PushBottom adds v at the bottom. Owner only.
//
// If the ring cannot hold (bottom-top)+1 elements it is replaced by one of
// double capacity and the old ring is retired. The element is written before
// bottom is published, so a thief that observes the new bottom also observes
// the element.
func (d *Deque[T]) PushBottom(v *T) {
	b := d.bottom.Load()
	t := d.top.Load()
	r := d.ring.Load()

	if b-t+1 > r.capacity() {
		old := r
		r = old.grow(t, b)
		d.retired = append(d.retired, old)
		d.grows.Add(1)
		d.ring.Store(r)
	}

	r.put(b, v)
	d.bottom.Store(b + 1)
}

// PopBottom removes the most recently pushed element. Owner only.
// It returns nil if the deque is empty or a thief won the last element.
func (d *Deque[T]) PopBottom() *T {
	b := d.bottom.Load() - 1
	r := d.ring.Load()
	d.bottom.Store(b)
	t := d.top.Load()

	if t > b {
		// already empty
		d.bottom.Store(b + 1)
		return nil
	}

	v := r.get(b)
	if t == b {
		// last element: race the thieves for it
		if !d.top.CompareAndSwap(t, t+1) {
			v = nil
		}
		d.bottom.Store(b + 1)
	}
	return v
}

// Steal removes the oldest element. Safe for concurrent use by any number of
// goroutines. It returns nil if the deque is empty or the element was taken
// by the owner or another thief first; callers retry elsewhere.
func (d *Deque[T]) Steal() *T {
	t := d.top.Load()
	b := d.bottom.Load()
	if t >= b {
		return nil
	}

	v := d.ring.Load().get(t)
	if !d.top.CompareAndSwap(t, t+1) {
		return nil
	}
	return v
}

// Size returns an advisory element count.
func (d *Deque[T]) Size() int {
	n := d.bottom.Load() - d.top.Load()
	if n < 0 {
		return 0
	}
	return int(n)
}

// IsEmpty reports whether the deque appears empty.
func (d *Deque[T]) IsEmpty() bool {
	return d.Size() == 0
}

// Capacity returns the capacity of the current ring.
func (d *Deque[T]) Capacity() int {
	return int(d.ring.Load().capacity())
}

// Retired returns how many rings have been replaced by growth.
func (d *Deque[T]) Retired() int {
	return int(d.grows.Load())
}
