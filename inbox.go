package taskmill

import (
	"runtime"
	"sync/atomic"

	"golang.org/x/sys/cpu"
)

// inbox is a bounded, lock-free MPSC queue of jobs submitted from outside the
// scheduler. Any goroutine may push; only the owning worker peeks and pops,
// moving jobs into its slot pool and deque.
type inbox struct {
	_ cpu.CacheLinePad

	// head is only modified by the single consumer
	head atomic.Uint64

	_ cpu.CacheLinePad

	// tail is claimed by producers via CAS
	tail atomic.Uint64

	_ cpu.CacheLinePad

	buffer []atomic.Pointer[Job]
	mask   uint64
}

// newInbox creates an inbox. Capacity must be a power of two; one slot is
// kept empty to tell full from empty.
func newInbox(capacity int) *inbox {
	if !isPowerOfTwo(capacity) || capacity < 2 {
		panic(errInvalidConfig("inbox capacity must be a power of 2 and >= 2"))
	}
	return &inbox{
		buffer: make([]atomic.Pointer[Job], capacity),
		mask:   uint64(capacity - 1),
	}
}

// tryPush appends j, returning false if the inbox is full.
func (q *inbox) tryPush(j *Job) bool {
	size := q.mask + 1
	for attempt := 0; ; attempt++ {
		tail := q.tail.Load()
		head := q.head.Load()
		if tail-head >= size-1 {
			return false
		}
		if q.tail.CompareAndSwap(tail, tail+1) {
			q.buffer[tail&q.mask].Store(j)
			return true
		}
		// contended: back off a little more on every failed CAS
		for i := 0; i < min(attempt, 16); i++ {
			runtime.Gosched()
		}
	}
}

// peek returns the oldest job without removing it. Consumer only. A claimed
// slot whose job is not yet stored reads as empty.
func (q *inbox) peek() *Job {
	head := q.head.Load()
	if head >= q.tail.Load() {
		return nil
	}
	return q.buffer[head&q.mask].Load()
}

// pop removes and returns the oldest job. Consumer only.
func (q *inbox) pop() *Job {
	head := q.head.Load()
	if head >= q.tail.Load() {
		return nil
	}
	slot := &q.buffer[head&q.mask]
	j := slot.Load()
	if j == nil {
		return nil
	}
	slot.Store(nil)
	q.head.Store(head + 1)
	return j
}

// size returns the approximate queue length
func (q *inbox) size() int {
	head := q.head.Load()
	tail := q.tail.Load()
	if tail < head {
		return 0
	}
	return int(tail - head)
}
