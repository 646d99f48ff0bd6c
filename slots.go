package taskmill

// SlotPool is a fixed array of reusable Job slots owned by one worker. A slot
// is free exactly when its job is not pending; there is no release call, a
// slot frees itself once its job is taken off a deque to run.
//
// Only the owner acquires slots. Any goroutine may run the jobs in them.
type SlotPool struct {
	slots []Job
}

// NewSlotPool creates a pool of size slots.
func NewSlotPool(size int) *SlotPool {
	if size < 1 {
		panic(errInvalidConfig("slot pool size must be >= 1"))
	}
	return &SlotPool{slots: make([]Job, size)}
}

// TryAcquire returns the first free slot, or false if every slot is pending.
// Owner only. The slot stays free until a callable is stored in it.
func (p *SlotPool) TryAcquire() (*Job, bool) {
	for i := range p.slots {
		if !p.slots[i].pending.Load() {
			return &p.slots[i], true
		}
	}
	return nil, false
}

// Len returns the number of slots.
func (p *SlotPool) Len() int {
	return len(p.slots)
}

// Pending returns an advisory count of occupied slots.
func (p *SlotPool) Pending() int {
	n := 0
	for i := range p.slots {
		if p.slots[i].pending.Load() {
			n++
		}
	}
	return n
}
