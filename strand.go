package taskmill

import (
	"sync"
)

// strandBatch bounds how many strand tasks run per scheduled job before the
// strand yields its worker to other jobs.
const strandBatch = 32

// Strand is a FIFO serial executor layered on a Scheduler. Tasks posted to a
// strand run one at a time, in post order, on whichever worker picks the
// strand up; tasks of one strand never run concurrently. A strand does not
// take part in work stealing beyond being an ordinary job.
//
// Strands suit ordered setup or bookkeeping work; bulk parallel work belongs
// directly on the scheduler.
type Strand struct {
	sched *Scheduler

	mu      sync.Mutex
	queue   []func(w *Worker)
	running bool
}

// NewStrand creates a strand that runs its tasks on s.
func NewStrand(s *Scheduler) *Strand {
	return &Strand{sched: s}
}

// Post appends fn to the strand. It may be called from any goroutine,
// including from jobs. If the strand is idle a job is submitted to run it;
// if that submission is rejected, fn is not queued and the error is returned.
// Once the scheduler is draining or stopped, Post returns ErrSchedulerStopped.
func (st *Strand) Post(fn func(w *Worker)) error {
	if fn == nil {
		return ErrNilFunc
	}

	st.mu.Lock()
	defer st.mu.Unlock()

	if !st.sched.accepting() {
		return ErrSchedulerStopped
	}
	if !st.running {
		if err := st.sched.Submit(st.pump); err != nil {
			return err
		}
		st.running = true
	}
	st.queue = append(st.queue, fn)
	return nil
}

// Len returns the number of tasks waiting to run.
func (st *Strand) Len() int {
	st.mu.Lock()
	defer st.mu.Unlock()
	return len(st.queue)
}

// pump runs up to strandBatch tasks, then reschedules itself on the same
// worker if more are queued.
func (st *Strand) pump(w *Worker) {
	for i := 0; i < strandBatch; i++ {
		fn, ok := st.next()
		if !ok {
			return
		}
		st.runTask(w, fn)
	}

	st.mu.Lock()
	if len(st.queue) == 0 {
		st.running = false
		st.mu.Unlock()
		return
	}
	st.mu.Unlock()

	// running stays set, so concurrent posts only append
	if err := w.Submit(st.pump); err != nil {
		st.mu.Lock()
		n := len(st.queue)
		st.queue = nil
		st.running = false
		st.mu.Unlock()
		st.sched.log.Warning().Err(err).Int("abandoned", n).Log("strand abandoned tasks")
	}
}

func (st *Strand) next() (func(*Worker), bool) {
	st.mu.Lock()
	defer st.mu.Unlock()
	if len(st.queue) == 0 {
		st.running = false
		return nil, false
	}
	fn := st.queue[0]
	st.queue[0] = nil
	st.queue = st.queue[1:]
	return fn, true
}

// runTask isolates a panicking task so the rest of the strand keeps going.
func (st *Strand) runTask(w *Worker, fn func(*Worker)) {
	defer func() {
		if r := recover(); r != nil {
			if isContractViolation(r) {
				panic(r)
			}
			w.recordPanic(r)
		}
	}()
	fn(w)
}
