package taskmill

// Stats is a snapshot of scheduler counters. Counters are read without
// locks, so values may be slightly inconsistent during concurrent operation.
//
// Example:
//
//	st := sched.Stats()
//	fmt.Printf("executed %d, stolen %d, outstanding %d\n",
//	    st.Executed, st.Stolen, st.Outstanding)
type Stats struct {
	// Submitted is the number of jobs accepted, from workers and from
	// external goroutines.
	Submitted int64

	// Executed is the number of jobs invoked, including ones that failed.
	Executed int64

	// Stolen is the number of executed jobs that were taken from another
	// loop's deque. Every render-affinity job counts as stolen.
	Stolen int64

	// Failed is the number of jobs that returned an error or panicked.
	Failed int64

	// Panics is the number of panics recovered by the loops themselves, that
	// is, from jobs without a future.
	Panics int64

	// Busy is the number of submissions rejected with ErrBusy.
	Busy int64

	// Dropped is the number of queued jobs discarded by Stop.
	Dropped int64

	// Outstanding is the number of accepted jobs not yet executed or dropped.
	Outstanding int64

	// Workers holds one entry per worker, in id order.
	Workers []LoopStats

	// Render describes the render agent.
	Render LoopStats
}

// LoopStats describes one worker or the render agent. Queue fields are zero
// for the render agent, which owns no queues.
type LoopStats struct {
	// Name is "worker-<id>" or "render".
	Name string

	// State is the loop's lifecycle state.
	State LoopState

	Executed int64
	Stolen   int64
	Failed   int64
	Panics   int64

	// DequeSize and DequeCapacity describe the general deque.
	DequeSize     int
	DequeCapacity int

	// RenderDequeSize is the number of render-affinity jobs waiting.
	RenderDequeSize int

	// Retired is the number of deque rings replaced by growth, over both
	// deques. Retired rings stay allocated until the scheduler is released.
	Retired int

	// PendingSlots counts occupied job slots over both slot pools.
	PendingSlots int

	// InboxSize is the number of external jobs not yet moved into the deque.
	InboxSize int
}

// Stats returns a snapshot of scheduler statistics.
func (s *Scheduler) Stats() Stats {
	st := Stats{
		Submitted:   s.submitted.Load(),
		Busy:        s.busy.Load(),
		Dropped:     s.dropped.Load(),
		Outstanding: s.outstanding.Load(),
		Workers:     make([]LoopStats, len(s.workers)),
	}

	for i, w := range s.workers {
		ls := w.loop.stats()
		ls.DequeSize = w.general.Size()
		ls.DequeCapacity = w.general.Capacity()
		ls.RenderDequeSize = w.renderQ.Size()
		ls.Retired = w.general.Retired() + w.renderQ.Retired()
		ls.PendingSlots = w.slots.Pending() + w.renderSlots.Pending()
		ls.InboxSize = w.inbox.size()
		st.Workers[i] = ls
		st.add(ls)
	}
	st.Render = s.render.loop.stats()
	st.add(st.Render)

	return st
}

func (st *Stats) add(ls LoopStats) {
	st.Executed += ls.Executed
	st.Stolen += ls.Stolen
	st.Failed += ls.Failed
	st.Panics += ls.Panics
}

func (l *loop) stats() LoopStats {
	return LoopStats{
		Name:     l.name,
		State:    l.State(),
		Executed: l.executed.Load(),
		Stolen:   l.stolen.Load(),
		Failed:   l.failed.Load(),
		Panics:   l.panics.Load(),
	}
}
