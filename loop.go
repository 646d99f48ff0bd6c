package taskmill

import (
	"runtime"
	"runtime/debug"
	"sync/atomic"
	"time"
)

// LoopState is the lifecycle state of a worker or render agent loop.
type LoopState int32

const (
	// StateRunning: the loop is polling for and executing jobs.
	StateRunning LoopState = iota
	// StateDraining: the loop saw the scheduler stop and is finishing up.
	StateDraining
	// StateStopped: the loop has returned, or never started.
	StateStopped
)

func (s LoopState) String() string {
	switch s {
	case StateRunning:
		return "RUNNING"
	case StateDraining:
		return "DRAINING"
	case StateStopped:
		return "STOPPED"
	}
	return "UNKNOWN"
}

// loop is the scheduling state shared by Worker and RenderAgent. Exactly one
// of worker and render points back at the embedding value.
type loop struct {
	id     int
	name   string
	sched  *Scheduler
	worker *Worker
	render *RenderAgent

	// XorShift PRNG state, loop goroutine only
	seed uint32

	goid  atomic.Uint64
	state atomic.Int32

	executed atomic.Int64
	stolen   atomic.Int64
	failed   atomic.Int64
	panics   atomic.Int64

	// loop goroutine only until the scheduler has joined it
	errs []error
}

func (l *loop) init(id int, name string, s *Scheduler) {
	l.id = id
	l.name = name
	l.sched = s
	l.seed = uint32(time.Now().UnixNano()) ^ uint32(id+1)*0x9E3779B9
	if l.seed == 0 {
		l.seed = 1
	}
	l.state.Store(int32(StateStopped))
}

// serve runs step until the scheduler is no longer alive, or until done
// reports true. A non-nil error from step is a contract violation and ends
// the loop immediately.
func (l *loop) serve(step func() (bool, error), done func() bool) error {
	l.enter()
	defer l.exit()

	cfg := &l.sched.cfg
	misses := 0
	for l.sched.alive.Load() {
		if done != nil && done() {
			break
		}
		found, err := step()
		if err != nil {
			return err
		}
		if found {
			misses = 0
			continue
		}
		cfg.Backoff.Idle(misses)
		misses++
	}
	l.state.Store(int32(StateDraining))
	return nil
}

func (l *loop) enter() {
	cfg := &l.sched.cfg
	l.goid.Store(goroutineID())
	if cfg.LockOSThread {
		runtime.LockOSThread()
		if cfg.CPUAffinity && l.worker != nil {
			if err := pinThread(l.id); err != nil {
				l.sched.log.Warning().Err(err).Str("loop", l.name).Log("cpu affinity not applied")
			}
		}
	}
	l.state.Store(int32(StateRunning))
	l.sched.log.Debug().Str("loop", l.name).Uint64("goroutine", l.goid.Load()).Log("loop started")
}

func (l *loop) exit() {
	if l.sched.cfg.LockOSThread {
		runtime.UnlockOSThread()
	}
	l.goid.Store(0)
	l.state.Store(int32(StateStopped))
	l.sched.log.Debug().Str("loop", l.name).Int64("executed", l.executed.Load()).Log("loop stopped")
}

// execute moves j out of its slot and invokes it on this loop. The slot is
// free again before the callable starts, so jobs nested on this goroutine
// through helping hold no slots. A panic escaping the job is recovered and
// recorded; if it was a contract violation the wrapped error is returned and
// the caller must stop looping.
func (l *loop) execute(j *Job, stolen bool) (fatal error) {
	if stolen {
		l.stolen.Add(1)
	}
	var local Job
	j.moveTo(&local)

	defer func() {
		l.executed.Add(1)
		l.sched.outstanding.Add(-1)
		if r := recover(); r != nil {
			// raised by a nested execute that already recorded it
			if f, ok := r.(*loopFault); ok {
				fatal = f.err
				return
			}
			err := l.recordPanic(r)
			if isContractViolation(r) {
				fatal = err
			}
		}
	}()
	local.invoke(l)
	return nil
}

// recordPanic stores a recovered panic as a loop error and logs it.
func (l *loop) recordPanic(r any) error {
	l.panics.Add(1)
	l.failed.Add(1)
	err := errLoop(l.name, &PanicError{Value: r, Stack: string(debug.Stack())})
	l.errs = append(l.errs, err)
	l.sched.log.Err().Err(err).Str("loop", l.name).Str("scheduler", l.sched.id).Log("job panicked")
	return err
}

// checkOwner panics with ErrNotOwner when owner checks are enabled and the
// caller is not this loop's goroutine.
func (l *loop) checkOwner() {
	if l.sched.cfg.OwnerChecks && l.goid.Load() != goroutineID() {
		panic(ErrNotOwner)
	}
}

// nextRand advances the XorShift PRNG.
func (l *loop) nextRand() uint32 {
	l.seed ^= l.seed << 13
	l.seed ^= l.seed >> 17
	l.seed ^= l.seed << 5
	return l.seed
}

// State returns the loop's lifecycle state.
func (l *loop) State() LoopState {
	return LoopState(l.state.Load())
}
