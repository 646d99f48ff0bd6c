package taskmill

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/joeycumines/logiface"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
)

// scheduler lifecycle
const (
	stateIdle int32 = iota
	stateRunning
	stateDraining
	stateStopped
)

// Scheduler owns a fixed set of worker loops plus one render agent loop, and
// the alive flag that drives their cooperative shutdown.
type Scheduler struct {
	cfg     Config
	id      string
	log     *logiface.Logger[logiface.Event]
	workers []*Worker
	render  *RenderAgent

	// alive is true from construction until shutdown; every loop checks it
	// once per iteration
	alive atomic.Bool
	state atomic.Int32

	// external submissions past the state check
	submitters atomic.Int64
	// jobs accepted but not yet executed or dropped
	outstanding atomic.Int64

	nextWorker atomic.Uint64
	submitted  atomic.Int64
	busy       atomic.Int64
	dropped    atomic.Int64

	// mu guards the lifecycle fields below against a Stop racing Start
	mu         sync.Mutex
	group      *errgroup.Group
	cancel     context.CancelFunc
	watchDone  chan struct{}
	callerDone chan struct{}

	metrics metric.Registration

	stopOnce sync.Once
	stopErr  error
}

// New creates a scheduler with the given options. It returns an error if the
// configuration is invalid. No goroutines run until Start or Run.
//
// Example:
//
//	sched, err := taskmill.New(
//	    taskmill.WithWorkers(4),
//	    taskmill.WithDequeCapacity(512),
//	)
func New(opts ...Option) (*Scheduler, error) {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(&cfg)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &Scheduler{
		cfg:     cfg,
		id:      uuid.NewString(),
		log:     cfg.Logger,
		workers: make([]*Worker, cfg.Workers),
	}
	for i := range s.workers {
		s.workers[i] = newWorker(i, s)
	}
	s.render = newRenderAgent(s)
	s.alive.Store(true)

	return s, nil
}

func workerName(id int) string {
	return fmt.Sprintf("worker-%d", id)
}

// ID returns the scheduler's instance id, as used in logs and metrics.
func (s *Scheduler) ID() string { return s.id }

// Workers returns the worker loops. The slice must not be modified.
func (s *Scheduler) Workers() []*Worker { return s.workers }

// RenderAgent returns the render agent loop.
func (s *Scheduler) RenderAgent() *RenderAgent { return s.render }

// Alive reports whether the scheduler has not yet been asked to stop.
func (s *Scheduler) Alive() bool { return s.alive.Load() }

// Start spawns one goroutine per worker and one for the render agent. Loops
// stop when Stop or Shutdown is called, when ctx is cancelled, or when a loop
// detects a contract violation.
func (s *Scheduler) Start(ctx context.Context) error {
	return s.start(ctx, false)
}

// start spawns the loop goroutines. With caller set, worker 0 is left to the
// calling goroutine.
func (s *Scheduler) start(ctx context.Context, caller bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.state.CompareAndSwap(stateIdle, stateRunning) {
		if s.state.Load() == stateStopped {
			return ErrSchedulerStopped
		}
		return ErrAlreadyStarted
	}

	// the callback lives from here until stop
	reg, err := registerMetrics(s.cfg.meter(), s)
	if err != nil {
		s.state.Store(stateIdle)
		return fmt.Errorf("taskmill: register metrics: %w", err)
	}
	s.metrics = reg

	first := 0
	if caller {
		first = 1
		s.callerDone = make(chan struct{})
	}

	gctx, cancel := context.WithCancel(ctx)
	g, gctx := errgroup.WithContext(gctx)
	s.group, s.cancel = g, cancel
	s.watchDone = make(chan struct{})

	for _, w := range s.workers[first:] {
		g.Go(w.run)
	}
	g.Go(s.render.run)

	// the group's context ends on the first fatal loop error, on parent
	// cancellation, or when Stop has joined the group
	go func() {
		defer close(s.watchDone)
		<-gctx.Done()
		s.alive.Store(false)
	}()

	s.log.Info().
		Str("scheduler", s.id).
		Int("workers", len(s.workers)).
		Int("deque_capacity", s.cfg.DequeCapacity).
		Int("slots", s.cfg.SlotPoolSize).
		Log("scheduler started")
	return nil
}

// Run starts the scheduler and calls fn on worker 0 using the calling
// goroutine, which then serves as worker 0's loop. Once fn has returned,
// worker 0 keeps executing until every outstanding job has finished, and Run
// then stops the scheduler. It returns fn's error joined with Stop's.
func (s *Scheduler) Run(ctx context.Context, fn func(w *Worker) error) error {
	if fn == nil {
		return ErrNilFunc
	}
	if err := s.start(ctx, true); err != nil {
		return err
	}

	w := s.workers[0]
	var fnErr error
	func() {
		defer close(s.callerDone)
		// a fatal error is already recorded in the loop's errors
		_ = w.serve(func() (bool, error) {
			if fn != nil {
				f := fn
				fn = nil
				var fatal error
				fnErr, fatal = s.callFirst(w, f)
				return true, fatal
			}
			return w.step()
		}, func() bool {
			return fn == nil && s.outstanding.Load() == 0 && s.submitters.Load() == 0
		})
	}()
	s.alive.Store(false)

	s.stopOnce.Do(s.stop)
	return errors.Join(fnErr, s.stopErr)
}

// callFirst runs the Run callback. A panic is recorded as a loop error and
// surfaces through Stop; a contract violation is also returned as fatal.
func (s *Scheduler) callFirst(w *Worker, fn func(*Worker) error) (err, fatal error) {
	defer func() {
		r := recover()
		if r == nil {
			return
		}
		if f, ok := r.(*loopFault); ok {
			fatal = f.err
			return
		}
		rec := w.recordPanic(r)
		if isContractViolation(r) {
			fatal = rec
		}
	}()
	return fn(w), nil
}

// Submit hands fn to a worker from any goroutine. Jobs are distributed
// round-robin over worker inboxes; if every inbox is full it returns ErrBusy.
// Once the scheduler is no longer alive, or Stop or Shutdown began, it
// returns ErrSchedulerStopped.
//
// Example:
//
//	err := sched.Submit(func(w *taskmill.Worker) {
//	    // runs on some worker; w may be used to submit follow-up jobs
//	})
func (s *Scheduler) Submit(fn func(w *Worker)) error {
	if fn == nil {
		return ErrNilFunc
	}
	return s.push(funcTask(fn), false)
}

// SubmitRender hands fn to the render agent from any goroutine.
func (s *Scheduler) SubmitRender(fn func(r *RenderAgent)) error {
	if fn == nil {
		return ErrNilFunc
	}
	return s.push(renderFuncTask(fn), true)
}

// SubmitWait is Submit that retries while the scheduler is busy, backing off
// between attempts, until the job is accepted or ctx is done.
func (s *Scheduler) SubmitWait(ctx context.Context, fn func(w *Worker)) error {
	if fn == nil {
		return ErrNilFunc
	}
	return s.pushWait(ctx, funcTask(fn), false)
}

func (s *Scheduler) pushWait(ctx context.Context, t task, render bool) error {
	for misses := 0; ; misses++ {
		err := s.push(t, render)
		if !errors.Is(err, ErrBusy) {
			return err
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		s.cfg.Backoff.Idle(misses)
	}
}

// push places a boxed job into a worker inbox.
func (s *Scheduler) push(t task, render bool) error {
	s.submitters.Add(1)
	defer s.submitters.Add(-1)

	switch s.state.Load() {
	case stateRunning:
	case stateIdle:
		return ErrNotStarted
	default:
		return ErrSchedulerStopped
	}
	// loops may be gone before Stop runs: RequestStop, a cancelled parent
	// context or a contract violation
	if !s.alive.Load() {
		return ErrSchedulerStopped
	}

	j := &Job{}
	j.storeBoxed(t)
	j.render = render

	s.outstanding.Add(1)
	n := len(s.workers)
	start := int(s.nextWorker.Add(1) % uint64(n))
	for i := 0; i < n; i++ {
		if s.workers[(start+i)%n].inbox.tryPush(j) {
			s.submitted.Add(1)
			return nil
		}
	}
	s.outstanding.Add(-1)
	s.busy.Add(1)
	return ErrBusy
}

// Spawn submits fn from any goroutine and returns a future for its result.
// Rejections (ErrBusy, ErrSchedulerStopped, ErrNotStarted) fail the future.
func Spawn[R any](s *Scheduler, fn func(w *Worker) (R, error)) *Future[R] {
	if fn == nil {
		return failedFuture[R](ErrNilFunc)
	}
	f := newFuture(func(l *loop) (R, error) { return fn(l.worker) })
	if err := s.push(f, false); err != nil {
		f.drop(err)
	}
	return f
}

// SpawnRender submits fn for the render agent from any goroutine and returns
// a future for its result.
func SpawnRender[R any](s *Scheduler, fn func(r *RenderAgent) (R, error)) *Future[R] {
	if fn == nil {
		return failedFuture[R](ErrNilFunc)
	}
	f := newFuture(func(l *loop) (R, error) { return fn(l.render) })
	if err := s.push(f, true); err != nil {
		f.drop(err)
	}
	return f
}

// Wait blocks until no job is outstanding, the scheduler stops, or ctx is
// done. The scheduler keeps accepting jobs.
func (s *Scheduler) Wait(ctx context.Context) error {
	ticker := time.NewTicker(time.Millisecond)
	defer ticker.Stop()
	for s.outstanding.Load() > 0 || s.submitters.Load() > 0 {
		if !s.alive.Load() {
			return ErrSchedulerStopped
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
	return nil
}

// accepting reports whether external submissions are currently accepted.
func (s *Scheduler) accepting() bool {
	return s.state.Load() == stateRunning && s.alive.Load()
}

// RequestStop clears the alive flag without joining the loops. It is safe to
// call from inside a job; a later Stop (or Run returning) completes shutdown.
func (s *Scheduler) RequestStop() {
	s.alive.Store(false)
}

// Shutdown stops accepting external submissions, waits for outstanding jobs
// (including those they spawn) to finish or for ctx to end, then calls Stop.
func (s *Scheduler) Shutdown(ctx context.Context) error {
	if s.onLoop() {
		s.RequestStop()
		return ErrStopFromLoop
	}
	var waitErr error
	if s.state.CompareAndSwap(stateRunning, stateDraining) {
		s.log.Info().Str("scheduler", s.id).Int64("outstanding", s.outstanding.Load()).Log("scheduler draining")
		if err := s.Wait(ctx); err != nil && !errors.Is(err, ErrSchedulerStopped) {
			waitErr = err
		}
	}
	return errors.Join(waitErr, s.Stop())
}

// Stop clears the alive flag and joins every loop. Jobs already executing run
// to completion; jobs still queued are dropped and their futures fail with
// ErrSchedulerStopped. Stop returns the errors collected by the loops: job
// panics and contract violations. It is idempotent.
//
// Stop must not be called from a job, since a loop cannot join itself; in
// that case it behaves like RequestStop and returns ErrStopFromLoop.
func (s *Scheduler) Stop() error {
	if s.onLoop() {
		s.RequestStop()
		return ErrStopFromLoop
	}
	s.stopOnce.Do(s.stop)
	return s.stopErr
}

func (s *Scheduler) stop() {
	s.mu.Lock()
	prev := s.state.Swap(stateStopped)
	s.alive.Store(false)
	g, cancel, watchDone, callerDone := s.group, s.cancel, s.watchDone, s.callerDone
	reg := s.metrics
	s.mu.Unlock()

	if prev != stateIdle {
		_ = g.Wait()
		cancel()
		<-watchDone
		if callerDone != nil {
			<-callerDone
		}
	}

	// let racing external submitters observe the stopped state
	for s.submitters.Load() != 0 {
		runtime.Gosched()
	}

	n := 0
	for _, w := range s.workers {
		n += w.abandon(ErrSchedulerStopped)
	}
	s.outstanding.Add(-int64(n))
	s.dropped.Add(int64(n))

	var errs []error
	for _, l := range s.loops() {
		errs = append(errs, l.errs...)
	}
	s.stopErr = aggregate(errs)

	if reg != nil {
		if err := reg.Unregister(); err != nil {
			s.log.Warning().Err(err).Str("scheduler", s.id).Log("unregister metrics")
		}
	}

	if s.stopErr != nil {
		s.log.Err().Err(s.stopErr).Str("scheduler", s.id).Int("dropped", n).Log("scheduler stopped with errors")
		return
	}
	s.log.Info().Str("scheduler", s.id).Int("dropped", n).Log("scheduler stopped")
}

// loops returns every loop: workers first, then the render agent.
func (s *Scheduler) loops() []*loop {
	ls := make([]*loop, 0, len(s.workers)+1)
	for _, w := range s.workers {
		ls = append(ls, &w.loop)
	}
	return append(ls, &s.render.loop)
}

// onLoop reports whether the caller is running on one of the scheduler's
// loop goroutines.
func (s *Scheduler) onLoop() bool {
	id := goroutineID()
	for _, l := range s.loops() {
		if l.goid.Load() == id {
			return true
		}
	}
	return false
}
