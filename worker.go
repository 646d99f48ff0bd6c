package taskmill

// inboxBatch bounds how many external jobs a worker moves into its deque per
// loop iteration.
const inboxBatch = 8

// Worker is a general scheduling loop. It owns a general deque and a
// render-affinity deque, a slot pool for each, and an inbox for jobs handed
// over from other goroutines.
//
// A *Worker doubles as the owner token: it is passed to every general job,
// and the enqueue methods below may only be called by the goroutine running
// that worker's loop, which in practice means from inside a job the worker
// is executing.
type Worker struct {
	loop

	slots       *SlotPool
	renderSlots *SlotPool
	general     *Deque[Job]
	renderQ     *Deque[Job]
	inbox       *inbox
}

func newWorker(id int, s *Scheduler) *Worker {
	cfg := &s.cfg
	w := &Worker{
		slots:       NewSlotPool(cfg.SlotPoolSize),
		renderSlots: NewSlotPool(cfg.SlotPoolSize),
		general:     NewDeque[Job](cfg.DequeCapacity),
		renderQ:     NewDeque[Job](cfg.DequeCapacity),
		inbox:       newInbox(cfg.InboxCapacity),
	}
	w.loop.init(id, workerName(id), s)
	w.loop.worker = w
	return w
}

// ID returns the worker's index within its scheduler.
func (w *Worker) ID() int { return w.id }

// Scheduler returns the scheduler the worker belongs to.
func (w *Worker) Scheduler() *Scheduler { return w.sched }

// run is the worker loop body handed to the scheduler's errgroup.
func (w *Worker) run() error {
	return w.serve(w.step, nil)
}

// step performs one iteration: promote inbox jobs, pop own work, otherwise
// steal from a random peer. It reports whether a job ran.
func (w *Worker) step() (bool, error) {
	w.drainInbox()

	if j := w.general.PopBottom(); j != nil {
		return true, w.execute(j, false)
	}
	if j := w.steal(); j != nil {
		return true, w.execute(j, true)
	}
	return false, nil
}

// drainInbox moves up to inboxBatch external jobs into slots and deques.
// A job stays in the inbox while its target pool is saturated.
func (w *Worker) drainInbox() {
	for i := 0; i < inboxBatch; i++ {
		src := w.inbox.peek()
		if src == nil {
			return
		}
		pool, dq := w.slots, w.general
		if src.render {
			pool, dq = w.renderSlots, w.renderQ
		}
		slot, ok := pool.TryAcquire()
		if !ok {
			return
		}
		w.inbox.pop()
		src.moveTo(slot)
		dq.PushBottom(slot)
	}
}

// steal picks a uniformly random peer other than w and tries its general
// deque once.
func (w *Worker) steal() *Job {
	peers := w.sched.workers
	if len(peers) < 2 {
		return nil
	}
	v := int(w.nextRand() % uint32(len(peers)-1))
	if v >= w.id {
		v++
	}
	return peers[v].general.Steal()
}

// helpOnce runs one job from the worker's own deque or a peer's, reporting
// whether it found one. Used while waiting on slots or futures so that a
// waiting worker keeps the system moving. A contract violation in the helped
// job unwinds the waiting frames as a *loopFault.
func (w *Worker) helpOnce() bool {
	stolen := false
	j := w.general.PopBottom()
	if j == nil {
		j = w.steal()
		stolen = j != nil
	}
	if j == nil {
		return false
	}
	if err := w.execute(j, stolen); err != nil {
		panic(&loopFault{err: err})
	}
	return true
}

// acquire returns a free slot from pool. When block is set it helps run jobs
// and backs off until a slot frees up; otherwise a saturated pool yields
// ErrBusy.
func (w *Worker) acquire(pool *SlotPool, block bool) (*Job, error) {
	for misses := 0; ; {
		if j, ok := pool.TryAcquire(); ok {
			return j, nil
		}
		if !block {
			w.sched.busy.Add(1)
			return nil, ErrBusy
		}
		if !w.sched.alive.Load() {
			return nil, ErrSchedulerStopped
		}
		if w.helpOnce() {
			misses = 0
			continue
		}
		w.sched.cfg.Backoff.Idle(misses)
		misses++
	}
}

// reserve performs the owner and shutdown checks and acquires a slot for a
// new job.
func (w *Worker) reserve(render, block bool) (*Job, error) {
	w.checkOwner()
	if !w.sched.alive.Load() {
		return nil, ErrSchedulerStopped
	}
	pool := w.slots
	if render {
		pool = w.renderSlots
	}
	j, err := w.acquire(pool, block)
	if err != nil {
		return nil, err
	}
	j.render = render
	return j, nil
}

// publish makes a stored job visible to the owner and thieves.
func (w *Worker) publish(j *Job) {
	w.sched.outstanding.Add(1)
	w.sched.submitted.Add(1)
	if j.render {
		w.renderQ.PushBottom(j)
	} else {
		w.general.PushBottom(j)
	}
}

// Submit enqueues fn on the worker's general deque. Owner only. If every slot
// is pending it runs other jobs until one frees up.
func (w *Worker) Submit(fn func(w *Worker)) error {
	if fn == nil {
		return ErrNilFunc
	}
	j, err := w.reserve(false, true)
	if err != nil {
		return err
	}
	j.storeBoxed(funcTask(fn))
	w.publish(j)
	return nil
}

// TrySubmit is Submit without waiting: a saturated slot pool returns ErrBusy.
func (w *Worker) TrySubmit(fn func(w *Worker)) error {
	if fn == nil {
		return ErrNilFunc
	}
	j, err := w.reserve(false, false)
	if err != nil {
		return err
	}
	j.storeBoxed(funcTask(fn))
	w.publish(j)
	return nil
}

// SubmitInline enqueues a static function with a 64-byte payload. It does
// not allocate. Owner only.
func (w *Worker) SubmitInline(fn InlineFunc, args Args) error {
	if fn == nil {
		return ErrNilFunc
	}
	j, err := w.reserve(false, true)
	if err != nil {
		return err
	}
	j.storeInline(fn, &args)
	w.publish(j)
	return nil
}

// SubmitRender enqueues fn on the worker's render-affinity deque. Only the
// render agent runs it. Owner only.
func (w *Worker) SubmitRender(fn func(r *RenderAgent)) error {
	if fn == nil {
		return ErrNilFunc
	}
	j, err := w.reserve(true, true)
	if err != nil {
		return err
	}
	j.storeBoxed(renderFuncTask(fn))
	w.publish(j)
	return nil
}

// SubmitToWorker enqueues fn on w's general deque and returns a future for
// its result. Owner only. Submitting after the scheduler stopped yields a
// future already failed with ErrSchedulerStopped.
func SubmitToWorker[R any](w *Worker, fn func(w *Worker) (R, error)) *Future[R] {
	if fn == nil {
		return failedFuture[R](ErrNilFunc)
	}
	f := newFuture(func(l *loop) (R, error) { return fn(l.worker) })
	j, err := w.reserve(false, true)
	if err != nil {
		f.drop(err)
		return f
	}
	j.storeBoxed(f)
	w.publish(j)
	return f
}

// SubmitRenderAffinity enqueues fn on w's render-affinity deque and returns
// a future for its result. fn runs on the render agent. Owner only.
func SubmitRenderAffinity[R any](w *Worker, fn func(r *RenderAgent) (R, error)) *Future[R] {
	if fn == nil {
		return failedFuture[R](ErrNilFunc)
	}
	f := newFuture(func(l *loop) (R, error) { return fn(l.render) })
	j, err := w.reserve(true, true)
	if err != nil {
		f.drop(err)
		return f
	}
	j.storeBoxed(f)
	w.publish(j)
	return f
}

// Await blocks until f completes, running other jobs on w meanwhile so that
// waiting inside a job cannot starve the scheduler. Owner only. It returns
// ErrSchedulerStopped if the scheduler stops first.
func Await[R any](w *Worker, f *Future[R]) (R, error) {
	w.checkOwner()
	for misses := 0; ; {
		select {
		case <-f.done:
			return f.val, f.err
		default:
		}
		if !w.sched.alive.Load() {
			var zero R
			return zero, ErrSchedulerStopped
		}
		if w.helpOnce() {
			misses = 0
			continue
		}
		w.sched.cfg.Backoff.Idle(misses)
		misses++
	}
}

// abandon drops every job still queued for this worker. Called only after
// the loop has been joined.
func (w *Worker) abandon(err error) int {
	n := 0
	for j := w.inbox.pop(); j != nil; j = w.inbox.pop() {
		j.discard(err)
		n++
	}
	for _, dq := range []*Deque[Job]{w.general, w.renderQ} {
		for j := dq.PopBottom(); j != nil; j = dq.PopBottom() {
			j.discard(err)
			n++
		}
	}
	return n
}
