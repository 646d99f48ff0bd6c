package taskmill

import (
	"sync/atomic"
)

// Args is the fixed inline payload of a Job: 64 bytes with no pointers, so
// storing it never allocates and never keeps anything alive.
type Args [8]uint64

// InlineFunc is the callable of an inline job. It must be a static function
// or a method value that captures nothing of interest; all per-job state
// travels in Args.
type InlineFunc func(w *Worker, args *Args)

// task is the boxed variant of a Job: arbitrary captured state behind an
// interface. run is called at most once; drop is called instead of run when
// the job is discarded without executing.
type task interface {
	run(l *loop)
	drop(err error)
}

type jobKind uint8

const (
	jobEmpty jobKind = iota
	jobInline
	jobBoxed
)

// Job is one unit of deferred work stored in a SlotPool slot. It is a tagged
// union of an inline callable (InlineFunc plus Args) and a boxed task.
//
// A Job is pending from the moment a callable is stored until it has been
// invoked or moved out. Loops move a job out of its slot before running it,
// so a slot stays occupied only while its job is queued. Jobs must not be
// copied; use moveTo to transfer one.
type Job struct {
	pending atomic.Bool
	kind    jobKind
	render  bool
	inline  InlineFunc
	args    Args
	boxed   task
}

// Pending reports whether the job holds a callable that has not finished.
func (j *Job) Pending() bool {
	return j.pending.Load()
}

func (j *Job) storeInline(fn InlineFunc, args *Args) {
	j.kind = jobInline
	j.inline = fn
	j.args = *args
	j.pending.Store(true)
}

func (j *Job) storeBoxed(t task) {
	j.kind = jobBoxed
	j.boxed = t
	j.pending.Store(true)
}

// moveTo transfers the callable to dst, which must not be pending, leaving j
// empty.
func (j *Job) moveTo(dst *Job) {
	dst.kind = j.kind
	dst.render = j.render
	dst.inline = j.inline
	dst.args = j.args
	dst.boxed = j.boxed
	dst.pending.Store(j.pending.Load())
	j.clear()
}

// invoke runs the callable exactly once on behalf of l. The job is emptied
// after the callable returns or panics.
func (j *Job) invoke(l *loop) {
	if j.kind == jobEmpty || !j.pending.Load() {
		panic(ErrEmptyJob)
	}
	defer j.clear()

	switch j.kind {
	case jobInline:
		j.inline(l.worker, &j.args)
	case jobBoxed:
		j.boxed.run(l)
	}
}

// discard releases the job without running it, failing any boxed result
// channel with err.
func (j *Job) discard(err error) {
	if j.kind == jobBoxed {
		j.boxed.drop(err)
	}
	j.clear()
}

func (j *Job) clear() {
	j.kind = jobEmpty
	j.render = false
	j.inline = nil
	j.args = Args{}
	j.boxed = nil
	j.pending.Store(false)
}

// funcTask boxes a plain closure for a general worker.
type funcTask func(w *Worker)

func (f funcTask) run(l *loop) { f(l.worker) }

func (funcTask) drop(error) {}

// renderFuncTask boxes a plain closure for the render agent.
type renderFuncTask func(r *RenderAgent)

func (f renderFuncTask) run(l *loop) { f(l.render) }

func (renderFuncTask) drop(error) {}
