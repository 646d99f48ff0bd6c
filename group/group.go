// Package group provides fork-join task groups on top of a taskmill
// scheduler. A Group forks jobs onto the deque of the worker that created it
// and joins them in Wait, so idle peers steal the forked jobs while the owner
// keeps executing work instead of blocking.
package group

import (
	"context"
	"errors"
	"runtime/debug"
	"sync/atomic"

	"github.com/tahsin716/taskmill"
)

// Group manages a collection of jobs forked from one worker.
//
// Go and Wait are owner only: they must be called from the job that owns w.
// The forked functions themselves run on whichever worker executes them.
type Group struct {
	w      *taskmill.Worker
	ctx    context.Context
	cancel context.CancelFunc
	config Config

	// owner only
	futures []*taskmill.Future[struct{}]

	firstErr atomic.Pointer[error]
}

// New creates a new Group forking onto w.
func New(w *taskmill.Worker, opts ...Option) *Group {
	return NewWithContext(context.Background(), w, opts...)
}

// NewWithContext creates a new Group with a parent context. The context
// handed to forked functions is cancelled when the parent is, on the first
// error in FailFast mode, and once Wait returns.
func NewWithContext(ctx context.Context, w *taskmill.Worker, opts ...Option) *Group {
	config := BuildConfig(opts)

	if ctx == nil {
		ctx = context.Background()
	}

	groupCtx, cancel := context.WithCancel(ctx)

	return &Group{
		w:      w,
		ctx:    groupCtx,
		cancel: cancel,
		config: config,
	}
}

// Context returns the context passed to forked functions.
func (g *Group) Context() context.Context {
	return g.ctx
}

// Go forks fn onto the owning worker's deque. Panics are recovered into a
// *taskmill.PanicError and handled like any other error.
func (g *Group) Go(fn func(ctx context.Context, w *taskmill.Worker) error) {
	g.futures = append(g.futures, taskmill.SubmitToWorker(g.w, func(w *taskmill.Worker) (_ struct{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				if isMisuse(r) {
					panic(r)
				}
				err = &taskmill.PanicError{Value: r, Stack: string(debug.Stack())}
			}
			if err != nil {
				g.fail(err)
			}
		}()
		return struct{}{}, fn(g.ctx, w)
	}))
}

// GoSafe forks a function whose errors and panics are ignored.
// This is for fire-and-forget jobs
func (g *Group) GoSafe(fn func(ctx context.Context, w *taskmill.Worker)) {
	g.Go(func(ctx context.Context, w *taskmill.Worker) (err error) {
		defer func() {
			if r := recover(); r != nil {
				if isMisuse(r) {
					panic(r)
				}
			}
		}()
		fn(ctx, w)
		return nil
	})
}

// Wait joins every forked job, executing other work on the owning worker in
// the meantime, and returns the errors according to the error mode. The
// group may be reused for another round of Go calls after Wait, but its
// context stays cancelled.
func (g *Group) Wait() error {
	futures := g.futures
	g.futures = nil

	var errs []error
	for _, f := range futures {
		if _, err := taskmill.Await(g.w, f); err != nil {
			errs = append(errs, err)
		}
	}
	g.Stop()

	switch g.config.errorMode {
	case IgnoreErrors:
		return nil

	case FailFast:
		if p := g.firstErr.Load(); p != nil {
			return *p
		}
		// a job dropped at shutdown never ran, so it never failed the group
		if len(errs) > 0 {
			return errs[0]
		}
		return nil

	case CollectAll:
		if len(errs) > 0 {
			return &taskmill.AggregateError{Errors: errs}
		}
		return nil

	default:
		return nil
	}
}

// Stop cancels the group context, signaling all jobs to stop
func (g *Group) Stop() {
	g.cancel()
}

// fail records the first error and, in FailFast mode, cancels the group.
func (g *Group) fail(err error) {
	if g.firstErr.CompareAndSwap(nil, &err) && g.config.errorMode == FailFast {
		g.cancel()
	}
}

// isMisuse reports whether a panic value is a scheduler contract violation,
// which must keep unwinding into the worker loop.
func isMisuse(r any) bool {
	err, ok := r.(error)
	return ok && (errors.Is(err, taskmill.ErrNotOwner) || errors.Is(err, taskmill.ErrEmptyJob))
}
