package taskmill

import (
	"context"
	"runtime/debug"
)

// Future is the result channel of a submitted job. It completes exactly once,
// either with the callable's return values, with a *PanicError if the
// callable panicked, or with ErrSchedulerStopped if the job was rejected or
// abandoned.
type Future[R any] struct {
	done chan struct{}
	val  R
	err  error
	call func(l *loop) (R, error)
}

func newFuture[R any](call func(l *loop) (R, error)) *Future[R] {
	return &Future[R]{done: make(chan struct{}), call: call}
}

func failedFuture[R any](err error) *Future[R] {
	f := newFuture[R](nil)
	f.drop(err)
	return f
}

func (f *Future[R]) run(l *loop) {
	defer func() {
		if r := recover(); r != nil {
			var zero R
			l.failed.Add(1)
			f.complete(zero, &PanicError{Value: r, Stack: string(debug.Stack())})
			if isContractViolation(r) {
				panic(r)
			}
		}
	}()
	v, err := f.call(l)
	if err != nil {
		l.failed.Add(1)
	}
	f.complete(v, err)
}

func (f *Future[R]) drop(err error) {
	var zero R
	f.complete(zero, err)
}

func (f *Future[R]) complete(v R, err error) {
	f.val = v
	f.err = err
	f.call = nil
	close(f.done)
}

// Done returns a channel closed once the result is available.
func (f *Future[R]) Done() <-chan struct{} {
	return f.done
}

// Wait blocks until the result is available or ctx is done.
//
// Wait must not be called from inside a job: a worker blocked here cannot run
// the job it waits for. Use Await instead.
func (f *Future[R]) Wait(ctx context.Context) (R, error) {
	select {
	case <-f.done:
		return f.val, f.err
	case <-ctx.Done():
		var zero R
		return zero, ctx.Err()
	}
}

// Result blocks until the result is available.
func (f *Future[R]) Result() (R, error) {
	<-f.done
	return f.val, f.err
}
