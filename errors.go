package taskmill

import (
	"errors"
	"fmt"
	"strings"
)

// Common errors returned by the scheduler.
var (
	// ErrSchedulerStopped is returned when a job is submitted after Stop or
	// Shutdown began. The submission is rejected and nothing is enqueued. It is
	// also the error carried by futures whose jobs were abandoned in a queue when
	// the scheduler stopped.
	//
	// Example:
	//  sched.Stop()
	//  err := sched.Submit(fn)
	//  if errors.Is(err, taskmill.ErrSchedulerStopped) {
	//      log.Println("scheduler is gone")
	//  }
	ErrSchedulerStopped = &Error{msg: "scheduler is stopped"}

	// ErrNotStarted is returned by external submissions made before Start.
	ErrNotStarted = &Error{msg: "scheduler is not started"}

	// ErrAlreadyStarted is returned by a second call to Start or Run.
	ErrAlreadyStarted = &Error{msg: "scheduler is already started"}

	// ErrBusy is returned by non-blocking submissions when every job slot (or
	// every inbox) is occupied. Callers apply their own backpressure.
	ErrBusy = &Error{msg: "no free job slot"}

	// ErrNilFunc is returned when a nil callable is submitted.
	ErrNilFunc = &Error{msg: "job function is nil"}

	// ErrEmptyJob is the panic value raised when a job without a callable is
	// invoked. It indicates a bug in the caller, not a runtime condition.
	ErrEmptyJob = &Error{msg: "invoked empty job"}

	// ErrNotOwner is the panic value raised, when owner checks are enabled,
	// if an owner-only operation runs on a goroutine other than the worker's.
	ErrNotOwner = &Error{msg: "operation requires the owning worker goroutine"}

	// ErrStopFromLoop is returned by Stop when it is called from a job. The
	// scheduler is asked to stop but cannot join the loop it is running on.
	ErrStopFromLoop = &Error{msg: "stop called from a scheduler loop"}
)

// Error represents an error raised by the scheduler. It wraps an optional
// underlying error and supports errors.Is and errors.As.
type Error struct {
	msg string // Human-readable error message
	err error  // Underlying error (if any)
}

// Error returns a formatted error message.
func (e *Error) Error() string {
	if e.err != nil {
		return fmt.Sprintf("taskmill: %s: %v", e.msg, e.err)
	}
	return fmt.Sprintf("taskmill: %s", e.msg)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.err
}

// errInvalidConfig creates an error for invalid scheduler configuration.
func errInvalidConfig(msg string) error {
	return &Error{msg: "invalid config: " + msg, err: ErrInvalidConfig}
}

// ErrInvalidConfig matches every configuration validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// errLoop tags an error with the loop that raised it.
func errLoop(name string, err error) error {
	return &Error{msg: name, err: err}
}

// PanicError wraps a recovered panic value and its stack trace.
type PanicError struct {
	Value any
	Stack string
}

// Error implements the error interface for PanicError.
func (p *PanicError) Error() string {
	return fmt.Sprintf("panic: %v", p.Value)
}

// Unwrap exposes the panic value when it was itself an error.
func (p *PanicError) Unwrap() error {
	if err, ok := p.Value.(error); ok {
		return err
	}
	return nil
}

// AggregateError combines the errors collected from every loop on Stop.
type AggregateError struct {
	Errors []error
}

func (a *AggregateError) Error() string {
	if len(a.Errors) == 0 {
		return "no errors"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%d error(s) occurred:", len(a.Errors))
	for i, err := range a.Errors {
		fmt.Fprintf(&b, "\n  [%d] %v", i+1, err)
	}
	return b.String()
}

// Unwrap makes AggregateError compatible with errors.Is/errors.As.
func (a *AggregateError) Unwrap() []error {
	return a.Errors
}

// aggregate returns nil for no errors, the error itself for one, and an
// *AggregateError otherwise.
func aggregate(errs []error) error {
	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	}
	return &AggregateError{Errors: errs}
}

// loopFault carries a contract violation, already recorded by the loop, out
// through the frames of a job that was helping while it waited.
type loopFault struct {
	err error
}

func (f *loopFault) Error() string { return f.err.Error() }

func (f *loopFault) Unwrap() error { return f.err }

// isContractViolation reports whether a recovered panic value signals misuse
// of the scheduler rather than a failing job.
func isContractViolation(v any) bool {
	err, ok := v.(error)
	return ok && (errors.Is(err, ErrEmptyJob) || errors.Is(err, ErrNotOwner))
}
