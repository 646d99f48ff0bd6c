package taskmill

import (
	"runtime"
	"time"
)

// Backoff decides what an idle loop does when it finds no work. Idle is
// called with the number of consecutive misses so far, starting at 0, and
// must return promptly; it may yield or sleep, but never wait on a signal.
//
// Implementations are shared by every loop of a scheduler and must be safe
// for concurrent use.
type Backoff interface {
	Idle(misses int)
}

// BackoffFunc adapts a function to the Backoff interface.
type BackoffFunc func(misses int)

// Idle calls f(misses).
func (f BackoffFunc) Idle(misses int) { f(misses) }

// YieldBackoff yields the OS thread once per miss. It keeps wake-up latency
// minimal at the cost of idle CPU.
type YieldBackoff struct{}

// Idle yields the processor.
func (YieldBackoff) Idle(int) { runtime.Gosched() }

// SpinYieldBackoff spins, then yields, then sleeps with exponential growth.
//
// Progression:
//   - misses < Spin: return immediately
//   - misses < Spin+Yield: runtime.Gosched
//   - beyond: sleep MinSleep doubling per miss, capped at MaxSleep
type SpinYieldBackoff struct {
	Spin     int
	Yield    int
	MinSleep time.Duration
	MaxSleep time.Duration
}

// DefaultSpinYieldBackoff returns the tiers used by the CLI.
func DefaultSpinYieldBackoff() SpinYieldBackoff {
	return SpinYieldBackoff{
		Spin:     20,
		Yield:    10,
		MinSleep: 50 * time.Microsecond,
		MaxSleep: 5 * time.Millisecond,
	}
}

// Idle applies the tier for misses.
func (b SpinYieldBackoff) Idle(misses int) {
	switch {
	case misses < b.Spin:
		return
	case misses < b.Spin+b.Yield:
		runtime.Gosched()
	default:
		time.Sleep(b.sleepFor(misses - b.Spin - b.Yield))
	}
}

func (b SpinYieldBackoff) sleepFor(n int) time.Duration {
	d := b.MinSleep
	if d <= 0 {
		d = time.Microsecond
	}
	for i := 0; i < n && d < b.MaxSleep; i++ {
		d *= 2
	}
	if b.MaxSleep > 0 && d > b.MaxSleep {
		d = b.MaxSleep
	}
	return d
}
