package taskmill

import (
	"runtime"

	"github.com/joeycumines/logiface"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const (
	// DefaultDequeCapacity is the initial capacity of every work-stealing deque.
	DefaultDequeCapacity = 256

	// DefaultSlotPoolSize is the number of job slots per deque.
	DefaultSlotPoolSize = 256

	// DefaultInboxCapacity is the capacity of each worker's external inbox.
	DefaultInboxCapacity = 1024
)

// Config contains all configuration options for the scheduler
type Config struct {
	// Workers is the number of general worker loops.
	// If 0, defaults to max(GOMAXPROCS, 2) - 1, leaving a core for the
	// render agent.
	Workers int

	// DequeCapacity is the initial capacity of each deque. Deques grow by
	// doubling, so this only sizes the first backing buffer.
	// Must be a power of 2.
	DequeCapacity int

	// SlotPoolSize is the number of job slots backing each deque. It bounds
	// the number of jobs a worker can have pending at once.
	SlotPoolSize int

	// InboxCapacity is the size of each worker's inbox for jobs submitted from
	// goroutines outside the scheduler.
	// Must be a power of 2.
	InboxCapacity int

	// Backoff is consulted whenever a loop finds no work, and while a
	// submitter waits for a free slot. Defaults to YieldBackoff.
	Backoff Backoff

	// Logger receives structured events. Nil disables logging.
	Logger *logiface.Logger[logiface.Event]

	// MeterProvider supplies the meter for scheduler instruments, which are
	// observed from Start until Stop. Defaults to the global provider.
	MeterProvider metric.MeterProvider

	// OwnerChecks makes owner-only operations verify that they run on the
	// worker's own goroutine, panicking with ErrNotOwner otherwise.
	OwnerChecks bool

	// LockOSThread pins each loop goroutine to its own OS thread.
	LockOSThread bool

	// CPUAffinity additionally binds worker i to CPU i modulo the CPU count.
	// Only effective on Linux, and only together with LockOSThread.
	CPUAffinity bool
}

// Option configures a Scheduler.
type Option func(*Config)

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		Workers:       defaultWorkers(),
		DequeCapacity: DefaultDequeCapacity,
		SlotPoolSize:  DefaultSlotPoolSize,
		InboxCapacity: DefaultInboxCapacity,
		Backoff:       YieldBackoff{},
		LockOSThread:  true,
	}
}

func defaultWorkers() int {
	return max(runtime.GOMAXPROCS(0), 2) - 1
}

// Validate checks the configuration and returns an error if invalid
func (c *Config) Validate() error {
	if c.Workers < 1 {
		return errInvalidConfig("Workers must be >= 1")
	}

	if !isPowerOfTwo(c.DequeCapacity) {
		return errInvalidConfig("DequeCapacity must be a power of 2")
	}

	if c.SlotPoolSize < 1 {
		return errInvalidConfig("SlotPoolSize must be >= 1")
	}

	if !isPowerOfTwo(c.InboxCapacity) || c.InboxCapacity < 2 {
		return errInvalidConfig("InboxCapacity must be a power of 2 and >= 2")
	}

	if c.Backoff == nil {
		return errInvalidConfig("Backoff must not be nil")
	}

	return nil
}

func (c *Config) meter() metric.Meter {
	mp := c.MeterProvider
	if mp == nil {
		mp = otel.GetMeterProvider()
	}
	return mp.Meter(meterName)
}

// WithWorkers sets the number of general worker loops.
func WithWorkers(n int) Option {
	return func(c *Config) { c.Workers = n }
}

// WithDequeCapacity sets the initial deque capacity (power of 2).
func WithDequeCapacity(n int) Option {
	return func(c *Config) { c.DequeCapacity = n }
}

// WithSlotPoolSize sets the number of job slots per deque.
func WithSlotPoolSize(n int) Option {
	return func(c *Config) { c.SlotPoolSize = n }
}

// WithInboxCapacity sets the per-worker inbox capacity (power of 2).
func WithInboxCapacity(n int) Option {
	return func(c *Config) { c.InboxCapacity = n }
}

// WithBackoff sets the idle policy.
func WithBackoff(b Backoff) Option {
	return func(c *Config) { c.Backoff = b }
}

// WithLogger sets the structured logger.
func WithLogger(l *logiface.Logger[logiface.Event]) Option {
	return func(c *Config) { c.Logger = l }
}

// WithMeterProvider sets the OpenTelemetry meter provider.
func WithMeterProvider(mp metric.MeterProvider) Option {
	return func(c *Config) { c.MeterProvider = mp }
}

// WithOwnerChecks enables goroutine ownership checks on owner-only calls.
func WithOwnerChecks(enabled bool) Option {
	return func(c *Config) { c.OwnerChecks = enabled }
}

// WithLockOSThread controls whether loops lock their OS thread.
func WithLockOSThread(enabled bool) Option {
	return func(c *Config) { c.LockOSThread = enabled }
}

// WithCPUAffinity controls whether worker threads are bound to CPUs.
func WithCPUAffinity(enabled bool) Option {
	return func(c *Config) { c.CPUAffinity = enabled }
}

func isPowerOfTwo(n int) bool {
	return n > 0 && (n&(n-1)) == 0
}
