package group

import "fmt"

// ErrorMode selects what Wait reports once every forked job has joined.
// Forked jobs always run to completion; the mode only decides whether the
// first failure cancels the group context and which errors reach the caller.
type ErrorMode int

const (
	// FailFast cancels Context on the first failure. Wait returns that error.
	FailFast ErrorMode = iota
	// CollectAll lets siblings run on. Wait returns every failure, as a
	// *taskmill.AggregateError when there is more than one.
	CollectAll
	// IgnoreErrors joins without reporting; Wait returns nil.
	IgnoreErrors
)

var modeNames = map[ErrorMode]string{
	FailFast:     "fail-fast",
	CollectAll:   "collect-all",
	IgnoreErrors: "ignore",
}

func (m ErrorMode) String() string {
	if s, ok := modeNames[m]; ok {
		return s
	}
	return "unknown"
}

// ParseErrorMode is the inverse of ErrorMode.String.
func ParseErrorMode(s string) (ErrorMode, error) {
	for m, name := range modeNames {
		if name == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("group: unknown error mode %q", s)
}

// Config is the per-group join policy.
type Config struct {
	errorMode ErrorMode
}

// Option adjusts a Config.
type Option func(*Config)

// DefaultConfig joins in CollectAll mode, so no sibling is cut short.
func DefaultConfig() Config {
	return Config{errorMode: CollectAll}
}

// BuildConfig applies opts over DefaultConfig.
func BuildConfig(opts []Option) Config {
	c := DefaultConfig()
	for _, opt := range opts {
		opt(&c)
	}
	return c
}

// WithErrorMode sets the join policy.
func WithErrorMode(mode ErrorMode) Option {
	return func(c *Config) { c.errorMode = mode }
}
