package task

import "time"

// Options holds per-submission settings.
type Options struct {
	Priority   int
	Timeout    time.Duration
	MaxRetries int
}

// Option configures a task submission.
type Option func(*Options)

// DefaultOptions returns the defaults applied before submission options.
// MaxRetries of -1 means "use the system config value".
func DefaultOptions() Options {
	return Options{
		Priority:   0,
		Timeout:    0,
		MaxRetries: -1,
	}
}

// WithPriority sets the dispatch priority (higher dispatches first).
func WithPriority(p int) Option {
	return func(o *Options) { o.Priority = p }
}

// WithTimeout sets the per-attempt execution timeout.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithMaxRetries overrides the system max retry budget for this task.
func WithMaxRetries(n int) Option {
	return func(o *Options) { o.MaxRetries = n }
}
