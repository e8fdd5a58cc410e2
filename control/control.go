// Package control holds the system-wide pause/resume gate and the dynamic
// configuration consulted by the dispatcher. Both live in an immutable
// Snapshot swapped atomically, so readers always see a consistent view and
// never take a lock.
package control

import (
	"fmt"
	"maps"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/taskgrid/taskgrid"
)

// Recognized config keys. UpdateConfig rejects anything else.
const (
	KeyMaxRetries      = "max_retries"      // int >= 0
	KeyDefaultTimeout  = "default_timeout"  // duration, e.g. "30s"
	KeyRetryDelay      = "retry_delay"      // duration before a retry requeues
	KeyDispatchRate    = "dispatch_rate"    // float, dispatches/second; 0 = unlimited
	KeyRetentionWindow = "retention_window" // duration terminal tasks stay queryable
)

// Snapshot is an immutable view of the running flag plus validated config
// values. Never mutate a Snapshot: UpdateConfig builds a new one.
type Snapshot struct {
	// Running reports whether the dispatcher may assign new tasks.
	Running bool

	// Raw is the merged key/value config as submitted.
	Raw map[string]string

	// Parsed tunables.
	MaxRetries      int
	DefaultTimeout  time.Duration
	RetryDelay      time.Duration
	DispatchRate    float64
	RetentionWindow time.Duration
}

// Defaults returns the snapshot the controller starts with.
func Defaults() Snapshot {
	return Snapshot{
		Running:         true,
		Raw:             map[string]string{},
		MaxRetries:      3,
		DefaultTimeout:  30 * time.Second,
		RetryDelay:      time.Second,
		DispatchRate:    0,
		RetentionWindow: time.Hour,
	}
}

// Controller publishes the current Snapshot. Pause, Resume, and
// UpdateConfig replace it atomically; the dispatcher reads it once per
// cycle, so changes take effect for the next dispatch decision.
type Controller struct {
	snap atomic.Pointer[Snapshot]
}

// Option adjusts the snapshot the controller starts with. Runtime
// UpdateConfig calls still override seeded values later.
type Option func(*Snapshot)

// WithRetentionWindow seeds the retention window for terminal tasks.
func WithRetentionWindow(d time.Duration) Option {
	return func(s *Snapshot) { s.RetentionWindow = d }
}

// New creates a Controller holding the default snapshot with any seed
// options applied.
func New(opts ...Option) *Controller {
	def := Defaults()
	for _, opt := range opts {
		opt(&def)
	}

	c := &Controller{}
	c.snap.Store(&def)
	return c
}

// Snapshot returns the current immutable snapshot.
func (c *Controller) Snapshot() *Snapshot {
	return c.snap.Load()
}

// Running reports whether the system is accepting dispatch decisions.
func (c *Controller) Running() bool {
	return c.snap.Load().Running
}

// Pause stops new dispatch decisions. Idempotent; tasks already
// PROCESSING are unaffected.
func (c *Controller) Pause() {
	c.setRunning(false)
}

// Resume re-enables dispatch decisions. Idempotent.
func (c *Controller) Resume() {
	c.setRunning(true)
}

func (c *Controller) setRunning(running bool) {
	for {
		cur := c.snap.Load()
		if cur.Running == running {
			return
		}
		next := cur.clone()
		next.Running = running
		if c.snap.CompareAndSwap(cur, next) {
			return
		}
	}
}

// UpdateConfig validates changes against the recognized key set, merges
// them into a new snapshot, and publishes it atomically. On any invalid
// key or value nothing is applied.
func (c *Controller) UpdateConfig(changes map[string]string) error {
	if len(changes) == 0 {
		return nil
	}

	for {
		cur := c.snap.Load()
		next := cur.clone()

		for key, value := range changes {
			if err := next.apply(key, value); err != nil {
				return err
			}
			next.Raw[key] = value
		}

		if c.snap.CompareAndSwap(cur, next) {
			return nil
		}
	}
}

// clone returns a deep copy safe to mutate before publishing.
func (s *Snapshot) clone() *Snapshot {
	cp := *s
	cp.Raw = maps.Clone(s.Raw)
	return &cp
}

func (s *Snapshot) apply(key, value string) error {
	switch key {
	case KeyMaxRetries:
		n, err := strconv.Atoi(value)
		if err != nil || n < 0 {
			return fmt.Errorf("%w: %s=%q (want non-negative integer)", taskgrid.ErrValidation, key, value)
		}
		s.MaxRetries = n

	case KeyDefaultTimeout:
		d, err := parseDuration(key, value)
		if err != nil {
			return err
		}
		s.DefaultTimeout = d

	case KeyRetryDelay:
		d, err := parseDuration(key, value)
		if err != nil {
			return err
		}
		s.RetryDelay = d

	case KeyDispatchRate:
		f, err := strconv.ParseFloat(value, 64)
		if err != nil || f < 0 {
			return fmt.Errorf("%w: %s=%q (want non-negative number)", taskgrid.ErrValidation, key, value)
		}
		s.DispatchRate = f

	case KeyRetentionWindow:
		d, err := parseDuration(key, value)
		if err != nil {
			return err
		}
		s.RetentionWindow = d

	default:
		return fmt.Errorf("%w: %q", taskgrid.ErrUnknownConfigKey, key)
	}

	return nil
}

func parseDuration(key, value string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil || d < 0 {
		return 0, fmt.Errorf("%w: %s=%q (want non-negative duration)", taskgrid.ErrValidation, key, value)
	}
	return d, nil
}
