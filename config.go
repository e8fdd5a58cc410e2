package taskgrid

import "time"

// Config holds static configuration for the control plane. Tunables that
// may change at runtime (max retries, default timeout, dispatch rate) live
// in control.Snapshot instead and are swapped atomically.
type Config struct {
	// DispatchInterval is how often the dispatcher wakes when the queue
	// is empty or no worker has spare capacity.
	DispatchInterval time.Duration

	// ShutdownTimeout is the maximum time to wait for graceful shutdown.
	ShutdownTimeout time.Duration

	// LivenessThreshold is how long a worker may stay silent before it is
	// marked dead and its in-flight tasks are force-failed.
	LivenessThreshold time.Duration

	// ReapInterval is how often the worker pool checks for dead workers.
	ReapInterval time.Duration

	// RetentionWindow is how long terminal tasks remain queryable before
	// the janitor garbage-collects them.
	RetentionWindow time.Duration

	// JanitorInterval is how often the retention janitor runs.
	JanitorInterval time.Duration
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		DispatchInterval:  50 * time.Millisecond,
		ShutdownTimeout:   30 * time.Second,
		LivenessThreshold: 30 * time.Second,
		ReapInterval:      10 * time.Second,
		RetentionWindow:   time.Hour,
		JanitorInterval:   time.Minute,
	}
}

// Entity carries the timestamps every stored record shares.
type Entity struct {
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// NewEntity returns an Entity stamped with the current UTC time.
func NewEntity() Entity {
	now := time.Now().UTC()
	return Entity{CreatedAt: now, UpdatedAt: now}
}
