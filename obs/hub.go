// Package obs implements the observability hub: a bounded time window of
// metric samples and a bounded ring of log records, exposed through
// cooperative streaming queries. The hub also implements the lifecycle
// hook interfaces so task events are recorded without extra wiring.
package obs

import (
	"log/slog"
	"sync"
	"time"

	"github.com/taskgrid/taskgrid/id"
)

// Sample is a single metric observation: a name, a set of named numeric
// values, and a timestamp. Samples are append-only and retained for the
// hub's trailing window.
type Sample struct {
	Name      string             `json:"name"`
	Values    map[string]float64 `json:"values"`
	Timestamp time.Time          `json:"ts"`

	// seq orders samples by arrival. Stream cursors advance on it rather
	// than on Timestamp, so two samples recorded at the same instant are
	// never conflated.
	seq uint64
}

// Record is a single log entry held in the bounded ring.
type Record struct {
	Timestamp time.Time  `json:"ts"`
	Level     slog.Level `json:"level"`
	Source    string     `json:"source"`
	Message   string     `json:"message"`
}

// DefaultWindow is the default metric retention window.
const DefaultWindow = 15 * time.Minute

// DefaultRingSize is the default log ring capacity.
const DefaultRingSize = 4096

// Hub aggregates metrics and logs. Safe for concurrent use; readers get
// copies, and no lock is ever held across a channel send.
type Hub struct {
	mu      sync.RWMutex
	samples []Sample
	seq     uint64
	window  time.Duration
	ring    *ring

	countersMu sync.Mutex
	counters   map[string]int64

	subsMu sync.Mutex
	subs   map[string]id.SubscriberID
}

// Option configures a Hub.
type Option func(*Hub)

// WithWindow sets the metric retention window.
func WithWindow(d time.Duration) Option {
	return func(h *Hub) { h.window = d }
}

// WithRingSize sets the log ring capacity.
func WithRingSize(n int) Option {
	return func(h *Hub) { h.ring = newRing(n) }
}

// NewHub creates a Hub with the default window and ring size.
func NewHub(opts ...Option) *Hub {
	h := &Hub{
		window:   DefaultWindow,
		ring:     newRing(DefaultRingSize),
		counters: make(map[string]int64),
		subs:     make(map[string]id.SubscriberID),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// RecordMetric appends a sample and prunes anything older than the
// retention window.
func (h *Hub) RecordMetric(name string, values map[string]float64, ts time.Time) {
	if ts.IsZero() {
		ts = time.Now().UTC()
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	h.seq++
	h.samples = append(h.samples, Sample{Name: name, Values: values, Timestamp: ts, seq: h.seq})
	h.pruneLocked(ts)
}

// pruneLocked drops samples older than the window. Samples arrive in
// roughly timestamp order, so a prefix scan suffices.
func (h *Hub) pruneLocked(now time.Time) {
	cutoff := now.Add(-h.window)
	i := 0
	for i < len(h.samples) && h.samples[i].Timestamp.Before(cutoff) {
		i++
	}
	if i > 0 {
		h.samples = append([]Sample(nil), h.samples[i:]...)
	}
}

// samplesAfter returns copies of retained samples recorded after the
// given cursor, filtered by name set (empty set matches all). A zero
// cursor replays everything still inside the retention window.
func (h *Hub) samplesAfter(names map[string]struct{}, afterSeq uint64) []Sample {
	h.mu.RLock()
	defer h.mu.RUnlock()

	var out []Sample
	for _, s := range h.samples {
		if s.seq <= afterSeq {
			continue
		}
		if len(names) > 0 {
			if _, ok := names[s.Name]; !ok {
				continue
			}
		}
		out = append(out, s)
	}
	return out
}

// RecordLog appends a record to the log ring, evicting the oldest entry
// on overflow.
func (h *Hub) RecordLog(level slog.Level, source, message string) {
	h.ring.push(Record{
		Timestamp: time.Now().UTC(),
		Level:     level,
		Source:    source,
		Message:   message,
	})
}

// LogFilter controls QueryLogs.
type LogFilter struct {
	// MinLevel drops records below the given level.
	MinLevel slog.Level
	// Source restricts to records from one source. Empty matches all.
	Source string
	// Since restricts to records at or after the given time.
	Since time.Time
	// Limit caps the number of records returned (most recent kept).
	// Zero means no limit.
	Limit int
}

// QueryLogs returns a snapshot of matching log records, oldest first.
// History already evicted from the ring is silently omitted. A fresh
// call takes a fresh snapshot, so queries are restartable.
func (h *Hub) QueryLogs(f LogFilter) []Record {
	all := h.ring.snapshot()

	var out []Record
	for _, r := range all {
		if r.Level < f.MinLevel {
			continue
		}
		if f.Source != "" && r.Source != f.Source {
			continue
		}
		if !f.Since.IsZero() && r.Timestamp.Before(f.Since) {
			continue
		}
		out = append(out, r)
	}

	if f.Limit > 0 && len(out) > f.Limit {
		out = out[len(out)-f.Limit:]
	}
	return out
}

func (h *Hub) addSubscriber(sub id.SubscriberID) {
	h.subsMu.Lock()
	h.subs[sub.String()] = sub
	h.subsMu.Unlock()
}

func (h *Hub) removeSubscriber(sub id.SubscriberID) {
	h.subsMu.Lock()
	delete(h.subs, sub.String())
	h.subsMu.Unlock()
}

// Subscribers returns the ids of the metric streams currently open.
func (h *Hub) Subscribers() []id.SubscriberID {
	h.subsMu.Lock()
	defer h.subsMu.Unlock()

	out := make([]id.SubscriberID, 0, len(h.subs))
	for _, sub := range h.subs {
		out = append(out, sub)
	}
	return out
}

// incr bumps a named lifecycle counter (exposed via Stats).
func (h *Hub) incr(name string) {
	h.countersMu.Lock()
	h.counters[name]++
	h.countersMu.Unlock()
}

// Stats returns a copy of the lifecycle counters.
func (h *Hub) Stats() map[string]int64 {
	h.countersMu.Lock()
	defer h.countersMu.Unlock()

	out := make(map[string]int64, len(h.counters))
	for k, v := range h.counters {
		out[k] = v
	}
	return out
}
