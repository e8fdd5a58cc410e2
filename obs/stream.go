package obs

import (
	"context"
	"time"

	"github.com/taskgrid/taskgrid/id"
)

// DefaultPollInterval is how often a metric stream emits a batch when the
// caller does not specify one.
const DefaultPollInterval = time.Second

// MetricQuery describes a streaming metric subscription.
type MetricQuery struct {
	// Names restricts the stream to the given metric names. Empty
	// matches all.
	Names []string
	// Duration is how long the stream runs before terminating. Zero
	// defaults to the hub's retention window.
	Duration time.Duration
	// PollInterval is how often a batch is emitted. Zero defaults to
	// DefaultPollInterval.
	PollInterval time.Duration
}

// StreamMetrics starts a cooperative producer that emits one batch of
// samples per poll interval: first the trailing-window replay, then only
// samples that arrived since the previous batch. The channel is closed
// when the query duration elapses or ctx is cancelled — whichever comes
// first — and the producer goroutine always exits with it. A fresh call
// starts a fresh stream.
func (h *Hub) StreamMetrics(ctx context.Context, q MetricQuery) <-chan []Sample {
	duration := q.Duration
	if duration <= 0 {
		duration = h.window
	}
	poll := q.PollInterval
	if poll <= 0 {
		poll = DefaultPollInterval
	}

	names := make(map[string]struct{}, len(q.Names))
	for _, n := range q.Names {
		names[n] = struct{}{}
	}

	out := make(chan []Sample)

	sub := id.NewSubscriberID()
	h.addSubscriber(sub)

	go func() {
		defer h.removeSubscriber(sub)
		defer close(out)

		deadline := time.NewTimer(duration)
		defer deadline.Stop()
		ticker := time.NewTicker(poll)
		defer ticker.Stop()

		// First batch replays the trailing window; pruning already bounds
		// retained samples to it.
		var last uint64

		for {
			batch := h.samplesAfter(names, last)
			if len(batch) > 0 {
				last = batch[len(batch)-1].seq
				select {
				case out <- batch:
				case <-ctx.Done():
					return
				case <-deadline.C:
					return
				}
			}

			select {
			case <-ticker.C:
			case <-ctx.Done():
				return
			case <-deadline.C:
				return
			}
		}
	}()

	return out
}
