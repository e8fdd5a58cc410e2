package obs

import "sync"

// ring is a fixed-capacity circular buffer of log records. The oldest
// entry is evicted when a push overflows capacity.
type ring struct {
	mu    sync.Mutex
	buf   []Record
	head  int // index of the oldest entry
	count int
}

func newRing(capacity int) *ring {
	if capacity <= 0 {
		capacity = DefaultRingSize
	}
	return &ring{buf: make([]Record, capacity)}
}

func (r *ring) push(rec Record) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.count < len(r.buf) {
		r.buf[(r.head+r.count)%len(r.buf)] = rec
		r.count++
		return
	}

	// Full: overwrite the oldest slot and advance head.
	r.buf[r.head] = rec
	r.head = (r.head + 1) % len(r.buf)
}

// snapshot returns a copy of the buffered records, oldest first.
func (r *ring) snapshot() []Record {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Record, r.count)
	for i := range r.count {
		out[i] = r.buf[(r.head+i)%len(r.buf)]
	}
	return out
}

func (r *ring) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.count
}
