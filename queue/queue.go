// Package queue provides the dispatch ordering structure: a priority
// queue of task ids ordered by (priority descending, enqueue sequence
// ascending). Equal priorities dispatch FIFO so no task starves.
//
// The queue holds ids only. Correctness of final delivery is the
// dispatcher's job — it re-checks store state after popping.
package queue

import (
	"container/heap"
	"sync"
)

// item is a single queue entry.
type item struct {
	id       string
	priority int
	seq      uint64
	index    int
}

// items implements heap.Interface.
type items []*item

func (h items) Len() int { return len(h) }

func (h items) Less(i, k int) bool {
	if h[i].priority != h[k].priority {
		return h[i].priority > h[k].priority
	}
	return h[i].seq < h[k].seq
}

func (h items) Swap(i, k int) {
	h[i], h[k] = h[k], h[i]
	h[i].index = i
	h[k].index = k
}

func (h *items) Push(x any) {
	it := x.(*item)
	it.index = len(*h)
	*h = append(*h, it)
}

func (h *items) Pop() any {
	old := *h
	n := len(old)
	it := old[n-1]
	old[n-1] = nil
	it.index = -1
	*h = old[:n-1]
	return it
}

// Queue is a priority queue of task ids with O(log n) removal by id.
// It is safe for concurrent use and takes no lock other than its own.
type Queue struct {
	mu   sync.Mutex
	heap items
	byID map[string]*item
	seq  uint64
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{byID: make(map[string]*item)}
}

// Push enqueues a task id with the given priority. Pushing an id that is
// already queued is a no-op: the task keeps its original position.
func (q *Queue) Push(taskID string, priority int) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.byID[taskID]; exists {
		return
	}

	q.seq++
	it := &item{id: taskID, priority: priority, seq: q.seq}
	q.byID[taskID] = it
	heap.Push(&q.heap, it)
}

// Peek returns the highest-priority task id without removing it, so the
// head keeps its position when the caller cannot act on it yet.
// Returns ok=false when the queue is empty.
func (q *Queue) Peek() (taskID string, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return "", false
	}
	return q.heap[0].id, true
}

// Pop removes and returns the highest-priority task id.
// Returns ok=false when the queue is empty.
func (q *Queue) Pop() (taskID string, ok bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.heap) == 0 {
		return "", false
	}

	it := heap.Pop(&q.heap).(*item)
	delete(q.byID, it.id)
	return it.id, true
}

// Remove deletes a queued task id (e.g. on cancellation before dispatch).
// Returns false if the id is not queued.
func (q *Queue) Remove(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	it, ok := q.byID[taskID]
	if !ok {
		return false
	}
	heap.Remove(&q.heap, it.index)
	delete(q.byID, taskID)
	return true
}

// Contains reports whether the id is currently queued.
func (q *Queue) Contains(taskID string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.byID[taskID]
	return ok
}

// Len returns the number of queued ids.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.heap)
}
