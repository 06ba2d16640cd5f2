package feed

import (
	"sync"

	"github.com/secstack/threatvault/internal/store"
)

// queuedItem pairs a raw item with the source that produced it.
type queuedItem struct {
	item   RawItem
	source *store.FeedSource
}

// itemQueue is a bounded FIFO with drop-oldest backpressure. A burst from
// one feed sheds the stalest work instead of blocking the pollers; drops
// are counted so the operator can size the queue.
type itemQueue struct {
	mu       sync.Mutex
	items    []queuedItem
	capacity int
	dropped  int
}

func newItemQueue(capacity int) *itemQueue {
	if capacity <= 0 {
		capacity = 1024
	}
	return &itemQueue{capacity: capacity}
}

// Push appends an item, evicting the oldest entry when full.
func (q *itemQueue) Push(it queuedItem) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) >= q.capacity {
		q.items = q.items[1:]
		q.dropped++
	}
	q.items = append(q.items, it)
}

// Pop removes the oldest item. ok is false when the queue is empty.
func (q *itemQueue) Pop() (queuedItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if len(q.items) == 0 {
		return queuedItem{}, false
	}
	it := q.items[0]
	q.items = q.items[1:]
	return it, true
}

func (q *itemQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Dropped returns the eviction count since creation.
func (q *itemQueue) Dropped() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.dropped
}
