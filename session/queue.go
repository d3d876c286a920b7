package session

import (
	"errors"
	"sync"

	"github.com/room4-2/companion/messages"
)

// ErrQueueClosed is returned when pushing to a closed queue
var ErrQueueClosed = errors.New("outbound queue closed")

// OutboundQueue is an unbounded FIFO of items waiting to be sent.
// Any number of goroutines may push; exactly one goroutine consumes with
// Front/Pop, so an item is only removed once it has been written.
type OutboundQueue struct {
	items  []messages.OutboundItem
	head   int
	notify chan struct{}
	closed bool
	mu     sync.Mutex
}

// NewOutboundQueue creates an empty queue
func NewOutboundQueue() *OutboundQueue {
	return &OutboundQueue{
		items:  make([]messages.OutboundItem, 0, 64),
		notify: make(chan struct{}, 1),
	}
}

// Push appends an item. It never blocks.
func (q *OutboundQueue) Push(item messages.OutboundItem) error {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, item)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// PushAll appends items as one contiguous run.
func (q *OutboundQueue) PushAll(items ...messages.OutboundItem) error {
	if len(items) == 0 {
		return nil
	}
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return ErrQueueClosed
	}
	q.items = append(q.items, items...)
	q.mu.Unlock()

	select {
	case q.notify <- struct{}{}:
	default:
	}
	return nil
}

// Front returns the oldest item without removing it
func (q *OutboundQueue) Front() (messages.OutboundItem, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head >= len(q.items) {
		return messages.OutboundItem{}, false
	}
	return q.items[q.head], true
}

// Pop removes the oldest item. Call it after the item returned by Front was sent.
func (q *OutboundQueue) Pop() {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.head >= len(q.items) {
		return
	}
	q.items[q.head] = messages.OutboundItem{}
	q.head++

	// Compact once the consumed prefix dominates the slice
	if q.head == len(q.items) {
		q.items = q.items[:0]
		q.head = 0
	} else if q.head > 64 && q.head*2 > len(q.items) {
		n := copy(q.items, q.items[q.head:])
		q.items = q.items[:n]
		q.head = 0
	}
}

// Notify is signalled after a push. The consumer waits on it when Front
// reports an empty queue.
func (q *OutboundQueue) Notify() <-chan struct{} {
	return q.notify
}

// Len returns the number of waiting items
func (q *OutboundQueue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items) - q.head
}

// IsEmpty returns true if nothing is waiting
func (q *OutboundQueue) IsEmpty() bool {
	return q.Len() == 0
}

// Close rejects further pushes and discards waiting items
func (q *OutboundQueue) Close() {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.closed = true
	q.items = nil
	q.head = 0
}
