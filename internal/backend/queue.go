package backend

import "sync"

// DeliveryQueue hands change batches to a SnapshotFunc on a dedicated
// goroutine, preserving enqueue order. Enqueue never blocks the
// producer, so diffs can be computed under a store lock. After Close a
// batch already dequeued may still be delivered once.
type DeliveryQueue struct {
	fn SnapshotFunc

	mu     sync.Mutex
	queue  [][]Change
	closed bool
	wake   chan struct{}
}

func NewDeliveryQueue(fn SnapshotFunc) *DeliveryQueue {
	q := &DeliveryQueue{
		fn:   fn,
		wake: make(chan struct{}, 1),
	}
	go q.run()
	return q
}

func (q *DeliveryQueue) Enqueue(batch []Change) {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.queue = append(q.queue, batch)
	q.mu.Unlock()

	q.signal()
}

func (q *DeliveryQueue) Close() {
	q.mu.Lock()
	q.closed = true
	q.mu.Unlock()

	q.signal()
}

func (q *DeliveryQueue) signal() {
	select {
	case q.wake <- struct{}{}:
	default:
	}
}

func (q *DeliveryQueue) run() {
	for range q.wake {
		for {
			q.mu.Lock()
			if q.closed {
				q.mu.Unlock()
				return
			}
			if len(q.queue) == 0 {
				q.mu.Unlock()
				break
			}
			batch := q.queue[0]
			q.queue = q.queue[1:]
			q.mu.Unlock()

			q.fn(batch)
		}
	}
}
