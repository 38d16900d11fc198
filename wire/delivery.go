package wire

import "sync"

// deliveryQueue is an unbounded FIFO between a connection's read loop and
// the data callback. The read loop must never block on the application,
// because acknowledgments for our own writes arrive on the same socket.
type deliveryQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  [][]byte
	closed bool
}

func newDeliveryQueue() *deliveryQueue {
	q := &deliveryQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push appends a value. Returns false once the queue is closed.
func (q *deliveryQueue) push(value []byte) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, value)
	q.cond.Signal()
	return true
}

// close stops accepting values; run still drains what was queued
func (q *deliveryQueue) close() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.closed = true
	q.cond.Broadcast()
}

// run hands each value to fn in order until the queue is closed and empty
func (q *deliveryQueue) run(fn func([]byte)) {
	for {
		q.mu.Lock()
		for len(q.items) == 0 && !q.closed {
			q.cond.Wait()
		}
		if len(q.items) == 0 {
			q.mu.Unlock()
			return
		}
		value := q.items[0]
		q.items[0] = nil
		q.items = q.items[1:]
		q.mu.Unlock()

		fn(value)
	}
}

func (q *deliveryQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
