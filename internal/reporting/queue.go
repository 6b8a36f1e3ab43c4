package reporting

import (
	"sync"

	"metronome/internal/core"
)

// unitQueue is an unbounded FIFO so that reporting never applies
// backpressure to the dispatch path.
type unitQueue struct {
	mu     sync.Mutex
	cond   *sync.Cond
	items  []*core.MeasurementUnit
	closed bool
	busy   bool
}

func newUnitQueue() *unitQueue {
	q := &unitQueue{}
	q.cond = sync.NewCond(&q.mu)
	return q
}

// push returns false once the queue is closed.
func (q *unitQueue) push(mu *core.MeasurementUnit) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return false
	}
	q.items = append(q.items, mu)
	q.cond.Broadcast()
	return true
}

// pop blocks until an item is available. It returns false when the queue is
// closed and drained.
func (q *unitQueue) pop() (*core.MeasurementUnit, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.busy = false
	q.cond.Broadcast()
	for len(q.items) == 0 && !q.closed {
		q.cond.Wait()
	}
	if len(q.items) == 0 {
		return nil, false
	}
	mu := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	q.busy = true
	return mu, true
}

// clear drops pending items.
func (q *unitQueue) clear() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	n := len(q.items)
	q.items = nil
	q.cond.Broadcast()
	return n
}

// drain waits until every pushed item has been processed.
func (q *unitQueue) drain() {
	q.mu.Lock()
	defer q.mu.Unlock()
	for len(q.items) > 0 || q.busy {
		q.cond.Wait()
	}
}

func (q *unitQueue) close() {
	q.mu.Lock()
	q.closed = true
	q.cond.Broadcast()
	q.mu.Unlock()
}

func (q *unitQueue) len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}
