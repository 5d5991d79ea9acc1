package gpu

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"
)

// Queue carries work onto the render thread, which drains it with Pump.
type Queue struct {
	reqs chan func()
	done chan struct{} // closed once Close has drained reqs
	log  *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewQueue creates a queue holding up to size pending requests.
func NewQueue(size int, log *zap.Logger) *Queue {
	if log == nil {
		log = zap.NewNop()
	}
	if size <= 0 {
		size = 1024
	}
	return &Queue{
		reqs: make(chan func(), size),
		done: make(chan struct{}),
		log:  log,
	}
}

// Post queues fn without blocking.
func (q *Queue) Post(fn func()) error {
	q.mu.RLock()
	defer q.mu.RUnlock()
	if q.closed {
		return ErrQueueClosed
	}
	select {
	case q.reqs <- fn:
		return nil
	default:
		return ErrQueueFull
	}
}

// Call runs fn on the render thread and waits for it. It blocks while the
// queue is full and returns ErrQueueClosed if Close wins the race for fn.
func (q *Queue) Call(fn func() error) error {
	result := make(chan error, 1)
	var taken atomic.Bool
	job := func() {
		if !taken.CompareAndSwap(false, true) {
			return
		}
		defer func() {
			if r := recover(); r != nil {
				result <- fmt.Errorf("gpu: request panicked: %v", r)
			}
		}()
		result <- fn()
	}

	q.mu.RLock()
	closed := q.closed
	q.mu.RUnlock()
	if closed {
		return ErrQueueClosed
	}

	select {
	case q.reqs <- job:
	case <-q.done:
		return ErrQueueClosed
	}
	select {
	case err := <-result:
		return err
	case <-q.done:
		if taken.CompareAndSwap(false, true) {
			return ErrQueueClosed
		}
		// Already running on the render thread.
		return <-result
	}
}

// Pump runs up to limit pending requests (all of them when limit <= 0) and
// returns how many ran. Only the render thread calls it.
func (q *Queue) Pump(limit int) int {
	n := 0
	for limit <= 0 || n < limit {
		select {
		case fn := <-q.reqs:
			q.run(fn)
			n++
		default:
			return n
		}
	}
	return n
}

// Pending returns the number of queued requests.
func (q *Queue) Pending() int {
	return len(q.reqs)
}

// Close rejects new requests and runs what is still queued. Calls that reach
// the queue after that return ErrQueueClosed.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	q.mu.Unlock()
	q.Pump(0)
	close(q.done)
}

func (q *Queue) run(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			q.log.Error("render request panicked", zap.Any("panic", r))
		}
	}()
	fn()
}
