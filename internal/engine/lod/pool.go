package lod

import (
	"errors"
	"runtime"
	"sync"

	"go.uber.org/zap"
)

// Pool errors.
var (
	ErrQueueFull  = errors.New("lod: job queue full")
	ErrPoolClosed = errors.New("lod: pool closed")
)

// Pool runs jobs on a fixed set of worker goroutines fed by a buffered queue.
type Pool struct {
	jobs chan func()
	wg   sync.WaitGroup
	log  *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewPool starts workers goroutines (NumCPU when <= 0) with room for queue
// pending jobs.
func NewPool(workers, queue int, log *zap.Logger) *Pool {
	if log == nil {
		log = zap.NewNop()
	}
	if workers <= 0 {
		workers = max(runtime.NumCPU(), 1)
	}
	if queue <= 0 {
		queue = 4096
	}
	p := &Pool{
		jobs: make(chan func(), queue),
		log:  log,
	}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go p.worker()
	}
	return p
}

// Submit queues a job without blocking.
func (p *Pool) Submit(job func()) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPoolClosed
	}
	select {
	case p.jobs <- job:
		return nil
	default:
		return ErrQueueFull
	}
}

// Pending returns the number of queued jobs.
func (p *Pool) Pending() int {
	return len(p.jobs)
}

// Close stops accepting jobs, lets the queue drain and waits for the workers.
func (p *Pool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()
	p.wg.Wait()
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for job := range p.jobs {
		p.run(job)
	}
}

func (p *Pool) run(job func()) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error("job panicked", zap.Any("panic", r))
		}
	}()
	job()
}
