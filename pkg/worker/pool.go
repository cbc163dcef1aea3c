package worker

import (
	"context"
	"sync"

	"tunnel/pkg/logger"
	"tunnel/pkg/metrics"

	"go.uber.org/zap"
)

// Task is a unit of work executed by one worker. The context is never
// cancelled by the pool; tasks bound themselves with their own timeouts.
type Task func(ctx context.Context)

// WorkerPool runs tasks on a fixed number of goroutines fed by a bounded queue
type WorkerPool struct {
	logger     *logger.Logger
	numWorkers int
	queue      chan Task
	wg         sync.WaitGroup

	mu      sync.RWMutex
	started bool
	closed  bool
}

// NewWorkerPool creates a new WorkerPool instance
func NewWorkerPool(l *logger.Logger, numWorkers, queueSize int) *WorkerPool {
	if numWorkers < 1 {
		numWorkers = 1
	}
	if queueSize < 0 {
		queueSize = 0
	}
	return &WorkerPool{
		logger:     l,
		numWorkers: numWorkers,
		queue:      make(chan Task, queueSize),
	}
}

// Start initializes the worker goroutines. Calling it twice is a no-op.
func (p *WorkerPool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started || p.closed {
		return
	}
	p.started = true

	for i := 0; i < p.numWorkers; i++ {
		p.wg.Add(1)
		go p.runWorker(i)
	}
}

// TrySubmit enqueues a task without blocking. It reports false when the queue
// is full or the pool is closed.
func (p *WorkerPool) TrySubmit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return false
	}

	select {
	case p.queue <- task:
		metrics.NotifierQueueDepth.Set(float64(len(p.queue)))
		return true
	default:
		return false
	}
}

func (p *WorkerPool) runWorker(id int) {
	defer p.wg.Done()

	p.logger.Debug("worker started", zap.Int("worker_id", id))

	for task := range p.queue {
		metrics.NotifierQueueDepth.Set(float64(len(p.queue)))
		p.run(id, task)
	}
}

func (p *WorkerPool) run(id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("task panicked", zap.Int("worker_id", id), zap.Any("panic", r))
		}
	}()
	task(context.Background())
}

// Shutdown stops accepting tasks and waits for queued and in-flight tasks
// until ctx is done. Work still running after that is abandoned.
func (p *WorkerPool) Shutdown(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.queue)
	started := p.started
	p.mu.Unlock()

	if !started {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
