// Package worker runs fire-and-forget tasks (audit writes, synthetic
// callbacks) off the request path. Failures are logged, never returned to
// the code that submitted the task.
package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrQueueFull is returned by Submit when the queue has no free slot.
var ErrQueueFull = errors.New("worker queue full")

// ErrStopped is returned by Submit after Stop has been called.
var ErrStopped = errors.New("worker pool stopped")

// Task is a unit of background work.
type Task struct {
	Name  string
	Delay time.Duration
	Run   func(ctx context.Context) error
}

// Pool executes tasks on a fixed number of goroutines fed by a bounded queue.
type Pool struct {
	logger  *slog.Logger
	queue   chan Task
	workers int

	mu      sync.RWMutex
	stopped bool
	wg      sync.WaitGroup
	delayed sync.WaitGroup
	baseCtx context.Context
	cancel  context.CancelFunc
	// timers is cancelled first on Stop so delayed tasks are abandoned
	// while already queued tasks still drain with a live context.
	timers     context.Context
	stopTimers context.CancelFunc
}

// New creates a pool; call Start before submitting.
func New(workers, queueSize int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Pool{
		logger:  logger,
		queue:   make(chan Task, queueSize),
		workers: workers,
	}
}

// Start launches the worker goroutines. Tasks run with a context derived from
// ctx that is cancelled on Stop.
func (p *Pool) Start(ctx context.Context) {
	p.baseCtx, p.cancel = context.WithCancel(context.WithoutCancel(ctx))
	p.timers, p.stopTimers = context.WithCancel(p.baseCtx)
	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.loop()
	}
}

// Submit enqueues a task without blocking. Delayed tasks wait on a timer
// before entering the queue.
func (p *Pool) Submit(task Task) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped || p.baseCtx == nil {
		return ErrStopped
	}
	if task.Delay > 0 {
		p.delayed.Add(1)
		go p.enqueueAfter(task)
		return nil
	}
	select {
	case p.queue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *Pool) enqueueAfter(task Task) {
	defer p.delayed.Done()
	timer := time.NewTimer(task.Delay)
	defer timer.Stop()
	select {
	case <-p.timers.Done():
		return
	case <-timer.C:
	}
	task.Delay = 0
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.stopped {
		return
	}
	select {
	case p.queue <- task:
	case <-p.timers.Done():
	}
}

func (p *Pool) loop() {
	defer p.wg.Done()
	for task := range p.queue {
		p.run(task)
	}
}

func (p *Pool) run(task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("background task panicked",
				"task", task.Name,
				"panic", fmt.Sprint(r),
			)
		}
	}()
	if err := task.Run(p.baseCtx); err != nil {
		p.logger.Warn("background task failed",
			"task", task.Name,
			"error", err,
		)
	}
}

// Stop cancels pending delayed tasks, drains queued tasks and waits for the
// workers to exit or ctx to expire.
func (p *Pool) Stop(ctx context.Context) error {
	if p.stopTimers == nil {
		return nil
	}
	p.stopTimers()

	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return nil
	}
	p.stopped = true
	p.mu.Unlock()

	p.delayed.Wait()
	close(p.queue)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()
	defer p.cancel()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
