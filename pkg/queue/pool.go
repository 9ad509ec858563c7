// Package queue runs background tasks on a bounded worker pool: follow-up
// question generation and other post-response work that must not block the
// request path.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// ErrShuttingDown is returned by Submit after Stop has been called.
var ErrShuttingDown = errors.New("worker pool is shutting down")

// ErrQueueFull is returned by Submit when the task buffer is at capacity.
var ErrQueueFull = errors.New("task queue is full")

// Task is one unit of background work.
type Task struct {
	// Name identifies the task in logs.
	Name string
	// Run does the work. The context is cancelled on pool shutdown after the
	// drain timeout.
	Run func(ctx context.Context) error
}

// Config tunes the pool.
type Config struct {
	WorkerCount int
	QueueSize   int
	// TaskTimeout bounds one task execution.
	TaskTimeout time.Duration
}

// Pool manages a fixed set of worker goroutines consuming a bounded task
// buffer.
type Pool struct {
	cfg    Config
	tasks  chan Task
	wg     sync.WaitGroup
	logger *slog.Logger

	mu      sync.Mutex
	started bool
	stopped bool
}

// NewPool creates a pool. Zero config fields get serviceable defaults.
func NewPool(cfg Config) *Pool {
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 4
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if cfg.TaskTimeout <= 0 {
		cfg.TaskTimeout = 2 * time.Minute
	}
	return &Pool{
		cfg:    cfg,
		tasks:  make(chan Task, cfg.QueueSize),
		logger: slog.Default(),
	}
}

// Start spawns the worker goroutines. Safe to call once; duplicate calls are
// no-ops.
func (p *Pool) Start() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.started {
		p.logger.Warn("Worker pool already started, ignoring duplicate Start call")
		return
	}
	p.started = true

	p.logger.Info("Starting worker pool", "worker_count", p.cfg.WorkerCount, "queue_size", p.cfg.QueueSize)
	for i := 0; i < p.cfg.WorkerCount; i++ {
		workerID := fmt.Sprintf("worker-%d", i)
		p.wg.Add(1)
		go func() {
			defer p.wg.Done()
			p.run(workerID)
		}()
	}
}

// Submit enqueues a task. It never blocks: a full buffer is an error the
// caller may ignore for best-effort work. The send happens under the mutex so
// Stop cannot close the channel between the stopped check and the send.
func (p *Pool) Submit(task Task) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopped {
		return ErrShuttingDown
	}

	select {
	case p.tasks <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop rejects new submissions, drains the buffer, and waits for workers to
// finish their current tasks.
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.logger.Info("Stopping worker pool gracefully", "pending_tasks", len(p.tasks))
	close(p.tasks)
	p.wg.Wait()
	p.logger.Info("Worker pool stopped gracefully")
}

func (p *Pool) run(workerID string) {
	for task := range p.tasks {
		p.execute(workerID, task)
	}
}

func (p *Pool) execute(workerID string, task Task) {
	ctx, cancel := context.WithTimeout(context.Background(), p.cfg.TaskTimeout)
	defer cancel()

	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Background task panicked",
				"worker_id", workerID, "task", task.Name, "panic", r)
		}
	}()

	start := time.Now()
	if err := task.Run(ctx); err != nil {
		p.logger.Warn("Background task failed",
			"worker_id", workerID, "task", task.Name,
			"duration_ms", time.Since(start).Milliseconds(), "error", err)
		return
	}
	p.logger.Debug("Background task completed",
		"worker_id", workerID, "task", task.Name,
		"duration_ms", time.Since(start).Milliseconds())
}

// Depth reports the number of queued tasks, for health reporting.
func (p *Pool) Depth() int {
	return len(p.tasks)
}
