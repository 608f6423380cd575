package workerpool

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
)

// ErrClosed is returned by Submit after Close.
var ErrClosed = errors.New("workerpool: closed")

// Task is a unit of work.
type Task func(ctx context.Context) error

// Config configures a Pool.
type Config struct {
	// Workers is the number of goroutines. Default: 2
	Workers int

	// QueueSize bounds pending tasks; Submit blocks when full. Default: 64
	QueueSize int
}

type job struct {
	task Task
	done chan error
}

// Pool executes submitted tasks on a fixed set of workers.
type Pool struct {
	jobs   chan job
	ctx    context.Context
	cancel context.CancelFunc
	logger *slog.Logger

	mu     sync.RWMutex
	closed bool
	wg     sync.WaitGroup
}

// New starts a pool.
func New(cfg Config, logger *slog.Logger) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 2
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 64
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	p := &Pool{
		jobs:   make(chan job, cfg.QueueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}

	p.wg.Add(cfg.Workers)
	for i := 0; i < cfg.Workers; i++ {
		go p.worker()
	}
	return p
}

func (p *Pool) worker() {
	defer p.wg.Done()
	for j := range p.jobs {
		j.done <- p.run(j.task)
		close(j.done)
	}
}

func (p *Pool) run(task Task) (err error) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("worker task panicked", "panic", r)
			err = fmt.Errorf("workerpool: task panicked: %v", r)
		}
	}()
	return task(p.ctx)
}

// Submit queues task and returns a channel that receives its result once.
// It blocks while the queue is full, until ctx is done.
func (p *Pool) Submit(ctx context.Context, task Task) (<-chan error, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return nil, ErrClosed
	}

	done := make(chan error, 1)
	select {
	case p.jobs <- job{task: task, done: done}:
		return done, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Close stops accepting tasks and waits for queued tasks to drain. If ctx
// ends first, the context passed to running tasks is cancelled and Close
// returns ctx.Err() once workers exit.
func (p *Pool) Close(ctx context.Context) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	close(p.jobs)
	p.mu.Unlock()

	drained := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		p.cancel()
		return nil
	case <-ctx.Done():
		p.cancel()
		<-drained
		return ctx.Err()
	}
}
