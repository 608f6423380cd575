package gc

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/yndnr/ingestmesh/internal/core/domain"
	"github.com/yndnr/ingestmesh/internal/infra/workerpool"
	"github.com/yndnr/ingestmesh/internal/telemetry/metric"
)

// Config configures a Collector.
type Config struct {
	// Interval between timed sweeps. Default: 5s
	Interval time.Duration

	// Concurrency is the number of parallel deletions within a sweep.
	// Default: 4
	Concurrency int
}

// SweepResult describes a finished sweep.
type SweepResult struct {
	Deleted []string
	Failed  []string
	Err     error
}

// RemoveFunc deletes a path and everything below it.
type RemoveFunc func(path string) error

// Collector is the pending-deletion queue and its sweeper.
type Collector struct {
	cfg     Config
	pool    *workerpool.Pool
	remove  RemoveFunc
	logger  *slog.Logger
	metrics *metric.Registry

	mu       sync.Mutex
	pending  map[string]struct{}
	sweeping map[string]struct{}
	running  bool
	timer    *time.Timer
	stopped  bool
	idle     *sync.Cond
}

// Option configures a Collector.
type Option func(*Collector)

// WithRemoveFunc replaces os.RemoveAll.
func WithRemoveFunc(fn RemoveFunc) Option {
	return func(c *Collector) { c.remove = fn }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Collector) {
		if l != nil {
			c.logger = l
		}
	}
}

// WithMetrics records sweeps in r.
func WithMetrics(r *metric.Registry) Option {
	return func(c *Collector) { c.metrics = r }
}

// New creates a collector that runs deletions on pool.
func New(cfg Config, pool *workerpool.Pool, opts ...Option) *Collector {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 4
	}

	c := &Collector{
		cfg:      cfg,
		pool:     pool,
		remove:   os.RemoveAll,
		logger:   slog.Default(),
		pending:  make(map[string]struct{}),
		sweeping: make(map[string]struct{}),
	}
	c.idle = sync.NewCond(&c.mu)
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start arms the sweep timer.
func (c *Collector) Start() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.timer == nil && !c.stopped {
		c.timer = time.AfterFunc(c.cfg.Interval, c.onTimer)
	}
}

// onTimer fires a sweep. If one is already running it re-arms the timer
// when it finishes.
func (c *Collector) onTimer() {
	c.Collect()
}

// Add queues path for deletion. Adding a queued path is a no-op. Empty
// paths and filesystem roots are ignored.
func (c *Collector) Add(path string) {
	if !collectable(path) {
		c.logger.Warn("refusing to collect path", "path", path)
		return
	}

	c.mu.Lock()
	c.pending[path] = struct{}{}
	n := len(c.pending)
	c.mu.Unlock()

	c.metrics.SetQueueLength(n)
}

// Remove drops path from the queue. Removing an absent path is a no-op.
// If a sweep is deleting path, Remove waits for the sweep to finish so
// the caller can recreate it.
func (c *Collector) Remove(path string) {
	c.mu.Lock()
	for c.inSweep(path) {
		c.idle.Wait()
	}
	delete(c.pending, path)
	n := len(c.pending)
	c.mu.Unlock()

	c.metrics.SetQueueLength(n)
}

func (c *Collector) inSweep(path string) bool {
	_, ok := c.sweeping[path]
	return ok
}

// Pending returns the queued paths in sorted order.
func (c *Collector) Pending() []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]string, 0, len(c.pending))
	for p := range c.pending {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// Running reports whether a sweep is in flight.
func (c *Collector) Running() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.running
}

// Collect starts a sweep and returns a channel that receives its result.
// It returns nil when a sweep is already in flight; queued paths are then
// picked up by the next sweep.
func (c *Collector) Collect() <-chan SweepResult {
	c.mu.Lock()
	if c.running {
		c.mu.Unlock()
		return nil
	}
	c.running = true
	if c.timer != nil {
		c.timer.Stop()
	}

	batch := make([]string, 0, len(c.pending))
	for p := range c.pending {
		batch = append(batch, p)
		c.sweeping[p] = struct{}{}
	}
	clear(c.pending)
	c.mu.Unlock()

	c.metrics.SetQueueLength(0)

	result := make(chan SweepResult, 1)
	if len(batch) == 0 {
		c.finish(SweepResult{})
		result <- SweepResult{}
		return result
	}
	sort.Strings(batch)

	_, err := c.pool.Submit(context.Background(), func(ctx context.Context) error {
		res := c.sweep(ctx, batch)
		c.finish(res)
		result <- res
		return res.Err
	})
	if err != nil {
		res := SweepResult{Failed: batch, Err: domain.ErrCollection.WithCause(err)}
		c.logger.Error("collection sweep not scheduled", "paths", len(batch), "error", err)
		c.finish(res)
		result <- res
		return result
	}
	return result
}

// sweep deletes every path in batch; failures are recorded per path.
func (c *Collector) sweep(ctx context.Context, batch []string) SweepResult {
	errs := workerpool.RunBatch(ctx, c.cfg.Concurrency, batch, func(_ context.Context, p string) error {
		return c.remove(p)
	})

	var res SweepResult
	for i, err := range errs {
		if err != nil {
			c.logger.Warn("path deletion failed", "path", batch[i], "error", err)
			res.Failed = append(res.Failed, batch[i])
			continue
		}
		c.logger.Debug("path collected", "path", batch[i])
		res.Deleted = append(res.Deleted, batch[i])
	}
	if len(res.Failed) > 0 {
		res.Err = domain.ErrCollection.WithDetails("some paths could not be deleted")
	}
	return res
}

// finish re-queues failures, releases the sweep slot and re-arms the timer.
func (c *Collector) finish(res SweepResult) {
	c.mu.Lock()
	for _, p := range res.Failed {
		c.pending[p] = struct{}{}
	}
	n := len(c.pending)
	clear(c.sweeping)
	c.running = false
	if c.timer != nil && !c.stopped {
		c.timer.Reset(c.cfg.Interval)
	}
	c.idle.Broadcast()
	c.mu.Unlock()

	c.metrics.SetQueueLength(n)
	if len(res.Deleted) > 0 || len(res.Failed) > 0 {
		c.metrics.SweepFinished(len(res.Deleted), len(res.Failed))
		c.logger.Info("collection sweep finished",
			"deleted", len(res.Deleted),
			"failed", len(res.Failed))
	}
}

// Stop disarms the timer, waits for an in-flight sweep, then runs one
// final sweep of whatever is queued.
func (c *Collector) Stop(ctx context.Context) error {
	c.mu.Lock()
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
	}
	for c.running {
		c.idle.Wait()
	}
	c.mu.Unlock()

	ch := c.Collect()
	if ch == nil {
		return nil
	}
	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// collectable rejects paths that must never be removed recursively.
func collectable(path string) bool {
	if path == "" {
		return false
	}
	clean := filepath.Clean(path)
	return clean != "/" && clean != "." && clean != filepath.VolumeName(clean)+string(filepath.Separator)
}
