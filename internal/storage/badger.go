package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dgraph-io/badger/v3"
	"github.com/prometheus/client_golang/prometheus"
)

// gcTimeout bounds one background value log collection.
const gcTimeout = 5 * time.Minute

// BadgerEngine is the durable KV.
type BadgerEngine struct {
	db     *badger.DB
	opts   Options
	logger *slog.Logger

	lastGC atomic.Int64 // unix nanoseconds
	closed atomic.Bool

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewBadgerEngine opens or creates the database in opts.Dir.
func NewBadgerEngine(opts Options, logger *slog.Logger) (*BadgerEngine, error) {
	if opts.Dir == "" {
		return nil, errors.New("badger: dir is required")
	}
	if logger == nil {
		logger = slog.Default()
	}

	bo := badger.DefaultOptions(opts.Dir).
		WithLogger(badgerLog{logger.With("component", "badger")}).
		WithSyncWrites(opts.SyncWrites)
	if opts.BlockCacheSize > 0 {
		bo = bo.WithBlockCacheSize(opts.BlockCacheSize)
	}
	if opts.ValueLogFileSize > 0 {
		bo = bo.WithValueLogFileSize(opts.ValueLogFileSize)
	}
	if opts.GCDiscardRatio <= 0 || opts.GCDiscardRatio >= 1 {
		opts.GCDiscardRatio = 0.5
	}

	db, err := badger.Open(bo)
	if err != nil {
		return nil, fmt.Errorf("badger: open %s: %w", opts.Dir, err)
	}

	e := &BadgerEngine{db: db, opts: opts, logger: logger, stop: make(chan struct{})}
	if opts.GCInterval > 0 {
		e.wg.Add(1)
		go e.runGC(opts.GCInterval)
	}
	logger.Info("badger opened", "dir", opts.Dir, "sync_writes", opts.SyncWrites, "gc_interval", opts.GCInterval)
	return e, nil
}

func (e *BadgerEngine) view(fn func(*badger.Txn) error) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.db.View(fn)
}

func (e *BadgerEngine) update(fn func(*badger.Txn) error) error {
	if e.closed.Load() {
		return ErrClosed
	}
	return e.db.Update(fn)
}

func (e *BadgerEngine) Get(_ context.Context, key []byte) (value []byte, err error) {
	err = e.view(func(txn *badger.Txn) error {
		item, err := txn.Get(key)
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrKeyNotFound
		} else if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	return value, err
}

func (e *BadgerEngine) Set(_ context.Context, key, value []byte) error {
	return e.update(func(txn *badger.Txn) error { return txn.Set(key, value) })
}

func (e *BadgerEngine) Delete(_ context.Context, key []byte) error {
	return e.update(func(txn *badger.Txn) error { return txn.Delete(key) })
}

func (e *BadgerEngine) Scan(ctx context.Context, prefix []byte, fn func(key, value []byte) bool) error {
	return e.view(func(txn *badger.Txn) error {
		io := badger.DefaultIteratorOptions
		io.Prefix = prefix
		it := txn.NewIterator(io)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			if err := ctx.Err(); err != nil {
				return err
			}
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			if !fn(item.KeyCopy(nil), v) {
				return nil
			}
		}
		return nil
	})
}

// GC rewrites value log files until Badger finds nothing worth
// rewriting and returns how many it rewrote.
func (e *BadgerEngine) GC(ctx context.Context) (int, error) {
	if e.closed.Load() {
		return 0, ErrClosed
	}

	n := 0
	for ctx.Err() == nil {
		err := e.db.RunValueLogGC(e.opts.GCDiscardRatio)
		if errors.Is(err, badger.ErrNoRewrite) || errors.Is(err, badger.ErrRejected) {
			break
		}
		if err != nil {
			return n, fmt.Errorf("badger: value log gc: %w", err)
		}
		n++
	}
	e.lastGC.Store(time.Now().UnixNano())
	if n > 0 {
		e.logger.Debug("value log collected", "files", n)
	}
	return n, nil
}

// LastGC returns when GC last finished, or the zero time.
func (e *BadgerEngine) LastGC() time.Time {
	ns := e.lastGC.Load()
	if ns == 0 {
		return time.Time{}
	}
	return time.Unix(0, ns)
}

func (e *BadgerEngine) runGC(every time.Duration) {
	defer e.wg.Done()
	t := time.NewTicker(every)
	defer t.Stop()

	for {
		select {
		case <-e.stop:
			return
		case <-t.C:
		}
		ctx, cancel := context.WithTimeout(context.Background(), gcTimeout)
		if _, err := e.GC(ctx); err != nil && !errors.Is(err, ErrClosed) {
			e.logger.Error("value log gc failed", "error", err)
		}
		cancel()
	}
}

// RegisterMetrics exposes the LSM and value log sizes and the last GC
// time. The gauges are read at scrape time.
func (e *BadgerEngine) RegisterMetrics(reg prometheus.Registerer) {
	gauge := func(name, help string, fn func() float64) prometheus.Collector {
		return prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace: "ingestmesh",
			Subsystem: "badger",
			Name:      name,
			Help:      help,
		}, fn)
	}
	reg.MustRegister(
		gauge("lsm_size_bytes", "Size of the Badger LSM tree.", func() float64 {
			lsm, _ := e.db.Size()
			return float64(lsm)
		}),
		gauge("value_log_size_bytes", "Size of the Badger value log.", func() float64 {
			_, vlog := e.db.Size()
			return float64(vlog)
		}),
		gauge("last_gc_timestamp_seconds", "Unix time of the last value log GC.", func() float64 {
			if t := e.LastGC(); !t.IsZero() {
				return float64(t.UnixNano()) / 1e9
			}
			return 0
		}),
	)
}

// Close stops the GC loop and closes the database.
func (e *BadgerEngine) Close() (err error) {
	e.closeOnce.Do(func() {
		e.closed.Store(true)
		close(e.stop)
		e.wg.Wait()
		if err = e.db.Close(); err != nil {
			err = fmt.Errorf("badger: close: %w", err)
		}
	})
	return err
}

// badgerLog routes Badger's printf logging to slog. Badger's info output
// is chatty, so it goes to debug.
type badgerLog struct{ l *slog.Logger }

func (b badgerLog) Errorf(f string, v ...any)   { b.l.Error(fmt.Sprintf(f, v...)) }
func (b badgerLog) Warningf(f string, v ...any) { b.l.Warn(fmt.Sprintf(f, v...)) }
func (b badgerLog) Infof(f string, v ...any)    { b.l.Debug(fmt.Sprintf(f, v...)) }
func (b badgerLog) Debugf(f string, v ...any)   { b.l.Debug(fmt.Sprintf(f, v...)) }
