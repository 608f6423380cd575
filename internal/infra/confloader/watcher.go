package confloader

import (
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// Watcher calls a function after a file was written. Bursts of events
// within the debounce window produce one call.
type Watcher struct {
	fw       *fsnotify.Watcher
	path     string
	onChange func()
	logger   *slog.Logger
	debounce time.Duration

	done      chan struct{}
	exited    chan struct{}
	closeOnce sync.Once
	closeErr  error
}

type WatcherOption func(*Watcher)

func WithWatcherLogger(l *slog.Logger) WatcherOption {
	return func(w *Watcher) { w.logger = l }
}

// WithDebounce sets the quiet period before onChange runs. Default 200ms.
func WithDebounce(d time.Duration) WatcherOption {
	return func(w *Watcher) { w.debounce = d }
}

// Watch starts watching path and calls onChange from a single goroutine
// until Close. The parent directory is watched so a file replaced by
// rename is still noticed.
func Watch(path string, onChange func(), opts ...WatcherOption) (*Watcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fw.Add(filepath.Dir(abs)); err != nil {
		fw.Close()
		return nil, err
	}

	w := &Watcher{
		fw:       fw,
		path:     abs,
		onChange: onChange,
		logger:   slog.Default(),
		debounce: 200 * time.Millisecond,
		done:     make(chan struct{}),
		exited:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	go w.run()
	w.logger.Debug("watching configuration file", "path", abs)
	return w, nil
}

func (w *Watcher) run() {
	defer close(w.exited)

	var fire <-chan time.Time
	for {
		select {
		case <-w.done:
			return
		case ev, ok := <-w.fw.Events:
			if !ok {
				return
			}
			if ev.Name != w.path || !(ev.Has(fsnotify.Write) || ev.Has(fsnotify.Create)) {
				continue
			}
			fire = time.After(w.debounce)
		case err, ok := <-w.fw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("configuration watch error", "error", err)
		case <-fire:
			fire = nil
			w.logger.Debug("configuration file changed", "path", w.path)
			w.onChange()
		}
	}
}

// Close stops the watcher and waits for a running onChange to return.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
		<-w.exited
		w.closeErr = w.fw.Close()
	})
	return w.closeErr
}
