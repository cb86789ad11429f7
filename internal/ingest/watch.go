package ingest

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/gensync/internal/model"
)

// Watcher reconciles and loads raw exports as they appear in the data
// directory. Events for the same file are debounced; files are processed one
// at a time.
type Watcher struct {
	engine *Engine
	fs     *fsnotify.Watcher
	delay  time.Duration
	log    *zap.Logger

	mu        sync.Mutex
	timers    map[string]*time.Timer
	ready     chan string
	done      chan struct{}
	closeOnce sync.Once
	closeErr  error

	// OnProcessed is called after each file with the load result or error.
	OnProcessed func(path string, res *model.LoadResult, err error)
}

// NewWatcher starts watching the engine's data directory, creating it if
// needed.
func NewWatcher(e *Engine, delay time.Duration) (*Watcher, error) {
	if delay <= 0 {
		delay = 2 * time.Second
	}
	dir := e.opts.DataDir
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, eris.Wrapf(err, "ingest: create dir %s", dir)
	}

	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, eris.Wrap(err, "ingest: create watcher")
	}
	if err := fw.Add(dir); err != nil {
		_ = fw.Close()
		return nil, eris.Wrapf(err, "ingest: watch %s", dir)
	}

	return &Watcher{
		engine: e,
		fs:     fw,
		delay:  delay,
		log:    zap.L().With(zap.String("component", "ingest.watch"), zap.String("dir", dir)),
		timers: make(map[string]*time.Timer),
		ready:  make(chan string, 16),
		done:   make(chan struct{}),
	}, nil
}

// Run processes files until ctx is done. It closes the watcher on return.
func (w *Watcher) Run(ctx context.Context) error {
	defer w.Close() //nolint:errcheck
	w.log.Info("watching for raw exports", zap.Duration("debounce", w.delay))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-w.fs.Events:
			if !ok {
				return nil
			}
			if w.relevant(ev) {
				w.trigger(ev.Name)
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("watch error", zap.Error(err))
		case path := <-w.ready:
			w.process(ctx, path)
		}
	}
}

// Close stops the underlying watcher and pending timers. Timers that already
// fired drop their file. It is safe to call more than once.
func (w *Watcher) Close() error {
	w.closeOnce.Do(func() {
		close(w.done)
		w.mu.Lock()
		for p, t := range w.timers {
			t.Stop()
			delete(w.timers, p)
		}
		w.mu.Unlock()
		w.closeErr = w.fs.Close()
	})
	return w.closeErr
}

func (w *Watcher) relevant(ev fsnotify.Event) bool {
	if !ev.Has(fsnotify.Create) && !ev.Has(fsnotify.Write) {
		return false
	}
	name := filepath.Base(ev.Name)
	return !strings.HasPrefix(name, ".") && strings.HasSuffix(name, w.engine.opts.RawSuffix)
}

func (w *Watcher) trigger(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		t.Stop()
	}
	w.timers[path] = time.AfterFunc(w.delay, func() {
		w.mu.Lock()
		delete(w.timers, path)
		w.mu.Unlock()
		select {
		case w.ready <- path:
		case <-w.done:
		}
	})
}

func (w *Watcher) process(ctx context.Context, path string) {
	canonical, res, err := w.engine.Process(ctx, path)
	switch {
	case errors.Is(err, ErrNoRows):
		w.log.Info("raw export skipped", zap.String("path", path), zap.String("reason", err.Error()))
	case err != nil:
		w.log.Error("raw export failed", zap.String("path", path), zap.Error(err))
	default:
		w.log.Info("raw export processed",
			zap.String("path", path),
			zap.String("canonical", canonical),
			zap.Int("inserted", res.Inserted),
			zap.Int("duplicates", res.Duplicates),
		)
	}
	if w.OnProcessed != nil {
		w.OnProcessed(path, res, err)
	}
}
