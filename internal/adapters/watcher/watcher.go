// Package watcher watches storage roots so that handles to provisioned
// databases are invalidated when their files change or disappear.
package watcher

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// DefaultDebounce is the quiet period before an event is delivered.
const DefaultDebounce = 500 * time.Millisecond

// Event represents a settled change of one database file.
type Event struct {
	Path      string
	Operation Operation
}

// Operation represents the type of file operation.
type Operation int

// File operation types.
const (
	OpCreate Operation = iota
	OpModify
	OpDelete
)

// String returns the string representation of the operation.
func (o Operation) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpModify:
		return "modify"
	case OpDelete:
		return "delete"
	default:
		return "unknown"
	}
}

// Handler is called once per settled event.
type Handler func(ctx context.Context, event Event) error

// Config holds watcher configuration. Match selects the files whose events
// reach the handler; the default matches every file.
type Config struct {
	Paths    []string
	Debounce time.Duration
	Match    func(path string) bool
}

// Watcher coalesces bursts of fsnotify events per file. A provisioning
// copy produces create and many writes; the handler sees one event after
// the file has been quiet for the debounce period.
type Watcher struct {
	fs       *fsnotify.Watcher
	handler  Handler
	match    func(path string) bool
	paths    []string
	debounce time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending map[string]*pendingEvent
	closed  bool
	wg      sync.WaitGroup
}

type pendingEvent struct {
	op    Operation
	timer *time.Timer
}

// New creates a new file watcher.
func New(cfg Config, handler Handler, logger *slog.Logger) (*Watcher, error) {
	fs, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if cfg.Debounce <= 0 {
		cfg.Debounce = DefaultDebounce
	}
	if cfg.Match == nil {
		cfg.Match = func(string) bool { return true }
	}
	return &Watcher{
		fs:       fs,
		handler:  handler,
		match:    cfg.Match,
		paths:    cfg.Paths,
		debounce: cfg.Debounce,
		logger:   logger,
		pending:  make(map[string]*pendingEvent),
	}, nil
}

// Start watches the configured roots. Roots that cannot be watched are
// logged and skipped; Start fails only when none can be watched.
func (w *Watcher) Start(ctx context.Context) error {
	watched := 0
	for _, p := range w.paths {
		abs, err := filepath.Abs(p)
		if err == nil {
			err = w.fs.Add(abs)
		}
		if err != nil {
			w.logger.Warn("failed to watch storage root", "path", p, "error", err)
			continue
		}
		watched++
		w.logger.Info("watching storage root", "path", abs)
	}
	if watched == 0 && len(w.paths) > 0 {
		return errors.New("no storage root could be watched")
	}

	go w.loop(ctx)
	return nil
}

// Stop closes the watcher and drops undelivered events. It waits for
// handlers already running.
func (w *Watcher) Stop() error {
	w.mu.Lock()
	w.closed = true
	for path, p := range w.pending {
		if p.timer.Stop() {
			w.wg.Done()
		}
		delete(w.pending, path)
	}
	w.mu.Unlock()

	err := w.fs.Close()
	w.wg.Wait()
	return err
}

func (w *Watcher) loop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-w.fs.Events:
			if !ok {
				return
			}
			if w.match(ev.Name) {
				w.observe(ctx, ev.Name, operationOf(ev.Op))
			}
		case err, ok := <-w.fs.Errors:
			if !ok {
				return
			}
			w.logger.Error("watcher error", "error", err)
		}
	}
}

// observe records op for path and restarts its quiet period.
func (w *Watcher) observe(ctx context.Context, path string, op Operation) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}

	if prev, ok := w.pending[path]; ok {
		op = merge(prev.op, op)
		if prev.timer.Stop() {
			w.wg.Done()
		}
	}

	p := &pendingEvent{op: op}
	w.pending[path] = p
	w.wg.Add(1)
	p.timer = time.AfterFunc(w.debounce, func() { w.deliver(ctx, path, p) })
}

func (w *Watcher) deliver(ctx context.Context, path string, p *pendingEvent) {
	defer w.wg.Done()

	w.mu.Lock()
	if w.pending[path] != p {
		w.mu.Unlock()
		return
	}
	delete(w.pending, path)
	event := Event{Path: path, Operation: p.op}
	w.mu.Unlock()

	w.logger.Debug("database file changed", "path", path, "operation", event.Operation.String())
	if err := w.handler(ctx, event); err != nil {
		w.logger.Error("file event handler failed", "path", path, "operation", event.Operation.String(), "error", err)
	}
}

// merge folds a new operation into a pending one. A delete wins unless
// the file comes back, in which case it counts as created.
func merge(prev, next Operation) Operation {
	switch {
	case prev == OpDelete && next == OpCreate:
		return OpCreate
	case next == OpDelete:
		return OpDelete
	default:
		return prev
	}
}

// operationOf maps an fsnotify op. A rename moves the file away from the
// watched name, so it counts as a delete.
func operationOf(op fsnotify.Op) Operation {
	switch {
	case op.Has(fsnotify.Remove), op.Has(fsnotify.Rename):
		return OpDelete
	case op.Has(fsnotify.Create):
		return OpCreate
	default:
		return OpModify
	}
}
