package watcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

// ChangeFunc handles one debounced batch. An error is logged and watching
// continues.
type ChangeFunc func(ctx context.Context, events []FileEvent) error

// RecordsWatcher watches a fixed set of files.
type RecordsWatcher struct {
	paths   []string
	targets map[string]struct{}
	opts    Options
	logger  *slog.Logger

	debouncer *Debouncer
	fsWatcher *fsnotify.Watcher
	errs      chan error
	stopCh    chan struct{}
	stopOnce  sync.Once
	polling   atomic.Bool
}

// New creates a watcher for paths. Paths need not exist yet; their parent
// directories must.
func New(paths []string, opts Options) (*RecordsWatcher, error) {
	if len(paths) == 0 {
		return nil, errors.New("no files to watch")
	}
	opts = opts.WithDefaults()

	w := &RecordsWatcher{
		targets:   make(map[string]struct{}, len(paths)),
		opts:      opts,
		logger:    slog.Default(),
		debouncer: NewDebouncer(opts.Debounce),
		errs:      make(chan error, 10),
		stopCh:    make(chan struct{}),
	}
	for _, p := range paths {
		abs, err := filepath.Abs(p)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", p, err)
		}
		abs = filepath.Clean(abs)
		if _, dup := w.targets[abs]; dup {
			continue
		}
		w.targets[abs] = struct{}{}
		w.paths = append(w.paths, abs)
	}

	if !opts.ForcePolling {
		if err := w.watchDirs(); err != nil {
			w.logger.Warn("fsnotify_unavailable_using_polling", slog.String("error", err.Error()))
		}
	}
	w.polling.Store(w.fsWatcher == nil)
	return w, nil
}

// SetLogger replaces the logger.
func (w *RecordsWatcher) SetLogger(l *slog.Logger) {
	if l != nil {
		w.logger = l
	}
}

func (w *RecordsWatcher) watchDirs() error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	added := make(map[string]bool)
	for _, p := range w.paths {
		dir := filepath.Dir(p)
		if added[dir] {
			continue
		}
		if err := fsw.Add(dir); err != nil {
			_ = fsw.Close()
			return fmt.Errorf("watch %s: %w", dir, err)
		}
		added[dir] = true
	}
	w.fsWatcher = fsw
	return nil
}

// Mode returns "fsnotify" or "polling".
func (w *RecordsWatcher) Mode() string {
	if w.polling.Load() {
		return "polling"
	}
	return "fsnotify"
}

// Paths returns the absolute paths being watched.
func (w *RecordsWatcher) Paths() []string {
	return append([]string(nil), w.paths...)
}

// Events returns debounced batches.
func (w *RecordsWatcher) Events() <-chan []FileEvent {
	return w.debouncer.Output()
}

// Errors returns non-fatal watcher errors.
func (w *RecordsWatcher) Errors() <-chan error {
	return w.errs
}

// Start feeds events into the debouncer until ctx is done or Stop is
// called. It blocks.
func (w *RecordsWatcher) Start(ctx context.Context) error {
	w.logger.Info("watcher_started",
		slog.String("mode", w.Mode()),
		slog.Any("paths", w.paths))

	if w.fsWatcher == nil {
		poll(ctx, w.stopCh, w.paths, w.opts.PollInterval, w.debouncer.Add)
		return ctxErr(ctx)
	}

	for {
		select {
		case <-ctx.Done():
			return ctxErr(ctx)
		case <-w.stopCh:
			return nil
		case ev, ok := <-w.fsWatcher.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.fsWatcher.Errors:
			if !ok {
				return nil
			}
			select {
			case w.errs <- err:
			default:
			}
		}
	}
}

func (w *RecordsWatcher) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	if _, ok := w.targets[path]; !ok {
		return
	}

	var op Operation
	switch {
	case ev.Has(fsnotify.Create):
		op = OpCreate
	case ev.Has(fsnotify.Write):
		op = OpModify
	case ev.Has(fsnotify.Remove):
		op = OpDelete
	case ev.Has(fsnotify.Rename):
		op = OpRename
	default:
		return
	}
	w.debouncer.Add(FileEvent{Path: path, Operation: op, Timestamp: time.Now()})
}

// Run starts the watcher and calls onChange for each batch, one at a
// time, until ctx is done. Batches that only delete files are skipped;
// the index keeps serving the last good build.
func (w *RecordsWatcher) Run(ctx context.Context, onChange ChangeFunc) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	done := make(chan error, 1)
	go func() { done <- w.Start(ctx) }()
	defer func() { _ = w.Stop() }()

	for {
		select {
		case <-ctx.Done():
			<-done
			return ctxErr(ctx)
		case err := <-done:
			return err
		case err := <-w.errs:
			w.logger.Warn("watcher_error", slog.String("error", err.Error()))
		case batch, ok := <-w.Events():
			if !ok {
				return nil
			}
			if !hasContent(batch) {
				w.logger.Info("watched_file_removed", slog.Int("events", len(batch)))
				continue
			}
			w.logger.Info("watched_file_changed",
				slog.String("path", batch[0].Path),
				slog.String("op", batch[0].Operation.String()),
				slog.Int("events", len(batch)))
			if err := onChange(ctx, batch); err != nil {
				w.logger.Error("watch_rebuild_failed", slog.String("error", err.Error()))
			}
		}
	}
}

// hasContent reports whether any event leaves a file in place.
func hasContent(batch []FileEvent) bool {
	for _, e := range batch {
		if e.Operation == OpCreate || e.Operation == OpModify {
			return true
		}
	}
	return false
}

// Stop stops watching. Safe to call multiple times.
func (w *RecordsWatcher) Stop() error {
	var err error
	w.stopOnce.Do(func() {
		close(w.stopCh)
		w.debouncer.Stop()
		if w.fsWatcher != nil {
			err = w.fsWatcher.Close()
		}
	})
	return err
}

// ctxErr hides the cancellation that ends a normal run.
func ctxErr(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.Canceled) {
		return nil
	}
	return ctx.Err()
}
