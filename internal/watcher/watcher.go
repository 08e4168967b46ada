// Package watcher ingests document artifacts dropped into inbox directories.
// Writes are debounced per file; removing a file deletes the document it
// produced.
package watcher

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/hyperjump/kirinuki/internal/config"
	"github.com/hyperjump/kirinuki/internal/models"
)

const artifactExt = ".json"

// Handler processes inbox events. The ingest pipeline satisfies it.
type Handler interface {
	IngestFile(ctx context.Context, scopeID, path string) models.IngestStatus
	DeleteDocument(ctx context.Context, docID string) error
}

// Inbox watches directories for JSON document artifacts.
type Inbox struct {
	roots     []string
	scopeID   string
	recursive bool
	debounce  time.Duration
	handler   Handler
	logger    *zap.Logger

	mu      sync.Mutex
	fsw     *fsnotify.Watcher
	ctx     context.Context
	timers  map[string]*time.Timer
	docs    map[string]string // artifact path -> doc_id it produced
	pending sync.WaitGroup
	done    chan struct{}
	stop    sync.Once
}

// Option configures an Inbox.
type Option func(*Inbox)

// WithLogger sets a logger for file events and ingest outcomes.
func WithLogger(l *zap.Logger) Option {
	return func(w *Inbox) { w.logger = l }
}

// NewInbox creates an inbox over cfg.Directories that ingests into cfg.Scope.
func NewInbox(cfg config.WatchConfig, handler Handler, opts ...Option) *Inbox {
	w := &Inbox{
		roots:     cfg.Directories,
		scopeID:   cfg.Scope,
		recursive: cfg.RecursiveOrDefault(),
		debounce:  cfg.Debounce,
		handler:   handler,
		logger:    zap.NewNop(),
		timers:    make(map[string]*time.Timer),
		docs:      make(map[string]string),
		done:      make(chan struct{}),
	}
	for _, opt := range opts {
		opt(w)
	}
	if w.logger == nil {
		w.logger = zap.NewNop()
	}
	return w
}

// Start begins watching; missing roots are created. Events are handled until
// ctx is cancelled or Stop is called.
func (w *Inbox) Start(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.fsw = fsw
	w.ctx = ctx
	w.mu.Unlock()

	for _, root := range w.roots {
		if err := os.MkdirAll(root, 0o755); err != nil {
			_ = fsw.Close()
			return err
		}
		if err := w.watchTree(root); err != nil {
			_ = fsw.Close()
			return err
		}
	}
	w.logger.Info("inbox watching",
		zap.Strings("directories", w.roots),
		zap.String("scope_id", w.scopeID),
		zap.Bool("recursive", w.recursive))

	go w.run(ctx, fsw)
	return nil
}

func (w *Inbox) run(ctx context.Context, fsw *fsnotify.Watcher) {
	for {
		select {
		case <-ctx.Done():
			w.Stop()
			return
		case <-w.done:
			return
		case ev, ok := <-fsw.Events:
			if !ok {
				return
			}
			w.handle(ev)
		case err, ok := <-fsw.Errors:
			if !ok {
				return
			}
			w.logger.Warn("inbox watch error", zap.Error(err))
		}
	}
}

func (w *Inbox) handle(ev fsnotify.Event) {
	path := filepath.Clean(ev.Name)
	w.logger.Debug("inbox event", zap.String("op", ev.Op.String()), zap.String("path", path))

	switch {
	case ev.Has(fsnotify.Create) || ev.Has(fsnotify.Write):
		info, err := os.Stat(path)
		if err != nil {
			return
		}
		if info.IsDir() {
			if w.recursive {
				if err := w.watchTree(path); err != nil {
					w.logger.Warn("failed to watch directory", zap.String("path", path), zap.Error(err))
				}
			}
			w.syncTree(path)
			return
		}
		if isArtifact(path) {
			w.schedule(path)
		}
	case ev.Has(fsnotify.Remove) || ev.Has(fsnotify.Rename):
		if isArtifact(path) {
			w.cancel(path)
			w.remove(path)
		}
	}
}

// watchTree adds dir, and its subdirectories when recursive, to the watch list.
func (w *Inbox) watchTree(dir string) error {
	w.mu.Lock()
	fsw := w.fsw
	w.mu.Unlock()
	if fsw == nil {
		return nil
	}
	if !w.recursive {
		return fsw.Add(dir)
	}
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return fsw.Add(path)
		}
		return nil
	})
}

// syncTree schedules every artifact already under dir.
func (w *Inbox) syncTree(dir string) {
	_ = filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return nil
		}
		if d.IsDir() {
			if path != dir && !w.recursive {
				return filepath.SkipDir
			}
			return nil
		}
		if isArtifact(path) {
			w.schedule(path)
		}
		return nil
	})
}

// Sync ingests the artifacts already present in every root. Unchanged
// artifacts are skipped by the handler.
func (w *Inbox) Sync() {
	for _, root := range w.roots {
		w.syncTree(filepath.Clean(root))
	}
}

func (w *Inbox) schedule(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.fsw == nil {
		return
	}
	if t, ok := w.timers[path]; ok {
		if t.Stop() {
			w.pending.Done()
		}
	}
	w.pending.Add(1)
	w.timers[path] = time.AfterFunc(w.debounce, func() {
		defer w.pending.Done()
		w.mu.Lock()
		delete(w.timers, path)
		ctx := w.ctx
		w.mu.Unlock()
		w.ingest(ctx, path)
	})
}

func (w *Inbox) cancel(path string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if t, ok := w.timers[path]; ok {
		if t.Stop() {
			w.pending.Done()
		}
		delete(w.timers, path)
	}
}

func (w *Inbox) ingest(ctx context.Context, path string) {
	st := w.handler.IngestFile(ctx, w.scopeID, path)
	if st.DocID != "" {
		w.mu.Lock()
		w.docs[path] = st.DocID
		w.mu.Unlock()
	}
	fields := []zap.Field{zap.String("path", path), zap.String("doc_id", st.DocID), zap.String("status", st.Status)}
	switch st.Status {
	case models.StatusFailed:
		w.logger.Warn("inbox artifact failed", append(fields, zap.String("error", st.Error))...)
	case models.StatusSkipped:
		w.logger.Debug("inbox artifact unchanged", fields...)
	default:
		w.logger.Info("inbox artifact ingested", append(fields, zap.Int("chunks", st.Chunks))...)
	}
}

func (w *Inbox) remove(path string) {
	w.mu.Lock()
	docID, ok := w.docs[path]
	delete(w.docs, path)
	ctx := w.ctx
	w.mu.Unlock()
	if !ok {
		return
	}
	if err := w.handler.DeleteDocument(ctx, docID); err != nil {
		w.logger.Warn("failed to delete document for removed artifact",
			zap.String("path", path), zap.String("doc_id", docID), zap.Error(err))
		return
	}
	w.logger.Info("document removed with its artifact", zap.String("path", path), zap.String("doc_id", docID))
}

// Wait blocks until every scheduled ingestion has run.
func (w *Inbox) Wait() {
	w.pending.Wait()
}

// Stop stops watching and drops pending ingestions.
func (w *Inbox) Stop() {
	w.mu.Lock()
	for path, t := range w.timers {
		if t.Stop() {
			w.pending.Done()
		}
		delete(w.timers, path)
	}
	fsw := w.fsw
	w.fsw = nil
	w.mu.Unlock()
	if fsw != nil {
		_ = fsw.Close()
	}
	w.stop.Do(func() { close(w.done) })
}

func isArtifact(path string) bool {
	return strings.EqualFold(filepath.Ext(path), artifactExt) && !strings.HasPrefix(filepath.Base(path), ".")
}
