package rag

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/ddunnock/mnemosyne/internal/log"
)

// defaultDebounce is how long a file must stay quiet before reingestion.
// Editors commonly emit several write events per save.
const defaultDebounce = 500 * time.Millisecond

// Watcher keeps the index in sync with the vault: changed files are
// reingested, removed files have their entries deleted.
type Watcher struct {
	source    *VaultSource
	retriever *Retriever
	logger    log.Logger
	debounce  time.Duration
}

// NewWatcher creates a watcher over the vault source.
func NewWatcher(source *VaultSource, retriever *Retriever, logger log.Logger) *Watcher {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Watcher{
		source:    source,
		retriever: retriever,
		logger:    logger,
		debounce:  defaultDebounce,
	}
}

// Run watches the vault until ctx is cancelled. It is the only
// long-lived goroutine in the pipeline and returns nil on cancellation.
func (w *Watcher) Run(ctx context.Context) error {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("creating watcher: %w", err)
	}
	defer func() { _ = fsw.Close() }()

	if err := w.addRecursive(fsw, w.source.Root()); err != nil {
		return err
	}

	// pending holds paths awaiting their quiet period.
	pending := make(map[string]time.Time)
	ticker := time.NewTicker(w.debounce / 2)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-fsw.Events:
			if !ok {
				return nil
			}
			w.handleEvent(ctx, fsw, event, pending)

		case err, ok := <-fsw.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)

		case now := <-ticker.C:
			for path, last := range pending {
				if now.Sub(last) < w.debounce {
					continue
				}
				delete(pending, path)
				w.reingest(ctx, path)
			}
		}
	}
}

func (w *Watcher) handleEvent(ctx context.Context, fsw *fsnotify.Watcher, event fsnotify.Event, pending map[string]time.Time) {
	switch {
	case event.Has(fsnotify.Create):
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			if !strings.HasPrefix(filepath.Base(event.Name), ".") {
				if err := w.addRecursive(fsw, event.Name); err != nil {
					w.logger.Warn("watching new directory", "path", event.Name, "error", err)
				}
			}
			return
		}
		if w.source.Ingestible(event.Name) {
			pending[event.Name] = time.Now()
		}

	case event.Has(fsnotify.Write):
		if w.source.Ingestible(event.Name) {
			pending[event.Name] = time.Now()
		}

	case event.Has(fsnotify.Remove) || event.Has(fsnotify.Rename):
		delete(pending, event.Name)
		w.remove(ctx, event.Name)
	}
}

func (w *Watcher) reingest(ctx context.Context, absPath string) {
	rel, err := filepath.Rel(w.source.Root(), absPath)
	if err != nil {
		return
	}
	doc, err := w.source.ReadDocument(ctx, rel)
	if err != nil {
		w.logger.Warn("reingest read failed", "path", rel, "error", err)
		return
	}
	summary, err := w.retriever.Ingest(ctx, doc.ID, doc.Title, doc.Content)
	if err != nil {
		w.logger.Warn("reingest failed", "path", rel, "error", err)
		return
	}
	w.logger.Debug("reingested", "path", rel, "chunks", summary.ChunksIndexed)
}

func (w *Watcher) remove(ctx context.Context, absPath string) {
	// The file is already gone, so the extension is all we can check.
	if !w.extSupported(absPath) {
		return
	}
	rel, err := filepath.Rel(w.source.Root(), absPath)
	if err != nil || strings.HasPrefix(rel, "..") {
		return
	}
	if err := w.retriever.DeleteDocument(ctx, DocID(rel)); err != nil {
		w.logger.Warn("delete after removal failed", "path", rel, "error", err)
		return
	}
	w.logger.Debug("deleted from index", "path", rel)
}

func (w *Watcher) extSupported(path string) bool {
	return supportedExtensions[strings.ToLower(filepath.Ext(path))]
}

func (w *Watcher) addRecursive(fsw *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil
			}
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if path != root && strings.HasPrefix(d.Name(), ".") {
			return filepath.SkipDir
		}
		if err := fsw.Add(path); err != nil {
			return fmt.Errorf("watching %s: %w", path, err)
		}
		return nil
	})
}
