package ml

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fsnotify/fsnotify"

	"github.com/jwalitptl/diagnosis-api/pkg/logger"
)

// Watcher calls onChange whenever another process republishes the CURRENT
// pointer under the artifact root.
type Watcher struct {
	fsw      *fsnotify.Watcher
	root     string
	onChange func(version string)
	store    *ArtifactStore
	logger   *logger.Logger
}

func NewWatcher(store *ArtifactStore, onChange func(version string), log *logger.Logger) (*Watcher, error) {
	if err := os.MkdirAll(store.Root(), 0o755); err != nil {
		return nil, fmt.Errorf("create artifact root: %w", err)
	}
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("create watcher: %w", err)
	}
	if err := fsw.Add(store.Root()); err != nil {
		fsw.Close()
		return nil, fmt.Errorf("watch %s: %w", store.Root(), err)
	}
	return &Watcher{
		fsw:      fsw,
		root:     store.Root(),
		onChange: onChange,
		store:    store,
		logger:   log,
	}, nil
}

// Run blocks until ctx is cancelled.
func (w *Watcher) Run(ctx context.Context) {
	defer w.fsw.Close()

	pointer := filepath.Join(w.root, currentFile)
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-w.fsw.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != pointer {
				continue
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			version, err := w.store.Current()
			if err != nil {
				w.logger.Warn("artifact pointer changed but is unreadable", "error", err.Error())
				continue
			}
			w.logger.Info("artifact version published", "version", version)
			w.onChange(version)
		case err, ok := <-w.fsw.Errors:
			if !ok {
				return
			}
			w.logger.Error(err, "artifact watcher error")
		}
	}
}
