package selection

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/temirov/ctxchat/internal/workspace"
)

const (
	errorCreateWatcherFormat  = "create state watcher: %w"
	errorWatchDirectoryFormat = "watch %s: %w"
	logExternalChange         = "selection state changed on disk; reloaded"
	logWatcherError           = "state watcher error"
)

const stateFileOperations = fsnotify.Write | fsnotify.Create | fsnotify.Remove | fsnotify.Rename

// StateWatcher reloads a Store whenever its state file is modified by another
// process, so observers see edits made outside the running session.
type StateWatcher struct {
	store      *Store
	filePath   string
	fileSystem workspace.FileSystem
	logger     *zap.Logger
}

// NewStateWatcher returns a watcher for the state file at filePath.
func NewStateWatcher(store *Store, filePath string, fileSystem workspace.FileSystem, logger *zap.Logger) *StateWatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	if fileSystem == nil {
		fileSystem = workspace.NewOSFileSystem()
	}
	return &StateWatcher{
		store:      store,
		filePath:   filepath.Clean(filePath),
		fileSystem: fileSystem,
		logger:     logger,
	}
}

// Run blocks until ctx is cancelled. The ready callback, when set, fires once
// the watch is registered.
func (watcher *StateWatcher) Run(ctx context.Context, ready func()) error {
	directory := filepath.Dir(watcher.filePath)
	if mkdirErr := watcher.fileSystem.MkdirAll(directory); mkdirErr != nil {
		return fmt.Errorf(errorWatchDirectoryFormat, directory, mkdirErr)
	}
	notifyWatcher, createErr := fsnotify.NewWatcher()
	if createErr != nil {
		return fmt.Errorf(errorCreateWatcherFormat, createErr)
	}
	defer notifyWatcher.Close()
	if addErr := notifyWatcher.Add(directory); addErr != nil {
		return fmt.Errorf(errorWatchDirectoryFormat, directory, addErr)
	}
	if ready != nil {
		ready()
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case event, open := <-notifyWatcher.Events:
			if !open {
				return nil
			}
			if filepath.Clean(event.Name) != watcher.filePath || event.Op&stateFileOperations == 0 {
				continue
			}
			if watcher.store.Reload() {
				watcher.logger.Info(logExternalChange, zap.String(logFieldPath, watcher.filePath))
			}
		case watchErr, open := <-notifyWatcher.Errors:
			if !open {
				return nil
			}
			watcher.logger.Warn(logWatcherError, zap.Error(watchErr))
		}
	}
}
