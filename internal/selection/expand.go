package selection

import (
	"context"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/temirov/ctxchat/internal/utils"
	"github.com/temirov/ctxchat/internal/workspace"
)

const (
	logSkipMissingRoot     = "skipping missing path"
	logSkipUnreadableEntry = "skipping unreadable directory"
	logFieldPath           = "path"
)

// ExpandFiles resolves roots to the set of files beneath them. Directories are
// enumerated with an explicit worklist; entries that vanish or cannot be read
// are logged and skipped. The state directory and .git directories found while
// walking are not entered; passing one as a root still expands it. The result
// is normalized, deduplicated and sorted.
func ExpandFiles(ctx context.Context, fileSystem workspace.FileSystem, roots []string, logger *zap.Logger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	seen := map[string]struct{}{}
	var files []string
	pending := make([]string, 0, len(roots))

	for _, root := range roots {
		normalizedRoot := Normalize(root)
		info, statErr := fileSystem.Stat(normalizedRoot)
		if statErr != nil {
			logger.Warn(logSkipMissingRoot, zap.String(logFieldPath, normalizedRoot), zap.Error(statErr))
			continue
		}
		if !info.IsDir() {
			if _, exists := seen[normalizedRoot]; !exists {
				seen[normalizedRoot] = struct{}{}
				files = append(files, normalizedRoot)
			}
			continue
		}
		pending = append(pending, normalizedRoot)
	}

	visitedDirectories := map[string]struct{}{}
	for len(pending) > 0 {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		directory := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		if _, visited := visitedDirectories[directory]; visited {
			continue
		}
		visitedDirectories[directory] = struct{}{}

		entries, readErr := fileSystem.ReadDir(directory)
		if readErr != nil {
			logger.Warn(logSkipUnreadableEntry, zap.String(logFieldPath, directory), zap.Error(readErr))
			continue
		}
		for _, entry := range entries {
			childPath := filepath.Join(directory, entry.Name())
			if entry.IsDir() {
				if isReservedDirectory(entry.Name()) {
					continue
				}
				pending = append(pending, childPath)
				continue
			}
			if _, exists := seen[childPath]; exists {
				continue
			}
			seen[childPath] = struct{}{}
			files = append(files, childPath)
		}
	}

	sort.Strings(files)
	return files, nil
}

func isReservedDirectory(name string) bool {
	return name == utils.StateDirectoryName || name == utils.GitDirectoryName
}
