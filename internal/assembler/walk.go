package assembler

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"

	"go.uber.org/zap"

	"github.com/temirov/ctxchat/internal/types"
	"github.com/temirov/ctxchat/internal/utils"
)

const (
	errorReadRootFormat = "reading root directory %s: %w"
	logSkipDirectory    = "skipping unreadable directory"
	logFieldPath        = "path"
)

// walkedFile is a non-excluded file discovered beneath the root.
type walkedFile struct {
	path         string
	relativePath string
	policy       types.InclusionPolicy
}

// pendingDirectory is a directory waiting on the walk stack. ignored is set
// when the directory or an ancestor matched an ignore pattern.
type pendingDirectory struct {
	path    string
	ignored bool
}

// walk enumerates every non-excluded file beneath root using an explicit stack.
// Excluded directories and reserved directories are never descended into.
// Files matching an ignore pattern are skipped unless their policy contributes
// content, so an explicit selection always reaches the document.
func (assembler *Assembler) walk(ctx context.Context, root string) ([]walkedFile, error) {
	if assembler.policies.EffectivePolicy(root) == types.PolicyExcluded {
		return nil, nil
	}

	var files []walkedFile
	pending := []pendingDirectory{{path: root}}
	for len(pending) > 0 {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		directory := pending[len(pending)-1]
		pending = pending[:len(pending)-1]

		entries, readErr := assembler.fileSystem.ReadDir(directory.path)
		if readErr != nil {
			if directory.path == root {
				return nil, fmt.Errorf(errorReadRootFormat, root, readErr)
			}
			assembler.logger.Warn(logSkipDirectory, zap.String(logFieldPath, directory.path), zap.Error(readErr))
			continue
		}
		for _, entry := range entries {
			childPath := filepath.Join(directory.path, entry.Name())
			relativePath := utils.RelativePathOrSelf(childPath, root)
			if utils.ShouldIgnoreByPath(relativePath, assembler.reserved) {
				continue
			}
			policy := assembler.policies.EffectivePolicy(childPath)
			if policy == types.PolicyExcluded {
				continue
			}
			ignored := directory.ignored || utils.ShouldIgnoreByPath(relativePath, assembler.ignorePatterns)
			if entry.IsDir() {
				if ignored && !assembler.hasSelectionBeneath(childPath) {
					continue
				}
				pending = append(pending, pendingDirectory{path: childPath, ignored: ignored})
				continue
			}
			if ignored && !policy.ContributesContent() {
				continue
			}
			files = append(files, walkedFile{path: childPath, relativePath: relativePath, policy: policy})
		}
	}

	sort.Slice(files, func(left, right int) bool {
		return files[left].relativePath < files[right].relativePath
	})
	return files, nil
}

func (assembler *Assembler) hasSelectionBeneath(directory string) bool {
	index, indexed := assembler.policies.(SelectionIndex)
	return indexed && index.HasSelectionBeneath(directory)
}
