// Package config loads the application configuration and the ignore files
// that keep paths out of the context walk.
package config

import (
	"bufio"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/temirov/ctxchat/internal/utils"
)

const (
	// gitDirectoryPattern represents the pattern that matches the Git directory.
	gitDirectoryPattern = utils.GitDirectoryName + "/"
	commentPrefix       = "#"
	negationPrefix      = "!"

	errorLoadIgnoreFormat = "loading %s from %s: %w"
)

// LoadIgnoreFilePatterns reads an ignore file and returns its patterns.
// Blank lines, comments and negations are skipped. A missing file yields no patterns.
//
// #nosec G304
func LoadIgnoreFilePatterns(ignoreFilePath string) ([]string, error) {
	fileHandle, openFileError := os.Open(ignoreFilePath)
	if openFileError != nil {
		if os.IsNotExist(openFileError) {
			return nil, nil
		}
		return nil, openFileError
	}
	defer fileHandle.Close()

	var ignorePatterns []string
	scanner := bufio.NewScanner(fileHandle)
	for scanner.Scan() {
		trimmedLine := strings.TrimSpace(scanner.Text())
		if trimmedLine == "" || strings.HasPrefix(trimmedLine, commentPrefix) || strings.HasPrefix(trimmedLine, negationPrefix) {
			continue
		}
		ignorePatterns = append(ignorePatterns, strings.TrimPrefix(trimmedLine, "/"))
	}
	if scanError := scanner.Err(); scanError != nil {
		return nil, scanError
	}
	return ignorePatterns, nil
}

// LoadRecursiveIgnorePatterns walks rootDirectoryPath and aggregates ignore patterns.
// Patterns from utils.IgnoreFileName and utils.GitIgnoreFileName in each nested directory are prefixed with that
// directory's path relative to rootDirectoryPath. The directory named utils.GitDirectoryName is ignored by default
// unless includeGit is true, and the state directory is never descended. The provided exclusionPatterns are appended.
// An ignore file that exists but cannot be read is skipped and reported through warn, which may be nil.
func LoadRecursiveIgnorePatterns(rootDirectoryPath string, exclusionPatterns []string, useGitignore bool, useIgnoreFile bool, includeGit bool, warn func(error)) ([]string, error) {
	var aggregatedPatterns []string
	if warn == nil {
		warn = func(error) {}
	}

	loadInto := func(currentDirectoryPath string, fileName string, prefix string) {
		patterns, loadError := LoadIgnoreFilePatterns(filepath.Join(currentDirectoryPath, fileName))
		if loadError != nil {
			warn(fmt.Errorf(errorLoadIgnoreFormat, fileName, currentDirectoryPath, loadError))
			return
		}
		for _, pattern := range patterns {
			aggregatedPatterns = append(aggregatedPatterns, prefix+pattern)
		}
	}

	walkFunction := func(currentDirectoryPath string, directoryEntry fs.DirEntry, walkError error) error {
		if walkError != nil {
			if directoryEntry != nil && directoryEntry.IsDir() && currentDirectoryPath != rootDirectoryPath {
				return filepath.SkipDir
			}
			return walkError
		}
		if !directoryEntry.IsDir() {
			return nil
		}
		if currentDirectoryPath != rootDirectoryPath {
			if directoryEntry.Name() == utils.StateDirectoryName || (!includeGit && directoryEntry.Name() == utils.GitDirectoryName) {
				return filepath.SkipDir
			}
		}

		relativeDirectory := utils.RelativePathOrSelf(currentDirectoryPath, rootDirectoryPath)
		prefix := ""
		if relativeDirectory != "." {
			prefix = relativeDirectory + "/"
		}

		if useIgnoreFile {
			loadInto(currentDirectoryPath, utils.IgnoreFileName, prefix)
		}
		if useGitignore {
			loadInto(currentDirectoryPath, utils.GitIgnoreFileName, prefix)
		}
		return nil
	}

	if walkError := filepath.WalkDir(rootDirectoryPath, walkFunction); walkError != nil {
		return nil, walkError
	}

	if !includeGit {
		aggregatedPatterns = append(aggregatedPatterns, gitDirectoryPattern)
	}

	deduplicatedPatterns := utils.DeduplicatePatterns(aggregatedPatterns)

	for _, pattern := range exclusionPatterns {
		trimmedPattern := strings.TrimSpace(pattern)
		if trimmedPattern == "" {
			continue
		}
		if !utils.ContainsString(deduplicatedPatterns, trimmedPattern) {
			deduplicatedPatterns = append(deduplicatedPatterns, trimmedPattern)
		}
	}

	return deduplicatedPatterns, nil
}
