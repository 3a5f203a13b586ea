// Package workspace describes the filesystem capability used by the state store,
// its persistence layer and the context assembler.
package workspace

import (
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
)

const (
	directoryPermissions = 0o755
	filePermissions      = 0o644
	temporaryPattern     = ".tmp-*"

	errorCreateTemporaryFormat = "create temporary file in %s: %w"
	errorWriteTemporaryFormat  = "write temporary file %s: %w"
	errorRenameFormat          = "replace %s: %w"
)

// FileSystem lists directories, reads files and writes the state file.
type FileSystem interface {
	ReadDir(path string) ([]fs.DirEntry, error)
	ReadFile(path string) ([]byte, error)
	Stat(path string) (fs.FileInfo, error)
	MkdirAll(path string) error
	WriteFileAtomic(path string, data []byte) error
}

// OSFileSystem implements FileSystem with the local operating system.
type OSFileSystem struct{}

// NewOSFileSystem returns the operating system backed FileSystem.
func NewOSFileSystem() OSFileSystem {
	return OSFileSystem{}
}

// ReadDir returns the entries of a directory sorted by name.
func (OSFileSystem) ReadDir(path string) ([]fs.DirEntry, error) {
	return os.ReadDir(path)
}

// ReadFile returns the bytes of a file.
//
// #nosec G304
func (OSFileSystem) ReadFile(path string) ([]byte, error) {
	return os.ReadFile(path)
}

// Stat follows symlinks.
func (OSFileSystem) Stat(path string) (fs.FileInfo, error) {
	return os.Stat(path)
}

// MkdirAll creates the directory and any missing parents.
func (OSFileSystem) MkdirAll(path string) error {
	return os.MkdirAll(path, directoryPermissions)
}

// WriteFileAtomic writes data to a temporary sibling and renames it over path,
// so readers never observe a half-written file.
func (OSFileSystem) WriteFileAtomic(path string, data []byte) error {
	directory := filepath.Dir(path)
	temporaryFile, createErr := os.CreateTemp(directory, temporaryPattern)
	if createErr != nil {
		return fmt.Errorf(errorCreateTemporaryFormat, directory, createErr)
	}
	temporaryName := temporaryFile.Name()
	cleanup := func() {
		_ = temporaryFile.Close()
		_ = os.Remove(temporaryName)
	}
	if _, writeErr := temporaryFile.Write(data); writeErr != nil {
		cleanup()
		return fmt.Errorf(errorWriteTemporaryFormat, temporaryName, writeErr)
	}
	if syncErr := temporaryFile.Sync(); syncErr != nil {
		cleanup()
		return fmt.Errorf(errorWriteTemporaryFormat, temporaryName, syncErr)
	}
	if closeErr := temporaryFile.Close(); closeErr != nil {
		_ = os.Remove(temporaryName)
		return fmt.Errorf(errorWriteTemporaryFormat, temporaryName, closeErr)
	}
	if chmodErr := os.Chmod(temporaryName, filePermissions); chmodErr != nil {
		_ = os.Remove(temporaryName)
		return fmt.Errorf(errorWriteTemporaryFormat, temporaryName, chmodErr)
	}
	if renameErr := os.Rename(temporaryName, path); renameErr != nil {
		_ = os.Remove(temporaryName)
		return fmt.Errorf(errorRenameFormat, path, renameErr)
	}
	return nil
}

var _ FileSystem = OSFileSystem{}
