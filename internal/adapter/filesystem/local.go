// Package filesystem implements domain.FileSystem over the local disk.
package filesystem

import (
	"io"
	"os"
	"path/filepath"

	"tg-archiver/internal/domain"
)

// LocalFileSystem is the on-disk implementation of domain.FileSystem.
type LocalFileSystem struct{}

// NewLocalFileSystem constructs a LocalFileSystem.
func NewLocalFileSystem() *LocalFileSystem {
	return &LocalFileSystem{}
}

// EnsureDir creates path and any missing parents.
func (l *LocalFileSystem) EnsureDir(path string) error {
	if err := os.MkdirAll(path, 0755); err != nil {
		return &domain.FilesystemError{Path: path, Fatal: true, Err: err}
	}
	return nil
}

// CreateFile truncates and opens path for writing, creating parent
// directories as needed.
func (l *LocalFileSystem) CreateFile(path string) (io.WriteCloser, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, &domain.FilesystemError{Path: path, Err: err}
	}
	f, err := os.Create(path)
	if err != nil {
		return nil, &domain.FilesystemError{Path: path, Err: err}
	}
	return f, nil
}

// DeleteFile removes path, treating an already-absent file as success (the
// fetcher calls this on its own cleanup-after-error path, which can race a
// caller that already removed the same partial file).
func (l *LocalFileSystem) DeleteFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return &domain.FilesystemError{Path: path, Err: err}
	}
	return nil
}

// AppendLine appends line to path, creating the file and its parent
// directory if absent.
func (l *LocalFileSystem) AppendLine(path string, line string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return &domain.FilesystemError{Path: path, Err: err}
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return &domain.FilesystemError{Path: path, Err: err}
	}
	defer f.Close()

	if _, err := f.WriteString(line); err != nil {
		return &domain.FilesystemError{Path: path, Err: err}
	}
	return nil
}

// Stat reports a file's size and existence without erroring on absence.
func (l *LocalFileSystem) Stat(path string) (int64, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, false
	}
	return info.Size(), true
}
