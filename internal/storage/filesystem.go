package storage

import (
	"context"
	"fmt"
	"io"
	"mime"
	"os"
	"path/filepath"
	"strings"
)

// Workspace is the local directory holding downloaded media while a job
// runs. Keys are paths relative to the base directory.
type Workspace struct {
	baseDir string
}

// NewWorkspace creates the base directory if needed
func NewWorkspace(baseDir string) (*Workspace, error) {
	abs, err := filepath.Abs(baseDir)
	if err != nil {
		return nil, fmt.Errorf("resolve base directory: %w", err)
	}
	if err := os.MkdirAll(abs, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create base directory: %w", err)
	}
	return &Workspace{baseDir: abs}, nil
}

// Dir returns the base directory
func (w *Workspace) Dir() string {
	return w.baseDir
}

// Path resolves key to a path inside the workspace
func (w *Workspace) Path(key string) (string, error) {
	path := key
	if !filepath.IsAbs(path) {
		path = filepath.Join(w.baseDir, key)
	}
	path = filepath.Clean(path)

	rel, err := filepath.Rel(w.baseDir, path)
	if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
		return "", fmt.Errorf("invalid key %q: path traversal detected", key)
	}
	return path, nil
}

// GetReader opens the file at key
func (w *Workspace) GetReader(ctx context.Context, key string) (io.ReadCloser, error) {
	path, err := w.Path(key)
	if err != nil {
		return nil, err
	}

	file, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to open file: %w", err)
	}
	return file, nil
}

// Exists checks if a file exists at key
func (w *Workspace) Exists(ctx context.Context, key string) (bool, error) {
	path, err := w.Path(key)
	if err != nil {
		return false, err
	}

	_, err = os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return false, nil
		}
		return false, fmt.Errorf("failed to stat file: %w", err)
	}
	return true, nil
}

// GetMetadata returns size and extension-derived content type of key
func (w *Workspace) GetMetadata(ctx context.Context, key string) (*Metadata, error) {
	path, err := w.Path(key)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("%w: %s", ErrNotFound, key)
		}
		return nil, fmt.Errorf("failed to stat file: %w", err)
	}

	return &Metadata{
		Size:        info.Size(),
		ContentType: mime.TypeByExtension(filepath.Ext(path)),
	}, nil
}

// Remove deletes the files at keys. Missing files are ignored.
func (w *Workspace) Remove(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		if key == "" {
			continue
		}
		path, err := w.Path(key)
		if err != nil {
			return err
		}
		if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("remove %s: %w", key, err)
		}
	}
	return nil
}
