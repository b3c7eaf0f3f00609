package fileops

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/starford/scribe/internal/apperr"
)

const tmpPrefix = ".scribe-tmp-"

var _ FileOperations = (*Local)(nil)

// Local implements FileOperations on top of an afero filesystem, usually the
// OS filesystem confined to a data directory.
type Local struct {
	fs afero.Fs
}

// NewLocal creates a Local backend rooted at the given directory.
// The directory must already exist.
func NewLocal(root string) (*Local, error) {
	abs, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("fileops: resolve root: %w", err)
	}
	info, err := os.Stat(abs)
	if err != nil {
		return nil, fmt.Errorf("fileops: stat root: %w", err)
	}
	if !info.IsDir() {
		return nil, fmt.Errorf("fileops: root is not a directory: %s", abs)
	}
	return NewLocalFs(afero.NewBasePathFs(afero.NewOsFs(), abs)), nil
}

// NewLocalFs wraps an arbitrary afero filesystem. Tests use it with
// afero.NewMemMapFs.
func NewLocalFs(fs afero.Fs) *Local {
	return &Local{fs: fs}
}

// resolve maps a logical path to a path inside the afero filesystem.
func (l *Local) resolve(p string) (string, string, error) {
	cleaned, err := cleanPath(p)
	if err != nil {
		return "", "", err
	}
	return cleaned, filepath.FromSlash("/" + cleaned), nil
}

// Read returns the raw bytes of a file.
func (l *Local) Read(_ context.Context, p string) ([]byte, error) {
	cleaned, abs, err := l.resolve(p)
	if err != nil {
		return nil, err
	}
	info, err := l.fs.Stat(abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, notFound("read", cleaned)
		}
		return nil, backendErr("stat", cleaned, err)
	}
	if info.IsDir() {
		return nil, notFound("read", cleaned)
	}
	data, err := afero.ReadFile(l.fs, abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, notFound("read", cleaned)
		}
		return nil, backendErr("read", cleaned, err)
	}
	return data, nil
}

// Write atomically writes content: tmp file → fsync → rename.
func (l *Local) Write(_ context.Context, p string, data []byte) error {
	cleaned, abs, err := l.resolve(p)
	if err != nil {
		return err
	}
	if cleaned == "" {
		return fmt.Errorf("%w: fileops: write: empty path", apperr.ErrInvalidArgument)
	}
	dir := filepath.Dir(abs)
	if err := l.fs.MkdirAll(dir, 0o755); err != nil {
		return backendErr("mkdir", cleaned, err)
	}

	tmp, err := afero.TempFile(l.fs, dir, tmpPrefix+"*")
	if err != nil {
		return backendErr("create temp", cleaned, err)
	}
	tmpName := tmp.Name()

	// Clean up on any failure path.
	success := false
	defer func() {
		if !success {
			_ = tmp.Close()
			_ = l.fs.Remove(tmpName)
		}
	}()

	if _, err := tmp.Write(data); err != nil {
		return backendErr("write temp", cleaned, err)
	}
	if err := tmp.Sync(); err != nil {
		return backendErr("fsync", cleaned, err)
	}
	if err := tmp.Close(); err != nil {
		return backendErr("close temp", cleaned, err)
	}
	if err := l.fs.Rename(tmpName, abs); err != nil {
		return backendErr("rename", cleaned, err)
	}
	success = true
	return nil
}

// List returns the names of the entries directly under p, skipping
// in-flight temp files.
func (l *Local) List(_ context.Context, p string) ([]string, error) {
	cleaned, abs, err := l.resolve(p)
	if err != nil {
		return nil, err
	}
	infos, err := afero.ReadDir(l.fs, abs)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, notFound("list", cleaned)
		}
		return nil, backendErr("list", cleaned, err)
	}
	names := make([]string, 0, len(infos))
	for _, info := range infos {
		if strings.HasPrefix(info.Name(), tmpPrefix) {
			continue
		}
		names = append(names, info.Name())
	}
	return names, nil
}

// Mkdir creates p and any missing parents.
func (l *Local) Mkdir(_ context.Context, p string) error {
	cleaned, abs, err := l.resolve(p)
	if err != nil {
		return err
	}
	if err := l.fs.MkdirAll(abs, 0o755); err != nil {
		return backendErr("mkdir", cleaned, err)
	}
	return nil
}

// RemoveAll deletes p recursively.
func (l *Local) RemoveAll(_ context.Context, p string) error {
	cleaned, abs, err := l.resolve(p)
	if err != nil {
		return err
	}
	if cleaned == "" {
		return fmt.Errorf("%w: fileops: refusing to remove root", apperr.ErrInvalidArgument)
	}
	if err := l.fs.RemoveAll(abs); err != nil {
		return backendErr("remove", cleaned, err)
	}
	return nil
}
