// Package fileops defines the narrow file-operation contract the post
// storage is built on, with local-disk, object-storage and SQLite backends.
//
// Paths are logical: forward-slash separated and relative to the backend
// root. Backends carry no post or draft semantics.
package fileops

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/starford/scribe/internal/apperr"
)

// FileOperations is the interface every storage backend implements.
type FileOperations interface {
	// Read returns the full contents of the file at p. It fails with
	// apperr.ErrNotFound when nothing (or a directory) is stored there.
	Read(ctx context.Context, p string) ([]byte, error)
	// Write creates or replaces the file at p. Readers never observe a
	// partially written file. Missing parent directories are created.
	Write(ctx context.Context, p string, data []byte) error
	// List returns the names of the immediate children of the directory p.
	// An empty existing directory yields an empty slice, not an error.
	List(ctx context.Context, p string) ([]string, error)
	// Mkdir ensures the directory p and its parents exist. It is idempotent.
	Mkdir(ctx context.Context, p string) error
	// RemoveAll deletes p and everything below it. Removing a missing path
	// is not an error.
	RemoveAll(ctx context.Context, p string) error
}

// RefResolver is optionally implemented by backends that can hand out an
// indirect reference to a file, such as a pre-signed URL.
type RefResolver interface {
	Ref(ctx context.Context, p string) (string, error)
}

// Join joins logical path segments.
func Join(elem ...string) string {
	p := path.Join(elem...)
	if p == "." {
		return ""
	}
	return p
}

// cleanPath normalises a logical path and rejects anything that would
// resolve outside the backend root. The root itself is "".
func cleanPath(p string) (string, error) {
	if strings.Contains(p, `\`) {
		return "", fmt.Errorf("%w: fileops: backslash in path: %s", apperr.ErrInvalidArgument, p)
	}
	if path.IsAbs(p) {
		return "", fmt.Errorf("%w: fileops: absolute paths not allowed: %s", apperr.ErrInvalidArgument, p)
	}
	cleaned := path.Clean(p)
	if cleaned == "." {
		return "", nil
	}
	if cleaned == ".." || strings.HasPrefix(cleaned, "../") {
		return "", fmt.Errorf("%w: fileops: path escapes root: %s", apperr.ErrInvalidArgument, p)
	}
	return cleaned, nil
}

func backendErr(op, p string, err error) error {
	return fmt.Errorf("%w: fileops: %s %s: %w", apperr.ErrBackend, op, p, err)
}

func notFound(op, p string) error {
	return fmt.Errorf("%w: fileops: %s %s", apperr.ErrNotFound, op, p)
}
