// Package testutil provides shared test helpers for building backends and
// ready-to-use storages.
package testutil

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/spf13/afero"

	"github.com/starford/scribe/internal/fileops"
	"github.com/starford/scribe/internal/fileops/fileopstest"
	"github.com/starford/scribe/internal/storage"
)

// Backends returns a constructor per fileops backend, each producing an
// isolated, empty backend that is cleaned up with the test.
func Backends() map[string]func(t *testing.T) fileops.FileOperations {
	return map[string]func(t *testing.T) fileops.FileOperations{
		"local": func(t *testing.T) fileops.FileOperations {
			t.Helper()
			l, err := fileops.NewLocal(t.TempDir())
			if err != nil {
				t.Fatal(err)
			}
			return l
		},
		"memory": func(t *testing.T) fileops.FileOperations {
			return fileops.NewLocalFs(afero.NewBasePathFs(afero.NewMemMapFs(), "/data"))
		},
		"object": func(t *testing.T) fileops.FileOperations {
			return fileops.NewObject(fileopstest.NewS3(), "blog")
		},
		"sqlite": func(t *testing.T) fileops.FileOperations {
			t.Helper()
			db, err := fileops.OpenSQLite(filepath.Join(t.TempDir(), "scribe.db"))
			if err != nil {
				t.Fatal(err)
			}
			t.Cleanup(func() { db.Close() })
			return db
		},
	}
}

// MemoryOps returns an in-memory backend.
func MemoryOps() fileops.FileOperations {
	return fileops.NewLocalFs(afero.NewBasePathFs(afero.NewMemMapFs(), "/data"))
}

// TestStorage returns a Storage over ops whose roots are already created.
func TestStorage(t *testing.T, ops fileops.FileOperations) *storage.Storage {
	t.Helper()
	s := storage.New("", ops)
	if err := s.Ready(context.Background()); err != nil {
		t.Fatalf("Ready: %v", err)
	}
	return s
}

// ErrInjected is returned by Faulty for matching operations.
var ErrInjected = errors.New("injected failure")

// Faulty wraps a backend and fails writes or reads whose path contains a
// configured substring.
type Faulty struct {
	fileops.FileOperations

	mu        sync.Mutex
	failWrite string
	failRead  string
}

// NewFaulty wraps ops.
func NewFaulty(ops fileops.FileOperations) *Faulty {
	return &Faulty{FileOperations: ops}
}

// FailWrites makes Write fail for paths containing substr ("" disables).
func (f *Faulty) FailWrites(substr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failWrite = substr
}

// FailReads makes Read fail for paths containing substr ("" disables).
func (f *Faulty) FailReads(substr string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failRead = substr
}

func (f *Faulty) Read(ctx context.Context, p string) ([]byte, error) {
	f.mu.Lock()
	fail := f.failRead != "" && strings.Contains(p, f.failRead)
	f.mu.Unlock()
	if fail {
		return nil, ErrInjected
	}
	return f.FileOperations.Read(ctx, p)
}

func (f *Faulty) Write(ctx context.Context, p string, data []byte) error {
	f.mu.Lock()
	fail := f.failWrite != "" && strings.Contains(p, f.failWrite)
	f.mu.Unlock()
	if fail {
		return ErrInjected
	}
	return f.FileOperations.Write(ctx, p, data)
}

// Gate wraps a backend and parks the first Read of an armed path until
// Release is called. Tests use it to interleave two operations.
type Gate struct {
	fileops.FileOperations

	mu      sync.Mutex
	path    string
	reached chan struct{}
	release chan struct{}
}

// NewGate wraps ops.
func NewGate(ops fileops.FileOperations) *Gate {
	return &Gate{FileOperations: ops}
}

// Arm parks the next Read of p. The returned channel is closed once a
// reader is parked.
func (g *Gate) Arm(p string) <-chan struct{} {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.path = p
	g.reached = make(chan struct{})
	g.release = make(chan struct{})
	return g.reached
}

// Release lets the parked Read continue.
func (g *Gate) Release() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.release != nil {
		close(g.release)
		g.release = nil
	}
}

func (g *Gate) Read(ctx context.Context, p string) ([]byte, error) {
	g.mu.Lock()
	var release chan struct{}
	if g.path != "" && p == g.path {
		g.path = ""
		release = g.release
		close(g.reached)
	}
	g.mu.Unlock()
	if release != nil {
		<-release
	}
	return g.FileOperations.Read(ctx, p)
}
