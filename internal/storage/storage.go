// Package storage lays published posts and drafts out on top of a
// fileops backend.
//
// Layout, per identifier under a root ("post" or "draft"):
//
//	<root>/<id>/post.json   metadata (models.PostMetadata as JSON)
//	<root>/<id>/post.md     markdown body, raw
//	<root>/<id>/<name>      one file per listed attachment
//
// Operations hold no backend-level lock. Creator views obtained from the
// same Storage share an in-process per-identifier mutex, so Save, AddMedia
// and PublishDraft on one id do not interleave within a process. Separate
// processes over the same root can still lose attachment appends.
package storage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"golang.org/x/sync/errgroup"

	"github.com/starford/scribe/internal/fileops"
)

// Root directory names.
const (
	DraftRoot = "draft"
	PostRoot  = "post"
)

// Storage owns the draft and post roots of one backend.
type Storage struct {
	ops       fileops.FileOperations
	draftRoot string
	postRoot  string
	locks     *keyedMutex
	logger    *slog.Logger

	readyMu sync.Mutex
	ready   bool
}

// Option configures a Storage.
type Option func(*Storage)

// WithLogger sets the logger used for best-effort cleanup failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Storage) {
		s.logger = l
	}
}

// New creates a Storage rooted at root inside ops. Call Ready before
// using any reader or creator.
func New(root string, ops fileops.FileOperations, opts ...Option) *Storage {
	s := &Storage{
		ops:       ops,
		draftRoot: fileops.Join(root, DraftRoot),
		postRoot:  fileops.Join(root, PostRoot),
		locks:     newKeyedMutex(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Ready ensures both roots exist. Reader and creator operations are only
// valid after Ready has returned nil; calling them earlier is a caller bug.
// A successful result is remembered; a failed one is retried on the next call.
func (s *Storage) Ready(ctx context.Context) error {
	s.readyMu.Lock()
	defer s.readyMu.Unlock()
	if s.ready {
		return nil
	}

	g, gCtx := errgroup.WithContext(ctx)
	for _, root := range []string{s.draftRoot, s.postRoot} {
		g.Go(func() error {
			return s.ops.Mkdir(gCtx, root)
		})
	}
	if err := g.Wait(); err != nil {
		return fmt.Errorf("storage: init roots: %w", err)
	}
	s.ready = true
	return nil
}

// IsReady reports whether Ready has completed successfully.
func (s *Storage) IsReady() bool {
	s.readyMu.Lock()
	defer s.readyMu.Unlock()
	return s.ready
}

// PostStorage returns a read-only view of published posts.
func (s *Storage) PostStorage() PostReader {
	return &reader{root: s.postRoot, ops: s.ops}
}

// DraftStorage returns a read-write view of drafts.
func (s *Storage) DraftStorage() PostCreator {
	return &creator{
		reader:   reader{root: s.draftRoot, ops: s.ops},
		postRoot: s.postRoot,
		locks:    s.locks,
		logger:   s.logger,
	}
}
