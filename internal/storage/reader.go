package storage

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/starford/scribe/internal/apperr"
	"github.com/starford/scribe/internal/fileops"
	"github.com/starford/scribe/internal/models"
)

// listConcurrency bounds the number of post.json reads in flight per listing.
const listConcurrency = 8

// PostReader is the read-only view of a root.
type PostReader interface {
	// ListPosts returns the metadata of every identifier under the root, in
	// backend listing order. A single unreadable entry fails the listing.
	ListPosts(ctx context.Context) ([]models.PostMetadata, error)
	// GetPost loads metadata and markdown of one identifier.
	GetPost(ctx context.Context, id string) (*models.Post, error)
	// GetMedia returns the raw bytes of a file under the identifier. It does
	// not check the name against the attachment list.
	GetMedia(ctx context.Context, id, filename string) ([]byte, error)
	// GetMediaRef returns an indirect reference (a pre-signed URL) to a
	// media file, apperr.ErrNotFound when the file does not exist, or
	// apperr.ErrUnsupported when the backend has no references.
	GetMediaRef(ctx context.Context, id, filename string) (string, error)
}

var _ PostReader = (*reader)(nil)

type reader struct {
	root string
	ops  fileops.FileOperations
}

func (r *reader) postPath(id string) string {
	return fileops.Join(r.root, id)
}

func (r *reader) ListPosts(ctx context.Context) ([]models.PostMetadata, error) {
	ids, err := r.ops.List(ctx, r.root)
	if err != nil {
		return nil, fmt.Errorf("storage: list %s: %w", r.root, err)
	}

	out := make([]models.PostMetadata, len(ids))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(listConcurrency)
	for i, id := range ids {
		g.Go(func() error {
			meta, err := r.readMetadata(gCtx, id)
			if err != nil {
				return err
			}
			out[i] = *meta
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (r *reader) GetPost(ctx context.Context, id string) (*models.Post, error) {
	if err := validateName("post id", id); err != nil {
		return nil, err
	}
	markdown, err := r.ops.Read(ctx, fileops.Join(r.postPath(id), models.MarkdownFile))
	if err != nil {
		return nil, fmt.Errorf("storage: read post %s: %w", id, err)
	}
	meta, err := r.readMetadata(ctx, id)
	if err != nil {
		return nil, err
	}
	return &models.Post{PostMetadata: *meta, Markdown: string(markdown)}, nil
}

func (r *reader) GetMedia(ctx context.Context, id, filename string) ([]byte, error) {
	if err := validateName("post id", id); err != nil {
		return nil, err
	}
	if err := validateName("filename", filename); err != nil {
		return nil, err
	}
	data, err := r.ops.Read(ctx, fileops.Join(r.postPath(id), filename))
	if err != nil {
		return nil, fmt.Errorf("storage: read media %s/%s: %w", id, filename, err)
	}
	return data, nil
}

func (r *reader) GetMediaRef(ctx context.Context, id, filename string) (string, error) {
	if err := validateName("post id", id); err != nil {
		return "", err
	}
	if err := validateName("filename", filename); err != nil {
		return "", err
	}
	resolver, ok := r.ops.(fileops.RefResolver)
	if !ok {
		return "", fmt.Errorf("%w: storage: backend has no media references", apperr.ErrUnsupported)
	}
	ref, err := resolver.Ref(ctx, fileops.Join(r.postPath(id), filename))
	if err != nil {
		return "", fmt.Errorf("storage: media ref %s/%s: %w", id, filename, err)
	}
	return ref, nil
}

func (r *reader) readMetadata(ctx context.Context, id string) (*models.PostMetadata, error) {
	p := fileops.Join(r.postPath(id), models.MetadataFile)
	data, err := r.ops.Read(ctx, p)
	if err != nil {
		return nil, fmt.Errorf("storage: read metadata %s: %w", id, err)
	}
	meta, err := decodeMetadata(data)
	if err != nil {
		return nil, fmt.Errorf("storage: %s: %w", p, err)
	}
	if meta.ID != id {
		return nil, fmt.Errorf("%w: storage: %s: id %q does not match directory", apperr.ErrDecode, p, meta.ID)
	}
	return meta, nil
}
