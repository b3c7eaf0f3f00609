package storage

import (
	"bytes"
	"context"
	"fmt"

	"golang.org/x/sync/singleflight"

	"github.com/starford/scribe/internal/apperr"
	"github.com/starford/scribe/internal/models"
)

// CachedReader collapses concurrent identical reads into one backend call.
// Nothing is kept once the call returns, success or failure, so the next
// read goes to the backend again. Each caller gets its own copy of the result.
//
// The shared call keeps the first caller's context values but not its
// cancellation; a caller whose context ends stops waiting without failing
// the others.
type CachedReader struct {
	next  PostReader
	group singleflight.Group
}

var _ PostReader = (*CachedReader)(nil)

// NewCachedReader wraps next.
func NewCachedReader(next PostReader) *CachedReader {
	return &CachedReader{next: next}
}

func (c *CachedReader) ListPosts(ctx context.Context) ([]models.PostMetadata, error) {
	v, err := c.do(ctx, "posts", func(ctx context.Context) (any, error) {
		return c.next.ListPosts(ctx)
	})
	if err != nil {
		return nil, err
	}
	metas := v.([]models.PostMetadata)
	out := make([]models.PostMetadata, len(metas))
	for i, m := range metas {
		out[i] = m.Clone()
	}
	return out, nil
}

func (c *CachedReader) GetPost(ctx context.Context, id string) (*models.Post, error) {
	v, err := c.do(ctx, "post:"+id, func(ctx context.Context) (any, error) {
		return c.next.GetPost(ctx, id)
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Post).Clone(), nil
}

func (c *CachedReader) GetMedia(ctx context.Context, id, filename string) ([]byte, error) {
	v, err := c.do(ctx, "media:"+id+"/"+filename, func(ctx context.Context) (any, error) {
		return c.next.GetMedia(ctx, id, filename)
	})
	if err != nil {
		return nil, err
	}
	return bytes.Clone(v.([]byte)), nil
}

func (c *CachedReader) GetMediaRef(ctx context.Context, id, filename string) (string, error) {
	return c.next.GetMediaRef(ctx, id, filename)
}

func (c *CachedReader) do(ctx context.Context, key string, fn func(context.Context) (any, error)) (any, error) {
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(key, func() (any, error) {
		return fn(shared)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, fmt.Errorf("%w: storage: %w", apperr.ErrBackend, ctx.Err())
	}
}
