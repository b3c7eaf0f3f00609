package storage

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"

	"github.com/starford/scribe/internal/apperr"
	"github.com/starford/scribe/internal/fileops"
	"github.com/starford/scribe/internal/models"
)

// PostCreator is the read-write view of the draft root.
type PostCreator interface {
	PostReader
	// AddMedia stores data as filename under the draft and lists it in the
	// draft's attachments. The draft must have been saved first.
	AddMedia(ctx context.Context, id, filename string, data []byte) error
	// Save writes post.json, then post.md. The two writes are not atomic
	// as a pair: a failure in between leaves the new metadata next to the
	// previous (or no) body.
	Save(ctx context.Context, post *models.Post) error
	// Update reads the stored draft, applies fn and saves the result while
	// holding the identifier's lock. The attachment list stays as stored;
	// only AddMedia changes it.
	Update(ctx context.Context, id string, fn func(*models.Post) error) (*models.Post, error)
	// PublishDraft moves a draft into the post root. It fails with
	// apperr.ErrConflict when the identifier is already published.
	PublishDraft(ctx context.Context, id string) error
}

var _ PostCreator = (*creator)(nil)

type creator struct {
	reader
	postRoot string
	locks    *keyedMutex
	logger   *slog.Logger
}

func (c *creator) Save(ctx context.Context, post *models.Post) error {
	if post == nil {
		return fmt.Errorf("%w: post is required", apperr.ErrInvalidArgument)
	}
	if err := validateName("post id", post.ID); err != nil {
		return err
	}
	if err := validateAttachments(post.Attachments); err != nil {
		return err
	}

	unlock := c.locks.Lock(post.ID)
	defer unlock()

	return c.save(ctx, post)
}

func (c *creator) Update(ctx context.Context, id string, fn func(*models.Post) error) (*models.Post, error) {
	if err := validateName("post id", id); err != nil {
		return nil, err
	}

	unlock := c.locks.Lock(id)
	defer unlock()

	post, err := c.GetPost(ctx, id)
	if err != nil {
		return nil, err
	}
	attachments := slices.Clone(post.Attachments)
	if err := fn(post); err != nil {
		return nil, err
	}
	post.ID = id
	post.Attachments = attachments
	if err := c.save(ctx, post); err != nil {
		return nil, err
	}
	return post, nil
}

// save writes the post; the caller holds the identifier's lock.
func (c *creator) save(ctx context.Context, post *models.Post) error {
	published, err := c.isPublished(ctx, post.ID)
	if err != nil {
		return err
	}
	if published {
		return fmt.Errorf("%w: storage: post %s is already published", apperr.ErrConflict, post.ID)
	}

	meta, err := encodeMetadata(post.PostMetadata)
	if err != nil {
		return err
	}
	dir := c.postPath(post.ID)
	if err := c.ops.Mkdir(ctx, dir); err != nil {
		return fmt.Errorf("storage: save %s: %w", post.ID, err)
	}
	if err := c.ops.Write(ctx, fileops.Join(dir, models.MetadataFile), meta); err != nil {
		return fmt.Errorf("storage: save %s metadata: %w", post.ID, err)
	}
	if err := c.ops.Write(ctx, fileops.Join(dir, models.MarkdownFile), []byte(post.Markdown)); err != nil {
		return fmt.Errorf("storage: save %s body: %w", post.ID, err)
	}
	return nil
}

// validateAttachments checks every listed name the way AddMedia checks the
// one it stores, since PublishDraft later joins them onto the draft path.
func validateAttachments(names []string) error {
	for _, name := range names {
		if err := validateName("attachment", name); err != nil {
			return err
		}
		if models.IsReservedName(name) {
			return fmt.Errorf("%w: attachment %q uses a reserved name", apperr.ErrInvalidArgument, name)
		}
	}
	return nil
}

func (c *creator) AddMedia(ctx context.Context, id, filename string, data []byte) error {
	if models.IsReservedName(filename) {
		return fmt.Errorf("%w: %q is reserved for the post itself", apperr.ErrInvalidArgument, filename)
	}
	if err := validateName("post id", id); err != nil {
		return err
	}
	if err := validateName("filename", filename); err != nil {
		return err
	}

	unlock := c.locks.Lock(id)
	defer unlock()

	meta, err := c.readMetadata(ctx, id)
	if err != nil {
		return err
	}
	dir := c.postPath(id)
	if err := c.ops.Write(ctx, fileops.Join(dir, filename), data); err != nil {
		return fmt.Errorf("storage: write media %s/%s: %w", id, filename, err)
	}
	if meta.HasAttachment(filename) {
		return nil
	}
	meta.Attachments = append(meta.Attachments, filename)
	encoded, err := encodeMetadata(*meta)
	if err != nil {
		return err
	}
	if err := c.ops.Write(ctx, fileops.Join(dir, models.MetadataFile), encoded); err != nil {
		return fmt.Errorf("storage: update %s metadata: %w", id, err)
	}
	return nil
}

// PublishDraft copies the draft's attachments, body and finally metadata
// into the post root, then removes the draft. A failed copy removes the
// partial destination so the post root never holds a half-published post.
func (c *creator) PublishDraft(ctx context.Context, id string) error {
	if err := validateName("post id", id); err != nil {
		return err
	}

	unlock := c.locks.Lock(id)
	defer unlock()

	meta, err := c.readMetadata(ctx, id)
	if err != nil {
		return err
	}
	published, err := c.isPublished(ctx, id)
	if err != nil {
		return err
	}
	if published {
		return fmt.Errorf("%w: storage: post %s is already published", apperr.ErrConflict, id)
	}

	src := c.postPath(id)
	dst := fileops.Join(c.postRoot, id)
	files := append(slices.Clone(meta.Attachments), models.MarkdownFile, models.MetadataFile)

	if err := c.copyFiles(ctx, src, dst, files); err != nil {
		if cleanupErr := c.ops.RemoveAll(ctx, dst); cleanupErr != nil {
			c.logger.Warn("publish: cleanup of partial post failed",
				slog.String("id", id),
				slog.String("error", cleanupErr.Error()))
		}
		return fmt.Errorf("storage: publish %s: %w", id, err)
	}

	if err := c.ops.RemoveAll(ctx, src); err != nil {
		return fmt.Errorf("storage: publish %s: remove draft: %w", id, err)
	}
	return nil
}

func (c *creator) copyFiles(ctx context.Context, src, dst string, files []string) error {
	if err := c.ops.Mkdir(ctx, dst); err != nil {
		return err
	}
	for _, name := range files {
		data, err := c.ops.Read(ctx, fileops.Join(src, name))
		if err != nil {
			return fmt.Errorf("copy %s: %w", name, err)
		}
		if err := c.ops.Write(ctx, fileops.Join(dst, name), data); err != nil {
			return fmt.Errorf("copy %s: %w", name, err)
		}
	}
	return nil
}

// isPublished reports whether id already has a directory in the post root.
func (c *creator) isPublished(ctx context.Context, id string) (bool, error) {
	ids, err := c.ops.List(ctx, c.postRoot)
	if errors.Is(err, apperr.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("storage: list %s: %w", c.postRoot, err)
	}
	return slices.Contains(ids, id), nil
}
