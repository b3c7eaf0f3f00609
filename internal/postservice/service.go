// Package postservice is the use-case layer shared by the REST and MCP
// transports. It stamps modification times, mints draft identifiers and
// reports changes to a Notifier.
package postservice

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"mime"
	"net/http"
	"path"
	"regexp"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/starford/scribe/internal/apperr"
	"github.com/starford/scribe/internal/checksum"
	"github.com/starford/scribe/internal/models"
	"github.com/starford/scribe/internal/parser"
	"github.com/starford/scribe/internal/storage"
)

// Event types emitted through the Notifier.
const (
	EventDraftSaved     = "draft.saved"
	EventDraftMedia     = "draft.media"
	EventDraftPublished = "draft.published"
)

const maxTitleLen = 300

var idRe = regexp.MustCompile(`^[a-z0-9][a-z0-9_-]*$`)

// Notifier receives content-change events.
type Notifier interface {
	PublishPostEvent(kind, id string)
}

type nopNotifier struct{}

func (nopNotifier) PublishPostEvent(string, string) {}

// Media is a stored attachment ready to be served.
type Media struct {
	Data        []byte
	ContentType string
	ETag        string
}

// CreateDraftInput describes a new draft.
type CreateDraftInput struct {
	ID           string               `json:"id,omitempty"`
	Title        string               `json:"title"`
	Markdown     string               `json:"markdown"`
	Contributors []models.Contributor `json:"contributors"`
}

// Validate checks the input with ozzo-validation.
func (in CreateDraftInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.ID, validation.Match(idRe)),
		validation.Field(&in.Title, validation.Required, validation.RuneLength(1, maxTitleLen)),
		validation.Field(&in.Contributors, validation.Each(validation.By(validateContributor))),
	)
}

// SaveDraftInput replaces the editable fields of an existing draft.
// Attachments are not part of it: they only grow through AddDraftMedia.
type SaveDraftInput struct {
	Title        string               `json:"title"`
	Markdown     string               `json:"markdown"`
	Contributors []models.Contributor `json:"contributors"`
}

// Validate checks the input with ozzo-validation.
func (in SaveDraftInput) Validate() error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Title, validation.Required, validation.RuneLength(1, maxTitleLen)),
		validation.Field(&in.Contributors, validation.Each(validation.By(validateContributor))),
	)
}

func validateContributor(v interface{}) error {
	c, ok := v.(models.Contributor)
	if !ok {
		return errors.New("must be a contributor")
	}
	return validation.ValidateStruct(&c,
		validation.Field(&c.ID, validation.Required),
		validation.Field(&c.Name, validation.Required),
	)
}

// Service coordinates the post and draft views of a Storage.
type Service struct {
	posts    storage.PostReader
	drafts   storage.PostCreator
	notifier Notifier
	logger   *slog.Logger
	now      func() time.Time
	newID    func() string
}

// Option configures a Service.
type Option func(*Service)

// WithNotifier sets the change-event sink.
func WithNotifier(n Notifier) Option {
	return func(s *Service) {
		if n != nil {
			s.notifier = n
		}
	}
}

// WithLogger sets the service logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) {
		s.logger = l
	}
}

// WithClock overrides the time source used for updatedTs.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		s.now = now
	}
}

// WithIDGenerator overrides how identifiers are minted for drafts created
// without one.
func WithIDGenerator(gen func() string) Option {
	return func(s *Service) {
		s.newID = gen
	}
}

// New creates a Service over store. Published reads go through a
// CachedReader; draft reads hit the backend directly.
func New(store *storage.Storage, opts ...Option) *Service {
	s := &Service{
		posts:    storage.NewCachedReader(store.PostStorage()),
		drafts:   store.DraftStorage(),
		notifier: nopNotifier{},
		logger:   slog.Default(),
		now:      time.Now,
		newID:    func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// ListPosts returns the metadata of every published post.
func (s *Service) ListPosts(ctx context.Context) ([]models.PostMetadata, error) {
	return s.posts.ListPosts(ctx)
}

// GetPost returns a published post.
func (s *Service) GetPost(ctx context.Context, id string) (*models.Post, error) {
	return s.posts.GetPost(ctx, id)
}

// GetPostMedia returns an attachment of a published post.
func (s *Service) GetPostMedia(ctx context.Context, id, filename string) (*Media, error) {
	data, err := s.posts.GetMedia(ctx, id, filename)
	if err != nil {
		return nil, err
	}
	return newMedia(filename, data), nil
}

// PostMediaRef returns an indirect reference to a published attachment.
func (s *Service) PostMediaRef(ctx context.Context, id, filename string) (string, error) {
	return s.posts.GetMediaRef(ctx, id, filename)
}

// ListDrafts returns the metadata of every draft.
func (s *Service) ListDrafts(ctx context.Context) ([]models.PostMetadata, error) {
	return s.drafts.ListPosts(ctx)
}

// GetDraft returns a draft.
func (s *Service) GetDraft(ctx context.Context, id string) (*models.Post, error) {
	return s.drafts.GetPost(ctx, id)
}

// GetDraftMedia returns an attachment of a draft.
func (s *Service) GetDraftMedia(ctx context.Context, id, filename string) (*Media, error) {
	data, err := s.drafts.GetMedia(ctx, id, filename)
	if err != nil {
		return nil, err
	}
	return newMedia(filename, data), nil
}

// CreateDraft saves a new draft. Without an explicit id a UUID is minted.
// An id already used by a draft fails with apperr.ErrConflict.
func (s *Service) CreateDraft(ctx context.Context, in CreateDraftInput) (*models.Post, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrInvalidArgument, err)
	}

	id := in.ID
	if id == "" {
		id = s.newID()
	} else {
		_, err := s.drafts.GetPost(ctx, id)
		switch {
		case err == nil:
			return nil, fmt.Errorf("%w: draft %s already exists", apperr.ErrConflict, id)
		case !errors.Is(err, apperr.ErrNotFound):
			return nil, err
		}
	}

	post := &models.Post{
		PostMetadata: models.PostMetadata{
			ID:           id,
			Title:        in.Title,
			Attachments:  []string{},
			Contributors: in.Contributors,
		},
		Markdown: in.Markdown,
	}
	return s.save(ctx, post)
}

// ImportDraft creates a draft from a Markdown document with optional YAML
// frontmatter (title, slug, author, contributors).
func (s *Service) ImportDraft(ctx context.Context, raw []byte) (*models.Post, error) {
	res, err := parser.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrInvalidArgument, err)
	}
	return s.CreateDraft(ctx, CreateDraftInput{
		ID:           res.Slug,
		Title:        res.Title,
		Markdown:     res.Body,
		Contributors: res.Contributors,
	})
}

// SaveDraft replaces title, markdown and contributors of an existing draft,
// keeping its stored attachments.
func (s *Service) SaveDraft(ctx context.Context, id string, in SaveDraftInput) (*models.Post, error) {
	if err := in.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %w", apperr.ErrInvalidArgument, err)
	}
	post, err := s.drafts.Update(ctx, id, func(p *models.Post) error {
		p.Title = in.Title
		p.Markdown = in.Markdown
		p.Contributors = in.Contributors
		p.UpdatedTs = s.now().UnixMilli()
		p.Normalize()
		return nil
	})
	if err != nil {
		return nil, err
	}
	s.notifier.PublishPostEvent(EventDraftSaved, id)
	return post, nil
}

// AddDraftMedia stores an attachment on a draft and returns the draft as
// it now stands.
func (s *Service) AddDraftMedia(ctx context.Context, id, filename string, data []byte) (*models.Post, error) {
	if err := s.drafts.AddMedia(ctx, id, filename, data); err != nil {
		return nil, err
	}
	s.notifier.PublishPostEvent(EventDraftMedia, id)
	return s.drafts.GetPost(ctx, id)
}

// PublishDraft moves a draft into the published root.
func (s *Service) PublishDraft(ctx context.Context, id string) (*models.Post, error) {
	if err := s.drafts.PublishDraft(ctx, id); err != nil {
		return nil, err
	}
	s.logger.Info("draft published", slog.String("id", id))
	s.notifier.PublishPostEvent(EventDraftPublished, id)
	return s.posts.GetPost(ctx, id)
}

func (s *Service) save(ctx context.Context, post *models.Post) (*models.Post, error) {
	post.UpdatedTs = s.now().UnixMilli()
	post.Normalize()
	if err := s.drafts.Save(ctx, post); err != nil {
		return nil, err
	}
	s.notifier.PublishPostEvent(EventDraftSaved, post.ID)
	return post, nil
}

func newMedia(filename string, data []byte) *Media {
	ct := mime.TypeByExtension(path.Ext(filename))
	if ct == "" {
		ct = http.DetectContentType(data)
	}
	return &Media{Data: data, ContentType: ct, ETag: checksum.ETag(data)}
}
