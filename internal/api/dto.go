package api

import (
	"github.com/starford/scribe/internal/models"
	"github.com/starford/scribe/internal/postservice"
)

// CreateDraftRequest is the request body for creating a draft.
type CreateDraftRequest = postservice.CreateDraftInput

// SaveDraftRequest is the request body for replacing a draft's content.
type SaveDraftRequest = postservice.SaveDraftInput

// Post is the full post response type (aliased from the domain layer).
type Post = models.Post

// PostMetadata is a listing item (aliased from the domain layer).
type PostMetadata = models.PostMetadata

// PostListResponse wraps post and draft listings.
type PostListResponse struct {
	Posts []PostMetadata `json:"posts" validate:"required"`
}

// MediaRefResponse carries an indirect reference to a media file.
type MediaRefResponse struct {
	URL string `json:"url" example:"https://bucket.s3.amazonaws.com/post/hello/cover.png?X-Amz-Signature=..." validate:"required"`
}

// MediaUploadResponse is returned after a successful media upload.
type MediaUploadResponse struct {
	Filename    string   `json:"filename" example:"cover.png" validate:"required"`
	Size        int64    `json:"size" example:"12345" validate:"required"`
	Attachments []string `json:"attachments" validate:"required"`
}
