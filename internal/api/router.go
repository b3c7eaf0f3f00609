package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/scribe/internal/postservice"
)

// NewRouter creates a chi router with all API routes mounted.
// Published posts are public; drafts and the event stream sit behind the
// Bearer token when authEnabled is set. sseHandler, if non-nil, is mounted
// at GET /events.
func NewRouter(svc *postservice.Service, authEnabled bool, token string, sseHandler http.Handler) chi.Router {
	h := NewHandler(svc)

	r := chi.NewRouter()

	// Published posts.
	r.Get("/posts", h.ListPosts)
	r.Get("/posts/{id}", h.GetPost)
	r.Get("/posts/{id}/media/{filename}", h.GetPostMedia)
	r.Get("/posts/{id}/media/{filename}/ref", h.PostMediaRef)

	r.Group(func(r chi.Router) {
		r.Use(AuthMiddleware(authEnabled, token))

		// Drafts.
		r.Get("/drafts", h.ListDrafts)
		r.Post("/drafts", h.CreateDraft)
		r.Post("/drafts/import", h.ImportDraft)
		r.Get("/drafts/{id}", h.GetDraft)
		r.Put("/drafts/{id}", h.SaveDraft)
		r.Post("/drafts/{id}/media", h.UploadDraftMedia)
		r.Get("/drafts/{id}/media/{filename}", h.GetDraftMedia)
		r.Post("/drafts/{id}/publish", h.PublishDraft)

		if sseHandler != nil {
			r.Get("/events", sseHandler.ServeHTTP)
		}
	})

	return r
}
