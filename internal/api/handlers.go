package api

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/starford/scribe/internal/checksum"
	"github.com/starford/scribe/internal/postservice"
)

const (
	maxBodyBytes   = 10 << 20 // 10 MB
	maxUploadBytes = 50 << 20 // 50 MB
)

// Handler holds API route handlers.
type Handler struct {
	svc *postservice.Service
}

// NewHandler creates a new Handler.
func NewHandler(svc *postservice.Service) *Handler {
	return &Handler{svc: svc}
}

// urlParam returns a decoded chi route parameter. chi matches on RawPath
// when the request has one, and only then are parameters still escaped.
func urlParam(r *http.Request, key string) string {
	raw := chi.URLParam(r, key)
	if r.URL.RawPath == "" {
		return raw
	}
	decoded, err := url.PathUnescape(raw)
	if err != nil {
		return raw
	}
	return decoded
}

// ListPosts handles GET /api/posts.
//
//	@Summary		List published posts
//	@Tags			posts
//	@Produce		json
//	@Success		200	{object}	PostListResponse
//	@Router			/posts [get]
func (h *Handler) ListPosts(w http.ResponseWriter, r *http.Request) {
	posts, err := h.svc.ListPosts(r.Context())
	if err != nil {
		writeError(w, err, "list posts")
		return
	}
	writeJSON(w, http.StatusOK, PostListResponse{Posts: posts})
}

// GetPost handles GET /api/posts/{id}.
//
//	@Summary		Get a published post
//	@Tags			posts
//	@Produce		json
//	@Param			id	path		string	true	"Post id"
//	@Success		200	{object}	Post
//	@Failure		404	{object}	errResponse
//	@Router			/posts/{id} [get]
func (h *Handler) GetPost(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	post, err := h.svc.GetPost(r.Context(), id)
	if err != nil {
		writeError(w, err, "get post", slog.String("id", id))
		return
	}
	writeJSON(w, http.StatusOK, post)
}

// GetPostMedia handles GET /api/posts/{id}/media/{filename}.
//
//	@Summary		Download a media file of a published post
//	@Tags			posts
//	@Param			id			path	string	true	"Post id"
//	@Param			filename	path	string	true	"Media file name"
//	@Success		200
//	@Success		304
//	@Failure		404	{object}	errResponse
//	@Router			/posts/{id}/media/{filename} [get]
func (h *Handler) GetPostMedia(w http.ResponseWriter, r *http.Request) {
	id, filename := urlParam(r, "id"), urlParam(r, "filename")
	media, err := h.svc.GetPostMedia(r.Context(), id, filename)
	if err != nil {
		writeError(w, err, "get post media", slog.String("id", id), slog.String("filename", filename))
		return
	}
	writeMedia(w, r, media, "public, max-age=300")
}

// PostMediaRef handles GET /api/posts/{id}/media/{filename}/ref.
//
//	@Summary		Get a pre-signed URL for a media file of a published post
//	@Tags			posts
//	@Produce		json
//	@Param			id			path		string	true	"Post id"
//	@Param			filename	path		string	true	"Media file name"
//	@Success		200			{object}	MediaRefResponse
//	@Failure		501			{object}	errResponse
//	@Router			/posts/{id}/media/{filename}/ref [get]
func (h *Handler) PostMediaRef(w http.ResponseWriter, r *http.Request) {
	id, filename := urlParam(r, "id"), urlParam(r, "filename")
	ref, err := h.svc.PostMediaRef(r.Context(), id, filename)
	if err != nil {
		writeError(w, err, "post media ref", slog.String("id", id), slog.String("filename", filename))
		return
	}
	writeJSON(w, http.StatusOK, MediaRefResponse{URL: ref})
}

// ListDrafts handles GET /api/drafts.
//
//	@Summary		List drafts
//	@Tags			drafts
//	@Produce		json
//	@Success		200	{object}	PostListResponse
//	@Security		BearerAuth
//	@Router			/drafts [get]
func (h *Handler) ListDrafts(w http.ResponseWriter, r *http.Request) {
	drafts, err := h.svc.ListDrafts(r.Context())
	if err != nil {
		writeError(w, err, "list drafts")
		return
	}
	writeJSON(w, http.StatusOK, PostListResponse{Posts: drafts})
}

// GetDraft handles GET /api/drafts/{id}.
func (h *Handler) GetDraft(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	draft, err := h.svc.GetDraft(r.Context(), id)
	if err != nil {
		writeError(w, err, "get draft", slog.String("id", id))
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// CreateDraft handles POST /api/drafts.
//
//	@Summary		Create a new draft
//	@Tags			drafts
//	@Accept			json
//	@Produce		json
//	@Param			body	body		CreateDraftRequest	true	"Draft to create"
//	@Success		201		{object}	Post
//	@Failure		400		{object}	errResponse
//	@Failure		409		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/drafts [post]
func (h *Handler) CreateDraft(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	var req CreateDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	draft, err := h.svc.CreateDraft(r.Context(), req)
	if err != nil {
		writeError(w, err, "create draft")
		return
	}
	writeJSON(w, http.StatusCreated, draft)
}

// ImportDraft handles POST /api/drafts/import. The body is a raw Markdown
// document with optional YAML frontmatter.
//
//	@Summary		Create a draft from Markdown with frontmatter
//	@Tags			drafts
//	@Accept			plain
//	@Produce		json
//	@Success		201	{object}	Post
//	@Failure		400	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/drafts/import [post]
func (h *Handler) ImportDraft(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read body"))
		return
	}
	draft, err := h.svc.ImportDraft(r.Context(), raw)
	if err != nil {
		writeError(w, err, "import draft")
		return
	}
	writeJSON(w, http.StatusCreated, draft)
}

// SaveDraft handles PUT /api/drafts/{id}.
//
//	@Summary		Replace a draft's title, body and contributors
//	@Tags			drafts
//	@Accept			json
//	@Produce		json
//	@Param			id		path		string				true	"Draft id"
//	@Param			body	body		SaveDraftRequest	true	"New content"
//	@Success		200		{object}	Post
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/drafts/{id} [put]
func (h *Handler) SaveDraft(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	id := urlParam(r, "id")
	var req SaveDraftRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	draft, err := h.svc.SaveDraft(r.Context(), id, req)
	if err != nil {
		writeError(w, err, "save draft", slog.String("id", id))
		return
	}
	writeJSON(w, http.StatusOK, draft)
}

// UploadDraftMedia handles POST /api/drafts/{id}/media (multipart/form-data, field "file").
//
//	@Summary		Attach a media file to a draft
//	@Tags			drafts
//	@Accept			mpfd
//	@Produce		json
//	@Param			id		path		string	true	"Draft id"
//	@Param			file	formData	file	true	"Media file"
//	@Success		201		{object}	MediaUploadResponse
//	@Failure		400		{object}	errResponse
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/drafts/{id}/media [post]
func (h *Handler) UploadDraftMedia(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'file' field in multipart form"))
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read file"))
		return
	}

	draft, err := h.svc.AddDraftMedia(r.Context(), id, header.Filename, data)
	if err != nil {
		writeError(w, err, "upload draft media", slog.String("id", id), slog.String("filename", header.Filename))
		return
	}
	writeJSON(w, http.StatusCreated, MediaUploadResponse{
		Filename:    header.Filename,
		Size:        int64(len(data)),
		Attachments: draft.Attachments,
	})
}

// GetDraftMedia handles GET /api/drafts/{id}/media/{filename}.
func (h *Handler) GetDraftMedia(w http.ResponseWriter, r *http.Request) {
	id, filename := urlParam(r, "id"), urlParam(r, "filename")
	media, err := h.svc.GetDraftMedia(r.Context(), id, filename)
	if err != nil {
		writeError(w, err, "get draft media", slog.String("id", id), slog.String("filename", filename))
		return
	}
	writeMedia(w, r, media, "no-cache")
}

// PublishDraft handles POST /api/drafts/{id}/publish.
//
//	@Summary		Publish a draft
//	@Tags			drafts
//	@Produce		json
//	@Param			id	path		string	true	"Draft id"
//	@Success		200	{object}	Post
//	@Failure		404	{object}	errResponse
//	@Failure		409	{object}	errResponse
//	@Security		BearerAuth
//	@Router			/drafts/{id}/publish [post]
func (h *Handler) PublishDraft(w http.ResponseWriter, r *http.Request) {
	id := urlParam(r, "id")
	post, err := h.svc.PublishDraft(r.Context(), id)
	if err != nil {
		writeError(w, err, "publish draft", slog.String("id", id))
		return
	}
	writeJSON(w, http.StatusOK, post)
}

func writeMedia(w http.ResponseWriter, r *http.Request, media *postservice.Media, cacheControl string) {
	w.Header().Set("ETag", media.ETag)
	w.Header().Set("Cache-Control", cacheControl)
	if checksum.Match(r.Header.Get("If-None-Match"), media.ETag) {
		w.WriteHeader(http.StatusNotModified)
		return
	}
	w.Header().Set("Content-Type", media.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(media.Data)))
	w.Header().Set("X-Content-Type-Options", "nosniff")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(media.Data)
}
