// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes Scribe posts and drafts to LLM clients via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/scribe/internal/postservice"
)

const postFormatURI = "scribe://post-format"

// Server wraps the MCP server with Scribe tools.
type Server struct {
	mcp   *server.MCPServer
	svc   *postservice.Service
	fetch *http.Client
}

// New creates a new MCP server with all Scribe tools registered.
func New(svc *postservice.Service, version string) *Server {
	s := &Server{svc: svc, fetch: newFetchClient()}

	s.mcp = server.NewMCPServer(
		"Scribe",
		version,
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_posts",
		mcp.WithDescription("List the metadata of all published posts."),
	), s.listPosts)

	s.mcp.AddTool(mcp.NewTool("read_post",
		mcp.WithDescription("Read a published post: metadata and Markdown body."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Post id")),
	), s.readPost)

	s.mcp.AddTool(mcp.NewTool("list_drafts",
		mcp.WithDescription("List the metadata of all drafts."),
	), s.listDrafts)

	s.mcp.AddTool(mcp.NewTool("read_draft",
		mcp.WithDescription("Read a draft: metadata and Markdown body."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Draft id")),
	), s.readDraft)

	s.mcp.AddTool(mcp.NewTool("create_draft",
		mcp.WithDescription("Create a new draft. Read the format first via get_post_format "+
			"or the "+postFormatURI+" resource."),
		mcp.WithString("title", mcp.Required(), mcp.Description("Post title")),
		mcp.WithString("markdown", mcp.Description("Markdown body")),
		mcp.WithString("id", mcp.Description("Optional id (lowercase, digits, - and _)")),
	), s.createDraft)

	s.mcp.AddTool(mcp.NewTool("import_draft",
		mcp.WithDescription("Create a draft from a Markdown document with YAML frontmatter "+
			"(title, slug, author, contributors)."),
		mcp.WithString("content", mcp.Required(), mcp.Description("Full Markdown document")),
	), s.importDraft)

	s.mcp.AddTool(mcp.NewTool("save_draft",
		mcp.WithDescription("Replace the title and body of an existing draft. Attached media are kept."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Draft id")),
		mcp.WithString("title", mcp.Required(), mcp.Description("Post title")),
		mcp.WithString("markdown", mcp.Required(), mcp.Description("Markdown body")),
	), s.saveDraft)

	s.mcp.AddTool(mcp.NewTool("attach_media",
		mcp.WithDescription("Attach an image or PDF to a draft from a base64 data URI or an http(s) URL."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Draft id")),
		mcp.WithString("url", mcp.Required(), mcp.Description("data:<mime>;base64,... or http(s) URL")),
		mcp.WithString("filename", mcp.Description("Optional file name; derived from the URL when omitted")),
	), s.attachMedia)

	s.mcp.AddTool(mcp.NewTool("publish_draft",
		mcp.WithDescription("Publish a draft. The draft is moved, with its media, to the published posts."),
		mcp.WithString("id", mcp.Required(), mcp.Description("Draft id")),
	), s.publishDraft)

	s.mcp.AddTool(mcp.NewTool("get_post_format",
		mcp.WithDescription("Returns the Scribe post format. "+
			"Call this before creating or editing drafts."),
	), s.getPostFormat)

	s.mcp.AddResource(
		mcp.NewResource(postFormatURI, "Post Format",
			mcp.WithResourceDescription("Draft fields, frontmatter and media conventions."),
			mcp.WithMIMEType("text/markdown"),
		),
		s.readPostFormatResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return mcp.NewToolResultText(string(out)), nil
}

func optionalString(req mcp.CallToolRequest, key string) string {
	if v, err := req.RequireString(key); err == nil {
		return v
	}
	return ""
}

func (s *Server) listPosts(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	posts, err := s.svc.ListPosts(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(posts)
}

func (s *Server) readPost(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	post, err := s.svc.GetPost(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(post)
}

func (s *Server) listDrafts(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	drafts, err := s.svc.ListDrafts(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(drafts)
}

func (s *Server) readDraft(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	draft, err := s.svc.GetDraft(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(draft)
}

func (s *Server) createDraft(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	draft, err := s.svc.CreateDraft(ctx, postservice.CreateDraftInput{
		ID:       optionalString(req, "id"),
		Title:    title,
		Markdown: optionalString(req, "markdown"),
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(draft)
}

func (s *Server) importDraft(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	content, err := req.RequireString("content")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	draft, err := s.svc.ImportDraft(ctx, []byte(content))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(draft)
}

func (s *Server) saveDraft(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	title, err := req.RequireString("title")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	markdown, err := req.RequireString("markdown")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	current, err := s.svc.GetDraft(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	draft, err := s.svc.SaveDraft(ctx, id, postservice.SaveDraftInput{
		Title:        title,
		Markdown:     markdown,
		Contributors: current.Contributors,
	})
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(draft)
}

func (s *Server) publishDraft(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	post, err := s.svc.PublishDraft(ctx, id)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(post)
}

func (s *Server) getPostFormat(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(PostFormatContract), nil
}

func (s *Server) readPostFormatResource(_ context.Context, _ mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      postFormatURI,
			MIMEType: "text/markdown",
			Text:     PostFormatContract,
		},
	}, nil
}
