package mcpserver

import (
	"bytes"
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"mime"
	"net"
	"net/http"
	"net/url"
	"path"
	"regexp"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/mark3labs/mcp-go/mcp"
)

const (
	maxMediaSize    = 10 << 20 // 10 MB
	maxRedirects    = 5
	downloadTimeout = 30 * time.Second
)

// mediaType is one attachable format.
type mediaType struct {
	ext   string
	mime  string
	sniff func([]byte) bool
}

var mediaTypes = []mediaType{
	{ext: ".png", mime: "image/png", sniff: detected("image/png")},
	{ext: ".jpg", mime: "image/jpeg", sniff: detected("image/jpeg")},
	{ext: ".jpeg", mime: "image/jpeg", sniff: detected("image/jpeg")},
	{ext: ".gif", mime: "image/gif", sniff: detected("image/gif")},
	{ext: ".webp", mime: "image/webp", sniff: detected("image/webp")},
	{ext: ".pdf", mime: "application/pdf", sniff: detected("application/pdf")},
	{ext: ".svg", mime: "image/svg+xml", sniff: func(b []byte) bool {
		return bytes.Contains(b[:min(len(b), 1024)], []byte("<svg"))
	}},
}

var unsafeNameRe = regexp.MustCompile(`[^a-zA-Z0-9._-]`)

var errBlockedAddress = errors.New("blocked address")

func detected(want string) func([]byte) bool {
	return func(b []byte) bool {
		got, _, _ := mime.ParseMediaType(http.DetectContentType(b))
		return got == want
	}
}

func typeByExt(ext string) (mediaType, bool) {
	ext = strings.ToLower(ext)
	for _, mt := range mediaTypes {
		if mt.ext == ext {
			return mt, true
		}
	}
	return mediaType{}, false
}

func typeByMIME(contentType string) (mediaType, bool) {
	m, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return mediaType{}, false
	}
	for _, mt := range mediaTypes {
		if mt.mime == m {
			return mt, true
		}
	}
	return mediaType{}, false
}

func allowedExtList() string {
	exts := make([]string, 0, len(mediaTypes))
	for _, mt := range mediaTypes {
		exts = append(exts, strings.TrimPrefix(mt.ext, "."))
	}
	return strings.Join(exts, ", ")
}

// source is downloaded or decoded media before it is attached.
type source struct {
	data        []byte
	contentType string
}

type attachResult struct {
	Filename      string   `json:"filename"`
	Attachments   []string `json:"attachments"`
	MarkdownImage string   `json:"markdownImage"`
}

func (s *Server) attachMedia(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	rawURL, err := req.RequireString("url")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	var src source
	if strings.HasPrefix(rawURL, "data:") {
		src, err = parseDataURI(rawURL)
	} else {
		src, err = s.download(ctx, rawURL)
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}

	filename := mediaFilename(optionalString(req, "filename"), rawURL, src.contentType)
	mt, ok := typeByExt(path.Ext(filename))
	if !ok {
		return mcp.NewToolResultError(fmt.Sprintf("unsupported file extension %q (allowed: %s)", path.Ext(filename), allowedExtList())), nil
	}
	if !mt.sniff(src.data) {
		return mcp.NewToolResultError(fmt.Sprintf("content does not look like %s", mt.mime)), nil
	}

	draft, err := s.svc.AddDraftMedia(ctx, id, filename, src.data)
	if err != nil {
		return mcp.NewToolResultError(fmt.Sprintf("failed to attach media: %v", err)), nil
	}

	return jsonResult(attachResult{
		Filename:      filename,
		Attachments:   draft.Attachments,
		MarkdownImage: fmt.Sprintf("![%s](%s)", strings.TrimSuffix(filename, path.Ext(filename)), filename),
	})
}

// parseDataURI decodes a base64 data:<mime>;base64,<payload> URI.
func parseDataURI(uri string) (source, error) {
	meta, payload, ok := strings.Cut(strings.TrimPrefix(uri, "data:"), ",")
	if !ok {
		return source{}, errors.New("invalid data URI: missing comma")
	}
	contentType, isBase64 := strings.CutSuffix(meta, ";base64")
	if !isBase64 {
		return source{}, errors.New("only base64 data URIs are supported")
	}
	if _, ok := typeByMIME(contentType); !ok {
		return source{}, fmt.Errorf("unsupported data URI type %q", contentType)
	}

	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		if data, err = base64.RawStdEncoding.DecodeString(payload); err != nil {
			return source{}, fmt.Errorf("invalid base64 payload: %w", err)
		}
	}
	if len(data) > maxMediaSize {
		return source{}, fmt.Errorf("file too large: %d bytes (max %d)", len(data), maxMediaSize)
	}
	return source{data: data, contentType: contentType}, nil
}

func (s *Server) download(ctx context.Context, rawURL string) (source, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return source{}, fmt.Errorf("invalid URL: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return source{}, fmt.Errorf("unsupported scheme %q", u.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return source{}, fmt.Errorf("invalid URL: %w", err)
	}
	resp, err := s.fetch.Do(req)
	if err != nil {
		return source{}, fmt.Errorf("download failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return source{}, fmt.Errorf("download failed: HTTP %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxMediaSize+1))
	if err != nil {
		return source{}, fmt.Errorf("download failed: %w", err)
	}
	if len(data) > maxMediaSize {
		return source{}, fmt.Errorf("file too large (max %d bytes)", maxMediaSize)
	}
	return source{data: data, contentType: resp.Header.Get("Content-Type")}, nil
}

// newFetchClient returns an HTTP client that refuses to connect to loopback,
// link-local and unspecified addresses. The check runs on the dialed address,
// so redirects and DNS answers are covered.
func newFetchClient() *http.Client {
	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
		Control: func(_, address string, _ syscall.RawConn) error {
			host, _, err := net.SplitHostPort(address)
			if err != nil {
				return err
			}
			return checkIP(net.ParseIP(host))
		},
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	transport.DialContext = dialer.DialContext
	transport.Proxy = nil

	return &http.Client{
		Timeout:   downloadTimeout,
		Transport: transport,
		CheckRedirect: func(req *http.Request, via []*http.Request) error {
			if len(via) >= maxRedirects {
				return fmt.Errorf("too many redirects (max %d)", maxRedirects)
			}
			return checkHostname(req.URL.Hostname())
		},
	}
}

func checkIP(ip net.IP) error {
	switch {
	case ip == nil:
		return fmt.Errorf("%w: unparseable", errBlockedAddress)
	case ip.IsLoopback(), ip.IsUnspecified(), ip.IsLinkLocalUnicast(), ip.IsLinkLocalMulticast():
		return fmt.Errorf("%w: %s", errBlockedAddress, ip)
	}
	return nil
}

func checkHostname(host string) error {
	if strings.EqualFold(host, "metadata.google.internal") || strings.EqualFold(host, "localhost") {
		return fmt.Errorf("%w: %s", errBlockedAddress, host)
	}
	return nil
}

// mediaFilename picks the attachment name: the explicit one, else the last
// URL path segment, else a random name. A missing extension is filled in
// from the content type.
func mediaFilename(explicit, rawURL, contentType string) string {
	name := explicit
	if name == "" && !strings.HasPrefix(rawURL, "data:") {
		if u, err := url.Parse(rawURL); err == nil {
			name = path.Base(u.Path)
		}
	}
	name = sanitizeFilename(name)
	if path.Ext(name) == "" {
		if mt, ok := typeByMIME(contentType); ok {
			name += mt.ext
		}
	}
	return name
}

// sanitizeFilename keeps the base name, replaces unsafe characters and
// strips leading dots.
func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, `\`, "/"))
	name = unsafeNameRe.ReplaceAllString(name, "_")
	name = strings.TrimLeft(name, ".")
	if name == "" || name == "_" {
		name = uuid.NewString()
	}
	return name
}
