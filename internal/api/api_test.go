package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/starford/scribe/internal/postservice"
	"github.com/starford/scribe/internal/testutil"
)

// testEnv sets up an in-memory storage, service, and router for testing.
// An empty authToken means disabled mode; otherwise token mode.
func testEnv(t *testing.T, authToken string) (*postservice.Service, http.Handler) {
	t.Helper()
	return testEnvWithSSE(t, authToken != "", authToken, nil)
}

func testEnvWithSSE(t *testing.T, authEnabled bool, token string, sseHandler http.Handler) (*postservice.Service, http.Handler) {
	t.Helper()
	store := testutil.TestStorage(t, testutil.MemoryOps())
	svc := postservice.New(store)
	return svc, NewRouter(svc, authEnabled, token, sseHandler)
}

func doJSON(t *testing.T, router http.Handler, method, target string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var rdr io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			t.Fatal(err)
		}
		rdr = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, target, rdr)
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func createDraft(t *testing.T, router http.Handler, id, title string) Post {
	t.Helper()
	w := doJSON(t, router, http.MethodPost, "/drafts", map[string]string{"id": id, "title": title, "markdown": "body of " + id})
	if w.Code != http.StatusCreated {
		t.Fatalf("create status = %d, body = %s", w.Code, w.Body.String())
	}
	var p Post
	if err := json.Unmarshal(w.Body.Bytes(), &p); err != nil {
		t.Fatal(err)
	}
	return p
}

func uploadFile(t *testing.T, router http.Handler, target, filename string, content []byte) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	part, err := mw.CreateFormFile("file", filename)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = io.Copy(part, bytes.NewReader(content))
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, target, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	return w
}

func TestCreateAndGetDraft(t *testing.T) {
	_, router := testEnv(t, "")

	created := createDraft(t, router, "hello", "Hello")
	if created.ID != "hello" || created.UpdatedTs == 0 {
		t.Errorf("created = %+v", created)
	}

	w := doJSON(t, router, http.MethodGet, "/drafts/hello", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var got Post
	if err := json.Unmarshal(w.Body.Bytes(), &got); err != nil {
		t.Fatal(err)
	}
	if got.Markdown != "body of hello" || got.Title != "Hello" {
		t.Errorf("got = %+v", got)
	}
	if !strings.Contains(w.Body.String(), `"attachments":[]`) {
		t.Errorf("attachments should serialize as an array: %s", w.Body.String())
	}
}

func TestCreateDraft_Duplicate(t *testing.T) {
	_, router := testEnv(t, "")
	createDraft(t, router, "dup", "One")

	w := doJSON(t, router, http.MethodPost, "/drafts", map[string]string{"id": "dup", "title": "Two"})
	if w.Code != http.StatusConflict {
		t.Errorf("duplicate = %d, want 409", w.Code)
	}
}

func TestCreateDraft_Invalid(t *testing.T) {
	_, router := testEnv(t, "")

	w := doJSON(t, router, http.MethodPost, "/drafts", map[string]string{"markdown": "no title"})
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing title = %d, want 400", w.Code)
	}

	req := httptest.NewRequest(http.MethodPost, "/drafts", strings.NewReader("{broken"))
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("broken JSON = %d, want 400", w.Code)
	}
}

func TestImportDraft(t *testing.T) {
	_, router := testEnv(t, "")

	doc := "---\ntitle: From Markdown\nslug: from-markdown\n---\nImported body\n"
	req := httptest.NewRequest(http.MethodPost, "/drafts/import", strings.NewReader(doc))
	req.Header.Set("Content-Type", "text/markdown")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusCreated {
		t.Fatalf("import = %d, body = %s", w.Code, w.Body.String())
	}
	var p Post
	_ = json.Unmarshal(w.Body.Bytes(), &p)
	if p.ID != "from-markdown" || p.Markdown != "Imported body\n" {
		t.Errorf("imported = %+v", p)
	}
}

func TestSaveDraft(t *testing.T) {
	_, router := testEnv(t, "")
	createDraft(t, router, "s", "Old")

	w := doJSON(t, router, http.MethodPut, "/drafts/s", map[string]string{"title": "New", "markdown": "changed"})
	if w.Code != http.StatusOK {
		t.Fatalf("save = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodPut, "/drafts/missing", map[string]string{"title": "x"})
	if w.Code != http.StatusNotFound {
		t.Errorf("save missing = %d, want 404", w.Code)
	}
}

func TestUploadAndServeDraftMedia(t *testing.T) {
	_, router := testEnv(t, "")
	createDraft(t, router, "m", "Media")

	w := uploadFile(t, router, "/drafts/m/media", "pic.png", []byte("fake-png-data"))
	if w.Code != http.StatusCreated {
		t.Fatalf("upload = %d, body = %s", w.Code, w.Body.String())
	}
	var res MediaUploadResponse
	_ = json.Unmarshal(w.Body.Bytes(), &res)
	if res.Filename != "pic.png" || res.Size != int64(len("fake-png-data")) || len(res.Attachments) != 1 {
		t.Errorf("upload response = %+v", res)
	}

	w = doJSON(t, router, http.MethodGet, "/drafts/m/media/pic.png", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("serve = %d", w.Code)
	}
	if w.Body.String() != "fake-png-data" {
		t.Errorf("served body = %q", w.Body.String())
	}
	if ct := w.Header().Get("Content-Type"); ct != "image/png" {
		t.Errorf("content type = %q", ct)
	}
	etag := w.Header().Get("ETag")
	if etag == "" {
		t.Fatal("missing ETag")
	}

	req := httptest.NewRequest(http.MethodGet, "/drafts/m/media/pic.png", nil)
	req.Header.Set("If-None-Match", etag)
	w = httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusNotModified {
		t.Errorf("conditional get = %d, want 304", w.Code)
	}
}

func TestUploadMedia_ReservedName(t *testing.T) {
	_, router := testEnv(t, "")
	createDraft(t, router, "r", "Reserved")

	w := uploadFile(t, router, "/drafts/r/media", "POST.md", []byte("x"))
	if w.Code != http.StatusBadRequest {
		t.Errorf("reserved name = %d, want 400", w.Code)
	}
}

func TestUploadMedia_MissingDraft(t *testing.T) {
	_, router := testEnv(t, "")
	w := uploadFile(t, router, "/drafts/ghost/media", "a.png", []byte("x"))
	if w.Code != http.StatusNotFound {
		t.Errorf("missing draft = %d, want 404", w.Code)
	}
}

func TestUploadMedia_MissingFileField(t *testing.T) {
	_, router := testEnv(t, "")
	createDraft(t, router, "f", "F")

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	_ = mw.WriteField("other", "value")
	mw.Close()

	req := httptest.NewRequest(http.MethodPost, "/drafts/f/media", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusBadRequest {
		t.Errorf("missing file field = %d, want 400", w.Code)
	}
}

func TestPublishFlow(t *testing.T) {
	_, router := testEnv(t, "")
	createDraft(t, router, "pub", "Published")
	uploadFile(t, router, "/drafts/pub/media", "a.txt", []byte("attachment"))

	w := doJSON(t, router, http.MethodPost, "/drafts/pub/publish", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("publish = %d, body = %s", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/posts", nil)
	var list PostListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if len(list.Posts) != 1 || list.Posts[0].ID != "pub" {
		t.Errorf("posts = %+v", list.Posts)
	}

	w = doJSON(t, router, http.MethodGet, "/posts/pub", nil)
	if w.Code != http.StatusOK {
		t.Errorf("get post = %d", w.Code)
	}

	w = doJSON(t, router, http.MethodGet, "/posts/pub/media/a.txt", nil)
	if w.Code != http.StatusOK || w.Body.String() != "attachment" {
		t.Errorf("post media = %d %q", w.Code, w.Body.String())
	}

	w = doJSON(t, router, http.MethodGet, "/drafts/pub", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("draft after publish = %d, want 404", w.Code)
	}

	w = doJSON(t, router, http.MethodPost, "/drafts", map[string]string{"id": "pub", "title": "again"})
	if w.Code != http.StatusConflict {
		t.Errorf("reuse published id = %d, want 409", w.Code)
	}

	w = doJSON(t, router, http.MethodPost, "/drafts/pub/publish", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("publish twice = %d, want 404", w.Code)
	}
}

func TestPostMediaRef_Unsupported(t *testing.T) {
	_, router := testEnv(t, "")
	w := doJSON(t, router, http.MethodGet, "/posts/p/media/a.png/ref", nil)
	if w.Code != http.StatusNotImplemented {
		t.Errorf("ref on local backend = %d, want 501", w.Code)
	}
}

func TestGetPost_NotFound(t *testing.T) {
	_, router := testEnv(t, "")
	w := doJSON(t, router, http.MethodGet, "/posts/nonexistent", nil)
	if w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", w.Code)
	}
}

func TestGetPost_InvalidID(t *testing.T) {
	_, router := testEnv(t, "")
	w := doJSON(t, router, http.MethodGet, "/posts/.hidden", nil)
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestListEmpty(t *testing.T) {
	_, router := testEnv(t, "")
	for _, target := range []string{"/posts", "/drafts"} {
		w := doJSON(t, router, http.MethodGet, target, nil)
		if w.Code != http.StatusOK {
			t.Fatalf("%s = %d", target, w.Code)
		}
		if strings.TrimSpace(w.Body.String()) != `{"posts":[]}` {
			t.Errorf("%s body = %s", target, w.Body.String())
		}
	}
}

// Auth tests.

func TestAuthMiddleware_ValidToken(t *testing.T) {
	_, router := testEnv(t, "secret")
	req := httptest.NewRequest(http.MethodGet, "/drafts", nil)
	req.Header.Set("Authorization", "Bearer secret")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("valid token = %d, want 200", w.Code)
	}
}

func TestAuthMiddleware_MissingToken(t *testing.T) {
	_, router := testEnv(t, "secret")
	w := doJSON(t, router, http.MethodGet, "/drafts", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_WrongToken(t *testing.T) {
	_, router := testEnv(t, "secret")
	req := httptest.NewRequest(http.MethodPost, "/drafts/x/publish", nil)
	req.Header.Set("Authorization", "Bearer wrong")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong token = %d, want 401", w.Code)
	}
}

func TestAuthMiddleware_PostsArePublic(t *testing.T) {
	_, router := testEnv(t, "secret")
	w := doJSON(t, router, http.MethodGet, "/posts", nil)
	if w.Code != http.StatusOK {
		t.Errorf("public posts = %d, want 200", w.Code)
	}
}

// SSE endpoint auth tests.

func sseStub() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	})
}

func TestSSEEvents_AuthProtected(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "secret", sseStub())

	w := doJSON(t, router, http.MethodGet, "/events", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}
}

func TestSSEEvents_ValidToken(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "tok", sseStub())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with valid token should not 401")
	}
}

func TestSSEEvents_QueryToken(t *testing.T) {
	_, router := testEnvWithSSE(t, true, "tok", sseStub())

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events?access_token=tok", nil).WithContext(ctx)
	req.Header.Set("Accept", "text/event-stream")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code == http.StatusUnauthorized {
		t.Error("SSE with query token should not 401")
	}
}

func TestAuth_QueryTokenOnlyForEventStream(t *testing.T) {
	_, router := testEnv(t, "secret")

	w := doJSON(t, router, http.MethodGet, "/drafts?access_token=secret", nil)
	if w.Code != http.StatusUnauthorized {
		t.Errorf("query token on /drafts = %d, want 401", w.Code)
	}
	if got := w.Header().Get("WWW-Authenticate"); !strings.HasPrefix(got, "Bearer") {
		t.Errorf("WWW-Authenticate = %q", got)
	}
}

func TestGetDraftMedia_EscapedNamesDecodeOnce(t *testing.T) {
	svc, router := testEnv(t, "")
	createDraft(t, router, "e", "Escapes")
	ctx := context.Background()
	for _, name := range []string{"a%25b.png", "a.png"} {
		_, err := svc.AddDraftMedia(ctx, "e", name, []byte(name))
		if err != nil {
			t.Fatalf("add %s: %v", name, err)
		}
	}

	cases := []struct {
		target string
		want   string
	}{
		// Path-only request: chi hands over the already decoded segment.
		{"/drafts/e/media/a%2525b.png", "a%25b.png"},
		// Needlessly escaped segment sets RawPath, which chi routes on.
		{"/drafts/e/media/%61.png", "a.png"},
	}
	for _, tc := range cases {
		w := doJSON(t, router, http.MethodGet, tc.target, nil)
		if w.Code != http.StatusOK {
			t.Errorf("GET %s = %d, want 200", tc.target, w.Code)
			continue
		}
		if got := w.Body.String(); got != tc.want {
			t.Errorf("GET %s body = %q, want %q", tc.target, got, tc.want)
		}
	}
}
