package api

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/starford/notepub/internal/apperr"
	"github.com/starford/notepub/internal/ledger"
	"github.com/starford/notepub/internal/noteservice"
	"github.com/starford/notepub/internal/publish"
	"github.com/starford/notepub/internal/remote/remotetest"
	"github.com/starford/notepub/internal/testutil"
)

type testEnv struct {
	router http.Handler
	remote *remotetest.Provider
	ledger *ledger.DB
}

// newTestEnv wires a temp vault, an in-memory remote and a SQLite ledger
// behind the router. An empty token means auth is disabled.
func newTestEnv(t *testing.T, token string) *testEnv {
	t.Helper()
	vaultDir, store := testutil.TestVault(t)
	testutil.WriteFile(t, vaultDir, "post.md", []byte("---\nnextra-publish: true\ntitle: Post\n---\nHi ![[pic.png]]"))
	testutil.WriteFile(t, vaultDir, "guides/setup.md", []byte("---\nnextra-publish: true\n---\n# Setup"))
	testutil.WriteFile(t, vaultDir, "draft.md", []byte("not flagged"))
	testutil.WriteFile(t, vaultDir, "img/pic.png", []byte{0x89, 'P', 'N', 'G'})

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	notes := noteservice.NewService(store, logger)
	fake := remotetest.New(map[string][]byte{"pages/stale.md": []byte("old")})
	db := testutil.TestLedger(t)
	settings := publish.Settings{
		Provider:    publish.ProviderGitHub,
		Credentials: publish.Credentials{Owner: "octo", Repo: "site", Token: "t"},
	}
	pub := publish.NewPublisher(settings, notes, fake, publish.WithRecorder(db), publish.WithLogger(logger))

	h := NewHandler(pub, notes, db, nil)
	return &testEnv{
		router: NewRouter(h, token != "", token, nil),
		remote: fake,
		ledger: db,
	}
}

func do(t *testing.T, h http.Handler, method, target, token string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestPublishAllEndpoint(t *testing.T) {
	env := newTestEnv(t, "")

	w := do(t, env.router, http.MethodPost, "/publish", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var resp PublishResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Run == nil || resp.Run.Status != publish.StatusDone {
		t.Fatalf("run = %+v", resp.Run)
	}
	if resp.Run.Deleted != 1 {
		t.Errorf("deleted = %d, want 1", resp.Run.Deleted)
	}

	files := env.remote.Files("main")
	for _, p := range []string{"pages/post.md", "pages/guides/setup.md", "pages/_meta.json", "public/img/pic.png"} {
		if _, ok := files[p]; !ok {
			t.Errorf("remote missing %s", p)
		}
	}
	if _, ok := files["pages/stale.md"]; ok {
		t.Error("stale file not deleted")
	}
}

func TestPublishNoteEndpoint(t *testing.T) {
	env := newTestEnv(t, "")

	w := do(t, env.router, http.MethodPost, "/publish/notes/guides%2Fsetup.md", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	files := env.remote.Files("main")
	if _, ok := files["pages/guides/setup.md"]; !ok {
		t.Error("note not written")
	}
	if _, ok := files["pages/stale.md"]; !ok {
		t.Error("single-note publish deleted a remote file")
	}
}

func TestPublishNoteErrors(t *testing.T) {
	env := newTestEnv(t, "")

	tests := []struct {
		target string
		want   int
	}{
		{"/publish/notes/missing.md", http.StatusNotFound},
		{"/publish/notes/draft.md", http.StatusUnprocessableEntity},
	}
	for _, tt := range tests {
		w := do(t, env.router, http.MethodPost, tt.target, "")
		if w.Code != tt.want {
			t.Errorf("%s: status = %d, want %d", tt.target, w.Code, tt.want)
		}
	}
}

type stubPublisher struct {
	err      error
	settings publish.Settings
}

func (s stubPublisher) PublishAll(context.Context, publish.Reporter) (*publish.Run, error) {
	return nil, s.err
}

func (s stubPublisher) PublishNote(context.Context, string, publish.Reporter) (*publish.Run, error) {
	return nil, s.err
}

func (s stubPublisher) Settings() publish.Settings { return s.settings }

func TestPublishRejected(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
		body string
	}{
		{"in progress", apperr.ErrPublishInProgress, http.StatusConflict, apperr.ErrPublishInProgress.Error()},
		{"credentials", apperr.ErrMissingCredentials, http.StatusPreconditionFailed, "❌ Gitlab Authentication info is required!"},
		{"invalid settings", errors.New("image_path: must name a directory below the repository root"), http.StatusBadRequest, "image_path: must name a directory below the repository root"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pub := stubPublisher{err: tt.err, settings: publish.Settings{Provider: publish.ProviderGitLab}}
			router := NewRouter(NewHandler(pub, nil, nil, nil), false, "", nil)

			w := do(t, router, http.MethodPost, "/publish", "")
			if w.Code != tt.want {
				t.Fatalf("status = %d, want %d", w.Code, tt.want)
			}
			var resp errResponse
			_ = json.Unmarshal(w.Body.Bytes(), &resp)
			if resp.Error != tt.body {
				t.Errorf("error = %q, want %q", resp.Error, tt.body)
			}
		})
	}
}

func TestListNotesEndpoint(t *testing.T) {
	env := newTestEnv(t, "")

	w := do(t, env.router, http.MethodGet, "/notes", "")
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var resp NoteListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	if resp.Total != 2 {
		t.Errorf("total = %d, want 2", resp.Total)
	}
}

func TestRunsEndpoints(t *testing.T) {
	env := newTestEnv(t, "")
	do(t, env.router, http.MethodPost, "/publish", "")

	w := do(t, env.router, http.MethodGet, "/runs?limit=5", "")
	if w.Code != http.StatusOK {
		t.Fatalf("list status = %d", w.Code)
	}
	var list RunListResponse
	_ = json.Unmarshal(w.Body.Bytes(), &list)
	if len(list.Runs) != 1 {
		t.Fatalf("runs = %d, want 1", len(list.Runs))
	}

	w = do(t, env.router, http.MethodGet, "/runs/"+list.Runs[0].ID, "")
	if w.Code != http.StatusOK {
		t.Fatalf("get status = %d", w.Code)
	}
	var detail RunDetailResponse
	_ = json.Unmarshal(w.Body.Bytes(), &detail)
	if detail.Run.Status != publish.StatusDone || len(detail.Items) == 0 {
		t.Errorf("detail = %+v", detail)
	}

	if w := do(t, env.router, http.MethodGet, "/runs/unknown", ""); w.Code != http.StatusNotFound {
		t.Errorf("unknown run = %d, want 404", w.Code)
	}
}

func TestAuthMiddleware(t *testing.T) {
	env := newTestEnv(t, "secret123")

	tests := []struct {
		name  string
		token string
		want  int
	}{
		{"missing", "", http.StatusUnauthorized},
		{"wrong", "wrong", http.StatusUnauthorized},
		{"valid", "secret123", http.StatusOK},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if w := do(t, env.router, http.MethodGet, "/notes", tt.token); w.Code != tt.want {
				t.Errorf("status = %d, want %d", w.Code, tt.want)
			}
		})
	}
}

func TestAuthMiddleware_Disabled(t *testing.T) {
	env := newTestEnv(t, "")
	if w := do(t, env.router, http.MethodGet, "/notes", ""); w.Code != http.StatusOK {
		t.Errorf("no auth = %d, want 200", w.Code)
	}
}

func TestSSEEvents_AuthProtected(t *testing.T) {
	sse := http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) { w.WriteHeader(http.StatusOK) })
	router := NewRouter(NewHandler(stubPublisher{}, nil, nil, nil), true, "tok", sse)

	if w := do(t, router, http.MethodGet, "/events", ""); w.Code != http.StatusUnauthorized {
		t.Errorf("SSE no auth = %d, want 401", w.Code)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	req := httptest.NewRequest(http.MethodGet, "/events", nil).WithContext(ctx)
	req.Header.Set("Authorization", "Bearer tok")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("SSE with valid token = %d, want 200", w.Code)
	}
}

func TestRequestLogger(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&buf, nil))
	h := RequestLogger(logger)(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		writeError(w, http.StatusTeapot, "short and stout")
	}))

	do(t, h, http.MethodGet, "/notes", "")

	var entry map[string]any
	if err := json.Unmarshal(buf.Bytes(), &entry); err != nil {
		t.Fatalf("log line is not JSON: %q", buf.String())
	}
	if entry["path"] != "/notes" || entry["status"] != float64(http.StatusTeapot) {
		t.Errorf("entry = %v", entry)
	}
}

func TestUnauthorizedChallenge(t *testing.T) {
	env := newTestEnv(t, "s3cret")
	w := do(t, env.router, http.MethodGet, "/notes", "wrong")
	if got := w.Header().Get("WWW-Authenticate"); got == "" {
		t.Error("missing WWW-Authenticate header")
	}
}
