package handler_test

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/auth"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/files"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/handler"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/logger"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/metrics"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/middleware"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/repodir"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/session"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/store"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/workspace"
)

type server struct {
	t       *testing.T
	handler http.Handler
	tokens  *auth.TokenStore
	repos   *repodir.Directory
}

func newServer(t *testing.T, opts ...func(*handler.Deps)) *server {
	t.Helper()
	l := logger.Discard()
	tokens := auth.NewTokenStore(auth.TokenConfig{}, nil, l)
	repos := repodir.NewDirectory(tokens, l)
	table := store.NewTable()
	fs := files.NewStore(tokens, repos, table, nil, l)

	deps := handler.Deps{
		Tokens:     tokens,
		Repos:      repos,
		Locks:      session.NewLockManager(tokens, repos, table, nil, l),
		Files:      fs,
		Poller:     files.NewPoller(fs, nil),
		Workspaces: workspace.NewStore(tokens, nil),
		BaseURL:    "http://collab.test",
		Logger:     l,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	return &server{t: t, handler: handler.NewRouter(deps), tokens: tokens, repos: repos}
}

func (s *server) do(method, path, body string) *httptest.ResponseRecorder {
	s.t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)
	return rec
}

func (s *server) expect(method, path, body string, status int) string {
	s.t.Helper()
	rec := s.do(method, path, body)
	if rec.Code != status {
		s.t.Fatalf("%s %s: expected %d, got %d: %s", method, path, status, rec.Code, rec.Body.String())
	}
	return rec.Body.String()
}

// signIn issues a token and binds it to login through the mock route.
func (s *server) signIn(login string) string {
	s.t.Helper()
	tok := s.expect("POST", "/auth/request-token", "", http.StatusOK)
	s.expect("GET", "/auth/auth/"+tok+"/"+login, "", http.StatusOK)
	return tok
}

func decodePoll(t *testing.T, body string) map[string]any {
	t.Helper()
	var got map[string]any
	if err := json.Unmarshal([]byte(body), &got); err != nil {
		t.Fatalf("Failed to decode poll response %q: %v", body, err)
	}
	return got
}

func TestAuthFlow(t *testing.T) {
	s := newServer(t)

	tok := s.expect("POST", "/auth/request-token", "", http.StatusOK)
	if tok == "" {
		t.Fatal("Expected a token id")
	}
	if got := s.expect("GET", "/auth/is-authenticated/"+tok, "", http.StatusOK); got != "false" {
		t.Errorf("Expected false before sign-in, got %q", got)
	}

	rec := s.do("GET", "/auth/auth/"+tok+"/alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", rec.Code)
	}
	if ct := rec.Header().Get("Content-Type"); !strings.HasPrefix(ct, "text/html") {
		t.Errorf("Expected an HTML page, got %q", ct)
	}
	if !strings.Contains(rec.Body.String(), "alice") {
		t.Errorf("Expected the page to name the login, got %s", rec.Body.String())
	}

	if got := s.expect("GET", "/auth/is-authenticated/"+tok, "", http.StatusOK); got != "true" {
		t.Errorf("Expected true after sign-in, got %q", got)
	}
	if got := s.expect("GET", "/user/login/"+tok, "", http.StatusOK); got != "alice" {
		t.Errorf("Expected login alice, got %q", got)
	}
	if got := s.expect("GET", "/user/name/"+tok, "", http.StatusOK); got != "alice" {
		t.Errorf("Expected name alice, got %q", got)
	}
	if got := s.expect("GET", "/user/email/"+tok, "", http.StatusOK); got != "alice@example.com" {
		t.Errorf("Expected email alice@example.com, got %q", got)
	}
}

func TestAuth_UnknownTokens(t *testing.T) {
	s := newServer(t)

	if got := s.expect("GET", "/auth/is-authenticated/nope", "", http.StatusOK); got != "false" {
		t.Errorf("Expected false for an unknown token, got %q", got)
	}

	body := s.expect("GET", "/auth/auth/nope/alice", "", http.StatusBadRequest)
	if !strings.Contains(body, "http://collab.test/auth/request-token") {
		t.Errorf("Expected the expired page to point at request-token, got %s", body)
	}
}

func TestAuth_MockSignInConflicts(t *testing.T) {
	s := newServer(t)
	tok := s.signIn("alice")

	// Binding the same login again is idempotent.
	s.expect("GET", "/auth/auth/"+tok+"/alice", "", http.StatusOK)
	s.expect("GET", "/auth/auth/"+tok+"/bob", "", http.StatusConflict)

	fresh := s.expect("POST", "/auth/request-token", "", http.StatusOK)
	s.expect("GET", "/auth/auth/"+fresh+"/..", "", http.StatusBadRequest)
}

func TestUnauthenticatedTokenRejected(t *testing.T) {
	s := newServer(t)
	owner := s.signIn("alice")
	s.expect("POST", "/repo/create/"+owner+"/proj", "", http.StatusOK)

	tok := s.expect("POST", "/auth/request-token", "", http.StatusOK)
	calls := []struct {
		method, path string
	}{
		{"GET", "/user/login/" + tok},
		{"GET", "/user/name/" + tok},
		{"GET", "/user/email/" + tok},
		{"GET", "/user/repo-list/" + tok},
		{"GET", "/workspace/" + tok},
		{"PUT", "/workspace/" + tok},
		{"POST", "/repo/create/" + tok + "/other"},
		{"GET", "/repo/file-names/alice/proj/" + tok},
		{"GET", "/repo/file/alice/proj/" + tok + "/a.txt"},
		{"PUT", "/repo/file/alice/proj/" + tok + "/a.txt"},
		{"GET", "/repo/poll-file/alice/proj/" + tok + "/a.txt"},
		{"GET", "/repo/has-lock/alice/proj/" + tok + "/a.txt"},
		{"POST", "/repo/request-lock/alice/proj/" + tok + "/a.txt"},
		{"POST", "/repo/relinquish-lock/alice/proj/" + tok + "/a.txt"},
	}
	for _, c := range calls {
		t.Run(c.method+" "+strings.SplitN(c.path, "/", 4)[2], func(t *testing.T) {
			rec := s.do(c.method, c.path, "x")
			if rec.Code != http.StatusUnauthorized {
				t.Errorf("%s %s: expected 401, got %d: %s", c.method, c.path, rec.Code, rec.Body.String())
			}
		})
	}

	rec := s.do("GET", "/user/login/never-issued", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("Expected 400 for an unknown token, got %d", rec.Code)
	}
}

func TestRepositories(t *testing.T) {
	s := newServer(t)
	if err := s.repos.Seed("tracker/shared"); err != nil {
		t.Fatalf("Seed failed: %v", err)
	}
	alice := s.signIn("alice")
	bob := s.signIn("bob")

	if got := s.expect("POST", "/repo/create/"+alice+"/proj", "", http.StatusOK); got != "alice/proj" {
		t.Errorf("Expected slug alice/proj, got %q", got)
	}
	if got := s.expect("POST", "/repo/create/"+alice, " notes\n", http.StatusOK); got != "alice/notes" {
		t.Errorf("Expected slug alice/notes from the body, got %q", got)
	}
	s.expect("POST", "/repo/create/"+alice+"/proj", "", http.StatusConflict)
	s.expect("POST", "/repo/create/"+alice, "", http.StatusBadRequest)

	var list []string
	body := s.expect("GET", "/user/repo-list/"+alice, "", http.StatusOK)
	if err := json.Unmarshal([]byte(body), &list); err != nil {
		t.Fatalf("Failed to decode repo list: %v", err)
	}
	want := []string{"alice/notes", "alice/proj", "tracker/shared"}
	if strings.Join(list, ",") != strings.Join(want, ",") {
		t.Errorf("Expected %v, got %v", want, list)
	}

	if got := s.expect("GET", "/user/repo-list/"+bob, "", http.StatusOK); strings.TrimSpace(got) != `["tracker/shared"]` {
		t.Errorf("Expected only the shared repository for bob, got %s", got)
	}
}

func TestLocks(t *testing.T) {
	s := newServer(t)
	t1 := s.signIn("alice")
	t2 := s.signIn("bob")
	s.expect("POST", "/repo/create/"+t1+"/proj", "", http.StatusOK)

	hasLock := "/repo/has-lock/alice/proj/" + t1 + "/a.txt"
	if got := s.expect("GET", hasLock, "", http.StatusOK); got != "false" {
		t.Errorf("Expected no lock before request, got %q", got)
	}
	if got := s.expect("POST", "/repo/request-lock/alice/proj/"+t1+"/a.txt", "", http.StatusOK); got != "true" {
		t.Errorf("Expected lock granted, got %q", got)
	}
	if got := s.expect("POST", "/repo/request-lock/alice/proj/"+t2+"/a.txt", "", http.StatusOK); got != "false" {
		t.Errorf("Expected lock refused for another token, got %q", got)
	}
	if got := s.expect("GET", hasLock, "", http.StatusOK); got != "true" {
		t.Errorf("Expected lock held, got %q", got)
	}

	s.expect("POST", "/repo/relinquish-lock/alice/proj/"+t2+"/a.txt", "", http.StatusConflict)
	s.expect("POST", "/repo/relinquish-lock/alice/proj/"+t1+"/a.txt", "", http.StatusOK)
	if got := s.expect("GET", hasLock, "", http.StatusOK); got != "false" {
		t.Errorf("Expected no lock after relinquish, got %q", got)
	}

	s.expect("POST", "/repo/request-lock/alice/missing/"+t1+"/a.txt", "", http.StatusNotFound)
}

func TestFilesAndPolling(t *testing.T) {
	s := newServer(t)
	tok := s.signIn("alice")
	s.expect("POST", "/repo/create/"+tok+"/proj", "", http.StatusOK)

	file := "/repo/file/alice/proj/" + tok + "/docs/a.txt"
	poll := "/repo/poll-file/alice/proj/" + tok + "/docs/a.txt"

	if got := s.expect("GET", file, "", http.StatusOK); got != "" {
		t.Errorf("Expected a never-written file to be empty, got %q", got)
	}

	s.expect("POST", "/repo/request-lock/alice/proj/"+tok+"/docs/a.txt", "", http.StatusOK)
	rec := s.do("PUT", file, "hello")
	if rec.Code != http.StatusOK {
		t.Fatalf("Expected 200 on write, got %d: %s", rec.Code, rec.Body.String())
	}
	m1, err := strconv.ParseInt(rec.Header().Get(handler.LastChangeHeader), 10, 64)
	if err != nil || m1 <= 0 {
		t.Fatalf("Expected a positive marker header, got %q", rec.Header().Get(handler.LastChangeHeader))
	}

	rec = s.do("GET", file, "")
	if rec.Body.String() != "hello" {
		t.Errorf("Expected hello, got %q", rec.Body.String())
	}
	if rec.Header().Get(handler.LastChangeHeader) != strconv.FormatInt(m1, 10) {
		t.Errorf("Expected marker %d on read, got %q", m1, rec.Header().Get(handler.LastChangeHeader))
	}

	body := s.expect("GET", poll, strconv.FormatInt(m1, 10), http.StatusOK)
	got := decodePoll(t, body)
	if got["isModified"] != false {
		t.Errorf("Expected unmodified, got %v", got)
	}
	if _, ok := got["contents"]; ok {
		t.Errorf("Expected contents to be omitted, got %s", body)
	}

	s.expect("PUT", file, "world", http.StatusOK)
	got = decodePoll(t, s.expect("POST", poll, strconv.FormatInt(m1, 10), http.StatusOK))
	if got["isModified"] != true || got["contents"] != "world" {
		t.Errorf("Expected modified with new contents, got %v", got)
	}
	if m2 := int64(got["lastChange"].(float64)); m2 <= m1 {
		t.Errorf("Expected marker above %d, got %d", m1, m2)
	}

	got = decodePoll(t, s.expect("GET", poll, " \n", http.StatusOK))
	if got["isModified"] != true {
		t.Errorf("Expected a poll without marker to report modified, got %v", got)
	}
	s.expect("GET", poll, "yesterday", http.StatusBadRequest)

	var names []string
	if err := json.Unmarshal([]byte(s.expect("GET", "/repo/file-names/alice/proj/"+tok, "", http.StatusOK)), &names); err != nil {
		t.Fatalf("Failed to decode file names: %v", err)
	}
	if len(names) != 1 || names[0] != "docs/a.txt" {
		t.Errorf("Expected [docs/a.txt], got %v", names)
	}

	s.expect("POST", "/repo/relinquish-lock/alice/proj/"+tok+"/docs/a.txt", "", http.StatusOK)
	s.expect("PUT", file, "late", http.StatusConflict)
	if got := s.expect("GET", file, "", http.StatusOK); got != "world" {
		t.Errorf("Expected a refused write to leave content unchanged, got %q", got)
	}
}

func TestWorkspace(t *testing.T) {
	s := newServer(t)
	tok := s.signIn("alice")

	if got := s.expect("GET", "/workspace/"+tok, "", http.StatusOK); got != "" {
		t.Errorf("Expected an empty default workspace, got %q", got)
	}
	s.expect("PUT", "/workspace/"+tok, `{"open":["a.ttl"]}`, http.StatusOK)
	if got := s.expect("GET", "/workspace/"+tok, "", http.StatusOK); got != `{"open":["a.ttl"]}` {
		t.Errorf("Expected the stored blob, got %q", got)
	}

	// A second token for the same login sees the same workspace.
	other := s.signIn("alice")
	if got := s.expect("GET", "/workspace/"+other, "", http.StatusOK); got != `{"open":["a.ttl"]}` {
		t.Errorf("Expected the workspace to follow the identity, got %q", got)
	}

	s.expect("PUT", "/workspace/"+tok, "", http.StatusOK)
	if got := s.expect("GET", "/workspace/"+tok, "", http.StatusOK); got != "" {
		t.Errorf("Expected the empty blob to round trip, got %q", got)
	}
}

func TestBodyLimit(t *testing.T) {
	s := newServer(t, func(d *handler.Deps) { d.MaxBodyBytes = 8 })
	tok := s.signIn("alice")
	s.expect("POST", "/repo/create/"+tok+"/proj", "", http.StatusOK)
	s.expect("POST", "/repo/request-lock/alice/proj/"+tok+"/a.txt", "", http.StatusOK)

	s.expect("PUT", "/workspace/"+tok, "123456789", http.StatusRequestEntityTooLarge)
	s.expect("PUT", "/repo/file/alice/proj/"+tok+"/a.txt", "123456789", http.StatusRequestEntityTooLarge)
	s.expect("PUT", "/repo/file/alice/proj/"+tok+"/a.txt", "12345678", http.StatusOK)
}

func TestHealthAndMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	collector := metrics.NewCollector(reg)
	s := newServer(t, func(d *handler.Deps) {
		d.Metrics = metrics.Handler(reg)
		d.Middlewares = []func(http.Handler) http.Handler{
			middleware.NewLoggingMiddleware(logger.Discard(), collector),
		}
	})

	if got := s.expect("GET", "/health", "", http.StatusOK); got != "ok" {
		t.Errorf("Expected ok, got %q", got)
	}
	body := s.expect("GET", "/metrics", "", http.StatusOK)
	if !strings.Contains(body, `collab_http_status_total{status_code="200"}`) {
		t.Errorf("Expected the health request to be counted, got:\n%s", body)
	}
}

func TestCORS(t *testing.T) {
	s := newServer(t, func(d *handler.Deps) { d.AllowedOrigins = []string{"https://editor.test"} })

	req := httptest.NewRequest("OPTIONS", "/auth/request-token", nil)
	req.Header.Set("Origin", "https://editor.test")
	req.Header.Set("Access-Control-Request-Method", "POST")
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://editor.test" {
		t.Errorf("Expected the origin to be allowed, got %q", got)
	}
}

type stubSignIn struct {
	login string
	err   error
}

func (s stubSignIn) AuthURL(tokenID string) (string, error) {
	return "https://idp.test/authorize?state=" + tokenID, nil
}

func (s stubSignIn) Complete(_ context.Context, code, state string) (string, auth.Assertion, error) {
	if s.err != nil {
		return "", auth.Assertion{}, s.err
	}
	return state, auth.Assertion{Login: s.login, Name: "Alice A.", Email: "alice@idp.test"}, nil
}

func TestOAuthRoutes(t *testing.T) {
	s := newServer(t, func(d *handler.Deps) { d.SignIn = stubSignIn{login: "alice"} })
	tok := s.expect("POST", "/auth/request-token", "", http.StatusOK)

	rec := s.do("GET", "/auth/auth/"+tok, "")
	if rec.Code != http.StatusFound {
		t.Fatalf("Expected a redirect, got %d", rec.Code)
	}
	if loc := rec.Header().Get("Location"); loc != "https://idp.test/authorize?state="+tok {
		t.Errorf("Unexpected redirect target %q", loc)
	}

	s.expect("GET", "/auth/auth/"+tok+"/alice", "", http.StatusNotFound)
	s.expect("GET", "/auth/auth/never-issued", "", http.StatusBadRequest)

	s.expect("GET", "/auth/after-auth?code=c&state="+tok, "", http.StatusOK)
	if got := s.expect("GET", "/user/name/"+tok, "", http.StatusOK); got != "Alice A." {
		t.Errorf("Expected the provider's name, got %q", got)
	}

	s.expect("GET", "/auth/after-auth?error=access_denied", "", http.StatusBadRequest)
}

func TestOAuthRoutes_Failures(t *testing.T) {
	s := newServer(t, func(d *handler.Deps) { d.SignIn = stubSignIn{err: auth.ErrInvalidState} })
	s.expect("GET", "/auth/after-auth?code=c&state=bad", "", http.StatusBadRequest)

	s = newServer(t, func(d *handler.Deps) { d.SignIn = stubSignIn{err: errors.New("exchange failed")} })
	s.expect("GET", "/auth/after-auth?code=c&state=x", "", http.StatusBadGateway)
}
