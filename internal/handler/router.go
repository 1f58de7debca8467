// Package handler exposes the collaboration server over HTTP.
package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"

	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/auth"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/htmlpage"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/model"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/session"
)

// TokenService issues tokens and binds them to identities.
type TokenService interface {
	Issue() auth.Token
	Lookup(id string) (auth.Token, bool)
	IsAuthenticated(id string) bool
	Authenticate(id string, a auth.Assertion) (model.Identity, error)
	ResolveIdentity(id string) (model.Identity, error)
}

// RepoService creates and lists repositories.
type RepoService interface {
	Create(ctx context.Context, tokenID, name string) (string, error)
	List(ctx context.Context, tokenID string) ([]string, error)
}

// FileService reads and writes file contents.
type FileService interface {
	GetContents(ctx context.Context, repo, path string) (model.FileRecord, error)
	SetContents(ctx context.Context, tokenID, repo, path, content string) (int64, error)
	ListFiles(ctx context.Context, repo string) ([]string, error)
}

// PollService answers change queries.
type PollService interface {
	Poll(ctx context.Context, repo, path string, since *int64) (model.PollResult, error)
}

// WorkspaceService reads and replaces workspace blobs.
type WorkspaceService interface {
	Get(ctx context.Context, tokenID string) (string, error)
	Set(ctx context.Context, tokenID, blob string) error
}

// SignInProvider runs a redirect-based sign-in. When nil, the mock sign-in
// route binds logins directly.
type SignInProvider interface {
	AuthURL(tokenID string) (string, error)
	Complete(ctx context.Context, code, state string) (string, auth.Assertion, error)
}

// Deps are the services the router dispatches to.
type Deps struct {
	Tokens     TokenService
	Repos      RepoService
	Locks      session.Locker
	Files      FileService
	Poller     PollService
	Workspaces WorkspaceService
	SignIn     SignInProvider
	Pages      *htmlpage.Renderer

	// BaseURL is the public address of the server, used in pages.
	BaseURL        string
	MaxBodyBytes   int64
	AllowedOrigins []string

	// Metrics is mounted at /metrics when non-nil.
	Metrics http.Handler
	// Middlewares run inside CORS, in order.
	Middlewares []func(http.Handler) http.Handler
	Logger      *slog.Logger
}

// NewRouter builds the HTTP routes.
func NewRouter(d Deps) http.Handler {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Pages == nil {
		d.Pages = htmlpage.NewRenderer()
	}
	if d.MaxBodyBytes <= 0 {
		d.MaxBodyBytes = 4 << 20
	}
	origins := d.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"*"}
	}

	r := chi.NewRouter()
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: origins,
		AllowedMethods: []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodOptions},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-Request-Id"},
		ExposedHeaders: []string{LastChangeHeader, "X-Request-Id", "Retry-After"},
		MaxAge:         300,
	}))
	for _, mw := range d.Middlewares {
		r.Use(mw)
	}

	authH := &AuthHandler{tokens: d.Tokens, signIn: d.SignIn, pages: d.Pages, baseURL: d.BaseURL, logger: d.Logger}
	userH := &UserHandler{tokens: d.Tokens, repos: d.Repos, logger: d.Logger}
	wsH := &WorkspaceHandler{workspaces: d.Workspaces, maxBody: d.MaxBodyBytes, logger: d.Logger}
	repoH := &RepoHandler{
		tokens:  d.Tokens,
		repos:   d.Repos,
		locks:   d.Locks,
		files:   d.Files,
		poller:  d.Poller,
		maxBody: d.MaxBodyBytes,
		logger:  d.Logger,
	}

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeText(w, http.StatusOK, "ok")
	})
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Route("/auth", func(r chi.Router) {
		r.Post("/request-token", authH.RequestToken)
		r.Get("/is-authenticated/{token}", authH.IsAuthenticated)
		if d.SignIn == nil {
			r.Get("/auth/{token}/{login}", authH.MockSignIn)
		} else {
			r.Get("/auth/{token}", authH.StartSignIn)
			r.Get("/after-auth", authH.FinishSignIn)
		}
	})

	r.Route("/user", func(r chi.Router) {
		r.Get("/login/{token}", userH.Login)
		r.Get("/name/{token}", userH.Name)
		r.Get("/email/{token}", userH.Email)
		r.Get("/repo-list/{token}", userH.RepoList)
	})

	r.Get("/workspace/{token}", wsH.Get)
	r.Put("/workspace/{token}", wsH.Set)

	r.Route("/repo", func(r chi.Router) {
		r.Post("/create/{token}", repoH.Create)
		r.Post("/create/{token}/{name}", repoH.Create)

		r.Get("/file-names/{owner}/{repo}/{token}", repoH.FileNames)

		r.Get("/file/{owner}/{repo}/{token}/*", repoH.GetFile)
		r.Put("/file/{owner}/{repo}/{token}/*", repoH.PutFile)
		r.Get("/poll-file/{owner}/{repo}/{token}/*", repoH.PollFile)
		r.Post("/poll-file/{owner}/{repo}/{token}/*", repoH.PollFile)

		r.Get("/has-lock/{owner}/{repo}/{token}/*", repoH.HasLock)
		r.Post("/request-lock/{owner}/{repo}/{token}/*", repoH.RequestLock)
		r.Post("/relinquish-lock/{owner}/{repo}/{token}/*", repoH.RelinquishLock)
	})

	return r
}
