package handler

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/auth"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/htmlpage"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/logger"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/model"
)

// AuthHandler issues tokens and runs sign-in.
type AuthHandler struct {
	tokens  TokenService
	signIn  SignInProvider
	pages   *htmlpage.Renderer
	baseURL string
	logger  *slog.Logger
}

// RequestToken issues a fresh, unauthenticated token.
// POST /auth/request-token
func (h *AuthHandler) RequestToken(w http.ResponseWriter, r *http.Request) {
	tok := h.tokens.Issue()
	writeText(w, http.StatusOK, tok.ID)
}

// IsAuthenticated reports whether a token has been bound. Unknown tokens
// answer false.
// GET /auth/is-authenticated/{token}
func (h *AuthHandler) IsAuthenticated(w http.ResponseWriter, r *http.Request) {
	writeBool(w, h.tokens.IsAuthenticated(chi.URLParam(r, "token")))
}

// MockSignIn binds a token to login without an identity provider.
// GET /auth/auth/{token}/{login}
func (h *AuthHandler) MockSignIn(w http.ResponseWriter, r *http.Request) {
	tokenID := chi.URLParam(r, "token")
	h.bind(w, r, tokenID, auth.MockAssertion(chi.URLParam(r, "login")))
}

// StartSignIn redirects the user to the identity provider.
// GET /auth/auth/{token}
func (h *AuthHandler) StartSignIn(w http.ResponseWriter, r *http.Request) {
	tokenID := chi.URLParam(r, "token")
	if _, ok := h.tokens.Lookup(tokenID); !ok {
		h.page(w, r, http.StatusBadRequest, h.pages.SessionExpired)
		return
	}

	url, err := h.signIn.AuthURL(tokenID)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "failed to build sign-in url", slog.String("error", err.Error()))
		writeText(w, http.StatusInternalServerError, "internal server error")
		return
	}
	http.Redirect(w, r, url, http.StatusFound)
}

// FinishSignIn completes the provider round trip and binds the token.
// GET /auth/after-auth?code=...&state=...
func (h *AuthHandler) FinishSignIn(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	if reason := q.Get("error"); reason != "" {
		h.page(w, r, http.StatusBadRequest, func(string) ([]byte, error) { return h.pages.Failed(reason) })
		return
	}

	tokenID, a, err := h.signIn.Complete(r.Context(), q.Get("code"), q.Get("state"))
	if err != nil {
		if errors.Is(err, auth.ErrInvalidState) {
			h.page(w, r, http.StatusBadRequest, h.pages.SessionExpired)
			return
		}
		h.logger.WarnContext(r.Context(), "sign-in failed", slog.String("error", err.Error()))
		h.page(w, r, http.StatusBadGateway, func(string) ([]byte, error) {
			return h.pages.Failed("The identity provider did not confirm your sign-in.")
		})
		return
	}
	h.bind(w, r, tokenID, a)
}

func (h *AuthHandler) bind(w http.ResponseWriter, r *http.Request, tokenID string, a auth.Assertion) {
	ident, err := h.tokens.Authenticate(tokenID, a)
	if err != nil {
		status := statusFor(err)
		switch {
		case errors.Is(err, model.ErrUnknownToken):
			h.page(w, r, status, h.pages.SessionExpired)
		case status < http.StatusInternalServerError:
			h.page(w, r, status, func(string) ([]byte, error) { return h.pages.Failed(err.Error()) })
		default:
			writeError(w, r, h.logger, err)
		}
		return
	}

	h.logger.InfoContext(r.Context(), "signed in", slog.String("login", ident.Login), logger.Token(tokenID))
	h.page(w, r, http.StatusOK, func(string) ([]byte, error) { return h.pages.SignedIn(ident.Login) })
}

// page renders a sign-in page; render receives the base URL.
func (h *AuthHandler) page(w http.ResponseWriter, r *http.Request, status int, render func(string) ([]byte, error)) {
	body, err := render(h.baseURL)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeHTML(w, status, body)
}
