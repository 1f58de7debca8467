package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/model"
)

// UserHandler answers questions about the identity behind a token.
type UserHandler struct {
	tokens TokenService
	repos  RepoService
	logger *slog.Logger
}

func (h *UserHandler) field(pick func(model.Identity) string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ident, err := h.tokens.ResolveIdentity(chi.URLParam(r, "token"))
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		writeText(w, http.StatusOK, pick(ident))
	}
}

// Login answers the login of the token's identity.
// GET /user/login/{token}
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	h.field(func(i model.Identity) string { return i.Login })(w, r)
}

// GET /user/name/{token}
func (h *UserHandler) Name(w http.ResponseWriter, r *http.Request) {
	h.field(func(i model.Identity) string { return i.Name })(w, r)
}

// GET /user/email/{token}
func (h *UserHandler) Email(w http.ResponseWriter, r *http.Request) {
	h.field(func(i model.Identity) string { return i.Email })(w, r)
}

// RepoList answers the JSON array of repositories visible to the identity.
// GET /user/repo-list/{token}
func (h *UserHandler) RepoList(w http.ResponseWriter, r *http.Request) {
	slugs, err := h.repos.List(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, slugs)
}
