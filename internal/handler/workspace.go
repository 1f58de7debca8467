package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// WorkspaceHandler serves per-identity workspace blobs.
type WorkspaceHandler struct {
	workspaces WorkspaceService
	maxBody    int64
	logger     *slog.Logger
}

// GET /workspace/{token}
func (h *WorkspaceHandler) Get(w http.ResponseWriter, r *http.Request) {
	blob, err := h.workspaces.Get(r.Context(), chi.URLParam(r, "token"))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeText(w, http.StatusOK, blob)
}

// PUT /workspace/{token}
func (h *WorkspaceHandler) Set(w http.ResponseWriter, r *http.Request) {
	blob, err := readBody(w, r, h.maxBody)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.workspaces.Set(r.Context(), chi.URLParam(r, "token"), blob); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
