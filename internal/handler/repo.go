package handler

import (
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/files"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/session"
)

// RepoHandler serves repositories, their files and file locks.
type RepoHandler struct {
	tokens  TokenService
	repos   RepoService
	locks   session.Locker
	files   FileService
	poller  PollService
	maxBody int64
	logger  *slog.Logger
}

// fileRef is the (token, repository, path) triple addressed by a file route.
type fileRef struct {
	token string
	repo  string
	path  string
}

func refFrom(r *http.Request) fileRef {
	return fileRef{
		token: chi.URLParam(r, "token"),
		repo:  chi.URLParam(r, "owner") + "/" + chi.URLParam(r, "repo"),
		path:  chi.URLParam(r, "*"),
	}
}

// Create registers a repository. The name comes from the path when present,
// otherwise from the request body.
// POST /repo/create/{token}[/{name}]
func (h *RepoHandler) Create(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	if name == "" {
		body, err := readBody(w, r, h.maxBody)
		if err != nil {
			writeError(w, r, h.logger, err)
			return
		}
		name = strings.TrimSpace(body)
	}

	slug, err := h.repos.Create(r.Context(), chi.URLParam(r, "token"), name)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeText(w, http.StatusOK, slug)
}

// FileNames answers the JSON array of paths written in a repository.
// GET /repo/file-names/{owner}/{repo}/{token}
func (h *RepoHandler) FileNames(w http.ResponseWriter, r *http.Request) {
	ref := refFrom(r)
	if _, err := h.tokens.ResolveIdentity(ref.token); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	paths, err := h.files.ListFiles(r.Context(), ref.repo)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, paths)
}

// GET /repo/file/{owner}/{repo}/{token}/*
func (h *RepoHandler) GetFile(w http.ResponseWriter, r *http.Request) {
	ref := refFrom(r)
	if _, err := h.tokens.ResolveIdentity(ref.token); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	rec, err := h.files.GetContents(r.Context(), ref.repo, ref.path)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.Header().Set(LastChangeHeader, strconv.FormatInt(rec.LastChange, 10))
	writeText(w, http.StatusOK, rec.Content)
}

// PutFile replaces a file's content. The caller must hold the file's lock.
// PUT /repo/file/{owner}/{repo}/{token}/*
func (h *RepoHandler) PutFile(w http.ResponseWriter, r *http.Request) {
	ref := refFrom(r)
	content, err := readBody(w, r, h.maxBody)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	marker, err := h.files.SetContents(r.Context(), ref.token, ref.repo, ref.path, content)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.Header().Set(LastChangeHeader, strconv.FormatInt(marker, 10))
	w.WriteHeader(http.StatusOK)
}

// PollFile answers whether a file changed after the marker in the body.
// GET|POST /repo/poll-file/{owner}/{repo}/{token}/*
func (h *RepoHandler) PollFile(w http.ResponseWriter, r *http.Request) {
	ref := refFrom(r)
	if _, err := h.tokens.ResolveIdentity(ref.token); err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	body, err := readBody(w, r, h.maxBody)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	since, err := files.ParseMarker(body)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}

	res, err := h.poller.Poll(r.Context(), ref.repo, ref.path, since)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, res)
}

// GET /repo/has-lock/{owner}/{repo}/{token}/*
func (h *RepoHandler) HasLock(w http.ResponseWriter, r *http.Request) {
	ref := refFrom(r)
	held, err := h.locks.HasLock(r.Context(), ref.token, ref.repo, ref.path)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeBool(w, held)
}

// RequestLock answers true when the lock was granted and false when the
// file is already locked.
// POST /repo/request-lock/{owner}/{repo}/{token}/*
func (h *RepoHandler) RequestLock(w http.ResponseWriter, r *http.Request) {
	ref := refFrom(r)
	granted, err := h.locks.RequestLock(r.Context(), ref.token, ref.repo, ref.path)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeBool(w, granted)
}

// POST /repo/relinquish-lock/{owner}/{repo}/{token}/*
func (h *RepoHandler) RelinquishLock(w http.ResponseWriter, r *http.Request) {
	ref := refFrom(r)
	if err := h.locks.RelinquishLock(r.Context(), ref.token, ref.repo, ref.path); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusOK)
}
