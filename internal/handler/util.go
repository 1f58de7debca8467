package handler

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/middleware"
	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/model"
)

// LastChangeHeader carries the change marker of a file after a write.
const LastChangeHeader = "X-Last-Change"

func writeText(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	io.WriteString(w, body)
}

func writeBool(w http.ResponseWriter, b bool) {
	writeText(w, http.StatusOK, strconv.FormatBool(b))
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(v)
}

func writeHTML(w http.ResponseWriter, status int, page []byte) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(status)
	w.Write(page)
}

// statusFor maps the error taxonomy onto HTTP status codes. An unknown token
// is also unauthorized, so it is checked first.
func statusFor(err error) int {
	switch {
	case errors.Is(err, model.ErrUnknownToken):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrUnauthorized):
		return http.StatusUnauthorized
	case errors.Is(err, model.ErrInvalidName), errors.Is(err, model.ErrInvalidMarker):
		return http.StatusBadRequest
	case errors.Is(err, model.ErrRepositoryNotFound):
		return http.StatusNotFound
	case errors.Is(err, model.ErrNotLockHolder),
		errors.Is(err, model.ErrLockRequired),
		errors.Is(err, model.ErrDuplicateRepository),
		errors.Is(err, model.ErrAlreadyAuthenticated):
		return http.StatusConflict
	case errors.Is(err, model.ErrContentTooLarge):
		return http.StatusRequestEntityTooLarge
	default:
		return http.StatusInternalServerError
	}
}

// writeError answers with the status for err. Internal errors are logged
// and answered with a generic body.
func writeError(w http.ResponseWriter, r *http.Request, logger *slog.Logger, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		logger.ErrorContext(r.Context(), "request failed",
			slog.String("error", err.Error()),
			slog.String("path", middleware.RedactPath(r.URL.Path)),
			slog.String("request_id", middleware.RequestIDFromContext(r.Context())),
		)
		writeText(w, status, "internal server error")
		return
	}
	writeText(w, status, err.Error())
}

// readBody reads the whole request body, refusing more than limit bytes.
func readBody(w http.ResponseWriter, r *http.Request, limit int64) (string, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, limit))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return "", fmt.Errorf("body over %d bytes: %w", limit, model.ErrContentTooLarge)
		}
		return "", fmt.Errorf("read body: %w", err)
	}
	return string(body), nil
}
