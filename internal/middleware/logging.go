package middleware

import (
	"log/slog"
	"net/http"
	"regexp"
	"time"

	"github.com/dubious-developments/UnSHACLed-collaboration-server/internal/metrics"
)

// tokenPattern matches token ids embedded in request paths.
var tokenPattern = regexp.MustCompile(`[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}`)

// RedactPath keeps only the first 8 characters of every token id in path.
func RedactPath(path string) string {
	return tokenPattern.ReplaceAllStringFunc(path, func(tok string) string {
		return tok[:8] + "*"
	})
}

// TokenFromPath returns the first token id found in path.
func TokenFromPath(path string) (string, bool) {
	tok := tokenPattern.FindString(path)
	return tok, tok != ""
}

type statusRecorder struct {
	http.ResponseWriter
	statusCode int
	written    bool
}

func (sr *statusRecorder) WriteHeader(code int) {
	if !sr.written {
		sr.statusCode = code
		sr.written = true
	}
	sr.ResponseWriter.WriteHeader(code)
}

func (sr *statusRecorder) Write(b []byte) (int, error) {
	if !sr.written {
		sr.statusCode = http.StatusOK
		sr.written = true
	}
	return sr.ResponseWriter.Write(b)
}

// Unwrap lets http.ResponseController reach the underlying writer.
func (sr *statusRecorder) Unwrap() http.ResponseWriter {
	return sr.ResponseWriter
}

// NewLoggingMiddleware logs one http_request record per request and reports
// its status and latency to rec.
func NewLoggingMiddleware(logger *slog.Logger, rec metrics.Recorder) func(next http.Handler) http.Handler {
	if rec == nil {
		rec = metrics.Nop{}
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			sr := &statusRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(sr, r)

			duration := time.Since(start)
			rec.RecordHTTPStatus(sr.statusCode)
			rec.RecordRequestLatency(duration)

			attrs := []slog.Attr{
				slog.String("method", r.Method),
				slog.String("path", RedactPath(r.URL.Path)),
				slog.Int("status", sr.statusCode),
				slog.Float64("duration_ms", float64(duration.Nanoseconds())/float64(time.Millisecond)),
			}
			if id := RequestIDFromContext(r.Context()); id != "" {
				attrs = append(attrs, slog.String("request_id", id))
			}

			level := slog.LevelInfo
			if sr.statusCode >= 500 {
				level = slog.LevelError
			} else if sr.statusCode >= 400 {
				level = slog.LevelWarn
			}
			logger.LogAttrs(r.Context(), level, "http_request", attrs...)
		})
	}
}
