package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/johnnynv/issuesync/pkg/logger"
)

// RequestIDHeader carries the request id back to the caller
const RequestIDHeader = "X-Request-ID"

// RequestLogger assigns every request an id, reusing the caller's
// X-Request-ID when present, and logs the outcome. The id is stored on the
// request context for handlers to pick up with RequestIDFrom. Probe
// endpoints log at debug so they do not flood the log.
func RequestLogger(log *logger.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			requestID := r.Header.Get(RequestIDHeader)
			if requestID == "" {
				requestID = uuid.NewString()
			}
			w.Header().Set(RequestIDHeader, requestID)
			r = r.WithContext(logger.WithContext(r.Context(), logger.LogContext{RequestID: requestID}))

			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			next.ServeHTTP(rec, r)

			entry := log.WithFields(logger.Fields{
				"request_id":  requestID,
				"method":      r.Method,
				"path":        r.URL.Path,
				"status":      rec.status,
				"bytes":       rec.bytes,
				"duration_ms": time.Since(start).Milliseconds(),
				"remote_addr": r.RemoteAddr,
				"user_agent":  r.UserAgent(),
			})
			switch {
			case rec.status >= http.StatusInternalServerError:
				entry.Error("HTTP request failed")
			case rec.status >= http.StatusBadRequest:
				entry.Warn("HTTP request rejected")
			case isProbe(r.URL.Path):
				entry.Debug("HTTP request completed")
			default:
				entry.Info("HTTP request completed")
			}
		})
	}
}

// RequestIDFrom returns the id RequestLogger stored on ctx
func RequestIDFrom(ctx context.Context) string {
	return logger.FromContext(ctx).RequestID
}

func isProbe(path string) bool {
	return path == "/health" || strings.HasPrefix(path, "/health/")
}

// statusRecorder remembers the status code and body size written through it
type statusRecorder struct {
	http.ResponseWriter
	status      int
	bytes       int
	wroteHeader bool
}

func (rw *statusRecorder) WriteHeader(code int) {
	if !rw.wroteHeader {
		rw.status = code
		rw.wroteHeader = true
	}
	rw.ResponseWriter.WriteHeader(code)
}

func (rw *statusRecorder) Write(b []byte) (int, error) {
	rw.wroteHeader = true
	n, err := rw.ResponseWriter.Write(b)
	rw.bytes += n
	return n, err
}
