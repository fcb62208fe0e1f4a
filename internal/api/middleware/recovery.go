package middleware

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"runtime/debug"
	"time"

	"github.com/johnnynv/issuesync/pkg/logger"
)

// Recovery turns a handler panic into a 500 with the API's JSON error body.
// If the handler already started the response only the panic is logged.
// http.ErrAbortHandler is re-raised so net/http can abort the connection.
func Recovery(log *logger.Entry) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
			defer func() {
				v := recover()
				if v == nil {
					return
				}
				if err, ok := v.(error); ok && errors.Is(err, http.ErrAbortHandler) {
					panic(v)
				}

				log.WithFields(logger.Fields{
					"panic":      fmt.Sprint(v),
					"stack":      string(debug.Stack()),
					"path":       r.URL.Path,
					"method":     r.Method,
					"request_id": w.Header().Get(RequestIDHeader),
				}).Error("Panic recovered in HTTP handler")

				if rec.wroteHeader {
					return
				}
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusInternalServerError)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"success":   false,
					"error":     "internal server error",
					"timestamp": time.Now(),
				})
			}()

			next.ServeHTTP(rec, r)
		})
	}
}
