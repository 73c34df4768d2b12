package middleware

import (
	"net/http"
	"time"

	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/marmos91/dittobundle/internal/logger"
)

// RequestLogger logs each request with the internal logger.
//
// It logs:
//   - Request start (DEBUG level): method, path, remote addr
//   - Request completion (INFO level): method, path, status, duration
//
// Probe and scrape paths complete at DEBUG to keep the log readable.
func RequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		requestID := chimw.GetReqID(r.Context())

		logger.Debug("API request started",
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"remote_addr", r.RemoteAddr,
		)

		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		args := []any{
			"request_id", requestID,
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			logger.KeyBytes, ww.BytesWritten(),
			logger.KeyDurationMs, time.Since(start).Milliseconds(),
		}
		if quiet(r.URL.Path) {
			logger.Debug("API request completed", args...)
			return
		}
		logger.Info("API request completed", args...)
	})
}

func quiet(path string) bool {
	switch path {
	case "/health", "/health/", "/health/ready", "/metrics":
		return true
	}
	return false
}
