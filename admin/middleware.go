package admin

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"net/http"
)

type ctxKey int

const loggerKey ctxKey = iota

// securityHeaders sets the response headers every admin reply carries. The
// surface serves JSON only, so the policy denies everything else.
func securityHeaders(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h := w.Header()
		h.Set("X-Content-Type-Options", "nosniff")
		h.Set("X-Frame-Options", "DENY")
		h.Set("Referrer-Policy", "no-referrer")
		h.Set("Content-Security-Policy", "default-src 'none'; frame-ancestors 'none'")
		h.Set("Cache-Control", "no-store")
		next.ServeHTTP(w, r)
	})
}

// traceID tags each request with a short random id, echoed in X-Trace-ID and
// attached to a per-request logger.
func traceID(base *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			id := make([]byte, 4)
			rand.Read(id)
			trace := hex.EncodeToString(id)
			w.Header().Set("X-Trace-ID", trace)

			logger := base.With("trace_id", trace, "method", r.Method, "path", r.URL.Path)
			logger.Debug("admin: request", "remote_addr", r.RemoteAddr)
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), loggerKey, logger)))
		})
	}
}

func requestLogger(ctx context.Context) *slog.Logger {
	if l, ok := ctx.Value(loggerKey).(*slog.Logger); ok {
		return l
	}
	return slog.Default()
}
