// Package middlewares holds the HTTP middleware pipeline: request ID,
// structured request logging, panic recovery, the never-rejecting bearer
// gate, scope enforcement and rate limiting.
package middlewares

import (
	"crypto/rand"
	"encoding/hex"
	"net/http"
	"strings"
)

// Middleware decorates an http.Handler.
type Middleware func(http.Handler) http.Handler

// WithRequestID propagates the caller's X-Request-ID or generates one. The
// ID lands on the response header and in the context.
func WithRequestID() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			rid := strings.TrimSpace(r.Header.Get("X-Request-ID"))
			if rid == "" {
				var b [16]byte
				_, _ = rand.Read(b[:])
				rid = hex.EncodeToString(b[:])
			}
			w.Header().Set("X-Request-ID", rid)
			next.ServeHTTP(w, r.WithContext(setRequestID(r.Context(), rid)))
		})
	}
}
