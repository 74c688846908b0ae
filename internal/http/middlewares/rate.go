package middlewares

import (
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/bastionlabs/bastion/internal/audit"
	"github.com/bastionlabs/bastion/internal/metrics"
	"github.com/bastionlabs/bastion/internal/observability/logger"
	"github.com/bastionlabs/bastion/internal/rate"
)

// RateKey builds the limiter key for a request.
type RateKey func(r *http.Request) string

// IPPathRateKey keys the window on caller IP + route, so hammering the
// token endpoint does not starve the authorize endpoint.
func IPPathRateKey(r *http.Request) string {
	return clientIP(r) + "|" + r.URL.Path
}

// ClientIDOrIPRateKey prefers the client_id form field so NATed clients do
// not share a bucket; falls back to IP.
func ClientIDOrIPRateKey(r *http.Request) string {
	if cid := r.PostFormValue("client_id"); cid != "" {
		return "client:" + cid + "|" + r.URL.Path
	}
	return IPPathRateKey(r)
}

// WithRateLimit rejects over-limit requests with 429 and a Retry-After
// header. Limiter errors fail open: the backend being down should not take
// the token endpoint down with it.
func WithRateLimit(l rate.Limiter, key RateKey) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res, err := l.Allow(r.Context(), key(r))
			if err != nil {
				logger.From(r.Context()).Error("rate limiter unavailable", logger.Err(err))
				next.ServeHTTP(w, r)
				return
			}
			if !res.Allowed {
				metrics.RateLimited.Inc()
				audit.Log(r.Context(), audit.EventRateLimited,
					logger.Path(r.URL.Path),
					logger.ClientIP(clientIP(r)),
				)
				retry := int(res.RetryAfter.Seconds())
				if retry < 1 {
					retry = 1
				}
				w.Header().Set("Retry-After", strconv.Itoa(retry))
				writeJSONError(w, http.StatusTooManyRequests, "slow_down", "rate limit exceeded")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// clientIP resolves the caller address, trusting X-Forwarded-For's first
// hop when present.
func clientIP(r *http.Request) string {
	if xff := r.Header.Get("X-Forwarded-For"); xff != "" {
		if first, _, ok := strings.Cut(xff, ","); ok {
			return strings.TrimSpace(first)
		}
		return strings.TrimSpace(xff)
	}
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
