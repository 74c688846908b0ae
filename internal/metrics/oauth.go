// Package metrics holds the Prometheus instruments. They live in a
// standalone package so controllers and middlewares can share them without
// import cycles.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	HTTPRequestDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "http_request_duration_ms",
		Help:    "Request latency in milliseconds by route and status.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12),
	}, []string{"route", "status"})

	TokenRequests = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth_token_requests_total",
		Help: "Token endpoint requests by grant type and outcome.",
	}, []string{"grant_type", "outcome"})

	TokensIssued = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "oauth_tokens_issued_total",
		Help: "Access tokens issued by grant type.",
	}, []string{"grant_type"})

	RefreshReuseDetected = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oauth_refresh_reuse_detected_total",
		Help: "Refresh-token replays that triggered mass revocation.",
	})

	RateLimited = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "oauth_rate_limited_total",
		Help: "Requests rejected by the rate limiter.",
	})
)

// Register registers the instruments on the given registry (or the default
// if nil). AlreadyRegistered is tolerated so tests can re-wire freely.
func Register(reg prometheus.Registerer) error {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	for _, c := range []prometheus.Collector{
		HTTPRequestDuration,
		TokenRequests,
		TokensIssued,
		RefreshReuseDetected,
		RateLimited,
	} {
		if err := reg.Register(c); err != nil {
			if _, ok := err.(prometheus.AlreadyRegisteredError); !ok {
				return err
			}
		}
	}
	return nil
}
