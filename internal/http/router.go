// Package http wires the OAuth endpoints, admin API and operational
// surfaces into a single chi router.
package http

import (
	stdhttp "net/http"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	adminctrl "github.com/bastionlabs/bastion/internal/http/controllers/admin"
	healthctrl "github.com/bastionlabs/bastion/internal/http/controllers/health"
	oauthctrl "github.com/bastionlabs/bastion/internal/http/controllers/oauth"
	wellknownctrl "github.com/bastionlabs/bastion/internal/http/controllers/wellknown"
	"github.com/bastionlabs/bastion/internal/http/middlewares"
	jwtx "github.com/bastionlabs/bastion/internal/jwt"
	"github.com/bastionlabs/bastion/internal/oauth"
	"github.com/bastionlabs/bastion/internal/rate"
	"github.com/bastionlabs/bastion/internal/store"
)

// RouterDeps carries everything the router mounts. Limiter is optional;
// when nil the OAuth endpoints run unthrottled.
type RouterDeps struct {
	Store        store.Storage
	Tokens       *jwtx.Service
	Services     *oauth.Services
	Limiter      rate.Limiter
	Issuer       string
	ScopeCatalog []string
}

func NewRouter(d RouterDeps) stdhttp.Handler {
	token := oauthctrl.NewTokenController(d.Services.Token)
	authorize := oauthctrl.NewAuthorizeController(d.Services.Authorize)
	consent := oauthctrl.NewConsentController(d.Services.Consent)
	revoke := oauthctrl.NewRevokeController(d.Services.Revoke)
	introspect := oauthctrl.NewIntrospectController(d.Services.Introspect)
	wellknown := wellknownctrl.New(d.Tokens, d.Issuer, d.ScopeCatalog)
	clients := adminctrl.NewClientsController(d.Store, d.ScopeCatalog)
	users := adminctrl.NewUsersController(d.Store)
	health := healthctrl.New(d.Store)

	passthrough := middlewares.Middleware(func(next stdhttp.Handler) stdhttp.Handler { return next })
	byClient, byIP := passthrough, passthrough
	if d.Limiter != nil {
		byClient = middlewares.WithRateLimit(d.Limiter, middlewares.ClientIDOrIPRateKey)
		byIP = middlewares.WithRateLimit(d.Limiter, middlewares.IPPathRateKey)
	}

	r := chi.NewRouter()
	r.Use(middlewares.WithRequestID())
	r.Use(middlewares.WithLogging())
	r.Use(middlewares.WithRecover())
	r.Use(middlewares.BearerGate(d.Tokens, d.Store))

	r.Route("/oauth", func(r chi.Router) {
		r.With(byClient).Post("/token", token.Token)
		r.With(byIP).Get("/authorize", authorize.Authorize)
		r.Get("/consent", consent.Pending)
		r.Post("/consent", consent.Decide)
		r.Post("/revoke", revoke.Revoke)
		r.Post("/introspect", introspect.Introspect)
	})

	r.Get("/.well-known/jwks.json", wellknown.JWKS)
	r.Get("/.well-known/oauth-authorization-server", wellknown.Metadata)

	r.Route("/admin", func(r chi.Router) {
		r.Use(middlewares.RequireAuth())
		r.With(middlewares.RequireScope("clients:read")).Get("/clients", clients.List)
		r.With(middlewares.RequireScope("clients:read")).Get("/clients/{clientID}", clients.Get)
		r.With(middlewares.RequireScope("clients:write")).Post("/clients", clients.Create)
		r.With(middlewares.RequireScope("clients:write")).Put("/clients/{clientID}", clients.Update)
		r.With(middlewares.RequireScope("clients:write")).Delete("/clients/{clientID}", clients.Delete)
		r.With(middlewares.RequireScope("users:write")).Post("/users/{userID}/revoke", users.RevokeTokens)
		r.With(middlewares.RequireScope("users:write")).Delete("/users/{userID}/consents/{clientID}", users.DeleteConsent)
	})

	r.Get("/healthz", health.Live)
	r.Get("/readyz", health.Ready)
	r.Method(stdhttp.MethodGet, "/metrics", promhttp.Handler())

	return r
}
