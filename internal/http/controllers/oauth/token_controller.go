// Package oauth holds the controllers for the protocol endpoints. They
// normalize the HTTP surface and delegate every decision to the services.
package oauth

import (
	"net/http"

	"github.com/bastionlabs/bastion/internal/http/helpers"
	"github.com/bastionlabs/bastion/internal/metrics"
	"github.com/bastionlabs/bastion/internal/oauth"
	"github.com/bastionlabs/bastion/internal/observability/logger"
)

// TokenController handles POST /oauth/token.
type TokenController struct {
	service oauth.TokenService
}

func NewTokenController(s oauth.TokenService) *TokenController {
	return &TokenController{service: s}
}

func (c *TokenController) Token(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	log := logger.From(ctx).With(logger.Layer("controller"), logger.Op("oauth.token"))

	if err := helpers.ParseBody(w, r); err != nil {
		log.Warn("body parse failed", logger.Err(err))
		helpers.WriteOAuthError(w, oauth.E(oauth.CodeInvalidRequest, "malformed request body"))
		return
	}

	grantType := helpers.FormValue(r, "grant_type")
	creds := oauth.CredentialsFromRequest(r)

	var resp *oauth.TokenResponse
	var err error
	switch grantType {
	case oauth.GrantAuthorizationCode:
		resp, err = c.service.ExchangeAuthorizationCode(ctx, oauth.AuthCodeRequest{
			Code:         helpers.FormValue(r, "code"),
			RedirectURI:  helpers.FormValue(r, "redirect_uri"),
			CodeVerifier: helpers.FormValue(r, "code_verifier"),
			Credentials:  creds,
		})
	case oauth.GrantClientCredentials:
		resp, err = c.service.ExchangeClientCredentials(ctx, oauth.ClientCredentialsRequest{
			Scope:       helpers.FormValue(r, "scope"),
			Credentials: creds,
		})
	case oauth.GrantRefreshToken:
		resp, err = c.service.ExchangeRefreshToken(ctx, oauth.RefreshTokenRequest{
			RefreshToken: helpers.FormValue(r, "refresh_token"),
			Scope:        helpers.FormValue(r, "scope"),
			Credentials:  creds,
		})
	case "":
		helpers.WriteOAuthError(w, oauth.E(oauth.CodeInvalidRequest, "grant_type is required"))
		return
	default:
		// Request-supplied values never become label values; an attacker
		// could mint unbounded series otherwise.
		metrics.TokenRequests.WithLabelValues("unknown", "unsupported").Inc()
		helpers.WriteOAuthError(w, oauth.E(oauth.CodeUnsupportedGrantType, "grant type "+grantType+" is not supported"))
		return
	}

	if err != nil {
		metrics.TokenRequests.WithLabelValues(grantType, oauth.AsError(err).Code).Inc()
		helpers.WriteOAuthError(w, err)
		return
	}
	metrics.TokenRequests.WithLabelValues(grantType, "success").Inc()
	metrics.TokensIssued.WithLabelValues(grantType).Inc()

	// RFC 6749 §5.1: token responses must not be cached.
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("Pragma", "no-cache")
	helpers.WriteJSON(w, http.StatusOK, resp)
}
