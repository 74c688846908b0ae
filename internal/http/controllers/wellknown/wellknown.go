// Package wellknown serves the discovery documents: the JWKS and the
// RFC 8414 authorization-server metadata.
package wellknown

import (
	"net/http"
	"strings"

	"github.com/bastionlabs/bastion/internal/http/helpers"
	jwtx "github.com/bastionlabs/bastion/internal/jwt"
	"github.com/bastionlabs/bastion/internal/observability/logger"
)

// Controller serves /.well-known/*.
type Controller struct {
	tokens *jwtx.Service
	issuer string
	scopes []string
}

func New(tokens *jwtx.Service, issuer string, scopes []string) *Controller {
	return &Controller{tokens: tokens, issuer: strings.TrimRight(issuer, "/"), scopes: scopes}
}

// JWKS handles GET /.well-known/jwks.json.
func (c *Controller) JWKS(w http.ResponseWriter, r *http.Request) {
	doc, err := c.tokens.JWKS(r.Context())
	if err != nil {
		logger.From(r.Context()).Error("jwks unavailable", logger.Err(err))
		helpers.WriteJSON(w, http.StatusInternalServerError, map[string]string{"error": "server_error"})
		return
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	helpers.WriteJSON(w, http.StatusOK, doc)
}

// metadata is the RFC 8414 document.
type metadata struct {
	Issuer                            string   `json:"issuer"`
	AuthorizationEndpoint             string   `json:"authorization_endpoint"`
	TokenEndpoint                     string   `json:"token_endpoint"`
	RevocationEndpoint                string   `json:"revocation_endpoint"`
	IntrospectionEndpoint             string   `json:"introspection_endpoint"`
	JWKSURI                           string   `json:"jwks_uri"`
	ScopesSupported                   []string `json:"scopes_supported,omitempty"`
	ResponseTypesSupported            []string `json:"response_types_supported"`
	GrantTypesSupported               []string `json:"grant_types_supported"`
	CodeChallengeMethodsSupported     []string `json:"code_challenge_methods_supported"`
	TokenEndpointAuthMethodsSupported []string `json:"token_endpoint_auth_methods_supported"`
}

// Metadata handles GET /.well-known/oauth-authorization-server.
func (c *Controller) Metadata(w http.ResponseWriter, r *http.Request) {
	doc := metadata{
		Issuer:                            c.issuer,
		AuthorizationEndpoint:             c.issuer + "/oauth/authorize",
		TokenEndpoint:                     c.issuer + "/oauth/token",
		RevocationEndpoint:                c.issuer + "/oauth/revoke",
		IntrospectionEndpoint:             c.issuer + "/oauth/introspect",
		JWKSURI:                           c.issuer + "/.well-known/jwks.json",
		ScopesSupported:                   c.scopes,
		ResponseTypesSupported:            []string{"code"},
		GrantTypesSupported:               []string{"authorization_code", "client_credentials", "refresh_token"},
		CodeChallengeMethodsSupported:     []string{"S256", "plain"},
		TokenEndpointAuthMethodsSupported: []string{"client_secret_basic", "client_secret_post"},
	}
	w.Header().Set("Cache-Control", "public, max-age=300")
	helpers.WriteJSON(w, http.StatusOK, doc)
}
