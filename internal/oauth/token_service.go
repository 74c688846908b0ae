// Package oauth implements the authorization-server protocol core: the
// grant-type state machines, the interactive authorize/consent flow, and
// token revocation/introspection. Handlers are stateless; every invocation
// works through the store so concurrent requests never race on in-process
// copies.
package oauth

import (
	"context"
)

// Grant type identifiers on the token endpoint.
const (
	GrantAuthorizationCode = "authorization_code"
	GrantClientCredentials = "client_credentials"
	GrantRefreshToken      = "refresh_token"
)

// TokenService handles the token endpoint grants.
type TokenService interface {
	// ExchangeAuthorizationCode handles grant_type=authorization_code.
	ExchangeAuthorizationCode(ctx context.Context, req AuthCodeRequest) (*TokenResponse, error)

	// ExchangeClientCredentials handles grant_type=client_credentials.
	ExchangeClientCredentials(ctx context.Context, req ClientCredentialsRequest) (*TokenResponse, error)

	// ExchangeRefreshToken handles grant_type=refresh_token.
	ExchangeRefreshToken(ctx context.Context, req RefreshTokenRequest) (*TokenResponse, error)
}

// AuthCodeRequest carries the authorization_code grant parameters.
type AuthCodeRequest struct {
	Code         string
	RedirectURI  string
	CodeVerifier string
	Credentials
}

// ClientCredentialsRequest carries the client_credentials grant parameters.
type ClientCredentialsRequest struct {
	Scope string
	Credentials
}

// RefreshTokenRequest carries the refresh_token grant parameters.
type RefreshTokenRequest struct {
	RefreshToken string
	Scope        string
	Credentials
}

// TokenResponse is the RFC 6749 §5.1 success body.
type TokenResponse struct {
	AccessToken  string `json:"access_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int64  `json:"expires_in"`
	RefreshToken string `json:"refresh_token,omitempty"`
	Scope        string `json:"scope,omitempty"`
}
