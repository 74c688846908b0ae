package oauth

import (
	"github.com/bastionlabs/bastion/internal/cache"
	"github.com/bastionlabs/bastion/internal/config"
	jwtx "github.com/bastionlabs/bastion/internal/jwt"
	"github.com/bastionlabs/bastion/internal/store"
)

// Policy is the protocol behavior knobs shared by the services.
type Policy struct {
	// PKCE controls when a code_challenge is mandatory.
	PKCE config.PKCERequirement
	// RefreshRotation revokes the presented refresh token and issues a
	// fresh one on every refresh exchange.
	RefreshRotation bool
	// ReuseDetection treats a revoked refresh token presented again as a
	// stolen-token signal and mass-revokes the client.
	ReuseDetection bool
	// ScopeCatalog is the server-wide set of known scopes.
	ScopeCatalog []string
	// ConsentURL is the interactive consent page the authorize endpoint
	// hands off to.
	ConsentURL string
}

// Deps are the collaborators every service draws from.
type Deps struct {
	Store  store.Storage
	Tokens *jwtx.Service
	Cache  cache.Client
	Policy Policy
}

// Services bundles the protocol services for the transport layer.
type Services struct {
	Token      TokenService
	Authorize  AuthorizeService
	Consent    ConsentService
	Revoke     RevokeService
	Introspect IntrospectService
}

// NewServices wires the full protocol core.
func NewServices(d Deps) *Services {
	return &Services{
		Token:      NewTokenService(d),
		Authorize:  NewAuthorizeService(d),
		Consent:    NewConsentService(d),
		Revoke:     NewRevokeService(d),
		Introspect: NewIntrospectService(d),
	}
}
