package oauth

import (
	"context"

	"github.com/bastionlabs/bastion/internal/observability/logger"
	"github.com/bastionlabs/bastion/internal/scope"
	"github.com/bastionlabs/bastion/internal/store"
)

// IntrospectService implements RFC 7662 token introspection.
type IntrospectService interface {
	// Introspect always returns a result; invalid, expired or revoked
	// tokens come back as {active: false} rather than an error.
	Introspect(ctx context.Context, token string) *Introspection
}

// Introspection is the RFC 7662 response body.
type Introspection struct {
	Active    bool   `json:"active"`
	Scope     string `json:"scope,omitempty"`
	ClientID  string `json:"client_id,omitempty"`
	Username  string `json:"username,omitempty"`
	TokenType string `json:"token_type,omitempty"`
	Exp       int64  `json:"exp,omitempty"`
	Iat       int64  `json:"iat,omitempty"`
}

type introspectService struct {
	store store.Storage
}

// NewIntrospectService wires the introspection endpoint.
func NewIntrospectService(d Deps) IntrospectService {
	return &introspectService{store: d.Store}
}

// Introspect answers from storage, which is authoritative for revocation in
// both token formats; JWTs are persisted at issuance like opaque tokens.
func (s *introspectService) Introspect(ctx context.Context, token string) *Introspection {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("oauth.introspect"))

	if token == "" {
		return &Introspection{Active: false}
	}
	rec, err := s.store.GetToken(ctx, token)
	if err != nil {
		if !notFound(err) {
			log.Error("token lookup failed", logger.Err(err))
		}
		return &Introspection{Active: false}
	}
	if rec.Revoked {
		return &Introspection{Active: false}
	}
	return &Introspection{
		Active:    true,
		Scope:     scope.Join(rec.Scopes),
		ClientID:  rec.ClientID,
		Username:  rec.UserID,
		TokenType: "Bearer",
		Exp:       rec.ExpiresAt.Unix(),
		Iat:       rec.CreatedAt.Unix(),
	}
}
