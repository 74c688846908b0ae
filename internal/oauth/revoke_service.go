package oauth

import (
	"context"

	"github.com/bastionlabs/bastion/internal/audit"
	"github.com/bastionlabs/bastion/internal/observability/logger"
	"github.com/bastionlabs/bastion/internal/store"
)

// RevokeService implements RFC 7009 token revocation.
type RevokeService interface {
	// Revoke marks the token revoked. Idempotent and anti-enumeration: an
	// unknown token is not an error.
	Revoke(ctx context.Context, token string) error
}

type revokeService struct {
	store store.Storage
}

// NewRevokeService wires the revocation endpoint.
func NewRevokeService(d Deps) RevokeService {
	return &revokeService{store: d.Store}
}

func (s *revokeService) Revoke(ctx context.Context, token string) error {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("oauth.revoke"))

	if token == "" {
		return nil
	}
	rec, err := s.store.GetToken(ctx, token)
	if err != nil {
		if notFound(err) {
			return nil
		}
		log.Error("token lookup failed", logger.Err(err))
		return err
	}
	if err := s.store.RevokeToken(ctx, token); err != nil && !notFound(err) {
		log.Error("revocation failed", logger.Err(err), logger.TokenID(rec.ID))
		return err
	}
	// Revoking a refresh token takes its paired access token with it.
	if rec.Type == store.TokenTypeRefresh && rec.AccessTokenID != "" {
		if err := s.store.RevokeTokenByID(ctx, rec.AccessTokenID); err != nil && !notFound(err) {
			log.Error("paired access token revocation failed", logger.Err(err))
		}
	}
	audit.Log(ctx, audit.EventTokenRevoked,
		logger.ClientID(rec.ClientID),
		logger.UserID(rec.UserID),
		logger.TokenID(rec.ID),
	)
	log.Info("token revoked", logger.ClientID(rec.ClientID), logger.TokenID(rec.ID))
	return nil
}
