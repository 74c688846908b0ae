package oauth

import (
	"context"

	"github.com/bastionlabs/bastion/internal/audit"
	"github.com/bastionlabs/bastion/internal/config"
	jwtx "github.com/bastionlabs/bastion/internal/jwt"
	"github.com/bastionlabs/bastion/internal/metrics"
	"github.com/bastionlabs/bastion/internal/observability/logger"
	"github.com/bastionlabs/bastion/internal/scope"
	tokens "github.com/bastionlabs/bastion/internal/security/token"
	"github.com/bastionlabs/bastion/internal/store"
)

type tokenService struct {
	store  store.Storage
	tokens *jwtx.Service
	policy Policy
}

// NewTokenService wires the token endpoint grants.
func NewTokenService(d Deps) TokenService {
	return &tokenService{store: d.Store, tokens: d.Tokens, policy: d.Policy}
}

// ExchangeAuthorizationCode validates in RFC 6749 §4.1.3 / RFC 7636 order.
// The code is consumed before the client is authenticated; consumption is
// atomic, so a failed exchange burns the code rather than leaving it
// replayable.
func (s *tokenService) ExchangeAuthorizationCode(ctx context.Context, req AuthCodeRequest) (*TokenResponse, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("oauth.token.authcode"))

	if req.Code == "" || req.RedirectURI == "" {
		return nil, E(CodeInvalidRequest, "code and redirect_uri are required")
	}

	ac, err := s.store.ConsumeAuthCode(ctx, req.Code)
	if err != nil {
		if notFound(err) {
			log.Warn("authorization code unknown or expired")
			return nil, E(CodeInvalidGrant, "authorization code is invalid or expired")
		}
		log.Error("code consumption failed", logger.Err(err))
		return nil, E(CodeServerError, "internal error")
	}
	audit.Log(ctx, audit.EventCodeConsumed, logger.ClientID(ac.ClientID), logger.UserID(ac.UserID))

	client, err := s.store.GetClient(ctx, ac.ClientID)
	if err != nil {
		if notFound(err) {
			log.Warn("client referenced by code not found", logger.ClientID(ac.ClientID))
			return nil, E(CodeInvalidClient, "unknown client")
		}
		return nil, E(CodeServerError, "internal error")
	}

	if req.ClientID != "" && req.ClientID != ac.ClientID {
		log.Warn("client_id does not match code", logger.ClientID(req.ClientID))
		return nil, E(CodeInvalidGrant, "client_id does not match authorization code")
	}
	if req.RedirectURI != ac.RedirectURI {
		log.Warn("redirect_uri mismatch")
		return nil, E(CodeInvalidGrant, "redirect_uri does not match authorization request")
	}

	if err := authenticateClient(ctx, client, req.Secret); err != nil {
		return nil, err
	}
	if !client.Active {
		return nil, E(CodeInvalidClient, "client is disabled")
	}
	if !client.AllowsGrant(GrantAuthorizationCode) {
		return nil, E(CodeUnauthorizedClient, "client is not authorized for the authorization_code grant")
	}

	if ac.CodeChallenge != "" {
		if req.CodeVerifier == "" {
			return nil, E(CodeInvalidGrant, "code_verifier is required")
		}
		if !tokens.VerifyPKCE(req.CodeVerifier, ac.CodeChallenge, ac.CodeChallengeMethod) {
			log.Warn("PKCE verification failed", logger.ClientID(client.ClientID))
			return nil, E(CodeInvalidGrant, "PKCE verification failed")
		}
	} else if s.policy.pkceRequired(client) {
		log.Warn("code issued without mandatory PKCE challenge", logger.ClientID(client.ClientID))
		return nil, E(CodeInvalidGrant, "PKCE is required for this client")
	}

	resp, _, err := s.mint(ctx, client.ClientID, ac.Scopes, ac.UserID, true)
	if err != nil {
		return nil, err
	}
	log.Info("authorization_code exchanged", logger.ClientID(client.ClientID), logger.UserID(ac.UserID))
	return resp, nil
}

// ExchangeClientCredentials handles the machine-to-machine grant.
func (s *tokenService) ExchangeClientCredentials(ctx context.Context, req ClientCredentialsRequest) (*TokenResponse, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("oauth.token.clientcreds"))

	if req.ClientID == "" {
		return nil, E(CodeInvalidClient, "client authentication required")
	}
	client, err := s.store.GetClient(ctx, req.ClientID)
	if err != nil {
		if notFound(err) {
			audit.Log(ctx, audit.EventClientAuthFailed, logger.ClientID(req.ClientID))
			return nil, E(CodeInvalidClient, "unknown client")
		}
		return nil, E(CodeServerError, "internal error")
	}
	if !client.Confidential || client.SecretHash == "" {
		log.Warn("public client attempted client_credentials", logger.ClientID(client.ClientID))
		return nil, E(CodeUnauthorizedClient, "client_credentials requires a confidential client")
	}
	if err := authenticateClient(ctx, client, req.Secret); err != nil {
		return nil, err
	}
	if !client.Active {
		return nil, E(CodeInvalidClient, "client is disabled")
	}
	if !client.AllowsGrant(GrantClientCredentials) {
		return nil, E(CodeUnauthorizedClient, "client is not authorized for the client_credentials grant")
	}

	granted := client.Scopes
	if requested := scope.Parse(req.Scope); len(requested) > 0 {
		res := scope.Validate(requested, client.Scopes)
		if !res.Valid() {
			return nil, E(CodeInvalidScope, "scopes not allowed for client: "+scope.Join(res.Invalid))
		}
		granted = res.Filtered
	}

	// A refresh token is not required by RFC 6749 §4.4.3 but is issued
	// here so every grant returns the same pair shape.
	resp, _, err := s.mint(ctx, client.ClientID, granted, "", true)
	if err != nil {
		return nil, err
	}
	log.Info("client_credentials token issued", logger.ClientID(client.ClientID), logger.Scope(resp.Scope))
	return resp, nil
}

// ExchangeRefreshToken rotates refresh tokens and runs reuse detection: a
// revoked refresh token presented again is treated as theft and every
// token of that client is revoked.
func (s *tokenService) ExchangeRefreshToken(ctx context.Context, req RefreshTokenRequest) (*TokenResponse, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("oauth.token.refresh"))

	if req.RefreshToken == "" {
		return nil, E(CodeInvalidRequest, "refresh_token is required")
	}

	rec, err := s.store.GetToken(ctx, req.RefreshToken)
	if err != nil {
		if notFound(err) {
			log.Warn("refresh token unknown or expired")
			return nil, E(CodeInvalidGrant, "refresh token is invalid or expired")
		}
		return nil, E(CodeServerError, "internal error")
	}
	if rec.Type != store.TokenTypeRefresh {
		return nil, E(CodeInvalidGrant, "token is not a refresh token")
	}

	if rec.Revoked {
		if s.policy.ReuseDetection {
			metrics.RefreshReuseDetected.Inc()
			n, rerr := s.store.RevokeAllClientTokens(ctx, rec.ClientID)
			if rerr != nil {
				log.Error("mass revocation failed", logger.Err(rerr), logger.ClientID(rec.ClientID))
			}
			audit.Log(ctx, audit.EventRefreshReuse,
				logger.ClientID(rec.ClientID),
				logger.UserID(rec.UserID),
				logger.Count(n),
			)
			log.Warn("refresh token reuse detected", logger.ClientID(rec.ClientID), logger.Count(n))
			return nil, E(CodeInvalidGrant, "refresh token reuse detected; all tokens for this client have been revoked")
		}
		return nil, E(CodeInvalidGrant, "refresh token has been revoked")
	}

	client, err := s.store.GetClient(ctx, rec.ClientID)
	if err != nil {
		if notFound(err) {
			return nil, E(CodeInvalidClient, "unknown client")
		}
		return nil, E(CodeServerError, "internal error")
	}
	if req.ClientID != "" && req.ClientID != rec.ClientID {
		log.Warn("client_id does not match refresh token", logger.ClientID(req.ClientID))
		return nil, E(CodeInvalidGrant, "refresh token was issued to a different client")
	}
	if err := authenticateClient(ctx, client, req.Secret); err != nil {
		return nil, err
	}
	if !client.Active {
		return nil, E(CodeInvalidClient, "client is disabled")
	}
	if !client.AllowsGrant(GrantRefreshToken) {
		return nil, E(CodeUnauthorizedClient, "client is not authorized for the refresh_token grant")
	}

	// Narrowing the originally granted scopes is allowed; widening is not.
	granted := rec.Scopes
	if requested := scope.Parse(req.Scope); len(requested) > 0 {
		res := scope.Validate(requested, rec.Scopes)
		if !res.Valid() {
			return nil, E(CodeInvalidScope, "scopes exceed original grant: "+scope.Join(res.Invalid))
		}
		granted = res.Filtered
	}

	resp, accessID, err := s.mint(ctx, client.ClientID, granted, rec.UserID, s.policy.RefreshRotation)
	if err != nil {
		return nil, err
	}

	if s.policy.RefreshRotation {
		if err := s.store.RevokeToken(ctx, req.RefreshToken); err != nil && !notFound(err) {
			log.Error("old refresh token revocation failed", logger.Err(err))
		}
	} else {
		// The surviving refresh token must track its newest access token,
		// or a later revocation cascade would hit a long-dead record.
		if err := s.store.UpdateTokenPairing(ctx, rec.ID, accessID); err != nil && !notFound(err) {
			log.Error("refresh token re-pairing failed", logger.Err(err))
		}
	}
	// The previous paired access token dies with the exchange regardless.
	if rec.AccessTokenID != "" {
		if err := s.store.RevokeTokenByID(ctx, rec.AccessTokenID); err != nil && !notFound(err) {
			log.Error("paired access token revocation failed", logger.Err(err))
		}
	}

	log.Info("refresh_token exchanged", logger.ClientID(client.ClientID), logger.UserID(rec.UserID))
	return resp, nil
}

// mint generates a pair, persists it and builds the wire response. When
// withRefresh is false the refresh token is neither stored nor returned.
// The second return value is the persisted access record's ID.
func (s *tokenService) mint(ctx context.Context, clientID string, scopes []string, userID string, withRefresh bool) (*TokenResponse, string, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("oauth.token.mint"))

	pair, err := s.tokens.GenerateTokenPair(ctx, clientID, scopes, userID)
	if err != nil {
		log.Error("token pair generation failed", logger.Err(err))
		return nil, "", E(CodeServerError, "internal error")
	}
	if err := s.store.SaveToken(ctx, pair.AccessRecord); err != nil {
		log.Error("access token persistence failed", logger.Err(err))
		return nil, "", E(CodeServerError, "internal error")
	}
	if withRefresh {
		if err := s.store.SaveToken(ctx, pair.RefreshRecord); err != nil {
			log.Error("refresh token persistence failed", logger.Err(err))
			return nil, "", E(CodeServerError, "internal error")
		}
	}
	audit.Log(ctx, audit.EventTokenIssued,
		logger.ClientID(clientID),
		logger.UserID(userID),
		logger.Scope(scope.Join(scopes)),
		logger.TokenID(pair.AccessRecord.ID),
	)
	resp := &TokenResponse{
		AccessToken: pair.AccessToken,
		TokenType:   pair.TokenType,
		ExpiresIn:   pair.ExpiresIn,
		Scope:       scope.Join(scopes),
	}
	if withRefresh {
		resp.RefreshToken = pair.RefreshToken
	}
	return resp, pair.AccessRecord.ID, nil
}

// pkceRequired applies the configured policy to a client.
func (p Policy) pkceRequired(client *store.Client) bool {
	switch p.PKCE {
	case config.PKCEAlways:
		return true
	case config.PKCEPublicClients:
		return !client.Confidential
	default:
		return false
	}
}
