package oauth

import (
	"context"
	"encoding/json"
	"time"

	"github.com/bastionlabs/bastion/internal/audit"
	"github.com/bastionlabs/bastion/internal/cache"
	"github.com/bastionlabs/bastion/internal/observability/logger"
	"github.com/bastionlabs/bastion/internal/scope"
	tokens "github.com/bastionlabs/bastion/internal/security/token"
	"github.com/bastionlabs/bastion/internal/store"
)

// ConsentService resolves the consent decision that completes an
// authorization request. The challenge token is one-shot: Approve and Deny
// both consume it.
type ConsentService interface {
	// Resolve returns the pending request for display on the consent page
	// without consuming the challenge.
	Resolve(ctx context.Context, challenge string) (*ConsentRequest, error)

	// Approve issues the authorization code, records the consent for the
	// skip-the-prompt optimization and returns the client redirect.
	Approve(ctx context.Context, challenge, userID string) (string, error)

	// Deny returns the access_denied redirect to the client.
	Deny(ctx context.Context, challenge string) (string, error)
}

// ConsentRequest is the pending authorization shown to the user.
type ConsentRequest struct {
	ClientID string   `json:"client_id"`
	Scopes   []string `json:"scopes"`
	State    string   `json:"state,omitempty"`
}

type consentService struct {
	store store.Storage
	cache cache.Client
}

// NewConsentService wires the consent decision endpoints.
func NewConsentService(d Deps) ConsentService {
	return &consentService{store: d.Store, cache: d.Cache}
}

func (s *consentService) Resolve(ctx context.Context, challenge string) (*ConsentRequest, error) {
	p, err := s.load(ctx, challenge, false)
	if err != nil {
		return nil, err
	}
	return &ConsentRequest{ClientID: p.ClientID, Scopes: p.Scopes, State: p.State}, nil
}

func (s *consentService) Approve(ctx context.Context, challenge, userID string) (string, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("oauth.consent.approve"))

	p, err := s.load(ctx, challenge, true)
	if err != nil {
		return "", err
	}
	if userID == "" {
		userID = p.UserID
	}
	if userID == "" {
		return "", E(CodeAccessDenied, "no authenticated user for consent")
	}
	p.UserID = userID

	// The client could have been deleted or disabled while the prompt was
	// open; re-check before minting anything.
	client, err := s.store.GetClient(ctx, p.ClientID)
	if err != nil {
		if notFound(err) {
			return "", E(CodeInvalidClient, "unknown client")
		}
		return "", E(CodeServerError, "internal error")
	}
	if !client.Active || !client.AllowsRedirectURI(p.RedirectURI) {
		return "", E(CodeInvalidClient, "client is no longer authorized")
	}

	redirect, err := issueAuthCode(ctx, s.store, *p)
	if err != nil {
		log.Error("code issuance failed", logger.Err(err))
		return "", E(CodeServerError, "internal error")
	}

	if err := s.store.UpsertConsent(ctx, &store.ConsentRecord{
		UserID:    userID,
		ClientID:  p.ClientID,
		Scopes:    p.Scopes,
		GrantedAt: time.Now().UTC(),
	}); err != nil {
		log.Error("consent persistence failed", logger.Err(err))
	}
	audit.Log(ctx, audit.EventConsentGranted,
		logger.ClientID(p.ClientID),
		logger.UserID(userID),
		logger.Scope(scope.Join(p.Scopes)),
	)
	log.Info("consent approved", logger.ClientID(p.ClientID), logger.UserID(userID))
	return redirect, nil
}

func (s *consentService) Deny(ctx context.Context, challenge string) (string, error) {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("oauth.consent.deny"))

	p, err := s.load(ctx, challenge, true)
	if err != nil {
		return "", err
	}
	audit.Log(ctx, audit.EventConsentDenied, logger.ClientID(p.ClientID), logger.UserID(p.UserID))
	log.Info("consent denied", logger.ClientID(p.ClientID))
	return errorRedirect(p.RedirectURI, CodeAccessDenied, "the user denied the request", p.State), nil
}

// load fetches the challenge payload, optionally consuming it.
func (s *consentService) load(ctx context.Context, challenge string, consume bool) (*consentPayload, error) {
	if challenge == "" {
		return nil, E(CodeInvalidRequest, "challenge is required")
	}
	key := cacheKeyPrefixConsent + tokens.SHA256Base64URL(challenge)
	raw, ok := s.cache.Get(ctx, key)
	if !ok {
		return nil, E(CodeInvalidRequest, "challenge is invalid or expired")
	}
	var p consentPayload
	if err := json.Unmarshal(raw, &p); err != nil {
		s.cache.Delete(ctx, key)
		return nil, E(CodeInvalidRequest, "challenge is invalid or expired")
	}
	if time.Now().After(p.ExpiresAt) {
		s.cache.Delete(ctx, key)
		return nil, E(CodeInvalidRequest, "challenge is invalid or expired")
	}
	if consume {
		s.cache.Delete(ctx, key)
	}
	return &p, nil
}
