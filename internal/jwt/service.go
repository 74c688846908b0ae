// Package jwt mints and verifies access/refresh token pairs and owns the
// signing-key lifecycle. Persistence of the resulting records belongs to
// the caller.
package jwt

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/bastionlabs/bastion/internal/config"
	"github.com/bastionlabs/bastion/internal/observability/logger"
	"github.com/bastionlabs/bastion/internal/scope"
	tokens "github.com/bastionlabs/bastion/internal/security/token"
	"github.com/bastionlabs/bastion/internal/store"
	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const opaqueTokenBytes = 32

// Options configures a Service. Zero TTLs fall back to sane defaults.
type Options struct {
	Issuer     string
	Audience   string
	Format     config.TokenFormat
	Algorithm  config.SigningAlg
	AccessTTL  time.Duration
	RefreshTTL time.Duration
}

// Claims is the verified content of a JWT access token.
type Claims struct {
	Subject   string
	ClientID  string
	UserID    string
	Scopes    []string
	TokenID   string
	ExpiresAt time.Time
	IssuedAt  time.Time
}

// Pair is a freshly minted access+refresh pair with records ready to store.
type Pair struct {
	AccessToken   string
	RefreshToken  string
	AccessRecord  *store.TokenRecord
	RefreshRecord *store.TokenRecord
	ExpiresIn     int64
	TokenType     string
}

// Service signs and verifies tokens using the active key; retiring keys
// stay available for verification until rotated out.
type Service struct {
	opts Options

	mu       sync.RWMutex
	active   *signingKey
	retiring []*signingKey
}

func NewService(opts Options) *Service {
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = 15 * time.Minute
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = 30 * 24 * time.Hour
	}
	if opts.Format == "" {
		opts.Format = config.TokenFormatJWT
	}
	if opts.Algorithm == "" {
		opts.Algorithm = config.SigningRS256
	}
	return &Service{opts: opts}
}

// Initialize generates the signing key pair. Idempotent: after the first
// successful call it is a no-op. Callers that need signing lazily invoke
// it before use.
func (s *Service) Initialize(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		return nil
	}
	k, err := newSigningKey(s.opts.Algorithm)
	if err != nil {
		return err
	}
	s.active = k
	logger.From(ctx).Info("signing key initialized",
		logger.Component("jwt"),
		logger.Key(k.KID),
		logger.String("alg", string(k.Alg)),
	)
	return nil
}

// Rotate generates a fresh active key and keeps the previous one as
// retiring so outstanding tokens still verify until they expire.
func (s *Service) Rotate(ctx context.Context) error {
	k, err := newSigningKey(s.opts.Algorithm)
	if err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.active != nil {
		prev := *s.active
		prev.Status = keyRetiring
		s.retiring = append(s.retiring, &prev)
	}
	s.active = k
	logger.From(ctx).Info("signing key rotated",
		logger.Component("jwt"),
		logger.Key(k.KID),
		logger.Count(len(s.retiring)),
	)
	return nil
}

// GenerateTokenPair mints an access+refresh pair for the client. userID is
// empty for machine-to-machine grants. Records are returned with the raw
// token values; storage backends digest them at rest.
func (s *Service) GenerateTokenPair(ctx context.Context, clientID string, scopes []string, userID string) (*Pair, error) {
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	accessExp := now.Add(s.opts.AccessTTL)
	refreshExp := now.Add(s.opts.RefreshTTL)

	accessID := uuid.NewString()
	var access string
	var err error
	if s.opts.Format == config.TokenFormatJWT {
		access, err = s.signAccess(accessID, clientID, userID, scopes, now, accessExp)
	} else {
		access, err = tokens.GenerateOpaque(opaqueTokenBytes)
	}
	if err != nil {
		return nil, err
	}

	// Refresh tokens are opaque regardless of the access format.
	refresh, err := tokens.GenerateOpaque(opaqueTokenBytes)
	if err != nil {
		return nil, err
	}

	accessRec := &store.TokenRecord{
		ID:        accessID,
		Token:     access,
		Type:      store.TokenTypeAccess,
		ClientID:  clientID,
		UserID:    userID,
		Scopes:    scopes,
		ExpiresAt: accessExp,
		CreatedAt: now,
	}
	refreshRec := &store.TokenRecord{
		ID:            uuid.NewString(),
		Token:         refresh,
		Type:          store.TokenTypeRefresh,
		ClientID:      clientID,
		UserID:        userID,
		Scopes:        scopes,
		ExpiresAt:     refreshExp,
		CreatedAt:     now,
		AccessTokenID: accessID,
	}
	return &Pair{
		AccessToken:   access,
		RefreshToken:  refresh,
		AccessRecord:  accessRec,
		RefreshRecord: refreshRec,
		ExpiresIn:     int64(s.opts.AccessTTL / time.Second),
		TokenType:     "Bearer",
	}, nil
}

func (s *Service) signAccess(jti, clientID, userID string, scopes []string, iat, exp time.Time) (string, error) {
	s.mu.RLock()
	k := s.active
	s.mu.RUnlock()
	if k == nil {
		return "", fmt.Errorf("signing key not initialized")
	}
	sub := clientID
	if userID != "" {
		sub = userID
	}
	claims := jwtv5.MapClaims{
		"iss":       s.opts.Issuer,
		"sub":       sub,
		"aud":       s.opts.Audience,
		"iat":       iat.Unix(),
		"nbf":       iat.Unix(),
		"exp":       exp.Unix(),
		"jti":       jti,
		"client_id": clientID,
		"scope":     scope.Join(scopes),
	}
	tk := jwtv5.NewWithClaims(k.method(), claims)
	tk.Header["kid"] = k.KID
	tk.Header["typ"] = "JWT"
	return tk.SignedString(k.Private)
}

// VerifyAccessToken checks signature, issuer and audience. It returns nil
// for any failure, and always nil in opaque mode; callers fall back to a
// storage lookup.
func (s *Service) VerifyAccessToken(ctx context.Context, raw string) *Claims {
	if s.opts.Format != config.TokenFormatJWT {
		return nil
	}
	if err := s.Initialize(ctx); err != nil {
		return nil
	}
	tk, err := jwtv5.Parse(raw, s.keyfunc(),
		jwtv5.WithValidMethods([]string{string(s.opts.Algorithm)}),
		jwtv5.WithIssuer(s.opts.Issuer),
		jwtv5.WithAudience(s.opts.Audience),
		jwtv5.WithExpirationRequired(),
	)
	if err != nil || !tk.Valid {
		return nil
	}
	mc, ok := tk.Claims.(jwtv5.MapClaims)
	if !ok {
		return nil
	}
	out := &Claims{}
	out.Subject, _ = mc["sub"].(string)
	out.ClientID, _ = mc["client_id"].(string)
	out.TokenID, _ = mc["jti"].(string)
	if sc, ok := mc["scope"].(string); ok {
		out.Scopes = scope.Parse(sc)
	}
	if out.Subject != out.ClientID {
		out.UserID = out.Subject
	}
	if v, err := mc.GetExpirationTime(); err == nil && v != nil {
		out.ExpiresAt = v.Time
	}
	if v, err := mc.GetIssuedAt(); err == nil && v != nil {
		out.IssuedAt = v.Time
	}
	return out
}

// keyfunc resolves the public key by kid across active and retiring keys.
func (s *Service) keyfunc() jwtv5.Keyfunc {
	return func(t *jwtv5.Token) (any, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		kid, _ := t.Header["kid"].(string)
		if kid == "" {
			if s.active == nil {
				return nil, fmt.Errorf("no signing key")
			}
			return s.active.Public, nil
		}
		if s.active != nil && s.active.KID == kid {
			return s.active.Public, nil
		}
		for _, k := range s.retiring {
			if k.KID == kid {
				return k.Public, nil
			}
		}
		return nil, fmt.Errorf("unknown kid %q", kid)
	}
}

// JWKS returns the public keys (active first, then retiring). No private
// material is ever included.
func (s *Service) JWKS(ctx context.Context) (*JWKS, error) {
	if err := s.Initialize(ctx); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	doc := &JWKS{Keys: make([]JWK, 0, 1+len(s.retiring))}
	doc.Keys = append(doc.Keys, s.active.jwk())
	for _, k := range s.retiring {
		doc.Keys = append(doc.Keys, k.jwk())
	}
	return doc, nil
}
