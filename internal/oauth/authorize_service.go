package oauth

import (
	"context"
	"encoding/json"
	"net/url"
	"time"

	"github.com/bastionlabs/bastion/internal/audit"
	"github.com/bastionlabs/bastion/internal/cache"
	"github.com/bastionlabs/bastion/internal/observability/logger"
	"github.com/bastionlabs/bastion/internal/scope"
	tokens "github.com/bastionlabs/bastion/internal/security/token"
	"github.com/bastionlabs/bastion/internal/store"
)

const (
	cacheKeyPrefixConsent = "consent:"

	authCodeTTL         = 10 * time.Minute
	consentChallengeTTL = 10 * time.Minute
)

// AuthorizeRequest is the normalized GET /oauth/authorize query.
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string

	// UserID is the already-authenticated subject, when the host
	// application resolved one. Enables the consent-skip path.
	UserID string
}

// AuthResultType discriminates the authorize outcomes.
type AuthResultType string

const (
	// AuthResultDirectError: redirect_uri is not yet trusted; the error
	// goes back as a direct response body.
	AuthResultDirectError AuthResultType = "direct_error"
	// AuthResultRedirectError: the client receives the error via redirect.
	AuthResultRedirectError AuthResultType = "redirect_error"
	// AuthResultConsent: hand off to the interactive consent page.
	AuthResultConsent AuthResultType = "consent"
	// AuthResultCode: prior consent covered the request; the code was
	// issued without prompting.
	AuthResultCode AuthResultType = "code"
)

// AuthResult is the structured outcome of an authorize request. RedirectURL
// is set for every type except AuthResultDirectError.
type AuthResult struct {
	Type        AuthResultType
	Err         *Error
	RedirectURL string
}

// AuthorizeService runs the request-validation state of the interactive
// authorization flow.
type AuthorizeService interface {
	Authorize(ctx context.Context, req AuthorizeRequest) AuthResult
}

type authorizeService struct {
	store  store.Storage
	cache  cache.Client
	policy Policy
}

// NewAuthorizeService wires the authorize endpoint.
func NewAuthorizeService(d Deps) AuthorizeService {
	return &authorizeService{store: d.Store, cache: d.Cache, policy: d.Policy}
}

// Authorize validates the request. Failures before the client and its
// redirect_uri check out are direct errors; from that point the redirect
// target is trusted and every failure travels back on it.
func (s *authorizeService) Authorize(ctx context.Context, req AuthorizeRequest) AuthResult {
	log := logger.From(ctx).With(logger.Layer("service"), logger.Op("oauth.authorize"))

	if req.ClientID == "" || req.RedirectURI == "" {
		return AuthResult{Type: AuthResultDirectError, Err: E(CodeInvalidRequest, "client_id and redirect_uri are required")}
	}
	client, err := s.store.GetClient(ctx, req.ClientID)
	if err != nil {
		if notFound(err) {
			log.Warn("unknown client", logger.ClientID(req.ClientID))
			return AuthResult{Type: AuthResultDirectError, Err: E(CodeInvalidClient, "unknown client")}
		}
		return AuthResult{Type: AuthResultDirectError, Err: E(CodeServerError, "internal error")}
	}
	if !client.Active {
		return AuthResult{Type: AuthResultDirectError, Err: E(CodeInvalidClient, "client is disabled")}
	}
	if !client.AllowsRedirectURI(req.RedirectURI) {
		log.Warn("redirect_uri not registered", logger.ClientID(req.ClientID))
		return AuthResult{Type: AuthResultDirectError, Err: E(CodeInvalidRequest, "redirect_uri is not registered for this client")}
	}

	// redirect_uri is trusted from here on.
	if req.ResponseType != "code" {
		return s.redirectError(req, CodeUnsupportedResponseType, "only response_type=code is supported")
	}
	if !client.AllowsGrant(GrantAuthorizationCode) {
		return s.redirectError(req, CodeUnauthorizedClient, "client is not authorized for the authorization_code grant")
	}

	requested := scope.Parse(req.Scope)
	if len(requested) == 0 {
		requested = client.Scopes
	}
	if res := scope.Validate(requested, s.policy.ScopeCatalog); !res.Valid() {
		return s.redirectError(req, CodeInvalidScope, "unknown scopes: "+scope.Join(res.Invalid))
	}
	if res := scope.Validate(requested, client.Scopes); !res.Valid() {
		return s.redirectError(req, CodeInvalidScope, "scopes not allowed for client: "+scope.Join(res.Invalid))
	}

	if req.CodeChallenge == "" {
		if s.policy.pkceRequired(client) {
			return s.redirectError(req, CodeInvalidRequest, "code_challenge is required for this client")
		}
	} else if !tokens.ValidPKCEMethod(req.CodeChallengeMethod) {
		return s.redirectError(req, CodeInvalidRequest, "code_challenge_method must be S256 or plain")
	}

	payload := consentPayload{
		UserID:              req.UserID,
		ClientID:            client.ClientID,
		RedirectURI:         req.RedirectURI,
		Scopes:              requested,
		State:               req.State,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: req.CodeChallengeMethod,
		ExpiresAt:           time.Now().Add(consentChallengeTTL),
	}

	// Skip the prompt when a stored consent already covers the request.
	if req.UserID != "" {
		if con, err := s.store.GetConsent(ctx, req.UserID, client.ClientID); err == nil && con.Covers(requested) {
			redirect, err := issueAuthCode(ctx, s.store, payload)
			if err != nil {
				return s.redirectError(req, CodeServerError, "internal error")
			}
			log.Info("consent skipped by prior grant", logger.ClientID(client.ClientID), logger.UserID(req.UserID))
			return AuthResult{Type: AuthResultCode, RedirectURL: redirect}
		}
	}

	challenge, err := tokens.GenerateOpaque(32)
	if err != nil {
		return s.redirectError(req, CodeServerError, "internal error")
	}
	raw, _ := json.Marshal(payload)
	s.cache.Set(ctx, cacheKeyPrefixConsent+tokens.SHA256Base64URL(challenge), raw, consentChallengeTTL)

	log.Info("authorization request pending consent", logger.ClientID(client.ClientID), logger.Scope(scope.Join(requested)))
	return AuthResult{Type: AuthResultConsent, RedirectURL: s.consentURL(challenge, req)}
}

func (s *authorizeService) redirectError(req AuthorizeRequest, code, description string) AuthResult {
	return AuthResult{
		Type:        AuthResultRedirectError,
		Err:         E(code, description),
		RedirectURL: errorRedirect(req.RedirectURI, code, description, req.State),
	}
}

func (s *authorizeService) consentURL(challenge string, req AuthorizeRequest) string {
	q := url.Values{}
	q.Set("challenge", challenge)
	q.Set("client_id", req.ClientID)
	if req.Scope != "" {
		q.Set("scope", req.Scope)
	}
	if req.State != "" {
		q.Set("state", req.State)
	}
	return appendQuery(s.policy.ConsentURL, q)
}

// consentPayload is the one-shot state carried between authorize and the
// consent decision.
type consentPayload struct {
	UserID              string    `json:"user_id,omitempty"`
	ClientID            string    `json:"client_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scopes              []string  `json:"scopes"`
	State               string    `json:"state,omitempty"`
	CodeChallenge       string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"`
	ExpiresAt           time.Time `json:"expires_at"`
}

// issueAuthCode persists a fresh single-use code and builds the client
// redirect carrying it.
func issueAuthCode(ctx context.Context, st store.Storage, p consentPayload) (string, error) {
	code, err := tokens.GenerateOpaque(32)
	if err != nil {
		return "", err
	}
	now := time.Now().UTC()
	rec := &store.AuthCodeRecord{
		Code:                code,
		ClientID:            p.ClientID,
		UserID:              p.UserID,
		RedirectURI:         p.RedirectURI,
		Scopes:              p.Scopes,
		CodeChallenge:       p.CodeChallenge,
		CodeChallengeMethod: p.CodeChallengeMethod,
		ExpiresAt:           now.Add(authCodeTTL),
		CreatedAt:           now,
	}
	if err := st.SaveAuthCode(ctx, rec); err != nil {
		return "", err
	}
	audit.Log(ctx, audit.EventCodeIssued, logger.ClientID(p.ClientID), logger.UserID(p.UserID))

	q := url.Values{}
	q.Set("code", code)
	if p.State != "" {
		q.Set("state", p.State)
	}
	return appendQuery(p.RedirectURI, q), nil
}

// errorRedirect builds the error redirect per RFC 6749 §4.1.2.1.
func errorRedirect(redirectURI, code, description, state string) string {
	q := url.Values{}
	q.Set("error", code)
	if description != "" {
		q.Set("error_description", description)
	}
	if state != "" {
		q.Set("state", state)
	}
	return appendQuery(redirectURI, q)
}

// appendQuery merges params onto a URL that may already carry a query.
func appendQuery(base string, q url.Values) string {
	u, err := url.Parse(base)
	if err != nil {
		return base + "?" + q.Encode()
	}
	existing := u.Query()
	for k, vs := range q {
		for _, v := range vs {
			existing.Set(k, v)
		}
	}
	u.RawQuery = existing.Encode()
	return u.String()
}
