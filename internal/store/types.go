package store

import "time"

// TokenType discriminates the two token record kinds.
type TokenType string

const (
	TokenTypeAccess  TokenType = "access"
	TokenTypeRefresh TokenType = "refresh"
)

// Client is a registered OAuth application.
type Client struct {
	ClientID     string    `json:"client_id"`
	SecretHash   string    `json:"-"` // empty for public clients
	Name         string    `json:"name"`
	RedirectURIs []string  `json:"redirect_uris"` // exact-match set
	GrantTypes   []string  `json:"grant_types"`
	Scopes       []string  `json:"scopes"`
	Confidential bool      `json:"confidential"`
	OwnerID      string    `json:"owner_id,omitempty"`
	Active       bool      `json:"active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// AllowsGrant reports whether the grant type is in the client's allow-list.
func (c *Client) AllowsGrant(grantType string) bool {
	for _, g := range c.GrantTypes {
		if g == grantType {
			return true
		}
	}
	return false
}

// AllowsRedirectURI checks redirect_uri membership by exact string match.
// No prefix or pattern matching, per the registration contract.
func (c *Client) AllowsRedirectURI(uri string) bool {
	for _, u := range c.RedirectURIs {
		if u == uri {
			return true
		}
	}
	return false
}

// TokenRecord is a stored access or refresh token. Backends persist tokens
// by SHA-256 digest, never raw: Token carries the digest at rest and every
// lookup goes through Storage.GetToken with the raw value.
type TokenRecord struct {
	ID        string    `json:"id"`
	Token     string    `json:"-"`
	Type      TokenType `json:"type"`
	ClientID  string    `json:"client_id"`
	UserID    string    `json:"user_id,omitempty"` // empty ⇒ machine-to-machine
	Scopes    []string  `json:"scopes"`
	ExpiresAt time.Time `json:"expires_at"`
	CreatedAt time.Time `json:"created_at"`
	Revoked   bool      `json:"revoked"`
	// AccessTokenID holds, on refresh records, the ID of the paired
	// access token record so both can be invalidated together.
	AccessTokenID string `json:"-"`
}

// Expired reports whether the record is past its expiry at the given time.
func (t *TokenRecord) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// AuthCodeRecord is a short-lived, single-use authorization code.
// Consumption is atomic read-and-delete.
type AuthCodeRecord struct {
	Code                string    `json:"-"`
	ClientID            string    `json:"client_id"`
	UserID              string    `json:"user_id"`
	RedirectURI         string    `json:"redirect_uri"`
	Scopes              []string  `json:"scopes"`
	CodeChallenge       string    `json:"code_challenge,omitempty"`
	CodeChallengeMethod string    `json:"code_challenge_method,omitempty"` // "S256" | "plain"
	ExpiresAt           time.Time `json:"expires_at"`
	CreatedAt           time.Time `json:"created_at"`
}

// RateLimitCounter is an atomic per-key counter over a fixed window.
type RateLimitCounter struct {
	Key     string    `json:"key"`
	Count   int64     `json:"count"`
	ResetAt time.Time `json:"reset_at"`
}

// ConsentRecord remembers a user's prior approval of a client's scopes.
type ConsentRecord struct {
	UserID    string    `json:"user_id"`
	ClientID  string    `json:"client_id"`
	Scopes    []string  `json:"scopes"`
	GrantedAt time.Time `json:"granted_at"`
}

// Covers reports whether the stored consent already includes every
// requested scope, enabling the skip-the-prompt optimization.
func (c *ConsentRecord) Covers(requested []string) bool {
	granted := make(map[string]struct{}, len(c.Scopes))
	for _, s := range c.Scopes {
		granted[s] = struct{}{}
	}
	for _, s := range requested {
		if _, ok := granted[s]; !ok {
			return false
		}
	}
	return true
}
