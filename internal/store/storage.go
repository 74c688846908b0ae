// Package store defines the persistence contract the protocol core runs
// on. The core never holds entity copies across requests; every handler
// invocation re-reads through this interface, so backend atomicity is what
// makes the protocol correct under concurrency:
//
//   - ConsumeAuthCode is an atomic read-and-delete: racing consumers get
//     exactly one winner, everyone else sees ErrNotFound.
//   - IncrementRateLimit is an atomic increment-and-read per key.
//   - RevokeToken must be visible to subsequent GetToken calls from any
//     caller. The in-memory backend is immediately consistent; the pg
//     backend is consistent per statement.
package store

import (
	"context"
	"time"
)

// Storage is implemented by pluggable backends (memory, postgres).
type Storage interface {
	// Clients

	// GetClient returns the client by its public client_id.
	GetClient(ctx context.Context, clientID string) (*Client, error)
	// CreateClient registers a client; ErrConflict on duplicate client_id.
	CreateClient(ctx context.Context, c *Client) error
	// UpdateClient replaces the stored client; ErrNotFound if absent.
	UpdateClient(ctx context.Context, c *Client) error
	// DeleteClient hard-deletes the client and revokes all of its tokens.
	DeleteClient(ctx context.Context, clientID string) error
	// ListClients returns all registered clients.
	ListClients(ctx context.Context) ([]*Client, error)

	// Tokens

	// SaveToken persists a token record. The backend keys it by digest of
	// rec.Token; the raw value is not retained.
	SaveToken(ctx context.Context, rec *TokenRecord) error
	// GetToken looks up a record by raw token value. Expired records are
	// never returned (ErrNotFound); revoked records ARE returned with
	// Revoked=true so callers can run reuse detection.
	GetToken(ctx context.Context, token string) (*TokenRecord, error)
	// RevokeToken marks the record revoked. ErrNotFound if absent.
	RevokeToken(ctx context.Context, token string) error
	// RevokeTokenByID revokes by record ID. Used to invalidate the access
	// token paired to a refresh token, where the raw value is not at hand.
	RevokeTokenByID(ctx context.Context, id string) error
	// UpdateTokenPairing repoints the record's paired access token. Keeps a
	// long-lived refresh token bound to its newest access token when
	// rotation is disabled. ErrNotFound if absent.
	UpdateTokenPairing(ctx context.Context, id, accessTokenID string) error
	// RevokeAllClientTokens revokes every live token of the client.
	// The count is best-effort telemetry, not a correctness signal.
	RevokeAllClientTokens(ctx context.Context, clientID string) (int, error)
	// RevokeAllUserTokens revokes every live token of the user.
	RevokeAllUserTokens(ctx context.Context, userID string) (int, error)
	// DeleteExpiredTokens garbage-collects expired rows. Maintenance only;
	// never on the request path.
	DeleteExpiredTokens(ctx context.Context) (int, error)

	// Authorization codes

	// SaveAuthCode persists a code, keyed by digest.
	SaveAuthCode(ctx context.Context, rec *AuthCodeRecord) error
	// ConsumeAuthCode atomically reads and deletes the code. Expired or
	// unknown codes return ErrNotFound. A code is returned at most once
	// ever, under any concurrency.
	ConsumeAuthCode(ctx context.Context, code string) (*AuthCodeRecord, error)

	// Rate limits

	// IncrementRateLimit atomically bumps the counter for key within the
	// fixed window and returns the updated counter.
	IncrementRateLimit(ctx context.Context, key string, window time.Duration) (*RateLimitCounter, error)

	// Consent

	// UpsertConsent records or widens a user's approval of a client.
	UpsertConsent(ctx context.Context, rec *ConsentRecord) error
	// GetConsent returns the stored approval; ErrNotFound if absent.
	GetConsent(ctx context.Context, userID, clientID string) (*ConsentRecord, error)
	// DeleteConsent withdraws a stored approval.
	DeleteConsent(ctx context.Context, userID, clientID string) error

	// Ping verifies backend connectivity.
	Ping(ctx context.Context) error
	// Close releases backend resources.
	Close() error
}
