// Package pg is the postgres Storage backend, built on pgx. Atomicity
// comes from single statements: codes are consumed with DELETE ...
// RETURNING, counters bumped with INSERT ... ON CONFLICT.
package pg

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	tokens "github.com/bastionlabs/bastion/internal/security/token"
	"github.com/bastionlabs/bastion/internal/store"
	migrations "github.com/bastionlabs/bastion/migrations/postgres"
)

// Store implements store.Storage on a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New connects to the given DSN.
func New(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pg connect: %w", err)
	}
	return &Store{pool: pool}, nil
}

var _ store.Storage = (*Store)(nil)

// Migrate applies the embedded schema migrations in lexical order.
func (s *Store) Migrate(ctx context.Context) error {
	entries, err := fs.ReadDir(migrations.FS, migrations.Dir)
	if err != nil {
		return err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		names = append(names, e.Name())
	}
	sort.Strings(names)
	for _, name := range names {
		sql, err := fs.ReadFile(migrations.FS, migrations.Dir+"/"+name)
		if err != nil {
			return err
		}
		if _, err := s.pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("migration %s: %w", name, err)
		}
	}
	return nil
}

// ─── Clients ───

func (s *Store) GetClient(ctx context.Context, clientID string) (*store.Client, error) {
	const query = `
		SELECT client_id, secret_hash, name, redirect_uris, grant_types, scopes,
		       confidential, owner_id, active, created_at, updated_at
		FROM oauth_client WHERE client_id = $1
	`
	var c store.Client
	err := s.pool.QueryRow(ctx, query, clientID).Scan(
		&c.ClientID, &c.SecretHash, &c.Name, &c.RedirectURIs, &c.GrantTypes,
		&c.Scopes, &c.Confidential, &c.OwnerID, &c.Active, &c.CreatedAt, &c.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

func (s *Store) CreateClient(ctx context.Context, c *store.Client) error {
	const query = `
		INSERT INTO oauth_client
			(client_id, secret_hash, name, redirect_uris, grant_types, scopes,
			 confidential, owner_id, active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (client_id) DO NOTHING
	`
	tag, err := s.pool.Exec(ctx, query,
		c.ClientID, c.SecretHash, c.Name, c.RedirectURIs, c.GrantTypes, c.Scopes,
		c.Confidential, c.OwnerID, c.Active, c.CreatedAt, c.UpdatedAt,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrConflict
	}
	return nil
}

func (s *Store) UpdateClient(ctx context.Context, c *store.Client) error {
	const query = `
		UPDATE oauth_client SET
			secret_hash = $2, name = $3, redirect_uris = $4, grant_types = $5,
			scopes = $6, confidential = $7, owner_id = $8, active = $9, updated_at = NOW()
		WHERE client_id = $1
	`
	tag, err := s.pool.Exec(ctx, query,
		c.ClientID, c.SecretHash, c.Name, c.RedirectURIs, c.GrantTypes,
		c.Scopes, c.Confidential, c.OwnerID, c.Active,
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `DELETE FROM oauth_client WHERE client_id = $1`, clientID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	// Cascade: revoke tokens, drop codes and consents.
	if _, err := tx.Exec(ctx, `UPDATE oauth_token SET revoked = TRUE WHERE client_id = $1`, clientID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM oauth_auth_code WHERE client_id = $1`, clientID); err != nil {
		return err
	}
	if _, err := tx.Exec(ctx, `DELETE FROM oauth_consent WHERE client_id = $1`, clientID); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (s *Store) ListClients(ctx context.Context) ([]*store.Client, error) {
	const query = `
		SELECT client_id, secret_hash, name, redirect_uris, grant_types, scopes,
		       confidential, owner_id, active, created_at, updated_at
		FROM oauth_client ORDER BY created_at
	`
	rows, err := s.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*store.Client
	for rows.Next() {
		var c store.Client
		if err := rows.Scan(
			&c.ClientID, &c.SecretHash, &c.Name, &c.RedirectURIs, &c.GrantTypes,
			&c.Scopes, &c.Confidential, &c.OwnerID, &c.Active, &c.CreatedAt, &c.UpdatedAt,
		); err != nil {
			return nil, err
		}
		out = append(out, &c)
	}
	return out, rows.Err()
}

// ─── Tokens ───

func (s *Store) SaveToken(ctx context.Context, rec *store.TokenRecord) error {
	const query = `
		INSERT INTO oauth_token
			(id, token_digest, token_type, client_id, user_id, scopes,
			 expires_at, created_at, revoked, access_token_id)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`
	_, err := s.pool.Exec(ctx, query,
		rec.ID, tokens.SHA256Base64URL(rec.Token), string(rec.Type), rec.ClientID,
		rec.UserID, rec.Scopes, rec.ExpiresAt, rec.CreatedAt, rec.Revoked, rec.AccessTokenID,
	)
	return err
}

func (s *Store) GetToken(ctx context.Context, token string) (*store.TokenRecord, error) {
	const query = `
		SELECT id, token_digest, token_type, client_id, user_id, scopes,
		       expires_at, created_at, revoked, access_token_id
		FROM oauth_token WHERE token_digest = $1 AND expires_at > NOW()
	`
	var rec store.TokenRecord
	var typ string
	err := s.pool.QueryRow(ctx, query, tokens.SHA256Base64URL(token)).Scan(
		&rec.ID, &rec.Token, &typ, &rec.ClientID, &rec.UserID, &rec.Scopes,
		&rec.ExpiresAt, &rec.CreatedAt, &rec.Revoked, &rec.AccessTokenID,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Type = store.TokenType(typ)
	return &rec, nil
}

func (s *Store) RevokeToken(ctx context.Context, token string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE oauth_token SET revoked = TRUE WHERE token_digest = $1`,
		tokens.SHA256Base64URL(token),
	)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) RevokeTokenByID(ctx context.Context, id string) error {
	tag, err := s.pool.Exec(ctx, `UPDATE oauth_token SET revoked = TRUE WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) UpdateTokenPairing(ctx context.Context, id, accessTokenID string) error {
	tag, err := s.pool.Exec(ctx,
		`UPDATE oauth_token SET access_token_id = $2 WHERE id = $1`, id, accessTokenID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) RevokeAllClientTokens(ctx context.Context, clientID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE oauth_token SET revoked = TRUE WHERE client_id = $1 AND NOT revoked`, clientID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) RevokeAllUserTokens(ctx context.Context, userID string) (int, error) {
	tag, err := s.pool.Exec(ctx,
		`UPDATE oauth_token SET revoked = TRUE WHERE user_id = $1 AND NOT revoked`, userID)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

func (s *Store) DeleteExpiredTokens(ctx context.Context) (int, error) {
	tag, err := s.pool.Exec(ctx, `DELETE FROM oauth_token WHERE expires_at <= NOW()`)
	if err != nil {
		return 0, err
	}
	n := int(tag.RowsAffected())
	tag, err = s.pool.Exec(ctx, `DELETE FROM oauth_auth_code WHERE expires_at <= NOW()`)
	if err != nil {
		return n, err
	}
	return n + int(tag.RowsAffected()), nil
}

// ─── Authorization codes ───

func (s *Store) SaveAuthCode(ctx context.Context, rec *store.AuthCodeRecord) error {
	const query = `
		INSERT INTO oauth_auth_code
			(code_digest, client_id, user_id, redirect_uri, scopes,
			 code_challenge, code_challenge_method, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.pool.Exec(ctx, query,
		tokens.SHA256Base64URL(rec.Code), rec.ClientID, rec.UserID, rec.RedirectURI,
		rec.Scopes, rec.CodeChallenge, rec.CodeChallengeMethod, rec.ExpiresAt, rec.CreatedAt,
	)
	return err
}

// ConsumeAuthCode is a single DELETE ... RETURNING, so racing consumers
// get exactly one winner.
func (s *Store) ConsumeAuthCode(ctx context.Context, code string) (*store.AuthCodeRecord, error) {
	const query = `
		DELETE FROM oauth_auth_code WHERE code_digest = $1
		RETURNING code_digest, client_id, user_id, redirect_uri, scopes,
		          code_challenge, code_challenge_method, expires_at, created_at
	`
	var rec store.AuthCodeRecord
	err := s.pool.QueryRow(ctx, query, tokens.SHA256Base64URL(code)).Scan(
		&rec.Code, &rec.ClientID, &rec.UserID, &rec.RedirectURI, &rec.Scopes,
		&rec.CodeChallenge, &rec.CodeChallengeMethod, &rec.ExpiresAt, &rec.CreatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	if !time.Now().Before(rec.ExpiresAt) {
		return nil, store.ErrNotFound
	}
	return &rec, nil
}

// ─── Rate limits ───

func (s *Store) IncrementRateLimit(ctx context.Context, key string, window time.Duration) (*store.RateLimitCounter, error) {
	const query = `
		INSERT INTO oauth_rate_limit (key, count, reset_at) VALUES ($1, 1, $2)
		ON CONFLICT (key) DO UPDATE SET
			count    = CASE WHEN oauth_rate_limit.reset_at <= NOW() THEN 1 ELSE oauth_rate_limit.count + 1 END,
			reset_at = CASE WHEN oauth_rate_limit.reset_at <= NOW() THEN $2 ELSE oauth_rate_limit.reset_at END
		RETURNING count, reset_at
	`
	resetAt := time.Now().Truncate(window).Add(window)
	c := store.RateLimitCounter{Key: key}
	if err := s.pool.QueryRow(ctx, query, key, resetAt).Scan(&c.Count, &c.ResetAt); err != nil {
		return nil, err
	}
	return &c, nil
}

// ─── Consent ───

func (s *Store) UpsertConsent(ctx context.Context, rec *store.ConsentRecord) error {
	// Union of previously granted and new scopes, so consent only widens.
	const query = `
		INSERT INTO oauth_consent (user_id, client_id, scopes, granted_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (user_id, client_id) DO UPDATE SET
			scopes = ARRAY(SELECT DISTINCT unnest(oauth_consent.scopes || EXCLUDED.scopes)),
			granted_at = EXCLUDED.granted_at
	`
	_, err := s.pool.Exec(ctx, query, rec.UserID, rec.ClientID, rec.Scopes, rec.GrantedAt)
	return err
}

func (s *Store) GetConsent(ctx context.Context, userID, clientID string) (*store.ConsentRecord, error) {
	const query = `
		SELECT user_id, client_id, scopes, granted_at
		FROM oauth_consent WHERE user_id = $1 AND client_id = $2
	`
	var rec store.ConsentRecord
	err := s.pool.QueryRow(ctx, query, userID, clientID).Scan(
		&rec.UserID, &rec.ClientID, &rec.Scopes, &rec.GrantedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &rec, nil
}

func (s *Store) DeleteConsent(ctx context.Context, userID, clientID string) error {
	tag, err := s.pool.Exec(ctx,
		`DELETE FROM oauth_consent WHERE user_id = $1 AND client_id = $2`, userID, clientID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}
