// Package memory is the reference Storage implementation. A single mutex
// per entity family gives the atomicity the contract demands; it is the
// backend unit tests race against.
package memory

import (
	"context"
	"sync"
	"time"

	tokens "github.com/bastionlabs/bastion/internal/security/token"
	"github.com/bastionlabs/bastion/internal/store"
)

// Store implements store.Storage in process memory.
type Store struct {
	mu sync.Mutex

	clients map[string]*store.Client              // client_id -> client
	toks    map[string]*store.TokenRecord         // token digest -> record
	tokByID map[string]string                     // record id -> digest
	codes   map[string]*store.AuthCodeRecord      // code digest -> record
	limits  map[string]*store.RateLimitCounter    // key -> counter
	consent map[[2]string]*store.ConsentRecord    // {user_id, client_id} -> record
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		clients: make(map[string]*store.Client),
		toks:    make(map[string]*store.TokenRecord),
		tokByID: make(map[string]string),
		codes:   make(map[string]*store.AuthCodeRecord),
		limits:  make(map[string]*store.RateLimitCounter),
		consent: make(map[[2]string]*store.ConsentRecord),
	}
}

var _ store.Storage = (*Store)(nil)

// ─── Clients ───

func (s *Store) GetClient(ctx context.Context, clientID string) (*store.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.clients[clientID]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (s *Store) CreateClient(ctx context.Context, c *store.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.clients[c.ClientID]; exists {
		return store.ErrConflict
	}
	cp := *c
	s.clients[c.ClientID] = &cp
	return nil
}

func (s *Store) UpdateClient(ctx context.Context, c *store.Client) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.clients[c.ClientID]; !exists {
		return store.ErrNotFound
	}
	cp := *c
	s.clients[c.ClientID] = &cp
	return nil
}

// DeleteClient removes the client and cascades: its tokens are revoked,
// its pending codes and consents dropped.
func (s *Store) DeleteClient(ctx context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.clients[clientID]; !exists {
		return store.ErrNotFound
	}
	delete(s.clients, clientID)
	for _, rec := range s.toks {
		if rec.ClientID == clientID {
			rec.Revoked = true
		}
	}
	for digest, code := range s.codes {
		if code.ClientID == clientID {
			delete(s.codes, digest)
		}
	}
	for key, rec := range s.consent {
		if rec.ClientID == clientID {
			delete(s.consent, key)
		}
	}
	return nil
}

func (s *Store) ListClients(ctx context.Context) ([]*store.Client, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*store.Client, 0, len(s.clients))
	for _, c := range s.clients {
		cp := *c
		out = append(out, &cp)
	}
	return out, nil
}

// ─── Tokens ───

func (s *Store) SaveToken(ctx context.Context, rec *store.TokenRecord) error {
	digest := tokens.SHA256Base64URL(rec.Token)
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	cp.Token = digest
	s.toks[digest] = &cp
	s.tokByID[cp.ID] = digest
	return nil
}

func (s *Store) GetToken(ctx context.Context, token string) (*store.TokenRecord, error) {
	digest := tokens.SHA256Base64URL(token)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.toks[digest]
	if !ok {
		return nil, store.ErrNotFound
	}
	// Expired records are never returned; revoked ones are, so callers
	// can detect refresh-token reuse.
	if rec.Expired(time.Now()) {
		delete(s.toks, digest)
		delete(s.tokByID, rec.ID)
		return nil, store.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *Store) RevokeToken(ctx context.Context, token string) error {
	digest := tokens.SHA256Base64URL(token)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.toks[digest]
	if !ok {
		return store.ErrNotFound
	}
	rec.Revoked = true
	return nil
}

func (s *Store) RevokeTokenByID(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	digest, ok := s.tokByID[id]
	if !ok {
		return store.ErrNotFound
	}
	if rec, ok := s.toks[digest]; ok {
		rec.Revoked = true
		return nil
	}
	return store.ErrNotFound
}

func (s *Store) UpdateTokenPairing(ctx context.Context, id, accessTokenID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	digest, ok := s.tokByID[id]
	if !ok {
		return store.ErrNotFound
	}
	if rec, ok := s.toks[digest]; ok {
		rec.AccessTokenID = accessTokenID
		return nil
	}
	return store.ErrNotFound
}

func (s *Store) RevokeAllClientTokens(ctx context.Context, clientID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.toks {
		if rec.ClientID == clientID && !rec.Revoked {
			rec.Revoked = true
			n++
		}
	}
	return n, nil
}

func (s *Store) RevokeAllUserTokens(ctx context.Context, userID string) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, rec := range s.toks {
		if rec.UserID == userID && !rec.Revoked {
			rec.Revoked = true
			n++
		}
	}
	return n, nil
}

func (s *Store) DeleteExpiredTokens(ctx context.Context) (int, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for digest, rec := range s.toks {
		if rec.Expired(now) {
			delete(s.toks, digest)
			delete(s.tokByID, rec.ID)
			n++
		}
	}
	for digest, code := range s.codes {
		if !now.Before(code.ExpiresAt) {
			delete(s.codes, digest)
			n++
		}
	}
	return n, nil
}

// ─── Authorization codes ───

func (s *Store) SaveAuthCode(ctx context.Context, rec *store.AuthCodeRecord) error {
	digest := tokens.SHA256Base64URL(rec.Code)
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	cp.Code = digest
	s.codes[digest] = &cp
	return nil
}

// ConsumeAuthCode deletes on read while holding the lock, so concurrent
// consumers of the same code get exactly one winner.
func (s *Store) ConsumeAuthCode(ctx context.Context, code string) (*store.AuthCodeRecord, error) {
	digest := tokens.SHA256Base64URL(code)
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.codes[digest]
	if !ok {
		return nil, store.ErrNotFound
	}
	delete(s.codes, digest)
	if !time.Now().Before(rec.ExpiresAt) {
		return nil, store.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// ─── Rate limits ───

func (s *Store) IncrementRateLimit(ctx context.Context, key string, window time.Duration) (*store.RateLimitCounter, error) {
	now := time.Now()
	s.mu.Lock()
	defer s.mu.Unlock()
	c, ok := s.limits[key]
	if !ok || !now.Before(c.ResetAt) {
		c = &store.RateLimitCounter{
			Key:     key,
			ResetAt: now.Truncate(window).Add(window),
		}
		s.limits[key] = c
	}
	c.Count++
	cp := *c
	return &cp, nil
}

// ─── Consent ───

func (s *Store) UpsertConsent(ctx context.Context, rec *store.ConsentRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{rec.UserID, rec.ClientID}
	if prev, ok := s.consent[key]; ok {
		// Widen: union of previously granted and new scopes.
		merged := append([]string{}, prev.Scopes...)
		for _, sc := range rec.Scopes {
			found := false
			for _, p := range merged {
				if p == sc {
					found = true
					break
				}
			}
			if !found {
				merged = append(merged, sc)
			}
		}
		cp := *rec
		cp.Scopes = merged
		s.consent[key] = &cp
		return nil
	}
	cp := *rec
	cp.Scopes = append([]string{}, rec.Scopes...)
	s.consent[key] = &cp
	return nil
}

func (s *Store) GetConsent(ctx context.Context, userID, clientID string) (*store.ConsentRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.consent[[2]string{userID, clientID}]
	if !ok {
		return nil, store.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

func (s *Store) DeleteConsent(ctx context.Context, userID, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key := [2]string{userID, clientID}
	if _, ok := s.consent[key]; !ok {
		return store.ErrNotFound
	}
	delete(s.consent, key)
	return nil
}

func (s *Store) Ping(ctx context.Context) error { return nil }
func (s *Store) Close() error                   { return nil }
