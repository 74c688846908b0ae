package memory

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bastionlabs/bastion/internal/store"
	"golang.org/x/sync/errgroup"
)

func TestConsumeAuthCode_SingleUse(t *testing.T) {
	s := New()
	ctx := context.Background()

	code := &store.AuthCodeRecord{
		Code:        "abc123",
		ClientID:    "c1",
		UserID:      "u1",
		RedirectURI: "https://a/cb",
		Scopes:      []string{"read:x"},
		ExpiresAt:   time.Now().Add(10 * time.Minute),
		CreatedAt:   time.Now(),
	}
	if err := s.SaveAuthCode(ctx, code); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := s.ConsumeAuthCode(ctx, "abc123")
	if err != nil {
		t.Fatalf("first consume: %v", err)
	}
	if got.ClientID != "c1" || got.RedirectURI != "https://a/cb" {
		t.Fatalf("unexpected record: %+v", got)
	}

	if _, err := s.ConsumeAuthCode(ctx, "abc123"); err != store.ErrNotFound {
		t.Fatalf("second consume must be ErrNotFound, got %v", err)
	}
}

// Exactly one winner among N simultaneous consumers.
func TestConsumeAuthCode_ConcurrentSingleWinner(t *testing.T) {
	s := New()
	ctx := context.Background()

	if err := s.SaveAuthCode(ctx, &store.AuthCodeRecord{
		Code:      "raced",
		ClientID:  "c1",
		ExpiresAt: time.Now().Add(time.Minute),
	}); err != nil {
		t.Fatalf("save: %v", err)
	}

	const n = 64
	var wins sync.Map
	var g errgroup.Group
	start := make(chan struct{})
	for i := 0; i < n; i++ {
		i := i
		g.Go(func() error {
			<-start
			if _, err := s.ConsumeAuthCode(ctx, "raced"); err == nil {
				wins.Store(i, true)
			}
			return nil
		})
	}
	close(start)
	_ = g.Wait()

	count := 0
	wins.Range(func(_, _ any) bool { count++; return true })
	if count != 1 {
		t.Fatalf("expected exactly 1 winner, got %d", count)
	}
}

func TestConsumeAuthCode_Expired(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.SaveAuthCode(ctx, &store.AuthCodeRecord{
		Code:      "old",
		ClientID:  "c1",
		ExpiresAt: time.Now().Add(-time.Second),
	})
	if _, err := s.ConsumeAuthCode(ctx, "old"); err != store.ErrNotFound {
		t.Fatalf("expired code must be ErrNotFound, got %v", err)
	}
}

// Expiry monotonicity: an expired token is never returned by any read path.
func TestGetToken_ExpiredNeverReturned(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.SaveToken(ctx, &store.TokenRecord{
		ID:        "t1",
		Token:     "expired-token",
		Type:      store.TokenTypeAccess,
		ClientID:  "c1",
		ExpiresAt: time.Now().Add(-time.Minute),
	})
	if _, err := s.GetToken(ctx, "expired-token"); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

// Revocation is sticky: once revoked, no read ever sees a live token again.
func TestRevokeToken_Sticky(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.SaveToken(ctx, &store.TokenRecord{
		ID:        "t1",
		Token:     "tok",
		Type:      store.TokenTypeRefresh,
		ClientID:  "c1",
		ExpiresAt: time.Now().Add(time.Hour),
	})

	if err := s.RevokeToken(ctx, "tok"); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	for i := 0; i < 3; i++ {
		rec, err := s.GetToken(ctx, "tok")
		if err != nil {
			t.Fatalf("get after revoke: %v", err)
		}
		if !rec.Revoked {
			t.Fatal("revoked token came back live")
		}
	}
}

func TestRevokeTokenByID(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.SaveToken(ctx, &store.TokenRecord{
		ID: "id-1", Token: "raw-1", Type: store.TokenTypeAccess,
		ClientID: "c1", ExpiresAt: time.Now().Add(time.Hour),
	})
	if err := s.RevokeTokenByID(ctx, "id-1"); err != nil {
		t.Fatalf("revoke by id: %v", err)
	}
	rec, err := s.GetToken(ctx, "raw-1")
	if err != nil || !rec.Revoked {
		t.Fatalf("expected revoked record, got rec=%+v err=%v", rec, err)
	}
	if err := s.RevokeTokenByID(ctx, "missing"); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdateTokenPairing(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.SaveToken(ctx, &store.TokenRecord{
		ID: "rt-1", Token: "raw-rt", Type: store.TokenTypeRefresh,
		ClientID: "c1", ExpiresAt: time.Now().Add(time.Hour),
		AccessTokenID: "at-old",
	})
	if err := s.UpdateTokenPairing(ctx, "rt-1", "at-new"); err != nil {
		t.Fatalf("update pairing: %v", err)
	}
	rec, err := s.GetToken(ctx, "raw-rt")
	if err != nil || rec.AccessTokenID != "at-new" {
		t.Fatalf("expected re-paired record, got rec=%+v err=%v", rec, err)
	}
	if err := s.UpdateTokenPairing(ctx, "missing", "at-new"); err != store.ErrNotFound {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestRevokeAllClientTokens(t *testing.T) {
	s := New()
	ctx := context.Background()
	for _, tok := range []string{"a", "b", "c"} {
		_ = s.SaveToken(ctx, &store.TokenRecord{
			ID: "id-" + tok, Token: tok, Type: store.TokenTypeAccess,
			ClientID: "c1", ExpiresAt: time.Now().Add(time.Hour),
		})
	}
	_ = s.SaveToken(ctx, &store.TokenRecord{
		ID: "id-z", Token: "z", Type: store.TokenTypeAccess,
		ClientID: "other", ExpiresAt: time.Now().Add(time.Hour),
	})

	n, err := s.RevokeAllClientTokens(ctx, "c1")
	if err != nil {
		t.Fatalf("revoke all: %v", err)
	}
	if n != 3 {
		t.Fatalf("expected 3 revoked, got %d", n)
	}
	rec, _ := s.GetToken(ctx, "z")
	if rec == nil || rec.Revoked {
		t.Fatal("other client's token must stay live")
	}
}

func TestDeleteClient_Cascades(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.CreateClient(ctx, &store.Client{ClientID: "c1", Active: true})
	_ = s.SaveToken(ctx, &store.TokenRecord{
		ID: "t1", Token: "tok", Type: store.TokenTypeAccess,
		ClientID: "c1", ExpiresAt: time.Now().Add(time.Hour),
	})
	_ = s.SaveAuthCode(ctx, &store.AuthCodeRecord{
		Code: "code", ClientID: "c1", ExpiresAt: time.Now().Add(time.Minute),
	})
	_ = s.UpsertConsent(ctx, &store.ConsentRecord{UserID: "u1", ClientID: "c1", Scopes: []string{"read:x"}})

	if err := s.DeleteClient(ctx, "c1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := s.GetClient(ctx, "c1"); err != store.ErrNotFound {
		t.Fatal("client must be gone")
	}
	rec, err := s.GetToken(ctx, "tok")
	if err != nil || !rec.Revoked {
		t.Fatalf("token must be revoked after cascade, rec=%+v err=%v", rec, err)
	}
	if _, err := s.ConsumeAuthCode(ctx, "code"); err != store.ErrNotFound {
		t.Fatal("codes must be dropped")
	}
	if _, err := s.GetConsent(ctx, "u1", "c1"); err != store.ErrNotFound {
		t.Fatal("consent must be dropped")
	}
}

func TestIncrementRateLimit_Atomic(t *testing.T) {
	s := New()
	ctx := context.Background()

	const n = 100
	var g errgroup.Group
	for i := 0; i < n; i++ {
		g.Go(func() error {
			_, err := s.IncrementRateLimit(ctx, "ip:203.0.113.9:/oauth/token", time.Minute)
			return err
		})
	}
	if err := g.Wait(); err != nil {
		t.Fatalf("increment: %v", err)
	}
	c, err := s.IncrementRateLimit(ctx, "ip:203.0.113.9:/oauth/token", time.Minute)
	if err != nil {
		t.Fatalf("final increment: %v", err)
	}
	if c.Count != n+1 {
		t.Fatalf("expected count %d, got %d", n+1, c.Count)
	}
}

func TestIncrementRateLimit_WindowReset(t *testing.T) {
	s := New()
	ctx := context.Background()
	c1, _ := s.IncrementRateLimit(ctx, "k", 10*time.Millisecond)
	if c1.Count != 1 {
		t.Fatalf("expected 1, got %d", c1.Count)
	}
	time.Sleep(25 * time.Millisecond)
	c2, _ := s.IncrementRateLimit(ctx, "k", 10*time.Millisecond)
	if c2.Count != 1 {
		t.Fatalf("expected reset to 1, got %d", c2.Count)
	}
}

func TestConsent_UpsertWidens(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.UpsertConsent(ctx, &store.ConsentRecord{UserID: "u1", ClientID: "c1", Scopes: []string{"read:x"}})
	_ = s.UpsertConsent(ctx, &store.ConsentRecord{UserID: "u1", ClientID: "c1", Scopes: []string{"write:x"}})

	rec, err := s.GetConsent(ctx, "u1", "c1")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !rec.Covers([]string{"read:x", "write:x"}) {
		t.Fatalf("consent must cover both scopes, got %v", rec.Scopes)
	}
	if rec.Covers([]string{"admin"}) {
		t.Fatal("consent must not cover ungranted scope")
	}
}

func TestDeleteExpiredTokens(t *testing.T) {
	s := New()
	ctx := context.Background()
	_ = s.SaveToken(ctx, &store.TokenRecord{
		ID: "t1", Token: "dead", Type: store.TokenTypeAccess,
		ClientID: "c1", ExpiresAt: time.Now().Add(-time.Hour),
	})
	_ = s.SaveToken(ctx, &store.TokenRecord{
		ID: "t2", Token: "live", Type: store.TokenTypeAccess,
		ClientID: "c1", ExpiresAt: time.Now().Add(time.Hour),
	})
	n, err := s.DeleteExpiredTokens(ctx)
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected 1 collected, got %d", n)
	}
	if _, err := s.GetToken(ctx, "live"); err != nil {
		t.Fatalf("live token must survive: %v", err)
	}
}
