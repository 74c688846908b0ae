package middlewares

import (
	"context"
	"time"
)

type ctxKey int

const (
	ctxKeyRequestID ctxKey = iota
	ctxKeyPrincipal
)

// Principal is the authenticated caller attached by the bearer gate.
type Principal struct {
	ClientID  string
	UserID    string
	Scopes    []string
	ExpiresAt time.Time
}

// HasScope reports whether the principal was granted the scope.
func (p *Principal) HasScope(name string) bool {
	for _, s := range p.Scopes {
		if s == name {
			return true
		}
	}
	return false
}

func setRequestID(ctx context.Context, rid string) context.Context {
	return context.WithValue(ctx, ctxKeyRequestID, rid)
}

// GetRequestID returns the request ID, or "" when the middleware never ran.
func GetRequestID(ctx context.Context) string {
	v, _ := ctx.Value(ctxKeyRequestID).(string)
	return v
}

func setPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, ctxKeyPrincipal, p)
}

// GetPrincipal returns the authenticated caller, or nil for anonymous
// requests.
func GetPrincipal(ctx context.Context) *Principal {
	v, _ := ctx.Value(ctxKeyPrincipal).(*Principal)
	return v
}
