package middlewares

import (
	"net/http"
	"strings"

	jwtx "github.com/bastionlabs/bastion/internal/jwt"
	"github.com/bastionlabs/bastion/internal/observability/logger"
	"github.com/bastionlabs/bastion/internal/store"
)

// BearerGate inspects Authorization: Bearer and, when it resolves, attaches
// a Principal to the context. JWT verification runs first; on failure (or in
// opaque mode) it falls back to a storage lookup that re-checks revocation
// and expiry. The gate itself never rejects: public and protected routes
// share the pipeline, and the route decides whether auth was required.
func BearerGate(tokens *jwtx.Service, st store.Storage) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := bearerToken(r)
			if raw == "" {
				next.ServeHTTP(w, r)
				return
			}
			ctx := r.Context()

			if claims := tokens.VerifyAccessToken(ctx, raw); claims != nil {
				ctx = setPrincipal(ctx, &Principal{
					ClientID:  claims.ClientID,
					UserID:    claims.UserID,
					Scopes:    claims.Scopes,
					ExpiresAt: claims.ExpiresAt,
				})
				next.ServeHTTP(w, r.WithContext(ctx))
				return
			}

			rec, err := st.GetToken(ctx, raw)
			if err != nil || rec.Revoked || rec.Type != store.TokenTypeAccess {
				next.ServeHTTP(w, r)
				return
			}
			ctx = setPrincipal(ctx, &Principal{
				ClientID:  rec.ClientID,
				UserID:    rec.UserID,
				Scopes:    rec.Scopes,
				ExpiresAt: rec.ExpiresAt,
			})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireAuth rejects anonymous requests with 401. Must run after
// BearerGate.
func RequireAuth() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if GetPrincipal(r.Context()) == nil {
				w.Header().Set("WWW-Authenticate", `Bearer realm="api", error="invalid_token"`)
				writeJSONError(w, http.StatusUnauthorized, "invalid_token", "bearer token missing or invalid")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequireScope rejects callers whose token lacks the scope. Must run after
// RequireAuth.
func RequireScope(name string) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p := GetPrincipal(r.Context())
			if p == nil || !p.HasScope(name) {
				logger.From(r.Context()).Warn("insufficient scope", logger.Scope(name))
				w.Header().Set("WWW-Authenticate", `Bearer realm="api", error="insufficient_scope", scope="`+name+`"`)
				writeJSONError(w, http.StatusForbidden, "insufficient_scope", "token does not grant "+name)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	ah := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(ah) > 7 && strings.EqualFold(ah[:7], "bearer ") {
		return strings.TrimSpace(ah[7:])
	}
	return ""
}

func writeJSONError(w http.ResponseWriter, status int, code, desc string) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + code + `","error_description":"` + desc + `"}`))
}
