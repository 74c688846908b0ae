package oauth

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"

	"github.com/bastionlabs/bastion/internal/audit"
	"github.com/bastionlabs/bastion/internal/observability/logger"
	"github.com/bastionlabs/bastion/internal/security/secret"
	"github.com/bastionlabs/bastion/internal/store"
)

// Credentials are client credentials as presented on a token-endpoint
// request, either via HTTP Basic or body fields.
type Credentials struct {
	ClientID string
	Secret   string
}

// CredentialsFromRequest extracts client credentials. The Basic header wins
// over body fields; the decoded value splits on the first colon so secrets
// may themselves contain colons.
func CredentialsFromRequest(r *http.Request) Credentials {
	ah := strings.TrimSpace(r.Header.Get("Authorization"))
	if len(ah) > 6 && strings.EqualFold(ah[:6], "basic ") {
		if raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(ah[6:])); err == nil {
			id, sec, _ := strings.Cut(string(raw), ":")
			if id != "" {
				return Credentials{ClientID: id, Secret: sec}
			}
		}
	}
	return Credentials{
		ClientID: r.PostFormValue("client_id"),
		Secret:   r.PostFormValue("client_secret"),
	}
}

// authenticateClient verifies a confidential client's secret. Comparison is
// constant time for both the current argon2id format and the legacy SHA-256
// format; a legacy match is let through but audited so operators can drive
// the migration to completion.
func authenticateClient(ctx context.Context, client *store.Client, providedSecret string) error {
	if !client.Confidential {
		return nil
	}
	if providedSecret == "" || client.SecretHash == "" {
		audit.Log(ctx, audit.EventClientAuthFailed, logger.ClientID(client.ClientID))
		return E(CodeInvalidClient, "client authentication required")
	}
	ok, legacy := secret.Verify(providedSecret, client.SecretHash)
	if !ok {
		audit.Log(ctx, audit.EventClientAuthFailed, logger.ClientID(client.ClientID))
		return E(CodeInvalidClient, "invalid client credentials")
	}
	if legacy {
		audit.Log(ctx, audit.EventLegacySecretUsed, logger.ClientID(client.ClientID))
	}
	return nil
}

// notFound reports whether err is the storage miss sentinel.
func notFound(err error) bool {
	return errors.Is(err, store.ErrNotFound)
}
