// Package audit records security events. Events go to the structured log
// under a fixed "audit" namespace; a future sink (DB, SIEM) can hang off
// the same call sites.
package audit

import (
	"context"

	"github.com/bastionlabs/bastion/internal/observability/logger"
	"go.uber.org/zap"
)

// Event names emitted by the protocol core.
const (
	EventTokenIssued      = "token_issued"
	EventTokenRevoked     = "token_revoked"
	EventCodeIssued       = "code_issued"
	EventCodeConsumed     = "code_consumed"
	EventClientAuthFailed = "client_auth_failed"
	EventLegacySecretUsed = "legacy_secret_verified"
	EventRefreshReuse     = "refresh_reuse_detected"
	EventConsentGranted   = "consent_granted"
	EventConsentDenied    = "consent_denied"
	EventConsentRevoked   = "consent_revoked"
	EventRateLimited      = "rate_limited"
	EventClientRegistered = "client_registered"
	EventClientDeleted    = "client_deleted"
)

// Log writes a structured audit event.
func Log(ctx context.Context, event string, fields ...zap.Field) {
	all := make([]zap.Field, 0, len(fields)+1)
	all = append(all, zap.String("event", event))
	all = append(all, fields...)
	logger.From(ctx).Named("audit").Info("security event", all...)
}
