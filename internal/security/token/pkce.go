package token

import (
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
)

// PKCE challenge methods per RFC 7636.
const (
	PKCEMethodS256  = "S256"
	PKCEMethodPlain = "plain"
)

// ValidPKCEMethod reports whether method is one we support. The empty
// string is accepted at the authorize endpoint and defaults to S256.
func ValidPKCEMethod(method string) bool {
	switch method {
	case PKCEMethodS256, PKCEMethodPlain, "":
		return true
	}
	return false
}

// PKCEChallengeS256 computes BASE64URL(SHA256(verifier)).
func PKCEChallengeS256(verifier string) string {
	sum := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(sum[:])
}

// VerifyPKCE checks a code_verifier against the stored challenge under the
// stored method. An empty method means S256. Comparison is constant-time;
// unknown methods never verify.
func VerifyPKCE(verifier, challenge, method string) bool {
	if verifier == "" || challenge == "" {
		return false
	}
	switch method {
	case PKCEMethodS256, "":
		computed := PKCEChallengeS256(verifier)
		return subtle.ConstantTimeCompare([]byte(computed), []byte(challenge)) == 1
	case PKCEMethodPlain:
		return subtle.ConstantTimeCompare([]byte(verifier), []byte(challenge)) == 1
	}
	return false
}
