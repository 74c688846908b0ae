// Package secret hashes and verifies client secrets.
//
// New hashes are always argon2id in PHC string format. Verification also
// accepts a legacy plain SHA-256 hex digest so installations migrating from
// the old scheme keep working; legacy matches are reported to the caller so
// they can be audited and migrated instead of silently accepted forever.
package secret

import (
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Params are the argon2id cost parameters.
type Params struct {
	Memory      uint32 // KiB
	Time        uint32
	Parallelism uint8
	KeyLen      uint32
}

// Default is sized for interactive verification on the token endpoint.
var Default = Params{Memory: 64 * 1024, Time: 3, Parallelism: 1, KeyLen: 32}

// Hash returns a PHC string: $argon2id$v=19$m=...,t=...,p=...$<saltB64>$<dkB64>
func Hash(p Params, plain string) (string, error) {
	if plain == "" {
		return "", fmt.Errorf("empty secret")
	}
	salt := make([]byte, 16)
	if _, err := rand.Read(salt); err != nil {
		return "", err
	}
	dk := argon2.IDKey([]byte(plain), salt, p.Time, p.Memory, p.Parallelism, p.KeyLen)
	return fmt.Sprintf("$argon2id$v=19$m=%d,t=%d,p=%d$%s$%s",
		p.Memory, p.Time, p.Parallelism,
		base64.RawStdEncoding.EncodeToString(salt),
		base64.RawStdEncoding.EncodeToString(dk),
	), nil
}

// Verify checks plain against a stored hash. The second return is true when
// the stored hash was in the legacy SHA-256 format; callers should emit an
// audit event and schedule a re-hash when they see it.
func Verify(plain, stored string) (ok bool, legacy bool) {
	if stored == "" {
		return false, false
	}
	if strings.HasPrefix(stored, "$argon2id$") {
		return verifyArgon2id(plain, stored), false
	}
	return verifyLegacySHA256(plain, stored), true
}

func verifyArgon2id(plain, phc string) bool {
	// $argon2id$v=19$m=...,t=...,p=...$<saltB64>$<dkB64>
	// fmt.Sscanf cannot parse this: %s scans to whitespace and a PHC
	// string has none, so the segments are split on '$' instead.
	parts := strings.Split(phc, "$")
	if len(parts) != 6 || parts[1] != "argon2id" {
		return false
	}
	var v int
	if _, err := fmt.Sscanf(parts[2], "v=%d", &v); err != nil || v != 19 {
		return false
	}
	var m, t, p int
	if _, err := fmt.Sscanf(parts[3], "m=%d,t=%d,p=%d", &m, &t, &p); err != nil {
		return false
	}
	saltB64, dkB64 := parts[4], parts[5]
	salt, err := base64.RawStdEncoding.DecodeString(saltB64)
	if err != nil {
		return false
	}
	dkStored, err := base64.RawStdEncoding.DecodeString(dkB64)
	if err != nil {
		return false
	}
	key := argon2.IDKey([]byte(plain), salt, uint32(t), uint32(m), uint8(p), uint32(len(dkStored)))
	return subtle.ConstantTimeCompare(key, dkStored) == 1
}

// verifyLegacySHA256 handles pre-argon2 installs that stored hex(sha256(secret)).
func verifyLegacySHA256(plain, stored string) bool {
	sum := sha256.Sum256([]byte(plain))
	want, err := hex.DecodeString(stored)
	if err != nil || len(want) != sha256.Size {
		return false
	}
	return subtle.ConstantTimeCompare(sum[:], want) == 1
}
