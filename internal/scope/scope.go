// Package scope is the single source of truth for scope parsing and
// validation. Both the authorization endpoint and every grant handler go
// through it, so subset rules cannot drift between flows.
package scope

import (
	"regexp"
	"strings"
)

// Scope name rules:
// - Lowercase only.
// - Start and end with [a-z0-9].
// - Middle chars may include [a-z0-9:_.-].
// - Length 1..64.
// - Excludes semicolon and whitespace explicitly.
//
// Examples valid: profile, read:x, email:read:e2e123, a, a_b-c.d:scope2
// Examples invalid: ;hack, BAD, bad space, :leader, trailer:, "", 65+ chars.
var scopeNameRe = regexp.MustCompile(`^[a-z0-9](?:[a-z0-9:_\.-]{0,62}[a-z0-9])?$`)

// ValidName returns true if the scope name matches the allowed pattern.
func ValidName(name string) bool {
	return scopeNameRe.MatchString(name)
}

// Parse splits a whitespace-delimited scope string into a deduplicated,
// order-preserving slice. An empty or all-whitespace string yields nil.
func Parse(s string) []string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if _, dup := seen[f]; dup {
			continue
		}
		seen[f] = struct{}{}
		out = append(out, f)
	}
	return out
}

// Join renders a scope set back to its space-delimited wire form.
func Join(scopes []string) string {
	return strings.Join(scopes, " ")
}

// Result partitions a requested scope set against an allowed set.
type Result struct {
	// Filtered is requested ∩ allowed, in request order.
	Filtered []string
	// Invalid is every requested scope not in the allowed set.
	Invalid []string
}

// Valid reports whether every requested scope was allowed.
func (r Result) Valid() bool {
	return len(r.Invalid) == 0
}

// Validate partitions requested scopes into allowed and invalid.
// Valid() is true iff requested ⊆ allowed.
func Validate(requested, allowed []string) Result {
	allowedSet := make(map[string]struct{}, len(allowed))
	for _, a := range allowed {
		allowedSet[a] = struct{}{}
	}
	var res Result
	for _, s := range requested {
		if _, ok := allowedSet[s]; ok {
			res.Filtered = append(res.Filtered, s)
		} else {
			res.Invalid = append(res.Invalid, s)
		}
	}
	return res
}

// Contains reports whether set contains name.
func Contains(set []string, name string) bool {
	for _, s := range set {
		if s == name {
			return true
		}
	}
	return false
}
