package token

import "testing"

// PKCE round-trip: for any random verifier V, the S256 challenge of V must
// validate against V and reject anything else.
func TestVerifyPKCE_S256RoundTrip(t *testing.T) {
	for i := 0; i < 20; i++ {
		verifier, err := GenerateOpaque(32)
		if err != nil {
			t.Fatalf("generate verifier: %v", err)
		}
		challenge := PKCEChallengeS256(verifier)

		if !VerifyPKCE(verifier, challenge, PKCEMethodS256) {
			t.Fatalf("verifier must satisfy its own challenge (iter %d)", i)
		}
		// Empty method defaults to S256.
		if !VerifyPKCE(verifier, challenge, "") {
			t.Fatal("empty method must default to S256")
		}

		other, _ := GenerateOpaque(32)
		if VerifyPKCE(other, challenge, PKCEMethodS256) {
			t.Fatal("foreign verifier must not satisfy the challenge")
		}
	}
}

func TestVerifyPKCE_Plain(t *testing.T) {
	if !VerifyPKCE("exact-match", "exact-match", PKCEMethodPlain) {
		t.Fatal("plain method must validate on exact equality")
	}
	if VerifyPKCE("exact-match", "other", PKCEMethodPlain) {
		t.Fatal("plain method must reject on inequality")
	}
	// plain never accepts the hashed form
	if VerifyPKCE("exact-match", PKCEChallengeS256("exact-match"), PKCEMethodPlain) {
		t.Fatal("plain method must not accept S256 challenge")
	}
}

func TestVerifyPKCE_Degenerate(t *testing.T) {
	if VerifyPKCE("", "challenge", PKCEMethodS256) {
		t.Fatal("empty verifier must fail")
	}
	if VerifyPKCE("verifier", "", PKCEMethodS256) {
		t.Fatal("empty challenge must fail")
	}
	if VerifyPKCE("v", PKCEChallengeS256("v"), "S512") {
		t.Fatal("unknown method must fail")
	}
}

func TestValidPKCEMethod(t *testing.T) {
	for _, m := range []string{"S256", "plain", ""} {
		if !ValidPKCEMethod(m) {
			t.Fatalf("method %q should be valid", m)
		}
	}
	for _, m := range []string{"s256", "PLAIN", "S512"} {
		if ValidPKCEMethod(m) {
			t.Fatalf("method %q should be invalid", m)
		}
	}
}

func TestGenerateOpaque(t *testing.T) {
	a, err := GenerateOpaque(32)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	b, err := GenerateOpaque(32)
	if err != nil {
		t.Fatalf("generate: %v", err)
	}
	if a == b {
		t.Fatal("two opaque tokens must differ")
	}
	if len(a) != 43 { // 32 bytes base64url unpadded
		t.Fatalf("unexpected length %d", len(a))
	}
}
