package jwt

import (
	"crypto"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/rsa"
	"encoding/base64"
	"fmt"
	"math/big"
	"time"

	"github.com/bastionlabs/bastion/internal/config"
	jwtv5 "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

type keyStatus string

const (
	keyActive   keyStatus = "active"
	keyRetiring keyStatus = "retiring"
)

// signingKey is one asymmetric key pair with its JOSE metadata.
type signingKey struct {
	KID       string
	Alg       config.SigningAlg
	Private   crypto.PrivateKey
	Public    crypto.PublicKey
	Status    keyStatus
	NotBefore time.Time
}

const rsaKeyBits = 2048

// newSigningKey generates a fresh key pair for the given algorithm family.
func newSigningKey(alg config.SigningAlg) (*signingKey, error) {
	k := &signingKey{
		KID:       uuid.NewString(),
		Alg:       alg,
		Status:    keyActive,
		NotBefore: time.Now().UTC(),
	}
	switch alg {
	case config.SigningRS256:
		priv, err := rsa.GenerateKey(rand.Reader, rsaKeyBits)
		if err != nil {
			return nil, fmt.Errorf("generate rsa key: %w", err)
		}
		k.Private = priv
		k.Public = &priv.PublicKey
	case config.SigningES256:
		priv, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
		if err != nil {
			return nil, fmt.Errorf("generate ec key: %w", err)
		}
		k.Private = priv
		k.Public = &priv.PublicKey
	default:
		return nil, fmt.Errorf("unsupported signing algorithm %q", alg)
	}
	return k, nil
}

func (k *signingKey) method() jwtv5.SigningMethod {
	if k.Alg == config.SigningES256 {
		return jwtv5.SigningMethodES256
	}
	return jwtv5.SigningMethodRS256
}

// ----- JWKS (public material only) -----

// JWK is a single public key in JSON Web Key form.
type JWK struct {
	Kty string `json:"kty"`
	Kid string `json:"kid"`
	Alg string `json:"alg"`
	Use string `json:"use"`

	// RSA
	N string `json:"n,omitempty"`
	E string `json:"e,omitempty"`

	// EC
	Crv string `json:"crv,omitempty"`
	X   string `json:"x,omitempty"`
	Y   string `json:"y,omitempty"`
}

// JWKS is the document served at /.well-known/jwks.json.
type JWKS struct {
	Keys []JWK `json:"keys"`
}

// jwk exports the public half of the key. Private material never leaves
// the signingKey struct.
func (k *signingKey) jwk() JWK {
	out := JWK{
		Kid: k.KID,
		Alg: string(k.Alg),
		Use: "sig",
	}
	switch pub := k.Public.(type) {
	case *rsa.PublicKey:
		out.Kty = "RSA"
		out.N = base64.RawURLEncoding.EncodeToString(pub.N.Bytes())
		out.E = base64.RawURLEncoding.EncodeToString(big.NewInt(int64(pub.E)).Bytes())
	case *ecdsa.PublicKey:
		out.Kty = "EC"
		out.Crv = "P-256"
		size := (pub.Curve.Params().BitSize + 7) / 8
		out.X = base64.RawURLEncoding.EncodeToString(pub.X.FillBytes(make([]byte, size)))
		out.Y = base64.RawURLEncoding.EncodeToString(pub.Y.FillBytes(make([]byte, size)))
	}
	return out
}
