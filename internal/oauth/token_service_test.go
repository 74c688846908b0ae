package oauth_test

import (
	"context"
	"strings"
	"testing"
	"time"

	cachemem "github.com/bastionlabs/bastion/internal/cache/memory"
	"github.com/bastionlabs/bastion/internal/config"
	jwtx "github.com/bastionlabs/bastion/internal/jwt"
	"github.com/bastionlabs/bastion/internal/oauth"
	"github.com/bastionlabs/bastion/internal/security/secret"
	tokens "github.com/bastionlabs/bastion/internal/security/token"
	"github.com/bastionlabs/bastion/internal/store"
	storemem "github.com/bastionlabs/bastion/internal/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testSecret  = "s3cr3t-value"
	testCallback = "https://app.example/cb"
)

func newFixture(t *testing.T, policy oauth.Policy) (*oauth.Services, *storemem.Store) {
	t.Helper()
	st := storemem.New()
	svc := jwtx.NewService(jwtx.Options{
		Issuer:     "https://auth.test",
		Audience:   "https://api.test",
		Format:     config.TokenFormatJWT,
		Algorithm:  config.SigningES256,
		AccessTTL:  15 * time.Minute,
		RefreshTTL: 24 * time.Hour,
	})
	if policy.ScopeCatalog == nil {
		policy.ScopeCatalog = []string{"read:x", "write:x", "read:y"}
	}
	if policy.ConsentURL == "" {
		policy.ConsentURL = "https://auth.test/consent"
	}
	return oauth.NewServices(oauth.Deps{
		Store:  st,
		Tokens: svc,
		Cache:  cachemem.New(time.Minute),
		Policy: policy,
	}), st
}

func seedClient(t *testing.T, st *storemem.Store, confidential bool, grants ...string) *store.Client {
	t.Helper()
	c := &store.Client{
		ClientID:     "c1",
		Name:         "Test App",
		RedirectURIs: []string{testCallback},
		GrantTypes:   grants,
		Scopes:       []string{"read:x", "write:x"},
		Confidential: confidential,
		Active:       true,
		CreatedAt:    time.Now(),
		UpdatedAt:    time.Now(),
	}
	if confidential {
		h, err := secret.Hash(secret.Default, testSecret)
		require.NoError(t, err)
		c.SecretHash = h
	}
	require.NoError(t, st.CreateClient(context.Background(), c))
	return c
}

func seedCode(t *testing.T, st *storemem.Store, code, challenge, method string) {
	t.Helper()
	require.NoError(t, st.SaveAuthCode(context.Background(), &store.AuthCodeRecord{
		Code:                code,
		ClientID:            "c1",
		UserID:              "u1",
		RedirectURI:         testCallback,
		Scopes:              []string{"read:x"},
		CodeChallenge:       challenge,
		CodeChallengeMethod: method,
		ExpiresAt:           time.Now().Add(10 * time.Minute),
		CreatedAt:           time.Now(),
	}))
}

func TestClientCredentials_HappyPath(t *testing.T) {
	svcs, st := newFixture(t, oauth.Policy{})
	seedClient(t, st, true, "client_credentials")
	ctx := context.Background()

	resp, err := svcs.Token.ExchangeClientCredentials(ctx, oauth.ClientCredentialsRequest{
		Scope:       "read:x",
		Credentials: oauth.Credentials{ClientID: "c1", Secret: testSecret},
	})
	require.NoError(t, err)
	assert.Equal(t, "Bearer", resp.TokenType)
	assert.Equal(t, "read:x", resp.Scope)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, int64(15*60), resp.ExpiresIn)

	rec, err := st.GetToken(ctx, resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, store.TokenTypeAccess, rec.Type)
	assert.Empty(t, rec.UserID)
}

func TestClientCredentials_DefaultsToFullScopeSet(t *testing.T) {
	svcs, st := newFixture(t, oauth.Policy{})
	seedClient(t, st, true, "client_credentials")

	resp, err := svcs.Token.ExchangeClientCredentials(context.Background(), oauth.ClientCredentialsRequest{
		Credentials: oauth.Credentials{ClientID: "c1", Secret: testSecret},
	})
	require.NoError(t, err)
	assert.Equal(t, "read:x write:x", resp.Scope)
}

func TestClientCredentials_Failures(t *testing.T) {
	svcs, st := newFixture(t, oauth.Policy{})
	seedClient(t, st, true, "client_credentials")
	ctx := context.Background()

	cases := []struct {
		name string
		req  oauth.ClientCredentialsRequest
		code string
	}{
		{"missing credentials", oauth.ClientCredentialsRequest{}, oauth.CodeInvalidClient},
		{"unknown client", oauth.ClientCredentialsRequest{Credentials: oauth.Credentials{ClientID: "nope", Secret: "x"}}, oauth.CodeInvalidClient},
		{"wrong secret", oauth.ClientCredentialsRequest{Credentials: oauth.Credentials{ClientID: "c1", Secret: "wrong"}}, oauth.CodeInvalidClient},
		{"scope outside allow-list", oauth.ClientCredentialsRequest{Scope: "read:x admin:all", Credentials: oauth.Credentials{ClientID: "c1", Secret: testSecret}}, oauth.CodeInvalidScope},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := svcs.Token.ExchangeClientCredentials(ctx, tc.req)
			require.Error(t, err)
			assert.Equal(t, tc.code, oauth.AsError(err).Code)
		})
	}
}

func TestClientCredentials_PublicClientRejected(t *testing.T) {
	svcs, st := newFixture(t, oauth.Policy{})
	seedClient(t, st, false, "client_credentials")

	_, err := svcs.Token.ExchangeClientCredentials(context.Background(), oauth.ClientCredentialsRequest{
		Credentials: oauth.Credentials{ClientID: "c1"},
	})
	require.Error(t, err)
	oe := oauth.AsError(err)
	assert.Equal(t, oauth.CodeUnauthorizedClient, oe.Code)
	assert.Equal(t, 403, oe.Status())
}

func TestClientCredentials_GrantNotAllowed(t *testing.T) {
	svcs, st := newFixture(t, oauth.Policy{})
	seedClient(t, st, true, "authorization_code")

	_, err := svcs.Token.ExchangeClientCredentials(context.Background(), oauth.ClientCredentialsRequest{
		Credentials: oauth.Credentials{ClientID: "c1", Secret: testSecret},
	})
	require.Error(t, err)
	assert.Equal(t, oauth.CodeUnauthorizedClient, oauth.AsError(err).Code)
}

func TestAuthCode_Exchange(t *testing.T) {
	svcs, st := newFixture(t, oauth.Policy{})
	seedClient(t, st, true, "authorization_code")
	verifier := strings.Repeat("v", 48)
	seedCode(t, st, "code-1", tokens.PKCEChallengeS256(verifier), "S256")
	ctx := context.Background()

	resp, err := svcs.Token.ExchangeAuthorizationCode(ctx, oauth.AuthCodeRequest{
		Code:         "code-1",
		RedirectURI:  testCallback,
		CodeVerifier: verifier,
		Credentials:  oauth.Credentials{ClientID: "c1", Secret: testSecret},
	})
	require.NoError(t, err)
	assert.Equal(t, "read:x", resp.Scope)
	assert.NotEmpty(t, resp.RefreshToken)

	rec, err := st.GetToken(ctx, resp.RefreshToken)
	require.NoError(t, err)
	assert.Equal(t, "u1", rec.UserID)

	// Single use: the same code must be gone.
	_, err = svcs.Token.ExchangeAuthorizationCode(ctx, oauth.AuthCodeRequest{
		Code:         "code-1",
		RedirectURI:  testCallback,
		CodeVerifier: verifier,
		Credentials:  oauth.Credentials{ClientID: "c1", Secret: testSecret},
	})
	require.Error(t, err)
	assert.Equal(t, oauth.CodeInvalidGrant, oauth.AsError(err).Code)
}

func TestAuthCode_PKCEFailures(t *testing.T) {
	svcs, st := newFixture(t, oauth.Policy{})
	seedClient(t, st, true, "authorization_code")
	verifier := strings.Repeat("v", 48)
	ctx := context.Background()

	seedCode(t, st, "code-pkce", tokens.PKCEChallengeS256(verifier), "S256")
	_, err := svcs.Token.ExchangeAuthorizationCode(ctx, oauth.AuthCodeRequest{
		Code:        "code-pkce",
		RedirectURI: testCallback,
		Credentials: oauth.Credentials{ClientID: "c1", Secret: testSecret},
	})
	require.Error(t, err, "verifier missing")
	assert.Equal(t, oauth.CodeInvalidGrant, oauth.AsError(err).Code)

	seedCode(t, st, "code-pkce2", tokens.PKCEChallengeS256(verifier), "S256")
	_, err = svcs.Token.ExchangeAuthorizationCode(ctx, oauth.AuthCodeRequest{
		Code:         "code-pkce2",
		RedirectURI:  testCallback,
		CodeVerifier: strings.Repeat("w", 48),
		Credentials:  oauth.Credentials{ClientID: "c1", Secret: testSecret},
	})
	require.Error(t, err, "wrong verifier")
	assert.Equal(t, oauth.CodeInvalidGrant, oauth.AsError(err).Code)
}

func TestAuthCode_PKCEPolicyByClientType(t *testing.T) {
	ctx := context.Background()

	// Confidential client, policy public_clients: plain code passes.
	svcs, st := newFixture(t, oauth.Policy{PKCE: config.PKCEPublicClients})
	seedClient(t, st, true, "authorization_code")
	seedCode(t, st, "code-a", "", "")
	_, err := svcs.Token.ExchangeAuthorizationCode(ctx, oauth.AuthCodeRequest{
		Code:        "code-a",
		RedirectURI: testCallback,
		Credentials: oauth.Credentials{ClientID: "c1", Secret: testSecret},
	})
	require.NoError(t, err)

	// Public client, same policy: missing challenge is fatal.
	svcs, st = newFixture(t, oauth.Policy{PKCE: config.PKCEPublicClients})
	seedClient(t, st, false, "authorization_code")
	seedCode(t, st, "code-b", "", "")
	_, err = svcs.Token.ExchangeAuthorizationCode(ctx, oauth.AuthCodeRequest{
		Code:        "code-b",
		RedirectURI: testCallback,
		Credentials: oauth.Credentials{ClientID: "c1"},
	})
	require.Error(t, err)
	assert.Equal(t, oauth.CodeInvalidGrant, oauth.AsError(err).Code)
}

func TestAuthCode_RedirectAndClientMismatch(t *testing.T) {
	svcs, st := newFixture(t, oauth.Policy{})
	seedClient(t, st, true, "authorization_code")
	ctx := context.Background()

	seedCode(t, st, "code-r", "", "")
	_, err := svcs.Token.ExchangeAuthorizationCode(ctx, oauth.AuthCodeRequest{
		Code:        "code-r",
		RedirectURI: "https://evil.example/cb",
		Credentials: oauth.Credentials{ClientID: "c1", Secret: testSecret},
	})
	require.Error(t, err)
	assert.Equal(t, oauth.CodeInvalidGrant, oauth.AsError(err).Code)

	seedCode(t, st, "code-c", "", "")
	_, err = svcs.Token.ExchangeAuthorizationCode(ctx, oauth.AuthCodeRequest{
		Code:        "code-c",
		RedirectURI: testCallback,
		Credentials: oauth.Credentials{ClientID: "other", Secret: testSecret},
	})
	require.Error(t, err)
	assert.Equal(t, oauth.CodeInvalidGrant, oauth.AsError(err).Code)
}

func TestRefresh_RotationAndReuseDetection(t *testing.T) {
	svcs, st := newFixture(t, oauth.Policy{RefreshRotation: true, ReuseDetection: true})
	seedClient(t, st, true, "authorization_code", "refresh_token")
	seedCode(t, st, "code-1", "", "")
	ctx := context.Background()

	first, err := svcs.Token.ExchangeAuthorizationCode(ctx, oauth.AuthCodeRequest{
		Code:        "code-1",
		RedirectURI: testCallback,
		Credentials: oauth.Credentials{ClientID: "c1", Secret: testSecret},
	})
	require.NoError(t, err)

	second, err := svcs.Token.ExchangeRefreshToken(ctx, oauth.RefreshTokenRequest{
		RefreshToken: first.RefreshToken,
		Credentials:  oauth.Credentials{ClientID: "c1", Secret: testSecret},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, second.RefreshToken)
	assert.NotEqual(t, first.RefreshToken, second.RefreshToken)

	// Rotation revoked the old refresh token and its paired access token.
	old, err := st.GetToken(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.True(t, old.Revoked)
	oldAccess, err := st.GetToken(ctx, first.AccessToken)
	require.NoError(t, err)
	assert.True(t, oldAccess.Revoked)

	// Replaying the old refresh token is a theft signal: everything the
	// client holds dies.
	_, err = svcs.Token.ExchangeRefreshToken(ctx, oauth.RefreshTokenRequest{
		RefreshToken: first.RefreshToken,
		Credentials:  oauth.Credentials{ClientID: "c1", Secret: testSecret},
	})
	require.Error(t, err)
	assert.Equal(t, oauth.CodeInvalidGrant, oauth.AsError(err).Code)

	latest, err := st.GetToken(ctx, second.RefreshToken)
	require.NoError(t, err)
	assert.True(t, latest.Revoked, "mass revocation must cover the newest pair")
}

func TestRefresh_NoRotationRepairsAccessPairing(t *testing.T) {
	svcs, st := newFixture(t, oauth.Policy{RefreshRotation: false})
	seedClient(t, st, true, "authorization_code", "refresh_token")
	seedCode(t, st, "code-nr", "", "")
	ctx := context.Background()

	first, err := svcs.Token.ExchangeAuthorizationCode(ctx, oauth.AuthCodeRequest{
		Code:        "code-nr",
		RedirectURI: testCallback,
		Credentials: oauth.Credentials{ClientID: "c1", Secret: testSecret},
	})
	require.NoError(t, err)

	second, err := svcs.Token.ExchangeRefreshToken(ctx, oauth.RefreshTokenRequest{
		RefreshToken: first.RefreshToken,
		Credentials:  oauth.Credentials{ClientID: "c1", Secret: testSecret},
	})
	require.NoError(t, err)
	assert.Empty(t, second.RefreshToken, "no rotation means no replacement refresh token")

	// The surviving refresh token must now point at the freshly minted
	// access token, not at the one the exchange just revoked.
	refreshRec, err := st.GetToken(ctx, first.RefreshToken)
	require.NoError(t, err)
	assert.False(t, refreshRec.Revoked)
	newAccess, err := st.GetToken(ctx, second.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, newAccess.ID, refreshRec.AccessTokenID)

	// A second exchange proves the pairing is live: it kills the access
	// token minted above, not the long-gone original.
	third, err := svcs.Token.ExchangeRefreshToken(ctx, oauth.RefreshTokenRequest{
		RefreshToken: first.RefreshToken,
		Credentials:  oauth.Credentials{ClientID: "c1", Secret: testSecret},
	})
	require.NoError(t, err)

	prev, err := st.GetToken(ctx, second.AccessToken)
	require.NoError(t, err)
	assert.True(t, prev.Revoked)
	live, err := st.GetToken(ctx, third.AccessToken)
	require.NoError(t, err)
	assert.False(t, live.Revoked)
}

func TestRefresh_ScopeNarrowingOnly(t *testing.T) {
	svcs, st := newFixture(t, oauth.Policy{RefreshRotation: true})
	seedClient(t, st, true, "authorization_code", "refresh_token")
	require.NoError(t, st.SaveAuthCode(context.Background(), &store.AuthCodeRecord{
		Code:        "code-ns",
		ClientID:    "c1",
		UserID:      "u1",
		RedirectURI: testCallback,
		Scopes:      []string{"read:x", "write:x"},
		ExpiresAt:   time.Now().Add(10 * time.Minute),
		CreatedAt:   time.Now(),
	}))
	ctx := context.Background()

	first, err := svcs.Token.ExchangeAuthorizationCode(ctx, oauth.AuthCodeRequest{
		Code:        "code-ns",
		RedirectURI: testCallback,
		Credentials: oauth.Credentials{ClientID: "c1", Secret: testSecret},
	})
	require.NoError(t, err)

	narrowed, err := svcs.Token.ExchangeRefreshToken(ctx, oauth.RefreshTokenRequest{
		RefreshToken: first.RefreshToken,
		Scope:        "read:x",
		Credentials:  oauth.Credentials{ClientID: "c1", Secret: testSecret},
	})
	require.NoError(t, err)
	assert.Equal(t, "read:x", narrowed.Scope)

	_, err = svcs.Token.ExchangeRefreshToken(ctx, oauth.RefreshTokenRequest{
		RefreshToken: narrowed.RefreshToken,
		Scope:        "read:x write:x", // widening past the narrowed grant
		Credentials:  oauth.Credentials{ClientID: "c1", Secret: testSecret},
	})
	require.Error(t, err)
	assert.Equal(t, oauth.CodeInvalidScope, oauth.AsError(err).Code)
}

func TestRefresh_AccessTokenRejected(t *testing.T) {
	svcs, st := newFixture(t, oauth.Policy{})
	seedClient(t, st, true, "client_credentials", "refresh_token")
	ctx := context.Background()

	resp, err := svcs.Token.ExchangeClientCredentials(ctx, oauth.ClientCredentialsRequest{
		Credentials: oauth.Credentials{ClientID: "c1", Secret: testSecret},
	})
	require.NoError(t, err)

	_, err = svcs.Token.ExchangeRefreshToken(ctx, oauth.RefreshTokenRequest{
		RefreshToken: resp.AccessToken,
		Credentials:  oauth.Credentials{ClientID: "c1", Secret: testSecret},
	})
	require.Error(t, err)
	assert.Equal(t, oauth.CodeInvalidGrant, oauth.AsError(err).Code)
}

func TestRefresh_MissingToken(t *testing.T) {
	svcs, _ := newFixture(t, oauth.Policy{})
	_, err := svcs.Token.ExchangeRefreshToken(context.Background(), oauth.RefreshTokenRequest{})
	require.Error(t, err)
	assert.Equal(t, oauth.CodeInvalidRequest, oauth.AsError(err).Code)
}
