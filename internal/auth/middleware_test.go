package auth

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const secret = "test-secret"

var alice = common.HexToAddress("0x00000000000000000000000000000000000a11ce")

func echoAccount() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		account, ok := Account(r.Context())
		if !ok {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.Write([]byte(account.Hex()))
	})
}

func serve(h http.Handler, header string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	if header != "" {
		req.Header.Set("Authorization", header)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestHMACMiddlewareAcceptsIssuedToken(t *testing.T) {
	token, err := IssueHMACToken(secret, alice, time.Minute)
	require.NoError(t, err)

	rec := serve(HMACMiddleware(secret, nil)(echoAccount()), "Bearer "+token)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, alice.Hex(), rec.Body.String())
}

func TestHMACMiddlewareRejectsBadTokens(t *testing.T) {
	h := HMACMiddleware(secret, nil)(echoAccount())

	forged, err := IssueHMACToken("other-secret", alice, time.Minute)
	require.NoError(t, err)
	expired, err := IssueHMACToken(secret, alice, -time.Minute)
	require.NoError(t, err)

	for name, header := range map[string]string{
		"missing":   "",
		"malformed": "Token abc",
		"forged":    "Bearer " + forged,
		"expired":   "Bearer " + expired,
		"garbage":   "Bearer not.a.jwt",
	} {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, http.StatusUnauthorized, serve(h, header).Code)
		})
	}
}

func TestHMACMiddlewareRejectsNoneAlgorithm(t *testing.T) {
	token := jwt.NewWithClaims(jwt.SigningMethodNone, jwt.MapClaims{"wallet": alice.Hex()})
	raw, err := token.SignedString(jwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	rec := serve(HMACMiddleware(secret, nil)(echoAccount()), "Bearer "+raw)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestClaimsAccount(t *testing.T) {
	bob := common.HexToAddress("0x0000000000000000000000000000000000000b0b")

	got, err := Claims{Sub: "keycloak-user", Wallet: alice.Hex()}.Account()
	require.NoError(t, err)
	assert.Equal(t, alice, got)

	got, err = Claims{Sub: bob.Hex()}.Account()
	require.NoError(t, err)
	assert.Equal(t, bob, got)

	_, err = Claims{Sub: "keycloak-user"}.Account()
	assert.ErrorIs(t, err, ErrNoAccount)

	_, err = Claims{Wallet: common.Address{}.Hex()}.Account()
	assert.ErrorIs(t, err, ErrNoAccount)
}

func TestWithVerifierRejectsTokenWithoutAccount(t *testing.T) {
	verify := func(context.Context, string) (Claims, error) { return Claims{Sub: "user-1"}, nil }
	rec := serve(WithVerifier(verify, nil)(echoAccount()), "Bearer x")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	failing := func(context.Context, string) (Claims, error) { return Claims{}, errors.New("boom") }
	rec = serve(WithVerifier(failing, nil)(echoAccount()), "bearer x")
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExtractTokenFromRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	_, err := ExtractTokenFromRequest(req)
	assert.Error(t, err)

	req.Header.Set("Authorization", "bearer abc")
	token, err := ExtractTokenFromRequest(req)
	require.NoError(t, err)
	assert.Equal(t, "abc", token)
}

func TestAccountMissingFromContext(t *testing.T) {
	_, ok := Account(context.Background())
	assert.False(t, ok)
}
