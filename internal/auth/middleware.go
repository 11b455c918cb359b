package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/coreos/go-oidc/v3/oidc"
	"github.com/ethereum/go-ethereum/common"
	"github.com/golang-jwt/jwt/v5"

	"ticket-ledger/internal/logger"
)

type contextKey string

const accountKey contextKey = "account"

var ErrNoAccount = errors.New("token does not name an account")

// Claims are the token fields the ledger cares about. Wallet wins over Sub.
type Claims struct {
	Sub    string `json:"sub"`
	Wallet string `json:"wallet"`
}

// Account resolves the caller's ledger account from the claims.
func (c Claims) Account() (common.Address, error) {
	for _, v := range []string{c.Wallet, c.Sub} {
		if common.IsHexAddress(v) {
			addr := common.HexToAddress(v)
			if addr != (common.Address{}) {
				return addr, nil
			}
		}
	}
	return common.Address{}, ErrNoAccount
}

// Verifier checks a raw bearer token and returns its claims.
type Verifier func(ctx context.Context, raw string) (Claims, error)

// Middleware verifies OIDC ID tokens issued by issuer.
func Middleware(ctx context.Context, issuer string, log *logger.Logger) (func(http.Handler) http.Handler, error) {
	provider, err := oidc.NewProvider(ctx, issuer)
	if err != nil {
		return nil, fmt.Errorf("create OIDC provider: %w", err)
	}
	// No client id: the realm issues tokens to several frontends.
	verifier := provider.Verifier(&oidc.Config{SkipClientIDCheck: true})

	return WithVerifier(func(ctx context.Context, raw string) (Claims, error) {
		idToken, err := verifier.Verify(ctx, raw)
		if err != nil {
			return Claims{}, err
		}
		var claims Claims
		if err := idToken.Claims(&claims); err != nil {
			return Claims{}, fmt.Errorf("parse claims: %w", err)
		}
		return claims, nil
	}, log), nil
}

type hmacClaims struct {
	Wallet string `json:"wallet,omitempty"`
	jwt.RegisteredClaims
}

// HMACMiddleware verifies HS256 tokens signed with secret.
func HMACMiddleware(secret string, log *logger.Logger) func(http.Handler) http.Handler {
	key := []byte(secret)
	return WithVerifier(func(_ context.Context, raw string) (Claims, error) {
		var c hmacClaims
		_, err := jwt.ParseWithClaims(raw, &c, func(*jwt.Token) (any, error) {
			return key, nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil {
			return Claims{}, err
		}
		return Claims{Sub: c.Subject, Wallet: c.Wallet}, nil
	}, log)
}

// IssueHMACToken signs a token for account, for local tooling and tests.
func IssueHMACToken(secret string, account common.Address, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := hmacClaims{
		Wallet: account.Hex(),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   account.Hex(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// WithVerifier builds the authentication middleware around verify.
func WithVerifier(verify Verifier, log *logger.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.Discard()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := ExtractTokenFromRequest(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			claims, err := verify(r.Context(), raw)
			if err != nil {
				log.LogSecurity("INVALID_TOKEN", fmt.Sprintf("%s %s: %v", r.Method, r.URL.Path, err))
				http.Error(w, fmt.Sprintf("invalid token: %v", err), http.StatusUnauthorized)
				return
			}
			account, err := claims.Account()
			if err != nil {
				log.LogSecurity("NO_ACCOUNT", fmt.Sprintf("sub=%q", claims.Sub))
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithAccount(r.Context(), account)))
		})
	}
}

// WithAccount stores the authenticated account in ctx.
func WithAccount(ctx context.Context, account common.Address) context.Context {
	return context.WithValue(ctx, accountKey, account)
}

// Account returns the authenticated caller.
func Account(ctx context.Context) (common.Address, bool) {
	account, ok := ctx.Value(accountKey).(common.Address)
	return account, ok
}

// ExtractTokenFromRequest returns the bearer token of the Authorization header.
func ExtractTokenFromRequest(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("missing Authorization header")
	}
	parts := strings.Fields(authHeader)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", errors.New("authorization header format must be 'Bearer {token}'")
	}
	return parts[1], nil
}
