// Package auth provides EIP-191 signature verification and session
// token issuance for authenticated wallet addresses.
package auth

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	apperrors "github.com/ghiblify/wallet-middleware/pkg/app/errors"
	apphttp "github.com/ghiblify/wallet-middleware/pkg/app/http"
)

// SessionClaims are the claims carried by a wallet session token.
type SessionClaims struct {
	Address string `json:"address"`
	jwt.RegisteredClaims
}

// TokenIssuer mints and validates HS256 session tokens for wallet
// addresses that completed SIWE verification.
type TokenIssuer struct {
	secret   []byte
	issuer   string
	tokenTTL time.Duration
}

// NewTokenIssuer creates a token issuer.
func NewTokenIssuer(secret, issuer string, tokenTTL time.Duration) (*TokenIssuer, error) {
	if secret == "" {
		return nil, fmt.Errorf("auth secret is required")
	}
	if tokenTTL <= 0 {
		tokenTTL = 24 * time.Hour
	}
	return &TokenIssuer{
		secret:   []byte(secret),
		issuer:   issuer,
		tokenTTL: tokenTTL,
	}, nil
}

// Issue creates a signed session token bound to address.
func (t *TokenIssuer) Issue(address string) (string, error) {
	now := time.Now()
	claims := &SessionClaims{
		Address: NormalizeAddress(address),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    t.issuer,
			Subject:   NormalizeAddress(address),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.tokenTTL)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(t.secret)
	if err != nil {
		return "", fmt.Errorf("sign session token: %w", err)
	}
	return signed, nil
}

// Validate parses and verifies a session token, returning its claims.
func (t *TokenIssuer) Validate(tokenString string) (*SessionClaims, error) {
	claims := &SessionClaims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return t.secret, nil
	}, jwt.WithIssuer(t.issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, fmt.Errorf("parse session token: %w", err)
	}
	if !token.Valid {
		return nil, fmt.Errorf("invalid session token")
	}
	if claims.Address == "" {
		return nil, fmt.Errorf("session token missing address")
	}
	return claims, nil
}

// Middleware returns a chi-compatible middleware that requires a valid
// bearer session token and stores the address in the request context.
func (t *TokenIssuer) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		header := r.Header.Get("Authorization")
		if !strings.HasPrefix(header, "Bearer ") {
			apphttp.DefaultErrorHandler(w, apperrors.UnAuthorizedError(nil, "missing bearer token"))
			return
		}

		claims, err := t.Validate(strings.TrimPrefix(header, "Bearer "))
		if err != nil {
			apphttp.DefaultErrorHandler(w, apperrors.UnAuthorizedError(err, "invalid session token"))
			return
		}

		next.ServeHTTP(w, r.WithContext(WithEVMAddress(r.Context(), claims.Address)))
	})
}
