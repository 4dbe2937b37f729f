// Package middleware provides HTTP middleware.
package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"

	"github.com/sliceorch/placement/internal/domain"
)

// ContextKey is the type for context keys.
type ContextKey string

const (
	// ClaimsKey is the context key for JWT claims.
	ClaimsKey ContextKey = "claims"
)

// Claims are the token claims issued by the slice platform.
type Claims struct {
	jwt.RegisteredClaims
	// Scope is informational; every authenticated caller may place slices.
	Scope string `json:"scope,omitempty"`
}

// publicEndpoints never require a token.
var publicEndpoints = map[string]bool{
	"/health":  true,
	"/healthz": true,
	"/ready":   true,
	"/live":    true,
	"/metrics": true,
}

func isPublicEndpoint(path string) bool {
	return publicEndpoints[path]
}

// Auth verifies HS256 bearer tokens.
type Auth struct {
	secret []byte
	issuer string
	logger *zap.Logger
}

// NewAuth creates a new auth middleware. An empty issuer accepts tokens
// from any issuer.
func NewAuth(secret, issuer string, logger *zap.Logger) *Auth {
	return &Auth{
		secret: []byte(secret),
		issuer: issuer,
		logger: logger.With(zap.String("middleware", "auth")),
	}
}

// Verify validates a token and returns its claims.
func (a *Auth) Verify(tokenString string) (*Claims, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(t *jwt.Token) (interface{}, error) {
		return a.secret, nil
	}, opts...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrUnauthenticated, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, fmt.Errorf("%w: invalid token claims", domain.ErrUnauthenticated)
	}
	return claims, nil
}

// Sign issues a token for subject. It is used by operators and tests to mint
// service tokens with the shared secret.
func (a *Auth) Sign(subject string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    a.issuer,
			Subject:   subject,
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(a.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign token: %w", err)
	}
	return signed, nil
}

// Handler rejects requests without a valid bearer token.
func (a *Auth) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodOptions || isPublicEndpoint(r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		authHeader := r.Header.Get("Authorization")
		if authHeader == "" {
			a.logger.Debug("Missing authorization header", zap.String("path", r.URL.Path))
			unauthorized(w, "missing authorization header")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, "Bearer ")
		if tokenString == authHeader {
			unauthorized(w, "invalid authorization format, expected 'Bearer <token>'")
			return
		}

		claims, err := a.Verify(tokenString)
		if err != nil {
			a.logger.Debug("Token verification failed", zap.Error(err))
			unauthorized(w, "invalid or expired token")
			return
		}

		a.logger.Debug("Request authenticated",
			zap.String("subject", claims.Subject),
			zap.String("path", r.URL.Path),
		)

		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ClaimsKey, claims)))
	})
}

// ClaimsFromContext returns the claims of an authenticated request.
func ClaimsFromContext(ctx context.Context) (*Claims, error) {
	claims, ok := ctx.Value(ClaimsKey).(*Claims)
	if !ok || claims == nil {
		return nil, errors.New("no claims in context")
	}
	return claims, nil
}

func unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="placement"`)
	w.WriteHeader(http.StatusUnauthorized)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
