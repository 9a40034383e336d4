package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog/log"

	"github.com/markdave123-py/knowledge-mcp/internal/core"
)

type ownerKey struct{}

// WithOwner attaches the caller identity to ctx.
func WithOwner(ctx context.Context, ownerID string) context.Context {
	return context.WithValue(ctx, ownerKey{}, ownerID)
}

// OwnerFromContext returns the caller identity, or "" when none was attached.
func OwnerFromContext(ctx context.Context) string {
	owner, _ := ctx.Value(ownerKey{}).(string)
	return owner
}

// IdentityConfig selects where the caller identity comes from.
//
// Header:    forwarded-identity header set by a trusted proxy.
// JWTSecret: when set, an HS256 bearer token is required and its subject is the identity.
type IdentityConfig struct {
	Header    string
	JWTSecret string
}

// Identity resolves the caller identity and attaches it to the request context.
// Requests without one are rejected with 401.
func Identity(cfg IdentityConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			owner, err := resolveOwner(r, cfg)
			if err != nil {
				log.Debug().Err(err).Str("path", r.URL.Path).Msg("request rejected")
				writeAuthError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(WithOwner(r.Context(), owner)))
		})
	}
}

func resolveOwner(r *http.Request, cfg IdentityConfig) (string, error) {
	if cfg.JWTSecret != "" {
		return ownerFromToken(r.Header.Get("Authorization"), cfg.JWTSecret)
	}
	owner := strings.TrimSpace(r.Header.Get(cfg.Header))
	if owner == "" {
		return "", &core.AuthenticationError{Reason: "missing " + cfg.Header + " header"}
	}
	return owner, nil
}

// ownerFromToken validates an HS256 bearer token. The identity is "sub", or "user_id" for older tokens.
func ownerFromToken(auth, secret string) (string, error) {
	if !strings.HasPrefix(auth, "Bearer ") {
		return "", &core.AuthenticationError{Reason: "missing or invalid bearer token"}
	}
	tokenStr := strings.TrimPrefix(auth, "Bearer ")

	claims := jwt.MapClaims{}
	token, err := jwt.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return "", &core.AuthenticationError{Reason: "invalid token"}
	}

	if sub, err := claims.GetSubject(); err == nil && sub != "" {
		return sub, nil
	}
	if userID, ok := claims["user_id"].(string); ok && userID != "" {
		return userID, nil
	}
	return "", &core.AuthenticationError{Reason: "token has no subject"}
}

func writeAuthError(w http.ResponseWriter, err error) {
	var authErr *core.AuthenticationError
	msg := "authentication failed"
	if errors.As(err, &authErr) {
		msg = authErr.Error()
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error": map[string]string{"kind": core.KindAuthentication, "message": msg},
	})
}
