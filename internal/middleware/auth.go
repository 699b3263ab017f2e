package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"storefront-catalog/internal/domain"

	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

type contextKey string

const principalKey contextKey = "principal"

// AuthMiddleware validates JWT tokens and stores the caller's principal in the request context
func AuthMiddleware(jwtSecret string, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				logger.Debug("Missing authorization header")
				RespondWithError(w, http.StatusUnauthorized, "missing authorization header")
				return
			}

			parts := strings.Split(authHeader, " ")
			if len(parts) != 2 || parts[0] != "Bearer" {
				logger.Debug("Invalid authorization header format")
				RespondWithError(w, http.StatusUnauthorized, "invalid authorization header format")
				return
			}

			token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
				if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
					return nil, jwt.ErrSignatureInvalid
				}
				return []byte(jwtSecret), nil
			})
			if err != nil {
				logger.Debug("Token validation failed", zap.Error(err))
				if errors.Is(err, jwt.ErrTokenExpired) {
					RespondWithError(w, http.StatusUnauthorized, "token expired")
				} else {
					RespondWithError(w, http.StatusUnauthorized, "invalid token")
				}
				return
			}

			if !token.Valid {
				logger.Debug("Invalid token")
				RespondWithError(w, http.StatusUnauthorized, "invalid token")
				return
			}

			claims, ok := token.Claims.(jwt.MapClaims)
			if !ok {
				logger.Error("Failed to extract claims from token")
				RespondWithError(w, http.StatusUnauthorized, "invalid token claims")
				return
			}

			principal, ok := principalFromClaims(claims)
			if !ok {
				logger.Warn("Token carries malformed identity claims")
				RespondWithError(w, http.StatusUnauthorized, "invalid token claims")
				return
			}

			logger.Debug("User authenticated",
				zap.String("user_id", principal.UserID),
				zap.String("role", string(principal.Role)),
			)

			next.ServeHTTP(w, r.WithContext(WithPrincipal(r.Context(), principal)))
		})
	}
}

// principalFromClaims reads user_id, role and the optional permissions list.
// Unknown permission names are dropped.
func principalFromClaims(claims jwt.MapClaims) (domain.Principal, bool) {
	userID, ok := claims["user_id"].(string)
	if !ok || userID == "" {
		return domain.Principal{}, false
	}

	role, ok := claims["role"].(string)
	if !ok || !domain.Role(role).Valid() {
		return domain.Principal{}, false
	}

	p := domain.Principal{UserID: userID, Role: domain.Role(role)}
	raw, _ := claims["permissions"].([]interface{})
	for _, v := range raw {
		name, ok := v.(string)
		if !ok {
			continue
		}
		if perm, err := domain.ParsePermission(name); err == nil {
			p.Permissions = append(p.Permissions, perm)
		}
	}
	return p, true
}

// WithPrincipal returns a context carrying the authenticated principal
func WithPrincipal(ctx context.Context, p domain.Principal) context.Context {
	return context.WithValue(ctx, principalKey, p)
}

// GetPrincipal extracts the authenticated principal from request context
func GetPrincipal(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(principalKey).(domain.Principal)
	return p, ok
}

// GetUserID extracts user ID from request context
func GetUserID(ctx context.Context) (string, bool) {
	p, ok := GetPrincipal(ctx)
	if !ok {
		return "", false
	}
	return p.UserID, true
}
