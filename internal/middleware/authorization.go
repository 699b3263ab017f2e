package middleware

import (
	"net/http"

	"storefront-catalog/internal/domain"

	"go.uber.org/zap"
)

// RequirePermission lets the request through only when the policy grants perm to the caller
func RequirePermission(policy domain.Policy, perm domain.Permission, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			principal, ok := GetPrincipal(r.Context())
			if !ok {
				logger.Warn("Principal not found in context")
				RespondWithError(w, http.StatusForbidden, "insufficient permissions")
				return
			}

			if !policy.Allows(principal, perm) {
				logger.Warn("Permission denied",
					zap.String("user_id", principal.UserID),
					zap.String("role", string(principal.Role)),
					zap.String("permission", string(perm)),
				)
				RespondWithError(w, http.StatusForbidden, "insufficient permissions")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
