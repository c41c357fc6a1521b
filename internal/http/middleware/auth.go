package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/wolfman30/oh-ehr-portal/internal/auth"
	"github.com/wolfman30/oh-ehr-portal/internal/http/respond"
	"github.com/wolfman30/oh-ehr-portal/pkg/logging"
)

// Authenticator turns a bearer token into a principal.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (auth.Principal, error)
}

// RequireAuth validates the bearer token and stores the principal on the context.
// WebSocket upgrades may pass the token as ?access_token= since browsers cannot set headers.
func RequireAuth(authn Authenticator, logger *logging.Logger) func(http.Handler) http.Handler {
	if logger == nil {
		logger = logging.Default()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := bearerToken(r)
			if token == "" {
				respond.Error(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			p, err := authn.Authenticate(r.Context(), token)
			if err != nil {
				switch {
				case errors.Is(err, auth.ErrAccountDisabled):
					respond.Error(w, http.StatusForbidden, "Account is disabled")
				case errors.Is(err, auth.ErrInvalidToken), errors.Is(err, auth.ErrSessionRevoked):
					respond.Error(w, http.StatusUnauthorized, "Unauthorized")
				default:
					logger.Error("authentication failed", "error", err)
					respond.InternalError(w)
				}
				return
			}
			if holder := principalHolderFrom(r.Context()); holder != nil {
				holder.userID = p.UserID
			}
			ctx := auth.WithPrincipal(r.Context(), p)
			ctx = logging.WithContext(ctx, logging.FromContext(ctx, logger).With("user_id", p.UserID))
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RequireRoles rejects principals holding none of roles with 403.
func RequireRoles(roles ...auth.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := auth.PrincipalFromContext(r.Context())
			if !ok {
				respond.Error(w, http.StatusUnauthorized, "Unauthorized")
				return
			}
			if !p.HasRole(roles...) {
				respond.Error(w, http.StatusForbidden, "Access denied")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func bearerToken(r *http.Request) string {
	if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
		return strings.TrimSpace(strings.TrimPrefix(h, "Bearer "))
	}
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return r.URL.Query().Get("access_token")
	}
	return ""
}
