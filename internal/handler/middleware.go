package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/boddenberg/client-portal-bfa-go/internal/domain"
	"github.com/boddenberg/client-portal-bfa-go/internal/service"

	"go.uber.org/zap"
)

type contextKey string

const (
	identityKey contextKey = "identity"
	roleKey     contextKey = "role"
)

// TokenVerifier turns a bearer token into the caller's identity.
type TokenVerifier interface {
	Verify(token string) (*domain.Identity, error)
}

// JWTAuthMiddleware validates Bearer tokens and injects the identity into context.
func JWTAuthMiddleware(verifier TokenVerifier, logger *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, ok := bearerToken(r)
			if !ok {
				logger.Warn("auth: missing or malformed token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
				)
				writeError(w, http.StatusUnauthorized, "missing bearer token")
				return
			}

			id, err := verifier.Verify(token)
			if err != nil {
				logger.Warn("auth: invalid or expired token",
					zap.String("path", r.URL.Path),
					zap.String("remote_addr", r.RemoteAddr),
					zap.Error(err),
				)
				writeError(w, http.StatusUnauthorized, err.Error())
				return
			}

			ctx := context.WithValue(r.Context(), identityKey, *id)
			ctx = domain.WithAccessToken(ctx, token)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RoleMiddleware resolves the caller's role once per request. Resolution
// never fails; a caller without a profile gets a zero-access state.
func RoleMiddleware(roles *service.RoleResolver) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			state := roles.Resolve(r.Context(), IdentityFromContext(r.Context()))
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), roleKey, state)))
		})
	}
}

// queryTokenMiddleware promotes ?access_token= to an Authorization header
// when the request carries none.
func queryTokenMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tok := r.URL.Query().Get("access_token"); tok != "" && r.Header.Get("Authorization") == "" {
			r.Header.Set("Authorization", "Bearer "+tok)
		}
		next.ServeHTTP(w, r)
	})
}

func bearerToken(r *http.Request) (string, bool) {
	parts := strings.SplitN(r.Header.Get("Authorization"), " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || parts[1] == "" {
		return "", false
	}
	return parts[1], true
}

// IdentityFromContext extracts the authenticated identity from context.
func IdentityFromContext(ctx context.Context) domain.Identity {
	v, _ := ctx.Value(identityKey).(domain.Identity)
	return v
}

// RoleFromContext returns the role resolved for this request.
func RoleFromContext(ctx context.Context) domain.RoleState {
	v, _ := ctx.Value(roleKey).(domain.RoleState)
	return v
}
