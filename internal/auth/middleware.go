// Package auth authenticates HTTP callers and hands their identity to handlers.
// The core packages never read it from the context themselves; handlers pass
// it on explicitly.
package auth

import (
	"context"
	"net/http"

	"ms-railway/internal/logger"
	"ms-railway/internal/models"
)

type contextKey string

const identityKey contextKey = "identity"

type Identity struct {
	UserID string
	Role   models.Role
}

func WithIdentity(ctx context.Context, id Identity) context.Context {
	return context.WithValue(ctx, identityKey, id)
}

// FromContext returns the identity stored by Middleware.
func FromContext(ctx context.Context) (Identity, bool) {
	id, ok := ctx.Value(identityKey).(Identity)
	return id, ok && id.UserID != ""
}

func Middleware(v TokenVerifier, log *logger.Logger) func(http.Handler) http.Handler {
	if log == nil {
		log = logger.NewNop()
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw, err := ExtractTokenFromRequest(r)
			if err != nil {
				http.Error(w, err.Error(), http.StatusUnauthorized)
				return
			}

			id, err := v.Verify(r.Context(), raw)
			if err != nil {
				log.LogSecurity("TOKEN_REJECTED", r.Method+" "+r.URL.Path+": "+err.Error())
				http.Error(w, "invalid token", http.StatusUnauthorized)
				return
			}

			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), id)))
		})
	}
}
