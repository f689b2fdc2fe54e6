package middleware

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/coinpulse/coinpulse/internal/auth"
	"github.com/coinpulse/coinpulse/internal/model"
	"github.com/coinpulse/coinpulse/internal/service"
)

// Authenticator resolves a session token to its user.
type Authenticator interface {
	Authenticate(ctx context.Context, token string) (*model.User, error)
}

// RequireSession returns a middleware that admits only requests carrying a
// valid session cookie, and puts the user in the request context.
func RequireSession(authenticator Authenticator, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := auth.TokenFromRequest(r)
			if token == "" {
				writeError(w, http.StatusUnauthorized, map[string]string{"message": "Unauthorized"})
				return
			}

			user, err := authenticator.Authenticate(r.Context(), token)
			if err != nil {
				if errors.Is(err, service.ErrUnauthorized) {
					logger.Warn("session rejected",
						slog.String("reason", err.Error()),
						slog.String("endpoint", r.Method+" "+r.URL.Path),
						slog.String("request_id", GetRequestID(r.Context())),
					)
					writeError(w, http.StatusUnauthorized, map[string]string{"message": "Invalid token"})
					return
				}

				logger.Error("session lookup failed",
					slog.String("error", err.Error()),
					slog.String("request_id", GetRequestID(r.Context())),
				)
				writeError(w, http.StatusInternalServerError, map[string]string{"message": "Something went wrong"})
				return
			}

			next.ServeHTTP(w, r.WithContext(auth.ContextWithUser(r.Context(), user)))
		})
	}
}
