package api

import (
	"context"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"

	"github.com/kenneth/envvault/internal/domain"
)

type contextKey int

const userKey contextKey = iota

// SessionAuthenticator resolves a session token to its user.
type SessionAuthenticator interface {
	Authenticate(ctx context.Context, token string) (*domain.User, error)
}

// sessionToken extracts the token from "Token <jwt>" or "Bearer <jwt>".
func sessionToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if header == "" {
		return ""
	}
	scheme, token, ok := strings.Cut(header, " ")
	if !ok {
		return ""
	}
	switch strings.ToLower(scheme) {
	case "token", "bearer":
		return strings.TrimSpace(token)
	}
	return ""
}

// RequireSession rejects requests without a valid session and stores the
// freshly loaded user in the request context.
func RequireSession(auth SessionAuthenticator, logger *logrus.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token := sessionToken(r)
			if token == "" {
				TranslateError(domain.Unauthenticated("authentication required")).WriteJSON(w)
				return
			}
			user, err := auth.Authenticate(r.Context(), token)
			if err != nil {
				logger.WithError(err).WithFields(logrus.Fields{
					"path":      r.URL.Path,
					"client_ip": getClientIP(r),
				}).Debug("Session rejected")
				TranslateError(err).WriteJSON(w)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), userKey, user)))
		})
	}
}

// userFrom returns the authenticated user stored by RequireSession.
func userFrom(ctx context.Context) *domain.User {
	u, _ := ctx.Value(userKey).(*domain.User)
	return u
}
