package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"

	"github.com/raterudder/gridsync/pkg/log"
)

type contextKey string

const subjectContextKey contextKey = "subject"

// authMiddleware requires a valid bearer ID token on every request that
// changes state. Reads are open. With no verifier configured everything is
// allowed.
func (s *Server) authMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("reqPath", r.URL.Path)))

		if s.oidcVerifier == nil || r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r.WithContext(ctx))
			return
		}

		token, err := bearerToken(r)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "rejecting request", slog.Any("error", err))
			writeJSONError(w, err.Error(), http.StatusUnauthorized)
			return
		}
		idToken, err := s.oidcVerifier(ctx, token)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "auth token validation failed", slog.Any("error", err))
			writeJSONError(w, "invalid auth token", http.StatusUnauthorized)
			return
		}

		ctx = context.WithValue(ctx, subjectContextKey, idToken.Subject)
		ctx = log.With(ctx, log.Ctx(ctx).With(slog.String("subject", idToken.Subject)))
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.New("missing auth header")
	}
	token, ok := strings.CutPrefix(authHeader, "Bearer ")
	if !ok || token == "" {
		return "", errors.New("invalid auth header")
	}
	return token, nil
}

// getSubject returns the token subject of an authenticated request, or "".
func getSubject(r *http.Request) string {
	subject, _ := r.Context().Value(subjectContextKey).(string)
	return subject
}
