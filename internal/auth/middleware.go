package auth

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"slices"
	"strings"

	"github.com/askdb/askdb/internal/observability"
)

type identityKey struct{}

func WithIdentity(ctx context.Context, identity Identity) context.Context {
	return context.WithValue(ctx, identityKey{}, identity)
}

func IdentityFromContext(ctx context.Context) (Identity, bool) {
	identity, ok := ctx.Value(identityKey{}).(Identity)
	return identity, ok
}

const (
	// UserHeader carries the caller id when API-key authentication is disabled.
	UserHeader   = "X-User-ID"
	apiKeyHeader = "X-API-Key"
)

// HeaderIdentity trusts the X-User-ID header and grants every role. It is
// only installed when auth is not required. Requests without the header pass
// through unauthenticated and are refused by the handlers.
func HeaderIdentity() func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if userID := strings.TrimSpace(r.Header.Get(UserHeader)); userID != "" {
				r = r.WithContext(WithIdentity(r.Context(), Identity{UserID: userID, Roles: slices.Clone(knownRoles)}))
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Middleware resolves the API key on every request. A configured key always
// wins over X-User-ID so the header cannot be used to impersonate a user.
func Middleware(logger *slog.Logger, validator APIKeyValidator) func(http.Handler) http.Handler {
	logger = observability.LoggerOrDiscard(logger)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			apiKey, ok := presentedKey(r)
			if !ok {
				rejectUnauthenticated(w, r, "missing API key")
				return
			}
			identity, ok := validator.Validate(r.Context(), apiKey)
			if !ok {
				logger.WarnContext(r.Context(), "api key rejected", slog.String("path", r.URL.Path))
				rejectUnauthenticated(w, r, "invalid API key")
				return
			}
			next.ServeHTTP(w, r.WithContext(WithIdentity(r.Context(), identity)))
		})
	}
}

// presentedKey reads X-API-Key, falling back to a bearer token.
func presentedKey(r *http.Request) (string, bool) {
	if key := strings.TrimSpace(r.Header.Get(apiKeyHeader)); key != "" {
		return key, true
	}
	scheme, token, found := strings.Cut(strings.TrimSpace(r.Header.Get("Authorization")), " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

func rejectUnauthenticated(w http.ResponseWriter, r *http.Request, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("WWW-Authenticate", `Bearer realm="askdb"`)
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]any{
		"error_code": "UNAUTHORIZED",
		"message":    message,
		"retryable":  false,
		"context":    map[string]any{"header": apiKeyHeader},
		"trace_id":   observability.TraceIDFromContext(r.Context()),
	})
}
