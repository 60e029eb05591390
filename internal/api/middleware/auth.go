package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/kiranshivaraju/ropasuggest/internal/api/response"
	"github.com/kiranshivaraju/ropasuggest/internal/store"
	"golang.org/x/crypto/bcrypt"
)

const (
	keyPrefixLen = 8
	// KeyPrefix starts every generated API key.
	KeyPrefix = "rs_"
)

// NewAPIKey generates a raw API key and returns it with the lookup prefix and
// bcrypt hash to store. The raw key is never persisted.
func NewAPIKey() (raw, prefix, hash string, err error) {
	raw = KeyPrefix + strings.ReplaceAll(uuid.NewString(), "-", "")
	h, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", "", "", err
	}
	return raw, raw[:keyPrefixLen], string(h), nil
}

// Auth provides authentication and scope-checking middleware.
type Auth struct {
	store store.KeyStore
}

// NewAuth creates a new Auth middleware.
func NewAuth(s store.KeyStore) *Auth {
	return &Auth{store: s}
}

// Authenticate validates the Bearer token, looks up the API key, and sets
// tenant_id, user_id and scopes in the request context.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rawKey := extractBearerToken(r)
		if rawKey == "" {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid Authorization header", nil)
			return
		}

		if len(rawKey) < keyPrefixLen {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key format", nil)
			return
		}

		prefix := rawKey[:keyPrefixLen]

		keys, err := a.store.GetAPIKeyByPrefix(r.Context(), prefix)
		if err != nil {
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate API key", nil)
			return
		}

		// Find matching key by bcrypt comparison
		var matched bool
		for _, key := range keys {
			if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(rawKey)) == nil {
				ctx := r.Context()
				ctx = SetTenantID(ctx, key.TenantID)
				ctx = SetUserID(ctx, key.UserID)
				ctx = setScopes(ctx, key.Scopes)
				r = r.WithContext(ctx)
				recordCaller(ctx, key.TenantID, key.UserID)
				matched = true

				// Update last_used_at async
				go func(id uuid.UUID) {
					if err := a.store.UpdateAPIKeyLastUsed(context.Background(), id); err != nil {
						slog.Warn("failed to update api key last_used_at", "key_id", id, "error", err)
					}
				}(key.ID)
				break
			}
		}

		if !matched {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid API key", nil)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequireScope returns middleware that checks whether the authenticated
// API key has the specified scope.
func (a *Auth) RequireScope(scope string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if HasScope(r, scope) {
				next.ServeHTTP(w, r)
				return
			}
			response.Error(w, http.StatusForbidden,
				"FORBIDDEN", "Insufficient permissions", nil)
		})
	}
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
