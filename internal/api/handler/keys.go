package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/ropasuggest/internal/api/middleware"
	"github.com/kiranshivaraju/ropasuggest/internal/api/response"
	"github.com/kiranshivaraju/ropasuggest/internal/store"
	"github.com/kiranshivaraju/ropasuggest/pkg/models"
)

// DefaultScopes are granted when a key is created without explicit scopes.
var DefaultScopes = []string{"read", "write"}

var knownScopes = map[string]bool{"read": true, "write": true, "admin": true}

// ErrInvalidKey is returned by IssueAPIKey for a bad name or scope.
var ErrInvalidKey = errors.New("invalid api key request")

// IssueAPIKey generates a key for userID in tenantID, stores its hash and
// returns the raw key. The raw key cannot be recovered later.
func IssueAPIKey(ctx context.Context, ks store.KeyStore, tenantID, userID uuid.UUID, name string, scopes []string) (string, *models.APIKey, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", nil, fmt.Errorf("%w: name is required", ErrInvalidKey)
	}
	if len(scopes) == 0 {
		scopes = DefaultScopes
	}
	for _, s := range scopes {
		if !knownScopes[s] {
			return "", nil, fmt.Errorf("%w: unknown scope %q", ErrInvalidKey, s)
		}
	}

	raw, prefix, hash, err := mw.NewAPIKey()
	if err != nil {
		return "", nil, fmt.Errorf("generate api key: %w", err)
	}

	now := time.Now().UTC()
	key := &models.APIKey{
		ID:        uuid.New(),
		TenantID:  tenantID,
		UserID:    userID,
		Name:      name,
		KeyHash:   hash,
		KeyPrefix: prefix,
		Scopes:    scopes,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := ks.CreateAPIKey(ctx, key); err != nil {
		return "", nil, err
	}
	return raw, key, nil
}

// NewCreateKeyHandler returns an http.HandlerFunc for POST /api/v1/admin/keys.
func NewCreateKeyHandler(ks store.KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, callerID, ok := caller(w, r)
		if !ok {
			return
		}

		var req struct {
			Name   string   `json:"name"`
			UserID string   `json:"user_id"`
			Scopes []string `json:"scopes"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "Invalid JSON body", nil)
			return
		}

		userID := callerID
		if req.UserID != "" {
			id, err := uuid.Parse(req.UserID)
			if err != nil {
				response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", "user_id must be a valid UUID", nil)
				return
			}
			userID = id
		}

		raw, key, err := IssueAPIKey(r.Context(), ks, tenantID, userID, req.Name, req.Scopes)
		switch {
		case errors.Is(err, store.ErrConstraint):
			response.Error(w, http.StatusConflict, "DUPLICATE_KEY", "API key with this name already exists", nil)
			return
		case errors.Is(err, ErrInvalidKey):
			response.Error(w, http.StatusBadRequest, "INVALID_REQUEST", err.Error(), nil)
			return
		case err != nil:
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to create key", nil)
			return
		}

		response.Created(w, map[string]any{
			"id":         key.ID,
			"name":       key.Name,
			"user_id":    key.UserID,
			"key":        raw,
			"key_prefix": key.KeyPrefix,
			"scopes":     key.Scopes,
			"created_at": key.CreatedAt,
		})
	}
}

// NewListKeysHandler returns an http.HandlerFunc for GET /api/v1/admin/keys.
func NewListKeysHandler(ks store.KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _, ok := caller(w, r)
		if !ok {
			return
		}

		keys, err := ks.ListAPIKeys(r.Context(), tenantID)
		if err != nil {
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to list keys", nil)
			return
		}
		if keys == nil {
			keys = []*models.APIKey{}
		}
		response.JSON(w, keys)
	}
}

// NewRevokeKeyHandler returns an http.HandlerFunc for DELETE /api/v1/admin/keys/{keyID}.
func NewRevokeKeyHandler(ks store.KeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		tenantID, _, ok := caller(w, r)
		if !ok {
			return
		}

		keyID, err := uuid.Parse(chi.URLParam(r, "keyID"))
		if err != nil {
			response.Error(w, http.StatusBadRequest, "INVALID_KEY_ID", "Invalid key ID format", nil)
			return
		}

		if err := ks.RevokeAPIKey(r.Context(), keyID, tenantID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				response.Error(w, http.StatusNotFound, "NOT_FOUND", "API key not found", nil)
				return
			}
			response.Error(w, http.StatusInternalServerError, "INTERNAL_ERROR", "Failed to revoke key", nil)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}
