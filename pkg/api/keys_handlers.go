package api

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ewers-io/ewers/pkg/auth"
	"github.com/ewers-io/ewers/pkg/contextkeys"
	"github.com/ewers-io/ewers/pkg/httputil"
	"github.com/ewers-io/ewers/pkg/observability"
	"github.com/ewers-io/ewers/pkg/storage"
)

// KeyHandlers serves the API key management endpoints
type KeyHandlers struct {
	store  storage.CredentialStore
	keygen *auth.KeyGenerator
	logger *observability.Logger
}

// NewKeyHandlers creates the API key management handlers
func NewKeyHandlers(store storage.CredentialStore, logger *observability.Logger) *KeyHandlers {
	return &KeyHandlers{
		store:  store,
		keygen: auth.NewKeyGenerator(),
		logger: logger,
	}
}

// RegisterRoutes mounts the key management endpoints on the router
func (h *KeyHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/keys", h.CreateKey).Methods(http.MethodPost)
	router.HandleFunc("/keys", h.ListKeys).Methods(http.MethodGet)
	router.HandleFunc("/keys/{id}", h.GetKey).Methods(http.MethodGet)
	router.HandleFunc("/keys/{id}", h.DeleteKey).Methods(http.MethodDelete)
	router.HandleFunc("/keys/{id}/revoke", h.RevokeKey).Methods(http.MethodPost)
}

type createKeyRequest struct {
	Name        string            `json:"name"`
	Permissions []auth.Permission `json:"permissions"`
	ExpiresAt   *time.Time        `json:"expires_at,omitempty"`
}

// createKeyResponse carries the plaintext secret. Creation is the only time
// the secret is ever returned.
type createKeyResponse struct {
	*auth.APIKey
	Secret string `json:"secret"`
}

// keyListEntry is the read form of a key: secret masked, everything else as-is
type keyListEntry struct {
	*auth.APIKey
	MaskedSecret string `json:"masked_secret"`
}

// CreateKey handles POST /keys
func (h *KeyHandlers) CreateKey(w http.ResponseWriter, r *http.Request) {
	principal, ok := contextkeys.PrincipalFrom(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req createKeyRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	key, err := h.keygen.NewKey(principal.UserID, req.Name, req.Permissions, req.ExpiresAt)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if err := h.store.CreateAPIKey(r.Context(), key); err != nil {
		h.logger.WithError(err).Error("failed to create API key")
		httputil.WriteInternalError(w, err)
		return
	}

	h.logger.WithFields(map[string]interface{}{
		"key_id":   key.ID,
		"owner_id": key.OwnerID,
		"name":     key.Name,
	}).Info("API key created")
	httputil.WriteCreated(w, createKeyResponse{APIKey: key, Secret: key.SecretValue})
}

// ListKeys handles GET /keys
func (h *KeyHandlers) ListKeys(w http.ResponseWriter, r *http.Request) {
	principal, ok := contextkeys.PrincipalFrom(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	keys, err := h.store.ListAPIKeysByOwner(r.Context(), principal.UserID)
	if err != nil {
		h.logger.WithError(err).Error("failed to list API keys")
		httputil.WriteInternalError(w, err)
		return
	}

	entries := make([]keyListEntry, 0, len(keys))
	for _, k := range keys {
		entries = append(entries, keyListEntry{APIKey: k, MaskedSecret: k.MaskedSecret()})
	}
	httputil.WriteSuccess(w, map[string]interface{}{"keys": entries, "count": len(entries)})
}

// GetKey handles GET /keys/{id}
func (h *KeyHandlers) GetKey(w http.ResponseWriter, r *http.Request) {
	key, ok := h.ownedKey(w, r)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, keyListEntry{APIKey: key, MaskedSecret: key.MaskedSecret()})
}

// DeleteKey handles DELETE /keys/{id}
func (h *KeyHandlers) DeleteKey(w http.ResponseWriter, r *http.Request) {
	key, ok := h.ownedKey(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteAPIKey(r.Context(), key.ID); err != nil {
		h.logger.WithError(err).Error("failed to delete API key")
		httputil.WriteInternalError(w, err)
		return
	}
	h.logger.WithField("key_id", key.ID).Info("API key deleted")
	httputil.WriteNoContent(w)
}

// RevokeKey handles POST /keys/{id}/revoke. Revocation keeps the record
// around for audit; DELETE removes it entirely.
func (h *KeyHandlers) RevokeKey(w http.ResponseWriter, r *http.Request) {
	key, ok := h.ownedKey(w, r)
	if !ok {
		return
	}
	if key.Status != auth.KeyStatusActive {
		httputil.WriteBadRequest(w, "key is not active")
		return
	}
	if err := h.store.RevokeAPIKey(r.Context(), key.ID); err != nil {
		h.logger.WithError(err).Error("failed to revoke API key")
		httputil.WriteInternalError(w, err)
		return
	}
	key.Status = auth.KeyStatusRevoked
	h.logger.WithField("key_id", key.ID).Info("API key revoked")
	httputil.WriteSuccess(w, keyListEntry{APIKey: key, MaskedSecret: key.MaskedSecret()})
}

// ownedKey loads the path key and enforces that the caller owns it. Foreign
// keys 404 rather than 403 so IDs are not probeable.
func (h *KeyHandlers) ownedKey(w http.ResponseWriter, r *http.Request) (*auth.APIKey, bool) {
	principal, ok := contextkeys.PrincipalFrom(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return nil, false
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return nil, false
	}
	key, err := h.store.GetAPIKey(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httputil.WriteNotFoundError(w, "key not found")
			return nil, false
		}
		h.logger.WithError(err).Error("failed to load API key")
		httputil.WriteInternalError(w, err)
		return nil, false
	}
	if key.OwnerID != principal.UserID {
		httputil.WriteNotFoundError(w, "key not found")
		return nil, false
	}
	return key, true
}
