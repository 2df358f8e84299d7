package webhooks

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/ewers-io/ewers/pkg/contextkeys"
	"github.com/ewers-io/ewers/pkg/httputil"
	"github.com/ewers-io/ewers/pkg/observability"
)

// ErrWebhookNotFound is returned by WebhookStore implementations when no
// webhook matches
var ErrWebhookNotFound = errors.New("webhook not found")

// WebhookStore is the storage surface the management handlers need
type WebhookStore interface {
	CreateWebhook(ctx context.Context, hook *Webhook) error
	GetWebhook(ctx context.Context, id string) (*Webhook, error)
	ListWebhooksByOwner(ctx context.Context, ownerID string) ([]*Webhook, error)
	UpdateWebhook(ctx context.Context, hook *Webhook) error
	DeleteWebhook(ctx context.Context, id string) error
}

// Handler serves the webhook management API
type Handler struct {
	store  WebhookStore
	logs   *DeliveryLogStore
	logger *observability.Logger
}

// NewHandler creates a webhook management handler
func NewHandler(store WebhookStore, logs *DeliveryLogStore, logger *observability.Logger) *Handler {
	return &Handler{store: store, logs: logs, logger: logger}
}

// RegisterRoutes mounts the webhook management endpoints on the router
func (h *Handler) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/webhooks", h.CreateWebhook).Methods(http.MethodPost)
	router.HandleFunc("/webhooks", h.ListWebhooks).Methods(http.MethodGet)
	router.HandleFunc("/webhooks/{id}", h.GetWebhook).Methods(http.MethodGet)
	router.HandleFunc("/webhooks/{id}", h.UpdateWebhook).Methods(http.MethodPut)
	router.HandleFunc("/webhooks/{id}", h.DeleteWebhook).Methods(http.MethodDelete)
	router.HandleFunc("/webhooks/{id}/deliveries", h.ListDeliveries).Methods(http.MethodGet)
	router.HandleFunc("/webhooks/{id}/stats", h.DeliveryStats).Methods(http.MethodGet)
}

type createWebhookRequest struct {
	Name             string      `json:"name"`
	TargetURL        string      `json:"target_url"`
	SubscribedEvents []EventType `json:"subscribed_events"`
}

// createWebhookResponse carries the signing secret. This is the only place
// the secret leaves the system.
type createWebhookResponse struct {
	*Webhook
	Secret string `json:"secret"`
}

// CreateWebhook handles POST /webhooks
func (h *Handler) CreateWebhook(w http.ResponseWriter, r *http.Request) {
	principal, ok := contextkeys.PrincipalFrom(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req createWebhookRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	hook, err := NewWebhook(principal.UserID, req.Name, req.TargetURL, req.SubscribedEvents)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if err := h.store.CreateWebhook(r.Context(), hook); err != nil {
		h.logger.WithError(err).Error("failed to create webhook")
		httputil.WriteInternalError(w, err)
		return
	}

	h.logger.WithFields(map[string]interface{}{
		"webhook_id": hook.ID,
		"owner_id":   hook.OwnerID,
		"events":     len(hook.SubscribedEvents),
	}).Info("webhook created")
	httputil.WriteCreated(w, createWebhookResponse{Webhook: hook, Secret: hook.SecretValue})
}

// ListWebhooks handles GET /webhooks
func (h *Handler) ListWebhooks(w http.ResponseWriter, r *http.Request) {
	principal, ok := contextkeys.PrincipalFrom(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	hooks, err := h.store.ListWebhooksByOwner(r.Context(), principal.UserID)
	if err != nil {
		h.logger.WithError(err).Error("failed to list webhooks")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{"webhooks": hooks, "count": len(hooks)})
}

// GetWebhook handles GET /webhooks/{id}
func (h *Handler) GetWebhook(w http.ResponseWriter, r *http.Request) {
	hook, ok := h.ownedWebhook(w, r)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, hook)
}

type updateWebhookRequest struct {
	Name             *string       `json:"name,omitempty"`
	TargetURL        *string       `json:"target_url,omitempty"`
	SubscribedEvents []EventType   `json:"subscribed_events,omitempty"`
	Status           WebhookStatus `json:"status,omitempty"`
}

// UpdateWebhook handles PUT /webhooks/{id}
func (h *Handler) UpdateWebhook(w http.ResponseWriter, r *http.Request) {
	hook, ok := h.ownedWebhook(w, r)
	if !ok {
		return
	}

	var req updateWebhookRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}
	if req.Name != nil {
		hook.Name = *req.Name
	}
	if req.TargetURL != nil {
		hook.TargetURL = *req.TargetURL
	}
	if req.SubscribedEvents != nil {
		hook.SubscribedEvents = req.SubscribedEvents
	}
	if req.Status != "" {
		if req.Status != WebhookStatusActive && req.Status != WebhookStatusDisabled {
			httputil.WriteBadRequest(w, "invalid status: "+string(req.Status))
			return
		}
		hook.Status = req.Status
	}
	hook.UpdatedAt = time.Now().UTC()

	if err := h.store.UpdateWebhook(r.Context(), hook); err != nil {
		h.logger.WithError(err).Error("failed to update webhook")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, hook)
}

// DeleteWebhook handles DELETE /webhooks/{id}
func (h *Handler) DeleteWebhook(w http.ResponseWriter, r *http.Request) {
	hook, ok := h.ownedWebhook(w, r)
	if !ok {
		return
	}
	if err := h.store.DeleteWebhook(r.Context(), hook.ID); err != nil {
		h.logger.WithError(err).Error("failed to delete webhook")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteNoContent(w)
}

// ListDeliveries handles GET /webhooks/{id}/deliveries
func (h *Handler) ListDeliveries(w http.ResponseWriter, r *http.Request) {
	hook, ok := h.ownedWebhook(w, r)
	if !ok {
		return
	}
	limit := 50
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteBadRequest(w, "invalid limit: "+raw)
			return
		}
		limit = n
	}
	logs := h.logs.Recent(hook.ID, limit)
	httputil.WriteSuccess(w, map[string]interface{}{"deliveries": logs, "count": len(logs)})
}

// DeliveryStats handles GET /webhooks/{id}/stats
func (h *Handler) DeliveryStats(w http.ResponseWriter, r *http.Request) {
	hook, ok := h.ownedWebhook(w, r)
	if !ok {
		return
	}
	httputil.WriteSuccess(w, h.logs.Stats(hook.ID))
}

// ownedWebhook loads the path webhook and enforces that the caller owns it.
// Foreign webhooks 404 rather than 403 so IDs are not probeable.
func (h *Handler) ownedWebhook(w http.ResponseWriter, r *http.Request) (*Webhook, bool) {
	principal, ok := contextkeys.PrincipalFrom(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return nil, false
	}
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return nil, false
	}
	hook, err := h.store.GetWebhook(r.Context(), id)
	if err != nil {
		if errors.Is(err, ErrWebhookNotFound) {
			httputil.WriteNotFoundError(w, "webhook not found")
			return nil, false
		}
		h.logger.WithError(err).Error("failed to load webhook")
		httputil.WriteInternalError(w, err)
		return nil, false
	}
	if hook.OwnerID != principal.UserID {
		httputil.WriteNotFoundError(w, "webhook not found")
		return nil, false
	}
	return hook, true
}
