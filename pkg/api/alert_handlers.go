package api

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/ewers-io/ewers/pkg/async"
	"github.com/ewers-io/ewers/pkg/broadcast"
	"github.com/ewers-io/ewers/pkg/contextkeys"
	"github.com/ewers-io/ewers/pkg/httputil"
	"github.com/ewers-io/ewers/pkg/observability"
	"github.com/ewers-io/ewers/pkg/storage"
	"github.com/ewers-io/ewers/pkg/webhooks"
)

// fanoutTimeout bounds the off-request-path broadcast and webhook fan-out
// for a single alert.
const fanoutTimeout = 60 * time.Second

// AlertHandlers serves alert reporting, listing, and resolution
type AlertHandlers struct {
	store       storage.AlertStore
	dispatcher  *webhooks.Dispatcher
	coordinator *broadcast.Coordinator
	logger      *observability.Logger
}

// NewAlertHandlers creates the alert handlers
func NewAlertHandlers(store storage.AlertStore, dispatcher *webhooks.Dispatcher, coordinator *broadcast.Coordinator, logger *observability.Logger) *AlertHandlers {
	return &AlertHandlers{
		store:       store,
		dispatcher:  dispatcher,
		coordinator: coordinator,
		logger:      logger,
	}
}

// RegisterRoutes mounts the dashboard alert endpoints on the router
func (h *AlertHandlers) RegisterRoutes(router *mux.Router) {
	router.HandleFunc("/alerts", h.CreateAlert).Methods(http.MethodPost)
	router.HandleFunc("/alerts", h.ListAlerts).Methods(http.MethodGet)
	router.HandleFunc("/alerts/{id}", h.GetAlert).Methods(http.MethodGet)
	router.HandleFunc("/alerts/{id}/resolve", h.ResolveAlert).Methods(http.MethodPost)
}

// RegisterExternalRoutes mounts the key-gated alert endpoints. The gate's
// method fallback requires "write" for reporting and "read" for queries.
func (h *AlertHandlers) RegisterExternalRoutes(router *mux.Router) {
	router.HandleFunc("/alerts", h.CreateAlert).Methods(http.MethodPost)
	router.HandleFunc("/alerts", h.ListAlerts).Methods(http.MethodGet)
	router.HandleFunc("/alerts/{id}", h.GetAlert).Methods(http.MethodGet)
}

type createAlertRequest struct {
	Title       string               `json:"title"`
	Description string               `json:"description"`
	Severity    broadcast.Severity   `json:"severity"`
	Location    string               `json:"location,omitempty"`
	Channels    []string             `json:"channels,omitempty"`
	Recipients  broadcast.Recipients `json:"recipients,omitempty"`
}

// CreateAlert handles POST /alerts. The alert is persisted synchronously;
// channel broadcast and webhook fan-out happen off the request path so a
// slow channel never delays the reporter.
func (h *AlertHandlers) CreateAlert(w http.ResponseWriter, r *http.Request) {
	principal, ok := contextkeys.PrincipalFrom(r.Context())
	if !ok {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}

	var req createAlertRequest
	if !httputil.ParseJSONOrError(w, r, &req) {
		return
	}

	alert, err := broadcast.NewAlert(principal.UserID, req.Title, req.Description, req.Severity, req.Location)
	if err != nil {
		httputil.WriteBadRequest(w, err.Error())
		return
	}
	if err := h.store.CreateAlert(r.Context(), alert); err != nil {
		h.logger.WithError(err).Error("failed to create alert")
		httputil.WriteInternalError(w, err)
		return
	}

	h.logger.WithFields(map[string]interface{}{
		"alert_id": alert.ID,
		"severity": alert.Severity,
	}).Info("alert created")
	h.fanout(r.Context(), alert, webhooks.EventAlertCreated, req.Channels, req.Recipients)
	httputil.WriteCreated(w, alert)
}

// ListAlerts handles GET /alerts with limit/offset pagination
func (h *AlertHandlers) ListAlerts(w http.ResponseWriter, r *http.Request) {
	limit, offset := 50, 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			httputil.WriteBadRequest(w, "invalid limit: "+raw)
			return
		}
		limit = n
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httputil.WriteBadRequest(w, "invalid offset: "+raw)
			return
		}
		offset = n
	}

	alerts, total, err := h.store.ListAlerts(r.Context(), limit, offset)
	if err != nil {
		h.logger.WithError(err).Error("failed to list alerts")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, map[string]interface{}{
		"alerts": alerts,
		"total":  total,
		"limit":  limit,
		"offset": offset,
	})
}

// GetAlert handles GET /alerts/{id}
func (h *AlertHandlers) GetAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	alert, err := h.store.GetAlert(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httputil.WriteNotFoundError(w, "alert not found")
			return
		}
		h.logger.WithError(err).Error("failed to load alert")
		httputil.WriteInternalError(w, err)
		return
	}
	httputil.WriteSuccess(w, alert)
}

// ResolveAlert handles POST /alerts/{id}/resolve
func (h *AlertHandlers) ResolveAlert(w http.ResponseWriter, r *http.Request) {
	id, ok := httputil.ParsePathStringOrError(w, r, "id")
	if !ok {
		return
	}
	alert, err := h.store.GetAlert(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			httputil.WriteNotFoundError(w, "alert not found")
			return
		}
		h.logger.WithError(err).Error("failed to load alert")
		httputil.WriteInternalError(w, err)
		return
	}
	if alert.Status == broadcast.AlertStatusResolved {
		httputil.WriteBadRequest(w, "alert is already resolved")
		return
	}

	now := time.Now().UTC()
	if err := h.store.ResolveAlert(r.Context(), id, now); err != nil {
		h.logger.WithError(err).Error("failed to resolve alert")
		httputil.WriteInternalError(w, err)
		return
	}
	alert.Status = broadcast.AlertStatusResolved
	alert.ResolvedAt = &now
	alert.UpdatedAt = now

	h.logger.WithField("alert_id", alert.ID).Info("alert resolved")
	if h.dispatcher != nil {
		async.SafeGo(r.Context(), fanoutTimeout, "webhook fan-out", h.logger, func(ctx context.Context) error {
			_, err := h.dispatcher.Trigger(ctx, webhooks.EventAlertResolved, alertEventData(alert))
			return err
		})
	}
	httputil.WriteSuccess(w, alert)
}

// fanout pushes a freshly created alert to the requested broadcast channels
// and the webhook subscribers. Both legs run in the background and neither
// can fail the HTTP request that triggered them.
func (h *AlertHandlers) fanout(reqCtx context.Context, alert *broadcast.Alert, event webhooks.EventType, channels []string, recipients broadcast.Recipients) {
	if h.coordinator != nil {
		async.SafeGo(reqCtx, fanoutTimeout, "alert broadcast", h.logger, func(ctx context.Context) error {
			result := h.coordinator.Broadcast(ctx, alert, channels, recipients)
			if !result.Success {
				h.logger.WithField("alert_id", alert.ID).Warn("alert broadcast partially failed")
			}
			return nil
		})
	}
	if h.dispatcher != nil {
		async.SafeGo(reqCtx, fanoutTimeout, "webhook fan-out", h.logger, func(ctx context.Context) error {
			_, err := h.dispatcher.Trigger(ctx, event, alertEventData(alert))
			return err
		})
	}
}

// alertEventData is the webhook envelope payload for alert events
func alertEventData(alert *broadcast.Alert) map[string]interface{} {
	data := map[string]interface{}{
		"id":          alert.ID,
		"title":       alert.Title,
		"description": alert.Description,
		"severity":    alert.Severity,
		"location":    alert.Location,
		"status":      alert.Status,
		"created_at":  alert.CreatedAt,
	}
	if alert.ResolvedAt != nil {
		data["resolved_at"] = alert.ResolvedAt
	}
	return data
}
