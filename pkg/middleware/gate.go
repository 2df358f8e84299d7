package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"github.com/ewers-io/ewers/pkg/async"
	"github.com/ewers-io/ewers/pkg/auth"
	"github.com/ewers-io/ewers/pkg/contextkeys"
	"github.com/ewers-io/ewers/pkg/httputil"
	"github.com/ewers-io/ewers/pkg/observability"
)

// APIKeyHeader carries the key secret on external requests
const APIKeyHeader = "X-API-Key"

// KeyStore is the storage surface the gate needs
type KeyStore interface {
	GetAPIKeyBySecret(ctx context.Context, secret string) (*auth.APIKey, error)
	MarkAPIKeyExpired(ctx context.Context, id string) error
	MarkAPIKeyUsed(ctx context.Context, id string, at time.Time) error
}

// RouteTable maps specific routes to the permission they require, overriding
// the default method-based tier. Keys are "METHOD <mux path template>".
type RouteTable map[string]auth.Permission

// Lookup returns the required permission for a matched route, falling back
// to the method's default tier when the route carries no override.
func (t RouteTable) Lookup(method, pathTemplate string) auth.Permission {
	if perm, ok := t[method+" "+pathTemplate]; ok {
		return perm
	}
	return MethodPermission(method)
}

// MethodPermission returns the default permission tier for an HTTP method.
// Read-only methods need read; everything else needs write.
func MethodPermission(method string) auth.Permission {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return auth.PermissionRead
	default:
		return auth.PermissionWrite
	}
}

// APIKeyGate authenticates external requests by API key. Wire responses are
// deliberately generic: a missing key is 401, every other rejection is 403
// with no further detail. The specific reason goes to logs and metrics only.
type APIKeyGate struct {
	store   KeyStore
	routes  RouteTable
	logger  *observability.Logger
	metrics *observability.Metrics
}

// NewAPIKeyGate creates the gate. routes may be nil, in which case every
// route uses the method's default tier.
func NewAPIKeyGate(store KeyStore, routes RouteTable, logger *observability.Logger, metrics *observability.Metrics) *APIKeyGate {
	return &APIKeyGate{store: store, routes: routes, logger: logger, metrics: metrics}
}

// Handler wraps external routes with API key validation. A session principal
// already on the context supersedes key auth entirely.
func (g *APIKeyGate) Handler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if principal, ok := contextkeys.PrincipalFrom(r.Context()); ok && principal.Session {
			next.ServeHTTP(w, r)
			return
		}

		secret := r.Header.Get(APIKeyHeader)
		if secret == "" {
			g.reject(w, r, http.StatusUnauthorized, "missing_key")
			return
		}

		key, err := g.store.GetAPIKeyBySecret(r.Context(), secret)
		if err != nil {
			g.reject(w, r, http.StatusForbidden, "unknown_key")
			return
		}

		switch key.Status {
		case auth.KeyStatusRevoked:
			g.reject(w, r, http.StatusForbidden, "revoked")
			return
		case auth.KeyStatusExpired:
			g.reject(w, r, http.StatusForbidden, "expired")
			return
		}

		// Lazy expiry: every validation checks the deadline, so a key whose
		// expiry passed is rejected even before the sweeper runs.
		if key.IsExpired(time.Now().UTC()) {
			keyID := key.ID
			async.SafeGo(r.Context(), 5*time.Second, "mark-key-expired", g.logger, func(ctx context.Context) error {
				return g.store.MarkAPIKeyExpired(ctx, keyID)
			})
			g.reject(w, r, http.StatusForbidden, "expired")
			return
		}

		required := g.requiredPermission(r)
		if !key.HasPermission(required) {
			g.logger.WithFields(map[string]interface{}{
				"key_id":   key.ID,
				"required": string(required),
				"method":   r.Method,
				"path":     r.URL.Path,
			}).Warn("api key lacks required permission")
			g.reject(w, r, http.StatusForbidden, "insufficient_permission")
			return
		}

		if g.metrics != nil {
			g.metrics.ObserveGateDecision("allow", "ok")
		}

		// Usage stamping happens off the request path; a slow write must not
		// add latency to the gated request.
		keyID := key.ID
		now := time.Now().UTC()
		async.SafeGo(r.Context(), 5*time.Second, "mark-key-used", g.logger, func(ctx context.Context) error {
			return g.store.MarkAPIKeyUsed(ctx, keyID, now)
		})

		ctx := contextkeys.WithPrincipal(r.Context(), &contextkeys.Principal{
			UserID: key.OwnerID,
			KeyID:  key.ID,
		})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (g *APIKeyGate) requiredPermission(r *http.Request) auth.Permission {
	if g.routes != nil {
		if route := mux.CurrentRoute(r); route != nil {
			if template, err := route.GetPathTemplate(); err == nil {
				return g.routes.Lookup(r.Method, template)
			}
		}
	}
	return MethodPermission(r.Method)
}

func (g *APIKeyGate) reject(w http.ResponseWriter, r *http.Request, status int, reason string) {
	if g.metrics != nil {
		g.metrics.ObserveGateDecision("deny", reason)
	}
	g.logger.WithFields(map[string]interface{}{
		"reason": reason,
		"method": r.Method,
		"path":   r.URL.Path,
	}).Info("api key gate rejected request")

	if status == http.StatusUnauthorized {
		httputil.WriteUnauthorized(w, "authentication required")
		return
	}
	httputil.WriteForbidden(w, "forbidden")
}
