package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/ewers-io/ewers/pkg/auth"
	"github.com/ewers-io/ewers/pkg/broadcast"
	"github.com/ewers-io/ewers/pkg/httputil"
	"github.com/ewers-io/ewers/pkg/middleware"
	"github.com/ewers-io/ewers/pkg/observability"
	"github.com/ewers-io/ewers/pkg/storage"
	"github.com/ewers-io/ewers/pkg/webhooks"
)

// Options carries the server's collaborators. Store and Logger are
// required; everything else degrades gracefully when nil.
type Options struct {
	Store       storage.Store
	Dispatcher  *webhooks.Dispatcher
	DeliveryLog *webhooks.DeliveryLogStore
	Coordinator *broadcast.Coordinator
	Logger      *observability.Logger
	Metrics     *observability.Metrics
	RateLimit   func(http.Handler) http.Handler
	CORSOrigins []string
	// SessionAuth authenticates dashboard requests and puts a session
	// principal on the context. Nil leaves management routes open, which
	// is only acceptable behind a trusted proxy.
	SessionAuth func(http.Handler) http.Handler
	// Traced wraps the handler tree in OpenTelemetry instrumentation
	Traced bool
}

// Server is the assembled EWERS HTTP API
type Server struct {
	router  *mux.Router
	store   storage.Store
	logger  *observability.Logger
	metrics *observability.Metrics
	handler http.Handler
}

// externalRoutes is the permission table for the key-gated API. Routes not
// listed here fall back to the method tier (GET needs read, writes need
// write).
var externalRoutes = middleware.RouteTable{
	"GET /external/api/v1/keys": auth.PermissionAdmin,
}

// NewServer wires the full route tree and middleware chain
func NewServer(opts Options) *Server {
	s := &Server{
		router:  mux.NewRouter(),
		store:   opts.Store,
		logger:  opts.Logger,
		metrics: opts.Metrics,
	}

	s.router.Use(httputil.RequestIDMiddleware)
	s.router.Use(httputil.LoggingMiddleware(opts.Logger))
	s.router.Use(httputil.RecoveryMiddleware(opts.Logger))
	if opts.Metrics != nil {
		s.router.Use(opts.Metrics.MetricsMiddleware)
	}
	s.router.Use(httputil.CORSMiddleware(opts.CORSOrigins))

	keyHandlers := NewKeyHandlers(opts.Store, opts.Logger)
	alertHandlers := NewAlertHandlers(opts.Store, opts.Dispatcher, opts.Coordinator, opts.Logger)
	webhookHandlers := webhooks.NewHandler(opts.Store, opts.DeliveryLog, opts.Logger)

	// Dashboard management surface, session-authenticated
	management := s.router.PathPrefix("/api/v1").Subrouter()
	if opts.SessionAuth != nil {
		management.Use(opts.SessionAuth)
	}
	// The limiter runs after auth so key-scoped buckets see the principal
	if opts.RateLimit != nil {
		management.Use(opts.RateLimit)
	}
	keyHandlers.RegisterRoutes(management)
	alertHandlers.RegisterRoutes(management)
	webhookHandlers.RegisterRoutes(management)

	// External key-gated surface
	gate := middleware.NewAPIKeyGate(opts.Store, externalRoutes, opts.Logger, opts.Metrics)
	external := s.router.PathPrefix("/external/api/v1").Subrouter()
	external.Use(gate.Handler)
	if opts.RateLimit != nil {
		external.Use(opts.RateLimit)
	}
	alertHandlers.RegisterExternalRoutes(external)
	external.HandleFunc("/keys", keyHandlers.ListKeys).Methods(http.MethodGet)

	if opts.Metrics != nil {
		s.router.Handle("/metrics", opts.Metrics.Handler()).Methods(http.MethodGet)
	}

	s.handler = s.router
	if opts.Traced {
		s.handler = otelhttp.NewHandler(s.router, "ewers.http")
	}
	return s
}

// Handler returns the server's root HTTP handler
func (s *Server) Handler() http.Handler {
	return s.handler
}

// Router returns the underlying mux router, for mounting health endpoints
// and tests.
func (s *Server) Router() *mux.Router {
	return s.router
}

// ServeHTTP implements http.Handler
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.handler.ServeHTTP(w, r)
}
