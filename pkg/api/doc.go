// Package api assembles the HTTP server: the dashboard-facing management
// surface for API keys, webhooks, and alerts, and the key-gated external
// API. Incoming alerts fan out to broadcast channels and webhook
// subscribers off the request path.
package api
