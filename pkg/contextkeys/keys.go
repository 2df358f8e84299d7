// Package contextkeys provides centralized context key definitions
//
// IMPORTANT: All context keys used across the application must be defined here.
// This prevents typos, documents dependencies, and makes key usage discoverable.
//
// USAGE PATTERN:
//   import "github.com/ewers-io/ewers/pkg/contextkeys"
//   ctx = contextkeys.WithPrincipal(ctx, principal)
//   p, ok := contextkeys.PrincipalFrom(ctx)
package contextkeys

import "context"

// Key is the type for context keys to prevent collisions
type Key string

const (
	// PrincipalKey contains *Principal for the authenticated caller.
	// Set by: session middleware (external) or middleware.APIKeyGate
	// Required by: all owner-scoped management endpoints
	PrincipalKey Key = "principal"

	// RequestIDKey contains the request ID string (UUID)
	// Set by: httputil request middleware
	// Used by: logger, delivery logs
	RequestIDKey Key = "request_id"
)

// Principal identifies an authenticated caller. Session-authenticated users
// carry a UserID; key-authenticated callers carry the key owner's UserID and
// the KeyID that authorized them.
type Principal struct {
	UserID string
	KeyID  string
	// Session is true when the caller holds an authenticated session.
	// Session auth supersedes API key auth at the gate.
	Session bool
}

// WithPrincipal attaches the authenticated principal to the context
func WithPrincipal(ctx context.Context, p *Principal) context.Context {
	return context.WithValue(ctx, PrincipalKey, p)
}

// PrincipalFrom extracts the authenticated principal
func PrincipalFrom(ctx context.Context) (*Principal, bool) {
	p, ok := ctx.Value(PrincipalKey).(*Principal)
	return p, ok && p != nil
}

// WithRequestID attaches a request ID to the context
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, RequestIDKey, id)
}

// RequestIDFrom extracts the request ID, or ""
func RequestIDFrom(ctx context.Context) string {
	id, ok := ctx.Value(RequestIDKey).(string)
	if !ok {
		return ""
	}
	return id
}
