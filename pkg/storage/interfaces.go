package storage

import (
	"context"
	"errors"
	"time"

	"github.com/ewers-io/ewers/pkg/auth"
	"github.com/ewers-io/ewers/pkg/broadcast"
	"github.com/ewers-io/ewers/pkg/webhooks"
)

// ErrNotFound is returned when a requested record does not exist. Webhook
// lookups return webhooks.ErrWebhookNotFound instead, which is what the
// webhook management handlers match on.
var ErrNotFound = errors.New("record not found")

// CredentialStore persists API keys and webhook registrations
type CredentialStore interface {
	// API keys
	CreateAPIKey(ctx context.Context, key *auth.APIKey) error
	GetAPIKey(ctx context.Context, id string) (*auth.APIKey, error)
	GetAPIKeyBySecret(ctx context.Context, secret string) (*auth.APIKey, error)
	ListAPIKeysByOwner(ctx context.Context, ownerID string) ([]*auth.APIKey, error)
	RevokeAPIKey(ctx context.Context, id string) error
	DeleteAPIKey(ctx context.Context, id string) error
	// MarkAPIKeyUsed stamps last_used_at; best effort, never on the
	// request path's critical section.
	MarkAPIKeyUsed(ctx context.Context, id string, at time.Time) error
	// MarkAPIKeyExpired flips an active key to expired. Used by the gate
	// when lazy expiry fires and by the background sweeper.
	MarkAPIKeyExpired(ctx context.Context, id string) error
	// ExpireAPIKeysBefore expires all active keys whose expiry predates
	// cutoff and returns how many rows changed.
	ExpireAPIKeysBefore(ctx context.Context, cutoff time.Time) (int64, error)

	// Webhooks
	CreateWebhook(ctx context.Context, hook *webhooks.Webhook) error
	GetWebhook(ctx context.Context, id string) (*webhooks.Webhook, error)
	ListWebhooksByOwner(ctx context.Context, ownerID string) ([]*webhooks.Webhook, error)
	UpdateWebhook(ctx context.Context, hook *webhooks.Webhook) error
	DeleteWebhook(ctx context.Context, id string) error
	FindActiveWebhooksForEvent(ctx context.Context, event webhooks.EventType) ([]*webhooks.Webhook, error)
	MarkWebhookTriggered(ctx context.Context, id string, at time.Time) error
}

// AlertStore persists reported alerts
type AlertStore interface {
	CreateAlert(ctx context.Context, alert *broadcast.Alert) error
	GetAlert(ctx context.Context, id string) (*broadcast.Alert, error)
	ListAlerts(ctx context.Context, limit, offset int) ([]*broadcast.Alert, int64, error)
	UpdateAlert(ctx context.Context, alert *broadcast.Alert) error
	ResolveAlert(ctx context.Context, id string, at time.Time) error
}

// Store is the full persistence surface the server wires up
type Store interface {
	CredentialStore
	AlertStore

	HealthCheck(ctx context.Context) error
	Close() error
}

// Config for storage backends
type Config struct {
	Type string // "memory" or "postgres"

	// PostgreSQL config
	PostgresURL      string
	PostgresMaxConns int
	PostgresMinConns int
	PostgresTimeout  time.Duration

	// Redis config (API key lookup cache, distributed rate limits)
	RedisURL        string
	RedisPassword   string
	RedisDB         int
	RedisMaxRetries int
	RedisPoolSize   int
	CacheEnabled    bool
	CacheTTL        time.Duration

	// S3 config (delivery log archive)
	S3Endpoint     string
	S3Region       string
	S3Bucket       string
	S3AccessKey    string
	S3SecretKey    string
	S3UsePathStyle bool
	ArchiveEnabled bool
}

// DefaultConfig returns sensible default configuration
func DefaultConfig() Config {
	return Config{
		Type:             "memory",
		PostgresMaxConns: 20,
		PostgresMinConns: 2,
		PostgresTimeout:  10 * time.Second,
		RedisDB:          0,
		RedisMaxRetries:  3,
		RedisPoolSize:    10,
		CacheEnabled:     true,
		CacheTTL:         30 * time.Second,
		S3Region:         "us-east-1",
	}
}
