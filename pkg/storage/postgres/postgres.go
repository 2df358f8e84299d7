// Package postgres implements the storage contracts on PostgreSQL, with an
// optional Redis lookup cache and an optional S3 archive for delivery logs.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/ewers-io/ewers/pkg/auth"
	"github.com/ewers-io/ewers/pkg/broadcast"
	"github.com/ewers-io/ewers/pkg/storage"
	"github.com/ewers-io/ewers/pkg/webhooks"
)

// PostgresStore implements storage.Store on PostgreSQL
type PostgresStore struct {
	db       *sql.DB
	cache    *KeyCache
	archiver *Archiver
	config   storage.Config
}

var _ storage.Store = (*PostgresStore)(nil)

// NewPostgresStore connects to PostgreSQL and wires the optional Redis
// cache and S3 archiver from config.
func NewPostgresStore(config storage.Config) (*PostgresStore, error) {
	db, err := sql.Open("postgres", config.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to postgres: %w", err)
	}

	db.SetMaxOpenConns(config.PostgresMaxConns)
	db.SetMaxIdleConns(config.PostgresMinConns)
	db.SetConnMaxLifetime(1 * time.Hour)
	db.SetConnMaxIdleTime(10 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), config.PostgresTimeout)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}

	s := &PostgresStore{db: db, config: config}

	if config.CacheEnabled && config.RedisURL != "" {
		cache, err := NewKeyCache(config)
		if err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to create key cache: %w", err)
		}
		s.cache = cache
	}

	if config.ArchiveEnabled && config.S3Bucket != "" {
		archiver, err := NewArchiver(config)
		if err != nil {
			s.Close()
			return nil, fmt.Errorf("failed to create delivery archiver: %w", err)
		}
		s.archiver = archiver
	}

	return s, nil
}

// NewPostgresStoreWithDB wraps an existing database handle. Used in tests.
func NewPostgresStoreWithDB(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, config: storage.DefaultConfig()}
}

// API keys

func (s *PostgresStore) CreateAPIKey(ctx context.Context, key *auth.APIKey) error {
	query := `
		INSERT INTO api_keys (id, owner_id, name, secret, permissions, status, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	perms := make([]string, len(key.Permissions))
	for i, p := range key.Permissions {
		perms[i] = string(p)
	}
	_, err := s.db.ExecContext(ctx, query,
		key.ID, key.OwnerID, key.Name, key.SecretValue,
		pq.Array(perms), string(key.Status), key.ExpiresAt, key.CreatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAPIKey(ctx context.Context, id string) (*auth.APIKey, error) {
	query := `
		SELECT id, owner_id, name, secret, permissions, status, expires_at, last_used_at, created_at
		FROM api_keys
		WHERE id = $1
	`
	return s.scanAPIKey(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) GetAPIKeyBySecret(ctx context.Context, secret string) (*auth.APIKey, error) {
	if s.cache != nil {
		if key, err := s.cache.GetKey(ctx, secret); err == nil && key != nil {
			return key, nil
		}
	}

	query := `
		SELECT id, owner_id, name, secret, permissions, status, expires_at, last_used_at, created_at
		FROM api_keys
		WHERE secret = $1
	`
	key, err := s.scanAPIKey(s.db.QueryRowContext(ctx, query, secret))
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		s.cache.SetKey(ctx, key)
	}
	return key, nil
}

func (s *PostgresStore) ListAPIKeysByOwner(ctx context.Context, ownerID string) ([]*auth.APIKey, error) {
	query := `
		SELECT id, owner_id, name, secret, permissions, status, expires_at, last_used_at, created_at
		FROM api_keys
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`
	rows, err := s.db.QueryContext(ctx, query, ownerID)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer rows.Close()

	var keys []*auth.APIKey
	for rows.Next() {
		key, err := s.scanAPIKey(rows)
		if err != nil {
			return nil, err
		}
		keys = append(keys, key)
	}
	return keys, rows.Err()
}

func (s *PostgresStore) RevokeAPIKey(ctx context.Context, id string) error {
	return s.setKeyStatus(ctx, id, auth.KeyStatusRevoked)
}

func (s *PostgresStore) MarkAPIKeyExpired(ctx context.Context, id string) error {
	query := `UPDATE api_keys SET status = $1 WHERE id = $2 AND status = $3 RETURNING secret`
	var secret string
	err := s.db.QueryRowContext(ctx, query,
		string(auth.KeyStatusExpired), id, string(auth.KeyStatusActive),
	).Scan(&secret)
	if errors.Is(err, sql.ErrNoRows) {
		// Already expired or revoked by a concurrent request
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to expire api key: %w", err)
	}
	if s.cache != nil {
		s.cache.InvalidateKey(ctx, secret)
	}
	return nil
}

func (s *PostgresStore) setKeyStatus(ctx context.Context, id string, status auth.KeyStatus) error {
	query := `UPDATE api_keys SET status = $1 WHERE id = $2 RETURNING secret`
	var secret string
	err := s.db.QueryRowContext(ctx, query, string(status), id).Scan(&secret)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to update api key status: %w", err)
	}
	if s.cache != nil {
		s.cache.InvalidateKey(ctx, secret)
	}
	return nil
}

func (s *PostgresStore) DeleteAPIKey(ctx context.Context, id string) error {
	query := `DELETE FROM api_keys WHERE id = $1 RETURNING secret`
	var secret string
	err := s.db.QueryRowContext(ctx, query, id).Scan(&secret)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("failed to delete api key: %w", err)
	}
	if s.cache != nil {
		s.cache.InvalidateKey(ctx, secret)
	}
	return nil
}

func (s *PostgresStore) MarkAPIKeyUsed(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE api_keys SET last_used_at = $1 WHERE id = $2`
	if _, err := s.db.ExecContext(ctx, query, at, id); err != nil {
		return fmt.Errorf("failed to mark api key used: %w", err)
	}
	return nil
}

func (s *PostgresStore) ExpireAPIKeysBefore(ctx context.Context, cutoff time.Time) (int64, error) {
	query := `
		UPDATE api_keys SET status = $1
		WHERE status = $2 AND expires_at IS NOT NULL AND expires_at < $3
	`
	result, err := s.db.ExecContext(ctx, query,
		string(auth.KeyStatusExpired), string(auth.KeyStatusActive), cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to expire api keys: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count expired api keys: %w", err)
	}
	return n, nil
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *PostgresStore) scanAPIKey(row rowScanner) (*auth.APIKey, error) {
	var key auth.APIKey
	var perms pq.StringArray
	var status string
	err := row.Scan(
		&key.ID, &key.OwnerID, &key.Name, &key.SecretValue,
		&perms, &status, &key.ExpiresAt, &key.LastUsedAt, &key.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan api key: %w", err)
	}
	key.Status = auth.KeyStatus(status)
	key.Permissions = make([]auth.Permission, len(perms))
	for i, p := range perms {
		key.Permissions[i] = auth.Permission(p)
	}
	return &key, nil
}

// Webhooks

func (s *PostgresStore) CreateWebhook(ctx context.Context, hook *webhooks.Webhook) error {
	query := `
		INSERT INTO webhooks (id, owner_id, name, target_url, secret, subscribed_events, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	events := make([]string, len(hook.SubscribedEvents))
	for i, e := range hook.SubscribedEvents {
		events[i] = string(e)
	}
	_, err := s.db.ExecContext(ctx, query,
		hook.ID, hook.OwnerID, hook.Name, hook.TargetURL, hook.SecretValue,
		pq.Array(events), string(hook.Status), hook.CreatedAt, hook.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create webhook: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetWebhook(ctx context.Context, id string) (*webhooks.Webhook, error) {
	query := `
		SELECT id, owner_id, name, target_url, secret, subscribed_events, status, last_triggered_at, created_at, updated_at
		FROM webhooks
		WHERE id = $1
	`
	return s.scanWebhook(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) ListWebhooksByOwner(ctx context.Context, ownerID string) ([]*webhooks.Webhook, error) {
	query := `
		SELECT id, owner_id, name, target_url, secret, subscribed_events, status, last_triggered_at, created_at, updated_at
		FROM webhooks
		WHERE owner_id = $1
		ORDER BY created_at DESC
	`
	return s.queryWebhooks(ctx, query, ownerID)
}

func (s *PostgresStore) UpdateWebhook(ctx context.Context, hook *webhooks.Webhook) error {
	// The secret column is deliberately absent: it is write-once at creation
	query := `
		UPDATE webhooks
		SET name = $1, target_url = $2, subscribed_events = $3, status = $4, updated_at = $5
		WHERE id = $6
	`
	events := make([]string, len(hook.SubscribedEvents))
	for i, e := range hook.SubscribedEvents {
		events[i] = string(e)
	}
	result, err := s.db.ExecContext(ctx, query,
		hook.Name, hook.TargetURL, pq.Array(events), string(hook.Status), hook.UpdatedAt, hook.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update webhook: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check webhook update: %w", err)
	}
	if n == 0 {
		return webhooks.ErrWebhookNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteWebhook(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM webhooks WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check webhook delete: %w", err)
	}
	if n == 0 {
		return webhooks.ErrWebhookNotFound
	}
	return nil
}

func (s *PostgresStore) FindActiveWebhooksForEvent(ctx context.Context, event webhooks.EventType) ([]*webhooks.Webhook, error) {
	query := `
		SELECT id, owner_id, name, target_url, secret, subscribed_events, status, last_triggered_at, created_at, updated_at
		FROM webhooks
		WHERE status = $1 AND $2 = ANY(subscribed_events)
	`
	return s.queryWebhooks(ctx, query, string(webhooks.WebhookStatusActive), string(event))
}

func (s *PostgresStore) MarkWebhookTriggered(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE webhooks SET last_triggered_at = $1 WHERE id = $2`
	if _, err := s.db.ExecContext(ctx, query, at, id); err != nil {
		return fmt.Errorf("failed to mark webhook triggered: %w", err)
	}
	return nil
}

func (s *PostgresStore) queryWebhooks(ctx context.Context, query string, args ...interface{}) ([]*webhooks.Webhook, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query webhooks: %w", err)
	}
	defer rows.Close()

	var hooks []*webhooks.Webhook
	for rows.Next() {
		hook, err := s.scanWebhook(rows)
		if err != nil {
			return nil, err
		}
		hooks = append(hooks, hook)
	}
	return hooks, rows.Err()
}

func (s *PostgresStore) scanWebhook(row rowScanner) (*webhooks.Webhook, error) {
	var hook webhooks.Webhook
	var events pq.StringArray
	var status string
	err := row.Scan(
		&hook.ID, &hook.OwnerID, &hook.Name, &hook.TargetURL, &hook.SecretValue,
		&events, &status, &hook.LastTriggeredAt, &hook.CreatedAt, &hook.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, webhooks.ErrWebhookNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan webhook: %w", err)
	}
	hook.Status = webhooks.WebhookStatus(status)
	hook.SubscribedEvents = make([]webhooks.EventType, len(events))
	for i, e := range events {
		hook.SubscribedEvents[i] = webhooks.EventType(e)
	}
	return &hook, nil
}

// Alerts

func (s *PostgresStore) CreateAlert(ctx context.Context, alert *broadcast.Alert) error {
	query := `
		INSERT INTO alerts (id, reporter_id, title, description, severity, location, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`
	_, err := s.db.ExecContext(ctx, query,
		alert.ID, alert.ReporterID, alert.Title, alert.Description,
		string(alert.Severity), alert.Location, string(alert.Status),
		alert.CreatedAt, alert.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create alert: %w", err)
	}
	return nil
}

func (s *PostgresStore) GetAlert(ctx context.Context, id string) (*broadcast.Alert, error) {
	query := `
		SELECT id, reporter_id, title, description, severity, location, status, resolved_at, created_at, updated_at
		FROM alerts
		WHERE id = $1
	`
	return s.scanAlert(s.db.QueryRowContext(ctx, query, id))
}

func (s *PostgresStore) ListAlerts(ctx context.Context, limit, offset int) ([]*broadcast.Alert, int64, error) {
	var total int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM alerts`).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count alerts: %w", err)
	}

	query := `
		SELECT id, reporter_id, title, description, severity, location, status, resolved_at, created_at, updated_at
		FROM alerts
		ORDER BY created_at DESC
		LIMIT $1 OFFSET $2
	`
	rows, err := s.db.QueryContext(ctx, query, limit, offset)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to list alerts: %w", err)
	}
	defer rows.Close()

	var alerts []*broadcast.Alert
	for rows.Next() {
		alert, err := s.scanAlert(rows)
		if err != nil {
			return nil, 0, err
		}
		alerts = append(alerts, alert)
	}
	return alerts, total, rows.Err()
}

func (s *PostgresStore) UpdateAlert(ctx context.Context, alert *broadcast.Alert) error {
	query := `
		UPDATE alerts
		SET title = $1, description = $2, severity = $3, location = $4, status = $5, resolved_at = $6, updated_at = $7
		WHERE id = $8
	`
	result, err := s.db.ExecContext(ctx, query,
		alert.Title, alert.Description, string(alert.Severity), alert.Location,
		string(alert.Status), alert.ResolvedAt, alert.UpdatedAt, alert.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check alert update: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) ResolveAlert(ctx context.Context, id string, at time.Time) error {
	query := `
		UPDATE alerts SET status = $1, resolved_at = $2, updated_at = $2
		WHERE id = $3
	`
	result, err := s.db.ExecContext(ctx, query, string(broadcast.AlertStatusResolved), at, id)
	if err != nil {
		return fmt.Errorf("failed to resolve alert: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to check alert resolve: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (s *PostgresStore) scanAlert(row rowScanner) (*broadcast.Alert, error) {
	var alert broadcast.Alert
	var severity, status string
	err := row.Scan(
		&alert.ID, &alert.ReporterID, &alert.Title, &alert.Description,
		&severity, &alert.Location, &status, &alert.ResolvedAt,
		&alert.CreatedAt, &alert.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to scan alert: %w", err)
	}
	alert.Severity = broadcast.Severity(severity)
	alert.Status = broadcast.AlertStatus(status)
	return &alert, nil
}

// ArchiveDeliveryLogs ships a batch of delivery logs to the configured S3
// archive. A no-op when archiving is disabled.
func (s *PostgresStore) ArchiveDeliveryLogs(ctx context.Context, logs []*webhooks.DeliveryLog) error {
	if s.archiver == nil {
		return nil
	}
	return s.archiver.ArchiveDeliveryLogs(ctx, logs)
}

// HealthCheck pings PostgreSQL and, when configured, Redis and S3
func (s *PostgresStore) HealthCheck(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("postgres unhealthy: %w", err)
	}
	if s.cache != nil {
		if err := s.cache.Ping(ctx); err != nil {
			return fmt.Errorf("redis unhealthy: %w", err)
		}
	}
	if s.archiver != nil {
		if err := s.archiver.HealthCheck(ctx); err != nil {
			return fmt.Errorf("s3 unhealthy: %w", err)
		}
	}
	return nil
}

// GetDB returns the database handle for health endpoints
func (s *PostgresStore) GetDB() *sql.DB {
	return s.db
}

// GetRedis returns the Redis client, nil when caching is disabled
func (s *PostgresStore) GetRedis() *KeyCache {
	return s.cache
}

// Close closes all backend connections
func (s *PostgresStore) Close() error {
	if s.db != nil {
		s.db.Close()
	}
	if s.cache != nil {
		s.cache.Close()
	}
	return nil
}
