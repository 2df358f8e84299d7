package postgres

import (
	"context"
	"regexp"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ewers-io/ewers/pkg/auth"
	"github.com/ewers-io/ewers/pkg/broadcast"
	"github.com/ewers-io/ewers/pkg/storage"
	"github.com/ewers-io/ewers/pkg/webhooks"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgresStoreWithDB(db), mock
}

var apiKeyColumns = []string{
	"id", "owner_id", "name", "secret", "permissions",
	"status", "expires_at", "last_used_at", "created_at",
}

func TestGetAPIKeyBySecret(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, owner_id, name, secret, permissions, status, expires_at, last_used_at, created_at")).
		WithArgs("secret-abc").
		WillReturnRows(sqlmock.NewRows(apiKeyColumns).AddRow(
			"key-1", "user-1", "ops key", "secret-abc", pq.StringArray{"read", "write"},
			"active", nil, nil, created,
		))

	key, err := store.GetAPIKeyBySecret(context.Background(), "secret-abc")
	require.NoError(t, err)
	assert.Equal(t, "key-1", key.ID)
	assert.Equal(t, []auth.Permission{auth.PermissionRead, auth.PermissionWrite}, key.Permissions)
	assert.Equal(t, auth.KeyStatusActive, key.Status)
	assert.Nil(t, key.ExpiresAt)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetAPIKeyNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, owner_id, name, secret, permissions, status, expires_at, last_used_at, created_at")).
		WithArgs("key-missing").
		WillReturnRows(sqlmock.NewRows(apiKeyColumns))

	_, err := store.GetAPIKey(context.Background(), "key-missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateAPIKey(t *testing.T) {
	store, mock := newMockStore(t)

	gen := auth.NewKeyGenerator()
	key, err := gen.NewKey("user-1", "ops key", []auth.Permission{auth.PermissionRead}, nil)
	require.NoError(t, err)

	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO api_keys")).
		WithArgs(key.ID, key.OwnerID, key.Name, key.SecretValue,
			sqlmock.AnyArg(), "active", nil, key.CreatedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.CreateAPIKey(context.Background(), key))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkAPIKeyExpired(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE api_keys SET status = $1 WHERE id = $2 AND status = $3 RETURNING secret")).
		WithArgs("expired", "key-1", "active").
		WillReturnRows(sqlmock.NewRows([]string{"secret"}).AddRow("secret-abc"))

	require.NoError(t, store.MarkAPIKeyExpired(context.Background(), "key-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkAPIKeyExpiredAlreadyInactive(t *testing.T) {
	store, mock := newMockStore(t)

	// Lost the race with another request; not an error
	mock.ExpectQuery(regexp.QuoteMeta("UPDATE api_keys SET status = $1 WHERE id = $2 AND status = $3 RETURNING secret")).
		WithArgs("expired", "key-1", "active").
		WillReturnRows(sqlmock.NewRows([]string{"secret"}))

	require.NoError(t, store.MarkAPIKeyExpired(context.Background(), "key-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestExpireAPIKeysBefore(t *testing.T) {
	store, mock := newMockStore(t)
	cutoff := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE api_keys SET status = $1")).
		WithArgs("expired", "active", cutoff).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := store.ExpireAPIKeysBefore(context.Background(), cutoff)
	require.NoError(t, err)
	assert.EqualValues(t, 3, n)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRevokeAPIKeyNotFound(t *testing.T) {
	store, mock := newMockStore(t)

	mock.ExpectQuery(regexp.QuoteMeta("UPDATE api_keys SET status = $1 WHERE id = $2 RETURNING secret")).
		WithArgs("revoked", "key-missing").
		WillReturnRows(sqlmock.NewRows([]string{"secret"}))

	err := store.RevokeAPIKey(context.Background(), "key-missing")
	assert.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

var webhookColumns = []string{
	"id", "owner_id", "name", "target_url", "secret", "subscribed_events",
	"status", "last_triggered_at", "created_at", "updated_at",
}

func TestFindActiveWebhooksForEvent(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("$2 = ANY(subscribed_events)")).
		WithArgs("active", "alert.created").
		WillReturnRows(sqlmock.NewRows(webhookColumns).
			AddRow("wh-1", "user-1", "ops", "https://a.example.com/hook", "sec-1",
				pq.StringArray{"alert.created"}, "active", nil, created, created).
			AddRow("wh-2", "user-2", "sms relay", "https://b.example.com/hook", "sec-2",
				pq.StringArray{"alert.created", "alert.resolved"}, "active", nil, created, created))

	hooks, err := store.FindActiveWebhooksForEvent(context.Background(), webhooks.EventAlertCreated)
	require.NoError(t, err)
	require.Len(t, hooks, 2)
	assert.Equal(t, "wh-1", hooks[0].ID)
	assert.Equal(t, []webhooks.EventType{webhooks.EventAlertCreated, webhooks.EventAlertResolved}, hooks[1].SubscribedEvents)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestMarkWebhookTriggered(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE webhooks SET last_triggered_at = $1 WHERE id = $2")).
		WithArgs(at, "wh-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.MarkWebhookTriggered(context.Background(), "wh-1", at))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUpdateWebhookNeverTouchesSecret(t *testing.T) {
	store, mock := newMockStore(t)
	now := time.Now().UTC()

	hook := &webhooks.Webhook{
		ID:               "wh-1",
		Name:             "renamed",
		TargetURL:        "https://example.com/hook",
		SecretValue:      "should-not-be-written",
		SubscribedEvents: []webhooks.EventType{webhooks.EventAlertCreated},
		Status:           webhooks.WebhookStatusActive,
		UpdatedAt:        now,
	}

	mock.ExpectExec(regexp.QuoteMeta("UPDATE webhooks")).
		WithArgs(hook.Name, hook.TargetURL, sqlmock.AnyArg(), "active", now, "wh-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, store.UpdateWebhook(context.Background(), hook))
	require.NoError(t, mock.ExpectationsWereMet())
}

var alertColumns = []string{
	"id", "reporter_id", "title", "description", "severity", "location",
	"status", "resolved_at", "created_at", "updated_at",
}

func TestGetAlert(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("FROM alerts")).
		WithArgs("alert-1").
		WillReturnRows(sqlmock.NewRows(alertColumns).AddRow(
			"alert-1", "user-1", "flood warning", "river rising", "high",
			"district 4", "open", nil, created, created,
		))

	alert, err := store.GetAlert(context.Background(), "alert-1")
	require.NoError(t, err)
	assert.Equal(t, broadcast.SeverityHigh, alert.Severity)
	assert.Equal(t, broadcast.AlertStatusOpen, alert.Status)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestResolveAlertNotFound(t *testing.T) {
	store, mock := newMockStore(t)
	at := time.Now().UTC()

	mock.ExpectExec(regexp.QuoteMeta("UPDATE alerts SET status = $1, resolved_at = $2, updated_at = $2")).
		WithArgs("resolved", at, "alert-missing").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := store.ResolveAlert(context.Background(), "alert-missing", at)
	assert.ErrorIs(t, err, storage.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListAlertsPaginated(t *testing.T) {
	store, mock := newMockStore(t)
	created := time.Now().UTC()

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM alerts")).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(7))
	mock.ExpectQuery(regexp.QuoteMeta("ORDER BY created_at DESC")).
		WithArgs(2, 0).
		WillReturnRows(sqlmock.NewRows(alertColumns).
			AddRow("alert-1", "user-1", "a", "", "low", "", "open", nil, created, created).
			AddRow("alert-2", "user-1", "b", "", "high", "", "open", nil, created, created))

	alerts, total, err := store.ListAlerts(context.Background(), 2, 0)
	require.NoError(t, err)
	assert.EqualValues(t, 7, total)
	assert.Len(t, alerts, 2)
	require.NoError(t, mock.ExpectationsWereMet())
}
