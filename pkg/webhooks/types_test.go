package webhooks

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewWebhook(t *testing.T) {
	hook, err := NewWebhook("user-1", "ops hook", "https://example.com/hook", []EventType{EventAlertCreated, EventAlertResolved})
	require.NoError(t, err)

	assert.NotEmpty(t, hook.ID)
	assert.Equal(t, "user-1", hook.OwnerID)
	assert.Equal(t, WebhookStatusActive, hook.Status)
	assert.Len(t, hook.SecretValue, 32)
	assert.Nil(t, hook.LastTriggeredAt)
	assert.False(t, hook.CreatedAt.IsZero())
}

func TestNewWebhookValidation(t *testing.T) {
	tests := []struct {
		name      string
		ownerID   string
		targetURL string
		events    []EventType
	}{
		{"missing owner", "", "https://example.com/hook", []EventType{EventAlertCreated}},
		{"missing url", "user-1", "", []EventType{EventAlertCreated}},
		{"relative url", "user-1", "/hook", []EventType{EventAlertCreated}},
		{"no scheme", "user-1", "example.com/hook", []EventType{EventAlertCreated}},
		{"no events", "user-1", "https://example.com/hook", nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewWebhook(tt.ownerID, "hook", tt.targetURL, tt.events)
			assert.Error(t, err)
		})
	}
}

func TestNewWebhookSecretsAreUnique(t *testing.T) {
	a, err := NewWebhook("user-1", "a", "https://example.com/a", []EventType{EventAlertCreated})
	require.NoError(t, err)
	b, err := NewWebhook("user-1", "b", "https://example.com/b", []EventType{EventAlertCreated})
	require.NoError(t, err)
	assert.NotEqual(t, a.SecretValue, b.SecretValue)
}

func TestSubscribesTo(t *testing.T) {
	hook := &Webhook{SubscribedEvents: []EventType{EventAlertCreated, EventIncidentReported}}
	assert.True(t, hook.SubscribesTo(EventAlertCreated))
	assert.True(t, hook.SubscribesTo(EventIncidentReported))
	assert.False(t, hook.SubscribesTo(EventAlertResolved))
}

func TestWebhookSecretNeverMarshalled(t *testing.T) {
	hook, err := NewWebhook("user-1", "hook", "https://example.com/hook", []EventType{EventAlertCreated})
	require.NoError(t, err)

	data, err := json.Marshal(hook)
	require.NoError(t, err)
	assert.NotContains(t, string(data), hook.SecretValue)
}
