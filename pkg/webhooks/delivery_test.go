package webhooks

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDeliveryLogStoreCapsPerWebhook(t *testing.T) {
	store, err := NewDeliveryLogStore(8, 5)
	require.NoError(t, err)

	for i := 0; i < 12; i++ {
		store.Record(&DeliveryLog{
			WebhookID:  "wh-1",
			Event:      EventAlertCreated,
			StatusCode: 200 + i,
			Success:    true,
			Timestamp:  time.Now().UTC(),
		})
	}

	logs := store.Recent("wh-1", 0)
	require.Len(t, logs, 5)
	// Newest first; the oldest seven were evicted
	assert.Equal(t, 211, logs[0].StatusCode)
	assert.Equal(t, 207, logs[4].StatusCode)
	for _, log := range logs {
		assert.NotEmpty(t, log.ID)
	}
}

func TestDeliveryLogStoreRecentLimit(t *testing.T) {
	store, err := NewDeliveryLogStore(8, 20)
	require.NoError(t, err)
	for i := 0; i < 10; i++ {
		store.Record(&DeliveryLog{WebhookID: "wh-1", Success: true})
	}

	assert.Len(t, store.Recent("wh-1", 3), 3)
	assert.Len(t, store.Recent("wh-1", 100), 10)
	assert.Nil(t, store.Recent("wh-unknown", 10))
}

func TestDeliveryLogStoreStats(t *testing.T) {
	store, err := NewDeliveryLogStore(8, 20)
	require.NoError(t, err)

	base := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	store.Record(&DeliveryLog{WebhookID: "wh-1", Success: true, Timestamp: base})
	store.Record(&DeliveryLog{WebhookID: "wh-1", Success: false, Timestamp: base.Add(time.Minute)})
	store.Record(&DeliveryLog{WebhookID: "wh-1", Success: true, Timestamp: base.Add(2 * time.Minute)})
	store.Record(&DeliveryLog{WebhookID: "wh-1", Success: false, Timestamp: base.Add(3 * time.Minute)})

	stats := store.Stats("wh-1")
	assert.Equal(t, 4, stats.Total)
	assert.Equal(t, 2, stats.Succeeded)
	assert.Equal(t, 2, stats.Failed)
	require.NotNil(t, stats.LastAttempt)
	assert.Equal(t, base.Add(3*time.Minute), *stats.LastAttempt)
	require.NotNil(t, stats.LastSuccess)
	assert.Equal(t, base.Add(2*time.Minute), *stats.LastSuccess)
}

func TestDeliveryLogStoreStatsUnknownWebhook(t *testing.T) {
	store, err := NewDeliveryLogStore(8, 20)
	require.NoError(t, err)

	stats := store.Stats("wh-none")
	assert.Equal(t, 0, stats.Total)
	assert.Nil(t, stats.LastAttempt)
}

func TestDeliveryLogStoreEvictsOldWebhooks(t *testing.T) {
	store, err := NewDeliveryLogStore(2, 10)
	require.NoError(t, err)

	for i := 0; i < 3; i++ {
		store.Record(&DeliveryLog{WebhookID: fmt.Sprintf("wh-%d", i), Success: true})
	}

	// wh-0 was the least recently used entry
	assert.Nil(t, store.Recent("wh-0", 10))
	assert.Len(t, store.Recent("wh-1", 10), 1)
	assert.Len(t, store.Recent("wh-2", 10), 1)
}
