package webhooks

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeArchiver struct {
	mu      sync.Mutex
	batches [][]*DeliveryLog
	fail    bool
}

func (a *fakeArchiver) ArchiveDeliveryLogs(_ context.Context, logs []*DeliveryLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.fail {
		return errors.New("bucket unavailable")
	}
	a.batches = append(a.batches, logs)
	return nil
}

func (a *fakeArchiver) batchCount() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.batches)
}

func recordSome(t *testing.T, store *DeliveryLogStore, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		store.Record(&DeliveryLog{
			WebhookID: "wh-1",
			Event:     EventAlertCreated,
			Success:   true,
			Timestamp: time.Now().UTC(),
		})
	}
}

func TestArchiveJobFlushesBacklog(t *testing.T) {
	store, err := NewDeliveryLogStore(8, 100)
	require.NoError(t, err)
	recordSome(t, store, 3)

	archiver := &fakeArchiver{}
	job := NewArchiveJob(store, archiver, testLogger(), "")
	job.FlushOnce(context.Background())

	require.Equal(t, 1, archiver.batchCount())
	assert.Len(t, archiver.batches[0], 3)

	// A second flush with nothing new is a no-op
	job.FlushOnce(context.Background())
	assert.Equal(t, 1, archiver.batchCount())
}

func TestArchiveJobRequeuesOnFailure(t *testing.T) {
	store, err := NewDeliveryLogStore(8, 100)
	require.NoError(t, err)
	recordSome(t, store, 2)

	archiver := &fakeArchiver{fail: true}
	job := NewArchiveJob(store, archiver, testLogger(), "")
	job.FlushOnce(context.Background())
	assert.Equal(t, 0, archiver.batchCount())

	// The failed batch is retried on the next flush, ahead of newer logs
	recordSome(t, store, 1)
	archiver.mu.Lock()
	archiver.fail = false
	archiver.mu.Unlock()
	job.FlushOnce(context.Background())

	require.Equal(t, 1, archiver.batchCount())
	assert.Len(t, archiver.batches[0], 3)
}

func TestDrainPendingClearsBacklog(t *testing.T) {
	store, err := NewDeliveryLogStore(8, 100)
	require.NoError(t, err)
	recordSome(t, store, 4)

	batch := store.DrainPending()
	assert.Len(t, batch, 4)
	assert.Empty(t, store.DrainPending())

	// Draining does not disturb the per-webhook query window
	assert.Len(t, store.Recent("wh-1", 0), 4)
}

func TestArchiveJobStartAndStop(t *testing.T) {
	store, err := NewDeliveryLogStore(8, 100)
	require.NoError(t, err)

	job := NewArchiveJob(store, &fakeArchiver{}, testLogger(), "@every 1h")
	require.NoError(t, job.Start(context.Background()))
	job.Stop()
}
