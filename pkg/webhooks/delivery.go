package webhooks

import (
	"sync"
	"time"

	"github.com/google/uuid"
	lru "github.com/hashicorp/golang-lru/v2"
)

// DeliveryLog records the outcome of a single delivery attempt
type DeliveryLog struct {
	ID         string        `json:"id"`
	WebhookID  string        `json:"webhook_id"`
	Event      EventType     `json:"event"`
	StatusCode int           `json:"status_code"`
	Success    bool          `json:"success"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration_ms"`
	Timestamp  time.Time     `json:"timestamp"`
}

// DeliveryStats aggregates delivery outcomes for a webhook
type DeliveryStats struct {
	WebhookID    string     `json:"webhook_id"`
	Total        int        `json:"total"`
	Succeeded    int        `json:"succeeded"`
	Failed       int        `json:"failed"`
	LastAttempt  *time.Time `json:"last_attempt,omitempty"`
	LastSuccess  *time.Time `json:"last_success,omitempty"`
}

// DeliveryLogStore keeps recent delivery logs per webhook, bounded by an LRU
// over webhook IDs so abandoned webhooks age out without a sweeper.
type DeliveryLogStore struct {
	mu         sync.RWMutex
	byWebhook  *lru.Cache[string, []*DeliveryLog]
	maxPerHook int
	pending    []*DeliveryLog
}

const (
	defaultMaxLogsPerWebhook = 100

	// maxPendingArchive bounds the archive backlog when the archiver is
	// down or absent; beyond it the oldest unarchived logs are dropped.
	maxPendingArchive = 10000
)

// NewDeliveryLogStore creates a store holding logs for up to maxWebhooks
// webhooks, maxPerHook entries each.
func NewDeliveryLogStore(maxWebhooks, maxPerHook int) (*DeliveryLogStore, error) {
	if maxPerHook <= 0 {
		maxPerHook = defaultMaxLogsPerWebhook
	}
	cache, err := lru.New[string, []*DeliveryLog](maxWebhooks)
	if err != nil {
		return nil, err
	}
	return &DeliveryLogStore{byWebhook: cache, maxPerHook: maxPerHook}, nil
}

// Record appends a delivery log for its webhook, evicting the oldest entry
// once the per-webhook cap is reached. The log ID is assigned here.
func (s *DeliveryLogStore) Record(log *DeliveryLog) {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	logs, _ := s.byWebhook.Get(log.WebhookID)
	logs = append(logs, log)
	if len(logs) > s.maxPerHook {
		logs = logs[len(logs)-s.maxPerHook:]
	}
	s.byWebhook.Add(log.WebhookID, logs)

	s.pending = append(s.pending, log)
	if len(s.pending) > maxPendingArchive {
		s.pending = s.pending[len(s.pending)-maxPendingArchive:]
	}
}

// DrainPending returns the logs recorded since the previous drain and
// clears the backlog. Callers own the returned batch.
func (s *DeliveryLogStore) DrainPending() []*DeliveryLog {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := s.pending
	s.pending = nil
	return out
}

// requeue puts a drained batch back at the front of the backlog after a
// failed archive, so the next drain retries it.
func (s *DeliveryLogStore) requeue(batch []*DeliveryLog) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pending = append(batch, s.pending...)
	if len(s.pending) > maxPendingArchive {
		s.pending = s.pending[len(s.pending)-maxPendingArchive:]
	}
}

// Recent returns up to limit most recent delivery logs for a webhook,
// newest first.
func (s *DeliveryLogStore) Recent(webhookID string, limit int) []*DeliveryLog {
	s.mu.RLock()
	defer s.mu.RUnlock()

	logs, ok := s.byWebhook.Get(webhookID)
	if !ok {
		return nil
	}
	if limit <= 0 || limit > len(logs) {
		limit = len(logs)
	}
	out := make([]*DeliveryLog, 0, limit)
	for i := len(logs) - 1; i >= len(logs)-limit; i-- {
		out = append(out, logs[i])
	}
	return out
}

// Stats computes aggregate delivery counts for a webhook from the retained
// window of logs.
func (s *DeliveryLogStore) Stats(webhookID string) *DeliveryStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &DeliveryStats{WebhookID: webhookID}
	logs, ok := s.byWebhook.Get(webhookID)
	if !ok {
		return stats
	}
	for _, log := range logs {
		stats.Total++
		if log.Success {
			stats.Succeeded++
			ts := log.Timestamp
			stats.LastSuccess = &ts
		} else {
			stats.Failed++
		}
		ts := log.Timestamp
		stats.LastAttempt = &ts
	}
	return stats
}
