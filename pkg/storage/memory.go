package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ewers-io/ewers/pkg/auth"
	"github.com/ewers-io/ewers/pkg/broadcast"
	"github.com/ewers-io/ewers/pkg/webhooks"
)

// MemoryStore is an in-memory Store for tests and local development.
// All methods return deep-enough copies so callers cannot mutate the
// stored records behind the store's back.
type MemoryStore struct {
	mu       sync.RWMutex
	keys     map[string]*auth.APIKey
	bySecret map[string]string // secret -> key ID
	hooks    map[string]*webhooks.Webhook
	alerts   map[string]*broadcast.Alert
}

var _ Store = (*MemoryStore)(nil)

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:     make(map[string]*auth.APIKey),
		bySecret: make(map[string]string),
		hooks:    make(map[string]*webhooks.Webhook),
		alerts:   make(map[string]*broadcast.Alert),
	}
}

// API keys

func (s *MemoryStore) CreateAPIKey(_ context.Context, key *auth.APIKey) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *key
	s.keys[key.ID] = &copied
	s.bySecret[key.SecretValue] = key.ID
	return nil
}

func (s *MemoryStore) GetAPIKey(_ context.Context, id string) (*auth.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *key
	return &copied, nil
}

func (s *MemoryStore) GetAPIKeyBySecret(_ context.Context, secret string) (*auth.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	id, ok := s.bySecret[secret]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *s.keys[id]
	return &copied, nil
}

func (s *MemoryStore) ListAPIKeysByOwner(_ context.Context, ownerID string) ([]*auth.APIKey, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*auth.APIKey
	for _, key := range s.keys {
		if key.OwnerID == ownerID {
			copied := *key
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) RevokeAPIKey(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[id]
	if !ok {
		return ErrNotFound
	}
	key.Status = auth.KeyStatusRevoked
	return nil
}

func (s *MemoryStore) DeleteAPIKey(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[id]
	if !ok {
		return ErrNotFound
	}
	delete(s.bySecret, key.SecretValue)
	delete(s.keys, id)
	return nil
}

func (s *MemoryStore) MarkAPIKeyUsed(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[id]
	if !ok {
		return ErrNotFound
	}
	key.LastUsedAt = &at
	return nil
}

func (s *MemoryStore) MarkAPIKeyExpired(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.keys[id]
	if !ok {
		return ErrNotFound
	}
	if key.Status == auth.KeyStatusActive {
		key.Status = auth.KeyStatusExpired
	}
	return nil
}

func (s *MemoryStore) ExpireAPIKeysBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, key := range s.keys {
		if key.Status == auth.KeyStatusActive && key.ExpiresAt != nil && key.ExpiresAt.Before(cutoff) {
			key.Status = auth.KeyStatusExpired
			n++
		}
	}
	return n, nil
}

// Webhooks

func (s *MemoryStore) CreateWebhook(_ context.Context, hook *webhooks.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *hook
	s.hooks[hook.ID] = &copied
	return nil
}

func (s *MemoryStore) GetWebhook(_ context.Context, id string) (*webhooks.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	hook, ok := s.hooks[id]
	if !ok {
		return nil, webhooks.ErrWebhookNotFound
	}
	copied := *hook
	return &copied, nil
}

func (s *MemoryStore) ListWebhooksByOwner(_ context.Context, ownerID string) ([]*webhooks.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*webhooks.Webhook
	for _, hook := range s.hooks {
		if hook.OwnerID == ownerID {
			copied := *hook
			out = append(out, &copied)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}

func (s *MemoryStore) UpdateWebhook(_ context.Context, hook *webhooks.Webhook) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	existing, ok := s.hooks[hook.ID]
	if !ok {
		return webhooks.ErrWebhookNotFound
	}
	copied := *hook
	// The secret is write-once at creation
	copied.SecretValue = existing.SecretValue
	s.hooks[hook.ID] = &copied
	return nil
}

func (s *MemoryStore) DeleteWebhook(_ context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.hooks[id]; !ok {
		return webhooks.ErrWebhookNotFound
	}
	delete(s.hooks, id)
	return nil
}

func (s *MemoryStore) FindActiveWebhooksForEvent(_ context.Context, event webhooks.EventType) ([]*webhooks.Webhook, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []*webhooks.Webhook
	for _, hook := range s.hooks {
		if hook.Status == webhooks.WebhookStatusActive && hook.SubscribesTo(event) {
			copied := *hook
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (s *MemoryStore) MarkWebhookTriggered(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	hook, ok := s.hooks[id]
	if !ok {
		return webhooks.ErrWebhookNotFound
	}
	hook.LastTriggeredAt = &at
	return nil
}

// Alerts

func (s *MemoryStore) CreateAlert(_ context.Context, alert *broadcast.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := *alert
	s.alerts[alert.ID] = &copied
	return nil
}

func (s *MemoryStore) GetAlert(_ context.Context, id string) (*broadcast.Alert, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	alert, ok := s.alerts[id]
	if !ok {
		return nil, ErrNotFound
	}
	copied := *alert
	return &copied, nil
}

func (s *MemoryStore) ListAlerts(_ context.Context, limit, offset int) ([]*broadcast.Alert, int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	all := make([]*broadcast.Alert, 0, len(s.alerts))
	for _, alert := range s.alerts {
		copied := *alert
		all = append(all, &copied)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })

	total := int64(len(all))
	if offset >= len(all) {
		return nil, total, nil
	}
	all = all[offset:]
	if limit > 0 && limit < len(all) {
		all = all[:limit]
	}
	return all, total, nil
}

func (s *MemoryStore) UpdateAlert(_ context.Context, alert *broadcast.Alert) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.alerts[alert.ID]; !ok {
		return ErrNotFound
	}
	copied := *alert
	s.alerts[alert.ID] = &copied
	return nil
}

func (s *MemoryStore) ResolveAlert(_ context.Context, id string, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	alert, ok := s.alerts[id]
	if !ok {
		return ErrNotFound
	}
	alert.Status = broadcast.AlertStatusResolved
	alert.ResolvedAt = &at
	alert.UpdatedAt = at
	return nil
}

// HealthCheck always succeeds for the in-memory store
func (s *MemoryStore) HealthCheck(_ context.Context) error { return nil }

// Close is a no-op for the in-memory store
func (s *MemoryStore) Close() error { return nil }
