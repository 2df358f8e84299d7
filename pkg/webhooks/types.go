package webhooks

import (
	"fmt"
	"net/url"
	"time"

	"github.com/google/uuid"

	"github.com/ewers-io/ewers/pkg/secrets"
)

// WebhookStatus represents the lifecycle state of a webhook registration
type WebhookStatus string

const (
	WebhookStatusActive   WebhookStatus = "active"
	WebhookStatusDisabled WebhookStatus = "disabled"
)

// Webhook represents a registered delivery target
type Webhook struct {
	ID               string        `json:"id"`
	OwnerID          string        `json:"owner_id"`
	Name             string        `json:"name"`
	TargetURL        string        `json:"target_url"`
	SecretValue      string        `json:"-"` // Returned once at creation, signing only
	SubscribedEvents []EventType   `json:"subscribed_events"`
	Status           WebhookStatus `json:"status"`
	LastTriggeredAt  *time.Time    `json:"last_triggered_at,omitempty"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// SubscribesTo reports whether the webhook is subscribed to the event tag
func (w *Webhook) SubscribesTo(event EventType) bool {
	for _, e := range w.SubscribedEvents {
		if e == event {
			return true
		}
	}
	return false
}

// NewWebhook builds an active webhook for ownerID with a freshly generated
// 32-hex-char signing secret.
func NewWebhook(ownerID, name, targetURL string, events []EventType) (*Webhook, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner ID is required")
	}
	if targetURL == "" {
		return nil, fmt.Errorf("webhook URL is required")
	}
	u, err := url.Parse(targetURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid webhook URL: %s", targetURL)
	}
	if len(events) == 0 {
		return nil, fmt.Errorf("at least one event type is required")
	}

	secret, err := secrets.GenerateSecret(secrets.WebhookSecretBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate webhook secret: %w", err)
	}

	now := time.Now().UTC()
	return &Webhook{
		ID:               uuid.NewString(),
		OwnerID:          ownerID,
		Name:             name,
		TargetURL:        targetURL,
		SecretValue:      secret,
		SubscribedEvents: events,
		Status:           WebhookStatusActive,
		CreatedAt:        now,
		UpdatedAt:        now,
	}, nil
}
