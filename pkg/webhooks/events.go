package webhooks

import "time"

// EventType is a dot-separated tag identifying a domain occurrence,
// matched against webhook subscriptions.
type EventType string

const (
	EventAlertCreated     EventType = "alert.created"
	EventAlertUpdated     EventType = "alert.updated"
	EventAlertResolved    EventType = "alert.resolved"
	EventIncidentReported EventType = "incident.reported"
	EventIncidentUpdated  EventType = "incident.updated"
	EventAPIAccessed      EventType = "api.accessed"
)

// Event is the delivery envelope serialized as the POST body.
type Event struct {
	Event     EventType              `json:"event"`
	Timestamp time.Time              `json:"timestamp"`
	Data      map[string]interface{} `json:"data"`
}

// Delivery request headers. Receivers recompute the HMAC-SHA256 of the raw
// body under the shared secret and constant-time-compare it against
// HeaderSignature.
const (
	HeaderEvent     = "X-EWERS-Webhook-Event"
	HeaderSignature = "X-EWERS-Webhook-Signature"
	HeaderTimestamp = "X-EWERS-Webhook-Timestamp"
)
