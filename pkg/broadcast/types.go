package broadcast

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Severity classifies how urgent an alert is
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// ValidSeverity reports whether s is a known severity level
func ValidSeverity(s Severity) bool {
	switch s {
	case SeverityLow, SeverityMedium, SeverityHigh, SeverityCritical:
		return true
	}
	return false
}

// AlertStatus represents the lifecycle state of an alert
type AlertStatus string

const (
	AlertStatusOpen     AlertStatus = "open"
	AlertStatusResolved AlertStatus = "resolved"
)

// Alert is a reported early-warning incident
type Alert struct {
	ID          string      `json:"id"`
	ReporterID  string      `json:"reporter_id"`
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Severity    Severity    `json:"severity"`
	Location    string      `json:"location,omitempty"`
	Status      AlertStatus `json:"status"`
	ResolvedAt  *time.Time  `json:"resolved_at,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

// NewAlert builds an open alert reported by reporterID
func NewAlert(reporterID, title, description string, severity Severity, location string) (*Alert, error) {
	if reporterID == "" {
		return nil, fmt.Errorf("reporter ID is required")
	}
	if title == "" {
		return nil, fmt.Errorf("alert title is required")
	}
	if !ValidSeverity(severity) {
		return nil, fmt.Errorf("invalid severity: %s", severity)
	}

	now := time.Now().UTC()
	return &Alert{
		ID:          uuid.NewString(),
		ReporterID:  reporterID,
		Title:       title,
		Description: description,
		Severity:    severity,
		Location:    location,
		Status:      AlertStatusOpen,
		CreatedAt:   now,
		UpdatedAt:   now,
	}, nil
}

// Recipients is the caller-supplied roster for one broadcast. When no
// contact points are given, channels fall back to the configured roster.
type Recipients struct {
	Emails       []string `json:"emails,omitempty"`
	PhoneNumbers []string `json:"phone_numbers,omitempty"`
	UserIDs      []string `json:"user_ids,omitempty"`
	Roles        []string `json:"roles,omitempty"`
}

// Empty reports whether the roster carries no directly dispatchable contact
// points. UserIDs and Roles need directory resolution and do not count.
func (r Recipients) Empty() bool {
	return len(r.Emails) == 0 && len(r.PhoneNumbers) == 0
}

// roster converts the contact points into per-sender recipients. Each sender
// picks the field it can deliver to and skips the rest.
func (r Recipients) roster() []Recipient {
	out := make([]Recipient, 0, len(r.PhoneNumbers)+len(r.Emails))
	for _, phone := range r.PhoneNumbers {
		out = append(out, Recipient{Phone: phone})
	}
	for _, email := range r.Emails {
		out = append(out, Recipient{Email: email})
	}
	return out
}

// Recipient is a person reachable through one or more channels
type Recipient struct {
	Name    string `json:"name" yaml:"name"`
	Phone   string `json:"phone,omitempty" yaml:"phone,omitempty"`
	Email   string `json:"email,omitempty" yaml:"email,omitempty"`
	Channel string `json:"channel,omitempty" yaml:"channel,omitempty"`
}

// ChannelResult is the outcome of dispatching an alert to one channel
type ChannelResult struct {
	Channel    string        `json:"channel"`
	Recipients int           `json:"recipients"`
	Failed     int           `json:"failed"`
	Error      string        `json:"error,omitempty"`
	Duration   time.Duration `json:"duration_ms"`
}

// Succeeded reports whether every send on this channel went through
func (r ChannelResult) Succeeded() bool {
	return r.Error == "" && r.Failed == 0
}

// BroadcastResult aggregates the per-channel outcomes of one broadcast.
// Success is true only when every attempted channel succeeded.
type BroadcastResult struct {
	AlertID  string          `json:"alert_id"`
	Channels []ChannelResult `json:"channels"`
	Success  bool            `json:"success"`
}
