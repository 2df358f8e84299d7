package auth

import "time"

// Permission represents an API key permission tier
type Permission string

const (
	// PermissionRead allows GET-equivalent requests
	PermissionRead Permission = "read"
	// PermissionWrite allows mutating requests
	PermissionWrite Permission = "write"
	// PermissionAdmin allows key-gated administrative routes
	PermissionAdmin Permission = "admin"
	// PermissionAll satisfies any requirement
	PermissionAll Permission = "*"
)

// KeyStatus represents the lifecycle state of an API key
type KeyStatus string

const (
	KeyStatusActive  KeyStatus = "active"
	KeyStatusRevoked KeyStatus = "revoked"
	KeyStatusExpired KeyStatus = "expired"
)

// APIKey represents a scoped, expiring credential for external API access
type APIKey struct {
	ID          string       `json:"id"`
	OwnerID     string       `json:"owner_id"`
	Name        string       `json:"name"`
	SecretValue string       `json:"-"` // Returned once at creation, never in reads
	Permissions []Permission `json:"permissions"`
	Status      KeyStatus    `json:"status"`
	ExpiresAt   *time.Time   `json:"expires_at,omitempty"`
	LastUsedAt  *time.Time   `json:"last_used_at,omitempty"`
	CreatedAt   time.Time    `json:"created_at"`
}

// HasPermission reports whether the key's permission set satisfies the
// required tier. Membership is literal or via the "*" wildcard; "write" does
// not imply "read".
func (k *APIKey) HasPermission(required Permission) bool {
	for _, p := range k.Permissions {
		if p == PermissionAll {
			return true
		}
		if p == required {
			return true
		}
	}
	return false
}

// IsExpired reports whether the key's expiry is in the past at the given
// instant. Keys without an expiry never expire.
func (k *APIKey) IsExpired(now time.Time) bool {
	return k.ExpiresAt != nil && k.ExpiresAt.Before(now)
}

// MaskedSecret returns a display form of the secret for list views:
// first 8 hex chars followed by an ellipsis.
func (k *APIKey) MaskedSecret() string {
	if len(k.SecretValue) <= 8 {
		return "********"
	}
	return k.SecretValue[:8] + "..."
}
