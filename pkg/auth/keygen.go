package auth

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ewers-io/ewers/pkg/secrets"
)

// KeyGenerator creates API keys with fresh random secrets
type KeyGenerator struct{}

// NewKeyGenerator creates a new key generator
func NewKeyGenerator() *KeyGenerator {
	return &KeyGenerator{}
}

// NewKey builds an active APIKey for ownerID with a freshly generated
// 48-hex-char secret. The caller is responsible for persisting it and for
// showing the secret to the owner exactly once.
func (g *KeyGenerator) NewKey(ownerID, name string, permissions []Permission, expiresAt *time.Time) (*APIKey, error) {
	if ownerID == "" {
		return nil, fmt.Errorf("owner ID is required")
	}
	if name == "" {
		return nil, fmt.Errorf("key name is required")
	}
	if len(permissions) == 0 {
		return nil, fmt.Errorf("at least one permission is required")
	}
	for _, p := range permissions {
		switch p {
		case PermissionRead, PermissionWrite, PermissionAdmin, PermissionAll:
		default:
			return nil, fmt.Errorf("unrecognized permission: %q", p)
		}
	}

	secret, err := secrets.GenerateSecret(secrets.APIKeyBytes)
	if err != nil {
		return nil, fmt.Errorf("failed to generate key secret: %w", err)
	}

	return &APIKey{
		ID:          uuid.NewString(),
		OwnerID:     ownerID,
		Name:        name,
		SecretValue: secret,
		Permissions: permissions,
		Status:      KeyStatusActive,
		ExpiresAt:   expiresAt,
		CreatedAt:   time.Now().UTC(),
	}, nil
}
