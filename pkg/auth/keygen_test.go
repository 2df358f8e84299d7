package auth

import (
	"testing"
	"time"
)

func TestKeyGenerator_NewKey(t *testing.T) {
	gen := NewKeyGenerator()

	expiry := time.Now().Add(24 * time.Hour)
	key, err := gen.NewKey("user-1", "ci key", []Permission{PermissionRead}, &expiry)
	if err != nil {
		t.Fatalf("NewKey: %v", err)
	}

	if key.ID == "" {
		t.Error("expected key ID to be set")
	}
	if len(key.SecretValue) != 48 {
		t.Errorf("expected 48 hex char secret, got %d chars", len(key.SecretValue))
	}
	if key.Status != KeyStatusActive {
		t.Errorf("expected active status, got %s", key.Status)
	}
	if key.ExpiresAt == nil || !key.ExpiresAt.Equal(expiry) {
		t.Error("expected expiry to be preserved")
	}
}

func TestKeyGenerator_NewKey_Validation(t *testing.T) {
	gen := NewKeyGenerator()

	tests := []struct {
		name        string
		ownerID     string
		keyName     string
		permissions []Permission
	}{
		{"missing owner", "", "key", []Permission{PermissionRead}},
		{"missing name", "user-1", "", []Permission{PermissionRead}},
		{"no permissions", "user-1", "key", nil},
		{"unrecognized permission", "user-1", "key", []Permission{"superuser"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := gen.NewKey(tt.ownerID, tt.keyName, tt.permissions, nil); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestKeyGenerator_NewKey_UniqueSecrets(t *testing.T) {
	gen := NewKeyGenerator()
	seen := make(map[string]bool)
	for range 50 {
		key, err := gen.NewKey("user-1", "key", []Permission{PermissionAll}, nil)
		if err != nil {
			t.Fatalf("NewKey: %v", err)
		}
		if seen[key.SecretValue] {
			t.Fatal("duplicate secret generated")
		}
		seen[key.SecretValue] = true
	}
}
