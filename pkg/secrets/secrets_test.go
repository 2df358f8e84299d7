package secrets

import (
	"encoding/hex"
	"testing"
)

func TestGenerateSecret_Length(t *testing.T) {
	tests := []struct {
		name    string
		bytes   int
		hexLen  int
	}{
		{"api key", APIKeyBytes, 48},
		{"webhook secret", WebhookSecretBytes, 32},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			secret, err := GenerateSecret(tt.bytes)
			if err != nil {
				t.Fatalf("GenerateSecret(%d): %v", tt.bytes, err)
			}
			if len(secret) != tt.hexLen {
				t.Errorf("expected %d hex chars, got %d", tt.hexLen, len(secret))
			}
			if _, err := hex.DecodeString(secret); err != nil {
				t.Errorf("secret is not valid hex: %v", err)
			}
		})
	}
}

func TestGenerateSecret_Unique(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		secret, err := GenerateSecret(APIKeyBytes)
		if err != nil {
			t.Fatalf("GenerateSecret: %v", err)
		}
		if seen[secret] {
			t.Fatalf("duplicate secret generated: %s", secret)
		}
		seen[secret] = true
	}
}

func TestGenerateSecret_InvalidLength(t *testing.T) {
	for _, n := range []int{0, -1} {
		if _, err := GenerateSecret(n); err == nil {
			t.Errorf("expected error for length %d", n)
		}
	}
}

func TestSignVerify_RoundTrip(t *testing.T) {
	payload := []byte(`{"event":"alert.created","data":{"id":1}}`)
	secret := "test-secret"

	sig := Sign(secret, payload)
	if sig == "" {
		t.Fatal("expected non-empty signature")
	}

	if !Verify(payload, sig, secret) {
		t.Error("expected verification to succeed")
	}
}

func TestVerify_TamperedPayload(t *testing.T) {
	payload := []byte(`{"event":"alert.created"}`)
	secret := "test-secret"
	sig := Sign(secret, payload)

	tampered := []byte(`{"event":"alert.deleted"}`)
	if Verify(tampered, sig, secret) {
		t.Error("expected verification to fail for tampered payload")
	}
}

func TestVerify_WrongSecret(t *testing.T) {
	payload := []byte(`{"event":"alert.created"}`)
	sig := Sign("right-secret", payload)

	if Verify(payload, sig, "wrong-secret") {
		t.Error("expected verification to fail with wrong secret")
	}
}
