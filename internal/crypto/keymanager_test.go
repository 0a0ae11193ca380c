package crypto

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEncryptDecryptSecretRoundTrip(t *testing.T) {
	blob, err := EncryptSecret("my-api-secret", "password123")
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}

	got, err := DecryptSecret(blob, "password123")
	if err != nil {
		t.Fatalf("DecryptSecret: %v", err)
	}
	if got != "my-api-secret" {
		t.Errorf("round trip = %q, want %q", got, "my-api-secret")
	}
}

func TestDecryptSecretWrongPassword(t *testing.T) {
	blob, err := EncryptSecret("my-api-secret", "password123")
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}

	if _, err := DecryptSecret(blob, "wrong"); err == nil {
		t.Error("expected error for wrong password, got nil")
	}
}

func TestEncryptSecretRejectsEmpty(t *testing.T) {
	if _, err := EncryptSecret("", "password"); err == nil {
		t.Error("expected error for empty secret")
	}
	if _, err := EncryptSecret("secret", ""); err == nil {
		t.Error("expected error for empty password")
	}
}

func TestLoadSecret(t *testing.T) {
	// Raw secret takes precedence.
	got, err := LoadSecret(SecretConfig{RawSecret: "raw-value"})
	if err != nil {
		t.Fatalf("LoadSecret raw: %v", err)
	}
	if got != "raw-value" {
		t.Errorf("LoadSecret raw = %q, want %q", got, "raw-value")
	}

	// Encrypted file path.
	blob, err := EncryptSecret("file-secret", "pw")
	if err != nil {
		t.Fatalf("EncryptSecret: %v", err)
	}
	path := filepath.Join(t.TempDir(), "secret.json")
	if err := os.WriteFile(path, blob, 0o600); err != nil {
		t.Fatalf("writing temp file: %v", err)
	}

	got, err = LoadSecret(SecretConfig{EncryptedPath: path, Password: "pw"})
	if err != nil {
		t.Fatalf("LoadSecret encrypted: %v", err)
	}
	if got != "file-secret" {
		t.Errorf("LoadSecret encrypted = %q, want %q", got, "file-secret")
	}

	// No source configured.
	if _, err := LoadSecret(SecretConfig{}); err == nil {
		t.Error("expected error for empty SecretConfig")
	}
}
