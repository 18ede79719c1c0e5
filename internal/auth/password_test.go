package auth_test

import (
	"strings"
	"testing"

	"github.com/unwatchhq/unwatch/internal/auth"
)

// TestHashPassword tests password hashing functionality
func TestHashPassword(t *testing.T) {
	t.Run("produces valid bcrypt hash", func(t *testing.T) {
		hash, err := auth.HashPassword("testpassword123")
		if err != nil {
			t.Fatalf("HashPassword failed: %v", err)
		}

		// bcrypt hashes start with $2a$ or $2b$
		if !strings.HasPrefix(hash, "$2a$") && !strings.HasPrefix(hash, "$2b$") {
			t.Errorf("expected bcrypt hash prefix, got: %s", hash[:10])
		}
	})

	t.Run("same password produces different hashes (salted)", func(t *testing.T) {
		hash1, err := auth.HashPassword("samepassword")
		if err != nil {
			t.Fatalf("HashPassword failed: %v", err)
		}
		hash2, err := auth.HashPassword("samepassword")
		if err != nil {
			t.Fatalf("HashPassword failed: %v", err)
		}
		if hash1 == hash2 {
			t.Error("same password should produce different hashes due to salt")
		}
	})

	t.Run("rejects password over 72 bytes", func(t *testing.T) {
		_, err := auth.HashPassword(strings.Repeat("a", 100))
		if err == nil {
			t.Error("expected error for password over 72 bytes")
		}
	})
}

func TestCheckPassword(t *testing.T) {
	hash, err := auth.HashPassword("correcthorse")
	if err != nil {
		t.Fatalf("HashPassword failed: %v", err)
	}

	t.Run("accepts correct password", func(t *testing.T) {
		if !auth.CheckPassword(hash, "correcthorse") {
			t.Error("expected correct password to match")
		}
	})

	t.Run("rejects wrong password", func(t *testing.T) {
		if auth.CheckPassword(hash, "wronghorse") {
			t.Error("expected wrong password to be rejected")
		}
	})

	t.Run("rejects garbage hash", func(t *testing.T) {
		if auth.CheckPassword("not-a-hash", "correcthorse") {
			t.Error("expected malformed hash to be rejected")
		}
	})
}
