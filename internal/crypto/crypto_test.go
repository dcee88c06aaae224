package crypto

import (
	"errors"
	"strings"
	"testing"
)

const testKey = "000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f"

func TestNewEncryptor(t *testing.T) {
	tests := []struct {
		name    string
		key     string
		wantErr bool
	}{
		{"valid key", testKey, false},
		{"too short", "abcd", true},
		{"not hex", strings.Repeat("zz", 32), true},
		{"empty", "", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEncryptor(tt.key)
			if (err != nil) != tt.wantErr {
				t.Errorf("NewEncryptor() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil && !errors.Is(err, ErrInvalidKey) {
				t.Errorf("expected ErrInvalidKey, got %v", err)
			}
		})
	}
}

func TestEncryptDecrypt(t *testing.T) {
	enc, err := NewEncryptor(testKey)
	if err != nil {
		t.Fatalf("failed to create encryptor: %v", err)
	}

	t.Run("round trip", func(t *testing.T) {
		sealed, err := enc.Encrypt("ya29.access-token")
		if err != nil {
			t.Fatalf("encrypt failed: %v", err)
		}
		if strings.Contains(sealed, "access-token") {
			t.Error("ciphertext leaks plaintext")
		}
		plain, err := enc.Decrypt(sealed)
		if err != nil {
			t.Fatalf("decrypt failed: %v", err)
		}
		if plain != "ya29.access-token" {
			t.Errorf("expected original plaintext, got %q", plain)
		}
	})

	t.Run("nonces differ", func(t *testing.T) {
		a, _ := enc.Encrypt("same")
		b, _ := enc.Encrypt("same")
		if a == b {
			t.Error("expected different ciphertexts for the same plaintext")
		}
	})

	t.Run("empty stays empty", func(t *testing.T) {
		sealed, err := enc.Encrypt("")
		if err != nil || sealed != "" {
			t.Errorf("expected empty ciphertext, got %q (%v)", sealed, err)
		}
		plain, err := enc.Decrypt("")
		if err != nil || plain != "" {
			t.Errorf("expected empty plaintext, got %q (%v)", plain, err)
		}
	})

	t.Run("tampered ciphertext", func(t *testing.T) {
		sealed, _ := enc.Encrypt("secret")
		tampered := []byte(sealed)
		if tampered[10] == 'A' {
			tampered[10] = 'B'
		} else {
			tampered[10] = 'A'
		}
		if _, err := enc.Decrypt(string(tampered)); !errors.Is(err, ErrInvalidCiphertext) {
			t.Errorf("expected ErrInvalidCiphertext, got %v", err)
		}
	})

	t.Run("wrong key", func(t *testing.T) {
		sealed, _ := enc.Encrypt("secret")
		other, _ := NewEncryptor(strings.Repeat("ab", 32))
		if _, err := other.Decrypt(sealed); !errors.Is(err, ErrInvalidCiphertext) {
			t.Errorf("expected ErrInvalidCiphertext, got %v", err)
		}
	})

	t.Run("garbage input", func(t *testing.T) {
		if _, err := enc.Decrypt("not base64!!"); !errors.Is(err, ErrInvalidCiphertext) {
			t.Errorf("expected ErrInvalidCiphertext, got %v", err)
		}
		if _, err := enc.Decrypt("AAAA"); !errors.Is(err, ErrInvalidCiphertext) {
			t.Errorf("expected ErrInvalidCiphertext for short input, got %v", err)
		}
	})
}
