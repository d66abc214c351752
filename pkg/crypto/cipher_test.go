package crypto

import (
	"bytes"
	"testing"
)

func TestEncryptDecryptRoundTrip(t *testing.T) {
	payload, err := EncryptString("secret", "DATABASE_URL=postgres://localhost")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	plain, err := DecryptToString("secret", payload)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if plain != "DATABASE_URL=postgres://localhost" {
		t.Fatalf("unexpected plaintext %q", plain)
	}
}

func TestDecryptWithWrongSecretFails(t *testing.T) {
	payload, err := EncryptString("secret-a", "value")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := DecryptToString("secret-b", payload); err == nil {
		t.Fatal("expected decryption failure with wrong secret")
	}
}

func TestDecryptRejectsShortPayload(t *testing.T) {
	if _, err := DecryptToString("secret", []byte{0x01, 0x02}); err == nil {
		t.Fatal("expected error for truncated payload")
	}
}

func TestEncryptProducesUniqueNonces(t *testing.T) {
	a, err := EncryptString("secret", "value")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	b, err := EncryptString("secret", "value")
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if bytes.Equal(a, b) {
		t.Fatal("expected distinct ciphertexts for repeated encryption")
	}
}
