package security

import (
	"bytes"
	"context"
	"strings"
	"testing"
)

func TestAppKeySecretProvider_RoundTrip(t *testing.T) {
	provider, err := NewAppKeySecretProviderFromString("correct horse battery staple")
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	ctx := context.Background()
	plaintext := []byte(`{"transcript":"caller asked for a callback"}`)

	ciphertext, err := provider.Encrypt(ctx, plaintext)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if !strings.HasPrefix(string(ciphertext), envelopePrefix) {
		t.Fatalf("expected envelope prefix, got %s", ciphertext)
	}
	if bytes.Contains(ciphertext, plaintext) {
		t.Fatalf("ciphertext leaks plaintext")
	}

	decrypted, err := provider.Decrypt(ctx, ciphertext)
	if err != nil {
		t.Fatalf("decrypt: %v", err)
	}
	if !bytes.Equal(decrypted, plaintext) {
		t.Fatalf("round trip mismatch: got %s", decrypted)
	}
}

func TestAppKeySecretProvider_EnvelopeMetadata(t *testing.T) {
	provider, err := NewAppKeySecretProviderFromString("secret", WithKeyID("relay-main"), WithVersion(3))
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	ciphertext, err := provider.Encrypt(context.Background(), []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	meta, err := ParseEnvelopeMetadata(ciphertext, false)
	if err != nil {
		t.Fatalf("parse metadata: %v", err)
	}
	if meta.KeyID != "relay-main" || meta.Version != 3 || meta.Algorithm != envelopeAlgorithmAES {
		t.Fatalf("unexpected metadata: %+v", meta)
	}
	if !meta.HasPrefix {
		t.Fatalf("expected prefixed envelope")
	}
}

func TestAppKeySecretProvider_RejectsForeignKeyMetadata(t *testing.T) {
	ctx := context.Background()
	writer, err := NewAppKeySecretProviderFromString("secret", WithKeyID("relay-main"), WithVersion(2))
	if err != nil {
		t.Fatalf("create writer: %v", err)
	}
	ciphertext, err := writer.Encrypt(ctx, []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}

	wrongID, _ := NewAppKeySecretProviderFromString("secret", WithKeyID("relay-backup"), WithVersion(2))
	if _, err := wrongID.Decrypt(ctx, ciphertext); err == nil || !strings.Contains(err.Error(), "key id mismatch") {
		t.Fatalf("expected key id mismatch, got %v", err)
	}

	wrongVersion, _ := NewAppKeySecretProviderFromString("secret", WithKeyID("relay-main"), WithVersion(1))
	if _, err := wrongVersion.Decrypt(ctx, ciphertext); err == nil || !strings.Contains(err.Error(), "key version mismatch") {
		t.Fatalf("expected key version mismatch, got %v", err)
	}
}

func TestAppKeySecretProvider_WrongKeyFailsAuthentication(t *testing.T) {
	ctx := context.Background()
	writer, _ := NewAppKeySecretProviderFromString("writer key")
	reader, _ := NewAppKeySecretProviderFromString("reader key")

	ciphertext, err := writer.Encrypt(ctx, []byte("payload"))
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	if _, err := reader.Decrypt(ctx, ciphertext); err == nil {
		t.Fatalf("expected decrypt with wrong key to fail")
	}
}

func TestAppKeySecretProvider_RequiresInput(t *testing.T) {
	if _, err := NewAppKeySecretProvider(nil); err == nil {
		t.Fatalf("expected empty key material to fail")
	}
	provider, _ := NewAppKeySecretProviderFromString("secret")
	if _, err := provider.Encrypt(context.Background(), nil); err == nil {
		t.Fatalf("expected empty plaintext to fail")
	}
	if _, err := provider.Decrypt(context.Background(), nil); err == nil {
		t.Fatalf("expected empty ciphertext to fail")
	}
}
