package security

import (
	"bytes"
	"context"
	"strings"
	"testing"

	"github.com/goliatone/go-relay/core"
)

func sealedStoreFixture(t *testing.T) (*SealedDeadLetterStore, *core.MemoryDeadLetterStore) {
	t.Helper()
	inner := core.NewMemoryDeadLetterStore()
	provider, err := NewAppKeySecretProviderFromString("sealed store key")
	if err != nil {
		t.Fatalf("create provider: %v", err)
	}
	store, err := NewSealedDeadLetterStore(inner, provider)
	if err != nil {
		t.Fatalf("create sealed store: %v", err)
	}
	return store, inner
}

func sealedTestEntry(correlationID string) core.DeadLetterEntry {
	event := core.Event{
		CorrelationID: correlationID,
		EventType:     "call.completed",
		Payload:       []byte(`{"transcript":"caller shared their account number"}`),
	}
	event = core.EnsurePayloadHash(event)
	return core.DeadLetterEntry{
		Event:        event,
		ErrorType:    core.ErrorTypeNetwork,
		ErrorMessage: "consumer unreachable",
	}
}

func TestSealedDeadLetterStore_PayloadEncryptedAtRest(t *testing.T) {
	store, inner := sealedStoreFixture(t)
	ctx := context.Background()
	entry := sealedTestEntry("corr-sealed-1")
	plaintext := append([]byte(nil), entry.Event.Payload...)

	stored, err := store.Enqueue(ctx, entry)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if !bytes.Equal(stored.Event.Payload, plaintext) {
		t.Fatalf("enqueue must hand back plaintext, got %s", stored.Event.Payload)
	}

	raw, err := inner.Get(ctx, stored.ID)
	if err != nil {
		t.Fatalf("read inner store: %v", err)
	}
	if bytes.Contains(raw.Event.Payload, []byte("account number")) {
		t.Fatalf("inner store holds plaintext payload")
	}
	if !strings.HasPrefix(string(raw.Event.Payload), envelopePrefix) {
		t.Fatalf("expected sealed envelope at rest, got %s", raw.Event.Payload)
	}
	if raw.Event.PayloadHash != stored.Event.PayloadHash {
		t.Fatalf("payload hash must survive sealing unchanged")
	}
}

func TestSealedDeadLetterStore_ReadPathsReturnPlaintext(t *testing.T) {
	store, _ := sealedStoreFixture(t)
	ctx := context.Background()
	entry := sealedTestEntry("corr-sealed-2")
	plaintext := append([]byte(nil), entry.Event.Payload...)

	stored, err := store.Enqueue(ctx, entry)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	got, err := store.Get(ctx, stored.ID)
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if !bytes.Equal(got.Event.Payload, plaintext) {
		t.Fatalf("get must decrypt, got %s", got.Event.Payload)
	}
	if got.Event.PayloadHash != core.HashPayload(got.Event.Payload) {
		t.Fatalf("decrypted payload must still match its pinned hash")
	}

	listed, err := store.List(ctx, core.DeadLetterFilter{CorrelationID: "corr-sealed-2"})
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(listed) != 1 || !bytes.Equal(listed[0].Event.Payload, plaintext) {
		t.Fatalf("list must decrypt entries, got %+v", listed)
	}

	claimed, err := store.ClaimRetryBatch(ctx, 10)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if len(claimed) != 1 || !bytes.Equal(claimed[0].Event.Payload, plaintext) {
		t.Fatalf("claimed batch must decrypt entries, got %+v", claimed)
	}
}

func TestSealedDeadLetterStore_ResurrectDecrypts(t *testing.T) {
	store, _ := sealedStoreFixture(t)
	ctx := context.Background()
	entry := sealedTestEntry("corr-sealed-3")
	plaintext := append([]byte(nil), entry.Event.Payload...)

	stored, err := store.Enqueue(ctx, entry)
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if err := store.MarkFailed(ctx, stored.ID, context.DeadlineExceeded); err != nil {
		t.Fatalf("mark failed: %v", err)
	}

	revived, err := store.Resurrect(ctx, stored.ID)
	if err != nil {
		t.Fatalf("resurrect: %v", err)
	}
	if !bytes.Equal(revived.Event.Payload, plaintext) {
		t.Fatalf("resurrect must decrypt, got %s", revived.Event.Payload)
	}
}

func TestSealedDeadLetterStore_WrongKeySurfacesError(t *testing.T) {
	inner := core.NewMemoryDeadLetterStore()
	writerKey, _ := NewAppKeySecretProviderFromString("writer key")
	writer, err := NewSealedDeadLetterStore(inner, writerKey)
	if err != nil {
		t.Fatalf("create writer store: %v", err)
	}
	stored, err := writer.Enqueue(context.Background(), sealedTestEntry("corr-sealed-4"))
	if err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	readerKey, _ := NewAppKeySecretProviderFromString("reader key")
	reader, err := NewSealedDeadLetterStore(inner, readerKey)
	if err != nil {
		t.Fatalf("create reader store: %v", err)
	}
	if _, err := reader.Get(context.Background(), stored.ID); err == nil {
		t.Fatalf("expected wrong key to surface a decrypt error")
	}
}

func TestNewSealedDeadLetterStore_RequiresDependencies(t *testing.T) {
	provider, _ := NewAppKeySecretProviderFromString("key")
	if _, err := NewSealedDeadLetterStore(nil, provider); err == nil {
		t.Fatalf("expected missing store to fail")
	}
	if _, err := NewSealedDeadLetterStore(core.NewMemoryDeadLetterStore(), nil); err == nil {
		t.Fatalf("expected missing provider to fail")
	}
}
