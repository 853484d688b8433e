package sqlstore_test

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"testing"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/goliatone/go-relay/core"
	relaymigrations "github.com/goliatone/go-relay/migrations"
	sqlstore "github.com/goliatone/go-relay/store/sql"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-relay-tests"
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:relay-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = relaymigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != relaymigrations.DialectSQLite {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, relaymigrations.WithValidationTargets(relaymigrations.DialectSQLite))
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}

func TestMigrationSmokeApplySQLite(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	var tableName string
	if err := client.DB().NewRaw(
		"SELECT name FROM sqlite_master WHERE type = 'table' AND name = ?",
		"relay_idempotency_records",
	).Scan(context.Background(), &tableName); err != nil {
		t.Fatalf("query sqlite master: %v", err)
	}
	if tableName != "relay_idempotency_records" {
		t.Fatalf("expected relay_idempotency_records table, got %q", tableName)
	}
}

func TestIdempotencyStore_ClaimCompleteAndDuplicate(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	store := factory.IdempotencyStore()

	record := core.IdempotencyRecord{
		CorrelationID: "corr_sql_1",
		EventType:     core.EventTypeCallCompleted,
		PayloadHash:   "hash_a",
	}
	claim, err := store.Claim(ctx, record)
	if err != nil {
		t.Fatalf("first claim: %v", err)
	}
	if !claim.Accepted {
		t.Fatalf("expected first claim to be accepted")
	}

	duplicate, err := store.Claim(ctx, record)
	if err != nil {
		t.Fatalf("duplicate claim: %v", err)
	}
	if duplicate.Accepted {
		t.Fatalf("expected duplicate claim to observe the winner")
	}
	if duplicate.Existing.PayloadHash != "hash_a" {
		t.Fatalf("expected existing hash hash_a, got %q", duplicate.Existing.PayloadHash)
	}

	appliedAt := time.Now().UTC()
	if err := store.Complete(ctx, claim.ClaimID, "crm_rec_1", appliedAt); err != nil {
		t.Fatalf("complete claim: %v", err)
	}

	stored, err := store.Get(ctx, record.CorrelationID, record.EventType)
	if err != nil {
		t.Fatalf("get applied record: %v", err)
	}
	if stored.TargetRecordID != "crm_rec_1" {
		t.Fatalf("expected target record id crm_rec_1, got %q", stored.TargetRecordID)
	}
	if stored.LastAppliedAt.IsZero() {
		t.Fatalf("expected applied timestamp to persist")
	}

	// Completing a finished claim is an error, not a silent overwrite.
	if err := store.Complete(ctx, claim.ClaimID, "crm_rec_other", appliedAt); err == nil {
		t.Fatalf("expected second completion to fail")
	}
}

func TestIdempotencyStore_FailReleasesClaimForReapply(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := sqlstore.NewIdempotencyStore(client.DB())
	if err != nil {
		t.Fatalf("new idempotency store: %v", err)
	}

	record := core.IdempotencyRecord{
		CorrelationID: "corr_sql_release",
		EventType:     core.EventTypeCallCompleted,
		PayloadHash:   "hash_a",
	}
	claim, err := store.Claim(ctx, record)
	if err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := store.Fail(ctx, claim.ClaimID); err != nil {
		t.Fatalf("fail claim: %v", err)
	}
	if _, err := store.Get(ctx, record.CorrelationID, record.EventType); !errors.Is(err, core.ErrIdempotencyRecordNotFound) {
		t.Fatalf("expected released claim to leave no record, got %v", err)
	}

	reclaim, err := store.Claim(ctx, record)
	if err != nil {
		t.Fatalf("reclaim: %v", err)
	}
	if !reclaim.Accepted {
		t.Fatalf("expected reclaim after release to be accepted")
	}
}

func TestDeadLetterStore_ClaimBatchLifecycle(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := sqlstore.NewDeadLetterStore(client.DB())
	if err != nil {
		t.Fatalf("new dead letter store: %v", err)
	}

	past := time.Now().UTC().Add(-time.Minute)
	retryable, err := store.Enqueue(ctx, core.DeadLetterEntry{
		Event: core.Event{
			CorrelationID: "corr_dl_1",
			EventType:     core.EventTypeCallCompleted,
			Payload:       []byte(`{"call_id":"call_1"}`),
			PayloadHash:   "hash_dl_1",
		},
		ErrorType:     core.ErrorTypeTimeout,
		ErrorMessage:  "consumer call exceeded 2s",
		Status:        core.DeadLetterStatusPending,
		NextAttemptAt: &past,
	})
	if err != nil {
		t.Fatalf("enqueue retryable entry: %v", err)
	}

	if _, err := store.Enqueue(ctx, core.DeadLetterEntry{
		Event: core.Event{
			CorrelationID: "corr_dl_2",
			EventType:     core.EventTypeCallCompleted,
			Payload:       []byte(`{"call_id":"call_2"}`),
			PayloadHash:   "hash_dl_2",
		},
		ErrorType:    core.ErrorTypeHashMismatch,
		ErrorMessage: "payload hash mismatch",
		Status:       core.DeadLetterStatusFailed,
	}); err != nil {
		t.Fatalf("enqueue failed entry: %v", err)
	}

	claimed, err := store.ClaimRetryBatch(ctx, 10)
	if err != nil {
		t.Fatalf("claim retry batch: %v", err)
	}
	if len(claimed) != 1 {
		t.Fatalf("expected only the due retryable entry, got %d", len(claimed))
	}
	if claimed[0].ID != retryable.ID {
		t.Fatalf("expected claimed entry %q, got %q", retryable.ID, claimed[0].ID)
	}
	if claimed[0].Status != core.DeadLetterStatusRetrying {
		t.Fatalf("expected claimed entry to move to retrying, got %q", claimed[0].Status)
	}

	again, err := store.ClaimRetryBatch(ctx, 10)
	if err != nil {
		t.Fatalf("second claim retry batch: %v", err)
	}
	if len(again) != 0 {
		t.Fatalf("expected claimed entries to be invisible to a second poller, got %d", len(again))
	}

	next := time.Now().UTC().Add(time.Hour)
	if err := store.Reschedule(ctx, retryable.ID, fmt.Errorf("still down"), next); err != nil {
		t.Fatalf("reschedule: %v", err)
	}
	rescheduled, err := store.Get(ctx, retryable.ID)
	if err != nil {
		t.Fatalf("get rescheduled entry: %v", err)
	}
	if rescheduled.Status != core.DeadLetterStatusPending {
		t.Fatalf("expected pending after reschedule, got %q", rescheduled.Status)
	}
	if rescheduled.Attempts != 1 {
		t.Fatalf("expected one attempt recorded, got %d", rescheduled.Attempts)
	}
	if rescheduled.NextAttemptAt == nil || !rescheduled.NextAttemptAt.After(time.Now().UTC()) {
		t.Fatalf("expected future next attempt timestamp")
	}

	notYetDue, err := store.ClaimRetryBatch(ctx, 10)
	if err != nil {
		t.Fatalf("claim before schedule: %v", err)
	}
	if len(notYetDue) != 0 {
		t.Fatalf("expected rescheduled entry to stay parked until due, got %d", len(notYetDue))
	}

	if err := store.MarkFailed(ctx, retryable.ID, fmt.Errorf("budget exhausted")); err != nil {
		t.Fatalf("mark failed: %v", err)
	}
	resurrected, err := store.Resurrect(ctx, retryable.ID)
	if err != nil {
		t.Fatalf("resurrect: %v", err)
	}
	if resurrected.Status != core.DeadLetterStatusPending || resurrected.Attempts != 0 {
		t.Fatalf("expected resurrected pending entry with reset attempts, got %+v", resurrected)
	}

	if err := store.MarkResolved(ctx, retryable.ID); err != nil {
		t.Fatalf("mark resolved: %v", err)
	}
	if _, err := store.Resurrect(ctx, retryable.ID); err == nil {
		t.Fatalf("expected resurrect of resolved entry to fail")
	}
}

func TestDeadLetterStore_ListFiltersAndPendingCount(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := sqlstore.NewDeadLetterStore(client.DB())
	if err != nil {
		t.Fatalf("new dead letter store: %v", err)
	}

	seed := []core.DeadLetterEntry{
		{
			Event: core.Event{
				CorrelationID: "corr_list_1",
				EventType:     core.EventTypeCallCompleted,
				Payload:       []byte(`{}`),
				PayloadHash:   "h1",
			},
			ErrorType: core.ErrorTypeNetwork,
			Status:    core.DeadLetterStatusPending,
		},
		{
			Event: core.Event{
				CorrelationID: "corr_list_2",
				EventType:     core.EventTypeCampaignCompleted,
				Payload:       []byte(`{}`),
				PayloadHash:   "h2",
			},
			ErrorType: core.ErrorTypeHashMismatch,
			Status:    core.DeadLetterStatusFailed,
		},
	}
	for _, entry := range seed {
		if _, err := store.Enqueue(ctx, entry); err != nil {
			t.Fatalf("enqueue seed entry: %v", err)
		}
	}

	failed, err := store.List(ctx, core.DeadLetterFilter{Status: core.DeadLetterStatusFailed})
	if err != nil {
		t.Fatalf("list failed entries: %v", err)
	}
	if len(failed) != 1 || failed[0].Event.CorrelationID != "corr_list_2" {
		t.Fatalf("unexpected failed list result %+v", failed)
	}

	byCorrelation, err := store.List(ctx, core.DeadLetterFilter{CorrelationID: "corr_list_1"})
	if err != nil {
		t.Fatalf("list by correlation: %v", err)
	}
	if len(byCorrelation) != 1 || byCorrelation[0].ErrorType != core.ErrorTypeNetwork {
		t.Fatalf("unexpected correlation list result %+v", byCorrelation)
	}

	count, err := store.PendingCount(ctx, time.Now().UTC().Add(-time.Hour))
	if err != nil {
		t.Fatalf("pending count: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected one pending entry in window, got %d", count)
	}
}

func TestBreakerStateStore_VersionedCompareAndSwap(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := sqlstore.NewBreakerStateStore(client.DB())
	if err != nil {
		t.Fatalf("new breaker state store: %v", err)
	}

	if _, err := store.Get(ctx, "crm.contacts"); !errors.Is(err, core.ErrBreakerStateNotFound) {
		t.Fatalf("expected not-found for unseen key, got %v", err)
	}

	inserted, swapped, err := store.CompareAndSwap(ctx, core.BreakerState{
		EndpointKey:  "crm.contacts",
		Phase:        core.BreakerClosed,
		FailureCount: 1,
		Version:      0,
	})
	if err != nil || !swapped {
		t.Fatalf("insert swap: swapped=%v err=%v", swapped, err)
	}
	if inserted.Version != 1 {
		t.Fatalf("expected inserted version 1, got %d", inserted.Version)
	}

	updated, swapped, err := store.CompareAndSwap(ctx, core.BreakerState{
		EndpointKey:  "crm.contacts",
		Phase:        core.BreakerOpen,
		FailureCount: 5,
		Version:      inserted.Version,
	})
	if err != nil || !swapped {
		t.Fatalf("update swap: swapped=%v err=%v", swapped, err)
	}
	if updated.Version != 2 {
		t.Fatalf("expected bumped version 2, got %d", updated.Version)
	}

	winning, swapped, err := store.CompareAndSwap(ctx, core.BreakerState{
		EndpointKey:  "crm.contacts",
		Phase:        core.BreakerClosed,
		FailureCount: 0,
		Version:      inserted.Version,
	})
	if err != nil {
		t.Fatalf("stale swap: %v", err)
	}
	if swapped {
		t.Fatalf("expected stale version to lose the swap")
	}
	if winning.Phase != core.BreakerOpen || winning.Version != 2 {
		t.Fatalf("expected winning open state at version 2, got %+v", winning)
	}

	duplicateInsert, swapped, err := store.CompareAndSwap(ctx, core.BreakerState{
		EndpointKey:  "crm.contacts",
		Phase:        core.BreakerClosed,
		FailureCount: 0,
		Version:      0,
	})
	if err != nil {
		t.Fatalf("duplicate insert swap: %v", err)
	}
	if swapped {
		t.Fatalf("expected insert-if-absent to lose against an existing row")
	}
	if duplicateInsert.Version != 2 {
		t.Fatalf("expected existing row back from duplicate insert, got %+v", duplicateInsert)
	}
}

func TestCircuitBreaker_OverSQLStore(t *testing.T) {
	ctx := context.Background()
	client, cleanup := newSQLiteClient(t)
	defer cleanup()

	store, err := sqlstore.NewBreakerStateStore(client.DB())
	if err != nil {
		t.Fatalf("new breaker state store: %v", err)
	}
	breaker, err := core.NewCircuitBreaker(store, core.CircuitBreakerConfig{Threshold: 2})
	if err != nil {
		t.Fatalf("new circuit breaker: %v", err)
	}

	breaker.RecordFailure(ctx, "crm.contacts")
	breaker.RecordFailure(ctx, "crm.contacts")
	if breaker.Allow(ctx, "crm.contacts") {
		t.Fatalf("expected open breaker to short-circuit")
	}

	breaker.RecordSuccess(ctx, "crm.contacts")
	if !breaker.Allow(ctx, "crm.contacts") {
		t.Fatalf("expected closed breaker to allow calls")
	}
}
