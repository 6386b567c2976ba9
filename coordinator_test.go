package offlinekit

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/offlinekit/offlinekit/checkpoint"
	"github.com/offlinekit/offlinekit/errors"
)

type harness struct {
	repo    *Repository
	store   *mockStore
	outbox  *mockOutbox
	cps     *mockCheckpoints
	adapter *mockAdapter
	coord   *Coordinator
	clock   *fakeClock
}

func newHarness(t *testing.T, opts *CoordinatorOptions) *harness {
	t.Helper()
	store := newMockStore()
	clock := newFakeClock()
	repo := NewRepository(store, &RepositoryOptions{Origin: "dev1", Clock: clock.Now})
	outbox := newMockOutbox()
	cps := &mockCheckpoints{}
	adapter := newMockAdapter()
	coord := NewCoordinator(repo, outbox, cps, adapter, opts)
	t.Cleanup(func() { coord.Close() })
	return &harness{repo: repo, store: store, outbox: outbox, cps: cps, adapter: adapter, coord: coord, clock: clock}
}

func TestOfflineMutationsQueueUp(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	rec, err := h.repo.Insert(ctx, "trip", []byte(`{"v":1}`))
	if err != nil {
		t.Fatalf("Insert while offline: %v", err)
	}
	if _, err := h.repo.Update(ctx, rec.ID, []byte(`{"v":2}`)); err != nil {
		t.Fatalf("Update while offline: %v", err)
	}

	st := h.coord.Status()
	if st.Online {
		t.Error("coordinator must start offline")
	}
	if st.PendingCount != 1 {
		t.Errorf("pending = %d, want 1 (coalesced)", st.PendingCount)
	}
	if h.adapter.pushCalls != 0 {
		t.Error("no adapter calls while the worker is not running")
	}
}

func TestSyncCycleDrainsOutbox(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	rec, _ := h.repo.Insert(ctx, "trip", []byte(`{"v":1}`))
	h.coord.SetOnline(true)

	if err := h.coord.Sync(ctx); err != nil {
		t.Fatalf("Sync: %v", err)
	}

	if n, _ := h.outbox.PendingCount(ctx); n != 0 {
		t.Errorf("pending after sync = %d, want 0", n)
	}
	got := h.store.record(rec.ID)
	if got.RemoteVersion == "" || got.LastSyncedAt == nil {
		t.Errorf("record not marked synced: %+v", got)
	}

	st := h.coord.Status()
	if st.State != StateIdle || st.Syncing || st.LastError != "" {
		t.Errorf("status = %+v", st)
	}
	if !st.LastSyncedAt.Equal(h.clock.Now()) {
		t.Errorf("LastSyncedAt = %v, want %v", st.LastSyncedAt, h.clock.Now())
	}
}

func TestTransientPushFailureReschedules(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	rec, _ := h.repo.Insert(ctx, "trip", []byte(`{"v":1}`))
	h.adapter.pushErr = errors.NewTransient(errors.OpPush, stderrors.New("connection reset"))
	h.coord.SetOnline(true)

	if err := h.coord.Sync(ctx); err != nil {
		t.Fatalf("Sync must absorb transient failures, got %v", err)
	}

	entry, ok := h.outbox.entry(rec.ID)
	if !ok {
		t.Fatal("entry must stay queued")
	}
	if entry.Attempts != 1 || entry.LastError == "" {
		t.Errorf("entry = %+v", entry)
	}
	if !entry.NextRetryAt.After(h.clock.Now()) {
		t.Error("retry must be scheduled in the future")
	}

	st := h.coord.Status()
	if st.State != StateIdle || st.LastError == "" || st.PendingCount != 1 {
		t.Errorf("status = %+v", st)
	}

	// A later cycle retries once the entry is due and clears the error.
	h.adapter.pushErr = nil
	h.clock.Advance(time.Hour)
	if err := h.coord.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := h.outbox.PendingCount(ctx); n != 0 {
		t.Error("entry should drain after the failure clears")
	}
	if st := h.coord.Status(); st.LastError != "" {
		t.Errorf("LastError = %q, want cleared", st.LastError)
	}
}

func TestBackoffDelaysRetry(t *testing.T) {
	h := newHarness(t, &CoordinatorOptions{
		Backoff: &ExponentialBackoff{Initial: time.Minute, Max: time.Hour, Multiplier: 2.0},
	})
	ctx := context.Background()

	rec, _ := h.repo.Insert(ctx, "trip", []byte(`{"v":1}`))
	h.adapter.pushErr = errors.NewTransient(errors.OpPush, stderrors.New("boom"))
	h.coord.SetOnline(true)

	h.coord.Sync(ctx)
	entry, _ := h.outbox.entry(rec.ID)
	first := entry.NextRetryAt
	if got := first.Sub(h.clock.Now()); got != time.Minute {
		t.Fatalf("first retry delay = %s, want 1m", got)
	}

	// Before the retry is due, a cycle leaves the entry untouched.
	h.coord.Sync(ctx)
	entry, _ = h.outbox.entry(rec.ID)
	if entry.Attempts != 1 {
		t.Fatalf("attempts = %d, entry retried before due", entry.Attempts)
	}

	// Once due, the next failure doubles the delay.
	h.clock.Advance(2 * time.Minute)
	h.coord.Sync(ctx)
	entry, _ = h.outbox.entry(rec.ID)
	if entry.Attempts != 2 {
		t.Fatalf("attempts = %d, want 2", entry.Attempts)
	}
	if got := entry.NextRetryAt.Sub(h.clock.Now()); got != 2*time.Minute {
		t.Errorf("second retry delay = %s, want 2m", got)
	}
}

func TestFatalErrorDegrades(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	rec, _ := h.repo.Insert(ctx, "trip", []byte(`{"v":1}`))
	h.adapter.pushErr = errors.NewFatal(errors.OpPush, stderrors.New("credentials revoked"))
	h.coord.SetOnline(true)

	if err := h.coord.Sync(ctx); err != nil {
		t.Fatalf("fatal failures are absorbed into status, got %v", err)
	}

	st := h.coord.Status()
	if st.State != StateOffline || st.LastError == "" {
		t.Errorf("status = %+v, want degraded", st)
	}
	if _, ok := h.outbox.entry(rec.ID); !ok {
		t.Error("entries survive a fatal failure")
	}
	if h.store.record(rec.ID).Payload == nil {
		t.Error("local data untouched by fatal failure")
	}

	// SetOnline(true) clears the degraded state.
	h.coord.SetOnline(true)
	if st := h.coord.Status(); st.State != StateIdle || st.LastError != "" {
		t.Errorf("status after reconnect = %+v", st)
	}
}

func TestValidationResultDiscardsEntry(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	rec, _ := h.repo.Insert(ctx, "trip", []byte(`{"v":1}`))
	h.adapter.resultFor[rec.ID] = PushResult{Err: errors.NewValidation(errors.OpPush, stderrors.New("schema mismatch"))}
	h.coord.SetOnline(true)

	if err := h.coord.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	if n, _ := h.outbox.PendingCount(ctx); n != 0 {
		t.Error("rejected entry must be discarded, not retried")
	}
}

func TestPullMergesAndCheckpoints(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	now := h.clock.Now()

	h.adapter.feed = []ChangeEnvelope{
		{RecordID: "remote-1", Kind: "trip", Op: OpUpsert, Payload: []byte(`{"v":1}`), UpdatedAt: now.Add(-time.Hour), OriginID: "other"},
		{RecordID: "remote-2", Kind: "trip", Op: OpDelete, Payload: []byte(`{}`), UpdatedAt: now.Add(-time.Minute), OriginID: "other"},
	}
	h.coord.SetOnline(true)

	if err := h.coord.Sync(ctx); err != nil {
		t.Fatal(err)
	}

	if !h.store.has("remote-1") {
		t.Error("pulled upsert not applied")
	}
	if rec := h.store.record("remote-2"); !rec.Deleted {
		t.Error("pulled delete must create a tombstone")
	}
	cp := h.cps.current()
	if checkpoint.IsZero(cp) {
		t.Fatal("checkpoint must advance after a pull")
	}
	if cp.Compare(checkpoint.NewSequence(2)) != 0 {
		t.Errorf("checkpoint = %v, want seq 2", cp)
	}
}

func TestPullConflictLocalWins(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	rec, _ := h.repo.Insert(ctx, "trip", []byte(`{"v":"local"}`))
	h.adapter.feed = []ChangeEnvelope{{
		RecordID: rec.ID, Kind: "trip", Op: OpUpsert,
		Payload: []byte(`{"v":"stale"}`), UpdatedAt: rec.UpdatedAt.Add(-time.Second), OriginID: "other",
	}}
	h.coord.SetOnline(true)

	if err := h.coord.Sync(ctx); err != nil {
		t.Fatal(err)
	}
	if string(h.store.record(rec.ID).Payload) != `{"v":"local"}` {
		t.Error("older remote change must not overwrite local state")
	}
}

func TestMutationDuringInFlightPushIsNotLost(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()

	rec, _ := h.repo.Insert(ctx, "trip", []byte(`{"v":1}`))

	// Simulate a push in flight: snapshot taken, then a newer mutation
	// lands, then the snapshot's ack arrives.
	batch, _ := h.outbox.PeekBatch(ctx, 10, h.clock.Now())
	h.clock.Advance(time.Second)
	h.repo.Update(ctx, rec.ID, []byte(`{"v":2}`))

	upTo := batch[0].Envelope.UpdatedAt
	h.outbox.Acknowledge(ctx, rec.ID, upTo)
	h.repo.markSynced(ctx, rec.ID, "v1", upTo)

	entry, ok := h.outbox.entry(rec.ID)
	if !ok {
		t.Fatal("newer mutation lost to a stale ack")
	}
	if string(entry.Envelope.Payload) != `{"v":2}` {
		t.Errorf("queued payload = %s, want the newer state", entry.Envelope.Payload)
	}
	if h.store.record(rec.ID).RemoteVersion != "" {
		t.Error("stale ack must not stamp the newer mutation")
	}
}

func TestWorkerEndToEnd(t *testing.T) {
	h := newHarness(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	statusCh := make(chan SyncStatus, 64)
	h.coord.SubscribeStatus(func(s SyncStatus) { statusCh <- s })

	if err := h.coord.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}

	rec, err := h.repo.Insert(ctx, "trip", []byte(`{"title":"Lisbon"}`))
	if err != nil {
		t.Fatal(err)
	}

	// Offline: the trigger fires but the worker skips the cycle.
	time.Sleep(50 * time.Millisecond)
	if h.adapter.pushCalls != 0 {
		t.Fatal("worker must not sync while offline")
	}

	h.coord.SetOnline(true)

	deadline := time.After(2 * time.Second)
	for {
		n, _ := h.outbox.PendingCount(ctx)
		if n == 0 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("outbox never drained")
		case <-time.After(10 * time.Millisecond):
		}
	}

	if ids := h.adapter.pushedIDs(); len(ids) != 1 || ids[0] != rec.ID {
		t.Errorf("pushed = %v", ids)
	}

	sawSyncing := false
	drain := time.After(200 * time.Millisecond)
loop:
	for {
		select {
		case s := <-statusCh:
			if s.Syncing {
				sawSyncing = true
			}
		case <-drain:
			break loop
		}
	}
	if !sawSyncing {
		t.Error("status subscribers should observe the syncing transition")
	}

	if err := h.coord.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := h.coord.Start(ctx); err == nil {
		t.Error("Start after Close must fail")
	}
}

func TestStartTwiceFails(t *testing.T) {
	h := newHarness(t, nil)
	ctx := context.Background()
	if err := h.coord.Start(ctx); err != nil {
		t.Fatal(err)
	}
	if err := h.coord.Start(ctx); err == nil {
		t.Fatal("second Start must fail")
	}
}

func TestEnqueueFailureSurfacesToMutation(t *testing.T) {
	h := newHarness(t, nil)
	h.outbox.failEnqueue = errors.NewStorage(errors.OpEnqueue, stderrors.New("disk full"))

	_, err := h.repo.Insert(context.Background(), "trip", []byte(`{}`))
	if err == nil || !errors.IsRetryable(err) {
		t.Fatalf("err = %v, want storage error", err)
	}
}
