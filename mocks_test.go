package offlinekit

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/offlinekit/offlinekit/checkpoint"
	"github.com/offlinekit/offlinekit/errors"
)

// fakeClock is a manually advanced clock for deterministic timestamps.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 8, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// mockStore is an in-memory RecordStore. The storage/memory package cannot
// back these tests without an import cycle, so the relevant slice of it is
// reproduced here.
type mockStore struct {
	mu      sync.Mutex
	records map[string]Record

	failPut error
}

func newMockStore() *mockStore {
	return &mockStore{records: make(map[string]Record)}
}

func (s *mockStore) Get(ctx context.Context, id string) (Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[id]
	if !ok {
		return Record{}, errors.NewNotFound(errors.OpGet, id)
	}
	return rec, nil
}

func (s *mockStore) Put(ctx context.Context, rec Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failPut != nil {
		return s.failPut
	}
	s.records[rec.ID] = rec
	return nil
}

func (s *mockStore) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.records, id)
	return nil
}

func (s *mockStore) List(ctx context.Context, kind string, includeDeleted bool) ([]Record, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Record
	for _, rec := range s.records {
		if kind != "" && rec.Kind != kind {
			continue
		}
		if rec.Deleted && !includeDeleted {
			continue
		}
		out = append(out, rec)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *mockStore) Close() error { return nil }

func (s *mockStore) has(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.records[id]
	return ok
}

func (s *mockStore) record(id string) Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.records[id]
}

// mockOutbox is an in-memory Outbox with the coalescing and upTo semantics
// the coordinator relies on.
type mockOutbox struct {
	mu      sync.Mutex
	entries map[string]*mockOutboxEntry
	seq     int64

	failEnqueue error
}

type mockOutboxEntry struct {
	entry OutboxEntry
	seq   int64
}

func newMockOutbox() *mockOutbox {
	return &mockOutbox{entries: make(map[string]*mockOutboxEntry)}
}

func (o *mockOutbox) Enqueue(ctx context.Context, env ChangeEnvelope) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.failEnqueue != nil {
		return o.failEnqueue
	}
	if slot, ok := o.entries[env.RecordID]; ok {
		slot.entry.Envelope = env
		slot.entry.Attempts = 0
		slot.entry.NextRetryAt = time.Time{}
		slot.entry.LastError = ""
		return nil
	}
	o.seq++
	o.entries[env.RecordID] = &mockOutboxEntry{
		entry: OutboxEntry{Envelope: env, EnqueuedAt: time.Now()},
		seq:   o.seq,
	}
	return nil
}

func (o *mockOutbox) PeekBatch(ctx context.Context, limit int, now time.Time) ([]OutboxEntry, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	var slots []*mockOutboxEntry
	for _, slot := range o.entries {
		if slot.entry.NextRetryAt.After(now) {
			continue
		}
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].seq < slots[j].seq })
	if limit > 0 && len(slots) > limit {
		slots = slots[:limit]
	}
	out := make([]OutboxEntry, len(slots))
	for i, slot := range slots {
		out[i] = slot.entry
	}
	return out, nil
}

func (o *mockOutbox) Acknowledge(ctx context.Context, recordID string, upTo time.Time) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if slot, ok := o.entries[recordID]; ok && !slot.entry.Envelope.UpdatedAt.After(upTo) {
		delete(o.entries, recordID)
	}
	return nil
}

func (o *mockOutbox) Reschedule(ctx context.Context, recordID string, upTo, nextRetryAt time.Time, lastErr string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	if slot, ok := o.entries[recordID]; ok && !slot.entry.Envelope.UpdatedAt.After(upTo) {
		slot.entry.Attempts++
		slot.entry.NextRetryAt = nextRetryAt
		slot.entry.LastError = lastErr
	}
	return nil
}

func (o *mockOutbox) Discard(ctx context.Context, recordID string, reason string) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	delete(o.entries, recordID)
	return nil
}

func (o *mockOutbox) PendingCount(ctx context.Context) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	return len(o.entries), nil
}

func (o *mockOutbox) Close() error { return nil }

func (o *mockOutbox) entry(recordID string) (OutboxEntry, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	slot, ok := o.entries[recordID]
	if !ok {
		return OutboxEntry{}, false
	}
	return slot.entry, true
}

// mockCheckpoints is an in-memory CheckpointStore.
type mockCheckpoints struct {
	mu sync.Mutex
	cp checkpoint.Checkpoint
}

func (m *mockCheckpoints) LoadCheckpoint(ctx context.Context) (checkpoint.Checkpoint, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cp, nil
}

func (m *mockCheckpoints) SaveCheckpoint(ctx context.Context, cp checkpoint.Checkpoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cp = cp
	return nil
}

func (m *mockCheckpoints) current() checkpoint.Checkpoint {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cp
}

// mockAdapter is a scriptable Adapter. By default every push succeeds with a
// generated remote version and pulls return the configured feed once.
type mockAdapter struct {
	mu sync.Mutex

	pushErr    error                 // batch-level error for every push
	resultFor  map[string]PushResult // per-record overrides
	pushCalls  int
	pushed     []ChangeEnvelope
	version    int
	feed       []ChangeEnvelope
	feedServed bool
	pullErr    error
}

func newMockAdapter() *mockAdapter {
	return &mockAdapter{resultFor: make(map[string]PushResult)}
}

func (a *mockAdapter) Push(ctx context.Context, batch []ChangeEnvelope) ([]PushResult, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.pushCalls++
	if a.pushErr != nil {
		return nil, a.pushErr
	}
	a.pushed = append(a.pushed, batch...)
	results := make([]PushResult, len(batch))
	for i, env := range batch {
		if res, ok := a.resultFor[env.RecordID]; ok {
			res.RecordID = env.RecordID
			results[i] = res
			continue
		}
		a.version++
		results[i] = PushResult{RecordID: env.RecordID, RemoteVersion: fmt.Sprintf("v%d", a.version)}
	}
	return results, nil
}

func (a *mockAdapter) Pull(ctx context.Context, since checkpoint.Checkpoint, limit int) ([]ChangeEnvelope, checkpoint.Checkpoint, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.pullErr != nil {
		return nil, nil, a.pullErr
	}
	if a.feedServed || len(a.feed) == 0 {
		return nil, since, nil
	}
	a.feedServed = true
	next := checkpoint.NewSequence(uint64(len(a.feed)))
	return a.feed, next, nil
}

func (a *mockAdapter) Close() error { return nil }

func (a *mockAdapter) pushedIDs() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	out := make([]string, len(a.pushed))
	for i, env := range a.pushed {
		out[i] = env.RecordID
	}
	return out
}
