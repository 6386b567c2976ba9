// Package memory provides in-memory implementations of the storage
// interfaces. Nothing survives process restart; it exists for tests and for
// ephemeral embedders that only need the sync mechanics.
package memory

import (
	"context"
	stderrors "errors"
	"sort"
	"sync"
	"time"

	"github.com/offlinekit/offlinekit"
	"github.com/offlinekit/offlinekit/checkpoint"
	"github.com/offlinekit/offlinekit/errors"
)

// Store implements offlinekit.RecordStore, offlinekit.Outbox and
// offlinekit.CheckpointStore over plain maps.
type Store struct {
	mu      sync.RWMutex
	records map[string]offlinekit.Record
	outbox  map[string]*outboxSlot
	seq     int64
	cp      checkpoint.Checkpoint
	closed  bool
}

type outboxSlot struct {
	entry offlinekit.OutboxEntry
	seq   int64
}

var errClosed = stderrors.New("store is closed")

var (
	_ offlinekit.RecordStore     = (*Store)(nil)
	_ offlinekit.Outbox          = (*Store)(nil)
	_ offlinekit.CheckpointStore = (*Store)(nil)
)

// NewStore creates an empty in-memory store.
func NewStore() *Store {
	return &Store{
		records: make(map[string]offlinekit.Record),
		outbox:  make(map[string]*outboxSlot),
	}
}

func (s *Store) Get(ctx context.Context, id string) (offlinekit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return offlinekit.Record{}, errors.NewStorage(errors.OpGet, errClosed)
	}
	rec, ok := s.records[id]
	if !ok {
		return offlinekit.Record{}, errors.NewNotFound(errors.OpGet, id)
	}
	return cloneRecord(rec), nil
}

func (s *Store) Put(ctx context.Context, rec offlinekit.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.NewStorage(errors.OpInsert, errClosed)
	}
	s.records[rec.ID] = cloneRecord(rec)
	return nil
}

func (s *Store) Delete(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.NewStorage(errors.OpDelete, errClosed)
	}
	delete(s.records, id)
	return nil
}

func (s *Store) List(ctx context.Context, kind string, includeDeleted bool) ([]offlinekit.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.NewStorage(errors.OpList, errClosed)
	}
	out := make([]offlinekit.Record, 0, len(s.records))
	for _, rec := range s.records {
		if kind != "" && rec.Kind != kind {
			continue
		}
		if rec.Deleted && !includeDeleted {
			continue
		}
		out = append(out, cloneRecord(rec))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) Enqueue(ctx context.Context, env offlinekit.ChangeEnvelope) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.NewStorage(errors.OpEnqueue, errClosed)
	}
	if slot, ok := s.outbox[env.RecordID]; ok {
		// Coalesce: newer state replaces the pending envelope but keeps the
		// original queue position, and retry bookkeeping starts over.
		slot.entry.Envelope = env
		slot.entry.Attempts = 0
		slot.entry.NextRetryAt = time.Time{}
		slot.entry.LastError = ""
		return nil
	}
	s.seq++
	s.outbox[env.RecordID] = &outboxSlot{
		entry: offlinekit.OutboxEntry{Envelope: env, EnqueuedAt: time.Now()},
		seq:   s.seq,
	}
	return nil
}

func (s *Store) PeekBatch(ctx context.Context, limit int, now time.Time) ([]offlinekit.OutboxEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.NewStorage(errors.OpPeek, errClosed)
	}
	slots := make([]*outboxSlot, 0, len(s.outbox))
	for _, slot := range s.outbox {
		if slot.entry.NextRetryAt.After(now) {
			continue
		}
		slots = append(slots, slot)
	}
	sort.Slice(slots, func(i, j int) bool { return slots[i].seq < slots[j].seq })
	if limit > 0 && len(slots) > limit {
		slots = slots[:limit]
	}
	batch := make([]offlinekit.OutboxEntry, len(slots))
	for i, slot := range slots {
		batch[i] = slot.entry
	}
	return batch, nil
}

func (s *Store) Acknowledge(ctx context.Context, recordID string, upTo time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.NewStorage(errors.OpAck, errClosed)
	}
	slot, ok := s.outbox[recordID]
	if !ok {
		return nil
	}
	if slot.entry.Envelope.UpdatedAt.After(upTo) {
		// A newer mutation landed while the push was in flight.
		return nil
	}
	delete(s.outbox, recordID)
	return nil
}

func (s *Store) Reschedule(ctx context.Context, recordID string, upTo, nextRetryAt time.Time, lastErr string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.NewStorage(errors.OpReschedule, errClosed)
	}
	slot, ok := s.outbox[recordID]
	if !ok {
		return nil
	}
	if slot.entry.Envelope.UpdatedAt.After(upTo) {
		return nil
	}
	slot.entry.Attempts++
	slot.entry.NextRetryAt = nextRetryAt
	slot.entry.LastError = lastErr
	return nil
}

func (s *Store) Discard(ctx context.Context, recordID string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.NewStorage(errors.OpDiscard, errClosed)
	}
	delete(s.outbox, recordID)
	return nil
}

func (s *Store) PendingCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, errors.NewStorage(errors.OpPeek, errClosed)
	}
	return len(s.outbox), nil
}

func (s *Store) LoadCheckpoint(ctx context.Context) (checkpoint.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.NewStorage(errors.OpCheckpoint, errClosed)
	}
	return s.cp, nil
}

func (s *Store) SaveCheckpoint(ctx context.Context, cp checkpoint.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.NewStorage(errors.OpCheckpoint, errClosed)
	}
	s.cp = cp
	return nil
}

func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

func cloneRecord(rec offlinekit.Record) offlinekit.Record {
	out := rec
	if rec.Payload != nil {
		out.Payload = append([]byte(nil), rec.Payload...)
	}
	if rec.DeletedAt != nil {
		t := *rec.DeletedAt
		out.DeletedAt = &t
	}
	if rec.LastSyncedAt != nil {
		t := *rec.LastSyncedAt
		out.LastSyncedAt = &t
	}
	return out
}
