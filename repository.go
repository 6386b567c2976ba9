package offlinekit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/offlinekit/offlinekit/errors"
	"github.com/offlinekit/offlinekit/logging"
)

// changeSink receives the envelope produced by every local mutation. The
// coordinator implements it to enqueue the envelope into the outbox.
type changeSink interface {
	LocalChange(ctx context.Context, env ChangeEnvelope) error
}

// RepositoryOptions configures a Repository.
type RepositoryOptions struct {
	// Origin identifies this device in envelopes. Defaults to a random
	// UUID.
	Origin string

	// Clock supplies mutation timestamps. Defaults to time.Now. Tests
	// inject a fake clock here.
	Clock func() time.Time

	// Logger for internal operations. Defaults to the package logger.
	Logger *logging.Logger
}

// Repository provides typed CRUD access to local records. Every mutating
// call applies to local storage synchronously and unconditionally: it can
// fail on validation or not-found, never on connectivity. Each mutation
// produces a ChangeEnvelope handed to the sync coordinator and a change
// notification to subscribers.
//
// The repository is the sole writer of record state. The coordinator's pull
// path mutates records only through ApplyRemote, which shares the write
// path (and therefore the notification mechanism) with local mutations.
type Repository struct {
	store  RecordStore
	origin string
	clock  func() time.Time
	logger *logging.Logger

	// mu serializes writes so that concurrent callers cannot interleave a
	// read-modify-write, and so envelopes reach the outbox in mutation
	// order. Reads go straight to the store.
	mu   sync.Mutex
	sink changeSink

	subMu sync.RWMutex
	subs  []func(ChangeNotification)
}

// NewRepository creates a repository over the given record store.
func NewRepository(store RecordStore, opts *RepositoryOptions) *Repository {
	if opts == nil {
		opts = &RepositoryOptions{}
	}
	origin := opts.Origin
	if origin == "" {
		origin = uuid.NewString()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := opts.Logger
	if logger == nil {
		logger = logging.Default().WithComponent("repository")
	}
	return &Repository{
		store:  store,
		origin: origin,
		clock:  clock,
		logger: logger,
	}
}

// Origin returns the device identifier stamped on outgoing envelopes.
func (r *Repository) Origin() string { return r.origin }

// attachSink wires the coordinator in as the receiver of local change
// envelopes. Called once during coordinator construction.
func (r *Repository) attachSink(s changeSink) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sink = s
}

// Insert creates a new record of the given kind. The id is generated
// client-side and stable across sync.
func (r *Repository) Insert(ctx context.Context, kind string, payload []byte) (Record, error) {
	if err := validatePayload(errors.OpInsert, kind, payload); err != nil {
		return Record{}, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	rec := Record{
		ID:        uuid.NewString(),
		Kind:      kind,
		Payload:   payload,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := r.store.Put(ctx, rec); err != nil {
		return Record{}, errors.WrapOpComponent(err, errors.OpInsert, "repository")
	}
	if err := r.forward(ctx, rec); err != nil {
		return Record{}, err
	}
	r.notify(ChangeNotification{RecordID: rec.ID, Kind: rec.Kind, Change: ChangeCreated})
	return rec, nil
}

// Update replaces the payload of an existing record. Updating a tombstone
// clears the deletion flags: the mutation is the record's newest state and
// wins over the pending delete under the same last-writer rule. Unknown or
// hard-deleted ids fail with a not-found error.
func (r *Repository) Update(ctx context.Context, id string, payload []byte) (Record, error) {
	if id == "" {
		return Record{}, errors.NewValidation(errors.OpUpdate, fmt.Errorf("empty record id"))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.store.Get(ctx, id)
	if err != nil {
		if errors.IsNotFound(err) {
			return Record{}, errors.NewNotFound(errors.OpUpdate, id)
		}
		return Record{}, errors.WrapOpComponent(err, errors.OpUpdate, "repository")
	}
	if err := validatePayload(errors.OpUpdate, rec.Kind, payload); err != nil {
		return Record{}, err
	}

	rec.Payload = payload
	rec.UpdatedAt = r.nextTimestamp(rec)
	rec.Deleted = false
	rec.DeletedAt = nil

	if err := r.store.Put(ctx, rec); err != nil {
		return Record{}, errors.WrapOpComponent(err, errors.OpUpdate, "repository")
	}
	if err := r.forward(ctx, rec); err != nil {
		return Record{}, err
	}
	r.notify(ChangeNotification{RecordID: rec.ID, Kind: rec.Kind, Change: ChangeUpdated})
	return rec, nil
}

// SoftDelete tombstones a record. Deleting an already-deleted record is a
// no-op success; deleting an unknown id fails with not-found. The record is
// retained for sync reconciliation and garbage-collected only after the
// remote replica confirms the deletion.
func (r *Repository) SoftDelete(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.store.Get(ctx, id)
	if err != nil {
		if errors.IsNotFound(err) {
			return errors.NewNotFound(errors.OpDelete, id)
		}
		return errors.WrapOpComponent(err, errors.OpDelete, "repository")
	}
	if rec.Deleted {
		return nil
	}

	now := r.nextTimestamp(rec)
	rec.Deleted = true
	rec.DeletedAt = &now
	rec.UpdatedAt = now

	if err := r.store.Put(ctx, rec); err != nil {
		return errors.WrapOpComponent(err, errors.OpDelete, "repository")
	}
	if err := r.forward(ctx, rec); err != nil {
		return err
	}
	r.notify(ChangeNotification{RecordID: rec.ID, Kind: rec.Kind, Change: ChangeDeleted})
	return nil
}

// Get returns a record by id. Tombstones read as not-found.
func (r *Repository) Get(ctx context.Context, id string) (Record, error) {
	rec, err := r.store.Get(ctx, id)
	if err != nil {
		if errors.IsNotFound(err) {
			return Record{}, errors.NewNotFound(errors.OpGet, id)
		}
		return Record{}, errors.WrapOpComponent(err, errors.OpGet, "repository")
	}
	if rec.Deleted {
		return Record{}, errors.NewNotFound(errors.OpGet, id)
	}
	return rec, nil
}

// List returns all live records of the given kind, or of every kind when
// kind is empty.
func (r *Repository) List(ctx context.Context, kind string) ([]Record, error) {
	recs, err := r.store.List(ctx, kind, false)
	if err != nil {
		return nil, errors.WrapOpComponent(err, errors.OpList, "repository")
	}
	return recs, nil
}

// Subscribe registers a change notification handler. Delivery is
// at-least-once with no ordering guarantee across kinds; handlers must
// tolerate duplicates and must not block.
func (r *Repository) Subscribe(fn func(ChangeNotification)) {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.subs = append(r.subs, fn)
}

// ApplyRemote merges an incoming envelope under last-writer-wins:
//
//   - no local record: create it from the envelope unconditionally
//   - incoming UpdatedAt after local: incoming wins, overwriting payload,
//     timestamps and deletion flags
//   - otherwise (including ties): local wins, the envelope is discarded
//     silently
//
// A delete envelope merges exactly like an upsert; the timestamp decides.
// Winning merges go through the same write path as local mutations so
// subscribers are notified, but they are never handed to the outbox.
// Returns whether the incoming change was applied.
func (r *Repository) ApplyRemote(ctx context.Context, env ChangeEnvelope) (bool, error) {
	if err := env.Validate(); err != nil {
		return false, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	now := r.clock()
	local, err := r.store.Get(ctx, env.RecordID)
	if err != nil && !errors.IsNotFound(err) {
		return false, errors.WrapOpComponent(err, errors.OpApply, "repository")
	}

	if errors.IsNotFound(err) {
		rec := recordFromEnvelope(env, now)
		if err := r.store.Put(ctx, rec); err != nil {
			return false, errors.WrapOpComponent(err, errors.OpApply, "repository")
		}
		change := ChangeCreated
		if rec.Deleted {
			change = ChangeDeleted
		}
		r.notify(ChangeNotification{RecordID: rec.ID, Kind: rec.Kind, Change: change})
		return true, nil
	}

	// Ties resolve to local wins: stable under coarse clock resolution,
	// and the expected steady state after a round-trip of our own change.
	if !env.UpdatedAt.After(local.UpdatedAt) {
		r.logger.DebugContext(ctx, "incoming change discarded, local wins",
			slog.String("record_id", env.RecordID),
			slog.Time("incoming", env.UpdatedAt),
			slog.Time("local", local.UpdatedAt),
		)
		return false, nil
	}

	wasDeleted := local.Deleted
	local.Payload = env.Payload
	local.UpdatedAt = env.UpdatedAt
	local.Deleted = env.Op == OpDelete
	local.DeletedAt = nil
	if local.Deleted {
		at := env.UpdatedAt
		local.DeletedAt = &at
	}
	local.LastSyncedAt = &now

	if err := r.store.Put(ctx, local); err != nil {
		return false, errors.WrapOpComponent(err, errors.OpApply, "repository")
	}

	change := ChangeUpdated
	switch {
	case local.Deleted:
		change = ChangeDeleted
	case wasDeleted:
		// Resurrected by a newer remote upsert.
		change = ChangeUpdated
	}
	r.notify(ChangeNotification{RecordID: local.ID, Kind: local.Kind, Change: change})
	return true, nil
}

// markSynced records remote confirmation of a pushed envelope: it stamps
// RemoteVersion and LastSyncedAt, and garbage-collects a confirmed
// tombstone. upTo guards against clobbering a record mutated again after
// the push snapshot was taken.
func (r *Repository) markSynced(ctx context.Context, recordID, remoteVersion string, upTo time.Time) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	rec, err := r.store.Get(ctx, recordID)
	if err != nil {
		if errors.IsNotFound(err) {
			return nil // already gone; nothing to bookkeep
		}
		return errors.WrapOpComponent(err, errors.OpStore, "repository")
	}
	if rec.UpdatedAt.After(upTo) {
		return nil // a newer local mutation is pending; its own ack will follow
	}

	if rec.Deleted {
		// Remote confirmed the deletion; the tombstone has served its
		// purpose.
		if err := r.store.Delete(ctx, recordID); err != nil {
			return errors.WrapOpComponent(err, errors.OpDelete, "repository")
		}
		return nil
	}

	now := r.clock()
	if remoteVersion != "" {
		rec.RemoteVersion = remoteVersion
	}
	rec.LastSyncedAt = &now
	if err := r.store.Put(ctx, rec); err != nil {
		return errors.WrapOpComponent(err, errors.OpStore, "repository")
	}
	r.notify(ChangeNotification{RecordID: rec.ID, Kind: rec.Kind, Change: ChangeSynced})
	return nil
}

// forward hands the envelope for rec to the coordinator. Mutations without
// an attached coordinator stay local-only, which is valid for offline-only
// use; the miss is logged once per call at debug level.
func (r *Repository) forward(ctx context.Context, rec Record) error {
	if r.sink == nil {
		r.logger.DebugContext(ctx, "no coordinator attached, change stays local",
			slog.String("record_id", rec.ID))
		return nil
	}
	if err := r.sink.LocalChange(ctx, envelopeFor(rec, r.origin)); err != nil {
		return errors.WrapOpComponent(err, errors.OpEnqueue, "repository")
	}
	return nil
}

func (r *Repository) notify(n ChangeNotification) {
	r.subMu.RLock()
	subs := make([]func(ChangeNotification), len(r.subs))
	copy(subs, r.subs)
	r.subMu.RUnlock()

	for _, fn := range subs {
		go func(h func(ChangeNotification)) {
			defer func() {
				recover() // a panicking subscriber must not poison the write path
			}()
			h(n)
		}(fn)
	}
}

// nextTimestamp returns the mutation timestamp for rec, nudged forward if
// the local clock has not advanced past the record's UpdatedAt. Keeps
// UpdatedAt non-decreasing per device, which LWW comparison relies on.
func (r *Repository) nextTimestamp(rec Record) time.Time {
	now := r.clock()
	if !now.After(rec.UpdatedAt) {
		return rec.UpdatedAt.Add(time.Nanosecond)
	}
	return now
}

func validatePayload(op errors.Op, kind string, payload []byte) error {
	if kind == "" {
		return errors.NewValidation(op, fmt.Errorf("empty record kind"))
	}
	if len(payload) == 0 {
		return errors.NewValidation(op, fmt.Errorf("empty payload"))
	}
	if !json.Valid(payload) {
		return errors.NewValidation(op, fmt.Errorf("payload is not valid JSON"))
	}
	return nil
}

func recordFromEnvelope(env ChangeEnvelope, syncedAt time.Time) Record {
	rec := Record{
		ID:        env.RecordID,
		Kind:      env.Kind,
		Payload:   env.Payload,
		CreatedAt: env.UpdatedAt,
		UpdatedAt: env.UpdatedAt,
	}
	if env.Op == OpDelete {
		at := env.UpdatedAt
		rec.Deleted = true
		rec.DeletedAt = &at
	}
	at := syncedAt
	rec.LastSyncedAt = &at
	return rec
}
