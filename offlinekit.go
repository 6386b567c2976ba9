// Package offlinekit implements an offline-first data synchronization core:
// a local-write-always record store that reconciles asynchronously with a
// remote replica using soft-deletion tombstones, a durable outbox queue and
// last-writer-wins conflict resolution.
//
// Local mutations never wait on network I/O. Every mutation is applied to
// local storage synchronously, wrapped into a ChangeEnvelope and queued in
// the outbox until the remote replica acknowledges it. Incoming remote
// changes are merged field-for-field under a last-writer-wins rule keyed on
// the record's UpdatedAt timestamp.
package offlinekit

import (
	"context"
	"time"

	"github.com/offlinekit/offlinekit/checkpoint"
)

// Operation identifies the kind of mutation carried by a ChangeEnvelope.
type Operation string

const (
	// OpUpsert carries a create or update of a record.
	OpUpsert Operation = "upsert"

	// OpDelete carries a soft deletion (tombstone) of a record.
	OpDelete Operation = "delete"
)

// Record is the unit of local storage. Identity is immutable; the payload is
// opaque to the sync core and owned by the caller.
type Record struct {
	// ID is globally unique and generated client-side at creation.
	// It is stable across sync round-trips.
	ID string

	// Kind names the entity type this record belongs to (e.g. "trip").
	Kind string

	// Payload holds the entity-specific fields as raw JSON.
	Payload []byte

	// CreatedAt and UpdatedAt are local clock timestamps. UpdatedAt is the
	// authority for conflict resolution and never decreases on a device.
	CreatedAt time.Time
	UpdatedAt time.Time

	// Deleted marks the record as a tombstone. Tombstones are excluded from
	// normal reads but retained until the remote replica confirms the
	// deletion.
	Deleted   bool
	DeletedAt *time.Time

	// RemoteVersion is the identifier assigned by the remote replica after
	// the first successful push. Empty until then.
	RemoteVersion string

	// LastSyncedAt records when this record was last confirmed by the
	// remote replica. Nil until the first successful push.
	LastSyncedAt *time.Time
}

// ChangeEnvelope is the serialized unit representing one mutation, exchanged
// between the local and remote replicas.
type ChangeEnvelope struct {
	RecordID  string
	Kind      string
	Op        Operation
	Payload   []byte
	UpdatedAt time.Time
	OriginID  string
}

// OutboxEntry wraps a ChangeEnvelope with retry bookkeeping while it awaits
// remote acknowledgement.
type OutboxEntry struct {
	Envelope    ChangeEnvelope
	Attempts    int
	EnqueuedAt  time.Time
	NextRetryAt time.Time
	LastError   string
}

// Outbox is a durable, ordered queue of pending change envelopes. Entries
// for the same record are coalesced: a newer mutation replaces the pending
// entry's envelope rather than appending a second one, so only the latest
// state of a record is ever pushed.
//
// The coordinator is the sole owner of the outbox; acknowledge, reschedule
// and discard are never called from application code.
type Outbox interface {
	// Enqueue appends an envelope, or replaces the pending envelope for the
	// same record while preserving its original enqueue position.
	Enqueue(ctx context.Context, env ChangeEnvelope) error

	// PeekBatch returns up to limit of the oldest entries whose NextRetryAt
	// is not after now, in enqueue order. Entries stay queued until
	// acknowledged.
	PeekBatch(ctx context.Context, limit int, now time.Time) ([]OutboxEntry, error)

	// Acknowledge removes the entry for recordID, provided its envelope
	// UpdatedAt does not exceed upTo. An entry replaced by a newer local
	// mutation while the push was in flight is left untouched.
	Acknowledge(ctx context.Context, recordID string, upTo time.Time) error

	// Reschedule records a failed attempt for recordID: increments Attempts,
	// sets NextRetryAt and stores the error text. Entries replaced by a
	// newer mutation (envelope UpdatedAt after upTo) are left untouched.
	Reschedule(ctx context.Context, recordID string, upTo, nextRetryAt time.Time, lastErr string) error

	// Discard drops the entry for recordID outright. Reserved for malformed
	// envelopes that can never succeed; the reason is recorded by the
	// caller's logs.
	Discard(ctx context.Context, recordID string, reason string) error

	// PendingCount reports the number of queued entries.
	PendingCount(ctx context.Context) (int, error)

	Close() error
}

// PushResult reports the remote replica's verdict for a single envelope.
type PushResult struct {
	RecordID string

	// RemoteVersion is the identifier assigned by the remote replica on
	// success.
	RemoteVersion string

	// Err is nil on success. Transient errors cause a reschedule with
	// backoff; validation errors cause the entry to be discarded.
	Err error
}

// Adapter is the boundary to the remote replica. Implementations must honor
// context cancellation and deadlines on every call; the coordinator applies
// a timeout to each one.
type Adapter interface {
	// Push submits a batch of envelopes and returns one result per envelope,
	// in order. A batch-level error means nothing in the batch was accepted.
	Push(ctx context.Context, batch []ChangeEnvelope) ([]PushResult, error)

	// Pull returns remote changes recorded after the given checkpoint along
	// with the next checkpoint. A zero checkpoint requests everything.
	Pull(ctx context.Context, since checkpoint.Checkpoint, limit int) ([]ChangeEnvelope, checkpoint.Checkpoint, error)

	Close() error
}

// Subscriber is an optional adapter extension for push-based remote change
// notification. Polling pull suffices when unimplemented.
type Subscriber interface {
	// SubscribeRemote blocks, invoking handler for each incoming envelope,
	// until ctx is cancelled or the connection fails.
	SubscribeRemote(ctx context.Context, handler func(ChangeEnvelope) error) error
}

// RecordStore provides persistence for records, keyed by id. Implementations
// must be safe for concurrent use. Tombstones are stored like any other
// record; filtering is the repository's concern.
type RecordStore interface {
	// Get returns the record with the given id, tombstone or not.
	// A missing id yields an error satisfying errors.IsNotFound.
	Get(ctx context.Context, id string) (Record, error)

	// Put creates or replaces the record.
	Put(ctx context.Context, rec Record) error

	// Delete removes the record outright (hard delete).
	Delete(ctx context.Context, id string) error

	// List returns all records of the given kind, or of every kind when
	// kind is empty. Tombstones are included only when includeDeleted is
	// set.
	List(ctx context.Context, kind string, includeDeleted bool) ([]Record, error)

	Close() error
}

// CheckpointStore persists the pull checkpoint for the remote source.
type CheckpointStore interface {
	// LoadCheckpoint returns the stored checkpoint, or a zero checkpoint
	// when none has been saved yet.
	LoadCheckpoint(ctx context.Context) (checkpoint.Checkpoint, error)

	// SaveCheckpoint durably replaces the stored checkpoint.
	SaveCheckpoint(ctx context.Context, cp checkpoint.Checkpoint) error
}

// ChangeType classifies a change notification.
type ChangeType string

const (
	ChangeCreated ChangeType = "created"
	ChangeUpdated ChangeType = "updated"
	ChangeDeleted ChangeType = "deleted"

	// ChangeSynced fires when the remote replica confirms a pushed change.
	ChangeSynced ChangeType = "synced"
)

// ChangeNotification is delivered to repository subscribers on every
// mutation, local or merged from remote. Delivery is at-least-once with no
// ordering guarantee across kinds; subscribers must tolerate duplicates.
type ChangeNotification struct {
	RecordID string
	Kind     string
	Change   ChangeType
}

// NoopAdapter is an Adapter that accepts every push and never has anything
// to pull. It backs tests and offline-only operation.
type NoopAdapter struct{}

var _ Adapter = (*NoopAdapter)(nil)

func (NoopAdapter) Push(ctx context.Context, batch []ChangeEnvelope) ([]PushResult, error) {
	results := make([]PushResult, len(batch))
	for i, env := range batch {
		results[i] = PushResult{RecordID: env.RecordID}
	}
	return results, nil
}

func (NoopAdapter) Pull(ctx context.Context, since checkpoint.Checkpoint, limit int) ([]ChangeEnvelope, checkpoint.Checkpoint, error) {
	return nil, since, nil
}

func (NoopAdapter) Close() error { return nil }
