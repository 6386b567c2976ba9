package sqlite

import (
	"context"
	"time"

	"github.com/offlinekit/offlinekit"
	"github.com/offlinekit/offlinekit/errors"
)

// Enqueue appends an envelope to the outbox, or replaces the pending
// envelope for the same record. A replaced entry keeps its queue position
// and has its retry bookkeeping reset, so the latest state is pushed as
// soon as the record's turn comes up again.
func (s *Store) Enqueue(ctx context.Context, env offlinekit.ChangeEnvelope) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.NewStorage(errors.OpEnqueue, ErrStoreClosed)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.NewStorage(errors.OpEnqueue, err)
	}
	defer tx.Rollback()

	var seq int64
	if err := tx.QueryRowContext(ctx,
		`UPDATE outbox_seq SET seq = seq + 1 WHERE id = 1 RETURNING seq`).Scan(&seq); err != nil {
		return errors.NewStorage(errors.OpEnqueue, err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO outbox (record_id, seq, kind, op, payload, updated_at, origin_id, attempts, enqueued_at, next_retry_at, last_error)
		VALUES (?, ?, ?, ?, ?, ?, ?, 0, ?, 0, '')
		ON CONFLICT(record_id) DO UPDATE SET
			kind = excluded.kind,
			op = excluded.op,
			payload = excluded.payload,
			updated_at = excluded.updated_at,
			origin_id = excluded.origin_id,
			attempts = 0,
			next_retry_at = 0,
			last_error = ''`,
		env.RecordID, seq, env.Kind, string(env.Op), env.Payload,
		env.UpdatedAt.UnixNano(), env.OriginID, time.Now().UnixNano())
	if err != nil {
		return errors.NewStorage(errors.OpEnqueue, err)
	}

	if err := tx.Commit(); err != nil {
		return errors.NewStorage(errors.OpEnqueue, err)
	}
	return nil
}

// PeekBatch returns up to limit due entries in enqueue order.
func (s *Store) PeekBatch(ctx context.Context, limit int, now time.Time) ([]offlinekit.OutboxEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.NewStorage(errors.OpPeek, ErrStoreClosed)
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx, `
		SELECT record_id, kind, op, payload, updated_at, origin_id, attempts, enqueued_at, next_retry_at, last_error
		FROM outbox
		WHERE next_retry_at <= ?
		ORDER BY seq
		LIMIT ?`, now.UnixNano(), limit)
	if err != nil {
		return nil, errors.NewStorage(errors.OpPeek, err)
	}
	defer rows.Close()

	var batch []offlinekit.OutboxEntry
	for rows.Next() {
		var (
			entry                              offlinekit.OutboxEntry
			op                                 string
			updatedNS, enqueuedNS, nextRetryNS int64
		)
		err := rows.Scan(&entry.Envelope.RecordID, &entry.Envelope.Kind, &op,
			&entry.Envelope.Payload, &updatedNS, &entry.Envelope.OriginID,
			&entry.Attempts, &enqueuedNS, &nextRetryNS, &entry.LastError)
		if err != nil {
			return nil, errors.NewStorage(errors.OpPeek, err)
		}
		entry.Envelope.Op = offlinekit.Operation(op)
		entry.Envelope.UpdatedAt = time.Unix(0, updatedNS).UTC()
		entry.EnqueuedAt = time.Unix(0, enqueuedNS).UTC()
		if nextRetryNS > 0 {
			entry.NextRetryAt = time.Unix(0, nextRetryNS).UTC()
		}
		batch = append(batch, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.NewStorage(errors.OpPeek, err)
	}
	return batch, nil
}

// Acknowledge removes the entry for recordID unless a newer mutation
// replaced its envelope while the push was in flight.
func (s *Store) Acknowledge(ctx context.Context, recordID string, upTo time.Time) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.NewStorage(errors.OpAck, ErrStoreClosed)
	}
	_, err := s.db.ExecContext(ctx,
		`DELETE FROM outbox WHERE record_id = ? AND updated_at <= ?`,
		recordID, upTo.UnixNano())
	if err != nil {
		return errors.NewStorage(errors.OpAck, err)
	}
	return nil
}

// Reschedule records a failed attempt unless the entry was replaced by a
// newer mutation.
func (s *Store) Reschedule(ctx context.Context, recordID string, upTo, nextRetryAt time.Time, lastErr string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.NewStorage(errors.OpReschedule, ErrStoreClosed)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE outbox
		SET attempts = attempts + 1, next_retry_at = ?, last_error = ?
		WHERE record_id = ? AND updated_at <= ?`,
		nextRetryAt.UnixNano(), lastErr, recordID, upTo.UnixNano())
	if err != nil {
		return errors.NewStorage(errors.OpReschedule, err)
	}
	return nil
}

// Discard drops the entry for recordID outright.
func (s *Store) Discard(ctx context.Context, recordID string, reason string) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.NewStorage(errors.OpDiscard, ErrStoreClosed)
	}
	s.logger.Warn("discarding outbox entry", "record_id", recordID, "reason", reason)
	if _, err := s.db.ExecContext(ctx, `DELETE FROM outbox WHERE record_id = ?`, recordID); err != nil {
		return errors.NewStorage(errors.OpDiscard, err)
	}
	return nil
}

// PendingCount reports the number of queued entries.
func (s *Store) PendingCount(ctx context.Context) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return 0, errors.NewStorage(errors.OpPeek, ErrStoreClosed)
	}
	var n int
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM outbox`).Scan(&n); err != nil {
		return 0, errors.NewStorage(errors.OpPeek, err)
	}
	return n, nil
}
