package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"

	"github.com/offlinekit/offlinekit/checkpoint"
	"github.com/offlinekit/offlinekit/errors"
)

// The single remote source tracked today. Kept as a column so a later
// multi-remote setup is a schema no-op.
const defaultSource = "remote"

// LoadCheckpoint returns the stored pull checkpoint, or nil when none has
// been saved yet.
func (s *Store) LoadCheckpoint(ctx context.Context) (checkpoint.Checkpoint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, errors.NewStorage(errors.OpCheckpoint, ErrStoreClosed)
	}

	var (
		kind string
		data []byte
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT kind, data FROM checkpoints WHERE source = ?`, defaultSource).Scan(&kind, &data)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.NewStorage(errors.OpCheckpoint, err)
	}

	cp, err := checkpoint.UnmarshalWire(&checkpoint.Wire{Kind: kind, Data: json.RawMessage(data)})
	if err != nil {
		return nil, errors.NewStorage(errors.OpCheckpoint, err)
	}
	return cp, nil
}

// SaveCheckpoint durably replaces the stored pull checkpoint.
func (s *Store) SaveCheckpoint(ctx context.Context, cp checkpoint.Checkpoint) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return errors.NewStorage(errors.OpCheckpoint, ErrStoreClosed)
	}

	wire, err := checkpoint.MarshalWire(cp)
	if err != nil {
		return errors.NewStorage(errors.OpCheckpoint, err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO checkpoints (source, kind, data) VALUES (?, ?, ?)
		ON CONFLICT(source) DO UPDATE SET kind = excluded.kind, data = excluded.data`,
		defaultSource, wire.Kind, []byte(wire.Data))
	if err != nil {
		return errors.NewStorage(errors.OpCheckpoint, err)
	}
	return nil
}
