// Package collection provides a typed facade over the repository's opaque
// payloads. A Collection marshals domain values to JSON on the way in and
// back on the way out, so feature code never touches raw payload bytes.
package collection

import (
	"context"
	"encoding/json"
	"time"

	"github.com/offlinekit/offlinekit"
	"github.com/offlinekit/offlinekit/codec"
	"github.com/offlinekit/offlinekit/errors"
)

// Item pairs a decoded value with the record identity and sync metadata a
// caller may want to display.
type Item[T any] struct {
	ID        string
	Value     T
	UpdatedAt time.Time
	Synced    bool
}

// Collection is a typed view over one record kind.
type Collection[T any] struct {
	repo     *offlinekit.Repository
	kind     string
	registry *codec.Registry
}

// New creates a typed collection for the given kind. Payloads are encoded
// with the codec registered for the kind in codec.DefaultRegistry, falling
// back to plain JSON marshaling.
func New[T any](repo *offlinekit.Repository, kind string) *Collection[T] {
	return &Collection[T]{repo: repo, kind: kind, registry: codec.DefaultRegistry}
}

// WithRegistry overrides the payload codec registry.
func (c *Collection[T]) WithRegistry(r *codec.Registry) *Collection[T] {
	c.registry = r
	return c
}

// Insert stores a new value and returns its item.
func (c *Collection[T]) Insert(ctx context.Context, v T) (Item[T], error) {
	payload, err := c.encode(v)
	if err != nil {
		return Item[T]{}, errors.NewValidation(errors.OpInsert, err)
	}
	rec, err := c.repo.Insert(ctx, c.kind, payload)
	if err != nil {
		return Item[T]{}, err
	}
	return Item[T]{ID: rec.ID, Value: v, UpdatedAt: rec.UpdatedAt}, nil
}

// Get returns the decoded value for id.
func (c *Collection[T]) Get(ctx context.Context, id string) (Item[T], error) {
	rec, err := c.repo.Get(ctx, id)
	if err != nil {
		return Item[T]{}, err
	}
	return c.item(rec)
}

// Update applies mutate to the current value and stores the result. The
// read-modify-write is a single logical mutation; the repository stamps it
// with one timestamp.
func (c *Collection[T]) Update(ctx context.Context, id string, mutate func(*T) error) (Item[T], error) {
	rec, err := c.repo.Get(ctx, id)
	if err != nil {
		return Item[T]{}, err
	}
	v, err := c.decode(rec.Payload)
	if err != nil {
		return Item[T]{}, errors.NewValidation(errors.OpUpdate, err)
	}
	if err := mutate(&v); err != nil {
		return Item[T]{}, err
	}
	payload, err := c.encode(v)
	if err != nil {
		return Item[T]{}, errors.NewValidation(errors.OpUpdate, err)
	}
	updated, err := c.repo.Update(ctx, id, payload)
	if err != nil {
		return Item[T]{}, err
	}
	return Item[T]{ID: updated.ID, Value: v, UpdatedAt: updated.UpdatedAt, Synced: updated.LastSyncedAt != nil}, nil
}

// Delete tombstones the value. Idempotent.
func (c *Collection[T]) Delete(ctx context.Context, id string) error {
	return c.repo.SoftDelete(ctx, id)
}

// List returns every live item of the collection's kind.
func (c *Collection[T]) List(ctx context.Context) ([]Item[T], error) {
	recs, err := c.repo.List(ctx, c.kind)
	if err != nil {
		return nil, err
	}
	items := make([]Item[T], 0, len(recs))
	for _, rec := range recs {
		item, err := c.item(rec)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	return items, nil
}

func (c *Collection[T]) item(rec offlinekit.Record) (Item[T], error) {
	v, err := c.decode(rec.Payload)
	if err != nil {
		return Item[T]{}, errors.NewValidation(errors.OpGet, err)
	}
	return Item[T]{ID: rec.ID, Value: v, UpdatedAt: rec.UpdatedAt, Synced: rec.LastSyncedAt != nil}, nil
}

func (c *Collection[T]) encode(v T) ([]byte, error) {
	if pc, ok := c.registry.Get(c.kind); ok {
		raw, err := pc.Encode(v)
		return []byte(raw), err
	}
	return json.Marshal(v)
}

func (c *Collection[T]) decode(payload []byte) (T, error) {
	var v T
	if pc, ok := c.registry.Get(c.kind); ok {
		decoded, err := pc.Decode(json.RawMessage(payload))
		if err != nil {
			return v, err
		}
		if typed, ok := decoded.(T); ok {
			return typed, nil
		}
		// Codec returned a foreign type; fall through to JSON.
	}
	err := json.Unmarshal(payload, &v)
	return v, err
}
