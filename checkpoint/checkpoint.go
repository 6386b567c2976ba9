// Package checkpoint defines the opaque markers that record how far remote
// changes have been pulled. A checkpoint is produced by the remote replica
// and persisted locally; the sync core never inspects it beyond comparison.
package checkpoint

import (
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

const (
	KindTime     = "time"
	KindSequence = "sequence"
)

// Checkpoint marks the point up to which remote changes have been applied.
type Checkpoint interface {
	// Kind identifies the checkpoint family for wire encoding.
	Kind() string

	// Compare returns -1 if this checkpoint is before other, 0 if equal or
	// incomparable, 1 if after.
	Compare(other Checkpoint) int

	// String returns a human-readable representation.
	String() string

	// IsZero reports whether this is the initial "pull everything" marker.
	IsZero() bool
}

// Codec marshals checkpoints of one kind to a stable wire form.
type Codec interface {
	Kind() string
	Marshal(c Checkpoint) (json.RawMessage, error)
	Unmarshal(data json.RawMessage) (Checkpoint, error)
}

var (
	registry   = map[string]Codec{}
	registryMu sync.RWMutex
)

// Register makes a codec available for wire encoding under its kind.
func Register(c Codec) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[c.Kind()] = c
}

// Lookup returns the codec registered for kind.
func Lookup(kind string) (Codec, bool) {
	registryMu.RLock()
	defer registryMu.RUnlock()
	c, ok := registry[kind]
	return c, ok
}

func init() {
	Register(timeCodec{})
	Register(sequenceCodec{})
}

// Bound on a wire checkpoint payload; anything larger is rejected as
// malformed rather than decoded.
const maxWireSize = 64 * 1024

// Wire is the typed union used for transport and persistence.
type Wire struct {
	Kind string          `json:"kind"`
	Data json.RawMessage `json:"data"`
}

// MarshalWire encodes a checkpoint into its wire form.
func MarshalWire(c Checkpoint) (*Wire, error) {
	codec, ok := Lookup(c.Kind())
	if !ok {
		return nil, fmt.Errorf("unknown checkpoint kind: %s", c.Kind())
	}
	data, err := codec.Marshal(c)
	if err != nil {
		return nil, err
	}
	return &Wire{Kind: codec.Kind(), Data: data}, nil
}

// UnmarshalWire decodes a wire checkpoint back into a Checkpoint.
func UnmarshalWire(w *Wire) (Checkpoint, error) {
	if w == nil {
		return nil, errors.New("nil wire checkpoint")
	}
	if len(w.Data) > maxWireSize {
		return nil, fmt.Errorf("checkpoint payload too large: %d bytes", len(w.Data))
	}
	codec, ok := Lookup(w.Kind)
	if !ok {
		return nil, fmt.Errorf("unknown checkpoint kind: %s", w.Kind)
	}
	return codec.Unmarshal(w.Data)
}

// TimeCheckpoint is a wall-clock high-water mark: the lastSyncedAt of the
// remote source.
type TimeCheckpoint struct {
	At time.Time
}

// NewTime creates a TimeCheckpoint for the given instant.
func NewTime(at time.Time) TimeCheckpoint { return TimeCheckpoint{At: at} }

func (TimeCheckpoint) Kind() string { return KindTime }

func (tc TimeCheckpoint) Compare(other Checkpoint) int {
	if other == nil {
		return 1
	}
	oc, ok := other.(TimeCheckpoint)
	if !ok {
		return 0 // incomparable across kinds
	}
	switch {
	case tc.At.Before(oc.At):
		return -1
	case tc.At.After(oc.At):
		return 1
	default:
		return 0
	}
}

func (tc TimeCheckpoint) String() string { return tc.At.UTC().Format(time.RFC3339Nano) }

func (tc TimeCheckpoint) IsZero() bool { return tc.At.IsZero() }

type timeCodec struct{}

func (timeCodec) Kind() string { return KindTime }

func (timeCodec) Marshal(c Checkpoint) (json.RawMessage, error) {
	tc, ok := c.(TimeCheckpoint)
	if !ok {
		return nil, fmt.Errorf("expected TimeCheckpoint, got %T", c)
	}
	return json.Marshal(tc.At.UTC().UnixNano())
}

func (timeCodec) Unmarshal(data json.RawMessage) (Checkpoint, error) {
	var ns int64
	if err := json.Unmarshal(data, &ns); err != nil {
		return nil, err
	}
	if ns == 0 {
		return TimeCheckpoint{}, nil
	}
	return TimeCheckpoint{At: time.Unix(0, ns).UTC()}, nil
}

// SequenceCheckpoint is a server-assigned monotonic sequence number, for
// remotes that order their change feed by an integer offset.
type SequenceCheckpoint struct {
	Seq uint64
}

// NewSequence creates a SequenceCheckpoint with the given sequence number.
func NewSequence(seq uint64) SequenceCheckpoint { return SequenceCheckpoint{Seq: seq} }

func (SequenceCheckpoint) Kind() string { return KindSequence }

func (sc SequenceCheckpoint) Compare(other Checkpoint) int {
	if other == nil {
		return 1
	}
	oc, ok := other.(SequenceCheckpoint)
	if !ok {
		return 0
	}
	switch {
	case sc.Seq < oc.Seq:
		return -1
	case sc.Seq > oc.Seq:
		return 1
	default:
		return 0
	}
}

func (sc SequenceCheckpoint) String() string { return fmt.Sprintf("%d", sc.Seq) }

func (sc SequenceCheckpoint) IsZero() bool { return sc.Seq == 0 }

type sequenceCodec struct{}

func (sequenceCodec) Kind() string { return KindSequence }

func (sequenceCodec) Marshal(c Checkpoint) (json.RawMessage, error) {
	sc, ok := c.(SequenceCheckpoint)
	if !ok {
		return nil, fmt.Errorf("expected SequenceCheckpoint, got %T", c)
	}
	return json.Marshal(sc.Seq)
}

func (sequenceCodec) Unmarshal(data json.RawMessage) (Checkpoint, error) {
	var seq uint64
	if err := json.Unmarshal(data, &seq); err != nil {
		return nil, err
	}
	return SequenceCheckpoint{Seq: seq}, nil
}

// IsZero reports whether cp is nil or a zero checkpoint of its kind.
func IsZero(cp Checkpoint) bool {
	return cp == nil || cp.IsZero()
}
