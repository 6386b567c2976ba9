// Package codec serializes change envelopes to and from their JSON wire
// form, the representation exchanged with the remote replica and persisted
// in the outbox.
package codec

import (
	"encoding/json"
	"time"

	"github.com/offlinekit/offlinekit"
)

// WireEnvelope is the stable wire representation of a ChangeEnvelope.
// Timestamps travel as UTC nanoseconds so that last-writer-wins comparisons
// survive the round-trip without precision loss.
type WireEnvelope struct {
	RecordID  string          `json:"record_id"`
	Kind      string          `json:"kind"`
	Op        string          `json:"op"`
	Payload   json.RawMessage `json:"payload,omitempty"`
	UpdatedAt int64           `json:"updated_at"`
	OriginID  string          `json:"origin_id,omitempty"`
}

// Encode converts an envelope to its wire form. The envelope is validated
// first; malformed envelopes never reach the wire.
func Encode(env offlinekit.ChangeEnvelope) (WireEnvelope, error) {
	if err := env.Validate(); err != nil {
		return WireEnvelope{}, err
	}
	return WireEnvelope{
		RecordID:  env.RecordID,
		Kind:      env.Kind,
		Op:        string(env.Op),
		Payload:   json.RawMessage(env.Payload),
		UpdatedAt: env.UpdatedAt.UTC().UnixNano(),
		OriginID:  env.OriginID,
	}, nil
}

// Decode converts a wire envelope back into a ChangeEnvelope, validating
// the result.
func Decode(w WireEnvelope) (offlinekit.ChangeEnvelope, error) {
	env := offlinekit.ChangeEnvelope{
		RecordID:  w.RecordID,
		Kind:      w.Kind,
		Op:        offlinekit.Operation(w.Op),
		Payload:   []byte(w.Payload),
		UpdatedAt: time.Unix(0, w.UpdatedAt).UTC(),
		OriginID:  w.OriginID,
	}
	if w.UpdatedAt == 0 {
		env.UpdatedAt = time.Time{}
	}
	if err := env.Validate(); err != nil {
		return offlinekit.ChangeEnvelope{}, err
	}
	return env, nil
}

// EncodeBatch converts a batch of envelopes, failing on the first malformed
// entry.
func EncodeBatch(envs []offlinekit.ChangeEnvelope) ([]WireEnvelope, error) {
	out := make([]WireEnvelope, 0, len(envs))
	for _, env := range envs {
		w, err := Encode(env)
		if err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, nil
}

// DecodeBatch converts a batch of wire envelopes, failing on the first
// malformed entry.
func DecodeBatch(ws []WireEnvelope) ([]offlinekit.ChangeEnvelope, error) {
	out := make([]offlinekit.ChangeEnvelope, 0, len(ws))
	for _, w := range ws {
		env, err := Decode(w)
		if err != nil {
			return nil, err
		}
		out = append(out, env)
	}
	return out, nil
}

// Marshal encodes an envelope straight to JSON bytes.
func Marshal(env offlinekit.ChangeEnvelope) ([]byte, error) {
	w, err := Encode(env)
	if err != nil {
		return nil, err
	}
	return json.Marshal(w)
}

// Unmarshal decodes JSON bytes into an envelope.
func Unmarshal(data []byte) (offlinekit.ChangeEnvelope, error) {
	var w WireEnvelope
	if err := json.Unmarshal(data, &w); err != nil {
		return offlinekit.ChangeEnvelope{}, err
	}
	return Decode(w)
}
