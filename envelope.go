package offlinekit

import (
	"encoding/json"
	"fmt"

	"github.com/offlinekit/offlinekit/errors"
)

// Validate checks that the envelope is well-formed enough to be stored,
// pushed or merged. A malformed envelope is the one thing the sync core is
// allowed to drop, since retrying it can never succeed.
func (e ChangeEnvelope) Validate() error {
	if e.RecordID == "" {
		return errors.NewValidation(errors.OpApply, fmt.Errorf("envelope has empty record id"))
	}
	if e.Kind == "" {
		return errors.NewValidation(errors.OpApply, fmt.Errorf("envelope %s has empty kind", e.RecordID))
	}
	switch e.Op {
	case OpUpsert, OpDelete:
	default:
		return errors.NewValidation(errors.OpApply, fmt.Errorf("envelope %s has unknown op %q", e.RecordID, e.Op))
	}
	if e.UpdatedAt.IsZero() {
		return errors.NewValidation(errors.OpApply, fmt.Errorf("envelope %s has zero timestamp", e.RecordID))
	}
	if len(e.Payload) > 0 && !json.Valid(e.Payload) {
		return errors.NewValidation(errors.OpApply, fmt.Errorf("envelope %s payload is not valid JSON", e.RecordID))
	}
	return nil
}

// envelopeFor builds the change envelope describing the record's current
// state. Deleted records travel as delete envelopes with a payload
// snapshot, so a deletion merges under the same rule as an update.
func envelopeFor(rec Record, origin string) ChangeEnvelope {
	op := OpUpsert
	if rec.Deleted {
		op = OpDelete
	}
	return ChangeEnvelope{
		RecordID:  rec.ID,
		Kind:      rec.Kind,
		Op:        op,
		Payload:   rec.Payload,
		UpdatedAt: rec.UpdatedAt,
		OriginID:  origin,
	}
}
