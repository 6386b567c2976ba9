package httpadapter

import (
	"github.com/offlinekit/offlinekit/checkpoint"
	"github.com/offlinekit/offlinekit/codec"
)

// Endpoint paths served by the remote replica.
const (
	pushPath  = "/sync/push"
	pullPath  = "/sync/pull"
	watchPath = "/sync/watch"
)

// pushRequest is the body of POST /sync/push.
type pushRequest struct {
	Changes []codec.WireEnvelope `json:"changes"`
}

// pushResponse reports one result per submitted change, in order.
type pushResponse struct {
	Results []wirePushResult `json:"results"`
}

type wirePushResult struct {
	RecordID      string `json:"record_id"`
	RemoteVersion string `json:"remote_version,omitempty"`

	// Error is empty on success. Status mirrors the HTTP-style class of
	// the per-record failure: "validation" entries are permanent, anything
	// else is retried.
	Error  string `json:"error,omitempty"`
	Status string `json:"status,omitempty"`
}

const (
	statusValidation = "validation"
	statusTransient  = "transient"
)

// pullRequest is the body of POST /sync/pull.
type pullRequest struct {
	Since *checkpoint.Wire `json:"since,omitempty"`
	Limit int              `json:"limit,omitempty"`
}

// pullResponse carries remote changes after the requested checkpoint plus
// the checkpoint to resume from.
type pullResponse struct {
	Changes []codec.WireEnvelope `json:"changes"`
	Next    *checkpoint.Wire     `json:"next"`
}
