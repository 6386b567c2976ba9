// Package httpadapter implements the remote adapter over HTTP: batched
// pushes and checkpointed pulls against a JSON API, with an optional
// WebSocket subscription for change notification.
package httpadapter

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/offlinekit/offlinekit"
	"github.com/offlinekit/offlinekit/checkpoint"
	"github.com/offlinekit/offlinekit/codec"
	"github.com/offlinekit/offlinekit/errors"
	"github.com/offlinekit/offlinekit/logging"
)

// Options configures the HTTP adapter.
type Options struct {
	// BaseURL is the root of the sync API, e.g. "https://sync.example.com".
	BaseURL string

	// Client is the HTTP client used for push and pull. Defaults to a
	// client with a 30s timeout.
	Client *http.Client

	// AuthToken, when set, is sent as a bearer token on every request.
	AuthToken string

	// Logger receives adapter diagnostics.
	Logger *logging.Logger
}

func (o *Options) setDefaults() {
	if o.Client == nil {
		o.Client = &http.Client{Timeout: 30 * time.Second}
	}
	if o.Logger == nil {
		o.Logger = logging.Default().WithComponent("adapter/http")
	}
}

// Adapter talks to a remote replica over HTTP.
type Adapter struct {
	baseURL string
	client  *http.Client
	token   string
	logger  *logging.Logger
}

var (
	_ offlinekit.Adapter    = (*Adapter)(nil)
	_ offlinekit.Subscriber = (*Adapter)(nil)
)

// New creates an HTTP adapter for the given options.
func New(opts Options) (*Adapter, error) {
	if opts.BaseURL == "" {
		return nil, stderrors.New("base URL is required")
	}
	if _, err := url.Parse(opts.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid base URL: %w", err)
	}
	opts.setDefaults()
	return &Adapter{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		client:  opts.Client,
		token:   opts.AuthToken,
		logger:  opts.Logger,
	}, nil
}

// Push submits a batch of envelopes. A batch-level error means the remote
// accepted nothing; otherwise one result per envelope is returned in order.
func (a *Adapter) Push(ctx context.Context, batch []offlinekit.ChangeEnvelope) ([]offlinekit.PushResult, error) {
	wires, err := codec.EncodeBatch(batch)
	if err != nil {
		return nil, err
	}

	var resp pushResponse
	if err := a.post(ctx, errors.OpPush, pushPath, pushRequest{Changes: wires}, &resp); err != nil {
		return nil, err
	}
	if len(resp.Results) != len(batch) {
		return nil, errors.NewTransient(errors.OpPush,
			fmt.Errorf("result count %d does not match batch size %d", len(resp.Results), len(batch)))
	}

	results := make([]offlinekit.PushResult, len(resp.Results))
	for i, r := range resp.Results {
		result := offlinekit.PushResult{RecordID: r.RecordID, RemoteVersion: r.RemoteVersion}
		if r.Error != "" {
			cause := stderrors.New(r.Error)
			if r.Status == statusValidation {
				result.Err = errors.NewValidation(errors.OpPush, cause)
			} else {
				result.Err = errors.NewTransient(errors.OpPush, cause)
			}
		}
		results[i] = result
	}
	return results, nil
}

// Pull fetches remote changes after the given checkpoint.
func (a *Adapter) Pull(ctx context.Context, since checkpoint.Checkpoint, limit int) ([]offlinekit.ChangeEnvelope, checkpoint.Checkpoint, error) {
	req := pullRequest{Limit: limit}
	if !checkpoint.IsZero(since) {
		wire, err := checkpoint.MarshalWire(since)
		if err != nil {
			return nil, nil, errors.NewValidation(errors.OpPull, err)
		}
		req.Since = wire
	}

	var resp pullResponse
	if err := a.post(ctx, errors.OpPull, pullPath, req, &resp); err != nil {
		return nil, nil, err
	}

	envs, err := codec.DecodeBatch(resp.Changes)
	if err != nil {
		return nil, nil, err
	}
	next := since
	if resp.Next != nil {
		next, err = checkpoint.UnmarshalWire(resp.Next)
		if err != nil {
			return nil, nil, errors.NewValidation(errors.OpPull, err)
		}
	}
	return envs, next, nil
}

func (a *Adapter) Close() error { return nil }

// post sends a JSON request and decodes the JSON response, classifying
// every failure mode into the retry taxonomy.
func (a *Adapter) post(ctx context.Context, op errors.Op, path string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return errors.NewValidation(op, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.baseURL+path, bytes.NewReader(payload))
	if err != nil {
		return errors.NewValidation(op, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return classifyTransportError(op, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return classifyStatus(op, resp)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return errors.NewTransient(op, fmt.Errorf("decoding response: %w", err))
	}
	return nil
}

func classifyTransportError(op errors.Op, err error) error {
	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return errors.NewTransient(op, err)
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, context.Canceled) {
		return errors.NewTransient(op, err)
	}
	// Connection refused, DNS failures and the rest of the network error
	// family are transient by nature.
	return errors.NewTransient(op, err)
}

func classifyStatus(op errors.Op, resp *http.Response) error {
	snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
	cause := fmt.Errorf("remote returned %s: %s", resp.Status, strings.TrimSpace(string(snippet)))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return errors.NewFatal(op, cause)
	case resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusUnprocessableEntity:
		return errors.NewValidation(op, cause)
	case resp.StatusCode == http.StatusTooManyRequests || resp.StatusCode >= 500:
		return errors.NewTransient(op, cause)
	default:
		return errors.NewTransient(op, cause)
	}
}
