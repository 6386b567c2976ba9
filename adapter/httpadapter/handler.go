package httpadapter

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/offlinekit/offlinekit/checkpoint"
	"github.com/offlinekit/offlinekit/codec"
)

// Handler is a reference in-memory remote replica: an http.Handler serving
// the push, pull and watch endpoints this adapter speaks. It applies
// last-writer-wins per record, assigns sequence checkpoints to its change
// feed and broadcasts accepted changes to watch subscribers.
//
// It backs tests and demo setups; a production remote would persist.
type Handler struct {
	mu      sync.RWMutex
	records map[string]remoteRecord
	feed    []feedEntry
	seq     uint64
	version uint64

	watchMu  sync.Mutex
	watchers map[*websocket.Conn]struct{}

	upgrader websocket.Upgrader
}

type remoteRecord struct {
	env     codec.WireEnvelope
	version string
}

type feedEntry struct {
	seq uint64
	env codec.WireEnvelope
}

// NewHandler creates an empty in-memory remote replica.
func NewHandler() *Handler {
	return &Handler{
		records:  make(map[string]remoteRecord),
		watchers: make(map[*websocket.Conn]struct{}),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
	}
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	switch r.URL.Path {
	case pushPath:
		h.handlePush(w, r)
	case pullPath:
		h.handlePull(w, r)
	case watchPath:
		h.handleWatch(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *Handler) handlePush(w http.ResponseWriter, r *http.Request) {
	var req pushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	resp := pushResponse{Results: make([]wirePushResult, len(req.Changes))}
	var accepted []codec.WireEnvelope

	h.mu.Lock()
	for i, wire := range req.Changes {
		result := wirePushResult{RecordID: wire.RecordID}
		if _, err := codec.Decode(wire); err != nil {
			result.Error = err.Error()
			result.Status = statusValidation
			resp.Results[i] = result
			continue
		}

		cur, exists := h.records[wire.RecordID]
		if exists && cur.env.UpdatedAt >= wire.UpdatedAt {
			// The remote already holds newer state; the push still counts
			// as accepted so the device stops retrying stale data.
			result.RemoteVersion = cur.version
			resp.Results[i] = result
			continue
		}

		h.version++
		version := versionString(h.version)
		h.records[wire.RecordID] = remoteRecord{env: wire, version: version}
		h.seq++
		h.feed = append(h.feed, feedEntry{seq: h.seq, env: wire})
		accepted = append(accepted, wire)

		result.RemoteVersion = version
		resp.Results[i] = result
	}
	h.mu.Unlock()

	for _, wire := range accepted {
		h.broadcast(wire)
	}
	writeJSON(w, resp)
}

func (h *Handler) handlePull(w http.ResponseWriter, r *http.Request) {
	var req pullRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	var since uint64
	if req.Since != nil {
		cp, err := checkpoint.UnmarshalWire(req.Since)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if sc, ok := cp.(checkpoint.SequenceCheckpoint); ok {
			since = sc.Seq
		}
	}
	limit := req.Limit
	if limit <= 0 {
		limit = 100
	}

	h.mu.RLock()
	resp := pullResponse{Changes: []codec.WireEnvelope{}}
	next := since
	for _, entry := range h.feed {
		if entry.seq <= since {
			continue
		}
		resp.Changes = append(resp.Changes, entry.env)
		next = entry.seq
		if len(resp.Changes) >= limit {
			break
		}
	}
	h.mu.RUnlock()

	wire, err := checkpoint.MarshalWire(checkpoint.NewSequence(next))
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	resp.Next = wire
	writeJSON(w, resp)
}

func (h *Handler) handleWatch(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	h.watchMu.Lock()
	h.watchers[conn] = struct{}{}
	h.watchMu.Unlock()

	defer func() {
		h.watchMu.Lock()
		delete(h.watchers, conn)
		h.watchMu.Unlock()
		conn.Close()
	}()

	// Drain control frames; the feed is write-only.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Handler) broadcast(wire codec.WireEnvelope) {
	data, err := json.Marshal(wire)
	if err != nil {
		return
	}
	h.watchMu.Lock()
	defer h.watchMu.Unlock()
	for conn := range h.watchers {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
			conn.Close()
			delete(h.watchers, conn)
		}
	}
}

// RecordCount reports how many records the replica holds.
func (h *Handler) RecordCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.records)
}

func versionString(v uint64) string {
	return "v" + checkpoint.NewSequence(v).String()
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
