package codec

import (
	"encoding/json"
	"sync"
)

// PayloadCodec encodes and decodes entity payloads for one record kind.
// Registering a codec lets typed collections carry domain values without
// double-encoding through generic JSON marshaling.
type PayloadCodec interface {
	// Kind returns the record kind this codec serves.
	Kind() string

	// Encode converts a domain value to raw JSON.
	Encode(v any) (json.RawMessage, error)

	// Decode converts raw JSON back to the domain value.
	Decode(data json.RawMessage) (any, error)
}

// Registry manages payload codec registration and lookup with thread
// safety.
type Registry struct {
	mu     sync.RWMutex
	codecs map[string]PayloadCodec
}

// NewRegistry creates an empty codec registry.
func NewRegistry() *Registry {
	return &Registry{codecs: make(map[string]PayloadCodec)}
}

// Register adds a codec keyed by its Kind().
func (r *Registry) Register(c PayloadCodec) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.codecs[c.Kind()] = c
}

// Get retrieves a codec by kind.
func (r *Registry) Get(kind string) (PayloadCodec, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	c, ok := r.codecs[kind]
	return c, ok
}

// Kinds returns the registered kinds, for introspection.
func (r *Registry) Kinds() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	kinds := make([]string, 0, len(r.codecs))
	for k := range r.codecs {
		kinds = append(kinds, k)
	}
	return kinds
}

// DefaultRegistry is the process-wide registry used when none is supplied.
var DefaultRegistry = NewRegistry()

// Register adds a codec to the default registry.
func Register(c PayloadCodec) { DefaultRegistry.Register(c) }

// Get retrieves a codec from the default registry.
func Get(kind string) (PayloadCodec, bool) { return DefaultRegistry.Get(kind) }
