// Package extraction normalizes heterogeneous source payloads into the
// Signal shape the catalog ingests. One adapter per source type; the
// catalog makes no assumption about adapter internals.
package extraction

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/fyrsmithlabs/insightd/internal/catalog"
)

var (
	// ErrUnknownSource indicates no adapter is registered for the source
	// type.
	ErrUnknownSource = errors.New("unknown source type")

	// ErrMalformedPayload indicates the raw payload could not be
	// normalized. Callers skip the payload and continue the batch.
	ErrMalformedPayload = errors.New("malformed source payload")
)

// NormalizeFunc converts one raw source payload into a Signal.
type NormalizeFunc func(raw json.RawMessage) (catalog.Signal, error)

// Registry maps source types to their normalization adapters. The
// adapter set is fixed at construction.
type Registry struct {
	adapters map[string]NormalizeFunc
}

// NewRegistry returns a registry with the built-in adapters.
func NewRegistry() *Registry {
	return &Registry{adapters: map[string]NormalizeFunc{
		"arxiv":      normalizeArxiv,
		"github":     normalizeGithub,
		"hackernews": normalizeHackerNews,
		"reddit":     normalizeReddit,
		"rss":        normalizeRSS,
	}}
}

// SourceTypes returns the registered source types, sorted.
func (r *Registry) SourceTypes() []string {
	types := make([]string, 0, len(r.adapters))
	for sourceType := range r.adapters {
		types = append(types, sourceType)
	}
	sort.Strings(types)
	return types
}

// Normalize converts a raw payload from the named source into a Signal.
func (r *Registry) Normalize(sourceType string, raw json.RawMessage) (catalog.Signal, error) {
	adapter, ok := r.adapters[sourceType]
	if !ok {
		return catalog.Signal{}, fmt.Errorf("%w: %s", ErrUnknownSource, sourceType)
	}

	signal, err := adapter(raw)
	if err != nil {
		return catalog.Signal{}, err
	}
	if err := signal.Validate(); err != nil {
		return catalog.Signal{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return signal, nil
}

func decode(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return fmt.Errorf("%w: empty payload", ErrMalformedPayload)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return nil
}
