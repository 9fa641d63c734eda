// Package extractor defines the primitive extractor contract and its
// registry. Extractors are the only code that reads connector-native
// payloads, and they are held to a strict purity rule: they may emit
// universal schema primitives, opaque raw observations, source-scoped
// external ids, and structural counts, nothing else. Canonical dimensions,
// modules, and classification are downstream concerns.
package extractor

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"prism/internal/types"
)

// Extractor transforms raw payloads from one source into primitive records.
type Extractor interface {
	// Source names the connector whose payloads this extractor understands.
	Source() string

	// Extract reads the raw payload and emits a loose primitive record.
	// The record's key set is checked against the purity contract before
	// anything downstream sees it.
	Extract(ctx context.Context, raw types.RawPayload) (types.PrimitiveRecord, error)

	// ExtractRichText returns free-text passages from the payload for
	// downstream summarization. May be empty.
	ExtractRichText(raw types.RawPayload) []string
}

// Registry maps source names to extractors.
type Registry struct {
	mu         sync.RWMutex
	extractors map[string]Extractor
}

// NewRegistry creates an empty extractor registry.
func NewRegistry() *Registry {
	return &Registry{extractors: make(map[string]Extractor)}
}

// Register adds an extractor for its source. Duplicate registration is an
// error.
func (r *Registry) Register(e Extractor) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	name := e.Source()
	if name == "" {
		return fmt.Errorf("extractor has no source name")
	}
	if _, exists := r.extractors[name]; exists {
		return fmt.Errorf("extractor for source %q already registered", name)
	}
	r.extractors[name] = e
	return nil
}

// Get returns the extractor for a source.
func (r *Registry) Get(source string) (Extractor, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.extractors[source]
	return e, ok
}

// Sources returns registered source names in sorted order.
func (r *Registry) Sources() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.extractors))
	for n := range r.extractors {
		names = append(names, n)
	}
	sort.Strings(names)
	return names
}

// Process runs the full extraction contract for one payload: extract, purity
// check, decode into the typed form, then validation-normalization. A purity
// violation is returned as *types.PurityError so the caller can quarantine
// the payload and alert.
func (r *Registry) Process(ctx context.Context, raw types.RawPayload) (types.Primitives, error) {
	e, ok := r.Get(raw.Source)
	if !ok {
		return types.Primitives{}, fmt.Errorf("no extractor registered for source %q", raw.Source)
	}

	record, err := e.Extract(ctx, raw)
	if err != nil {
		return types.Primitives{}, fmt.Errorf("extract failed for source %q: %w", raw.Source, err)
	}

	if illegal := record.IllegalKeys(); len(illegal) > 0 {
		return types.Primitives{}, &types.PurityError{Source: raw.Source, IllegalKeys: illegal}
	}

	prims, err := Decode(record)
	if err != nil {
		return types.Primitives{}, fmt.Errorf("decode failed for source %q: %w", raw.Source, err)
	}

	return Validate(prims), nil
}

// RichText returns the rich-text passages for a payload, or nil when no
// extractor is registered.
func (r *Registry) RichText(raw types.RawPayload) []string {
	e, ok := r.Get(raw.Source)
	if !ok {
		return nil
	}
	return e.ExtractRichText(raw)
}
