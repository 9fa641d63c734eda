// Package types provides shared type definitions used across prism packages.
// This package exists to break import cycles between the planner, orchestrator,
// extractors, and stores. Types in this package are plain immutable records
// with no behavior beyond accessors; no component mutates a record it did not
// create.
package types

import (
	"time"
)

// =============================================================================
// PHASES
// =============================================================================

// Phase identifies one of the three execution phases. Phases run in strict
// declared order; no connector in a later phase starts before every connector
// in the prior phase has terminated.
type Phase string

const (
	PhaseDiscovery  Phase = "DISCOVERY"
	PhaseStructured Phase = "STRUCTURED"
	PhaseEnrichment Phase = "ENRICHMENT"
)

// PhaseOrder lists the phases in execution order.
var PhaseOrder = []Phase{PhaseDiscovery, PhaseStructured, PhaseEnrichment}

// Index returns the position of the phase in execution order, or -1.
func (p Phase) Index() int {
	for i, ph := range PhaseOrder {
		if ph == p {
			return i
		}
	}
	return -1
}

// Valid reports whether p is one of the three known phases.
func (p Phase) Valid() bool { return p.Index() >= 0 }

// =============================================================================
// REQUEST
// =============================================================================

// Mode selects the run strategy.
type Mode string

const (
	// ModeResolveOne stops once a single entity clears the confidence bar.
	ModeResolveOne Mode = "resolve_one"
	// ModeDiscoverMany keeps collecting until the target count is reached.
	ModeDiscoverMany Mode = "discover_many"
)

// Valid reports whether m is a known mode.
func (m Mode) Valid() bool { return m == ModeResolveOne || m == ModeDiscoverMany }

// IngestRequest is the immutable description of one run.
type IngestRequest struct {
	Mode              Mode    `json:"mode"`
	Query             string  `json:"query"`
	TargetEntityCount int     `json:"target_entity_count,omitempty"`
	MinConfidence     float64 `json:"min_confidence,omitempty"`
	BudgetUSD         float64 `json:"budget_usd,omitempty"`
	Persist           bool    `json:"persist"`
	LensID            string  `json:"lens_id,omitempty"`
}

// =============================================================================
// CONNECTORS
// =============================================================================

// ConnectorSpec is the registered metadata for one connector. Connector
// implementations are external; the orchestrator only sees this record plus
// the adapter contract.
type ConnectorSpec struct {
	Name           string   `json:"name" yaml:"name"`
	Phase          Phase    `json:"phase" yaml:"phase"`
	TrustLevel     int      `json:"trust_level" yaml:"trust_level"` // 0..100
	CostPerCallUSD float64  `json:"cost_per_call_usd" yaml:"cost_per_call_usd"`
	AvgLatencyMS   int      `json:"avg_latency_ms" yaml:"avg_latency_ms"`
	TimeoutMS      int      `json:"timeout_ms" yaml:"timeout_ms"`
	Requires       []string `json:"requires,omitempty" yaml:"requires,omitempty"`
	Provides       []string `json:"provides,omitempty" yaml:"provides,omitempty"`
}

// Timeout returns the per-call deadline, defaulting to 30s when unset.
func (s ConnectorSpec) Timeout() time.Duration {
	if s.TimeoutMS <= 0 {
		return 30 * time.Second
	}
	return time.Duration(s.TimeoutMS) * time.Millisecond
}

// RawPayload is opaque connector-native data plus fetch provenance. The
// engine never interprets Data; only the matching extractor does.
type RawPayload struct {
	Source    string         `json:"source"`
	SourceURL string         `json:"source_url,omitempty"`
	FetchedAt time.Time      `json:"fetched_at"`
	Hash      string         `json:"hash,omitempty"`
	Data      map[string]any `json:"data"`
}
