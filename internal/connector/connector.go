// Package connector defines the adapter contract the orchestrator invokes
// and the registry that maps connector names to their specs. Concrete
// connectors (search APIs, government feeds, commercial place databases) are
// external; the engine treats them as opaque payload sources.
package connector

import (
	"context"

	"prism/internal/types"
)

// Connector is the uniform adapter contract. Execute runs one call against
// the upstream source and returns zero or more raw payloads. The context
// carries the per-call deadline derived from the spec's timeout_ms plus the
// run-level cancellation signal; implementations are expected to honor both.
type Connector interface {
	Name() string
	Execute(ctx context.Context, req types.IngestRequest, features types.QueryFeatures) ([]types.RawPayload, error)
}

// Func adapts a plain function to the Connector contract. Used heavily in
// tests and by the fixture connector.
type Func struct {
	ConnectorName string
	Fn            func(ctx context.Context, req types.IngestRequest, features types.QueryFeatures) ([]types.RawPayload, error)
}

func (f *Func) Name() string { return f.ConnectorName }

func (f *Func) Execute(ctx context.Context, req types.IngestRequest, features types.QueryFeatures) ([]types.RawPayload, error) {
	return f.Fn(ctx, req, features)
}
