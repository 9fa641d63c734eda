// Package store persists canonical entities, quarantined failures, and
// merge conflicts. Two backends share one interface: SQLite for local and
// test use, Postgres for deployments that need native array indexing on the
// canonical dimensions.
package store

import (
	"context"

	"prism/internal/types"
)

// MatchMode selects the dimension query semantics.
type MatchMode string

const (
	// MatchHas requires a single value to be present.
	MatchHas MatchMode = "has"
	// MatchHasSome requires overlap with any of the given values.
	MatchHasSome MatchMode = "hasSome"
	// MatchHasEvery requires all given values to be present.
	MatchHasEvery MatchMode = "hasEvery"
)

// DimensionFilter is one dimension predicate. Filters combine with AND
// across dimensions; values within a hasSome filter combine with OR.
type DimensionFilter struct {
	Dimension types.Dimension
	Values    []string
	Match     MatchMode
}

// Store is the persistence coordinator. Writes are full-record upserts
// keyed by slug; there are no partial updates.
type Store interface {
	// UpsertEntity inserts or fully replaces the entity with the same slug.
	// Idempotent: upserting the same record twice equals upserting it once.
	UpsertEntity(ctx context.Context, e *types.Entity) error

	// GetEntityBySlug returns the entity or (nil, nil) when absent.
	GetEntityBySlug(ctx context.Context, slug string) (*types.Entity, error)

	// QueryEntities returns entities matching all dimension filters, ordered
	// by slug.
	QueryEntities(ctx context.Context, filters []DimensionFilter) ([]types.Entity, error)

	// Quarantine records a failed extraction or persistence attempt for
	// out-of-band retry.
	Quarantine(ctx context.Context, f *types.FailedExtraction) error

	// RecordConflict stores an ambiguous-merge record for review.
	RecordConflict(ctx context.Context, c *types.MergeConflict) error

	// ListConflicts returns recorded conflicts ordered by detection time.
	ListConflicts(ctx context.Context) ([]types.MergeConflict, error)

	Close() error
}
