package types

import (
	"sort"
	"time"
)

// =============================================================================
// CANONICAL DIMENSIONS
// =============================================================================

// Dimension names one of the four fixed multi-valued canonical fields. The
// engine knows exactly these four names and nothing about their values.
type Dimension string

const (
	DimActivities Dimension = "canonical_activities"
	DimRoles      Dimension = "canonical_roles"
	DimPlaceTypes Dimension = "canonical_place_types"
	DimAccess     Dimension = "canonical_access"
)

// Dimensions lists the four canonical dimensions in stable order.
var Dimensions = []Dimension{DimActivities, DimRoles, DimPlaceTypes, DimAccess}

// ValidDimension reports whether d is one of the four fixed dimensions.
func ValidDimension(d Dimension) bool {
	for _, known := range Dimensions {
		if d == known {
			return true
		}
	}
	return false
}

// SortedSet deduplicates values preserving first occurrence, then sorts
// lexicographically. This is the stabilization applied to every dimension
// array before it leaves the mapping engine or the merger.
func SortedSet(values []string) []string {
	seen := make(map[string]bool, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if v == "" || seen[v] {
			continue
		}
		seen[v] = true
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// =============================================================================
// EXTRACTED ENTITY
// =============================================================================

// ExtractedEntity is a Primitives record enriched by the mapping engine with
// canonical dimensions, modules, and per-field provenance. It is transferred
// by value between pipeline stages.
type ExtractedEntity struct {
	Primitives

	EntityClass string `json:"entity_class,omitempty"`

	CanonicalActivities []string `json:"canonical_activities"`
	CanonicalRoles      []string `json:"canonical_roles"`
	CanonicalPlaceTypes []string `json:"canonical_place_types"`
	CanonicalAccess     []string `json:"canonical_access"`

	// Modules is a nested map namespaced by module key.
	Modules map[string]map[string]any `json:"modules,omitempty"`

	FieldConfidence map[string]float64 `json:"field_confidence,omitempty"`
	SourceInfo      map[string]string  `json:"source_info,omitempty"`

	// Source and SourceTrust identify the contributing connector for
	// trust-weighted conflict resolution.
	Source      string `json:"source,omitempty"`
	SourceTrust int    `json:"source_trust,omitempty"`
}

// DimensionValues returns the named dimension array.
func (e *ExtractedEntity) DimensionValues(d Dimension) []string {
	switch d {
	case DimActivities:
		return e.CanonicalActivities
	case DimRoles:
		return e.CanonicalRoles
	case DimPlaceTypes:
		return e.CanonicalPlaceTypes
	case DimAccess:
		return e.CanonicalAccess
	}
	return nil
}

// SetDimension replaces the named dimension array.
func (e *ExtractedEntity) SetDimension(d Dimension, values []string) {
	switch d {
	case DimActivities:
		e.CanonicalActivities = values
	case DimRoles:
		e.CanonicalRoles = values
	case DimPlaceTypes:
		e.CanonicalPlaceTypes = values
	case DimAccess:
		e.CanonicalAccess = values
	}
}

// =============================================================================
// CANONICAL ENTITY
// =============================================================================

// Entity is the single canonical record per real-world thing, persisted by
// slug. Writes are full upserts; there are no partial updates.
type Entity struct {
	ID          string `json:"id"`
	Slug        string `json:"slug"`
	EntityClass string `json:"entity_class"`

	Primitives

	CanonicalActivities []string `json:"canonical_activities"`
	CanonicalRoles      []string `json:"canonical_roles"`
	CanonicalPlaceTypes []string `json:"canonical_place_types"`
	CanonicalAccess     []string `json:"canonical_access"`

	Modules         map[string]map[string]any `json:"modules,omitempty"`
	FieldConfidence map[string]float64        `json:"field_confidence,omitempty"`
	SourceInfo      map[string]string         `json:"source_info,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// AggregateConfidence is the mean of all recorded field confidences, used by
// the resolve_one early-stop check. Zero when nothing was mapped.
func (e *Entity) AggregateConfidence() float64 {
	if len(e.FieldConfidence) == 0 {
		return 0
	}
	var sum float64
	for _, c := range e.FieldConfidence {
		sum += c
	}
	return sum / float64(len(e.FieldConfidence))
}

// DimensionValues returns the named dimension array.
func (e *Entity) DimensionValues(d Dimension) []string {
	switch d {
	case DimActivities:
		return e.CanonicalActivities
	case DimRoles:
		return e.CanonicalRoles
	case DimPlaceTypes:
		return e.CanonicalPlaceTypes
	case DimAccess:
		return e.CanonicalAccess
	}
	return nil
}
