// Package merge deduplicates extracted entities across sources and folds
// matching records into one canonical entity per real-world thing. Every
// conflict resolution uses the same total order (field confidence, then
// source trust, then alphabetically-last source name) so the merged output
// is independent of input order.
package merge

import (
	"math"
	"sort"
	"time"

	"github.com/google/uuid"

	"prism/internal/types"
)

const (
	// DefaultSimThreshold is the name similarity at or above which two
	// records are the same entity.
	DefaultSimThreshold = 0.85

	// AmbiguousSimFloor is the similarity above which an unmatched pair is
	// flagged for review instead of silently kept apart.
	AmbiguousSimFloor = 0.70

	// DefaultDistThresholdM is the coordinate proximity required for a
	// fuzzy match. Distances up to twice this are the ambiguous band.
	DefaultDistThresholdM = 500.0
)

// Merger holds the matching thresholds. Zero-cost to share; construct once
// per run.
type Merger struct {
	SimThreshold   float64
	DistThresholdM float64

	now func() time.Time
}

// NewMerger creates a merger with the default thresholds.
func NewMerger() *Merger {
	return &Merger{
		SimThreshold:   DefaultSimThreshold,
		DistThresholdM: DefaultDistThresholdM,
		now:            time.Now,
	}
}

// record is one accumulated canonical entity plus the per-field trust of
// each recorded winner, which the merge needs for later conflicts.
type record struct {
	entity     types.ExtractedEntity
	slug       string
	fieldTrust map[string]int
}

// Accumulator folds extracted entities into canonical records one at a
// time. It is not safe for concurrent use; the orchestrator feeds it from a
// single goroutine in a stable order.
type Accumulator struct {
	m         *Merger
	records   []*record
	conflicts []types.MergeConflict
}

// NewAccumulator creates an empty accumulator.
func (m *Merger) NewAccumulator() *Accumulator {
	return &Accumulator{m: m}
}

// Merge deduplicates a batch. Input order does not affect the result: the
// batch is sorted by a stable key before folding.
func (m *Merger) Merge(entities []types.ExtractedEntity) ([]types.Entity, []types.MergeConflict) {
	sorted := make([]types.ExtractedEntity, len(entities))
	copy(sorted, entities)
	sort.SliceStable(sorted, func(i, j int) bool {
		si := slugOf(&sorted[i])
		sj := slugOf(&sorted[j])
		if si != sj {
			return si < sj
		}
		return sorted[i].Source < sorted[j].Source
	})

	acc := m.NewAccumulator()
	for _, e := range sorted {
		acc.Accept(e)
	}
	return acc.Entities(), acc.Conflicts()
}

func slugOf(e *types.ExtractedEntity) string {
	locality := e.City
	if locality == "" {
		locality = e.Postcode
	}
	return Slug(e.EntityName, locality)
}

// Accept matches the entity against the accumulated records. Exact matches
// (shared external id or identical slug) always merge; fuzzy matches merge
// above the similarity and proximity thresholds; ambiguous matches keep both
// records and emit a MergeConflict.
func (a *Accumulator) Accept(e types.ExtractedEntity) {
	slug := slugOf(&e)

	if rec := a.exactMatch(&e, slug); rec != nil {
		rec.merge(&e)
		return
	}

	rec, sim, dist, ambiguous := a.fuzzyMatch(&e)
	if rec != nil && !ambiguous {
		rec.merge(&e)
		return
	}
	if rec != nil && ambiguous {
		a.conflicts = append(a.conflicts, types.MergeConflict{
			ID:          deterministicID("conflict:" + rec.slug + "|" + slug),
			LeftSlug:    rec.slug,
			RightSlug:   slug,
			LeftSource:  rec.entity.Source,
			RightSource: e.Source,
			Similarity:  sim,
			DistanceM:   finiteOrZero(dist),
			DetectedAt:  a.m.now().UTC(),
		})
	}

	a.records = append(a.records, newRecord(e, slug))
}

func (a *Accumulator) exactMatch(e *types.ExtractedEntity, slug string) *record {
	for _, rec := range a.records {
		if rec.slug == slug || externalIDsOverlap(rec.entity.ExternalIDs, e.ExternalIDs) {
			return rec
		}
	}
	return nil
}

// fuzzyMatch returns the best candidate by name similarity along with the
// verdict: a non-ambiguous candidate should merge, an ambiguous one should
// produce a conflict, nil means no relation at all.
func (a *Accumulator) fuzzyMatch(e *types.ExtractedEntity) (best *record, bestSim, bestDist float64, ambiguous bool) {
	bestDist = math.Inf(1)
	for _, rec := range a.records {
		sim := NameSimilarity(rec.entity.EntityName, e.EntityName)
		if sim < AmbiguousSimFloor || sim < bestSim {
			continue
		}
		best, bestSim = rec, sim
	}
	if best == nil {
		return nil, 0, 0, false
	}

	bestDist = pairDistance(&best.entity, e)
	tooFar := !math.IsInf(bestDist, 1) && bestDist > 2*a.m.DistThresholdM

	switch {
	case bestSim >= a.m.SimThreshold && !tooFar && (math.IsInf(bestDist, 1) || bestDist < a.m.DistThresholdM):
		return best, bestSim, bestDist, false
	case tooFar:
		// Similar names but clearly different locations: distinct entities.
		return nil, 0, 0, false
	default:
		// Similarity in [floor, threshold) or distance in the ambiguous band.
		return best, bestSim, bestDist, true
	}
}

func pairDistance(a *types.ExtractedEntity, b *types.ExtractedEntity) float64 {
	if a.Latitude == nil || a.Longitude == nil || b.Latitude == nil || b.Longitude == nil {
		return math.Inf(1)
	}
	return DistanceM(*a.Latitude, *a.Longitude, *b.Latitude, *b.Longitude)
}

func externalIDsOverlap(a, b map[string]map[string]string) bool {
	for source, ids := range a {
		other, ok := b[source]
		if !ok {
			continue
		}
		for key, val := range ids {
			if other[key] == val {
				return true
			}
		}
	}
	return false
}

// Entities returns the accumulated canonical entities sorted by slug, with
// deterministic IDs derived from the slug.
func (a *Accumulator) Entities() []types.Entity {
	out := make([]types.Entity, 0, len(a.records))
	for _, rec := range a.records {
		e := rec.entity
		out = append(out, types.Entity{
			ID:          deterministicID("entity:" + rec.slug),
			Slug:        rec.slug,
			EntityClass: e.EntityClass,
			Primitives:  e.Primitives,

			CanonicalActivities: e.CanonicalActivities,
			CanonicalRoles:      e.CanonicalRoles,
			CanonicalPlaceTypes: e.CanonicalPlaceTypes,
			CanonicalAccess:     e.CanonicalAccess,

			Modules:         e.Modules,
			FieldConfidence: e.FieldConfidence,
			SourceInfo:      e.SourceInfo,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Slug < out[j].Slug })
	return out
}

// Conflicts returns the ambiguous-match records emitted so far.
func (a *Accumulator) Conflicts() []types.MergeConflict {
	return a.conflicts
}

// Count reports the number of distinct accumulated entities.
func (a *Accumulator) Count() int { return len(a.records) }

// deterministicID is a name-based UUID so re-running the same inputs yields
// the same ids.
func deterministicID(name string) string {
	return uuid.NewSHA1(uuid.NameSpaceOID, []byte(name)).String()
}

func finiteOrZero(f float64) float64 {
	if math.IsInf(f, 0) || math.IsNaN(f) {
		return 0
	}
	return f
}
