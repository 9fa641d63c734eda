package mapping

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prism/internal/lens"
	"prism/internal/types"
)

const mappingLens = `
schema:
  id: map-lens
  version: "1"
facets:
  activity:
    dimension_source: canonical_activities
  place_type:
    dimension_source: canonical_place_types
values:
  - key: climbing
    facet: activity
    search_keywords: [climbing, bouldering]
  - key: swimming
    facet: activity
  - key: leisure_centre
    facet: place_type
mapping_rules:
  - id: r_climb
    pattern: "(?i)climb|boulder"
    canonical: climbing
    confidence: 0.9
  - id: r_swim
    pattern: "(?i)swim|pool"
    canonical: swimming
    confidence: 0.8
    source_fields: [raw_categories]
  - id: r_centre
    pattern: "(?i)leisure centre|sports centre"
    canonical: leisure_centre
    confidence: 0.85
modules:
  capacity:
    description: wall and lane counts
    field_rules:
      - rule_id: f_walls
        target_path: walls.count
        extractor: numeric_parser
        pattern: "(\\d+) walls"
        source_fields: [description]
        confidence: 0.7
        normalizers: [round_integer]
      - rule_id: f_grade
        target_path: top_grade
        extractor: regex_capture
        pattern: "grades up to (\\S+)"
        source_fields: [description]
        confidence: 0.6
        normalizers: [trim, lowercase]
  booking:
    field_rules:
      - rule_id: f_book
        target_path: url
        extractor: regex_capture
        pattern: "(https://book\\S+)"
        source_fields: [description]
        confidence: 0.5
        applicability:
          source: [gov_feed]
module_triggers:
  - when: {facet: activity, value: climbing}
    add_modules: [capacity]
  - when: {facet: place_type, value: leisure_centre}
    add_modules: [booking]
    conditions:
      - field: entity_class
        any_of: [place]
connector_rules: {}
vocabulary: [climbing, swimming]
geographic_markers: [in, near]
`

type openRegistry struct{}

func (openRegistry) Has(string) bool { return true }

func mustLoad(t *testing.T) *lens.Contract {
	t.Helper()
	c, err := lens.Load([]byte(mappingLens), openRegistry{})
	require.NoError(t, err)
	return c
}

func TestApply_MappingRulesAndModules(t *testing.T) {
	e := New(mustLoad(t))

	prims := types.Primitives{
		EntityName:    "Granite Works",
		Description:   "Bouldering gym with 12 walls and grades up to V10 inside a leisure centre annex",
		RawCategories: []string{"swimming pool"},
	}

	got := e.Apply(prims, "gov_feed", 90, "place")

	assert.Equal(t, []string{"climbing", "swimming"}, got.CanonicalActivities)
	assert.Equal(t, []string{"leisure_centre"}, got.CanonicalPlaceTypes)

	require.Contains(t, got.Modules, "capacity")
	walls, ok := got.Modules["capacity"]["walls"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, int64(12), walls["count"])
	assert.Equal(t, "v10", got.Modules["capacity"]["top_grade"])

	assert.Equal(t, 0.7, got.FieldConfidence["capacity.walls.count"])
	assert.Equal(t, "gov_feed", got.SourceInfo["capacity.walls.count"])
	assert.Equal(t, 0.9, got.FieldConfidence["canonical_activities"])
}

func TestApply_DimensionStabilization(t *testing.T) {
	e := New(mustLoad(t))

	// Both rules land on canonical_activities; output must be deduped and
	// lexicographically sorted regardless of match order.
	prims := types.Primitives{
		Description:   "swim then climb then swim again",
		RawCategories: []string{"swim", "swim"},
	}
	got := e.Apply(prims, "s", 50, "place")
	assert.Equal(t, []string{"climbing", "swimming"}, got.CanonicalActivities)
}

func TestApply_TriggerConditionGatesModule(t *testing.T) {
	e := New(mustLoad(t))

	prims := types.Primitives{Description: "the leisure centre on the hill"}

	asPlace := e.Apply(prims, "gov_feed", 90, "place")
	assert.Contains(t, asPlace.Modules, "booking")

	asOrg := e.Apply(prims, "gov_feed", 90, "organization")
	assert.NotContains(t, asOrg.Modules, "booking")
}

func TestApply_ApplicabilityBySource(t *testing.T) {
	e := New(mustLoad(t))

	prims := types.Primitives{Description: "leisure centre, book at https://book.example/x"}

	fromGov := e.Apply(prims, "gov_feed", 90, "place")
	require.Contains(t, fromGov.Modules, "booking")
	assert.Equal(t, "https://book.example/x", fromGov.Modules["booking"]["url"])

	fromWeb := e.Apply(prims, "web_search", 40, "place")
	// Trigger fires but the only field rule is gov_feed-scoped.
	assert.NotContains(t, fromWeb.Modules, "booking")
}

func TestApply_NoMatchesYieldsBareEntity(t *testing.T) {
	e := New(mustLoad(t))

	got := e.Apply(types.Primitives{EntityName: "Quiet Library"}, "s", 10, "place")
	assert.Empty(t, got.CanonicalActivities)
	assert.Nil(t, got.Modules)
}

// Identical primitives through the same contract must serialize to identical
// bytes, run after run.
func TestApply_Deterministic(t *testing.T) {
	contract := mustLoad(t)

	prims := types.Primitives{
		EntityName:    "Granite Works",
		Description:   "Bouldering with 12 walls, grades up to V10, leisure centre",
		RawCategories: []string{"swim", "climb"},
	}

	var first []byte
	for i := 0; i < 20; i++ {
		got := New(contract).Apply(prims, "gov_feed", 90, "place")
		b, err := json.Marshal(got)
		require.NoError(t, err)
		if first == nil {
			first = b
			continue
		}
		require.Equal(t, string(first), string(b), "run %d diverged", i)
	}
}
