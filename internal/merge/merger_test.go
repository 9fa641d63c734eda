package merge

import (
	"encoding/json"
	"math/rand"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prism/internal/types"
)

func fixedMerger() *Merger {
	m := NewMerger()
	m.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	return m
}

func ptr(f float64) *float64 { return &f }

func TestNameSimilarity(t *testing.T) {
	assert.Equal(t, 1.0, NameSimilarity("Alpha K1 Centre", "alpha k1 centre"))
	assert.InDelta(t, 0.8, NameSimilarity("Alpha K1 Centre", "Alpha Centre"), 0.001)
	assert.Zero(t, NameSimilarity("Alpha", ""))
	assert.Less(t, NameSimilarity("Alpha Works", "Beta Pool"), 0.1)
}

func TestDistanceM(t *testing.T) {
	// Edinburgh Castle to Holyrood, about 1.8 km.
	d := DistanceM(55.9486, -3.1999, 55.9527, -3.1720)
	assert.InDelta(t, 1800, d, 150)
	assert.Zero(t, DistanceM(55.95, -3.18, 55.95, -3.18))
}

func TestSlug(t *testing.T) {
	assert.Equal(t, "alpha-k1-centre-leith", Slug("Alpha K1 Centre", "Leith"))
	assert.Equal(t, "alpha-k1-centre", Slug("Alpha K1 Centre", ""))
	assert.Equal(t, "harbour-pool-eh6-6qq", Slug("Harbour  Pool!", "EH6 6QQ"))
}

// Trust-weighted scalar merge: the higher-trust phone wins, the only
// coordinates available are taken, and source_info names the winner per
// field.
func TestMerge_TrustWeightedScalars(t *testing.T) {
	s1 := types.ExtractedEntity{
		Primitives: types.Primitives{
			EntityName: "Alpha K1 Centre",
			City:       "Leith",
			Phone:      "+441234567890",
		},
		Source:      "S1",
		SourceTrust: 70,
	}
	s2 := types.ExtractedEntity{
		Primitives: types.Primitives{
			EntityName: "Alpha K1 Centre",
			City:       "Leith",
			Phone:      "+441234567899",
			Latitude:   ptr(55.9533),
			Longitude:  ptr(-3.1883),
		},
		Source:      "S2",
		SourceTrust: 40,
	}

	entities, conflicts := fixedMerger().Merge([]types.ExtractedEntity{s1, s2})
	require.Len(t, entities, 1)
	require.Empty(t, conflicts)

	got := entities[0]
	assert.Equal(t, "+441234567890", got.Phone)
	assert.Equal(t, "S1", got.SourceInfo["phone"])
	require.NotNil(t, got.Latitude)
	assert.Equal(t, 55.9533, *got.Latitude)
	assert.Equal(t, "S2", got.SourceInfo["latitude"])
}

func TestMerge_ExternalIDMatch(t *testing.T) {
	a := types.ExtractedEntity{
		Primitives: types.Primitives{
			EntityName:  "Alpha Climbing",
			City:        "Leith",
			ExternalIDs: map[string]map[string]string{"gov_feed": {"id": "g-1"}},
		},
		Source: "gov_feed", SourceTrust: 90,
	}
	// Different name and no locality, but the same gov_feed id.
	b := types.ExtractedEntity{
		Primitives: types.Primitives{
			EntityName:  "The Alpha Wall",
			ExternalIDs: map[string]map[string]string{"gov_feed": {"id": "g-1"}, "places_db": {"ref": "p-7"}},
		},
		Source: "places_db", SourceTrust: 70,
	}

	entities, _ := fixedMerger().Merge([]types.ExtractedEntity{a, b})
	require.Len(t, entities, 1)
	assert.Equal(t, "g-1", entities[0].ExternalIDs["gov_feed"]["id"])
	assert.Equal(t, "p-7", entities[0].ExternalIDs["places_db"]["ref"])
}

func TestMerge_DimensionUnion(t *testing.T) {
	a := types.ExtractedEntity{
		Primitives:          types.Primitives{EntityName: "Alpha", City: "Leith"},
		CanonicalActivities: []string{"swimming", "climbing"},
		Source:              "S1", SourceTrust: 50,
	}
	b := types.ExtractedEntity{
		Primitives:          types.Primitives{EntityName: "Alpha", City: "Leith"},
		CanonicalActivities: []string{"climbing", "yoga"},
		Source:              "S2", SourceTrust: 50,
	}

	entities, _ := fixedMerger().Merge([]types.ExtractedEntity{a, b})
	require.Len(t, entities, 1)
	assert.Equal(t, []string{"climbing", "swimming", "yoga"}, entities[0].CanonicalActivities)
}

func TestMerge_ModuleLeafConflict(t *testing.T) {
	low := types.ExtractedEntity{
		Primitives:      types.Primitives{EntityName: "Alpha", City: "Leith"},
		Modules:         map[string]map[string]any{"capacity": {"count": int64(3)}},
		FieldConfidence: map[string]float64{"capacity.count": 0.5},
		Source:          "S1", SourceTrust: 90,
	}
	high := types.ExtractedEntity{
		Primitives:      types.Primitives{EntityName: "Alpha", City: "Leith"},
		Modules:         map[string]map[string]any{"capacity": {"count": int64(5)}},
		FieldConfidence: map[string]float64{"capacity.count": 0.8},
		Source:          "S2", SourceTrust: 40,
	}

	// Confidence outranks trust on module leaves.
	entities, _ := fixedMerger().Merge([]types.ExtractedEntity{low, high})
	require.Len(t, entities, 1)
	assert.Equal(t, int64(5), entities[0].Modules["capacity"]["count"])
	assert.Equal(t, "S2", entities[0].SourceInfo["capacity.count"])
}

// Ambiguous pair: similarity inside [0.70, 0.85) and 600 m apart. Both
// survive as separate entities and a conflict record links them.
func TestMerge_AmbiguousEmitsConflict(t *testing.T) {
	a := types.ExtractedEntity{
		Primitives: types.Primitives{
			EntityName: "Northside Climbing Arena Leith",
			City:       "Leith",
			Latitude:   ptr(55.9700), Longitude: ptr(-3.1800),
		},
		Source: "S1", SourceTrust: 70,
	}
	b := types.ExtractedEntity{
		Primitives: types.Primitives{
			EntityName: "Northside Climbing Centre Leith",
			City:       "Edinburgh",
			Latitude:   ptr(55.9754), Longitude: ptr(-3.1800),
		},
		Source: "S2", SourceTrust: 60,
	}

	sim := NameSimilarity(a.EntityName, b.EntityName)
	require.GreaterOrEqual(t, sim, AmbiguousSimFloor)
	require.Less(t, sim, DefaultSimThreshold)

	entities, conflicts := fixedMerger().Merge([]types.ExtractedEntity{a, b})
	assert.Len(t, entities, 2)
	require.Len(t, conflicts, 1)
	assert.Equal(t, sim, conflicts[0].Similarity)
	assert.InDelta(t, 600, conflicts[0].DistanceM, 50)
	assert.NotEmpty(t, conflicts[0].ID)
}

func TestMerge_FarApartSimilarNamesStayDistinct(t *testing.T) {
	a := types.ExtractedEntity{
		Primitives: types.Primitives{
			EntityName: "Harbour Pool", City: "Leith",
			Latitude: ptr(55.98), Longitude: ptr(-3.17),
		},
		Source: "S1", SourceTrust: 50,
	}
	b := types.ExtractedEntity{
		Primitives: types.Primitives{
			EntityName: "Harbour Pool", City: "Aberdeen",
			Latitude: ptr(57.15), Longitude: ptr(-2.09),
		},
		Source: "S2", SourceTrust: 50,
	}

	entities, conflicts := fixedMerger().Merge([]types.ExtractedEntity{a, b})
	assert.Len(t, entities, 2)
	assert.Empty(t, conflicts, "distant duplicates are distinct, not ambiguous")
}

// Permutation determinism: any input order yields identical entities and
// identical source_info.
func TestMerge_PermutationDeterminism(t *testing.T) {
	pool := []types.ExtractedEntity{
		{
			Primitives: types.Primitives{EntityName: "Alpha K1 Centre", City: "Leith", Phone: "+441111111111"},
			Source:     "S1", SourceTrust: 70,
			CanonicalActivities: []string{"climbing"},
		},
		{
			Primitives: types.Primitives{EntityName: "Alpha K1 Centre", City: "Leith", Phone: "+442222222222", Email: "hi@alpha.example"},
			Source:     "S2", SourceTrust: 70,
			CanonicalActivities: []string{"bouldering"},
		},
		{
			Primitives: types.Primitives{EntityName: "Beta Pool", City: "Leith"},
			Source:     "S3", SourceTrust: 40,
			CanonicalActivities: []string{"swimming"},
		},
		{
			Primitives: types.Primitives{EntityName: "Alpha K1 Centre", City: "Leith", Latitude: ptr(55.95), Longitude: ptr(-3.18)},
			Source:     "S0", SourceTrust: 90,
		},
	}

	canonical := func(in []types.ExtractedEntity) string {
		entities, conflicts := fixedMerger().Merge(in)
		b, err := json.Marshal(struct {
			E []types.Entity
			C []types.MergeConflict
		}{entities, conflicts})
		require.NoError(t, err)
		return string(b)
	}

	want := canonical(pool)
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 25; i++ {
		shuffled := make([]types.ExtractedEntity, len(pool))
		copy(shuffled, pool)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		got := canonical(shuffled)
		if diff := cmp.Diff(want, got); diff != "" {
			t.Fatalf("permutation %d diverged (-want +got):\n%s", i, diff)
		}
	}
}

func TestAccumulator_Incremental(t *testing.T) {
	acc := fixedMerger().NewAccumulator()
	acc.Accept(types.ExtractedEntity{
		Primitives: types.Primitives{EntityName: "Alpha", City: "Leith"},
		Source:     "S1", SourceTrust: 50,
	})
	assert.Equal(t, 1, acc.Count())

	acc.Accept(types.ExtractedEntity{
		Primitives: types.Primitives{EntityName: "Alpha", City: "Leith", Phone: "+441234567890"},
		Source:     "S2", SourceTrust: 60,
	})
	assert.Equal(t, 1, acc.Count())
	assert.Equal(t, "+441234567890", acc.Entities()[0].Phone)
}
