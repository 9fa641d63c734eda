package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prism/internal/types"
)

func newTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	s, err := NewSQLiteStore(filepath.Join(t.TempDir(), "prism.db"), nil)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func testEntity(slug string) *types.Entity {
	lat, lng := 55.95, -3.18
	return &types.Entity{
		ID:          "id-" + slug,
		Slug:        slug,
		EntityClass: "place",
		Primitives: types.Primitives{
			EntityName: "Alpha K1 Centre",
			City:       "Leith",
			Phone:      "+441234567890",
			Latitude:   &lat,
			Longitude:  &lng,
			ExternalIDs: map[string]map[string]string{
				"gov_feed": {"id": "g-1"},
			},
		},
		CanonicalActivities: []string{"climbing"},
		CanonicalPlaceTypes: []string{"leisure_centre"},
		Modules:             map[string]map[string]any{"capacity": {"count": float64(3)}},
		FieldConfidence:     map[string]float64{"capacity.count": 0.7},
		SourceInfo:          map[string]string{"phone": "gov_feed"},
	}
}

func TestSQLiteStore_UpsertAndGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertEntity(ctx, testEntity("alpha-k1-centre-leith")))

	got, err := s.GetEntityBySlug(ctx, "alpha-k1-centre-leith")
	require.NoError(t, err)
	require.NotNil(t, got)

	assert.Equal(t, "Alpha K1 Centre", got.EntityName)
	assert.Equal(t, []string{"climbing"}, got.CanonicalActivities)
	require.NotNil(t, got.Latitude)
	assert.Equal(t, 55.95, *got.Latitude)
	assert.Equal(t, float64(3), got.Modules["capacity"]["count"])
	assert.Equal(t, "gov_feed", got.SourceInfo["phone"])
	assert.Equal(t, "g-1", got.ExternalIDs["gov_feed"]["id"])
	assert.False(t, got.CreatedAt.IsZero())
}

func TestSQLiteStore_GetMissing(t *testing.T) {
	s := newTestStore(t)

	got, err := s.GetEntityBySlug(context.Background(), "nope")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// Upserting the same record twice leaves the store equal to a single
// upsert; created_at survives replacement.
func TestSQLiteStore_UpsertIdempotent(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	e := testEntity("alpha-k1-centre-leith")

	require.NoError(t, s.UpsertEntity(ctx, e))
	first, err := s.GetEntityBySlug(ctx, e.Slug)
	require.NoError(t, err)

	require.NoError(t, s.UpsertEntity(ctx, e))
	second, err := s.GetEntityBySlug(ctx, e.Slug)
	require.NoError(t, err)

	assert.Equal(t, first.CreatedAt, second.CreatedAt)

	// Everything except updated_at is identical.
	first.UpdatedAt = time.Time{}
	second.UpdatedAt = time.Time{}
	if diff := cmp.Diff(first, second); diff != "" {
		t.Fatalf("second upsert changed the record (-first +second):\n%s", diff)
	}

	var count int
	require.NoError(t, s.db.QueryRow("SELECT COUNT(*) FROM entities").Scan(&count))
	assert.Equal(t, 1, count)
}

func TestSQLiteStore_UpsertReplacesFullRecord(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	e := testEntity("alpha-k1-centre-leith")
	require.NoError(t, s.UpsertEntity(ctx, e))

	e.Phone = "+449999999999"
	e.CanonicalActivities = []string{"bouldering", "climbing"}
	require.NoError(t, s.UpsertEntity(ctx, e))

	got, err := s.GetEntityBySlug(ctx, e.Slug)
	require.NoError(t, err)
	assert.Equal(t, "+449999999999", got.Phone)
	assert.Equal(t, []string{"bouldering", "climbing"}, got.CanonicalActivities)
}

func TestSQLiteStore_QueryEntities(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	climb := testEntity("climb-hall-leith")
	climb.CanonicalActivities = []string{"bouldering", "climbing"}
	swim := testEntity("swim-hall-leith")
	swim.ID = "id-swim"
	swim.CanonicalActivities = []string{"swimming"}
	require.NoError(t, s.UpsertEntity(ctx, climb))
	require.NoError(t, s.UpsertEntity(ctx, swim))

	t.Run("hasSome overlap", func(t *testing.T) {
		got, err := s.QueryEntities(ctx, []DimensionFilter{
			{Dimension: types.DimActivities, Values: []string{"climbing", "yoga"}, Match: MatchHasSome},
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, "climb-hall-leith", got[0].Slug)
	})

	t.Run("hasEvery containment", func(t *testing.T) {
		got, err := s.QueryEntities(ctx, []DimensionFilter{
			{Dimension: types.DimActivities, Values: []string{"bouldering", "climbing"}, Match: MatchHasEvery},
		})
		require.NoError(t, err)
		require.Len(t, got, 1)

		got, err = s.QueryEntities(ctx, []DimensionFilter{
			{Dimension: types.DimActivities, Values: []string{"bouldering", "swimming"}, Match: MatchHasEvery},
		})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	t.Run("no filters lists all by slug", func(t *testing.T) {
		got, err := s.QueryEntities(ctx, nil)
		require.NoError(t, err)
		require.Len(t, got, 2)
		assert.Equal(t, "climb-hall-leith", got[0].Slug)
		assert.Equal(t, "swim-hall-leith", got[1].Slug)
	})
}

func TestSQLiteStore_QuarantineAndConflicts(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.Quarantine(ctx, &types.FailedExtraction{
		ID:             "q-1",
		Slug:           "alpha",
		Source:         "gov_feed",
		Kind:           types.KindPurityViolation,
		Error:          "illegal keys [canonical_activities]",
		EntitySnapshot: map[string]any{"entity_name": "Alpha"},
		QuarantinedAt:  time.Now(),
	}))

	require.NoError(t, s.RecordConflict(ctx, &types.MergeConflict{
		ID:          "c-1",
		LeftSlug:    "alpha-leith",
		RightSlug:   "alpha-edinburgh",
		LeftSource:  "S1",
		RightSource: "S2",
		Similarity:  0.78,
		DistanceM:   600,
		DetectedAt:  time.Now(),
	}))

	conflicts, err := s.ListConflicts(ctx)
	require.NoError(t, err)
	require.Len(t, conflicts, 1)
	assert.Equal(t, 0.78, conflicts[0].Similarity)
	assert.Equal(t, "alpha-leith", conflicts[0].LeftSlug)
}
