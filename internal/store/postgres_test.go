package store

import (
	"context"
	"database/sql/driver"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prism/internal/types"
)

func newMockStore(t *testing.T) (*PostgresStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	mock.ExpectExec("CREATE TABLE IF NOT EXISTS entities").WillReturnResult(sqlmock.NewResult(0, 0))
	s, err := NewPostgresStore(db, nil)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return s, mock
}

func TestPostgresStore_UpsertEntity(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO entities").
		WithArgs(
			"id-1", "alpha-leith", "place", "Alpha", "", "",
			"", "", "Leith", "", "",
			nil, nil, "+441234567890", "", "", "", "",
			nil, nil,
			pq.Array([]string{}),
			pq.Array([]string{"climbing"}),
			pq.Array([]string{}),
			pq.Array([]string{}),
			pq.Array([]string{}),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(), sqlmock.AnyArg(),
			sqlmock.AnyArg(), sqlmock.AnyArg(),
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpsertEntity(context.Background(), &types.Entity{
		ID:          "id-1",
		Slug:        "alpha-leith",
		EntityClass: "place",
		Primitives: types.Primitives{
			EntityName: "Alpha",
			City:       "Leith",
			Phone:      "+441234567890",
		},
		CanonicalActivities: []string{"climbing"},
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_QueryEntities_Operators(t *testing.T) {
	s, mock := newMockStore(t)

	cols := []string{
		"id", "slug", "entity_class", "entity_name", "given_name", "family_name",
		"org_name", "street_address", "city", "postcode", "country",
		"latitude", "longitude", "phone", "email", "website_url", "description", "summary",
		"time_start", "time_end",
		"raw_categories",
		"canonical_activities", "canonical_roles", "canonical_place_types", "canonical_access",
		"modules", "field_confidence", "source_info",
		"external_ids", "raw_observations", "structural_counts",
		"created_at", "updated_at",
	}
	row := []driverValueList{{
		"id-1", "alpha-leith", "place", "Alpha", "", "",
		"", "", "Leith", "", "",
		nil, nil, "", "", "", "", "",
		nil, nil,
		"{}",
		`{climbing}`, "{}", "{}", "{}",
		[]byte(`{}`), []byte(`{}`), []byte(`{}`),
		[]byte(`{}`), []byte(`{}`), []byte(`{}`),
		time.Now(), time.Now(),
	}}

	t.Run("hasSome uses overlap", func(t *testing.T) {
		mock.ExpectQuery(`canonical_activities && \$1 ORDER BY slug`).
			WillReturnRows(mockRows(cols, row))
		got, err := s.QueryEntities(context.Background(), []DimensionFilter{
			{Dimension: types.DimActivities, Values: []string{"climbing"}, Match: MatchHasSome},
		})
		require.NoError(t, err)
		require.Len(t, got, 1)
		assert.Equal(t, []string{"climbing"}, got[0].CanonicalActivities)
	})

	t.Run("hasEvery uses containment", func(t *testing.T) {
		mock.ExpectQuery(`canonical_place_types @> \$1 ORDER BY slug`).
			WillReturnRows(mockRows(cols, nil))
		got, err := s.QueryEntities(context.Background(), []DimensionFilter{
			{Dimension: types.DimPlaceTypes, Values: []string{"gym", "pool"}, Match: MatchHasEvery},
		})
		require.NoError(t, err)
		assert.Empty(t, got)
	})

	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgresStore_RecordConflict(t *testing.T) {
	s, mock := newMockStore(t)

	mock.ExpectExec("INSERT INTO merge_conflicts").
		WithArgs("c-1", "a", "b", "S1", "S2", 0.78, 600.0, sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.RecordConflict(context.Background(), &types.MergeConflict{
		ID: "c-1", LeftSlug: "a", RightSlug: "b",
		LeftSource: "S1", RightSource: "S2",
		Similarity: 0.78, DistanceM: 600,
		DetectedAt: time.Now(),
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

type driverValueList []driver.Value

func mockRows(cols []string, rows []driverValueList) *sqlmock.Rows {
	r := sqlmock.NewRows(cols)
	for _, row := range rows {
		r.AddRow(row...)
	}
	return r
}
