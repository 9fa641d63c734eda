package extractor

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prism/internal/types"
)

func payload(source string, data map[string]any) types.RawPayload {
	return types.RawPayload{Source: source, Data: data}
}

func TestGenericJSON_Extract(t *testing.T) {
	g := NewGenericJSON("gov_feed")

	record, err := g.Extract(context.Background(), payload("gov_feed", map[string]any{
		"name":        "Alpha K1 Centre",
		"address":     "1 Main St",
		"lat":         55.95,
		"lng":         -3.18,
		"description": "3 units available",
		"id":          "gov-123",
		"obscure_key": "kept opaque",
	}))
	require.NoError(t, err)

	assert.Equal(t, "Alpha K1 Centre", record[types.FieldEntityName])
	assert.Equal(t, "1 Main St", record[types.FieldStreetAddress])
	assert.Equal(t, 55.95, record[types.FieldLatitude])

	ids, ok := record[types.FieldExternalIDs].(map[string]map[string]string)
	require.True(t, ok)
	assert.Equal(t, "gov-123", ids["gov_feed"]["id"])

	obs, ok := record[types.FieldRawObservations].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "kept opaque", obs["obscure_key"])
	assert.NotContains(t, obs, "name", "claimed fields must not leak into raw_observations")
}

// Every registered extractor's output key set must stay inside the primitive
// contract for any payload it accepts.
func TestExtractorPurityContract(t *testing.T) {
	payloads := []map[string]any{
		{"name": "A", "lat": 1.0, "lng": 2.0},
		{"title": "B", "categories": []any{"x", "y"}, "weird": map[string]any{"deep": true}},
		{"id": "z9", "phone": "+441234567890", "email": "a@b.co"},
	}

	reg := NewRegistry()
	require.NoError(t, reg.Register(NewGenericJSON("s1")))

	for _, source := range reg.Sources() {
		e, _ := reg.Get(source)
		for _, data := range payloads {
			record, err := e.Extract(context.Background(), payload(source, data))
			require.NoError(t, err)
			assert.Empty(t, record.IllegalKeys(), "extractor %q emitted illegal keys", source)
		}
	}
}

func TestRegistry_ProcessPurityViolation(t *testing.T) {
	reg := NewRegistry()
	rogue := &rogueExtractor{}
	require.NoError(t, reg.Register(rogue))

	_, err := reg.Process(context.Background(), payload("rogue", map[string]any{"name": "X"}))
	require.Error(t, err)
	var purity *types.PurityError
	require.ErrorAs(t, err, &purity)
	assert.Equal(t, []string{"canonical_activities"}, purity.IllegalKeys)
}

// rogueExtractor violates the purity contract by emitting a canonical
// dimension.
type rogueExtractor struct{}

func (r *rogueExtractor) Source() string { return "rogue" }

func (r *rogueExtractor) Extract(_ context.Context, raw types.RawPayload) (types.PrimitiveRecord, error) {
	return types.PrimitiveRecord{
		types.FieldEntityName:  "X",
		"canonical_activities": []string{"k1"},
	}, nil
}

func (r *rogueExtractor) ExtractRichText(types.RawPayload) []string { return nil }

func TestValidate_Normalization(t *testing.T) {
	t.Run("phone to E164", func(t *testing.T) {
		lat, lng := 55.0, -3.0
		p := Validate(types.Primitives{Phone: "+44 1234 567-890", Latitude: &lat, Longitude: &lng})
		assert.Equal(t, "+441234567890", p.Phone)
	})

	t.Run("00 prefix rewritten", func(t *testing.T) {
		p := Validate(types.Primitives{Phone: "0044 1234 567890"})
		assert.Equal(t, "+441234567890", p.Phone)
	})

	t.Run("invalid phone nulled not inferred", func(t *testing.T) {
		p := Validate(types.Primitives{Phone: "0131 555 0100"})
		assert.Empty(t, p.Phone)
	})

	t.Run("postcode uppercased", func(t *testing.T) {
		p := Validate(types.Primitives{Postcode: "eh6  6qq"})
		assert.Equal(t, "EH6 6QQ", p.Postcode)
	})

	t.Run("out of range coordinates nulled as a pair", func(t *testing.T) {
		lat, lng := 95.0, -3.18
		p := Validate(types.Primitives{Latitude: &lat, Longitude: &lng})
		assert.Nil(t, p.Latitude)
		assert.Nil(t, p.Longitude)
	})

	t.Run("lone coordinate dropped", func(t *testing.T) {
		lat := 55.95
		p := Validate(types.Primitives{Latitude: &lat})
		assert.Nil(t, p.Latitude)
	})

	t.Run("bad url nulled", func(t *testing.T) {
		p := Validate(types.Primitives{WebsiteURL: "not a url"})
		assert.Empty(t, p.WebsiteURL)
	})
}

func TestDecode_RoundTrip(t *testing.T) {
	record := types.PrimitiveRecord{
		types.FieldEntityName:       "Alpha",
		types.FieldLatitude:         55.95,
		types.FieldLongitude:        -3.18,
		types.FieldRawCategories:    []any{"sport", "leisure"},
		types.FieldExternalIDs:      map[string]any{"s1": map[string]any{"id": "x"}},
		types.FieldStructuralCounts: map[string]any{"present_fields": 3.0},
	}

	p, err := Decode(record)
	require.NoError(t, err)
	assert.Equal(t, "Alpha", p.EntityName)
	require.NotNil(t, p.Latitude)
	assert.Equal(t, 55.95, *p.Latitude)
	assert.Equal(t, []string{"sport", "leisure"}, p.RawCategories)
	assert.Equal(t, "x", p.ExternalIDs["s1"]["id"])
	assert.Equal(t, 3, p.StructuralCounts["present_fields"])
}

func TestDecode_WrongType(t *testing.T) {
	_, err := Decode(types.PrimitiveRecord{types.FieldEntityName: 42})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "entity_name")
}
