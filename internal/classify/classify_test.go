package classify

import (
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prism/internal/connector"
	"prism/internal/lens"
	"prism/internal/types"
)

func coords(lat, lng float64) (*float64, *float64) {
	return &lat, &lng
}

func TestClassify(t *testing.T) {
	lat, lng := coords(55.95, -3.18)
	now := time.Now()

	cases := []struct {
		name  string
		prims types.Primitives
		want  string
	}{
		{"coordinates and name", types.Primitives{EntityName: "X", Latitude: lat, Longitude: lng}, ClassPlace},
		{"structured address and name", types.Primitives{EntityName: "X", StreetAddress: "1 Main St", City: "Leith"}, ClassPlace},
		{"person name", types.Primitives{GivenName: "Ada", FamilyName: "L"}, ClassPerson},
		{"person name with geography is a place", types.Primitives{EntityName: "Ada's Studio", GivenName: "Ada", Latitude: lat, Longitude: lng}, ClassPlace},
		{"organization name alone", types.Primitives{OrgName: "Acme Ltd"}, ClassOrganization},
		{"time range", types.Primitives{EntityName: "X", TimeStart: &now}, ClassEvent},
		{"nothing structural", types.Primitives{Description: "something"}, ClassThing},
		{"name without geography", types.Primitives{EntityName: "X"}, ClassThing},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(&tc.prims))
		})
	}
}

// The classifier must stay structural: its source may not mention any term a
// lens declares as vocabulary or as a canonical value.
func TestClassifierPurity(t *testing.T) {
	src, err := os.ReadFile("classify.go")
	require.NoError(t, err)
	source := strings.ToLower(string(src))

	registry := connector.NewRegistry()
	if err := registry.LoadSpecsFile("../../connectors.yaml"); err != nil {
		t.Skipf("no bundled connector registry available: %v", err)
	}
	contract, err := lens.LoadFile("../../lenses/sports.yaml", registry)
	if err != nil {
		t.Skipf("no bundled lens available: %v", err)
	}

	var terms []string
	terms = append(terms, contract.Vocabulary...)
	for _, v := range contract.Values {
		terms = append(terms, v.Key)
		terms = append(terms, v.SearchKeywords...)
	}

	for _, term := range terms {
		term = strings.ToLower(term)
		if len(term) < 4 {
			continue // short terms collide with ordinary identifiers
		}
		assert.NotContains(t, source, term, "classifier source mentions lens term %q", term)
	}
}
