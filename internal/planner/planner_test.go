package planner

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"prism/internal/connector"
	"prism/internal/lens"
	"prism/internal/types"
)

const planLens = `
schema:
  id: plan-lens
  version: "1"
facets:
  activity:
    dimension_source: canonical_activities
values:
  - key: k1
    facet: activity
    search_keywords: [kayak, paddle]
mapping_rules:
  - id: r1
    pattern: '(?i)\bkayak\b'
    canonical: k1
    confidence: 0.9
connector_rules:
  web_search:
    priority: 5
    triggers:
      - kind: any_keyword_match
        keywords: [kayak]
  gov_feed:
    priority: 10
    triggers:
      - kind: category_search
  places_db:
    priority: 8
    triggers:
      - kind: geographic_match
  enrich_api:
    priority: 3
    triggers:
      - kind: mode_is
        mode: resolve_one
vocabulary: [kayak]
geographic_markers: [near, in]
`

func planRegistry(t *testing.T) *connector.Registry {
	t.Helper()
	reg := connector.NewRegistry()
	specs := []types.ConnectorSpec{
		{Name: "web_search", Phase: types.PhaseDiscovery, TrustLevel: 40, CostPerCallUSD: 0.01, Provides: []string{"context.candidate_urls"}},
		{Name: "gov_feed", Phase: types.PhaseStructured, TrustLevel: 90, CostPerCallUSD: 0.02},
		{Name: "places_db", Phase: types.PhaseStructured, TrustLevel: 70, CostPerCallUSD: 0.05},
		{Name: "enrich_api", Phase: types.PhaseEnrichment, TrustLevel: 60, CostPerCallUSD: 0.03, Requires: []string{"context.candidate_urls", "request.query"}},
	}
	for _, s := range specs {
		require.NoError(t, reg.Register(s, nil))
	}
	return reg
}

func planContract(t *testing.T) *lens.Contract {
	t.Helper()
	c, err := lens.Load([]byte(planLens), planRegistry(t))
	require.NoError(t, err)
	return c
}

func TestAnalyzeQuery(t *testing.T) {
	c := planContract(t)

	t.Run("keywords and geography", func(t *testing.T) {
		f := AnalyzeQuery("Kayak club near Leith Harbour", c)
		assert.Equal(t, "kayak club near leith harbour", f.NormalizedQuery)
		assert.Equal(t, []string{"kayak"}, f.DetectedKeywords)
		assert.Equal(t, []string{"leith harbour"}, f.GeographicHints)
		assert.True(t, f.IsSportsLike)
	})

	t.Run("category search when keywords dominate", func(t *testing.T) {
		f := AnalyzeQuery("kayak near leith", c)
		assert.True(t, f.LooksLikeCategorySearch)
	})

	t.Run("no vocabulary no features", func(t *testing.T) {
		f := AnalyzeQuery("quarterly tax filing", c)
		assert.Empty(t, f.DetectedKeywords)
		assert.False(t, f.IsSportsLike)
		assert.False(t, f.LooksLikeCategorySearch)
	})
}

func TestBuildPlan_Selection(t *testing.T) {
	c := planContract(t)
	reg := planRegistry(t)

	t.Run("keyword trigger selects discovery connector", func(t *testing.T) {
		plan, err := BuildPlan(types.IngestRequest{Mode: types.ModeDiscoverMany, Query: "kayak near leith"}, c, reg)
		require.NoError(t, err)
		assert.Contains(t, plan.PhaseMap[types.PhaseDiscovery], "web_search")
		assert.Contains(t, plan.PhaseMap[types.PhaseStructured], "gov_feed")
		assert.Contains(t, plan.PhaseMap[types.PhaseStructured], "places_db")
	})

	t.Run("resolve_one keeps enrichment capable connectors", func(t *testing.T) {
		plan, err := BuildPlan(types.IngestRequest{Mode: types.ModeResolveOne, Query: "kayak near leith"}, c, reg)
		require.NoError(t, err)
		assert.Contains(t, plan.PhaseMap[types.PhaseEnrichment], "enrich_api")
		// web_search has a keyword trigger so it survives resolve_one.
		assert.Contains(t, plan.PhaseMap[types.PhaseDiscovery], "web_search")
	})

	t.Run("phase lists are alphabetical", func(t *testing.T) {
		plan, err := BuildPlan(types.IngestRequest{Mode: types.ModeDiscoverMany, Query: "kayak near leith"}, c, reg)
		require.NoError(t, err)
		structured := plan.PhaseMap[types.PhaseStructured]
		assert.Equal(t, []string{"gov_feed", "places_db"}, structured)
	})

	t.Run("budget estimate sums per call costs", func(t *testing.T) {
		plan, err := BuildPlan(types.IngestRequest{Mode: types.ModeDiscoverMany, Query: "kayak near leith"}, c, reg)
		require.NoError(t, err)
		assert.InDelta(t, 0.01+0.02+0.05, plan.EstBudgetUSD, 1e-9)
	})
}

func TestBuildPlan_DepGraph(t *testing.T) {
	c := planContract(t)
	reg := planRegistry(t)

	plan, err := BuildPlan(types.IngestRequest{Mode: types.ModeResolveOne, Query: "kayak near leith"}, c, reg)
	require.NoError(t, err)

	// enrich_api requires context.candidate_urls provided by web_search.
	assert.Equal(t, []string{"web_search"}, plan.DepGraph["enrich_api"])
	// request.* entries are data-only and create no edges.
	assert.Len(t, plan.DepGraph["enrich_api"], 1)
}

func TestBuildPlan_ForwardDependencyFails(t *testing.T) {
	c := planContract(t)
	reg := connector.NewRegistry()
	require.NoError(t, reg.Register(types.ConnectorSpec{
		Name: "web_search", Phase: types.PhaseDiscovery, TrustLevel: 40,
		Requires: []string{"context.enriched"},
	}, nil))
	require.NoError(t, reg.Register(types.ConnectorSpec{
		Name: "gov_feed", Phase: types.PhaseStructured, TrustLevel: 90,
		Provides: []string{"context.enriched"},
	}, nil))
	require.NoError(t, reg.Register(types.ConnectorSpec{Name: "places_db", Phase: types.PhaseStructured, TrustLevel: 70}, nil))
	require.NoError(t, reg.Register(types.ConnectorSpec{Name: "enrich_api", Phase: types.PhaseEnrichment, TrustLevel: 60}, nil))

	_, err := BuildPlan(types.IngestRequest{Mode: types.ModeDiscoverMany, Query: "kayak near leith"}, c, reg)
	require.Error(t, err)
	var planErr *Error
	require.ErrorAs(t, err, &planErr)
	assert.Contains(t, planErr.Reason, "backward")
}

func TestBuildPlan_BudgetFilter(t *testing.T) {
	c := planContract(t)
	reg := planRegistry(t)

	plan, err := BuildPlan(types.IngestRequest{
		Mode:      types.ModeDiscoverMany,
		Query:     "kayak near leith",
		BudgetUSD: 0.03,
	}, c, reg)
	require.NoError(t, err)

	// places_db ($0.05) cannot fit a $0.03 budget alongside the rest, but
	// every phase keeps its highest-priority connector.
	names := make(map[string]bool)
	for _, s := range plan.Connectors {
		names[s.Name] = true
	}
	assert.True(t, names["gov_feed"], "highest priority structured connector must survive")
	assert.False(t, names["places_db"], "expensive low-value connector should be filtered")
}
