package planner

import (
	"fmt"
	"sort"
	"strings"

	"prism/internal/connector"
	"prism/internal/lens"
	"prism/internal/types"
)

const costEpsilon = 0.0001

// Error is a fatal planning failure (invalid dependency graph, unknown
// phase). Surfaced immediately; never recorded as a run error.
type Error struct {
	Reason string
}

func (e *Error) Error() string { return "planning error: " + e.Reason }

// Kind classifies the error for the run taxonomy.
func (e *Error) Kind() types.ErrorKind { return types.KindPlanning }

// ExecutionPlan is the planner's pure output: the selected connectors with
// phases, a backward-pointing dependency graph, and a cost estimate.
type ExecutionPlan struct {
	Connectors   []types.ConnectorSpec    `json:"connectors"`
	PhaseMap     map[types.Phase][]string `json:"phase_map"`
	DepGraph     map[string][]string      `json:"dep_graph,omitempty"`
	EstBudgetUSD float64                  `json:"est_budget_usd"`
	Features     types.QueryFeatures      `json:"features"`
}

// PhaseConnectors returns the specs for one phase in alphabetical order,
// which is also their deterministic launch order.
func (p *ExecutionPlan) PhaseConnectors(phase types.Phase) []types.ConnectorSpec {
	var specs []types.ConnectorSpec
	for _, name := range p.PhaseMap[phase] {
		for _, s := range p.Connectors {
			if s.Name == name {
				specs = append(specs, s)
				break
			}
		}
	}
	return specs
}

// PhaseCost sums the per-call cost estimate for one phase.
func (p *ExecutionPlan) PhaseCost(phase types.Phase) float64 {
	var cost float64
	for _, s := range p.PhaseConnectors(phase) {
		cost += s.CostPerCallUSD
	}
	return cost
}

// BuildPlan selects connectors by lens rules against the query features,
// assigns them to their declared phases, applies mode policy and cost-benefit
// filtering, and derives the dependency graph. Pure function; all inputs are
// read-only.
func BuildPlan(req types.IngestRequest, contract *lens.Contract, registry *connector.Registry) (*ExecutionPlan, error) {
	features := AnalyzeQuery(req.Query, contract)

	selected := selectConnectors(req, features, contract, registry)
	selected = applyModePolicy(req.Mode, selected, contract, registry)
	if req.BudgetUSD > 0 {
		selected = applyBudgetFilter(selected, contract, req.BudgetUSD)
	}

	plan := &ExecutionPlan{
		PhaseMap: make(map[types.Phase][]string),
		Features: features,
	}

	// Alphabetical within each phase: the deterministic execution order.
	sort.Slice(selected, func(i, j int) bool { return selected[i].Name < selected[j].Name })
	for _, spec := range selected {
		plan.Connectors = append(plan.Connectors, spec)
		plan.PhaseMap[spec.Phase] = append(plan.PhaseMap[spec.Phase], spec.Name)
		plan.EstBudgetUSD += spec.CostPerCallUSD
	}

	depGraph, err := buildDepGraph(plan.Connectors)
	if err != nil {
		return nil, err
	}
	plan.DepGraph = depGraph

	return plan, nil
}

// selectConnectors evaluates each lens connector rule's triggers. Any
// matching trigger adds the connector.
func selectConnectors(req types.IngestRequest, features types.QueryFeatures, contract *lens.Contract, registry *connector.Registry) []types.ConnectorSpec {
	var selected []types.ConnectorSpec
	names := make([]string, 0, len(contract.ConnectorRules))
	for name := range contract.ConnectorRules {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		rule := contract.ConnectorRules[name]
		spec, ok := registry.Spec(name)
		if !ok {
			continue // gate 3 guarantees this at load time; skip defensively at plan time
		}
		for _, trigger := range rule.Triggers {
			if triggerMatches(trigger, req, features) {
				selected = append(selected, spec)
				break
			}
		}
	}
	return selected
}

func triggerMatches(t lens.ConnectorTrigger, req types.IngestRequest, features types.QueryFeatures) bool {
	switch t.Kind {
	case "any_keyword_match":
		for _, kw := range t.Keywords {
			for _, detected := range features.DetectedKeywords {
				if strings.EqualFold(kw, detected) {
					return true
				}
			}
		}
		return false
	case "all_keyword_match":
		if len(t.Keywords) == 0 {
			return false
		}
		detected := make(map[string]bool, len(features.DetectedKeywords))
		for _, d := range features.DetectedKeywords {
			detected[d] = true
		}
		for _, kw := range t.Keywords {
			if !detected[strings.ToLower(kw)] {
				return false
			}
		}
		return true
	case "geographic_match":
		return len(features.GeographicHints) > 0
	case "category_search":
		return features.LooksLikeCategorySearch
	case "mode_is":
		return string(req.Mode) == t.Mode
	}
	return false
}

// applyModePolicy adjusts the selection for the run mode. discover_many adds
// every lens-referenced discovery connector for breadth; resolve_one keeps
// only structured and enrichment connectors plus discovery connectors that
// matched a trigger explicitly.
func applyModePolicy(mode types.Mode, selected []types.ConnectorSpec, contract *lens.Contract, registry *connector.Registry) []types.ConnectorSpec {
	switch mode {
	case types.ModeDiscoverMany:
		have := make(map[string]bool, len(selected))
		for _, s := range selected {
			have[s.Name] = true
		}
		names := make([]string, 0, len(contract.ConnectorRules))
		for name := range contract.ConnectorRules {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if have[name] {
				continue
			}
			if spec, ok := registry.Spec(name); ok && spec.Phase == types.PhaseDiscovery {
				selected = append(selected, spec)
			}
		}
		return selected

	case types.ModeResolveOne:
		kept := selected[:0]
		for _, s := range selected {
			if s.Phase != types.PhaseDiscovery {
				kept = append(kept, s)
				continue
			}
			// Discovery connectors survive resolve_one only on an explicit
			// keyword trigger, not on mode or geography alone.
			if hasKeywordTrigger(contract.ConnectorRules[s.Name]) {
				kept = append(kept, s)
			}
		}
		return kept
	}
	return selected
}

func hasKeywordTrigger(rule lens.ConnectorRule) bool {
	for _, t := range rule.Triggers {
		if t.Kind == "any_keyword_match" || t.Kind == "all_keyword_match" {
			return true
		}
	}
	return false
}

// applyBudgetFilter keeps the best-value connectors whose cumulative cost
// fits the budget, ranked by trust per dollar. The highest-priority spot in
// each phase is always retained so no phase starves entirely.
func applyBudgetFilter(selected []types.ConnectorSpec, contract *lens.Contract, budget float64) []types.ConnectorSpec {
	if len(selected) == 0 {
		return selected
	}

	// Highest lens priority per phase is protected from the filter.
	protected := make(map[string]bool)
	for _, phase := range types.PhaseOrder {
		bestName := ""
		bestPriority := -1
		for _, s := range selected {
			if s.Phase != phase {
				continue
			}
			p := contract.ConnectorRules[s.Name].Priority
			if p > bestPriority || (p == bestPriority && (bestName == "" || s.Name < bestName)) {
				bestName, bestPriority = s.Name, p
			}
		}
		if bestName != "" {
			protected[bestName] = true
		}
	}

	ranked := make([]types.ConnectorSpec, len(selected))
	copy(ranked, selected)
	sort.Slice(ranked, func(i, j int) bool {
		vi := float64(ranked[i].TrustLevel) / (ranked[i].CostPerCallUSD + costEpsilon)
		vj := float64(ranked[j].TrustLevel) / (ranked[j].CostPerCallUSD + costEpsilon)
		if vi != vj {
			return vi > vj
		}
		return ranked[i].Name < ranked[j].Name
	})

	var kept []types.ConnectorSpec
	var cumulative float64
	for _, s := range ranked {
		if protected[s.Name] || cumulative+s.CostPerCallUSD <= budget {
			kept = append(kept, s)
			cumulative += s.CostPerCallUSD
		}
	}
	return kept
}

// buildDepGraph derives connector dependencies: a requires[] entry beginning
// with "context." creates an edge to every selected connector whose
// provides[] lists the same key. Entries beginning with "request." or
// "query_features." are data-only. Edges must point to earlier phases.
func buildDepGraph(selected []types.ConnectorSpec) (map[string][]string, error) {
	providers := make(map[string][]string)
	phaseOf := make(map[string]types.Phase, len(selected))
	for _, s := range selected {
		phaseOf[s.Name] = s.Phase
		for _, p := range s.Provides {
			providers[p] = append(providers[p], s.Name)
		}
	}
	for key := range providers {
		sort.Strings(providers[key])
	}

	graph := make(map[string][]string)
	for _, s := range selected {
		for _, req := range s.Requires {
			if !strings.HasPrefix(req, "context.") {
				continue
			}
			for _, provider := range providers[req] {
				if provider == s.Name {
					return nil, &Error{Reason: fmt.Sprintf("connector %q depends on itself via %q", s.Name, req)}
				}
				if phaseOf[provider].Index() >= s.Phase.Index() {
					return nil, &Error{Reason: fmt.Sprintf(
						"connector %q (phase %s) depends on %q (phase %s); dependencies must point backward",
						s.Name, s.Phase, provider, phaseOf[provider])}
				}
				graph[s.Name] = append(graph[s.Name], provider)
			}
		}
		sort.Strings(graph[s.Name])
	}
	return graph, nil
}
