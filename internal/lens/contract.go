// Package lens loads and validates the domain contract ("lens") that drives
// the harmonization pipeline. A lens declares facets, canonical values,
// mapping rules, modules, triggers, and connector selection policy. It is
// parsed and validated once at bootstrap; the resulting Contract is immutable
// for the life of the process.
package lens

import (
	"regexp"

	"prism/internal/types"
)

// Facet is a user-visible grouping of canonical values, bound to one of the
// four universal dimensions.
type Facet struct {
	Key              string          `json:"key"`
	DimensionSource  types.Dimension `json:"dimension_source"`
	UILabel          string          `json:"ui_label,omitempty"`
	DisplayMode      string          `json:"display_mode,omitempty"`
	Order            int             `json:"order,omitempty"`
	ShowInFilters    bool            `json:"show_in_filters,omitempty"`
	ShowInNavigation bool            `json:"show_in_navigation,omitempty"`
	Icon             string          `json:"icon,omitempty"`
}

// Value is one canonical value declared by the lens. Key is globally unique
// across the lens; the engine treats it as opaque.
type Value struct {
	Key            string   `json:"key"`
	Facet          string   `json:"facet"`
	DisplayName    string   `json:"display_name,omitempty"`
	Description    string   `json:"description,omitempty"`
	SEOSlug        string   `json:"seo_slug,omitempty"`
	SearchKeywords []string `json:"search_keywords,omitempty"`
	IconURL        string   `json:"icon_url,omitempty"`
	Color          string   `json:"color,omitempty"`
}

// MappingRule maps a regex match over primitive fields to a canonical value.
// Rules execute in document order; ordering is preserved from the source.
type MappingRule struct {
	ID           string   `json:"id"`
	Pattern      string   `json:"pattern"`
	Canonical    string   `json:"canonical"`
	Confidence   float64  `json:"confidence"`
	SourceFields []string `json:"source_fields,omitempty"`

	re *regexp.Regexp
}

// Regexp returns the compiled pattern. Non-nil on any rule that came out of
// a validated contract.
func (r *MappingRule) Regexp() *regexp.Regexp { return r.re }

// FieldRule extracts one module field from primitive text. Extractor is a
// string tag ("regex_capture" or "numeric_parser") dispatched by name, never
// by runtime type inspection.
type FieldRule struct {
	RuleID        string        `json:"rule_id"`
	TargetPath    string        `json:"target_path"`
	Extractor     string        `json:"extractor"`
	Pattern       string        `json:"pattern"`
	SourceFields  []string      `json:"source_fields,omitempty"`
	Confidence    float64       `json:"confidence"`
	Applicability Applicability `json:"applicability,omitempty"`
	Normalizers   []string      `json:"normalizers,omitempty"`

	re *regexp.Regexp
}

// Regexp returns the compiled pattern.
func (r *FieldRule) Regexp() *regexp.Regexp { return r.re }

// Applicability restricts a field rule to specific sources or entity
// classes. Empty lists mean no restriction.
type Applicability struct {
	Source      []string `json:"source,omitempty"`
	EntityClass []string `json:"entity_class,omitempty"`
}

// Module is a namespaced bag of fields attached to an entity when a trigger
// fires.
type Module struct {
	Key         string      `json:"key"`
	Description string      `json:"description,omitempty"`
	FieldRules  []FieldRule `json:"field_rules,omitempty"`
}

// TriggerWhen names the facet/value pair that activates a trigger.
type TriggerWhen struct {
	Facet string `json:"facet"`
	Value string `json:"value"`
}

// TriggerCondition further gates a trigger, e.g. on entity_class.
type TriggerCondition struct {
	Field string   `json:"field"`
	AnyOf []string `json:"any_of,omitempty"`
}

// ModuleTrigger attaches modules when a canonical value is present on the
// named facet's dimension. Triggers reference facets and values, never other
// triggers, so the trigger graph is shallow and acyclic by construction.
type ModuleTrigger struct {
	When       TriggerWhen        `json:"when"`
	AddModules []string           `json:"add_modules"`
	Conditions []TriggerCondition `json:"conditions,omitempty"`
}

// ConnectorTrigger is one selection predicate evaluated against query
// features and the request.
type ConnectorTrigger struct {
	Kind     string   `json:"kind"` // any_keyword_match, all_keyword_match, geographic_match, category_search, mode_is
	Keywords []string `json:"keywords,omitempty"`
	Mode     string   `json:"mode,omitempty"`
}

// ConnectorRule declares when a named connector participates in a run.
type ConnectorRule struct {
	Priority int                `json:"priority"`
	Triggers []ConnectorTrigger `json:"triggers"`
}

// GroupingRule computes a view-time grouping from entity_class and
// canonical_roles. Groupings are derived at query time and never persisted.
type GroupingRule struct {
	Name        string   `json:"name"`
	EntityClass string   `json:"entity_class,omitempty"`
	AnyRole     []string `json:"any_role,omitempty"`
}

// Contract is the validated, immutable lens. Constructed only by Load; no
// caller mutates it after bootstrap.
type Contract struct {
	ID            string `json:"id"`
	ContentHash   string `json:"content_hash"`
	SchemaVersion string `json:"schema_version"`

	Facets         map[string]Facet         `json:"facets"`
	Values         []Value                  `json:"values"`
	MappingRules   []MappingRule            `json:"mapping_rules"`
	Modules        map[string]Module        `json:"modules"`
	ModuleTriggers []ModuleTrigger          `json:"module_triggers"`
	ConnectorRules map[string]ConnectorRule `json:"connector_rules"`
	Groupings      []GroupingRule           `json:"groupings,omitempty"`

	// Vocabulary is the lens-declared keyword set (declared terms plus all
	// value search keywords), lowercased, used for query feature detection.
	Vocabulary []string `json:"vocabulary,omitempty"`

	// GeographicMarkers is the lens-declared marker set used to detect
	// geographic hints in queries.
	GeographicMarkers []string `json:"geographic_markers,omitempty"`

	valueByKey map[string]*Value
}

// ValueByKey resolves a canonical value key, or nil.
func (c *Contract) ValueByKey(key string) *Value {
	return c.valueByKey[key]
}

// DimensionOf returns the dimension a canonical value populates, resolved
// through its facet. False when the key or its facet is unknown.
func (c *Contract) DimensionOf(valueKey string) (types.Dimension, bool) {
	v := c.ValueByKey(valueKey)
	if v == nil {
		return "", false
	}
	f, ok := c.Facets[v.Facet]
	if !ok {
		return "", false
	}
	return f.DimensionSource, true
}

// VocabularySet returns the lens vocabulary as a lookup set.
func (c *Contract) VocabularySet() map[string]bool {
	set := make(map[string]bool, len(c.Vocabulary))
	for _, w := range c.Vocabulary {
		set[w] = true
	}
	return set
}

// ComputeGrouping evaluates the lens grouping rules against a persisted
// entity. First matching rule wins; empty string when nothing matches.
func (c *Contract) ComputeGrouping(entityClass string, roles []string) string {
	roleSet := make(map[string]bool, len(roles))
	for _, r := range roles {
		roleSet[r] = true
	}
	for _, g := range c.Groupings {
		if g.EntityClass != "" && g.EntityClass != entityClass {
			continue
		}
		if len(g.AnyRole) > 0 {
			matched := false
			for _, r := range g.AnyRole {
				if roleSet[r] {
					matched = true
					break
				}
			}
			if !matched {
				continue
			}
		}
		return g.Name
	}
	return ""
}
