package lens

// document is the raw YAML shape of a lens file. Field names mirror the
// on-disk document; validation happens in the loader, not here.
type document struct {
	Schema            schemaDoc                   `yaml:"schema"`
	Facets            map[string]facetDoc         `yaml:"facets"`
	Values            []valueDoc                  `yaml:"values"`
	MappingRules      []mappingRuleDoc            `yaml:"mapping_rules"`
	Modules           map[string]moduleDoc        `yaml:"modules"`
	ModuleTriggers    []moduleTriggerDoc          `yaml:"module_triggers"`
	ConnectorRules    map[string]connectorRuleDoc `yaml:"connector_rules"`
	Vocabulary        []string                    `yaml:"vocabulary"`
	GeographicMarkers []string                    `yaml:"geographic_markers"`
	Groupings         []groupingDoc               `yaml:"groupings"`
}

type schemaDoc struct {
	ID      string `yaml:"id"`
	Version string `yaml:"version"`
}

type facetDoc struct {
	DimensionSource  string `yaml:"dimension_source"`
	UILabel          string `yaml:"ui_label"`
	DisplayMode      string `yaml:"display_mode"`
	Order            int    `yaml:"order"`
	ShowInFilters    bool   `yaml:"show_in_filters"`
	ShowInNavigation bool   `yaml:"show_in_navigation"`
	Icon             string `yaml:"icon"`
}

type valueDoc struct {
	Key            string   `yaml:"key"`
	Facet          string   `yaml:"facet"`
	DisplayName    string   `yaml:"display_name"`
	Description    string   `yaml:"description"`
	SEOSlug        string   `yaml:"seo_slug"`
	SearchKeywords []string `yaml:"search_keywords"`
	IconURL        string   `yaml:"icon_url"`
	Color          string   `yaml:"color"`
}

type mappingRuleDoc struct {
	ID           string   `yaml:"id"`
	Pattern      string   `yaml:"pattern"`
	Canonical    string   `yaml:"canonical"`
	Confidence   float64  `yaml:"confidence"`
	SourceFields []string `yaml:"source_fields"`
}

type moduleDoc struct {
	Description string         `yaml:"description"`
	FieldRules  []fieldRuleDoc `yaml:"field_rules"`
}

type fieldRuleDoc struct {
	RuleID        string           `yaml:"rule_id"`
	TargetPath    string           `yaml:"target_path"`
	Extractor     string           `yaml:"extractor"`
	Pattern       string           `yaml:"pattern"`
	SourceFields  []string         `yaml:"source_fields"`
	Confidence    float64          `yaml:"confidence"`
	Applicability applicabilityDoc `yaml:"applicability"`
	Normalizers   []string         `yaml:"normalizers"`
}

type applicabilityDoc struct {
	Source      []string `yaml:"source"`
	EntityClass []string `yaml:"entity_class"`
}

type moduleTriggerDoc struct {
	When       triggerWhenDoc `yaml:"when"`
	AddModules []string       `yaml:"add_modules"`
	Conditions []conditionDoc `yaml:"conditions"`
}

type triggerWhenDoc struct {
	Facet string `yaml:"facet"`
	Value string `yaml:"value"`
}

type conditionDoc struct {
	Field string   `yaml:"field"`
	AnyOf []string `yaml:"any_of"`
}

type connectorRuleDoc struct {
	Priority int          `yaml:"priority"`
	Triggers []triggerDoc `yaml:"triggers"`
}

type triggerDoc struct {
	Kind     string   `yaml:"kind"`
	Keywords []string `yaml:"keywords"`
	Mode     string   `yaml:"mode"`
}

type groupingDoc struct {
	Name        string   `yaml:"name"`
	EntityClass string   `yaml:"entity_class"`
	AnyRole     []string `yaml:"any_role"`
}
