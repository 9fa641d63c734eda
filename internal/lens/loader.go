package lens

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/gowebpki/jcs"
	"gopkg.in/yaml.v3"

	"prism/internal/types"
)

// ConnectorRegistry is the slice of the connector registry the loader needs
// for gate 3: resolving referenced connector names.
type ConnectorRegistry interface {
	Has(name string) bool
}

// Known string tags dispatched by the mapping engine.
const (
	ExtractorRegexCapture  = "regex_capture"
	ExtractorNumericParser = "numeric_parser"
)

var knownFieldExtractors = map[string]bool{
	ExtractorRegexCapture:  true,
	ExtractorNumericParser: true,
}

var knownNormalizers = map[string]bool{
	"trim":          true,
	"round_integer": true,
	"lowercase":     true,
}

var knownConnectorTriggerKinds = map[string]bool{
	"any_keyword_match": true,
	"all_keyword_match": true,
	"geographic_match":  true,
	"category_search":   true,
	"mode_is":           true,
}

// LoadFile reads and validates a lens document from disk.
func LoadFile(path string, registry ConnectorRegistry) (*Contract, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, configErrorf(path, "", "cannot read lens file: %v", err)
	}
	return Load(data, registry)
}

// Load parses and validates lens source through the six gates, in order:
// schema shape, reference integrity, connector registry, identifier
// uniqueness, regex compilability, and smoke coverage. Any failure is fatal;
// no partial contract is ever returned. The returned Contract is immutable.
func Load(source []byte, registry ConnectorRegistry) (*Contract, error) {
	// Parse twice: a raw tree for the shape gate and the content hash, and
	// the typed document for everything else.
	var raw map[string]any
	if err := yaml.Unmarshal(source, &raw); err != nil {
		return nil, configErrorf("", "", "lens is not valid YAML: %v", err)
	}
	if err := gateSchemaShape(raw); err != nil {
		return nil, err
	}

	var doc document
	if err := yaml.Unmarshal(source, &doc); err != nil {
		return nil, configErrorf("", "", "lens does not match the expected document shape: %v", err)
	}

	hash, err := contentHash(raw)
	if err != nil {
		return nil, configErrorf("", "", "cannot compute content hash: %v", err)
	}

	c, err := buildContract(&doc, hash)
	if err != nil {
		return nil, err
	}
	if err := gateReferences(c); err != nil {
		return nil, err
	}
	if err := gateConnectorRegistry(c, registry); err != nil {
		return nil, err
	}
	if err := gateUniqueness(&doc); err != nil {
		return nil, err
	}
	if err := gateCompileRegex(c); err != nil {
		return nil, err
	}
	if err := gateSmokeCoverage(c); err != nil {
		return nil, err
	}

	return c, nil
}

// contentHash computes sha256 over the RFC 8785 canonical JSON form of the
// parsed document. Key order in the source file does not affect the hash;
// array order does. The hash determines replay equivalence.
func contentHash(raw map[string]any) (string, error) {
	plain, err := json.Marshal(raw)
	if err != nil {
		return "", err
	}
	canonical, err := jcs.Transform(plain)
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(canonical)
	return hex.EncodeToString(sum[:]), nil
}

// gateSchemaShape enforces gate 1: required top-level keys present and of
// the right container kind.
func gateSchemaShape(raw map[string]any) error {
	required := []struct {
		key  string
		kind string // "map" or "seq"
	}{
		{"schema", "map"},
		{"facets", "map"},
		{"values", "seq"},
		{"mapping_rules", "seq"},
	}
	for _, req := range required {
		v, ok := raw[req.key]
		if !ok || v == nil {
			return configErrorf(req.key, "", "missing required top-level key %q", req.key)
		}
		switch req.kind {
		case "map":
			if _, ok := v.(map[string]any); !ok {
				return configErrorf(req.key, fmt.Sprintf("%T", v), "top-level key %q must be a mapping", req.key)
			}
		case "seq":
			if _, ok := v.([]any); !ok {
				return configErrorf(req.key, fmt.Sprintf("%T", v), "top-level key %q must be a sequence", req.key)
			}
		}
	}
	return nil
}

// buildContract converts the typed document into a Contract, deriving the
// vocabulary from declared terms plus all value search keywords.
func buildContract(doc *document, hash string) (*Contract, error) {
	if doc.Schema.ID == "" {
		return nil, configErrorf("schema.id", "", "schema.id is required")
	}

	c := &Contract{
		ID:             doc.Schema.ID,
		ContentHash:    hash,
		SchemaVersion:  doc.Schema.Version,
		Facets:         make(map[string]Facet, len(doc.Facets)),
		Modules:        make(map[string]Module, len(doc.Modules)),
		ConnectorRules: make(map[string]ConnectorRule, len(doc.ConnectorRules)),
	}

	for key, f := range doc.Facets {
		c.Facets[key] = Facet{
			Key:              key,
			DimensionSource:  types.Dimension(f.DimensionSource),
			UILabel:          f.UILabel,
			DisplayMode:      f.DisplayMode,
			Order:            f.Order,
			ShowInFilters:    f.ShowInFilters,
			ShowInNavigation: f.ShowInNavigation,
			Icon:             f.Icon,
		}
	}

	vocab := make(map[string]bool)
	for _, w := range doc.Vocabulary {
		vocab[strings.ToLower(w)] = true
	}

	c.Values = make([]Value, 0, len(doc.Values))
	for _, v := range doc.Values {
		c.Values = append(c.Values, Value{
			Key:            v.Key,
			Facet:          v.Facet,
			DisplayName:    v.DisplayName,
			Description:    v.Description,
			SEOSlug:        v.SEOSlug,
			SearchKeywords: v.SearchKeywords,
			IconURL:        v.IconURL,
			Color:          v.Color,
		})
		for _, kw := range v.SearchKeywords {
			vocab[strings.ToLower(kw)] = true
		}
	}

	c.Vocabulary = make([]string, 0, len(vocab))
	for w := range vocab {
		c.Vocabulary = append(c.Vocabulary, w)
	}
	sort.Strings(c.Vocabulary)

	c.GeographicMarkers = make([]string, 0, len(doc.GeographicMarkers))
	for _, m := range doc.GeographicMarkers {
		c.GeographicMarkers = append(c.GeographicMarkers, strings.ToLower(m))
	}
	sort.Strings(c.GeographicMarkers)

	c.MappingRules = make([]MappingRule, 0, len(doc.MappingRules))
	for i, r := range doc.MappingRules {
		id := r.ID
		if id == "" {
			id = fmt.Sprintf("rule_%d", i)
		}
		c.MappingRules = append(c.MappingRules, MappingRule{
			ID:           id,
			Pattern:      r.Pattern,
			Canonical:    r.Canonical,
			Confidence:   r.Confidence,
			SourceFields: r.SourceFields,
		})
	}

	for key, m := range doc.Modules {
		mod := Module{Key: key, Description: m.Description}
		for _, fr := range m.FieldRules {
			mod.FieldRules = append(mod.FieldRules, FieldRule{
				RuleID:       fr.RuleID,
				TargetPath:   fr.TargetPath,
				Extractor:    fr.Extractor,
				Pattern:      fr.Pattern,
				SourceFields: fr.SourceFields,
				Confidence:   fr.Confidence,
				Applicability: Applicability{
					Source:      fr.Applicability.Source,
					EntityClass: fr.Applicability.EntityClass,
				},
				Normalizers: fr.Normalizers,
			})
		}
		c.Modules[key] = mod
	}

	for _, t := range doc.ModuleTriggers {
		trig := ModuleTrigger{
			When:       TriggerWhen{Facet: t.When.Facet, Value: t.When.Value},
			AddModules: t.AddModules,
		}
		for _, cond := range t.Conditions {
			trig.Conditions = append(trig.Conditions, TriggerCondition{Field: cond.Field, AnyOf: cond.AnyOf})
		}
		c.ModuleTriggers = append(c.ModuleTriggers, trig)
	}

	for name, r := range doc.ConnectorRules {
		rule := ConnectorRule{Priority: r.Priority}
		for _, t := range r.Triggers {
			rule.Triggers = append(rule.Triggers, ConnectorTrigger{
				Kind:     t.Kind,
				Keywords: t.Keywords,
				Mode:     t.Mode,
			})
		}
		c.ConnectorRules[name] = rule
	}

	for _, g := range doc.Groupings {
		c.Groupings = append(c.Groupings, GroupingRule{
			Name:        g.Name,
			EntityClass: g.EntityClass,
			AnyRole:     g.AnyRole,
		})
	}

	c.valueByKey = make(map[string]*Value, len(c.Values))
	for i := range c.Values {
		c.valueByKey[c.Values[i].Key] = &c.Values[i]
	}

	return c, nil
}

// gateReferences enforces gate 2: every cross-reference inside the lens
// resolves, dimension sources are one of the four fixed names, confidences
// are in range, and dispatch tags are known.
func gateReferences(c *Contract) error {
	for key, f := range c.Facets {
		if !types.ValidDimension(f.DimensionSource) {
			return configErrorf("facets."+key+".dimension_source", string(f.DimensionSource),
				"facet %q references unknown dimension source", key)
		}
	}

	for _, v := range c.Values {
		if _, ok := c.Facets[v.Facet]; !ok {
			return configErrorf("values."+v.Key+".facet", v.Facet,
				"value %q references unknown facet", v.Key)
		}
	}

	for _, r := range c.MappingRules {
		if c.valueByKey[r.Canonical] == nil {
			return configErrorf("mapping_rules."+r.ID+".canonical", r.Canonical,
				"mapping rule %q references unknown canonical value", r.ID)
		}
		if r.Confidence < 0 || r.Confidence > 1 {
			return configErrorf("mapping_rules."+r.ID+".confidence", fmt.Sprintf("%g", r.Confidence),
				"mapping rule %q confidence must be in [0,1]", r.ID)
		}
	}

	for key, mod := range c.Modules {
		for _, fr := range mod.FieldRules {
			if !knownFieldExtractors[fr.Extractor] {
				return configErrorf("modules."+key+"."+fr.RuleID+".extractor", fr.Extractor,
					"field rule %q uses unknown extractor tag", fr.RuleID)
			}
			if fr.Confidence < 0 || fr.Confidence > 1 {
				return configErrorf("modules."+key+"."+fr.RuleID+".confidence", fmt.Sprintf("%g", fr.Confidence),
					"field rule %q confidence must be in [0,1]", fr.RuleID)
			}
			for _, n := range fr.Normalizers {
				if !knownNormalizers[n] {
					return configErrorf("modules."+key+"."+fr.RuleID+".normalizers", n,
						"field rule %q uses unknown normalizer", fr.RuleID)
				}
			}
		}
	}

	for i, t := range c.ModuleTriggers {
		path := fmt.Sprintf("module_triggers[%d]", i)
		if _, ok := c.Facets[t.When.Facet]; !ok {
			return configErrorf(path+".when.facet", t.When.Facet, "trigger references unknown facet")
		}
		v := c.valueByKey[t.When.Value]
		if v == nil {
			return configErrorf(path+".when.value", t.When.Value, "trigger references unknown value")
		}
		if v.Facet != t.When.Facet {
			return configErrorf(path+".when", t.When.Value,
				"trigger value %q does not belong to facet %q", t.When.Value, t.When.Facet)
		}
		for _, m := range t.AddModules {
			if _, ok := c.Modules[m]; !ok {
				return configErrorf(path+".add_modules", m, "trigger references unknown module")
			}
		}
	}

	for name, rule := range c.ConnectorRules {
		for i, t := range rule.Triggers {
			if !knownConnectorTriggerKinds[t.Kind] {
				return configErrorf(fmt.Sprintf("connector_rules.%s.triggers[%d].kind", name, i), t.Kind,
					"connector rule %q uses unknown trigger kind", name)
			}
		}
	}

	return nil
}

// gateConnectorRegistry enforces gate 3: every referenced connector name is
// known to the external registry.
func gateConnectorRegistry(c *Contract, registry ConnectorRegistry) error {
	if registry == nil {
		return configErrorf("connector_rules", "", "no connector registry available")
	}
	names := make([]string, 0, len(c.ConnectorRules))
	for name := range c.ConnectorRules {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		if !registry.Has(name) {
			return configErrorf("connector_rules."+name, name,
				"connector %q is not registered", name)
		}
	}
	return nil
}

// gateUniqueness enforces gate 4: value keys globally unique, module keys
// unique (guaranteed by the YAML mapping), field-rule ids unique within a
// module.
func gateUniqueness(doc *document) error {
	seenValues := make(map[string]bool, len(doc.Values))
	for _, v := range doc.Values {
		if v.Key == "" {
			return configErrorf("values", "", "value with empty key")
		}
		if seenValues[v.Key] {
			return configErrorf("values."+v.Key, v.Key, "duplicate value key %q", v.Key)
		}
		seenValues[v.Key] = true
	}

	seenRules := make(map[string]bool, len(doc.MappingRules))
	for _, r := range doc.MappingRules {
		if r.ID == "" {
			continue // synthetic ids assigned in buildContract are unique
		}
		if seenRules[r.ID] {
			return configErrorf("mapping_rules."+r.ID, r.ID, "duplicate mapping rule id %q", r.ID)
		}
		seenRules[r.ID] = true
	}

	for key, mod := range doc.Modules {
		seen := make(map[string]bool, len(mod.FieldRules))
		for _, fr := range mod.FieldRules {
			if fr.RuleID == "" {
				return configErrorf("modules."+key, "", "field rule with empty rule_id in module %q", key)
			}
			if seen[fr.RuleID] {
				return configErrorf("modules."+key+"."+fr.RuleID, fr.RuleID,
					"duplicate field rule id %q in module %q", fr.RuleID, key)
			}
			seen[fr.RuleID] = true
		}
	}

	return nil
}

// gateCompileRegex enforces gate 5: every pattern compiles. Compiled forms
// are retained on the contract.
func gateCompileRegex(c *Contract) error {
	for i := range c.MappingRules {
		r := &c.MappingRules[i]
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return configErrorf("mapping_rules."+r.ID+".pattern", r.Pattern,
				"mapping rule %q pattern does not compile: %v", r.ID, err)
		}
		r.re = re
	}
	for key, mod := range c.Modules {
		for i := range mod.FieldRules {
			fr := &mod.FieldRules[i]
			re, err := regexp.Compile(fr.Pattern)
			if err != nil {
				return configErrorf("modules."+key+"."+fr.RuleID+".pattern", fr.Pattern,
					"field rule %q pattern does not compile: %v", fr.RuleID, err)
			}
			fr.re = re
		}
		c.Modules[key] = mod
	}
	return nil
}

// gateSmokeCoverage enforces gate 6: every facet has at least one value and
// at least one mapping rule that could populate its dimension.
func gateSmokeCoverage(c *Contract) error {
	valuesByFacet := make(map[string]int)
	for _, v := range c.Values {
		valuesByFacet[v.Facet]++
	}

	coveredFacets := make(map[string]bool)
	for _, r := range c.MappingRules {
		if v := c.valueByKey[r.Canonical]; v != nil {
			coveredFacets[v.Facet] = true
		}
	}

	keys := make([]string, 0, len(c.Facets))
	for key := range c.Facets {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	for _, key := range keys {
		if valuesByFacet[key] == 0 {
			return configErrorf("facets."+key, key, "facet %q declares no values", key)
		}
		if !coveredFacets[key] {
			return configErrorf("facets."+key, key,
				"facet %q has no mapping rule that could populate it", key)
		}
	}
	return nil
}
