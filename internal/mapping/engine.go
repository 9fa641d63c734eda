// Package mapping applies a lens contract to extracted primitives: mapping
// rules populate the four canonical dimensions, module triggers activate
// modules, and field rules fill module fields. Given identical primitives
// and an identical contract (same content hash), the output is
// byte-identical; every iteration below runs in declaration or sorted
// order to keep that property.
package mapping

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	"prism/internal/lens"
	"prism/internal/types"
)

// defaultSourceFields is the search set for rules that omit source_fields.
var defaultSourceFields = []string{
	types.FieldEntityName,
	types.FieldDescription,
	types.FieldRawCategories,
	types.FieldSummary,
	types.FieldStreetAddress,
}

// Engine applies one lens contract. Stateless beyond the contract; safe for
// concurrent use.
type Engine struct {
	contract *lens.Contract
}

// New creates a mapping engine over a validated contract.
func New(contract *lens.Contract) *Engine {
	return &Engine{contract: contract}
}

// Apply enriches primitives into an ExtractedEntity: dimensions from mapping
// rules, modules from triggers and field rules, per-field confidence and
// source provenance throughout.
func (e *Engine) Apply(prims types.Primitives, source string, sourceTrust int, entityClassHint string) types.ExtractedEntity {
	entity := types.ExtractedEntity{
		Primitives:      prims,
		EntityClass:     entityClassHint,
		Source:          source,
		SourceTrust:     sourceTrust,
		Modules:         make(map[string]map[string]any),
		FieldConfidence: make(map[string]float64),
		SourceInfo:      make(map[string]string),
	}

	e.applyMappingRules(&entity)
	e.stabilizeDimensions(&entity)
	active := e.activeModules(&entity)
	e.applyFieldRules(&entity, active)

	if len(entity.Modules) == 0 {
		entity.Modules = nil
	}
	return entity
}

// applyMappingRules runs step A: each rule in declaration order, first regex
// match across its source fields contributes the canonical value to its
// facet's dimension.
func (e *Engine) applyMappingRules(entity *types.ExtractedEntity) {
	for i := range e.contract.MappingRules {
		rule := &e.contract.MappingRules[i]
		if !e.ruleMatches(rule.Regexp(), rule.SourceFields, &entity.Primitives) {
			continue
		}
		dim, ok := e.contract.DimensionOf(rule.Canonical)
		if !ok {
			continue // unreachable on a validated contract
		}
		entity.SetDimension(dim, append(entity.DimensionValues(dim), rule.Canonical))

		// The dimension's confidence is the strongest contribution seen.
		key := string(dim)
		if rule.Confidence > entity.FieldConfidence[key] {
			entity.FieldConfidence[key] = rule.Confidence
			entity.SourceInfo[key] = entity.Source
		}
	}
}

func (e *Engine) ruleMatches(re interface{ MatchString(string) bool }, fields []string, prims *types.Primitives) bool {
	for _, text := range searchTexts(fields, prims) {
		if re.MatchString(text) {
			return true
		}
	}
	return false
}

// searchTexts resolves rule source fields to their text, expanding
// raw_categories into a single joined passage.
func searchTexts(fields []string, prims *types.Primitives) []string {
	if len(fields) == 0 {
		fields = defaultSourceFields
	}
	var texts []string
	for _, f := range fields {
		if f == types.FieldRawCategories {
			if len(prims.RawCategories) > 0 {
				texts = append(texts, strings.Join(prims.RawCategories, " "))
			}
			continue
		}
		if v := prims.Field(f); v != "" {
			texts = append(texts, v)
		}
	}
	return texts
}

// stabilizeDimensions runs step B: dedupe preserving first occurrence, then
// sort lexicographically.
func (e *Engine) stabilizeDimensions(entity *types.ExtractedEntity) {
	for _, dim := range types.Dimensions {
		entity.SetDimension(dim, types.SortedSet(entity.DimensionValues(dim)))
	}
}

// activeModules runs step C: module triggers whose when-clause is satisfied
// by the current dimensions and whose conditions match union their modules
// into the active set, returned in sorted order.
func (e *Engine) activeModules(entity *types.ExtractedEntity) []string {
	active := make(map[string]bool)
	for _, trigger := range e.contract.ModuleTriggers {
		if !e.triggerSatisfied(trigger, entity) {
			continue
		}
		for _, m := range trigger.AddModules {
			active[m] = true
		}
	}
	keys := make([]string, 0, len(active))
	for k := range active {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (e *Engine) triggerSatisfied(trigger lens.ModuleTrigger, entity *types.ExtractedEntity) bool {
	facet, ok := e.contract.Facets[trigger.When.Facet]
	if !ok {
		return false
	}
	present := false
	for _, v := range entity.DimensionValues(facet.DimensionSource) {
		if v == trigger.When.Value {
			present = true
			break
		}
	}
	if !present {
		return false
	}
	for _, cond := range trigger.Conditions {
		if cond.Field != "entity_class" {
			continue // only entity_class conditions are defined today
		}
		matched := len(cond.AnyOf) == 0
		for _, want := range cond.AnyOf {
			if want == entity.EntityClass {
				matched = true
				break
			}
		}
		if !matched {
			return false
		}
	}
	return true
}

// applyFieldRules runs step D for each active module in sorted order, each
// field rule in declaration order.
func (e *Engine) applyFieldRules(entity *types.ExtractedEntity, active []string) {
	for _, moduleKey := range active {
		module := e.contract.Modules[moduleKey]
		for i := range module.FieldRules {
			rule := &module.FieldRules[i]
			if !ruleApplies(rule, entity) {
				continue
			}
			value, ok := e.executeFieldRule(rule, &entity.Primitives)
			if !ok {
				continue
			}
			value = applyNormalizers(value, rule.Normalizers)
			e.writeModuleField(entity, moduleKey, rule, value)
		}
	}
}

func ruleApplies(rule *lens.FieldRule, entity *types.ExtractedEntity) bool {
	if len(rule.Applicability.Source) > 0 {
		found := false
		for _, s := range rule.Applicability.Source {
			if s == entity.Source {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	if len(rule.Applicability.EntityClass) > 0 {
		found := false
		for _, c := range rule.Applicability.EntityClass {
			if c == entity.EntityClass {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}
	return true
}

// executeFieldRule dispatches on the rule's extractor tag. regex_capture
// returns the first capture group (or the whole match when the pattern has
// no groups); numeric_parser additionally parses the capture as a number.
func (e *Engine) executeFieldRule(rule *lens.FieldRule, prims *types.Primitives) (any, bool) {
	for _, text := range searchTexts(rule.SourceFields, prims) {
		m := rule.Regexp().FindStringSubmatch(text)
		if m == nil {
			continue
		}
		captured := m[0]
		if len(m) > 1 {
			captured = m[1]
		}
		switch rule.Extractor {
		case lens.ExtractorRegexCapture:
			return captured, true
		case lens.ExtractorNumericParser:
			if n, err := strconv.ParseInt(strings.TrimSpace(captured), 10, 64); err == nil {
				return n, true
			}
			if f, err := strconv.ParseFloat(strings.TrimSpace(captured), 64); err == nil {
				return f, true
			}
			continue // matched text was not numeric; keep searching
		}
	}
	return nil, false
}

// applyNormalizers runs the listed normalizers left to right. Unknown names
// are rejected at lens load time.
func applyNormalizers(value any, normalizers []string) any {
	for _, n := range normalizers {
		switch n {
		case "trim":
			if s, ok := value.(string); ok {
				value = strings.TrimSpace(s)
			}
		case "lowercase":
			if s, ok := value.(string); ok {
				value = strings.ToLower(s)
			}
		case "round_integer":
			switch v := value.(type) {
			case float64:
				value = int64(v + 0.5)
			case string:
				if f, err := strconv.ParseFloat(strings.TrimSpace(v), 64); err == nil {
					value = int64(f + 0.5)
				}
			}
		}
	}
	return value
}

// writeModuleField writes a value at the rule's dot-notation target path,
// creating nested maps as needed, and records confidence and provenance
// under the module-qualified path. An occupied leaf is resolved by the
// scalar conflict rule.
func (e *Engine) writeModuleField(entity *types.ExtractedEntity, moduleKey string, rule *lens.FieldRule, value any) {
	if entity.Modules[moduleKey] == nil {
		entity.Modules[moduleKey] = make(map[string]any)
	}

	node := entity.Modules[moduleKey]
	parts := strings.Split(rule.TargetPath, ".")
	for _, part := range parts[:len(parts)-1] {
		child, ok := node[part].(map[string]any)
		if !ok {
			child = make(map[string]any)
			node[part] = child
		}
		node = child
	}
	leaf := parts[len(parts)-1]

	qualified := fmt.Sprintf("%s.%s", moduleKey, rule.TargetPath)
	if _, occupied := node[leaf]; occupied {
		existingConf := entity.FieldConfidence[qualified]
		existingSource := entity.SourceInfo[qualified]
		if !types.PreferIncoming(existingConf, rule.Confidence, entity.SourceTrust, entity.SourceTrust, existingSource, entity.Source) {
			return
		}
	}

	node[leaf] = value
	entity.FieldConfidence[qualified] = rule.Confidence
	entity.SourceInfo[qualified] = entity.Source
}
