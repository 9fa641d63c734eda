package merge

import (
	"sort"
	"time"

	"prism/internal/types"
)

func newRecord(e types.ExtractedEntity, slug string) *record {
	rec := &record{
		entity:     e,
		slug:       slug,
		fieldTrust: make(map[string]int),
	}
	if rec.entity.FieldConfidence == nil {
		rec.entity.FieldConfidence = make(map[string]float64)
	}
	if rec.entity.SourceInfo == nil {
		rec.entity.SourceInfo = make(map[string]string)
	}
	// Every field the first contributor set is owned by it at its trust.
	for _, f := range scalarFieldNames {
		if rec.entity.Field(f) != "" {
			rec.claim(f, e.Source, e.SourceTrust)
		}
	}
	if rec.entity.Latitude != nil {
		rec.claim(types.FieldLatitude, e.Source, e.SourceTrust)
		rec.claim(types.FieldLongitude, e.Source, e.SourceTrust)
	}
	if rec.entity.EntityClass != "" {
		rec.fieldTrust["entity_class"] = e.SourceTrust
	}
	for path := range e.FieldConfidence {
		rec.fieldTrust[path] = e.SourceTrust
	}
	return rec
}

var scalarFieldNames = []string{
	types.FieldEntityName,
	types.FieldGivenName,
	types.FieldFamilyName,
	types.FieldOrgName,
	types.FieldStreetAddress,
	types.FieldCity,
	types.FieldPostcode,
	types.FieldCountry,
	types.FieldPhone,
	types.FieldEmail,
	types.FieldWebsiteURL,
	types.FieldDescription,
	types.FieldSummary,
}

// claim records the winning source and trust for a field without touching
// its confidence.
func (r *record) claim(field, source string, trust int) {
	r.entity.SourceInfo[field] = source
	r.fieldTrust[field] = trust
}

// prefers reports whether the incoming contribution beats the current owner
// of the named field.
func (r *record) prefers(field string, inc *types.ExtractedEntity) bool {
	return types.PreferIncoming(
		r.entity.FieldConfidence[field], inc.FieldConfidence[field],
		r.fieldTrust[field], inc.SourceTrust,
		r.entity.SourceInfo[field], inc.Source,
	)
}

// merge folds an incoming record for the same entity into this one.
func (r *record) merge(inc *types.ExtractedEntity) {
	r.mergeScalars(inc)
	r.mergeCoordinates(inc)
	r.mergeTimes(inc)
	r.mergeDimensions(inc)
	r.mergeModules(inc)
	r.mergeCarriers(inc)
	r.mergeEntityClass(inc)
}

func (r *record) mergeScalars(inc *types.ExtractedEntity) {
	for _, field := range scalarFieldNames {
		value := inc.Field(field)
		if value == "" {
			continue
		}
		if r.entity.Field(field) != "" && !r.prefers(field, inc) {
			continue
		}
		setScalar(&r.entity.Primitives, field, value)
		r.claim(field, inc.Source, inc.SourceTrust)
		if c, ok := inc.FieldConfidence[field]; ok {
			r.entity.FieldConfidence[field] = c
		}
	}
}

// Coordinates move as a pair; taking latitude from one source and longitude
// from another would fabricate a location.
func (r *record) mergeCoordinates(inc *types.ExtractedEntity) {
	if inc.Latitude == nil || inc.Longitude == nil {
		return
	}
	if r.entity.Latitude != nil && !r.prefers(types.FieldLatitude, inc) {
		return
	}
	lat, lng := *inc.Latitude, *inc.Longitude
	r.entity.Latitude = &lat
	r.entity.Longitude = &lng
	r.claim(types.FieldLatitude, inc.Source, inc.SourceTrust)
	r.claim(types.FieldLongitude, inc.Source, inc.SourceTrust)
}

func (r *record) mergeTimes(inc *types.ExtractedEntity) {
	r.entity.TimeStart = mergeTime(r, types.FieldTimeStart, r.entity.TimeStart, inc.TimeStart, inc)
	r.entity.TimeEnd = mergeTime(r, types.FieldTimeEnd, r.entity.TimeEnd, inc.TimeEnd, inc)
}

func mergeTime(r *record, field string, existing, incoming *time.Time, inc *types.ExtractedEntity) *time.Time {
	if incoming == nil {
		return existing
	}
	if existing != nil && !r.prefers(field, inc) {
		return existing
	}
	t := *incoming
	r.claim(field, inc.Source, inc.SourceTrust)
	return &t
}

func (r *record) mergeDimensions(inc *types.ExtractedEntity) {
	for _, dim := range types.Dimensions {
		union := append(r.entity.DimensionValues(dim), inc.DimensionValues(dim)...)
		r.entity.SetDimension(dim, types.SortedSet(union))

		key := string(dim)
		if inc.FieldConfidence[key] > r.entity.FieldConfidence[key] {
			r.entity.FieldConfidence[key] = inc.FieldConfidence[key]
			r.claim(key, inc.Source, inc.SourceTrust)
		}
	}
}

func (r *record) mergeModules(inc *types.ExtractedEntity) {
	if len(inc.Modules) == 0 {
		return
	}
	if r.entity.Modules == nil {
		r.entity.Modules = make(map[string]map[string]any)
	}
	keys := make([]string, 0, len(inc.Modules))
	for k := range inc.Modules {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, moduleKey := range keys {
		if r.entity.Modules[moduleKey] == nil {
			r.entity.Modules[moduleKey] = make(map[string]any)
		}
		r.mergeModuleMap(r.entity.Modules[moduleKey], inc.Modules[moduleKey], moduleKey, inc)
	}
}

// mergeModuleMap deep-merges one module level. Nested maps recurse; leaf
// conflicts resolve by the standard order using the module-qualified path.
func (r *record) mergeModuleMap(dst, src map[string]any, path string, inc *types.ExtractedEntity) {
	keys := make([]string, 0, len(src))
	for k := range src {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		childPath := path + "." + k
		srcChild, srcIsMap := src[k].(map[string]any)
		dstChild, dstIsMap := dst[k].(map[string]any)
		if srcIsMap && dstIsMap {
			r.mergeModuleMap(dstChild, srcChild, childPath, inc)
			continue
		}
		if _, occupied := dst[k]; occupied && !r.prefers(childPath, inc) {
			continue
		}
		dst[k] = src[k]
		r.claim(childPath, inc.Source, inc.SourceTrust)
		if c, ok := inc.FieldConfidence[childPath]; ok {
			r.entity.FieldConfidence[childPath] = c
		}
	}
}

func (r *record) mergeCarriers(inc *types.ExtractedEntity) {
	if len(inc.RawCategories) > 0 {
		r.entity.RawCategories = types.SortedSet(append(r.entity.RawCategories, inc.RawCategories...))
	}

	if len(inc.ExternalIDs) > 0 {
		if r.entity.ExternalIDs == nil {
			r.entity.ExternalIDs = make(map[string]map[string]string)
		}
		for source, ids := range inc.ExternalIDs {
			if r.entity.ExternalIDs[source] == nil {
				r.entity.ExternalIDs[source] = make(map[string]string)
			}
			for k, v := range ids {
				r.entity.ExternalIDs[source][k] = v
			}
		}
	}

	if len(inc.RawObservations) > 0 {
		if r.entity.RawObservations == nil {
			r.entity.RawObservations = make(map[string]any)
		}
		for k, v := range inc.RawObservations {
			if _, occupied := r.entity.RawObservations[k]; occupied && inc.SourceTrust <= r.fieldTrust["raw_observations."+k] {
				continue
			}
			r.entity.RawObservations[k] = v
			r.fieldTrust["raw_observations."+k] = inc.SourceTrust
		}
	}

	for k, v := range inc.StructuralCounts {
		if r.entity.StructuralCounts == nil {
			r.entity.StructuralCounts = make(map[string]int)
		}
		if v > r.entity.StructuralCounts[k] {
			r.entity.StructuralCounts[k] = v
		}
	}
}

func (r *record) mergeEntityClass(inc *types.ExtractedEntity) {
	if inc.EntityClass == "" {
		return
	}
	if r.entity.EntityClass == "" || (inc.EntityClass != r.entity.EntityClass && inc.SourceTrust > r.fieldTrust["entity_class"]) {
		r.entity.EntityClass = inc.EntityClass
		r.fieldTrust["entity_class"] = inc.SourceTrust
	}
}

// setScalar writes a scalar primitive by field name. Mirrors Primitives.Field.
func setScalar(p *types.Primitives, field, value string) {
	switch field {
	case types.FieldEntityName:
		p.EntityName = value
	case types.FieldGivenName:
		p.GivenName = value
	case types.FieldFamilyName:
		p.FamilyName = value
	case types.FieldOrgName:
		p.OrgName = value
	case types.FieldStreetAddress:
		p.StreetAddress = value
	case types.FieldCity:
		p.City = value
	case types.FieldPostcode:
		p.Postcode = value
	case types.FieldCountry:
		p.Country = value
	case types.FieldPhone:
		p.Phone = value
	case types.FieldEmail:
		p.Email = value
	case types.FieldWebsiteURL:
		p.WebsiteURL = value
	case types.FieldDescription:
		p.Description = value
	case types.FieldSummary:
		p.Summary = value
	}
}
