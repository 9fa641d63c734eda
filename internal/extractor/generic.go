package extractor

import (
	"context"
	"fmt"

	"prism/internal/types"
)

// fieldAliases maps common connector-native key spellings onto universal
// primitive names. First listed alias wins when a payload carries several.
var fieldAliases = map[string][]string{
	types.FieldEntityName:    {"entity_name", "name", "title"},
	types.FieldGivenName:     {"given_name", "first_name"},
	types.FieldFamilyName:    {"family_name", "last_name", "surname"},
	types.FieldOrgName:       {"org_name", "organisation", "organization", "company"},
	types.FieldStreetAddress: {"street_address", "address", "address_line_1"},
	types.FieldCity:          {"city", "town", "locality"},
	types.FieldPostcode:      {"postcode", "postal_code", "zip"},
	types.FieldCountry:       {"country", "country_code"},
	types.FieldLatitude:      {"latitude", "lat"},
	types.FieldLongitude:     {"longitude", "lng", "lon"},
	types.FieldPhone:         {"phone", "telephone", "phone_number"},
	types.FieldEmail:         {"email", "email_address"},
	types.FieldWebsiteURL:    {"website_url", "website", "url", "homepage"},
	types.FieldDescription:   {"description", "about"},
	types.FieldSummary:       {"summary"},
	types.FieldRawCategories: {"raw_categories", "categories", "tags", "types"},
	types.FieldTimeStart:     {"time_start", "start_time", "starts_at"},
	types.FieldTimeEnd:       {"time_end", "end_time", "ends_at"},
}

// idAliases are payload keys treated as source-scoped external identifiers.
var idAliases = []string{"id", "external_id", "place_id", "ref"}

// GenericJSON extracts primitives from flat JSON payloads by field-alias
// lookup. It is the reference extractor for structured feeds and the default
// for fixture connectors; source-specific extractors replace it where a
// payload needs real parsing.
type GenericJSON struct {
	source string
}

// NewGenericJSON creates a generic extractor for the named source.
func NewGenericJSON(source string) *GenericJSON {
	return &GenericJSON{source: source}
}

func (g *GenericJSON) Source() string { return g.source }

// Extract copies recognized aliases into primitives, identifiers into
// external_ids, and everything else into raw_observations untouched.
func (g *GenericJSON) Extract(_ context.Context, raw types.RawPayload) (types.PrimitiveRecord, error) {
	if raw.Data == nil {
		return nil, fmt.Errorf("payload from %q has no data", raw.Source)
	}

	record := make(types.PrimitiveRecord)
	claimed := make(map[string]bool)

	for field, aliases := range fieldAliases {
		for _, alias := range aliases {
			if v, ok := raw.Data[alias]; ok && v != nil {
				record[field] = v
				claimed[alias] = true
				break
			}
		}
	}

	ids := make(map[string]string)
	for _, alias := range idAliases {
		if v, ok := raw.Data[alias]; ok {
			if s, ok := v.(string); ok && s != "" {
				ids[alias] = s
				claimed[alias] = true
			}
		}
	}
	if len(ids) > 0 {
		record[types.FieldExternalIDs] = map[string]map[string]string{g.source: ids}
	}

	observations := make(map[string]any)
	for k, v := range raw.Data {
		if !claimed[k] {
			observations[k] = v
		}
	}
	if len(observations) > 0 {
		record[types.FieldRawObservations] = observations
	}

	counts := map[string]int{"present_fields": 0}
	for field := range fieldAliases {
		if _, ok := record[field]; ok {
			counts["present_fields"]++
		}
	}
	record[types.FieldStructuralCounts] = counts

	return record, nil
}

// ExtractRichText returns description-like passages for summarization.
func (g *GenericJSON) ExtractRichText(raw types.RawPayload) []string {
	var passages []string
	for _, key := range []string{"description", "about", "summary", "body", "text"} {
		if v, ok := raw.Data[key]; ok {
			if s, ok := v.(string); ok && s != "" {
				passages = append(passages, s)
			}
		}
	}
	return passages
}
