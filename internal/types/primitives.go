package types

import (
	"sort"
	"time"
)

// =============================================================================
// PRIMITIVE RECORD (loose form)
// =============================================================================

// PrimitiveRecord is the loosely-typed output of an extractor: a flat record
// keyed by universal primitive names. It stays loose so the purity contract
// can inspect the key set before anything downstream trusts it.
type PrimitiveRecord map[string]any

// Universal primitive field names. The engine understands these names
// structurally; it knows no values.
const (
	FieldEntityName    = "entity_name"
	FieldGivenName     = "given_name"
	FieldFamilyName    = "family_name"
	FieldOrgName       = "org_name"
	FieldStreetAddress = "street_address"
	FieldCity          = "city"
	FieldPostcode      = "postcode"
	FieldCountry       = "country"
	FieldLatitude      = "latitude"
	FieldLongitude     = "longitude"
	FieldPhone         = "phone"
	FieldEmail         = "email"
	FieldWebsiteURL    = "website_url"
	FieldDescription   = "description"
	FieldSummary       = "summary"
	FieldRawCategories = "raw_categories"
	FieldTimeStart     = "time_start"
	FieldTimeEnd       = "time_end"

	// Carrier keys allowed alongside primitives.
	FieldRawObservations  = "raw_observations"
	FieldExternalIDs      = "external_ids"
	FieldStructuralCounts = "structural_counts"
)

// PrimitiveFieldSet is the closed set of keys an extractor may emit.
var PrimitiveFieldSet = map[string]bool{
	FieldEntityName:    true,
	FieldGivenName:     true,
	FieldFamilyName:    true,
	FieldOrgName:       true,
	FieldStreetAddress: true,
	FieldCity:          true,
	FieldPostcode:      true,
	FieldCountry:       true,
	FieldLatitude:      true,
	FieldLongitude:     true,
	FieldPhone:         true,
	FieldEmail:         true,
	FieldWebsiteURL:    true,
	FieldDescription:   true,
	FieldSummary:       true,
	FieldRawCategories: true,
	FieldTimeStart:     true,
	FieldTimeEnd:       true,

	FieldRawObservations:  true,
	FieldStructuralCounts: true,
	FieldExternalIDs:      true,
}

// IllegalKeys returns the keys of r that fall outside the primitive contract,
// sorted for deterministic reporting. An empty result means the record is
// pure.
func (r PrimitiveRecord) IllegalKeys() []string {
	var illegal []string
	for k := range r {
		if !PrimitiveFieldSet[k] {
			illegal = append(illegal, k)
		}
	}
	sort.Strings(illegal)
	return illegal
}

// =============================================================================
// PRIMITIVES (typed form)
// =============================================================================

// Primitives is the typed view of a pure PrimitiveRecord. Pointer fields
// distinguish absent from zero; coordinates in particular must survive 0.0.
type Primitives struct {
	EntityName    string   `json:"entity_name,omitempty"`
	GivenName     string   `json:"given_name,omitempty"`
	FamilyName    string   `json:"family_name,omitempty"`
	OrgName       string   `json:"org_name,omitempty"`
	StreetAddress string   `json:"street_address,omitempty"`
	City          string   `json:"city,omitempty"`
	Postcode      string   `json:"postcode,omitempty"`
	Country       string   `json:"country,omitempty"`
	Latitude      *float64 `json:"latitude,omitempty"`
	Longitude     *float64 `json:"longitude,omitempty"`
	Phone         string   `json:"phone,omitempty"`
	Email         string   `json:"email,omitempty"`
	WebsiteURL    string   `json:"website_url,omitempty"`
	Description   string   `json:"description,omitempty"`
	Summary       string   `json:"summary,omitempty"`
	RawCategories []string `json:"raw_categories,omitempty"`

	TimeStart *time.Time `json:"time_start,omitempty"`
	TimeEnd   *time.Time `json:"time_end,omitempty"`

	// Opaque connector-native fields copied through untouched.
	RawObservations map[string]any `json:"raw_observations,omitempty"`

	// Source-scoped stable identifiers: source name -> id key -> id value.
	ExternalIDs map[string]map[string]string `json:"external_ids,omitempty"`

	// Integer counts of present schema fields. Never interpretive.
	StructuralCounts map[string]int `json:"structural_counts,omitempty"`
}

// Field returns the named scalar primitive as a string, or "" when absent.
// Used by the mapping engine to search rule source fields.
func (p *Primitives) Field(name string) string {
	switch name {
	case FieldEntityName:
		return p.EntityName
	case FieldGivenName:
		return p.GivenName
	case FieldFamilyName:
		return p.FamilyName
	case FieldOrgName:
		return p.OrgName
	case FieldStreetAddress:
		return p.StreetAddress
	case FieldCity:
		return p.City
	case FieldPostcode:
		return p.Postcode
	case FieldCountry:
		return p.Country
	case FieldPhone:
		return p.Phone
	case FieldEmail:
		return p.Email
	case FieldWebsiteURL:
		return p.WebsiteURL
	case FieldDescription:
		return p.Description
	case FieldSummary:
		return p.Summary
	}
	return ""
}

// HasGeography reports whether the record carries coordinates or a
// structured address.
func (p *Primitives) HasGeography() bool {
	if p.Latitude != nil && p.Longitude != nil {
		return true
	}
	return p.StreetAddress != "" && (p.City != "" || p.Postcode != "")
}

// HasPersonName reports whether person-name structure is present.
func (p *Primitives) HasPersonName() bool {
	return p.GivenName != "" || p.FamilyName != ""
}

// HasTimeRange reports whether a time-range primitive is present.
func (p *Primitives) HasTimeRange() bool {
	return p.TimeStart != nil || p.TimeEnd != nil
}
