// Package classify assigns a structural entity class to a primitives record.
// Classification looks only at which primitive fields are present, never at
// their values, so it works identically under every lens.
package classify

import "prism/internal/types"

// Entity class names. The set is closed; lenses group and label classes but
// cannot add to them.
const (
	ClassPlace        = "place"
	ClassPerson       = "person"
	ClassOrganization = "organization"
	ClassEvent        = "event"
	ClassThing        = "thing"
)

// Classify derives the entity class from field shape alone. Rules run in
// precedence order and the first match wins; a record that fits nothing is a
// thing.
func Classify(p *types.Primitives) string {
	switch {
	case p.HasGeography() && p.EntityName != "":
		return ClassPlace
	case p.HasPersonName() && !p.HasGeography():
		return ClassPerson
	case p.OrgName != "" && !p.HasPersonName() && p.Latitude == nil:
		return ClassOrganization
	case p.HasTimeRange():
		return ClassEvent
	default:
		return ClassThing
	}
}
