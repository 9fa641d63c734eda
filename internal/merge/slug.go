package merge

import (
	"regexp"
	"strings"
)

var slugStrip = regexp.MustCompile(`[^a-z0-9]+`)

// Slug derives the deterministic URL-safe persistence key from an entity
// name and a locality hint (city, falling back to postcode). Same inputs,
// same slug, run after run.
func Slug(entityName, localityHint string) string {
	parts := []string{slugify(entityName)}
	if hint := slugify(localityHint); hint != "" {
		parts = append(parts, hint)
	}
	return strings.Trim(strings.Join(parts, "-"), "-")
}

func slugify(s string) string {
	return strings.Trim(slugStrip.ReplaceAllString(strings.ToLower(s), "-"), "-")
}
