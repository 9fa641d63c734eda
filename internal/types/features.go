package types

// QueryFeatures is the planner's structural analysis of a query against the
// lens vocabulary. Nothing here is domain-specific: detected keywords are an
// intersection with lens-declared terms, and the sports-like signal is
// driven entirely by lens vocabulary, never hard-coded terms.
type QueryFeatures struct {
	NormalizedQuery         string   `json:"normalized_query"`
	DetectedKeywords        []string `json:"detected_keywords,omitempty"`
	GeographicHints         []string `json:"geographic_hints,omitempty"`
	LooksLikeCategorySearch bool     `json:"looks_like_category_search"`
	IsSportsLike            bool     `json:"is_sports_like"`
}
