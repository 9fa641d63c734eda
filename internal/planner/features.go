// Package planner turns an ingest request plus a lens contract into a pure,
// deterministic execution plan: which connectors run, in which phase, with
// what dependencies, at what estimated cost. Planning performs no IO.
package planner

import (
	"regexp"
	"strings"

	"prism/internal/lens"
	"prism/internal/types"
)

var tokenSplit = regexp.MustCompile(`[^a-z0-9]+`)

// AnalyzeQuery derives QueryFeatures from the raw query. All detection is
// structural: keywords come from the lens vocabulary, geographic hints from
// the lens marker set. Token order is preserved for determinism.
func AnalyzeQuery(query string, contract *lens.Contract) types.QueryFeatures {
	normalized := strings.Join(strings.Fields(strings.ToLower(query)), " ")
	tokens := tokenize(normalized)

	vocab := contract.VocabularySet()
	markers := make(map[string]bool, len(contract.GeographicMarkers))
	for _, m := range contract.GeographicMarkers {
		markers[m] = true
	}

	// Keyword dimensions: which dimension each vocabulary keyword feeds,
	// resolved through the value that declared it.
	keywordDims := keywordDimensions(contract)

	features := types.QueryFeatures{NormalizedQuery: normalized}

	seenKeyword := make(map[string]bool)
	activityHit := false
	for i, tok := range tokens {
		if vocab[tok] && !seenKeyword[tok] {
			seenKeyword[tok] = true
			features.DetectedKeywords = append(features.DetectedKeywords, tok)
			if keywordDims[tok] == types.DimActivities {
				activityHit = true
			}
		}
		// A marker token promotes the rest of the phrase (up to the next
		// marker or keyword) into a geographic hint.
		if markers[tok] && i+1 < len(tokens) {
			var hint []string
			for _, next := range tokens[i+1:] {
				if markers[next] || vocab[next] {
					break
				}
				hint = append(hint, next)
			}
			if len(hint) > 0 {
				features.GeographicHints = append(features.GeographicHints, strings.Join(hint, " "))
			}
		}
	}

	// A query reads as a category search when lens keywords dominate the
	// non-geographic part of it.
	nonGeo := len(tokens)
	for _, h := range features.GeographicHints {
		nonGeo -= len(strings.Fields(h)) + 1 // hint words plus their marker
	}
	if nonGeo > 0 && len(features.DetectedKeywords) > 0 {
		features.LooksLikeCategorySearch = float64(len(features.DetectedKeywords))/float64(nonGeo) >= 0.5
	}

	// Sports-likeness is structural: at least one detected keyword feeds the
	// activities dimension of this lens.
	features.IsSportsLike = activityHit

	return features
}

func tokenize(s string) []string {
	parts := tokenSplit.Split(s, -1)
	tokens := parts[:0]
	for _, p := range parts {
		if p != "" {
			tokens = append(tokens, p)
		}
	}
	return tokens
}

// keywordDimensions maps each lowercased search keyword to the dimension its
// declaring value populates.
func keywordDimensions(contract *lens.Contract) map[string]types.Dimension {
	dims := make(map[string]types.Dimension)
	for _, v := range contract.Values {
		dim, ok := contract.DimensionOf(v.Key)
		if !ok {
			continue
		}
		for _, kw := range v.SearchKeywords {
			dims[strings.ToLower(kw)] = dim
		}
	}
	return dims
}
