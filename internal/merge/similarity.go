package merge

import (
	"math"
	"regexp"
	"strings"
)

var tokenSplit = regexp.MustCompile(`[^a-z0-9]+`)

// NameSimilarity is the normalized token set ratio over casefolded names:
// twice the shared token count divided by the total token count of both
// sets (Sorensen-Dice). Pure integer set arithmetic, so the score is
// reproducible across platforms.
func NameSimilarity(a, b string) float64 {
	setA := tokenSet(a)
	setB := tokenSet(b)
	if len(setA) == 0 || len(setB) == 0 {
		return 0
	}
	shared := 0
	for t := range setA {
		if setB[t] {
			shared++
		}
	}
	return 2 * float64(shared) / float64(len(setA)+len(setB))
}

func tokenSet(s string) map[string]bool {
	set := make(map[string]bool)
	for _, t := range tokenSplit.Split(strings.ToLower(s), -1) {
		if t != "" {
			set[t] = true
		}
	}
	return set
}

const earthRadiusM = 6371000.0

// DistanceM is the haversine great-circle distance in meters.
func DistanceM(lat1, lng1, lat2, lng2 float64) float64 {
	rad := func(d float64) float64 { return d * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLng := rad(lng2 - lng1)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusM * math.Asin(math.Sqrt(h))
}
