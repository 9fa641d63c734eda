package extractor

import (
	"net/url"
	"regexp"
	"strings"

	"prism/internal/types"
)

var (
	phoneStrip   = regexp.MustCompile(`[\s\-().]`)
	phoneValid   = regexp.MustCompile(`^\+[1-9]\d{7,14}$`)
	postcodeForm = regexp.MustCompile(`^[A-Z0-9]{2,4}\s?[A-Z0-9]{3,4}$`)
	emailForm    = regexp.MustCompile(`^[^@\s]+@[^@\s]+\.[^@\s]+$`)
)

// Validate normalizes a decoded record in place and nulls values that fail
// validation. Invalid values are dropped, never inferred: a phone that
// cannot be rendered as E.164 becomes empty, out-of-range coordinates are
// removed as a pair.
func Validate(p types.Primitives) types.Primitives {
	p.Phone = normalizePhone(p.Phone)
	p.Postcode = normalizePostcode(p.Postcode)
	p.Email = normalizeEmail(p.Email)
	p.WebsiteURL = normalizeURL(p.WebsiteURL)

	if p.Latitude != nil && (*p.Latitude < -90 || *p.Latitude > 90) {
		p.Latitude = nil
	}
	if p.Longitude != nil && (*p.Longitude < -180 || *p.Longitude > 180) {
		p.Longitude = nil
	}
	// A lone coordinate is useless for proximity work; require the pair.
	if p.Latitude == nil || p.Longitude == nil {
		p.Latitude = nil
		p.Longitude = nil
	}

	p.EntityName = strings.TrimSpace(p.EntityName)
	p.StreetAddress = strings.TrimSpace(p.StreetAddress)
	p.City = strings.TrimSpace(p.City)

	return p
}

// normalizePhone renders a phone number in E.164 or returns "". The "00"
// international prefix is rewritten to "+"; anything without a country code
// is rejected rather than guessed.
func normalizePhone(phone string) string {
	if phone == "" {
		return ""
	}
	cleaned := phoneStrip.ReplaceAllString(phone, "")
	if strings.HasPrefix(cleaned, "00") {
		cleaned = "+" + cleaned[2:]
	}
	if !phoneValid.MatchString(cleaned) {
		return ""
	}
	return cleaned
}

// normalizePostcode uppercases and collapses whitespace; values that do not
// fit a postcode shape are nulled.
func normalizePostcode(pc string) string {
	if pc == "" {
		return ""
	}
	upper := strings.ToUpper(strings.Join(strings.Fields(pc), " "))
	if !postcodeForm.MatchString(upper) {
		return ""
	}
	return upper
}

func normalizeEmail(email string) string {
	trimmed := strings.TrimSpace(strings.ToLower(email))
	if trimmed == "" || !emailForm.MatchString(trimmed) {
		return ""
	}
	return trimmed
}

func normalizeURL(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return ""
	}
	u, err := url.Parse(trimmed)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return ""
	}
	return u.String()
}
