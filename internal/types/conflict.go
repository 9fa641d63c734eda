package types

// PreferIncoming decides a scalar conflict between two contributions. The
// order of precedence is fixed and total so every merge is deterministic:
// higher field confidence wins, then higher source trust, then the
// alphabetically-last source name. Equal on all three keeps the existing
// value.
func PreferIncoming(existingConf, incomingConf float64, existingTrust, incomingTrust int, existingSource, incomingSource string) bool {
	if incomingConf != existingConf {
		return incomingConf > existingConf
	}
	if incomingTrust != existingTrust {
		return incomingTrust > existingTrust
	}
	return incomingSource > existingSource
}
