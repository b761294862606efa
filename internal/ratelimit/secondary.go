package ratelimit

import "strings"

// SecondaryLimitMarker is the phrase GitHub puts in responses rejected by
// the secondary rate limit. Casing varies between endpoints.
const SecondaryLimitMarker = "secondary rate limit"

// IsSecondaryLimit reports whether text carries the secondary limit marker
func IsSecondaryLimit(text string) bool {
	if text == "" {
		return false
	}
	return strings.Contains(strings.ToLower(text), SecondaryLimitMarker)
}
