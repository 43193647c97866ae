// Package phone normalizes consumer phone numbers at intake.
// This is part of the platform layer and contains no business logic.
package phone

import (
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// DefaultRegion applies to numbers written without a country prefix.
const DefaultRegion = "US"

// Normalizer formats numbers to E.164 relative to a default region.
type Normalizer struct {
	region string
}

// NewNormalizer returns a normalizer for region (ISO 3166-1 alpha-2).
// An empty region uses DefaultRegion.
func NewNormalizer(region string) Normalizer {
	region = strings.ToUpper(strings.TrimSpace(region))
	if region == "" {
		region = DefaultRegion
	}
	return Normalizer{region: region}
}

// Normalize returns the E.164 form and true for a valid number. Unparseable
// or invalid input comes back trimmed with false so intake can still store
// what the consumer typed.
func (n Normalizer) Normalize(input string) (string, bool) {
	trimmed := strings.TrimSpace(input)
	if trimmed == "" {
		return trimmed, false
	}

	number, err := phonenumbers.Parse(trimmed, n.region)
	if err != nil {
		return trimmed, false
	}
	if !phonenumbers.IsValidNumber(number) {
		return trimmed, false
	}

	return phonenumbers.Format(number, phonenumbers.E164), true
}

// NormalizeE164 normalizes with DefaultRegion.
func NormalizeE164(input string) string {
	normalized, _ := NewNormalizer(DefaultRegion).Normalize(input)
	return normalized
}
