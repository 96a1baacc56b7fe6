// Package phone normalizes patient phone numbers so webhook payloads and
// stored patient records compare equal.
package phone

import (
	"errors"
	"strings"

	"github.com/nyaruka/phonenumbers"
)

// ErrInvalid is returned when a number cannot be parsed or is not dialable.
var ErrInvalid = errors.New("phone: invalid number")

// DefaultRegion is used for numbers without a leading country code.
const DefaultRegion = "US"

// Normalize converts a number to E.164.
func Normalize(raw, region string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return "", ErrInvalid
	}
	if region == "" {
		region = DefaultRegion
	}

	parsed, err := phonenumbers.Parse(raw, region)
	if err != nil {
		return "", ErrInvalid
	}
	if !phonenumbers.IsValidNumber(parsed) {
		return "", ErrInvalid
	}
	return phonenumbers.Format(parsed, phonenumbers.E164), nil
}

// Canonical returns the E.164 form when the number parses, otherwise the
// input with formatting characters removed. Used for lookups where a
// slightly malformed provider payload should still match a stored number.
func Canonical(raw, region string) string {
	if e164, err := Normalize(raw, region); err == nil {
		return e164
	}
	var b strings.Builder
	for i, r := range strings.TrimSpace(raw) {
		if r >= '0' && r <= '9' || (r == '+' && i == 0) {
			b.WriteRune(r)
		}
	}
	return b.String()
}
