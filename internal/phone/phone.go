// Package phone normalizes recipient phone numbers to E.164.
package phone

import (
	"regexp"
	"strings"
)

// minDigits is the minimum digit count for a number to be considered sendable.
const minDigits = 10

var junkRe = regexp.MustCompile(`[()\s-]+`)

// NormalizeE164IL normalizes Israeli phone numbers to +972 E.164 form.
//
// Rules:
//   - strip spaces, dashes, parentheses and a "whatsapp:" prefix
//   - numbers already starting with "+" are assumed E.164 and returned as-is
//   - "05XXXXXXXX" (10 digits, leading 0) -> "+9725XXXXXXXX"
//   - "5XXXXXXXX" (9 digits) -> "+9725XXXXXXXX"
//   - anything else is returned cleaned but otherwise untouched
func NormalizeE164IL(raw string) string {
	if raw == "" {
		return raw
	}

	p := strings.TrimSpace(raw)
	p = strings.ReplaceAll(p, "whatsapp:", "")
	p = junkRe.ReplaceAllString(p, "")

	switch {
	case strings.HasPrefix(p, "+"):
		return p
	case strings.HasPrefix(p, "0") && len(p) == 10:
		return "+972" + p[1:]
	case strings.HasPrefix(p, "5") && len(p) == 9:
		return "+972" + p
	default:
		return p
	}
}

// Validate normalizes raw and reports whether the result has enough digits to
// be dialable. Returns the normalized number when valid.
func Validate(raw string) (string, bool) {
	if strings.TrimSpace(raw) == "" {
		return "", false
	}

	normalized := NormalizeE164IL(raw)
	digits := 0
	for _, r := range normalized {
		if r >= '0' && r <= '9' {
			digits++
		}
	}
	if digits < minDigits {
		return "", false
	}
	return normalized, true
}
