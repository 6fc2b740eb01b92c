package policy

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

var (
	emailPattern  = regexp.MustCompile(`[a-zA-Z0-9._%+\-]+@[a-zA-Z0-9.\-]+\.[a-zA-Z]{2,}`)
	phonePattern  = regexp.MustCompile(`\+?[0-9][0-9\-() ]{7,}[0-9]`)
	cardPattern   = regexp.MustCompile(`\b(?:\d[ -]*?){13,19}\b`)
	apiKeyParam   = regexp.MustCompile(`(?i)(api_key=)[^&\s"']+`)
	bearerPattern = regexp.MustCompile(`(?i)(bearer\s+)[A-Za-z0-9._\-]+`)
	secretPattern = regexp.MustCompile(`\b(?:sk|ek|cks)-[A-Za-z0-9_\-]{8,}`)
)

// RedactPII masks common high-risk PII patterns.
func RedactPII(input string) (redacted string, changed bool) {
	out := input

	next := emailPattern.ReplaceAllString(out, "[REDACTED_EMAIL]")
	changed = changed || next != out
	out = next

	// Run card redaction before phone to avoid card numbers being classified as phone.
	next = cardPattern.ReplaceAllString(out, "[REDACTED_CARD]")
	changed = changed || next != out
	out = next

	next = phonePattern.ReplaceAllString(out, "[REDACTED_PHONE]")
	changed = changed || next != out
	out = next

	return out, changed
}

// RedactSecrets masks provider credentials that can leak into error strings,
// most notably the api_key query parameter on the session socket URL.
func RedactSecrets(input string) string {
	out := apiKeyParam.ReplaceAllString(input, "${1}[REDACTED]")
	out = bearerPattern.ReplaceAllString(out, "${1}[REDACTED]")
	return secretPattern.ReplaceAllString(out, "[REDACTED_SECRET]")
}

// LogPreview returns a PII-redacted prefix of caller text suitable for logs.
func LogPreview(input string, maxRunes int) string {
	out, _ := RedactPII(strings.TrimSpace(input))
	if maxRunes <= 0 || utf8.RuneCountInString(out) <= maxRunes {
		return out
	}
	runes := []rune(out)
	return string(runes[:maxRunes]) + "..."
}
