package conversation

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

// CURPLength is the length of a Mexican CURP.
const CURPLength = 18

var emailRegex = regexp.MustCompile(`(?i)^[^\s@]+@[^\s@]+\.[^\s@]+$`)

// ValidEmail reports whether the trimmed input looks like an email address.
func ValidEmail(input string) bool {
	return emailRegex.MatchString(strings.TrimSpace(input))
}

// ValidCURP checks the length only; the structure of the CURP is not verified.
func ValidCURP(input string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(input)) == CURPLength
}
