package messaging

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"
)

// MinPhoneDigits is the shortest accepted phone number.
const MinPhoneDigits = 6

var phoneNumberRegex = regexp.MustCompile(`\D`)

// mexicanMobilePrefix is the legacy "1" WhatsApp still reports for Mexican
// mobiles. The Cloud API only delivers to the 52 form.
const mexicanMobilePrefix = "521"

// CanonicalizePhone strips everything but digits and rewrites 521XXXXXXXXXX
// to 52XXXXXXXXXX, so one person maps to one session whatever the transport.
func CanonicalizePhone(recipient string) (string, error) {
	if recipient == "" {
		return "", fmt.Errorf("recipient cannot be empty")
	}

	canonical := phoneNumberRegex.ReplaceAllString(recipient, "")
	if canonical == "" {
		return "", fmt.Errorf("invalid phone number: no digits found in recipient %q", recipient)
	}
	if strings.HasPrefix(canonical, mexicanMobilePrefix) && len(canonical) == 13 {
		canonical = "52" + canonical[len(mexicanMobilePrefix):]
	}
	if len(canonical) < MinPhoneDigits {
		return "", fmt.Errorf("invalid phone number: %q is too short (minimum %d digits required)", canonical, MinPhoneDigits)
	}

	if recipient != canonical {
		slog.Debug("messaging.CanonicalizePhone canonicalized recipient", "original", recipient, "canonical", canonical)
	}
	return canonical, nil
}
