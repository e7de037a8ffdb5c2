package dispatch

import "strings"

// FormatPhoneNumber normalizes a user-entered number to E.164. Ten-digit
// numbers are treated as North American and get a +1 prefix.
func FormatPhoneNumber(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	digits := b.String()

	if len(digits) == 10 {
		return "+1" + digits
	}
	return "+" + digits
}
