package util

import (
	"html"
	"strings"
)

// SanitizeInput trims and escapes HTML/script-like characters in free-text
// signup fields (names, referral codes) before they reach any store.
func SanitizeInput(s string) string {
	s = strings.TrimSpace(s)
	return html.EscapeString(s)
}
