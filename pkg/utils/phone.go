package utils

import "strings"

// NormalizePhone reduces a phone number to its canonical digits-only form.
// "+55 (11) 98765-4321" -> "5511987654321". WhatsApp JIDs lose their "@server" suffix.
func NormalizePhone(raw string) string {
	raw = strings.TrimSpace(raw)
	if at := strings.IndexByte(raw, '@'); at >= 0 {
		raw = raw[:at]
	}
	var b strings.Builder
	b.Grow(len(raw))
	for _, r := range raw {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ValidPhone reports whether a normalized phone number has a plausible E.164 length.
func ValidPhone(normalized string) bool {
	return len(normalized) >= 8 && len(normalized) <= 15
}
