package utils

import (
	"fmt"
	"strings"
)

// ByteCountSI formats a byte count in SI units, e.g. 1500 -> "1.5 kB".
func ByteCountSI(b int) string {
	const unit = 1000
	if b < unit {
		return fmt.Sprintf("%d B", b)
	}
	div, exp := int64(unit), 0
	for n := b / unit; n >= unit; n /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %cB", float64(b)/float64(div), "kMGTPE"[exp])
}

// MaskPhone keeps the country/area prefix and the last two digits of a phone number for log output.
// "5511987654321" -> "5511*******21"
func MaskPhone(phone string) string {
	if len(phone) <= 6 {
		return strings.Repeat("*", len(phone))
	}
	return phone[:4] + strings.Repeat("*", len(phone)-6) + phone[len(phone)-2:]
}
