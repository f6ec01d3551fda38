package util

import (
	"strings"
	"unicode/utf8"
)

// MaxRunMessageLen caps free-form run messages stored next to run statistics.
const MaxRunMessageLen = 2000

// SanitizePostgresText drops NUL bytes and invalid UTF-8, both of which
// Postgres rejects in text columns.
func SanitizePostgresText(value string) string {
	if value == "" {
		return value
	}
	return strings.ReplaceAll(strings.ToValidUTF8(value, ""), "\x00", "")
}

// TruncateRunes shortens value to at most n runes, appending "..." when cut.
func TruncateRunes(value string, n int) string {
	if n <= 0 || utf8.RuneCountInString(value) <= n {
		return value
	}
	if n <= 3 {
		return string([]rune(value)[:n])
	}
	return string([]rune(value)[:n-3]) + "..."
}
