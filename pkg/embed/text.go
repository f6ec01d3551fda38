package embed

import (
	"crypto/sha256"
	"encoding/hex"
	"math"
	"strings"
)

const DefaultMaxChars = 4000

// NormalizeText prepares node content for embedding so that equal content
// always yields the same hash. Line endings are unified, every line is
// trimmed, whitespace runs collapse to one space and the result is cut to
// maxChars characters at the last word boundary.
func NormalizeText(text string, maxChars int) string {
	if text == "" {
		return ""
	}
	if maxChars <= 0 {
		maxChars = DefaultMaxChars
	}

	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = strings.Join(strings.Fields(text), " ")

	runes := []rune(text)
	if len(runes) > maxChars {
		cut := string(runes[:maxChars])
		if i := strings.LastIndexByte(cut, ' '); i >= 0 {
			cut = cut[:i]
		}
		text = cut
	}
	return strings.TrimSpace(text)
}

// ContentHash is the hex SHA-256 of normalized text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}

// L2Normalize returns a unit-length copy of v. A zero vector is returned
// unchanged.
func L2Normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	out := make([]float32, len(v))
	if sum == 0 {
		copy(out, v)
		return out
	}
	norm := math.Sqrt(sum)
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}
