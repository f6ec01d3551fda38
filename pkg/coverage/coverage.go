// Package coverage classifies requirement similarity scores into coverage
// levels and aggregates them into coverage reports.
package coverage

import (
	"fmt"
	"math"
	"strings"
)

// Classification is the coverage level derived from a similarity score.
type Classification string

const (
	Green  Classification = "GREEN"
	Yellow Classification = "YELLOW"
	Red    Classification = "RED"

	// Gray is never produced by Classify. It marks "no coverage information"
	// when a trace is rendered without a known match.
	Gray Classification = "GRAY"
)

const (
	DefaultFullThreshold    = 0.85
	DefaultPartialThreshold = 0.65
)

// Thresholds holds the two similarity cut-offs. Full is the lower bound for
// GREEN, Partial the lower bound for YELLOW.
type Thresholds struct {
	Full    float64 `json:"full"`
	Partial float64 `json:"partial"`
}

// DefaultThresholds returns the thresholds used when the caller configures none.
func DefaultThresholds() Thresholds {
	return Thresholds{
		Full:    DefaultFullThreshold,
		Partial: DefaultPartialThreshold,
	}
}

// Validate reports whether the thresholds can be used for classification.
func (t Thresholds) Validate() error {
	if math.IsNaN(t.Full) || math.IsNaN(t.Partial) {
		return fmt.Errorf("thresholds must be numbers")
	}
	if t.Partial > t.Full {
		return fmt.Errorf("partial threshold %.4f is above full threshold %.4f", t.Partial, t.Full)
	}
	return nil
}

// Classify maps a similarity score onto GREEN, YELLOW or RED.
func Classify(similarity float64, t Thresholds) Classification {
	switch {
	case similarity >= t.Full:
		return Green
	case similarity >= t.Partial:
		return Yellow
	default:
		return Red
	}
}

// ClassifyOptional treats a missing similarity as 0.0.
func ClassifyOptional(similarity *float64, t Thresholds) Classification {
	if similarity == nil {
		return Classify(0, t)
	}
	return Classify(*similarity, t)
}

// ParseClassification accepts any casing and falls back to Gray.
func ParseClassification(s string) Classification {
	switch Classification(strings.ToUpper(strings.TrimSpace(s))) {
	case Green:
		return Green
	case Yellow:
		return Yellow
	case Red:
		return Red
	}
	return Gray
}

var palette = map[Classification]string{
	Green:  "#4CAF50",
	Yellow: "#FFC107",
	Red:    "#F44336",
	Gray:   "#BDBDBD",
}

// ColorHex returns the fill color used for a classification. Unknown values
// render gray.
func ColorHex(c Classification) string {
	if hex, ok := palette[ParseClassification(string(c))]; ok {
		return hex
	}
	return palette[Gray]
}
