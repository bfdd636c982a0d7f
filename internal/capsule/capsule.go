// Package capsule compiles surface variables into the context text passed to
// each pipeline stage.
package capsule

import (
	"github.com/hpungsan/strata/internal/value"
)

// ResolvedVariable is a dotted path resolved against the current surfaces.
type ResolvedVariable struct {
	// Path is the dotted variable path, e.g. "capsule.head.framing"
	Path string `json:"path"`

	// Marker is the section label rendered in the capsule header
	Marker string `json:"marker"`

	// Content is the resolved value; null when the path did not resolve
	Content value.Value `json:"content"`
}

// Assembled is one compiled capsule.
type Assembled struct {
	// Text is the ordered concatenation of marked sections
	Text string `json:"text"`

	// Variables are the resolved inputs, in request order
	Variables []ResolvedVariable `json:"variables"`

	// Chars is the rune count of Text
	Chars int `json:"chars"`

	// TokensEstimate is the word-heuristic token estimate of Text
	TokensEstimate int `json:"tokens_estimate"`
}
