package capsule

import (
	"strings"
)

// markerTable holds the fixed markers for well-known variable paths.
var markerTable = map[string]string{
	"capsule.head.framing":        "FRAMING",
	"capsule.head.selectedTopics": "TOPICS",
	"capsule.head.turnContext":    "CONTEXT",
	"capsule.body.recentTurns":    "RECENT",
	"capsule.tail.goals":          "GOALS",
	"capsule.tail.trajectory":     "TRAJECTORY",
	"capsule.tail.pulse":          "PULSE",
	"capsule.tail.planning":       "PLANNING",
	"trace.llm1Output":            "ANALYSIS",
	"trace.llm2Output":            "RESPONSE",
	"digr":                        "DIGR",
	"intuition-outline":           "INTUITION",
	"session-state":               "STATE",
}

// MarkerFor derives the section marker of a variable path.
//
// Table entries win on a full match. Otherwise a multi-segment path uses its
// uppercased final segment, and a single segment is uppercased with '-'
// replaced by '_'.
func MarkerFor(path string) string {
	if m, ok := markerTable[path]; ok {
		return m
	}
	segments := strings.Split(path, ".")
	if len(segments) > 1 {
		return strings.ToUpper(segments[len(segments)-1])
	}
	return strings.ToUpper(strings.ReplaceAll(path, "-", "_"))
}
