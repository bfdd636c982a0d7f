package surface

import (
	"github.com/hpungsan/strata/internal/errors"
	"github.com/hpungsan/strata/internal/value"
)

// Kind names a surface document within a session.
type Kind string

const (
	KindCapsule          Kind = "capsule"
	KindTrace            Kind = "trace"
	KindDigr             Kind = "digr"
	KindSessionState     Kind = "session-state"
	KindIntuitionOutline Kind = "intuition-outline"
)

// Kinds lists every surface kind in a stable order.
var Kinds = []Kind{KindCapsule, KindTrace, KindDigr, KindSessionState, KindIntuitionOutline}

// Strategy is how a write combines with the stored document.
type Strategy int

const (
	Overwrite Strategy = iota
	ShallowMerge
	ArrayAppend
)

// String returns the strategy name.
func (s Strategy) String() string {
	switch s {
	case Overwrite:
		return "overwrite"
	case ShallowMerge:
		return "shallow-merge"
	case ArrayAppend:
		return "array-append"
	}
	return "unknown"
}

var strategies = map[Kind]Strategy{
	KindCapsule:          ShallowMerge,
	KindTrace:            Overwrite,
	KindDigr:             ArrayAppend,
	KindSessionState:     ShallowMerge,
	KindIntuitionOutline: Overwrite,
}

// digr fields that accumulate across writes.
var appendFields = []string{"decisions", "insights", "goals", "relationships", "patterns", "refinements"}

// digr fields that keep the prior value unless the write carries one.
var replaceFields = []string{"milestone", "contribution"}

// ParseKind validates a surface name.
func ParseKind(s string) (Kind, error) {
	k := Kind(s)
	if _, ok := strategies[k]; !ok {
		return "", errors.NewInvalidSurface(s)
	}
	return k, nil
}

// StrategyFor returns the merge strategy of a kind.
func StrategyFor(k Kind) Strategy {
	return strategies[k]
}

// Default returns a fresh copy of the kind's empty document.
func Default(k Kind) value.Value {
	switch k {
	case KindCapsule:
		return value.Object(
			value.F("head", value.Object(
				value.F("framing", value.String("")),
				value.F("selectedTopics", value.Array()),
				value.F("turnContext", value.String("")),
				value.F("userInput", value.String("")),
			)),
			value.F("body", value.Object(
				value.F("recentTurns", value.Array()),
			)),
			value.F("tail", value.Object(
				value.F("goals", value.Array()),
				value.F("trajectory", value.String("")),
				value.F("pulse", value.String("")),
				value.F("planning", value.String("")),
			)),
		)
	case KindTrace:
		return value.Object(
			value.F("turnId", value.String("")),
			value.F("userInput", value.String("")),
			value.F("llm1Output", value.String("")),
			value.F("llm2Output", value.String("")),
			value.F("quad", value.String("")),
			value.F("optimized", value.String("")),
			value.F("intent", value.String("")),
			value.F("timestamp", value.Null()),
		)
	case KindDigr:
		return value.Object(
			value.F("decisions", value.Array()),
			value.F("insights", value.Array()),
			value.F("goals", value.Array()),
			value.F("relationships", value.Array()),
			value.F("milestone", value.String("")),
			value.F("contribution", value.String("")),
			value.F("patterns", value.Array()),
			value.F("refinements", value.Array()),
		)
	case KindSessionState:
		return value.Object(
			value.F("lastTurnId", value.String("")),
			value.F("turnCount", value.Int(0)),
			value.F("activeGoals", value.Array()),
			value.F("trajectory", value.String("")),
		)
	case KindIntuitionOutline:
		return value.Object(
			value.F("intuitions", value.Array()),
			value.F("planning", value.String("")),
			value.F("pulse", value.String("")),
			value.F("suggestedFocus", value.String("")),
		)
	}
	return value.Object()
}
