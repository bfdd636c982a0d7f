package surface

import (
	"slices"

	"github.com/hpungsan/strata/internal/value"
)

// Merge combines a stored document with an incoming write using the kind's
// strategy. Neither argument is modified.
func Merge(k Kind, prior, incoming value.Value) value.Value {
	switch StrategyFor(k) {
	case ShallowMerge:
		return shallowMerge(prior, incoming)
	case ArrayAppend:
		return appendMerge(prior, incoming)
	}
	return incoming.Clone()
}

// shallowMerge overlays incoming top-level keys. Nested objects are replaced.
func shallowMerge(prior, incoming value.Value) value.Value {
	out := prior.Clone()
	if !out.IsObject() {
		out = value.Object()
	}
	for _, f := range incoming.Fields() {
		out.Set(f.Key, f.Value.Clone())
	}
	return out
}

func appendMerge(prior, incoming value.Value) value.Value {
	out := prior.Clone()
	if !out.IsObject() {
		out = value.Object()
	}

	for _, f := range incoming.Fields() {
		switch {
		case slices.Contains(appendFields, f.Key):
			if !f.Value.IsArray() {
				continue
			}
			existing, _ := out.Get(f.Key)
			items := append([]value.Value{}, existing.Items()...)
			for _, item := range f.Value.Items() {
				items = append(items, item.Clone())
			}
			out.Set(f.Key, value.Array(items...))
		case slices.Contains(replaceFields, f.Key):
			if f.Value.IsNull() {
				continue
			}
			out.Set(f.Key, f.Value.Clone())
		default:
			out.Set(f.Key, f.Value.Clone())
		}
	}
	return out
}
