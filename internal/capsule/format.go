package capsule

import (
	"strings"

	"github.com/hpungsan/strata/internal/value"
)

const (
	emptyText = "(empty)"
	noneText  = "(none)"
	indentBy  = "  "
)

// FormatContent renders a resolved value as capsule section text.
//
//	null                      -> (empty)
//	scalar                    -> its string form
//	empty array or object     -> (none)
//	array                     -> one "- item" line per element
//	object                    -> one "Title Case Label: value" line per field,
//	                             nested containers indented beneath the label
func FormatContent(v value.Value) string {
	switch {
	case v.IsNull():
		return emptyText
	case v.IsScalar():
		return v.Text()
	case v.Len() == 0:
		return noneText
	case v.IsArray():
		return strings.Join(formatItems(v, ""), "\n")
	}
	return strings.Join(formatObject(v, ""), "\n")
}

func formatItems(v value.Value, indent string) []string {
	lines := make([]string, 0, v.Len())
	for _, item := range v.Items() {
		lines = append(lines, indent+"- "+formatItem(item))
	}
	return lines
}

func formatItem(item value.Value) string {
	if !item.IsObject() {
		return inline(item)
	}

	turnID, hasTurn := item.Get("turnId")
	input, hasInput := item.Get("userInput")
	if hasTurn && hasInput {
		return "Turn " + inline(turnID) + ": " + inline(input)
	}
	if content, ok := item.Get("content"); ok {
		return inline(content)
	}

	fields := item.Fields()
	pairs := make([]string, 0, len(fields))
	for _, f := range fields {
		pairs = append(pairs, f.Key+": "+inline(f.Value))
	}
	return strings.Join(pairs, ", ")
}

func formatObject(v value.Value, indent string) []string {
	var lines []string
	for _, f := range v.Fields() {
		label := indent + TitleCase(f.Key)
		child := f.Value
		switch {
		case child.IsNull():
			lines = append(lines, label+": "+emptyText)
		case child.IsScalar():
			lines = append(lines, label+": "+child.Text())
		case child.Len() == 0:
			lines = append(lines, label+": "+noneText)
		case child.IsObject():
			lines = append(lines, label+":")
			lines = append(lines, formatObject(child, indent+indentBy)...)
		default:
			lines = append(lines, label+":")
			lines = append(lines, formatItems(child, indent+indentBy)...)
		}
	}
	return lines
}

// inline renders a value on a single line. Containers use compact JSON.
func inline(v value.Value) string {
	if v.IsNull() || v.IsScalar() {
		return v.Text()
	}
	b, err := v.MarshalJSON()
	if err != nil {
		return ""
	}
	return string(b)
}
