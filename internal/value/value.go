// Package value provides a tagged representation of JSON-shaped documents.
//
// Surfaces are schemaless nested documents, and the capsule renderer depends on
// field order, so objects keep their keys in insertion (or file) order.
package value

import (
	"encoding/json"
	"sort"
	"strconv"

	orderedmap "github.com/wk8/go-ordered-map/v2"
)

// Kind tags the variant held by a Value.
type Kind uint8

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

// String returns the kind name.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	}
	return "unknown"
}

// Value is a null, scalar, array or object. The zero Value is null.
//
// Object values share their field map between copies; use Clone before
// mutating a Value that someone else may hold.
type Value struct {
	kind  Kind
	b     bool
	num   json.Number
	str   string
	items []Value
	obj   *orderedmap.OrderedMap[string, Value]
}

// Field is a key/value pair used to build objects.
type Field struct {
	Key   string
	Value Value
}

// F is shorthand for Field{key, v}.
func F(key string, v Value) Field {
	return Field{Key: key, Value: v}
}

// Null returns the null value.
func Null() Value { return Value{} }

// Bool returns a boolean value.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Number returns a numeric value from its JSON text.
func Number(n json.Number) Value { return Value{kind: KindNumber, num: n} }

// Int returns a numeric value.
func Int(n int64) Value { return Number(json.Number(strconv.FormatInt(n, 10))) }

// Float returns a numeric value.
func Float(f float64) Value { return Number(json.Number(strconv.FormatFloat(f, 'g', -1, 64))) }

// String returns a string value.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Array returns an array value. A nil argument list yields an empty array.
func Array(items ...Value) Value {
	if items == nil {
		items = []Value{}
	}
	return Value{kind: KindArray, items: items}
}

// Strings returns an array of string values.
func Strings(ss ...string) Value {
	items := make([]Value, len(ss))
	for i, s := range ss {
		items[i] = String(s)
	}
	return Array(items...)
}

// Object returns an object value with fields in the given order.
func Object(fields ...Field) Value {
	v := Value{kind: KindObject, obj: orderedmap.New[string, Value]()}
	for _, f := range fields {
		v.obj.Set(f.Key, f.Value)
	}
	return v
}

// Kind returns the variant tag.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsObject reports whether v is an object.
func (v Value) IsObject() bool { return v.kind == KindObject }

// IsArray reports whether v is an array.
func (v Value) IsArray() bool { return v.kind == KindArray }

// IsScalar reports whether v is a bool, number or string.
func (v Value) IsScalar() bool {
	return v.kind == KindBool || v.kind == KindNumber || v.kind == KindString
}

// AsString returns the string payload.
func (v Value) AsString() (string, bool) {
	return v.str, v.kind == KindString
}

// AsInt returns the numeric payload as an integer.
func (v Value) AsInt() (int64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	n, err := v.num.Int64()
	if err != nil {
		f, ferr := v.num.Float64()
		if ferr != nil {
			return 0, false
		}
		return int64(f), true
	}
	return n, true
}

// Text returns the string form of a scalar: strings verbatim, numbers as
// written, booleans as true/false, null as "null". Containers return "".
func (v Value) Text() string {
	switch v.kind {
	case KindNull:
		return "null"
	case KindBool:
		return strconv.FormatBool(v.b)
	case KindNumber:
		return v.num.String()
	case KindString:
		return v.str
	}
	return ""
}

// Len returns the number of items or fields; 0 for scalars and null.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.items)
	case KindObject:
		return v.obj.Len()
	}
	return 0
}

// Items returns the elements of an array, or nil.
func (v Value) Items() []Value {
	if v.kind != KindArray {
		return nil
	}
	return v.items
}

// Get returns the field named key of an object.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	return v.obj.Get(key)
}

// Keys returns object field names in order.
func (v Value) Keys() []string {
	if v.kind != KindObject {
		return nil
	}
	keys := make([]string, 0, v.obj.Len())
	for pair := v.obj.Oldest(); pair != nil; pair = pair.Next() {
		keys = append(keys, pair.Key)
	}
	return keys
}

// Fields returns object fields in order.
func (v Value) Fields() []Field {
	if v.kind != KindObject {
		return nil
	}
	fields := make([]Field, 0, v.obj.Len())
	for pair := v.obj.Oldest(); pair != nil; pair = pair.Next() {
		fields = append(fields, Field{Key: pair.Key, Value: pair.Value})
	}
	return fields
}

// Set assigns an object field in place, keeping the position of an existing
// key. It is a no-op on non-object values.
func (v Value) Set(key string, field Value) Value {
	if v.kind == KindObject {
		v.obj.Set(key, field)
	}
	return v
}

// Lookup descends through nested object fields. It fails on a missing field
// or when an intermediate value is not an object.
func (v Value) Lookup(path ...string) (Value, bool) {
	cur := v
	for _, seg := range path {
		next, ok := cur.Get(seg)
		if !ok {
			return Value{}, false
		}
		cur = next
	}
	return cur, true
}

// Clone returns a deep copy.
func (v Value) Clone() Value {
	switch v.kind {
	case KindArray:
		items := make([]Value, len(v.items))
		for i, item := range v.items {
			items[i] = item.Clone()
		}
		return Value{kind: KindArray, items: items}
	case KindObject:
		out := Object()
		for pair := v.obj.Oldest(); pair != nil; pair = pair.Next() {
			out.obj.Set(pair.Key, pair.Value.Clone())
		}
		return out
	}
	return v
}

// FromAny converts decoded Go data (as produced by encoding/json into any)
// into a Value. Map keys are sorted since Go maps carry no order. Other types
// go through their JSON encoding; values that cannot be encoded become null.
func FromAny(x any) Value {
	switch t := x.(type) {
	case nil:
		return Null()
	case Value:
		return t
	case bool:
		return Bool(t)
	case string:
		return String(t)
	case json.Number:
		return Number(t)
	case float64:
		return Float(t)
	case float32:
		return Float(float64(t))
	case int:
		return Int(int64(t))
	case int64:
		return Int(t)
	case []string:
		return Strings(t...)
	case []any:
		items := make([]Value, len(t))
		for i, item := range t {
			items[i] = FromAny(item)
		}
		return Array(items...)
	case map[string]any:
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := Object()
		for _, k := range keys {
			out.obj.Set(k, FromAny(t[k]))
		}
		return out
	}
	b, err := json.Marshal(x)
	if err != nil {
		return Null()
	}
	v, err := Parse(b)
	if err != nil {
		return Null()
	}
	return v
}
