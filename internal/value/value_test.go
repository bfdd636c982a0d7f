package value

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse_PreservesFieldOrder(t *testing.T) {
	v, err := Parse([]byte(`{"zeta":1,"alpha":{"b":true,"a":null},"mid":["x",2.5]}`))
	require.NoError(t, err)

	assert.Equal(t, []string{"zeta", "alpha", "mid"}, v.Keys())

	inner, ok := v.Get("alpha")
	require.True(t, ok)
	assert.Equal(t, []string{"b", "a"}, inner.Keys())

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":1,"alpha":{"b":true,"a":null},"mid":["x",2.5]}`, string(out))
}

func TestParse_RejectsTrailingData(t *testing.T) {
	_, err := Parse([]byte(`{"a":1} {"b":2}`))
	assert.Error(t, err)

	_, err = Parse([]byte(`{"a":`))
	assert.Error(t, err)
}

func TestLookup(t *testing.T) {
	v := Object(
		F("capsule", Object(
			F("head", Object(F("framing", String("be brief")))),
		)),
		F("flat", String("x")),
	)

	got, ok := v.Lookup("capsule", "head", "framing")
	require.True(t, ok)
	assert.Equal(t, "be brief", got.Text())

	_, ok = v.Lookup("capsule", "tail")
	assert.False(t, ok)

	_, ok = v.Lookup("flat", "deeper")
	assert.False(t, ok, "lookup through a scalar must fail")
}

func TestSet_KeepsExistingPosition(t *testing.T) {
	v := Object(F("a", Int(1)), F("b", Int(2)))
	v.Set("a", Int(9))
	v.Set("c", Int(3))

	assert.Equal(t, []string{"a", "b", "c"}, v.Keys())
	a, _ := v.Get("a")
	n, ok := a.AsInt()
	require.True(t, ok)
	assert.Equal(t, int64(9), n)
}

func TestClone_IsDeep(t *testing.T) {
	orig := Object(F("list", Array(String("a"))), F("obj", Object(F("k", String("v")))))
	cp := orig.Clone()

	obj, _ := cp.Get("obj")
	obj.Set("k", String("changed"))

	origObj, _ := orig.Get("obj")
	k, _ := origObj.Get("k")
	assert.Equal(t, "v", k.Text())
}

func TestText(t *testing.T) {
	assert.Equal(t, "null", Null().Text())
	assert.Equal(t, "true", Bool(true).Text())
	assert.Equal(t, "3", Float(3).Text())
	assert.Equal(t, "2.5", Float(2.5).Text())
	assert.Equal(t, "hi", String("hi").Text())
	assert.Equal(t, "", Array().Text())
}

func TestMarshal_NoHTMLEscaping(t *testing.T) {
	out, err := String("a < b & c").MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `"a < b & c"`, string(out))
}

func TestFromAny(t *testing.T) {
	var decoded any
	require.NoError(t, json.Unmarshal([]byte(`{"b":[1,"x"],"a":{"n":null}}`), &decoded))

	v := FromAny(decoded)
	assert.Equal(t, KindObject, v.Kind())
	assert.Equal(t, []string{"a", "b"}, v.Keys())

	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":{"n":null},"b":[1,"x"]}`, string(out))
}

func TestFromAny_OtherTypesUseJSONEncoding(t *testing.T) {
	type point struct {
		Y int    `json:"y"`
		X int    `json:"x"`
		L string `json:"label"`
	}

	v := FromAny(point{Y: 2, X: 1, L: "p"})
	assert.Equal(t, KindObject, v.Kind())
	assert.Equal(t, []string{"y", "x", "label"}, v.Keys())
	label, _ := v.Get("label")
	assert.Equal(t, "p", label.Text())

	assert.Equal(t, "7", FromAny(uint8(7)).Text())
	assert.Equal(t, KindArray, FromAny([]int{1, 2}).Kind())
	assert.True(t, FromAny(make(chan int)).IsNull())
}

func TestUnmarshalJSON_InStruct(t *testing.T) {
	var req struct {
		Kind    string `json:"kind"`
		Payload Value  `json:"payload"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"kind":"digr","payload":{"z":1,"a":2}}`), &req))

	assert.Equal(t, "digr", req.Kind)
	assert.Equal(t, []string{"z", "a"}, req.Payload.Keys())
}

func TestZeroValueIsNull(t *testing.T) {
	var v Value
	assert.True(t, v.IsNull())
	out, err := json.Marshal(v)
	require.NoError(t, err)
	assert.Equal(t, "null", string(out))
}
