package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	tests := []struct {
		name string
		in   Value
		want Kind
	}{
		{"undefined", nil, KindUndefined},
		{"null", Null{}, KindNull},
		{"bool", Bool(true), KindBool},
		{"number", Number(1.5), KindNumber},
		{"string", String("x"), KindString},
		{"array", Array{}, KindArray},
		{"object", Object{}, KindObject},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, KindOf(tt.in))
		})
	}
}

func TestCloneIsDeep(t *testing.T) {
	orig := Object{"list": Array{Number(1), Object{"k": String("v")}}}
	cp := Clone(orig).(Object)

	cp["list"].(Array)[1].(Object)["k"] = String("changed")
	cp["extra"] = Bool(true)

	assert.Equal(t, String("v"), orig["list"].(Array)[1].(Object)["k"])
	_, ok := orig["extra"]
	assert.False(t, ok)
}

func TestEqual(t *testing.T) {
	a := MustFromAny(map[string]any{"a": []any{1.0, "x", nil}, "b": true})
	b := MustFromAny(map[string]any{"b": true, "a": []any{1.0, "x", nil}})
	assert.True(t, Equal(a, b))

	assert.False(t, Equal(Null{}, nil), "null and undefined differ")
	assert.False(t, Equal(Number(0), Bool(false)))
	assert.False(t, Equal(Array{Number(1)}, Array{Number(1), Number(2)}))
	assert.False(t, Equal(Object{"a": Null{}}, Object{"b": Null{}}))
	assert.True(t, Equal(nil, nil))
}

func TestUnmarshalRoundTrip(t *testing.T) {
	v, err := Unmarshal([]byte(`{"hello":"world","n":[1,2.5,null],"ok":false}`))
	require.NoError(t, err)

	obj, ok := v.(Object)
	require.True(t, ok)
	assert.Equal(t, String("world"), obj["hello"])
	assert.Equal(t, Array{Number(1), Number(2.5), Null{}}, obj["n"])
	assert.Equal(t, Bool(false), obj["ok"])

	out, err := Marshal(v)
	require.NoError(t, err)
	assert.JSONEq(t, `{"hello":"world","n":[1,2.5,null],"ok":false}`, string(out))
}

func TestUnmarshalRejectsTrailingData(t *testing.T) {
	_, err := Unmarshal([]byte(`{} {}`))
	assert.Error(t, err)
}

func TestMarshalUndefined(t *testing.T) {
	_, err := Marshal(nil)
	assert.ErrorIs(t, err, ErrUndefined)
}

func TestFromAnyYAMLInts(t *testing.T) {
	v, err := FromAny(map[string]any{"count": 3, "big": int64(7)})
	require.NoError(t, err)
	assert.Equal(t, Object{"count": Number(3), "big": Number(7)}, v)
}

func TestBoxJSON(t *testing.T) {
	var b Box
	require.NoError(t, b.UnmarshalJSON([]byte(`[true]`)))
	assert.Equal(t, Array{Bool(true)}, b.V)
	assert.False(t, b.IsZero())

	out, err := b.MarshalJSON()
	require.NoError(t, err)
	assert.Equal(t, `[true]`, string(out))
}

func TestStringRunes(t *testing.T) {
	assert.Equal(t, 5, String("héllo").Runes())
}
