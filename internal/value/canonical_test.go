package value

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalBasic(t *testing.T) {
	tests := []struct {
		name     string
		input    Value
		expected string
	}{
		{"null", Null{}, "null"},
		{"string", String("hello"), `"hello"`},
		{"int", Number(42), "42"},
		{"negative", Number(-100), "-100"},
		{"fraction", Number(1.5), "1.5"},
		{"zero", Number(0), "0"},
		{"large", Number(1e21), "1e+21"},
		{"small", Number(1e-7), "1e-7"},
		{"micro", Number(0.000001), "0.000001"},
		{"bool", Bool(true), "true"},
		{"empty array", Array{}, "[]"},
		{"empty object", Object{}, "{}"},
		{"html not escaped", String("<a&b>"), `"<a&b>"`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(out))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := Object{
		"zebra": Number(1),
		"alpha": Object{"b": Number(1), "a": Number(2)},
	}
	out, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, `{"alpha":{"a":2,"b":1},"zebra":1}`, string(out))
}

func TestMarshalCanonicalUTF16Order(t *testing.T) {
	// U+1F600 encodes as a surrogate pair starting 0xD83D, which sorts
	// before U+FFFD in UTF-16 but after it in UTF-8.
	obj := Object{"\uFFFD": Number(1), "\U0001F600": Number(2)}
	out, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U0001F600\":2,\"\uFFFD\":1}", string(out))
}

func TestMarshalCanonicalNFC(t *testing.T) {
	decomposed := String("e\u0301")
	out, err := MarshalCanonical(decomposed)
	require.NoError(t, err)
	assert.Equal(t, "\"\u00e9\"", string(out))
}

func TestMarshalCanonicalLineSeparators(t *testing.T) {
	out, err := MarshalCanonical(String("a\u2028b"))
	require.NoError(t, err)
	assert.Equal(t, "\"a\u2028b\"", string(out))

	out, err = MarshalCanonical(String(`a\u2028b`))
	require.NoError(t, err)
	assert.Equal(t, `"a\\u2028b"`, string(out))
}

func TestMarshalCanonicalUndefined(t *testing.T) {
	_, err := MarshalCanonical(nil)
	assert.ErrorIs(t, err, ErrUndefined)

	out, err := MarshalCanonical(Object{"gone": nil, "kept": Null{}})
	require.NoError(t, err)
	assert.Equal(t, `{"kept":null}`, string(out))
}

func TestDigestStable(t *testing.T) {
	a := Object{"x": Array{Number(1), String("y")}, "z": Null{}}
	b := Object{"z": Null{}, "x": Array{Number(1), String("y")}}

	da, err := Digest(a)
	require.NoError(t, err)
	db, err := Digest(b)
	require.NoError(t, err)
	assert.Equal(t, da, db)
	assert.Len(t, da, 64)

	dc, err := Digest(Object{"x": Array{Number(2), String("y")}, "z": Null{}})
	require.NoError(t, err)
	assert.NotEqual(t, da, dc)
}
