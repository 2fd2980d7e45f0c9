package attribute

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAttributeNavigation(t *testing.T) {
	a := New("services", "openssh", "enable")

	assert.Equal(t, 3, a.Len())
	assert.Equal(t, "enable", a.End())
	assert.Equal(t, New("services", "openssh"), a.Parent())
	assert.Equal(t, Root(), New("services").Parent())
	assert.Equal(t, Root(), Root().Parent())
	assert.True(t, Root().IsRoot())
	assert.False(t, a.IsRoot())
	assert.Equal(t, a, New("services").Child("openssh").Child("enable"))
	assert.Equal(t, []string{"services", "openssh", "enable"}, a.Segments())
	assert.Nil(t, Root().Segments())
}

func TestAttributeIsComparable(t *testing.T) {
	m := map[Attribute]int{}
	m[New("a", "b")] = 1
	m[MustParse("a.b")]++

	assert.Len(t, m, 1)
	assert.Equal(t, 2, m[New("a", "b")])
	assert.NotEqual(t, New("a.b"), New("a", "b"))
}

func TestAttributePrefix(t *testing.T) {
	a := New("networking", "firewall", "enable")

	assert.True(t, a.HasPrefix(New("networking")))
	assert.True(t, a.HasPrefix(a))
	assert.True(t, a.HasPrefix(Root()))
	assert.False(t, a.HasPrefix(New("network")))

	rel, ok := a.TrimPrefix(New("networking"))
	require.True(t, ok)
	assert.Equal(t, New("firewall", "enable"), rel)
	assert.Equal(t, a, New("networking").Join(rel))

	_, ok = a.TrimPrefix(New("boot"))
	assert.False(t, ok)
}

func TestAttributeCompare(t *testing.T) {
	assert.Negative(t, New("a").Compare(New("a", "b")))
	assert.Negative(t, New("a", "z").Compare(New("ab")))
	assert.Zero(t, New("x").Compare(MustParse("x")))
}

func TestStringRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		attr Attribute
		want string
	}{
		{"plain", New("boot", "loader", "grub", "enable"), "boot.loader.grub.enable"},
		{"dotted segment", New("fileSystems", "/boot", "device"), `fileSystems."/boot".device`},
		{"quote and escape", New(`a"b\c`), `"a\"b\\c"`},
		{"interpolation", New("${x}"), `"\${x}"`},
		{"newline", New("a\nb"), `"a\nb"`},
		{"empty segment", New(""), `""`},
		{"identifier chars", New("x-y'z_1"), "x-y'z_1"},
		{"leading digit", New("1abc"), `"1abc"`},
		{"keyword", New("programs", "let", "in"), `programs."let"."in"`},
		{"keyword prefix", New("inherits", "letter"), "inherits.letter"},
		{"root", Root(), ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.attr.String())

			parsed, err := Parse(tt.attr.String())
			require.NoError(t, err)
			assert.Equal(t, tt.attr, parsed)
		})
	}
}

func TestParseAcceptsBareKeywords(t *testing.T) {
	a, err := Parse("services.with.enable")
	require.NoError(t, err)
	assert.Equal(t, New("services", "with", "enable"), a)
	assert.Equal(t, `services."with".enable`, a.String())
}

func TestParseErrors(t *testing.T) {
	for _, in := range []string{"a..b", "a.", ".a", `"unterminated`, `"a"b`, "a b"} {
		_, err := Parse(in)
		assert.ErrorIs(t, err, ErrInvalidAttribute, "input %q", in)
	}
}

func TestJSONEncoding(t *testing.T) {
	a := New("fileSystems", "/", "fsType")

	data, err := json.Marshal(a)
	require.NoError(t, err)
	assert.JSONEq(t, `["fileSystems","/","fsType"]`, string(data))

	var back Attribute
	require.NoError(t, json.Unmarshal(data, &back))
	assert.Equal(t, a, back)

	keyed := map[Attribute]string{a: "ext4"}
	data, err = json.Marshal(keyed)
	require.NoError(t, err)
	assert.JSONEq(t, `{"fileSystems.\"/\".fsType":"ext4"}`, string(data))

	var keyedBack map[Attribute]string
	require.NoError(t, json.Unmarshal(data, &keyedBack))
	assert.Equal(t, keyed, keyedBack)

	var dotted Attribute
	require.NoError(t, json.Unmarshal([]byte(`"boot.loader.timeout"`), &dotted))
	assert.Equal(t, New("boot", "loader", "timeout"), dotted)

	assert.Error(t, json.Unmarshal([]byte(`"a..b"`), &dotted))
	assert.Error(t, json.Unmarshal([]byte(`{"a":1}`), &dotted))
}
