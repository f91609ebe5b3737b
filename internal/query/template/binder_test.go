package template

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/namedquery/internal/query/mapping"
)

func TestBinderPositional(t *testing.T) {
	b := NewBinder(Positional)
	values, err := b.Bind("q", map[string]mapping.ParamType{"id": mapping.MustParamType("long")},
		map[string]interface{}{"id": "7", "name": "x"})
	require.NoError(t, err)
	assert.Equal(t, int64(7), values["id"])
	assert.Equal(t, "x", values["name"])

	funcs := b.FuncMap()
	sp := funcs["sp"].(func(interface{}) (string, error))
	mp := funcs["mp"].(func(interface{}) (string, error))

	out, err := sp(values["id"])
	require.NoError(t, err)
	assert.Equal(t, "?", out)

	out, err = mp([]string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, "?,?", out)

	out, err = mp("c")
	require.NoError(t, err)
	assert.Equal(t, "?", out)

	assert.Equal(t, []interface{}{int64(7), "a", "b", "c"}, b.Params())
}

func TestBinderDocument(t *testing.T) {
	b := NewBinder(Document)
	_, err := b.Bind("q", nil, map[string]interface{}{"tags": []string{}})
	require.NoError(t, err)

	funcs := b.FuncMap()
	mp := funcs["mp"].(func(interface{}) (string, error))
	ep := funcs["ep"].(func(string) (string, error))

	out, err := mp([]string{})
	require.NoError(t, err)
	assert.Equal(t, "[]", out)

	out, err = ep("missing.key")
	require.NoError(t, err)
	assert.Equal(t, "null", out)
	assert.Nil(t, b.Params())
}

func TestLookup(t *testing.T) {
	type line struct{ SKU string }
	data := map[string]interface{}{
		"order": map[string]interface{}{
			"id":    5,
			"lines": []interface{}{map[string]string{"sku": "A-1"}},
			"first": line{SKU: "B-2"},
		},
	}

	tests := []struct {
		path string
		want interface{}
	}{
		{"order.id", 5},
		{".order.id", 5},
		{"order.lines.0.sku", "A-1"},
		{"order.first.SKU", "B-2"},
		{"order.missing", nil},
		{"order.missing.deeper", nil},
	}
	for _, tt := range tests {
		got, err := Lookup(data, tt.path)
		require.NoError(t, err, tt.path)
		assert.Equal(t, tt.want, got, tt.path)
	}

	for _, bad := range []string{"", "order.lines.3", "order.id.x", "order.first.Nope"} {
		_, err := Lookup(data, bad)
		assert.Error(t, err, bad)
	}
}

func TestParseMode(t *testing.T) {
	m, err := ParseMode("sql")
	require.NoError(t, err)
	assert.Equal(t, Positional, m)

	m, err = ParseMode("document")
	require.NoError(t, err)
	assert.Equal(t, Document, m)

	_, err = ParseMode("graph")
	assert.Error(t, err)
}
