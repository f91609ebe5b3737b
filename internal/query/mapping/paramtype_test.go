package mapping

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestParseParamType(t *testing.T) {
	tests := []struct {
		input string
		want  BaseType
	}{
		{"string", TypeString},
		{"Integer", TypeInt},
		{"long", TypeLong},
		{"bigint", TypeLong},
		{"double", TypeFloat},
		{"decimal", TypeDecimal},
		{"boolean", TypeBool},
		{"datetime", TypeTimestamp},
		{"date", TypeDate},
		{"uuid", TypeUUID},
		{" any ", TypeAny},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseParamType(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got.Base)
		})
	}
}

func TestParseParamTypeEnum(t *testing.T) {
	got, err := ParseParamType("enum: Open | Closed ")
	require.NoError(t, err)
	assert.Equal(t, TypeEnum, got.Base)
	assert.Equal(t, []string{"Open", "Closed"}, got.Values)
	assert.Equal(t, "enum:Open|Closed", got.String())
}

func TestParseParamTypeErrors(t *testing.T) {
	for _, input := range []string{"", "money", "enum:", "enum: | "} {
		_, err := ParseParamType(input)
		assert.Error(t, err, input)
	}
}

func TestParamTypeUnmarshalYAML(t *testing.T) {
	var decoded struct {
		Params map[string]ParamType `yaml:"params"`
	}
	err := yaml.Unmarshal([]byte("params:\n  id: long\n  at: timestamp\n"), &decoded)
	require.NoError(t, err)
	assert.Equal(t, TypeLong, decoded.Params["id"].Base)
	assert.Equal(t, TypeTimestamp, decoded.Params["at"].Base)

	err = yaml.Unmarshal([]byte("params:\n  id: [1]\n"), &decoded)
	assert.Error(t, err)
}

func TestMustParamTypePanics(t *testing.T) {
	assert.Panics(t, func() { MustParamType("nope") })
	assert.Equal(t, TypeUUID, MustParamType("uuid").Base)
}
