package mapping

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"
)

// BaseType is the semantic type of a declared parameter or result field
type BaseType int

const (
	TypeAny BaseType = iota
	TypeString
	TypeInt
	TypeLong
	TypeFloat
	TypeDecimal
	TypeBool
	TypeTimestamp
	TypeDate
	TypeUUID
	TypeEnum
)

// String returns the canonical name of the base type
func (b BaseType) String() string {
	switch b {
	case TypeString:
		return "string"
	case TypeInt:
		return "int"
	case TypeLong:
		return "long"
	case TypeFloat:
		return "float"
	case TypeDecimal:
		return "decimal"
	case TypeBool:
		return "bool"
	case TypeTimestamp:
		return "timestamp"
	case TypeDate:
		return "date"
	case TypeUUID:
		return "uuid"
	case TypeEnum:
		return "enum"
	default:
		return "any"
	}
}

var baseTypeNames = map[string]BaseType{
	"any":       TypeAny,
	"object":    TypeAny,
	"string":    TypeString,
	"text":      TypeString,
	"int":       TypeInt,
	"integer":   TypeInt,
	"long":      TypeLong,
	"bigint":    TypeLong,
	"float":     TypeFloat,
	"double":    TypeFloat,
	"decimal":   TypeDecimal,
	"bool":      TypeBool,
	"boolean":   TypeBool,
	"timestamp": TypeTimestamp,
	"datetime":  TypeTimestamp,
	"date":      TypeDate,
	"uuid":      TypeUUID,
}

// ParamType is a declared type. Enum types carry their allowed values.
type ParamType struct {
	Base   BaseType
	Values []string
}

// ParseParamType parses a type name such as "long", "timestamp" or "enum:OPEN|CLOSED"
func ParseParamType(s string) (ParamType, error) {
	name := strings.ToLower(strings.TrimSpace(s))
	if name == "" {
		return ParamType{}, fmt.Errorf("empty parameter type")
	}

	if strings.HasPrefix(name, "enum:") {
		raw := strings.TrimSpace(s)[len("enum:"):]
		var values []string
		for _, v := range strings.Split(raw, "|") {
			if v = strings.TrimSpace(v); v != "" {
				values = append(values, v)
			}
		}
		if len(values) == 0 {
			return ParamType{}, fmt.Errorf("enum type %q declares no values", s)
		}
		return ParamType{Base: TypeEnum, Values: values}, nil
	}

	base, ok := baseTypeNames[name]
	if !ok {
		return ParamType{}, fmt.Errorf("unknown parameter type %q", s)
	}
	return ParamType{Base: base}, nil
}

// MustParamType is ParseParamType for static declarations; it panics on error
func MustParamType(s string) ParamType {
	t, err := ParseParamType(s)
	if err != nil {
		panic(err)
	}
	return t
}

// String returns the declaration form of the type
func (t ParamType) String() string {
	if t.Base == TypeEnum {
		return "enum:" + strings.Join(t.Values, "|")
	}
	return t.Base.String()
}

// UnmarshalYAML decodes a type from its declaration form
func (t *ParamType) UnmarshalYAML(node *yaml.Node) error {
	var s string
	if err := node.Decode(&s); err != nil {
		return fmt.Errorf("line %d: parameter type must be a string: %w", node.Line, err)
	}
	parsed, err := ParseParamType(s)
	if err != nil {
		return fmt.Errorf("line %d: %w", node.Line, err)
	}
	*t = parsed
	return nil
}
