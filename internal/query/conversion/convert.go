// Package conversion converts loosely typed call-site values into the types
// declared by a query's parameter or result schema.
package conversion

import (
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cast"

	qerrors "github.com/conduit-lang/namedquery/internal/query/errors"
	"github.com/conduit-lang/namedquery/internal/query/mapping"
)

type converterFunc func(v interface{}, t mapping.ParamType) (interface{}, error)

var converters = map[mapping.BaseType]converterFunc{
	mapping.TypeAny:       func(v interface{}, _ mapping.ParamType) (interface{}, error) { return v, nil },
	mapping.TypeString:    func(v interface{}, _ mapping.ParamType) (interface{}, error) { return cast.ToStringE(v) },
	mapping.TypeInt:       func(v interface{}, _ mapping.ParamType) (interface{}, error) { return cast.ToIntE(v) },
	mapping.TypeLong:      func(v interface{}, _ mapping.ParamType) (interface{}, error) { return cast.ToInt64E(v) },
	mapping.TypeFloat:     func(v interface{}, _ mapping.ParamType) (interface{}, error) { return cast.ToFloat64E(v) },
	mapping.TypeDecimal:   toDecimal,
	mapping.TypeBool:      func(v interface{}, _ mapping.ParamType) (interface{}, error) { return cast.ToBoolE(v) },
	mapping.TypeTimestamp: func(v interface{}, _ mapping.ParamType) (interface{}, error) { return cast.ToTimeE(v) },
	mapping.TypeDate:      toDate,
	mapping.TypeUUID:      toUUID,
	mapping.TypeEnum:      toEnum,
}

// Convert converts v to t. Nil stays nil. Slices and arrays other than
// []byte are converted element by element into []interface{}.
func Convert(v interface{}, t mapping.ParamType) (interface{}, error) {
	if v == nil {
		return nil, nil
	}
	if rv, ok := collection(v); ok {
		out := make([]interface{}, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			converted, err := Convert(rv.Index(i).Interface(), t)
			if err != nil {
				return nil, fmt.Errorf("element %d: %w", i, err)
			}
			out[i] = converted
		}
		return out, nil
	}

	conv, ok := converters[t.Base]
	if !ok {
		return nil, fmt.Errorf("no converter for type %s", t)
	}
	return conv(v, t)
}

// IsCollection reports whether v is bound as a sequence of values
func IsCollection(v interface{}) bool {
	_, ok := collection(v)
	return ok
}

func collection(v interface{}) (reflect.Value, bool) {
	switch v.(type) {
	case nil, []byte, uuid.UUID, [16]byte:
		return reflect.Value{}, false
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Slice || rv.Kind() == reflect.Array {
		return rv, true
	}
	return reflect.Value{}, false
}

// Params returns a copy of params with every key present in schema converted
// to its declared type. Keys missing from the schema pass through unchanged.
func Params(query string, params map[string]interface{}, schema map[string]mapping.ParamType) (map[string]interface{}, error) {
	converted := make(map[string]interface{}, len(params))
	for k, v := range params {
		converted[k] = v
	}
	for name, t := range schema {
		v, ok := converted[name]
		if !ok {
			continue
		}
		cv, err := Convert(v, t)
		if err != nil {
			return nil, qerrors.Wrap(fmt.Errorf("parameter %s: cannot convert %v (%T) to %s: %w", name, v, v, t, err),
				qerrors.Conversion, query, "convert")
		}
		converted[name] = cv
	}
	return converted, nil
}

// Row converts the fields of row declared in schema, in place
func Row(query string, row map[string]interface{}, schema *mapping.ResultSchema) error {
	if schema == nil || row == nil {
		return nil
	}
	for field, t := range schema.Fields {
		v, ok := row[field]
		if !ok {
			continue
		}
		cv, err := Convert(v, t)
		if err != nil {
			return qerrors.Wrap(fmt.Errorf("result field %s: cannot convert %v (%T) to %s: %w", field, v, v, t, err),
				qerrors.Conversion, query, "convert")
		}
		row[field] = cv
	}
	return nil
}

func toDecimal(v interface{}, _ mapping.ParamType) (interface{}, error) {
	switch d := v.(type) {
	case string:
		s := strings.TrimSpace(d)
		if _, err := strconv.ParseFloat(s, 64); err != nil {
			return nil, err
		}
		return s, nil
	case float32:
		return strconv.FormatFloat(float64(d), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(d, 'f', -1, 64), nil
	}
	i, err := cast.ToInt64E(v)
	if err != nil {
		return nil, err
	}
	return strconv.FormatInt(i, 10), nil
}

func toDate(v interface{}, _ mapping.ParamType) (interface{}, error) {
	ts, err := cast.ToTimeE(v)
	if err != nil {
		return nil, err
	}
	y, m, d := ts.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, ts.Location()), nil
}

func toUUID(v interface{}, _ mapping.ParamType) (interface{}, error) {
	switch id := v.(type) {
	case uuid.UUID:
		return id, nil
	case [16]byte:
		return uuid.UUID(id), nil
	case []byte:
		if len(id) == 16 {
			return uuid.FromBytes(id)
		}
		return uuid.ParseBytes(id)
	}
	s, err := cast.ToStringE(v)
	if err != nil {
		return nil, err
	}
	return uuid.Parse(s)
}

func toEnum(v interface{}, t mapping.ParamType) (interface{}, error) {
	s, err := cast.ToStringE(v)
	if err != nil {
		return nil, err
	}
	for _, allowed := range t.Values {
		if allowed == s {
			return allowed, nil
		}
	}
	for _, allowed := range t.Values {
		if strings.EqualFold(allowed, s) {
			return allowed, nil
		}
	}
	return nil, fmt.Errorf("%q is not one of %s", s, strings.Join(t.Values, ", "))
}
