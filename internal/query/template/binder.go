package template

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"

	"github.com/conduit-lang/namedquery/internal/query/conversion"
	"github.com/conduit-lang/namedquery/internal/query/mapping"
)

// Mode selects how bound values reach the rendered script
type Mode int

const (
	// Positional emits '?' placeholders and collects ordered arguments
	Positional Mode = iota
	// Document inlines values as JSON literals
	Document
)

// String returns the string representation of the mode
func (m Mode) String() string {
	if m == Document {
		return "document"
	}
	return "positional"
}

// ParseMode maps an engine kind to a binding mode
func ParseMode(kind string) (Mode, error) {
	switch strings.ToLower(kind) {
	case "", "sql", "positional":
		return Positional, nil
	case "document", "search":
		return Document, nil
	default:
		return Positional, fmt.Errorf("unknown engine kind %q", kind)
	}
}

// Binder converts call parameters and collects the values emitted while a
// template renders. A Binder serves exactly one render pass.
type Binder struct {
	mode   Mode
	values map[string]interface{}
	params []interface{}
}

// NewBinder creates a binder for one render pass
func NewBinder(mode Mode) *Binder {
	return &Binder{mode: mode}
}

// Bind converts the raw parameters declared in schema and keeps the result
// as the data of the render pass. Undeclared keys pass through unconverted.
func (b *Binder) Bind(query string, schema map[string]mapping.ParamType, raw map[string]interface{}) (map[string]interface{}, error) {
	values, err := conversion.Params(query, raw, schema)
	if err != nil {
		return nil, err
	}
	b.values = values
	b.params = b.params[:0]
	return values, nil
}

// FuncMap returns the sp, mp and ep helpers bound to this binder
func (b *Binder) FuncMap() FuncMap {
	return FuncMap{
		"sp": b.single,
		"mp": b.multi,
		"ep": b.expression,
	}
}

// Params returns the positional arguments in placeholder order
func (b *Binder) Params() []interface{} {
	if len(b.params) == 0 {
		return nil
	}
	params := make([]interface{}, len(b.params))
	copy(params, b.params)
	return params
}

func (b *Binder) single(v interface{}) (string, error) {
	if b.mode == Document {
		return literal(v)
	}
	b.params = append(b.params, v)
	return "?", nil
}

func (b *Binder) multi(v interface{}) (string, error) {
	var items []interface{}
	if rv := reflect.ValueOf(v); conversion.IsCollection(v) {
		items = make([]interface{}, rv.Len())
		for i := range items {
			items[i] = rv.Index(i).Interface()
		}
	} else if v != nil {
		items = []interface{}{v}
	}

	if b.mode == Document {
		if items == nil {
			items = []interface{}{}
		}
		return literal(items)
	}
	if len(items) == 0 {
		return "NULL", nil
	}
	b.params = append(b.params, items...)
	return strings.TrimSuffix(strings.Repeat("?,", len(items)), ","), nil
}

func (b *Binder) expression(path string) (string, error) {
	v, err := Lookup(b.values, path)
	if err != nil {
		return "", err
	}
	return b.single(v)
}

func literal(v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("cannot inline %T: %w", v, err)
	}
	return string(data), nil
}

// Lookup evaluates a dotted path such as "order.lines.0.id" against data.
// Missing map keys yield nil; stepping into a scalar is an error.
func Lookup(data interface{}, path string) (interface{}, error) {
	path = strings.TrimPrefix(strings.TrimSpace(path), ".")
	if path == "" {
		return nil, fmt.Errorf("empty expression")
	}

	current := data
	for _, part := range strings.Split(path, ".") {
		if current == nil {
			return nil, nil
		}
		if m, ok := current.(map[string]interface{}); ok {
			current = m[part]
			continue
		}

		rv := reflect.ValueOf(current)
		for rv.Kind() == reflect.Ptr || rv.Kind() == reflect.Interface {
			if rv.IsNil() {
				return nil, nil
			}
			rv = rv.Elem()
		}
		switch rv.Kind() {
		case reflect.Map:
			if rv.Type().Key().Kind() != reflect.String {
				return nil, fmt.Errorf("cannot index %s with %q", rv.Type(), part)
			}
			val := rv.MapIndex(reflect.ValueOf(part).Convert(rv.Type().Key()))
			if !val.IsValid() {
				return nil, nil
			}
			current = val.Interface()
		case reflect.Slice, reflect.Array:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= rv.Len() {
				return nil, fmt.Errorf("index %q out of range in %q", part, path)
			}
			current = rv.Index(idx).Interface()
		case reflect.Struct:
			field := rv.FieldByName(part)
			if !field.IsValid() || !field.CanInterface() {
				return nil, fmt.Errorf("no field %q in %s", part, rv.Type())
			}
			current = field.Interface()
		default:
			return nil, fmt.Errorf("cannot evaluate %q: %s is not a container", path, rv.Type())
		}
	}
	return current, nil
}
