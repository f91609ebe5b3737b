package hints

import (
	"bufio"
	"fmt"
	"strings"
	"text/template"

	"github.com/conduit-lang/namedquery/internal/query/mapping"
)

// Built-in hint keys
const (
	ResultMapperKey = "result-mapper"
	DropFieldsKey   = "drop-fields"
	RenameFieldsKey = "rename-fields"
)

// Builtin returns the built-in handlers
func Builtin() []Handler {
	return []Handler{ResultMapper{}, DropFields{}, RenameFields{}}
}

// ResultMapper assigns computed fields. Each script line has the form
//
//	field = <template>
//
// and the template renders with the row as data.
type ResultMapper struct{}

// CanHandle implements Handler
func (ResultMapper) CanHandle(def *mapping.HintDefinition) bool {
	return def.Key == ResultMapperKey
}

// Compile implements Handler
func (ResultMapper) Compile(def *mapping.HintDefinition) (Mapper, error) {
	type assignment struct {
		field string
		tpl   *template.Template
	}

	var assignments []assignment
	scanner := bufio.NewScanner(strings.NewReader(def.Script))
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}
		field, expr, ok := strings.Cut(text, "=")
		field = strings.TrimSpace(field)
		if !ok || field == "" {
			return nil, fmt.Errorf("line %d: expected 'field = template', got %q", line, text)
		}
		tpl, err := template.New(field).Option("missingkey=zero").Parse(strings.TrimSpace(expr))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		assignments = append(assignments, assignment{field: field, tpl: tpl})
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(assignments) == 0 {
		return nil, fmt.Errorf("result-mapper has no assignments")
	}

	return func(row map[string]interface{}) {
		for _, a := range assignments {
			var sb strings.Builder
			if err := a.tpl.Execute(&sb, row); err != nil {
				continue
			}
			row[a.field] = sb.String()
		}
	}, nil
}

// DropFields removes the comma-separated fields of its script
type DropFields struct{}

// CanHandle implements Handler
func (DropFields) CanHandle(def *mapping.HintDefinition) bool {
	return def.Key == DropFieldsKey
}

// Compile implements Handler
func (DropFields) Compile(def *mapping.HintDefinition) (Mapper, error) {
	fields := splitList(def.Script)
	if len(fields) == 0 {
		return nil, fmt.Errorf("drop-fields names no fields")
	}
	return func(row map[string]interface{}) {
		for _, f := range fields {
			delete(row, f)
		}
	}, nil
}

// RenameFields renames fields given as comma-separated from:to pairs
type RenameFields struct{}

// CanHandle implements Handler
func (RenameFields) CanHandle(def *mapping.HintDefinition) bool {
	return def.Key == RenameFieldsKey
}

// Compile implements Handler
func (RenameFields) Compile(def *mapping.HintDefinition) (Mapper, error) {
	type rename struct{ from, to string }

	var renames []rename
	for _, pair := range splitList(def.Script) {
		from, to, ok := strings.Cut(pair, ":")
		from, to = strings.TrimSpace(from), strings.TrimSpace(to)
		if !ok || from == "" || to == "" {
			return nil, fmt.Errorf("invalid rename %q, expected from:to", pair)
		}
		renames = append(renames, rename{from: from, to: to})
	}
	if len(renames) == 0 {
		return nil, fmt.Errorf("rename-fields names no fields")
	}

	return func(row map[string]interface{}) {
		for _, r := range renames {
			if v, ok := row[r.from]; ok {
				delete(row, r.from)
				row[r.to] = v
			}
		}
	}, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.FieldsFunc(s, func(r rune) bool { return r == ',' || r == '\n' }) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
