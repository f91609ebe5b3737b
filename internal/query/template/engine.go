// Package template compiles query scripts into reusable templates, binds call
// parameters to them and renders the final script of a Querier.
//
// Scripts are text/template sources. Three helper functions are available
// while rendering:
//
//	{{sp .id}}            one parameter
//	{{mp .ids}}           a sequence of parameters, e.g. for IN (...)
//	{{ep "order.id"}}     the value at a dotted path of the parameters
//
// In positional mode the helpers emit '?' placeholders and record the bound
// values in placeholder order. In document mode they emit JSON literals.
package template

import (
	"fmt"
	"strings"
	"text/template"
)

// FuncMap is the set of helper functions available to a render pass
type FuncMap = template.FuncMap

// Handle is an engine specific parsed template
type Handle interface{}

// Engine parses and renders script templates
type Engine interface {
	Parse(name, text string) (Handle, error)
	Render(h Handle, data map[string]interface{}, funcs FuncMap) (string, error)
}

// TextEngine is the text/template backed Engine
type TextEngine struct{}

// NewTextEngine creates a text/template engine
func NewTextEngine() *TextEngine {
	return &TextEngine{}
}

// Parse parses text. The helper names are declared up front so scripts using
// them parse; the real implementations are bound per render.
func (e *TextEngine) Parse(name, text string) (Handle, error) {
	tpl, err := template.New(name).Funcs(placeholderFuncs()).Parse(text)
	if err != nil {
		return nil, err
	}
	return tpl, nil
}

// Render executes a clone of the parsed template with funcs bound, leaving the
// shared handle untouched so concurrent renders never observe each other's helpers.
func (e *TextEngine) Render(h Handle, data map[string]interface{}, funcs FuncMap) (string, error) {
	tpl, ok := h.(*template.Template)
	if !ok {
		return "", fmt.Errorf("unexpected template handle %T", h)
	}
	clone, err := tpl.Clone()
	if err != nil {
		return "", err
	}
	if len(funcs) > 0 {
		clone.Funcs(funcs)
	}

	var sb strings.Builder
	if err := clone.Execute(&sb, data); err != nil {
		return "", err
	}
	return sb.String(), nil
}

func placeholderFuncs() FuncMap {
	unbound := func(name string) func(...interface{}) (string, error) {
		return func(...interface{}) (string, error) {
			return "", fmt.Errorf("%s called outside of a bound render", name)
		}
	}
	return FuncMap{
		"sp": unbound("sp"),
		"mp": unbound("mp"),
		"ep": unbound("ep"),
	}
}
