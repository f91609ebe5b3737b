package engine

import (
	"sort"
)

// ParamReviser adjusts call parameters before a query is rendered, e.g. to
// inject a tenant or clamp a page size. Revisers run in ascending Priority
// order on a copy of the caller's parameters, for root and fetch queries alike.
type ParamReviser interface {
	Priority() int
	Revise(query string, params map[string]interface{}) error
}

// ReviserFunc adapts a function to ParamReviser
type ReviserFunc struct {
	Order int
	Fn    func(query string, params map[string]interface{}) error
}

// Priority implements ParamReviser
func (r ReviserFunc) Priority() int { return r.Order }

// Revise implements ParamReviser
func (r ReviserFunc) Revise(query string, params map[string]interface{}) error {
	return r.Fn(query, params)
}

func sortRevisers(revisers []ParamReviser) []ParamReviser {
	sorted := append([]ParamReviser(nil), revisers...)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Priority() < sorted[j].Priority()
	})
	return sorted
}

func (e *Engine) revise(query string, params map[string]interface{}) (map[string]interface{}, error) {
	revised := make(map[string]interface{}, len(params))
	for k, v := range params {
		revised[k] = v
	}
	for _, r := range e.revisers {
		if err := r.Revise(query, revised); err != nil {
			return nil, err
		}
	}
	return revised, nil
}
