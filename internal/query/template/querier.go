package template

import (
	"github.com/conduit-lang/namedquery/internal/query/mapping"
)

// Querier is a fully rendered query, ready for an execution driver.
// A Querier is immutable.
type Querier struct {
	name         string
	script       string
	args         []interface{}
	params       map[string]interface{}
	result       *mapping.ResultSchema
	fetchQueries []*mapping.FetchQueryDefinition
	hints        []*mapping.HintDefinition
}

// Name returns the versioned query name
func (q *Querier) Name() string { return q.name }

// Script returns the rendered script
func (q *Querier) Script() string { return q.script }

// Args returns the positional arguments in placeholder order
func (q *Querier) Args() []interface{} {
	if q.args == nil {
		return nil
	}
	args := make([]interface{}, len(q.args))
	copy(args, q.args)
	return args
}

// Params returns the converted parameters the script was rendered with
func (q *Querier) Params() map[string]interface{} {
	params := make(map[string]interface{}, len(q.params))
	for k, v := range q.params {
		params[k] = v
	}
	return params
}

// Result returns the result schema, nil when rows are untyped
func (q *Querier) Result() *mapping.ResultSchema { return q.result }

// FetchQueries returns the fetch queries to resolve on the result
func (q *Querier) FetchQueries() []*mapping.FetchQueryDefinition { return q.fetchQueries }

// Hints returns the hints to apply on the result
func (q *Querier) Hints() []*mapping.HintDefinition { return q.hints }
