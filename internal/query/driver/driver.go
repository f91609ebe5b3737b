// Package driver executes rendered queries against a backend: a relational
// database through database/sql, or a document search engine over HTTP.
package driver

import (
	"context"
)

// Paging keys read from call parameters
const (
	OffsetKey = "_offset"
	LimitKey  = "_limit"
)

// Request is one rendered query to execute
type Request struct {
	Query  string        // versioned query name
	Script string        // rendered script
	Args   []interface{} // positional arguments, nil for document scripts
	Offset int
	Limit  int  // 0 means no limit
	Count  bool // also compute the total number of matches
}

// Result is the raw outcome of a request
type Result struct {
	Total int64 // -1 when not counted
	Rows  []map[string]interface{}
}

// Executor runs a request against a backend
type Executor interface {
	Query(ctx context.Context, req Request) (*Result, error)
}

// RawExecutor is implemented by backends that can return their complete,
// unshaped response to a rendered script
type RawExecutor interface {
	Raw(ctx context.Context, req Request) (map[string]interface{}, error)
}

// ExecutorFunc adapts a function to the Executor interface
type ExecutorFunc func(ctx context.Context, req Request) (*Result, error)

// Query calls f
func (f ExecutorFunc) Query(ctx context.Context, req Request) (*Result, error) {
	return f(ctx, req)
}
