// Package fetch resolves the fetch queries of a result: for every parent item
// it runs the referenced named query with parameters derived from the item
// and injects the fetched rows under the declared property.
package fetch

import (
	"context"

	"go.uber.org/zap"

	"github.com/conduit-lang/namedquery/internal/query/conversion"
	"github.com/conduit-lang/namedquery/internal/query/driver"
	qerrors "github.com/conduit-lang/namedquery/internal/query/errors"
	"github.com/conduit-lang/namedquery/internal/query/mapping"
	"github.com/conduit-lang/namedquery/internal/query/template"
)

// DefaultMaxSize caps multi-record fetches that declare no max-size
const DefaultMaxSize = 1024

// Processor renders a named query with parameters
type Processor interface {
	Process(name string, params map[string]interface{}) (*template.Querier, error)
}

// HintApplier post-processes fetched rows
type HintApplier interface {
	Apply(hints []*mapping.HintDefinition, result interface{})
}

// Executor resolves fetch query graphs
type Executor struct {
	processor Processor
	driver    driver.Executor
	hints     HintApplier
	maxSize   int
	logger    *zap.Logger
}

// Option configures an Executor
type Option func(*Executor)

// WithHints applies the hints of each fetched query to its rows
func WithHints(h HintApplier) Option {
	return func(e *Executor) { e.hints = h }
}

// WithMaxSize sets the cap used when a fetch query declares no max-size
func WithMaxSize(n int) Option {
	return func(e *Executor) {
		if n > 0 {
			e.maxSize = n
		}
	}
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(e *Executor) {
		if logger != nil {
			e.logger = logger
		}
	}
}

// NewExecutor creates a fetch executor
func NewExecutor(processor Processor, drv driver.Executor, opts ...Option) *Executor {
	e := &Executor{
		processor: processor,
		driver:    drv,
		maxSize:   DefaultMaxSize,
		logger:    zap.NewNop(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Resolve runs every fetch definition against every parent, in declaration
// order and then parent order. Fetched rows are resolved recursively with
// their own fetch definitions right after injection. The first failure
// aborts the whole call; parents may then hold partially injected values and
// must be discarded.
func (e *Executor) Resolve(
	ctx context.Context,
	parents []map[string]interface{},
	defs []*mapping.FetchQueryDefinition,
	base map[string]interface{},
) error {
	if len(parents) == 0 || len(defs) == 0 {
		return nil
	}

	for _, fq := range defs {
		for _, parent := range parents {
			if parent == nil {
				continue
			}
			if err := ctx.Err(); err != nil {
				return qerrors.Wrap(err, qerrors.Execution, fq.VersionedReferenceName(), "fetch")
			}
			if err := e.resolveOne(ctx, parent, fq, base); err != nil {
				return err
			}
		}
	}
	return nil
}

func (e *Executor) resolveOne(
	ctx context.Context,
	parent map[string]interface{},
	fq *mapping.FetchQueryDefinition,
	base map[string]interface{},
) error {
	name := fq.VersionedReferenceName()

	params, err := DeriveParams(base, parent, fq)
	if err != nil {
		return qerrors.Wrap(err, qerrors.Execution, name, "fetch")
	}

	querier, err := e.processor.Process(name, params)
	if err != nil {
		return err
	}

	limit := e.maxSize
	if fq.MaxSize > 0 {
		limit = fq.MaxSize
	}
	if !fq.MultiRecords {
		limit = 1
	}

	e.logger.Debug("fetch query",
		zap.String("query", name),
		zap.Any("params", querier.Params()),
		zap.String("script", querier.Script()),
		zap.String("inject", fq.InjectPropertyName),
	)

	res, err := e.driver.Query(ctx, driver.Request{
		Query:  name,
		Script: querier.Script(),
		Args:   querier.Args(),
		Limit:  limit,
	})
	if err != nil {
		return qerrors.Wrap(err, qerrors.Execution, name, "fetch")
	}

	rows := res.Rows
	if len(rows) > limit {
		rows = rows[:limit]
	}

	schema := fq.Result
	if schema == nil {
		schema = querier.Result()
	}
	for _, row := range rows {
		if err := conversion.Row(name, row, schema); err != nil {
			return err
		}
	}

	if fq.MultiRecords {
		injected := make([]map[string]interface{}, len(rows))
		copy(injected, rows)
		parent[fq.InjectPropertyName] = injected
	} else if len(rows) > 0 {
		parent[fq.InjectPropertyName] = rows[0]
	} else {
		parent[fq.InjectPropertyName] = nil
	}

	if len(rows) == 0 {
		return nil
	}
	if err := e.Resolve(ctx, rows, querier.FetchQueries(), base); err != nil {
		return err
	}
	if e.hints != nil && len(querier.Hints()) > 0 {
		e.hints.Apply(querier.Hints(), rows)
	}
	return nil
}

// DeriveParams builds the parameters of one fetch: a copy of base without
// paging keys, overlaid with the declared fetch parameters. A declared
// parameter always wins over a same-named base key.
func DeriveParams(
	base map[string]interface{},
	parent map[string]interface{},
	fq *mapping.FetchQueryDefinition,
) (map[string]interface{}, error) {
	params := make(map[string]interface{}, len(base)+len(fq.Parameters))
	for k, v := range base {
		params[k] = v
	}
	delete(params, driver.OffsetKey)
	delete(params, driver.LimitKey)

	for _, p := range fq.Parameters {
		switch p.Source {
		case mapping.SourceParam:
			params[p.Name] = base[p.SourceKey()]
		case mapping.SourceConstant:
			params[p.Name] = p.Value
		default:
			v, err := template.Lookup(parent, p.SourceKey())
			if err != nil {
				return nil, err
			}
			params[p.Name] = v
		}
	}
	return params, nil
}
