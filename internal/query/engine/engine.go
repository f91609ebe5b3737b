// Package engine exposes the caller-facing named query operations.
//
// A call resolves the named template, binds and renders it, runs the script
// through the execution driver, converts the rows to the declared result
// types, resolves the fetch query graph and finally applies the result
// hints. Callers get either the fully assembled result or one error.
package engine

import (
	"context"
	"time"

	"github.com/spf13/cast"
	"go.uber.org/zap"

	"github.com/conduit-lang/namedquery/internal/query/conversion"
	"github.com/conduit-lang/namedquery/internal/query/driver"
	qerrors "github.com/conduit-lang/namedquery/internal/query/errors"
	"github.com/conduit-lang/namedquery/internal/query/fetch"
	"github.com/conduit-lang/namedquery/internal/query/hints"
	"github.com/conduit-lang/namedquery/internal/query/registry"
	"github.com/conduit-lang/namedquery/internal/query/resultcache"
	"github.com/conduit-lang/namedquery/internal/query/template"
)

// DefaultPageSize is the page size used when a call carries no _limit
const DefaultPageSize = 16

// Operation names
const (
	OpSelect  = "select"
	OpGet     = "get"
	OpPage    = "page"
	OpForward = "forward"
	// OpSearch and OpAggregate return the backend response as is and need a
	// driver.RawExecutor
	OpSearch    = "search"
	OpAggregate = "aggregate"
)

// PagedList is one page of rows with the total number of matches
type PagedList struct {
	Rows   []map[string]interface{} `json:"rows"`
	Total  int64                    `json:"total"`
	Offset int                      `json:"offset"`
	Limit  int                      `json:"limit"`
}

// ResultRows implements hints.Rows
func (p *PagedList) ResultRows() []map[string]interface{} { return p.Rows }

// ForwardList is one window of rows and whether more rows follow it
type ForwardList struct {
	Rows    []map[string]interface{} `json:"rows"`
	HasMore bool                     `json:"hasMore"`
	Offset  int                      `json:"offset"`
	Limit   int                      `json:"limit"`
}

// ResultRows implements hints.Rows
func (f *ForwardList) ResultRows() []map[string]interface{} { return f.Rows }

type options struct {
	mode         template.Mode
	tplEngine    template.Engine
	handlers     []hints.Handler
	revisers     []ParamReviser
	cache        *resultcache.Cache
	metrics      *Metrics
	logger       *zap.Logger
	pageSize     int
	maxFetchSize int
}

// Option configures an Engine
type Option func(*options)

// WithMode selects positional (relational) or document (search) binding
func WithMode(mode template.Mode) Option {
	return func(o *options) { o.mode = mode }
}

// WithTemplateEngine replaces the text/template engine
func WithTemplateEngine(engine template.Engine) Option {
	return func(o *options) { o.tplEngine = engine }
}

// WithHintHandlers registers hint handlers after the built-in ones
func WithHintHandlers(handlers ...hints.Handler) Option {
	return func(o *options) { o.handlers = append(o.handlers, handlers...) }
}

// WithRevisers registers parameter revisers
func WithRevisers(revisers ...ParamReviser) Option {
	return func(o *options) { o.revisers = append(o.revisers, revisers...) }
}

// WithCache enables result caching for queries declared with cache: true
func WithCache(c *resultcache.Cache) Option {
	return func(o *options) { o.cache = c }
}

// WithMetrics records call metrics
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithLogger sets the logger
func WithLogger(logger *zap.Logger) Option {
	return func(o *options) { o.logger = logger }
}

// WithPageSize sets the limit used when a call carries no _limit
func WithPageSize(n int) Option {
	return func(o *options) { o.pageSize = n }
}

// WithMaxFetchSize caps multi-record fetches that declare no max-size
func WithMaxFetchSize(n int) Option {
	return func(o *options) { o.maxFetchSize = n }
}

// Engine runs named queries
type Engine struct {
	registry *registry.Registry
	compiler *template.Compiler
	driver   driver.Executor
	fetcher  *fetch.Executor
	hints    *hints.Pipeline
	cache    *resultcache.Cache
	revisers []ParamReviser
	metrics  *Metrics
	pageSize int
	logger   *zap.Logger
}

// New creates an engine serving the queries of reg through drv
func New(reg *registry.Registry, drv driver.Executor, opts ...Option) *Engine {
	o := &options{
		pageSize:     DefaultPageSize,
		maxFetchSize: fetch.DefaultMaxSize,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}
	if o.pageSize <= 0 {
		o.pageSize = DefaultPageSize
	}

	e := &Engine{
		registry: reg,
		driver:   drv,
		cache:    o.cache,
		revisers: sortRevisers(o.revisers),
		metrics:  o.metrics,
		pageSize: o.pageSize,
		logger:   o.logger,
	}
	e.compiler = template.NewCompiler(reg, o.tplEngine, o.mode, o.logger.Named("compiler"))
	e.hints = hints.NewDefaultPipeline(o.logger.Named("hints"), o.handlers...)
	e.fetcher = fetch.NewExecutor(revising{e}, drv,
		fetch.WithHints(e.hints),
		fetch.WithMaxSize(o.maxFetchSize),
		fetch.WithLogger(o.logger.Named("fetch")),
	)
	e.metrics.bind(e)
	return e
}

// Registry returns the query definitions served by the engine
func (e *Engine) Registry() *registry.Registry { return e.registry }

// Compiler returns the template compiler
func (e *Engine) Compiler() *template.Compiler { return e.compiler }

// Hints returns the hint pipeline
func (e *Engine) Hints() *hints.Pipeline { return e.hints }

// Render renders name with params without executing it
func (e *Engine) Render(name string, params map[string]interface{}) (*template.Querier, error) {
	return revising{e}.Process(name, params)
}

// Select returns all rows of name
func (e *Engine) Select(ctx context.Context, name string, params map[string]interface{}) ([]map[string]interface{}, error) {
	var rows []map[string]interface{}
	err := e.call(ctx, name, OpSelect, params, &rows, func(q *template.Querier) (int, error) {
		res, err := e.execute(ctx, q, driver.Request{})
		if err != nil {
			return 0, err
		}
		if err := e.complete(ctx, q, res.Rows); err != nil {
			return 0, err
		}
		e.hints.Apply(q.Hints(), res.Rows)
		rows = res.Rows
		return len(rows), nil
	})
	if err != nil {
		return nil, err
	}
	return rows, nil
}

// Get returns the first row of name, or nil when there is none
func (e *Engine) Get(ctx context.Context, name string, params map[string]interface{}) (map[string]interface{}, error) {
	var row map[string]interface{}
	err := e.call(ctx, name, OpGet, params, &row, func(q *template.Querier) (int, error) {
		res, err := e.execute(ctx, q, driver.Request{Limit: 1})
		if err != nil {
			return 0, err
		}
		if len(res.Rows) == 0 {
			row = nil
			return 0, nil
		}
		first := res.Rows[:1]
		if err := e.complete(ctx, q, first); err != nil {
			return 0, err
		}
		row = first[0]
		e.hints.Apply(q.Hints(), row)
		return 1, nil
	})
	if err != nil {
		return nil, err
	}
	return row, nil
}

// Page returns the window selected by _offset and _limit together with the
// total number of matches
func (e *Engine) Page(ctx context.Context, name string, params map[string]interface{}) (*PagedList, error) {
	var page *PagedList
	err := e.call(ctx, name, OpPage, params, &page, func(q *template.Querier) (int, error) {
		offset, limit, err := e.window(q)
		if err != nil {
			return 0, err
		}
		res, err := e.execute(ctx, q, driver.Request{Offset: offset, Limit: limit, Count: true})
		if err != nil {
			return 0, err
		}
		if err := e.complete(ctx, q, res.Rows); err != nil {
			return 0, err
		}
		page = &PagedList{Rows: res.Rows, Total: res.Total, Offset: offset, Limit: limit}
		e.hints.Apply(q.Hints(), page)
		return len(page.Rows), nil
	})
	if err != nil {
		return nil, err
	}
	return page, nil
}

// Forward returns the window selected by _offset and _limit and whether
// more rows follow, without counting all matches
func (e *Engine) Forward(ctx context.Context, name string, params map[string]interface{}) (*ForwardList, error) {
	var list *ForwardList
	err := e.call(ctx, name, OpForward, params, &list, func(q *template.Querier) (int, error) {
		offset, limit, err := e.window(q)
		if err != nil {
			return 0, err
		}
		res, err := e.execute(ctx, q, driver.Request{Offset: offset, Limit: limit + 1})
		if err != nil {
			return 0, err
		}
		rows := res.Rows
		hasMore := len(rows) > limit
		if hasMore {
			rows = rows[:limit]
		}
		if err := e.complete(ctx, q, rows); err != nil {
			return 0, err
		}
		list = &ForwardList{Rows: rows, HasMore: hasMore, Offset: offset, Limit: limit}
		e.hints.Apply(q.Hints(), list)
		return len(rows), nil
	})
	if err != nil {
		return nil, err
	}
	return list, nil
}

// Search returns the complete backend response to the rendered script of
// name. Fetch queries, result schemas and hints are not applied.
func (e *Engine) Search(ctx context.Context, name string, params map[string]interface{}) (map[string]interface{}, error) {
	return e.raw(ctx, name, OpSearch, params, func(resp map[string]interface{}) map[string]interface{} {
		return resp
	})
}

// Aggregate returns the aggregations section of the backend response to the
// rendered script of name, or an empty map when there is none
func (e *Engine) Aggregate(ctx context.Context, name string, params map[string]interface{}) (map[string]interface{}, error) {
	return e.raw(ctx, name, OpAggregate, params, func(resp map[string]interface{}) map[string]interface{} {
		if aggs, ok := resp["aggregations"].(map[string]interface{}); ok {
			return aggs
		}
		return map[string]interface{}{}
	})
}

func (e *Engine) raw(
	ctx context.Context,
	name, op string,
	params map[string]interface{},
	pick func(map[string]interface{}) map[string]interface{},
) (map[string]interface{}, error) {
	rawDriver, supported := e.driver.(driver.RawExecutor)

	var out map[string]interface{}
	err := e.call(ctx, name, op, params, &out, func(q *template.Querier) (int, error) {
		if !supported {
			return 0, qerrors.New(qerrors.Execution, name, op, "backend does not support the %s operation", op)
		}
		e.logger.Debug("query",
			zap.String("query", q.Name()),
			zap.String("op", op),
			zap.Any("params", q.Params()),
			zap.String("script", q.Script()),
		)
		resp, err := rawDriver.Raw(ctx, driver.Request{Query: q.Name(), Script: q.Script(), Args: q.Args()})
		if err != nil {
			return 0, qerrors.Wrap(err, qerrors.Execution, q.Name(), op)
		}
		if resp == nil {
			resp = map[string]interface{}{}
		}
		out = pick(resp)
		return 0, nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// call renders name and runs fn, consulting the result cache when the query opts in.
// dst must point at the variable fn fills.
func (e *Engine) call(
	ctx context.Context,
	name, op string,
	params map[string]interface{},
	dst interface{},
	fn func(q *template.Querier) (int, error),
) (err error) {
	start := time.Now()
	rows := 0
	defer func() { e.metrics.observe(name, op, start, rows, err) }()

	tpl, err := e.compiler.Compile(name)
	if err != nil {
		return err
	}
	revised, err := e.revise(name, params)
	if err != nil {
		return qerrors.Wrap(err, qerrors.Conversion, name, "revise")
	}
	q, err := tpl.Process(revised)
	if err != nil {
		return err
	}

	cacheable, ttl := tpl.Cache()
	if !cacheable || e.cache == nil {
		rows, err = fn(q)
		return err
	}

	key, keyErr := resultcache.Key(name, op, q.Params())
	if keyErr != nil {
		e.logger.Debug("skipping result cache", zap.String("query", name), zap.Error(keyErr))
		rows, err = fn(q)
		return err
	}
	if e.cache.Load(ctx, key, dst) {
		e.metrics.cacheResult(name, true)
		restoreEmpty(dst)
		return nil
	}
	e.metrics.cacheResult(name, false)

	if rows, err = fn(q); err != nil {
		return err
	}
	e.cache.Save(ctx, key, dst, ttl)
	return nil
}

// restoreEmpty turns row collections that came back nil from the cache into
// empty ones, as a fresh call returns them
func restoreEmpty(dst interface{}) {
	switch v := dst.(type) {
	case *[]map[string]interface{}:
		if *v == nil {
			*v = []map[string]interface{}{}
		}
		restoreRows(*v)
	case *map[string]interface{}:
		restoreRow(*v)
	case **PagedList:
		if *v != nil {
			if (*v).Rows == nil {
				(*v).Rows = []map[string]interface{}{}
			}
			restoreRows((*v).Rows)
		}
	case **ForwardList:
		if *v != nil {
			if (*v).Rows == nil {
				(*v).Rows = []map[string]interface{}{}
			}
			restoreRows((*v).Rows)
		}
	}
}

func restoreRows(rows []map[string]interface{}) {
	for _, row := range rows {
		restoreRow(row)
	}
}

func restoreRow(row map[string]interface{}) {
	for field, v := range row {
		switch nested := v.(type) {
		case []map[string]interface{}:
			if nested == nil {
				row[field] = []map[string]interface{}{}
				continue
			}
			restoreRows(nested)
		case map[string]interface{}:
			restoreRow(nested)
		}
	}
}

// execute runs q and converts the raw rows to the result schema
func (e *Engine) execute(ctx context.Context, q *template.Querier, req driver.Request) (*driver.Result, error) {
	req.Query = q.Name()
	req.Script = q.Script()
	req.Args = q.Args()

	e.logger.Debug("query",
		zap.String("query", q.Name()),
		zap.Any("params", q.Params()),
		zap.String("script", q.Script()),
	)

	res, err := e.driver.Query(ctx, req)
	if err != nil {
		return nil, qerrors.Wrap(err, qerrors.Execution, q.Name(), "execute")
	}
	if res.Rows == nil {
		res.Rows = []map[string]interface{}{}
	}
	for _, row := range res.Rows {
		if err := conversion.Row(q.Name(), row, q.Result()); err != nil {
			return nil, err
		}
	}
	return res, nil
}

// complete resolves the fetch queries of rows
func (e *Engine) complete(ctx context.Context, q *template.Querier, rows []map[string]interface{}) error {
	return e.fetcher.Resolve(ctx, rows, q.FetchQueries(), q.Params())
}

// window reads _offset and _limit from the rendered parameters
func (e *Engine) window(q *template.Querier) (int, int, error) {
	params := q.Params()
	offset, limit := 0, e.pageSize

	if v, ok := params[driver.OffsetKey]; ok && v != nil {
		n, err := cast.ToIntE(v)
		if err != nil || n < 0 {
			return 0, 0, qerrors.New(qerrors.Conversion, q.Name(), "page", "invalid %s %v", driver.OffsetKey, v)
		}
		offset = n
	}
	if v, ok := params[driver.LimitKey]; ok && v != nil {
		n, err := cast.ToIntE(v)
		if err != nil || n <= 0 {
			return 0, 0, qerrors.New(qerrors.Conversion, q.Name(), "page", "invalid %s %v", driver.LimitKey, v)
		}
		limit = n
	}
	return offset, limit, nil
}

// revising renders queries after running the parameter revisers
type revising struct{ e *Engine }

func (r revising) Process(name string, params map[string]interface{}) (*template.Querier, error) {
	revised, err := r.e.revise(name, params)
	if err != nil {
		return nil, qerrors.Wrap(err, qerrors.Conversion, name, "revise")
	}
	return r.e.compiler.Process(name, revised)
}
