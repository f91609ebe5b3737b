package template

import (
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	qerrors "github.com/conduit-lang/namedquery/internal/query/errors"
	"github.com/conduit-lang/namedquery/internal/query/mapping"
)

// Definitions looks up query definitions by versioned name
type Definitions interface {
	Get(name string) (*mapping.QueryDefinition, error)
}

// Template is a parsed query script together with the parts of its
// definition that were frozen at compile time
type Template struct {
	name         string
	handle       Handle
	schema       map[string]mapping.ParamType
	result       *mapping.ResultSchema
	fetchQueries []*mapping.FetchQueryDefinition
	hints        []*mapping.HintDefinition
	cache        bool
	cacheTTL     time.Duration
	compiledAt   time.Time

	engine Engine
	mode   Mode
}

// Name returns the versioned query name
func (t *Template) Name() string { return t.name }

// CompiledAt returns when the template was parsed
func (t *Template) CompiledAt() time.Time { return t.compiledAt }

// Cache reports whether results of this query may be cached and for how long
func (t *Template) Cache() (bool, time.Duration) { return t.cache, t.cacheTTL }

// Schema returns a copy of the parameter schema
func (t *Template) Schema() map[string]mapping.ParamType {
	schema := make(map[string]mapping.ParamType, len(t.schema))
	for k, v := range t.schema {
		schema[k] = v
	}
	return schema
}

var whitespace = strings.NewReplacer("\t", " ", "\n", " ", "\r", " ")

// Process binds params and renders the script into a Querier
func (t *Template) Process(params map[string]interface{}) (*Querier, error) {
	binder := NewBinder(t.mode)
	values, err := binder.Bind(t.name, t.schema, params)
	if err != nil {
		return nil, err
	}

	script, err := t.engine.Render(t.handle, values, binder.FuncMap())
	if err != nil {
		return nil, qerrors.Wrap(err, qerrors.Execution, t.name, "render")
	}
	if t.mode == Positional {
		script = strings.TrimSpace(whitespace.Replace(script))
	}

	return &Querier{
		name:         t.name,
		script:       script,
		args:         binder.Params(),
		params:       values,
		result:       t.result,
		fetchQueries: t.fetchQueries,
		hints:        t.hints,
	}, nil
}

// Compiler parses query scripts on first use and caches the templates.
// Failed parses are not cached, so a repaired definition compiles on the
// next call.
type Compiler struct {
	defs   Definitions
	engine Engine
	mode   Mode
	logger *zap.Logger

	templates sync.Map // versioned name -> *Template
	group     singleflight.Group
}

// NewCompiler creates a compiler over defs. A nil engine selects the
// text/template engine.
func NewCompiler(defs Definitions, engine Engine, mode Mode, logger *zap.Logger) *Compiler {
	if engine == nil {
		engine = NewTextEngine()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Compiler{
		defs:   defs,
		engine: engine,
		mode:   mode,
		logger: logger,
	}
}

// Mode returns the binding mode of compiled templates
func (c *Compiler) Mode() Mode { return c.mode }

// Compile returns the template for name, parsing it on a cache miss.
// Concurrent misses for the same name share one parse and all callers
// receive the same *Template.
func (c *Compiler) Compile(name string) (*Template, error) {
	if cached, ok := c.templates.Load(name); ok {
		return cached.(*Template), nil
	}

	v, err, _ := c.group.Do(name, func() (interface{}, error) {
		if cached, ok := c.templates.Load(name); ok {
			return cached, nil
		}

		def, err := c.defs.Get(name)
		if err != nil {
			return nil, err
		}
		handle, err := c.engine.Parse(name, def.Script)
		if err != nil {
			c.logger.Error("template parse failed", zap.String("query", name), zap.Error(err))
			return nil, qerrors.Wrap(err, qerrors.Compilation, name, "compile")
		}

		tpl := newTemplate(name, def, handle, c.engine, c.mode)
		actual, _ := c.templates.LoadOrStore(name, tpl)
		c.logger.Debug("template compiled", zap.String("query", name))
		return actual, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*Template), nil
}

// Process compiles name if needed and renders it with params
func (c *Compiler) Process(name string, params map[string]interface{}) (*Querier, error) {
	tpl, err := c.Compile(name)
	if err != nil {
		return nil, err
	}
	return tpl.Process(params)
}

// Len returns the number of cached templates
func (c *Compiler) Len() int {
	n := 0
	c.templates.Range(func(_, _ interface{}) bool {
		n++
		return true
	})
	return n
}

func newTemplate(name string, def *mapping.QueryDefinition, handle Handle, engine Engine, mode Mode) *Template {
	schema := make(map[string]mapping.ParamType, len(def.Parameters))
	for k, v := range def.Parameters {
		schema[k] = v
	}
	return &Template{
		name:         name,
		handle:       handle,
		schema:       schema,
		result:       def.Result,
		fetchQueries: append([]*mapping.FetchQueryDefinition(nil), def.FetchQueries...),
		hints:        append([]*mapping.HintDefinition(nil), def.Hints...),
		cache:        def.Cache,
		cacheTTL:     def.CacheTTL,
		compiledAt:   time.Now(),
		engine:       engine,
		mode:         mode,
	}
}
