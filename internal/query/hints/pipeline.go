// Package hints post-processes query results with pluggable hint handlers.
//
// A hint definition is resolved once: the first registered handler whose
// CanHandle accepts it compiles it into a Mapper, which is cached and
// applied to every row of later results. When no handler accepts the hint,
// or compilation fails, the hint is marked broken and skipped from then on.
// Hint failures never fail a query.
package hints

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/conduit-lang/namedquery/internal/query/mapping"
)

// Mapper transforms one result row in place
type Mapper func(row map[string]interface{})

// Handler compiles hint definitions it understands into mappers
type Handler interface {
	CanHandle(def *mapping.HintDefinition) bool
	Compile(def *mapping.HintDefinition) (Mapper, error)
}

// Rows is implemented by result wrappers that carry a page of rows
type Rows interface {
	ResultRows() []map[string]interface{}
}

type entry struct {
	once   sync.Once
	mapper Mapper
	broken bool
}

// Pipeline applies hints to results, caching resolutions per hint definition
type Pipeline struct {
	handlers []Handler
	logger   *zap.Logger

	entries     sync.Map // *mapping.HintDefinition -> *entry
	broken      atomic.Int64
	resolutions atomic.Int64
}

// NewPipeline creates a pipeline that consults handlers in order
func NewPipeline(logger *zap.Logger, handlers ...Handler) *Pipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Pipeline{
		handlers: handlers,
		logger:   logger,
	}
}

// NewDefaultPipeline creates a pipeline with the built-in handlers followed by extra
func NewDefaultPipeline(logger *zap.Logger, extra ...Handler) *Pipeline {
	handlers := append(Builtin(), extra...)
	return NewPipeline(logger, handlers...)
}

// Apply runs every applicable hint over result. Supported shapes are a row,
// a slice of rows and Rows wrappers; anything else is left untouched.
func (p *Pipeline) Apply(hints []*mapping.HintDefinition, result interface{}) {
	for _, def := range hints {
		if !applicable(def) {
			continue
		}
		mapper := p.resolve(def)
		if mapper == nil {
			continue
		}
		each(result, mapper)
	}
}

// BrokenCount returns the number of hint definitions marked broken
func (p *Pipeline) BrokenCount() int {
	return int(p.broken.Load())
}

// Resolutions returns how many hint definitions went through handler lookup
func (p *Pipeline) Resolutions() int {
	return int(p.resolutions.Load())
}

func applicable(def *mapping.HintDefinition) bool {
	return def != nil && def.Key != "" && strings.TrimSpace(def.Script) != ""
}

func (p *Pipeline) resolve(def *mapping.HintDefinition) Mapper {
	v, ok := p.entries.Load(def)
	if !ok {
		v, _ = p.entries.LoadOrStore(def, &entry{})
	}
	e := v.(*entry)
	e.once.Do(func() {
		p.resolutions.Add(1)
		e.mapper, e.broken = p.compile(def)
		if e.broken {
			p.broken.Add(1)
		}
	})
	if e.broken {
		return nil
	}
	return e.mapper
}

// compile resolves def; a handler that panics marks the hint broken
func (p *Pipeline) compile(def *mapping.HintDefinition) (mapper Mapper, broken bool) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Warn("hint handler panicked, hint disabled",
				zap.String("key", def.Key), zap.Error(fmt.Errorf("%v", r)))
			mapper, broken = nil, true
		}
	}()

	for _, h := range p.handlers {
		if !h.CanHandle(def) {
			continue
		}
		m, err := h.Compile(def)
		if err != nil || m == nil {
			p.logger.Warn("hint compilation failed, hint disabled",
				zap.String("key", def.Key), zap.Error(err))
			return nil, true
		}
		return m, false
	}
	p.logger.Warn("no handler for hint, hint disabled", zap.String("key", def.Key))
	return nil, true
}

func each(result interface{}, mapper Mapper) {
	switch r := result.(type) {
	case map[string]interface{}:
		if r != nil {
			mapper(r)
		}
	case []map[string]interface{}:
		for _, row := range r {
			if row != nil {
				mapper(row)
			}
		}
	case []interface{}:
		for _, item := range r {
			if row, ok := item.(map[string]interface{}); ok && row != nil {
				mapper(row)
			}
		}
	case Rows:
		for _, row := range r.ResultRows() {
			if row != nil {
				mapper(row)
			}
		}
	}
}
