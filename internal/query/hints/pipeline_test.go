package hints

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/namedquery/internal/query/mapping"
)

type countingHandler struct {
	key      string
	checks   atomic.Int32
	compiles atomic.Int32
	err      error
}

func (h *countingHandler) CanHandle(def *mapping.HintDefinition) bool {
	h.checks.Add(1)
	return def.Key == h.key
}

func (h *countingHandler) Compile(def *mapping.HintDefinition) (Mapper, error) {
	h.compiles.Add(1)
	if h.err != nil {
		return nil, h.err
	}
	return func(row map[string]interface{}) { row["tagged"] = def.Script }, nil
}

type page struct {
	rows []map[string]interface{}
}

func (p *page) ResultRows() []map[string]interface{} { return p.rows }

func TestApplyResolvesOnce(t *testing.T) {
	h := &countingHandler{key: "tag"}
	p := NewPipeline(nil, h)
	hint := &mapping.HintDefinition{Key: "tag", Script: "x"}

	first := []map[string]interface{}{{"id": 1}, {"id": 2}}
	second := []map[string]interface{}{{"id": 3}}
	p.Apply([]*mapping.HintDefinition{hint}, first)
	p.Apply([]*mapping.HintDefinition{hint}, second)

	assert.Equal(t, int32(1), h.checks.Load())
	assert.Equal(t, int32(1), h.compiles.Load())
	assert.Equal(t, "x", first[1]["tagged"])
	assert.Equal(t, "x", second[0]["tagged"])
	assert.Equal(t, 1, p.Resolutions())
	assert.Equal(t, 0, p.BrokenCount())
}

func TestUnhandledHintIsBrokenAndNoOp(t *testing.T) {
	h := &countingHandler{key: "other"}
	p := NewPipeline(nil, h)
	hint := &mapping.HintDefinition{Key: "unknown", Script: "x"}

	for i := 0; i < 5; i++ {
		rows := []map[string]interface{}{{"id": i}}
		p.Apply([]*mapping.HintDefinition{hint}, rows)
		assert.Equal(t, []map[string]interface{}{{"id": i}}, rows)
	}
	assert.Equal(t, int32(1), h.checks.Load())
	assert.Equal(t, 1, p.Resolutions())
	assert.Equal(t, 1, p.BrokenCount())
}

func TestCompileFailureMarksBroken(t *testing.T) {
	h := &countingHandler{key: "tag", err: errors.New("bad script")}
	p := NewPipeline(nil, h)
	hint := &mapping.HintDefinition{Key: "tag", Script: "x"}

	row := map[string]interface{}{"id": 1}
	p.Apply([]*mapping.HintDefinition{hint}, row)
	p.Apply([]*mapping.HintDefinition{hint}, row)

	assert.Equal(t, int32(1), h.compiles.Load())
	assert.Equal(t, 1, p.BrokenCount())
	assert.NotContains(t, row, "tagged")
}

type panickingHandler struct{}

func (panickingHandler) CanHandle(def *mapping.HintDefinition) bool { return def.Key == "boom" }

func (panickingHandler) Compile(*mapping.HintDefinition) (Mapper, error) {
	panic("handler bug")
}

func TestPanickingHandlerMarksBroken(t *testing.T) {
	p := NewPipeline(nil, panickingHandler{})
	hint := &mapping.HintDefinition{Key: "boom", Script: "x"}
	rows := []map[string]interface{}{{"id": 1}}

	assert.NotPanics(t, func() { p.Apply([]*mapping.HintDefinition{hint}, rows) })
	assert.NotPanics(t, func() { p.Apply([]*mapping.HintDefinition{hint}, rows) })

	assert.Equal(t, 1, p.BrokenCount())
	assert.Equal(t, 1, p.Resolutions())
	assert.Equal(t, []map[string]interface{}{{"id": 1}}, rows)
}

func TestResolvedHintLookupDoesNotAllocate(t *testing.T) {
	p := NewPipeline(nil, &countingHandler{key: "tag"})
	hint := &mapping.HintDefinition{Key: "tag", Script: "x"}
	require.NotNil(t, p.resolve(hint))

	allocs := testing.AllocsPerRun(100, func() { p.resolve(hint) })
	assert.Zero(t, allocs)
}

func TestHintsAreKeyedByIdentity(t *testing.T) {
	h := &countingHandler{key: "tag"}
	p := NewPipeline(nil, h)

	a := &mapping.HintDefinition{Key: "tag", Script: "x"}
	b := &mapping.HintDefinition{Key: "tag", Script: "x"}
	p.Apply([]*mapping.HintDefinition{a, b}, map[string]interface{}{})

	assert.Equal(t, int32(2), h.compiles.Load())
}

func TestFirstAcceptingHandlerWins(t *testing.T) {
	first := &countingHandler{key: "tag"}
	second := &countingHandler{key: "tag"}
	p := NewPipeline(nil, first, second)

	p.Apply([]*mapping.HintDefinition{{Key: "tag", Script: "x"}}, map[string]interface{}{})
	assert.Equal(t, int32(1), first.compiles.Load())
	assert.Equal(t, int32(0), second.checks.Load())
}

func TestInapplicableHintsAreSkipped(t *testing.T) {
	h := &countingHandler{key: "tag"}
	p := NewPipeline(nil, h)

	p.Apply([]*mapping.HintDefinition{nil, {Key: "tag"}, {Key: "", Script: "x"}}, map[string]interface{}{})
	assert.Equal(t, int32(0), h.checks.Load())
	assert.Equal(t, 0, p.Resolutions())
}

func TestApplyShapes(t *testing.T) {
	p := NewPipeline(nil, &countingHandler{key: "tag"})
	hints := []*mapping.HintDefinition{{Key: "tag", Script: "v"}}

	single := map[string]interface{}{}
	p.Apply(hints, single)
	assert.Equal(t, "v", single["tagged"])

	mixed := []interface{}{map[string]interface{}{}, "not a row"}
	p.Apply(hints, mixed)
	assert.Equal(t, "v", mixed[0].(map[string]interface{})["tagged"])

	wrapped := &page{rows: []map[string]interface{}{{}, {}}}
	p.Apply(hints, wrapped)
	assert.Equal(t, "v", wrapped.rows[1]["tagged"])

	assert.NotPanics(t, func() { p.Apply(hints, 42) })
	assert.NotPanics(t, func() { p.Apply(hints, nil) })
}

func TestConcurrentResolution(t *testing.T) {
	h := &countingHandler{key: "tag"}
	p := NewPipeline(nil, h)
	hint := &mapping.HintDefinition{Key: "tag", Script: "x"}

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p.Apply([]*mapping.HintDefinition{hint}, map[string]interface{}{})
		}()
	}
	wg.Wait()

	require.Equal(t, int32(1), h.compiles.Load())
}
