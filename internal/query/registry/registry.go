// Package registry holds the validated set of named query definitions.
//
// A Registry is built once from the full list of definitions and is
// read-only afterwards, so it can be shared by any number of goroutines
// without locking. Construction fails when a name is declared twice, when a
// fetch query references an unknown query, or when fetch references form a
// cycle; the fetch graph executor relies on the last guarantee to terminate.
package registry

import (
	"fmt"
	"sort"

	qerrors "github.com/conduit-lang/namedquery/internal/query/errors"
	"github.com/conduit-lang/namedquery/internal/query/mapping"
)

// Registry resolves query definitions by versioned name
type Registry struct {
	queries map[string]*mapping.QueryDefinition
	names   []string
	order   []string
}

// New validates defs and builds a registry
func New(defs []*mapping.QueryDefinition) (*Registry, error) {
	queries := make(map[string]*mapping.QueryDefinition, len(defs))

	for _, def := range defs {
		if def == nil {
			continue
		}
		if err := def.Validate(); err != nil {
			return nil, qerrors.Wrap(err, qerrors.Definition, def.VersionedName(), "load")
		}
		name := def.VersionedName()
		if prev, exists := queries[name]; exists {
			return nil, qerrors.New(qerrors.Definition, name, "load",
				"query name %s is declared more than once (%s, %s)", name, sourceOf(prev), sourceOf(def))
		}
		queries[name] = def
	}

	edges := make(map[string][]string, len(queries))
	for name, def := range queries {
		edges[name] = def.FetchQueryNames()
	}
	graph := newFetchGraph(edges)

	if from, to, ok := graph.dangling(); ok {
		return nil, qerrors.New(qerrors.Definition, from, "load",
			"fetch-query %s in query %s refers to an unknown query", to, from)
	}
	if cycle := graph.findCycle(); cycle != nil {
		return nil, qerrors.New(qerrors.Definition, cycle[0], "load",
			"circular fetch-query reference [%s]", formatPath(cycle))
	}

	return &Registry{
		queries: queries,
		names:   graph.nodes,
		order:   graph.order(),
	}, nil
}

// Get returns the definition registered under name
func (r *Registry) Get(name string) (*mapping.QueryDefinition, error) {
	def, ok := r.queries[name]
	if !ok {
		return nil, qerrors.New(qerrors.NotFound, name, "get", "no query named %s", name)
	}
	return def, nil
}

// Names returns all versioned names in lexical order
func (r *Registry) Names() []string {
	names := make([]string, len(r.names))
	copy(names, r.names)
	return names
}

// DependencyOrder returns all names with every query after the queries it fetches
func (r *Registry) DependencyOrder() []string {
	order := make([]string, len(r.order))
	copy(order, r.order)
	return order
}

// Len returns the number of registered queries
func (r *Registry) Len() int {
	return len(r.queries)
}

// Search returns the definitions whose names start with prefix, sorted by name
func (r *Registry) Search(prefix string) []*mapping.QueryDefinition {
	var found []*mapping.QueryDefinition
	idx := sort.SearchStrings(r.names, prefix)
	for ; idx < len(r.names); idx++ {
		name := r.names[idx]
		if len(name) < len(prefix) || name[:len(prefix)] != prefix {
			break
		}
		found = append(found, r.queries[name])
	}
	return found
}

func sourceOf(def *mapping.QueryDefinition) string {
	if def.Source == "" {
		return "<inline>"
	}
	return fmt.Sprintf("%q", def.Source)
}
