// Package mapping defines the declarative model of named queries: query
// definitions, their fetch-query relations and result hints, plus the loader
// that reads them from YAML query sources.
package mapping

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ParameterSource tells where a fetch parameter value comes from
type ParameterSource string

const (
	// SourceParam copies the value from the base parameters of the call
	SourceParam ParameterSource = "param"
	// SourceResult reads the value from the parent result item
	SourceResult ParameterSource = "result"
	// SourceConstant uses the static value declared on the parameter
	SourceConstant ParameterSource = "constant"
)

// FetchParameter derives one parameter of a fetch query
type FetchParameter struct {
	Name       string          // target parameter name of the referenced query
	Source     ParameterSource // where the value is read from
	SourceName string          // field or parameter to read, defaults to Name
	Value      interface{}     // static value for SourceConstant
}

// SourceKey returns the key the value is read from
func (p FetchParameter) SourceKey() string {
	if p.SourceName != "" {
		return p.SourceName
	}
	return p.Name
}

// ResultSchema declares types for result fields. Fields not listed pass through unchanged.
type ResultSchema struct {
	Fields map[string]ParamType
}

// FetchQueryDefinition is a data dependency of a query on another named query.
// The target is referenced by name only.
type FetchQueryDefinition struct {
	ReferenceQuery     string
	ReferenceVersion   string
	InjectPropertyName string
	MultiRecords       bool
	MaxSize            int           // 0 means the engine default
	Result             *ResultSchema // overrides the referenced query's result schema
	Parameters         []FetchParameter
}

// VersionedReferenceName returns the versioned name of the referenced query
func (f *FetchQueryDefinition) VersionedReferenceName() string {
	return VersionedName(f.ReferenceQuery, f.ReferenceVersion)
}

// HintDefinition is a post-processing directive applied to query results.
// Hints are cached by pointer identity, never by content.
type HintDefinition struct {
	Key        string
	Script     string
	Parameters map[string]string
}

// QueryDefinition is one named query as loaded from a query source
type QueryDefinition struct {
	Name         string
	Version      string
	Description  string
	Script       string
	Parameters   map[string]ParamType
	Result       *ResultSchema
	FetchQueries []*FetchQueryDefinition
	Hints        []*HintDefinition
	Cache        bool
	CacheTTL     time.Duration

	// Source is the file the definition was read from, used in diagnostics
	Source string
}

// VersionedName returns the unique identity of the query
func (q *QueryDefinition) VersionedName() string {
	return VersionedName(q.Name, q.Version)
}

// FetchQueryNames returns the versioned names referenced by the fetch queries, in declaration order
func (q *QueryDefinition) FetchQueryNames() []string {
	names := make([]string, 0, len(q.FetchQueries))
	for _, fq := range q.FetchQueries {
		names = append(names, fq.VersionedReferenceName())
	}
	return names
}

// Validate checks the structural rules of a single definition.
// Cross-definition rules (duplicates, references, cycles) belong to the registry.
func (q *QueryDefinition) Validate() error {
	var errs []error
	name := q.VersionedName()

	if strings.TrimSpace(q.Name) == "" {
		errs = append(errs, fmt.Errorf("query in %s has no name", q.Source))
	}
	if strings.TrimSpace(q.Script) == "" {
		errs = append(errs, fmt.Errorf("query %s has an empty script", name))
	}

	for i, fq := range q.FetchQueries {
		if fq == nil {
			errs = append(errs, fmt.Errorf("query %s fetch-query #%d is empty", name, i))
			continue
		}
		if strings.TrimSpace(fq.ReferenceQuery) == "" {
			errs = append(errs, fmt.Errorf("query %s fetch-query #%d has no reference-query", name, i))
		}
		if strings.TrimSpace(fq.InjectPropertyName) == "" {
			errs = append(errs, fmt.Errorf("query %s fetch-query %s has no inject-property-name", name, fq.ReferenceQuery))
		}
		if fq.MaxSize < 0 {
			errs = append(errs, fmt.Errorf("query %s fetch-query %s has negative max-size", name, fq.ReferenceQuery))
		}
		for _, p := range fq.Parameters {
			if p.Name == "" {
				errs = append(errs, fmt.Errorf("query %s fetch-query %s has a parameter without name", name, fq.ReferenceQuery))
			}
			switch p.Source {
			case SourceParam, SourceResult, SourceConstant:
			default:
				errs = append(errs, fmt.Errorf("query %s fetch-query %s parameter %s has unknown source %q",
					name, fq.ReferenceQuery, p.Name, p.Source))
			}
		}
	}

	for i, h := range q.Hints {
		if h == nil || strings.TrimSpace(h.Key) == "" {
			errs = append(errs, fmt.Errorf("query %s hint #%d has no key", name, i))
		}
	}

	return errors.Join(errs...)
}

// VersionedName joins a query name and its optional version
func VersionedName(name, version string) string {
	if version == "" {
		return name
	}
	return name + "_" + version
}
