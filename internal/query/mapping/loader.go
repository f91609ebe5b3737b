package mapping

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	qerrors "github.com/conduit-lang/namedquery/internal/query/errors"
)

// DefaultNamePattern selects query source files by name
const DefaultNamePattern = `.*Query([A-Za-z0-9_-]*)\.ya?ml$`

// sourceFile is the YAML layout of one query source
type sourceFile struct {
	Parameters    map[string]ParamType `yaml:"parameters"`
	CommonSegment string               `yaml:"common-segment"`
	Queries       []sourceQuery        `yaml:"queries"`
}

type sourceQuery struct {
	Name         string               `yaml:"name"`
	Version      string               `yaml:"version"`
	Description  string               `yaml:"description"`
	Script       string               `yaml:"script"`
	Parameters   map[string]ParamType `yaml:"parameters"`
	Result       *sourceResult        `yaml:"result"`
	FetchQueries []sourceFetch        `yaml:"fetch-queries"`
	Hints        []sourceHint         `yaml:"hints"`
	Cache        bool                 `yaml:"cache"`
	CacheTTL     time.Duration        `yaml:"cache-ttl"`
}

type sourceResult struct {
	Fields map[string]ParamType `yaml:"fields"`
}

type sourceFetch struct {
	ReferenceQuery     string             `yaml:"reference-query"`
	ReferenceVersion   string             `yaml:"reference-query-version"`
	InjectPropertyName string             `yaml:"inject-property-name"`
	MultiRecords       bool               `yaml:"multi-records"`
	MaxSize            int                `yaml:"max-size"`
	Result             *sourceResult      `yaml:"result"`
	Parameters         []sourceFetchParam `yaml:"parameters"`
}

type sourceFetchParam struct {
	Name       string      `yaml:"name"`
	Source     string      `yaml:"source"`
	SourceName string      `yaml:"source-name"`
	Value      interface{} `yaml:"value"`
}

type sourceHint struct {
	Key        string            `yaml:"key"`
	Script     string            `yaml:"script"`
	Parameters map[string]string `yaml:"parameters"`
}

// Loader reads query definitions from YAML files
type Loader struct {
	fs      afero.Fs
	pattern *regexp.Regexp
	logger  *zap.Logger
}

// NewLoader creates a loader over fs. Files are selected when their path matches namePattern.
func NewLoader(fs afero.Fs, namePattern string, logger *zap.Logger) (*Loader, error) {
	if namePattern == "" {
		namePattern = DefaultNamePattern
	}
	re, err := regexp.Compile(namePattern)
	if err != nil {
		return nil, fmt.Errorf("invalid query file name pattern %q: %w", namePattern, err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{fs: fs, pattern: re, logger: logger}, nil
}

// Load reads every matching file under the given paths. A path may be a file,
// a directory (walked recursively) or a comma separated list of either.
// Files are read in lexical order so the result is deterministic.
func (l *Loader) Load(paths ...string) ([]*QueryDefinition, error) {
	files, err := l.collect(paths)
	if err != nil {
		return nil, qerrors.Wrap(err, qerrors.Definition, "", "load")
	}

	var defs []*QueryDefinition
	for _, file := range files {
		data, err := afero.ReadFile(l.fs, file)
		if err != nil {
			return nil, qerrors.Wrap(fmt.Errorf("read %s: %w", file, err), qerrors.Definition, "", "load")
		}
		parsed, err := Parse(file, data)
		if err != nil {
			return nil, err
		}
		l.logger.Debug("loaded query source",
			zap.String("file", file),
			zap.Int("queries", len(parsed)))
		defs = append(defs, parsed...)
	}
	return defs, nil
}

func (l *Loader) collect(paths []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string

	for _, entry := range paths {
		for _, path := range strings.Split(entry, ",") {
			path = strings.TrimSpace(path)
			if path == "" {
				continue
			}
			info, err := l.fs.Stat(path)
			if err != nil {
				return nil, fmt.Errorf("query source %s: %w", path, err)
			}
			if !info.IsDir() {
				if !seen[path] {
					seen[path] = true
					files = append(files, path)
				}
				continue
			}
			err = afero.Walk(l.fs, path, func(p string, fi os.FileInfo, err error) error {
				if err != nil {
					return err
				}
				if fi.IsDir() || !l.pattern.MatchString(filepath.ToSlash(p)) || seen[p] {
					return nil
				}
				seen[p] = true
				files = append(files, p)
				return nil
			})
			if err != nil {
				return nil, fmt.Errorf("walk %s: %w", path, err)
			}
		}
	}

	sort.Strings(files)
	return files, nil
}

// Parse decodes one query source. source names the origin in diagnostics.
func Parse(source string, data []byte) ([]*QueryDefinition, error) {
	var sf sourceFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&sf); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, qerrors.Wrap(fmt.Errorf("parse %s: %w", source, err), qerrors.Definition, "", "load")
	}

	defs := make([]*QueryDefinition, 0, len(sf.Queries))
	var errs []error
	for _, sq := range sf.Queries {
		def := sq.toDefinition(source, sf)
		if err := def.Validate(); err != nil {
			errs = append(errs, err)
			continue
		}
		defs = append(defs, def)
	}
	if len(errs) > 0 {
		return nil, qerrors.Wrap(errors.Join(errs...), qerrors.Definition, "", "load")
	}
	return defs, nil
}

func (sq sourceQuery) toDefinition(source string, sf sourceFile) *QueryDefinition {
	def := &QueryDefinition{
		Name:        sq.Name,
		Version:     sq.Version,
		Description: sq.Description,
		Script:      sq.Script,
		Parameters:  make(map[string]ParamType, len(sq.Parameters)+len(sf.Parameters)),
		Result:      sq.Result.toSchema(),
		Cache:       sq.Cache,
		CacheTTL:    sq.CacheTTL,
		Source:      source,
	}
	if sf.CommonSegment != "" {
		def.Script = sf.CommonSegment + "\n" + sq.Script
	}

	for name, t := range sq.Parameters {
		def.Parameters[name] = t
	}
	// file level mapping overrides query level entries
	for name, t := range sf.Parameters {
		def.Parameters[name] = t
	}

	for _, sfq := range sq.FetchQueries {
		fq := &FetchQueryDefinition{
			ReferenceQuery:     sfq.ReferenceQuery,
			ReferenceVersion:   sfq.ReferenceVersion,
			InjectPropertyName: sfq.InjectPropertyName,
			MultiRecords:       sfq.MultiRecords,
			MaxSize:            sfq.MaxSize,
			Result:             sfq.Result.toSchema(),
		}
		for _, p := range sfq.Parameters {
			src := ParameterSource(strings.ToLower(p.Source))
			if src == "" {
				src = SourceResult
			}
			fq.Parameters = append(fq.Parameters, FetchParameter{
				Name:       p.Name,
				Source:     src,
				SourceName: p.SourceName,
				Value:      p.Value,
			})
		}
		def.FetchQueries = append(def.FetchQueries, fq)
	}

	for _, h := range sq.Hints {
		def.Hints = append(def.Hints, &HintDefinition{
			Key:        h.Key,
			Script:     h.Script,
			Parameters: h.Parameters,
		})
	}

	return def
}

func (sr *sourceResult) toSchema() *ResultSchema {
	if sr == nil || len(sr.Fields) == 0 {
		return nil
	}
	fields := make(map[string]ParamType, len(sr.Fields))
	for k, v := range sr.Fields {
		fields[k] = v
	}
	return &ResultSchema{Fields: fields}
}
