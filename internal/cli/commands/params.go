package commands

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// paramFlags collects call parameters from --param and --params
type paramFlags struct {
	pairs []string
	raw   string
}

// parse merges the JSON object from --params with key=value pairs. Pairs
// win over the JSON object; a key given more than once becomes a list.
func (p *paramFlags) parse() (map[string]interface{}, error) {
	params := make(map[string]interface{})
	if strings.TrimSpace(p.raw) != "" {
		dec := json.NewDecoder(bytes.NewReader([]byte(p.raw)))
		dec.UseNumber()
		if err := dec.Decode(&params); err != nil {
			return nil, fmt.Errorf("--params must be a JSON object: %w", err)
		}
		if params == nil {
			params = make(map[string]interface{})
		}
	}

	values := make(map[string][]interface{})
	for _, pair := range p.pairs {
		key, value, ok := strings.Cut(pair, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("invalid --param %q, expected key=value", pair)
		}
		values[key] = append(values[key], value)
	}
	for key, vs := range values {
		if len(vs) == 1 {
			params[key] = vs[0]
		} else {
			params[key] = vs
		}
	}
	return params, nil
}
