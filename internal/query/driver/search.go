package driver

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// DefaultSelectSize is the size sent with unbounded requests
const DefaultSelectSize = 1024

// SearchExecutor runs rendered JSON request bodies against the _search
// endpoint of a document search engine. The index is the part of the query
// name before the first '.', so "orders.byStatus" searches index "orders".
type SearchExecutor struct {
	baseURL    string
	client     *http.Client
	selectSize int
}

// NewSearchExecutor creates an executor for the engine at baseURL
func NewSearchExecutor(baseURL string, timeout time.Duration) *SearchExecutor {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &SearchExecutor{
		baseURL:    strings.TrimRight(baseURL, "/"),
		client:     &http.Client{Timeout: timeout},
		selectSize: DefaultSelectSize,
	}
}

// WithSelectSize sets the size of requests that carry no limit and whose
// body declares none. Search engines otherwise return only their default
// page of hits.
func (e *SearchExecutor) WithSelectSize(n int) *SearchExecutor {
	if n > 0 {
		e.selectSize = n
	}
	return e
}

type searchResponse struct {
	Hits struct {
		Total json.RawMessage `json:"total"`
		Hits  []struct {
			ID     string                 `json:"_id"`
			Source map[string]interface{} `json:"_source"`
		} `json:"hits"`
	} `json:"hits"`
}

// Query executes req
func (e *SearchExecutor) Query(ctx context.Context, req Request) (*Result, error) {
	body, err := searchBody(req, e.selectSize)
	if err != nil {
		return nil, err
	}

	var parsed searchResponse
	if err := e.post(ctx, req.Query, body, func(dec *json.Decoder) error { return dec.Decode(&parsed) }); err != nil {
		return nil, err
	}

	result := &Result{Total: -1, Rows: make([]map[string]interface{}, 0, len(parsed.Hits.Hits))}
	if req.Count {
		result.Total = parseTotal(parsed.Hits.Total)
	}
	for _, hit := range parsed.Hits.Hits {
		row := hit.Source
		if row == nil {
			row = make(map[string]interface{})
		}
		if _, ok := row["_id"]; !ok && hit.ID != "" {
			row["_id"] = hit.ID
		}
		result.Rows = append(result.Rows, row)
	}
	return result, nil
}

// Raw posts the rendered script unchanged and returns the whole response.
// Numbers are kept as json.Number.
func (e *SearchExecutor) Raw(ctx context.Context, req Request) (map[string]interface{}, error) {
	body := []byte(strings.TrimSpace(req.Script))
	if len(body) == 0 {
		body = []byte("{}")
	}
	if !json.Valid(body) {
		return nil, fmt.Errorf("rendered search body is not valid JSON")
	}

	raw := map[string]interface{}{}
	err := e.post(ctx, req.Query, body, func(dec *json.Decoder) error {
		dec.UseNumber()
		return dec.Decode(&raw)
	})
	if err != nil {
		return nil, err
	}
	return raw, nil
}

func (e *SearchExecutor) post(ctx context.Context, query string, body []byte, decode func(*json.Decoder) error) error {
	url := fmt.Sprintf("%s/%s/_search", e.baseURL, IndexName(query))
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("building search request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := e.client.Do(httpReq)
	if err != nil {
		return fmt.Errorf("search request failed: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode >= http.StatusBadRequest {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("search returned %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	if err := decode(json.NewDecoder(resp.Body)); err != nil {
		return fmt.Errorf("decoding search response: %w", err)
	}
	return nil
}

// IndexName returns the index a query name searches
func IndexName(query string) string {
	if i := strings.Index(query, "."); i > 0 {
		return query[:i]
	}
	return query
}

// searchBody merges paging into the rendered request body
func searchBody(req Request, selectSize int) ([]byte, error) {
	body := map[string]interface{}{}
	if strings.TrimSpace(req.Script) != "" {
		dec := json.NewDecoder(strings.NewReader(req.Script))
		dec.UseNumber()
		if err := dec.Decode(&body); err != nil {
			return nil, fmt.Errorf("rendered search body is not a JSON object: %w", err)
		}
	}
	if req.Offset > 0 {
		body["from"] = req.Offset
	}
	if req.Limit > 0 {
		body["size"] = req.Limit
	} else if _, ok := body["size"]; !ok && selectSize > 0 {
		body["size"] = selectSize
	}
	if req.Count {
		body["track_total_hits"] = true
	}
	return json.Marshal(body)
}

// parseTotal accepts both {"value": n} and a bare number
func parseTotal(raw json.RawMessage) int64 {
	if len(raw) == 0 {
		return -1
	}
	var n int64
	if err := json.Unmarshal(raw, &n); err == nil {
		return n
	}
	var obj struct {
		Value int64 `json:"value"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Value
	}
	return -1
}
