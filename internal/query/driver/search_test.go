package driver

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSearchExecutorQuery(t *testing.T) {
	var gotPath string
	var gotBody map[string]interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		require.NoError(t, json.NewDecoder(r.Body).Decode(&gotBody))
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"hits":{"total":{"value":7,"relation":"eq"},"hits":[
			{"_id":"a1","_source":{"status":"OPEN"}},
			{"_id":"a2","_source":{"status":"OPEN","_id":"custom"}}]}}`))
	}))
	defer srv.Close()

	exec := NewSearchExecutor(srv.URL+"/", 0)
	res, err := exec.Query(context.Background(), Request{
		Query:  "orders.byStatus",
		Script: `{"query":{"term":{"status":"OPEN"}}}`,
		Offset: 10,
		Limit:  2,
		Count:  true,
	})
	require.NoError(t, err)

	assert.Equal(t, "/orders/_search", gotPath)
	assert.Equal(t, float64(10), gotBody["from"])
	assert.Equal(t, float64(2), gotBody["size"])
	assert.Equal(t, true, gotBody["track_total_hits"])
	assert.Contains(t, gotBody, "query")

	assert.Equal(t, int64(7), res.Total)
	require.Len(t, res.Rows, 2)
	assert.Equal(t, "a1", res.Rows[0]["_id"])
	assert.Equal(t, "custom", res.Rows[1]["_id"])
}

func TestSearchExecutorUncounted(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"hits":{"total":3,"hits":[]}}`))
	}))
	defer srv.Close()

	res, err := NewSearchExecutor(srv.URL, 0).Query(context.Background(), Request{Query: "orders", Script: "{}"})
	require.NoError(t, err)
	assert.Equal(t, int64(-1), res.Total)
	assert.Empty(t, res.Rows)
}

func TestSearchExecutorUnboundedSize(t *testing.T) {
	var sizes []interface{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var body map[string]interface{}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		sizes = append(sizes, body["size"])
		_, _ = w.Write([]byte(`{"hits":{"hits":[]}}`))
	}))
	defer srv.Close()

	ctx := context.Background()
	_, err := NewSearchExecutor(srv.URL, 0).Query(ctx, Request{Query: "orders", Script: "{}"})
	require.NoError(t, err)
	_, err = NewSearchExecutor(srv.URL, 0).WithSelectSize(50).Query(ctx, Request{Query: "orders", Script: "{}"})
	require.NoError(t, err)
	_, err = NewSearchExecutor(srv.URL, 0).Query(ctx, Request{Query: "orders", Script: `{"size":5}`})
	require.NoError(t, err)

	assert.Equal(t, []interface{}{float64(DefaultSelectSize), float64(50), float64(5)}, sizes)
}

func TestSearchExecutorErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"error":"index_not_found_exception"}`, http.StatusNotFound)
	}))
	defer srv.Close()

	exec := NewSearchExecutor(srv.URL, 0)
	_, err := exec.Query(context.Background(), Request{Query: "missing.q", Script: "{}"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")

	_, err = exec.Query(context.Background(), Request{Query: "orders.q", Script: "[1,2]"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not a JSON object")
}

func TestSearchExecutorRaw(t *testing.T) {
	var gotBody string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		b, _ := io.ReadAll(r.Body)
		gotBody = string(b)
		_, _ = w.Write([]byte(`{"took":3,"aggregations":{"by_status":{"buckets":[{"key":"OPEN","doc_count":4}]}}}`))
	}))
	defer srv.Close()

	exec := NewSearchExecutor(srv.URL, 0)
	script := `{"size":0,"aggs":{"by_status":{"terms":{"field":"status"}}}}`
	raw, err := exec.Raw(context.Background(), Request{Query: "orders.stats", Script: script, Limit: 10})
	require.NoError(t, err)

	assert.JSONEq(t, script, gotBody)
	assert.Equal(t, json.Number("3"), raw["took"])
	assert.Contains(t, raw, "aggregations")

	_, err = exec.Raw(context.Background(), Request{Query: "orders", Script: "{broken"})
	assert.Error(t, err)
}

func TestIndexName(t *testing.T) {
	assert.Equal(t, "orders", IndexName("orders.byStatus"))
	assert.Equal(t, "orders", IndexName("orders"))
	assert.Equal(t, ".hidden", IndexName(".hidden"))
}

func TestParseTotal(t *testing.T) {
	assert.Equal(t, int64(5), parseTotal(json.RawMessage(`5`)))
	assert.Equal(t, int64(9), parseTotal(json.RawMessage(`{"value":9}`)))
	assert.Equal(t, int64(-1), parseTotal(nil))
}
