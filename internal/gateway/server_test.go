package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conduit-lang/namedquery/internal/query/driver"
	"github.com/conduit-lang/namedquery/internal/query/engine"
	"github.com/conduit-lang/namedquery/internal/query/mapping"
	"github.com/conduit-lang/namedquery/internal/query/registry"
)

const userQueries = `
queries:
  - name: User
    description: one user by id
    parameters:
      id: long
    script: SELECT id, name FROM users WHERE id = {{sp .id}}
  - name: UserList
    script: SELECT id, name FROM users ORDER BY id
  - name: AuditLog
    script: SELECT id FROM audit
`

var users = []map[string]interface{}{
	{"id": int64(1), "name": "ada"},
	{"id": int64(2), "name": "bob"},
	{"id": int64(3), "name": "cy"},
}

func fakeUsers(ctx context.Context, req driver.Request) (*driver.Result, error) {
	var rows []map[string]interface{}
	if len(req.Args) == 1 {
		for _, u := range users {
			if u["id"] == req.Args[0] {
				rows = append(rows, u)
			}
		}
	} else {
		rows = users
	}
	total := int64(len(rows))
	if req.Offset < len(rows) {
		rows = rows[req.Offset:]
	} else {
		rows = nil
	}
	if req.Limit > 0 && len(rows) > req.Limit {
		rows = rows[:req.Limit]
	}
	res := &driver.Result{Total: -1}
	if req.Count {
		res.Total = total
	}
	for _, r := range rows {
		res.Rows = append(res.Rows, map[string]interface{}{"id": r["id"], "name": r["name"]})
	}
	return res, nil
}

func newTestServer(t *testing.T, config Config, opts ...engine.Option) *Server {
	t.Helper()
	defs, err := mapping.Parse("users.yaml", []byte(userQueries))
	require.NoError(t, err)
	reg, err := registry.New(defs)
	require.NoError(t, err)
	eng := engine.New(reg, driver.ExecutorFunc(fakeUsers), opts...)
	return NewServer(eng, config, nil)
}

func do(t *testing.T, s *Server, method, path, body string, header http.Header) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	for k, v := range header {
		req.Header[k] = v
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v), rec.Body.String())
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, DefaultConfig(":0"))
	rec := do(t, s, http.MethodGet, "/healthz", "", nil)

	assert.Equal(t, http.StatusOK, rec.Code)
	var body map[string]interface{}
	decode(t, rec, &body)
	assert.Equal(t, "ok", body["status"])
	assert.Equal(t, float64(3), body["queries"])
	assert.NotEmpty(t, rec.Header().Get(RequestIDHeader))
}

func TestListQueries(t *testing.T) {
	s := newTestServer(t, DefaultConfig(":0"))

	var all []QueryInfo
	decode(t, do(t, s, http.MethodGet, "/queries", "", nil), &all)
	require.Len(t, all, 3)
	assert.Equal(t, "AuditLog", all[0].Name)

	var filtered []QueryInfo
	decode(t, do(t, s, http.MethodGet, "/queries?prefix=User", "", nil), &filtered)
	require.Len(t, filtered, 2)
	assert.Equal(t, "User", filtered[0].Name)
	assert.Equal(t, []string{"id"}, filtered[0].Parameters)
	assert.Equal(t, "users.yaml", filtered[0].Source)
	assert.Equal(t, "one user by id", filtered[0].Description)
}

func TestQueryOperations(t *testing.T) {
	s := newTestServer(t, DefaultConfig(":0"), engine.WithPageSize(2))

	t.Run("select", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/queries/UserList/select", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var rows []map[string]interface{}
		decode(t, rec, &rows)
		assert.Len(t, rows, 3)
	})

	t.Run("get", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/queries/User/get", `{"id": 2}`, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var row map[string]interface{}
		decode(t, rec, &row)
		assert.Equal(t, "bob", row["name"])
	})

	t.Run("get without rows", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/queries/User/get", `{"id": "42"}`, nil)
		assert.Equal(t, http.StatusNotFound, rec.Code)
	})

	t.Run("page", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/queries/UserList/page", `{"_offset": 2}`, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var page engine.PagedList
		decode(t, rec, &page)
		assert.Equal(t, int64(3), page.Total)
		assert.Equal(t, 2, page.Offset)
		assert.Equal(t, 2, page.Limit)
		assert.Len(t, page.Rows, 1)
	})

	t.Run("forward", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/queries/UserList/forward", `{}`, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var list engine.ForwardList
		decode(t, rec, &list)
		assert.True(t, list.HasMore)
		assert.Len(t, list.Rows, 2)
	})

	t.Run("render", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/queries/User/render", `{"id": "7"}`, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var out RenderResponse
		decode(t, rec, &out)
		assert.Equal(t, "SELECT id, name FROM users WHERE id = ?", out.Script)
		assert.Equal(t, []interface{}{float64(7)}, out.Args)
	})
}

func TestQueryErrors(t *testing.T) {
	s := newTestServer(t, DefaultConfig(":0"))

	tests := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{"unknown query", "/queries/Nope/select", "", http.StatusNotFound, "not_found"},
		{"bad parameter", "/queries/User/get", `{"id": "abc"}`, http.StatusBadRequest, "conversion"},
		{"unknown op", "/queries/User/delete", "", http.StatusNotFound, "not_found"},
		{"search without raw backend", "/queries/UserList/search", "", http.StatusInternalServerError, "execution"},
		{"body not an object", "/queries/User/get", `[1]`, http.StatusBadRequest, "bad_request"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, s, http.MethodPost, tt.path, tt.body, nil)
			assert.Equal(t, tt.status, rec.Code)
			var resp ErrorResponse
			decode(t, rec, &resp)
			assert.Equal(t, tt.code, resp.Error)
		})
	}
}

func TestMetricsEndpoint(t *testing.T) {
	reg := prometheus.NewRegistry()
	metrics, err := engine.NewMetrics(reg)
	require.NoError(t, err)

	config := DefaultConfig(":0")
	config.Gatherer = reg
	s := newTestServer(t, config, engine.WithMetrics(metrics))

	require.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/queries/UserList/select", "", nil).Code)

	rec := do(t, s, http.MethodGet, "/metrics", "", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `namedquery_engine_queries_total{op="select",query="UserList",status="ok"} 1`)

	withoutGatherer := newTestServer(t, DefaultConfig(":0"))
	assert.Equal(t, http.StatusNotFound, do(t, withoutGatherer, http.MethodGet, "/metrics", "", nil).Code)
}

func TestAuthentication(t *testing.T) {
	hash, err := HashSecret("hunter2")
	require.NoError(t, err)

	config := DefaultConfig(":0")
	config.AuthSecret = "test-secret"
	config.Clients = map[string]string{"reporting": hash}
	s := newTestServer(t, config)

	t.Run("missing token", func(t *testing.T) {
		assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/queries", "", nil).Code)
	})

	t.Run("malformed header", func(t *testing.T) {
		h := http.Header{"Authorization": {"Token abc"}}
		assert.Equal(t, http.StatusUnauthorized, do(t, s, http.MethodGet, "/queries", "", h).Code)
	})

	t.Run("health stays public", func(t *testing.T) {
		assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", "", nil).Code)
	})

	t.Run("bad credentials", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/token", `{"client_id":"reporting","client_secret":"nope"}`, nil)
		assert.Equal(t, http.StatusUnauthorized, rec.Code)
	})

	t.Run("scoped token", func(t *testing.T) {
		rec := do(t, s, http.MethodPost, "/token",
			`{"client_id":"reporting","client_secret":"hunter2","queries":["User"]}`, nil)
		require.Equal(t, http.StatusOK, rec.Code)
		var tok tokenResponse
		decode(t, rec, &tok)
		assert.Equal(t, "Bearer", tok.TokenType)
		assert.Equal(t, int64(3600), tok.ExpiresIn)

		h := http.Header{"Authorization": {"Bearer " + tok.AccessToken}}
		var listed []QueryInfo
		decode(t, do(t, s, http.MethodGet, "/queries", "", h), &listed)
		assert.Len(t, listed, 2)

		assert.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/queries/UserList/select", "", h).Code)
		assert.Equal(t, http.StatusForbidden, do(t, s, http.MethodPost, "/queries/AuditLog/select", "", h).Code)
	})

	t.Run("token from service", func(t *testing.T) {
		token, err := s.Tokens().GenerateToken("ops", nil)
		require.NoError(t, err)
		h := http.Header{"Authorization": {"Bearer " + token}}
		assert.Equal(t, http.StatusOK, do(t, s, http.MethodPost, "/queries/AuditLog/select", "", h).Code)
	})
}

func TestRequestIDPropagates(t *testing.T) {
	s := newTestServer(t, DefaultConfig(":0"))
	h := http.Header{RequestIDHeader: {"abc-123"}}
	rec := do(t, s, http.MethodGet, "/healthz", "", h)
	assert.Equal(t, "abc-123", rec.Header().Get(RequestIDHeader))
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	s := newTestServer(t, DefaultConfig("127.0.0.1:0"))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.ListenAndServe(ctx) }()
	cancel()
	assert.NoError(t, <-done)
}

func TestDecodeParamsEmptyBody(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(nil))
	params, err := decodeParams(req)
	require.NoError(t, err)
	assert.Empty(t, params)
	assert.NotNil(t, params)
}

func TestRateLimit(t *testing.T) {
	config := DefaultConfig(":0")
	config.RateLimit = 2
	s := newTestServer(t, config)

	for i := 0; i < 2; i++ {
		rec := do(t, s, http.MethodPost, "/queries/UserList/select", "", nil)
		require.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, "2", rec.Header().Get("X-RateLimit-Limit"))
	}

	rec := do(t, s, http.MethodPost, "/queries/UserList/select", "", nil)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("Retry-After"))

	assert.Equal(t, http.StatusOK, do(t, s, http.MethodGet, "/healthz", "", nil).Code)
}
