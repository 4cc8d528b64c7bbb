package server

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/semantic-memory/internal/embedding"
	"github.com/rcliao/semantic-memory/internal/memory"
	"github.com/rcliao/semantic-memory/internal/store"
)

type testEnv struct {
	srv   *Server
	store *store.SQLiteStore
	svc   *memory.Service
}

func newTestEnv(t *testing.T, rpm int) *testEnv {
	t.Helper()
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), 0)
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	reg := prometheus.NewRegistry()
	svc := memory.New(st, embedding.NewStaticProvider(embedding.NewHashEmbedder(0)),
		memory.Options{MaxTextLength: 50, Metrics: memory.NewMetrics(reg)}, nil)
	srv := New(Config{Service: svc, Pinger: st, Registry: reg, RateLimitRPM: rpm})
	return &testEnv{srv: srv, store: st, svc: svc}
}

func (e *testEnv) do(t *testing.T, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	switch b := body.(type) {
	case nil:
	case string:
		r = strings.NewReader(b)
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	rr := httptest.NewRecorder()
	e.srv.Handler().ServeHTTP(rr, req)
	return rr
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(rr.Body).Decode(&v), "body: %s", rr.Body.String())
	return v
}

func TestRoot(t *testing.T) {
	env := newTestEnv(t, 0)
	rr := env.do(t, http.MethodGet, "/", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, infoResponse{Name: "Memory System", Version: "1.0.0"}, decode[infoResponse](t, rr))
	assert.NotEmpty(t, rr.Header().Get(requestIDHeader))
}

func TestRequestIDPropagated(t *testing.T) {
	env := newTestEnv(t, 0)
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.Header.Set(requestIDHeader, "abc-123")
	rr := httptest.NewRecorder()
	env.srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, "abc-123", rr.Header().Get(requestIDHeader))
}

func TestSaveAndSearch(t *testing.T) {
	env := newTestEnv(t, 0)

	rr := env.do(t, http.MethodPost, "/memory/save", map[string]any{
		"text": "The sky is blue", "project": "demo", "tags": []string{"weather"},
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	first := decode[saveResponse](t, rr)
	assert.True(t, first.Saved)
	assert.False(t, first.Duplicate)
	assert.Equal(t, "created", first.Reason)

	rr = env.do(t, http.MethodPost, "/memory/save", map[string]any{"text": "The sky is blue", "project": "demo"})
	require.Equal(t, http.StatusOK, rr.Code)
	second := decode[saveResponse](t, rr)
	assert.True(t, second.Saved)
	assert.True(t, second.Duplicate)
	assert.Equal(t, "duplicate", second.Reason)
	assert.Equal(t, first.ID, second.ID)

	rr = env.do(t, http.MethodGet, "/memory/search?q=sky+color&project=demo&threshold=0.3", nil)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	res := decode[searchResponse](t, rr)
	assert.Equal(t, "sky color", res.Query)
	require.Equal(t, 1, res.Total)
	assert.Equal(t, first.ID, res.Results[0].ID)
	assert.Equal(t, []string{"weather"}, res.Results[0].Tags)
	assert.GreaterOrEqual(t, res.Results[0].Score, 0.3)

	rr = env.do(t, http.MethodGet, "/memory/search?q=sky+color&project=other&threshold=0.3", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	res = decode[searchResponse](t, rr)
	assert.Equal(t, 0, res.Total)
	assert.NotNil(t, res.Results)
	assert.Contains(t, rr.Body.String(), `"results":[]`)
}

func TestSaveValidation(t *testing.T) {
	env := newTestEnv(t, 0)

	tests := []struct {
		name string
		body any
	}{
		{"invalid json", "{not json"},
		{"empty body", ""},
		{"missing text", map[string]any{"project": "p"}},
		{"too long", map[string]any{"text": strings.Repeat("a", 51)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := env.do(t, http.MethodPost, "/memory/save", tt.body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.NotEmpty(t, decode[errorResponse](t, rr).Detail)
		})
	}

	rr := env.do(t, http.MethodPost, "/memory/save", map[string]any{"text": strings.Repeat("a", 50)})
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestSearchValidation(t *testing.T) {
	env := newTestEnv(t, 0)
	for _, path := range []string{
		"/memory/search",
		"/memory/search?q=x&limit=abc",
		"/memory/search?q=x&limit=0",
		"/memory/search?q=x&threshold=high",
		"/memory/search?q=x&threshold=2",
	} {
		rr := env.do(t, http.MethodGet, path, nil)
		assert.Equal(t, http.StatusBadRequest, rr.Code, path)
	}
}

func TestArchiveEndpoints(t *testing.T) {
	env := newTestEnv(t, 0)
	rr := env.do(t, http.MethodPost, "/memory/save", map[string]any{"text": "keep me"})
	id := decode[saveResponse](t, rr).ID

	rr = env.do(t, http.MethodPost, "/memory/"+id+"/archive", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, archiveResponse{ID: id, Archived: true}, decode[archiveResponse](t, rr))

	rr = env.do(t, http.MethodGet, "/memory/"+id, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	got := decode[memoryResponse](t, rr)
	assert.True(t, got.Archived)
	assert.Equal(t, memory.ContentHash("keep me"), got.ContentHash)

	rr = env.do(t, http.MethodGet, "/memory/search?q=keep+me&threshold=0", nil)
	assert.Equal(t, 0, decode[searchResponse](t, rr).Total)

	// Re-saving creates a new record, so restoring the old one conflicts.
	env.do(t, http.MethodPost, "/memory/save", map[string]any{"text": "keep me"})
	rr = env.do(t, http.MethodPost, "/memory/"+id+"/unarchive", nil)
	assert.Equal(t, http.StatusConflict, rr.Code)

	rr = env.do(t, http.MethodPost, "/memory/missing/archive", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	rr = env.do(t, http.MethodGet, "/memory/missing", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
}

func TestStatsEndpoint(t *testing.T) {
	env := newTestEnv(t, 0)
	env.do(t, http.MethodPost, "/memory/save", map[string]any{"text": "a", "project": "p"})
	rr := env.do(t, http.MethodGet, "/memory/stats", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	st := decode[store.Stats](t, rr)
	assert.Equal(t, 1, st.ActiveMemories)
	assert.Empty(t, st.DBPath)
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t, 0)
	rr := env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, "healthy", decode[healthResponse](t, rr).Status)

	env.store.Close()
	rr = env.do(t, http.MethodGet, "/health", nil)
	require.Equal(t, http.StatusServiceUnavailable, rr.Code)
	assert.Equal(t, "degraded", decode[healthResponse](t, rr).Status)
}

func TestInternalErrorHidesDetail(t *testing.T) {
	env := newTestEnv(t, 0)
	env.store.Close()

	rr := env.do(t, http.MethodPost, "/memory/save", map[string]any{"text": "x"})
	require.Equal(t, http.StatusInternalServerError, rr.Code)
	assert.Equal(t, "internal server error", decode[errorResponse](t, rr).Detail)
}

type failingEncoder struct{}

func (failingEncoder) Encode(context.Context, string) (embedding.Vector, error) {
	return nil, embedding.ErrModelUnavailable
}

func TestModelUnavailable(t *testing.T) {
	st, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "test.db"), 0)
	require.NoError(t, err)
	defer st.Close()
	srv := New(Config{Service: memory.New(st, failingEncoder{}, memory.Options{}, nil), Pinger: st})

	req := httptest.NewRequest(http.MethodGet, "/memory/search?q=x", nil)
	rr := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rr, req)
	assert.Equal(t, http.StatusServiceUnavailable, rr.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, 0)
	env.do(t, http.MethodPost, "/memory/save", map[string]any{"text": "counted"})

	rr := env.do(t, http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	body := rr.Body.String()
	assert.Contains(t, body, `memory_saves_total{outcome="created"} 1`)
	assert.Contains(t, body, `memory_http_requests_total{code="200",method="POST",route="/memory/save"} 1`)
}

func TestRateLimit(t *testing.T) {
	// 30 rpm gives a burst of 5.
	env := newTestEnv(t, 30)
	for i := 0; i < 5; i++ {
		rr := env.do(t, http.MethodGet, "/memory/search?q=x", nil)
		require.Equal(t, http.StatusOK, rr.Code, "request %d", i)
	}
	rr := env.do(t, http.MethodGet, "/memory/search?q=x", nil)
	assert.Equal(t, http.StatusTooManyRequests, rr.Code)
	assert.Equal(t, "60", rr.Header().Get("Retry-After"))

	// Non-memory routes are not limited.
	rr = env.do(t, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, rr.Code)
}

func TestCORSPreflight(t *testing.T) {
	env := newTestEnv(t, 0)
	rr := env.do(t, http.MethodOptions, "/memory/save", nil)
	assert.Equal(t, http.StatusNoContent, rr.Code)
	assert.Equal(t, "*", rr.Header().Get("Access-Control-Allow-Origin"))
}

func TestServeGracefulShutdown(t *testing.T) {
	env := newTestEnv(t, 0)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- env.srv.Serve(ctx, ln, time.Second) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/health")
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not shut down")
	}
	_, err = http.Get("http://" + ln.Addr().String() + "/health")
	assert.Error(t, err)
}
