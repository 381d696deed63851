package api

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/cr4wler/internal/api/handlers"
	"github.com/anstrom/cr4wler/internal/config"
	"github.com/anstrom/cr4wler/internal/logging"
	"github.com/anstrom/cr4wler/internal/metrics"
	"github.com/anstrom/cr4wler/internal/scanning"
)

// memoryStore keeps hosts in memory with first-write-wins semantics.
type memoryStore struct {
	mu    sync.Mutex
	hosts []scanning.Host
	seen  map[string]bool
}

func newMemoryStore() *memoryStore {
	return &memoryStore{seen: map[string]bool{}}
}

func (m *memoryStore) SaveBatch(_ context.Context, hosts []scanning.Host) (*scanning.BatchResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	res := scanning.NewBatchResult()
	for _, h := range hosts {
		if m.seen[h.IP] {
			res.Rejected = append(res.Rejected, h.IP)
			continue
		}
		m.seen[h.IP] = true
		m.hosts = append(m.hosts, h)
		res.Accepted = append(res.Accepted, h.IP)
	}
	return res, nil
}

func (m *memoryStore) ListAll(context.Context) ([]scanning.Host, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]scanning.Host{}, m.hosts...), nil
}

func (m *memoryStore) Ping(context.Context) error { return nil }

func newTestServer(t *testing.T) (*httptest.Server, *memoryStore) {
	t.Helper()
	store := newMemoryStore()
	cfg := config.Default().API
	cfg.MaxRequestSize = 1 << 10

	s := New(cfg, store,
		WithMetrics(metrics.NewPrometheusMetrics()),
		WithLogger(logging.NewWithWriter(logging.DefaultConfig(), io.Discard)))
	ts := httptest.NewServer(s.Handler())
	t.Cleanup(ts.Close)
	return ts, store
}

func post(t *testing.T, url, body string) *http.Response {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func TestServer_SubmitThenFetch(t *testing.T) {
	ts, _ := newTestServer(t)

	resp := post(t, ts.URL+"/api/v1/hosts",
		`[{"ip":"10.0.0.1","ports":[{"port":22},{"port":80}]},{"ip":"10.0.0.2"}]`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.NotEmpty(t, resp.Header.Get("X-Request-ID"))

	var saved handlers.SaveResponse
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&saved))
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.2"}, saved.Saved)

	// The alias rejects the duplicate and accepts the new host.
	resp = post(t, ts.URL+"/api/save", `[{"ip":"10.0.0.2"},{"ip":"10.0.0.3"}]`)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&saved))
	assert.Equal(t, []string{"10.0.0.3"}, saved.Saved)
	assert.Equal(t, []string{"10.0.0.2"}, saved.Rejected)

	for _, path := range []string{"/api/v1/hosts", "/api/fetch"} {
		t.Run(path, func(t *testing.T) {
			got, err := http.Get(ts.URL + path)
			require.NoError(t, err)
			defer func() { _ = got.Body.Close() }()
			require.Equal(t, http.StatusOK, got.StatusCode)

			var hosts []scanning.Host
			require.NoError(t, json.NewDecoder(got.Body).Decode(&hosts))
			require.Len(t, hosts, 3)
			assert.Len(t, hosts[0].Ports, 2)
		})
	}
}

func TestServer_RejectsBadInput(t *testing.T) {
	ts, store := newTestServer(t)

	t.Run("invalid json", func(t *testing.T) {
		resp := post(t, ts.URL+"/api/v1/hosts", `not json`)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("wrong content type", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/v1/hosts", "text/plain", strings.NewReader(`[]`))
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusUnsupportedMediaType, resp.StatusCode)
	})

	t.Run("oversized body", func(t *testing.T) {
		var b bytes.Buffer
		b.WriteString("[")
		for i := 0; i < 100; i++ {
			if i > 0 {
				b.WriteString(",")
			}
			b.WriteString(`{"ip":"10.1.0.` + strconv.Itoa(i) + `"}`)
		}
		b.WriteString("]")

		resp := post(t, ts.URL+"/api/v1/hosts", b.String())
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	})

	t.Run("method not allowed", func(t *testing.T) {
		for _, path := range []string{"/api/v1/hosts", "/api/save"} {
			req, err := http.NewRequest(http.MethodDelete, ts.URL+path, nil)
			require.NoError(t, err)
			resp, err := http.DefaultClient.Do(req)
			require.NoError(t, err)

			var body handlers.ErrorResponse
			require.NoError(t, json.NewDecoder(resp.Body).Decode(&body), path)
			_ = resp.Body.Close()
			assert.Equal(t, http.StatusMethodNotAllowed, resp.StatusCode, path)
			assert.Equal(t, "Method Not Allowed", body.Error, path)
		}
	})

	t.Run("unknown route", func(t *testing.T) {
		resp, err := http.Get(ts.URL + "/api/v1/nothing")
		require.NoError(t, err)
		defer func() { _ = resp.Body.Close() }()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})

	hosts, _ := store.ListAll(t.Context())
	assert.Empty(t, hosts)
}

func TestServer_HealthAndMetrics(t *testing.T) {
	ts, _ := newTestServer(t)

	for _, path := range []string{"/api/v1/health", "/api/v1/liveness", "/api/v1/version"} {
		resp, err := http.Get(ts.URL + path)
		require.NoError(t, err)
		_ = resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}

	resp, err := http.Get(ts.URL + "/metrics")
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `cr4wler_api_requests_total{method="GET",path="/api/v1/health",status="200"} 1`)
}

func TestServer_CORS(t *testing.T) {
	ts, _ := newTestServer(t)

	req, err := http.NewRequest(http.MethodGet, ts.URL+"/api/v1/hosts", nil)
	require.NoError(t, err)
	req.Header.Set("Origin", "https://dashboard.example")

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, "*", resp.Header.Get("Access-Control-Allow-Origin"))
}

func TestServer_StartStop(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	cfg := config.Default().API
	cfg.Port = port
	s := New(cfg, newMemoryStore(),
		WithMetrics(metrics.NewPrometheusMetrics()),
		WithLogger(logging.NewWithWriter(logging.DefaultConfig(), io.Discard)))
	assert.Equal(t, "127.0.0.1:"+strconv.Itoa(port), s.GetAddress())

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- s.Start(ctx) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + s.GetAddress() + "/api/v1/liveness")
		if err != nil {
			return false
		}
		_ = resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}, 2*time.Second, 20*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("server did not stop")
	}
}
