package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/cr4wler/internal/api/middleware"
	"github.com/anstrom/cr4wler/internal/errors"
	"github.com/anstrom/cr4wler/internal/logging"
	"github.com/anstrom/cr4wler/internal/scanning"
)

type mockHostStore struct {
	mock.Mock
}

func (m *mockHostStore) SaveBatch(ctx context.Context, hosts []scanning.Host) (*scanning.BatchResult, error) {
	args := m.Called(ctx, hosts)
	res, _ := args.Get(0).(*scanning.BatchResult)
	return res, args.Error(1)
}

func (m *mockHostStore) ListAll(ctx context.Context) ([]scanning.Host, error) {
	args := m.Called(ctx)
	hosts, _ := args.Get(0).([]scanning.Host)
	return hosts, args.Error(1)
}

func (m *mockHostStore) Ping(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func testLogger() *logging.Logger {
	return logging.NewWithWriter(logging.DefaultConfig(), &bytes.Buffer{})
}

func postHosts(t *testing.T, h *HostHandler, body string) (*httptest.ResponseRecorder, SaveResponse) {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/v1/hosts", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()

	h.SaveHosts(rec, req)

	var resp SaveResponse
	if rec.Code != http.StatusBadRequest {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp), rec.Body.String())
	}
	return rec, resp
}

func TestSaveHosts_PartitionsBatch(t *testing.T) {
	store := &mockHostStore{}
	store.On("SaveBatch", mock.Anything, mock.MatchedBy(func(hosts []scanning.Host) bool {
		return len(hosts) == 3 && hosts[1].IP == "10.0.0.2" && len(hosts[0].Ports) == 1
	})).Return(&scanning.BatchResult{
		Accepted: []string{"10.0.0.1", "10.0.0.3"},
		Rejected: []string{"10.0.0.2"},
		Failed:   []scanning.FailedHost{},
	}, nil)

	body := `[
		{"ip": "10.0.0.1", "timestamp": "2024-05-01T10:00:00", "ports": [{"port": 22, "service": "ssh"}]},
		{"ip": "10.0.0.2", "os_name": "Linux"},
		{"ip": "10.0.0.3", "geolocation": {"country": "SE"}, "whois": {"name": "X"}}
	]`
	rec, resp := postHosts(t, NewHostHandler(store, testLogger()), body)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	assert.Equal(t, messageSaved, resp.Message)
	assert.Equal(t, []string{"10.0.0.1", "10.0.0.3"}, resp.Saved)
	assert.Equal(t, []string{"10.0.0.2"}, resp.Rejected)
	assert.Empty(t, resp.Failed)
	assert.Empty(t, resp.Error)
	store.AssertExpectations(t)
}

func TestSaveHosts_ParsesTimestamps(t *testing.T) {
	store := &mockHostStore{}
	var got []scanning.Host
	store.On("SaveBatch", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { got = args.Get(1).([]scanning.Host) }).
		Return(scanning.NewBatchResult(), nil)

	rec, _ := postHosts(t, NewHostHandler(store, testLogger()),
		`[{"ip": "10.0.0.1", "timestamp": "2024-05-01T10:00:00.123456"}, {"ip": "10.0.0.2"}]`)

	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, got, 2)
	assert.Equal(t, time.Date(2024, 5, 1, 10, 0, 0, 123456000, time.UTC), got[0].Timestamp)
	assert.True(t, got[1].Timestamp.IsZero(), "a missing timestamp is filled in by the store")
}

func TestSaveHosts_AcceptsStringPorts(t *testing.T) {
	store := &mockHostStore{}
	var got []scanning.Host
	store.On("SaveBatch", mock.Anything, mock.Anything).
		Run(func(args mock.Arguments) { got = args.Get(1).([]scanning.Host) }).
		Return(&scanning.BatchResult{
			Accepted: []string{"10.0.0.5"},
			Rejected: []string{},
			Failed:   []scanning.FailedHost{},
		}, nil)

	body := `[{"ip": "10.0.0.5", "os_name": "Linux", "ports": [
		{"port": "80", "service": "http", "http_title": "Index"},
		{"port": 443, "service": "https"}
	]}]`
	rec, resp := postHosts(t, NewHostHandler(store, testLogger()), body)

	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, []string{"10.0.0.5"}, resp.Saved)
	require.Len(t, got, 1)
	require.Len(t, got[0].Ports, 2)
	assert.Equal(t, 80, got[0].Ports[0].Port)
	assert.Equal(t, "Index", got[0].Ports[0].HTTPTitle)
	assert.Equal(t, 443, got[0].Ports[1].Port)
}

func TestSaveHosts_BadRequests(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"not json", `{{{`},
		{"object instead of array", `{"ip": "10.0.0.1"}`},
		{"bad timestamp", `[{"ip": "10.0.0.1", "timestamp": "yesterday"}]`},
		{"non-numeric port", `[{"ip": "10.0.0.1", "ports": [{"port": "http"}]}]`},
		{"empty body", ``},
		{"trailing data", `[] []`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store := &mockHostStore{}
			rec, _ := postHosts(t, NewHostHandler(store, testLogger()), tt.body)

			assert.Equal(t, http.StatusBadRequest, rec.Code)
			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
			assert.Equal(t, "Bad Request", resp.Error)
			assert.NotEmpty(t, resp.Message)
			store.AssertNotCalled(t, "SaveBatch", mock.Anything, mock.Anything)
		})
	}
}

func TestSaveHosts_BodyTooLarge(t *testing.T) {
	store := &mockHostStore{}
	h := middleware.BodyLimit(16)(http.HandlerFunc(NewHostHandler(store, testLogger()).SaveHosts))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/hosts",
		strings.NewReader(`[{"ip": "10.0.0.1"}, {"ip": "10.0.0.2"}]`))
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "too large")
}

func TestSaveHosts_StoreFailure(t *testing.T) {
	store := &mockHostStore{}
	storeErr := errors.NewDatabaseError(errors.CodeStoreTransaction, "1 of 2 hosts could not be stored")
	result := &scanning.BatchResult{
		Accepted: []string{"10.0.0.1"},
		Rejected: []string{},
	}
	result.Fail("10.0.0.2", errors.NewDatabaseError(errors.CodeDatabaseQuery, "Database query failed"))
	store.On("SaveBatch", mock.Anything, mock.Anything).Return(result, storeErr)

	rec, resp := postHosts(t, NewHostHandler(store, testLogger()), `[{"ip": "10.0.0.1"}, {"ip": "10.0.0.2"}]`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Equal(t, []string{"10.0.0.1"}, resp.Saved)
	assert.Empty(t, resp.Rejected)
	require.Len(t, resp.Failed, 1)
	assert.Equal(t, "10.0.0.2", resp.Failed[0].IP)
	assert.Contains(t, resp.Error, "could not be stored")
}

func TestSaveHosts_StoreReturnsNoResult(t *testing.T) {
	store := &mockHostStore{}
	store.On("SaveBatch", mock.Anything, mock.Anything).Return(nil, stderrors.New("database unreachable"))

	rec, resp := postHosts(t, NewHostHandler(store, testLogger()), `[{"ip": "10.0.0.1"}]`)

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Empty(t, resp.Saved)
	require.Len(t, resp.Failed, 1)
	assert.Equal(t, "database unreachable", resp.Failed[0].Error)
}

func TestSaveHosts_EmptyBatch(t *testing.T) {
	store := &mockHostStore{}
	store.On("SaveBatch", mock.Anything, mock.Anything).Return(scanning.NewBatchResult(), nil)

	rec, resp := postHosts(t, NewHostHandler(store, testLogger()), `[]`)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, resp.Saved)
	assert.NotNil(t, resp.Rejected)
	assert.NotNil(t, resp.Failed)
	assert.Contains(t, rec.Body.String(), `"saved_hosts":[]`)
}

func TestListHosts(t *testing.T) {
	ts := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	store := &mockHostStore{}
	store.On("ListAll", mock.Anything).Return([]scanning.Host{
		{
			IP: "10.0.0.1", OSName: "Linux", OSAccuracy: "98", RDNS: "a.example",
			Geolocation: map[string]any{"country": "SE"}, Whois: map[string]string{},
			Timestamp: ts,
			Ports:     []scanning.Port{{Port: 22, Service: "ssh"}, {Port: 80, Service: "http"}},
		},
	}, nil)

	rec := httptest.NewRecorder()
	NewHostHandler(store, testLogger()).ListHosts(rec, httptest.NewRequest(http.MethodGet, "/api/v1/hosts", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var hosts []scanning.Host
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &hosts))
	require.Len(t, hosts, 1)
	assert.Equal(t, "10.0.0.1", hosts[0].IP)
	assert.Equal(t, ts, hosts[0].Timestamp)
	require.Len(t, hosts[0].Ports, 2)
	assert.Equal(t, 80, hosts[0].Ports[1].Port)
}

func TestListHosts_Empty(t *testing.T) {
	store := &mockHostStore{}
	store.On("ListAll", mock.Anything).Return([]scanning.Host{}, nil)

	rec := httptest.NewRecorder()
	NewHostHandler(store, testLogger()).ListHosts(rec, httptest.NewRequest(http.MethodGet, "/api/v1/hosts", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `[]`, rec.Body.String())
}

func TestListHosts_StoreError(t *testing.T) {
	store := &mockHostStore{}
	store.On("ListAll", mock.Anything).Return(nil, errors.NewDatabaseError(errors.CodeDatabaseQuery, "Database query failed"))

	rec := httptest.NewRecorder()
	NewHostHandler(store, testLogger()).ListHosts(rec, httptest.NewRequest(http.MethodGet, "/api/v1/hosts", nil))

	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, rec.Body.String(), "Database query failed")
}

func TestHealth(t *testing.T) {
	t.Run("healthy", func(t *testing.T) {
		store := &mockHostStore{}
		store.On("Ping", mock.Anything).Return(nil)

		rec := httptest.NewRecorder()
		NewHealthHandler(store, testLogger()).Health(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		var resp HealthResponse
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
		assert.Equal(t, StatusHealthy, resp.Status)
		assert.Equal(t, "ok", resp.Checks["database"])
	})

	t.Run("database down", func(t *testing.T) {
		store := &mockHostStore{}
		store.On("Ping", mock.Anything).Return(stderrors.New("connection refused"))

		rec := httptest.NewRecorder()
		NewHealthHandler(store, testLogger()).Health(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Contains(t, rec.Body.String(), "connection refused")
	})

	t.Run("no database", func(t *testing.T) {
		rec := httptest.NewRecorder()
		NewHealthHandler(nil, testLogger()).Health(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Contains(t, rec.Body.String(), StatusNotConfigured)
	})
}

type fixedStats struct {
	uptime time.Duration
	last   time.Time
}

func (f fixedStats) GetUptime() time.Duration { return f.uptime }
func (f fixedStats) GetLastUpdate() time.Time  { return f.last }

func TestHealth_RuntimeStats(t *testing.T) {
	store := &mockHostStore{}
	store.On("Ping", mock.Anything).Return(nil)
	last := time.Date(2026, 10, 1, 8, 0, 0, 0, time.UTC)

	rec := httptest.NewRecorder()
	NewHealthHandler(store, testLogger()).
		WithRuntimeStats(fixedStats{uptime: 90 * time.Minute, last: last}).
		Health(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "1h30m0s", resp.Uptime)
	require.NotNil(t, resp.MetricsUpdated)
	assert.True(t, last.Equal(*resp.MetricsUpdated))
	assert.Equal(t, "ok", resp.Checks["metrics"])

	rec = httptest.NewRecorder()
	NewHealthHandler(nil, testLogger()).
		WithRuntimeStats(fixedStats{uptime: time.Second}).
		Health(rec, httptest.NewRequest(http.MethodGet, "/api/v1/health", nil))
	var pending HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pending))
	assert.Nil(t, pending.MetricsUpdated)
	assert.Equal(t, "pending", pending.Checks["metrics"])
}

func TestLivenessAndVersion(t *testing.T) {
	h := NewHealthHandler(nil, testLogger())

	rec := httptest.NewRecorder()
	h.Liveness(rec, httptest.NewRequest(http.MethodGet, "/api/v1/liveness", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"status":"alive"`)

	SetBuildInfo("1.2.3", "abc123", "2024-05-01")
	t.Cleanup(func() { SetBuildInfo("dev", "none", "unknown") })

	rec = httptest.NewRecorder()
	h.Version(rec, httptest.NewRequest(http.MethodGet, "/api/v1/version", nil))
	var resp VersionResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "1.2.3", resp.Version)
	assert.Equal(t, "abc123", resp.Commit)
}
