package cli

import (
	"bytes"
	"context"
	"io"
	"net"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anstrom/cr4wler/internal/api"
	"github.com/anstrom/cr4wler/internal/config"
	"github.com/anstrom/cr4wler/internal/logging"
	"github.com/anstrom/cr4wler/internal/metrics"
	"github.com/anstrom/cr4wler/internal/scanning"
)

func TestServeUntilDone_StopsOnCancel(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := l.Addr().(*net.TCPAddr).Port
	require.NoError(t, l.Close())

	cfg := config.Default().API
	cfg.Port = port
	logger := logging.NewWithWriter(logging.DefaultConfig(), io.Discard)
	server := api.New(cfg, &memStore{hosts: map[string]scanning.Host{}},
		api.WithMetrics(metrics.NewPrometheusMetrics()), api.WithLogger(logger))

	ctx, cancel := context.WithCancel(t.Context())
	done := make(chan error, 1)
	go func() { done <- serveUntilDone(ctx, server, logger) }()

	require.Eventually(t, func() bool {
		resp, err := http.Get("http://" + server.GetAddress() + "/api/v1/health")
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
		t.Fatal("serveUntilDone did not return")
	}
}

func TestServeUntilDone_ListenFailure(t *testing.T) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer func() { _ = l.Close() }()

	cfg := config.Default().API
	cfg.Port = l.Addr().(*net.TCPAddr).Port
	logger := logging.NewWithWriter(logging.DefaultConfig(), io.Discard)
	server := api.New(cfg, &memStore{hosts: map[string]scanning.Host{}},
		api.WithMetrics(metrics.NewPrometheusMetrics()), api.WithLogger(logger))

	err = serveUntilDone(t.Context(), server, logger)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "API server error")
}

func TestPrintEndpoints(t *testing.T) {
	var out bytes.Buffer
	printEndpoints(&out, "127.0.0.1:5000")

	s := out.String()
	assert.Contains(t, s, "POST http://127.0.0.1:5000/api/v1/hosts")
	assert.Contains(t, s, "http://127.0.0.1:5000/metrics")
}
