package metrics

import (
	"context"
	"io"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorderBeforeInitIsNoop(t *testing.T) {
	// runs before InitMetrics only when executed alone; must never panic either way
	r := New()
	r.RecordAcquisition("active", "success")
	r.RecordFallback("active", "backup", "expired")
	r.RecordCache(true)
}

func TestInitMetrics(t *testing.T) {
	// InitMetrics uses sync.Once, so it can only be called once per test run
	InitMetrics()
	InitMetrics()
	assert.True(t, IsMetricsRegistered())

	r := New()
	r.RecordAcquisition("backup", "success")
	r.RecordFallback("active", "backup", "expired")
	r.RecordRateLimited()
	r.RecordCache(false)
	r.RecordIntegrityFailure("active")
	r.RecordRotationStarted("scheduled")
	r.RecordRotationCompleted("scheduled", "success", 1.5)
	r.SetEphemeralFiles(2)
	r.RecordEphemeralRelease("shred")
	r.RecordHealthCheck("store", true, 0.02)
}

func TestServerServesMetricsAndHealth(t *testing.T) {
	var healthy atomic.Bool
	healthy.Store(true)
	srv := NewServer(ServerConfig{Addr: "127.0.0.1:0", ReadTimeout: time.Second, WriteTimeout: time.Second}, nil,
		healthy.Load)
	require.NoError(t, srv.Start())
	defer func() { _ = srv.Stop(context.Background()) }()

	New().RecordRotationStarted("manual")

	body := get(t, "http://"+srv.Addr()+"/metrics", http.StatusOK)
	assert.Contains(t, body, "cookieguard_rotation_started_total")

	assert.Equal(t, "OK", get(t, "http://"+srv.Addr()+"/health", http.StatusOK))
	healthy.Store(false)
	assert.Equal(t, "DEGRADED", get(t, "http://"+srv.Addr()+"/health", http.StatusServiceUnavailable))
}

func TestServerDisabled(t *testing.T) {
	srv := NewServer(ServerConfig{}, nil, nil)
	require.NoError(t, srv.Start())
	assert.Empty(t, srv.Addr())
	assert.NoError(t, srv.Stop(context.Background()))
}

func get(t *testing.T, url string, wantStatus int) string {
	t.Helper()
	resp, err := http.Get(url) // #nosec G107 -- test server URL
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	assert.Equal(t, wantStatus, resp.StatusCode)
	data, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return strings.TrimSpace(string(data))
}
