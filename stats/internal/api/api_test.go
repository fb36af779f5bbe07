package api

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/han-fei/stackmon/stats/internal/collector"
	"github.com/han-fei/stackmon/stats/internal/models"
	"github.com/han-fei/stackmon/stats/internal/telemetry"
)

type staticClients int

func (s staticClients) ClientCount() int { return int(s) }

type nopSubscriber struct{}

func (nopSubscriber) ID() string                                   { return "nop" }
func (nopSubscriber) Connected() bool                              { return true }
func (nopSubscriber) Emit(string, string, []models.ContainerStats) {}

func newTestRouter(t *testing.T) (*mux.Router, *collector.Directory) {
	t.Helper()
	reg := prometheus.NewRegistry()
	opts := collector.Options{
		Command:       "/bin/sh",
		Args:          []string{"-c", "exec sleep 30"},
		SweepInterval: time.Hour,
		IdleInterval:  time.Hour,
		StopTimeout:   time.Second,
	}
	directory := collector.NewDirectory(opts, zap.NewNop(), telemetry.NewMetrics(reg))
	t.Cleanup(directory.Close)

	r := mux.NewRouter()
	NewAPIHandler(directory, staticClients(3), reg, zap.NewNop()).RegisterRoutes(r)
	return r, directory
}

func do(r http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(method, path, nil))
	return rec
}

// TestStatus 测试状态接口
func TestStatus(t *testing.T) {
	r, _ := newTestRouter(t)

	rec := do(r, http.MethodGet, "/api/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "running", body["status"])
	assert.Equal(t, 3.0, body["clients"])
	assert.Equal(t, 0.0, body["collectors"])
}

// TestStacks 测试采集器查询与停止
func TestStacks(t *testing.T) {
	r, directory := newTestRouter(t)
	_, err := directory.Acquire("blog", t.TempDir(), nopSubscriber{})
	require.NoError(t, err)

	rec := do(r, http.MethodGet, "/api/stacks")
	require.Equal(t, http.StatusOK, rec.Code)
	var infos []models.StackInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "blog", infos[0].Name)
	assert.True(t, infos[0].Running)

	rec = do(r, http.MethodGet, "/api/stacks/blog")
	require.Equal(t, http.StatusOK, rec.Code)
	var info models.StackInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &info))
	assert.Equal(t, 1, info.Subscribers)

	assert.Equal(t, http.StatusNotFound, do(r, http.MethodGet, "/api/stacks/missing").Code)

	assert.Equal(t, http.StatusNoContent, do(r, http.MethodDelete, "/api/stacks/blog").Code)
	assert.Equal(t, http.StatusNotFound, do(r, http.MethodDelete, "/api/stacks/blog").Code)
	assert.Equal(t, 0, directory.Len())
}

// TestMetricsEndpoint 测试Prometheus指标接口
func TestMetricsEndpoint(t *testing.T) {
	r, directory := newTestRouter(t)
	_, err := directory.Acquire("blog", t.TempDir(), nopSubscriber{})
	require.NoError(t, err)

	rec := do(r, http.MethodGet, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, strings.Contains(rec.Body.String(), "stackmon_producer_starts_total 1"))
	assert.Contains(t, rec.Body.String(), "stackmon_collectors_running 1")
}

// TestMethodNotAllowed 测试不支持的方法
func TestMethodNotAllowed(t *testing.T) {
	r, _ := newTestRouter(t)
	assert.Equal(t, http.StatusMethodNotAllowed, do(r, http.MethodPost, "/api/stacks").Code)
}
