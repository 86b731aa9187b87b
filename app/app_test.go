package app

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/xsxdot/aio-apm/app/config"
	"github.com/xsxdot/aio-apm/pkg/monitoring/health"
	"github.com/xsxdot/aio-apm/pkg/monitoring/models"
	"github.com/xsxdot/aio-apm/pkg/utils"

	json "github.com/json-iterator/go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func TestBuildProbes(t *testing.T) {
	cfg := config.Default()
	probes, err := BuildProbes(&cfg)
	require.NoError(t, err)
	assert.Len(t, probes, 1)
	assert.Contains(t, probes, models.ComponentStorage)

	cfg.Redis = health.RedisConfig{Addr: "127.0.0.1:6379"}
	cfg.ExternalAPIs = []health.Endpoint{{Name: "pay", URL: "http://127.0.0.1:1/health"}}
	probes, err = BuildProbes(&cfg)
	require.NoError(t, err)
	assert.Len(t, probes, 3)
	assert.IsType(t, &health.RedisProbe{}, probes[models.ComponentCache])
	assert.IsType(t, &health.ExternalProbe{}, probes[models.ComponentExternalAPIs])
	_ = probes[models.ComponentCache].(health.Closer).Close()

	cfg.Database = health.DatabaseConfig{Driver: "sqlite", DSN: "x"}
	_, err = BuildProbes(&cfg)
	assert.Error(t, err)
}

func TestGetApp(t *testing.T) {
	cfg := config.Default()
	monitor, err := NewMonitor(&cfg, zap.NewNop())
	require.NoError(t, err)
	defer monitor.StopMonitoring()

	app := GetApp(monitor, zap.NewNop())

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/apm/metrics/names", nil), -1)
	require.NoError(t, err)
	var body utils.Response
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	_ = resp.Body.Close()
	assert.Equal(t, utils.StatusSuccess, body.Code)

	// 经过监控中间件的请求会写入接口指标
	assert.Len(t, monitor.GetMetrics(models.MetricAPIResponseTime), 1)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/api/unknown", nil), -1)
	require.NoError(t, err)
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	_ = resp.Body.Close()
	assert.Equal(t, utils.StatusNotFound, body.Code)
	assert.Len(t, monitor.GetMetrics(models.MetricAPIError), 1)

	// /api 之外的请求不写入接口指标
	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/favicon", nil), -1)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Len(t, monitor.GetMetrics(models.MetricAPIResponseTime), 2)
	assert.Len(t, monitor.GetMetrics(models.MetricAPIError), 1)
}

func TestDefaultLogger(t *testing.T) {
	cfg := config.Default()
	monitor, err := NewMonitor(&cfg, nil)
	require.NoError(t, err)
	defer monitor.StopMonitoring()

	app := GetApp(monitor, nil)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/apm/thresholds", nil), -1)
	require.NoError(t, err)
	_ = resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}
