package exporter

import (
	"io"
	"net/http/httptest"
	"testing"

	"github.com/xsxdot/aio-apm/pkg/monitoring/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, e *PrometheusExporter) string {
	t.Helper()
	rec := httptest.NewRecorder()
	e.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	return string(body)
}

func TestExporterObservesMetrics(t *testing.T) {
	e := NewPrometheusExporter(Config{Namespace: "test"})

	e.OnMetricRecorded(models.Metric{Name: "cpu_usage", Value: 42, Unit: "%", Category: models.CategoryResourceUsage})
	e.OnMetricRecorded(models.Metric{Name: "cpu_usage", Value: 55, Unit: "%", Category: models.CategoryResourceUsage})

	body := scrape(t, e)
	assert.Contains(t, body, `test_metric_value{category="resource_usage",name="cpu_usage",unit="%"} 55`)
	assert.Contains(t, body, `test_metric_samples_total{category="resource_usage",name="cpu_usage"} 2`)
	assert.Contains(t, body, "test_health_score 0")
}

func TestExporterObservesAlertsAndHealth(t *testing.T) {
	e := NewPrometheusExporter(Config{Namespace: "test"})

	e.OnAlertEvent(models.Alert{Level: models.AlertLevelCritical}, models.AlertEventCreated)
	e.OnAlertEvent(models.Alert{Level: models.AlertLevelCritical}, models.AlertEventResolved)
	e.OnHealthChecked(models.SystemHealth{
		Score: 70,
		Components: map[string]models.ComponentHealth{
			models.ComponentDatabase: {Status: models.HealthStatusHealthy, ResponseTime: 12},
			models.ComponentCache:    {Status: models.HealthStatusWarning},
			models.ComponentRealtime: {Status: models.HealthStatusCritical},
			models.ComponentStorage:  {Status: models.HealthStatusUnknown},
		},
	})

	body := scrape(t, e)
	assert.Contains(t, body, `test_alert_events_total{event="created",level="critical"} 1`)
	assert.Contains(t, body, `test_alert_events_total{event="resolved",level="critical"} 1`)
	assert.Contains(t, body, "test_health_score 70")
	assert.Contains(t, body, `test_component_status{component="database"} 1`)
	assert.Contains(t, body, `test_component_status{component="cache"} 0.5`)
	assert.Contains(t, body, `test_component_status{component="realtime"} 0`)
	assert.Contains(t, body, `test_component_status{component="storage"} -1`)
	assert.Contains(t, body, `test_component_response_time_ms{component="database"} 12`)
}

func TestStatusValue(t *testing.T) {
	assert.Equal(t, 1.0, statusValue(models.HealthStatusHealthy))
	assert.Equal(t, -1.0, statusValue(""))
}
