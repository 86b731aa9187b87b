// Package exporter 把引擎事件转换为Prometheus指标
package exporter

import (
	"net/http"

	"github.com/xsxdot/aio-apm/pkg/monitoring/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config 导出器配置
type Config struct {
	Namespace string
	// Registry 为空时使用独立的注册表
	Registry *prometheus.Registry
}

// PrometheusExporter 订阅引擎事件的观察者。只按指标名称和分类建立标签，标签值不进入Prometheus
type PrometheusExporter struct {
	registry *prometheus.Registry

	metricValue      *prometheus.GaugeVec
	metricSamples    *prometheus.CounterVec
	alertEvents      *prometheus.CounterVec
	healthScore      prometheus.Gauge
	componentStatus  *prometheus.GaugeVec
	componentLatency *prometheus.GaugeVec
}

var _ models.Observer = (*PrometheusExporter)(nil)

func NewPrometheusExporter(config Config) *PrometheusExporter {
	if config.Namespace == "" {
		config.Namespace = "apm"
	}
	registry := config.Registry
	if registry == nil {
		registry = prometheus.NewRegistry()
	}
	factory := promauto.With(registry)

	return &PrometheusExporter{
		registry: registry,
		metricValue: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "metric_value",
			Help:      "Last recorded value of each metric",
		}, []string{"name", "category", "unit"}),
		metricSamples: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "metric_samples_total",
			Help:      "Number of samples recorded per metric",
		}, []string{"name", "category"}),
		alertEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: config.Namespace,
			Name:      "alert_events_total",
			Help:      "Alert lifecycle events by level",
		}, []string{"level", "event"}),
		healthScore: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "health_score",
			Help:      "Overall system health score (0-100)",
		}),
		componentStatus: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "component_status",
			Help:      "Component health (1 healthy, 0.5 warning, 0 critical, -1 unknown)",
		}, []string{"component"}),
		componentLatency: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: config.Namespace,
			Name:      "component_response_time_ms",
			Help:      "Probe response time per component",
		}, []string{"component"}),
	}
}

func (e *PrometheusExporter) OnMetricRecorded(metric models.Metric) {
	category := string(metric.Category)
	e.metricValue.WithLabelValues(metric.Name, category, metric.Unit).Set(metric.Value)
	e.metricSamples.WithLabelValues(metric.Name, category).Inc()
}

func (e *PrometheusExporter) OnAlertEvent(alert models.Alert, event models.AlertEventType) {
	e.alertEvents.WithLabelValues(string(alert.Level), string(event)).Inc()
}

func (e *PrometheusExporter) OnHealthChecked(health models.SystemHealth) {
	e.healthScore.Set(float64(health.Score))
	for name, component := range health.Components {
		e.componentStatus.WithLabelValues(name).Set(statusValue(component.Status))
		e.componentLatency.WithLabelValues(name).Set(component.ResponseTime)
	}
}

func statusValue(status models.HealthStatus) float64 {
	switch status {
	case models.HealthStatusHealthy:
		return 1
	case models.HealthStatusWarning:
		return 0.5
	case models.HealthStatusCritical:
		return 0
	default:
		return -1
	}
}

// Registry 导出器使用的注册表
func (e *PrometheusExporter) Registry() *prometheus.Registry {
	return e.registry
}

// Handler 暴露指标的HTTP处理器
func (e *PrometheusExporter) Handler() http.Handler {
	return promhttp.HandlerFor(e.registry, promhttp.HandlerOpts{})
}
