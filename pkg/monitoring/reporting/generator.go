// Package reporting 基于指标存储和告警生成时间窗口内的性能报告
package reporting

import (
	"fmt"
	"sort"
	"time"

	"github.com/xsxdot/aio-apm/pkg/common"
	"github.com/xsxdot/aio-apm/pkg/monitoring/models"

	"go.uber.org/zap"
)

const (
	// PlaceholderUptime 窗口内没有健康检查记录时使用的可用率
	PlaceholderUptime = 99.5
	// TopEndpointLimit 报告中保留的接口数
	TopEndpointLimit = 10
	// UnknownEndpoint 缺少 endpoint 标签的调用归入的分组
	UnknownEndpoint = "unknown"
)

// MetricSource 按时间范围读取指标
type MetricSource interface {
	QueryRange(from, to time.Time) []models.Metric
}

// AlertSource 按时间范围读取告警
type AlertSource interface {
	AlertsInRange(from, to time.Time) []models.Alert
}

// UptimeSource 按时间范围计算可用率，没有数据时返回false
type UptimeSource interface {
	UptimeBetween(from, to time.Time) (float64, bool)
}

// Config 报告生成器配置
type Config struct {
	Metrics MetricSource
	Alerts  AlertSource
	Uptime  UptimeSource // 可选
	Logger  *zap.Logger
}

// Generator 报告生成器，只读且无副作用
type Generator struct {
	metrics MetricSource
	alerts  AlertSource
	uptime  UptimeSource
	logger  *zap.Logger
}

func NewGenerator(config Config) *Generator {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{
		metrics: config.Metrics,
		alerts:  config.Alerts,
		uptime:  config.Uptime,
		logger:  logger,
	}
}

// Generate 生成 [from, to] 的性能报告
func (g *Generator) Generate(from, to time.Time) (*models.PerformanceReport, error) {
	if from.After(to) {
		return nil, common.NewValidationError(
			fmt.Sprintf("invalid report window: from %s is after to %s", from.Format(time.RFC3339), to.Format(time.RFC3339)), nil)
	}

	samples := g.metrics.QueryRange(from, to)
	var alerts []models.Alert
	if g.alerts != nil {
		alerts = g.alerts.AlertsInRange(from, to)
	}
	if alerts == nil {
		alerts = []models.Alert{}
	}

	report := &models.PerformanceReport{
		Period:       models.TimeRange{Start: from, End: to},
		Summary:      g.summarize(samples, from, to),
		Trends:       buildTrends(samples),
		TopEndpoints: topEndpoints(samples, TopEndpointLimit),
		Alerts:       alerts,
	}

	g.logger.Debug("生成性能报告",
		zap.Time("from", from),
		zap.Time("to", to),
		zap.Int("samples", len(samples)),
		zap.Int("alerts", len(alerts)))
	return report, nil
}

func (g *Generator) summarize(samples []models.Metric, from, to time.Time) models.ReportSummary {
	var (
		summary       models.ReportSummary
		responseSum   float64
		responseCount int
		errors        int
	)

	for _, m := range samples {
		if m.Category == models.CategoryResponseTime {
			responseSum += m.Value
			responseCount++
		}
		switch m.Name {
		case models.MetricAPIResponseTime:
			summary.TotalRequests++
		case models.MetricAPIError:
			errors++
		case models.MetricConcurrentUsers:
			if m.Value > summary.PeakConcurrentUsers {
				summary.PeakConcurrentUsers = m.Value
			}
		}
	}

	if responseCount > 0 {
		summary.AverageResponseTime = responseSum / float64(responseCount)
	}
	if summary.TotalRequests > 0 {
		summary.ErrorRate = 100 * float64(errors) / float64(summary.TotalRequests)
	}

	summary.Uptime = PlaceholderUptime
	if g.uptime != nil {
		if uptime, ok := g.uptime.UptimeBetween(from, to); ok {
			summary.Uptime = uptime
		}
	}
	return summary
}

// buildTrends 三个分类各自按整点分桶取均值，按桶时间升序
func buildTrends(samples []models.Metric) models.ReportTrends {
	return models.ReportTrends{
		ResponseTime: hourlyMeans(samples, models.CategoryResponseTime),
		Throughput:   hourlyMeans(samples, models.CategoryThroughput),
		ErrorRate:    hourlyMeans(samples, models.CategoryErrorRate),
	}
}

type bucket struct {
	sum   float64
	count int
}

func hourlyMeans(samples []models.Metric, category models.MetricCategory) []models.TimeSeriesPoint {
	buckets := make(map[time.Time]*bucket)
	for _, m := range samples {
		if m.Category != category {
			continue
		}
		key := hourOf(m.Timestamp)
		b, ok := buckets[key]
		if !ok {
			b = &bucket{}
			buckets[key] = b
		}
		b.sum += m.Value
		b.count++
	}

	points := make([]models.TimeSeriesPoint, 0, len(buckets))
	for ts, b := range buckets {
		points = append(points, models.TimeSeriesPoint{Timestamp: ts, Value: b.sum / float64(b.count)})
	}
	sort.Slice(points, func(i, j int) bool {
		return points[i].Timestamp.Before(points[j].Timestamp)
	})
	return points
}

// hourOf 时间戳在其所在时区的整点
func hourOf(t time.Time) time.Time {
	y, mo, d := t.Date()
	return time.Date(y, mo, d, t.Hour(), 0, 0, 0, t.Location())
}

type endpointAccumulator struct {
	requests    int
	responseSum float64
	errors      int
}

// topEndpoints 按请求数降序取前 limit 个接口，请求数相同时按名称排序
func topEndpoints(samples []models.Metric, limit int) []models.EndpointStats {
	groups := make(map[string]*endpointAccumulator)
	get := func(endpoint string) *endpointAccumulator {
		acc, ok := groups[endpoint]
		if !ok {
			acc = &endpointAccumulator{}
			groups[endpoint] = acc
		}
		return acc
	}

	for _, m := range samples {
		switch m.Name {
		case models.MetricAPIResponseTime:
			acc := get(endpointOf(m))
			acc.requests++
			acc.responseSum += m.Value
		case models.MetricAPIError:
			get(endpointOf(m)).errors++
		}
	}

	stats := make([]models.EndpointStats, 0, len(groups))
	for endpoint, acc := range groups {
		if acc.requests == 0 {
			continue
		}
		stats = append(stats, models.EndpointStats{
			Endpoint:     endpoint,
			Requests:     acc.requests,
			ResponseTime: acc.responseSum / float64(acc.requests),
			ErrorRate:    100 * float64(acc.errors) / float64(acc.requests),
		})
	}

	sort.Slice(stats, func(i, j int) bool {
		if stats[i].Requests != stats[j].Requests {
			return stats[i].Requests > stats[j].Requests
		}
		return stats[i].Endpoint < stats[j].Endpoint
	})
	if len(stats) > limit {
		stats = stats[:limit]
	}
	return stats
}

func endpointOf(m models.Metric) string {
	if endpoint := m.Tag("endpoint"); endpoint != "" {
		return endpoint
	}
	return UnknownEndpoint
}
