// Package models 定义APM引擎使用的数据模型
package models

import (
	"time"
)

// MetricCategory 表示指标分类
type MetricCategory string

const (
	// CategoryResponseTime 响应时间类指标
	CategoryResponseTime MetricCategory = "response_time"
	// CategoryThroughput 吞吐量类指标
	CategoryThroughput MetricCategory = "throughput"
	// CategoryErrorRate 错误率类指标
	CategoryErrorRate MetricCategory = "error_rate"
	// CategoryResourceUsage 资源使用类指标
	CategoryResourceUsage MetricCategory = "resource_usage"
	// CategoryBusiness 业务指标
	CategoryBusiness MetricCategory = "business_metric"
)

// Valid 判断分类是否属于已知分类
func (c MetricCategory) Valid() bool {
	switch c {
	case CategoryResponseTime, CategoryThroughput, CategoryErrorRate, CategoryResourceUsage, CategoryBusiness:
		return true
	}
	return false
}

// 引擎自身和内置采集写入的指标名称
const (
	MetricAPIResponseTime     = "api_response_time"
	MetricAPIError            = "api_error"
	MetricDatabaseQueryTime   = "database_query_time"
	MetricDatabaseError       = "database_error"
	MetricCacheOperationTime  = "cache_operation_time"
	MetricCacheHit            = "cache_hit"
	MetricCacheMiss           = "cache_miss"
	MetricConcurrentUsers     = "concurrent_users"
	MetricHealthCheckTime     = "health_check_time"
	MetricResponseTime        = "response_time"
	MetricErrorRate           = "error_rate"
	MetricThroughput          = "throughput"
	MetricCPUUsage            = "cpu_usage"
	MetricMemoryUsage         = "memory_usage"
	MetricHeapUsage           = "heap_usage"
	MetricSysMemory           = "sys_memory"
	MetricGCCount             = "gc_count"
	MetricDiskUsage           = "disk_usage"
	MetricDatabaseConnections = "database_connections"
	MetricUptime              = "uptime"
	MetricGoroutines          = "goroutines"
)

// Metric 表示一个带时间戳、名称和标签的数值观测，记录后不可修改
type Metric struct {
	Name      string            `json:"name"`           // 指标名称
	Value     float64           `json:"value"`          // 指标值
	Unit      string            `json:"unit"`           // 单位
	Timestamp time.Time         `json:"timestamp"`      // 时间戳
	Category  MetricCategory    `json:"category"`       // 指标分类
	Tags      map[string]string `json:"tags,omitempty"` // 额外标签
}

// Tag 返回指定标签的值，不存在时返回空串
func (m Metric) Tag(key string) string {
	if m.Tags == nil {
		return ""
	}
	return m.Tags[key]
}

// TimeRange 表示时间范围
type TimeRange struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// TimeSeriesPoint 表示时间序列中的一个点
type TimeSeriesPoint struct {
	Timestamp time.Time `json:"timestamp"`
	Value     float64   `json:"value"`
}
