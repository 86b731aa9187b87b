package collector

import (
	"strings"

	"github.com/xsxdot/aio-apm/pkg/monitoring/models"
	"github.com/xsxdot/aio-apm/pkg/utils"

	"go.uber.org/zap"
)

// maxQueryTagLength 写入标签的SQL最大长度
const maxQueryTagLength = 100

// DatabaseCollectorConfig 数据库收集器配置
type DatabaseCollectorConfig struct {
	Env      string      // 环境标识（如：dev, test, prod）
	Logger   *zap.Logger // 日志记录器
	Recorder Recorder    // 指标写入方
	// SlowQueryThreshold 慢查询阈值(毫秒)，0 表示不标记
	SlowQueryThreshold float64
}

// DatabaseCollector 数据库与缓存操作指标收集器
type DatabaseCollector struct {
	config   DatabaseCollectorConfig
	logger   *zap.Logger
	recorder Recorder
}

// NewDatabaseCollector 创建新的数据库收集器
func NewDatabaseCollector(config DatabaseCollectorConfig) *DatabaseCollector {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &DatabaseCollector{
		config:   config,
		logger:   logger,
		recorder: config.Recorder,
	}
}

// DatabaseOperation 定义数据库操作类型
type DatabaseOperation string

const (
	DatabaseOperationSELECT DatabaseOperation = "SELECT"
	DatabaseOperationINSERT DatabaseOperation = "INSERT"
	DatabaseOperationUPDATE DatabaseOperation = "UPDATE"
	DatabaseOperationDELETE DatabaseOperation = "DELETE"
	DatabaseOperationOTHER  DatabaseOperation = "OTHER"
)

// ParseOperation 根据SQL首个关键字判断操作类型
func ParseOperation(query string) DatabaseOperation {
	fields := strings.Fields(query)
	if len(fields) == 0 {
		return DatabaseOperationOTHER
	}
	switch op := DatabaseOperation(strings.ToUpper(fields[0])); op {
	case DatabaseOperationSELECT, DatabaseOperationINSERT, DatabaseOperationUPDATE, DatabaseOperationDELETE:
		return op
	}
	return DatabaseOperationOTHER
}

// RecordDatabaseOperation 记录一次数据库查询。写入 database_query_time，出错时额外写入 database_error
func (c *DatabaseCollector) RecordDatabaseOperation(query string, durationMs float64, queryErr error) models.Metric {
	tags := map[string]string{
		"operation": string(ParseOperation(query)),
		"query":     utils.Truncate(strings.TrimSpace(query), maxQueryTagLength),
	}
	if c.config.Env != "" {
		tags["env"] = c.config.Env
	}
	if c.config.SlowQueryThreshold > 0 && durationMs >= c.config.SlowQueryThreshold {
		tags["slow"] = "true"
		c.logger.Warn("慢查询",
			zap.String("query", tags["query"]),
			zap.Float64("duration_ms", durationMs))
	}

	metric := c.recorder.RecordMetric(models.MetricDatabaseQueryTime, durationMs, "ms", models.CategoryResponseTime, tags)

	if queryErr != nil {
		tags["error"] = queryErr.Error()
		c.recorder.RecordMetric(models.MetricDatabaseError, 1, "count", models.CategoryErrorRate, tags)
	}
	return metric
}

// RecordCacheOperation 记录一次缓存操作，命中与否分别写入 cache_hit / cache_miss
func (c *DatabaseCollector) RecordCacheOperation(operation string, hit bool, durationMs float64) models.Metric {
	tags := map[string]string{"operation": operation}

	metric := c.recorder.RecordMetric(models.MetricCacheOperationTime, durationMs, "ms", models.CategoryResponseTime, tags)
	if hit {
		c.recorder.RecordMetric(models.MetricCacheHit, 1, "count", models.CategoryThroughput, tags)
	} else {
		c.recorder.RecordMetric(models.MetricCacheMiss, 1, "count", models.CategoryThroughput, tags)
	}
	return metric
}
