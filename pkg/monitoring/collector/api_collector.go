package collector

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/xsxdot/aio-apm/pkg/monitoring/models"
	"github.com/xsxdot/aio-apm/pkg/scheduler"

	"go.uber.org/zap"
)

// APICollectorConfig API收集器配置
type APICollectorConfig struct {
	ServiceName   string               // 服务名称
	InstanceID    string               // 实例ID
	FlushInterval time.Duration        // 吞吐量和错误率的汇总间隔
	Logger        *zap.Logger          // 日志记录器
	Recorder      Recorder             // 指标写入方
	Scheduler     *scheduler.Scheduler // 调度器
}

// APICollector API指标收集器。每次调用写入 api_response_time，
// 失败的调用额外写入 api_error；并按汇总间隔写入 throughput 和 error_rate
type APICollector struct {
	config   APICollectorConfig
	logger   *zap.Logger
	recorder Recorder
	task     scheduler.Task

	mu        sync.Mutex
	requests  int64
	errors    int64
	lastFlush time.Time
}

// NewAPICollector 创建新的API收集器
func NewAPICollector(config APICollectorConfig) *APICollector {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.FlushInterval <= 0 {
		config.FlushInterval = 10 * time.Second
	}

	c := &APICollector{
		config:    config,
		logger:    logger,
		recorder:  config.Recorder,
		lastFlush: time.Now(),
	}
	c.task = scheduler.NewIntervalTask(
		fmt.Sprintf("api-collector-%s-%s", config.ServiceName, config.InstanceID),
		time.Now().Add(config.FlushInterval),
		config.FlushInterval,
		config.FlushInterval,
		c.Flush,
	)
	return c
}

// Start 注册汇总任务
func (c *APICollector) Start() error {
	c.logger.Info("API指标收集器已准备就绪",
		zap.String("service_name", c.config.ServiceName),
		zap.Duration("flush_interval", c.config.FlushInterval))

	if c.config.Scheduler == nil {
		return fmt.Errorf("scheduler not provided")
	}
	return c.config.Scheduler.AddTask(c.task)
}

// Stop 移除汇总任务
func (c *APICollector) Stop() error {
	if c.config.Scheduler != nil {
		c.config.Scheduler.RemoveTask(c.task.GetID())
	}
	c.logger.Info("API指标收集器已停止")
	return nil
}

// APICallMetrics 表示单次API调用的指标数据
type APICallMetrics struct {
	Method       string            `json:"method"`                  // HTTP方法
	Path         string            `json:"path"`                    // API路径，作为 endpoint 标签
	StatusCode   int               `json:"status_code"`             // HTTP状态码
	Duration     float64           `json:"duration_ms"`             // 请求耗时(毫秒)
	ErrorMessage string            `json:"error_message,omitempty"` // 错误信息
	Labels       map[string]string `json:"labels,omitempty"`        // 自定义标签
}

// Failed 状态码>=400或带错误信息时视为失败
func (a *APICallMetrics) Failed() bool {
	return a.StatusCode >= 400 || a.ErrorMessage != ""
}

// Tags 生成指标标签
func (a *APICallMetrics) Tags() map[string]string {
	tags := make(map[string]string, len(a.Labels)+3)
	for k, v := range a.Labels {
		tags[k] = v
	}
	tags["endpoint"] = a.Path
	tags["method"] = a.Method
	tags["status_code"] = strconv.Itoa(a.StatusCode)
	return tags
}

// RecordAPICall 记录API调用指标
func (c *APICollector) RecordAPICall(call *APICallMetrics) models.Metric {
	tags := call.Tags()
	metric := c.recorder.RecordMetric(models.MetricAPIResponseTime, call.Duration, "ms", models.CategoryResponseTime, tags)

	failed := call.Failed()
	if failed {
		if call.ErrorMessage != "" {
			tags["error"] = call.ErrorMessage
		}
		c.recorder.RecordMetric(models.MetricAPIError, 1, "count", models.CategoryErrorRate, tags)
	}

	c.mu.Lock()
	c.requests++
	if failed {
		c.errors++
	}
	c.mu.Unlock()

	return metric
}

// Flush 写入上个汇总周期的吞吐量和错误率，没有请求的周期不写错误率
func (c *APICollector) Flush(ctx context.Context) error {
	now := time.Now()

	c.mu.Lock()
	requests, errors := c.requests, c.errors
	elapsed := now.Sub(c.lastFlush).Seconds()
	c.requests, c.errors = 0, 0
	c.lastFlush = now
	c.mu.Unlock()

	if elapsed <= 0 {
		return nil
	}

	tags := map[string]string{"service": c.config.ServiceName}
	c.recorder.RecordMetric(models.MetricThroughput, float64(requests)/elapsed, "rps", models.CategoryThroughput, tags)
	if requests > 0 {
		c.recorder.RecordMetric(models.MetricErrorRate, 100*float64(errors)/float64(requests), "%", models.CategoryErrorRate, tags)
	}
	return nil
}
