// Package collector 实现进程指标采集和业务调用指标的转换
package collector

import (
	"context"
	"fmt"
	"os"
	"runtime"
	"sync"
	"time"

	"github.com/xsxdot/aio-apm/pkg/monitoring/models"
	"github.com/xsxdot/aio-apm/pkg/scheduler"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"
)

// Recorder 指标写入方，由监控引擎实现
type Recorder interface {
	RecordMetric(name string, value float64, unit string, category models.MetricCategory, tags map[string]string) models.Metric
}

// ProcessCollectorConfig 进程收集器配置
type ProcessCollectorConfig struct {
	ServiceName     string               // 服务名称
	InstanceID      string               // 实例ID
	CollectInterval time.Duration        // 采集间隔
	Logger          *zap.Logger          // 日志记录器
	Recorder        Recorder             // 指标写入方
	Scheduler       *scheduler.Scheduler // 调度器
}

// ProcessCollector 进程指标收集器，周期性采集堆内存、运行时占用、GC次数、CPU、内存占比、运行时长和goroutine数量
type ProcessCollector struct {
	config   ProcessCollectorConfig
	logger   *zap.Logger
	recorder Recorder
	task     scheduler.Task

	startTime time.Time

	// 缓存的进程信息
	mu          sync.Mutex
	processInfo *process.Process
}

// NewProcessCollector 创建新的进程收集器
func NewProcessCollector(config ProcessCollectorConfig) *ProcessCollector {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.CollectInterval <= 0 {
		config.CollectInterval = 10 * time.Second
	}

	collector := &ProcessCollector{
		config:    config,
		logger:    logger,
		recorder:  config.Recorder,
		startTime: time.Now(),
	}

	taskName := fmt.Sprintf("process-collector-%s-%s", config.ServiceName, config.InstanceID)
	collector.task = scheduler.NewIntervalTask(
		taskName,
		time.Now(),
		config.CollectInterval,
		config.CollectInterval,
		collector.Collect,
	)

	return collector
}

// Start 启动进程指标采集
func (c *ProcessCollector) Start() error {
	c.logger.Info("启动进程指标采集器",
		zap.String("service_name", c.config.ServiceName),
		zap.String("instance_id", c.config.InstanceID),
		zap.Duration("interval", c.config.CollectInterval))

	if c.config.Scheduler == nil {
		return fmt.Errorf("scheduler not provided")
	}
	return c.config.Scheduler.AddTask(c.task)
}

// Stop 停止进程指标采集
func (c *ProcessCollector) Stop() error {
	if c.config.Scheduler != nil {
		c.config.Scheduler.RemoveTask(c.task.GetID())
	}
	c.logger.Info("进程指标采集器已停止")
	return nil
}

// Collect 采集一次并写入引擎
func (c *ProcessCollector) Collect(ctx context.Context) error {
	if c.recorder == nil {
		return fmt.Errorf("recorder not provided")
	}

	metrics := c.collectProcessMetrics(ctx)
	tags := c.tags()

	c.recorder.RecordMetric(models.MetricHeapUsage, metrics.HeapMB, "MB", models.CategoryResourceUsage, tags)
	c.recorder.RecordMetric(models.MetricSysMemory, metrics.SysMB, "MB", models.CategoryResourceUsage, tags)
	c.recorder.RecordMetric(models.MetricGCCount, float64(metrics.GCCount), "count", models.CategoryResourceUsage, tags)
	c.recorder.RecordMetric(models.MetricGoroutines, float64(metrics.Goroutines), "count", models.CategoryResourceUsage, tags)
	c.recorder.RecordMetric(models.MetricUptime, metrics.UptimeSeconds, "s", models.CategoryResourceUsage, tags)
	if metrics.CPUValid {
		c.recorder.RecordMetric(models.MetricCPUUsage, metrics.CPUPercent, "%", models.CategoryResourceUsage, tags)
	}
	if metrics.MemoryValid {
		c.recorder.RecordMetric(models.MetricMemoryUsage, metrics.MemoryPercent, "%", models.CategoryResourceUsage, tags)
	}

	c.logger.Debug("进程指标采集成功",
		zap.Float64("heap_mb", metrics.HeapMB),
		zap.Float64("cpu_percent", metrics.CPUPercent),
		zap.Int("goroutines", metrics.Goroutines))
	return nil
}

func (c *ProcessCollector) tags() map[string]string {
	tags := make(map[string]string, 2)
	if c.config.ServiceName != "" {
		tags["service"] = c.config.ServiceName
	}
	if c.config.InstanceID != "" {
		tags["instance"] = c.config.InstanceID
	}
	return tags
}

// ProcessMetrics 一次进程采集的结果
type ProcessMetrics struct {
	HeapMB        float64 `json:"heap_mb"`
	SysMB         float64 `json:"sys_mb"`
	GCCount       uint32  `json:"gc_count"`
	Goroutines    int     `json:"goroutines"`
	UptimeSeconds float64 `json:"uptime_seconds"`
	CPUPercent    float64 `json:"cpu_percent"`
	CPUValid      bool    `json:"-"`
	MemoryPercent float64 `json:"memory_percent"`
	MemoryValid   bool    `json:"-"`
}

// collectProcessMetrics 采集运行时和进程指标，进程信息不可用时只返回运行时部分
func (c *ProcessCollector) collectProcessMetrics(ctx context.Context) *ProcessMetrics {
	var mem runtime.MemStats
	runtime.ReadMemStats(&mem)

	metrics := &ProcessMetrics{
		HeapMB:        float64(mem.HeapAlloc) / 1024 / 1024,
		SysMB:         float64(mem.Sys) / 1024 / 1024,
		GCCount:       mem.NumGC,
		Goroutines:    runtime.NumGoroutine(),
		UptimeSeconds: time.Since(c.startTime).Seconds(),
	}

	proc, err := c.ensureProcessInfo()
	if err != nil {
		c.logger.Warn("获取进程信息失败", zap.Error(err))
		return metrics
	}

	// 自上次调用以来的CPU占比，按核数归一化到0-100
	if cpuPercent, err := proc.PercentWithContext(ctx, 0); err == nil {
		metrics.CPUPercent = cpuPercent / float64(runtime.NumCPU())
		metrics.CPUValid = true
	} else {
		c.logger.Warn("采集CPU使用率失败", zap.Error(err))
	}

	if memPercent, err := proc.MemoryPercentWithContext(ctx); err == nil {
		metrics.MemoryPercent = float64(memPercent)
		metrics.MemoryValid = true
	} else {
		c.logger.Warn("采集内存占比失败", zap.Error(err))
	}

	return metrics
}

// ensureProcessInfo 确保进程信息可用
func (c *ProcessCollector) ensureProcessInfo() (*process.Process, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.processInfo == nil {
		proc, err := process.NewProcess(int32(os.Getpid()))
		if err != nil {
			return nil, err
		}
		c.processInfo = proc
	}
	return c.processInfo, nil
}
