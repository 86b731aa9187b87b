// Package monitoring 提供进程内的应用性能监控引擎
package monitoring

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/xsxdot/aio-apm/pkg/monitoring/alerting"
	"github.com/xsxdot/aio-apm/pkg/monitoring/collector"
	"github.com/xsxdot/aio-apm/pkg/monitoring/exporter"
	"github.com/xsxdot/aio-apm/pkg/monitoring/health"
	"github.com/xsxdot/aio-apm/pkg/monitoring/models"
	"github.com/xsxdot/aio-apm/pkg/monitoring/notifier"
	"github.com/xsxdot/aio-apm/pkg/monitoring/reporting"
	"github.com/xsxdot/aio-apm/pkg/monitoring/storage"
	"github.com/xsxdot/aio-apm/pkg/scheduler"

	"go.uber.org/zap"
)

const (
	DefaultCollectInterval = 10 * time.Second
	DefaultHealthInterval  = 30 * time.Second
	DefaultRetention       = 24 * time.Hour
	DefaultReportWindow    = 24 * time.Hour
)

// ErrRestartNotSupported 引擎停止后不能再次启动
var ErrRestartNotSupported = errors.New("monitor has been stopped, restart is not supported")

// Config 定义监控引擎的配置选项
type Config struct {
	// ServiceName 服务名称
	ServiceName string
	// InstanceID 实例ID
	InstanceID string
	// Env 运行环境，写入数据库指标的 env 标签
	Env string

	// CollectInterval 进程指标采集间隔
	CollectInterval time.Duration
	// HealthInterval 健康检查、数据清理和告警扫描的周期
	HealthInterval time.Duration
	// Retention 指标保留时长
	Retention time.Duration

	// Thresholds 覆盖默认阈值表
	Thresholds map[string]models.Threshold

	// Probes 依赖组件探针
	Probes map[string]health.Probe
	// ProbeTimeouts 覆盖默认探测超时
	ProbeTimeouts map[string]time.Duration

	// Notifiers 告警通知器
	Notifiers []models.NotifierConfig
	// NotifierQueueSize 告警通知队列长度
	NotifierQueueSize int

	// SlowQueryThreshold 慢查询阈值(毫秒)
	SlowQueryThreshold float64

	// ReportCron 定时生成最近24小时报告的cron表达式，为空不生成
	ReportCron string

	// SchedulerWorkers 调度器工作者数量
	SchedulerWorkers int

	// Logger 日志记录器
	Logger *zap.Logger
	// Now 时钟函数，测试时可替换
	Now func() time.Time
}

type lifecycle int32

const (
	stateCreated lifecycle = iota
	stateRunning
	stateStopped
)

// Monitor 监控引擎实例，在进程启动时创建并传递给各调用方
type Monitor struct {
	config Config
	logger *zap.Logger
	now    func() time.Time

	// 内部组件
	storage    *storage.Storage
	alertMgr   *alerting.Manager
	checker    *health.Checker
	reports    *reporting.Generator
	dispatcher *notifier.Dispatcher
	notifyMgr  *notifier.Manager
	exporter   *exporter.PrometheusExporter
	scheduler  *scheduler.Scheduler

	// 各类收集器
	processCollector  *collector.ProcessCollector
	apiCollector      *collector.APICollector
	databaseCollector *collector.DatabaseCollector

	healthTask scheduler.Task
	reportTask scheduler.Task

	// recordMu 保证指标事件的分发顺序与写入存储的顺序一致
	recordMu sync.Mutex

	mu    sync.Mutex
	state lifecycle
}

// New 创建监控引擎，各组件在此装配完成，StartMonitoring 之后才开始周期任务
func New(config Config) (*Monitor, error) {
	if config.CollectInterval <= 0 {
		config.CollectInterval = DefaultCollectInterval
	}
	if config.HealthInterval <= 0 {
		config.HealthInterval = DefaultHealthInterval
	}
	if config.Retention <= 0 {
		config.Retention = DefaultRetention
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	m := &Monitor{
		config: config,
		logger: logger,
		now:    config.Now,
	}

	m.dispatcher = notifier.NewDispatcher(logger.Named("dispatcher"))

	m.storage = storage.New(storage.Config{
		Logger: logger.Named("storage"),
		Now:    config.Now,
	})

	notifyMgr, err := notifier.New(notifier.Config{
		Notifiers: config.Notifiers,
		QueueSize: config.NotifierQueueSize,
		Logger:    logger.Named("notifier"),
	})
	if err != nil {
		return nil, fmt.Errorf("创建通知管理器失败: %w", err)
	}
	m.notifyMgr = notifyMgr

	m.alertMgr = alerting.New(alerting.Config{
		Thresholds: config.Thresholds,
		Logger:     logger.Named("alerting"),
		Now:        config.Now,
	}, m.dispatcher)

	m.checker = health.NewChecker(health.Config{
		Probes:   config.Probes,
		Timeouts: config.ProbeTimeouts,
		Recorder: m,
		Logger:   logger.Named("health"),
		Now:      config.Now,
	})

	m.reports = reporting.NewGenerator(reporting.Config{
		Metrics: m.storage,
		Alerts:  m.alertMgr,
		Uptime:  m.checker,
		Logger:  logger.Named("reporting"),
	})

	m.exporter = exporter.NewPrometheusExporter(exporter.Config{})
	m.dispatcher.Subscribe(m.exporter)
	m.dispatcher.Subscribe(m.notifyMgr)

	m.scheduler = scheduler.NewScheduler(&scheduler.SchedulerConfig{
		MaxWorkers: config.SchedulerWorkers,
		Logger:     logger.Named("scheduler"),
	})

	m.processCollector = collector.NewProcessCollector(collector.ProcessCollectorConfig{
		ServiceName:     config.ServiceName,
		InstanceID:      config.InstanceID,
		CollectInterval: config.CollectInterval,
		Logger:          logger.Named("process-collector"),
		Recorder:        m,
		Scheduler:       m.scheduler,
	})
	m.apiCollector = collector.NewAPICollector(collector.APICollectorConfig{
		ServiceName:   config.ServiceName,
		InstanceID:    config.InstanceID,
		FlushInterval: config.CollectInterval,
		Logger:        logger.Named("api-collector"),
		Recorder:      m,
		Scheduler:     m.scheduler,
	})
	m.databaseCollector = collector.NewDatabaseCollector(collector.DatabaseCollectorConfig{
		Env:                config.Env,
		Logger:             logger.Named("database-collector"),
		Recorder:           m,
		SlowQueryThreshold: config.SlowQueryThreshold,
	})

	m.healthTask = scheduler.NewIntervalTask(
		"apm-health-cycle",
		time.Now(),
		config.HealthInterval,
		time.Minute,
		m.runHealthCycle,
	)

	if config.ReportCron != "" {
		task, err := scheduler.NewCronTask("apm-report", config.ReportCron, time.Minute, m.runReport)
		if err != nil {
			return nil, fmt.Errorf("解析报告cron表达式失败: %w", err)
		}
		m.reportTask = task
	}

	return m, nil
}

// StartMonitoring 启动周期任务，重复调用无副作用
func (m *Monitor) StartMonitoring() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch m.state {
	case stateRunning:
		return nil
	case stateStopped:
		return ErrRestartNotSupported
	}

	if err := m.scheduler.Start(); err != nil {
		return fmt.Errorf("启动调度器失败: %w", err)
	}
	m.notifyMgr.Start()

	if err := m.processCollector.Start(); err != nil {
		m.shutdownLocked()
		return fmt.Errorf("启动进程指标采集器失败: %w", err)
	}
	if err := m.apiCollector.Start(); err != nil {
		m.shutdownLocked()
		return fmt.Errorf("启动API指标采集器失败: %w", err)
	}
	if err := m.scheduler.AddTask(m.healthTask); err != nil {
		m.shutdownLocked()
		return fmt.Errorf("添加健康检查任务失败: %w", err)
	}
	if m.reportTask != nil {
		if err := m.scheduler.AddTask(m.reportTask); err != nil {
			m.shutdownLocked()
			return fmt.Errorf("添加报告任务失败: %w", err)
		}
	}

	m.state = stateRunning
	m.logger.Info("监控引擎已启动",
		zap.String("service_name", m.config.ServiceName),
		zap.Duration("collect_interval", m.config.CollectInterval),
		zap.Duration("health_interval", m.config.HealthInterval))
	return nil
}

// StopMonitoring 停止周期任务，正在执行的周期会执行完毕。重复调用无副作用
func (m *Monitor) StopMonitoring() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.state == stateStopped {
		return nil
	}
	m.shutdownLocked()
	m.logger.Info("监控引擎已停止")
	return nil
}

// shutdownLocked 按照与启动相反的顺序停止组件
func (m *Monitor) shutdownLocked() {
	m.state = stateStopped

	if m.reportTask != nil {
		m.scheduler.RemoveTask(m.reportTask.GetID())
	}
	m.scheduler.RemoveTask(m.healthTask.GetID())
	_ = m.apiCollector.Stop()
	_ = m.processCollector.Stop()

	if err := m.scheduler.Stop(); err != nil {
		m.logger.Warn("停止调度器失败", zap.Error(err))
	}
	m.notifyMgr.Stop()
	m.alertMgr.Stop()
	if err := m.checker.Close(); err != nil {
		m.logger.Warn("关闭健康探针失败", zap.Error(err))
	}
}

// IsRunning 引擎是否在运行
func (m *Monitor) IsRunning() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state == stateRunning
}

// runHealthCycle 慢周期：健康检查、数据清理、告警自动解决，顺序固定
func (m *Monitor) runHealthCycle(ctx context.Context) error {
	snapshot := m.GetSystemHealth(ctx)

	evicted := m.storage.EvictOlderThan(m.now().Add(-m.config.Retention))
	resolved := m.alertMgr.AutoResolve(snapshot)
	expired := m.alertMgr.ResolveExpiredInfo()

	m.logger.Debug("健康检查周期完成",
		zap.String("status", string(snapshot.Status)),
		zap.Int("score", snapshot.Score),
		zap.Int("evicted", evicted),
		zap.Int("auto_resolved", resolved+expired))
	return nil
}

// runReport 生成最近一个报告窗口的报告并记录摘要
func (m *Monitor) runReport(ctx context.Context) error {
	to := m.now()
	report, err := m.GeneratePerformanceReport(to.Add(-DefaultReportWindow), to)
	if err != nil {
		return err
	}
	m.logger.Info("定时性能报告",
		zap.Float64("average_response_time", report.Summary.AverageResponseTime),
		zap.Int("total_requests", report.Summary.TotalRequests),
		zap.Float64("error_rate", report.Summary.ErrorRate),
		zap.Float64("uptime", report.Summary.Uptime),
		zap.Int("alerts", len(report.Alerts)))
	return nil
}

// RecordMetric 写入指标，同步通知订阅者并执行阈值检查
func (m *Monitor) RecordMetric(name string, value float64, unit string, category models.MetricCategory, tags map[string]string) models.Metric {
	m.recordMu.Lock()
	defer m.recordMu.Unlock()

	metric := m.storage.Record(name, value, unit, category, tags)
	m.dispatcher.OnMetricRecorded(metric)
	m.alertMgr.Evaluate(metric)
	return metric
}

// RecordAPIResponseTime 记录一次接口调用，状态码>=400时额外记录 api_error
func (m *Monitor) RecordAPIResponseTime(endpoint, method string, statusCode int, ms float64) models.Metric {
	return m.apiCollector.RecordAPICall(&collector.APICallMetrics{
		Method:     method,
		Path:       endpoint,
		StatusCode: statusCode,
		Duration:   ms,
	})
}

// RecordAPICall 记录带错误信息和自定义标签的接口调用
func (m *Monitor) RecordAPICall(call *collector.APICallMetrics) models.Metric {
	return m.apiCollector.RecordAPICall(call)
}

// RecordDatabaseQuery 记录一次数据库查询
func (m *Monitor) RecordDatabaseQuery(query string, ms float64, err error) models.Metric {
	return m.databaseCollector.RecordDatabaseOperation(query, ms, err)
}

// RecordCacheOperation 记录一次缓存操作
func (m *Monitor) RecordCacheOperation(operation string, hit bool, ms float64) models.Metric {
	return m.databaseCollector.RecordCacheOperation(operation, hit, ms)
}

// RecordBusinessMetric 记录业务指标，业务上下文作为标签
func (m *Monitor) RecordBusinessMetric(name string, value float64, unit string, businessContext map[string]string) models.Metric {
	return m.RecordMetric(name, value, unit, models.CategoryBusiness, businessContext)
}

// CreateAlert 手动创建告警，返回告警ID
func (m *Monitor) CreateAlert(level models.AlertLevel, title, description, category string, metadata map[string]interface{}) string {
	return m.alertMgr.CreateAlert(level, title, description, category, metadata).ID
}

// ResolveAlert 解决告警，告警不存在或已解决时返回false
func (m *Monitor) ResolveAlert(id string) bool {
	return m.alertMgr.Resolve(id)
}

// GetSystemHealth 立即执行一次健康检查
func (m *Monitor) GetSystemHealth(ctx context.Context) models.SystemHealth {
	snapshot := m.checker.Check(ctx)
	m.dispatcher.OnHealthChecked(snapshot)
	return snapshot
}

// LastSystemHealth 最近一次健康检查的快照，不触发检查
func (m *Monitor) LastSystemHealth() models.SystemHealth {
	return m.checker.Current()
}

// GeneratePerformanceReport 生成 [from, to] 的性能报告
func (m *Monitor) GeneratePerformanceReport(from, to time.Time) (*models.PerformanceReport, error) {
	return m.reports.Generate(from, to)
}

// GetAlerts 查询告警，resolved 为nil时返回全部
func (m *Monitor) GetAlerts(resolved *bool) []models.Alert {
	return m.alertMgr.GetAlerts(resolved)
}

// GetAlert 按ID查询告警
func (m *Monitor) GetAlert(id string) (models.Alert, bool) {
	return m.alertMgr.Get(id)
}

// GetMetrics 查询指标，name 为空时返回全部（按时间倒序）
func (m *Monitor) GetMetrics(name string) []models.Metric {
	return m.storage.Query(name)
}

// MetricNames 当前存储中的指标名称
func (m *Monitor) MetricNames() []string {
	return m.storage.Names()
}

// Thresholds 当前生效的阈值表
func (m *Monitor) Thresholds() map[string]models.Threshold {
	return m.alertMgr.Thresholds()
}

// SetThreshold 设置单个指标的阈值
func (m *Monitor) SetThreshold(name string, threshold models.Threshold) error {
	return m.alertMgr.SetThreshold(name, threshold)
}

// Subscribe 订阅引擎事件，返回取消订阅函数
func (m *Monitor) Subscribe(observer models.Observer) func() {
	return m.dispatcher.Subscribe(observer)
}

// GetExporter 返回Prometheus导出器
func (m *Monitor) GetExporter() *exporter.PrometheusExporter {
	return m.exporter
}

// GetNotifierManager 返回通知管理器实例
func (m *Monitor) GetNotifierManager() *notifier.Manager {
	return m.notifyMgr
}

// GetScheduler 返回调度器实例
func (m *Monitor) GetScheduler() *scheduler.Scheduler {
	return m.scheduler
}
