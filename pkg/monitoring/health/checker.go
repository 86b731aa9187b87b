// Package health 探测依赖组件并计算系统健康评分
package health

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sort"
	"sync"
	"time"

	"github.com/xsxdot/aio-apm/pkg/common"
	"github.com/xsxdot/aio-apm/pkg/monitoring/models"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

const (
	// DefaultUptimeWindow 组件可用率统计的检查次数窗口
	DefaultUptimeWindow = 120
	// DefaultHistorySize 健康检查历史保留条数
	DefaultHistorySize = 1000
)

// Band 延迟分级，小于 Healthy 为健康，小于 Warning 为警告，否则为严重
type Band struct {
	Healthy float64 `yaml:"healthy" json:"healthy"`
	Warning float64 `yaml:"warning" json:"warning"`
}

// Classify 按分级返回状态
func (b Band) Classify(value float64) models.HealthStatus {
	switch {
	case value < b.Healthy:
		return models.HealthStatusHealthy
	case value < b.Warning:
		return models.HealthStatusWarning
	default:
		return models.HealthStatusCritical
	}
}

// DefaultBands 各组件默认分级。storage 按 disk_usage 百分比分级，其余按响应时间(毫秒)
func DefaultBands() map[string]Band {
	return map[string]Band{
		models.ComponentDatabase:     {Healthy: 100, Warning: 500},
		models.ComponentCache:        {Healthy: 50, Warning: 200},
		models.ComponentRealtime:     {Healthy: 100, Warning: 500},
		models.ComponentExternalAPIs: {Healthy: 200, Warning: 1000},
		models.ComponentStorage:      {Healthy: 80, Warning: 90},
	}
}

// DefaultTimeouts 各组件探测超时
func DefaultTimeouts() map[string]time.Duration {
	return map[string]time.Duration{
		models.ComponentDatabase:     2 * time.Second,
		models.ComponentCache:        time.Second,
		models.ComponentRealtime:     2 * time.Second,
		models.ComponentExternalAPIs: 5 * time.Second,
		models.ComponentStorage:      time.Second,
	}
}

// ErrProbeNotConfigured 组件未配置探针
var ErrProbeNotConfigured = errors.New("probe not configured")

// Recorder 指标写入方
type Recorder interface {
	RecordMetric(name string, value float64, unit string, category models.MetricCategory, tags map[string]string) models.Metric
}

// Config 健康检查器配置
type Config struct {
	Probes       map[string]Probe         // 组件名 -> 探针，未配置的组件状态为 unknown
	Timeouts     map[string]time.Duration // 覆盖默认超时
	Bands        map[string]Band          // 覆盖默认分级
	Recorder     Recorder                 // 写入 health_check_time 与组件指标
	UptimeWindow int
	HistorySize  int

	// MaxConcurrentProbes 同时执行的探针数量上限，默认所有组件同时探测
	MaxConcurrentProbes int
	Logger              *zap.Logger
	Now                 func() time.Time
}

// Checker 健康检查器。探针并发执行且不持锁，只有快照替换和历史追加在锁内
type Checker struct {
	probes   map[string]Probe
	timeouts map[string]time.Duration
	bands    map[string]Band
	recorder Recorder
	logger   *zap.Logger
	now      func() time.Time

	uptimeWindow  int
	historySize   int
	maxConcurrent int

	mu       sync.RWMutex
	current  models.SystemHealth
	history  []models.HealthRecord
	outcomes map[string][]bool // 每个组件最近若干次检查是否非严重
}

// NewChecker 创建健康检查器
func NewChecker(config Config) *Checker {
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	now := config.Now
	if now == nil {
		now = time.Now
	}
	if config.UptimeWindow <= 0 {
		config.UptimeWindow = DefaultUptimeWindow
	}
	if config.HistorySize <= 0 {
		config.HistorySize = DefaultHistorySize
	}
	if config.MaxConcurrentProbes <= 0 {
		config.MaxConcurrentProbes = len(models.Components)
	}

	timeouts := DefaultTimeouts()
	for name, timeout := range config.Timeouts {
		if timeout > 0 {
			timeouts[name] = timeout
		}
	}
	bands := DefaultBands()
	for name, band := range config.Bands {
		bands[name] = band
	}
	probes := make(map[string]Probe, len(config.Probes))
	for name, probe := range config.Probes {
		if probe != nil {
			probes[name] = probe
		}
	}

	return &Checker{
		probes:       probes,
		timeouts:     timeouts,
		bands:        bands,
		recorder:     config.Recorder,
		logger:       logger,
		now:          now,
		uptimeWindow:  config.UptimeWindow,
		historySize:   config.HistorySize,
		maxConcurrent: config.MaxConcurrentProbes,
		current: models.SystemHealth{
			Status:     models.HealthStatusUnknown,
			Components: map[string]models.ComponentHealth{},
		},
		outcomes: make(map[string][]bool),
	}
}

// Check 执行一次完整的健康检查并替换快照。探针错误不会向上传播；
// 检查过程本身异常时快照被强制为 critical/0
func (c *Checker) Check(ctx context.Context) (health models.SystemHealth) {
	start := c.now()

	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("健康检查周期异常", zap.Any("panic", r))
			health = models.SystemHealth{
				Status:      models.HealthStatusCritical,
				Score:       0,
				Components:  map[string]models.ComponentHealth{},
				LastChecked: start,
			}
			c.store(health)
		}
	}()

	components := c.probeAll(ctx)

	c.mu.Lock()
	for name, component := range components {
		component.Uptime = c.trackUptimeLocked(name, component)
		components[name] = component
	}
	c.mu.Unlock()

	health = Aggregate(components)
	health.LastChecked = start

	c.record(components, start)
	c.store(health)

	c.logger.Debug("健康检查完成",
		zap.String("status", string(health.Status)),
		zap.Int("score", health.Score))
	return health
}

// probeAll 并发执行所有探针。单个探针失败不会取消其他探针，
// 失败的组件已经体现在结果中，Wait 返回的错误只用于日志
func (c *Checker) probeAll(ctx context.Context) map[string]models.ComponentHealth {
	results := make([]models.ComponentHealth, len(models.Components))

	var g errgroup.Group
	g.SetLimit(c.maxConcurrent)
	for i, name := range models.Components {
		i, name := i, name
		g.Go(func() error {
			component, err := c.probeOne(ctx, name)
			results[i] = component
			if err != nil {
				return fmt.Errorf("%s: %w", name, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		failed := 0
		for _, component := range results {
			if component.Status == models.HealthStatusCritical {
				failed++
			}
		}
		c.logger.Warn("部分组件探测失败", zap.Int("failed", failed), zap.Error(err))
	}

	components := make(map[string]models.ComponentHealth, len(results))
	for i, name := range models.Components {
		components[name] = results[i]
	}
	return components
}

type probeOutcome struct {
	result ProbeResult
	err    error
}

// probeOne 在独立超时内执行单个探针，错误、panic和超时均视为严重并返回探测错误
func (c *Checker) probeOne(ctx context.Context, name string) (models.ComponentHealth, error) {
	probe, ok := c.probes[name]
	if !ok {
		return models.ComponentHealth{Status: models.HealthStatusUnknown, LastError: ErrProbeNotConfigured.Error()}, nil
	}

	timeout := c.timeouts[name]
	if timeout <= 0 {
		timeout = time.Second
	}
	probeCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	done := make(chan probeOutcome, 1)
	start := time.Now()
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- probeOutcome{err: common.NewInternalError(fmt.Sprintf("probe panic: %v", r), nil)}
			}
		}()
		result, err := probe.Probe(probeCtx)
		done <- probeOutcome{result: result, err: err}
	}()

	var outcome probeOutcome
	select {
	case outcome = <-done:
	case <-probeCtx.Done():
		outcome = probeOutcome{err: common.NewTimeoutError(fmt.Sprintf("probe timed out after %s", timeout), probeCtx.Err())}
	}
	elapsed := float64(time.Since(start).Microseconds()) / 1000

	if outcome.err != nil {
		return models.ComponentHealth{
			Status:       models.HealthStatusCritical,
			ResponseTime: elapsed,
			Uptime:       0,
			LastError:    outcome.err.Error(),
			Metrics:      outcome.result.Metrics,
		}, outcome.err
	}

	responseTime := outcome.result.ResponseTimeMs
	if responseTime <= 0 {
		responseTime = elapsed
	}
	component := models.ComponentHealth{
		ResponseTime: responseTime,
		Metrics:      outcome.result.Metrics,
	}
	if outcome.result.UptimePct != nil {
		component.Uptime = *outcome.result.UptimePct
	} else {
		component.Uptime = -1
	}
	component.Status = c.classify(name, component)
	return component, nil
}

func (c *Checker) classify(name string, component models.ComponentHealth) models.HealthStatus {
	band, ok := c.bands[name]
	if !ok {
		return models.HealthStatusUnknown
	}
	if name == models.ComponentStorage {
		usage, ok := component.Metrics[models.MetricDiskUsage]
		if !ok {
			return models.HealthStatusUnknown
		}
		return band.Classify(usage)
	}
	return band.Classify(component.ResponseTime)
}

// trackUptimeLocked 追加本次结果并返回组件可用率。探针自带可用率时以探针为准，
// 探测失败固定为0
func (c *Checker) trackUptimeLocked(name string, component models.ComponentHealth) float64 {
	if component.Status == models.HealthStatusUnknown {
		return 0
	}

	window := append(c.outcomes[name], component.Status != models.HealthStatusCritical)
	if len(window) > c.uptimeWindow {
		window = window[len(window)-c.uptimeWindow:]
	}
	c.outcomes[name] = window

	if component.Status == models.HealthStatusCritical {
		return 0
	}
	if component.Uptime >= 0 {
		return component.Uptime
	}

	up := 0
	for _, ok := range window {
		if ok {
			up++
		}
	}
	return 100 * float64(up) / float64(len(window))
}

// record 写入 health_check_time 及各组件上报的指标
func (c *Checker) record(components map[string]models.ComponentHealth, start time.Time) {
	if c.recorder == nil {
		return
	}
	for _, name := range models.Components {
		for metric, value := range components[name].Metrics {
			c.recorder.RecordMetric(metric, value, unitOf(metric), models.CategoryResourceUsage, map[string]string{"component": name})
		}
	}
	elapsed := float64(c.now().Sub(start).Microseconds()) / 1000
	c.recorder.RecordMetric(models.MetricHealthCheckTime, elapsed, "ms", models.CategoryResponseTime, nil)
}

func unitOf(metric string) string {
	switch metric {
	case models.MetricDiskUsage, models.MetricDatabaseConnections:
		return "%"
	}
	return ""
}

// store 替换快照并按时间顺序插入历史。并发检查时先开始的检查可能后完成，
// 这时只写历史，不覆盖更新的快照
func (c *Checker) store(health models.SystemHealth) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.current.LastChecked.IsZero() || !health.LastChecked.Before(c.current.LastChecked) {
		c.current = health
	} else {
		c.logger.Debug("丢弃过期的健康检查快照",
			zap.Time("checked", health.LastChecked),
			zap.Time("current", c.current.LastChecked))
	}

	record := models.HealthRecord{
		Timestamp: health.LastChecked,
		Status:    health.Status,
		Score:     health.Score,
	}
	i := sort.Search(len(c.history), func(i int) bool {
		return c.history[i].Timestamp.After(record.Timestamp)
	})
	c.history = append(c.history, models.HealthRecord{})
	copy(c.history[i+1:], c.history[i:])
	c.history[i] = record
	if len(c.history) > c.historySize {
		c.history = c.history[len(c.history)-c.historySize:]
	}
}

// Current 最近一次检查的快照
func (c *Checker) Current() models.SystemHealth {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.current
}

// History 返回 [from, to] 内的检查记录，按时间升序
func (c *Checker) History(from, to time.Time) []models.HealthRecord {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var records []models.HealthRecord
	for _, record := range c.history {
		if record.Timestamp.Before(from) || record.Timestamp.After(to) {
			continue
		}
		records = append(records, record)
	}
	return records
}

// UptimeBetween 窗口内非严重检查周期的占比，窗口内没有记录时第二个返回值为false
func (c *Checker) UptimeBetween(from, to time.Time) (float64, bool) {
	records := c.History(from, to)
	if len(records) == 0 {
		return 0, false
	}
	up := 0
	for _, record := range records {
		if record.Status != models.HealthStatusCritical {
			up++
		}
	}
	return 100 * float64(up) / float64(len(records)), true
}

// Aggregate 由组件状态计算评分和总体状态。
// 评分 = round((100*健康数 + 50*警告数) / 组件总数)，任一严重即严重，否则任一警告即警告
func Aggregate(components map[string]models.ComponentHealth) models.SystemHealth {
	health := models.SystemHealth{
		Status:     models.HealthStatusHealthy,
		Components: components,
	}
	total := len(models.Components)
	if len(components) > total {
		total = len(components)
	}
	if total == 0 {
		return health
	}

	var healthy, warning, critical int
	for _, component := range components {
		switch component.Status {
		case models.HealthStatusHealthy:
			healthy++
		case models.HealthStatusWarning:
			warning++
		case models.HealthStatusCritical:
			critical++
		}
	}

	health.Score = int(math.Round(float64(100*healthy+50*warning) / float64(total)))
	switch {
	case critical > 0:
		health.Status = models.HealthStatusCritical
	case warning > 0:
		health.Status = models.HealthStatusWarning
	}
	return health
}

// Close 释放持有连接的探针
func (c *Checker) Close() error {
	var errs []error
	for name, probe := range c.probes {
		closer, ok := probe.(Closer)
		if !ok {
			continue
		}
		if err := closer.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s probe: %w", name, err))
		}
	}
	return errors.Join(errs...)
}
