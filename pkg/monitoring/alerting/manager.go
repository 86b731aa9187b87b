// Package alerting 提供阈值告警评估和告警生命周期管理
package alerting

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/xsxdot/aio-apm/pkg/common"
	"github.com/xsxdot/aio-apm/pkg/monitoring/models"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	// DefaultInfoTTL info级别告警自动解决的时间
	DefaultInfoTTL = 5 * time.Minute
	// DefaultStaleAfter 自动解决扫描只处理超过该时长的告警
	DefaultStaleAfter = time.Hour
	// DefaultAutoResolveMinScore 自动解决要求的最低健康分（不含）
	DefaultAutoResolveMinScore = 80
)

// DefaultThresholds 默认阈值表，未列出的指标不做阈值评估
func DefaultThresholds() map[string]models.Threshold {
	return map[string]models.Threshold{
		models.MetricResponseTime:        {Warning: 1000, Critical: 3000},
		models.MetricErrorRate:           {Warning: 5, Critical: 10},
		models.MetricCPUUsage:            {Warning: 70, Critical: 90},
		models.MetricMemoryUsage:         {Warning: 80, Critical: 95},
		models.MetricDiskUsage:           {Warning: 85, Critical: 95},
		models.MetricDatabaseConnections: {Warning: 80, Critical: 95},
	}
}

// CheckThreshold 校验阈值配置，只允许调整默认阈值表中的指标
func CheckThreshold(name string, th models.Threshold) error {
	if name == "" {
		return common.NewValidationError("指标名称不能为空", nil)
	}
	if _, ok := DefaultThresholds()[name]; !ok {
		return common.NewValidationError(fmt.Sprintf("指标 %s 不在阈值表中", name), nil)
	}
	if th.Warning > th.Critical {
		return common.NewValidationError(
			fmt.Sprintf("warning阈值(%v)不能大于critical阈值(%v)", th.Warning, th.Critical), nil)
	}
	return nil
}

// NotifierManager 告警事件的接收方，回调中不能再调用 Manager 的写方法
type NotifierManager interface {
	NotifyAlert(alert models.Alert, event models.AlertEventType)
}

// Config 告警管理器配置
type Config struct {
	// Thresholds 覆盖默认阈值表，不在表中的指标会被忽略
	Thresholds map[string]models.Threshold
	// InfoTTL info级别告警自动解决时间
	InfoTTL time.Duration
	// StaleAfter 自动解决扫描的告警最小存活时间
	StaleAfter time.Duration
	// AutoResolveMinScore 自动解决要求健康分严格大于该值
	AutoResolveMinScore int
	// Logger 日志记录器
	Logger *zap.Logger
	// Now 时钟函数，测试时可替换
	Now func() time.Time
}

// Manager 告警管理器
type Manager struct {
	config   Config
	logger   *zap.Logger
	now      func() time.Time
	notifier NotifierManager

	// eventMu 串行化告警的状态变更和事件通知，保证订阅方看到的顺序与状态变更顺序一致
	eventMu sync.Mutex

	rulesMu    sync.RWMutex
	thresholds map[string]models.Threshold

	alertsMu sync.RWMutex
	alerts   map[string]*models.Alert
	order    []string

	timersMu sync.Mutex
	timers   map[string]*time.Timer
	stopped  bool
}

// New 创建一个新的告警管理器，notifier 可以为 nil
func New(config Config, notifier NotifierManager) *Manager {
	if config.InfoTTL <= 0 {
		config.InfoTTL = DefaultInfoTTL
	}
	if config.StaleAfter <= 0 {
		config.StaleAfter = DefaultStaleAfter
	}
	if config.AutoResolveMinScore <= 0 {
		config.AutoResolveMinScore = DefaultAutoResolveMinScore
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}

	thresholds := DefaultThresholds()
	for name, th := range config.Thresholds {
		if err := CheckThreshold(name, th); err != nil {
			config.Logger.Warn("忽略无效的阈值配置", zap.String("metric", name), zap.Error(err))
			continue
		}
		thresholds[name] = th
	}

	return &Manager{
		config:     config,
		logger:     config.Logger,
		now:        config.Now,
		notifier:   notifier,
		thresholds: thresholds,
		alerts:     make(map[string]*models.Alert),
		timers:     make(map[string]*time.Timer),
	}
}

// Stop 停止所有 info 告警的自动解决定时器
func (m *Manager) Stop() {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()

	m.stopped = true
	for id, timer := range m.timers {
		timer.Stop()
		delete(m.timers, id)
	}
	m.logger.Info("告警管理器已停止")
}

// Threshold 获取指标的阈值
func (m *Manager) Threshold(name string) (models.Threshold, bool) {
	m.rulesMu.RLock()
	defer m.rulesMu.RUnlock()
	th, ok := m.thresholds[name]
	return th, ok
}

// Thresholds 返回当前阈值表的副本
func (m *Manager) Thresholds() map[string]models.Threshold {
	m.rulesMu.RLock()
	defer m.rulesMu.RUnlock()

	out := make(map[string]models.Threshold, len(m.thresholds))
	for k, v := range m.thresholds {
		out[k] = v
	}
	return out
}

// SetThreshold 替换指标阈值
func (m *Manager) SetThreshold(name string, th models.Threshold) error {
	if err := CheckThreshold(name, th); err != nil {
		return err
	}

	m.rulesMu.Lock()
	m.thresholds[name] = th
	m.rulesMu.Unlock()

	m.logger.Info("告警阈值已更新",
		zap.String("metric", name),
		zap.Float64("warning", th.Warning),
		zap.Float64("critical", th.Critical))
	return nil
}

// Evaluate 对新写入的数据点做阈值评估，命中时创建告警并返回。
// critical 优先：同时满足两个阈值只产生一条 critical 告警
func (m *Manager) Evaluate(metric models.Metric) (models.Alert, bool) {
	th, ok := m.Threshold(metric.Name)
	if !ok {
		return models.Alert{}, false
	}

	var (
		level     models.AlertLevel
		title     string
		threshold float64
	)
	switch {
	case metric.Value >= th.Critical:
		level = models.AlertLevelCritical
		title = "Critical " + metric.Name
		threshold = th.Critical
	case metric.Value >= th.Warning:
		level = models.AlertLevelWarning
		title = "High " + metric.Name
		threshold = th.Warning
	default:
		return models.Alert{}, false
	}

	description := fmt.Sprintf("%s is %.2f%s, reaching the %s threshold of %.2f%s",
		metric.Name, metric.Value, metric.Unit, level, threshold, metric.Unit)

	metadata := map[string]interface{}{
		"metric":    metric.Name,
		"value":     metric.Value,
		"threshold": threshold,
		"unit":      metric.Unit,
	}
	if len(metric.Tags) > 0 {
		tags := make(map[string]string, len(metric.Tags))
		for k, v := range metric.Tags {
			tags[k] = v
		}
		metadata["tags"] = tags
	}

	alert := m.CreateAlert(level, title, description, string(metric.Category), metadata)
	return alert, true
}

// CreateAlert 创建告警并返回。每次调用都追加一条新告警，不做合并。
// info 级别告警在 InfoTTL 后自动解决
func (m *Manager) CreateAlert(level models.AlertLevel, title, description, category string, metadata map[string]interface{}) models.Alert {
	alert := &models.Alert{
		ID:          uuid.New().String(),
		Level:       level,
		Title:       title,
		Description: description,
		Category:    category,
		Timestamp:   m.now(),
		Metadata:    metadata,
	}

	m.eventMu.Lock()
	defer m.eventMu.Unlock()

	m.alertsMu.Lock()
	m.alerts[alert.ID] = alert
	m.order = append(m.order, alert.ID)
	snapshot := *alert
	m.alertsMu.Unlock()

	if level == models.AlertLevelInfo {
		m.scheduleInfoResolve(alert.ID)
	}

	m.logger.Info("创建告警",
		zap.String("id", snapshot.ID),
		zap.String("level", string(snapshot.Level)),
		zap.String("title", snapshot.Title))

	if m.notifier != nil {
		m.notifier.NotifyAlert(snapshot, models.AlertEventCreated)
	}
	return snapshot
}

// scheduleInfoResolve 为 info 告警注册自动解决定时器
func (m *Manager) scheduleInfoResolve(id string) {
	m.timersMu.Lock()
	defer m.timersMu.Unlock()

	if m.stopped {
		return
	}
	m.timers[id] = time.AfterFunc(m.config.InfoTTL, func() {
		m.timersMu.Lock()
		delete(m.timers, id)
		m.timersMu.Unlock()

		m.Resolve(id)
	})
}

// Resolve 解决告警。告警不存在或已解决时返回 false
func (m *Manager) Resolve(id string) bool {
	m.eventMu.Lock()
	defer m.eventMu.Unlock()

	m.alertsMu.Lock()
	alert, ok := m.alerts[id]
	if !ok || alert.Resolved {
		m.alertsMu.Unlock()
		return false
	}
	m.resolveLocked(alert)
	snapshot := *alert
	m.alertsMu.Unlock()

	m.logger.Info("告警已解决", zap.String("id", id), zap.String("title", snapshot.Title))

	if m.notifier != nil {
		m.notifier.NotifyAlert(snapshot, models.AlertEventResolved)
	}
	return true
}

// resolveLocked 调用方需持有 alertsMu 写锁
func (m *Manager) resolveLocked(alert *models.Alert) {
	now := m.now()
	alert.Resolved = true
	alert.ResolvedAt = &now
}

// AutoResolve 自动解决扫描：系统整体状态不是 critical 且健康分高于阈值时，
// 解决所有存在超过 StaleAfter 的未解决告警。这是全局判断，不会重新评估触发告警的指标
func (m *Manager) AutoResolve(health models.SystemHealth) int {
	if health.Status == models.HealthStatusCritical || health.Score <= m.config.AutoResolveMinScore {
		return 0
	}

	cutoff := m.now().Add(-m.config.StaleAfter)
	return m.resolveWhere(func(a *models.Alert) bool {
		return a.Timestamp.Before(cutoff)
	})
}

// ResolveExpiredInfo 解决所有超过 InfoTTL 仍未解决的 info 告警，
// 用于补偿停止后未触发的定时器
func (m *Manager) ResolveExpiredInfo() int {
	cutoff := m.now().Add(-m.config.InfoTTL)
	return m.resolveWhere(func(a *models.Alert) bool {
		return a.Level == models.AlertLevelInfo && !a.Timestamp.After(cutoff)
	})
}

func (m *Manager) resolveWhere(match func(a *models.Alert) bool) int {
	m.eventMu.Lock()
	defer m.eventMu.Unlock()

	m.alertsMu.Lock()
	var resolved []models.Alert
	for _, id := range m.order {
		alert := m.alerts[id]
		if alert.Resolved || !match(alert) {
			continue
		}
		m.resolveLocked(alert)
		resolved = append(resolved, *alert)
	}
	m.alertsMu.Unlock()

	for _, alert := range resolved {
		m.logger.Info("告警已自动解决", zap.String("id", alert.ID), zap.String("title", alert.Title))
		if m.notifier != nil {
			m.notifier.NotifyAlert(alert, models.AlertEventResolved)
		}
	}
	return len(resolved)
}

// Get 获取指定ID的告警
func (m *Manager) Get(id string) (models.Alert, bool) {
	m.alertsMu.RLock()
	defer m.alertsMu.RUnlock()

	alert, ok := m.alerts[id]
	if !ok {
		return models.Alert{}, false
	}
	return *alert, true
}

// GetAlerts 获取告警列表，resolved 为 nil 时返回全部，按创建时间倒序
func (m *Manager) GetAlerts(resolved *bool) []models.Alert {
	m.alertsMu.RLock()
	alerts := make([]models.Alert, 0, len(m.order))
	for i := len(m.order) - 1; i >= 0; i-- {
		alert := m.alerts[m.order[i]]
		if resolved != nil && alert.Resolved != *resolved {
			continue
		}
		alerts = append(alerts, *alert)
	}
	m.alertsMu.RUnlock()

	sort.SliceStable(alerts, func(i, j int) bool {
		return alerts[i].Timestamp.After(alerts[j].Timestamp)
	})
	return alerts
}

// AlertsInRange 获取创建时间落在 [from, to] 内的告警，按创建时间升序
func (m *Manager) AlertsInRange(from, to time.Time) []models.Alert {
	m.alertsMu.RLock()
	defer m.alertsMu.RUnlock()

	alerts := make([]models.Alert, 0)
	for _, id := range m.order {
		alert := m.alerts[id]
		if alert.Timestamp.Before(from) || alert.Timestamp.After(to) {
			continue
		}
		alerts = append(alerts, *alert)
	}
	return alerts
}

// Stats 告警数量统计
func (m *Manager) Stats() (total, active int) {
	m.alertsMu.RLock()
	defer m.alertsMu.RUnlock()

	for _, alert := range m.alerts {
		if !alert.Resolved {
			active++
		}
	}
	return len(m.alerts), active
}
