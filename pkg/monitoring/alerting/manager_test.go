package alerting

import (
	"sync"
	"testing"
	"time"

	"github.com/xsxdot/aio-apm/pkg/common"
	"github.com/xsxdot/aio-apm/pkg/monitoring/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recordingNotifier 记录收到的告警事件
type recordingNotifier struct {
	mu     sync.Mutex
	events []models.AlertEventType
	alerts []models.Alert
}

func (n *recordingNotifier) NotifyAlert(alert models.Alert, event models.AlertEventType) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.events = append(n.events, event)
	n.alerts = append(n.alerts, alert)
}

func (n *recordingNotifier) Events() []models.AlertEventType {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]models.AlertEventType(nil), n.events...)
}

func newTestManager(notifier NotifierManager) (*Manager, *fakeClock) {
	clock := &fakeClock{now: baseTime}
	m := New(Config{Now: clock.Now}, notifier)
	return m, clock
}

func metric(name string, value float64) models.Metric {
	return models.Metric{
		Name:      name,
		Value:     value,
		Unit:      "ms",
		Timestamp: baseTime,
		Category:  models.CategoryResponseTime,
		Tags:      map[string]string{"endpoint": "/x"},
	}
}

func TestEvaluateCriticalTakesPrecedence(t *testing.T) {
	m, _ := newTestManager(nil)

	alert, ok := m.Evaluate(metric(models.MetricResponseTime, 5000))
	require.True(t, ok)
	assert.Equal(t, models.AlertLevelCritical, alert.Level)
	assert.Equal(t, "Critical response_time", alert.Title)
	assert.Equal(t, string(models.CategoryResponseTime), alert.Category)
	assert.Equal(t, 3000.0, alert.Metadata["threshold"])
	assert.Equal(t, map[string]string{"endpoint": "/x"}, alert.Metadata["tags"])

	all := m.GetAlerts(nil)
	assert.Len(t, all, 1, "同时超过两个阈值只应产生一条告警")
}

func TestEvaluateWarning(t *testing.T) {
	m, _ := newTestManager(nil)

	alert, ok := m.Evaluate(metric(models.MetricResponseTime, 1000))
	require.True(t, ok)
	assert.Equal(t, models.AlertLevelWarning, alert.Level)
	assert.Equal(t, "High response_time", alert.Title)
}

func TestEvaluateBelowWarning(t *testing.T) {
	m, _ := newTestManager(nil)

	_, ok := m.Evaluate(models.Metric{Name: models.MetricErrorRate, Value: 2, Category: models.CategoryErrorRate})
	assert.False(t, ok)

	_, ok = m.Evaluate(models.Metric{Name: "orders_per_minute", Value: 1e9, Category: models.CategoryBusiness})
	assert.False(t, ok, "未配置阈值的指标不应告警")

	assert.Empty(t, m.GetAlerts(nil))
}

func TestEvaluateNoDeduplication(t *testing.T) {
	m, _ := newTestManager(nil)

	m.Evaluate(metric(models.MetricCPUUsage, 95))
	m.Evaluate(metric(models.MetricCPUUsage, 95))

	alerts := m.GetAlerts(nil)
	require.Len(t, alerts, 2)
	assert.NotEqual(t, alerts[0].ID, alerts[1].ID)
}

func TestThresholdOverrides(t *testing.T) {
	clock := &fakeClock{now: baseTime}
	m := New(Config{
		Now: clock.Now,
		Thresholds: map[string]models.Threshold{
			models.MetricResponseTime: {Warning: 200, Critical: 500},
			models.MetricCPUUsage:     {Warning: 90, Critical: 10},
			"queue_depth":             {Warning: 10, Critical: 100},
		},
	}, nil)

	th, ok := m.Threshold(models.MetricResponseTime)
	require.True(t, ok)
	assert.Equal(t, 200.0, th.Warning)

	_, ok = m.Threshold(models.MetricErrorRate)
	assert.True(t, ok, "未覆盖的默认阈值应保留")

	th, _ = m.Threshold(models.MetricCPUUsage)
	assert.Equal(t, 70.0, th.Warning, "倒置的覆盖配置应被忽略")

	_, ok = m.Threshold("queue_depth")
	assert.False(t, ok, "阈值表之外的指标不应加入")
	assert.Len(t, m.Thresholds(), len(DefaultThresholds()))

	_, ok = m.Evaluate(models.Metric{Name: "queue_depth", Value: 50})
	assert.False(t, ok)
}

func TestSetThreshold(t *testing.T) {
	m, _ := newTestManager(nil)

	err := m.SetThreshold(models.MetricDiskUsage, models.Threshold{Warning: 100, Critical: 10})
	assert.True(t, common.IsValidationError(err))
	assert.Error(t, m.SetThreshold("", models.Threshold{}))

	err = m.SetThreshold(models.MetricAPIResponseTime, models.Threshold{Warning: 1, Critical: 2})
	assert.True(t, common.IsValidationError(err), "只允许调整默认阈值表中的指标")
	_, ok := m.Threshold(models.MetricAPIResponseTime)
	assert.False(t, ok)

	require.NoError(t, m.SetThreshold(models.MetricDiskUsage, models.Threshold{Warning: 1, Critical: 2}))
	assert.Equal(t, 2.0, m.Thresholds()[models.MetricDiskUsage].Critical)
	assert.Len(t, m.Thresholds(), 6)
}

// blockingNotifier 第一条事件阻塞直到 release 关闭
type blockingNotifier struct {
	recordingNotifier
	entered chan struct{}
	release chan struct{}
	once    sync.Once
}

func (n *blockingNotifier) NotifyAlert(alert models.Alert, event models.AlertEventType) {
	first := false
	n.once.Do(func() { first = true })
	if first {
		close(n.entered)
		<-n.release
	}
	n.recordingNotifier.NotifyAlert(alert, event)
}

func TestAlertEventsFollowStateOrder(t *testing.T) {
	notifier := &blockingNotifier{entered: make(chan struct{}), release: make(chan struct{})}
	m, _ := newTestManager(notifier)

	created := make(chan models.Alert, 1)
	go func() {
		created <- m.CreateAlert(models.AlertLevelWarning, "High cpu_usage", "", "cpu", nil)
	}()
	<-notifier.entered

	// 创建事件尚未送达时，告警已经可以查询
	alerts := m.GetAlerts(nil)
	require.Len(t, alerts, 1)

	resolved := make(chan bool, 1)
	go func() {
		resolved <- m.Resolve(alerts[0].ID)
	}()

	select {
	case <-resolved:
		t.Fatal("创建事件送达之前不应完成解决")
	case <-time.After(50 * time.Millisecond):
	}

	close(notifier.release)
	<-created
	assert.True(t, <-resolved)
	assert.Equal(t, []models.AlertEventType{models.AlertEventCreated, models.AlertEventResolved}, notifier.Events())
}

func TestResolveIsIdempotent(t *testing.T) {
	notifier := &recordingNotifier{}
	m, clock := newTestManager(notifier)

	alert := m.CreateAlert(models.AlertLevelError, "db down", "connection refused", "database", nil)
	assert.False(t, alert.Resolved)
	assert.Nil(t, alert.ResolvedAt)

	clock.Advance(time.Minute)
	assert.True(t, m.Resolve(alert.ID))

	got, ok := m.Get(alert.ID)
	require.True(t, ok)
	require.NotNil(t, got.ResolvedAt)
	first := *got.ResolvedAt
	assert.Equal(t, baseTime.Add(time.Minute), first)

	clock.Advance(time.Minute)
	assert.False(t, m.Resolve(alert.ID), "重复解决应返回false")
	got, _ = m.Get(alert.ID)
	assert.Equal(t, first, *got.ResolvedAt, "resolvedAt只在第一次解决时设置")

	assert.False(t, m.Resolve("missing"))
	assert.Equal(t, []models.AlertEventType{models.AlertEventCreated, models.AlertEventResolved}, notifier.Events())
}

func TestAutoResolveGate(t *testing.T) {
	m, clock := newTestManager(nil)

	old := m.CreateAlert(models.AlertLevelWarning, "old", "", "", nil)
	clock.Advance(2 * time.Hour)
	recent := m.CreateAlert(models.AlertLevelWarning, "recent", "", "", nil)

	critical := models.SystemHealth{Status: models.HealthStatusCritical, Score: 90}
	assert.Equal(t, 0, m.AutoResolve(critical), "系统critical时不应自动解决")

	lowScore := models.SystemHealth{Status: models.HealthStatusWarning, Score: 80}
	assert.Equal(t, 0, m.AutoResolve(lowScore), "健康分必须严格大于80")

	healthy := models.SystemHealth{Status: models.HealthStatusHealthy, Score: 100}
	assert.Equal(t, 1, m.AutoResolve(healthy))

	got, _ := m.Get(old.ID)
	assert.True(t, got.Resolved)
	got, _ = m.Get(recent.ID)
	assert.False(t, got.Resolved, "不足1小时的告警不应被解决")
}

func TestInfoAlertSelfResolves(t *testing.T) {
	notifier := &recordingNotifier{}
	m := New(Config{InfoTTL: 20 * time.Millisecond}, notifier)
	defer m.Stop()

	alert := m.CreateAlert(models.AlertLevelInfo, "deploy", "v1.2.3 deployed", "business_metric", nil)

	assert.Eventually(t, func() bool {
		got, _ := m.Get(alert.ID)
		return got.Resolved
	}, time.Second, 5*time.Millisecond)
	assert.Equal(t, []models.AlertEventType{models.AlertEventCreated, models.AlertEventResolved}, notifier.Events())
}

func TestResolveExpiredInfo(t *testing.T) {
	m, clock := newTestManager(nil)
	m.Stop()

	info := m.CreateAlert(models.AlertLevelInfo, "note", "", "", nil)
	warn := m.CreateAlert(models.AlertLevelWarning, "warn", "", "", nil)

	clock.Advance(4 * time.Minute)
	assert.Equal(t, 0, m.ResolveExpiredInfo())

	clock.Advance(time.Minute)
	assert.Equal(t, 1, m.ResolveExpiredInfo())

	got, _ := m.Get(info.ID)
	assert.True(t, got.Resolved)
	got, _ = m.Get(warn.ID)
	assert.False(t, got.Resolved)
}

func TestGetAlertsAndRange(t *testing.T) {
	m, clock := newTestManager(nil)

	a := m.CreateAlert(models.AlertLevelWarning, "a", "", "", nil)
	clock.Advance(time.Hour)
	b := m.CreateAlert(models.AlertLevelError, "b", "", "", nil)
	clock.Advance(time.Hour)
	c := m.CreateAlert(models.AlertLevelCritical, "c", "", "", nil)
	m.Resolve(b.ID)

	all := m.GetAlerts(nil)
	require.Len(t, all, 3)
	assert.Equal(t, c.ID, all[0].ID, "最新的告警排在最前")

	unresolved := false
	open := m.GetAlerts(&unresolved)
	require.Len(t, open, 2)
	assert.Equal(t, []string{c.ID, a.ID}, []string{open[0].ID, open[1].ID})

	resolved := true
	closed := m.GetAlerts(&resolved)
	require.Len(t, closed, 1)
	assert.Equal(t, b.ID, closed[0].ID)

	inRange := m.AlertsInRange(baseTime.Add(time.Hour), baseTime.Add(2*time.Hour))
	require.Len(t, inRange, 2)
	assert.Equal(t, b.ID, inRange[0].ID)
	assert.Equal(t, c.ID, inRange[1].ID)

	total, active := m.Stats()
	assert.Equal(t, 3, total)
	assert.Equal(t, 2, active)
}
