package reporting

import (
	"fmt"
	"testing"
	"time"

	"github.com/xsxdot/aio-apm/pkg/common"
	"github.com/xsxdot/aio-apm/pkg/monitoring/models"
	"github.com/xsxdot/aio-apm/pkg/monitoring/storage"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var baseTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// clockedStore 可以指定写入时间的存储
type clockedStore struct {
	*storage.Storage
	now time.Time
}

func newClockedStore() *clockedStore {
	s := &clockedStore{now: baseTime}
	s.Storage = storage.New(storage.Config{Now: func() time.Time { return s.now }})
	return s
}

func (s *clockedStore) recordAt(at time.Time, name string, value float64, category models.MetricCategory, tags map[string]string) {
	s.now = at
	s.Record(name, value, "", category, tags)
}

type staticAlerts []models.Alert

func (a staticAlerts) AlertsInRange(from, to time.Time) []models.Alert {
	var out []models.Alert
	for _, alert := range a {
		if !alert.Timestamp.Before(from) && !alert.Timestamp.After(to) {
			out = append(out, alert)
		}
	}
	return out
}

type staticUptime struct {
	value float64
	ok    bool
}

func (u staticUptime) UptimeBetween(from, to time.Time) (float64, bool) {
	return u.value, u.ok
}

func TestTrendBucketing(t *testing.T) {
	store := newClockedStore()
	store.recordAt(baseTime.Add(5*time.Minute), models.MetricResponseTime, 100, models.CategoryResponseTime, nil)
	store.recordAt(baseTime.Add(55*time.Minute), models.MetricResponseTime, 200, models.CategoryResponseTime, nil)
	store.recordAt(baseTime.Add(70*time.Minute), models.MetricThroughput, 12, models.CategoryThroughput, nil)

	g := NewGenerator(Config{Metrics: store})
	report, err := g.Generate(baseTime, baseTime.Add(2*time.Hour))
	require.NoError(t, err)

	require.Len(t, report.Trends.ResponseTime, 1)
	assert.Equal(t, baseTime, report.Trends.ResponseTime[0].Timestamp)
	assert.Equal(t, 150.0, report.Trends.ResponseTime[0].Value)

	require.Len(t, report.Trends.Throughput, 1)
	assert.Equal(t, baseTime.Add(time.Hour), report.Trends.Throughput[0].Timestamp)
	assert.Empty(t, report.Trends.ErrorRate)
}

func TestTrendBucketingHalfHourZone(t *testing.T) {
	ist := time.FixedZone("IST", 5*3600+30*60)
	start := time.Date(2024, 5, 1, 10, 0, 0, 0, ist)

	store := newClockedStore()
	store.recordAt(start.Add(5*time.Minute), models.MetricResponseTime, 100, models.CategoryResponseTime, nil)
	store.recordAt(start.Add(55*time.Minute), models.MetricResponseTime, 300, models.CategoryResponseTime, nil)
	store.recordAt(start.Add(65*time.Minute), models.MetricResponseTime, 50, models.CategoryResponseTime, nil)

	report, err := NewGenerator(Config{Metrics: store}).Generate(start, start.Add(2*time.Hour))
	require.NoError(t, err)

	points := report.Trends.ResponseTime
	require.Len(t, points, 2, "同一本地整点内的数据点应落在同一个桶")
	assert.True(t, start.Equal(points[0].Timestamp))
	assert.Equal(t, 10, points[0].Timestamp.In(ist).Hour())
	assert.Equal(t, 0, points[0].Timestamp.In(ist).Minute())
	assert.Equal(t, 200.0, points[0].Value)
	assert.True(t, start.Add(time.Hour).Equal(points[1].Timestamp))
	assert.Equal(t, 50.0, points[1].Value)
}

func TestTrendsSortedAscending(t *testing.T) {
	store := newClockedStore()
	// 不同名称的序列写入顺序与时间无关
	store.recordAt(baseTime.Add(3*time.Hour), "a", 1, models.CategoryErrorRate, nil)
	store.recordAt(baseTime.Add(time.Hour), "b", 2, models.CategoryErrorRate, nil)
	store.recordAt(baseTime.Add(2*time.Hour), "c", 3, models.CategoryErrorRate, nil)

	report, err := NewGenerator(Config{Metrics: store}).Generate(baseTime, baseTime.Add(4*time.Hour))
	require.NoError(t, err)

	points := report.Trends.ErrorRate
	require.Len(t, points, 3)
	assert.Equal(t, []float64{2, 3, 1}, []float64{points[0].Value, points[1].Value, points[2].Value})
}

func TestSummaryAndTopEndpoints(t *testing.T) {
	store := newClockedStore()
	at := baseTime.Add(time.Minute)
	for i := 0; i < 10; i++ {
		store.recordAt(at, models.MetricAPIResponseTime, float64(10*(i+1)), models.CategoryResponseTime, map[string]string{"endpoint": "/x"})
	}
	for i := 0; i < 2; i++ {
		store.recordAt(at, models.MetricAPIError, 1, models.CategoryErrorRate, map[string]string{"endpoint": "/x"})
	}
	for i := 0; i < 5; i++ {
		store.recordAt(at, models.MetricAPIResponseTime, 40, models.CategoryResponseTime, nil)
	}
	store.recordAt(at, models.MetricConcurrentUsers, 7, models.CategoryBusiness, nil)
	store.recordAt(at, models.MetricConcurrentUsers, 31, models.CategoryBusiness, nil)

	g := NewGenerator(Config{Metrics: store})
	report, err := g.Generate(baseTime, baseTime.Add(time.Hour))
	require.NoError(t, err)

	summary := report.Summary
	assert.Equal(t, 15, summary.TotalRequests)
	assert.InDelta(t, 100*2.0/15, summary.ErrorRate, 0.0001)
	assert.InDelta(t, (550.0+200.0)/15, summary.AverageResponseTime, 0.0001)
	assert.Equal(t, 31.0, summary.PeakConcurrentUsers)
	assert.Equal(t, PlaceholderUptime, summary.Uptime)

	require.Len(t, report.TopEndpoints, 2)
	x := report.TopEndpoints[0]
	assert.Equal(t, "/x", x.Endpoint)
	assert.Equal(t, 10, x.Requests)
	assert.Equal(t, 20.0, x.ErrorRate)
	assert.Equal(t, 55.0, x.ResponseTime)

	unknown := report.TopEndpoints[1]
	assert.Equal(t, UnknownEndpoint, unknown.Endpoint)
	assert.Equal(t, 5, unknown.Requests)
	assert.Equal(t, 0.0, unknown.ErrorRate)
}

func TestTopEndpointsLimit(t *testing.T) {
	store := newClockedStore()
	for i := 0; i < 15; i++ {
		endpoint := fmt.Sprintf("/e%02d", i)
		for j := 0; j <= i; j++ {
			store.recordAt(baseTime, models.MetricAPIResponseTime, 1, models.CategoryResponseTime, map[string]string{"endpoint": endpoint})
		}
	}

	report, err := NewGenerator(Config{Metrics: store}).Generate(baseTime, baseTime)
	require.NoError(t, err)

	require.Len(t, report.TopEndpoints, TopEndpointLimit)
	assert.Equal(t, "/e14", report.TopEndpoints[0].Endpoint)
	assert.Equal(t, 15, report.TopEndpoints[0].Requests)
	assert.Equal(t, "/e05", report.TopEndpoints[TopEndpointLimit-1].Endpoint)
}

func TestEmptyWindow(t *testing.T) {
	report, err := NewGenerator(Config{Metrics: newClockedStore()}).Generate(baseTime, baseTime.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 0, report.Summary.TotalRequests)
	assert.Equal(t, 0.0, report.Summary.ErrorRate)
	assert.Equal(t, 0.0, report.Summary.AverageResponseTime)
	assert.Empty(t, report.TopEndpoints)
	assert.NotNil(t, report.Alerts)
}

func TestInvalidWindow(t *testing.T) {
	_, err := NewGenerator(Config{Metrics: newClockedStore()}).Generate(baseTime.Add(time.Hour), baseTime)
	require.Error(t, err)
	assert.True(t, common.IsValidationError(err))
}

func TestWindowBoundsAndAlerts(t *testing.T) {
	store := newClockedStore()
	store.recordAt(baseTime.Add(-time.Second), models.MetricAPIResponseTime, 1, models.CategoryResponseTime, nil)
	store.recordAt(baseTime, models.MetricAPIResponseTime, 1, models.CategoryResponseTime, nil)
	store.recordAt(baseTime.Add(time.Hour), models.MetricAPIResponseTime, 1, models.CategoryResponseTime, nil)
	store.recordAt(baseTime.Add(time.Hour+time.Second), models.MetricAPIResponseTime, 1, models.CategoryResponseTime, nil)

	alerts := staticAlerts{
		{ID: "before", Timestamp: baseTime.Add(-time.Minute)},
		{ID: "inside", Timestamp: baseTime.Add(time.Minute)},
	}
	g := NewGenerator(Config{Metrics: store, Alerts: alerts, Uptime: staticUptime{value: 96, ok: true}})
	report, err := g.Generate(baseTime, baseTime.Add(time.Hour))
	require.NoError(t, err)

	assert.Equal(t, 2, report.Summary.TotalRequests)
	require.Len(t, report.Alerts, 1)
	assert.Equal(t, "inside", report.Alerts[0].ID)
	assert.Equal(t, 96.0, report.Summary.Uptime)
	assert.Equal(t, models.TimeRange{Start: baseTime, End: baseTime.Add(time.Hour)}, report.Period)
}

func TestUptimeFallsBackToPlaceholder(t *testing.T) {
	g := NewGenerator(Config{Metrics: newClockedStore(), Uptime: staticUptime{ok: false}})
	report, err := g.Generate(baseTime, baseTime.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, PlaceholderUptime, report.Summary.Uptime)
}
