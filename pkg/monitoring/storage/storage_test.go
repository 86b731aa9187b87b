package storage

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/xsxdot/aio-apm/pkg/monitoring/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock 可手动推进的时钟
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock(t time.Time) *fakeClock {
	return &fakeClock{now: t}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

var baseTime = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

func TestRecordCapacityEvictsOldest(t *testing.T) {
	clock := newFakeClock(baseTime)
	s := New(Config{Now: clock.Now})

	for i := 0; i < DefaultCapacity+1; i++ {
		s.Record("response_time", float64(i), "ms", models.CategoryResponseTime, nil)
		clock.Advance(time.Millisecond)
	}

	series := s.Query("response_time")
	require.Len(t, series, DefaultCapacity, "序列长度应等于容量")
	assert.Equal(t, float64(1), series[0].Value, "最早的数据点应已被淘汰")
	assert.Equal(t, float64(DefaultCapacity), series[len(series)-1].Value)

	for _, m := range series {
		assert.NotEqual(t, float64(0), m.Value, "第一个数据点不应再存在")
	}
}

func TestRecordReturnsMetric(t *testing.T) {
	clock := newFakeClock(baseTime)
	s := New(Config{Now: clock.Now})

	tags := map[string]string{"endpoint": "/x"}
	m := s.Record("api_response_time", 120, "ms", models.CategoryResponseTime, tags)

	assert.Equal(t, "api_response_time", m.Name)
	assert.Equal(t, 120.0, m.Value)
	assert.Equal(t, baseTime, m.Timestamp)
	assert.Equal(t, "/x", m.Tag("endpoint"))

	// 调用方后续修改标签不影响已记录的数据
	tags["endpoint"] = "/y"
	assert.Equal(t, "/x", s.Query("api_response_time")[0].Tag("endpoint"))
}

func TestRecordKeepsSeriesOrderWhenClockGoesBack(t *testing.T) {
	clock := newFakeClock(baseTime)
	s := New(Config{Now: clock.Now})

	s.Record("cpu_usage", 1, "%", models.CategoryResourceUsage, nil)
	clock.Set(baseTime.Add(-time.Minute))
	m := s.Record("cpu_usage", 2, "%", models.CategoryResourceUsage, nil)

	assert.Equal(t, baseTime, m.Timestamp, "时钟回拨时应沿用上一个时间戳")
}

func TestQueryAllSortedDescending(t *testing.T) {
	clock := newFakeClock(baseTime)
	s := New(Config{Now: clock.Now})

	s.Record("a", 1, "", models.CategoryThroughput, nil)
	clock.Advance(time.Second)
	s.Record("b", 2, "", models.CategoryThroughput, nil)
	clock.Advance(time.Second)
	s.Record("a", 3, "", models.CategoryThroughput, nil)

	all := s.Query("")
	require.Len(t, all, 3)
	assert.Equal(t, []float64{3, 2, 1}, []float64{all[0].Value, all[1].Value, all[2].Value})

	assert.Empty(t, s.Query("missing"))
	assert.Equal(t, []string{"a", "b"}, s.Names())
	assert.Equal(t, 2, s.Len("a"))
	assert.Equal(t, 3, s.Count())
}

func TestQueryRangeInclusiveBounds(t *testing.T) {
	clock := newFakeClock(baseTime)
	s := New(Config{Now: clock.Now})

	for i := 0; i < 5; i++ {
		s.Record("throughput", float64(i), "rps", models.CategoryThroughput, nil)
		clock.Advance(time.Minute)
	}

	from := baseTime.Add(time.Minute)
	to := baseTime.Add(3 * time.Minute)
	got := s.QueryRange(from, to)

	require.Len(t, got, 3, "边界上的数据点应包含在内")
	assert.Equal(t, 1.0, got[0].Value)
	assert.Equal(t, 3.0, got[2].Value)
	for _, m := range got {
		assert.False(t, m.Timestamp.Before(from))
		assert.False(t, m.Timestamp.After(to))
	}
}

func TestEvictOlderThan(t *testing.T) {
	clock := newFakeClock(baseTime)
	s := New(Config{Capacity: 5, Now: clock.Now})

	// 写满并绕回，验证环形缓冲下的淘汰
	for i := 0; i < 8; i++ {
		s.Record("memory_usage", float64(i), "%", models.CategoryResourceUsage, nil)
		clock.Advance(time.Hour)
	}
	s.Record("stale", 1, "", models.CategoryBusiness, nil)
	clock.Advance(time.Hour)

	// memory_usage 保留了 3..7，对应 baseTime+3h .. baseTime+7h
	removed := s.EvictOlderThan(baseTime.Add(5 * time.Hour))
	assert.Equal(t, 2, removed)

	left := s.Query("memory_usage")
	require.Len(t, left, 3)
	assert.Equal(t, 5.0, left[0].Value)
	assert.Equal(t, 7.0, left[2].Value)

	// 清空后序列被移除
	removed = s.EvictOlderThan(clock.Now())
	assert.Equal(t, 4, removed)
	assert.Empty(t, s.Names())

	// 淘汰后仍可继续写入
	s.Record("memory_usage", 42, "%", models.CategoryResourceUsage, nil)
	assert.Equal(t, 1, s.Len("memory_usage"))
}

func TestConcurrentRecordAndEvict(t *testing.T) {
	s := New(Config{Capacity: 100})

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				s.Record(fmt.Sprintf("m%d", w%3), float64(i), "", models.CategoryThroughput, nil)
			}
		}(w)
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := 0; i < 50; i++ {
			s.EvictOlderThan(time.Now().Add(-time.Hour))
			_ = s.Query("")
		}
	}()
	wg.Wait()

	for _, name := range s.Names() {
		assert.LessOrEqual(t, s.Len(name), 100)
		series := s.Query(name)
		for i := 1; i < len(series); i++ {
			assert.False(t, series[i].Timestamp.Before(series[i-1].Timestamp), "序列内时间戳应单调不减")
		}
	}
}
