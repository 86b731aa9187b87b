// Package storage 实现指标数据的内存存储
//
// 每个指标名称对应一个定长环形序列，超出容量时淘汰最早的数据点。
// 容量按名称计算，因此指标名称必须是低基数的有限集合：如果把请求ID之类的
// 高基数值拼进名称，每个名称都会新建一个序列，容量上限将失去意义。
package storage

import (
	"sort"
	"sync"
	"time"

	"github.com/xsxdot/aio-apm/pkg/monitoring/models"

	"go.uber.org/zap"
)

// DefaultCapacity 单个序列默认保留的数据点数量
const DefaultCapacity = 1000

// Config 定义存储引擎的配置选项
type Config struct {
	// Capacity 单个序列的最大数据点数量
	Capacity int

	// Logger 日志记录器
	Logger *zap.Logger

	// Now 时钟函数，测试时可替换
	Now func() time.Time
}

// MetricStorage 定义指标存储接口，供告警、报告等组件依赖
type MetricStorage interface {
	// Record 写入一个数据点并返回写入的指标
	Record(name string, value float64, unit string, category models.MetricCategory, tags map[string]string) models.Metric
	// Query 查询指定名称的序列，名称为空时返回所有数据点（按时间倒序）
	Query(name string) []models.Metric
	// QueryRange 查询时间范围 [from, to] 内的所有数据点
	QueryRange(from, to time.Time) []models.Metric
	// EvictOlderThan 删除早于 cutoff 的数据点
	EvictOlderThan(cutoff time.Time) int
}

// 确保Storage实现了MetricStorage接口
var _ MetricStorage = (*Storage)(nil)

// series 单个指标名称的环形序列
type series struct {
	samples []models.Metric
	start   int
}

// push 追加数据点，满容量时覆盖最早的数据点
func (s *series) push(m models.Metric, capacity int) {
	if len(s.samples) < capacity {
		s.samples = append(s.samples, m)
		return
	}
	s.samples[s.start] = m
	s.start = (s.start + 1) % len(s.samples)
}

// at 按插入顺序取第i个数据点
func (s *series) at(i int) models.Metric {
	return s.samples[(s.start+i)%len(s.samples)]
}

// last 最后写入的数据点
func (s *series) last() (models.Metric, bool) {
	if len(s.samples) == 0 {
		return models.Metric{}, false
	}
	return s.at(len(s.samples) - 1), true
}

// ordered 按插入顺序复制出所有数据点
func (s *series) ordered() []models.Metric {
	out := make([]models.Metric, len(s.samples))
	for i := range s.samples {
		out[i] = s.at(i)
	}
	return out
}

// Storage 按指标名称组织的内存时间序列存储
type Storage struct {
	mu       sync.RWMutex
	series   map[string]*series
	capacity int
	now      func() time.Time
	logger   *zap.Logger
}

// New 创建一个新的存储引擎实例
func New(config Config) *Storage {
	if config.Capacity <= 0 {
		config.Capacity = DefaultCapacity
	}
	if config.Now == nil {
		config.Now = time.Now
	}
	logger := config.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Storage{
		series:   make(map[string]*series),
		capacity: config.Capacity,
		now:      config.Now,
		logger:   logger,
	}
}

// Record 以当前时间写入一个数据点。同一名称下时间戳随插入顺序单调不减
func (s *Storage) Record(name string, value float64, unit string, category models.MetricCategory, tags map[string]string) models.Metric {
	metric := models.Metric{
		Name:     name,
		Value:    value,
		Unit:     unit,
		Category: category,
		Tags:     copyTags(tags),
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	metric.Timestamp = s.now()

	ser, ok := s.series[name]
	if !ok {
		ser = &series{samples: make([]models.Metric, 0, 16)}
		s.series[name] = ser
	}
	// 墙上时钟回拨时沿用上一个时间戳，保证序列内有序
	if last, ok := ser.last(); ok && metric.Timestamp.Before(last.Timestamp) {
		metric.Timestamp = last.Timestamp
	}
	ser.push(metric, s.capacity)

	return metric
}

// Query 查询指标数据。name 非空时按插入顺序返回该序列；
// 为空时返回所有序列的数据点，按时间戳倒序排列
func (s *Storage) Query(name string) []models.Metric {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if name != "" {
		ser, ok := s.series[name]
		if !ok {
			return []models.Metric{}
		}
		return ser.ordered()
	}

	results := make([]models.Metric, 0, s.countLocked())
	for _, ser := range s.series {
		results = append(results, ser.ordered()...)
	}
	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Timestamp.After(results[j].Timestamp)
	})
	return results
}

// QueryRange 查询所有序列中时间戳落在 [from, to] 内的数据点，按时间升序返回
func (s *Storage) QueryRange(from, to time.Time) []models.Metric {
	s.mu.RLock()
	results := make([]models.Metric, 0)
	for _, ser := range s.series {
		for i := range ser.samples {
			m := ser.at(i)
			if m.Timestamp.Before(from) || m.Timestamp.After(to) {
				continue
			}
			results = append(results, m)
		}
	}
	s.mu.RUnlock()

	sort.SliceStable(results, func(i, j int) bool {
		return results[i].Timestamp.Before(results[j].Timestamp)
	})
	return results
}

// EvictOlderThan 删除每个序列中早于 cutoff 的数据点，返回删除的数量。
// 清空的序列会被一并移除
func (s *Storage) EvictOlderThan(cutoff time.Time) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	removed := 0
	for name, ser := range s.series {
		// 序列内时间戳单调不减，找到第一个不早于cutoff的位置即可
		n := len(ser.samples)
		keepFrom := n
		for i := 0; i < n; i++ {
			if !ser.at(i).Timestamp.Before(cutoff) {
				keepFrom = i
				break
			}
		}
		if keepFrom == 0 {
			continue
		}

		removed += keepFrom
		if keepFrom == n {
			delete(s.series, name)
			continue
		}

		kept := make([]models.Metric, 0, n-keepFrom)
		for i := keepFrom; i < n; i++ {
			kept = append(kept, ser.at(i))
		}
		ser.samples = kept
		ser.start = 0
	}

	if removed > 0 {
		s.logger.Debug("清理过期指标数据",
			zap.Time("cutoff", cutoff),
			zap.Int("removed", removed))
	}
	return removed
}

// Names 返回当前所有的指标名称（已排序）
func (s *Storage) Names() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.series))
	for name := range s.series {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len 返回指定序列当前的数据点数量
func (s *Storage) Len(name string) int {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if ser, ok := s.series[name]; ok {
		return len(ser.samples)
	}
	return 0
}

// Count 返回所有序列的数据点总数
func (s *Storage) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.countLocked()
}

func (s *Storage) countLocked() int {
	total := 0
	for _, ser := range s.series {
		total += len(ser.samples)
	}
	return total
}

func copyTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return nil
	}
	out := make(map[string]string, len(tags))
	for k, v := range tags {
		out[k] = v
	}
	return out
}
