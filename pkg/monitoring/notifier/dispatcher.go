package notifier

import (
	"sync"

	"github.com/xsxdot/aio-apm/pkg/monitoring/models"
	"github.com/xsxdot/aio-apm/pkg/utils"

	"go.uber.org/zap"
)

type subscription struct {
	id       int
	observer models.Observer
}

// Dispatcher 把引擎事件按产生顺序同步分发给所有订阅者。
// 单个订阅者panic会被记录并跳过，不影响其他订阅者
type Dispatcher struct {
	mu     sync.RWMutex
	subs   []subscription
	nextID int
	logger *zap.Logger
}

// 确保Dispatcher实现了Observer接口
var _ models.Observer = (*Dispatcher)(nil)

// NewDispatcher 创建事件分发器
func NewDispatcher(logger *zap.Logger) *Dispatcher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{logger: logger}
}

// Subscribe 注册订阅者，返回取消订阅的函数
func (d *Dispatcher) Subscribe(observer models.Observer) func() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.nextID++
	id := d.nextID
	d.subs = append(d.subs, subscription{id: id, observer: observer})

	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		for i, s := range d.subs {
			if s.id == id {
				d.subs = append(d.subs[:i:i], d.subs[i+1:]...)
				return
			}
		}
	}
}

// Len 当前订阅者数量
func (d *Dispatcher) Len() int {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.subs)
}

func (d *Dispatcher) snapshot() []subscription {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return append([]subscription(nil), d.subs...)
}

func (d *Dispatcher) each(event string, fn func(o models.Observer)) {
	for _, s := range d.snapshot() {
		func() {
			defer utils.Recover(d.logger, event)
			fn(s.observer)
		}()
	}
}

func (d *Dispatcher) OnMetricRecorded(metric models.Metric) {
	d.each("metric_recorded", func(o models.Observer) { o.OnMetricRecorded(metric) })
}

func (d *Dispatcher) OnAlertEvent(alert models.Alert, event models.AlertEventType) {
	d.each("alert_"+string(event), func(o models.Observer) { o.OnAlertEvent(alert, event) })
}

func (d *Dispatcher) OnHealthChecked(health models.SystemHealth) {
	d.each("health_check_completed", func(o models.Observer) { o.OnHealthChecked(health) })
}

// NotifyAlert 供告警管理器调用
func (d *Dispatcher) NotifyAlert(alert models.Alert, event models.AlertEventType) {
	d.OnAlertEvent(alert, event)
}
