package models

// Observer 引擎事件订阅者，回调在事件产生的goroutine中同步执行，
// 同类事件按状态变更的顺序送达。实现方不应在回调中做阻塞IO，
// 也不能在回调中写入指标或创建、解决告警
type Observer interface {
	// OnMetricRecorded 指标写入存储后调用
	OnMetricRecorded(metric Metric)
	// OnAlertEvent 告警创建或解决后调用
	OnAlertEvent(alert Alert, event AlertEventType)
	// OnHealthChecked 健康检查完成后调用
	OnHealthChecked(health SystemHealth)
}

// NopObserver 空实现，便于只关心部分事件的订阅者嵌入
type NopObserver struct{}

func (NopObserver) OnMetricRecorded(Metric) {}
func (NopObserver) OnAlertEvent(Alert, AlertEventType) {}
func (NopObserver) OnHealthChecked(SystemHealth) {}
