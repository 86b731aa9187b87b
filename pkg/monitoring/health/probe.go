package health

import (
	"context"
)

// ProbeResult 一次探测的结果
type ProbeResult struct {
	// ResponseTimeMs 探针自行测得的延迟，为0时使用检查器测得的耗时
	ResponseTimeMs float64
	// UptimePct 探针自带的可用率，为nil时由检查器按最近检查结果统计
	UptimePct *float64
	// Metrics 组件上报的附加指标，会以 component 标签写入指标存储
	Metrics map[string]float64
}

// Probe 依赖组件探针。实现方应尊重ctx的超时
type Probe interface {
	Probe(ctx context.Context) (ProbeResult, error)
}

// ProbeFunc 函数形式的探针
type ProbeFunc func(ctx context.Context) (ProbeResult, error)

func (f ProbeFunc) Probe(ctx context.Context) (ProbeResult, error) {
	return f(ctx)
}

// Closer 持有连接的探针在引擎停止时释放资源
type Closer interface {
	Close() error
}
