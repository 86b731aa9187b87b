package models

import "time"

// HealthStatus 健康状态
type HealthStatus string

const (
	HealthStatusHealthy  HealthStatus = "healthy"
	HealthStatusWarning  HealthStatus = "warning"
	HealthStatusCritical HealthStatus = "critical"
	HealthStatusUnknown  HealthStatus = "unknown"
)

// 被监控的依赖组件名称
const (
	ComponentDatabase     = "database"
	ComponentCache        = "cache"
	ComponentRealtime     = "realtime"
	ComponentExternalAPIs = "external_apis"
	ComponentStorage      = "storage"
)

// Components 固定的五个依赖组件，顺序即健康检查的展示顺序
var Components = []string{
	ComponentDatabase,
	ComponentCache,
	ComponentRealtime,
	ComponentExternalAPIs,
	ComponentStorage,
}

// ComponentHealth 单个依赖组件的健康状态，每个检查周期整体覆盖
type ComponentHealth struct {
	Status       HealthStatus       `json:"status"`
	ResponseTime float64            `json:"response_time"` // 毫秒
	Uptime       float64            `json:"uptime"`        // 观测窗口内的可用百分比
	LastError    string             `json:"last_error,omitempty"`
	Metrics      map[string]float64 `json:"metrics,omitempty"`
}

// SystemHealth 系统整体健康快照
type SystemHealth struct {
	Status      HealthStatus               `json:"status"`
	Score       int                        `json:"score"`
	Components  map[string]ComponentHealth `json:"components"`
	LastChecked time.Time                  `json:"last_checked"`
}

// HealthRecord 健康检查历史中的一条记录
type HealthRecord struct {
	Timestamp time.Time    `json:"timestamp"`
	Status    HealthStatus `json:"status"`
	Score     int          `json:"score"`
}
