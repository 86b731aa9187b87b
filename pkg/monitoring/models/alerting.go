package models

import "time"

// AlertLevel 告警级别
type AlertLevel string

const (
	AlertLevelInfo     AlertLevel = "info"
	AlertLevelWarning  AlertLevel = "warning"
	AlertLevelError    AlertLevel = "error"
	AlertLevelCritical AlertLevel = "critical"
)

// Valid 判断告警级别是否合法
func (l AlertLevel) Valid() bool {
	switch l {
	case AlertLevelInfo, AlertLevelWarning, AlertLevelError, AlertLevelCritical:
		return true
	}
	return false
}

// Threshold 单个指标的告警阈值
type Threshold struct {
	Warning  float64 `json:"warning" yaml:"warning"`
	Critical float64 `json:"critical" yaml:"critical"`
}

// Alert 告警。创建后只允许一次状态变更：未解决 -> 已解决
type Alert struct {
	ID          string                 `json:"id"`
	Level       AlertLevel             `json:"level"`
	Title       string                 `json:"title"`
	Description string                 `json:"description"`
	Category    string                 `json:"category"`
	Timestamp   time.Time              `json:"timestamp"`
	Resolved    bool                   `json:"resolved"`
	ResolvedAt  *time.Time             `json:"resolved_at,omitempty"`
	Metadata    map[string]interface{} `json:"metadata,omitempty"`
}

// AlertEventType 告警事件类型
type AlertEventType string

const (
	AlertEventCreated  AlertEventType = "created"
	AlertEventResolved AlertEventType = "resolved"
)
