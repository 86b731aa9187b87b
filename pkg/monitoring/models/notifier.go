package models

// NotifierType 通知器类型
type NotifierType string

const (
	NotifierTypeWebhook NotifierType = "webhook"
	NotifierTypeWeChat  NotifierType = "wechat"
)

// NotifierConfig 告警通知器配置
type NotifierConfig struct {
	ID      string       `json:"id" yaml:"id" validate:"required"`
	Name    string       `json:"name" yaml:"name"`
	Type    NotifierType `json:"type" yaml:"type" validate:"required,oneof=webhook wechat"`
	Enabled bool         `json:"enabled" yaml:"enabled"`
	// Levels 只推送这些级别的告警，为空时推送全部
	Levels []AlertLevel `json:"levels,omitempty" yaml:"levels"`

	URL            string            `json:"url" yaml:"url" validate:"required,url"`
	Method         string            `json:"method,omitempty" yaml:"method"`
	Headers        map[string]string `json:"headers,omitempty" yaml:"headers"`
	TimeoutSeconds int               `json:"timeout_seconds,omitempty" yaml:"timeout-seconds"`
	BodyTemplate   string            `json:"body_template,omitempty" yaml:"body-template"`

	// 企业微信机器人
	TitleTemplate    string   `json:"title_template,omitempty" yaml:"title-template"`
	ContentTemplate  string   `json:"content_template,omitempty" yaml:"content-template"`
	MentionAll       bool     `json:"mention_all,omitempty" yaml:"mention-all"`
	MentionedUserIDs []string `json:"mentioned_user_ids,omitempty" yaml:"mentioned-user-ids"`
}

// Accepts 判断通知器是否需要推送该级别的告警
func (c *NotifierConfig) Accepts(level AlertLevel) bool {
	if len(c.Levels) == 0 {
		return true
	}
	for _, l := range c.Levels {
		if l == level {
			return true
		}
	}
	return false
}

// NotificationResult 一次通知发送的结果
type NotificationResult struct {
	NotifierID   string       `json:"notifier_id"`
	NotifierName string       `json:"notifier_name"`
	NotifierType NotifierType `json:"notifier_type"`
	Success      bool         `json:"success"`
	Error        string       `json:"error,omitempty"`
	Timestamp    int64        `json:"timestamp"`
}

// NotificationStatistics 通知统计信息
type NotificationStatistics struct {
	TotalSent    int64 `json:"total_sent"`
	TotalSuccess int64 `json:"total_success"`
	TotalFailed  int64 `json:"total_failed"`
	TotalDropped int64 `json:"total_dropped"`
	LastSentAt   int64 `json:"last_sent_at"`
}
