package notifier

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/xsxdot/aio-apm/pkg/monitoring/models"
	"github.com/xsxdot/aio-apm/pkg/utils"

	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// WebhookNotifier Webhook通知器
type WebhookNotifier struct {
	config *models.NotifierConfig
	logger *zap.Logger
	body   *template.Template
}

// 默认的请求体模板
const defaultWebhookBodyTemplate = `{
  "alert": {
    "id": {{json .ID}},
    "level": {{json .Level}},
    "title": {{json .Title}},
    "description": {{json .Description}},
    "category": {{json .Category}},
    "resolved": {{.Resolved}},
    "starts_at": "{{formatTime .Timestamp}}",
    {{if .ResolvedAt}}"ends_at": "{{formatTime .ResolvedAt}}",{{end}}
    "metadata": {{json .Metadata}}
  },
  "event_type": {{json .EventType}},
  "timestamp": "{{formatTime .SentAt}}"
}`

// templateData 通知模板可用的数据
type templateData struct {
	*models.Alert
	EventType models.AlertEventType
	SentAt    time.Time
}

func templateFuncs() template.FuncMap {
	return template.FuncMap{
		"json": func(v interface{}) (string, error) {
			return json.MarshalToString(v)
		},
		"formatTime": func(v interface{}) string {
			switch t := v.(type) {
			case time.Time:
				return t.Format(time.RFC3339)
			case *time.Time:
				if t != nil {
					return t.Format(time.RFC3339)
				}
			}
			return ""
		},
		"upper": func(v interface{}) string {
			return strings.ToUpper(fmt.Sprint(v))
		},
	}
}

// NewWebhookNotifier 创建新的Webhook通知器
func NewWebhookNotifier(config *models.NotifierConfig, logger *zap.Logger) (Notifier, error) {
	if config.Type != models.NotifierTypeWebhook {
		return nil, fmt.Errorf("通知器类型不是webhook: %s", config.Type)
	}
	if config.URL == "" {
		return nil, fmt.Errorf("Webhook URL不能为空")
	}

	bodyTemplate := utils.DefaultIfEmpty(config.BodyTemplate, defaultWebhookBodyTemplate)
	tmpl, err := template.New("body").Funcs(templateFuncs()).Parse(bodyTemplate)
	if err != nil {
		return nil, fmt.Errorf("解析请求体模板失败: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &WebhookNotifier{
		config: config,
		logger: logger,
		body:   tmpl,
	}, nil
}

// Send 发送Webhook通知
func (n *WebhookNotifier) Send(alert *models.Alert, eventType models.AlertEventType) (*models.NotificationResult, error) {
	result := &models.NotificationResult{
		NotifierID:   n.config.ID,
		NotifierName: n.config.Name,
		NotifierType: models.NotifierTypeWebhook,
		Success:      false,
		Timestamp:    time.Now().Unix(),
	}

	data := templateData{
		Alert:     alert,
		EventType: eventType,
		SentAt:    time.Now(),
	}

	var bodyBuf bytes.Buffer
	if err := n.body.Execute(&bodyBuf, data); err != nil {
		result.Error = fmt.Sprintf("渲染请求体模板失败: %s", err.Error())
		return result, nil
	}

	headers := make([]utils.Header, 0, len(n.config.Headers))
	for key, value := range n.config.Headers {
		headers = append(headers, utils.Header{Key: key, Value: value})
	}

	h := utils.NewHttp(strings.ToUpper(utils.DefaultIfEmpty(n.config.Method, "POST")), n.config.URL, bodyBuf.Bytes(), headers...)
	h.Timeout = timeoutOf(n.config)
	if err := h.Do(); err != nil {
		result.Error = fmt.Sprintf("发送HTTP请求失败: %s", err.Error())
		return result, nil
	}
	h.Close()

	result.Success = true
	return result, nil
}

func timeoutOf(config *models.NotifierConfig) time.Duration {
	if config.TimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(config.TimeoutSeconds) * time.Second
}
