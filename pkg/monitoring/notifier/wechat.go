package notifier

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/xsxdot/aio-apm/pkg/monitoring/models"
	"github.com/xsxdot/aio-apm/pkg/utils"

	"go.uber.org/zap"
)

// WeChatNotifier 企业微信机器人通知器
type WeChatNotifier struct {
	config  *models.NotifierConfig
	logger  *zap.Logger
	title   *template.Template
	content *template.Template
}

// 默认的标题模板
const defaultWeChatTitleTemplate = "【{{upper .Level}}】{{.Title}}"

// 默认的内容模板
const defaultWeChatContentTemplate = `
告警详情:
- 告警描述: {{.Description}}
- 告警分类: {{.Category}}
- 告警状态: {{if eq .EventType "created"}}已触发{{else}}已解决{{end}}
- 开始时间: {{formatTime .Timestamp}}
{{if .ResolvedAt}}- 解决时间: {{formatTime .ResolvedAt}}
{{end}}
{{if .Metadata}}
附加信息:
{{range $key, $value := .Metadata}}- {{$key}}: {{$value}}
{{end}}
{{end}}
`

// NewWeChatNotifier 创建新的企业微信通知器
func NewWeChatNotifier(config *models.NotifierConfig, logger *zap.Logger) (Notifier, error) {
	if config.Type != models.NotifierTypeWeChat {
		return nil, fmt.Errorf("通知器类型不是wechat: %s", config.Type)
	}
	if config.URL == "" {
		return nil, fmt.Errorf("企业微信Webhook URL不能为空")
	}

	title, err := template.New("title").Funcs(templateFuncs()).
		Parse(utils.DefaultIfEmpty(config.TitleTemplate, defaultWeChatTitleTemplate))
	if err != nil {
		return nil, fmt.Errorf("解析标题模板失败: %w", err)
	}
	content, err := template.New("content").Funcs(templateFuncs()).
		Parse(utils.DefaultIfEmpty(config.ContentTemplate, defaultWeChatContentTemplate))
	if err != nil {
		return nil, fmt.Errorf("解析内容模板失败: %w", err)
	}

	if logger == nil {
		logger = zap.NewNop()
	}

	return &WeChatNotifier{
		config:  config,
		logger:  logger,
		title:   title,
		content: content,
	}, nil
}

// Send 发送企业微信通知
func (n *WeChatNotifier) Send(alert *models.Alert, eventType models.AlertEventType) (*models.NotificationResult, error) {
	result := &models.NotificationResult{
		NotifierID:   n.config.ID,
		NotifierName: n.config.Name,
		NotifierType: models.NotifierTypeWeChat,
		Success:      false,
		Timestamp:    time.Now().Unix(),
	}

	data := templateData{
		Alert:     alert,
		EventType: eventType,
		SentAt:    time.Now(),
	}

	var titleBuf bytes.Buffer
	if err := n.title.Execute(&titleBuf, data); err != nil {
		result.Error = fmt.Sprintf("渲染标题模板失败: %s", err.Error())
		return result, nil
	}

	var contentBuf bytes.Buffer
	if err := n.content.Execute(&contentBuf, data); err != nil {
		result.Error = fmt.Sprintf("渲染内容模板失败: %s", err.Error())
		return result, nil
	}
	content := contentBuf.String()

	// 准备@人员
	var mentionedList []string
	if n.config.MentionAll {
		mentionedList = append(mentionedList, "@all")
	} else {
		for _, uid := range n.config.MentionedUserIDs {
			mentionedList = append(mentionedList, "@"+uid)
		}
	}
	if len(mentionedList) > 0 {
		content = content + "\n\n" + strings.Join(mentionedList, " ")
	}

	requestBody := map[string]interface{}{
		"msgtype": "markdown",
		"markdown": map[string]string{
			"content": fmt.Sprintf("### %s\n%s", titleBuf.String(), content),
		},
	}

	resp, err := utils.HttpPost(n.config.URL, requestBody, timeoutOf(n.config))
	if err != nil {
		result.Error = fmt.Sprintf("发送HTTP请求失败: %s", err.Error())
		return result, nil
	}

	// 检查业务状态码
	if code := resp.Get("errcode").Int(); code != 0 {
		result.Error = fmt.Sprintf("企业微信API返回错误: %s", resp.Get("errmsg").String())
		return result, nil
	}

	result.Success = true
	return result, nil
}
