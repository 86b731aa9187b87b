// Package notifier 提供告警通知功能
package notifier

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/xsxdot/aio-apm/pkg/common"
	"github.com/xsxdot/aio-apm/pkg/monitoring/models"
	"github.com/xsxdot/aio-apm/pkg/utils"

	"go.uber.org/zap"
)

const (
	// DefaultQueueSize 告警事件队列的默认长度
	DefaultQueueSize = 256
	// DefaultSendAttempts 单个通知器发送失败时的最大尝试次数
	DefaultSendAttempts = 3
	// DefaultRetryBackoff 首次重试前的等待时间，之后逐次翻倍
	DefaultRetryBackoff = 500 * time.Millisecond
)

// Notifier 通知器接口
type Notifier interface {
	// Send 发送通知
	Send(alert *models.Alert, eventType models.AlertEventType) (*models.NotificationResult, error)
}

// NotifierFactory 通知器工厂接口
type NotifierFactory interface {
	// CreateNotifier 创建通知器实例
	CreateNotifier(config *models.NotifierConfig) (Notifier, error)
}

// Config 通知管理器配置
type Config struct {
	Notifiers []models.NotifierConfig
	QueueSize int
	Factory   NotifierFactory
	Logger    *zap.Logger

	// SendAttempts 只对返回错误的发送重试，对端返回失败结果不重试
	SendAttempts int
	RetryBackoff time.Duration
}

type alertEvent struct {
	alert     models.Alert
	eventType models.AlertEventType
}

// Manager 通知管理器。告警事件先进入有界队列，由后台worker发送，
// 队列满时丢弃事件，记录告警的调用方不会被阻塞
type Manager struct {
	models.NopObserver

	logger          *zap.Logger
	notifiers       map[string]*models.NotifierConfig
	notifiersMu     sync.RWMutex
	notifierFactory NotifierFactory

	queue        chan alertEvent
	sendAttempts int
	retryBackoff time.Duration

	mu         sync.RWMutex
	statistics models.NotificationStatistics

	startOnce sync.Once
	stopOnce  sync.Once
	ctx       context.Context
	cancel    context.CancelFunc
	wg        sync.WaitGroup
}

// New 创建一个新的通知管理器
func New(config Config) (*Manager, error) {
	ctx, cancel := context.WithCancel(context.Background())

	if config.Logger == nil {
		config.Logger = zap.NewNop()
	}
	if config.QueueSize <= 0 {
		config.QueueSize = DefaultQueueSize
	}
	if config.Factory == nil {
		config.Factory = &DefaultNotifierFactory{Logger: config.Logger}
	}
	if config.SendAttempts <= 0 {
		config.SendAttempts = DefaultSendAttempts
	}
	if config.RetryBackoff <= 0 {
		config.RetryBackoff = DefaultRetryBackoff
	}

	m := &Manager{
		logger:          config.Logger,
		notifiers:       make(map[string]*models.NotifierConfig),
		notifierFactory: config.Factory,
		queue:           make(chan alertEvent, config.QueueSize),
		sendAttempts:    config.SendAttempts,
		retryBackoff:    config.RetryBackoff,
		ctx:             ctx,
		cancel:          cancel,
	}

	for i := range config.Notifiers {
		if err := m.AddNotifier(config.Notifiers[i]); err != nil {
			cancel()
			return nil, err
		}
	}
	return m, nil
}

// Start 启动通知发送worker
func (m *Manager) Start() {
	m.startOnce.Do(func() {
		m.wg.Add(1)
		go m.run()
		m.logger.Info("通知管理器已启动", zap.Int("notifiers", len(m.GetNotifiers())))
	})
}

// Stop 停止通知管理器，队列中尚未发送的事件会被丢弃
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		m.cancel()
		m.wg.Wait()
		if pending := len(m.queue); pending > 0 {
			m.logger.Warn("通知管理器停止时丢弃未发送的告警事件", zap.Int("pending", pending))
		}
		m.logger.Info("通知管理器已停止")
	})
}

func (m *Manager) run() {
	defer m.wg.Done()

	for {
		select {
		case <-m.ctx.Done():
			return
		case ev := <-m.queue:
			func() {
				defer utils.Recover(m.logger, "notifier")
				m.SendAlert(&ev.alert, ev.eventType)
			}()
		}
	}
}

// OnAlertEvent 作为引擎观察者接收告警事件
func (m *Manager) OnAlertEvent(alert models.Alert, eventType models.AlertEventType) {
	m.NotifyAlert(alert, eventType)
}

// NotifyAlert 将告警事件放入发送队列，不会阻塞
func (m *Manager) NotifyAlert(alert models.Alert, eventType models.AlertEventType) {
	if len(m.getEnabledNotifiers(alert.Level)) == 0 {
		return
	}

	select {
	case m.queue <- alertEvent{alert: alert, eventType: eventType}:
	default:
		m.mu.Lock()
		m.statistics.TotalDropped++
		m.mu.Unlock()
		m.logger.Warn("通知队列已满，丢弃告警事件",
			zap.String("alertID", alert.ID),
			zap.String("eventType", string(eventType)))
	}
}

// SendAlert 同步向所有匹配的通知器并行发送告警通知
func (m *Manager) SendAlert(alert *models.Alert, eventType models.AlertEventType) []models.NotificationResult {
	if alert == nil {
		m.logger.Error("尝试发送空告警")
		return nil
	}

	notifiers := m.getEnabledNotifiers(alert.Level)
	if len(notifiers) == 0 {
		m.logger.Debug("没有找到可用的通知器", zap.String("alertID", alert.ID))
		return nil
	}

	m.logger.Info("准备发送告警通知",
		zap.String("alertID", alert.ID),
		zap.String("eventType", string(eventType)),
		zap.String("level", string(alert.Level)))

	results := make([]models.NotificationResult, 0, len(notifiers))

	var wg sync.WaitGroup
	var mu sync.Mutex
	for _, n := range notifiers {
		wg.Add(1)
		go func(n *models.NotifierConfig) {
			defer wg.Done()

			result := m.sendOne(n, alert, eventType)

			mu.Lock()
			results = append(results, *result)
			mu.Unlock()
		}(n)
	}
	wg.Wait()

	m.updateStatistics(results)
	return results
}

func (m *Manager) sendOne(n *models.NotifierConfig, alert *models.Alert, eventType models.AlertEventType) *models.NotificationResult {
	failed := func(format string, err error) *models.NotificationResult {
		return &models.NotificationResult{
			NotifierID:   n.ID,
			NotifierName: n.Name,
			NotifierType: n.Type,
			Success:      false,
			Error:        fmt.Sprintf(format, err.Error()),
			Timestamp:    time.Now().Unix(),
		}
	}

	instance, err := m.notifierFactory.CreateNotifier(n)
	if err != nil {
		m.logger.Error("创建通知器实例失败",
			zap.String("notifier", n.ID),
			zap.String("alert", alert.ID),
			zap.Error(err))
		return failed("创建通知器实例失败: %s", err)
	}

	var result *models.NotificationResult
	err = utils.RetryWithBackoff(func() error {
		var sendErr error
		result, sendErr = instance.Send(alert, eventType)
		return sendErr
	}, m.sendAttempts, m.retryBackoff)
	switch {
	case err != nil:
		m.logger.Error("发送通知失败",
			zap.String("notifier", n.ID),
			zap.String("alert", alert.ID),
			zap.Error(err))
		return failed("发送通知失败: %s", err)
	case !result.Success:
		m.logger.Warn("通知发送失败但无异常",
			zap.String("notifier", n.ID),
			zap.String("alert", alert.ID),
			zap.String("error", result.Error))
	default:
		m.logger.Info("通知发送成功",
			zap.String("notifier", n.ID),
			zap.String("alert", alert.ID))
	}
	return result
}

func (m *Manager) updateStatistics(results []models.NotificationResult) {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, r := range results {
		m.statistics.TotalSent++
		if r.Success {
			m.statistics.TotalSuccess++
		} else {
			m.statistics.TotalFailed++
		}
	}
	if len(results) > 0 {
		m.statistics.LastSentAt = time.Now().Unix()
	}
}

// GetStatistics 获取通知统计
func (m *Manager) GetStatistics() models.NotificationStatistics {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.statistics
}

// getEnabledNotifiers 获取所有启用且接受该级别的通知器
func (m *Manager) getEnabledNotifiers(level models.AlertLevel) []*models.NotifierConfig {
	m.notifiersMu.RLock()
	defer m.notifiersMu.RUnlock()

	notifiers := make([]*models.NotifierConfig, 0)
	for _, n := range m.notifiers {
		if n.Enabled && n.Accepts(level) {
			notifiers = append(notifiers, n)
		}
	}
	return notifiers
}

// GetNotifiers 获取所有通知器配置
func (m *Manager) GetNotifiers() []models.NotifierConfig {
	m.notifiersMu.RLock()
	defer m.notifiersMu.RUnlock()

	notifiers := make([]models.NotifierConfig, 0, len(m.notifiers))
	for _, n := range m.notifiers {
		notifiers = append(notifiers, *n)
	}
	return notifiers
}

// AddNotifier 添加或替换通知器配置
func (m *Manager) AddNotifier(config models.NotifierConfig) error {
	if err := utils.ValidateError(&config); err != nil {
		return err
	}
	if !isSupportedNotifierType(config.Type) {
		return common.NewValidationError(fmt.Sprintf("不支持的通知器类型: %s", config.Type), nil)
	}

	m.notifiersMu.Lock()
	m.notifiers[config.ID] = &config
	m.notifiersMu.Unlock()

	m.logger.Info("通知器配置已加载",
		zap.String("id", config.ID),
		zap.String("name", config.Name),
		zap.String("type", string(config.Type)))
	return nil
}

// RemoveNotifier 删除通知器配置
func (m *Manager) RemoveNotifier(id string) error {
	m.notifiersMu.Lock()
	defer m.notifiersMu.Unlock()

	if _, ok := m.notifiers[id]; !ok {
		return common.NewNotFoundError(fmt.Sprintf("通知器配置不存在: %s", id), nil)
	}
	delete(m.notifiers, id)
	return nil
}

// isSupportedNotifierType 检查通知器类型是否受支持
func isSupportedNotifierType(t models.NotifierType) bool {
	switch t {
	case models.NotifierTypeWebhook, models.NotifierTypeWeChat:
		return true
	}
	return false
}

// DefaultNotifierFactory 默认的通知器工厂
type DefaultNotifierFactory struct {
	Logger *zap.Logger
}

// CreateNotifier 创建通知器实例
func (f *DefaultNotifierFactory) CreateNotifier(config *models.NotifierConfig) (Notifier, error) {
	switch config.Type {
	case models.NotifierTypeWebhook:
		return NewWebhookNotifier(config, f.Logger)
	case models.NotifierTypeWeChat:
		return NewWeChatNotifier(config, f.Logger)
	default:
		return nil, fmt.Errorf("不支持的通知器类型: %s", config.Type)
	}
}
