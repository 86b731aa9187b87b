package api

import (
	"errors"
	"strings"
	"time"

	"github.com/xsxdot/aio-apm/pkg/common"
	"github.com/xsxdot/aio-apm/pkg/monitoring/collector"
	"github.com/xsxdot/aio-apm/pkg/monitoring/models"
	"github.com/xsxdot/aio-apm/pkg/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/tidwall/gjson"
)

// MonitorClient 接收接口调用指标
type MonitorClient interface {
	RecordAPICall(call *collector.APICallMetrics) models.Metric
}

// FilterFunc 过滤器函数类型，返回false时跳过监控
type FilterFunc func(c *fiber.Ctx) bool

// NewAPIMonitor 创建 API 监控中间件，按路由路径记录 api_response_time，
// 失败的请求同时记录 api_error
func NewAPIMonitor(client MonitorClient, filters ...FilterFunc) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if client == nil {
			return c.Next()
		}
		for _, filter := range filters {
			if !filter(c) {
				return c.Next()
			}
		}

		startTime := time.Now()
		err := c.Next()
		recordAPIMetrics(client, c, startTime, err)
		return err
	}
}

// recordAPIMetrics 记录 API 调用指标
func recordAPIMetrics(client MonitorClient, c *fiber.Ctx, startTime time.Time, handlerErr error) {
	duration := time.Since(startTime)

	// 优先使用路由路径，避免路径参数进入标签
	path := c.Route().Path
	if path == "" || (path == "/" && c.Path() != "/") {
		path = c.Path()
	}

	call := &collector.APICallMetrics{
		Method:     c.Method(),
		Path:       path,
		StatusCode: statusOf(c, handlerErr),
		Duration:   float64(duration.Microseconds()) / 1000,
	}
	if handlerErr != nil {
		call.ErrorMessage = handlerErr.Error()
	} else if code, msg, ok := envelopeError(c); ok {
		call.StatusCode = code
		call.ErrorMessage = msg
	}

	client.RecordAPICall(call)
}

// statusOf 处理器返回错误时响应码尚未由错误处理器写入，按错误推断
func statusOf(c *fiber.Ctx, handlerErr error) int {
	if handlerErr == nil {
		return c.Response().StatusCode()
	}
	var fe *fiber.Error
	if errors.As(handlerErr, &fe) {
		return fe.Code
	}
	var appErr *common.AppError
	if errors.As(handlerErr, &appErr) {
		return appErr.StatusCode()
	}
	return fiber.StatusInternalServerError
}

// envelopeError 响应体统一以HTTP 200返回，失败时从响应体的业务码换算出HTTP状态码，
// 例如 40400 对应 404
func envelopeError(c *fiber.Ctx) (int, string, bool) {
	if c.Response().StatusCode() != fiber.StatusOK {
		return 0, "", false
	}
	if !strings.HasPrefix(string(c.Response().Header.ContentType()), fiber.MIMEApplicationJSON) {
		return 0, "", false
	}
	body := c.Response().Body()
	code := gjson.GetBytes(body, "code")
	if code.Type != gjson.Number || code.Int() < utils.StatusBadRequest || code.Int() >= 60000 {
		return 0, "", false
	}
	return int(code.Int() / 100), gjson.GetBytes(body, "msg").String(), true
}

// SkipHealthCheck 健康检查过滤器，跳过健康检查端点的监控
func SkipHealthCheck(c *fiber.Ctx) bool {
	path := strings.ToLower(c.Path())
	return !strings.Contains(path, "/health")
}

// SkipStaticFiles 静态文件过滤器，跳过静态资源的监控
func SkipStaticFiles(c *fiber.Ctx) bool {
	path := strings.ToLower(c.Path())
	staticExtensions := []string{".css", ".js", ".png", ".jpg", ".jpeg", ".gif", ".ico", ".svg", ".woff", ".woff2", ".ttf", ".eot"}

	for _, ext := range staticExtensions {
		if strings.HasSuffix(path, ext) {
			return false
		}
	}
	return true
}

// OnlyPathStartWith 仅监控指定前缀的路径
func OnlyPathStartWith(paths ...string) FilterFunc {
	return func(c *fiber.Ctx) bool {
		for _, path := range paths {
			if strings.HasPrefix(c.Path(), path) {
				return true
			}
		}
		return false
	}
}

// SkipMethods 跳过指定HTTP方法的监控
func SkipMethods(methods ...string) FilterFunc {
	skipMap := make(map[string]bool)
	for _, method := range methods {
		skipMap[strings.ToUpper(method)] = true
	}

	return func(c *fiber.Ctx) bool {
		return !skipMap[c.Method()]
	}
}
