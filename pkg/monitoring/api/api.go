// Package api 提供监控引擎的HTTP API接口
package api

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/xsxdot/aio-apm/pkg/common"
	"github.com/xsxdot/aio-apm/pkg/monitoring/collector"
	"github.com/xsxdot/aio-apm/pkg/monitoring/models"
	"github.com/xsxdot/aio-apm/pkg/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"go.uber.org/zap"
)

// DefaultReportWindow 未指定时间范围时报告覆盖的时长
const DefaultReportWindow = 24 * time.Hour

// Engine API依赖的监控引擎能力
type Engine interface {
	RecordMetric(name string, value float64, unit string, category models.MetricCategory, tags map[string]string) models.Metric
	RecordAPICall(call *collector.APICallMetrics) models.Metric
	CreateAlert(level models.AlertLevel, title, description, category string, metadata map[string]interface{}) string
	ResolveAlert(id string) bool
	GetAlert(id string) (models.Alert, bool)
	GetAlerts(resolved *bool) []models.Alert
	GetMetrics(name string) []models.Metric
	MetricNames() []string
	GetSystemHealth(ctx context.Context) models.SystemHealth
	LastSystemHealth() models.SystemHealth
	GeneratePerformanceReport(from, to time.Time) (*models.PerformanceReport, error)
	Thresholds() map[string]models.Threshold
	SetThreshold(name string, threshold models.Threshold) error
}

// API 监控引擎的HTTP API
type API struct {
	engine     Engine
	prometheus http.Handler
	logger     *zap.Logger
}

// NewAPI 创建新的监控API，prometheus 为nil时不注册指标导出路由
func NewAPI(engine Engine, prometheus http.Handler, logger *zap.Logger) *API {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &API{
		engine:     engine,
		prometheus: prometheus,
		logger:     logger,
	}
}

// RegisterRoutes 注册所有API路由
func (api *API) RegisterRoutes(router fiber.Router) {
	group := router.Group("/apm")

	group.Post("/metrics", api.recordMetric)
	group.Get("/metrics", api.getMetrics)
	group.Get("/metrics/names", api.getMetricNames)
	if api.prometheus != nil {
		group.Get("/metrics/prometheus", adaptor.HTTPHandler(api.prometheus))
	}

	group.Get("/alerts", api.getAlerts)
	group.Post("/alerts", api.createAlert)
	group.Get("/alerts/:id", api.getAlert)
	group.Post("/alerts/:id/resolve", api.resolveAlert)

	group.Get("/thresholds", api.getThresholds)
	group.Put("/thresholds/:name", api.setThreshold)

	group.Get("/health", api.getHealth)
	group.Get("/reports", api.getReport)

	api.logger.Info("监控API路由已注册")
}

// RecordMetricRequest 写入指标请求
type RecordMetricRequest struct {
	Name     string            `json:"name" validate:"required" comment:"指标名称"`
	Value    *float64          `json:"value" validate:"required" comment:"指标值"`
	Unit     string            `json:"unit"`
	Category string            `json:"category" validate:"required,oneof=response_time throughput error_rate resource_usage business_metric" comment:"指标分类"`
	Tags     map[string]string `json:"tags"`
}

func (api *API) recordMetric(c *fiber.Ctx) error {
	var req RecordMetricRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.FailResponse(c, utils.StatusBadRequest, "请求体格式错误: "+err.Error())
	}
	if err := utils.ValidateError(&req); err != nil {
		return utils.ErrorResponse(c, err)
	}

	metric := api.engine.RecordMetric(req.Name, *req.Value, req.Unit, models.MetricCategory(req.Category), req.Tags)
	return utils.SuccessResponse(c, metric)
}

func (api *API) getMetrics(c *fiber.Ctx) error {
	metrics := api.engine.GetMetrics(c.Query("name"))

	if limit := c.QueryInt("limit", 0); limit > 0 && len(metrics) > limit {
		if c.Query("name") != "" {
			// 单个序列按插入顺序，取最新的部分
			metrics = metrics[len(metrics)-limit:]
		} else {
			metrics = metrics[:limit]
		}
	}
	return utils.SuccessResponse(c, metrics)
}

func (api *API) getMetricNames(c *fiber.Ctx) error {
	return utils.SuccessResponse(c, api.engine.MetricNames())
}

func (api *API) getAlerts(c *fiber.Ctx) error {
	var resolved *bool
	if raw := c.Query("resolved"); raw != "" {
		value, err := strconv.ParseBool(raw)
		if err != nil {
			return utils.FailResponse(c, utils.StatusBadRequest, "resolved 参数必须是布尔值")
		}
		resolved = &value
	}
	return utils.SuccessResponse(c, api.engine.GetAlerts(resolved))
}

func (api *API) getAlert(c *fiber.Ctx) error {
	alert, ok := api.engine.GetAlert(c.Params("id"))
	if !ok {
		return utils.ErrorResponse(c, common.NewNotFoundError("告警不存在", nil))
	}
	return utils.SuccessResponse(c, alert)
}

// CreateAlertRequest 手动创建告警请求
type CreateAlertRequest struct {
	Level       string                 `json:"level" validate:"required,oneof=info warning error critical" comment:"告警级别"`
	Title       string                 `json:"title" validate:"required" comment:"告警标题"`
	Description string                 `json:"description"`
	Category    string                 `json:"category"`
	Metadata    map[string]interface{} `json:"metadata"`
}

func (api *API) createAlert(c *fiber.Ctx) error {
	var req CreateAlertRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.FailResponse(c, utils.StatusBadRequest, "请求体格式错误: "+err.Error())
	}
	if err := utils.ValidateError(&req); err != nil {
		return utils.ErrorResponse(c, err)
	}

	id := api.engine.CreateAlert(models.AlertLevel(req.Level), req.Title, req.Description, req.Category, req.Metadata)
	return utils.SuccessResponse(c, fiber.Map{"id": id})
}

func (api *API) resolveAlert(c *fiber.Ctx) error {
	id := c.Params("id")
	resolved := api.engine.ResolveAlert(id)
	if resolved {
		api.logger.Info("手动解决告警", zap.String("id", id))
	}
	return utils.SuccessResponse(c, fiber.Map{"id": id, "resolved": resolved})
}

func (api *API) getThresholds(c *fiber.Ctx) error {
	return utils.SuccessResponse(c, api.engine.Thresholds())
}

func (api *API) setThreshold(c *fiber.Ctx) error {
	var threshold models.Threshold
	if err := c.BodyParser(&threshold); err != nil {
		return utils.FailResponse(c, utils.StatusBadRequest, "请求体格式错误: "+err.Error())
	}
	name := c.Params("name")
	if err := api.engine.SetThreshold(name, threshold); err != nil {
		return utils.ErrorResponse(c, err)
	}
	return utils.SuccessResponse(c, fiber.Map{"name": name, "threshold": threshold})
}

// getHealth 默认立即执行一次健康检查，cached=true 时返回最近一次快照
func (api *API) getHealth(c *fiber.Ctx) error {
	if c.QueryBool("cached", false) {
		return utils.SuccessResponse(c, api.engine.LastSystemHealth())
	}
	return utils.SuccessResponse(c, api.engine.GetSystemHealth(c.UserContext()))
}

// getReport 时间格式为RFC3339，缺省为最近24小时
func (api *API) getReport(c *fiber.Ctx) error {
	to := time.Now()
	if raw := c.Query("to"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return utils.FailResponse(c, utils.StatusBadRequest, "to 参数必须是RFC3339时间")
		}
		to = parsed
	}
	from := to.Add(-DefaultReportWindow)
	if raw := c.Query("from"); raw != "" {
		parsed, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return utils.FailResponse(c, utils.StatusBadRequest, "from 参数必须是RFC3339时间")
		}
		from = parsed
	}

	report, err := api.engine.GeneratePerformanceReport(from, to)
	if err != nil {
		return utils.ErrorResponse(c, err)
	}
	return utils.SuccessResponse(c, report)
}
