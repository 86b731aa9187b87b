// Package app 组装监控引擎、依赖探针和HTTP服务
package app

import (
	"fmt"
	"os"
	"time"

	"github.com/xsxdot/aio-apm/app/config"
	"github.com/xsxdot/aio-apm/pkg/common"
	"github.com/xsxdot/aio-apm/pkg/monitoring"
	"github.com/xsxdot/aio-apm/pkg/monitoring/api"
	"github.com/xsxdot/aio-apm/pkg/monitoring/health"
	"github.com/xsxdot/aio-apm/pkg/monitoring/models"
	"github.com/xsxdot/aio-apm/pkg/utils"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	json "github.com/json-iterator/go"
	"go.uber.org/zap"
)

// BuildProbes 按配置创建依赖探针，未配置的组件不创建探针
func BuildProbes(cfg *config.Config) (map[string]health.Probe, error) {
	probes := make(map[string]health.Probe, len(models.Components))

	if cfg.Database.Driver != "" {
		probe, err := health.NewDatabaseProbe(cfg.Database)
		if err != nil {
			return nil, fmt.Errorf("创建数据库探针失败: %w", err)
		}
		probes[models.ComponentDatabase] = probe
	}
	if cfg.Redis.Addr != "" {
		probes[models.ComponentCache] = health.NewRedisProbe(cfg.Redis)
	}
	if cfg.Nats.URL != "" {
		probe, err := health.NewNatsProbe(cfg.Nats)
		if err != nil {
			return nil, fmt.Errorf("创建NATS探针失败: %w", err)
		}
		probes[models.ComponentRealtime] = probe
	}
	if len(cfg.ExternalAPIs) > 0 {
		probes[models.ComponentExternalAPIs] = health.NewExternalProbe(cfg.ExternalAPIs)
	}
	probes[models.ComponentStorage] = health.NewDiskProbe(cfg.Storage.Path)

	return probes, nil
}

// NewMonitor 根据配置创建监控引擎，logger 为nil时使用全局日志器
func NewMonitor(cfg *config.Config, logger *zap.Logger) (*monitoring.Monitor, error) {
	if logger == nil {
		logger = common.GetLogger().GetZapLogger("monitor")
	}
	probes, err := BuildProbes(cfg)
	if err != nil {
		return nil, err
	}

	instanceID, _ := os.Hostname()
	return monitoring.New(monitoring.Config{
		ServiceName:        cfg.AppName,
		InstanceID:         instanceID,
		Env:                cfg.Env,
		CollectInterval:    cfg.Monitor.CollectInterval,
		HealthInterval:     cfg.Monitor.HealthInterval,
		Retention:          cfg.Monitor.Retention,
		Thresholds:         cfg.Monitor.Thresholds,
		Probes:             probes,
		ProbeTimeouts:      cfg.Monitor.ProbeTimeouts,
		Notifiers:          cfg.Webhooks,
		NotifierQueueSize:  cfg.Monitor.NotifierQueueSize,
		SlowQueryThreshold: cfg.Monitor.SlowQueryThreshold,
		ReportCron:         cfg.Monitor.ReportCron,
		SchedulerWorkers:   cfg.Monitor.SchedulerWorkers,
		Logger:             logger,
	})
}

// GetApp 创建HTTP服务，所有接口注册在 /api 下，只有 /api 下的请求写入接口指标
func GetApp(monitor *monitoring.Monitor, logger *zap.Logger) *fiber.App {
	if logger == nil {
		logger = common.GetLogger().GetZapLogger("http")
	}
	app := fiber.New(fiber.Config{
		BodyLimit:    10 * 1024 * 1024,
		ReadTimeout:  30 * time.Second,
		JSONEncoder:  json.ConfigCompatibleWithStandardLibrary.Marshal,
		JSONDecoder:  json.ConfigCompatibleWithStandardLibrary.Unmarshal,
		ErrorHandler: errHandler,
	})
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowHeaders: "*",
		MaxAge:       1800,
	}))
	app.Use(recover.New(recover.Config{
		EnableStackTrace: true,
		StackTraceHandler: func(c *fiber.Ctx, e interface{}) {
			logger.Error("请求处理崩溃", zap.String("path", c.Path()), zap.Any("panic", e))
		},
	}))

	app.Use(api.NewAPIMonitor(monitor,
		api.OnlyPathStartWith("/api/"),
		api.SkipMethods(fiber.MethodOptions),
		api.SkipHealthCheck,
		api.SkipStaticFiles,
	))
	api.NewAPI(monitor, monitor.GetExporter().Handler(), logger).RegisterRoutes(app.Group("/api"))

	return app
}

// errHandler 未处理的错误统一转为响应体
func errHandler(c *fiber.Ctx, err error) error {
	return utils.ErrorResponse(c, err)
}
