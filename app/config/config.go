// Package config 读取并校验 APM 服务的YAML配置
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/xsxdot/aio-apm/pkg/common"
	"github.com/xsxdot/aio-apm/pkg/monitoring/alerting"
	"github.com/xsxdot/aio-apm/pkg/monitoring/health"
	"github.com/xsxdot/aio-apm/pkg/monitoring/models"
	"github.com/xsxdot/aio-apm/pkg/utils"

	"gopkg.in/yaml.v3"
)

const (
	DefaultAppName     = "aio-apm"
	DefaultPort        = 9100
	DefaultStoragePath = "/"
)

// Config 服务配置
type Config struct {
	AppName      string                  `yaml:"app-name" validate:"required" comment:"应用名称"`
	Env          string                  `yaml:"env"`
	Port         int                     `yaml:"port" validate:"gt=0,lte=65535" comment:"端口"`
	Log          common.LogConfig        `yaml:"log"`
	Monitor      MonitorConfig           `yaml:"monitor"`
	Database     health.DatabaseConfig   `yaml:"database"`
	Redis        health.RedisConfig      `yaml:"redis"`
	Nats         health.NatsConfig       `yaml:"nats"`
	ExternalAPIs []health.Endpoint       `yaml:"external_apis" validate:"dive"`
	Storage      StorageConfig           `yaml:"storage"`
	Webhooks     []models.NotifierConfig `yaml:"webhooks" validate:"dive"`
}

// MonitorConfig 监控引擎配置，时长使用 10s、1m 这样的写法。
// 指标序列容量固定为1000，不提供配置项
type MonitorConfig struct {
	CollectInterval    time.Duration               `yaml:"collect_interval" validate:"gte=0" comment:"采集间隔"`
	HealthInterval     time.Duration               `yaml:"health_interval" validate:"gte=0" comment:"健康检查间隔"`
	Retention          time.Duration               `yaml:"retention" validate:"gte=0" comment:"指标保留时长"`
	Thresholds         map[string]models.Threshold `yaml:"thresholds"`
	ProbeTimeouts      map[string]time.Duration    `yaml:"probe_timeouts"`
	ReportCron         string                      `yaml:"report_cron"`
	SlowQueryThreshold float64                     `yaml:"slow_query_ms" validate:"gte=0" comment:"慢查询阈值"`
	NotifierQueueSize  int                         `yaml:"notifier_queue_size" validate:"gte=0" comment:"通知队列长度"`
	SchedulerWorkers   int                         `yaml:"scheduler_workers" validate:"gte=0" comment:"调度器工作者数量"`
}

// StorageConfig 存储探针检测的磁盘路径
type StorageConfig struct {
	Path string `yaml:"path"`
}

// Default 返回默认配置
func Default() Config {
	return Config{
		AppName: DefaultAppName,
		Port:    DefaultPort,
		Log:     common.DefaultLogConfig(),
		Storage: StorageConfig{Path: DefaultStoragePath},
	}
}

// Load 在默认配置之上解析YAML内容并校验，未知的配置项视为错误
func Load(file []byte, env string) (*Config, error) {
	cfg := Default()
	decoder := yaml.NewDecoder(bytes.NewReader(file))
	decoder.KnownFields(true)
	if err := decoder.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("解析配置文件失败: %w", err)
	}
	if env != "" {
		cfg.Env = env
	}
	cfg.fillDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// LoadFile 读取配置文件
func LoadFile(filename, env string) (*Config, error) {
	file, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件 %s 失败: %w", filename, err)
	}
	return Load(file, env)
}

// fillDefaults YAML中显式置空的字段回落到默认值
func (c *Config) fillDefaults() {
	if c.AppName == "" {
		c.AppName = DefaultAppName
	}
	if c.Port == 0 {
		c.Port = DefaultPort
	}
	if c.Log.Level == "" {
		c.Log.Level = common.InfoLevel
	}
	if c.Storage.Path == "" {
		c.Storage.Path = DefaultStoragePath
	}
}

// Validate 校验配置
func (c *Config) Validate() error {
	if err := utils.ValidateError(c); err != nil {
		return err
	}

	known := make(map[string]bool, len(models.Components))
	for _, name := range models.Components {
		known[name] = true
	}
	for name, timeout := range c.Monitor.ProbeTimeouts {
		if !known[name] {
			return common.NewValidationError(fmt.Sprintf("未知的组件 %s", name), nil)
		}
		if timeout <= 0 {
			return common.NewValidationError(fmt.Sprintf("组件 %s 的探测超时必须大于0", name), nil)
		}
	}
	for name, threshold := range c.Monitor.Thresholds {
		if err := alerting.CheckThreshold(name, threshold); err != nil {
			return err
		}
	}
	return nil
}
