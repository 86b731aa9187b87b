package common

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/natefinch/lumberjack"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LogLevel 日志级别类型
type LogLevel string

// 日志级别常量
const (
	DebugLevel LogLevel = "debug"
	InfoLevel  LogLevel = "info"
	WarnLevel  LogLevel = "warn"
	ErrorLevel LogLevel = "error"
)

// LogConfig 日志配置
type LogConfig struct {
	Level      LogLevel `yaml:"level" validate:"omitempty,oneof=debug info warn error"` // 日志级别
	Filename   string   `yaml:"file"`                                                     // 日志文件路径
	MaxSize    int      `yaml:"max_size" validate:"gte=0"`                                // 单个日志文件最大大小（MB）
	MaxBackups int      `yaml:"max_backups" validate:"gte=0"`                             // 最大保留历史日志文件数
	MaxAge     int      `yaml:"max_age" validate:"gte=0"`                                 // 日志文件保留天数
	Compress   bool     `yaml:"compress"`                                                 // 是否压缩历史日志
	Console    bool     `yaml:"console"`                                                  // 是否同时输出到控制台
}

// DefaultLogConfig 默认日志配置，仅输出到控制台
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:      InfoLevel,
		MaxSize:    100,
		MaxBackups: 3,
		MaxAge:     7,
		Console:    true,
	}
}

// Logger 包装了zap.Logger
type Logger struct {
	zap *zap.Logger
}

var defaultLogger *Logger

func init() {
	logger, err := NewLogger(DefaultLogConfig())
	if err != nil {
		panic(fmt.Sprintf("初始化默认日志器失败: %v", err))
	}
	defaultLogger = logger
}

// GetLogger 获取默认的日志器
func GetLogger() *Logger {
	return defaultLogger
}

// SetLogger 设置默认的日志器
func SetLogger(logger *Logger) {
	if logger != nil {
		defaultLogger = logger
	}
}

// GetZapLogger 获取带名称的zap日志器，每个组件使用独立的名称
func (l *Logger) GetZapLogger(name string) *zap.Logger {
	return l.zap.Named(name)
}

// NewLogger 创建新的日志器
func NewLogger(cfg LogConfig) (*Logger, error) {
	var writers []io.Writer

	encoderCfg := zapcore.EncoderConfig{
		TimeKey:        "time",
		LevelKey:       "level",
		NameKey:        "logger",
		CallerKey:      "caller",
		FunctionKey:    zapcore.OmitKey,
		MessageKey:     "msg",
		StacktraceKey:  "stacktrace",
		LineEnding:     zapcore.DefaultLineEnding,
		EncodeLevel:    zapcore.CapitalLevelEncoder,
		EncodeTime:     zapcore.ISO8601TimeEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
	}

	// 如果指定了日志文件，则配置文件输出
	if cfg.Filename != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.Filename), 0755); err != nil {
			return nil, fmt.Errorf("创建日志目录失败: %w", err)
		}

		writers = append(writers, &lumberjack.Logger{
			Filename:   cfg.Filename,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   cfg.Compress,
		})
	}

	if cfg.Console || len(writers) == 0 {
		writers = append(writers, os.Stdout)
	}

	core := zapcore.NewCore(
		zapcore.NewJSONEncoder(encoderCfg),
		zapcore.AddSync(io.MultiWriter(writers...)),
		getZapLevel(cfg.Level),
	)

	return &Logger{
		zap: zap.New(core, zap.AddCaller()),
	}, nil
}

// getZapLevel 将自定义日志级别转换为zap的日志级别
func getZapLevel(level LogLevel) zapcore.Level {
	switch level {
	case DebugLevel:
		return zapcore.DebugLevel
	case WarnLevel:
		return zapcore.WarnLevel
	case ErrorLevel:
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Sync 同步日志缓冲区
func (l *Logger) Sync() error {
	return l.zap.Sync()
}

// ZapLogger 获取底层的zap.Logger实例
func (l *Logger) ZapLogger() *zap.Logger {
	return l.zap
}
