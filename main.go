package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/xsxdot/aio-apm/app"
	"github.com/xsxdot/aio-apm/app/config"
	"github.com/xsxdot/aio-apm/pkg/common"
	"github.com/xsxdot/aio-apm/pkg/utils"

	"go.uber.org/zap"
)

func main() {
	env, filename := getBaseInfo()

	cfg, err := config.LoadFile(filename, env)
	if err != nil {
		panic(fmt.Sprintf("加载配置失败,因为：%v", err))
	}

	rootLogger, err := common.NewLogger(cfg.Log)
	if err != nil {
		panic(fmt.Sprintf("初始化日志失败,因为：%v", err))
	}
	common.SetLogger(rootLogger)
	defer rootLogger.Sync()
	logger := rootLogger.GetZapLogger(cfg.AppName)

	monitor, err := app.NewMonitor(cfg, rootLogger.ZapLogger())
	if err != nil {
		logger.Fatal("创建监控引擎失败", zap.Error(err))
	}
	if err := monitor.StartMonitoring(); err != nil {
		logger.Fatal("启动监控引擎失败", zap.Error(err))
	}

	fiberApp := app.GetApp(monitor, logger)

	utils.SafeGo(func() {
		addr := fmt.Sprintf(":%d", cfg.Port)
		logger.Info("HTTP服务已启动", zap.String("addr", addr), zap.String("env", cfg.Env))
		if err := fiberApp.Listen(addr); err != nil {
			logger.Error("HTTP服务异常退出", zap.Error(err))
		}
	}, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	<-ctx.Done()

	logger.Info("收到退出信号，开始关闭服务")
	if err := fiberApp.ShutdownWithTimeout(10 * time.Second); err != nil {
		logger.Error("关闭HTTP服务失败", zap.Error(err))
	}
	if err := monitor.StopMonitoring(); err != nil {
		logger.Error("停止监控引擎失败", zap.Error(err))
	}
	logger.Info("服务已退出")
}

func getBaseInfo() (string, string) {
	env := flag.String("env", "dev", "环境配置 (dev, prod, test等)")
	configFile := flag.String("config", "", "配置文件路径，默认为 ./resources/{env}.yaml")
	flag.Parse()

	if *configFile != "" {
		return *env, *configFile
	}
	getwd, err := os.Getwd()
	if err != nil {
		panic(fmt.Sprintf("获取当前文件位置失败,因为：%v", err))
	}
	return *env, getwd + "/resources/" + *env + ".yaml"
}
