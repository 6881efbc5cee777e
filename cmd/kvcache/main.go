package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/sirupsen/logrus"

	"kvcache/pkg/cache"
	"kvcache/pkg/config"
	"kvcache/pkg/logger"
)

var (
	configPath = flag.String("config", "", "配置文件路径 (yaml/json/toml)，为空时只读取环境变量")
	logLevel   = flag.String("log-level", "", "覆盖配置中的日志级别 (debug, info, warn, error)")
	logFormat  = flag.String("log-format", "", "覆盖配置中的日志格式 (json or text)")
)

func main() {
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.WithError(err).Fatal("加载配置失败")
	}
	if *logLevel != "" {
		cfg.Logging.Level = *logLevel
	}
	if *logFormat != "" {
		cfg.Logging.Format = *logFormat
	}

	// 日志输出到 stderr，stdout 留给命令结果
	logger.Init(logger.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Output: os.Stderr,
	})
	log := logger.WithComponent("kvcache")

	c, err := cache.NewFromConfig[string](cfg)
	if err != nil {
		log.WithError(err).Fatal("创建缓存失败")
	}

	log.WithFields(logrus.Fields{
		"max_size": cfg.Cache.MaxSize,
		"eviction": cfg.Cache.EvictionPolicy,
		"ttl":      cfg.Cache.DefaultTTL,
	}).Info("kvcache 已启动")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shell := NewShell(c, os.Stdout)
	if err := shell.Run(ctx, os.Stdin); err != nil {
		log.WithError(err).Error("读取输入失败")
		os.Exit(1)
	}
	log.Info("kvcache 已退出")
}
