package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"sniperforge/internal/app"
	"sniperforge/internal/config"
	"sniperforge/internal/log"
	"sniperforge/internal/store"
)

func main() {
	configPath := flag.String("config", "", "配置文件路径（留空则读取 configs/config.yaml）")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "sniper: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("读取配置: %w", err)
	}

	logger, err := log.NewLogger(cfg.Logging)
	if err != nil {
		return fmt.Errorf("构建日志组件: %w", err)
	}
	defer func() { _ = logger.Sync() }()

	db, err := store.NewSQLite(cfg.Database)
	if err != nil {
		return fmt.Errorf("打开数据库: %w", err)
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			logger.Warn("关闭数据库失败", zap.Error(closeErr))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := app.New(cfg, logger, db).Run(ctx); err != nil {
		logger.Error("交易管线退出异常", zap.Error(err))
		return err
	}

	logger.Info("交易管线已停止")
	return nil
}
