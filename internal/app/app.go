package app

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"sniperforge/internal/config"
	"sniperforge/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 初始化交易管线并阻塞至退出信号。
// 交易请求通过监控接口的 POST /trade 进入，系统本身不轮询。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("交易系统已初始化",
		zap.String("environment", a.cfg.App.Environment),
		zap.Bool("simulation", a.cfg.Execution.Simulation),
		zap.Int("price_sources", len(a.cfg.Pricing.Sources)),
	)

	orch, err := newOrchestrator(a.cfg, a.logger, a.store)
	if err != nil {
		return err
	}

	orch.Start(ctx)
	defer orch.Close()

	if err := startMonitorServer(ctx, orch, a.cfg, a.logger); err != nil {
		return fmt.Errorf("启动监控服务失败: %w", err)
	}

	<-ctx.Done()
	if err := ctx.Err(); err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("系统异常退出: %w", err)
	}
	a.logger.Info("系统收到退出信号，正在停止")
	return nil
}
