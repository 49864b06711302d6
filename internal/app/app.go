package app

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"fractrade-executor/internal/config"
	"fractrade-executor/internal/exchange"
	"fractrade-executor/internal/execution"
	"fractrade-executor/internal/feed"
	"fractrade-executor/internal/journal"
	"fractrade-executor/internal/store"
)

// App 聚合核心依赖并驱动系统生命周期。
type App struct {
	cfg    *config.Config
	logger *zap.Logger
	store  *store.Store
}

// New 创建 App 实例，store 为 nil 时不记录动作日志。
func New(cfg *config.Config, logger *zap.Logger, store *store.Store) *App {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &App{
		cfg:    cfg,
		logger: logger,
		store:  store,
	}
}

// Run 建立推送连接并阻塞到 ctx 结束，返回前会完成优雅关闭。
func (a *App) Run(ctx context.Context) error {
	a.logger.Info("执行器已初始化",
		zap.String("executor", a.cfg.Executor),
		zap.String("endpoint", a.cfg.Feed.Endpoint()),
		zap.String("environment", a.cfg.Hyperliquid.Environment),
		zap.Bool("client_execution", a.cfg.Hyperliquid.HasCredentials()),
	)

	handler, err := a.newExecutor()
	if err != nil {
		return err
	}

	var opts []feed.Option
	if a.store != nil {
		recorder, err := journal.NewService(ctx, a.store, a.logger)
		if err != nil {
			return err
		}
		opts = append(opts, feed.WithRecorder(recorder))

		if a.cfg.Monitor.Port > 0 {
			if err := startMonitorServer(ctx, recorder, a.cfg.Monitor.Port, a.logger); err != nil {
				return err
			}
		}
	}

	dispatcher, err := feed.NewDispatcher(a.cfg.Feed, handler, a.logger, opts...)
	if err != nil {
		return fmt.Errorf("app: 创建分发器失败: %w", err)
	}

	// 由 Stop 负责关闭，保证服务端收到正常关闭帧。
	if err := dispatcher.Start(context.WithoutCancel(ctx)); err != nil {
		return fmt.Errorf("app: 启动分发器失败: %w", err)
	}

	<-ctx.Done()
	a.logger.Info("系统收到退出信号，正在停止", zap.String("state", dispatcher.State().String()))
	dispatcher.Stop()
	return nil
}

func (a *App) newExecutor() (*execution.Executor, error) {
	if a.cfg.Executor != config.ExecutorSimple {
		return nil, fmt.Errorf("app: 不支持的执行器 %q", a.cfg.Executor)
	}

	if !a.cfg.Hyperliquid.HasCredentials() {
		a.logger.Warn("未配置 Hyperliquid 凭证，仅处理服务端代执行的交易")
		return execution.NewExecutor(nil, a.logger), nil
	}

	client, err := exchange.NewClient(a.cfg.Hyperliquid, a.logger)
	if err != nil {
		return nil, fmt.Errorf("app: 初始化 Hyperliquid 客户端失败: %w", err)
	}
	return execution.NewExecutor(client, a.logger), nil
}
