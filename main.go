package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	global "PPRelay/global"
	"PPRelay/global/config"
	"PPRelay/logger"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		logger.Error("load config failed", zap.Error(err))
		os.Exit(1)
	}
	global.ConfigLogger(cfg)
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg); err != nil {
		logger.Error("relay exited", zap.Error(err))
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg config.AppConfig) error {
	// 1) 基础组件
	idGen := global.ConfigIds(cfg)
	auth, err := global.ConfigAuth(cfg)
	if err != nil {
		return err
	}
	store, err := global.ConfigStore(ctx, cfg, idGen)
	if err != nil {
		return err
	}
	deps := global.Deps{Store: store, Auth: auth, IDs: idGen}

	// 2) 可选：Redis 在线镜像、NATS 成员变更总线
	mirror, closeRedis, err := global.ConfigRedis(ctx, cfg)
	if err != nil {
		_ = store.Close(ctx)
		return err
	}
	if mirror != nil {
		deps.Mirror = mirror
		deps.Closers = append(deps.Closers, closeRedis)
	}
	bus, err := global.ConfigNats(cfg)
	if err != nil {
		_ = store.Close(ctx)
		return err
	}
	if bus != nil {
		deps.Bus = bus
	}

	// 3) 组装并启动
	app, err := global.NewApp(cfg, deps)
	if err != nil {
		return err
	}
	app.Start(ctx)

	srv := &http.Server{Addr: cfg.Addr(), Handler: app.Engine}
	serveErr := make(chan error, 1)
	go func() {
		logger.Info("relay listening", zap.String("addr", cfg.Addr()), zap.Int64("node_id", cfg.NodeID))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down")
	case err := <-serveErr:
		if err != nil {
			logger.Error("http server failed", zap.Error(err))
		}
	}

	// 4) 优雅关停：先停止接收，再断开会话、清理后台任务
	sctx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(sctx); err != nil {
		logger.Warn("http shutdown", zap.Error(err))
	}
	return app.Shutdown(sctx)
}
