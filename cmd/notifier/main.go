package main

import (
	"context"
	"errors"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"taskmanager/internal/config"
	"taskmanager/internal/notifier"
	"taskmanager/internal/pkg/logger"
	"taskmanager/internal/pkg/metrics"
	"taskmanager/internal/pkg/noticequeue"
	"taskmanager/internal/pkg/notify"
	"taskmanager/internal/pkg/ratelimit"
	"taskmanager/internal/store"
)

// main 是通知投递服务的入口函数。
//
// 它负责：
// 1. 加载配置并初始化日志
// 2. 连接数据库（解析接收人）与 Redis（通知 Stream）
// 3. 启动派发器与 Metrics 服务
// 4. 收到信号后停止读取，等待已入队的邮件发送完成
func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	appLogger := logger.NewForEnv(cfg.App.Env, cfg.App.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := store.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		appLogger.Error("open database failed", slog.String("error", err.Error()))
		os.Exit(1)
	}
	st := store.New(db)

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		appLogger.Error("ping redis failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	mailer := notify.NewEmailNotifier(&cfg.Email, appLogger)
	if !mailer.Configured() {
		appLogger.Warn("smtp not configured, deliveries will fail and be dead-lettered")
	}

	metrics.InitMetrics()

	hostname, _ := os.Hostname()
	consumerID := hostname + "-" + uuid.NewString()[:8]
	consumer, err := noticequeue.NewConsumer(ctx, rdb, appLogger,
		cfg.Notifier.Stream, cfg.Notifier.Group, consumerID,
		noticequeue.WithMaxRetry(cfg.Notifier.MaxRetry),
		noticequeue.WithBatchSize(int64(cfg.Notifier.Workers)))
	if err != nil {
		appLogger.Error("init notice consumer failed", slog.String("error", err.Error()))
		os.Exit(1)
	}

	throttle := ratelimit.NewLimiter(rdb, appLogger, cfg.Notifier.SendRate, cfg.Notifier.SendBurst)
	dispatcher := notifier.NewDispatcher(consumer, st, mailer, throttle, appLogger,
		cfg.Notifier.Workers, cfg.Notifier.QueueCapacity)

	metricsServer := &http.Server{
		Addr:              cfg.Notifier.MetricsAddr,
		Handler:           promhttp.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		appLogger.Info("notifier metrics server started", slog.String("addr", cfg.Notifier.MetricsAddr))
		if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLogger.Error("metrics server stopped with error", slog.String("error", err.Error()))
		}
	}()

	if err := dispatcher.Run(ctx); err != nil {
		appLogger.Error("notice dispatcher stopped", slog.String("error", err.Error()))
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(shutdownCtx); err != nil {
		appLogger.Error("metrics shutdown error", slog.String("error", err.Error()))
	}
	if sqlDB, err := db.DB(); err == nil {
		_ = sqlDB.Close()
	}
	appLogger.Info("notifier stopped gracefully")
}
