// Package main runs the source sync worker: scheduled syncs plus queued refresh requests.
package main

import (
	"context"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/aura-webinar/livesync/config"
	"github.com/aura-webinar/livesync/internal/broadcasts"
	"github.com/aura-webinar/livesync/internal/models"
	"github.com/aura-webinar/livesync/internal/realtime"
	"github.com/aura-webinar/livesync/internal/scheduler"
	"github.com/aura-webinar/livesync/internal/sessions"
	"github.com/aura-webinar/livesync/internal/sources"
	"github.com/aura-webinar/livesync/internal/worker"
	"github.com/aura-webinar/livesync/pkg/database"
	"github.com/aura-webinar/livesync/pkg/queue"
	"github.com/aura-webinar/livesync/pkg/redis"
	"github.com/aura-webinar/livesync/pkg/telemetry"
)

func main() {
	logger := newLogger()
	defer logger.Sync()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("load config", zap.Error(err))
	}
	if cfg.Redis.Addr == "" || cfg.Store.Driver != config.StorePostgres {
		logger.Fatal("worker needs REDIS_ADDR and a postgres store")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		Enabled:     cfg.Telemetry.Endpoint != "",
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName + "-worker",
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		logger.Fatal("telemetry", zap.Error(err))
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTracing(flushCtx)
	}()

	pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
	if err != nil {
		logger.Fatal("database", zap.Error(err))
	}
	defer pool.Close()

	if err := database.Migrate(ctx, pool); err != nil {
		logger.Fatal("migrate", zap.Error(err))
	}

	rdb, err := redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
	if err != nil {
		logger.Fatal("redis", zap.Error(err))
	}
	defer rdb.Close()

	pubsub := realtime.NewRedisPubSub(rdb, logger)
	store := sessions.NewPublishing(sessions.NewRepository(pool), pubsub, logger)

	var provider sources.VideoProvider
	if cfg.HostedVideo.APIKey != "" && cfg.HostedVideo.ChannelID != "" {
		yt, err := sources.NewYouTubeProvider(ctx, cfg.HostedVideo.APIKey, cfg.HostedVideo.ChannelID)
		if err != nil {
			logger.Error("hosted video provider", zap.Error(err))
		} else {
			provider = yt
		}
	}

	sched, _ := worker.NewSourceScheduler(worker.SourceOptions{
		Store:       store,
		Feed:        broadcasts.NewPostgresRepository(pool),
		Provider:    provider,
		HostedVideo: sources.HostedVideoOptions{AccessTier: models.ParseAccessTier(cfg.HostedVideo.AccessTier), CourseRef: cfg.HostedVideo.CourseRef},
		AIPresenter: sources.AIPresenterOptions{StatusURL: cfg.AIPresenter.StatusURL, APIKey: cfg.AIPresenter.APIKey},
		Intervals: worker.Intervals{
			ManualBroadcast: cfg.Sync.ManualBroadcastInterval,
			HostedVideo:     cfg.Sync.HostedVideoInterval,
			AIPresenter:     cfg.Sync.AIPresenterInterval,
		},
		Scheduler: scheduler.Config{
			InitialDelay: cfg.Sync.InitialDelay,
			OnResult:     worker.NewReporter(pubsub, logger.Named("reporter")).OnResult,
		},
	}, logger)
	sched.Start(ctx)

	jobQueue := queue.NewQueue(rdb, logger)
	processor := worker.NewRefreshProcessor(jobQueue, sched, logger.Named("refresh"))

	logger.Info("worker started")
	processor.Run(ctx)

	sched.Stop()
	logger.Info("worker stopped")
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
