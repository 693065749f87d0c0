// Package main runs the live session HTTP server with the viewer WebSocket and graceful shutdown.
package main

import (
	"context"
	"errors"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"

	"github.com/aura-webinar/livesync/config"
	"github.com/aura-webinar/livesync/internal/auth"
	"github.com/aura-webinar/livesync/internal/broadcasts"
	"github.com/aura-webinar/livesync/internal/entitlements"
	"github.com/aura-webinar/livesync/internal/live"
	"github.com/aura-webinar/livesync/internal/middleware"
	"github.com/aura-webinar/livesync/internal/models"
	"github.com/aura-webinar/livesync/internal/realtime"
	"github.com/aura-webinar/livesync/internal/reconcile"
	"github.com/aura-webinar/livesync/internal/scheduler"
	"github.com/aura-webinar/livesync/internal/sessions"
	"github.com/aura-webinar/livesync/internal/sources"
	"github.com/aura-webinar/livesync/internal/viewer"
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

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := telemetry.Setup(ctx, telemetry.Options{
		Enabled:     cfg.Telemetry.Endpoint != "",
		Endpoint:    cfg.Telemetry.Endpoint,
		ServiceName: cfg.Telemetry.ServiceName,
		SampleRatio: cfg.Telemetry.SampleRatio,
	})
	if err != nil {
		logger.Fatal("telemetry", zap.Error(err))
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTracing(flushCtx); err != nil {
			logger.Warn("telemetry shutdown", zap.Error(err))
		}
	}()

	// Push channel: Redis when configured so several server instances share it.
	var (
		rdb    *goredis.Client
		pubsub realtime.PubSub = realtime.NewLocalBroker()
	)
	if cfg.Redis.Addr != "" {
		rdb, err = redis.NewClient(ctx, redis.Options{Addr: cfg.Redis.Addr, Password: cfg.Redis.Password, DB: cfg.Redis.DB}, logger)
		if err != nil {
			logger.Fatal("redis", zap.Error(err))
		}
		defer rdb.Close()
		pubsub = realtime.NewRedisPubSub(rdb, logger)
	}

	st, err := openStores(ctx, cfg, logger)
	if err != nil {
		logger.Fatal("store", zap.Error(err))
	}
	defer st.close()
	store := sessions.NewPublishing(st.sessions, pubsub, logger)

	windows := reconcile.Windows{
		ManualBroadcast: cfg.Reconcile.ManualBroadcastWindow,
		HostedVideo:     cfg.Reconcile.HostedVideoWindow,
		AIPresenter:     cfg.Reconcile.AIPresenterWindow,
		Lookahead:       cfg.Reconcile.Lookahead,
		Grace:           cfg.Reconcile.Grace,
	}

	// Sources always get a scheduler so operator actions apply immediately; its
	// background loops only start in embedded mode.
	sched, manual := worker.NewSourceScheduler(worker.SourceOptions{
		Store:       store,
		Feed:        st.broadcasts,
		Provider:    hostedVideoProvider(ctx, cfg, logger),
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

	var refresher live.Refresher = live.NewSchedulerRefresher(sched)
	if cfg.Sync.Mode == config.SyncWorker {
		refresher = worker.NewQueueRefresher(queue.NewQueue(rdb, logger))
		logger.Info("Source sync delegated to worker")
	} else {
		sched.Start(ctx)
		defer sched.Stop()
	}

	jwtService := auth.NewJWTService(cfg.JWT.Secret, cfg.JWT.Issuer, cfg.JWT.TTL)

	hub := viewer.NewHub(viewer.Options{
		Store:          store,
		Counter:        store,
		Upstream:       pubsub,
		Entitlements:   st.entitlements,
		Windows:        windows,
		Tick:           cfg.Sync.EngineTick,
		Refresher:      live.RefreshFunc(refresher),
		AllowedOrigins: cfg.Server.CORSAllowedOrigins,
	}, logger.Named("viewer"))

	handler := live.NewHandler(live.Options{
		Store:        store,
		Broadcasts:   st.broadcasts,
		Applier:      manual,
		Refresher:    refresher,
		Entitlements: st.entitlements,
		Viewers:      hub,
		Windows:      windows,
	}, logger.Named("live"))

	router := gin.New()
	router.Use(gin.Recovery())
	router.Use(middleware.CORS(cfg.Server.CORSAllowedOrigins))
	router.Use(middleware.Logger(logger, "/health"))
	live.Register(router, handler, jwtService, viewer.ServeWs(hub))

	srv := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("server listening", zap.String("port", cfg.Server.Port), zap.String("store", cfg.Store.Driver), zap.String("sync_mode", cfg.Sync.Mode))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Error("server shutdown", zap.Error(err))
		}
		if err := hub.Shutdown(shutdownCtx); err != nil {
			logger.Error("viewer shutdown", zap.Error(err))
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		logger.Error("server", zap.Error(err))
	}
	logger.Info("server stopped")
}

// stores bundles the driver specific repositories.
type stores struct {
	sessions     sessions.Store
	broadcasts   broadcasts.Repository
	entitlements entitlements.Provider
	close        func()
}

func openStores(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*stores, error) {
	switch cfg.Store.Driver {
	case config.StorePostgres:
		pool, err := database.NewPostgresPool(ctx, cfg.Database.DSN(), cfg.Database.MaxConns, logger)
		if err != nil {
			return nil, err
		}
		if err := database.Migrate(ctx, pool); err != nil {
			pool.Close()
			return nil, err
		}
		return &stores{
			sessions:     sessions.NewRepository(pool),
			broadcasts:   broadcasts.NewPostgresRepository(pool),
			entitlements: entitlements.NewRepository(pool),
			close:        pool.Close,
		}, nil
	case config.StoreSQLite:
		db, err := database.OpenSQLite(ctx, cfg.Store.SQLitePath, logger)
		if err != nil {
			return nil, err
		}
		return &stores{
			sessions:     sessions.NewSQLiteStore(db, time.Now),
			broadcasts:   broadcasts.NewSQLiteRepository(db, time.Now),
			entitlements: entitlements.NewMemory(),
			close:        func() { db.Close() },
		}, nil
	default:
		logger.Warn("Using in-memory store; data is lost on restart")
		return &stores{
			sessions:     sessions.NewMemoryStore(time.Now),
			broadcasts:   broadcasts.NewMemoryRepository(time.Now),
			entitlements: entitlements.NewMemory(),
			close:        func() {},
		}, nil
	}
}

// hostedVideoProvider returns nil when the video host is not configured.
func hostedVideoProvider(ctx context.Context, cfg *config.Config, logger *zap.Logger) sources.VideoProvider {
	if cfg.HostedVideo.APIKey == "" || cfg.HostedVideo.ChannelID == "" {
		logger.Warn("Hosted video source not configured")
		return nil
	}
	p, err := sources.NewYouTubeProvider(ctx, cfg.HostedVideo.APIKey, cfg.HostedVideo.ChannelID)
	if err != nil {
		logger.Error("hosted video provider", zap.Error(err))
		return nil
	}
	return p
}

func newLogger() *zap.Logger {
	config := zap.NewProductionConfig()
	config.EncoderConfig.TimeKey = "timestamp"
	config.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder
	logger, _ := config.Build()
	return logger
}
