package main

import (
	"context"
	"fmt"
	"log"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	httptransport "github.com/spec-kit/support-desk/internal/api/http"
	"github.com/spec-kit/support-desk/internal/api/http/handlers"
	"github.com/spec-kit/support-desk/internal/auth"
	"github.com/spec-kit/support-desk/internal/config"
	"github.com/spec-kit/support-desk/internal/events"
	"github.com/spec-kit/support-desk/internal/observability"
	"github.com/spec-kit/support-desk/internal/persistence"
	"github.com/spec-kit/support-desk/internal/realtime"
	"github.com/spec-kit/support-desk/internal/repository"
	"github.com/spec-kit/support-desk/internal/service"
	"github.com/spec-kit/support-desk/internal/storage"
	"github.com/spec-kit/support-desk/internal/worker"
)

const shutdownTimeout = 10 * time.Second

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	logger, err := observability.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("failed to init logger: %v", err)
	}
	defer logger.Sync() //nolint:errcheck

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Fatal("server stopped", zap.Error(err))
	}
	logger.Info("server stopped")
}

func run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := observability.NewMetrics(registry)

	pg, err := persistence.NewPostgres(ctx, cfg.Postgres, logger)
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}
	defer pg.Close()
	if pg.PoolHandle() == nil {
		return fmt.Errorf("POSTGRES_DSN is required")
	}

	if cfg.Postgres.RunMigrations {
		if err := persistence.RunMigrations(ctx, pg.PoolHandle(), cfg.Postgres.MigrationsDir, logger); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
	}

	redis := persistence.NewRedis(ctx, cfg.Redis, logger)
	defer redis.Close()

	feed, err := newChangeFeed(cfg, redis, logger)
	if err != nil {
		return err
	}
	defer feed.Close() //nolint:errcheck

	objects, err := storage.New(ctx, cfg.Storage)
	if err != nil {
		return fmt.Errorf("init storage: %w", err)
	}
	var filesDir string
	if local, ok := objects.(*storage.LocalStorage); ok {
		filesDir = local.Dir()
	}

	pool := pg.PoolHandle()
	userRepo := repository.NewUserRepository(pool)
	staffRepo := repository.NewStaffRepository(pool)
	ticketRepo := repository.NewTicketRepository(pool)
	messageRepo := repository.NewTicketMessageRepository(pool)
	notificationRepo := repository.NewNotificationRepository(pool)

	dispatcher := events.NewInMemoryDispatcher(logger)
	writeTimeout := cfg.Limits.WriteTimeout()

	gate := auth.NewGate(
		auth.NewTokenManager(cfg.Auth.JWTSecret, cfg.Auth.AccessTokenTTL()),
		auth.NewRedisSessionStore(redis.Client),
		logger,
	)
	authService := service.NewAuthService(service.AuthDependencies{
		UserRepo:   userRepo,
		StaffRepo:  staffRepo,
		Gate:       gate,
		BcryptCost: cfg.Auth.BcryptCost,
		Logger:     logger,
	})
	attachmentService := service.NewAttachmentService(objects, cfg.Limits.AttachmentMaxBytes, writeTimeout, logger)
	ticketService := service.NewTicketService(service.TicketDependencies{
		TicketRepo:   ticketRepo,
		MessageRepo:  messageRepo,
		Attachments:  attachmentService,
		Dispatcher:   dispatcher,
		Feed:         feed,
		Logger:       logger,
		WriteTimeout: writeTimeout,
		PhoneRegion:  cfg.App.PhoneRegion,
		FeedRetries:  cfg.Limits.FanoutMaxAttempts,
	})
	notificationService := service.NewNotificationService(service.NotificationDependencies{
		NotificationRepo: notificationRepo,
		StaffRepo:        staffRepo,
		Dispatcher:       dispatcher,
		Feed:             feed,
		Metrics:          metrics,
		Logger:           logger,
		MaxAttempts:      cfg.Limits.FanoutMaxAttempts,
		WriteTimeout:     writeTimeout,
		FanoutTimeout:    cfg.Limits.FanoutTimeout(),
	})
	staffService := service.NewStaffService(userRepo, staffRepo)
	fanout := worker.StartNotificationWorker(dispatcher, notificationService, worker.Options{
		Workers:   cfg.Limits.FanoutWorkers,
		QueueSize: cfg.Limits.FanoutQueueSize,
		Metrics:   metrics,
		Logger:    logger,
	})

	subscriptions := realtime.NewRouter(feed, ticketService, notificationService, metrics, logger)

	limiter := httptransport.NewRateLimiter(cfg.Limits.RateLimitRPS, cfg.Limits.RateLimitBurst)
	defer limiter.Shutdown()

	app := fiber.New(fiber.Config{
		AppName:               cfg.App.Name,
		DisableStartupMessage: true,
		// room for one attachment plus multipart framing
		BodyLimit: int(cfg.Limits.AttachmentMaxBytes) + 1<<20,
	})
	httptransport.RegisterMiddlewares(app, logger, metrics, cfg.App.RequestTimeout())
	httptransport.RegisterRoutes(app, httptransport.RouteConfig{
		Health: handlers.NewHealthHandler(cfg.App.Name, cfg.App.Version, map[string]handlers.Pinger{
			"postgres": pg,
			"redis":    redis,
		}),
		Users:          handlers.NewUsersHandler(authService),
		Tickets:        handlers.NewTicketsHandler(ticketService, attachmentService, notificationService),
		Attachments:    handlers.NewAttachmentsHandler(attachmentService),
		Notifications:  handlers.NewNotificationsHandler(notificationService),
		Streams:        handlers.NewStreamHandler(subscriptions, logger),
		Staff:          handlers.NewStaffHandler(staffService),
		AuthMiddleware: auth.NewAuthMiddleware(gate),
		RateLimiter:    limiter,
		Metrics:        promhttp.HandlerFor(registry, promhttp.HandlerOpts{Registry: registry}),
		FilesDir:       filesDir,
	})

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.App.Addr()))
		return app.Listen(cfg.App.Addr())
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		if err := app.ShutdownWithTimeout(shutdownTimeout); err != nil {
			return err
		}
		drainCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := fanout.Stop(drainCtx); err != nil {
			logger.Warn("notification queue not drained", zap.Error(err))
		}
		return nil
	})
	return g.Wait()
}

// newChangeFeed builds the transport selected by CHANGEFEED_DRIVER.
func newChangeFeed(cfg *config.Config, redis *persistence.Redis, logger *zap.Logger) (events.ChangeFeed, error) {
	switch cfg.ChangeFeed.Driver {
	case config.ChangeFeedNats:
		nc, err := nats.Connect(cfg.Nats.URL,
			nats.Name(cfg.App.Name),
			nats.MaxReconnects(-1),
			nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
				logger.Warn("nats disconnected", zap.Error(err))
			}),
		)
		if err != nil {
			return nil, fmt.Errorf("connect nats: %w", err)
		}
		logger.Info("change feed: nats", zap.String("url", cfg.Nats.URL))
		return events.NewNatsFeed(nc, cfg.Nats.SubjectPrefix), nil
	case config.ChangeFeedMemory:
		logger.Warn("change feed: in-process only; live views will not see writes from other instances")
		return events.NewMemoryFeed(), nil
	default:
		logger.Info("change feed: redis", zap.String("addr", cfg.Redis.Addr))
		return events.NewRedisFeed(redis.Client, cfg.ChangeFeed.ChannelPrefix), nil
	}
}
