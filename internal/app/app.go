package app

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/ignatzorin/yodo-backend/internal/config"
	"github.com/ignatzorin/yodo-backend/internal/db"
	"github.com/ignatzorin/yodo-backend/internal/events"
	"github.com/ignatzorin/yodo-backend/internal/gateway"
	"github.com/ignatzorin/yodo-backend/internal/http/handlers"
	"github.com/ignatzorin/yodo-backend/internal/http/middleware"
	"github.com/ignatzorin/yodo-backend/internal/http/router"
	"github.com/ignatzorin/yodo-backend/internal/jobs"
	"github.com/ignatzorin/yodo-backend/internal/logger"
	"github.com/ignatzorin/yodo-backend/internal/queue"
	"github.com/ignatzorin/yodo-backend/internal/repository"
	"github.com/ignatzorin/yodo-backend/internal/service"
	"github.com/ignatzorin/yodo-backend/internal/ws"
)

const (
	memoryQueueSize = 1024
	shutdownTimeout = 10 * time.Second
)

// App собранное приложение: подключения, сервисы и фоновые процессы.
type App struct {
	Config *config.Config
	DB     *sqlx.DB
	Redis  *redis.Client

	Tokens        *service.TokenManager
	Escrow        *service.EscrowService
	Orders        *service.OrderService
	Webhooks      *service.WebhookService
	Notifications *service.NotificationService

	hub        *ws.Hub
	queue      queue.Queue
	dispatcher *service.NotificationDispatcher
	publisher  events.Publisher
	log        *logrus.Entry
}

// New подключается к базе и брокерам и собирает сервисы. Миграции не
// выполняются, см. Migrate.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	a := &App{Config: cfg, log: logger.Component("app")}

	conn, err := db.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, err
	}
	a.DB = conn

	if cfg.Redis.Addr != "" {
		rdb, err := queue.NewRedisClient(cfg.Redis)
		if err != nil {
			a.Close()
			return nil, err
		}
		a.Redis = rdb
		a.queue = queue.NewRedisQueue(rdb, cfg.Redis.QueueKey)
	} else {
		a.log.Warn("REDIS_ADDR не задан, уведомления в памяти процесса")
		a.queue = queue.NewMemoryQueue(memoryQueueSize)
	}

	a.publisher, err = events.NewPublisher(cfg.Kafka)
	if err != nil {
		a.Close()
		return nil, err
	}

	ledgerRepo := repository.NewLedgerRepository(conn)
	orderRepo := repository.NewOrderRepository(conn)
	notificationRepo := repository.NewNotificationRepository(conn)

	gw := gateway.NewClient(cfg.Gateway.BaseURL, cfg.Gateway.ShopID, cfg.Gateway.SecretKey, cfg.Gateway.Timeout)

	a.Tokens = NewTokenManager(cfg)
	a.Notifications = service.NewNotificationService(notificationRepo, a.queue)
	a.Escrow = service.NewEscrowService(ledgerRepo, orderRepo, gw, a.Notifications, a.publisher, service.EscrowConfig{
		CommissionPercent:   cfg.EscrowCommissionPercent,
		Currency:            cfg.Currency,
		FrontendURL:         cfg.FrontendURL,
		GatewayTimeout:      2 * cfg.Gateway.Timeout,
		HoldRecheckInterval: cfg.ReconcileHoldInterval,
	})
	a.Orders = service.NewOrderService(orderRepo, ledgerRepo, a.Notifications, cfg.PlatformFeePercent)

	a.Webhooks, err = service.NewWebhookService(a.Escrow, gw, cfg.Webhook)
	if err != nil {
		a.Close()
		return nil, err
	}

	a.hub = ws.NewHub()
	a.dispatcher = service.NewNotificationDispatcher(a.queue, a.Notifications, a.hub, cfg.NotifyWorkers)

	return a, nil
}

// NewTokenManager токены проверяются тем же секретом, что и в основном API.
func NewTokenManager(cfg *config.Config) *service.TokenManager {
	return service.NewTokenManager(cfg.JWTSecret, cfg.AccessTokenTTL)
}

// Migrate накатывает миграции из cfg.MigrationsPath.
func (a *App) Migrate(ctx context.Context) error {
	return db.RunMigrations(ctx, a.DB, a.Config.MigrationsPath)
}

// Handler собирает HTTP роутер.
func (a *App) Handler() http.Handler {
	checks := map[string]handlers.Pinger{"database": a.DB.PingContext}
	if a.Redis != nil {
		checks["redis"] = func(ctx context.Context) error { return a.Redis.Ping(ctx).Err() }
	}

	return router.SetupRouter(a.Config, router.Handlers{
		Health:       handlers.NewHealthHandler(checks),
		Payment:      handlers.NewPaymentHandler(a.Escrow, a.Webhooks),
		Order:        handlers.NewOrderHandler(a.Orders),
		Notification: handlers.NewNotificationHandler(a.Notifications),
		WS:           handlers.NewWSHandler(a.hub, a.Tokens, a.Config.AllowedOrigins),
	}, a.Tokens, middleware.NewLimiterStore(a.Redis))
}

// Run запускает HTTP сервер, hub, доставку уведомлений и сверку платежей.
// Возвращается после отмены ctx, когда все процессы остановлены.
func (a *App) Run(ctx context.Context) error {
	if rq, ok := a.queue.(*queue.RedisQueue); ok {
		n, err := rq.Recover(ctx)
		if err != nil {
			return err
		}
		if n > 0 {
			a.log.WithField("count", n).Info("requeued unacked notifications")
		}
	}

	scheduler := jobs.NewScheduler(time.Second, 5*time.Second)
	scheduler.Register(jobs.NewReconcileJob(a.Escrow, a.Config.ReconcileInterval, a.Config.ReconcileGrace))

	server := &http.Server{
		Addr:              ":" + a.Config.HTTPPort,
		Handler:           a.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.hub.Run(ctx)
		return nil
	})
	g.Go(func() error { return a.dispatcher.Run(ctx) })
	g.Go(func() error { return scheduler.Run(ctx) })

	g.Go(func() error {
		a.log.WithField("port", a.Config.HTTPPort).Info("HTTP сервер запущен")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	})
	g.Go(func() error {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
		return nil
	})

	return g.Wait()
}

// Close освобождает подключения.
func (a *App) Close() {
	if a.publisher != nil {
		if err := a.publisher.Close(); err != nil {
			a.log.WithError(err).Warn("kafka producer close failed")
		}
	}
	if a.Redis != nil {
		if err := a.Redis.Close(); err != nil {
			a.log.WithError(err).Warn("redis close failed")
		}
	}
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.log.WithError(err).Warn("postgres close failed")
		}
	}
}
