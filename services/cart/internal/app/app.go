package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/syntex82/nodepress/pkg/database"
	"github.com/syntex82/nodepress/pkg/health"
	pkgkafka "github.com/syntex82/nodepress/pkg/kafka"
	"github.com/syntex82/nodepress/pkg/middleware"
	"github.com/syntex82/nodepress/pkg/tracing"
	"github.com/syntex82/nodepress/services/cart/internal/config"
	"github.com/syntex82/nodepress/services/cart/internal/event"
	handler "github.com/syntex82/nodepress/services/cart/internal/handler/http"
	"github.com/syntex82/nodepress/services/cart/internal/repository"
	"github.com/syntex82/nodepress/services/cart/internal/repository/memory"
	"github.com/syntex82/nodepress/services/cart/internal/repository/postgres"
	"github.com/syntex82/nodepress/services/cart/internal/service"
	"github.com/syntex82/nodepress/services/cart/migrations"
)

const idempotencyTTL = 24 * time.Hour

// App wires together all dependencies and runs the cart service.
type App struct {
	cfg            *config.Config
	logger         *slog.Logger
	pool           *pgxpool.Pool
	rdb            *redis.Client
	producer       *pkgkafka.Producer
	consumer       *pkgkafka.Consumer
	httpServer     *http.Server
	tracerShutdown func(context.Context) error
}

// NewApp creates a new application instance, initializing all dependencies.
func NewApp(cfg *config.Config, logger *slog.Logger) (*App, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	a := &App{cfg: cfg, logger: logger}

	tracerShutdown, err := tracing.InitTracer(ctx, cfg.TracingConfig())
	if err != nil {
		return nil, fmt.Errorf("init tracer: %w", err)
	}
	a.tracerShutdown = tracerShutdown

	store, err := a.initStore(ctx)
	if err != nil {
		_ = a.closeResources()
		return nil, err
	}

	a.initRedis(ctx)
	cat := a.buildCatalog()

	// A nil interface keeps the service from publishing at all.
	var events service.EventPublisher
	if cfg.KafkaEnabled {
		brokers := cfg.Brokers()
		a.producer = pkgkafka.NewProducer(pkgkafka.DefaultProducerConfig(brokers), logger)
		events = event.NewProducer(a.producer, logger)
		logger.Info("kafka producer initialized", slog.Any("brokers", brokers))

		if cat.invalidator != nil {
			consumerHandler := event.NewConsumerHandler(cat.invalidator, logger)
			a.consumer = event.NewConsumer(brokers, consumerHandler, a.idempotencyStore(), logger)
			logger.Info("catalog consumer initialized",
				slog.String("group", event.ConsumerGroupID),
				slog.Any("topics", event.CatalogTopics()),
			)
		}
	} else {
		logger.Warn("kafka disabled, cart events will not be published")
	}

	cartService := service.NewCartService(store, cat.Catalog, events, logger, cfg.Currency)

	healthHandler := a.healthChecks()

	router := handler.NewRouter(cartService, healthHandler, logger, handler.RouterConfig{
		SessionCookieName: cfg.SessionCookieName,
		PprofCIDRs:        cfg.PprofAllowedCIDRs,
		CORS:              middleware.DefaultCORSConfig(),
		RequestTimeout:    cfg.RequestTimeout(),
		RateLimit:         cfg.RateLimitConfig(),
	})

	a.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:           router,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      cfg.RequestTimeout() + 5*time.Second,
		IdleTimeout:       60 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
	}
	return a, nil
}

// initStore opens the cart store selected by CART_STORE.
func (a *App) initStore(ctx context.Context) (repository.Store, error) {
	if a.cfg.Store == config.StoreMemory {
		a.logger.Warn("using in-memory cart store, carts are lost on restart")
		return memory.NewStore(), nil
	}

	pgCfg := a.cfg.PostgresConfig()
	pool, err := database.NewPostgresPool(ctx, &pgCfg, a.logger)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	a.pool = pool
	a.logger.Info("connected to PostgreSQL",
		slog.String("host", pgCfg.Host),
		slog.Int("port", pgCfg.Port),
		slog.String("database", pgCfg.DBName),
	)

	if err := database.RunMigrations(ctx, pool, migrations.FS, a.logger); err != nil {
		return nil, fmt.Errorf("run migrations: %w", err)
	}
	a.logger.Info("database migrations completed")

	if err := database.RegisterPoolMetrics(prometheus.DefaultRegisterer, pool, "cart"); err != nil {
		a.logger.Warn("pool metrics not registered", slog.String("error", err.Error()))
	}
	database.SetSlowQueryLogging(a.cfg.SlowQueryThreshold(), a.logger)

	return postgres.NewStore(pool), nil
}

// initRedis connects the optional Redis client. The service runs without the
// catalog cache when Redis cannot be reached at startup.
func (a *App) initRedis(ctx context.Context) {
	rc, err := a.cfg.RedisConfig()
	if err != nil {
		a.logger.Warn("redis disabled", slog.String("error", err.Error()))
		return
	}
	rdb, err := database.NewRedisClient(ctx, rc)
	if err != nil {
		a.logger.Warn("redis unavailable, catalog cache disabled",
			slog.String("addr", rc.Addr()),
			slog.String("error", err.Error()),
		)
		return
	}
	a.rdb = rdb
	a.logger.Info("connected to Redis", slog.String("addr", rc.Addr()), slog.Int("db", rc.DB))
}

func (a *App) idempotencyStore() pkgkafka.IdempotencyStore {
	if a.rdb != nil {
		return pkgkafka.NewRedisIdempotencyStore(a.rdb, "cart:events:", idempotencyTTL)
	}
	return pkgkafka.NewMemoryIdempotencyStore(idempotencyTTL)
}

func (a *App) healthChecks() *health.Handler {
	h := health.NewHandler()
	if a.pool != nil {
		pool := a.pool
		h.RegisterCritical("postgres", func(ctx context.Context) error {
			return pool.Ping(ctx)
		})
	}
	if a.rdb != nil {
		rdb := a.rdb
		h.RegisterNonCritical("redis", func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		})
	}
	if a.producer != nil {
		producer := a.producer
		h.RegisterNonCritical("kafka", func(ctx context.Context) error {
			return producer.Ping(ctx)
		})
	}
	return h
}

// Handler returns the HTTP handler serving the cart API.
func (a *App) Handler() http.Handler {
	return a.httpServer.Handler
}

// Run starts the HTTP server and the catalog consumer and blocks until the
// context is canceled.
func (a *App) Run(ctx context.Context) error {
	errCh := make(chan error, 1)

	consumerCtx, stopConsumer := context.WithCancel(ctx)
	defer stopConsumer()
	consumerDone := make(chan struct{})
	if a.consumer != nil {
		go func() {
			defer close(consumerDone)
			if err := a.consumer.Start(consumerCtx); err != nil {
				a.logger.Error("catalog consumer stopped", slog.String("error", err.Error()))
			}
		}()
	} else {
		close(consumerDone)
	}

	go func() {
		a.logger.Info("starting HTTP server",
			slog.String("addr", a.httpServer.Addr),
		)
		if err := a.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("http server: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		a.logger.Info("shutdown signal received")
	case runErr = <-errCh:
	}

	stopConsumer()
	<-consumerDone

	if err := a.Shutdown(); err != nil && runErr == nil {
		runErr = err
	}
	return runErr
}

// Shutdown gracefully stops all components in the correct order:
// 1. HTTP server (drain in-flight requests)
// 2. Tracer (flush pending spans from drained requests)
// 3. Kafka producer
// 4. Redis client and PostgreSQL pool
func (a *App) Shutdown() error {
	a.logger.Info("shutting down application...")

	var errs []error

	httpCtx, httpCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer httpCancel()
	if err := a.httpServer.Shutdown(httpCtx); err != nil {
		a.logger.Error("http server shutdown error", slog.String("error", err.Error()))
		errs = append(errs, err)
	}

	if a.tracerShutdown != nil {
		tracerCtx, tracerCancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer tracerCancel()
		if err := a.tracerShutdown(tracerCtx); err != nil {
			a.logger.Error("tracer shutdown error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
	}

	if err := a.closeResources(); err != nil {
		errs = append(errs, err)
	}

	a.logger.Info("application shutdown complete")
	return errors.Join(errs...)
}

// closeResources releases the clients opened by NewApp. It is also used to
// unwind a partially built App.
func (a *App) closeResources() error {
	var errs []error
	if a.consumer != nil {
		if err := a.consumer.Close(); err != nil {
			a.logger.Error("kafka consumer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.consumer = nil
	}
	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Error("kafka producer close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.producer = nil
	}
	if a.rdb != nil {
		if err := a.rdb.Close(); err != nil {
			a.logger.Error("redis close error", slog.String("error", err.Error()))
			errs = append(errs, err)
		}
		a.rdb = nil
	}
	if a.pool != nil {
		a.pool.Close()
		a.pool = nil
	}
	return errors.Join(errs...)
}
