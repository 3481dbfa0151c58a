package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"

	_ "github.com/lib/pq"

	"hookrelay/internal/broker"
	"hookrelay/internal/config"
	"hookrelay/internal/config_handler"
	"hookrelay/internal/constants"
	"hookrelay/internal/filtering"
	"hookrelay/internal/ingest"
	"hookrelay/internal/logger"
	"hookrelay/internal/ratelimit"
	"hookrelay/internal/routing"
	"hookrelay/pkg/bootstrap"
	"hookrelay/pkg/health"
	"hookrelay/pkg/logging"
	"hookrelay/pkg/metrics"
	"hookrelay/pkg/middleware"
	"hookrelay/pkg/models"
	"hookrelay/pkg/tracing"
)

// topicPublisher binds the broker producer to the deliveries topic so the
// pipeline service stays topic-agnostic.
type topicPublisher struct {
	producer broker.Producer
	topic    string
}

func (p topicPublisher) Publish(ctx context.Context, d models.Delivery) error {
	return p.producer.Publish(ctx, p.topic, d)
}

type App struct {
	*bootstrap.Base
	dbConnector    *bootstrap.DatabaseConnector
	db             *sql.DB
	redisClient    *redis.Client
	filterService  *filtering.Service
	routeService   *routing.Service
	rateLimiter    *ratelimit.Service
	ingestService  *ingest.Service
	server         *http.Server
	tracerProvider *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("ingest-service")
	}
	return &App{
		Base:        bootstrap.NewBase(cfg, log),
		dbConnector: bootstrap.NewDatabaseConnector(cfg, log),
	}
}

func (a *App) Initialize(ctx context.Context) error {
	if err := a.initDatabases(ctx); err != nil {
		return fmt.Errorf("failed to initialize databases: %w", err)
	}

	if err := a.InitBroker("ingest-service"); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initServices(ctx); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	tp, err := tracing.Init(a.Config.Tracing, "ingest-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterIngestMetrics()
	metrics.RegisterBrokerMetrics()

	if err := a.initHTTPServer(); err != nil {
		return fmt.Errorf("failed to initialize HTTP server: %w", err)
	}

	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	db, err := a.dbConnector.InitPostgreSQL(ctx)
	if err != nil {
		return err
	}
	a.db = db

	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		initCtx := logging.WithServiceName(ctx, "ingest-service")
		a.Logger.WarnwCtx(initCtx, "Redis unavailable, falling back to in-memory rate limit store",
			"error", err,
		)
		rdb = nil
	}
	a.redisClient = rdb
	return nil
}

func (a *App) initServices(ctx context.Context) error {
	filterSvc, err := filtering.NewService(filtering.NewRepository(a.db), a.Config.Filtering, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create filtering service: %w", err)
	}
	routeSvc, err := routing.NewService(routing.NewRepository(a.db), a.Config.Routing, a.Logger)
	if err != nil {
		return fmt.Errorf("failed to create routing service: %w", err)
	}

	initCtx := logging.WithServiceName(ctx, "ingest-service")
	if err := filterSvc.ReloadRules(ctx, true); err != nil {
		a.Logger.WarnwCtx(initCtx, "Failed to load initial filters", "error", err)
	}
	if err := routeSvc.ReloadRules(ctx, true); err != nil {
		a.Logger.WarnwCtx(initCtx, "Failed to load initial routes", "error", err)
	}

	var store ratelimit.Store
	if a.redisClient != nil {
		store = ratelimit.NewRedisStore(a.redisClient)
	} else {
		store = ratelimit.NewMemoryStore()
	}
	limiter := ratelimit.NewService(store, a.Config.RateLimit, a.Logger)
	a.rateLimiter = limiter

	publisher := topicPublisher{
		producer: a.Producer,
		topic:    a.deliveriesTopic(),
	}

	a.filterService = filterSvc
	a.routeService = routeSvc
	a.ingestService = ingest.NewService(
		ingest.NewHMACValidator(a.Config.Ingest),
		limiter,
		filterSvc,
		routeSvc,
		publisher,
		ingest.NewPrometheusRecorder(),
		a.Logger,
	)
	return nil
}

func (a *App) initHTTPServer() error {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	if a.Config.Tracing.Enabled {
		router.Use(tracing.GinMiddleware("ingest-service"))
	}
	router.Use(middleware.RecoveryMiddleware(a.Logger))
	router.Use(middleware.LoggerMiddleware(a.Logger))
	router.Use(middleware.RequestIDMiddleware())

	ingest.NewHandler(a.ingestService, nil, a.Config.Ingest, a.Logger).RegisterRoutes(router)

	healthRegistry := health.NewCheckerRegistry()
	if a.db != nil {
		healthRegistry.Register(health.NewPostgreSQLChecker(a.db))
	}
	if a.redisClient != nil {
		healthRegistry.Register(health.NewRedisChecker(a.redisClient))
	}

	router.GET("/health", func(c *gin.Context) {
		h := healthRegistry.Check(c.Request.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		c.JSON(statusCode, h)
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler: router,
	}
	return nil
}

func (a *App) Run(ctx context.Context) error {
	g, gCtx := errgroup.WithContext(ctx)

	g.Go(func() error {
		a.Logger.InfowCtx(ctx, "HTTP server starting", "port", a.Config.Server.Port)
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gCtx.Done()
		return a.Shutdown(context.Background())
	})

	g.Go(func() error {
		return a.filterService.StartReloader(gCtx)
	})
	g.Go(func() error {
		return a.routeService.StartReloader(gCtx)
	})

	if topic := a.Config.Broker.Kafka.ConfigUpdateTopic; topic != "" {
		handlers := []config_handler.ConfigUpdateHandler{
			filtering.NewHandler(a.filterService, a.Logger),
			routing.NewHandler(a.routeService, a.Logger),
			ratelimit.NewHandler(a.rateLimiter, a.Logger),
		}
		g.Go(func() error {
			configCtx := logging.WithServiceName(gCtx, "ingest-service")
			a.Logger.InfowCtx(configCtx, "Starting config update event consumer", "topic", topic)
			return a.Consumer.Consume(gCtx, topic, func(cCtx context.Context, d models.Delivery) error {
				for _, h := range handlers {
					if err := h.HandleConfigUpdate(cCtx, d); err != nil {
						return err
					}
				}
				return nil
			})
		})
	}

	return g.Wait()
}

func (a *App) deliveriesTopic() string {
	if topic := a.Config.Broker.Kafka.DeliveriesTopic; topic != "" {
		return topic
	}
	return constants.DefaultDeliveriesTopic
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, "ingest-service")
	a.Logger.InfowCtx(shutdownCtx, "Shutting down ingest service")

	additionalShutdown := func(ctx context.Context) []error {
		var errs []error

		if a.server != nil {
			srvCtx, cancel := context.WithTimeout(context.Background(), constants.ShutdownTimeout)
			defer cancel()
			if err := a.server.Shutdown(srvCtx); err != nil {
				errs = append(errs, fmt.Errorf("HTTP server shutdown error: %w", err))
			}
		}

		if a.tracerProvider != nil {
			if err := a.tracerProvider.Shutdown(ctx); err != nil {
				errs = append(errs, fmt.Errorf("tracer provider shutdown error: %w", err))
			}
		}

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redisClient, a.db, nil)...)
		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
