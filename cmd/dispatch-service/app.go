package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"golang.org/x/sync/errgroup"

	"hookrelay/internal/config"
	"hookrelay/internal/constants"
	"hookrelay/internal/delivery"
	"hookrelay/internal/dlq"
	"hookrelay/internal/logger"
	"hookrelay/internal/redelivery"
	"hookrelay/pkg/bootstrap"
	"hookrelay/pkg/health"
	"hookrelay/pkg/logging"
	"hookrelay/pkg/metrics"
	"hookrelay/pkg/models"
	"hookrelay/pkg/tracing"
)

type App struct {
	*bootstrap.Base
	dbConnector     *bootstrap.DatabaseConnector
	redisClient     *redis.Client
	mongoClient     *mongo.Client
	deliveryService *delivery.Service
	retryManager    *redelivery.Manager
	dlqService      *dlq.Service
	server          *http.Server
	tracerProvider  *tracing.TracerProvider
}

func NewApp(cfg *config.Config, log logger.Logger) *App {
	if sugaredLogger, ok := log.(*logger.SugaredLogger); ok {
		sugaredLogger.SetServiceName("dispatch-service")
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

	if err := a.InitBroker("dispatch-service"); err != nil {
		return fmt.Errorf("failed to initialize broker: %w", err)
	}

	if err := a.initServices(ctx); err != nil {
		return fmt.Errorf("failed to initialize services: %w", err)
	}

	tp, err := tracing.Init(a.Config.Tracing, "dispatch-service")
	if err != nil {
		return fmt.Errorf("failed to initialize tracing: %w", err)
	}
	a.tracerProvider = tp

	metrics.RegisterDispatchMetrics()
	metrics.RegisterBrokerMetrics()
	if a.Config.CircuitBreaker.Enabled {
		metrics.RegisterCircuitBreakerMetrics()
	}

	a.initHTTPServer()
	return nil
}

func (a *App) initDatabases(ctx context.Context) error {
	initCtx := logging.WithServiceName(ctx, "dispatch-service")

	rdb, err := a.dbConnector.InitRedis(ctx)
	if err != nil {
		a.Logger.WarnwCtx(initCtx, "Redis unavailable, retry state will not survive restarts",
			"error", err,
		)
		rdb = nil
	}
	a.redisClient = rdb

	mongoClient, err := a.dbConnector.InitMongoDB(ctx)
	if err != nil {
		a.Logger.WarnwCtx(initCtx, "MongoDB unavailable, dead letters kept in memory only",
			"error", err,
		)
		mongoClient = nil
	}
	a.mongoClient = mongoClient
	return nil
}

func (a *App) initServices(ctx context.Context) error {
	registry := delivery.NewSubscriptionRegistryFromConfig(a.Config.Delivery)
	transport := delivery.NewHTTPTransport(a.Config.Delivery, a.Config.CircuitBreaker, a.Logger)

	var retryRepo redelivery.Repository
	if a.redisClient != nil {
		retryRepo = redelivery.NewRedisRepository(a.redisClient)
	} else {
		retryRepo = redelivery.NewMemoryRepository()
	}

	var dlqRepo dlq.Repository
	if a.mongoClient != nil {
		dbName := a.Config.Database.MongoDB.Database
		if dbName == "" {
			dbName = constants.DefaultMongoDBName
		}
		mongoRepo := dlq.NewRepository(a.mongoClient.Database(dbName))
		if indexed, ok := mongoRepo.(*dlq.MongoDBRepository); ok {
			if err := indexed.EnsureIndexes(ctx); err != nil {
				initCtx := logging.WithServiceName(ctx, "dispatch-service")
				a.Logger.WarnwCtx(initCtx, "Failed to ensure DLQ indexes", "error", err)
			}
		}
		dlqRepo = mongoRepo
	} else {
		dlqRepo = dlq.NewMemoryRepository()
	}

	a.dlqService = dlq.NewService(dlqRepo, a.Producer, a.deliveriesTopic(), a.Logger)

	sweepInterval := time.Duration(a.Config.Retry.SweepIntervalSeconds) * time.Second
	a.retryManager = redelivery.NewManager(retryRepo, a.dlqService, sweepInterval, a.Logger)

	a.deliveryService = delivery.NewService(registry, transport, a.retryManager, a.Logger)
	// Redeliveries flow back through the same delivery path.
	a.retryManager.SetRedeliverer(a.deliveryService)
	return nil
}

func (a *App) initHTTPServer() {
	mux := http.NewServeMux()

	healthRegistry := health.NewCheckerRegistry()
	if a.redisClient != nil {
		healthRegistry.Register(health.NewRedisChecker(a.redisClient))
	}
	if a.mongoClient != nil {
		healthRegistry.Register(health.NewMongoDBChecker(a.mongoClient))
	}

	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		h := healthRegistry.Check(r.Context())
		statusCode := http.StatusOK
		if h.Status == health.StatusUnhealthy {
			statusCode = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(statusCode)
		_ = json.NewEncoder(w).Encode(h)
	})

	mux.HandleFunc("/queue/stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(a.deliveryService.Stats(r.Context()))
	})

	mux.Handle("/metrics", promhttp.Handler())

	a.server = &http.Server{
		Addr:    fmt.Sprintf(":%d", a.Config.Server.Port),
		Handler: mux,
	}
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
		return a.deliveryService.Run(gCtx)
	})

	g.Go(func() error {
		return a.retryManager.StartSweeper(gCtx)
	})

	topic := a.deliveriesTopic()
	g.Go(func() error {
		consumeCtx := logging.WithServiceName(gCtx, "dispatch-service")
		a.Logger.InfowCtx(consumeCtx, "Starting deliveries consumer", "topic", topic)
		return a.Consumer.Consume(gCtx, topic, func(cCtx context.Context, d models.Delivery) error {
			if err := models.ValidateDelivery(&d); err != nil {
				a.Logger.WarnwCtx(cCtx, "Dropping malformed delivery",
					"delivery_id", d.ID,
					"error", err,
				)
				return nil
			}
			a.deliveryService.Enqueue(cCtx, d)
			return nil
		})
	})

	return g.Wait()
}

func (a *App) deliveriesTopic() string {
	if topic := a.Config.Broker.Kafka.DeliveriesTopic; topic != "" {
		return topic
	}
	return constants.DefaultDeliveriesTopic
}

func (a *App) Shutdown(ctx context.Context) error {
	shutdownCtx := logging.WithServiceName(ctx, "dispatch-service")
	a.Logger.InfowCtx(shutdownCtx, "Shutting down dispatch service")

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

		errs = append(errs, a.dbConnector.ShutdownDatabases(ctx, a.redisClient, nil, a.mongoClient)...)
		return errs
	}

	return a.Base.Shutdown(ctx, additionalShutdown)
}
