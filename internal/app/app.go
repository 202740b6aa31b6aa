// Package app assembles the orchestrator's components from configuration. Both services
// build the same stack and differ only in what they run on top of it.
package app

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/cuongbtq/ucloud-orchestrator/internal/auth"
	"github.com/cuongbtq/ucloud-orchestrator/internal/config"
	"github.com/cuongbtq/ucloud-orchestrator/internal/events"
	"github.com/cuongbtq/ucloud-orchestrator/internal/files"
	"github.com/cuongbtq/ucloud-orchestrator/internal/health"
	"github.com/cuongbtq/ucloud-orchestrator/internal/monitor"
	"github.com/cuongbtq/ucloud-orchestrator/internal/observability"
	"github.com/cuongbtq/ucloud-orchestrator/internal/orchestrator"
	"github.com/cuongbtq/ucloud-orchestrator/internal/payment"
	"github.com/cuongbtq/ucloud-orchestrator/internal/provider"
	"github.com/cuongbtq/ucloud-orchestrator/internal/query"
	"github.com/cuongbtq/ucloud-orchestrator/internal/storage"
	"github.com/cuongbtq/ucloud-orchestrator/internal/storage/memstore"
	"github.com/cuongbtq/ucloud-orchestrator/internal/verification"
	"github.com/cuongbtq/ucloud-orchestrator/pkg/circuitbreaker"
	"github.com/cuongbtq/ucloud-orchestrator/shared/postgresql"
	"github.com/cuongbtq/ucloud-orchestrator/shared/rabbitmq"
)

// Store is everything the orchestrator persists.
type Store interface {
	storage.JobStore
	storage.LedgerStore
	storage.LeaseStore
	storage.CatalogStore
	storage.ProjectStore
	storage.ResourceStore
	storage.TaskStore
}

var (
	_ Store = (*storage.Storage)(nil)
	_ Store = (*memstore.Store)(nil)
)

// Stack holds the wired components.
type Stack struct {
	Config *config.Config
	Logger *slog.Logger

	Store          Store
	Objects        files.ObjectStore
	Files          *files.Service
	Signer         *auth.Signer
	Providers      *provider.Registry
	Payments       *payment.Gate
	Verifier       *verification.Service
	Orchestrator   *orchestrator.Orchestrator
	Query          *query.Service
	Metrics        *observability.Metrics
	MetricsHandler http.Handler
	Health         *health.Checker

	postgres *postgresql.Client
	rabbit   *rabbitmq.Client
}

// New builds the stack. On error everything opened so far is closed.
func New(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Stack, error) {
	s := &Stack{Config: cfg, Logger: logger}
	if err := s.init(ctx); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Stack) init(ctx context.Context) error {
	cfg, logger := s.Config, s.Logger
	var err error

	checks := map[string]health.ReadinessChecker{}

	s.Metrics, s.MetricsHandler, err = observability.NewMetrics(ctx)
	if err != nil {
		return fmt.Errorf("failed to initialize metrics: %w", err)
	}

	if err := s.initStore(ctx, checks); err != nil {
		return err
	}
	if err := s.initObjects(ctx, checks); err != nil {
		return err
	}
	s.Files = files.NewService(s.Objects, s.Store, logger.With(slog.String("component", "files")))

	s.Signer = auth.NewSigner(cfg.Auth.JWTSecret, cfg.Auth.Issuer, cfg.Auth.TokenTTL)
	s.Providers, err = provider.NewRegistry(provider.RegistryConfig{
		Path:        cfg.Providers.RegistryPath,
		Issuer:      s.Signer,
		Timeout:     cfg.Providers.RequestTimeout,
		ManifestTTL: cfg.Providers.ManifestTTL,
		Breakers: circuitbreaker.Config{
			Threshold: cfg.Providers.BreakerThreshold,
			Cooldown:  cfg.Providers.BreakerCooldown,
		},
		Metrics: s.Metrics,
		Logger:  logger.With(slog.String("component", "providers")),
	})
	if err != nil {
		return fmt.Errorf("failed to load provider registry: %w", err)
	}

	var publisher orchestrator.Publisher
	if cfg.RabbitMQ.Enabled {
		s.rabbit, err = initRabbitMQ(&cfg.RabbitMQ, logger)
		if err != nil {
			return fmt.Errorf("failed to initialize RabbitMQ: %w", err)
		}
		checks["rabbitmq"] = s.rabbit
		publisher = events.NewPublisher(s.rabbit, s.Metrics, logger.With(slog.String("component", "events")))
		logger.Info("RabbitMQ connection established")
	}

	s.Verifier = verification.New(verification.Config{
		Catalog:               s.Store,
		Jobs:                  s.Store,
		Resources:             s.Store,
		Wallets:               s.Store,
		Files:                 s.Files,
		Manifests:             s.Providers,
		ApplicationTTL:        cfg.Cache.ApplicationTTL,
		ProductTTL:            cfg.Cache.ProductTTL,
		DefaultTimeAllocation: cfg.Orchestrator.DefaultTimeAllocation,
	})
	s.Payments = payment.New(payment.Config{
		Ledger:     s.Store,
		AutoExtend: cfg.Payment.AutoExtend,
		Metrics:    s.Metrics,
		Logger:     logger.With(slog.String("component", "payment")),
	})
	s.Orchestrator = orchestrator.New(orchestrator.Config{
		Jobs:            s.Store,
		Resources:       s.Store,
		Projects:        s.Store,
		Verifier:        s.Verifier,
		Payments:        s.Payments,
		Providers:       s.Providers,
		Files:           s.Files,
		Events:          publisher,
		Metrics:         s.Metrics,
		Logger:          logger.With(slog.String("component", "orchestrator")),
		SubmitTimeout:   cfg.Orchestrator.SubmitTimeout,
		DuplicateWindow: cfg.Orchestrator.DuplicateCheckWindow,
	})
	s.Query = query.New(query.Config{
		Jobs:     s.Store,
		Projects: s.Store,
		Tasks:    s.Store,
		Logger:   logger.With(slog.String("component", "query")),
	})
	s.Health = health.NewChecker(checks)

	return nil
}

func (s *Stack) initStore(ctx context.Context, checks map[string]health.ReadinessChecker) error {
	cfg := s.Config
	if cfg.Database.Driver == config.DriverMemory {
		s.Logger.Warn("Using in-memory storage, state is lost on restart")
		s.Store = memstore.New()
		return nil
	}

	client, err := initPostgreSQL(&cfg.Database, s.Logger)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	s.postgres = client
	checks["database"] = client

	if cfg.Database.MigrateOnStart {
		if err := client.Migrate(ctx, storage.Schema); err != nil {
			return fmt.Errorf("failed to migrate database: %w", err)
		}
		s.Logger.Info("Database schema applied")
	}

	s.Store = storage.NewStorage(client, s.Logger.With(slog.String("component", "storage")))
	s.Logger.Info("Database connection established")
	return nil
}

func (s *Stack) initObjects(ctx context.Context, checks map[string]health.ReadinessChecker) error {
	cfg := s.Config
	if cfg.Storage.Endpoint == "" {
		s.Logger.Warn("No object storage endpoint configured, job output is kept in memory")
		s.Objects = files.NewMemoryStore()
		return nil
	}

	store, err := files.NewMinioStore(cfg.Storage)
	if err != nil {
		return err
	}
	if err := store.EnsureBucket(ctx, cfg.Storage.Region); err != nil {
		return fmt.Errorf("failed to prepare bucket %s: %w", cfg.Storage.Bucket, err)
	}
	s.Objects = store
	checks["object_storage"] = store

	s.Logger.Info("Object storage ready",
		slog.String("endpoint", cfg.Storage.Endpoint),
		slog.String("bucket", cfg.Storage.Bucket),
	)
	return nil
}

// Monitor creates the reconciliation monitor. holder identifies this instance in the lease.
func (s *Stack) Monitor(holder string) *monitor.Monitor {
	return monitor.New(monitor.Config{
		Jobs:         s.Store,
		Leases:       s.Store,
		Orchestrator: s.Orchestrator,
		Providers:    s.Providers,
		Metrics:      s.Metrics,
		Logger:       s.Logger.With(slog.String("component", "monitor")),
		Policy:       s.Config.Monitor,
		Holder:       holder,
	})
}

// Consumer creates the job event consumer. It returns nil when RabbitMQ is disabled.
func (s *Stack) Consumer(tag string, concurrency int) *events.Consumer {
	if s.rabbit == nil {
		return nil
	}
	return events.NewConsumer(events.ConsumerConfig{
		Source:      s.rabbit,
		Tasks:       s.Store,
		Logger:      s.Logger.With(slog.String("component", "consumer")),
		ConsumerTag: tag,
		Prefetch:    s.Config.RabbitMQ.Consumer.PrefetchCount,
		Concurrency: concurrency,
	})
}

// Close waits for in-flight submissions and closes the connections.
func (s *Stack) Close() {
	if s.Orchestrator != nil {
		s.Orchestrator.Wait()
	}
	if s.rabbit != nil {
		if err := s.rabbit.Close(); err != nil {
			s.Logger.Error("Failed to close RabbitMQ connection", slog.String("error", err.Error()))
		}
	}
	if s.postgres != nil {
		if err := s.postgres.Close(); err != nil {
			s.Logger.Error("Failed to close database connection", slog.String("error", err.Error()))
		}
	}
}

func initPostgreSQL(cfg *config.DatabaseConfig, logger *slog.Logger) (*postgresql.Client, error) {
	return postgresql.NewClient(&postgresql.Config{
		Host:            cfg.Host,
		Port:            cfg.Port,
		User:            cfg.User,
		Password:        cfg.Password,
		Database:        cfg.Database,
		SSLMode:         cfg.SSLMode,
		MaxOpenConns:    cfg.MaxOpenConns,
		MaxIdleConns:    cfg.MaxIdleConns,
		ConnMaxLifetime: cfg.ConnMaxLifetime,
		ConnMaxIdleTime: cfg.ConnMaxIdleTime,
	}, logger)
}

func initRabbitMQ(cfg *config.RabbitMQConfig, logger *slog.Logger) (*rabbitmq.Client, error) {
	return rabbitmq.NewClient(&rabbitmq.Config{
		Host:               cfg.Host,
		Port:               cfg.Port,
		User:               cfg.User,
		Password:           cfg.Password,
		VHost:              cfg.VHost,
		ExchangeName:       cfg.Exchange.Name,
		ExchangeType:       cfg.Exchange.Type,
		ExchangeDurable:    cfg.Exchange.Durable,
		ExchangeAutoDelete: cfg.Exchange.AutoDelete,
		QueueName:          cfg.Queue.Name,
		QueueDurable:       cfg.Queue.Durable,
		QueueAutoDelete:    cfg.Queue.AutoDelete,
		QueueExclusive:     cfg.Queue.Exclusive,
		RoutingKey:         cfg.RoutingKey,
		RetryAttempts:      cfg.Connection.RetryAttempts,
		RetryInterval:      cfg.Connection.RetryInterval,
		Heartbeat:          cfg.Connection.Heartbeat,
		ConnectionTimeout:  cfg.Connection.ConnectionTimeout,
		PublishRetries:     cfg.Publish.RetryAttempts,
		PublishRetryDelay:  cfg.Publish.RetryInterval,
		PublishBackoffMult: cfg.Publish.BackoffMultiplier,
	}, logger)
}
