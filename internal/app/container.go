// Package app wires configuration, infrastructure and the imaging context
// into a single container shared by every entry point.
package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/felixgeelhaar/imagery/internal/imaging/application/commands"
	"github.com/felixgeelhaar/imagery/internal/imaging/application/queries"
	"github.com/felixgeelhaar/imagery/internal/imaging/application/subscribers"
	"github.com/felixgeelhaar/imagery/internal/imaging/infrastructure/cache"
	"github.com/felixgeelhaar/imagery/internal/imaging/infrastructure/persistence"
	"github.com/felixgeelhaar/imagery/internal/imaging/infrastructure/storage"
	sharedApplication "github.com/felixgeelhaar/imagery/internal/shared/application"
	sharedDomain "github.com/felixgeelhaar/imagery/internal/shared/domain"
	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/database"
	_ "github.com/felixgeelhaar/imagery/internal/shared/infrastructure/database/postgres"
	_ "github.com/felixgeelhaar/imagery/internal/shared/infrastructure/database/sqlite"
	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/eventbus"
	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/filestore"
	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/migrations"
	"github.com/felixgeelhaar/imagery/internal/shared/infrastructure/outbox"
	"github.com/felixgeelhaar/imagery/pkg/config"
	"github.com/felixgeelhaar/imagery/pkg/observability"
)

// healthProbeLocation is looked up to check the file store is reachable.
const healthProbeLocation = ".health"

// Container holds all application dependencies.
type Container struct {
	Config  *config.Config
	Logger  *slog.Logger
	Metrics observability.Metrics
	Health  *observability.HealthRegistry

	// Infrastructure
	DB          database.Connection
	Files       filestore.FileSystem
	RedisClient *redis.Client
	StatsCache  *cache.RedisStatsCache
	Signer      *storage.URLSigner

	// Messaging
	UnitOfWorkFactory sharedApplication.UnitOfWorkFactory
	Bus               *sharedApplication.MessageBus
	AsyncBus          *sharedApplication.AsyncMessageBus
	Codec             *sharedApplication.Codec
	Consumers         *eventbus.ConsumerRegistry
	EventPublisher    eventbus.Publisher
	OutboxRepo        outbox.Repository
	OutboxProcessor   *outbox.Processor

	// Query handlers
	RankImagesHandler                 *queries.RankImagesHandler
	LatestTransformationsHandler      *queries.LatestTransformationsHandler
	CountTransformationsByTypeHandler *queries.CountTransformationsByTypeHandler
	GetImageURLHandler                *queries.GetImageURLHandler

	closers []func() error
}

// NewContainer creates a fully wired container. Optional infrastructure
// (Redis, RabbitMQ) degrades in development and fails in production.
func NewContainer(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*Container, error) {
	if logger == nil {
		logger = slog.Default()
	}
	c := &Container{
		Config:  cfg,
		Logger:  logger,
		Metrics: observability.NewInMemoryMetrics(),
		Health:  observability.NewHealthRegistry(),
	}

	if err := c.initDatabase(ctx); err != nil {
		return nil, err
	}

	files, err := newFileSystem(cfg)
	if err != nil {
		c.Close()
		return nil, err
	}
	c.Files = files
	probe := func(ctx context.Context) error {
		_, err := files.Exists(ctx, healthProbeLocation)
		return err
	}
	c.Health.Register("files", observability.WithDetails(
		observability.Ping("file store", observability.HealthStatusUnhealthy, probe),
		map[string]any{"backend": cfg.StorageBackend},
	))
	c.UnitOfWorkFactory = persistence.Factory(c.DB, c.Files, logger)

	if err := c.initRedis(ctx); err != nil {
		c.Close()
		return nil, err
	}

	if err := c.initSigner(); err != nil {
		c.Close()
		return nil, err
	}

	// Query handlers
	var statsCache queries.StatsCache
	if c.StatsCache != nil {
		statsCache = c.StatsCache
	}
	c.RankImagesHandler = queries.NewRankImagesHandler(c.UnitOfWorkFactory, statsCache, logger, c.Metrics)
	c.LatestTransformationsHandler = queries.NewLatestTransformationsHandler(c.UnitOfWorkFactory, statsCache, logger, c.Metrics)
	c.CountTransformationsByTypeHandler = queries.NewCountTransformationsByTypeHandler(c.UnitOfWorkFactory, statsCache, logger, c.Metrics)
	c.GetImageURLHandler = queries.NewGetImageURLHandler(c.UnitOfWorkFactory, c.Signer, logger, c.Metrics)

	if err := c.initBus(); err != nil {
		c.Close()
		return nil, err
	}

	if err := c.initPublisher(); err != nil {
		c.Close()
		return nil, err
	}

	c.OutboxRepo = outbox.NewSQLRepository(c.DB)
	c.OutboxProcessor = outbox.NewProcessor(c.OutboxRepo, c.EventPublisher, outbox.ProcessorConfig{
		PollInterval:     cfg.OutboxPollInterval,
		BatchSize:        cfg.OutboxBatchSize,
		MaxRetries:       cfg.OutboxMaxRetries,
		RetryBackoffBase: time.Second,
		RetryBackoffMax:  time.Minute,
		RetentionDays:    cfg.OutboxRetentionDays,
	}, logger, c.Metrics)

	logger.Info("container initialized",
		"driver", c.DB.Driver(),
		"storage", cfg.StorageBackend,
		"cache", c.StatsCache != nil,
		"local_mode", cfg.LocalMode(),
	)
	return c, nil
}

func (c *Container) initDatabase(ctx context.Context) error {
	conn, err := OpenDatabase(ctx, c.Config)
	if err != nil {
		return err
	}

	c.DB = conn
	c.closers = append(c.closers, conn.Close)
	c.Health.Register("database", observability.Ping("database", observability.HealthStatusUnhealthy, conn.Ping))
	c.Logger.Info("connected to database", "driver", conn.Driver())
	return nil
}

// OpenDatabase connects to the configured database and applies the schema
// migrations. An empty DATABASE_URL selects the local SQLite database.
func OpenDatabase(ctx context.Context, cfg *config.Config) (database.Connection, error) {
	dbCfg := database.ConfigFromURL(cfg.DatabaseURL)
	if cfg.DatabaseURL == "" && cfg.SQLitePath != "" {
		dbCfg.SQLitePath = cfg.SQLitePath
	}
	dbCfg.MaxConns = cfg.DatabaseMaxConns

	conn, err := database.Open(ctx, dbCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	if err := migrations.Run(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}
	return conn, nil
}

func newFileSystem(cfg *config.Config) (filestore.FileSystem, error) {
	switch cfg.StorageBackend {
	case config.StorageMemory:
		return filestore.NewMemory(), nil
	case config.StorageWebDAV:
		return filestore.NewWebDAV(filestore.WebDAVConfig{
			Endpoint: cfg.WebDAVURL,
			Username: cfg.WebDAVUser,
			Password: cfg.WebDAVPassword,
		})
	default:
		return filestore.NewLocal(cfg.StorageDir)
	}
}

func (c *Container) initRedis(ctx context.Context) error {
	if c.Config.RedisURL == "" {
		return nil
	}

	client, err := cache.NewRedisClient(c.Config.RedisURL)
	if err != nil {
		if !c.Config.IsDevelopment() {
			return fmt.Errorf("failed to parse Redis URL: %w", err)
		}
		c.Logger.Warn("invalid Redis URL, statistics will not be cached", "error", err)
		return nil
	}
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		if !c.Config.IsDevelopment() {
			return fmt.Errorf("failed to connect to Redis: %w", err)
		}
		c.Logger.Warn("Redis not available, statistics will not be cached", "error", err)
		return nil
	}

	c.RedisClient = client
	c.StatsCache = cache.NewRedisStatsCache(client, cache.DefaultPrefix, c.Config.CacheTTL)
	c.closers = append(c.closers, client.Close)
	c.Health.Register("redis", observability.Ping("redis", observability.HealthStatusDegraded, c.StatsCache.Check))
	c.Logger.Info("connected to Redis")
	return nil
}

func (c *Container) initSigner() error {
	key := []byte(c.Config.SigningKey)
	if len(key) == 0 {
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return fmt.Errorf("failed to generate signing key: %w", err)
		}
		c.Logger.Warn("SIGNING_KEY not set, signed URLs will not survive a restart")
	}

	signer, err := storage.NewURLSigner(c.Config.PublicBaseURL, key, c.Config.SignedURLTTL)
	if err != nil {
		return err
	}
	c.Signer = signer
	return nil
}

func (c *Container) initBus() error {
	handlers := sharedApplication.NewHandlers()
	commands.Register(handlers, c.Config.StoragePrefix, c.Logger, c.Metrics)
	if c.StatsCache != nil {
		subscribers.NewCacheInvalidator(c.StatsCache, c.Logger).Register(handlers)
	}
	subscribers.NewOutboxRecorder(c.Logger).Register(handlers)

	bus, err := sharedApplication.NewMessageBus(handlers, c.Logger, c.Metrics)
	if err != nil {
		return fmt.Errorf("failed to build message bus: %w", err)
	}
	asyncBus, err := sharedApplication.NewAsyncMessageBus(handlers, c.Logger, c.Metrics)
	if err != nil {
		return fmt.Errorf("failed to build async message bus: %w", err)
	}

	c.Bus = bus
	c.AsyncBus = asyncBus
	c.Codec = commands.NewCodec()

	c.Consumers = eventbus.NewConsumerRegistry(c.Logger, c.Metrics)
	if c.StatsCache != nil {
		c.Consumers.Register(subscribers.NewStatsWarmer(c.WarmStats, c.Logger))
	}
	return nil
}

func (c *Container) initPublisher() error {
	if c.Config.RabbitMQURL == "" {
		c.EventPublisher = eventbus.NewInProcessEventBus(c.Consumers, c.Logger)
		c.Logger.Info("using in-process event bus")
		return nil
	}

	rabbit, err := eventbus.NewRabbitMQPublisher(c.Config.RabbitMQURL, c.Logger)
	if err != nil {
		if !c.Config.IsDevelopment() {
			return fmt.Errorf("failed to connect to RabbitMQ: %w", err)
		}
		c.Logger.Warn("RabbitMQ not available, using noop publisher", "error", err)
		c.EventPublisher = eventbus.NewNoopPublisher(c.Logger)
		return nil
	}

	breakerCfg := eventbus.DefaultBreakerConfig()
	breakerCfg.FailureThreshold = c.Config.BreakerThreshold
	breakerCfg.Timeout = c.Config.BreakerOpenPeriod
	c.EventPublisher = eventbus.NewBreakerPublisher(rabbit, breakerCfg, c.Logger, c.Metrics)
	c.closers = append(c.closers, rabbit.Close)
	c.Health.Register("rabbitmq", observability.Ping("rabbitmq", observability.HealthStatusDegraded, rabbit.Check))
	return nil
}

// NewScope opens a request scope backed by the container's unit of work factory.
func (c *Container) NewScope() *sharedApplication.Scope {
	return sharedApplication.NewScope(c.UnitOfWorkFactory)
}

// Dispatch handles msg on the blocking bus within a fresh scope. The scope
// is closed even when ctx was cancelled, so staged files are still removed.
func (c *Container) Dispatch(ctx context.Context, msg sharedDomain.Message) (results []any, err error) {
	scope := c.NewScope()
	defer func() {
		err = errors.Join(err, scope.Close(context.WithoutCancel(ctx)))
	}()
	return c.Bus.Handle(ctx, scope, msg)
}

// DispatchAsync handles msg on the cooperative bus within a fresh scope.
// The scope is closed once the result has been produced.
func (c *Container) DispatchAsync(ctx context.Context, msg sharedDomain.Message) <-chan sharedApplication.Result {
	scope := c.NewScope()
	out := make(chan sharedApplication.Result, 1)
	go func() {
		defer close(out)
		res := <-c.AsyncBus.Dispatch(ctx, scope, msg)
		res.Err = errors.Join(res.Err, scope.Close(context.WithoutCancel(ctx)))
		out <- res
	}()
	return out
}

// WarmStats reloads every cached statistics projection.
func (c *Container) WarmStats(ctx context.Context) error {
	return queries.Warm(ctx, c.RankImagesHandler, c.LatestTransformationsHandler, c.CountTransformationsByTypeHandler)
}

// Close releases all resources in reverse order of acquisition.
func (c *Container) Close() {
	if c.OutboxProcessor != nil && c.OutboxProcessor.IsRunning() {
		c.OutboxProcessor.Stop()
	}
	for i := len(c.closers) - 1; i >= 0; i-- {
		if err := c.closers[i](); err != nil {
			c.Logger.Warn("failed to close resource", "error", err)
		}
	}
	c.closers = nil
}
