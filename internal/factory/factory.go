package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"github.com/Shpigford/dutch-auction/internal/analytics"
	"github.com/Shpigford/dutch-auction/internal/bucketing"
	"github.com/Shpigford/dutch-auction/internal/client"
	"github.com/Shpigford/dutch-auction/internal/config"
	"github.com/Shpigford/dutch-auction/internal/encryption"
	"github.com/Shpigford/dutch-auction/internal/events"
	"github.com/Shpigford/dutch-auction/internal/pricing"
	"github.com/Shpigford/dutch-auction/internal/ratelimit"
	redisrepo "github.com/Shpigford/dutch-auction/internal/repository/redis"
	"github.com/Shpigford/dutch-auction/internal/repository/scylla"
	"github.com/Shpigford/dutch-auction/internal/service"
	"github.com/Shpigford/dutch-auction/internal/tls"
	"github.com/Shpigford/dutch-auction/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.Manager

	// Clients
	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	clickhouseClient *client.ClickHouseClient
	paymentClient    *client.PaymentClient
	emailClient      *client.EmailClient

	// Managers
	encryptionManager *encryption.Manager
	bucketingManager  *bucketing.Manager
	pricingEngine     *pricing.Engine
	limiter           ratelimit.Limiter
	hoverLimiter      ratelimit.Limiter
	publisher         events.Publisher
	tracker           *analytics.Tracker

	// Repositories
	saleRepository         scylla.SaleRepositoryInterface
	notificationRepository scylla.NotificationRepositoryInterface
	dedupeCache            *redisrepo.DedupeCache
	serviceFactory         *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory() (*Factory, error) {
	cfg, err := config.LoadConfig()
	if err != nil {
		return nil, err
	}

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewManager(cfg.Server)
	}

	if err := factory.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeManagers(); err != nil {
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	if err := factory.initializeRepositories(); err != nil {
		return nil, fmt.Errorf("failed to initialize repositories: %w", err)
	}

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with health checks
func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	var initErrors []error

	// Redis
	if redisClient, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = redisClient
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		}
	}

	// ScyllaDB
	if scyllaClient, err := scylla.NewScyllaClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("scylla: %w", err))
	} else {
		f.scyllaClient = scyllaClient
		if err := f.scyllaClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("scylla health check: %w", err))
		}
	}

	// Kafka is optional: the auction works without its event stream.
	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
	}

	// ClickHouse
	if chClient, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
	} else {
		f.clickhouseClient = chClient
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
		}
	}

	f.paymentClient = client.NewPaymentClient(f.config)
	f.emailClient = client.NewEmailClient(f.config)

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeManagers wires the encryption, bucketing, pricing, rate limit
// and event stream components.
func (f *Factory) initializeManagers() error {
	var kmsClient *kms.Client
	if f.config.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			return fmt.Errorf("failed to load AWS config for KMS: %w", err)
		}
		kmsClient = kms.NewFromConfig(awsCfg)
	}

	f.encryptionManager = encryption.NewManager(f.config, kmsClient)
	f.bucketingManager = bucketing.NewManager()
	f.pricingEngine = pricing.NewEngine(f.config.Auction)

	// Registration and hover tracking throttle over different windows, so
	// each gets its own limiter on the configured backend.
	switch f.config.RateLimit.Backend {
	case "redis":
		if f.redisClient == nil {
			return fmt.Errorf("redis rate limit backend requires a redis client")
		}
		f.limiter = ratelimit.NewRedisLimiter(f.redisClient, f.config.RateLimit.Interval)
		f.hoverLimiter = ratelimit.NewRedisLimiter(f.redisClient, f.config.RateLimit.HoverInterval)
	default:
		f.limiter = ratelimit.NewMemoryLimiter(
			f.config.RateLimit.Interval,
			f.config.RateLimit.UniqueTokenPerInterval,
			f.bucketingManager)
		f.hoverLimiter = ratelimit.NewMemoryLimiter(
			f.config.RateLimit.HoverInterval,
			f.config.RateLimit.UniqueTokenPerInterval,
			f.bucketingManager)
	}

	if f.kafkaProducer != nil || f.redisClient != nil {
		f.publisher = events.NewStreamPublisher(
			f.kafkaProducer, f.redisClient,
			f.config.Kafka.EventsTopic, f.config.Redis.EventsChannel)
	} else {
		f.publisher = events.NoopPublisher{}
	}

	if f.clickhouseClient != nil {
		f.tracker = analytics.NewTracker(f.clickhouseClient, f.bucketingManager)
	}

	return nil
}

// initializeRepositories builds storage repositories and seeds the sale row.
func (f *Factory) initializeRepositories() error {
	if f.scyllaClient == nil {
		if f.config.IsProduction() {
			return fmt.Errorf("scylla client required")
		}
		return nil
	}

	saleRepo := scylla.NewSaleRepository(f.scyllaClient)
	f.saleRepository = saleRepo
	f.notificationRepository = scylla.NewNotificationRepository(f.scyllaClient)

	if f.redisClient != nil {
		f.dedupeCache = redisrepo.NewDedupeCache(f.redisClient)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := saleRepo.EnsureSaleState(ctx); err != nil {
		return err
	}
	return nil
}

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		var dedupe service.EventDeduper = service.PassthroughDeduper{}
		if f.dedupeCache != nil {
			dedupe = f.dedupeCache
		}
		f.serviceFactory = service.NewServiceFactory(
			f.saleRepository,
			f.notificationRepository,
			f.pricingEngine,
			f.paymentClient,
			f.emailClient,
			dedupe,
			f.encryptionManager,
			f.limiter,
			f.publisher,
			f.config,
		)
	}
	return f.serviceFactory
}

// HealthCheck reports per-dependency health.
func (f *Factory) HealthCheck(ctx context.Context) map[string]error {
	healthErrors := make(map[string]error)

	if f.redisClient != nil {
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			healthErrors["redis"] = err
		}
	} else {
		healthErrors["redis"] = fmt.Errorf("redis client not initialized")
	}

	if f.scyllaClient != nil {
		if err := f.scyllaClient.HealthCheck(); err != nil {
			healthErrors["scylla"] = err
		}
	} else {
		healthErrors["scylla"] = fmt.Errorf("scylla client not initialized")
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	} else {
		healthErrors["clickhouse"] = fmt.Errorf("clickhouse client not initialized")
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	return healthErrors
}

// IsHealthy treats Kafka as advisory; everything else must be up.
func (f *Factory) IsHealthy(ctx context.Context) bool {
	healthErrors := f.HealthCheck(ctx)
	delete(healthErrors, "kafka")
	return len(healthErrors) == 0
}

func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.scyllaClient != nil {
			f.scyllaClient.Close()
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.Manager {
	return f.tlsManager
}

func (f *Factory) PricingEngine() *pricing.Engine {
	return f.pricingEngine
}

func (f *Factory) Limiter() ratelimit.Limiter {
	return f.limiter
}

func (f *Factory) HoverLimiter() ratelimit.Limiter {
	return f.hoverLimiter
}

func (f *Factory) Tracker() *analytics.Tracker {
	return f.tracker
}
