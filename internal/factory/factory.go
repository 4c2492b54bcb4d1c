package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/kms"

	"driver-auth-service/internal/audit"
	"driver-auth-service/internal/bucketing"
	"driver-auth-service/internal/client"
	"driver-auth-service/internal/config"
	"driver-auth-service/internal/encryption"
	"driver-auth-service/internal/otp"
	"driver-auth-service/internal/repository/elastic"
	redisrepo "driver-auth-service/internal/repository/redis"
	"driver-auth-service/internal/repository/scylla"
	"driver-auth-service/internal/service"
	"driver-auth-service/internal/sms"
	"driver-auth-service/internal/tls"
	"driver-auth-service/internal/util"
)

// Factory owns the lifecycle of every external dependency. Redis and Scylla
// are hard requirements; Kafka, Elasticsearch and ClickHouse degrade to
// warnings because their side effects are best-effort.
type Factory struct {
	config     *config.Config
	tlsManager *tls.Manager

	redisClient      *client.RedisClient
	scyllaClient     *scylla.ScyllaClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	generator         *otp.Generator
	encryptionManager *encryption.Manager
	bucketingManager  *bucketing.Manager

	sessionStore     *redisrepo.SessionStore
	rateLimitStore   *redisrepo.RateLimitStore
	driverRepository *scylla.DriverRepository
	dispatcher       *sms.Dispatcher
	auditRecorder    *audit.Recorder

	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory loads configuration and wires every dependency.
func NewFactory() (*Factory, error) {
	cfg := config.LoadConfig()

	util.Init(cfg.Environment, cfg.Logging.Level, cfg.Logging.Format)

	f := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		f.tlsManager = tls.NewManager(&tls.Config{
			EnableTLS:   cfg.Server.EnableTLS,
			AutoCert:    cfg.Server.AutoCert,
			Domain:      cfg.Server.Domain,
			CertFile:    cfg.Server.CertFile,
			KeyFile:     cfg.Server.KeyFile,
			AutoCertDir: cfg.Server.AutoCertDir,
			Email:       cfg.Server.Email,
			Environment: cfg.Environment,
		})
	}

	if err := f.initializeClients(); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	f.initializeManagers()
	f.initializeRepositories()

	util.Info("Factory initialized",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)

	return f, nil
}

func (f *Factory) initializeClients() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Redis owns all flow state; the service cannot run without it.
	redisClient, err := client.NewRedisClient(f.config, util.Get())
	if err != nil {
		return fmt.Errorf("redis: %w", err)
	}
	f.redisClient = redisClient
	if err := f.redisClient.HealthCheck(ctx); err != nil {
		return fmt.Errorf("redis health check: %w", err)
	}

	// Scylla holds the durable identities; finalize-signup depends on it.
	scyllaClient, err := scylla.NewScyllaClient(f.config, util.Get())
	if err != nil {
		return fmt.Errorf("scylla: %w", err)
	}
	f.scyllaClient = scyllaClient

	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		util.Warn("Kafka producer initialization failed, proceeding without consent events", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
	}

	if esClient, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
		util.Warn("Elasticsearch initialization failed, proceeding without marketing upserts", util.ErrorField(err))
	} else {
		f.esClient = esClient
	}

	if chClient, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
		util.Warn("ClickHouse initialization failed, proceeding without audit trail", util.ErrorField(err))
	} else {
		f.clickhouseClient = chClient
	}

	return nil
}

func (f *Factory) initializeManagers() {
	f.generator = otp.NewGenerator(f.config)

	var kmsClient *kms.Client
	if f.config.KMS.Enabled {
		awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(),
			awsconfig.WithRegion(f.config.KMS.Region))
		if err != nil {
			util.Warn("Failed to load AWS config, falling back to local encryption keys", util.ErrorField(err))
		} else {
			kmsClient = kms.NewFromConfig(awsCfg)
		}
	}

	f.encryptionManager = encryption.NewManager(f.config, kmsClient)
	f.bucketingManager = bucketing.NewManager(f.config)
}

func (f *Factory) initializeRepositories() {
	f.sessionStore = redisrepo.NewSessionStore(f.redisClient,
		f.config.OTP.SessionTTL, f.config.OTP.MaxAttempts)
	f.rateLimitStore = redisrepo.NewRateLimitStore(f.redisClient,
		f.config.RateLimit.MaxRequests, f.config.RateLimit.Window,
		f.config.RateLimit.LockoutDuration)
	f.driverRepository = scylla.NewDriverRepository(f.scyllaClient)
	f.dispatcher = sms.NewDispatcherFromConfig(f.config)
	f.auditRecorder = audit.NewRecorder(f.clickhouseClient)
}

// ServiceFactory lazily assembles the application services.
func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		var contacts service.ContactUpserter
		if f.esClient != nil {
			contacts = elastic.NewMarketingContacts(f.esClient,
				f.config.Elasticsearch.MarketingIndex)
		}

		var events service.EventPublisher
		if f.kafkaProducer != nil {
			events = f.kafkaProducer
		}

		f.serviceFactory = service.NewServiceFactory(
			f.config,
			f.generator,
			f.sessionStore,
			f.rateLimitStore,
			f.dispatcher,
			f.driverRepository,
			f.bucketingManager,
			f.encryptionManager,
			contacts,
			events,
			f.auditRecorder,
		)
	}
	return f.serviceFactory
}

// HealthCheck probes every live dependency.
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

	if f.esClient != nil {
		if err := f.esClient.HealthCheck(); err != nil {
			healthErrors["elasticsearch"] = err
		}
	}

	if f.clickhouseClient != nil {
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			healthErrors["clickhouse"] = err
		}
	}

	if f.kafkaProducer != nil {
		if err := f.kafkaProducer.HealthCheck(ctx); err != nil {
			healthErrors["kafka"] = err
		}
	}

	return healthErrors
}

func (f *Factory) IsHealthy(ctx context.Context) bool {
	return len(f.HealthCheck(ctx)) == 0
}

// Close shuts dependencies down in reverse dependency order.
func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory")

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			}
		}

		if f.serviceFactory != nil {
			f.serviceFactory.Cleanup()
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
