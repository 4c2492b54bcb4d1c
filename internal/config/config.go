package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/joho/godotenv"
)

// Config holds the full runtime configuration, loaded once at process start.
type Config struct {
	Environment string

	Server        ServerConfig
	Logging       LoggingConfig
	Redis         RedisConfig
	Scylla        ScyllaConfig
	Kafka         KafkaConfig
	Elasticsearch ElasticsearchConfig
	Clickhouse    ClickhouseConfig
	SMS           SMSConfig
	OTP           OTPConfig
	RateLimit     RateLimitConfig
	Hashing       HashingConfig
	KMS           KMSConfig
	Bucketing     BucketingConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	AutoCertDir  string
	Domain       string
	Email        string
	CertFile     string
	KeyFile      string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

type RedisConfig struct {
	URL      string
	Password string
	DB       int
	PoolSize int
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type KafkaConfig struct {
	Brokers     []string
	SignupTopic string
}

type ElasticsearchConfig struct {
	URL            string
	Username       string
	Password       string
	MarketingIndex string
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

// SMSConfig describes the delivery chain. A provider counts as configured when
// both its API key and sender identity are present.
type SMSConfig struct {
	PrimaryAPIKey  string
	PrimarySender  string
	PrimaryURL     string
	FallbackAPIKey string
	FallbackSender string
	FallbackURL    string
	RequestTimeout time.Duration
	DevMode        bool
}

type OTPConfig struct {
	CodeLength  int
	SessionTTL  time.Duration
	MaxAttempts int
	Pepper      string
}

type RateLimitConfig struct {
	MaxRequests     int
	Window          time.Duration
	LockoutDuration time.Duration
}

type HashingConfig struct {
	Argon2MemoryCost  int
	Argon2TimeCost    int
	Argon2Parallelism int
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

type BucketingConfig struct {
	DriverBuckets int
	EventBuckets  int
}

var (
	global *Config
	once   sync.Once
)

// LoadConfig reads .env (if present) and the process environment into a Config.
// Missing values fall back to development defaults; the OTP pepper is the one
// value that is fatal to omit outside development.
func LoadConfig() *Config {
	once.Do(func() {
		_ = godotenv.Load()

		cfg := &Config{
			Environment: getEnv("ENVIRONMENT", "development"),
			Server: ServerConfig{
				Host:         getEnv("SERVER_HOST", "0.0.0.0"),
				Port:         getEnvInt("SERVER_PORT", 8080),
				TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
				EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
				AutoCert:     getEnvBool("SERVER_AUTO_CERT", false),
				AutoCertDir:  getEnv("SERVER_AUTO_CERT_DIR", "/var/cache/autocert"),
				Domain:       getEnv("SERVER_DOMAIN", ""),
				Email:        getEnv("SERVER_ACME_EMAIL", ""),
				CertFile:     getEnv("SERVER_CERT_FILE", ""),
				KeyFile:      getEnv("SERVER_KEY_FILE", ""),
				ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
				WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 15*time.Second),
				IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
			},
			Logging: LoggingConfig{
				Level:  getEnv("LOG_LEVEL", "info"),
				Format: getEnv("LOG_FORMAT", "console"),
			},
			Redis: RedisConfig{
				URL:      getEnv("REDIS_URL", "redis://localhost:6379"),
				Password: getEnv("REDIS_PASSWORD", ""),
				DB:       getEnvInt("REDIS_DB", 0),
				PoolSize: getEnvInt("REDIS_POOL_SIZE", 50),
			},
			Scylla: ScyllaConfig{
				Nodes:    splitList(getEnv("SCYLLA_NODES", "localhost:9042")),
				Keyspace: getEnv("SCYLLA_KEYSPACE", "driver_auth"),
				Username: getEnv("SCYLLA_USERNAME", ""),
				Password: getEnv("SCYLLA_PASSWORD", ""),
			},
			Kafka: KafkaConfig{
				Brokers:     splitList(getEnv("KAFKA_BROKERS", "localhost:9092")),
				SignupTopic: getEnv("KAFKA_SIGNUP_TOPIC", "signup-events"),
			},
			Elasticsearch: ElasticsearchConfig{
				URL:            getEnv("ELASTICSEARCH_URL", "http://localhost:9200"),
				Username:       getEnv("ELASTICSEARCH_USERNAME", ""),
				Password:       getEnv("ELASTICSEARCH_PASSWORD", ""),
				MarketingIndex: getEnv("MARKETING_CONTACTS_INDEX", "marketing-contacts"),
			},
			Clickhouse: ClickhouseConfig{
				URL:      getEnv("CLICKHOUSE_URL", "http://localhost:8123"),
				Username: getEnv("CLICKHOUSE_USERNAME", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
				Database: getEnv("CLICKHOUSE_DATABASE", "driver_auth"),
			},
			SMS: SMSConfig{
				PrimaryAPIKey:  getEnv("SMS_PRIMARY_API_KEY", ""),
				PrimarySender:  getEnv("SMS_PRIMARY_SENDER", ""),
				PrimaryURL:     getEnv("SMS_PRIMARY_URL", ""),
				FallbackAPIKey: getEnv("SMS_FALLBACK_API_KEY", ""),
				FallbackSender: getEnv("SMS_FALLBACK_SENDER", ""),
				FallbackURL:    getEnv("SMS_FALLBACK_URL", ""),
				RequestTimeout: getEnvDuration("SMS_REQUEST_TIMEOUT", 10*time.Second),
				DevMode:        getEnvBool("SMS_DEV_MODE", false),
			},
			OTP: OTPConfig{
				CodeLength:  getEnvInt("OTP_CODE_LENGTH", 6),
				SessionTTL:  getEnvDuration("OTP_SESSION_TTL", 10*time.Minute),
				MaxAttempts: getEnvInt("OTP_MAX_ATTEMPTS", 5),
				Pepper:      getEnv("OTP_PEPPER", ""),
			},
			RateLimit: RateLimitConfig{
				MaxRequests:     getEnvInt("RATE_LIMIT_MAX_REQUESTS", 5),
				Window:          getEnvDuration("RATE_LIMIT_WINDOW", 15*time.Minute),
				LockoutDuration: getEnvDuration("RATE_LIMIT_LOCKOUT", 30*time.Minute),
			},
			Hashing: HashingConfig{
				Argon2MemoryCost:  getEnvInt("ARGON2_MEMORY_COST", 64*1024),
				Argon2TimeCost:    getEnvInt("ARGON2_TIME_COST", 1),
				Argon2Parallelism: getEnvInt("ARGON2_PARALLELISM", 4),
			},
			KMS: KMSConfig{
				Enabled: getEnvBool("KMS_ENABLED", false),
				KeyID:   getEnv("KMS_KEY_ID", ""),
				Region:  getEnv("AWS_REGION", "eu-west-3"),
			},
			Bucketing: BucketingConfig{
				DriverBuckets: getEnvInt("DRIVER_BUCKETS", 64),
				EventBuckets:  getEnvInt("EVENT_BUCKETS", 16),
			},
		}

		if cfg.OTP.Pepper == "" && cfg.IsProduction() {
			panic("OTP_PEPPER must be set in production")
		}

		global = cfg
	})

	return global
}

// Get returns the loaded config, loading it with defaults if needed.
func Get() *Config {
	if global == nil {
		return LoadConfig()
	}
	return global
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return !c.IsProduction()
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// PrimarySMSConfigured reports whether the primary provider has usable credentials.
func (c *Config) PrimarySMSConfigured() bool {
	return c.SMS.PrimaryAPIKey != "" && c.SMS.PrimarySender != ""
}

// FallbackSMSConfigured reports whether the fallback provider has usable credentials.
func (c *Config) FallbackSMSConfigured() bool {
	return c.SMS.FallbackAPIKey != "" && c.SMS.FallbackSender != ""
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
		// Bare integers are treated as seconds for operator convenience
		if secs, err := strconv.Atoi(value); err == nil {
			return time.Duration(secs) * time.Second
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	parts := strings.Split(value, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if trimmed := strings.TrimSpace(p); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
