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

var (
	globalConfig *Config
	once         sync.Once
)

// Config holds all runtime configuration, loaded once at startup.
type Config struct {
	Environment string

	Server     ServerConfig
	Logging    LoggingConfig
	Auction    AuctionConfig
	Payment    PaymentConfig
	Email      EmailConfig
	Dispatch   DispatchConfig
	RateLimit  RateLimitConfig
	Scylla     ScyllaConfig
	Redis      RedisConfig
	Kafka      KafkaConfig
	Clickhouse ClickhouseConfig
	KMS        KMSConfig
}

type ServerConfig struct {
	Port         int
	TLSPort      int
	EnableTLS    bool
	AutoCert     bool
	Domain       string
	CertFile     string
	KeyFile      string
	AutoCertDir  string
	Email        string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

// AuctionConfig is immutable for the lifetime of the process. Prices are in
// integer cents; StartingPrice > FloorPrice > 0 is enforced at load time.
type AuctionConfig struct {
	ItemID        string
	StartTime     time.Time
	Duration      time.Duration
	StartingPrice int64
	FloorPrice    int64
}

type PaymentConfig struct {
	APIURL        string
	SecretKey     string
	WebhookSecret string
	SuccessURL    string
	CancelURL     string
	ItemName      string
	ItemDesc      string
}

type EmailConfig struct {
	APIURL      string
	ServerToken string
	FromAddress string
	SiteURL     string
}

type DispatchConfig struct {
	Secret      string
	Concurrency int
}

type RateLimitConfig struct {
	Backend                string // "memory" or "redis"
	Interval               time.Duration
	UniqueTokenPerInterval int
	RegisterLimit          int
	HoverInterval          time.Duration
	HoverLimit             int
	SourceKeySecret        string
}

type ScyllaConfig struct {
	Nodes    []string
	Keyspace string
	Username string
	Password string
}

type RedisConfig struct {
	URL           string
	Password      string
	DB            int
	PoolSize      int
	EventsChannel string
}

type KafkaConfig struct {
	Brokers     []string
	EventsTopic string
}

type ClickhouseConfig struct {
	URL      string
	Username string
	Password string
	Database string
}

type KMSConfig struct {
	Enabled bool
	KeyID   string
	Region  string
}

// LoadConfig reads .env (if present) plus the process environment and
// validates the auction invariants. Invalid auction configuration is a
// startup-time fatal error, never a runtime error of the price engine.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Environment: getEnv("ENVIRONMENT", "development"),
		Server: ServerConfig{
			Port:         getEnvInt("SERVER_PORT", 8080),
			TLSPort:      getEnvInt("SERVER_TLS_PORT", 8443),
			EnableTLS:    getEnvBool("SERVER_ENABLE_TLS", false),
			AutoCert:     getEnvBool("SERVER_AUTO_CERT", false),
			Domain:       getEnv("SERVER_DOMAIN", "localhost"),
			CertFile:     getEnv("SERVER_CERT_FILE", ""),
			KeyFile:      getEnv("SERVER_KEY_FILE", ""),
			AutoCertDir:  getEnv("SERVER_AUTOCERT_DIR", "/var/cache/autocert"),
			Email:        getEnv("SERVER_ACME_EMAIL", ""),
			ReadTimeout:  getEnvDuration("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("SERVER_WRITE_TIMEOUT", 30*time.Second),
			IdleTimeout:  getEnvDuration("SERVER_IDLE_TIMEOUT", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
		Auction: AuctionConfig{
			ItemID:        getEnv("AUCTION_ITEM_ID", "optic"),
			Duration:      getEnvDuration("AUCTION_DURATION", 7*24*time.Hour),
			StartingPrice: getEnvInt64("AUCTION_STARTING_PRICE", 2500000),
			FloorPrice:    getEnvInt64("AUCTION_FLOOR_PRICE", 100),
		},
		Payment: PaymentConfig{
			APIURL:        getEnv("PAYMENT_API_URL", "https://api.payments.example.com"),
			SecretKey:     getEnv("PAYMENT_SECRET_KEY", ""),
			WebhookSecret: getEnv("PAYMENT_WEBHOOK_SECRET", ""),
			SuccessURL:    getEnv("PAYMENT_SUCCESS_URL", ""),
			CancelURL:     getEnv("PAYMENT_CANCEL_URL", ""),
			ItemName:      getEnv("PAYMENT_ITEM_NAME", "Purchase of Optic"),
			ItemDesc:      getEnv("PAYMENT_ITEM_DESC", "Purchase of withoptic.com app"),
		},
		Email: EmailConfig{
			APIURL:      getEnv("EMAIL_API_URL", "https://api.postmarkapp.com"),
			ServerToken: getEnv("EMAIL_SERVER_TOKEN", ""),
			FromAddress: getEnv("EMAIL_FROM_ADDRESS", "hello@withoptic.com"),
			SiteURL:     getEnv("SITE_URL", "https://sale.withoptic.com"),
		},
		Dispatch: DispatchConfig{
			Secret:      getEnv("DISPATCH_SECRET", ""),
			Concurrency: getEnvInt("DISPATCH_CONCURRENCY", 4),
		},
		RateLimit: RateLimitConfig{
			Backend:                getEnv("RATE_LIMIT_BACKEND", "memory"),
			Interval:               getEnvDuration("RATE_LIMIT_INTERVAL", time.Minute),
			UniqueTokenPerInterval: getEnvInt("RATE_LIMIT_UNIQUE_TOKENS", 500),
			RegisterLimit:          getEnvInt("RATE_LIMIT_REGISTER", 5),
			HoverInterval:          getEnvDuration("RATE_LIMIT_HOVER_INTERVAL", 5*time.Second),
			HoverLimit:             getEnvInt("RATE_LIMIT_HOVER", 5),
			SourceKeySecret:        getEnv("SOURCE_KEY_SECRET", ""),
		},
		Scylla: ScyllaConfig{
			Nodes:    getEnvList("SCYLLA_NODES", "127.0.0.1:9042"),
			Keyspace: getEnv("SCYLLA_KEYSPACE", "dutch_auction"),
			Username: getEnv("SCYLLA_USERNAME", ""),
			Password: getEnv("SCYLLA_PASSWORD", ""),
		},
		Redis: RedisConfig{
			URL:           getEnv("REDIS_URL", "redis://127.0.0.1:6379"),
			Password:      getEnv("REDIS_PASSWORD", ""),
			DB:            getEnvInt("REDIS_DB", 0),
			PoolSize:      getEnvInt("REDIS_POOL_SIZE", 50),
			EventsChannel: getEnv("REDIS_EVENTS_CHANNEL", "auction:events"),
		},
		Kafka: KafkaConfig{
			Brokers:     getEnvList("KAFKA_BROKERS", "127.0.0.1:9092"),
			EventsTopic: getEnv("KAFKA_EVENTS_TOPIC", "auction-events"),
		},
		Clickhouse: ClickhouseConfig{
			URL:      getEnv("CLICKHOUSE_URL", "http://127.0.0.1:8123"),
			Username: getEnv("CLICKHOUSE_USERNAME", "default"),
			Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			Database: getEnv("CLICKHOUSE_DATABASE", "auction"),
		},
		KMS: KMSConfig{
			Enabled: getEnvBool("KMS_ENABLED", false),
			KeyID:   getEnv("KMS_KEY_ID", ""),
			Region:  getEnv("KMS_REGION", "us-east-1"),
		},
	}

	startDate := os.Getenv("AUCTION_START_DATE")
	if startDate == "" {
		return nil, fmt.Errorf("AUCTION_START_DATE environment variable is required")
	}
	startTime, err := time.Parse(time.RFC3339, startDate)
	if err != nil {
		return nil, fmt.Errorf("invalid AUCTION_START_DATE: %w", err)
	}
	cfg.Auction.StartTime = startTime

	if err := cfg.Auction.Validate(); err != nil {
		return nil, err
	}

	once.Do(func() { globalConfig = cfg })
	return cfg, nil
}

// Validate enforces the auction price invariants.
func (a AuctionConfig) Validate() error {
	if a.FloorPrice <= 0 {
		return fmt.Errorf("AUCTION_FLOOR_PRICE must be greater than zero, got %d", a.FloorPrice)
	}
	if a.StartingPrice <= a.FloorPrice {
		return fmt.Errorf("AUCTION_STARTING_PRICE (%d) must be greater than AUCTION_FLOOR_PRICE (%d)",
			a.StartingPrice, a.FloorPrice)
	}
	if a.Duration <= 0 {
		return fmt.Errorf("AUCTION_DURATION must be positive, got %s", a.Duration)
	}
	return nil
}

// Get returns the config loaded by LoadConfig. Callers must not mutate it.
func Get() *Config {
	return globalConfig
}

func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

func (c *Config) GetServerAddress() string {
	return fmt.Sprintf(":%d", c.Server.Port)
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

func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseInt(value, 10, 64); err == nil {
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
	}
	return defaultValue
}

func getEnvList(key, defaultValue string) []string {
	value := getEnv(key, defaultValue)
	parts := strings.Split(value, ",")
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	return parts
}
