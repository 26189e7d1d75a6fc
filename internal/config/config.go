package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config aggregates runtime configuration for the service.
type Config struct {
	App        AppConfig
	Postgres   PostgresConfig
	Redis      RedisConfig
	Nats       NatsConfig
	ChangeFeed ChangeFeedConfig
	Storage    StorageConfig
	Logger     LoggerConfig
	Auth       AuthConfig
	Limits     LimitsConfig
}

// AppConfig controls server level behavior.
type AppConfig struct {
	Name                  string
	Env                   string
	Host                  string
	Port                  string
	Version               string
	RequestTimeoutSeconds int
	// PhoneRegion is the ISO region used to parse ticket phone numbers without a country code.
	PhoneRegion string
}

// PostgresConfig holds DB connection values.
type PostgresConfig struct {
	DSN            string
	MaxConns       int32
	MinConns       int32
	RunMigrations  bool
	MigrationsDir  string
	ConnMaxIdleSec int32
	ConnMaxLifeSec int32
}

// RedisConfig holds Redis connection values.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

// NatsConfig holds NATS connection values.
type NatsConfig struct {
	URL           string
	SubjectPrefix string
}

// ChangeFeedDriver selects the change-notification transport.
type ChangeFeedDriver string

const (
	ChangeFeedRedis  ChangeFeedDriver = "redis"
	ChangeFeedNats   ChangeFeedDriver = "nats"
	ChangeFeedMemory ChangeFeedDriver = "memory"
)

// ChangeFeedConfig configures topic signalling between instances.
type ChangeFeedConfig struct {
	Driver        ChangeFeedDriver
	ChannelPrefix string
}

// StorageDriver selects the object storage backend.
type StorageDriver string

const (
	StorageLocal StorageDriver = "local"
	StorageS3    StorageDriver = "s3"
)

// StorageConfig configures attachment object storage.
type StorageConfig struct {
	Driver          StorageDriver
	LocalDir        string
	PublicBaseURL   string
	Bucket          string
	Endpoint        string
	Region          string
	AccessKeyID     string
	SecretAccessKey string
}

// LoggerConfig configures logging behavior.
type LoggerConfig struct {
	Level      string
	File       string
	MaxSizeMB  int
	MaxBackups int
}

// AuthConfig defines authentication parameters.
type AuthConfig struct {
	JWTSecret             string
	AccessTokenTTLMinutes int
	BcryptCost            int
}

// LimitsConfig bounds writes, uploads and request rates.
type LimitsConfig struct {
	WriteTimeoutSeconds int
	AttachmentMaxBytes  int64
	RateLimitRPS        float64
	RateLimitBurst      int
	FanoutMaxAttempts   int
	FanoutTimeoutSec    int
	FanoutWorkers       int
	FanoutQueueSize     int
}

// Load reads configuration from environment variables, applying defaults where possible.
func Load() (*Config, error) {
	_ = godotenv.Load()

	redisDB, err := strconv.Atoi(getEnv("REDIS_DB", "0"))
	if err != nil {
		return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
	}

	rps, err := strconv.ParseFloat(getEnv("RATE_LIMIT_RPS", "5"), 64)
	if err != nil {
		return nil, fmt.Errorf("invalid RATE_LIMIT_RPS: %w", err)
	}

	cfg := &Config{
		App: AppConfig{
			Name:                  getEnv("APP_NAME", "support-desk"),
			Env:                   getEnv("APP_ENV", "development"),
			Host:                  getEnv("APP_HOST", "0.0.0.0"),
			Port:                  getEnv("APP_PORT", "8080"),
			Version:               getEnv("APP_VERSION", "dev"),
			RequestTimeoutSeconds: getEnvAsInt("HTTP_REQUEST_TIMEOUT_SECONDS", 30),
			PhoneRegion:           strings.ToUpper(getEnv("PHONE_DEFAULT_REGION", "US")),
		},
		Postgres: PostgresConfig{
			DSN:            os.Getenv("POSTGRES_DSN"),
			MaxConns:       int32(getEnvAsInt("POSTGRES_MAX_CONNS", 10)),
			MinConns:       int32(getEnvAsInt("POSTGRES_MIN_CONNS", 2)),
			RunMigrations:  getEnvAsBool("POSTGRES_RUN_MIGRATIONS", true),
			MigrationsDir:  getEnv("POSTGRES_MIGRATIONS_DIR", "migrations"),
			ConnMaxIdleSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_IDLE_SECONDS", 30)),
			ConnMaxLifeSec: int32(getEnvAsInt("POSTGRES_CONN_MAX_LIFE_SECONDS", 300)),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "127.0.0.1:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       redisDB,
		},
		Nats: NatsConfig{
			URL:           getEnv("NATS_URL", "nats://127.0.0.1:4222"),
			SubjectPrefix: getEnv("NATS_SUBJECT_PREFIX", "support"),
		},
		ChangeFeed: ChangeFeedConfig{
			Driver:        ChangeFeedDriver(strings.ToLower(getEnv("CHANGEFEED_DRIVER", string(ChangeFeedRedis)))),
			ChannelPrefix: getEnv("CHANGEFEED_CHANNEL_PREFIX", "support"),
		},
		Storage: StorageConfig{
			Driver:          StorageDriver(strings.ToLower(getEnv("STORAGE_DRIVER", string(StorageLocal)))),
			LocalDir:        getEnv("STORAGE_LOCAL_DIR", "./data/files"),
			PublicBaseURL:   strings.TrimRight(os.Getenv("STORAGE_PUBLIC_BASE_URL"), "/"),
			Bucket:          os.Getenv("STORAGE_S3_BUCKET"),
			Endpoint:        os.Getenv("STORAGE_S3_ENDPOINT"),
			Region:          getEnv("STORAGE_S3_REGION", "us-east-1"),
			AccessKeyID:     os.Getenv("STORAGE_S3_ACCESS_KEY_ID"),
			SecretAccessKey: os.Getenv("STORAGE_S3_SECRET_ACCESS_KEY"),
		},
		Logger: LoggerConfig{
			Level:      getEnv("LOG_LEVEL", "info"),
			File:       os.Getenv("LOG_FILE"),
			MaxSizeMB:  getEnvAsInt("LOG_FILE_MAX_SIZE_MB", 100),
			MaxBackups: getEnvAsInt("LOG_FILE_MAX_BACKUPS", 5),
		},
		Auth: AuthConfig{
			JWTSecret:             getEnv("AUTH_JWT_SECRET", "dev-secret"),
			AccessTokenTTLMinutes: getEnvAsInt("AUTH_ACCESS_TOKEN_TTL_MINUTES", 60),
			BcryptCost:            getEnvAsInt("AUTH_BCRYPT_COST", 12),
		},
		Limits: LimitsConfig{
			WriteTimeoutSeconds: getEnvAsInt("WRITE_TIMEOUT_SECONDS", 10),
			AttachmentMaxBytes:  int64(getEnvAsInt("ATTACHMENT_MAX_BYTES", 5<<20)),
			RateLimitRPS:        rps,
			RateLimitBurst:      getEnvAsInt("RATE_LIMIT_BURST", 10),
			FanoutMaxAttempts:   getEnvAsInt("FANOUT_MAX_ATTEMPTS", 3),
			FanoutTimeoutSec:    getEnvAsInt("FANOUT_TIMEOUT_SECONDS", 15),
			FanoutWorkers:       getEnvAsInt("FANOUT_WORKERS", 4),
			FanoutQueueSize:     getEnvAsInt("FANOUT_QUEUE_SIZE", 256),
		},
	}

	switch cfg.ChangeFeed.Driver {
	case ChangeFeedRedis, ChangeFeedNats, ChangeFeedMemory:
	default:
		return nil, fmt.Errorf("invalid CHANGEFEED_DRIVER %q", cfg.ChangeFeed.Driver)
	}
	switch cfg.Storage.Driver {
	case StorageLocal:
		if cfg.Storage.PublicBaseURL == "" {
			cfg.Storage.PublicBaseURL = fmt.Sprintf("http://localhost:%s/files", cfg.App.Port)
		}
	case StorageS3:
		if cfg.Storage.Bucket == "" {
			return nil, fmt.Errorf("STORAGE_S3_BUCKET required for s3 storage")
		}
	default:
		return nil, fmt.Errorf("invalid STORAGE_DRIVER %q", cfg.Storage.Driver)
	}

	return cfg, nil
}

// Addr returns the HTTP bind address.
func (a AppConfig) Addr() string {
	return fmt.Sprintf("%s:%s", a.Host, a.Port)
}

// RequestTimeout returns the configured request timeout duration.
func (a AppConfig) RequestTimeout() time.Duration {
	if a.RequestTimeoutSeconds <= 0 {
		return 0
	}
	return time.Duration(a.RequestTimeoutSeconds) * time.Second
}

// WriteTimeout bounds a single write operation.
func (l LimitsConfig) WriteTimeout() time.Duration {
	if l.WriteTimeoutSeconds <= 0 {
		return 10 * time.Second
	}
	return time.Duration(l.WriteTimeoutSeconds) * time.Second
}

// FanoutTimeout bounds one notification fan-out including retries.
func (l LimitsConfig) FanoutTimeout() time.Duration {
	if l.FanoutTimeoutSec <= 0 {
		return 15 * time.Second
	}
	return time.Duration(l.FanoutTimeoutSec) * time.Second
}

// AccessTokenTTL returns the session lifetime.
func (a AuthConfig) AccessTokenTTL() time.Duration {
	if a.AccessTokenTTLMinutes <= 0 {
		return time.Hour
	}
	return time.Duration(a.AccessTokenTTLMinutes) * time.Minute
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvAsInt(key string, fallback int) int {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return fallback
	}
	return parsed
}

func getEnvAsBool(key string, fallback bool) bool {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	parsed, err := strconv.ParseBool(val)
	if err != nil {
		return fallback
	}
	return parsed
}
