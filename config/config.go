package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

const (
	StoreBackendPostgres = "postgres"
	StoreBackendMemory   = "memory"

	MQBackendNone     = "none"
	MQBackendRabbitMQ = "rabbitmq"
	MQBackendPubSub   = "pubsub"

	StorageBackendNone  = "none"
	StorageBackendMinio = "minio"
	StorageBackendGCS   = "gcs"
)

type Config struct {
	ServerPort int    `env:"SERVER_PORT" envDefault:"8080"`
	LogLevel   string `env:"LOG_LEVEL" envDefault:"info"`
	Database   DatabaseConfig
	Auth       AuthConfig
	Store      StoreConfig
	MQ         MQConfig
	Storage    StorageConfig
	Redis      RedisConfig
}

type DatabaseConfig struct {
	Host     string `env:"DB_HOST" envDefault:"localhost"`
	Port     int    `env:"DB_PORT" envDefault:"5432"`
	User     string `env:"DB_USER" envDefault:"gamerev"`
	Password string `env:"DB_PASSWORD" envDefault:"password"`
	DBName   string `env:"DB_NAME" envDefault:"gamerev_db"`
	UseSSL   bool   `env:"DB_USE_SSL" envDefault:"false"`
}

// AuthConfig holds the token signing keyring and password hashing settings.
// RetiredKeys lists previously active keys as kid:secret pairs; they still
// verify tokens but never sign new ones.
type AuthConfig struct {
	JWTSecret   string            `env:"JWT_SECRET"`
	KeyID       string            `env:"JWT_KEY_ID" envDefault:"v1"`
	RetiredKeys map[string]string `env:"JWT_RETIRED_KEYS" envSeparator:"," envKeyValSeparator:":"`
	TokenTTL    time.Duration     `env:"JWT_TOKEN_TTL" envDefault:"24h"`
	BcryptCost  int               `env:"BCRYPT_COST" envDefault:"10"`
}

type StoreConfig struct {
	Backend   string        `env:"STORE_BACKEND" envDefault:"postgres"`
	TxTimeout time.Duration `env:"STORE_TX_TIMEOUT" envDefault:"5s"`
}

type MQConfig struct {
	Backend  string `env:"MQ_BACKEND" envDefault:"none"`
	Channel  string `env:"MQ_CHANNEL" envDefault:"review-events"`
	RabbitMQ RabbitMQConfig
	PubSub   PubSubConfig
}

type RabbitMQConfig struct {
	URL             string `env:"RABBITMQ_URL"`
	QueueDurable    bool   `env:"RABBITMQ_QUEUE_DURABLE" envDefault:"true"`
	QueueAutoDelete bool   `env:"RABBITMQ_QUEUE_AUTO_DELETE" envDefault:"false"`
	PrefetchCount   int    `env:"RABBITMQ_PREFETCH" envDefault:"16"`
}

type PubSubConfig struct {
	ProjectID          string `env:"PUBSUB_PROJECT_ID"`
	CredentialsFile    string `env:"PUBSUB_CREDENTIALS_FILE"`
	SubscriptionSuffix string `env:"PUBSUB_SUBSCRIPTION_SUFFIX" envDefault:"-sub"`
}

type StorageConfig struct {
	Backend string `env:"STORAGE_BACKEND" envDefault:"none"`
	Minio   MinioConfig
	GCS     GCSConfig
}

type MinioConfig struct {
	Endpoint  string `env:"MINIO_ENDPOINT"`
	AccessKey string `env:"MINIO_ACCESS_KEY"`
	SecretKey string `env:"MINIO_SECRET_KEY"`
	Bucket    string `env:"MINIO_BUCKET" envDefault:"gamerev-archive"`
	UseSSL    bool   `env:"MINIO_USE_SSL" envDefault:"false"`
}

type GCSConfig struct {
	Bucket          string `env:"GCS_BUCKET"`
	ProjectID       string `env:"GCS_PROJECT_ID"`
	CredentialsFile string `env:"GCS_CREDENTIALS_FILE"`
}

// RedisConfig enables login rate limiting when Addr is set.
type RedisConfig struct {
	Addr           string `env:"REDIS_ADDR"`
	Password       string `env:"REDIS_PASSWORD"`
	DB             int    `env:"REDIS_DB" envDefault:"0"`
	LoginPerMinute int    `env:"LOGIN_RATE_PER_MINUTE" envDefault:"20"`
}

// LoadConfig reads configuration from the environment, loading a .env file
// first when ENV=dev.
func LoadConfig() (Config, error) {
	if os.Getenv("ENV") == "dev" {
		_ = godotenv.Load()
	}

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, fmt.Errorf("parse env: %w", err)
	}
	cfg.Auth.JWTSecret = strings.TrimSpace(cfg.Auth.JWTSecret)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks cross-field constraints that struct tags cannot express.
func (c Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return errors.New("JWT_SECRET is required")
	}
	if strings.TrimSpace(c.Auth.KeyID) == "" {
		return errors.New("JWT_KEY_ID must not be empty")
	}
	if _, clash := c.Auth.RetiredKeys[c.Auth.KeyID]; clash {
		return fmt.Errorf("JWT_RETIRED_KEYS must not contain the active key id %q", c.Auth.KeyID)
	}
	if c.Auth.TokenTTL <= 0 {
		return errors.New("JWT_TOKEN_TTL must be positive")
	}
	if c.Auth.BcryptCost < 4 || c.Auth.BcryptCost > 31 {
		return errors.New("BCRYPT_COST must be between 4 and 31")
	}
	if c.Store.TxTimeout <= 0 {
		return errors.New("STORE_TX_TIMEOUT must be positive")
	}

	switch c.Store.Backend {
	case StoreBackendPostgres, StoreBackendMemory:
	default:
		return fmt.Errorf("STORE_BACKEND %q is not supported", c.Store.Backend)
	}

	switch c.MQ.Backend {
	case MQBackendNone, "":
	case MQBackendRabbitMQ:
		if strings.TrimSpace(c.MQ.RabbitMQ.URL) == "" {
			return errors.New("RABBITMQ_URL is required when MQ_BACKEND=rabbitmq")
		}
	case MQBackendPubSub:
		if strings.TrimSpace(c.MQ.PubSub.ProjectID) == "" {
			return errors.New("PUBSUB_PROJECT_ID is required when MQ_BACKEND=pubsub")
		}
	default:
		return fmt.Errorf("MQ_BACKEND %q is not supported", c.MQ.Backend)
	}

	switch c.Storage.Backend {
	case StorageBackendNone, "", StorageBackendMinio, StorageBackendGCS:
	default:
		return fmt.Errorf("STORAGE_BACKEND %q is not supported", c.Storage.Backend)
	}

	if c.Redis.LoginPerMinute < 0 {
		return errors.New("LOGIN_RATE_PER_MINUTE must be non-negative")
	}
	return nil
}
