package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

type Config struct {
	Server      ServerConfig
	Log         LogConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Kafka       KafkaConfig
	Auth        AuthConfig
	Ledger      LedgerConfig
	QR          QRConfig
	Idempotency IdempotencyConfig
	Metrics     MetricsConfig
}

type ServerConfig struct {
	Port         string
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

type LogConfig struct {
	Dir   string
	Level string
}

type DatabaseConfig struct {
	// Driver is "postgres" or "sqlite".
	Driver        string
	DSN           string
	MaxOpenConns  int
	MaxIdleConns  int
	MaxLifetime   time.Duration
	AutoMigrate   bool
	MigrationsDir string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Enabled  bool
}

type KafkaConfig struct {
	Brokers []string
	GroupID string
	Topic   string
	Enabled bool
}

type AuthConfig struct {
	// Mode is "oidc" or "hmac".
	Mode       string
	OIDCIssuer string
	HMACSecret string
}

type LedgerConfig struct {
	Deployer         common.Address
	Escrow           common.Address
	RoyaltyCeiling   uint16
	RoyaltyRecipient common.Address
	RoyaltyRate      uint16
}

type QRConfig struct {
	Secret string
	Size   int
	// TTL of zero means passes never expire.
	TTL time.Duration
}

type IdempotencyConfig struct {
	TTL time.Duration
}

type MetricsConfig struct {
	Enabled bool
	Path    string
}

// LoadDotEnv reads .env into the process environment when present.
func LoadDotEnv(files ...string) error {
	return godotenv.Load(files...)
}

func Load() (*Config, error) {
	cfg := &Config{
		Server: ServerConfig{
			Port:         getEnv("PORT", ":8084"),
			ReadTimeout:  getEnvDuration("HTTP_READ_TIMEOUT", 15*time.Second),
			WriteTimeout: getEnvDuration("HTTP_WRITE_TIMEOUT", 15*time.Second),
			IdleTimeout:  getEnvDuration("HTTP_IDLE_TIMEOUT", 60*time.Second),
		},
		Log: LogConfig{
			Dir:   getEnv("LOG_DIR", "logs"),
			Level: getEnv("LOG_LEVEL", "INFO"),
		},
		Database: DatabaseConfig{
			Driver:        getEnv("DB_DRIVER", "postgres"),
			DSN:           os.Getenv("POSTGRES_DSN"),
			MaxOpenConns:  getEnvInt("DB_MAX_OPEN_CONNS", 25),
			MaxIdleConns:  getEnvInt("DB_MAX_IDLE_CONNS", 25),
			MaxLifetime:   time.Duration(getEnvInt("DB_MAX_LIFETIME_MINUTES", 5)) * time.Minute,
			AutoMigrate:   getEnvBool("DB_AUTO_MIGRATE", true),
			MigrationsDir: os.Getenv("DB_MIGRATIONS_DIR"),
		},
		Redis: RedisConfig{
			Addr:     getEnv("REDIS_ADDR", "localhost:6379"),
			Password: os.Getenv("REDIS_PASSWORD"),
			DB:       getEnvInt("REDIS_DB", 0),
			Enabled:  getEnvBool("REDIS_ENABLED", true),
		},
		Kafka: KafkaConfig{
			Brokers: splitList(getEnv("KAFKA_ADDR", "localhost:9092")),
			GroupID: getEnv("KAFKA_GROUP_ID", "ticket-ledger-indexer"),
			Topic:   getEnv("KAFKA_LEDGER_TOPIC", "ticketly.ledger.events"),
			Enabled: getEnvBool("KAFKA_ENABLED", true),
		},
		Auth: AuthConfig{
			Mode:       strings.ToLower(getEnv("AUTH_MODE", "oidc")),
			OIDCIssuer: os.Getenv("OIDC_ISSUER"),
			HMACSecret: os.Getenv("AUTH_HMAC_SECRET"),
		},
		QR: QRConfig{
			Secret: os.Getenv("QR_SECRET"),
			Size:   getEnvInt("QR_SIZE", 256),
			TTL:    getEnvDuration("QR_PASS_TTL", 0),
		},
		Idempotency: IdempotencyConfig{
			TTL: getEnvDuration("IDEMPOTENCY_TTL", 24*time.Hour),
		},
		Metrics: MetricsConfig{
			Enabled: getEnvBool("METRICS_ENABLED", true),
			Path:    getEnv("METRICS_PATH", "/metrics"),
		},
	}
	if cfg.Database.Driver == "sqlite" && cfg.Database.DSN == "" {
		cfg.Database.DSN = getEnv("SQLITE_DSN", "file:ledger.db?cache=shared")
	}

	var err error
	if cfg.Ledger.Deployer, err = getEnvAddress("LEDGER_DEPLOYER", true); err != nil {
		return nil, err
	}
	if cfg.Ledger.Escrow, err = getEnvAddress("LEDGER_ESCROW", true); err != nil {
		return nil, err
	}
	if cfg.Ledger.RoyaltyRecipient, err = getEnvAddress("LEDGER_ROYALTY_RECIPIENT", false); err != nil {
		return nil, err
	}
	cfg.Ledger.RoyaltyCeiling = uint16(getEnvInt("LEDGER_ROYALTY_CEILING_BPS", 2000))
	cfg.Ledger.RoyaltyRate = uint16(getEnvInt("LEDGER_ROYALTY_RATE_BPS", 0))

	if cfg.Database.DSN == "" {
		return nil, fmt.Errorf("POSTGRES_DSN not set")
	}
	switch cfg.Auth.Mode {
	case "oidc":
		if cfg.Auth.OIDCIssuer == "" {
			return nil, fmt.Errorf("OIDC_ISSUER not set")
		}
	case "hmac":
		if cfg.Auth.HMACSecret == "" {
			return nil, fmt.Errorf("AUTH_HMAC_SECRET not set")
		}
	default:
		return nil, fmt.Errorf("unknown AUTH_MODE %q", cfg.Auth.Mode)
	}
	return cfg, nil
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
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

func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
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

func getEnvAddress(key string, required bool) (common.Address, error) {
	value := os.Getenv(key)
	if value == "" {
		if required {
			return common.Address{}, fmt.Errorf("%s not set", key)
		}
		return common.Address{}, nil
	}
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("%s is not a hex address: %q", key, value)
	}
	return common.HexToAddress(value), nil
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
