package config

import (
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverMemory   = "memory"
)

// Postgres holds the DSN parts used when DATABASE_URL is not set.
type Postgres struct {
	User     string `envconfig:"POSTGRES_USER" default:"flowguard"`
	Password string `envconfig:"POSTGRES_PASSWORD" default:"flowguard_pass"`
	DB       string `envconfig:"POSTGRES_DB" default:"flowguard"`
	Host     string `envconfig:"POSTGRES_HOST" default:"localhost"`
	Port     string `envconfig:"POSTGRES_PORT" default:"5432"`
	SSLMode  string `envconfig:"DATABASE_SSLMODE" default:"disable"`
}

// Config holds service configuration.
type Config struct {
	Environment string `envconfig:"ENV" default:"dev"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`

	StoreDriver  string `envconfig:"STORE_DRIVER" default:"postgres"`
	DatabaseURL  string `envconfig:"DATABASE_URL"`
	Postgres     Postgres
	DBMaxConns   int32  `envconfig:"DB_MAX_CONNS" default:"10"`
	SQLitePath   string `envconfig:"SQLITE_PATH" default:"flowguard.db"`
	ServerAddr   string `envconfig:"SERVER_ADDR" default:"0.0.0.0:8080"`
	AuditKeyHex  string `envconfig:"AUDIT_SIGNING_KEY"`
	AuditSignKey []byte `ignored:"true"`

	RedisAddr       string        `envconfig:"REDIS_ADDR"`
	RedisPassword   string        `envconfig:"REDIS_PASSWORD"`
	RedisDB         int           `envconfig:"REDIS_DB" default:"0"`
	ReceiptCacheTTL time.Duration `envconfig:"RECEIPT_CACHE_TTL" default:"24h"`

	AMQPURL              string `envconfig:"AMQP_URL"`
	AMQPExchange         string `envconfig:"AMQP_ACTIONS_EXCHANGE" default:"flow.actions"`
	AMQPCallbackQueue    string `envconfig:"AMQP_CALLBACK_QUEUE" default:"payment.callbacks"`
	AMQPCallbackExchange string `envconfig:"AMQP_CALLBACK_EXCHANGE" default:"payment.events"`

	GatewayVerifyURL     string        `envconfig:"GATEWAY_VERIFY_URL"`
	GatewayVerifyTimeout time.Duration `envconfig:"GATEWAY_VERIFY_TIMEOUT" default:"5s"`
	VerifyAllCallbacks   bool          `envconfig:"VERIFY_ALL_CALLBACKS" default:"false"`
	FormsServiceURL      string        `envconfig:"FORMS_SERVICE_URL"`
	StaleRetryAttempts   int           `envconfig:"STALE_RETRY_ATTEMPTS" default:"3"`

	OTelEnabled  bool   `envconfig:"OTEL_ENABLED" default:"false"`
	OTelEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4317"`
}

// Load reads .env when present, then the environment.
func Load() (*Config, error) {
	_ = godotenv.Load(".env")
	return FromEnv()
}

// FromEnv reads configuration from the environment only.
func FromEnv() (*Config, error) {
	var c Config
	if err := envconfig.Process("", &c); err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if c.DatabaseURL == "" {
		p := c.Postgres
		c.DatabaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s", p.User, p.Password, p.Host, p.Port, p.DB, p.SSLMode)
	}
	switch c.StoreDriver {
	case DriverPostgres, DriverSQLite, DriverMemory:
	default:
		return nil, fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if c.StaleRetryAttempts < 1 {
		return nil, errors.New("config: STALE_RETRY_ATTEMPTS must be at least 1")
	}
	key, err := loadHexKey(c.AuditKeyHex)
	if err != nil {
		return nil, err
	}
	c.AuditSignKey = key
	return &c, nil
}

func loadHexKey(val string) ([]byte, error) {
	if val == "" {
		return nil, nil
	}
	key, err := hex.DecodeString(val)
	if err != nil {
		return nil, fmt.Errorf("config: invalid AUDIT_SIGNING_KEY: %w", err)
	}
	if len(key) < 32 {
		return nil, errors.New("config: AUDIT_SIGNING_KEY must be at least 32 bytes")
	}
	return key, nil
}
