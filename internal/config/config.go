package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	AppName     string
	AppVersion  string
	Environment string
	HTTPAddr    string

	OTLPEndpoint string
	Telemetry    TelemetryConfig

	MercadoPago MercadoPagoConfig

	DBType            string
	DBHost            string
	DBPort            string
	DBName            string
	DBUser            string
	DBPassword        string
	DBSSLMode         string
	DBPath            string
	DBMaxIdleConn     int
	DBMaxOpenConn     int
	DBConnMaxLifetime int
	DBConnMaxIdleTime int
	DBAutoMigrate     bool

	LedgerBackend string
	BoltPath      string

	Dedup     DedupConfig
	Events    EventsConfig
	Reconcile ReconcileRuntimeConfig
}

// TelemetryConfig carries logging and OpenTelemetry settings.
type TelemetryConfig struct {
	LogLevel      string
	LogFormat     string
	OtelEnabled   bool
	OtelProtocol  string
	SamplingRatio float64
}

type DedupConfig struct {
	Backend       string
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	KeyPrefix     string
}

type EventsConfig struct {
	AMQPURL  string
	Exchange string
}

// ReconcileRuntimeConfig carries the process-level knobs of background reconciliation.
// Tunables that may change while running live in ReconcileConfig instead.
type ReconcileRuntimeConfig struct {
	MaxInflight int
	Timeout     time.Duration
	ConfigDir   string
}

const (
	LedgerBackendGorm = "gorm"
	LedgerBackendBolt = "bolt"

	DedupBackendMemory = "memory"
	DedupBackendRedis  = "redis"
)

// Load loads configuration from environment variables and .env file.
func Load() Config {
	_ = godotenv.Load()

	cfg := Config{
		AppName:      getenv("APP_SERVICE", "paynotify"),
		AppVersion:   getenv("APP_VERSION", "0.1.0"),
		Environment:  getenv("ENVIRONMENT", "development"),
		HTTPAddr:     getenv("HTTP_ADDR", ":"+getenv("PORT", "10000")),
		OTLPEndpoint: getenv("OTEL_EXPORTER_OTLP_ENDPOINT", getenv("OTLP_ENDPOINT", "localhost:4317")),
		Telemetry: TelemetryConfig{
			LogLevel:      strings.ToLower(getenv("LOG_LEVEL", "info")),
			LogFormat:     strings.ToLower(getenv("LOG_FORMAT", "json")),
			OtelEnabled:   getenvBool("OTEL_ENABLED", false),
			OtelProtocol:  strings.ToLower(getenv("OTEL_EXPORTER_OTLP_PROTOCOL", "grpc")),
			SamplingRatio: getenvFloat("OTEL_SAMPLING_RATIO", 0.1),
		},
		MercadoPago: MercadoPagoConfig{
			Mode:            NormalizeMode(getenv("MP_MODE", ModeTest)),
			TestAccessToken: strings.TrimSpace(getenv("MP_ACCESS_TOKEN_TEST", "")),
			LiveAccessToken: strings.TrimSpace(getenv("MP_ACCESS_TOKEN", "")),
			BaseURL:         strings.TrimRight(getenv("MP_API_BASE_URL", DefaultMercadoPagoBaseURL), "/"),
			Timeout:         time.Duration(getenvInt64("MP_TIMEOUT_SECONDS", 15)) * time.Second,
		},
		DBType:            strings.ToLower(getenv("DATABASE_TYPE", "postgres")),
		DBHost:            getenv("DATABASE_HOST", "localhost"),
		DBPort:            getenv("DATABASE_PORT", "5432"),
		DBName:            getenv("DATABASE_NAME", "paynotify"),
		DBUser:            getenv("DATABASE_USER", "postgres"),
		DBPassword:        getenv("DATABASE_PASSWORD", ""),
		DBSSLMode:         getenv("DATABASE_SSLMODE", "disable"),
		DBPath:            getenv("DATABASE_PATH", "paynotify.db"),
		DBMaxIdleConn:     int(getenvInt64("DATABASE_MAX_IDLE_CONN", 5)),
		DBMaxOpenConn:     int(getenvInt64("DATABASE_MAX_OPEN_CONN", 20)),
		DBConnMaxLifetime: int(getenvInt64("DATABASE_CONN_MAX_LIFETIME", 300)),
		DBConnMaxIdleTime: int(getenvInt64("DATABASE_CONN_MAX_IDLE_TIME", 60)),
		DBAutoMigrate:     getenvBool("DATABASE_AUTO_MIGRATE", true),
		LedgerBackend:     strings.ToLower(getenv("LEDGER_BACKEND", LedgerBackendGorm)),
		BoltPath:          getenv("BOLT_PATH", "ledger.bolt"),
		Dedup: DedupConfig{
			Backend:       strings.ToLower(getenv("DEDUP_BACKEND", DedupBackendMemory)),
			RedisAddr:     strings.TrimSpace(getenv("REDIS_ADDR", "")),
			RedisPassword: getenv("REDIS_PASSWORD", ""),
			RedisDB:       int(getenvInt64("REDIS_DB", 0)),
			KeyPrefix:     getenv("DEDUP_KEY_PREFIX", "paynotify:dedup:"),
		},
		Events: EventsConfig{
			AMQPURL:  strings.TrimSpace(getenv("AMQP_URL", "")),
			Exchange: getenv("AMQP_EXCHANGE", "payments"),
		},
		Reconcile: ReconcileRuntimeConfig{
			MaxInflight: int(getenvInt64("RECONCILE_MAX_INFLIGHT", 16)),
			Timeout:     time.Duration(getenvInt64("RECONCILE_TIMEOUT_SECONDS", 60)) * time.Second,
			ConfigDir:   strings.TrimSpace(getenv("RECONCILE_CONFIG_DIR", "")),
		},
	}

	return cfg
}

// Validate reports the first setting that prevents the service from running safely.
func (c Config) Validate() error {
	if err := c.MercadoPago.Validate(); err != nil {
		return err
	}
	switch c.LedgerBackend {
	case LedgerBackendGorm, LedgerBackendBolt:
	default:
		return &ConfigurationError{Field: "LEDGER_BACKEND", Reason: "unsupported backend " + strconv.Quote(c.LedgerBackend)}
	}
	switch c.Dedup.Backend {
	case DedupBackendMemory:
	case DedupBackendRedis:
		if c.Dedup.RedisAddr == "" {
			return &ConfigurationError{Field: "REDIS_ADDR", Reason: "required when DEDUP_BACKEND=redis"}
		}
	default:
		return &ConfigurationError{Field: "DEDUP_BACKEND", Reason: "unsupported backend " + strconv.Quote(c.Dedup.Backend)}
	}
	return nil
}

func getenv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	value := strings.ToLower(strings.TrimSpace(os.Getenv(key)))
	if value == "" {
		return def
	}
	switch value {
	case "1", "true", "yes", "y", "on":
		return true
	case "0", "false", "no", "n", "off":
		return false
	default:
		return def
	}
}

func getenvInt64(key string, def int64) int64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseInt(value, 10, 64)
	if err != nil {
		return def
	}
	return parsed
}

func getenvFloat(key string, def float64) float64 {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return def
	}
	parsed, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return def
	}
	return parsed
}
