package config

import (
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
)

// Config holds the overall application configuration.
type Config struct {
	DatabaseURL string `envconfig:"DATABASE_URL" required:"true"`
	LogLevel    string `envconfig:"LOG_LEVEL"    default:"info"`

	Carrier CarrierConfig
	SMPP    SMPPReceiverConfig
	Redis   RedisConfig
	API     APIConfig
	Batch   BatchConfig
	Worker  WorkerConfig
}

// CarrierConfig holds carrier credentials and endpoint settings. The three
// credential fields are fatal-at-startup: no send path may run without them.
type CarrierConfig struct {
	AccountID   string        `envconfig:"CARRIER_ACCOUNT_ID"   required:"true"`
	AuthToken   string        `envconfig:"CARRIER_AUTH_TOKEN"   required:"true"`
	FromNumber  string        `envconfig:"CARRIER_FROM_NUMBER"  required:"true"`
	BaseURL     string        `envconfig:"CARRIER_BASE_URL"     default:"https://api.carrier.example.com/2010-04-01"`
	CallbackURL string        `envconfig:"CARRIER_CALLBACK_URL" default:""`
	Timeout     time.Duration `envconfig:"CARRIER_TIMEOUT"      default:"15s"`
	MaxRetries  int           `envconfig:"CARRIER_MAX_RETRIES"  default:"2"`
	RetryDelay  time.Duration `envconfig:"CARRIER_RETRY_DELAY"  default:"500ms"`
}

// SMPPReceiverConfig configures the optional SMPP delivery-receipt receiver.
// The receiver is only started when Host is set.
type SMPPReceiverConfig struct {
	Host              string        `envconfig:"SMPP_HOST"                default:""`
	Port              int           `envconfig:"SMPP_PORT"                default:"2775"`
	SystemID          string        `envconfig:"SMPP_SYSTEM_ID"           default:""`
	Password          string        `envconfig:"SMPP_PASSWORD"            default:""`
	SystemType        string        `envconfig:"SMPP_SYSTEM_TYPE"         default:""`
	EnquireLink       time.Duration `envconfig:"SMPP_ENQUIRE_LINK"        default:"30s"`
	ReadTimeout       time.Duration `envconfig:"SMPP_READ_TIMEOUT"        default:"60s"`
	ConnectRetryDelay time.Duration `envconfig:"SMPP_CONNECT_RETRY_DELAY" default:"5s"`
}

// RedisConfig configures the callback dedupe cache. Dedupe is skipped when
// Addr is empty.
type RedisConfig struct {
	Addr      string        `envconfig:"REDIS_ADDR"       default:""`
	Password  string        `envconfig:"REDIS_PASSWORD"   default:""`
	DB        int           `envconfig:"REDIS_DB"         default:"0"`
	DedupeTTL time.Duration `envconfig:"REDIS_DEDUPE_TTL" default:"24h"`
}

// APIConfig holds HTTP API server settings.
type APIConfig struct {
	Addr         string        `envconfig:"API_ADDR"          default:":8080"`
	ReadTimeout  time.Duration `envconfig:"API_READ_TIMEOUT"  default:"10s"`
	WriteTimeout time.Duration `envconfig:"API_WRITE_TIMEOUT" default:"70s"`
	IdleTimeout  time.Duration `envconfig:"API_IDLE_TIMEOUT"  default:"60s"`
}

// BatchConfig bounds the live batch send path.
type BatchConfig struct {
	MaxConcurrency int           `envconfig:"BATCH_MAX_CONCURRENCY" default:"10"`
	SendTimeout    time.Duration `envconfig:"BATCH_SEND_TIMEOUT"    default:"60s"`
}

// WorkerConfig holds configuration for background worker intervals and
// batch sizes.
type WorkerConfig struct {
	ScheduledInterval      time.Duration `envconfig:"WORKER_SCHEDULED_INTERVAL"       default:"30s"`
	ScheduledBatchSize     int           `envconfig:"WORKER_SCHEDULED_BATCH_SIZE"     default:"20"`
	ReconcileInterval      time.Duration `envconfig:"WORKER_RECONCILE_INTERVAL"       default:"5m"`
	ReconcileBatchSize     int           `envconfig:"WORKER_RECONCILE_BATCH_SIZE"     default:"50"`
	ReconcileBatchDelay    time.Duration `envconfig:"WORKER_RECONCILE_BATCH_DELAY"    default:"1s"`
	ReconcileWindow        time.Duration `envconfig:"WORKER_RECONCILE_WINDOW"         default:"168h"`
	MonitorCleanupInterval time.Duration `envconfig:"WORKER_MONITOR_CLEANUP_INTERVAL" default:"1m"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	var cfg Config
	log.Println("Loading configuration from environment variables...")

	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file found, skipping: %v", err)
	}

	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	log.Printf("Configuration loaded successfully (API Addr: %s)", cfg.API.Addr)
	return &cfg, nil
}
