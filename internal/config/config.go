package config

import (
	"fmt"
	"log"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/shopspring/decimal"
)

const (
	DriverMemory   = "memory"
	DriverWAL      = "wal"
	DriverPostgres = "postgres"
)

type Config struct {
	LogLevel      string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile       string `envconfig:"LOG_FILE" default:"ledger.log"`
	StorageDriver string `envconfig:"STORAGE_DRIVER" default:"postgres"`
	WALDir        string `envconfig:"WAL_DIR" default:"./wal/ledger"`
	DirectoryFile string `envconfig:"DIRECTORY_FILE" default:"accounts.json"`
	Migrations    string `envconfig:"MIGRATIONS_PATH" default:"migrations"`
	DB            DBConfig
	Ledger        LedgerConfig
	Fraud         FraudConfig
	Notify        NotifyConfig
	Kafka         KafkaConfig
}

type DBConfig struct {
	Host     string `envconfig:"POSTGRES_HOST"     default:"localhost"`
	Port     string `envconfig:"POSTGRES_PORT"     default:"5432"`
	User     string `envconfig:"POSTGRES_USER"     default:"postgres"`
	Password string `envconfig:"POSTGRES_PASSWORD" default:"postgres"`
	DBName   string `envconfig:"POSTGRES_DB"       default:"ledger"`
	SSLMode  string `envconfig:"POSTGRES_SSLMODE"  default:"disable"`
}

type LedgerConfig struct {
	Currency       string          `envconfig:"LEDGER_CURRENCY" default:"USD"`
	AdminAccountID string          `envconfig:"ADMIN_ACCOUNT_ID"`
	AdminSeed      decimal.Decimal `envconfig:"ADMIN_SEED_AMOUNT" default:"10000"`
}

type FraudConfig struct {
	LargeAmount          decimal.Decimal `envconfig:"FRAUD_LARGE_AMOUNT" default:"1000"`
	VelocityWindow       time.Duration   `envconfig:"FRAUD_VELOCITY_WINDOW" default:"5m"`
	VelocityThreshold    int             `envconfig:"FRAUD_VELOCITY_THRESHOLD" default:"3"`
	RescanInterval       time.Duration   `envconfig:"FRAUD_RESCAN_INTERVAL" default:"5m"`
	UnusualMinRepeats    int             `envconfig:"FRAUD_UNUSUAL_MIN_REPEATS" default:"3"`
	UnusualMinAmount     decimal.Decimal `envconfig:"FRAUD_UNUSUAL_MIN_AMOUNT" default:"50"`
	UnusualRoundMultiple decimal.Decimal `envconfig:"FRAUD_UNUSUAL_ROUND_MULTIPLE" default:"100"`
}

type NotifyConfig struct {
	Workers   int `envconfig:"NOTIFY_WORKERS" default:"2"`
	QueueSize int `envconfig:"NOTIFY_QUEUE_SIZE" default:"100"`
}

type KafkaConfig struct {
	Brokers []string      `envconfig:"KAFKA_BROKERS" default:"localhost:9092"`
	Topic   string        `envconfig:"KAFKA_TOPIC" default:"fraud-alerts"`
	GroupID string        `envconfig:"KAFKA_GROUP_ID" default:"fraud-notifier"`
	Workers int           `envconfig:"KAFKA_WORKERS" default:"3"`
	Timeout time.Duration `envconfig:"KAFKA_TIMEOUT" default:"10s"`
	Enabled bool          `envconfig:"KAFKA_ENABLED" default:"false"`
}

type MongoDBConfig struct {
	URI        string        `envconfig:"MONGO_URI" required:"true"`
	Database   string        `envconfig:"MONGO_DATABASE" default:"ledger"`
	Collection string        `envconfig:"MONGO_COLLECTION" default:"fraud_alerts"`
	Timeout    time.Duration `envconfig:"MONGO_TIMEOUT" default:"10s"`
}

// NotifierConfig configures the process archiving fraud alerts.
type NotifierConfig struct {
	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	LogFile  string `envconfig:"LOG_FILE" default:"notification.log"`
	Kafka    KafkaConfig
	MongoDB  MongoDBConfig
}

func NewConfig() (*Config, error) {
	loadEnvFile()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func NewNotifierConfig() (*NotifierConfig, error) {
	loadEnvFile()

	var cfg NotifierConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}

	return &cfg, nil
}

func loadEnvFile() {
	envFile := "config.env"

	if err := godotenv.Load(envFile); err != nil {
		log.Printf("warning: could not load %s, using process environment only: %v", envFile, err)
	}
}

func (c *Config) Validate() error {
	switch c.StorageDriver {
	case DriverMemory, DriverWAL, DriverPostgres:
	default:
		return fmt.Errorf("unknown STORAGE_DRIVER %q", c.StorageDriver)
	}
	if c.Fraud.VelocityWindow <= 0 || c.Fraud.RescanInterval <= 0 {
		return fmt.Errorf("fraud windows must be positive")
	}
	if c.Fraud.VelocityThreshold < 1 || c.Fraud.UnusualMinRepeats < 1 {
		return fmt.Errorf("fraud thresholds must be at least 1")
	}
	if c.Ledger.AdminSeed.IsNegative() {
		return fmt.Errorf("ADMIN_SEED_AMOUNT must not be negative")
	}
	return nil
}

func (d *DBConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

func (d *DBConfig) MigrationURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%s/%s?sslmode=%s",
		d.User, d.Password, d.Host, d.Port, d.DBName, d.SSLMode,
	)
}
