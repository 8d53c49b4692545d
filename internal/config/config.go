// Package config provides configuration structures and validation for the
// payment pipeline. It handles environment-based configuration for all major
// components including the HTTP gateway, databases, the settlement queue, the
// chain RPC client and the spending-limit ledger.
package config

import (
	"errors"
	"strings"
	"time"
)

// Config holds the complete application configuration with settings for all
// components. Each field represents a major subsystem's configuration and is
// validated during application startup.
type Config struct {
	Application ApplicationConfig
	Logging     LoggingConfig
	Server      ServerConfig
	Kafka       KafkaConfig
	Postgres    PostgresConfig
	MongoDB     MongoDBConfig
	Chain       ChainConfig
	Payments    PaymentsConfig
	Limits      LimitsConfig
	Oracle      OracleConfig
	WorkerPool  WorkerPoolConfig
	Reconciler  ReconcilerConfig
}

// ApplicationConfig contains general application configuration
type ApplicationConfig struct {
	Env  string
	Name string
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level string
}

// ServerConfig contains HTTP server configuration settings
type ServerConfig struct {
	Port            int           // Port to listen on
	ShutdownTimeout time.Duration // Grace period for server shutdown
	ReadTimeout     time.Duration // Maximum duration for reading entire request
	WriteTimeout    time.Duration // Maximum duration for writing response
	IdleTimeout     time.Duration // Maximum duration to wait for next request
}

// KafkaConfig contains settlement queue configuration
type KafkaConfig struct {
	Brokers           string
	SettlementTopic   string
	NumPartitions     int // Number of partitions for topics
	ReplicationFactor int // Replication factor for topics
	ConsumerGroup     string
	MinBytes          int
	MaxBytes          int
	MaxWait           time.Duration
	StartOffset       int64
	DLQTopic          string // Topic for Dead Letter Queue
}

// PostgresConfig contains PostgreSQL configuration
type PostgresConfig struct {
	URL             string        // Database connection string
	MaxConns        int32         // Maximum number of open connections
	MinConns        int32         // Maximum number of idle connections
	ConnMaxLifetime time.Duration // Maximum lifetime of a connection
	ConnMaxIdleTime time.Duration // Maximum idle time of a connection
	MigrationsPath  string        // Path to migration files
}

// MongoDBConfig contains MongoDB configuration for the transition audit log
type MongoDBConfig struct {
	URI             string
	Database        string
	Timeout         time.Duration
	MaxPoolSize     uint64
	MinPoolSize     uint64
	MaxConnIdleTime time.Duration
}

// ChainConfig contains blockchain RPC client configuration
type ChainConfig struct {
	RPCEndpoint        string
	SubmitTimeout      time.Duration // Bound on a single submission RPC call
	ConfirmationWait   time.Duration // Bound on waiting for a receipt after submission
	ConfirmationPoll   time.Duration // Interval between signature status checks
	MinConfirmations   int
	MaxSubmitAttempts  int           // Cap on settlement submissions per job
	RetryBackoffBase   time.Duration // First retry delay, doubled per attempt
	RetryBackoffMax    time.Duration
	MaxElapsedRPCRetry time.Duration // Budget for transient RPC retries within one attempt
	SignerKey          string        // Base58 private key for the single-step flow; empty disables server-side signing
	SettlementAccount  string        // Destination account for settled payments
}

// PaymentsConfig contains business rules for payment acceptance
type PaymentsConfig struct {
	MinAmount          int64 // Minor units
	MaxAmount          int64 // Minor units
	SettlementCurrency string
	StaleRateMarginBps int64 // Safety margin applied when converting with a stale quote
}

// LimitsConfig contains spending-limit ledger configuration
type LimitsConfig struct {
	Timezone       string        // IANA zone used for daily/monthly window keys
	ReservationTTL time.Duration // Reservations older than this are swept
	SweepInterval  time.Duration // How often orphaned reservations are released
}

// OracleConfig contains rate oracle cache configuration
type OracleConfig struct {
	FeedURL      string
	TTL          time.Duration
	FetchTimeout time.Duration
}

// WorkerPoolConfig contains settlement worker pool configuration
type WorkerPoolConfig struct {
	Size int // Maximum number of workers in the pool
}

// ReconcilerConfig contains reconciliation poller configuration
type ReconcilerConfig struct {
	PollingInterval time.Duration
	BatchSize       int
	MaxProcessing   time.Duration // PROCESSING older than this is probed against the chain
	MaxProbeAge     time.Duration // Unresolved indeterminate jobs older than this are escalated
}

// validate performs comprehensive validation of all configuration values,
// ensuring they meet minimum requirements and logical constraints
func (c *Config) validate() error {
	var validationErrors []string

	// Validate Server config
	if c.Server.Port <= 0 {
		validationErrors = append(validationErrors, "SERVER_PORT must be greater than 0")
	}
	if c.Server.ShutdownTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_SHUTDOWN_TIMEOUT must be greater than 0")
	}
	if c.Server.ReadTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_READ_TIMEOUT must be greater than 0")
	}
	if c.Server.WriteTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_WRITE_TIMEOUT must be greater than 0")
	}
	if c.Server.IdleTimeout <= 0 {
		validationErrors = append(validationErrors, "SERVER_IDLE_TIMEOUT must be greater than 0")
	}

	// Validate Kafka config
	if len(c.Kafka.Brokers) == 0 {
		validationErrors = append(validationErrors, "KAFKA_BROKERS is required")
	}
	if c.Kafka.SettlementTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_SETTLEMENT_TOPIC is required")
	}
	if c.Kafka.ConsumerGroup == "" {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_GROUP is required")
	}
	if c.Kafka.MinBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MIN_BYTES must be greater than 0")
	}
	if c.Kafka.MaxBytes <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_BYTES must be greater than 0")
	}
	if c.Kafka.MaxWait <= 0 {
		validationErrors = append(validationErrors, "KAFKA_CONSUMER_MAX_WAIT must be greater than 0")
	}
	if c.Kafka.DLQTopic == "" {
		validationErrors = append(validationErrors, "KAFKA_DLQ_TOPIC is required")
	}

	// Validate PostgreSQL config
	if c.Postgres.URL == "" {
		validationErrors = append(validationErrors, "POSTGRES_URL is required")
	}
	if c.Postgres.MaxConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONNS must be greater than 0")
	}
	if c.Postgres.MinConns <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MIN_CONNS must be greater than 0")
	}
	if c.Postgres.ConnMaxLifetime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_LIFETIME must be greater than 0")
	}
	if c.Postgres.ConnMaxIdleTime <= 0 {
		validationErrors = append(validationErrors, "POSTGRES_MAX_CONN_IDLE_TIME must be greater than 0")
	}

	// Validate MongoDB config
	if c.MongoDB.URI == "" {
		validationErrors = append(validationErrors, "MONGO_URI is required")
	}
	if c.MongoDB.Database == "" {
		validationErrors = append(validationErrors, "MONGO_DATABASE is required")
	}
	if c.MongoDB.Timeout <= 0 {
		validationErrors = append(validationErrors, "MONGO_TIMEOUT must be greater than 0")
	}
	if c.MongoDB.MaxPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_POOL_SIZE must be greater than 0")
	}
	if c.MongoDB.MinPoolSize <= 0 {
		validationErrors = append(validationErrors, "MONGO_MIN_POOL_SIZE must be greater than 0")
	}
	if c.MongoDB.MaxConnIdleTime <= 0 {
		validationErrors = append(validationErrors, "MONGO_MAX_CONN_IDLE_TIME must be greater than 0")
	}

	// Validate Chain config
	if c.Chain.RPCEndpoint == "" {
		validationErrors = append(validationErrors, "CHAIN_RPC_ENDPOINT is required")
	}
	if c.Chain.SubmitTimeout <= 0 {
		validationErrors = append(validationErrors, "CHAIN_SUBMIT_TIMEOUT must be greater than 0")
	}
	if c.Chain.ConfirmationWait <= 0 {
		validationErrors = append(validationErrors, "CHAIN_CONFIRMATION_WAIT must be greater than 0")
	}
	if c.Chain.ConfirmationPoll <= 0 {
		validationErrors = append(validationErrors, "CHAIN_CONFIRMATION_POLL must be greater than 0")
	}
	if c.Chain.MinConfirmations <= 0 {
		validationErrors = append(validationErrors, "CHAIN_MIN_CONFIRMATIONS must be greater than 0")
	}
	if c.Chain.MaxSubmitAttempts <= 0 {
		validationErrors = append(validationErrors, "CHAIN_MAX_SUBMIT_ATTEMPTS must be greater than 0")
	}
	if c.Chain.RetryBackoffBase <= 0 {
		validationErrors = append(validationErrors, "CHAIN_RETRY_BACKOFF_BASE must be greater than 0")
	}
	if c.Chain.RetryBackoffMax < c.Chain.RetryBackoffBase {
		validationErrors = append(validationErrors, "CHAIN_RETRY_BACKOFF_MAX must not be less than CHAIN_RETRY_BACKOFF_BASE")
	}

	// Validate Payments config
	if c.Payments.MinAmount <= 0 {
		validationErrors = append(validationErrors, "PAYMENTS_MIN_AMOUNT must be greater than 0")
	}
	if c.Payments.MaxAmount < c.Payments.MinAmount {
		validationErrors = append(validationErrors, "PAYMENTS_MAX_AMOUNT must not be less than PAYMENTS_MIN_AMOUNT")
	}
	if c.Payments.SettlementCurrency == "" {
		validationErrors = append(validationErrors, "PAYMENTS_SETTLEMENT_CURRENCY is required")
	}

	// Validate Limits config
	if c.Limits.Timezone == "" {
		validationErrors = append(validationErrors, "LIMITS_TIMEZONE is required")
	}
	if c.Limits.ReservationTTL <= 0 {
		validationErrors = append(validationErrors, "LIMITS_RESERVATION_TTL must be greater than 0")
	}
	if c.Limits.SweepInterval <= 0 {
		validationErrors = append(validationErrors, "LIMITS_SWEEP_INTERVAL must be greater than 0")
	}

	// Validate Oracle config
	if c.Oracle.FeedURL == "" {
		validationErrors = append(validationErrors, "ORACLE_FEED_URL is required")
	}
	if c.Oracle.TTL <= 0 {
		validationErrors = append(validationErrors, "ORACLE_TTL must be greater than 0")
	}
	if c.Oracle.FetchTimeout <= 0 {
		validationErrors = append(validationErrors, "ORACLE_FETCH_TIMEOUT must be greater than 0")
	}

	// Validate WorkerPool config
	if c.WorkerPool.Size <= 0 {
		validationErrors = append(validationErrors, "WORKER_POOL_SIZE must be greater than 0")
	}

	// Validate Reconciler config
	if c.Reconciler.PollingInterval <= 0 {
		validationErrors = append(validationErrors, "RECONCILER_POLLING_INTERVAL must be greater than 0")
	}
	if c.Reconciler.BatchSize <= 0 {
		validationErrors = append(validationErrors, "RECONCILER_BATCH_SIZE must be greater than 0")
	}
	if c.Reconciler.MaxProcessing <= 0 {
		validationErrors = append(validationErrors, "RECONCILER_MAX_PROCESSING must be greater than 0")
	}
	if c.Reconciler.MaxProbeAge <= 0 {
		validationErrors = append(validationErrors, "RECONCILER_MAX_PROBE_AGE must be greater than 0")
	}

	if len(validationErrors) > 0 {
		return errors.New(strings.Join(validationErrors, ", "))
	}

	return nil
}
