package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds all configuration for the archiver and consumer
type Config struct {
	// Source logs
	LogDirs []string // Directories of append-only license usage logs

	// State paths
	ArchiveDBPath string // SQLite archival store
	ProgressPath  string // JSON progress tracker
	PendingDBPath string // BoltDB pending-relay markers
	LockPath      string // Exclusive run lock

	// Pattern set
	PatternsPath string // Optional YAML pattern-set override

	// Queue
	RedisAddr       string
	RedisDB         int
	QueueName       string
	DeadLetterQueue string

	// Archiver
	MaxWorkers    int
	RelayDeadline time.Duration // Hard cap on relay time per run

	// Retry/backoff
	RetryMaxAttempts  int
	RetryInitialDelay time.Duration
	RetryMaxDelay     time.Duration

	// Consumer
	ConsumerWorkers     int
	MaxDeliveryAttempts int
	PopTimeout          time.Duration
	ProcessTimeout      time.Duration

	// Downstream export (consumer sink); empty host disables ClickHouse
	ClickHouseHost string
	ClickHousePort int
	ClickHouseDB   string

	// Observability
	LogLevel       string
	LogFile        string
	TracingEnabled bool
	OTLPEndpoint   string
	OTLPProtocol   string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	cfg := &Config{
		LogDirs: parsePathList(getEnv("LOG_DIRS", "")),

		ArchiveDBPath: getEnv("ARCHIVE_DB_PATH", "data/archive.db"),
		ProgressPath:  getEnv("PROGRESS_PATH", "data/progress.json"),
		PendingDBPath: getEnv("PENDING_DB_PATH", "data/pending.db"),
		LockPath:      getEnv("LOCK_PATH", "data/archiver.lock"),

		PatternsPath: getEnv("PATTERNS_PATH", ""),

		RedisAddr:       getEnv("REDIS_ADDR", "127.0.0.1:6379"),
		RedisDB:         getEnvInt("REDIS_DB", 0),
		QueueName:       getEnv("REDIS_QUEUE", "license_log_queue"),
		DeadLetterQueue: getEnv("REDIS_DEAD_LETTER_QUEUE", "license_log_queue:dead"),

		MaxWorkers:    getEnvInt("MAX_WORKERS", 4),
		RelayDeadline: getEnvDuration("RELAY_DEADLINE", 60*time.Second),

		RetryMaxAttempts:  getEnvInt("RETRY_MAX_ATTEMPTS", 3),
		RetryInitialDelay: getEnvDuration("RETRY_INITIAL_DELAY", 100*time.Millisecond),
		RetryMaxDelay:     getEnvDuration("RETRY_MAX_DELAY", 5*time.Second),

		ConsumerWorkers:     getEnvInt("CONSUMER_WORKERS", 2),
		MaxDeliveryAttempts: getEnvInt("MAX_DELIVERY_ATTEMPTS", 5),
		PopTimeout:          getEnvDuration("POP_TIMEOUT", 5*time.Second),
		ProcessTimeout:      getEnvDuration("PROCESS_TIMEOUT", 30*time.Second),

		ClickHouseHost: getEnv("CLICKHOUSE_HOST", ""),
		ClickHousePort: getEnvInt("CLICKHOUSE_PORT", 9000),
		ClickHouseDB:   getEnv("CLICKHOUSE_DB", "logs"),

		LogLevel:       getEnv("LOG_LEVEL", "info"),
		LogFile:        getEnv("LOG_FILE", ""),
		TracingEnabled: getEnvBool("TRACING_ENABLED", false),
		OTLPEndpoint:   getEnv("OTLP_ENDPOINT", ""),
		OTLPProtocol:   getEnv("OTLP_PROTOCOL", "grpc"),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return cfg, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required")
	}
	if c.QueueName == "" {
		return fmt.Errorf("REDIS_QUEUE is required")
	}
	if c.QueueName == c.DeadLetterQueue {
		return fmt.Errorf("REDIS_QUEUE and REDIS_DEAD_LETTER_QUEUE must differ")
	}
	if c.MaxWorkers < 1 {
		return fmt.Errorf("MAX_WORKERS must be at least 1")
	}
	if c.MaxDeliveryAttempts < 1 {
		return fmt.Errorf("MAX_DELIVERY_ATTEMPTS must be at least 1")
	}
	if c.RetryMaxAttempts < 1 {
		return fmt.Errorf("RETRY_MAX_ATTEMPTS must be at least 1")
	}
	if c.ClickHouseHost != "" && (c.ClickHousePort <= 0 || c.ClickHousePort > 65535) {
		return fmt.Errorf("CLICKHOUSE_PORT must be between 1 and 65535")
	}
	return nil
}

// ValidateArchiver checks settings the archiver additionally needs
func (c *Config) ValidateArchiver() error {
	if len(c.LogDirs) == 0 {
		return fmt.Errorf("LOG_DIRS must be specified")
	}
	return nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvInt gets an integer environment variable or returns a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

// getEnvBool gets a boolean environment variable or returns a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if boolValue, err := strconv.ParseBool(value); err == nil {
			return boolValue
		}
	}
	return defaultValue
}

// getEnvDuration gets a duration environment variable or returns a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

// parsePathList parses a semicolon-separated list of paths
func parsePathList(pathsStr string) []string {
	if pathsStr == "" {
		return nil
	}

	paths := strings.Split(pathsStr, ";")
	result := make([]string, 0, len(paths))

	for _, path := range paths {
		trimmed := strings.TrimSpace(path)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}

	return result
}
