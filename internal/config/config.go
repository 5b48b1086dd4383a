package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the application
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	CORS      CORSConfig
	Vault     VaultConfig
	Broker    BrokerConfig
	Link      LinkConfig
	Sync      SyncConfig
	Scheduler SchedulerConfig
	Cache     CacheConfig
}

// ServerConfig holds server-specific configuration
type ServerConfig struct {
	Port string
	Host string
	Addr string // Combined host:port for convenience
}

// DatabaseConfig holds database-specific configuration
type DatabaseConfig struct {
	Path string
}

// CORSConfig holds CORS-specific configuration
type CORSConfig struct {
	AllowedOrigins []string
}

// VaultConfig holds the credential encryption keys.
// PreviousKeys are only used for decryption so stored records survive a key rotation.
type VaultConfig struct {
	EncryptionKey string
	PreviousKeys  []string
}

// BrokerConfig holds settings for the brokerage HTTP adapter.
type BrokerConfig struct {
	BaseURL        string
	RequestTimeout time.Duration
	SessionTTL     time.Duration
}

// LinkConfig holds MFA timing for account linking.
type LinkConfig struct {
	PushPollInterval     time.Duration
	PushPollTimeout      time.Duration
	PushTransportRetries int
	MFAChallengeTTL      time.Duration
}

// SyncConfig holds retry settings for broker fetches during a sync.
type SyncConfig struct {
	RetryAttempts int
	RetryBackoff  time.Duration
	Concurrency   int
	// LeaseTTL is how long a pending sync holds its account before another
	// process may take it over.
	LeaseTTL time.Duration
}

// SchedulerConfig holds cron expressions for the background jobs.
// An empty expression disables the job.
type SchedulerConfig struct {
	SyncSchedule      string
	SnapshotSchedule  string
	CleanupSchedule   string
	SnapshotRetention time.Duration
}

// CacheConfig holds dashboard cache settings.
type CacheConfig struct {
	MaxCost int64
	TTL     time.Duration
}

// Load reads configuration from environment variables and .env file
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "5001"),
			Host: getEnv("SERVER_HOST", "localhost"),
		},
		Database: DatabaseConfig{
			Path: getEnv("DB_PATH", "./data/portfolio_tracker.db"),
		},
		CORS: CORSConfig{
			AllowedOrigins: getEnvList("CORS_ALLOWED_ORIGINS", []string{
				"http://localhost:3000",
				"http://localhost",
			}),
		},
		Vault: VaultConfig{
			EncryptionKey: os.Getenv("ENCRYPTION_KEY"),
			PreviousKeys:  getEnvList("ENCRYPTION_KEY_PREVIOUS", nil),
		},
		Broker: BrokerConfig{
			BaseURL: getEnv("BROKER_BASE_URL", "https://api.robinhood.com"),
		},
		Scheduler: SchedulerConfig{
			SyncSchedule:     getEnv("SYNC_SCHEDULE", "0 */4 * * *"),
			SnapshotSchedule: getEnv("SNAPSHOT_SCHEDULE", "0 23 * * *"),
			CleanupSchedule:  getEnv("CLEANUP_SCHEDULE", "30 3 * * 0"),
		},
	}

	var err error
	if config.Broker.RequestTimeout, err = getEnvDuration("BROKER_REQUEST_TIMEOUT", 20*time.Second); err != nil {
		return nil, err
	}
	if config.Broker.SessionTTL, err = getEnvDuration("BROKER_SESSION_TTL", 24*time.Hour); err != nil {
		return nil, err
	}
	if config.Link.PushPollInterval, err = getEnvDuration("PUSH_POLL_INTERVAL", 3*time.Second); err != nil {
		return nil, err
	}
	if config.Link.PushPollTimeout, err = getEnvDuration("PUSH_POLL_TIMEOUT", 90*time.Second); err != nil {
		return nil, err
	}
	if config.Link.PushTransportRetries, err = getEnvInt("PUSH_TRANSPORT_RETRIES", 3); err != nil {
		return nil, err
	}
	if config.Link.MFAChallengeTTL, err = getEnvDuration("MFA_CHALLENGE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	if config.Sync.RetryAttempts, err = getEnvInt("SYNC_RETRY_ATTEMPTS", 3); err != nil {
		return nil, err
	}
	if config.Sync.RetryBackoff, err = getEnvDuration("SYNC_RETRY_BACKOFF", 500*time.Millisecond); err != nil {
		return nil, err
	}
	if config.Sync.Concurrency, err = getEnvInt("SYNC_CONCURRENCY", 4); err != nil {
		return nil, err
	}
	if config.Sync.LeaseTTL, err = getEnvDuration("SYNC_LEASE_TTL", 15*time.Minute); err != nil {
		return nil, err
	}
	if config.Scheduler.SnapshotRetention, err = getEnvDuration("SNAPSHOT_RETENTION", 90*24*time.Hour); err != nil {
		return nil, err
	}
	if config.Cache.TTL, err = getEnvDuration("DASHBOARD_CACHE_TTL", 5*time.Minute); err != nil {
		return nil, err
	}
	maxCost, err := getEnvInt("DASHBOARD_CACHE_MAX_ITEMS", 1000)
	if err != nil {
		return nil, err
	}
	config.Cache.MaxCost = int64(maxCost)

	if config.Link.PushPollInterval <= 0 || config.Link.PushPollTimeout < config.Link.PushPollInterval {
		return nil, fmt.Errorf("invalid push poll settings: interval %s, timeout %s",
			config.Link.PushPollInterval, config.Link.PushPollTimeout)
	}

	// Combine host and port
	config.Server.Addr = fmt.Sprintf("%s:%s", config.Server.Host, config.Server.Port)

	return config, nil
}

// getEnv gets an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvList splits a comma separated variable, dropping empty entries.
func getEnvList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

func getEnvDuration(key string, defaultValue time.Duration) (time.Duration, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid duration for %s: %w", key, err)
	}
	return d, nil
}

func getEnvInt(key string, defaultValue int) (int, error) {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid integer for %s: %w", key, err)
	}
	return n, nil
}
