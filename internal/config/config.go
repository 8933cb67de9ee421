package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Database  DatabaseConfig
	Ledger    LedgerConfig
	Oracle    OracleConfig
	Audit     AuditConfig
	Indexer   IndexerConfig
	Scheduler SchedulerConfig
	Server    ServerConfig
	App       AppConfig
}

// DatabaseConfig holds database connection settings
type DatabaseConfig struct {
	Driver   string // sqlite or postgres
	Path     string // sqlite file path
	Host     string
	Port     string
	User     string
	Password string
	DBName   string
}

// LedgerConfig holds on-chain ledger settings
type LedgerConfig struct {
	Network             string
	MarketProgramID     string
	AuthorityPrivateKey string // settlement signing identity
	MinAuthoritySOL     string
}

// OracleConfig holds decision oracle API settings
type OracleConfig struct {
	BaseURL string
	APIKey  string
}

// AuditConfig holds audit sink settings
type AuditConfig struct {
	BaseURL string
	APIKey  string
	Enabled bool
}

// IndexerConfig holds event feed settings
type IndexerConfig struct {
	BaseURL      string
	APIKey       string
	PollInterval time.Duration
	PageSize     int
	StartCursor  int64
}

// SchedulerConfig holds periodic job settings
type SchedulerConfig struct {
	SettlementInterval time.Duration
	BackfillInterval   time.Duration
	SettlementDelay    time.Duration // grace period after market end before settling
	EntityPause        time.Duration // pause between markets within one run
	MaxRetries         int
	BackfillBatchSize  int
}

// ServerConfig holds server settings
type ServerConfig struct {
	Port string
}

// AppConfig holds application-specific settings
type AppConfig struct {
	AdminTokenSecret string
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Try to load .env file (ignore error if it doesn't exist)
	_ = godotenv.Load()

	config := &Config{
		Database: DatabaseConfig{
			Driver:   getEnv("DB_DRIVER", "sqlite"),
			Path:     getEnv("DB_PATH", "market_settler.db"),
			Host:     getEnv("DB_HOST", "localhost"),
			Port:     getEnv("DB_PORT", "5432"),
			User:     getEnv("DB_USER", "postgres"),
			Password: getEnv("DB_PASSWORD", ""),
			DBName:   getEnv("DB_NAME", "market_settler"),
		},
		Ledger: LedgerConfig{
			Network:             getEnv("SOLANA_NETWORK", "devnet"),
			MarketProgramID:     getEnv("MARKET_PROGRAM_ID", ""),
			AuthorityPrivateKey: getEnv("SETTLEMENT_WALLET_PRIVATE_KEY", ""),
			MinAuthoritySOL:     getEnv("MIN_AUTHORITY_SOL", "0.05"),
		},
		Oracle: OracleConfig{
			BaseURL: getEnv("ORACLE_BASE_URL", ""),
			APIKey:  getEnv("ORACLE_API_KEY", ""),
		},
		Audit: AuditConfig{
			BaseURL: getEnv("AUDIT_BASE_URL", ""),
			APIKey:  getEnv("AUDIT_API_KEY", ""),
			Enabled: getEnv("AUDIT_BASE_URL", "") != "",
		},
		Indexer: IndexerConfig{
			BaseURL:      getEnv("INDEXER_BASE_URL", ""),
			APIKey:       getEnv("INDEXER_API_KEY", ""),
			PollInterval: getEnvDuration("INDEXER_POLL_INTERVAL_SECONDS", 15*time.Second),
			PageSize:     getEnvInt("INDEXER_PAGE_SIZE", 100),
			StartCursor:  int64(getEnvInt("INDEXER_START_CURSOR", 0)),
		},
		Scheduler: SchedulerConfig{
			SettlementInterval: getEnvDuration("SETTLEMENT_INTERVAL_SECONDS", 60*time.Second),
			BackfillInterval:   getEnvDuration("BACKFILL_INTERVAL_SECONDS", 120*time.Second),
			SettlementDelay:    getEnvDuration("SETTLEMENT_DELAY_SECONDS", 60*time.Second),
			EntityPause:        getEnvDuration("ENTITY_PAUSE_SECONDS", 2*time.Second),
			MaxRetries:         getEnvInt("MAX_SETTLEMENT_RETRIES", 5),
			BackfillBatchSize:  getEnvInt("BACKFILL_BATCH_SIZE", 20),
		},
		Server: ServerConfig{
			Port: getEnv("SERVER_PORT", "8080"),
		},
		App: AppConfig{
			AdminTokenSecret: getEnv("ADMIN_TOKEN_SECRET", ""),
		},
	}

	// Validate required fields
	if config.Ledger.MarketProgramID == "" {
		return nil, fmt.Errorf("MARKET_PROGRAM_ID is required")
	}

	if config.Oracle.BaseURL == "" {
		return nil, fmt.Errorf("ORACLE_BASE_URL is required")
	}

	if config.Indexer.BaseURL == "" {
		return nil, fmt.Errorf("INDEXER_BASE_URL is required")
	}

	if config.Scheduler.MaxRetries <= 0 {
		return nil, fmt.Errorf("MAX_SETTLEMENT_RETRIES must be positive")
	}

	return config, nil
}

// GetDSN returns the connection string for the configured database driver
func (c *Config) GetDSN() string {
	if c.Database.Driver == "sqlite" {
		return c.Database.Path
	}
	return fmt.Sprintf(
		"host=%s port=%s user=%s password=%s dbname=%s sslmode=disable",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
	)
}

// getEnv gets an environment variable with a fallback default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvInt gets an integer environment variable with a fallback default value
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return n
}

// getEnvDuration gets a duration (in seconds) environment variable with a fallback
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	n, err := strconv.Atoi(value)
	if err != nil || n <= 0 {
		return defaultValue
	}
	return time.Duration(n) * time.Second
}
