package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/Tesseract-Nexus/go-shared/secrets"
)

// Config holds all configuration for the passport sync service
type Config struct {
	// Server
	Port        string
	Environment string

	// Database
	DatabaseURL string

	// Redis (cross-instance progress relay)
	RedisURL string

	// NATS (sync lifecycle events)
	NATSURL string

	// GCP
	GCPProjectID string

	// Credential vault key used when GCP Secret Manager is not configured (base64, 32 bytes)
	CredentialsEncryptionKey string

	// HTTP
	CORSAllowedOrigins []string

	// Webhooks
	ShopifyWebhookSecret string

	// Sync Settings
	SyncPageSize        int
	SyncProgressEvery   int
	SyncMaxRetries      int
	SyncRetryDelay      time.Duration
	SyncTimeout         time.Duration
	SyncMaxConcurrent   int
	SyncMaxPerBrand     int
	SyncQueueTimeout    time.Duration
	SyncStaleAfter      time.Duration
	SyncReaperInterval  time.Duration
	SyncSchedulerTick   time.Duration
	SyncVerifyOnConnect bool

	// Field presentation
	FieldLabelOverrides map[string]string
	HiddenFields        []string
}

// Load loads configuration from environment variables
func Load() *Config {
	// Build DATABASE_URL from components using GCP Secret Manager for password
	databaseURL := getEnv("DATABASE_URL", "")
	if databaseURL == "" {
		dbHost := getEnv("DB_HOST", "localhost")
		dbPort := getEnv("DB_PORT", "5432")
		dbUser := getEnv("DB_USER", "postgres")
		dbPassword := secrets.GetDBPassword()
		dbName := getEnv("DB_NAME", "passport")
		dbSSLMode := getEnv("DB_SSLMODE", "disable")

		databaseURL = fmt.Sprintf("postgres://%s:%s@%s:%s/%s?sslmode=%s",
			dbUser, dbPassword, dbHost, dbPort, dbName, dbSSLMode)
	}

	config := &Config{
		Port:        getEnv("PORT", "8099"),
		Environment: getEnv("ENVIRONMENT", "development"),
		DatabaseURL: databaseURL,

		RedisURL: getEnv("REDIS_URL", ""),
		NATSURL:  getEnv("NATS_URL", ""),

		// GCP
		GCPProjectID: getEnv("GCP_PROJECT_ID", ""),

		CredentialsEncryptionKey: getEnv("CREDENTIALS_ENCRYPTION_KEY", ""),

		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", []string{
			"http://localhost:3000",
			"http://localhost:3001",
		}),

		ShopifyWebhookSecret: getEnv("SHOPIFY_WEBHOOK_SECRET", ""),

		// Sync Settings
		SyncPageSize:        getEnvAsInt("SYNC_PAGE_SIZE", 50),
		SyncProgressEvery:   getEnvAsInt("SYNC_PROGRESS_EVERY", 10),
		SyncMaxRetries:      getEnvAsInt("SYNC_MAX_RETRIES", 3),
		SyncRetryDelay:      getEnvAsDuration("SYNC_RETRY_DELAY", 2*time.Second),
		SyncTimeout:         getEnvAsDuration("SYNC_TIMEOUT", 30*time.Minute),
		SyncMaxConcurrent:   getEnvAsInt("SYNC_MAX_CONCURRENT", 10),
		SyncMaxPerBrand:     getEnvAsInt("SYNC_MAX_PER_BRAND", 3),
		SyncQueueTimeout:    getEnvAsDuration("SYNC_QUEUE_TIMEOUT", 5*time.Minute),
		SyncStaleAfter:      getEnvAsDuration("SYNC_STALE_AFTER", 15*time.Minute),
		SyncReaperInterval:  getEnvAsDuration("SYNC_REAPER_INTERVAL", time.Minute),
		SyncSchedulerTick:   getEnvAsDuration("SYNC_SCHEDULER_TICK", time.Minute),
		SyncVerifyOnConnect: getEnvAsBool("SYNC_VERIFY_ON_CONNECT", true),

		FieldLabelOverrides: getEnvAsMap("FIELD_LABEL_OVERRIDES"),
		HiddenFields:        getEnvAsList("HIDDEN_FIELDS", nil),
	}

	// Validate required fields
	if config.DatabaseURL == "" {
		log.Fatal("DATABASE_URL is required")
	}

	if config.GCPProjectID == "" && config.CredentialsEncryptionKey == "" {
		log.Println("Warning: neither GCP_PROJECT_ID nor CREDENTIALS_ENCRYPTION_KEY set, connecting providers will fail")
	}

	if config.SyncStaleAfter <= config.SyncReaperInterval {
		log.Println("Warning: SYNC_STALE_AFTER should be larger than SYNC_REAPER_INTERVAL")
	}

	return config
}

// IsProduction reports whether the service runs in production
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	intValue, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return intValue
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}
	return duration
}

// getEnvAsBool gets an environment variable as a boolean with a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	boolValue, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return boolValue
}

// getEnvAsList splits a comma-separated environment variable
func getEnvAsList(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	var items []string
	for _, item := range strings.Split(value, ",") {
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

// getEnvAsMap parses "key=value" pairs separated by commas
func getEnvAsMap(key string) map[string]string {
	result := make(map[string]string)
	for _, pair := range getEnvAsList(key, nil) {
		k, v, ok := strings.Cut(pair, "=")
		if !ok {
			continue
		}
		result[strings.TrimSpace(k)] = strings.TrimSpace(v)
	}
	return result
}
