package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration values for the bot
type Config struct {
	// Discord
	DiscordToken string

	// Stats store (PostgreSQL, shared with the command layer)
	StatsDatabaseURL string

	// Engine state (SQLite)
	DatabasePath string

	// Scheduling
	PollingInterval time.Duration
	CycleTimeout    time.Duration
	IOTimeout       time.Duration

	// Delivery
	DeliveryWorkers       int
	DeliveryRatePerSecond float64
	DeliveryMaxAttempts   int
	DeliveryRetryMaxAge   time.Duration

	// Detection
	WatchBucket  time.Duration
	PresenceSeed time.Duration

	// Dedup
	DedupBackend string // sqlite or redis
	RedisAddr    string
	DedupTTL     time.Duration

	// Events
	KafkaBrokers     []string
	KafkaTopic       string
	HealthWebhookURL string
	HTTPAddr         string

	// Logging
	LogLevel  string
	LogFormat string
}

// Load reads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file if it exists (ignore error if not found)
	_ = godotenv.Load()

	cfg := &Config{
		DiscordToken:     os.Getenv("DISCORD_BOT_TOKEN"),
		StatsDatabaseURL: os.Getenv("STATS_DATABASE_URL"),
		DatabasePath:     getEnvOrDefault("DATABASE_PATH", "./data/bot.db"),
		DedupBackend:     strings.ToLower(getEnvOrDefault("DEDUP_BACKEND", "sqlite")),
		RedisAddr:        getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
		KafkaBrokers:     splitList(os.Getenv("EVENTS_KAFKA_BROKERS")),
		KafkaTopic:       getEnvOrDefault("EVENTS_KAFKA_TOPIC", "bf1942.alert-events"),
		HealthWebhookURL: os.Getenv("HEALTH_WEBHOOK_URL"),
		HTTPAddr:         getEnvOrDefault("HTTP_ADDR", ":8090"),
		LogLevel:         getEnvOrDefault("LOG_LEVEL", "info"),
		LogFormat:        getEnvOrDefault("LOG_FORMAT", "text"),
	}
	if v, ok := os.LookupEnv("HTTP_ADDR"); ok && v == "" {
		cfg.HTTPAddr = ""
	}

	var err error
	if cfg.PollingInterval, err = getSeconds("POLLING_INTERVAL_SECONDS", 45); err != nil {
		return nil, err
	}
	if cfg.CycleTimeout, err = getSeconds("CYCLE_TIMEOUT_SECONDS", 40); err != nil {
		return nil, err
	}
	if cfg.IOTimeout, err = getSeconds("IO_TIMEOUT_SECONDS", 10); err != nil {
		return nil, err
	}
	if cfg.DeliveryWorkers, err = getInt("DELIVERY_WORKERS", 4); err != nil {
		return nil, err
	}
	if cfg.DeliveryMaxAttempts, err = getInt("DELIVERY_MAX_ATTEMPTS", 5); err != nil {
		return nil, err
	}

	minutes, err := getInt("DELIVERY_RETRY_MAX_AGE_MINUTES", 60)
	if err != nil {
		return nil, err
	}
	cfg.DeliveryRetryMaxAge = time.Duration(minutes) * time.Minute

	if minutes, err = getInt("WATCH_BUCKET_MINUTES", 15); err != nil {
		return nil, err
	}
	cfg.WatchBucket = time.Duration(minutes) * time.Minute

	if minutes, err = getInt("PRESENCE_SEED_MINUTES", 3); err != nil {
		return nil, err
	}
	cfg.PresenceSeed = time.Duration(minutes) * time.Minute

	hours, err := getInt("DEDUP_TTL_HOURS", 720)
	if err != nil {
		return nil, err
	}
	cfg.DedupTTL = time.Duration(hours) * time.Hour

	rateStr := getEnvOrDefault("DELIVERY_RATE_PER_SECOND", "5")
	cfg.DeliveryRatePerSecond, err = strconv.ParseFloat(rateStr, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid DELIVERY_RATE_PER_SECOND: %w", err)
	}

	// Validate required fields
	if cfg.PollingInterval <= 0 {
		return nil, fmt.Errorf("POLLING_INTERVAL_SECONDS must be positive")
	}
	if cfg.DeliveryWorkers < 1 {
		return nil, fmt.Errorf("DELIVERY_WORKERS must be at least 1")
	}
	if cfg.DedupBackend != "sqlite" && cfg.DedupBackend != "redis" {
		return nil, fmt.Errorf("DEDUP_BACKEND must be sqlite or redis, got %q", cfg.DedupBackend)
	}

	return cfg, nil
}

// RequireStats checks the settings needed to read the stats store.
func (c *Config) RequireStats() error {
	if c.StatsDatabaseURL == "" {
		return fmt.Errorf("STATS_DATABASE_URL is required")
	}
	return nil
}

// RequireDiscord checks the settings needed to deliver notifications.
func (c *Config) RequireDiscord() error {
	if c.DiscordToken == "" {
		return fmt.Errorf("DISCORD_BOT_TOKEN is required")
	}
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getInt(key string, defaultValue int) (int, error) {
	v, err := strconv.Atoi(getEnvOrDefault(key, strconv.Itoa(defaultValue)))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return v, nil
}

func getSeconds(key string, defaultValue int) (time.Duration, error) {
	v, err := getInt(key, defaultValue)
	if err != nil {
		return 0, err
	}
	return time.Duration(v) * time.Second, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
