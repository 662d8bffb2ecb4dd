package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

type Config struct {
	Port     int
	LogLevel string
	Env      string

	// Database
	DBHost     string
	DBPort     int
	DBUser     string
	DBPassword string
	DBName     string
	DBSSLMode  string

	// Redis config (dedup ledger + admin rate limiting)
	RedisHost     string
	RedisPort     int
	RedisPassword string
	RedisDB       int

	// Scheduling
	LifecycleInterval  time.Duration // announcement and event lifecycle jobs
	ExpirationScanCron string        // standard 5-field cron spec for the daily scan
	Timezone           string        // wall-clock zone for ExpirationScanCron
	TickInterval       time.Duration // how often the scheduler checks its table

	// Lifecycle policy
	DedupWindow     time.Duration
	LookaheadWindow time.Duration

	// AWS Services
	AWSRegion       string
	AWSEndpoint     string // LocalStack; empty uses the real AWS endpoints
	SNSTopicARN     string // relay target for every created notification
	SESFromEmail    string
	AlertEmail      string // admin mailbox for early-warning alerts
	TriggerQueueURL string // SQS queue carrying remote job triggers

	// Webhook relay (e.g. the public site's cache revalidation hook)
	WebhookURL     string
	WebhookSecret  string
	WebhookTimeout time.Duration
}

// Load reads configuration from environment variables with sensible defaults
func Load() (*Config, error) {
	cfg := &Config{
		Port:     8080,
		LogLevel: "info",
		Env:      "development",

		DBHost:    "localhost",
		DBPort:    5432,
		DBUser:    "schoolcms",
		DBName:    "schoolcms",
		DBSSLMode: "disable",

		RedisHost: "localhost",
		RedisPort: 6379,

		LifecycleInterval:  time.Minute,
		ExpirationScanCron: "0 0 * * *",
		Timezone:           "UTC",
		TickInterval:       time.Second,

		DedupWindow:     12 * time.Hour,
		LookaheadWindow: 24 * time.Hour,

		AWSRegion:    "us-east-1",
		SESFromEmail: "noreply@school.local",

		WebhookTimeout: 10 * time.Second,
	}

	if port := os.Getenv("PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT: %w", err)
		}
		cfg.Port = p
	}

	if level := os.Getenv("LOG_LEVEL"); level != "" {
		cfg.LogLevel = level
	}

	if env := os.Getenv("ENV"); env != "" {
		cfg.Env = env
	}

	// Database config
	if host := os.Getenv("DB_HOST"); host != "" {
		cfg.DBHost = host
	}

	if port := os.Getenv("DB_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid DB_PORT: %w", err)
		}
		cfg.DBPort = p
	}

	if user := os.Getenv("DB_USER"); user != "" {
		cfg.DBUser = user
	}

	if password := os.Getenv("DB_PASSWORD"); password != "" {
		cfg.DBPassword = password
	}

	if dbname := os.Getenv("DB_NAME"); dbname != "" {
		cfg.DBName = dbname
	}

	if sslmode := os.Getenv("DB_SSLMODE"); sslmode != "" {
		cfg.DBSSLMode = sslmode
	}

	// Redis config
	if host := os.Getenv("REDIS_HOST"); host != "" {
		cfg.RedisHost = host
	}

	if port := os.Getenv("REDIS_PORT"); port != "" {
		p, err := strconv.Atoi(port)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_PORT: %w", err)
		}
		cfg.RedisPort = p
	}

	if password := os.Getenv("REDIS_PASSWORD"); password != "" {
		cfg.RedisPassword = password
	}

	if db := os.Getenv("REDIS_DB"); db != "" {
		d, err := strconv.Atoi(db)
		if err != nil {
			return nil, fmt.Errorf("invalid REDIS_DB: %w", err)
		}
		cfg.RedisDB = d
	}

	// Scheduling
	if v := os.Getenv("LIFECYCLE_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid LIFECYCLE_INTERVAL: %w", err)
		}
		cfg.LifecycleInterval = d
	}

	if spec := os.Getenv("EXPIRATION_SCAN_CRON"); spec != "" {
		cfg.ExpirationScanCron = spec
	}

	if tz := os.Getenv("TIMEZONE"); tz != "" {
		if _, err := time.LoadLocation(tz); err != nil {
			return nil, fmt.Errorf("invalid TIMEZONE: %w", err)
		}
		cfg.Timezone = tz
	}

	if v := os.Getenv("TICK_INTERVAL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid TICK_INTERVAL: %w", err)
		}
		cfg.TickInterval = d
	}

	// Lifecycle policy
	if v := os.Getenv("DEDUP_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid DEDUP_WINDOW: %w", err)
		}
		cfg.DedupWindow = d
	}

	if v := os.Getenv("LOOKAHEAD_WINDOW"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid LOOKAHEAD_WINDOW: %w", err)
		}
		cfg.LookaheadWindow = d
	}

	// AWS config
	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWSRegion = region
	}

	if endpoint := os.Getenv("AWS_ENDPOINT_URL"); endpoint != "" {
		cfg.AWSEndpoint = endpoint
	}

	if arn := os.Getenv("SNS_TOPIC_ARN"); arn != "" {
		cfg.SNSTopicARN = arn
	}

	if from := os.Getenv("SES_FROM_EMAIL"); from != "" {
		cfg.SESFromEmail = from
	}

	if to := os.Getenv("ALERT_EMAIL"); to != "" {
		cfg.AlertEmail = to
	}

	if url := os.Getenv("TRIGGER_QUEUE_URL"); url != "" {
		cfg.TriggerQueueURL = url
	}

	// Webhook relay
	if url := os.Getenv("WEBHOOK_URL"); url != "" {
		cfg.WebhookURL = url
	}

	if secret := os.Getenv("WEBHOOK_SECRET"); secret != "" {
		cfg.WebhookSecret = secret
	}

	if v := os.Getenv("WEBHOOK_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return nil, fmt.Errorf("invalid WEBHOOK_TIMEOUT: %w", err)
		}
		cfg.WebhookTimeout = d
	}

	return cfg, nil
}

// Location returns the zone the daily scan is scheduled in.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}
