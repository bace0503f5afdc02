package config

import (
	"os"
	"strconv"
	"time"
)

// Store backends selectable with STORE_BACKEND.
const (
	BackendDynamo   = "dynamodb"
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
)

// Config holds all application configuration.
// Values are loaded from environment variables with sensible defaults.
type Config struct {
	// Server
	Port     int
	LogLevel string

	// Store
	StoreBackend      string
	AWSRegion         string
	DynamoEndpoint    string // local DynamoDB, empty for AWS
	MainTable         string
	AuditTable        string
	DynamoMaxAttempts int
	DynamoRetryDelay  time.Duration
	DynamoCallTimeout time.Duration

	// Relational mirror
	DatabaseURL string

	// External services
	ReceiptBucket   string
	SESFromEmail    string
	EventBusName    string
	BedrockModelID  string
	TwilioSID       string
	TwilioAuthToken string
	TwilioFrom      string

	// HTTP server
	HTTPTimeout time.Duration

	// Resilience
	MaxRetries     int
	InitialBackoff time.Duration
	MaxConcurrency int

	// Background work
	WorkerCount     int
	WorkerQueueSize int
	TaskTimeout     time.Duration
	OverdueSchedule string

	// Cache
	RiskCacheTTL time.Duration

	// Observability
	OTLPEndpoint string

	// JWT / Auth
	JWTSecret           string
	JWTAccessTTL        time.Duration
	RequireAuthForReads bool
}

// Load reads configuration from environment variables with defaults.
func Load() *Config {
	return &Config{
		Port:     getEnvInt("PORT", 8080),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		StoreBackend:      getEnv("STORE_BACKEND", BackendDynamo),
		AWSRegion:         getEnv("AWS_REGION", "us-east-1"),
		DynamoEndpoint:    getEnv("DYNAMODB_ENDPOINT", ""),
		MainTable:         getEnv("DYNAMODB_MAIN_TABLE", "BillingIQ-Main"),
		AuditTable:        getEnv("DYNAMODB_AUDIT_TABLE", "BillingIQ-Audit"),
		DynamoMaxAttempts: getEnvInt("DYNAMO_MAX_ATTEMPTS", 3),
		DynamoRetryDelay:  getEnvDuration("DYNAMO_RETRY_DELAY", time.Second),
		DynamoCallTimeout: getEnvDuration("DYNAMO_CALL_TIMEOUT", 5*time.Second),

		DatabaseURL: getEnv("DATABASE_URL", ""),

		ReceiptBucket:   getEnv("S3_BUCKET", "billingiq-receipts"),
		SESFromEmail:    getEnv("SES_FROM_EMAIL", "billing@example.com"),
		EventBusName:    getEnv("EVENT_BUS_NAME", "billingiq-events"),
		BedrockModelID:  getEnv("BEDROCK_MODEL_ID", "anthropic.claude-3-haiku-20240307-v1:0"),
		TwilioSID:       getEnv("TWILIO_ACCOUNT_SID", ""),
		TwilioAuthToken: getEnv("TWILIO_AUTH_TOKEN", ""),
		TwilioFrom:      getEnv("TWILIO_PHONE_NUMBER", ""),

		HTTPTimeout: getEnvDuration("HTTP_TIMEOUT", 10*time.Second),

		MaxRetries:     getEnvInt("MAX_RETRIES", 3),
		InitialBackoff: getEnvDuration("INITIAL_BACKOFF", 100*time.Millisecond),
		MaxConcurrency: getEnvInt("MAX_CONCURRENCY", 50),

		WorkerCount:     getEnvInt("WORKER_COUNT", 4),
		WorkerQueueSize: getEnvInt("WORKER_QUEUE_SIZE", 256),
		TaskTimeout:     getEnvDuration("TASK_TIMEOUT", 30*time.Second),
		OverdueSchedule: getEnv("OVERDUE_SCHEDULE", "@hourly"),

		RiskCacheTTL: getEnvDuration("RISK_CACHE_TTL", time.Hour),

		OTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),

		JWTSecret:           getEnv("JWT_SECRET", "billingiq-default-dev-secret-change-me"),
		JWTAccessTTL:        getEnvDuration("JWT_ACCESS_TTL", 15*time.Minute),
		RequireAuthForReads: getEnvBool("REQUIRE_AUTH_FOR_READS", false),
	}
}

// TwilioEnabled reports whether SMS credentials are configured.
func (c *Config) TwilioEnabled() bool {
	return c.TwilioSID != "" && c.TwilioAuthToken != "" && c.TwilioFrom != ""
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return fallback
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return fallback
}
