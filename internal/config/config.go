package config

import (
	"os"
	"strconv"
	"strings"
	"time"
)

// Config holds application configuration
type Config struct {
	Port     string
	Env      string
	LogLevel string

	// Storage
	DatabaseURL     string
	DatabaseReadURL string
	UseMemoryStore  bool
	SeedFile        string

	// Cache
	RedisAddr     string
	RedisPassword string
	RedisTLS      bool
	CacheTTL      time.Duration

	// AWS
	AWSRegion                 string
	AWSAccessKeyID            string
	AWSSecretAccessKey        string
	AWSEndpointOverride       string
	ReservationEventsQueueURL string
	AutoScheduleRunsTable     string

	// HTTP
	AdminJWTSecret     string
	CORSAllowedOrigins []string

	// Clinic calendar
	ClinicTimezone         string
	BusinessHoursOpen      string
	BusinessHoursClose     string
	BusinessDays           string
	SlotGranularityMinutes int
	AlternativesDays       int
	AutoScheduleWindowDays int
}

// Load reads configuration from environment variables
func Load() *Config {
	return &Config{
		Port:     getEnv("PORT", "8080"),
		Env:      getEnv("ENV", "development"),
		LogLevel: getEnv("LOG_LEVEL", "info"),

		DatabaseURL:     getEnv("DATABASE_URL", ""),
		DatabaseReadURL: getEnv("DATABASE_READ_URL", ""),
		UseMemoryStore:  getEnvAsBool("USE_MEMORY_STORE", false),
		SeedFile:        getEnv("SEED_FILE", ""),

		RedisAddr:     getEnv("REDIS_ADDR", ""),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisTLS:      getEnvAsBool("REDIS_TLS", false),
		CacheTTL:      getEnvAsDuration("CACHE_TTL", 5*time.Minute),

		AWSRegion:                 getEnv("AWS_REGION", "us-east-1"),
		AWSAccessKeyID:            getEnv("AWS_ACCESS_KEY_ID", ""),
		AWSSecretAccessKey:        getEnv("AWS_SECRET_ACCESS_KEY", ""),
		AWSEndpointOverride:       getEnv("AWS_ENDPOINT_OVERRIDE", ""),
		ReservationEventsQueueURL: getEnv("RESERVATION_EVENTS_QUEUE_URL", ""),
		AutoScheduleRunsTable:     getEnv("AUTO_SCHEDULE_RUNS_TABLE", ""),

		AdminJWTSecret:     getEnv("ADMIN_JWT_SECRET", ""),
		CORSAllowedOrigins: getEnvAsList("CORS_ALLOWED_ORIGINS", nil),

		ClinicTimezone:         getEnv("CLINIC_TIMEZONE", "UTC"),
		BusinessHoursOpen:      getEnv("BUSINESS_HOURS_OPEN", "09:00"),
		BusinessHoursClose:     getEnv("BUSINESS_HOURS_CLOSE", "17:00"),
		BusinessDays:           getEnv("BUSINESS_DAYS", "mon,tue,wed,thu,fri"),
		SlotGranularityMinutes: getEnvAsInt("SLOT_GRANULARITY_MINUTES", 30),
		AlternativesDays:       getEnvAsInt("ALTERNATIVES_DAYS", 7),
		AutoScheduleWindowDays: getEnvAsInt("AUTO_SCHEDULE_WINDOW_DAYS", 3),
	}
}

// MemoryMode reports whether the in-memory stores should be used.
func (c *Config) MemoryMode() bool {
	return c.UseMemoryStore || strings.TrimSpace(c.DatabaseURL) == ""
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsList splits a comma separated variable, dropping blanks.
func getEnvAsList(key string, defaultValue []string) []string {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(valueStr, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
