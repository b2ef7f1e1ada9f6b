// Package config provides configuration management for the clinic API service.
// It handles loading configuration from environment variables with sensible
// defaults and validates the configuration to ensure the service starts safely.
//
// The service fronts an external clinic management system, so most settings
// describe either the upstream connection (base URL, clinic id, credential
// fallbacks) or the resilience machinery built around it (Redis cache, rate
// limits, circuit breaker, audit storage).
//
// Environment Variables:
//
// Application Settings:
//   - PORT: Server port (default: 8080)
//   - ENVIRONMENT: Deployment environment - "production", "staging" or "development" (default: development)
//   - LOG_LEVEL: Logging level (default: info)
//
// Upstream Clinic API:
//   - CLINIC_API_BASE_URL: Base URL of the external clinic API (required)
//   - CLINIC_ID: Numeric clinic identifier sent with login and lookups (default: 19748)
//   - CLINIC_API_USER: Fallback API username used outside production (default: WebAPI)
//   - CLINIC_API_PASSWORD: Fallback API password used outside production
//   - CLINIC_API_TIMEOUT: HTTP timeout for upstream calls (default: 30s)
//
// Credential Store:
//   - SECRETS_NAME: AWS Secrets Manager secret holding upstream credentials
//   - AWS_REGION: AWS region for Secrets Manager, CloudWatch and SNS (default: eu-west-1)
//
// Redis Configuration:
//   - REDIS_ADDRESS: Redis server address (default: localhost:6379)
//   - REDIS_PASSWORD: Redis password
//   - REDIS_DB: Redis database number 0-15 (default: 0)
//   - REDIS_POOL_SIZE: Redis connection pool size (default: 10)
//
// Cache TTLs:
//   - CACHE_TTL_SPECIALTIES: Specialty list TTL (default: 10m)
//   - CACHE_TTL_DOCTORS: Doctor list TTL (default: 5m)
//   - CACHE_TTL_AVAILABILITY: Availability slot TTL (default: 5m)
//   - IDEMPOTENCY_TTL: Stored appointment response TTL (default: 24h)
//
// Audit Storage:
//   - DATABASE_TYPE: Audit database type - "sqlite" or "postgres" (default: sqlite)
//   - DATABASE_PATH: SQLite database file path (default: ./clinic_audit.db)
//   - POSTGRES_HOST, POSTGRES_PORT, POSTGRES_DB, POSTGRES_USER,
//     POSTGRES_PASSWORD, POSTGRES_SSL_MODE: PostgreSQL connection settings
//
// Security Configuration:
//   - JWT_SECRET: Widget session signing secret (required, minimum 32 characters)
//   - SESSION_TTL: Widget session lifetime (default: 30m)
//
// Alerting:
//   - METRICS_NAMESPACE: CloudWatch metric namespace (default: ClinicAPI)
//   - ALARM_TOPIC_ARN: SNS topic notified on repeated token conflicts
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all configuration values for the clinic API service.
// All fields correspond to environment variables that can be set to
// override the default values.
//
// The configuration is loaded using the Load() function and should be
// validated using the Validate() method before use.
type Config struct {
	// Application settings
	Port        string // Server port number
	Environment string // Deployment environment (production, staging, development)
	LogLevel    string // Logging level (debug, info, warn, error)

	// Upstream clinic API
	ClinicAPIBaseURL  string        // Base URL of the external clinic API
	ClinicID          string        // Clinic identifier sent with login and lookups
	ClinicAPIUser     string        // Fallback username when the secret store is unavailable
	ClinicAPIPassword string        // Fallback password when the secret store is unavailable
	ClinicAPITimeout  time.Duration // HTTP timeout for upstream calls

	// Credential store
	SecretsName string // AWS Secrets Manager secret holding upstream credentials
	AWSRegion   string // AWS region for Secrets Manager, CloudWatch and SNS

	// Redis configuration for caching and idempotency
	RedisAddress  string // Redis server address (host:port)
	RedisPassword string // Redis authentication password
	RedisDB       string // Redis database number (0-15)
	RedisPoolSize string // Redis connection pool size

	// Cache TTLs
	SpecialtiesTTL  time.Duration // Specialty list cache lifetime
	DoctorsTTL      time.Duration // Doctor list cache lifetime
	AvailabilityTTL time.Duration // Availability slot cache lifetime
	IdempotencyTTL  time.Duration // Stored appointment response lifetime

	// Audit database configuration
	DatabaseType     string // Database type: "sqlite" or "postgres"
	DatabasePath     string // Path to SQLite database file
	PostgresHost     string // PostgreSQL host address
	PostgresPort     string // PostgreSQL port number
	PostgresDB       string // PostgreSQL database name
	PostgresUser     string // PostgreSQL username
	PostgresPassword string // PostgreSQL password
	PostgresSSLMode  string // PostgreSQL SSL mode (disable, require, etc.)

	// Widget session configuration
	JWTSecret  string        // Secret key for session token signing (required)
	SessionTTL time.Duration // Widget session lifetime

	// Alerting configuration
	MetricsNamespace string // CloudWatch metric namespace
	AlarmTopicARN    string // SNS topic notified on repeated token conflicts
}

// Load creates a new Config instance with values loaded from environment
// variables. If an environment variable is not set, the corresponding default
// value is used.
//
// This function does not validate the configuration - call Validate() on the
// returned Config to ensure all required values are properly set and valid.
func Load() *Config {
	return &Config{
		Port:        getEnv("PORT", "8080"),
		Environment: getEnv("ENVIRONMENT", "development"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),

		// Upstream clinic API
		ClinicAPIBaseURL:  getEnv("CLINIC_API_BASE_URL", ""),
		ClinicID:          getEnv("CLINIC_ID", "19748"),
		ClinicAPIUser:     getEnv("CLINIC_API_USER", "WebAPI"),
		ClinicAPIPassword: getEnv("CLINIC_API_PASSWORD", ""),
		ClinicAPITimeout:  getDurationEnv("CLINIC_API_TIMEOUT", 30*time.Second),

		// Credential store
		SecretsName: getEnv("SECRETS_NAME", ""),
		AWSRegion:   getEnv("AWS_REGION", "eu-west-1"),

		// Redis configuration
		RedisAddress:  getEnv("REDIS_ADDRESS", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		RedisDB:       getEnv("REDIS_DB", "0"),
		RedisPoolSize: getEnv("REDIS_POOL_SIZE", "10"),

		// Cache TTLs
		SpecialtiesTTL:  getDurationEnv("CACHE_TTL_SPECIALTIES", 10*time.Minute),
		DoctorsTTL:      getDurationEnv("CACHE_TTL_DOCTORS", 5*time.Minute),
		AvailabilityTTL: getDurationEnv("CACHE_TTL_AVAILABILITY", 5*time.Minute),
		IdempotencyTTL:  getDurationEnv("IDEMPOTENCY_TTL", 24*time.Hour),

		// Audit database configuration
		DatabaseType:     getEnv("DATABASE_TYPE", "sqlite"),
		DatabasePath:     getEnv("DATABASE_PATH", "./clinic_audit.db"),
		PostgresHost:     getEnv("POSTGRES_HOST", "localhost"),
		PostgresPort:     getEnv("POSTGRES_PORT", "5432"),
		PostgresDB:       getEnv("POSTGRES_DB", "clinic_api"),
		PostgresUser:     getEnv("POSTGRES_USER", "postgres"),
		PostgresPassword: getEnv("POSTGRES_PASSWORD", ""),
		PostgresSSLMode:  getEnv("POSTGRES_SSL_MODE", "disable"),

		// Widget session configuration
		JWTSecret:  getEnv("JWT_SECRET", ""),
		SessionTTL: getDurationEnv("SESSION_TTL", 30*time.Minute),

		// Alerting configuration
		MetricsNamespace: getEnv("METRICS_NAMESPACE", "ClinicAPI"),
		AlarmTopicARN:    getEnv("ALARM_TOPIC_ARN", ""),
	}
}

// UsesPostgres reports whether the audit store runs on PostgreSQL. Both
// the "postgres" and "postgresql" spellings select it; every consumer of
// DATABASE_TYPE must go through this method rather than compare the raw
// value.
func (c *Config) UsesPostgres() bool {
	return c.DatabaseType == "postgres" || c.DatabaseType == "postgresql"
}

// IsProduction reports whether the service runs in the production environment.
// Outside production, credential lookups may fall back to the CLINIC_API_USER
// and CLINIC_API_PASSWORD environment values when the secret store fails.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}

// getEnv retrieves an environment variable value or returns a default value
// if not set.
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getDurationEnv retrieves a duration environment variable or returns a
// default value when the variable is unset or unparseable.
func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// Validate performs comprehensive validation on the configuration to ensure
// all required fields are present and all values are valid.
//
// This method checks:
//   - Required fields (CLINIC_API_BASE_URL, JWT_SECRET)
//   - Field format validation (ports, numeric ids)
//   - Cross-field dependencies (PostgreSQL configuration requirements)
//   - Security requirements (secret length, production credential sources)
//
// The application should call this method after loading configuration and
// before starting to ensure safe operation.
func (c *Config) Validate() error {
	if c.ClinicAPIBaseURL == "" {
		return fmt.Errorf("CLINIC_API_BASE_URL environment variable is required")
	}

	if c.JWTSecret == "" {
		return fmt.Errorf("JWT_SECRET environment variable is required")
	}

	if len(c.JWTSecret) < 32 {
		return fmt.Errorf("JWT_SECRET must be at least 32 characters long for security")
	}

	if port, err := strconv.Atoi(c.Port); err != nil || port < 1 || port > 65535 {
		return fmt.Errorf("PORT must be a valid port number between 1 and 65535")
	}

	if _, err := strconv.Atoi(c.ClinicID); err != nil {
		return fmt.Errorf("CLINIC_ID must be numeric")
	}

	switch c.Environment {
	case "production", "staging", "development":
		// Valid environments
	default:
		return fmt.Errorf("ENVIRONMENT must be 'production', 'staging' or 'development'")
	}

	// Production must never run on the development credential fallback
	if c.IsProduction() && c.SecretsName == "" {
		return fmt.Errorf("SECRETS_NAME is required in production")
	}

	switch c.DatabaseType {
	case "sqlite", "postgres", "postgresql":
		// Valid database types
	default:
		return fmt.Errorf("DATABASE_TYPE must be 'sqlite' or 'postgres'")
	}

	if c.UsesPostgres() {
		if c.PostgresHost == "" {
			return fmt.Errorf("POSTGRES_HOST is required when using PostgreSQL")
		}
		if c.PostgresDB == "" {
			return fmt.Errorf("POSTGRES_DB is required when using PostgreSQL")
		}
		if c.PostgresUser == "" {
			return fmt.Errorf("POSTGRES_USER is required when using PostgreSQL")
		}
		if port, err := strconv.Atoi(c.PostgresPort); err != nil || port < 1 || port > 65535 {
			return fmt.Errorf("POSTGRES_PORT must be a valid port number")
		}
	}

	if c.RedisAddress != "" {
		if db, err := strconv.Atoi(c.RedisDB); err != nil || db < 0 || db > 15 {
			return fmt.Errorf("REDIS_DB must be a number between 0 and 15")
		}
		if poolSize, err := strconv.Atoi(c.RedisPoolSize); err != nil || poolSize < 1 {
			return fmt.Errorf("REDIS_POOL_SIZE must be a positive number")
		}
	}

	return nil
}

// PostgresDSN builds the PostgreSQL connection string from the individual
// POSTGRES_* settings.
func (c *Config) PostgresDSN() string {
	return fmt.Sprintf("host=%s port=%s dbname=%s user=%s password=%s sslmode=%s",
		c.PostgresHost, c.PostgresPort, c.PostgresDB,
		c.PostgresUser, c.PostgresPassword, c.PostgresSSLMode)
}
