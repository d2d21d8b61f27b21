// Package config loads and validates application configuration from environment variables.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Server settings.
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration

	// Database settings. DATABASE_URL selects the Postgres store; when it is
	// empty the service runs on a local SQLite file instead.
	DatabaseURL string
	SQLitePath  string

	// Vision oracle settings.
	OpenAIAPIKey  string
	VisionModel   string
	VisionTimeout time.Duration

	// Decision settings.
	FallbackMaterial   string
	FallbackType       string
	FallbackConfidence float64
	StoreThreshold     float64

	// OTEL settings.
	OTELEndpoint string
	OTELInsecure bool
	ServiceName  string

	// Operational settings.
	LogLevel            string
	MaxRequestBodyBytes int64
}

// Load reads configuration from environment variables with sensible defaults.
func Load() (Config, error) {
	cfg := Config{
		Port:                envInt("HOLDERD_PORT", 8080),
		ReadTimeout:         envDuration("HOLDERD_READ_TIMEOUT", 30*time.Second),
		WriteTimeout:        envDuration("HOLDERD_WRITE_TIMEOUT", 60*time.Second),
		DatabaseURL:         envStr("DATABASE_URL", ""),
		SQLitePath:          envStr("HOLDERD_SQLITE_PATH", "holderd.db"),
		OpenAIAPIKey:        envStr("OPENAI_API_KEY", ""),
		VisionModel:         envStr("HOLDERD_VISION_MODEL", "gpt-4o"),
		VisionTimeout:       envDuration("HOLDERD_VISION_TIMEOUT", 30*time.Second),
		FallbackMaterial:    envStr("HOLDERD_FALLBACK_MATERIAL", "kov"),
		FallbackType:        envStr("HOLDERD_FALLBACK_TYPE", "stĺp značky samostatný"),
		FallbackConfidence:  envFloat("HOLDERD_FALLBACK_CONFIDENCE", 0.4),
		StoreThreshold:      envFloat("HOLDERD_STORE_THRESHOLD", 0.5),
		OTELEndpoint:        envStr("OTEL_EXPORTER_OTLP_ENDPOINT", ""),
		OTELInsecure:        envBool("OTEL_EXPORTER_OTLP_INSECURE", false),
		ServiceName:         envStr("OTEL_SERVICE_NAME", "holderd"),
		LogLevel:            envStr("HOLDERD_LOG_LEVEL", "info"),
		MaxRequestBodyBytes: int64(envInt("HOLDERD_MAX_REQUEST_BODY_BYTES", 1*1024*1024)), // 1 MB default
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks that required configuration is present and in range.
func (c Config) Validate() error {
	if c.DatabaseURL == "" && c.SQLitePath == "" {
		return fmt.Errorf("config: either DATABASE_URL or HOLDERD_SQLITE_PATH is required")
	}
	if c.FallbackMaterial == "" || c.FallbackType == "" {
		return fmt.Errorf("config: fallback material and type must be non-empty")
	}
	if c.FallbackConfidence < 0 || c.FallbackConfidence > 1 {
		return fmt.Errorf("config: HOLDERD_FALLBACK_CONFIDENCE must be in [0, 1]")
	}
	if c.StoreThreshold < 0 || c.StoreThreshold > 1 {
		return fmt.Errorf("config: HOLDERD_STORE_THRESHOLD must be in [0, 1]")
	}
	if c.VisionTimeout <= 0 {
		return fmt.Errorf("config: HOLDERD_VISION_TIMEOUT must be positive")
	}
	if c.MaxRequestBodyBytes <= 0 {
		return fmt.Errorf("config: HOLDERD_MAX_REQUEST_BODY_BYTES must be positive")
	}
	return nil
}

func envStr(key, defaultVal string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultVal
}

func envInt(key string, defaultVal int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultVal
}

func envFloat(key string, defaultVal float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return defaultVal
}

func envBool(key string, defaultVal bool) bool {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return defaultVal
}

func envDuration(key string, defaultVal time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultVal
}
