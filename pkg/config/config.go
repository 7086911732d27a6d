package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Config holds all zerometa configuration
type Config struct {
	// Layers configuration
	Layers LayersConfig

	// Sandbox configuration
	Sandbox SandboxConfig

	// Observability configuration
	Observability ObservabilityConfig
}

// LayersConfig holds installation and discovery settings
type LayersConfig struct {
	Dir              string
	DiscoveryWorkers int
	WatchDelay       time.Duration
}

// SandboxConfig holds sandbox settings
type SandboxConfig struct {
	// Root is the parent of sandbox working directories. Empty means the
	// system temp directory.
	Root          string
	PolicyFile    string
	AuditLog      string
	EnforceLimits bool
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	LogLevel    string
	MetricsAddr string
}

// LoadConfig loads configuration from environment variables
func LoadConfig() (*Config, error) {
	cfg := &Config{
		Layers:        loadLayersConfig(),
		Sandbox:       loadSandboxConfig(),
		Observability: loadObservabilityConfig(),
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// loadLayersConfig loads layers configuration from environment
func loadLayersConfig() LayersConfig {
	return LayersConfig{
		Dir:              getEnv("ZEROMETA_LAYERS_DIR", "layers"),
		DiscoveryWorkers: getEnvInt("ZEROMETA_DISCOVERY_WORKERS", 4),
		WatchDelay:       getEnvDuration("ZEROMETA_WATCH_DELAY", 500*time.Millisecond),
	}
}

// loadSandboxConfig loads sandbox configuration from environment
func loadSandboxConfig() SandboxConfig {
	return SandboxConfig{
		Root:          getEnv("ZEROMETA_SANDBOX_ROOT", ""),
		PolicyFile:    getEnv("ZEROMETA_POLICY_FILE", ""),
		AuditLog:      getEnv("ZEROMETA_AUDIT_LOG", ""),
		EnforceLimits: getEnvBool("ZEROMETA_ENFORCE_LIMITS", false),
	}
}

// loadObservabilityConfig loads observability configuration from environment
func loadObservabilityConfig() ObservabilityConfig {
	return ObservabilityConfig{
		LogLevel:    strings.ToLower(getEnv("ZEROMETA_LOG_LEVEL", "info")),
		MetricsAddr: getEnv("ZEROMETA_METRICS_ADDR", ""),
	}
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Layers.Dir == "" {
		return fmt.Errorf("layers directory is required")
	}
	if c.Layers.DiscoveryWorkers < 1 {
		return fmt.Errorf("discovery workers must be at least 1, got %d", c.Layers.DiscoveryWorkers)
	}
	if c.Layers.WatchDelay <= 0 {
		return fmt.Errorf("watch delay must be positive, got %s", c.Layers.WatchDelay)
	}

	if c.Sandbox.Root != "" && filepath.Clean(c.Sandbox.Root) == filepath.Clean(c.Layers.Dir) {
		return fmt.Errorf("sandbox root and layers directory must be different")
	}

	if _, err := logrus.ParseLevel(c.Observability.LogLevel); err != nil {
		return fmt.Errorf("invalid log level: %s", c.Observability.LogLevel)
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
