// Package config loads the registry client configuration from AFIP_*
// environment variables, with an optional YAML file override.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/afip-tools/registry-client/pkg/client"
)

// ValidationError reports an invalid tuning parameter. Configuration
// errors are fatal and surface before any network activity.
type ValidationError struct {
	Param  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Param, e.Reason)
}

// Config holds all configuration for the application. Durations are
// expressed in seconds on this surface, matching the environment variable
// contract.
type Config struct {
	Username          string   `yaml:"username"`
	Password          string   `yaml:"password"`
	BaseURL           string   `yaml:"base_url"`
	ChunkSize         int      `yaml:"chunk_size"`
	MaxCalls          int      `yaml:"max_calls"`
	PauseDuration     int      `yaml:"pause_duration"`
	MaxRetries        int      `yaml:"max_retries"`
	RetryDelay        int      `yaml:"retry_delay"`
	ServicesAvailable []string `yaml:"services_available"`
	RequestsPerSecond float64  `yaml:"requests_per_second"`
	Timeout           int      `yaml:"timeout"`

	LogLevel  string `yaml:"log_level"`
	LogPretty bool   `yaml:"log_pretty"`

	CSVFilePath string `yaml:"csv_file_path"`
	ReportDir   string `yaml:"report_dir"`
}

// Load reads configuration from environment variables. The returned
// config is not yet validated; call Validate after any file override.
func Load() *Config {
	return &Config{
		Username:          getEnv("AFIP_USERNAME", ""),
		Password:          getEnv("AFIP_PASSWORD", ""),
		BaseURL:           getEnv("AFIP_BASE_URL", ""),
		ChunkSize:         getEnvAsInt("AFIP_CHUNK_SIZE", 100),
		MaxCalls:          getEnvAsInt("AFIP_MAX_CALLS", 10),
		PauseDuration:     getEnvAsInt("AFIP_PAUSE_DURATION", 60),
		MaxRetries:        getEnvAsInt("AFIP_MAX_RETRIES", 3),
		RetryDelay:        getEnvAsInt("AFIP_RETRY_DELAY", 2),
		ServicesAvailable: splitList(getEnv("AFIP_SERVICES_AVAILABLE", "inscription,padron")),
		RequestsPerSecond: getEnvAsFloat("AFIP_REQUESTS_PER_SECOND", 0),
		Timeout:           getEnvAsInt("AFIP_TIMEOUT", 30),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		LogPretty:         getEnvAsBool("LOG_PRETTY", false),
		CSVFilePath:       getEnv("CSV_FILE_PATH", ""),
		ReportDir:         getEnv("REPORT_DIR", "."),
	}
}

// ApplyFile overlays the YAML file at path onto the config. Keys absent
// from the file keep their current values.
func (c *Config) ApplyFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// Validate checks the tuning parameters and credentials.
func (c *Config) Validate() error {
	switch {
	case c.BaseURL == "":
		return &ValidationError{"base_url", "is required"}
	case c.Username == "":
		return &ValidationError{"username", "is required"}
	case c.Password == "":
		return &ValidationError{"password", "is required"}
	case c.ChunkSize <= 0:
		return &ValidationError{"chunk_size", "must be positive"}
	case c.MaxCalls <= 0:
		return &ValidationError{"max_calls", "must be positive"}
	case c.MaxRetries <= 0:
		return &ValidationError{"max_retries", "must be positive"}
	case c.PauseDuration < 0:
		return &ValidationError{"pause_duration", "must not be negative"}
	case c.RetryDelay < 0:
		return &ValidationError{"retry_delay", "must not be negative"}
	case c.RequestsPerSecond < 0:
		return &ValidationError{"requests_per_second", "must not be negative"}
	case c.Timeout <= 0:
		return &ValidationError{"timeout", "must be positive"}
	case len(c.ServicesAvailable) == 0:
		return &ValidationError{"services_available", "must not be empty"}
	}
	return nil
}

// ClientConfig converts the loaded configuration into the client's form.
func (c *Config) ClientConfig() client.Config {
	cfg := client.DefaultConfig(c.BaseURL, c.Username, c.Password)
	cfg.ChunkSize = c.ChunkSize
	cfg.MaxCalls = c.MaxCalls
	cfg.PauseDuration = time.Duration(c.PauseDuration) * time.Second
	cfg.MaxRetries = c.MaxRetries
	cfg.RetryDelay = time.Duration(c.RetryDelay) * time.Second
	cfg.ServicesAvailable = c.ServicesAvailable
	cfg.RequestsPerSecond = c.RequestsPerSecond
	cfg.Timeout = time.Duration(c.Timeout) * time.Second
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	return out
}
