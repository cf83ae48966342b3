// Package config provides configuration loading and validation for the API
// server. It uses koanf to merge environment variables with optional file
// overrides.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds all configuration values for the API server.
type Config struct {
	// Server settings
	Port int    `koanf:"port"`
	Env  string `koanf:"env"`

	// AllowedOrigins is the CORS origin allowlist, comma-separated in the
	// environment. Empty disables CORS handling entirely.
	AllowedOrigins []string `koanf:"allowed_origins"`

	// Database
	DatabaseURL string `koanf:"database_url"`

	// MapTiler geocoding
	MapTilerAPIKey string `koanf:"maptiler_api_key"`

	// Device store. RedisAddr switches the durable per-device store from
	// local files to Redis; DeviceDataDir is the file-store root otherwise.
	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	DeviceID      string `koanf:"device_id"`
	DeviceDataDir string `koanf:"device_data_dir"`

	// Cache tuning
	ReferenceTTL    time.Duration `koanf:"reference_ttl"`
	WindowTTL       time.Duration `koanf:"window_ttl"`
	GeocodeTTL      time.Duration `koanf:"geocode_ttl"`
	GeocodeTimeout  time.Duration `koanf:"geocode_timeout"`
	TargetCount     int           `koanf:"target_count"`
	MaxIterations   int           `koanf:"max_iterations"`
	FilterBatchSize int           `koanf:"filter_batch_size"`
	EpsilonMeters   float64       `koanf:"epsilon_meters"`

	// Tracing
	TracingEnabled      bool    `koanf:"tracing_enabled"`
	TracingExporterType string  `koanf:"tracing_exporter_type"`
	TracingOTLPEndpoint string  `koanf:"tracing_otlp_endpoint"`
	TracingSamplingRate float64 `koanf:"tracing_sampling_rate"`
	TracingInsecure     bool    `koanf:"tracing_insecure"`
}

// Configuration validation errors.
var (
	ErrInvalidPort         = errors.New("PORT must be a valid integer")
	ErrInvalidDuration     = errors.New("duration values must parse with time.ParseDuration")
	ErrInvalidSamplingRate = errors.New("TRACING_SAMPLING_RATE must be between 0 and 1")
	ErrInvalidTargetCount  = errors.New("TARGET_COUNT must be positive")
	ErrInvalidEpsilon      = errors.New("EPSILON_METERS must not be negative")
)

// Default values for non-secret configuration.
const (
	DefaultPort                = 8080
	DefaultEnv                 = "development"
	DefaultDeviceDataDir       = "./data"
	DefaultDeviceID            = "default"
	DefaultReferenceTTL        = 6 * time.Hour
	DefaultWindowTTL           = 2 * time.Hour
	DefaultGeocodeTTL          = 7 * 24 * time.Hour
	DefaultGeocodeTimeout      = 5 * time.Second
	DefaultTargetCount         = 20
	DefaultMaxIterations       = 10
	DefaultFilterBatchSize     = 10
	DefaultEpsilonMeters       = 500.0
	DefaultTracingExporterType = "otlp-http"
	DefaultTracingSamplingRate = 0.1
)

// Load reads configuration from environment variables and an optional
// config file. Environment variables take precedence over file values.
// Returns the loaded config and a slice of validation errors (empty if
// valid). If a config file path is provided and the file cannot be loaded,
// an error is returned.
func Load(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	// Load from YAML file first if provided (lower precedence)
	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	// Try PLACEFEED_PORT first, then PORT for backward compatibility
	port, portErr := getEnvIntOrDefaultMulti([]string{"PLACEFEED_PORT", "PORT"}, k.Int("port"), DefaultPort)
	if portErr != nil {
		loadErrs = append(loadErrs, portErr)
	}

	targetCount, err := getEnvIntOrDefault("TARGET_COUNT", k.Int("target_count"), DefaultTargetCount)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	maxIterations, err := getEnvIntOrDefault("MAX_ITERATIONS", k.Int("max_iterations"), DefaultMaxIterations)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	batchSize, err := getEnvIntOrDefault("FILTER_BATCH_SIZE", k.Int("filter_batch_size"), DefaultFilterBatchSize)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	epsilon, err := getEnvFloatOrDefault("EPSILON_METERS", k.Float64("epsilon_meters"), DefaultEpsilonMeters)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	referenceTTL, err := getEnvDurationOrDefault("REFERENCE_TTL", k.Duration("reference_ttl"), DefaultReferenceTTL)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	windowTTL, err := getEnvDurationOrDefault("WINDOW_TTL", k.Duration("window_ttl"), DefaultWindowTTL)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	geocodeTTL, err := getEnvDurationOrDefault("GEOCODE_TTL", k.Duration("geocode_ttl"), DefaultGeocodeTTL)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	geocodeTimeout, err := getEnvDurationOrDefault("GEOCODE_TIMEOUT", k.Duration("geocode_timeout"), DefaultGeocodeTimeout)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	samplingRate, err := getEnvFloatOrDefault("TRACING_SAMPLING_RATE", k.Float64("tracing_sampling_rate"), DefaultTracingSamplingRate)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	// Build config struct, with env vars taking precedence over file values
	cfg := &Config{
		Port:            port,
		Env:             getEnvOrDefaultMulti([]string{"PLACEFEED_ENV", "ENV", "GO_ENV"}, k.String("env"), DefaultEnv),
		AllowedOrigins:  getEnvListOrKoanf("ALLOWED_ORIGINS", k, "allowed_origins"),
		DatabaseURL:     getEnvOrKoanf("DATABASE_URL", k, "database_url"),
		MapTilerAPIKey:  getEnvOrKoanf("MAPTILER_API_KEY", k, "maptiler_api_key"),
		RedisAddr:       getEnvOrKoanf("REDIS_ADDR", k, "redis_addr"),
		RedisPassword:   getEnvOrKoanf("REDIS_PASSWORD", k, "redis_password"),
		DeviceID:        getEnvOrDefault("DEVICE_ID", k.String("device_id"), DefaultDeviceID),
		DeviceDataDir:   getEnvOrDefault("DEVICE_DATA_DIR", k.String("device_data_dir"), DefaultDeviceDataDir),
		ReferenceTTL:    referenceTTL,
		WindowTTL:       windowTTL,
		GeocodeTTL:      geocodeTTL,
		GeocodeTimeout:  geocodeTimeout,
		TargetCount:     targetCount,
		MaxIterations:   maxIterations,
		FilterBatchSize: batchSize,
		EpsilonMeters:   epsilon,

		TracingEnabled:      getEnvBoolOrDefault("TRACING_ENABLED", k, "tracing_enabled", false),
		TracingExporterType: getEnvOrDefault("TRACING_EXPORTER_TYPE", k.String("tracing_exporter_type"), DefaultTracingExporterType),
		TracingOTLPEndpoint: getEnvOrKoanf("TRACING_OTLP_ENDPOINT", k, "tracing_otlp_endpoint"),
		TracingSamplingRate: samplingRate,
		TracingInsecure:     getEnvBoolOrDefault("TRACING_INSECURE", k, "tracing_insecure", false),
	}

	// Validate and collect errors
	errs := cfg.Validate()
	errs = append(loadErrs, errs...)

	return cfg, errs
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvListOrKoanf returns the environment variable split on commas if
// set, otherwise the koanf string slice.
func getEnvListOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) []string {
	if val := os.Getenv(envKey); val != "" {
		var out []string
		for _, item := range strings.Split(val, ",") {
			if item = strings.TrimSpace(item); item != "" {
				out = append(out, item)
			}
		}
		return out
	}
	return k.Strings(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey string, koanfVal string, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first non-empty value found, otherwise the koanf value, or default.
func getEnvOrDefaultMulti(envKeys []string, koanfVal string, defaultVal string) string {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			return val
		}
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
// Returns an error if the environment variable is set but cannot be parsed as an integer.
func getEnvIntOrDefault(envKey string, koanfVal int, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid integer: %w", envKey, ErrInvalidPort)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvIntOrDefaultMulti tries multiple environment variable keys in order.
// Returns the first valid integer value found, otherwise the koanf value, or default.
func getEnvIntOrDefaultMulti(envKeys []string, koanfVal int, defaultVal int) (int, error) {
	for _, key := range envKeys {
		if val := os.Getenv(key); val != "" {
			i, err := strconv.Atoi(val)
			if err != nil {
				return 0, fmt.Errorf("%s must be a valid integer: %w", key, ErrInvalidPort)
			}
			return i, nil
		}
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvFloatOrDefault returns the environment variable as float64 if set, otherwise the koanf value, or default.
func getEnvFloatOrDefault(envKey string, koanfVal float64, defaultVal float64) (float64, error) {
	if val := os.Getenv(envKey); val != "" {
		f, err := strconv.ParseFloat(val, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid float: %w", envKey, err)
		}
		return f, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvDurationOrDefault returns the environment variable parsed with
// time.ParseDuration if set, otherwise the koanf value, or default.
func getEnvDurationOrDefault(envKey string, koanfVal time.Duration, defaultVal time.Duration) (time.Duration, error) {
	if val := os.Getenv(envKey); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", envKey, ErrInvalidDuration)
		}
		return d, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvBoolOrDefault returns the environment variable as bool if set,
// otherwise the koanf value, or default. Accepts the usual spellings.
func getEnvBoolOrDefault(envKey string, k *koanf.Koanf, koanfKey string, defaultVal bool) bool {
	if val := os.Getenv(envKey); val != "" {
		switch val {
		case "true", "TRUE", "True", "1", "yes", "on":
			return true
		case "false", "FALSE", "False", "0", "no", "off":
			return false
		}
		return defaultVal
	}
	if k.Exists(koanfKey) {
		return k.Bool(koanfKey)
	}
	return defaultVal
}

// Validate checks configuration values for consistency. DATABASE_URL and
// MAPTILER_API_KEY are deliberately not required: the server runs degraded
// without them (empty store, address resolution disabled).
// Returns a slice of validation errors (empty if valid).
func (c *Config) Validate() []error {
	var errs []error

	if c.TargetCount <= 0 {
		errs = append(errs, ErrInvalidTargetCount)
	}
	if c.EpsilonMeters < 0 {
		errs = append(errs, ErrInvalidEpsilon)
	}
	if c.TracingSamplingRate < 0 || c.TracingSamplingRate > 1 {
		errs = append(errs, ErrInvalidSamplingRate)
	}

	return errs
}

// LogSummary returns a summary of the configuration suitable for logging.
// All secrets are masked to prevent accidental exposure.
func (c *Config) LogSummary() map[string]string {
	return map[string]string{
		"port":              fmt.Sprintf("%d", c.Port),
		"env":               c.Env,
		"database_url":      maskDatabaseURL(c.DatabaseURL),
		"maptiler_api_key":  maskSecret(c.MapTilerAPIKey),
		"redis_addr":        c.RedisAddr,
		"redis_password":    maskSecret(c.RedisPassword),
		"device_id":         c.DeviceID,
		"device_data_dir":   c.DeviceDataDir,
		"reference_ttl":     c.ReferenceTTL.String(),
		"window_ttl":        c.WindowTTL.String(),
		"geocode_ttl":       c.GeocodeTTL.String(),
		"geocode_timeout":   c.GeocodeTimeout.String(),
		"target_count":      fmt.Sprintf("%d", c.TargetCount),
		"max_iterations":    fmt.Sprintf("%d", c.MaxIterations),
		"filter_batch_size": fmt.Sprintf("%d", c.FilterBatchSize),
		"epsilon_meters":    fmt.Sprintf("%g", c.EpsilonMeters),
		"tracing_enabled":   fmt.Sprintf("%t", c.TracingEnabled),
	}
}

// maskSecret masks a secret value, showing only the first 4 characters followed by ****
// If the secret is shorter than 8 characters, it's fully masked.
func maskSecret(s string) string {
	if s == "" {
		return "<not set>"
	}
	if len(s) < 8 {
		return "****"
	}
	return s[:4] + "****"
}

// maskDatabaseURL masks the password in a database URL.
// Supports both postgres:// and postgresql:// schemes.
func maskDatabaseURL(s string) string {
	if s == "" {
		return "<not set>"
	}

	// Look for password pattern: user:password@host
	schemeEnd := strings.Index(s, "://")
	if schemeEnd == -1 {
		return maskSecret(s)
	}

	rest := s[schemeEnd+3:]
	atIndex := strings.Index(rest, "@")
	if atIndex == -1 {
		return s // No credentials in URL
	}

	colonIndex := strings.Index(rest[:atIndex], ":")
	if colonIndex == -1 {
		return s // No password (only username)
	}

	scheme := s[:schemeEnd+3]
	user := rest[:colonIndex]
	hostAndPath := rest[atIndex:]

	return scheme + user + ":****" + hostAndPath
}
