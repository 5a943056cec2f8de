package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvConfigFile names the environment variable holding the config file path
const EnvConfigFile = "CADPLUG_CONFIG"

// Build runners
const (
	RunnerLocal  = "local"
	RunnerDocker = "docker"
)

// Ledger drivers
const (
	DriverSQLite   = "sqlite3"
	DriverPostgres = "postgres"
)

// Config holds all application configuration
type Config struct {
	Log           LogConfig           `yaml:"log"`
	Build         BuildConfig         `yaml:"build"`
	Verifier      VerifierConfig      `yaml:"verifier"`
	Ledger        LedgerConfig        `yaml:"ledger"`
	Server        ServerConfig        `yaml:"server"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// LogConfig holds logging settings
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // text or json
}

// BuildConfig holds build orchestrator settings
type BuildConfig struct {
	Runner      string        `yaml:"runner"` // local or docker
	DockerImage string        `yaml:"docker_image"`
	MemoryLimit int64         `yaml:"memory_limit"` // bytes
	CPULimit    float64       `yaml:"cpu_limit"`
	Timeout     time.Duration `yaml:"timeout"` // 0 disables
}

// VerifierConfig holds inbox verifier settings
type VerifierConfig struct {
	InboxDir       string        `yaml:"inbox_dir"`
	Debounce       time.Duration `yaml:"debounce"`
	RescanSchedule string        `yaml:"rescan_schedule"` // cron spec, empty disables
	Actor          string        `yaml:"actor"`
}

// LedgerConfig holds verification ledger settings
type LedgerConfig struct {
	Driver string `yaml:"driver"`
	DSN    string `yaml:"dsn"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// ObservabilityConfig holds metrics and OpenTelemetry settings
type ObservabilityConfig struct {
	MetricsEnabled  bool   `yaml:"metrics_enabled"`
	OTelEnabled     bool   `yaml:"otel_enabled"`
	OTelEndpoint    string `yaml:"otel_endpoint"`
	OTelServiceName string `yaml:"otel_service_name"`
	OTelInsecure    bool   `yaml:"otel_insecure"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Format: "text"},
		Build: BuildConfig{
			Runner:      RunnerLocal,
			DockerImage: "node:20-alpine",
			MemoryLimit: 2 << 30,
			CPULimit:    2,
		},
		Verifier: VerifierConfig{
			InboxDir:       "./inbox",
			Debounce:       500 * time.Millisecond,
			RescanSchedule: "@every 1h",
			Actor:          "cadplug-verifier",
		},
		Ledger: LedgerConfig{Driver: DriverSQLite, DSN: "cadplug.db"},
		Server: ServerConfig{
			Addr:            ":8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
		},
		Observability: ObservabilityConfig{
			MetricsEnabled:  true,
			OTelEndpoint:    "localhost:4317",
			OTelServiceName: "cadplug",
			OTelInsecure:    true,
		},
	}
}

// Load builds the configuration from defaults, then the YAML file at path
// (or $CADPLUG_CONFIG when path is empty), then CADPLUG_* environment
// variables
func Load(path string) (*Config, error) {
	cfg := Default()

	if path == "" {
		path = os.Getenv(EnvConfigFile)
	}
	if path != "" {
		if err := cfg.loadFile(path); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// applyEnv overrides fields whose environment variable is set
func (c *Config) applyEnv() {
	c.Log.Level = getEnv("CADPLUG_LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("CADPLUG_LOG_FORMAT", c.Log.Format)

	c.Build.Runner = getEnv("CADPLUG_BUILD_RUNNER", c.Build.Runner)
	c.Build.DockerImage = getEnv("CADPLUG_DOCKER_IMAGE", c.Build.DockerImage)
	c.Build.MemoryLimit = getEnvInt64("CADPLUG_DOCKER_MEMORY_LIMIT", c.Build.MemoryLimit)
	c.Build.CPULimit = getEnvFloat("CADPLUG_DOCKER_CPU_LIMIT", c.Build.CPULimit)
	c.Build.Timeout = getEnvDuration("CADPLUG_BUILD_TIMEOUT", c.Build.Timeout)

	c.Verifier.InboxDir = getEnv("CADPLUG_INBOX_DIR", c.Verifier.InboxDir)
	c.Verifier.Debounce = getEnvDuration("CADPLUG_INBOX_DEBOUNCE", c.Verifier.Debounce)
	c.Verifier.RescanSchedule = getEnv("CADPLUG_RESCAN_SCHEDULE", c.Verifier.RescanSchedule)
	c.Verifier.Actor = getEnv("CADPLUG_ACTOR", c.Verifier.Actor)

	c.Ledger.Driver = getEnv("CADPLUG_LEDGER_DRIVER", c.Ledger.Driver)
	c.Ledger.DSN = getEnv("CADPLUG_LEDGER_DSN", c.Ledger.DSN)

	c.Server.Addr = getEnv("CADPLUG_HTTP_ADDR", c.Server.Addr)
	c.Server.ReadTimeout = getEnvDuration("CADPLUG_READ_TIMEOUT", c.Server.ReadTimeout)
	c.Server.WriteTimeout = getEnvDuration("CADPLUG_WRITE_TIMEOUT", c.Server.WriteTimeout)
	c.Server.ShutdownTimeout = getEnvDuration("CADPLUG_SHUTDOWN_TIMEOUT", c.Server.ShutdownTimeout)

	c.Observability.MetricsEnabled = getEnvBool("CADPLUG_METRICS_ENABLED", c.Observability.MetricsEnabled)
	c.Observability.OTelEnabled = getEnvBool("CADPLUG_OTEL_ENABLED", c.Observability.OTelEnabled)
	c.Observability.OTelEndpoint = getEnv("CADPLUG_OTEL_ENDPOINT", c.Observability.OTelEndpoint)
	c.Observability.OTelServiceName = getEnv("CADPLUG_OTEL_SERVICE_NAME", c.Observability.OTelServiceName)
	c.Observability.OTelInsecure = getEnvBool("CADPLUG_OTEL_INSECURE", c.Observability.OTelInsecure)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.Log.Format) {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("invalid log format: %s (must be text or json)", c.Log.Format))
	}

	switch c.Build.Runner {
	case RunnerLocal:
	case RunnerDocker:
		if c.Build.DockerImage == "" {
			errs = append(errs, fmt.Errorf("docker image is required for the docker build runner"))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid build runner: %s (must be local or docker)", c.Build.Runner))
	}
	if c.Build.Timeout < 0 {
		errs = append(errs, fmt.Errorf("build timeout must not be negative"))
	}

	switch c.Ledger.Driver {
	case DriverSQLite, DriverPostgres:
		if c.Ledger.DSN == "" {
			errs = append(errs, fmt.Errorf("ledger DSN is required for the %s driver", c.Ledger.Driver))
		}
	default:
		errs = append(errs, fmt.Errorf("invalid ledger driver: %s (must be sqlite3 or postgres)", c.Ledger.Driver))
	}

	if c.Verifier.Debounce < 0 {
		errs = append(errs, fmt.Errorf("inbox debounce must not be negative"))
	}
	if c.Server.Addr == "" {
		errs = append(errs, fmt.Errorf("HTTP listen address is required"))
	}

	if c.Observability.OTelEnabled {
		if c.Observability.OTelEndpoint == "" {
			errs = append(errs, fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled"))
		}
		if c.Observability.OTelServiceName == "" {
			errs = append(errs, fmt.Errorf("OpenTelemetry service name is required when OTel is enabled"))
		}
	}

	return errors.Join(errs...)
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

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
