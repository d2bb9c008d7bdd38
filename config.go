package speechgate

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Defaults applied when config fields are zero.
const (
	// DefaultAdmissionCapacity is set below the provider's hard TPS cap to
	// leave headroom for other consumers of the same subscription.
	DefaultAdmissionCapacity = 18

	DefaultAdmissionTimeout = 30 * time.Second
	DefaultQueueWarn        = 2 * time.Second
	DefaultBufferFraction   = 0.20
	DefaultTelemetryBuffer  = 256
)

// Config is the top-level gateway configuration.
type Config struct {
	Environment string            `yaml:"environment"`
	Admission   AdmissionSettings `yaml:"admission"`
	Quota       QuotaSettings     `yaml:"quota"`
	Provider    ProviderSettings  `yaml:"provider"`
	Telemetry   TelemetrySettings `yaml:"telemetry"`
}

// AdmissionSettings configures the concurrency gate in front of the
// provider. Durations are in milliseconds.
type AdmissionSettings struct {
	Capacity    int `yaml:"capacity"`
	TimeoutMS   int `yaml:"timeout_ms"`
	QueueWarnMS int `yaml:"queue_warn_ms"`
}

// QuotaSettings configures ledger defaults.
type QuotaSettings struct {
	BufferFraction float64 `yaml:"buffer_fraction"`
}

// ProviderSettings configures the upstream speech provider adapter.
type ProviderSettings struct {
	Name    string `yaml:"name"`
	BaseURL string `yaml:"base_url"`
	Auth    Auth   `yaml:"auth"`
}

// TelemetrySettings configures the error-event dispatcher.
type TelemetrySettings struct {
	Buffer int `yaml:"buffer"`
}

// AdmissionConfig is the resolved admission controller configuration.
type AdmissionConfig struct {
	Capacity    int
	Timeout     time.Duration
	QueueWarn   time.Duration
	Environment string
}

// AdmissionConfig resolves the settings into controller configuration,
// filling defaults for zero values.
func (c Config) AdmissionConfig() AdmissionConfig {
	cfg := AdmissionConfig{
		Capacity:    c.Admission.Capacity,
		Timeout:     time.Duration(c.Admission.TimeoutMS) * time.Millisecond,
		QueueWarn:   time.Duration(c.Admission.QueueWarnMS) * time.Millisecond,
		Environment: c.Environment,
	}
	if cfg.Capacity <= 0 {
		cfg.Capacity = DefaultAdmissionCapacity
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultAdmissionTimeout
	}
	if cfg.QueueWarn <= 0 {
		cfg.QueueWarn = DefaultQueueWarn
	}
	return cfg
}

// BufferFraction returns the configured grace buffer fraction or the default.
func (c Config) BufferFraction() float64 {
	if c.Quota.BufferFraction > 0 {
		return c.Quota.BufferFraction
	}
	return DefaultBufferFraction
}

// LoadConfig reads and parses a YAML config file.
// Environment variables in the format ${VAR} are expanded before parsing.
func LoadConfig(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("speechgate: read config: %w", err)
	}

	expanded := os.ExpandEnv(string(data))

	var cfg Config
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return Config{}, fmt.Errorf("speechgate: parse config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// Validate checks the config for consistency.
func (c Config) Validate() error {
	if c.Admission.Capacity < 0 {
		return fmt.Errorf("speechgate: config: admission.capacity must not be negative")
	}
	if c.Admission.TimeoutMS < 0 {
		return fmt.Errorf("speechgate: config: admission.timeout_ms must not be negative")
	}
	if c.Quota.BufferFraction < 0 || c.Quota.BufferFraction > 1 {
		return fmt.Errorf("speechgate: config: quota.buffer_fraction must be in [0, 1]")
	}
	if c.Telemetry.Buffer < 0 {
		return fmt.Errorf("speechgate: config: telemetry.buffer must not be negative")
	}
	return nil
}
