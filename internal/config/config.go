// Package config loads assessd configuration from YAML and the environment.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/fyrsmithlabs/assessd/internal/schema"
)

// Config holds the complete assessd configuration.
type Config struct {
	Server     ServerConfig     `koanf:"server"`
	Pipeline   PipelineConfig   `koanf:"pipeline"`
	Schema     schema.Limits    `koanf:"schema"`
	Capability CapabilityConfig `koanf:"capability"`
	Store      StoreConfig      `koanf:"store"`
	Events     EventsConfig     `koanf:"events"`
	Logging    LoggingConfig    `koanf:"logging"`
	Telemetry  TelemetryConfig  `koanf:"telemetry"`
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Host            string   `koanf:"host"`
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
	// RateLimit is sustained POST /generate requests per second per client.
	RateLimit float64 `koanf:"rate_limit"`
	RateBurst int     `koanf:"rate_burst"`
}

// PipelineConfig holds orchestrator settings. Retry and refinement bounds
// are fixed and intentionally absent.
type PipelineConfig struct {
	PortTimeout Duration `koanf:"port_timeout"`
	RunTimeout  Duration `koanf:"run_timeout"`
}

// CapabilityConfig selects the content ports.
type CapabilityConfig struct {
	Provider          string  `koanf:"provider"`
	Model             string  `koanf:"model"`
	APIKey            Secret  `koanf:"api_key"`
	BaseURL           string  `koanf:"base_url"`
	ScriptedPath      string  `koanf:"scripted_path"`
	RequestsPerSecond float64 `koanf:"requests_per_second"`
	// Burst is the LLM limiter bucket size. Zero keeps the provider default.
	Burst int `koanf:"burst"`
}

// StoreConfig configures artifact persistence. An empty Path keeps
// artifacts in memory.
type StoreConfig struct {
	Path       string `koanf:"path"`
	Compress   bool   `koanf:"compress"`
	Collection string `koanf:"collection"`
}

// EventsConfig configures run event publishing. An empty NATSURL disables it.
type EventsConfig struct {
	NATSURL string `koanf:"nats_url"`
	Subject string `koanf:"subject"`
}

// LoggingConfig holds log settings.
type LoggingConfig struct {
	Level    string `koanf:"level"`
	Format   string `koanf:"format"`
	OTEL     bool   `koanf:"otel"`
	Sampling bool   `koanf:"sampling"`
}

// TelemetryConfig holds OpenTelemetry export settings.
type TelemetryConfig struct {
	Enabled     bool    `koanf:"enabled"`
	Endpoint    string  `koanf:"endpoint"`
	Protocol    string  `koanf:"protocol"`
	Insecure    bool    `koanf:"insecure"`
	ServiceName string  `koanf:"service_name"`
	SampleRate  float64 `koanf:"sample_rate"`
}

// Default returns a config with every default applied.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8000
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(10 * time.Second)
	}
	if cfg.Server.RateLimit == 0 {
		cfg.Server.RateLimit = 1
	}
	if cfg.Server.RateBurst == 0 {
		cfg.Server.RateBurst = 5
	}

	if cfg.Pipeline.PortTimeout == 0 {
		cfg.Pipeline.PortTimeout = Duration(60 * time.Second)
	}
	if cfg.Pipeline.RunTimeout == 0 {
		cfg.Pipeline.RunTimeout = Duration(5 * time.Minute)
	}

	applySchemaDefaults(&cfg.Schema)

	if cfg.Capability.Provider == "" {
		cfg.Capability.Provider = "stub"
	}
	if cfg.Capability.Model == "" {
		cfg.Capability.Model = "gpt-4o-mini"
	}
	if cfg.Capability.RequestsPerSecond == 0 {
		cfg.Capability.RequestsPerSecond = 2
	}

	if cfg.Store.Collection == "" {
		cfg.Store.Collection = "run_artifacts"
	}
	if cfg.Events.Subject == "" {
		cfg.Events.Subject = "assessd.runs.finalized"
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Telemetry.ServiceName == "" {
		cfg.Telemetry.ServiceName = "assessd"
	}
	if cfg.Telemetry.Endpoint == "" {
		cfg.Telemetry.Endpoint = "localhost:4317"
	}
	if cfg.Telemetry.Protocol == "" {
		cfg.Telemetry.Protocol = "grpc"
	}
	if cfg.Telemetry.SampleRate == 0 {
		cfg.Telemetry.SampleRate = 1.0
	}
}

// applySchemaDefaults fills unset limits field by field so a partial
// schema section in YAML keeps the remaining defaults.
func applySchemaDefaults(l *schema.Limits) {
	d := schema.DefaultLimits()
	if l.MinExplanation == 0 {
		l.MinExplanation = d.MinExplanation
	}
	if l.MinMCQs == 0 {
		l.MinMCQs = d.MinMCQs
	}
	if l.MaxMCQs == 0 {
		l.MaxMCQs = d.MaxMCQs
	}
	if l.OptionsPerMCQ == 0 {
		l.OptionsPerMCQ = d.OptionsPerMCQ
	}
	if l.MinQuestion == 0 {
		l.MinQuestion = d.MinQuestion
	}
	if l.MinObjective == 0 {
		l.MinObjective = d.MinObjective
	}
	if l.MinMisconception == 0 {
		l.MinMisconception = d.MinMisconception
	}
	if len(l.Bands) == 0 {
		l.Bands = d.Bands
	}
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Server.Port < 1 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout.Duration() <= 0 {
		return errors.New("shutdown timeout must be positive")
	}
	if c.Server.RateLimit < 0 || c.Server.RateBurst < 0 {
		return errors.New("rate limit and burst must not be negative")
	}
	if c.Capability.RequestsPerSecond < 0 || c.Capability.Burst < 0 {
		return errors.New("capability rate and burst must not be negative")
	}
	if c.Pipeline.PortTimeout.Duration() <= 0 {
		return errors.New("pipeline port timeout must be positive")
	}
	if err := c.Schema.Validate(); err != nil {
		return fmt.Errorf("schema limits: %w", err)
	}

	switch c.Capability.Provider {
	case "stub":
	case "scripted":
		if c.Capability.ScriptedPath == "" {
			return errors.New("capability.scripted_path required for scripted provider")
		}
	case "openai":
		if !c.Capability.APIKey.IsSet() {
			return errors.New("capability.api_key required for openai provider")
		}
	default:
		return fmt.Errorf("unknown capability provider %q (stub, scripted, openai)", c.Capability.Provider)
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.ServiceName == "" {
			return errors.New("service name required when telemetry is enabled")
		}
		if c.Telemetry.Protocol != "grpc" && c.Telemetry.Protocol != "http/protobuf" {
			return fmt.Errorf("telemetry protocol must be grpc or http/protobuf, got %q", c.Telemetry.Protocol)
		}
	}
	if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
		return fmt.Errorf("telemetry sample rate must be 0-1, got %v", c.Telemetry.SampleRate)
	}
	return nil
}
