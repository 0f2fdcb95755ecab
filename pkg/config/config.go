// Package config loads the toolwire configuration.
//
// Values come from three layers, each overriding the one before: the
// built-in defaults, an optional YAML file, and TOOLWIRE_* environment
// variables.
package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joeshaw/envdecode"
	"gopkg.in/yaml.v3"

	"github.com/ajitpratap0/toolwire/pkg/logging"
	"github.com/ajitpratap0/toolwire/pkg/observability"
	"github.com/ajitpratap0/toolwire/pkg/protocol"
	"github.com/ajitpratap0/toolwire/pkg/ratelimit"
	"github.com/ajitpratap0/toolwire/pkg/sandbox"
	"github.com/ajitpratap0/toolwire/pkg/session"
	"github.com/ajitpratap0/toolwire/pkg/tools"
)

// Config is the complete configuration
type Config struct {
	Sandbox   SandboxConfig    `yaml:"sandbox"`
	RateLimit ratelimit.Config `yaml:"rateLimit"`
	Dispatch  DispatchConfig   `yaml:"dispatch"`
	Session   SessionConfig    `yaml:"session"`
	Tools     ToolsConfig      `yaml:"tools"`
	Resources ResourcesConfig  `yaml:"resources"`
	Logging   LoggingConfig    `yaml:"logging"`
	Metrics   MetricsConfig    `yaml:"metrics"`
	Tracing   TracingConfig    `yaml:"tracing"`

	// Prompts are served by the prompts category in addition to the
	// built-in ones
	Prompts []session.PromptTemplate `yaml:"prompts"`
}

// SandboxConfig confines every locator argument
type SandboxConfig struct {
	// Root is the only directory tools may touch. Empty disables locator
	// tools, which then fail closed.
	Root string `yaml:"root" env:"TOOLWIRE_SANDBOX_ROOT"`
}

// DispatchConfig bounds tool execution
type DispatchConfig struct {
	Timeout        time.Duration `yaml:"timeout" env:"TOOLWIRE_DISPATCH_TIMEOUT"`
	MaxResultBytes int           `yaml:"maxResultBytes" env:"TOOLWIRE_DISPATCH_MAX_RESULT_BYTES"`
	MaxConcurrent  int           `yaml:"maxConcurrent" env:"TOOLWIRE_DISPATCH_MAX_CONCURRENT"`
}

// SessionConfig tunes the session lifecycle
type SessionConfig struct {
	GracePeriod     time.Duration `yaml:"gracePeriod" env:"TOOLWIRE_SESSION_GRACE_PERIOD"`
	ProtocolVersion string        `yaml:"protocolVersion" env:"TOOLWIRE_SESSION_PROTOCOL_VERSION"`
	Instructions    string        `yaml:"instructions"`
}

// ToolsConfig tunes the built-in tools
type ToolsConfig struct {
	EchoMaxLength int   `yaml:"echoMaxLength" env:"TOOLWIRE_TOOLS_ECHO_MAX_LENGTH"`
	ReadLimit     int64 `yaml:"readLimit" env:"TOOLWIRE_TOOLS_READ_LIMIT"`
	AllowWrite    bool  `yaml:"allowWrite" env:"TOOLWIRE_TOOLS_ALLOW_WRITE"`
}

// ResourcesConfig controls the file resources served from the sandbox root
type ResourcesConfig struct {
	Enabled      bool          `yaml:"enabled" env:"TOOLWIRE_RESOURCES_ENABLED"`
	MaxReadBytes int64         `yaml:"maxReadBytes" env:"TOOLWIRE_RESOURCES_MAX_READ_BYTES"`
	Debounce     time.Duration `yaml:"debounce"`
}

// LoggingConfig selects level and format
type LoggingConfig struct {
	Level  string `yaml:"level" env:"TOOLWIRE_LOG_LEVEL"`
	Format string `yaml:"format" env:"TOOLWIRE_LOG_FORMAT"`
}

// MetricsConfig controls the prometheus endpoint
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled" env:"TOOLWIRE_METRICS_ENABLED"`
	Addr    string `yaml:"addr" env:"TOOLWIRE_METRICS_ADDR"`
	Path    string `yaml:"path"`
}

// TracingConfig controls span export
type TracingConfig struct {
	Exporter   string  `yaml:"exporter" env:"TOOLWIRE_TRACING_EXPORTER"`
	Endpoint   string  `yaml:"endpoint" env:"TOOLWIRE_TRACING_ENDPOINT"`
	Insecure   bool    `yaml:"insecure" env:"TOOLWIRE_TRACING_INSECURE"`
	SampleRate float64 `yaml:"sampleRate" env:"TOOLWIRE_TRACING_SAMPLE_RATE"`
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		RateLimit: ratelimit.DefaultConfig(),
		Dispatch: DispatchConfig{
			Timeout:        30 * time.Second,
			MaxResultBytes: 64 * 1024,
			MaxConcurrent:  16,
		},
		Session: SessionConfig{
			GracePeriod:     5 * time.Second,
			ProtocolVersion: protocol.ProtocolRevision,
		},
		Tools: ToolsConfig{
			EchoMaxLength: 4096,
			ReadLimit:     256 * 1024,
		},
		Resources: ResourcesConfig{
			Enabled:      true,
			MaxReadBytes: 1 << 20,
			Debounce:     100 * time.Millisecond,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Metrics: MetricsConfig{Addr: ":9464", Path: "/metrics"},
		Tracing: TracingConfig{
			Exporter:   string(observability.ExporterTypeNoop),
			SampleRate: 1.0,
		},
	}
}

// Load builds the configuration from the defaults, the YAML file at path
// (skipped when path is empty) and the environment
func Load(path string) (*Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := envdecode.Decode(cfg); err != nil && !errors.Is(err, envdecode.ErrNoTargetFieldsAreSet) {
		return nil, fmt.Errorf("decode environment: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate reports every invalid setting at once
func (c *Config) Validate() error {
	var problems []string
	add := func(format string, args ...interface{}) {
		problems = append(problems, fmt.Sprintf(format, args...))
	}

	if c.RateLimit.MaxCalls > 0 && c.RateLimit.Window <= 0 {
		add("rateLimit.window must be positive when maxCalls is set")
	}
	if c.Dispatch.Timeout < 0 {
		add("dispatch.timeout must not be negative")
	}
	if c.Dispatch.MaxResultBytes < 0 {
		add("dispatch.maxResultBytes must not be negative")
	}
	if c.Dispatch.MaxConcurrent < 0 {
		add("dispatch.maxConcurrent must not be negative")
	}
	if c.Session.GracePeriod < 0 {
		add("session.gracePeriod must not be negative")
	}
	if v := c.Session.ProtocolVersion; v != "" && !protocol.IsSupportedVersion(v) {
		add("session.protocolVersion %q is not one of %s", v, strings.Join(protocol.SupportedProtocolVersions, ", "))
	}
	if c.Tools.EchoMaxLength < 0 {
		add("tools.echoMaxLength must not be negative")
	}
	if _, err := logging.ParseLevel(c.Logging.Level); err != nil {
		add("logging.level: %v", err)
	}
	switch c.Logging.Format {
	case "text", "json":
	default:
		add("logging.format must be text or json, got %q", c.Logging.Format)
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		add("metrics.addr is required when metrics are enabled")
	}
	switch observability.ExporterType(c.Tracing.Exporter) {
	case observability.ExporterTypeNoop, observability.ExporterTypeOTLPGRPC, observability.ExporterTypeOTLPHTTP:
	default:
		add("tracing.exporter %q is not supported", c.Tracing.Exporter)
	}
	if c.Tracing.SampleRate < 0 || c.Tracing.SampleRate > 1 {
		add("tracing.sampleRate must be between 0 and 1")
	}
	seen := make(map[string]bool, len(c.Prompts))
	for i, p := range c.Prompts {
		switch {
		case p.Name == "":
			add("prompts[%d].name is required", i)
		case seen[p.Name]:
			add("prompts[%d].name %q is duplicated", i, p.Name)
		}
		seen[p.Name] = true
	}

	if len(problems) > 0 {
		return fmt.Errorf("invalid configuration: %s", strings.Join(problems, "; "))
	}
	return nil
}

// TracingConfig converts the tracing section for the observability package
func (c *Config) TracingConfig(version string) observability.TracingConfig {
	return observability.TracingConfig{
		ServiceName:    observability.TracerName,
		ServiceVersion: version,
		ExporterType:   observability.ExporterType(c.Tracing.Exporter),
		Endpoint:       c.Tracing.Endpoint,
		Insecure:       c.Tracing.Insecure,
		SampleRate:     c.Tracing.SampleRate,
		SetGlobal:      true,
	}
}

// MetricsConfig converts the metrics section for the observability package
func (c *Config) MetricsConfig(version string) observability.MetricsConfig {
	return observability.MetricsConfig{
		ServiceName:    observability.TracerName,
		ServiceVersion: version,
		MetricsPath:    c.Metrics.Path,
	}
}

// ToolOptions converts the tools section, showing paths relative to sb
func (c *Config) ToolOptions(sb *sandbox.Sandbox) tools.Options {
	return tools.Options{
		EchoMaxLength: c.Tools.EchoMaxLength,
		ReadLimit:     c.Tools.ReadLimit,
		AllowWrite:    c.Tools.AllowWrite,
		Sandbox:       sb,
	}
}
