// Package config loads the service configuration from a YAML file and
// SENSORFEED_* environment variables. Command-line flags are applied on
// top by cmd/server, followed by Validate.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SENSORFEED_"

// Source kinds.
const (
	SourceSerial    = "serial"
	SourceTCP       = "tcp"
	SourceStdin     = "stdin"
	SourceFile      = "file"
	SourceFollow    = "follow"
	SourceSimulated = "simulated"
)

// ProviderNone disables the AI provider; summaries are then computed
// locally.
const ProviderNone = "none"

type Config struct {
	Server  ServerConfig  `yaml:"server"`
	Source  SourceConfig  `yaml:"source"`
	Window  WindowConfig  `yaml:"window"`
	Summary SummaryConfig `yaml:"summary"`
	AI      AIConfig      `yaml:"ai"`
	Storage StorageConfig `yaml:"storage"`
	Log     LogConfig     `yaml:"log"`
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	SummaryRPS      float64       `yaml:"summary_rps"`
	SummaryBurst    int           `yaml:"summary_burst"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	StaticDir       string        `yaml:"static_dir"` // optional dashboard build to serve at /
}

type SourceConfig struct {
	Kind         string        `yaml:"kind"`
	Port         string        `yaml:"port"`
	BaudRate     int           `yaml:"baud_rate"`
	Address      string        `yaml:"address"`
	Path         string        `yaml:"path"`
	Interval     time.Duration `yaml:"interval"`
	Seed         int64         `yaml:"seed"`
	MaxLineBytes int           `yaml:"max_line_bytes"`
	AutoConnect  bool          `yaml:"auto_connect"`
	FromStart    bool          `yaml:"from_start"` // follow: replay existing content first
}

type WindowConfig struct {
	Capacity int `yaml:"capacity"`
}

type SummaryConfig struct {
	Threshold int           `yaml:"threshold"`
	Period    time.Duration `yaml:"period"`
	Endpoint  string        `yaml:"endpoint"`
	Timeout   time.Duration `yaml:"timeout"`
}

type AIConfig struct {
	Provider  string        `yaml:"provider"`
	Region    string        `yaml:"region"`
	Model     string        `yaml:"model"`
	OllamaURL string        `yaml:"ollama_url"`
	OpenAIURL string        `yaml:"openai_url"`
	APIKeyEnv string        `yaml:"api_key_env"`
	Timeout   time.Duration `yaml:"timeout"`
}

// APIKey resolves the key from the environment variable named by
// APIKeyEnv.
func (c AIConfig) APIKey() string {
	if c.APIKeyEnv == "" {
		return ""
	}
	return os.Getenv(c.APIKeyEnv)
}

type StorageConfig struct {
	Path string `yaml:"path"` // empty disables summary history
}

type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads path (optional; "" means defaults only), applies
// environment overrides and defaults, and validates the result.
func Load(path string) (*Config, error) {
	return LoadWithEnv(path, os.LookupEnv)
}

// LoadWithEnv is Load with an injectable environment lookup.
func LoadWithEnv(path string, lookup func(string) (string, bool)) (*Config, error) {
	cfg, err := Read(path, lookup)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Read is LoadWithEnv without Validate, for callers that overlay more
// settings (command-line flags) before validating.
func Read(path string, lookup func(string) (string, bool)) (*Config, error) {
	var cfg Config
	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("config: %w", err)
		}
		dec := yaml.NewDecoder(bytes.NewReader(raw))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	if err := cfg.applyEnv(lookup); err != nil {
		return nil, err
	}
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills every unset field.
func (c *Config) ApplyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.SummaryRPS == 0 {
		c.Server.SummaryRPS = 1
	}
	if c.Server.SummaryBurst == 0 {
		c.Server.SummaryBurst = 5
	}
	if c.Server.ShutdownTimeout == 0 {
		c.Server.ShutdownTimeout = 10 * time.Second
	}
	if c.Source.Kind == "" {
		c.Source.Kind = SourceSimulated
	}
	if c.Source.BaudRate == 0 {
		c.Source.BaudRate = 9600
	}
	if c.Source.Interval == 0 {
		c.Source.Interval = time.Second
	}
	if c.Source.MaxLineBytes == 0 {
		c.Source.MaxLineBytes = 64 << 10
	}
	if c.Window.Capacity == 0 {
		c.Window.Capacity = 60
	}
	if c.Summary.Threshold == 0 {
		c.Summary.Threshold = 10
	}
	if c.Summary.Period == 0 {
		c.Summary.Period = 60 * time.Second
	}
	if c.Summary.Timeout == 0 {
		c.Summary.Timeout = 30 * time.Second
	}
	if c.AI.Provider == "" {
		c.AI.Provider = "openai"
	}
	if c.AI.Region == "" {
		c.AI.Region = "us-east-1"
	}
	if c.AI.OllamaURL == "" {
		c.AI.OllamaURL = "http://localhost:11434"
	}
	if c.AI.OpenAIURL == "" {
		c.AI.OpenAIURL = "https://ai.hackclub.com/chat/completions"
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// Validate reports the first invalid setting.
func (c *Config) Validate() error {
	switch c.Source.Kind {
	case SourceSerial:
		if c.Source.Port == "" {
			return errors.New("config: source.port is required for serial sources")
		}
		if c.Source.BaudRate < 0 {
			return fmt.Errorf("config: source.baud_rate must be positive, got %d", c.Source.BaudRate)
		}
	case SourceTCP:
		if c.Source.Address == "" {
			return errors.New("config: source.address is required for tcp sources")
		}
	case SourceFile, SourceFollow:
		if c.Source.Path == "" {
			return fmt.Errorf("config: source.path is required for %s sources", c.Source.Kind)
		}
	case SourceStdin, SourceSimulated:
	default:
		return fmt.Errorf("config: unknown source.kind %q", c.Source.Kind)
	}

	if c.Source.Interval < 0 {
		return errors.New("config: source.interval must not be negative")
	}
	if c.Window.Capacity < 1 {
		return fmt.Errorf("config: window.capacity must be at least 1, got %d", c.Window.Capacity)
	}
	if c.Summary.Threshold < 1 {
		return fmt.Errorf("config: summary.threshold must be at least 1, got %d", c.Summary.Threshold)
	}
	if c.Summary.Threshold > c.Window.Capacity {
		return fmt.Errorf("config: summary.threshold (%d) exceeds window.capacity (%d)",
			c.Summary.Threshold, c.Window.Capacity)
	}
	if c.Summary.Period <= 0 {
		return errors.New("config: summary.period must be positive")
	}

	switch c.AI.Provider {
	case "bedrock", "ollama", "openai", ProviderNone:
	default:
		return fmt.Errorf("config: unknown ai.provider %q", c.AI.Provider)
	}

	switch strings.ToLower(c.Log.Level) {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("config: unknown log.level %q", c.Log.Level)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Environment overrides
// ---------------------------------------------------------------------------

func (c *Config) applyEnv(lookup func(string) (string, bool)) error {
	str := func(key string, dst *string) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			*dst = v
		}
	}
	var errs []error
	integer := func(key string, dst *int) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = n
		}
	}
	duration := func(key string, dst *time.Duration) {
		if v, ok := lookup(EnvPrefix + key); ok && v != "" {
			d, err := time.ParseDuration(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("config: %s%s: %w", EnvPrefix, key, err))
				return
			}
			*dst = d
		}
	}

	str("ADDR", &c.Server.Addr)
	str("STATIC_DIR", &c.Server.StaticDir)
	str("SOURCE", &c.Source.Kind)
	str("SERIAL_PORT", &c.Source.Port)
	integer("BAUD_RATE", &c.Source.BaudRate)
	str("TCP_ADDR", &c.Source.Address)
	str("SOURCE_PATH", &c.Source.Path)
	duration("SOURCE_INTERVAL", &c.Source.Interval)
	integer("WINDOW_CAPACITY", &c.Window.Capacity)
	integer("SUMMARY_THRESHOLD", &c.Summary.Threshold)
	duration("SUMMARY_PERIOD", &c.Summary.Period)
	str("SUMMARY_ENDPOINT", &c.Summary.Endpoint)
	str("AI_PROVIDER", &c.AI.Provider)
	str("AI_REGION", &c.AI.Region)
	str("AI_MODEL", &c.AI.Model)
	str("OLLAMA_URL", &c.AI.OllamaURL)
	str("OPENAI_URL", &c.AI.OpenAIURL)
	str("DB_PATH", &c.Storage.Path)
	str("LOG_LEVEL", &c.Log.Level)

	return errors.Join(errs...)
}
