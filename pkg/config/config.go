// Package config loads and validates the application configuration: agent
// wiring, API endpoint, polling behavior and persistence paths come from a
// JSON file; the API key comes from the environment.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"duet/pkg/runerrors"
	"duet/pkg/runner"
)

// EnvAPIKey is the environment variable holding the OpenAI API key. The key
// is never stored in the config file.
const EnvAPIKey = "OPENAI_API_KEY"

// Duration wraps time.Duration to accept human-readable strings ("45s",
// "1.5m") as well as raw nanosecond numbers in JSON.
type Duration time.Duration

// UnmarshalJSON implements json.Unmarshaler.
func (d *Duration) UnmarshalJSON(data []byte) error {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return err
	}
	switch value := v.(type) {
	case float64:
		*d = Duration(time.Duration(value))
	case string:
		parsed, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", value, err)
		}
		*d = Duration(parsed)
	default:
		return fmt.Errorf("invalid duration value: %v", v)
	}
	return nil
}

// MarshalJSON implements json.Marshaler.
func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

// AgentConfig binds an agent role to a remote assistant.
type AgentConfig struct {
	AssistantID string `json:"assistant_id"`
}

// PollConfig tunes the run poller.
type PollConfig struct {
	InitialInterval Duration `json:"initial_interval,omitempty"`
	MaxInterval     Duration `json:"max_interval,omitempty"`
	BackoffFactor   float64  `json:"backoff_factor,omitempty"`
	MaxWait         Duration `json:"max_wait,omitempty"`
}

// Runner converts the poll settings into the runner's config type. Zero
// values fall back to the runner's defaults.
func (p PollConfig) Runner() runner.Config {
	cfg := runner.DefaultConfig
	if p.InitialInterval > 0 {
		cfg.InitialInterval = time.Duration(p.InitialInterval)
	}
	if p.MaxInterval > 0 {
		cfg.MaxInterval = time.Duration(p.MaxInterval)
	}
	if p.BackoffFactor > 0 {
		cfg.BackoffFactor = p.BackoffFactor
	}
	if p.MaxWait > 0 {
		cfg.MaxWait = time.Duration(p.MaxWait)
	}
	return cfg
}

// Config is the full application configuration.
type Config struct {
	Planner  AgentConfig `json:"planner"`
	Rewriter AgentConfig `json:"rewriter"`

	// BaseURL overrides the API endpoint. Empty uses the OpenAI default.
	BaseURL string `json:"base_url,omitempty"`
	// RequestTimeout bounds each individual API round trip.
	RequestTimeout Duration `json:"request_timeout,omitempty"`

	Poll PollConfig `json:"poll,omitempty"`

	// DBPath is the SQLite database location.
	DBPath string `json:"db_path,omitempty"`
	// FormatsPath points at the YAML catalog of predefined response formats.
	FormatsPath string `json:"formats_path,omitempty"`

	// MetricsAddr is the Prometheus scrape listen address. Empty disables
	// the metrics endpoint.
	MetricsAddr string `json:"metrics_addr,omitempty"`
	// PrometheusURL is the Prometheus server queried for usage reports.
	// Empty disables usage queries.
	PrometheusURL string `json:"prometheus_url,omitempty"`

	// MaxMessageChars caps outgoing message size; longer input is truncated.
	// Zero uses the chat service default.
	MaxMessageChars int `json:"max_message_chars,omitempty"`
}

// Load reads, parses and validates the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	var cfg Config
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

func (c *Config) applyDefaults() {
	if c.DBPath == "" {
		c.DBPath = "duet.db"
	}
}

// Validate checks that the configuration can actually drive the pipeline.
func (c *Config) Validate() error {
	if c.Planner.AssistantID == "" {
		return fmt.Errorf("planner.assistant_id is required")
	}
	if c.Rewriter.AssistantID == "" {
		return fmt.Errorf("rewriter.assistant_id is required")
	}
	if c.MaxMessageChars < 0 {
		return fmt.Errorf("max_message_chars must not be negative")
	}
	return nil
}

// AssistantIDs returns the role-to-assistant mapping for the thread manager.
func (c *Config) AssistantIDs() map[string]string {
	return map[string]string{
		"planner":  c.Planner.AssistantID,
		"rewriter": c.Rewriter.AssistantID,
	}
}

// APIKey reads the API key from the environment. A missing or empty key is
// an APIKeyMissing error; callers may fall back to an interactive prompt.
func APIKey() (string, error) {
	key := os.Getenv(EnvAPIKey)
	if key == "" {
		return "", runerrors.New(runerrors.KindAPIKeyMissing,
			fmt.Sprintf("%s is not set", EnvAPIKey))
	}
	return key, nil
}
