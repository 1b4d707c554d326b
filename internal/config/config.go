// Package config loads the service configuration from a YAML file with
// environment variable expansion.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultPath is the config file used when none is given.
const DefaultPath = "canon.yaml"

// Config is the full service configuration shared by the gateway and the
// ingestion worker.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Auth      AuthConfig      `yaml:"auth"`
	Reasoning ReasoningConfig `yaml:"reasoning"`
	AWS       AWSConfig       `yaml:"aws"`
	Tables    TablesConfig    `yaml:"tables"`
	Lock      LockConfig      `yaml:"lock"`
	Events    EventsConfig    `yaml:"events"`
	Podcast   PodcastConfig   `yaml:"podcast"`
	Logging   LoggingConfig   `yaml:"logging"`
	Tracing   TracingConfig   `yaml:"tracing"`
}

// ServerConfig configures the HTTP gateway.
type ServerConfig struct {
	Addr string `yaml:"addr"`

	// PublicBaseURL is the externally reachable base URL used in stream_url.
	PublicBaseURL string `yaml:"public_base_url"`
}

// AuthConfig configures bearer-token verification.
type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
}

// ReasoningConfig configures the reasoning service client.
type ReasoningConfig struct {
	APIKey       string `yaml:"api_key"`
	BaseURL      string `yaml:"base_url"`
	Model        string `yaml:"model"`
	Name         string `yaml:"name"`
	Instructions string `yaml:"instructions"`
}

// AWSConfig configures the AWS SDK clients.
type AWSConfig struct {
	Region string `yaml:"region"`

	// Endpoint overrides the AWS endpoint for local stacks.
	Endpoint string `yaml:"endpoint"`
}

// TablesConfig names the DynamoDB tables.
type TablesConfig struct {
	Sessions   string `yaml:"sessions"`
	Assistants string `yaml:"assistants"`
	Locks      string `yaml:"locks"`
}

// LockConfig configures the per-user index lock.
type LockConfig struct {
	// TTL is the lease duration; an expired lease is stealable.
	TTL time.Duration `yaml:"ttl"`
}

// EventsConfig configures the event bus and the ingestion queue.
type EventsConfig struct {
	Bus      string `yaml:"bus"`
	Source   string `yaml:"source"`
	QueueURL string `yaml:"queue_url"`
}

// PodcastConfig configures the podcast API the chat tools query.
type PodcastConfig struct {
	BaseURL string `yaml:"base_url"`
}

// LoggingConfig configures structured logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// TracingConfig configures the OTLP trace exporter.
type TracingConfig struct {
	Endpoint    string  `yaml:"endpoint"`
	SampleRate  float64 `yaml:"sample_rate"`
	Environment string  `yaml:"environment"`
}

// Load reads and parses the config file at path. Environment variables in
// the file ($VAR or ${VAR}) are expanded before parsing, so secrets stay out
// of the file itself.
func Load(path string) (*Config, error) {
	if path == "" {
		path = DefaultPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	expanded := os.ExpandEnv(string(data))

	cfg := &Config{}
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func (c *Config) applyDefaults() {
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.PublicBaseURL == "" {
		c.Server.PublicBaseURL = "http://localhost:8080"
	}
	if c.AWS.Region == "" {
		c.AWS.Region = "us-east-1"
	}
	if c.Tables.Sessions == "" {
		c.Tables.Sessions = "canon-sessions"
	}
	if c.Tables.Assistants == "" {
		c.Tables.Assistants = "canon-assistants"
	}
	if c.Tables.Locks == "" {
		c.Tables.Locks = "canon-locks"
	}
	if c.Lock.TTL <= 0 {
		c.Lock.TTL = 2 * time.Minute
	}
	if c.Events.Source == "" {
		c.Events.Source = "canon.indexer"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
	if c.Logging.Format == "" {
		c.Logging.Format = "json"
	}
	if c.Tracing.SampleRate <= 0 {
		c.Tracing.SampleRate = 1.0
	}
	if c.Tracing.Environment == "" {
		c.Tracing.Environment = "production"
	}
}

// Validate checks the settings both commands need. Command-specific settings
// (queue url for the worker, jwt secret for the gateway) are checked where
// they are used.
func (c *Config) Validate() error {
	if c.Reasoning.APIKey == "" {
		return errors.New("reasoning.api_key is required")
	}
	return nil
}
