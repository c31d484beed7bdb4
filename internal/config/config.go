package config

import (
	"fmt"
	"time"
)

// Config is the top-level service configuration
type Config struct {
	// Server
	Server ServerConfig `json:"server" mapstructure:"server"`

	// Stream limits applied by the SSE adapter
	Stream StreamConfig `json:"stream" mapstructure:"stream"`

	// Submission retry policy for tool outputs
	Submission SubmissionConfig `json:"submission" mapstructure:"submission"`

	// Logging
	Logging LoggingConfig `json:"logging" mapstructure:"logging"`

	// Assistant config file path (local repository backend)
	AssistantConfigPath string `json:"assistant_config_path" mapstructure:"assistant_config_path"`

	// Data directory
	DataDir string `json:"data_dir" mapstructure:"data_dir"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host string `json:"host" mapstructure:"host"`
	Port int    `json:"port" mapstructure:"port"`
}

// StreamConfig holds streaming connection limits
type StreamConfig struct {
	HeartbeatInterval     time.Duration `json:"heartbeat_interval" mapstructure:"heartbeat_interval"`
	MaxConnectionDuration time.Duration `json:"max_connection_duration" mapstructure:"max_connection_duration"`
	MaxConnectionsPerIP   int           `json:"max_connections_per_ip" mapstructure:"max_connections_per_ip"`
	RetryInterval         time.Duration `json:"retry_interval" mapstructure:"retry_interval"`
}

// SubmissionConfig holds the tool output submission retry policy
type SubmissionConfig struct {
	Retries     int `json:"retries" mapstructure:"retries"`
	BaseBackoff int `json:"base_backoff" mapstructure:"base_backoff"` // seconds, exponential base
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level     string `json:"level" mapstructure:"level"`
	File      string `json:"file" mapstructure:"file"`
	Redaction bool   `json:"redaction" mapstructure:"redaction"`
}

// EngineAssistantConfig is the static configuration for one deployed
// assistant. Loaded once at process start and read-only afterwards.
type EngineAssistantConfig struct {
	AssistantID     string   `json:"assistant_id"`
	AssistantName   string   `json:"assistant_name"`
	InitialMessage  string   `json:"initial_message"`
	Instructions    string   `json:"instructions,omitempty"`
	Model           string   `json:"model,omitempty"`
	CodeInterpreter bool     `json:"code_interpreter"`
	FileSearch      bool     `json:"file_search"`
	FunctionNames   []string `json:"function_names,omitempty"`
	APIKey          string   `json:"-"`
}

// DefaultConfig returns the default service configuration
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 8000,
		},
		Stream: StreamConfig{
			HeartbeatInterval:     15 * time.Second,
			MaxConnectionDuration: 5 * time.Minute,
			MaxConnectionsPerIP:   5,
			RetryInterval:         5 * time.Second,
		},
		Submission: SubmissionConfig{
			Retries:     3,
			BaseBackoff: 2,
		},
		Logging: LoggingConfig{
			Level:     "info",
			Redaction: true,
		},
	}
}

// Validate checks the configuration for obvious mistakes
func (c *Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid server port: %d", c.Server.Port)
	}
	if c.Submission.Retries <= 0 {
		return fmt.Errorf("submission retries must be positive, got %d", c.Submission.Retries)
	}
	if c.Submission.BaseBackoff <= 0 {
		return fmt.Errorf("submission base backoff must be positive, got %d", c.Submission.BaseBackoff)
	}
	if c.Stream.MaxConnectionsPerIP <= 0 {
		return fmt.Errorf("max connections per ip must be positive, got %d", c.Stream.MaxConnectionsPerIP)
	}
	return nil
}
