// Package config loads the askdb configuration from TOML, with sensible
// defaults when no file is present.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
)

type Config struct {
	Server   ServerConfig   `toml:"server"`
	Database DatabaseConfig `toml:"database"`
	Executor ExecutorConfig `toml:"executor"`
	Session  SessionConfig  `toml:"session"`
	LLM      LLMConfig      `toml:"llm"`
	Host     HostConfig     `toml:"host"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

type DatabaseConfig struct {
	Path      string `toml:"path"`
	AuditPath string `toml:"audit_path"`
}

type ExecutorConfig struct {
	ReadOnly bool `toml:"read_only"`
}

type SessionConfig struct {
	IdleTimeoutSec       int `toml:"idle_timeout_sec"`
	HeartbeatIntervalSec int `toml:"heartbeat_interval_sec"`
}

type LLMConfig struct {
	DeepSeekAPIKey string `toml:"deepseek_api_key"`
	OpenAIAPIKey   string `toml:"openai_api_key"`
	GroqAPIKey     string `toml:"groq_api_key"`
	OpenRouterKey  string `toml:"openrouter_api_key"`
	CustomBaseURL  string `toml:"custom_base_url"`
	CustomAPIKey   string `toml:"custom_api_key"`
	Model          string `toml:"model"`
}

type HostConfig struct {
	ServerURL          string `toml:"server_url"`
	MaxRounds          int    `toml:"max_rounds"`
	RequestTimeoutSec  int    `toml:"request_timeout_sec"`
	TranslationRetries int    `toml:"translation_retries"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8100",
		},
		Database: DatabaseConfig{
			Path:      "data/askdb.db",
			AuditPath: "data/audit.db",
		},
		Session: SessionConfig{
			IdleTimeoutSec:       60,
			HeartbeatIntervalSec: 15,
		},
		LLM: LLMConfig{
			Model: "deepseek-chat",
		},
		Host: HostConfig{
			ServerURL:          "http://127.0.0.1:8100",
			MaxRounds:          5,
			RequestTimeoutSec:  30,
			TranslationRetries: 3,
		},
	}
}

func Load(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil
		}
		return nil, fmt.Errorf("reading config: %w", err)
	}
	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config: %w", err)
	}
	return cfg, nil
}

// IdleTimeout returns the session idle timeout as a duration.
func (c *SessionConfig) IdleTimeout() time.Duration {
	return time.Duration(c.IdleTimeoutSec) * time.Second
}

// HeartbeatInterval returns the heartbeat period as a duration.
func (c *SessionConfig) HeartbeatInterval() time.Duration {
	return time.Duration(c.HeartbeatIntervalSec) * time.Second
}

// RequestTimeout returns the per-invocation round-trip timeout.
func (c *HostConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutSec) * time.Second
}
