package config

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
)

// Config is the top-level configuration structure.
type Config struct {
	Server           ServerConfig     `json:"server"`
	Providers        []ProviderConfig `json:"providers"`
	Alerting         AlertingConfig   `json:"alerting"`
	Database         DatabaseConfig   `json:"database"`
	Executor         ExecutorConfig   `json:"executor"`
	Agents           AgentDefaults    `json:"agents"`
	ConstitutionHash string           `json:"constitution_hash"`
}

type ServerConfig struct {
	Port     int    `json:"port"`
	LogLevel string `json:"log_level"`
}

type ProviderConfig struct {
	ID       string `json:"id"`
	Type     string `json:"type"`
	Name     string `json:"name"`
	Endpoint string `json:"endpoint"`
	APIKey   string `json:"api_key"`
	Model    string `json:"model"`
}

type AlertingConfig struct {
	Slack   SlackAlertConfig   `json:"slack"`
	Discord DiscordAlertConfig `json:"discord"`
}

type SlackAlertConfig struct {
	Enabled   bool   `json:"enabled"`
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
}

type DiscordAlertConfig struct {
	Enabled   bool   `json:"enabled"`
	BotToken  string `json:"bot_token"`
	ChannelID string `json:"channel_id"`
}

type DatabaseConfig struct {
	Postgres PostgresConfig `json:"postgres"`
	Redis    RedisConfig    `json:"redis"`
}

type PostgresConfig struct {
	DSN string `json:"dsn"`
}

type RedisConfig struct {
	URL string `json:"url"`
}

// ExecutorConfig tunes the safety pipeline ceilings. Zero values fall
// back to the built-in defaults.
type ExecutorConfig struct {
	MemoryCeilingMB   int     `json:"memory_ceiling_mb"`
	CPUCeilingPercent float64 `json:"cpu_ceiling_percent"`
	BreakerThreshold  int     `json:"breaker_threshold"`
	BreakerCooldownS  int     `json:"breaker_cooldown_seconds"`
}

// AgentDefaults applies to agents created without explicit limits.
type AgentDefaults struct {
	MaxMemoryMB        int     `json:"max_memory_mb"`
	MaxCPUPercent      float64 `json:"max_cpu_percent"`
	MaxConcurrentTasks int     `json:"max_concurrent_tasks"`
	QueueCapacity      int     `json:"queue_capacity"`
}

// envVarRe matches ${VAR} and ${VAR:default} patterns.
var envVarRe = regexp.MustCompile(`\$\{(\w+)(?::([^}]*))?\}`)

// Load reads a JSON config file and substitutes environment variable references.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	// Substitute ${VAR} and ${VAR:default} with environment values.
	resolved := envVarRe.ReplaceAllStringFunc(string(data), func(match string) string {
		parts := envVarRe.FindStringSubmatch(match)
		name := parts[1]
		defaultVal := parts[2]
		if v := os.Getenv(name); v != "" {
			return v
		}
		return defaultVal
	})

	var cfg Config
	if err := json.Unmarshal([]byte(resolved), &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}
