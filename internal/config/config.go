package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config is the top-level service configuration, loaded from YAML with
// environment overrides (DRAWBRIDGE_* variables take precedence).
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Database DatabaseConfig `mapstructure:"database"`
	Redis    RedisConfig    `mapstructure:"redis"`
	Auth     AuthConfig     `mapstructure:"auth"`
	LLM      LLMConfig      `mapstructure:"llm"`
	Agent    AgentConfig    `mapstructure:"agent"`
	Tools    ToolsConfig    `mapstructure:"tools"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

type ServerConfig struct {
	Host           string        `mapstructure:"host"`
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	MetricsPort    int           `mapstructure:"metrics_port"`
}

type DatabaseConfig struct {
	Driver          string        `mapstructure:"driver"` // "sqlite3" or "postgres"
	DSN             string        `mapstructure:"dsn"`
	MaxConnections  int           `mapstructure:"max_connections"`
	IdleConnections int           `mapstructure:"idle_connections"`
	MaxLifetime     time.Duration `mapstructure:"max_lifetime"`
}

type RedisConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	URL     string `mapstructure:"url"`
}

type AuthConfig struct {
	JWTSecret    string        `mapstructure:"jwt_secret"`
	AccessExpiry time.Duration `mapstructure:"access_expiry"`
}

type LLMConfig struct {
	APIKey      string        `mapstructure:"api_key"`
	BaseURL     string        `mapstructure:"base_url"`
	Model       string        `mapstructure:"model"`
	MaxAttempts int           `mapstructure:"max_attempts"`
	Timeout     time.Duration `mapstructure:"timeout"`
}

type AgentConfig struct {
	MaxIterations  int    `mapstructure:"max_iterations"`
	ContextWindow  int    `mapstructure:"context_window"`
	MaxInputLength int    `mapstructure:"max_input_length"`
	PromptsPath    string `mapstructure:"prompts_path"`
}

type ToolsConfig struct {
	Search  SearchToolConfig  `mapstructure:"search"`
	Mermaid MermaidToolConfig `mapstructure:"mermaid"`
}

type SearchToolConfig struct {
	Endpoint   string        `mapstructure:"endpoint"`
	APIKey     string        `mapstructure:"api_key"`
	MaxResults int           `mapstructure:"max_results"`
	Timeout    time.Duration `mapstructure:"timeout"`
}

type MermaidToolConfig struct {
	Command string        `mapstructure:"command"`
	Timeout time.Duration `mapstructure:"timeout"`
}

type LoggingConfig struct {
	Level  string `mapstructure:"level"`
	Format string `mapstructure:"format"`
}

// Load reads configuration from CONFIG_PATH (default config/drawbridge.yaml).
// A missing file is not an error; defaults plus env overrides still apply.
func Load() (*Config, error) {
	cfgPath := os.Getenv("CONFIG_PATH")
	if cfgPath == "" {
		cfgPath = "config/drawbridge.yaml"
	}

	v := viper.New()
	v.SetConfigFile(cfgPath)
	v.SetEnvPrefix("DRAWBRIDGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	setDefaults(v)

	if _, err := os.Stat(cfgPath); err == nil {
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.request_timeout", 120*time.Second)
	v.SetDefault("server.metrics_port", 2112)

	v.SetDefault("database.driver", "sqlite3")
	v.SetDefault("database.dsn", "drawbridge.db")
	v.SetDefault("database.max_connections", 25)
	v.SetDefault("database.idle_connections", 5)
	v.SetDefault("database.max_lifetime", 5*time.Minute)

	v.SetDefault("redis.enabled", false)
	v.SetDefault("redis.url", "redis://localhost:6379")

	v.SetDefault("auth.access_expiry", 24*time.Hour)

	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.max_attempts", 3)
	v.SetDefault("llm.timeout", 60*time.Second)

	v.SetDefault("agent.max_iterations", 5)
	v.SetDefault("agent.context_window", 10)
	v.SetDefault("agent.max_input_length", 8000)
	v.SetDefault("agent.prompts_path", "config/prompts.yaml")

	v.SetDefault("tools.search.endpoint", "https://api.tavily.com/search")
	v.SetDefault("tools.search.max_results", 2)
	v.SetDefault("tools.search.timeout", 20*time.Second)

	v.SetDefault("tools.mermaid.command", "mmdc")
	v.SetDefault("tools.mermaid.timeout", 15*time.Second)

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
}

// Validate checks settings that have no usable zero value.
func (c *Config) Validate() error {
	if c.Auth.JWTSecret == "" {
		return fmt.Errorf("auth.jwt_secret is required (set DRAWBRIDGE_AUTH_JWT_SECRET)")
	}
	if c.Agent.MaxIterations <= 0 {
		return fmt.Errorf("agent.max_iterations must be positive, got %d", c.Agent.MaxIterations)
	}
	if c.Agent.ContextWindow <= 0 {
		return fmt.Errorf("agent.context_window must be positive, got %d", c.Agent.ContextWindow)
	}
	if c.Agent.MaxInputLength <= 0 {
		return fmt.Errorf("agent.max_input_length must be positive, got %d", c.Agent.MaxInputLength)
	}
	switch c.Database.Driver {
	case "sqlite3", "postgres":
	default:
		return fmt.Errorf("unsupported database driver %q", c.Database.Driver)
	}
	return nil
}
