package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const (
	defaultConfigRelPath = ".apichat/config.yaml"
	defaultStoreRelPath  = ".apichat/apichat.db"
)

// Agent modes.
const (
	AgentNaive = "naive"
	AgentReact = "react"
)

type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	APIKey      string        `yaml:"api_key"`
	BaseURL     string        `yaml:"base_url"`
	Model       string        `yaml:"model"`
	MaxTokens   int           `yaml:"max_tokens"`
	Temperature float64       `yaml:"temperature"`
	Timeout     time.Duration `yaml:"timeout"`
	RetryMax    int           `yaml:"retry_max"`
}

type TargetConfig struct {
	// Spec is a file path or http(s) URL of the OpenAPI document.
	Spec string `yaml:"spec"`
	// BaseURL of the described API. Empty means the document's first server.
	BaseURL string `yaml:"base_url"`
}

type AgentConfig struct {
	Mode       string `yaml:"mode"`
	MaxRetries int    `yaml:"max_retries"`
	MaxSteps   int    `yaml:"max_steps"`
}

type RelayConfig struct {
	Timeout time.Duration `yaml:"timeout"`
	// RateLimit is requests per second to the target API; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
}

type PromptConfig struct {
	TableFormat    string `yaml:"table_format"`
	SystemTemplate string `yaml:"system_template"`
	ReactTemplate  string `yaml:"react_template"`
	StartPrompt    string `yaml:"start_prompt"`
}

type SanitizeConfig struct {
	Headers     []string `yaml:"headers"`
	BodyFields  []string `yaml:"body_fields"`
	Replacement string   `yaml:"replacement"`
}

type StoreConfig struct {
	Path     string `yaml:"path"`
	Disabled bool   `yaml:"disabled"`
}

type ServerConfig struct {
	Host        string   `yaml:"host"`
	Port        int      `yaml:"port"`
	CORSOrigins []string `yaml:"cors_origins"`
}

type UIConfig struct {
	Markdown bool `yaml:"markdown"`
}

type LogConfig struct {
	Level string `yaml:"level"`
}

type Config struct {
	LLM      LLMConfig      `yaml:"llm"`
	Target   TargetConfig   `yaml:"target"`
	Agent    AgentConfig    `yaml:"agent"`
	Relay    RelayConfig    `yaml:"relay"`
	Prompt   PromptConfig   `yaml:"prompt"`
	Sanitize SanitizeConfig `yaml:"sanitize"`
	Store    StoreConfig    `yaml:"store"`
	Server   ServerConfig   `yaml:"server"`
	UI       UIConfig       `yaml:"ui"`
	Log      LogConfig      `yaml:"log"`
}

// Load loads YAML config, then applies env overrides.
func Load(configPath string) (*Config, error) {
	cfg := &Config{}

	if configPath == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("resolve home dir: %w", err)
		}
		configPath = filepath.Join(home, defaultConfigRelPath)
	}

	if data, err := os.ReadFile(configPath); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	} else if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("read config: %w", err)
	}

	applyEnvOverrides(cfg)
	cfg.SetDefaults()
	return cfg, nil
}

func (c *Config) SetDefaults() {
	if c.LLM.Provider == "" {
		c.LLM.Provider = "openai"
	}
	if c.LLM.BaseURL == "" {
		c.LLM.BaseURL = "https://api.openai.com/v1"
	}
	if c.LLM.Model == "" {
		c.LLM.Model = "gpt-3.5-turbo"
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 1024
	}
	if c.LLM.Timeout == 0 {
		c.LLM.Timeout = 120 * time.Second
	}
	if c.LLM.RetryMax == 0 {
		c.LLM.RetryMax = 3
	}
	if c.Agent.Mode == "" {
		c.Agent.Mode = AgentReact
	}
	if c.Agent.MaxRetries == 0 {
		c.Agent.MaxRetries = 3
	}
	if c.Agent.MaxSteps == 0 {
		c.Agent.MaxSteps = 10
	}
	if c.Relay.Timeout == 0 {
		c.Relay.Timeout = 30 * time.Second
	}
	if c.Relay.Burst == 0 {
		c.Relay.Burst = 1
	}
	if c.Prompt.TableFormat == "" {
		c.Prompt.TableFormat = "csv"
	}
	if len(c.Sanitize.Headers) == 0 {
		c.Sanitize.Headers = []string{"Authorization", "Cookie", "Set-Cookie", "X-Api-Key", "X-Auth-Token"}
	}
	if len(c.Sanitize.BodyFields) == 0 {
		c.Sanitize.BodyFields = []string{"password", "secret", "token", "api_key", "access_token", "refresh_token", "credential"}
	}
	if c.Sanitize.Replacement == "" {
		c.Sanitize.Replacement = "***REDACTED***"
	}
	if c.Store.Path == "" {
		if home, err := os.UserHomeDir(); err == nil {
			c.Store.Path = filepath.Join(home, defaultStoreRelPath)
		} else {
			c.Store.Path = "apichat.db"
		}
	}
	if c.Server.Host == "" {
		c.Server.Host = "127.0.0.1"
	}
	if c.Server.Port == 0 {
		c.Server.Port = 3000
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

func (c *Config) Validate() error {
	switch c.Agent.Mode {
	case AgentNaive, AgentReact:
	default:
		return fmt.Errorf("agent.mode %q is not supported", c.Agent.Mode)
	}
	switch c.Prompt.TableFormat {
	case "csv", "toon":
	default:
		return fmt.Errorf("prompt.table_format %q is not supported", c.Prompt.TableFormat)
	}
	if c.Agent.MaxRetries < 0 || c.Agent.MaxSteps < 1 {
		return errors.New("agent.max_retries must be >= 0 and agent.max_steps >= 1")
	}
	if c.Relay.RateLimit < 0 {
		return errors.New("relay.rate_limit cannot be negative")
	}
	return nil
}

// ValidateChat enforces chat-specific requirements.
func (c *Config) ValidateChat() error {
	if err := c.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(c.Target.Spec) == "" {
		return errors.New("target.spec cannot be empty")
	}
	if strings.TrimSpace(c.LLM.APIKey) == "" {
		return errors.New("llm.api_key cannot be empty")
	}
	return nil
}

func applyEnvOverrides(c *Config) {
	setString(&c.LLM.Provider, "APICHAT_LLM_PROVIDER")
	setString(&c.LLM.APIKey, "APICHAT_LLM_API_KEY")
	setString(&c.LLM.BaseURL, "APICHAT_LLM_BASE_URL")
	setString(&c.LLM.Model, "APICHAT_LLM_MODEL")
	setInt(&c.LLM.MaxTokens, "APICHAT_LLM_MAX_TOKENS")
	setFloat(&c.LLM.Temperature, "APICHAT_LLM_TEMPERATURE")
	setDuration(&c.LLM.Timeout, "APICHAT_LLM_TIMEOUT")
	setString(&c.Target.Spec, "APICHAT_TARGET_SPEC")
	setString(&c.Target.BaseURL, "APICHAT_TARGET_BASE_URL")
	setString(&c.Agent.Mode, "APICHAT_AGENT_MODE")
	setDuration(&c.Relay.Timeout, "APICHAT_RELAY_TIMEOUT")
	setFloat(&c.Relay.RateLimit, "APICHAT_RELAY_RATE_LIMIT")
	setString(&c.Store.Path, "APICHAT_STORE_PATH")
	setString(&c.Server.Host, "APICHAT_SERVER_HOST")
	setInt(&c.Server.Port, "APICHAT_SERVER_PORT")
	setString(&c.Log.Level, "APICHAT_LOG_LEVEL")
	if v, ok := os.LookupEnv("OPENAI_API_KEY"); ok && c.LLM.APIKey == "" {
		c.LLM.APIKey = v
	}
}

func setString(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok {
		*dst = v
	}
}

func setInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func setFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if n, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = n
		}
	}
}

func setDuration(dst *time.Duration, key string) {
	if v, ok := os.LookupEnv(key); ok {
		if d, err := time.ParseDuration(v); err == nil {
			*dst = d
		}
	}
}
