// Package config provides configuration management for BotForge.
//
// Values come from built-in defaults, then an optional YAML file, then
// environment variables.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the BotForge server.
type Config struct {
	// ServerAddr is the address the HTTP server listens on (e.g., ":7080").
	ServerAddr string `yaml:"server_addr"`

	// DataDir is the directory for persistent data (SQLite DB, etc.).
	DataDir string `yaml:"data_dir"`

	// DatabasePath is the full path to the SQLite database file.
	DatabasePath string `yaml:"database_path"`

	// LLM holds the generation provider settings.
	LLM LLMConfig `yaml:"llm"`

	// Build paces the scripted build and runtime simulation.
	Build BuildConfig `yaml:"build"`

	// GitHubToken enables exporting projects to GitHub.
	GitHubToken string `yaml:"github_token"`

	// Telegram front-end (optional, long polling).
	TelegramBotToken string `yaml:"telegram_bot_token"`

	// Slack front-end (optional, Socket Mode).
	// SlackBotToken is the Bot User OAuth Token (xoxb-...).
	SlackBotToken string `yaml:"slack_bot_token"`
	// SlackAppToken is the App-Level Token (xapp-...) required for Socket Mode.
	SlackAppToken string `yaml:"slack_app_token"`
}

// LLMConfig selects the generation provider.
type LLMConfig struct {
	// Provider is "anthropic", "openai", or "gemini". Empty picks the first
	// provider with an API key.
	Provider        string `yaml:"provider"`
	Model           string `yaml:"model"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`
	OpenAIAPIKey    string `yaml:"openai_api_key"`
	GeminiAPIKey    string `yaml:"gemini_api_key"`
}

// BuildConfig holds pacing in milliseconds and seconds.
type BuildConfig struct {
	BuildDelayMS   int `yaml:"build_delay_ms"`
	RunDelayMS     int `yaml:"run_delay_ms"`
	RuntimeSeconds int `yaml:"runtime_seconds"`
}

// BuildDelay returns the scripted build step duration.
func (b BuildConfig) BuildDelay() time.Duration {
	return time.Duration(b.BuildDelayMS) * time.Millisecond
}

// RunDelay returns the scripted run step duration.
func (b BuildConfig) RunDelay() time.Duration {
	return time.Duration(b.RunDelayMS) * time.Millisecond
}

// Default returns the built-in configuration.
func Default() *Config {
	dataDir := defaultDataDir()
	return &Config{
		ServerAddr:   ":7080",
		DataDir:      dataDir,
		DatabasePath: filepath.Join(dataDir, "botforge.db"),
		Build: BuildConfig{
			BuildDelayMS:   2000,
			RunDelayMS:     1500,
			RuntimeSeconds: 600,
		},
	}
}

// DefaultPath returns the default config file location.
func DefaultPath() string {
	return filepath.Join(defaultDataDir(), "config.yaml")
}

// Load builds a Config from defaults, the YAML file at path (a missing file
// is not an error), and environment variables. An empty path uses
// DefaultPath.
func Load(path string) (*Config, error) {
	if path == "" {
		path = envOr("BOTFORGE_CONFIG", DefaultPath())
	}

	cfg := Default()
	dbFromFile := false
	data, err := os.ReadFile(path)
	switch {
	case err == nil:
		fileCfg := &Config{}
		if err := yaml.Unmarshal(data, fileCfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
		dbFromFile = fileCfg.DatabasePath != ""
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config %s: %w", path, err)
		}
	case errors.Is(err, fs.ErrNotExist):
	default:
		return nil, fmt.Errorf("reading config: %w", err)
	}

	cfg.applyEnv()
	if !dbFromFile && os.Getenv("BOTFORGE_DATABASE_PATH") == "" {
		cfg.DatabasePath = filepath.Join(cfg.DataDir, "botforge.db")
	}

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	c.ServerAddr = envOr("BOTFORGE_ADDR", c.ServerAddr)
	c.DataDir = envOr("BOTFORGE_DATA_DIR", c.DataDir)
	c.DatabasePath = envOr("BOTFORGE_DATABASE_PATH", c.DatabasePath)

	c.LLM.Provider = envOr("BOTFORGE_LLM_PROVIDER", c.LLM.Provider)
	c.LLM.Model = envOr("BOTFORGE_LLM_MODEL", c.LLM.Model)
	c.LLM.AnthropicAPIKey = envOr("ANTHROPIC_API_KEY", c.LLM.AnthropicAPIKey)
	c.LLM.OpenAIAPIKey = envOr("OPENAI_API_KEY", c.LLM.OpenAIAPIKey)
	c.LLM.GeminiAPIKey = envOr("GEMINI_API_KEY", c.LLM.GeminiAPIKey)

	c.Build.BuildDelayMS = envOrInt("BOTFORGE_BUILD_DELAY_MS", c.Build.BuildDelayMS)
	c.Build.RunDelayMS = envOrInt("BOTFORGE_RUN_DELAY_MS", c.Build.RunDelayMS)
	c.Build.RuntimeSeconds = envOrInt("BOTFORGE_RUNTIME_SECONDS", c.Build.RuntimeSeconds)

	c.GitHubToken = envOr("GITHUB_TOKEN", c.GitHubToken)
	c.TelegramBotToken = envOr("TELEGRAM_BOT_TOKEN", c.TelegramBotToken)
	c.SlackBotToken = envOr("SLACK_BOT_TOKEN", c.SlackBotToken)
	c.SlackAppToken = envOr("SLACK_APP_TOKEN", c.SlackAppToken)
}

// Write saves cfg as YAML at path, creating the parent directory.
func Write(path string, cfg *Config) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("creating config directory: %w", err)
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	// The file may hold API keys.
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return fmt.Errorf("writing config: %w", err)
	}
	return nil
}

// Validate checks that required configuration is present.
func (c *Config) Validate() error {
	switch c.LLM.Provider {
	case "":
		if c.LLM.AnthropicAPIKey == "" && c.LLM.OpenAIAPIKey == "" && c.LLM.GeminiAPIKey == "" {
			return fmt.Errorf("one of ANTHROPIC_API_KEY, OPENAI_API_KEY or GEMINI_API_KEY is required")
		}
	case "anthropic":
		if c.LLM.AnthropicAPIKey == "" {
			return fmt.Errorf("ANTHROPIC_API_KEY is required for the anthropic provider")
		}
	case "openai":
		if c.LLM.OpenAIAPIKey == "" {
			return fmt.Errorf("OPENAI_API_KEY is required for the openai provider")
		}
	case "gemini":
		if c.LLM.GeminiAPIKey == "" {
			return fmt.Errorf("GEMINI_API_KEY is required for the gemini provider")
		}
	default:
		return fmt.Errorf("unknown LLM provider %q", c.LLM.Provider)
	}
	if c.Build.BuildDelayMS < 0 || c.Build.RunDelayMS < 0 || c.Build.RuntimeSeconds < 0 {
		return fmt.Errorf("build delays and runtime seconds must not be negative")
	}
	return nil
}

// SlackEnabled returns true if Slack Socket Mode is configured.
func (c *Config) SlackEnabled() bool {
	return c.SlackBotToken != "" && c.SlackAppToken != ""
}

// TelegramEnabled returns true if the Telegram bot is configured.
func (c *Config) TelegramEnabled() bool {
	return c.TelegramBotToken != ""
}

// ExportEnabled returns true if GitHub export is configured.
func (c *Config) ExportEnabled() bool {
	return c.GitHubToken != ""
}

func envOrInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func defaultDataDir() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".botforge"
	}
	return filepath.Join(home, ".botforge")
}
