package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	Server    ServerConfig    `json:"server"`
	Providers ProvidersConfig `json:"providers"`
	Context   ContextConfig   `json:"context"`
	Storage   StorageConfig   `json:"storage"`
	Tools     ToolsConfig     `json:"tools"`
	Log       LogConfig       `json:"log"`
}

type ServerConfig struct {
	Host string `json:"host" env:"CHATPILOT_SERVER_HOST"`
	Port int    `json:"port" env:"CHATPILOT_SERVER_PORT"`
}

type ProvidersConfig struct {
	Default string         `json:"default" env:"CHATPILOT_PROVIDERS_DEFAULT"`
	OpenAI  OpenAIConfig   `json:"openai"`
	Gemini  GeminiConfig   `json:"gemini"`
}

type OpenAIConfig struct {
	APIKey  string `json:"api_key" env:"CHATPILOT_PROVIDERS_OPENAI_API_KEY"`
	APIBase string `json:"api_base" env:"CHATPILOT_PROVIDERS_OPENAI_API_BASE"`
	Model   string `json:"model" env:"CHATPILOT_PROVIDERS_OPENAI_MODEL"`
}

type GeminiConfig struct {
	APIKey  string `json:"api_key" env:"CHATPILOT_PROVIDERS_GEMINI_API_KEY"`
	APIBase string `json:"api_base" env:"CHATPILOT_PROVIDERS_GEMINI_API_BASE"`
	Model   string `json:"model" env:"CHATPILOT_PROVIDERS_GEMINI_MODEL"`
}

// ContextConfig bounds how much history is sent verbatim and when rolling
// summarization kicks in. The trigger threshold is MaxMessages+Overlap;
// after a summarization pass only MaxMessages entries are retained.
type ContextConfig struct {
	MaxMessages     int `json:"max_messages" env:"CHATPILOT_CONTEXT_MAX_MESSAGES"`
	Overlap         int `json:"overlap" env:"CHATPILOT_CONTEXT_OVERLAP"`
	CacheTTLSeconds int `json:"cache_ttl_seconds" env:"CHATPILOT_CONTEXT_CACHE_TTL_SECONDS"`
}

type StorageConfig struct {
	DataDir string `json:"data_dir" env:"CHATPILOT_STORAGE_DATA_DIR"`
}

type BraveConfig struct {
	Enabled    bool   `json:"enabled" env:"CHATPILOT_TOOLS_WEB_BRAVE_ENABLED"`
	APIKey     string `json:"api_key" env:"CHATPILOT_TOOLS_WEB_BRAVE_API_KEY"`
	MaxResults int    `json:"max_results" env:"CHATPILOT_TOOLS_WEB_BRAVE_MAX_RESULTS"`
}

type DuckDuckGoConfig struct {
	Enabled    bool `json:"enabled" env:"CHATPILOT_TOOLS_WEB_DUCKDUCKGO_ENABLED"`
	MaxResults int  `json:"max_results" env:"CHATPILOT_TOOLS_WEB_DUCKDUCKGO_MAX_RESULTS"`
}

type WebToolsConfig struct {
	Brave      BraveConfig      `json:"brave"`
	DuckDuckGo DuckDuckGoConfig `json:"duckduckgo"`
}

type ToolsConfig struct {
	Web WebToolsConfig `json:"web"`
}

type LogConfig struct {
	Level string `json:"level" env:"CHATPILOT_LOG_LEVEL"`
}

func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Host: "0.0.0.0",
			Port: 18650,
		},
		Providers: ProvidersConfig{
			Default: "openai",
			OpenAI: OpenAIConfig{
				APIBase: "https://api.openai.com/v1",
				Model:   "gpt-4o-mini",
			},
			Gemini: GeminiConfig{
				APIBase: "https://generativelanguage.googleapis.com/v1beta",
				Model:   "gemini-2.5-flash",
			},
		},
		Context: ContextConfig{
			MaxMessages:     10,
			Overlap:         5,
			CacheTTLSeconds: 600,
		},
		Storage: StorageConfig{
			DataDir: "~/.chatpilot",
		},
		Tools: ToolsConfig{
			Web: WebToolsConfig{
				Brave: BraveConfig{
					Enabled:    false,
					MaxResults: 5,
				},
				DuckDuckGo: DuckDuckGoConfig{
					Enabled:    true,
					MaxResults: 5,
				},
			},
		},
		Log: LogConfig{
			Level: "info",
		},
	}
}

// LoadConfig reads the JSON config at path (a missing file means defaults)
// and applies environment variable overrides on top.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, err
		}
	} else if err := json.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}

	if err := env.Parse(cfg); err != nil {
		return nil, err
	}

	return cfg, cfg.validate()
}

func SaveConfig(path string, cfg *Config) error {
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}
	return os.WriteFile(path, data, 0600)
}

func (c *Config) validate() error {
	if c.Context.MaxMessages < 1 {
		return fmt.Errorf("context.max_messages must be at least 1, got %d", c.Context.MaxMessages)
	}
	if c.Context.Overlap < 0 {
		return fmt.Errorf("context.overlap must not be negative, got %d", c.Context.Overlap)
	}
	if c.Context.CacheTTLSeconds < 1 {
		return fmt.Errorf("context.cache_ttl_seconds must be at least 1, got %d", c.Context.CacheTTLSeconds)
	}
	return nil
}

// DataDir returns the storage directory with ~ expanded.
func (c *Config) DataDir() string {
	return expandHome(c.Storage.DataDir)
}

func expandHome(path string) string {
	if path == "" {
		return path
	}
	if path[0] == '~' {
		home, _ := os.UserHomeDir()
		if len(path) > 1 && path[1] == '/' {
			return home + path[1:]
		}
		return home
	}
	return path
}

// LogLevel returns the normalized configured level name.
func (c *Config) LogLevel() string {
	return strings.ToLower(strings.TrimSpace(c.Log.Level))
}
