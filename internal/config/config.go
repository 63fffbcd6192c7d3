package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// FileEnv names the optional YAML file loaded before the environment.
const FileEnv = "CWBATCH_CONFIG"

type Config struct {
	Port        int     `yaml:"port"`
	LogLevel    string  `yaml:"log_level"`
	APIKey      string  `yaml:"api_key"`
	BaseURL     string  `yaml:"base_url"`
	Model       string  `yaml:"model"`
	MaxTokens   int     `yaml:"max_tokens"`
	ChunkSize   int     `yaml:"chunk_size"`
	RPS         float64 `yaml:"rps"`
	ContextMode string  `yaml:"context_mode"`
	OutputDir   string  `yaml:"output_dir"`
	StateDriver string  `yaml:"state_driver"`
	StatePath   string  `yaml:"state_path"`
	DatabaseURL string  `yaml:"database_url"`
	NatsURL     string  `yaml:"nats_url"`
	NatsToken   string  `yaml:"nats_token"`
	APIToken    string  `yaml:"api_token"`
}

func defaults() Config {
	return Config{
		Port:        8760,
		LogLevel:    "info",
		BaseURL:     "https://api.openai.com/v1",
		Model:       "gpt-4.1-2025-04-14",
		ChunkSize:   10000,
		RPS:         2,
		ContextMode: "through",
		OutputDir:   "cwbatch-out",
		StateDriver: "file",
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CWBATCH_CONFIG (if set), then environment variables.
func Load() (Config, error) {
	cfg := defaults()
	if path := os.Getenv(FileEnv); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	return Config{
		Port:        envInt("CWBATCH_PORT", cfg.Port),
		LogLevel:    envStr("LOG_LEVEL", cfg.LogLevel),
		APIKey:      envStr("OPENAI_API_KEY", cfg.APIKey),
		BaseURL:     envStr("OPENAI_BASE_URL", cfg.BaseURL),
		Model:       envStr("CWBATCH_MODEL", cfg.Model),
		MaxTokens:   envInt("CWBATCH_MAX_TOKENS", cfg.MaxTokens),
		ChunkSize:   envInt("CWBATCH_CHUNK_SIZE", cfg.ChunkSize),
		RPS:         envFloat("CWBATCH_RPS", cfg.RPS),
		ContextMode: envStr("CONTEXT_MODE", cfg.ContextMode),
		OutputDir:   envStr("CWBATCH_OUT_DIR", cfg.OutputDir),
		StateDriver: envStr("STATE_DRIVER", cfg.StateDriver),
		StatePath:   envStr("STATE_PATH", cfg.StatePath),
		DatabaseURL: envStr("DATABASE_URL", cfg.DatabaseURL),
		NatsURL:     envStr("NATS_URL", cfg.NatsURL),
		NatsToken:   envStr("NATS_TOKEN", cfg.NatsToken),
		APIToken:    envStr("CWBATCH_API_TOKEN", cfg.APIToken),
	}, nil
}

func envStr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}
