package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
)

const (
	DefaultModel             = "claude-sonnet-4-5-20250929"
	DefaultTokenBudget       = 4096
	DefaultSamplingRate      = 5
	DefaultRetentionDays     = 30
	DefaultTokenCacheSize    = 50
	DefaultTokenCacheTTLMins = 5
)

type Config struct {
	Workspace string          `json:"workspace"`
	DBPath    string          `json:"dbPath,omitempty"`
	Debug     bool            `json:"debug"`
	Selection SelectionConfig `json:"selection"`
	Metrics   MetricsConfig   `json:"metrics"`
	Tokens    TokenConfig     `json:"tokens"`
}

type SelectionConfig struct {
	Model       string `json:"model"`
	TokenBudget int    `json:"tokenBudget"`
}

type MetricsConfig struct {
	SamplingRate  int `json:"samplingRate"`
	RetentionDays int `json:"retentionDays"`
}

type TokenConfig struct {
	CacheCapacity   int `json:"cacheCapacity"`
	CacheTTLMinutes int `json:"cacheTtlMinutes"`
}

func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()
	return &Config{
		Workspace: filepath.Join(home, ".memvault", "workspace"),
		Selection: SelectionConfig{
			Model:       DefaultModel,
			TokenBudget: DefaultTokenBudget,
		},
		Metrics: MetricsConfig{
			SamplingRate:  DefaultSamplingRate,
			RetentionDays: DefaultRetentionDays,
		},
		Tokens: TokenConfig{
			CacheCapacity:   DefaultTokenCacheSize,
			CacheTTLMinutes: DefaultTokenCacheTTLMins,
		},
	}
}

// DataPath derives the data file location from the workspace unless an
// explicit dbPath is configured.
func (c *Config) DataPath() string {
	if c.DBPath != "" {
		return c.DBPath
	}
	return filepath.Join(c.Workspace, "memvault.db")
}

func ConfigDir() string {
	home := os.Getenv("HOME")
	if home == "" {
		home, _ = os.UserHomeDir()
	}
	return filepath.Join(home, ".memvault")
}

func ConfigPath() string {
	return filepath.Join(ConfigDir(), "config.json")
}

func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(ConfigPath())
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("read config: %w", err)
		}
	} else {
		if err := json.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	// Environment variable overrides
	if p := os.Getenv("MEMVAULT_WORKSPACE"); p != "" {
		cfg.Workspace = p
	}
	if p := os.Getenv("MEMVAULT_DB_PATH"); p != "" {
		cfg.DBPath = p
	}
	if v := os.Getenv("MEMVAULT_DEBUG"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			cfg.Debug = parsed
		}
	}
	if m := os.Getenv("MEMVAULT_MODEL"); m != "" {
		cfg.Selection.Model = m
	}
	if v := os.Getenv("MEMVAULT_TOKEN_BUDGET"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.Selection.TokenBudget = parsed
		}
	}
	if v := os.Getenv("MEMVAULT_SAMPLING_RATE"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil && parsed > 0 {
			cfg.Metrics.SamplingRate = parsed
		}
	}

	return cfg, nil
}

func SaveConfig(cfg *Config) error {
	if err := os.MkdirAll(ConfigDir(), 0o755); err != nil {
		return fmt.Errorf("create config dir: %w", err)
	}
	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("encode config: %w", err)
	}
	if err := os.WriteFile(ConfigPath(), data, 0o644); err != nil {
		return fmt.Errorf("write config: %w", err)
	}
	return nil
}
