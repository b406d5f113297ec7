package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the optional YAML configuration file. Command-line flags win over
// the file, and environment variables win over both defaults and the file.
type Config struct {
	DB         string `yaml:"db"`
	KeyPrefix  string `yaml:"key_prefix"`
	Codec      string `yaml:"codec"`
	JournalDir string `yaml:"journal_dir"`
	LogLevel   string `yaml:"log_level"`
	Verbose    bool   `yaml:"verbose"`

	Auth     AuthConfig     `yaml:"auth"`
	Storage  StorageConfig  `yaml:"storage"`
	Realtime RealtimeConfig `yaml:"realtime"`
}

type AuthConfig struct {
	RedirectTo  string        `yaml:"redirect_to"`
	TokenSecret string        `yaml:"token_secret"`
	TokenTTL    time.Duration `yaml:"token_ttl"`
}

type StorageConfig struct {
	PublicURL string `yaml:"public_url"`
}

type RealtimeConfig struct {
	Disabled bool `yaml:"disabled"`
}

func DefaultConfig() *Config {
	return &Config{
		DB:       "localbase.db",
		Codec:    "json",
		LogLevel: "info",
		Auth: AuthConfig{
			RedirectTo: "/",
			TokenTTL:   time.Hour,
		},
	}
}

// LoadConfig reads path, returning defaults if it does not exist.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err == nil {
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
			}
		}
	}
	if err := cfg.applyEnvOverrides(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnvOverrides() error {
	if v := os.Getenv("LOCALBASE_DB"); v != "" {
		c.DB = v
	}
	if v := os.Getenv("LOCALBASE_CODEC"); v != "" {
		c.Codec = v
	}
	if v := os.Getenv("LOCALBASE_PREFIX"); v != "" {
		c.KeyPrefix = v
	}
	if v := os.Getenv("LOCALBASE_VERBOSE"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LOCALBASE_VERBOSE: %w", err)
		}
		c.Verbose = b
	}
	if v := os.Getenv("LOCALBASE_JOURNAL_DIR"); v != "" {
		c.JournalDir = v
	}
	if v := os.Getenv("LOCALBASE_LOG_LEVEL"); v != "" {
		c.LogLevel = v
	}
	if v := os.Getenv("LOCALBASE_TOKEN_SECRET"); v != "" {
		c.Auth.TokenSecret = v
	}
	if v := os.Getenv("LOCALBASE_REALTIME_DISABLED"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("LOCALBASE_REALTIME_DISABLED: %w", err)
		}
		c.Realtime.Disabled = b
	}
	return nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}
