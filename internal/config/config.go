// Package config provides YAML-based configuration loading for Darkroom.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level Darkroom configuration, loaded from darkroom.yaml.
// ${VAR} references anywhere in the file are expanded from the environment
// before parsing.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Tasks    TasksConfig    `yaml:"tasks"`
	Uploads  UploadsConfig  `yaml:"uploads"`
	Sync     SyncConfig     `yaml:"sync"`
	Notify   NotifyConfig   `yaml:"notify"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig selects and addresses the backing store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // sqlite or mysql
	Path     string `yaml:"path"`   // sqlite file
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// TasksConfig tunes the task store.
type TasksConfig struct {
	Timeout      time.Duration `yaml:"timeout"`
	MaxBatchSize int           `yaml:"max_batch_size"`
}

// UploadsConfig tunes the temporary upload cache.
type UploadsConfig struct {
	TTL           time.Duration `yaml:"ttl"`
	MaxBytes      int64         `yaml:"max_bytes"`
	SweepInterval time.Duration `yaml:"sweep_interval"`
}

// SyncConfig configures the document backend push. An empty Endpoint
// disables sync.
type SyncConfig struct {
	Endpoint     string   `yaml:"endpoint"`
	Token        string   `yaml:"token"`
	ClientID     string   `yaml:"client_id"`
	ClientSecret string   `yaml:"client_secret"`
	TokenURL     string   `yaml:"token_url"`
	Scopes       []string `yaml:"scopes"`
	RetryCron    string   `yaml:"retry_cron"`
	MaxRetries   int      `yaml:"max_retries"`
}

// Enabled reports whether a sync endpoint is configured.
func (s SyncConfig) Enabled() bool { return s.Endpoint != "" }

// NotifyConfig holds chat notification targets.
type NotifyConfig struct {
	Slack   ChatConfig `yaml:"slack"`
	Discord ChatConfig `yaml:"discord"`
}

// ChatConfig is a bot token and the channel to post to.
type ChatConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// Enabled reports whether both token and channel are set.
func (c ChatConfig) Enabled() bool { return c.BotToken != "" && c.ChannelID != "" }

// LogConfig configures the zap logger.
type LogConfig struct {
	Level       string `yaml:"level"`
	Development bool   `yaml:"development"`
}

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "darkroom.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			c.Database.Host = "127.0.0.1"
		}
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
		if c.Database.Name == "" {
			c.Database.Name = "darkroom"
		}
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Tasks.Timeout == 0 {
		c.Tasks.Timeout = 10 * time.Minute
	}
	if c.Tasks.MaxBatchSize == 0 {
		c.Tasks.MaxBatchSize = 5
	}
	if c.Uploads.TTL == 0 {
		c.Uploads.TTL = 30 * time.Minute
	}
	if c.Uploads.MaxBytes == 0 {
		c.Uploads.MaxBytes = 10 << 20
	}
	if c.Uploads.SweepInterval == 0 {
		c.Uploads.SweepInterval = time.Minute
	}
	if c.Sync.RetryCron == "" {
		c.Sync.RetryCron = "*/5 * * * *"
	}
	if c.Sync.MaxRetries == 0 {
		c.Sync.MaxRetries = 3
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	switch c.Database.Driver {
	case "sqlite", "mysql":
	default:
		errs = append(errs, fmt.Sprintf("database.driver %q must be sqlite or mysql", c.Database.Driver))
	}
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Sprintf("server.port %d out of range", c.Server.Port))
	}
	if c.Tasks.Timeout < 0 {
		errs = append(errs, "tasks.timeout must be positive")
	}
	if c.Tasks.MaxBatchSize < 0 {
		errs = append(errs, "tasks.max_batch_size must be positive")
	}
	if c.Uploads.MaxBytes < 0 {
		errs = append(errs, "uploads.max_bytes must be positive")
	}
	if c.Sync.Enabled() {
		if c.Sync.Token == "" && (c.Sync.ClientID == "" || c.Sync.TokenURL == "") {
			errs = append(errs, "sync requires token or client_id and token_url")
		}
	}
	if c.Sync.MaxRetries < 0 {
		errs = append(errs, "sync.max_retries must be positive")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q must be debug, info, warn or error", c.Log.Level))
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
