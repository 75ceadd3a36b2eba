package config

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config models paperline.yml.
type Config struct {
	Plugins struct {
		Root            string   `yaml:"root"`
		MaxArchiveBytes int64    `yaml:"max_archive_bytes"`
		APIVersions     []string `yaml:"api_versions"`
	} `yaml:"plugins"`
	Security struct {
		EncryptionKey string `yaml:"encryption_key"`
		CronSecret    string `yaml:"cron_secret"`
		JWTSecret     string `yaml:"jwt_secret"`
	} `yaml:"security"`
	Jobs struct {
		MaxAttempts      int `yaml:"max_attempts"`
		BatchSize        int `yaml:"batch_size"`
		StaleLockMinutes int `yaml:"stale_lock_minutes"`
		RetentionDays    int `yaml:"retention_days"`
	} `yaml:"jobs"`
	Webhooks []WebhookConfig `yaml:"webhooks"`
}

type WebhookConfig struct {
	URL            string   `yaml:"url"`
	Secret         string   `yaml:"secret"`
	Events         []string `yaml:"events"`
	Enabled        *bool    `yaml:"enabled"`
	TimeoutSeconds int      `yaml:"timeout_seconds"`
}

// Load reads and validates config from workspace.
func Load(workspace string) (*Config, error) {
	path := Path(workspace)
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config %s not found; create with pl config init", path)
		}
		return nil, err
	}
	return FromYAML(data)
}

// LoadOptional returns the default config if the file does not exist.
func LoadOptional(workspace string) (*Config, error) {
	data, err := os.ReadFile(Path(workspace))
	if err != nil {
		if os.IsNotExist(err) {
			return Default(), nil
		}
		return nil, err
	}
	return FromYAML(data)
}

// FromYAML parses and validates config from raw YAML bytes.
func FromYAML(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("invalid config yaml: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate ensures the config meets required structure.
func (c *Config) Validate() error {
	if c.Plugins.Root == "" {
		return fmt.Errorf("config.plugins.root is required")
	}
	if c.Plugins.MaxArchiveBytes <= 0 {
		return fmt.Errorf("config.plugins.max_archive_bytes must be positive")
	}
	if len(c.Plugins.APIVersions) == 0 {
		return fmt.Errorf("config.plugins.api_versions is required")
	}
	for _, v := range c.Plugins.APIVersions {
		if v == "" {
			return fmt.Errorf("config.plugins.api_versions contains empty version")
		}
	}
	if c.Security.EncryptionKey != "" {
		key, err := base64.StdEncoding.DecodeString(c.Security.EncryptionKey)
		if err != nil {
			return fmt.Errorf("config.security.encryption_key must be base64: %w", err)
		}
		if len(key) != 32 {
			return fmt.Errorf("config.security.encryption_key must decode to 32 bytes")
		}
	}
	if c.Jobs.MaxAttempts <= 0 {
		return fmt.Errorf("config.jobs.max_attempts must be positive")
	}
	if c.Jobs.BatchSize <= 0 {
		return fmt.Errorf("config.jobs.batch_size must be positive")
	}
	if c.Jobs.StaleLockMinutes <= 0 {
		return fmt.Errorf("config.jobs.stale_lock_minutes must be positive")
	}
	if c.Jobs.RetentionDays <= 0 {
		return fmt.Errorf("config.jobs.retention_days must be positive")
	}
	for i, hook := range c.Webhooks {
		if hook.URL == "" {
			return fmt.Errorf("webhook %d has empty url", i)
		}
	}
	return nil
}

// EncryptionKeyBytes returns the decoded master key, or nil when encryption
// is not configured. Validate has already checked shape.
func (c *Config) EncryptionKeyBytes() []byte {
	if c.Security.EncryptionKey == "" {
		return nil
	}
	key, err := base64.StdEncoding.DecodeString(c.Security.EncryptionKey)
	if err != nil {
		return nil
	}
	return key
}

// PluginsRoot resolves the plugins directory for a workspace.
func (c *Config) PluginsRoot(workspace string) string {
	root := c.Plugins.Root
	if filepath.IsAbs(root) {
		return root
	}
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, root)
}

// Path returns the config file path for a workspace.
func Path(workspace string) string {
	if workspace == "" {
		workspace = "."
	}
	return filepath.Join(workspace, "paperline.yml")
}

// GenerateDefault returns default config YAML.
func GenerateDefault() string {
	return defaultTemplate
}

// Default returns the default Config struct.
func Default() *Config {
	var cfg Config
	_ = yaml.NewDecoder(bytes.NewBufferString(defaultTemplate)).Decode(&cfg)
	return &cfg
}

const defaultTemplate = `plugins:
  root: plugins
  # 50 MiB ceiling for uploaded plugin archives
  max_archive_bytes: 52428800
  api_versions: ["1.0", "1.1"]

security:
  # base64-encoded 32-byte master key; empty disables encrypted data entries
  encryption_key: ""
  # shared secret for the cron trigger endpoint; empty rejects all triggers
  cron_secret: ""
  jwt_secret: ""

jobs:
  max_attempts: 3
  batch_size: 10
  stale_lock_minutes: 10
  retention_days: 30
`
