package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds backup configuration.
type Config struct {
	Subdomain string `yaml:"subdomain"`
	Email     string `yaml:"email"`
	APIToken  string `yaml:"api_token"`
	Locale    string `yaml:"locale"`
	// BaseURL overrides the help center API root derived from Subdomain.
	BaseURL string `yaml:"base_url"`

	OutputRoot     string `yaml:"output_root"`
	ManifestFile   string `yaml:"manifest_file"`
	ManifestFormat string `yaml:"manifest_format"` // csv, json, or dual

	Delay       time.Duration `yaml:"delay"`
	RandomDelay time.Duration `yaml:"random_delay"`
	Timeout     time.Duration `yaml:"timeout"` // zero waits forever
	UserAgent   string        `yaml:"user_agent"`

	SanitizeAttachmentNames bool `yaml:"sanitize_attachment_names"`
	ResolveCollisions       bool `yaml:"resolve_collisions"`
	CollisionCacheSize      int  `yaml:"collision_cache_size"`
	Markdown                bool `yaml:"markdown"`

	PipelineBufferSize int `yaml:"pipeline_buffer_size"`
	BatchSize          int `yaml:"batch_size"`

	MetricsAddr string `yaml:"metrics_addr"`
	Verbose     bool   `yaml:"verbose"`
}

// DefaultConfig returns defaults matching a plain full export.
func DefaultConfig() *Config {
	return &Config{
		Locale:                  "en-us",
		OutputRoot:              "KB_Backup",
		ManifestFile:            "KB_Backup/manifest.csv",
		ManifestFormat:          "csv",
		Delay:                   0,
		RandomDelay:             0,
		Timeout:                 0,
		UserAgent:               "kb-backup/1.0",
		SanitizeAttachmentNames: true,
		ResolveCollisions:       true,
		CollisionCacheSize:      10000,
		Markdown:                false,
		PipelineBufferSize:      256,
		BatchSize:               32,
	}
}

// HelpCenterURL returns the API root every upstream call is built from.
func (c *Config) HelpCenterURL() string {
	if c.BaseURL != "" {
		return strings.TrimSuffix(c.BaseURL, "/")
	}
	return fmt.Sprintf("https://%s.zendesk.com/api/v2/help_center", c.Subdomain)
}

// LoadFile overlays settings from a YAML file onto c.
func (c *Config) LoadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

// MissingCredentials lists the credential settings that are empty. They are
// reported, not rejected: upstream calls fail on their own without them.
func (c *Config) MissingCredentials() []string {
	var missing []string
	if c.Subdomain == "" && c.BaseURL == "" {
		missing = append(missing, EnvSubdomain)
	}
	if c.Email == "" {
		missing = append(missing, EnvEmail)
	}
	if c.APIToken == "" {
		missing = append(missing, EnvAPIToken)
	}
	if c.Locale == "" {
		missing = append(missing, EnvLocale)
	}
	return missing
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	parsedURL, err := url.Parse(c.HelpCenterURL())
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.OutputRoot == "" {
		return fmt.Errorf("output root cannot be empty")
	}
	if c.ManifestFile == "" {
		return fmt.Errorf("manifest file cannot be empty")
	}
	if c.ManifestFormat != "csv" && c.ManifestFormat != "json" && c.ManifestFormat != "dual" {
		return fmt.Errorf("manifest format must be csv, json, or dual")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.Timeout < 0 {
		return fmt.Errorf("timeout cannot be negative")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.ResolveCollisions && c.CollisionCacheSize <= 0 {
		return fmt.Errorf("collision cache size must be positive")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}

	return nil
}
