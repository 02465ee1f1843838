package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Environment keys read at startup.
const (
	EnvSubdomain      = "ZENDESK_SUBDOMAIN"
	EnvEmail          = "ZENDESK_EMAIL"
	EnvAPIToken       = "ZENDESK_API_TOKEN"
	EnvLocale         = "ZENDESK_LOCALE"
	EnvBaseURL        = "ZENDESK_BASE_URL"
	EnvOutputRoot     = "KB_OUTPUT_ROOT"
	EnvManifest       = "KB_MANIFEST"
	EnvManifestFormat = "KB_MANIFEST_FORMAT"
	EnvMetricsAddr    = "KB_METRICS_ADDR"
	EnvTimeout        = "KB_TIMEOUT"
	EnvMarkdown       = "KB_MARKDOWN"
	EnvVerbose        = "KB_VERBOSE"
	EnvCollisionCache = "KB_COLLISION_CACHE_SIZE"
)

// LoadDotEnv loads the given .env files into the process environment without
// overriding variables that are already set. A missing file is not an error.
func LoadDotEnv(filenames ...string) error {
	if len(filenames) == 0 {
		filenames = []string{".env"}
	}
	for _, name := range filenames {
		if err := godotenv.Load(name); err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				continue
			}
			return fmt.Errorf("load %s: %w", name, err)
		}
	}
	return nil
}

// ApplyEnv overlays environment variables onto c.
func (c *Config) ApplyEnv() error {
	if v, ok := EnvString(EnvSubdomain); ok {
		c.Subdomain = v
	}
	if v, ok := EnvString(EnvEmail); ok {
		c.Email = v
	}
	if v, ok := EnvString(EnvAPIToken); ok {
		c.APIToken = v
	}
	if v, ok := EnvString(EnvLocale); ok {
		c.Locale = v
	}
	if v, ok := EnvString(EnvBaseURL); ok {
		c.BaseURL = v
	}
	if v, ok := EnvString(EnvOutputRoot); ok {
		c.OutputRoot = v
	}
	if v, ok := EnvString(EnvManifest); ok {
		c.ManifestFile = v
	}
	if v, ok := EnvString(EnvManifestFormat); ok {
		c.ManifestFormat = strings.ToLower(v)
	}
	if v, ok := EnvString(EnvMetricsAddr); ok {
		c.MetricsAddr = v
	}
	if v, ok, err := EnvDuration(EnvTimeout); err != nil {
		return err
	} else if ok {
		c.Timeout = v
	}
	if v, ok, err := EnvBool(EnvMarkdown); err != nil {
		return err
	} else if ok {
		c.Markdown = v
	}
	if v, ok, err := EnvInt(EnvCollisionCache); err != nil {
		return err
	} else if ok {
		c.CollisionCacheSize = v
	}
	if v, ok, err := EnvBool(EnvVerbose); err != nil {
		return err
	} else if ok {
		c.Verbose = v
	}
	return nil
}

// EnvString returns a trimmed, non-empty environment value.
func EnvString(key string) (string, bool) {
	value := strings.TrimSpace(os.Getenv(key))
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses an integer environment value.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return n, true, nil
}

// EnvBool parses a boolean environment value.
func EnvBool(key string) (bool, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, false, fmt.Errorf("%s: %w", key, err)
	}
	return b, true, nil
}

// EnvDuration parses a time.ParseDuration environment value.
func EnvDuration(key string) (time.Duration, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return d, true, nil
}
