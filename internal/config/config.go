// Package config loads the qualityfix configuration file.
package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/agleyzer/qualityfix/internal/cluster"
)

// Config is the full application configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Rewrite  RewriteConfig  `yaml:"rewrite"`
	Badge    BadgeConfig    `yaml:"badge"`
	Log      LogConfig      `yaml:"log"`
	Cluster  ClusterConfig  `yaml:"cluster"`
}

// ServerConfig configures the HTTP listener.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// UpstreamConfig configures the manifest host.
type UpstreamConfig struct {
	URL string `yaml:"url"`
	// ManifestHost is the host whose manifests are rewritten. Defaults to the host of URL.
	ManifestHost     string        `yaml:"manifest_host"`
	Timeout          time.Duration `yaml:"timeout"`
	MaxManifestBytes int64         `yaml:"max_manifest_bytes"`
}

// RewriteConfig controls manifest rewriting.
type RewriteConfig struct {
	ForceHighestQuality bool `yaml:"force_highest_quality"`
	Verify              bool `yaml:"verify"`
}

// BadgeConfig controls the quality indicator.
type BadgeConfig struct {
	Enabled   bool          `yaml:"enabled"`
	ShowDelay time.Duration `yaml:"show_delay"`
	HideAfter time.Duration `yaml:"hide_after"`
}

// LogConfig controls application logging.
type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

// ClusterConfig turns on selection replication between instances.
type ClusterConfig struct {
	Enabled        bool `yaml:"enabled"`
	cluster.Config `yaml:",inline"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Server: ServerConfig{Port: 8080},
		Upstream: UpstreamConfig{
			URL:              "https://video.twimg.com",
			Timeout:          30 * time.Second,
			MaxManifestBytes: 4 << 20,
		},
		Rewrite: RewriteConfig{ForceHighestQuality: true},
		Badge: BadgeConfig{
			Enabled:   true,
			ShowDelay: 1 * time.Second,
			HideAfter: 5 * time.Second,
		},
		Log: LogConfig{Level: "info", Format: "text"},
	}
}

// Load reads path over the defaults. An empty path returns the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}

	return cfg, nil
}

// Validate reports every problem at once and derives the manifest host.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port must be between 1 and 65535, got %d", c.Server.Port))
	}

	u, err := url.Parse(c.Upstream.URL)
	switch {
	case err != nil:
		errs = append(errs, fmt.Errorf("upstream.url: %w", err))
	case u.Scheme != "https" && u.Scheme != "http":
		errs = append(errs, fmt.Errorf("upstream.url must be http or https, got %q", c.Upstream.URL))
	case u.Host == "":
		errs = append(errs, fmt.Errorf("upstream.url has no host: %q", c.Upstream.URL))
	default:
		if c.Upstream.ManifestHost == "" {
			c.Upstream.ManifestHost = u.Host
		}
	}

	if c.Upstream.Timeout <= 0 {
		errs = append(errs, fmt.Errorf("upstream.timeout must be positive"))
	}
	if c.Upstream.MaxManifestBytes <= 0 {
		errs = append(errs, fmt.Errorf("upstream.max_manifest_bytes must be positive"))
	}

	if c.Badge.ShowDelay < 0 || c.Badge.HideAfter < 0 {
		errs = append(errs, fmt.Errorf("badge delays must not be negative"))
	}

	if _, err := ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, err)
	}
	if c.Log.Format != "text" && c.Log.Format != "json" {
		errs = append(errs, fmt.Errorf("log.format must be text or json, got %q", c.Log.Format))
	}

	if c.Cluster.Enabled {
		if err := c.Cluster.Config.Validate(); err != nil {
			errs = append(errs, fmt.Errorf("cluster: %w", err))
		}
	}

	return errors.Join(errs...)
}

// ParseLevel maps a level name to a slog level.
func ParseLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info", "":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return 0, fmt.Errorf("invalid log level %q", level)
	}
}
