// internal/config/config.go
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type DatabaseConfig struct {
	Driver   string `yaml:"driver"`
	Filename string `yaml:"filename"`
}

type UpstreamConfig struct {
	BaseURL            string `yaml:"base_url"`
	PollTimeoutRaw     string `yaml:"poll_timeout"`
	RefreshIntervalRaw string `yaml:"refresh_interval"`

	// Parsed from the raw fields above.
	PollTimeout     time.Duration `yaml:"-"`
	RefreshInterval time.Duration `yaml:"-"`
	AuthToken       string        `yaml:"-"` // Loaded from environment
}

type PricingConfig struct {
	// Venue host used by the trainer fee carve-out.
	Host          string   `yaml:"host"`
	CarveOutHosts []string `yaml:"carve_out_hosts"`
	CarveOutFrom  string   `yaml:"carve_out_from"`
	CarveOutTo    string   `yaml:"carve_out_to"`
	ExcludedColor string   `yaml:"excluded_color"`
}

type Config struct {
	App struct {
		Name        string `yaml:"name"`
		Environment string `yaml:"environment"`
		Port        int    `yaml:"port"`
		BaseURL     string `yaml:"base_url"`
	} `yaml:"app"`

	Database DatabaseConfig `yaml:"database"`
	Upstream UpstreamConfig `yaml:"upstream"`
	Pricing  PricingConfig  `yaml:"pricing"`
}

// Load loads both .env and yaml configuration
func Load(configPath string) (*Config, error) {
	// Load .env file if it exists
	envPath := filepath.Join(filepath.Dir(configPath), ".env")
	if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("error loading .env file: %w", err)
	}

	// Read and parse YAML config
	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	// Load sensitive values from environment
	cfg.Upstream.AuthToken = os.Getenv("UPSTREAM_AUTH_TOKEN")

	cfg.Upstream.PollTimeout, err = parseDuration(cfg.Upstream.PollTimeoutRaw, "poll_timeout", 5*time.Second)
	if err != nil {
		return nil, err
	}
	cfg.Upstream.RefreshInterval, err = parseDuration(cfg.Upstream.RefreshIntervalRaw, "refresh_interval", 30*time.Second)
	if err != nil {
		return nil, err
	}

	// Validate configuration
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

func parseDuration(raw, name string, fallback time.Duration) (time.Duration, error) {
	if raw == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	return d, nil
}

func (c *Config) Validate() error {
	if c.App.Name == "" {
		return fmt.Errorf("app name is required")
	}
	if c.App.Port == 0 {
		return fmt.Errorf("app port is required")
	}
	if c.Database.Driver == "" {
		return fmt.Errorf("database driver is required")
	}
	if c.Database.Driver != "sqlite" {
		return fmt.Errorf("unsupported database driver: %s", c.Database.Driver)
	}
	if c.Database.Filename == "" {
		return fmt.Errorf("database filename is required for sqlite")
	}
	if c.Upstream.BaseURL == "" {
		return fmt.Errorf("upstream base URL is required")
	}
	if c.Upstream.RefreshInterval < 0 {
		return fmt.Errorf("refresh interval must not be negative")
	}
	for _, field := range []struct {
		name  string
		value string
	}{
		{"carve_out_from", c.Pricing.CarveOutFrom},
		{"carve_out_to", c.Pricing.CarveOutTo},
	} {
		if field.value == "" {
			continue
		}
		if _, err := time.Parse("2006-01-02", field.value); err != nil {
			return fmt.Errorf("invalid %s: %w", field.name, err)
		}
	}
	return nil
}

// CarveOutWindow parses the configured carve-out bounds. Zero times mean the
// bound is open.
func (c *Config) CarveOutWindow() (time.Time, time.Time) {
	var from, to time.Time
	if c.Pricing.CarveOutFrom != "" {
		from, _ = time.Parse("2006-01-02", c.Pricing.CarveOutFrom)
	}
	if c.Pricing.CarveOutTo != "" {
		to, _ = time.Parse("2006-01-02", c.Pricing.CarveOutTo)
	}
	return from, to
}
