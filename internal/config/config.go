// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/EktaOryggitech/DPDP-Compliance-Toolkit-sub000/internal/scan"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig          `mapstructure:"server"`
	DB       DBConfig              `mapstructure:"db"`
	PubSub   PubSubConfig          `mapstructure:"pubsub"`
	Browser  BrowserConfig         `mapstructure:"browser"`
	Crawler  CrawlerConfig         `mapstructure:"crawler"`
	Evidence EvidenceConfig        `mapstructure:"evidence"`
	Worker   WorkerConfig          `mapstructure:"worker"`
	Logging  LoggingConfig         `mapstructure:"logging"`
	Tiers    map[string]TierConfig `mapstructure:"tiers"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// PubSubConfig holds metadata for the progress relay broker. With an empty
// project the in-memory broker is used instead.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicID   string `mapstructure:"topic_id"`
	SubID     string `mapstructure:"subscription_id"`
}

// BrowserConfig configures the headless browser driver.
type BrowserConfig struct {
	UserAgent         string `mapstructure:"user_agent"`
	NavTimeoutSec     int    `mapstructure:"nav_timeout_seconds"`
	SettleMs          int    `mapstructure:"settle_ms"`
	Headless          bool   `mapstructure:"headless"`
	LoopbackHostAlias string `mapstructure:"loopback_host_alias"`
}

// CrawlerConfig governs discovery engine behavior.
type CrawlerConfig struct {
	DomainQPS         float64 `mapstructure:"domain_qps"`
	MenuExpandRounds  int     `mapstructure:"menu_expand_rounds"`
	EstimatorMaxPages int     `mapstructure:"estimator_max_pages"`
}

// EvidenceConfig configures post-scan screenshot capture.
type EvidenceConfig struct {
	Enabled       bool   `mapstructure:"enabled"`
	MaxConcurrent int    `mapstructure:"max_concurrent"`
	GCSBucket     string `mapstructure:"gcs_bucket"`
	Prefix        string `mapstructure:"prefix"`
}

// WorkerConfig sizes the scan worker pool.
type WorkerConfig struct {
	MaxConcurrentScans int `mapstructure:"max_concurrent_scans"`
	QueueDepth         int `mapstructure:"queue_depth"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// TierConfig resolves a scan type into crawl and detection budgets.
type TierConfig struct {
	MaxPages       int  `mapstructure:"max_pages"`
	TimeoutMinutes int  `mapstructure:"timeout_minutes"`
	CoreChecksOnly bool `mapstructure:"core_checks_only"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SCANNER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.port", 8080)
	v.SetDefault("browser.user_agent", "DPDP-Compliance-Scanner/1.0")
	v.SetDefault("browser.nav_timeout_seconds", 45)
	v.SetDefault("browser.settle_ms", 500)
	v.SetDefault("browser.headless", true)
	v.SetDefault("browser.loopback_host_alias", "")
	v.SetDefault("crawler.domain_qps", 2.0)
	v.SetDefault("crawler.menu_expand_rounds", 3)
	v.SetDefault("crawler.estimator_max_pages", 200)
	v.SetDefault("evidence.enabled", false)
	v.SetDefault("evidence.max_concurrent", 3)
	v.SetDefault("evidence.prefix", "evidence")
	v.SetDefault("worker.max_concurrent_scans", 2)
	v.SetDefault("worker.queue_depth", 64)
	v.SetDefault("logging.development", true)
	v.SetDefault("tiers.quick.max_pages", 10)
	v.SetDefault("tiers.quick.timeout_minutes", 10)
	v.SetDefault("tiers.quick.core_checks_only", true)
	v.SetDefault("tiers.standard.max_pages", 50)
	v.SetDefault("tiers.standard.timeout_minutes", 30)
	v.SetDefault("tiers.deep.max_pages", 200)
	v.SetDefault("tiers.deep.timeout_minutes", 120)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Worker.MaxConcurrentScans <= 0 {
		return fmt.Errorf("worker.max_concurrent_scans must be > 0")
	}
	if c.Browser.NavTimeoutSec <= 0 {
		return fmt.Errorf("browser.nav_timeout_seconds must be > 0")
	}
	if c.Evidence.Enabled && c.Evidence.GCSBucket == "" {
		return fmt.Errorf("evidence.gcs_bucket must be set when evidence capture is enabled")
	}
	for name, tier := range c.Tiers {
		if tier.MaxPages <= 0 {
			return fmt.Errorf("tiers.%s.max_pages must be > 0", name)
		}
	}
	return nil
}

// Tier resolves the budget for a scan type, falling back to standard.
func (c Config) Tier(t scan.Type) TierConfig {
	if tier, ok := c.Tiers[string(t)]; ok {
		return tier
	}
	if tier, ok := c.Tiers[string(scan.TypeStandard)]; ok {
		return tier
	}
	return TierConfig{MaxPages: 50, TimeoutMinutes: 30}
}

// NavTimeout converts the configured navigation timeout into a duration.
func (c BrowserConfig) NavTimeout() time.Duration {
	return time.Duration(c.NavTimeoutSec) * time.Second
}

// Settle converts the configured settle grace delay into a duration.
func (c BrowserConfig) Settle() time.Duration {
	return time.Duration(c.SettleMs) * time.Millisecond
}
