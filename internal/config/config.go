// Package config loads and validates scanner configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server   ServerConfig   `mapstructure:"server"`
	Auth     AuthConfig     `mapstructure:"auth"`
	Scanner  ScannerConfig  `mapstructure:"scanner"`
	Memory   MemoryConfig   `mapstructure:"memory"`
	Browser  BrowserConfig  `mapstructure:"browser"`
	Crawl    CrawlConfig    `mapstructure:"crawl"`
	Classify ClassifyConfig `mapstructure:"classify"`
	Cache    CacheConfig    `mapstructure:"cache"`
	Alert    AlertConfig    `mapstructure:"alert"`
	Storage  StorageConfig  `mapstructure:"storage"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// AuthConfig defines API authentication toggles.
type AuthConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	APIKey  string `mapstructure:"api_key"`
}

// ScannerConfig governs the scan pipeline as a whole.
type ScannerConfig struct {
	ScanTimeoutSeconds int     `mapstructure:"scan_timeout_seconds"`
	AlertThreshold     float64 `mapstructure:"alert_threshold"`
	BatchConcurrency   int     `mapstructure:"batch_concurrency"`
}

// MemoryConfig tunes the memory guard thresholds.
type MemoryConfig struct {
	WarningPercent        float64 `mapstructure:"warning_percent"`
	CriticalPercent       float64 `mapstructure:"critical_percent"`
	EmergencyPercent      float64 `mapstructure:"emergency_percent"`
	SampleIntervalSeconds int     `mapstructure:"sample_interval_seconds"`
	HeadroomWaitSeconds   int     `mapstructure:"headroom_wait_seconds"`
}

// BrowserConfig bounds the headless instance pool.
type BrowserConfig struct {
	MaxInstances     int    `mapstructure:"max_instances"`
	InstanceMemoryMB int    `mapstructure:"instance_memory_mb"`
	UserAgent        string `mapstructure:"user_agent"`
}

// CrawlConfig governs single-page crawl behavior.
type CrawlConfig struct {
	NavTimeoutSeconds      int  `mapstructure:"nav_timeout_seconds"`
	SettleDelayMs          int  `mapstructure:"settle_delay_ms"`
	RetryCount             int  `mapstructure:"retry_count"`
	RetryBaseDelayMs       int  `mapstructure:"retry_base_delay_ms"`
	TextCap                int  `mapstructure:"text_cap"`
	ImageCap               int  `mapstructure:"image_cap"`
	DegradedTimeoutSeconds int  `mapstructure:"degraded_timeout_seconds"`
	DegradedTextCap        int  `mapstructure:"degraded_text_cap"`
	RespectRobots          bool `mapstructure:"respect_robots"`
}

// ClassifyConfig configures the provider fallback chain.
type ClassifyConfig struct {
	PrimaryEndpoint     string `mapstructure:"primary_endpoint"`
	PrimaryAPIKey       string `mapstructure:"primary_api_key"`
	SecondaryEndpoint   string `mapstructure:"secondary_endpoint"`
	SecondaryAPIKey     string `mapstructure:"secondary_api_key"`
	TextTimeoutSeconds  int    `mapstructure:"text_timeout_seconds"`
	ImageTimeoutSeconds int    `mapstructure:"image_timeout_seconds"`
}

// CacheConfig controls the result cache.
type CacheConfig struct {
	TTLHours int `mapstructure:"ttl_hours"`
}

// AlertConfig configures the violation alert webhook.
type AlertConfig struct {
	Endpoint       string `mapstructure:"endpoint"`
	APIKey         string `mapstructure:"api_key"`
	TimeoutSeconds int    `mapstructure:"timeout_seconds"`
}

// StorageConfig selects where evidence objects land.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int    `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for publish-subscribe notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
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
	v.SetDefault("scanner.scan_timeout_seconds", 120)
	v.SetDefault("scanner.alert_threshold", 0.7)
	v.SetDefault("scanner.batch_concurrency", 8)
	v.SetDefault("memory.warning_percent", 70)
	v.SetDefault("memory.critical_percent", 80)
	v.SetDefault("memory.emergency_percent", 90)
	v.SetDefault("memory.sample_interval_seconds", 5)
	v.SetDefault("memory.headroom_wait_seconds", 30)
	v.SetDefault("browser.max_instances", 5)
	v.SetDefault("browser.instance_memory_mb", 512)
	v.SetDefault("browser.user_agent", "sitewatch-scanner/0.1")
	v.SetDefault("crawl.nav_timeout_seconds", 30)
	v.SetDefault("crawl.settle_delay_ms", 2000)
	v.SetDefault("crawl.retry_count", 2)
	v.SetDefault("crawl.retry_base_delay_ms", 500)
	v.SetDefault("crawl.text_cap", 10000)
	v.SetDefault("crawl.image_cap", 5)
	v.SetDefault("crawl.degraded_timeout_seconds", 15)
	v.SetDefault("crawl.degraded_text_cap", 1000)
	v.SetDefault("crawl.respect_robots", false)
	v.SetDefault("classify.text_timeout_seconds", 10)
	v.SetDefault("classify.image_timeout_seconds", 5)
	v.SetDefault("cache.ttl_hours", 24)
	v.SetDefault("alert.timeout_seconds", 10)
	v.SetDefault("storage.prefix", "evidence")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Browser.MaxInstances <= 0 {
		return fmt.Errorf("browser.max_instances must be > 0")
	}
	if c.Memory.WarningPercent <= 0 || c.Memory.WarningPercent >= c.Memory.CriticalPercent {
		return fmt.Errorf("memory.warning_percent must be > 0 and below critical_percent")
	}
	if c.Memory.CriticalPercent >= c.Memory.EmergencyPercent {
		return fmt.Errorf("memory.critical_percent must be below emergency_percent")
	}
	if c.Scanner.AlertThreshold <= 0 || c.Scanner.AlertThreshold > 1 {
		return fmt.Errorf("scanner.alert_threshold must be in (0, 1]")
	}
	if c.Crawl.TextCap <= 0 {
		return fmt.Errorf("crawl.text_cap must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	return nil
}

// ScanTimeout converts the scan budget into a duration.
func (c Config) ScanTimeout() time.Duration {
	return time.Duration(c.Scanner.ScanTimeoutSeconds) * time.Second
}

// CacheTTL converts the cache retention into a duration.
func (c Config) CacheTTL() time.Duration {
	return time.Duration(c.Cache.TTLHours) * time.Hour
}
