// Package config loads and validates sync service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server  ServerConfig  `mapstructure:"server"`
	Auth    AuthConfig    `mapstructure:"auth"`
	DB      DBConfig      `mapstructure:"db"`
	FTP     FTPConfig     `mapstructure:"ftp"`
	Breaker BreakerConfig `mapstructure:"breaker"`
	Sync    SyncConfig    `mapstructure:"sync"`
	Pricing PricingConfig `mapstructure:"pricing"`
	Redis   RedisConfig   `mapstructure:"redis"`
	PubSub  PubSubConfig  `mapstructure:"pubsub"`
	Storage StorageConfig `mapstructure:"storage"`
	Logging LoggingConfig `mapstructure:"logging"`
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

// DBConfig controls access to the relational database.
type DBConfig struct {
	DSN             string `mapstructure:"dsn"`
	MaxConns        int    `mapstructure:"max_conns"`
	MinConns        int    `mapstructure:"min_conns"`
	ConnLifetimeMin int    `mapstructure:"conn_lifetime_minutes"`
}

// FTPConfig controls the archive connection pool.
type FTPConfig struct {
	Host                  string `mapstructure:"host"`
	User                  string `mapstructure:"user"`
	Password              string `mapstructure:"password"`
	BasePath              string `mapstructure:"base_path"`
	DialTimeoutSeconds    int    `mapstructure:"dial_timeout_seconds"`
	MaxConnections        int    `mapstructure:"max_connections"`
	AcquireTimeoutSeconds int    `mapstructure:"acquire_timeout_seconds"`
	IdleTimeoutSeconds    int    `mapstructure:"idle_timeout_seconds"`
}

// BreakerConfig governs the archive circuit breaker.
type BreakerConfig struct {
	FailureThreshold   int `mapstructure:"failure_threshold"`
	CooldownSeconds    int `mapstructure:"cooldown_seconds"`
	MaxCooldownSeconds int `mapstructure:"max_cooldown_seconds"`
}

// SyncConfig governs the job pipeline.
type SyncConfig struct {
	WorkerCount         int `mapstructure:"worker_count"`
	DownloadConcurrency int `mapstructure:"download_concurrency"`
	QueueDepth          int `mapstructure:"queue_depth"`
	DedupWindowSeconds  int `mapstructure:"dedup_window_seconds"`
	LockTTLMinutes      int `mapstructure:"lock_ttl_minutes"`
	MonthsAhead         int `mapstructure:"months_ahead"`
}

// PricingConfig holds normalization knobs. Divisors maps line IDs to the
// factor their raw prices are divided by; lines absent from the map use 1.
type PricingConfig struct {
	Divisors        map[int64]float64 `mapstructure:"divisors"`
	DefaultCurrency string            `mapstructure:"default_currency"`
}

// RedisConfig enables Redis-backed webhook deduplication when Addr is set.
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// PubSubConfig holds metadata for job-completion notifications.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// StorageConfig sets the quarantine blob destination. GCSBucket wins when
// both backends are configured; LocalDir suits single-host deployments.
type StorageConfig struct {
	GCSBucket        string `mapstructure:"gcs_bucket"`
	LocalDir         string `mapstructure:"local_dir"`
	QuarantinePrefix string `mapstructure:"quarantine_prefix"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("SYNCD")
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
	v.SetDefault("db.max_conns", 10)
	v.SetDefault("db.min_conns", 2)
	v.SetDefault("db.conn_lifetime_minutes", 30)
	v.SetDefault("ftp.base_path", "/")
	v.SetDefault("ftp.dial_timeout_seconds", 15)
	v.SetDefault("ftp.max_connections", 4)
	v.SetDefault("ftp.acquire_timeout_seconds", 30)
	v.SetDefault("ftp.idle_timeout_seconds", 300)
	v.SetDefault("breaker.failure_threshold", 5)
	v.SetDefault("breaker.cooldown_seconds", 30)
	v.SetDefault("breaker.max_cooldown_seconds", 300)
	v.SetDefault("sync.worker_count", 2)
	v.SetDefault("sync.download_concurrency", 3)
	v.SetDefault("sync.queue_depth", 64)
	v.SetDefault("sync.dedup_window_seconds", 300)
	v.SetDefault("sync.lock_ttl_minutes", 30)
	v.SetDefault("sync.months_ahead", 24)
	v.SetDefault("pricing.default_currency", "USD")
	v.SetDefault("storage.quarantine_prefix", "quarantine")
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.FTP.Host == "" {
		return fmt.Errorf("ftp.host must be set")
	}
	if c.FTP.MaxConnections <= 0 {
		return fmt.Errorf("ftp.max_connections must be > 0")
	}
	if c.Sync.WorkerCount <= 0 {
		return fmt.Errorf("sync.worker_count must be > 0")
	}
	if c.Sync.DownloadConcurrency <= 0 {
		return fmt.Errorf("sync.download_concurrency must be > 0")
	}
	if c.Breaker.FailureThreshold <= 0 {
		return fmt.Errorf("breaker.failure_threshold must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	for lineID, div := range c.Pricing.Divisors {
		if div <= 0 {
			return fmt.Errorf("pricing.divisors[%d] must be > 0", lineID)
		}
	}
	return nil
}

// DedupWindow returns the webhook dedup window as a duration.
func (c Config) DedupWindow() time.Duration {
	return time.Duration(c.Sync.DedupWindowSeconds) * time.Second
}

// LockTTL returns the line lock lease duration.
func (c Config) LockTTL() time.Duration {
	return time.Duration(c.Sync.LockTTLMinutes) * time.Minute
}
