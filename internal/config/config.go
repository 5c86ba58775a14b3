// Package config loads service configuration from YAML and environment
// variables. Environment variables use the LINKRADAR_ prefix with
// underscores for nesting, e.g. LINKRADAR_ARCHIVER_MAX_RETRIES=5.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Server configures the HTTP API listener.
type Server struct {
	Addr            string        `mapstructure:"addr"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// Database configures the postgres store. An empty DSN selects the
// in-memory store, which is only suitable for development.
type Database struct {
	DSN          string `mapstructure:"dsn"`
	MaxOpenConns int    `mapstructure:"max_open_conns"`
}

// Archiver bounds fetching and retry behavior.
type Archiver struct {
	Enabled          bool          `mapstructure:"enabled"`
	UserAgent        string        `mapstructure:"user_agent"`
	ContactURL       string        `mapstructure:"contact_url"`
	ConnectTimeout   time.Duration `mapstructure:"connect_timeout"`
	ReadTimeout      time.Duration `mapstructure:"read_timeout"`
	MaxRedirects     int           `mapstructure:"max_redirects"`
	MaxContentSize   int           `mapstructure:"max_content_size"`
	MaxRetries       int           `mapstructure:"max_retries"`
	RetryBackoffBase time.Duration `mapstructure:"retry_backoff_base"`
}

// Workers sizes the job-processing pool.
type Workers struct {
	Count     int `mapstructure:"count"`
	QueueSize int `mapstructure:"queue_size"`
}

// Snapshots configures optional raw-HTML uploads to GCS. Disabled when
// the bucket is empty.
type Snapshots struct {
	Bucket string `mapstructure:"bucket"`
	Prefix string `mapstructure:"prefix"`
}

// PubSub configures optional terminal-state event publishing. Disabled
// when the project is empty.
type PubSub struct {
	Project string `mapstructure:"project"`
	Topic   string `mapstructure:"topic"`
}

// Logging selects the zap preset.
type Logging struct {
	Development bool `mapstructure:"development"`
}

// Config is the root of the service configuration.
type Config struct {
	Environment string    `mapstructure:"environment"`
	Server      Server    `mapstructure:"server"`
	Database    Database  `mapstructure:"database"`
	Archiver    Archiver  `mapstructure:"archiver"`
	Workers     Workers   `mapstructure:"workers"`
	Snapshots   Snapshots `mapstructure:"snapshots"`
	PubSub      PubSub    `mapstructure:"pubsub"`
	Logging     Logging   `mapstructure:"logging"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("server.addr", ":8080")
	v.SetDefault("server.read_timeout", 10*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 15*time.Second)

	v.SetDefault("database.max_open_conns", 10)

	v.SetDefault("archiver.enabled", true)
	v.SetDefault("archiver.user_agent", "LinkRadarBot/1.0")
	v.SetDefault("archiver.connect_timeout", 10*time.Second)
	v.SetDefault("archiver.read_timeout", 15*time.Second)
	v.SetDefault("archiver.max_redirects", 5)
	v.SetDefault("archiver.max_content_size", 10<<20)
	v.SetDefault("archiver.max_retries", 3)
	v.SetDefault("archiver.retry_backoff_base", 2*time.Second)

	v.SetDefault("workers.count", 4)
	v.SetDefault("workers.queue_size", 256)

	v.SetDefault("snapshots.prefix", "archives")
	v.SetDefault("pubsub.topic", "archive-events")

	v.SetDefault("logging.development", true)
}

// Load reads configuration from path (optional) plus the environment.
func Load(path string) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	v.SetEnvPrefix("LINKRADAR")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config file %q: %w", path, err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Production reports whether the service runs with production settings.
func (c *Config) Production() bool {
	return strings.EqualFold(c.Environment, "production")
}

// Validate rejects configurations that would misbehave at runtime.
func (c *Config) Validate() error {
	if c.Archiver.MaxContentSize <= 0 {
		return fmt.Errorf("archiver.max_content_size must be positive")
	}
	if c.Archiver.MaxRedirects < 0 {
		return fmt.Errorf("archiver.max_redirects must not be negative")
	}
	if c.Archiver.MaxRetries < 1 {
		return fmt.Errorf("archiver.max_retries must be at least 1")
	}
	if c.Workers.Count < 1 {
		return fmt.Errorf("workers.count must be at least 1")
	}
	if c.Production() && c.Archiver.Enabled && c.Archiver.ContactURL == "" {
		// Sites being crawled need a way to reach the operator.
		return fmt.Errorf("archiver.contact_url is required in production")
	}
	if c.PubSub.Project != "" && c.PubSub.Topic == "" {
		return fmt.Errorf("pubsub.topic is required when pubsub.project is set")
	}
	return nil
}
