// Package config loads and validates service configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// Config captures all configuration knobs for the server and the watcher
// client, loaded via Viper with MEALBATCH_* environment overrides.
type Config struct {
	Server    ServerConfig    `mapstructure:"server"`
	Auth      AuthConfig      `mapstructure:"auth"`
	Pipeline  PipelineConfig  `mapstructure:"pipeline"`
	Broadcast BroadcastConfig `mapstructure:"broadcast"`
	DB        DBConfig        `mapstructure:"db"`
	Retention RetentionConfig `mapstructure:"retention"`
	Observer  ObserverConfig  `mapstructure:"observer"`
	Resume    ResumeConfig    `mapstructure:"resume"`
	Logging   LoggingConfig   `mapstructure:"logging"`
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

// PipelineConfig governs the dispatcher and generation workers.
type PipelineConfig struct {
	Workers          int `mapstructure:"workers"`
	QueueDepth       int `mapstructure:"queue_depth"`
	MaxUnitsPerBatch int `mapstructure:"max_units_per_batch"`
	StubUnitMillis   int `mapstructure:"stub_unit_millis"`
}

// BroadcastConfig tunes the event hub.
type BroadcastConfig struct {
	SubscriberBuffer int `mapstructure:"subscriber_buffer"`
}

// DBConfig controls the batch archive database; an empty DSN disables
// archival.
type DBConfig struct {
	DSN string `mapstructure:"dsn"`
}

// RetentionConfig controls eviction of terminal batches from the live
// registry.
type RetentionConfig struct {
	SweepSchedule string `mapstructure:"sweep_schedule"`
	MaxAgeSeconds int    `mapstructure:"max_age_seconds"`
}

// ObserverConfig tunes the client observers.
type ObserverConfig struct {
	PollIntervalMillis int `mapstructure:"poll_interval_millis"`
	FailureThreshold   int `mapstructure:"failure_threshold"`
}

// ResumeConfig controls the client resume registry.
type ResumeConfig struct {
	Path       string `mapstructure:"path"`
	TTLSeconds int    `mapstructure:"ttl_seconds"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("MEALBATCH")
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
	v.SetDefault("pipeline.workers", 2)
	v.SetDefault("pipeline.queue_depth", 32)
	v.SetDefault("pipeline.max_units_per_batch", 50)
	v.SetDefault("pipeline.stub_unit_millis", 500)
	v.SetDefault("broadcast.subscriber_buffer", 16)
	v.SetDefault("retention.sweep_schedule", "@every 1m")
	v.SetDefault("retention.max_age_seconds", 600)
	v.SetDefault("observer.poll_interval_millis", 2000)
	v.SetDefault("observer.failure_threshold", 3)
	v.SetDefault("resume.path", "data/resume.db")
	v.SetDefault("resume.ttl_seconds", 300)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Pipeline.Workers <= 0 {
		return fmt.Errorf("pipeline.workers must be > 0")
	}
	if c.Pipeline.MaxUnitsPerBatch <= 0 {
		return fmt.Errorf("pipeline.max_units_per_batch must be > 0")
	}
	if c.Auth.Enabled && c.Auth.APIKey == "" {
		return fmt.Errorf("auth.api_key must be set when auth is enabled")
	}
	if c.Observer.FailureThreshold <= 0 {
		return fmt.Errorf("observer.failure_threshold must be > 0")
	}
	if c.Resume.TTLSeconds <= 0 {
		return fmt.Errorf("resume.ttl_seconds must be > 0")
	}
	return nil
}

// PollInterval converts the observer poll interval to a duration.
func (c Config) PollInterval() time.Duration {
	return time.Duration(c.Observer.PollIntervalMillis) * time.Millisecond
}

// ResumeTTL converts the resume TTL to a duration.
func (c Config) ResumeTTL() time.Duration {
	return time.Duration(c.Resume.TTLSeconds) * time.Second
}

// RetentionMaxAge converts the retention window to a duration.
func (c Config) RetentionMaxAge() time.Duration {
	return time.Duration(c.Retention.MaxAgeSeconds) * time.Second
}
