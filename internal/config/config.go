// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/pharosdata/harvester/internal/harvest"
)

// Config captures all service configuration knobs loaded via Viper.
type Config struct {
	Server      ServerConfig          `mapstructure:"server"`
	Logging     LoggingConfig         `mapstructure:"logging"`
	DB          DBConfig              `mapstructure:"db"`
	PubSub      PubSubConfig          `mapstructure:"pubsub"`
	Storage     StorageConfig         `mapstructure:"storage"`
	Spill       SpillConfig           `mapstructure:"spill"`
	Fingerprint FingerprintConfig     `mapstructure:"fingerprint"`
	Scheduler   SchedulerConfig       `mapstructure:"scheduler"`
	Normalize   NormalizeConfig       `mapstructure:"normalize"`
	Units       map[string]UnitConfig `mapstructure:"units"`
	Jobs        []JobConfig           `mapstructure:"jobs"`
}

// ServerConfig controls HTTP server behavior.
type ServerConfig struct {
	Port int `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// DBConfig controls access to Postgres. An empty DSN selects the
// in-memory stores.
type DBConfig struct {
	DSN      string `mapstructure:"dsn"`
	MaxConns int32  `mapstructure:"max_conns"`
	MinConns int32  `mapstructure:"min_conns"`
}

// PubSubConfig holds the raw-record topic. Empty values select the
// in-memory broker.
type PubSubConfig struct {
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// StorageConfig selects where run artifacts land.
type StorageConfig struct {
	GCSBucket string `mapstructure:"gcs_bucket"`
	LocalDir  string `mapstructure:"local_dir"`
}

// SpillConfig locates the broker-outage fallback directory.
type SpillConfig struct {
	Dir string `mapstructure:"dir"`
}

// FingerprintConfig locates the dedup index.
type FingerprintConfig struct {
	Dir      string `mapstructure:"dir"`
	InMemory bool   `mapstructure:"in_memory"`
}

// SchedulerConfig tunes the polling loop.
type SchedulerConfig struct {
	PollIntervalSeconds int `mapstructure:"poll_interval_seconds"`
}

// NormalizeConfig tunes normalization behavior.
type NormalizeConfig struct {
	AllowReprocess bool `mapstructure:"allow_reprocess"`
	// CategoryKeywords maps category name to admission keywords.
	CategoryKeywords map[string][]string `mapstructure:"category_keywords"`
}

// UnitConfig is the on-disk shape of a fetch unit's base config.
type UnitConfig struct {
	EntryPoints        []string          `mapstructure:"entry_points"`
	Headers            map[string]string `mapstructure:"headers"`
	Proxy              string            `mapstructure:"proxy"`
	TimeoutSeconds     int               `mapstructure:"timeout_seconds"`
	MaxRetries         int               `mapstructure:"max_retries"`
	RetryBackoffMs     int               `mapstructure:"retry_backoff_ms"`
	ThrottleIntervalMs int               `mapstructure:"throttle_interval_ms"`
	MaxItems           int               `mapstructure:"max_items"`
	Meta               map[string]any    `mapstructure:"meta"`
}

// JobConfig is the on-disk shape of a scheduled job.
type JobConfig struct {
	ID              string         `mapstructure:"id"`
	Name            string         `mapstructure:"name"`
	UnitName        string         `mapstructure:"unit_name"`
	Cron            string         `mapstructure:"cron"`
	IntervalMinutes int            `mapstructure:"interval_minutes"`
	Payload         map[string]any `mapstructure:"payload"`
	MaxAttempts     int            `mapstructure:"max_attempts"`
	BackoffBase     float64        `mapstructure:"backoff_base"`
	Enabled         bool           `mapstructure:"enabled"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
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
	v.SetDefault("logging.development", true)
	v.SetDefault("db.max_conns", 8)
	v.SetDefault("spill.dir", "data/spill")
	v.SetDefault("fingerprint.dir", "data/fingerprints")
	v.SetDefault("fingerprint.in_memory", false)
	v.SetDefault("storage.local_dir", "data/artifacts")
	v.SetDefault("scheduler.poll_interval_seconds", 60)
	v.SetDefault("normalize.allow_reprocess", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Server.Port <= 0 {
		return fmt.Errorf("server.port must be > 0")
	}
	if c.Scheduler.PollIntervalSeconds <= 0 {
		return fmt.Errorf("scheduler.poll_interval_seconds must be > 0")
	}
	if c.Spill.Dir == "" {
		return fmt.Errorf("spill.dir is required")
	}
	if !c.Fingerprint.InMemory && c.Fingerprint.Dir == "" {
		return fmt.Errorf("fingerprint.dir is required unless fingerprint.in_memory is set")
	}
	if c.Storage.GCSBucket == "" && c.Storage.LocalDir == "" {
		return fmt.Errorf("storage.local_dir or storage.gcs_bucket is required")
	}
	for name, unit := range c.Units {
		if len(unit.EntryPoints) == 0 {
			return fmt.Errorf("units.%s: entry_points is required", name)
		}
	}
	for category := range c.Normalize.CategoryKeywords {
		if _, err := harvest.ParseCategory(category); err != nil {
			return fmt.Errorf("normalize.category_keywords: %w", err)
		}
	}
	return nil
}

// UnitConfigs converts the on-disk unit map into runtime configs.
func (c Config) UnitConfigs() map[string]harvest.FetchUnitConfig {
	out := make(map[string]harvest.FetchUnitConfig, len(c.Units))
	for name, unit := range c.Units {
		out[name] = harvest.FetchUnitConfig{
			EntryPoints:      unit.EntryPoints,
			Headers:          unit.Headers,
			Proxy:            unit.Proxy,
			Timeout:          time.Duration(unit.TimeoutSeconds) * time.Second,
			MaxRetries:       unit.MaxRetries,
			RetryBackoffBase: time.Duration(unit.RetryBackoffMs) * time.Millisecond,
			ThrottleInterval: time.Duration(unit.ThrottleIntervalMs) * time.Millisecond,
			MaxItems:         unit.MaxItems,
			Meta:             unit.Meta,
		}
	}
	return out
}

// JobDefinitions converts the on-disk job list into runtime jobs.
func (c Config) JobDefinitions() []harvest.Job {
	jobs := make([]harvest.Job, 0, len(c.Jobs))
	for _, jc := range c.Jobs {
		jobs = append(jobs, harvest.Job{
			ID:       jc.ID,
			Name:     jc.Name,
			UnitName: jc.UnitName,
			Schedule: harvest.Schedule{
				Cron:            jc.Cron,
				IntervalMinutes: jc.IntervalMinutes,
			},
			Payload: jc.Payload,
			Retry: harvest.RetryConfig{
				MaxAttempts: jc.MaxAttempts,
				BackoffBase: jc.BackoffBase,
			},
			Enabled: jc.Enabled,
		})
	}
	return jobs
}

// NormalizeOptions converts the on-disk normalize section into runtime
// options, falling back to the default project-apply filter.
func (c Config) NormalizeOptions() (normalizeOptions map[harvest.Category][]string, allowReprocess bool) {
	if len(c.Normalize.CategoryKeywords) == 0 {
		return nil, c.Normalize.AllowReprocess
	}
	out := make(map[harvest.Category][]string, len(c.Normalize.CategoryKeywords))
	for category, keywords := range c.Normalize.CategoryKeywords {
		out[harvest.Category(category)] = keywords
	}
	return out, c.Normalize.AllowReprocess
}
