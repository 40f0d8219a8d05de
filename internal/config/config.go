// Package config handles TOML/YAML configuration for siivous.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure.
type Config struct {
	AWS     AWSConfig     `toml:"aws" yaml:"aws"`
	Azure   AzureConfig   `toml:"azure" yaml:"azure"`
	Sweep   SweepConfig   `toml:"sweep" yaml:"sweep"`
	Policy  PolicyConfig  `toml:"policy" yaml:"policy"`
	Notify  NotifyConfig  `toml:"notify" yaml:"notify"`
	Journal JournalConfig `toml:"journal" yaml:"journal"`
	OTEL    OTELConfig    `toml:"otel" yaml:"otel"`
	Daemon  DaemonConfig  `toml:"daemon" yaml:"daemon"`
	Log     LogConfig     `toml:"log" yaml:"log"`
}

// AWSConfig holds AWS provider settings.
type AWSConfig struct {
	Regions []string `toml:"regions" yaml:"regions"`
	Profile string   `toml:"profile" yaml:"profile"`
}

// AzureConfig holds Azure provider settings.
type AzureConfig struct {
	Subscriptions []string `toml:"subscriptions" yaml:"subscriptions"`
}

// SweepConfig holds sweep behaviour.
type SweepConfig struct {
	DryRun           *bool             `toml:"dry_run" yaml:"dry_run"`
	Scopes           []string          `toml:"scopes" yaml:"scopes"`
	Concurrency      int               `toml:"concurrency" yaml:"concurrency" validate:"min=1,max=1000"`
	InstanceTTLHours int               `toml:"instance_ttl_hours" yaml:"instance_ttl_hours" validate:"min=1"`
	VolumesAgeDays   *int              `toml:"volumes_age_days" yaml:"volumes_age_days" validate:"omitempty,min=0"`
	SnapshotsAgeDays *int              `toml:"snapshots_age_days" yaml:"snapshots_age_days" validate:"omitempty,min=0"`
	InstanceAction   string            `toml:"instance_action" yaml:"instance_action" validate:"oneof=stop terminate"`
	TagPrefix        string            `toml:"tag_prefix" yaml:"tag_prefix" validate:"required,excludes=="`
	ExcludeKinds     []string          `toml:"exclude_kinds" yaml:"exclude_kinds"`
	IncludeTags      map[string]string `toml:"include_tags" yaml:"include_tags"`
	ExcludeTags      map[string]string `toml:"exclude_tags" yaml:"exclude_tags"`
	RateLimit        float64           `toml:"rate_limit" yaml:"rate_limit" validate:"gt=0"`
	Burst            int               `toml:"burst" yaml:"burst" validate:"min=1"`
}

// IsDryRun reports whether mutations are disabled. Unset means true.
func (s SweepConfig) IsDryRun() bool {
	return s.DryRun == nil || *s.DryRun
}

// InstanceTTL returns the instance expiry as a duration.
func (s SweepConfig) InstanceTTL() time.Duration {
	return time.Duration(s.InstanceTTLHours) * time.Hour
}

// VolumeAge returns the volume age threshold as a duration.
func (s SweepConfig) VolumeAge() time.Duration {
	return days(s.VolumesAgeDays, DefaultVolumesAgeDays)
}

// SnapshotAge returns the snapshot age threshold as a duration.
func (s SweepConfig) SnapshotAge() time.Duration {
	return days(s.SnapshotsAgeDays, DefaultSnapshotsAgeDays)
}

// Age thresholds used when the file leaves them unset. An explicit 0 is kept.
const (
	DefaultVolumesAgeDays   = 7
	DefaultSnapshotsAgeDays = 30
)

func days(n *int, def int) time.Duration {
	d := def
	if n != nil {
		d = *n
	}
	return time.Duration(d) * 24 * time.Hour
}

// PolicyConfig holds protection rules per resource kind.
type PolicyConfig struct {
	Instance KindPolicy `toml:"instance" yaml:"instance"`
	Volume   KindPolicy `toml:"volume" yaml:"volume"`
	Snapshot KindPolicy `toml:"snapshot" yaml:"snapshot"`
	RegoPath string     `toml:"rego_path" yaml:"rego_path"`
}

// KindPolicy configures the safe-word protection for one kind.
type KindPolicy struct {
	SafeWords    []string `toml:"safe_words" yaml:"safe_words"`
	MatchFields  []string `toml:"match_fields" yaml:"match_fields" validate:"dive,oneof=name description tags"`
	NamePatterns []string `toml:"name_patterns" yaml:"name_patterns"`
}

// NotifyConfig selects the destruction notification channel.
type NotifyConfig struct {
	Kind     string   `toml:"kind" yaml:"kind" validate:"oneof=log ses sns none"`
	From     string   `toml:"from" yaml:"from"`
	To       []string `toml:"to" yaml:"to" validate:"dive,email"`
	TopicARN string   `toml:"topic_arn" yaml:"topic_arn"`
	Region   string   `toml:"region" yaml:"region"`
}

// JournalConfig holds audit journal settings. Empty Dir disables it.
type JournalConfig struct {
	Dir string `toml:"dir" yaml:"dir"`
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `toml:"endpoint" yaml:"endpoint"`
	Insecure    bool          `toml:"insecure" yaml:"insecure"`
	ServiceName string        `toml:"service_name" yaml:"service_name"`
	Traces      TracesConfig  `toml:"traces" yaml:"traces"`
	Metrics     MetricsConfig `toml:"metrics" yaml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `toml:"enabled" yaml:"enabled"`
	SampleRate float64 `toml:"sample_rate" yaml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `toml:"enabled" yaml:"enabled"`
}

// DaemonConfig holds interval mode settings.
type DaemonConfig struct {
	IntervalStr string        `toml:"interval" yaml:"interval"`
	Interval    time.Duration `toml:"-" yaml:"-"`
	MetricsAddr string        `toml:"metrics_addr" yaml:"metrics_addr"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level  string `toml:"level" yaml:"level"`
	Format string `toml:"format" yaml:"format" validate:"oneof=console json"`
}

// ConfigError reports an invalid or unreadable configuration. It is the
// only error class that aborts the process before a sweep starts.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	if e.Field == "" {
		return "config: " + e.Err.Error()
	}
	return fmt.Sprintf("config: %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// Default returns a configuration with every default applied.
func Default() *Config {
	cfg := &Config{}
	ApplyDefaults(cfg)
	return cfg
}

// Load reads and parses a TOML or YAML config file, chosen by extension.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("read config file: %w", err)}
	}

	cfg := &Config{}
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, cfg)
	default:
		err = toml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, &ConfigError{Err: fmt.Errorf("parse config: %w", err)}
	}

	ApplyDefaults(cfg)

	if err := parseInterval(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// ApplyDefaults fills every unset field.
func ApplyDefaults(cfg *Config) {
	s := &cfg.Sweep
	if s.DryRun == nil {
		dry := true
		s.DryRun = &dry
	}
	if len(s.Scopes) == 0 {
		s.Scopes = []string{"all"}
	}
	if s.Concurrency == 0 {
		s.Concurrency = 50
	}
	if s.InstanceTTLHours == 0 {
		s.InstanceTTLHours = 24
	}
	if s.VolumesAgeDays == nil {
		v := DefaultVolumesAgeDays
		s.VolumesAgeDays = &v
	}
	if s.SnapshotsAgeDays == nil {
		v := DefaultSnapshotsAgeDays
		s.SnapshotsAgeDays = &v
	}
	if s.InstanceAction == "" {
		s.InstanceAction = "terminate"
	}
	if s.TagPrefix == "" {
		s.TagPrefix = "siivous:discovery_time"
	}
	if s.RateLimit == 0 {
		s.RateLimit = 10
	}
	if s.Burst == 0 {
		s.Burst = 5
	}

	applyKindDefaults(&cfg.Policy.Instance, instanceDefaults)
	applyKindDefaults(&cfg.Policy.Volume, storageDefaults)
	applyKindDefaults(&cfg.Policy.Snapshot, storageDefaults)

	if cfg.Notify.Kind == "" {
		cfg.Notify.Kind = "log"
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "siivous"
	}
	if cfg.Daemon.IntervalStr == "" {
		cfg.Daemon.IntervalStr = "1h"
	}
	if cfg.Daemon.MetricsAddr == "" {
		cfg.Daemon.MetricsAddr = ":9090"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "console"
	}
	if cfg.Daemon.Interval == 0 {
		if d, err := time.ParseDuration(cfg.Daemon.IntervalStr); err == nil {
			cfg.Daemon.Interval = d
		}
	}
}

var (
	instanceDefaults = KindPolicy{
		SafeWords:   []string{"monkey", "save", "slave"},
		MatchFields: []string{"name"},
	}
	storageDefaults = KindPolicy{
		SafeWords:    []string{"save", "install", "do_not", "do not", "media", "base_image"},
		MatchFields:  []string{"name", "description", "tags"},
		NamePatterns: []string{"^ubuntu", "^centos", "^base_image"},
	}
)

func applyKindDefaults(kp *KindPolicy, def KindPolicy) {
	if kp.SafeWords == nil {
		kp.SafeWords = append([]string(nil), def.SafeWords...)
	}
	if kp.MatchFields == nil {
		kp.MatchFields = append([]string(nil), def.MatchFields...)
	}
	if kp.NamePatterns == nil {
		kp.NamePatterns = append([]string(nil), def.NamePatterns...)
	}
}

func parseInterval(cfg *Config) error {
	d, err := time.ParseDuration(cfg.Daemon.IntervalStr)
	if err != nil {
		return &ConfigError{Field: "daemon.interval", Err: fmt.Errorf("parse interval %q: %w", cfg.Daemon.IntervalStr, err)}
	}
	cfg.Daemon.Interval = d
	return nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return &ConfigError{Field: verrs[0].Namespace(), Err: fmt.Errorf("failed %q check (got %v)", verrs[0].Tag(), verrs[0].Value())}
		}
		return &ConfigError{Err: err}
	}
	if len(c.AWS.Regions) == 0 && len(c.Azure.Subscriptions) == 0 {
		return &ConfigError{Field: "aws.regions", Err: errors.New("at least one aws region or azure subscription required")}
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return &ConfigError{Field: "otel.traces.sample_rate", Err: fmt.Errorf("must be between 0.0 and 1.0 (got %v)", c.OTEL.Traces.SampleRate)}
	}
	if c.Daemon.Interval <= 0 {
		return &ConfigError{Field: "daemon.interval", Err: fmt.Errorf("must be positive (got %s)", c.Daemon.Interval)}
	}
	switch c.Notify.Kind {
	case "ses":
		if c.Notify.From == "" || len(c.Notify.To) == 0 {
			return &ConfigError{Field: "notify", Err: errors.New("ses requires from and to")}
		}
	case "sns":
		if c.Notify.TopicARN == "" {
			return &ConfigError{Field: "notify.topic_arn", Err: errors.New("sns requires topic_arn")}
		}
	}
	for _, kp := range []struct {
		name string
		p    KindPolicy
	}{{"instance", c.Policy.Instance}, {"volume", c.Policy.Volume}, {"snapshot", c.Policy.Snapshot}} {
		for _, pat := range kp.p.NamePatterns {
			if _, err := regexp.Compile(pat); err != nil {
				return &ConfigError{Field: "policy." + kp.name + ".name_patterns", Err: err}
			}
		}
	}
	if c.Policy.RegoPath != "" {
		if _, err := os.Stat(c.Policy.RegoPath); err != nil {
			return &ConfigError{Field: "policy.rego_path", Err: err}
		}
	}
	return nil
}

// SetSafeWords replaces the safe-word list of every kind.
func (c *Config) SetSafeWords(words []string) {
	c.Policy.Instance.SafeWords = words
	c.Policy.Volume.SafeWords = words
	c.Policy.Snapshot.SafeWords = words
}
