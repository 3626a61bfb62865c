// Package config holds the configuration of the ironmq command and its
// loading logic.
//
// Every timing key in the file is a Duration: a bare number is whole
// seconds, as on the wire, and a quoted string such as "500ms" is a Go
// duration.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/guestful/ironmq/pkg/settings"
)

// Config is the root configuration of the ironmq command.
type Config struct {
	Project  ProjectConfig  `yaml:"project"`
	Client   ClientConfig   `yaml:"client"`
	Settings SettingsConfig `yaml:"settings"`
	Poller   PollerConfig   `yaml:"poller"`
	Log      LogConfig      `yaml:"log"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ProjectConfig identifies the IronMQ project.
type ProjectConfig struct {
	ID    string `yaml:"id"`
	Token string `yaml:"token"`
}

// ClientConfig controls the HTTP transport.
type ClientConfig struct {
	BaseURL string `yaml:"base_url"`
	// Timeout bounds one HTTP attempt.
	Timeout   Duration `yaml:"timeout"`
	UserAgent string   `yaml:"user_agent"`
	// RateLimit is requests per second; 0 disables limiting.
	RateLimit float64 `yaml:"rate_limit"`
	Burst     int     `yaml:"burst"`
	// Enabled false turns the client into a dry run that records requests in
	// JournalPath instead of sending them.
	Enabled     bool   `yaml:"enabled"`
	JournalPath string `yaml:"journal_path"`
}

// SettingsConfig mirrors settings.Settings.
type SettingsConfig struct {
	MessageTimeout    Duration `yaml:"message_timeout"`
	MessageDelay      Duration `yaml:"message_delay"`
	MessageExpiration Duration `yaml:"message_expiration"`
	PollWait          Duration `yaml:"poll_wait"`
	PollDelete        bool     `yaml:"poll_delete"`
	PushRetries       int      `yaml:"push_retries"`
	PushRetryDelay    Duration `yaml:"push_retry_delay"`
	ErrorQueue        string   `yaml:"error_queue"`
	BackoffRetries    int      `yaml:"backoff_retries"`
	BackoffInterval   Duration `yaml:"backoff_interval"`
	BackoffFactor     float64  `yaml:"backoff_factor"`
}

// PollerConfig sizes the worker pool the consume command runs pollers on.
type PollerConfig struct {
	Workers   int `yaml:"workers"`
	QueueSize int `yaml:"queue_size"`
	// IdleDelay is waited after an empty poll. Zero means none.
	IdleDelay Duration `yaml:"idle_delay"`
}

// LogConfig selects the slog handler.
type LogConfig struct {
	// Level is one of debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is "text" (colored, for terminals) or "json".
	Format string `yaml:"format"`
}

// MetricsConfig controls the Prometheus endpoint of long-running commands.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Addr    string `yaml:"addr"`
}

// Default returns a Config populated with the library defaults.
func Default() *Config {
	s := settings.Default()
	eq, _ := s.ErrorQueueName()
	return &Config{
		Client: ClientConfig{
			BaseURL:     "https://mq-aws-us-east-1.iron.io/1",
			Timeout:     Duration(60 * time.Second),
			UserAgent:   "ironmq-go/1.0",
			Burst:       1,
			Enabled:     true,
			JournalPath: "./ironmq-journal.db",
		},
		Settings: SettingsConfig{
			MessageTimeout:    Duration(s.MessageTimeout()),
			MessageDelay:      Duration(s.MessageDelay()),
			MessageExpiration: Duration(s.MessageExpiration()),
			PollWait:          Duration(s.PollWait()),
			PollDelete:        s.PollDelete(),
			PushRetries:       s.PushRetries(),
			PushRetryDelay:    Duration(s.PushRetryDelay()),
			ErrorQueue:        eq,
			BackoffRetries:    s.BackoffRetries(),
			BackoffInterval:   Duration(s.BackoffInterval()),
			BackoffFactor:     s.BackoffFactor(),
		},
		Poller: PollerConfig{
			Workers:   4,
			QueueSize: 64,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "text",
		},
		Metrics: MetricsConfig{
			Enabled: false,
			Addr:    ":9090",
		},
	}
}

// Load reads a YAML config file at path and overlays it on top of Default().
// A missing file yields the defaults.
//
// Environment variables override the file:
//
//	IRON_MQ_PROJECT_ID   project.id
//	IRON_MQ_TOKEN        project.token
//	IRON_MQ_HOST         client.base_url
//	IRONMQ_LOG_LEVEL     log.level
//	IRONMQ_DISABLED      client.enabled = false when "true" or "1"
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			applyEnv(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parse %s: %w", path, err)
	}

	applyEnv(cfg)
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("IRON_MQ_PROJECT_ID"); v != "" {
		cfg.Project.ID = v
	}
	if v := os.Getenv("IRON_MQ_TOKEN"); v != "" {
		cfg.Project.Token = v
	}
	if v := os.Getenv("IRON_MQ_HOST"); v != "" {
		cfg.Client.BaseURL = v
	}
	if v := os.Getenv("IRONMQ_LOG_LEVEL"); v != "" {
		cfg.Log.Level = v
	}
	if v := os.Getenv("IRONMQ_DISABLED"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			cfg.Client.Enabled = !b
		}
	}
}

// Validate checks that the config values are consistent and within range.
// It returns the first error found. Settings bounds are checked by Settings.
func (c *Config) Validate() error {
	if c.Project.ID == "" {
		return errors.New("project.id must not be empty")
	}
	if c.Project.Token == "" {
		return errors.New("project.token must not be empty")
	}
	if c.Client.BaseURL == "" {
		return errors.New("client.base_url must not be empty")
	}
	if c.Client.Timeout <= 0 {
		return errors.New("client.timeout must be positive")
	}
	if c.Client.RateLimit < 0 {
		return errors.New("client.rate_limit must be >= 0")
	}
	if c.Client.RateLimit > 0 && c.Client.Burst < 1 {
		return errors.New("client.burst must be at least 1 when rate_limit is set")
	}
	if !c.Client.Enabled && c.Client.JournalPath == "" {
		return errors.New("client.journal_path must not be empty when the client is disabled")
	}
	if c.Poller.Workers < 1 {
		return errors.New("poller.workers must be at least 1")
	}
	if c.Poller.QueueSize < 1 {
		return errors.New("poller.queue_size must be at least 1")
	}
	if c.Poller.IdleDelay < 0 {
		return errors.New("poller.idle_delay must be >= 0")
	}
	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		return errors.New(`log.level must be one of "debug", "info", "warn", "error"`)
	}
	switch c.Log.Format {
	case "text", "json":
	default:
		return errors.New(`log.format must be "text" or "json"`)
	}
	if c.Metrics.Enabled && c.Metrics.Addr == "" {
		return errors.New("metrics.addr must not be empty when metrics are enabled")
	}
	if _, err := c.Settings.Build(); err != nil {
		return err
	}
	return nil
}

// Build converts the section into validated Settings.
func (c SettingsConfig) Build() (*settings.Settings, error) {
	s, err := settings.New(
		settings.WithMessageTimeout(c.MessageTimeout.Std()),
		settings.WithMessageDelay(c.MessageDelay.Std()),
		settings.WithMessageExpiration(c.MessageExpiration.Std()),
		settings.WithPollWait(c.PollWait.Std()),
		settings.WithPollDelete(c.PollDelete),
		settings.WithPushRetries(c.PushRetries),
		settings.WithPushRetryDelay(c.PushRetryDelay.Std()),
		settings.WithErrorQueueName(c.ErrorQueue),
		settings.WithBackoffRetries(c.BackoffRetries),
		settings.WithBackoffInterval(c.BackoffInterval.Std()),
		settings.WithBackoffFactor(c.BackoffFactor),
	)
	if err != nil {
		return nil, fmt.Errorf("config: settings section: %w", err)
	}
	return s, nil
}

// Duration is a timing value in the config file. A YAML integer is whole
// seconds; a string is parsed by time.ParseDuration.
type Duration time.Duration

// Std returns d as a time.Duration.
func (d Duration) Std() time.Duration { return time.Duration(d) }

// UnmarshalYAML implements yaml.Unmarshaler.
func (d *Duration) UnmarshalYAML(n *yaml.Node) error {
	if n.Kind != yaml.ScalarNode {
		return fmt.Errorf("config: line %d: duration must be a scalar", n.Line)
	}
	if n.Tag == "!!int" {
		secs, err := strconv.ParseInt(n.Value, 10, 64)
		if err != nil {
			return fmt.Errorf("config: line %d: %w", n.Line, err)
		}
		*d = Duration(time.Duration(secs) * time.Second)
		return nil
	}
	v, err := time.ParseDuration(n.Value)
	if err != nil {
		return fmt.Errorf("config: line %d: %w", n.Line, err)
	}
	*d = Duration(v)
	return nil
}

// MarshalYAML writes whole seconds as an integer and anything else as a
// duration string, so a marshalled Config loads back unchanged.
func (d Duration) MarshalYAML() (any, error) {
	v := time.Duration(d)
	if v%time.Second == 0 {
		return int64(v / time.Second), nil
	}
	return v.String(), nil
}
