// Package config loads the daemon's configuration with the precedence
// ENV > YAML file > defaults, matching the teacher's config package
// convention (parse file strictly, then layer environment overrides, then
// validate).
package config

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// AppConfig is the fully resolved configuration the daemon runs with
// (spec.md §6 "Configuration (enumerated)").
type AppConfig struct {
	DataDir  string
	LogLevel string

	Jobs        JobsConfig
	Search      SearchConfig
	RSS         RSSConfig
	IRC         IRCConfig
	RateLimiter map[string]RateLimiterConfig
}

// JobsConfig governs the job queue worker loop.
type JobsConfig struct {
	Concurrency  int
	PollInterval time.Duration
}

// SearchConfig governs the Awaiting-retry scheduler task.
type SearchConfig struct {
	RetryIntervalHours float64
}

// RSSConfig governs the RSS announce poller.
type RSSConfig struct {
	Enabled      bool
	PollInterval time.Duration
	FeedURLs     []string
}

// IRCConfig governs the IRC announce listener.
type IRCConfig struct {
	Enabled             bool
	Server              string
	Port                int
	SSL                 bool
	Nickname            string
	Channels            []string
	Reconnect           bool
	ReconnectDelay      time.Duration
	ReconnectMaxRetries int
}

// RateLimiterConfig is one upstream's token bucket shape (spec.md §4.1).
type RateLimiterConfig struct {
	Capacity float64 // tokens/sec
}

// fileConfig mirrors AppConfig's YAML shape. Durations and hour-counts are
// strings/floats in the file the way the teacher's FileConfig represents
// them, and are resolved during merge.
type fileConfig struct {
	DataDir  string `yaml:"dataDir,omitempty"`
	LogLevel string `yaml:"logLevel,omitempty"`

	Jobs struct {
		Concurrency  *int   `yaml:"concurrency,omitempty"`
		PollInterval string `yaml:"pollInterval,omitempty"`
	} `yaml:"jobs,omitempty"`

	Search struct {
		RetryIntervalHours *float64 `yaml:"retryIntervalHours,omitempty"`
	} `yaml:"search,omitempty"`

	RSS struct {
		Enabled      *bool    `yaml:"enabled,omitempty"`
		PollInterval string   `yaml:"pollInterval,omitempty"`
		FeedURLs     []string `yaml:"feedUrls,omitempty"`
	} `yaml:"rss,omitempty"`

	IRC struct {
		Enabled             *bool    `yaml:"enabled,omitempty"`
		Server              string   `yaml:"server,omitempty"`
		Port                *int     `yaml:"port,omitempty"`
		SSL                 *bool    `yaml:"ssl,omitempty"`
		Nickname            string   `yaml:"nickname,omitempty"`
		Channels            []string `yaml:"channels,omitempty"`
		Reconnect           *bool    `yaml:"reconnect,omitempty"`
		ReconnectDelay      string   `yaml:"reconnectDelay,omitempty"`
		ReconnectMaxRetries *int     `yaml:"reconnectMaxRetries,omitempty"`
	} `yaml:"irc,omitempty"`

	RateLimiter map[string]struct {
		Capacity *float64 `yaml:"capacity,omitempty"`
	} `yaml:"rateLimiter,omitempty"`
}

// defaults returns the configuration spec.md §6 mandates when nothing
// overrides it.
func defaults() AppConfig {
	return AppConfig{
		DataDir:  "./data",
		LogLevel: "info",
		Jobs: JobsConfig{
			Concurrency:  3,
			PollInterval: time.Second,
		},
		Search: SearchConfig{
			RetryIntervalHours: 6,
		},
		RSS: RSSConfig{
			Enabled:      false,
			PollInterval: 60 * time.Second,
		},
		IRC: IRCConfig{
			Enabled:             false,
			Port:                6697,
			SSL:                 true,
			Reconnect:           true,
			ReconnectDelay:      5 * time.Second,
			ReconnectMaxRetries: 20,
		},
		RateLimiter: map[string]RateLimiterConfig{},
	}
}

// Load resolves configuration with precedence ENV > file > defaults. path
// may be empty, in which case only defaults and environment overrides
// apply.
func Load(path string) (AppConfig, error) {
	cfg := defaults()

	if path != "" {
		fc, err := loadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("config: load file: %w", err)
		}
		mergeFile(&cfg, fc)
	}

	applyEnv(&cfg)

	if abs, err := filepath.Abs(cfg.DataDir); err == nil {
		cfg.DataDir = abs
	}

	if err := Validate(cfg); err != nil {
		return cfg, fmt.Errorf("config: validation failed: %w", err)
	}
	return cfg, nil
}

func loadFile(path string) (*fileConfig, error) {
	path = filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(path))
	if ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("unsupported config format: %s (only YAML supported)", ext)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read file: %w", err)
	}

	var fc fileConfig
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&fc); err != nil {
		if err == io.EOF {
			return &fileConfig{}, nil
		}
		return nil, fmt.Errorf("strict config parse error: %w", err)
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return nil, fmt.Errorf("config file contains multiple documents or trailing content")
	}
	return &fc, nil
}

func mergeFile(cfg *AppConfig, fc *fileConfig) {
	if fc.DataDir != "" {
		cfg.DataDir = fc.DataDir
	}
	if fc.LogLevel != "" {
		cfg.LogLevel = fc.LogLevel
	}

	if fc.Jobs.Concurrency != nil {
		cfg.Jobs.Concurrency = *fc.Jobs.Concurrency
	}
	if d, ok := parseDurationField(fc.Jobs.PollInterval); ok {
		cfg.Jobs.PollInterval = d
	}

	if fc.Search.RetryIntervalHours != nil {
		cfg.Search.RetryIntervalHours = *fc.Search.RetryIntervalHours
	}

	if fc.RSS.Enabled != nil {
		cfg.RSS.Enabled = *fc.RSS.Enabled
	}
	if d, ok := parseDurationField(fc.RSS.PollInterval); ok {
		cfg.RSS.PollInterval = d
	}
	if len(fc.RSS.FeedURLs) > 0 {
		cfg.RSS.FeedURLs = fc.RSS.FeedURLs
	}

	if fc.IRC.Enabled != nil {
		cfg.IRC.Enabled = *fc.IRC.Enabled
	}
	if fc.IRC.Server != "" {
		cfg.IRC.Server = fc.IRC.Server
	}
	if fc.IRC.Port != nil {
		cfg.IRC.Port = *fc.IRC.Port
	}
	if fc.IRC.SSL != nil {
		cfg.IRC.SSL = *fc.IRC.SSL
	}
	if fc.IRC.Nickname != "" {
		cfg.IRC.Nickname = fc.IRC.Nickname
	}
	if len(fc.IRC.Channels) > 0 {
		cfg.IRC.Channels = fc.IRC.Channels
	}
	if fc.IRC.Reconnect != nil {
		cfg.IRC.Reconnect = *fc.IRC.Reconnect
	}
	if d, ok := parseDurationField(fc.IRC.ReconnectDelay); ok {
		cfg.IRC.ReconnectDelay = d
	}
	if fc.IRC.ReconnectMaxRetries != nil {
		cfg.IRC.ReconnectMaxRetries = *fc.IRC.ReconnectMaxRetries
	}

	for name, rl := range fc.RateLimiter {
		if rl.Capacity == nil {
			continue
		}
		if cfg.RateLimiter == nil {
			cfg.RateLimiter = map[string]RateLimiterConfig{}
		}
		cfg.RateLimiter[name] = RateLimiterConfig{Capacity: *rl.Capacity}
	}
}

func parseDurationField(s string) (time.Duration, bool) {
	if s == "" {
		return 0, false
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, false
	}
	return d, true
}

// Validate rejects an AppConfig with nonsensical values before the daemon
// starts anything against it.
func Validate(cfg AppConfig) error {
	if cfg.Jobs.Concurrency <= 0 {
		return fmt.Errorf("jobs.concurrency must be positive, got %d", cfg.Jobs.Concurrency)
	}
	if cfg.Jobs.PollInterval <= 0 {
		return fmt.Errorf("jobs.pollInterval must be positive, got %s", cfg.Jobs.PollInterval)
	}
	if cfg.Search.RetryIntervalHours <= 0 {
		return fmt.Errorf("search.retryIntervalHours must be positive, got %v", cfg.Search.RetryIntervalHours)
	}
	if cfg.IRC.Enabled && (cfg.IRC.Server == "" || cfg.IRC.Nickname == "" || len(cfg.IRC.Channels) == 0) {
		return fmt.Errorf("irc.enabled requires server, nickname, and at least one channel")
	}
	if cfg.RSS.Enabled && len(cfg.RSS.FeedURLs) == 0 {
		return fmt.Errorf("rss.enabled requires at least one feed url")
	}
	for name, rl := range cfg.RateLimiter {
		if rl.Capacity <= 0 {
			return fmt.Errorf("rateLimiter.%s.capacity must be positive, got %v", name, rl.Capacity)
		}
	}
	return nil
}
