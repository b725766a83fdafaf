package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/atlasarr/atlasarr/internal/log"
)

// parseString reads a string from an environment variable, logging its
// source for observability, matching the teacher's env-override convention.
func parseString(key, defaultValue string) string {
	logger := log.WithComponent("config")
	if v, ok := os.LookupEnv(key); ok && v != "" {
		logger.Debug().Str("key", key).Str("source", "environment").Msg("using environment variable")
		return v
	}
	return defaultValue
}

func parseInt(key string, defaultValue int) int {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	i, err := strconv.Atoi(v)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Msg("invalid integer in environment variable, using default")
		return defaultValue
	}
	logger.Debug().Str("key", key).Int("value", i).Str("source", "environment").Msg("using environment variable")
	return i
}

func parseFloat(key string, defaultValue float64) float64 {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Msg("invalid float in environment variable, using default")
		return defaultValue
	}
	return f
}

func parseBool(key string, defaultValue bool) bool {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Msg("invalid bool in environment variable, using default")
		return defaultValue
	}
	return b
}

func parseDuration(key string, defaultValue time.Duration) time.Duration {
	logger := log.WithComponent("config")
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return defaultValue
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		logger.Warn().Str("key", key).Str("value", v).Msg("invalid duration in environment variable, using default")
		return defaultValue
	}
	return d
}

func parseStringSlice(key string, defaultValue []string) []string {
	v, ok := os.LookupEnv(key)
	if !ok || strings.TrimSpace(v) == "" {
		return defaultValue
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}

// applyEnv layers environment overrides on top of cfg, highest precedence
// (spec.md §6).
func applyEnv(cfg *AppConfig) {
	cfg.DataDir = parseString("ATLASARR_DATA_DIR", cfg.DataDir)
	cfg.LogLevel = parseString("ATLASARR_LOG_LEVEL", cfg.LogLevel)

	cfg.Jobs.Concurrency = parseInt("ATLASARR_JOBS_CONCURRENCY", cfg.Jobs.Concurrency)
	cfg.Jobs.PollInterval = parseDuration("ATLASARR_JOBS_POLL_INTERVAL", cfg.Jobs.PollInterval)

	cfg.Search.RetryIntervalHours = parseFloat("ATLASARR_SEARCH_RETRY_INTERVAL_HOURS", cfg.Search.RetryIntervalHours)

	cfg.RSS.Enabled = parseBool("ATLASARR_RSS_ENABLED", cfg.RSS.Enabled)
	cfg.RSS.PollInterval = parseDuration("ATLASARR_RSS_POLL_INTERVAL", cfg.RSS.PollInterval)
	cfg.RSS.FeedURLs = parseStringSlice("ATLASARR_RSS_FEED_URLS", cfg.RSS.FeedURLs)

	cfg.IRC.Enabled = parseBool("ATLASARR_IRC_ENABLED", cfg.IRC.Enabled)
	cfg.IRC.Server = parseString("ATLASARR_IRC_SERVER", cfg.IRC.Server)
	cfg.IRC.Port = parseInt("ATLASARR_IRC_PORT", cfg.IRC.Port)
	cfg.IRC.SSL = parseBool("ATLASARR_IRC_SSL", cfg.IRC.SSL)
	cfg.IRC.Nickname = parseString("ATLASARR_IRC_NICKNAME", cfg.IRC.Nickname)
	cfg.IRC.Channels = parseStringSlice("ATLASARR_IRC_CHANNELS", cfg.IRC.Channels)
	cfg.IRC.Reconnect = parseBool("ATLASARR_IRC_RECONNECT", cfg.IRC.Reconnect)
	cfg.IRC.ReconnectDelay = parseDuration("ATLASARR_IRC_RECONNECT_DELAY", cfg.IRC.ReconnectDelay)
	cfg.IRC.ReconnectMaxRetries = parseInt("ATLASARR_IRC_RECONNECT_MAX_RETRIES", cfg.IRC.ReconnectMaxRetries)
}
