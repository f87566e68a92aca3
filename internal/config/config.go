package config

import (
	"time"

	"github.com/dmitrijs2005/fieldsync/internal/backoff"
)

// Config holds runtime settings for the fieldsync client.
//
// Fields:
//   - APIBaseURL: base URL of the backend HTTP API.
//   - DatabaseDSN: SQLite DSN of the local durable store.
//   - SyncInterval: how often a full push-then-pull cycle runs.
//   - OnlineCheckInterval: how often the client probes server reachability.
//   - DebounceDelay: quiet period after an edit before an autosave fires.
//   - PeriodicSaveInterval: autosave interval while a draft stays dirty.
//   - RetryDelays: backoff schedule for failed saves and staging uploads.
//   - RequestTimeout: per-request HTTP timeout.
//
// All intervals are time.Durations.
type Config struct {
	APIBaseURL           string
	DatabaseDSN          string
	SyncInterval         time.Duration
	OnlineCheckInterval  time.Duration
	DebounceDelay        time.Duration
	PeriodicSaveInterval time.Duration
	RetryDelays          []time.Duration
	RequestTimeout       time.Duration
}

// LoadDefaults populates c with the defaults the field app shipped with.
func (c *Config) LoadDefaults() {
	c.APIBaseURL = "http://127.0.0.1:8080"
	c.DatabaseDSN = "fieldsync.db"
	c.SyncInterval = 5 * time.Minute
	c.OnlineCheckInterval = 30 * time.Second
	c.DebounceDelay = 800 * time.Millisecond
	c.PeriodicSaveInterval = 5 * time.Second
	c.RetryDelays = backoff.Default().Delays
	c.RequestTimeout = 30 * time.Second
}

// RetryPolicy returns the configured backoff schedule.
func (c *Config) RetryPolicy() backoff.Policy {
	return backoff.Policy{Delays: c.RetryDelays}
}

// LoadConfig constructs a Config, applies defaults, then overlays values from
// JSON (if present) and command-line flags (if present). Later sources take
// precedence over earlier ones.
func LoadConfig() *Config {
	cfg := &Config{}
	cfg.LoadDefaults()
	parseJson(cfg)
	parseFlags(cfg)
	return cfg
}
