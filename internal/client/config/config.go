package config

import "time"

// Config holds runtime settings for the campus CLI.
//
// Fields:
//   - ServerBaseURL: absolute http(s) address of the portal backend.
//   - DatabasePath: SQLite file keeping the credential; empty keeps it in memory only.
//   - RequestTimeout: upper bound for one backend call; zero means no bound.
//   - RecoveryInterval: how often an unreachable-backend session retries bootstrap.
//   - LogLevel: debug, info, warn or error.
//   - MetricsAddr: listen address for the Prometheus endpoint; empty disables it.
type Config struct {
	ServerBaseURL    string
	DatabasePath     string
	RequestTimeout   time.Duration
	RecoveryInterval time.Duration
	LogLevel         string
	MetricsAddr      string
}

// LoadDefaults populates c with sensible defaults.
func (c *Config) LoadDefaults() {
	c.ServerBaseURL = "http://127.0.0.1:8000"
	c.DatabasePath = "campuskeeper.db"
	c.RequestTimeout = 0
	c.RecoveryInterval = 5 * time.Second
	c.LogLevel = "warn"
	c.MetricsAddr = ""
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
