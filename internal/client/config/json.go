package config

import (
	"encoding/json"
	"os"

	"github.com/dmitrijs2005/campuskeeper/internal/flagx"
	"github.com/dmitrijs2005/campuskeeper/internal/timex"
)

// JsonConfig is a DTO used exclusively for JSON unmarshalling.
// Fields are pointers so that a key absent from the file leaves the current
// value alone while an explicit empty string still overrides it.
type JsonConfig struct {
	ServerBaseURL    *string         `json:"server_base_url"`
	DatabasePath     *string         `json:"database_path"`
	RequestTimeout   *timex.Duration `json:"request_timeout"`
	RecoveryInterval *timex.Duration `json:"recovery_interval"`
	LogLevel         *string         `json:"log_level"`
	MetricsAddr      *string         `json:"metrics_addr"`
}

// parseJson overlays Config with values loaded from the JSON file named by
// -c or -config. Without such a flag it does nothing. Read and unmarshal
// errors panic.
func parseJson(cfg *Config) {
	jsonConfigFile := flagx.JsonConfigFlags()
	if jsonConfigFile == "" {
		return
	}

	var jc JsonConfig

	data, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}
	if err := json.Unmarshal(data, &jc); err != nil {
		panic(err)
	}

	if jc.ServerBaseURL != nil {
		cfg.ServerBaseURL = *jc.ServerBaseURL
	}
	if jc.DatabasePath != nil {
		cfg.DatabasePath = *jc.DatabasePath
	}
	if jc.RequestTimeout != nil {
		cfg.RequestTimeout = jc.RequestTimeout.Duration
	}
	if jc.RecoveryInterval != nil {
		cfg.RecoveryInterval = jc.RecoveryInterval.Duration
	}
	if jc.LogLevel != nil {
		cfg.LogLevel = *jc.LogLevel
	}
	if jc.MetricsAddr != nil {
		cfg.MetricsAddr = *jc.MetricsAddr
	}
}
