// Package config loads runtime configuration for the campus CLI.
//
// Sources & precedence
//
//  1. Built-in defaults (see (*Config).LoadDefaults).
//  2. Optional JSON file (see parseJson) selected via flags: -c or -config.
//  3. Command-line flags (see parseFlags), which override earlier values.
//
// Supported flags
//
//	-a string   backend base URL
//	-d string   SQLite database path ("" keeps the credential in memory)
//	-t int      request timeout (seconds, 0 = none)
//	-i int      recovery interval (seconds)
//	-l string   log level
//	-m string   metrics listen address
//
// # JSON schema
//
// Durations go through timex.Duration, so they can be strings like "3s" or
// integer nanoseconds:
//
//	{
//	  "server_base_url": "https://portal.example.edu/api",
//	  "database_path": "campuskeeper.db",
//	  "request_timeout": "30s",
//	  "recovery_interval": "5s",
//	  "log_level": "info",
//	  "metrics_addr": "127.0.0.1:9464"
//	}
//
// This package does not read environment variables; use the JSON file or
// flags to configure values.
package config
