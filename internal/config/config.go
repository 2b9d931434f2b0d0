// Package config provides TOML configuration file loading and parsing for the bridge.
// The configuration file lives at ~/.clawd/config.toml by default, but can be
// overridden with the --config flag. CLI flags always take precedence over file values.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Config represents the bridge configuration file structure.
// Field names use Go camelCase internally but map to snake_case in TOML files
// via struct tags.
type Config struct {
	// Addr is the host:port for the agent HTTP API.
	// Default: 127.0.0.1:8081
	Addr string `toml:"addr"`

	// PagerAddr is the host:port of the pager's WebSocket endpoint.
	// If empty, the bridge discovers the pager via mDNS.
	PagerAddr string `toml:"pager_addr"`

	// ASRURL is the endpoint for the speech-to-text collaborator.
	// Voice capture is disabled when empty.
	ASRURL string `toml:"asr_url"`

	// ASRToken is the bearer token for the ASR endpoint (optional).
	ASRToken string `toml:"asr_token"`

	// AuditDB is the path to the SQLite database for the resolved-request
	// audit log. Empty disables audit logging; audit is a pure side effect
	// and never required for correctness.
	AuditDB string `toml:"audit_db"`

	// LogLevel controls logging verbosity: debug, info, warn, error.
	// Default: info
	LogLevel string `toml:"log_level"`

	// HeartbeatSeconds is the interval between pager heartbeats.
	// Three consecutive misses force a reconnect. Default: 10
	HeartbeatSeconds int `toml:"heartbeat_s"`

	// SweepMs is the interval for the request expiry sweep in milliseconds.
	// Default: 1000
	SweepMs int `toml:"sweep_ms"`

	// RequestCap is the maximum number of live entries in the request table.
	// Submissions beyond the cap are rejected synchronously. Default: 64
	RequestCap int `toml:"request_cap"`

	// DefaultSource is the source ambient voice requests are attributed to.
	// Default: "ambient"
	DefaultSource string `toml:"default_source"`

	// NotesPath is a file ambient voice notes are appended to as JSON
	// lines, for the default source to tail. Empty leaves notes readable
	// only from the poll slot (and the audit log when enabled).
	NotesPath string `toml:"notes_path"`

	// IdleRevertSeconds is how long the display lingers after the last agent
	// tool activity before reverting to idle. Default: 3
	IdleRevertSeconds int `toml:"idle_revert_s"`

	// SubmitRatePerSecond limits agent submissions per second.
	// Default: 10
	SubmitRatePerSecond int `toml:"submit_rate_per_s"`
}

// DefaultConfigPath returns the default config file location: ~/.clawd/config.toml.
// Returns an error only if the user's home directory cannot be determined.
func DefaultConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".clawd", "config.toml"), nil
}

// Load reads a TOML config file from the given path and returns a Config.
//
// Behavior:
//   - If path is empty, attempts to load from the default location (~/.clawd/config.toml).
//     Returns an empty Config without error if the default file doesn't exist.
//   - If path is specified, returns an error if the file doesn't exist.
//   - Returns an error if the file exists but cannot be parsed.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path == "" {
		// No explicit path: try default location, but don't error if missing.
		// This allows the bridge to start without any config file.
		defaultPath, err := DefaultConfigPath()
		if err != nil {
			// Can't determine home dir, return empty config
			return cfg, nil
		}
		if _, err := os.Stat(defaultPath); os.IsNotExist(err) {
			// Default config doesn't exist, that's fine
			return cfg, nil
		}
		path = defaultPath
	} else {
		// Explicit path provided: error if file doesn't exist.
		// This matches user expectation: if they specify a config file, it should exist.
		if _, err := os.Stat(path); os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", path)
		}
	}

	// Parse the TOML file. Any parse error is fatal since the user expects
	// the config to be applied.
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	return cfg, nil
}
