// Package config provides configuration loading and management for rowan.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"
)

// Config is the root configuration.
type Config struct {
	Model            string   `json:"model"                   mapstructure:"model"`
	BaseURL          string   `json:"base_url,omitempty"      mapstructure:"base_url"`
	KeyServerURL     string   `json:"key_server_url,omitempty" mapstructure:"key_server_url"`
	AppToken         string   `json:"app_token,omitempty"     mapstructure:"app_token"`
	TurnLimit        int      `json:"turn_limit"              mapstructure:"turn_limit"`
	DecisionRetries  int      `json:"decision_retries"        mapstructure:"decision_retries"`
	TransportRetries int      `json:"transport_retries"       mapstructure:"transport_retries"`
	ExecTimeoutSecs  int      `json:"exec_timeout_secs"       mapstructure:"exec_timeout_secs"`
	ShellAllowList   []string `json:"shell_allowlist"         mapstructure:"shell_allowlist"`
	JuliaBin         string   `json:"julia_bin,omitempty"     mapstructure:"julia_bin"`
	RunsDir          string   `json:"runs_dir,omitempty"      mapstructure:"runs_dir"`
	DataDir          string   `json:"data_dir,omitempty"      mapstructure:"data_dir"`
	Listen           string   `json:"listen,omitempty"        mapstructure:"listen"`
	EventIdleSecs    int      `json:"event_idle_timeout_secs" mapstructure:"event_idle_timeout_secs"`
}

// Default returns the built-in configuration. The allow-list covers
// read-only inspection commands only.
func Default() Config {
	return Config{
		Model:            "gpt-5",
		TurnLimit:        50,
		DecisionRetries:  3,
		TransportRetries: 3,
		ExecTimeoutSecs:  120,
		ShellAllowList: []string{
			"ls", "cat", "head", "tail", "wc", "pwd", "which", "echo",
			"stat", "file", "du", "git", "uname", "date", "julia",
		},
		JuliaBin:      "julia",
		Listen:        ":8080",
		EventIdleSecs: 300,
	}
}

// ApplyEnv folds environment overrides into the config. Explicit config
// values win over defaults; env vars win over both.
func (c *Config) ApplyEnv() error {
	if v := os.Getenv("ROWAN_KEY_URL"); v != "" {
		c.KeyServerURL = v
	}
	if v := os.Getenv("ROWAN_APP_TOKEN"); v != "" {
		c.AppToken = v
	}
	if v := os.Getenv("JULIA_BIN"); v != "" {
		c.JuliaBin = v
	}
	if v := os.Getenv("ROWAN_RUNS_DIR"); v != "" {
		c.RunsDir = v
	}
	if v := os.Getenv("ROWAN_TURN_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return fmt.Errorf("ROWAN_TURN_LIMIT must be a positive integer, got %q", v)
		}
		c.TurnLimit = n
	}
	return nil
}

// Finish validates bounds and fills derived paths.
func (c *Config) Finish() error {
	if c.TurnLimit <= 0 {
		return fmt.Errorf("turn_limit must be > 0")
	}
	if c.DecisionRetries < 0 || c.TransportRetries < 0 {
		return fmt.Errorf("retry bounds must be >= 0")
	}
	if c.ExecTimeoutSecs <= 0 {
		return fmt.Errorf("exec_timeout_secs must be > 0")
	}
	if len(c.ShellAllowList) == 0 {
		return fmt.Errorf("shell_allowlist must not be empty")
	}
	if c.DataDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return fmt.Errorf("resolve home dir: %w", err)
		}
		c.DataDir = filepath.Join(home, ".rowan")
	}
	if c.RunsDir == "" {
		c.RunsDir = filepath.Join(c.DataDir, "runs")
	}
	return nil
}

// ExecTimeout returns the subprocess timeout as a duration.
func (c Config) ExecTimeout() time.Duration {
	return time.Duration(c.ExecTimeoutSecs) * time.Second
}

// EventIdleTimeout returns how long an idle event subscriber is kept open.
func (c Config) EventIdleTimeout() time.Duration {
	if c.EventIdleSecs <= 0 {
		return 5 * time.Minute
	}
	return time.Duration(c.EventIdleSecs) * time.Second
}
