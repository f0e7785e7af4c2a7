// Package config provides lareview configuration with a defined load order:
// CLI flags > environment variables > repo config > global config > defaults.
//
// Paths:
//   - Repo: .lareview/config.toml (relative to repo root)
//   - Global: XDG config dir, e.g. ~/.config/lareview/config.toml (see os.UserConfigDir)
//
// Environment variables (override config files when set):
//   - LAREVIEW_AGENT_BASE_URL, LAREVIEW_AGENT_ID, LAREVIEW_STATE_DIR,
//   - LAREVIEW_RULES_DIR, LAREVIEW_TIMEOUT (Go duration string or integer seconds),
//   - LAREVIEW_CONTEXT_LIMIT, LAREVIEW_WARN_THRESHOLD.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"lareview/cli/internal/erruser"
)

// Defaults applied when no other source provides a value.
const (
	DefaultAgentBaseURL  = "http://localhost:8790"
	DefaultAgentID       = "claude-code"
	DefaultTimeout       = 15 * time.Minute
	DefaultContextLimit  = 128000
	DefaultWarnThreshold = 0.8
)

// Config holds all lareview configuration. Empty StateDir/RulesDir mean
// "use the repo-relative default" (.lareview under the repo root).
type Config struct {
	AgentBaseURL string `toml:"agent_base_url"`
	AgentID      string `toml:"agent_id"`
	StateDir     string `toml:"state_dir"`
	RulesDir     string `toml:"rules_dir"`
	// Timeout bounds one generation call end to end. The controller itself
	// enforces no timeout; this is applied via context by the CLI.
	Timeout time.Duration `toml:"timeout"`
	// ContextLimit and WarnThreshold drive the pre-generate token warning.
	ContextLimit  int     `toml:"context_limit"`
	WarnThreshold float64 `toml:"warn_threshold"`
}

// fileConfig is the TOML shape; Timeout accepts a duration string or integer
// seconds, so it is decoded separately.
type fileConfig struct {
	AgentBaseURL  *string  `toml:"agent_base_url"`
	AgentID       *string  `toml:"agent_id"`
	StateDir      *string  `toml:"state_dir"`
	RulesDir      *string  `toml:"rules_dir"`
	Timeout       *string  `toml:"timeout"`
	ContextLimit  *int     `toml:"context_limit"`
	WarnThreshold *float64 `toml:"warn_threshold"`
}

// LoadOptions configures Load. RepoRoot locates the repo config; empty skips it.
type LoadOptions struct {
	RepoRoot string
}

// Load resolves configuration from defaults, global config, repo config, and
// environment, in that order of increasing precedence. CLI flags are applied
// by the caller on top of the result.
func Load(opts LoadOptions) (Config, error) {
	cfg := Config{
		AgentBaseURL:  DefaultAgentBaseURL,
		AgentID:       DefaultAgentID,
		Timeout:       DefaultTimeout,
		ContextLimit:  DefaultContextLimit,
		WarnThreshold: DefaultWarnThreshold,
	}

	if dir, err := os.UserConfigDir(); err == nil {
		if err := applyFile(&cfg, filepath.Join(dir, "lareview", "config.toml")); err != nil {
			return Config{}, err
		}
	}
	if opts.RepoRoot != "" {
		if err := applyFile(&cfg, filepath.Join(opts.RepoRoot, ".lareview", "config.toml")); err != nil {
			return Config{}, err
		}
		if cfg.StateDir == "" {
			cfg.StateDir = filepath.Join(opts.RepoRoot, ".lareview")
		}
		if cfg.RulesDir == "" {
			cfg.RulesDir = filepath.Join(opts.RepoRoot, ".lareview", "rules")
		}
	}
	if err := applyEnv(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyFile merges a TOML file into cfg. A missing file is not an error.
func applyFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return erruser.New(fmt.Sprintf("Could not read config file %s.", path), err)
	}
	var fc fileConfig
	if err := toml.Unmarshal(data, &fc); err != nil {
		return erruser.New(fmt.Sprintf("Config file %s is not valid TOML.", path), err)
	}
	if fc.AgentBaseURL != nil {
		cfg.AgentBaseURL = *fc.AgentBaseURL
	}
	if fc.AgentID != nil {
		cfg.AgentID = *fc.AgentID
	}
	if fc.StateDir != nil {
		cfg.StateDir = *fc.StateDir
	}
	if fc.RulesDir != nil {
		cfg.RulesDir = *fc.RulesDir
	}
	if fc.Timeout != nil {
		d, err := parseTimeout(*fc.Timeout)
		if err != nil {
			return erruser.New(fmt.Sprintf("Invalid timeout in %s.", path), err)
		}
		cfg.Timeout = d
	}
	if fc.ContextLimit != nil {
		cfg.ContextLimit = *fc.ContextLimit
	}
	if fc.WarnThreshold != nil {
		cfg.WarnThreshold = *fc.WarnThreshold
	}
	return nil
}

func applyEnv(cfg *Config) error {
	if v := os.Getenv("LAREVIEW_AGENT_BASE_URL"); v != "" {
		cfg.AgentBaseURL = v
	}
	if v := os.Getenv("LAREVIEW_AGENT_ID"); v != "" {
		cfg.AgentID = v
	}
	if v := os.Getenv("LAREVIEW_STATE_DIR"); v != "" {
		cfg.StateDir = v
	}
	if v := os.Getenv("LAREVIEW_RULES_DIR"); v != "" {
		cfg.RulesDir = v
	}
	if v := os.Getenv("LAREVIEW_TIMEOUT"); v != "" {
		d, err := parseTimeout(v)
		if err != nil {
			return erruser.New("Invalid LAREVIEW_TIMEOUT value.", err)
		}
		cfg.Timeout = d
	}
	if v := os.Getenv("LAREVIEW_CONTEXT_LIMIT"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return erruser.New("Invalid LAREVIEW_CONTEXT_LIMIT value.", err)
		}
		cfg.ContextLimit = n
	}
	if v := os.Getenv("LAREVIEW_WARN_THRESHOLD"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil || f < 0 || f > 1 {
			return erruser.New("Invalid LAREVIEW_WARN_THRESHOLD value (want 0..1).", err)
		}
		cfg.WarnThreshold = f
	}
	return nil
}

// parseTimeout accepts a Go duration string ("5m") or integer seconds ("300").
func parseTimeout(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)
	if secs, err := strconv.Atoi(s); err == nil {
		if secs < 0 {
			return 0, fmt.Errorf("negative timeout %d", secs)
		}
		return time.Duration(secs) * time.Second, nil
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return 0, err
	}
	if d < 0 {
		return 0, fmt.Errorf("negative timeout %s", d)
	}
	return d, nil
}
