// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package config provides YAML configuration loading for moltlets
// services.
//
// Configuration is loaded from a single file specified by either the
// MOLTLETD_CONFIG environment variable (via [Load]) or a --config flag
// (via [LoadFile]). There are no fallbacks, no ~/.config discovery,
// and no automatic file search. This ensures deterministic, auditable
// configuration with no hidden overrides.
//
// The configuration file supports environment-specific sections
// (development, staging, production) that override base values when
// [Config].Environment matches. The base defaults are development-safe:
// both listeners bind loopback and scheduled reaps run in dry-run mode.
// Production flips reaping to live deletion unless the file says
// otherwise.
//
// Variable expansion is performed on path fields after loading:
// ${HOME} and ${VAR:-default} patterns are expanded. No other
// environment variables override config values.
//
// This package depends on no other moltlets packages.
package config

import (
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Environment represents the deployment environment.
type Environment string

const (
	// Development is for local development machines.
	Development Environment = "development"
	// Staging is for pre-production testing.
	Staging Environment = "staging"
	// Production is for production deployments.
	Production Environment = "production"
)

// Config is the master configuration for moltletd.
type Config struct {
	// Environment identifies the deployment type (development,
	// staging, production).
	Environment Environment `yaml:"environment"`

	// Database configures the job queue database.
	Database DatabaseConfig `yaml:"database"`

	// Listen configures the two HTTP listener addresses.
	Listen ListenConfig `yaml:"listen"`

	// Worker configures the job worker loop.
	Worker WorkerConfig `yaml:"worker"`

	// Fleet configures the cattle fleet this daemon manages.
	Fleet FleetConfig `yaml:"fleet"`

	// Hetzner configures cloud provider access.
	Hetzner HetznerConfig `yaml:"hetzner"`

	// Personas configures persona definition loading.
	Personas PersonasConfig `yaml:"personas"`

	// Bootstrap configures one-time bootstrap tokens.
	Bootstrap BootstrapConfig `yaml:"bootstrap"`

	// Retention configures pruning of finished jobs and spent tokens.
	Retention RetentionConfig `yaml:"retention"`

	// Reap configures the scheduled expiry sweep over live instances.
	Reap ReapConfig `yaml:"reap"`

	// Per-environment overrides, applied after the base config is
	// loaded when Environment matches the section name.
	Development *ConfigOverrides `yaml:"development,omitempty"`
	Staging     *ConfigOverrides `yaml:"staging,omitempty"`
	Production  *ConfigOverrides `yaml:"production,omitempty"`
}

// ConfigOverrides contains the sections that can be overridden per
// environment.
type ConfigOverrides struct {
	Database *DatabaseConfig `yaml:"database,omitempty"`
	Listen   *ListenConfig   `yaml:"listen,omitempty"`
	Worker   *WorkerConfig   `yaml:"worker,omitempty"`
	Fleet    *FleetConfig    `yaml:"fleet,omitempty"`
	Reap     *ReapConfig     `yaml:"reap,omitempty"`
}

// DatabaseConfig configures the job queue database.
type DatabaseConfig struct {
	// Path is the SQLite database file. The containing directory is
	// created on first open and restricted to owner-only access.
	Path string `yaml:"path"`

	// PoolSize is the connection pool size. Zero means automatic
	// (max of NumCPU and 4).
	PoolSize int `yaml:"pool_size"`
}

// ListenConfig configures the two HTTP listeners. They are separate so
// the cattle listener can be bound to a provider-internal address that
// spawned instances can reach while the orchestrator listener stays on
// an operator-only interface.
type ListenConfig struct {
	// Orchestrator is the bind address for the job control API.
	// Default: 127.0.0.1:7601
	Orchestrator string `yaml:"orchestrator"`

	// Cattle is the bind address for the bootstrap-token redemption
	// API. Default: 127.0.0.1:7602. In production this is typically a
	// private-network address, never a public one.
	Cattle string `yaml:"cattle"`
}

// WorkerConfig configures the job worker loop.
type WorkerConfig struct {
	// Count is the number of concurrent workers. Default: 2.
	Count int `yaml:"count"`

	// PollInterval is how long an idle worker waits between claim
	// attempts. Default: 2s.
	PollInterval Duration `yaml:"poll_interval"`

	// LeaseDuration is how long a claimed job stays owned by a worker
	// before it becomes claimable again. Default: 60s.
	LeaseDuration Duration `yaml:"lease_duration"`

	// HeartbeatInterval is how often a worker extends its lease while
	// a handler runs. Must be shorter than LeaseDuration. Default: 20s.
	HeartbeatInterval Duration `yaml:"heartbeat_interval"`

	// MaxAttempts is how many times a job is tried before it is marked
	// failed for good. Default: 3.
	MaxAttempts int `yaml:"max_attempts"`

	// RetryBase and RetryMax bound the fixed delay before a failed
	// attempt becomes claimable again. The delay is min(RetryMax,
	// RetryBase), deliberately not exponential, so a flapping
	// provider outage is retried at a steady, predictable cadence.
	// Defaults: 30s and 5m.
	RetryBase Duration `yaml:"retry_base"`
	RetryMax  Duration `yaml:"retry_max"`
}

// FleetConfig configures the cattle fleet.
type FleetConfig struct {
	// Name prefixes every instance name and labels every instance
	// this daemon manages. Must be a lowercase DNS-style label.
	// Default: molt.
	Name string `yaml:"name"`

	// MaxInstances caps concurrently live instances. Spawn jobs fail
	// (non-retryable) once the cap is reached. Default: 10.
	MaxInstances int `yaml:"max_instances"`

	// DefaultTTL is the instance lifetime when the spawn payload does
	// not carry one. Default: 2h.
	DefaultTTL Duration `yaml:"default_ttl"`

	// Image, ServerType, and Location are the provider defaults used
	// when the spawn payload does not override them.
	Image      string `yaml:"image"`
	ServerType string `yaml:"server_type"`
	Location   string `yaml:"location"`

	// SSHPublicKeyFile, when set, is an operator SSH public key
	// installed on every spawned instance for debugging. Optional.
	SSHPublicKeyFile string `yaml:"ssh_public_key_file"`

	// CattleAPIURL is the URL spawned instances use to redeem their
	// bootstrap token. It must resolve to the Listen.Cattle address
	// from inside the provider network. Default: http://127.0.0.1:7602.
	CattleAPIURL string `yaml:"cattle_api_url"`
}

// HetznerConfig configures cloud provider access.
type HetznerConfig struct {
	// TokenFile is the path of a file containing the Hetzner Cloud API
	// token. Read at startup; never stored in this struct.
	// Default: /etc/moltletd/hetzner-token.
	TokenFile string `yaml:"token_file"`

	// APIURL is the provider API base URL. Override only in tests.
	// Default: https://api.hetzner.cloud/v1.
	APIURL string `yaml:"api_url"`
}

// PersonasConfig configures persona definition loading.
type PersonasConfig struct {
	// Dir is the directory containing one subdirectory per persona.
	// Default: /etc/moltletd/personas.
	Dir string `yaml:"dir"`
}

// BootstrapConfig configures one-time bootstrap tokens.
type BootstrapConfig struct {
	// TokenTTL bounds the window between instance creation and token
	// redemption. A token unredeemed after this long is dead even if
	// the instance eventually boots. Default: 15m.
	TokenTTL Duration `yaml:"token_ttl"`
}

// RetentionConfig configures pruning of finished jobs and spent tokens.
type RetentionConfig struct {
	// KeepDays is how long terminal jobs (and their event logs) are
	// kept before the sweep deletes them. Default: 14.
	KeepDays int `yaml:"keep_days"`

	// SweepInterval is how often the retention sweep runs. Default: 1h.
	SweepInterval Duration `yaml:"sweep_interval"`
}

// ReapConfig configures the scheduled expiry sweep over live instances.
type ReapConfig struct {
	// Schedule is a five-field cron expression for enqueueing reap
	// jobs. Default: */5 * * * *.
	Schedule string `yaml:"schedule"`

	// DryRun makes scheduled reaps report expired instances without
	// deleting them. Default: true (development), false (production).
	DryRun bool `yaml:"dry_run"`
}

// fleetNamePattern is the shape required of Fleet.Name: it prefixes
// instance hostnames, so it must be a valid lowercase DNS label.
var fleetNamePattern = regexp.MustCompile(`^[a-z0-9]([a-z0-9-]{0,30}[a-z0-9])?$`)

// Default returns the default configuration. These defaults are used
// as a base before loading the config file. They exist primarily to
// ensure all fields have sensible zero-values, not as a fallback; the
// config file is required.
func Default() *Config {
	homeDir, _ := os.UserHomeDir()

	return &Config{
		Environment: Development,
		Database: DatabaseConfig{
			Path: filepath.Join(homeDir, ".local", "state", "moltletd", "queue.db"),
		},
		Listen: ListenConfig{
			Orchestrator: "127.0.0.1:7601",
			Cattle:       "127.0.0.1:7602",
		},
		Worker: WorkerConfig{
			Count:             2,
			PollInterval:      Duration(2 * time.Second),
			LeaseDuration:     Duration(60 * time.Second),
			HeartbeatInterval: Duration(20 * time.Second),
			MaxAttempts:       3,
			RetryBase:         Duration(30 * time.Second),
			RetryMax:          Duration(5 * time.Minute),
		},
		Fleet: FleetConfig{
			Name:         "molt",
			MaxInstances: 10,
			DefaultTTL:   Duration(2 * time.Hour),
			Image:        "ubuntu-24.04",
			ServerType:   "cpx21",
			Location:     "fsn1",
			CattleAPIURL: "http://127.0.0.1:7602",
		},
		Hetzner: HetznerConfig{
			TokenFile: "/etc/moltletd/hetzner-token",
			APIURL:    "https://api.hetzner.cloud/v1",
		},
		Personas: PersonasConfig{
			Dir: "/etc/moltletd/personas",
		},
		Bootstrap: BootstrapConfig{
			TokenTTL: Duration(15 * time.Minute),
		},
		Retention: RetentionConfig{
			KeepDays:      14,
			SweepInterval: Duration(time.Hour),
		},
		Reap: ReapConfig{
			Schedule: "*/5 * * * *",
			DryRun:   true,
		},
	}
}

// Load loads configuration from the MOLTLETD_CONFIG environment
// variable.
//
// This is the only way to load configuration without an explicit path.
// There are no fallbacks or defaults: if MOLTLETD_CONFIG is not set,
// this fails. This ensures deterministic, auditable configuration with
// no hidden overrides.
func Load() (*Config, error) {
	configPath := os.Getenv("MOLTLETD_CONFIG")
	if configPath == "" {
		return nil, fmt.Errorf("MOLTLETD_CONFIG environment variable not set; " +
			"set it to the path of your moltletd.yaml config file, or use --config flag")
	}

	return LoadFile(configPath)
}

// LoadFile loads configuration from a specific file path.
//
// The config file is the single source of truth. Environment variables
// do not override config values. The only expansion performed is
// ${HOME} and similar path variables for portability.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing %s: %w", path, err)
	}

	// Apply environment-specific overrides (development/staging/
	// production sections in the file).
	cfg.applyEnvironmentOverrides()

	// Expand ${HOME} and similar variables in paths for portability.
	cfg.expandVariables()

	return cfg, nil
}

// applyEnvironmentOverrides applies the environment-specific overrides.
func (c *Config) applyEnvironmentOverrides() {
	var overrides *ConfigOverrides

	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
		// Production default: scheduled reaps actually delete.
		if overrides == nil {
			overrides = &ConfigOverrides{
				Reap: &ReapConfig{DryRun: false},
			}
		}
	}

	if overrides == nil {
		return
	}

	if overrides.Database != nil {
		if overrides.Database.Path != "" {
			c.Database.Path = overrides.Database.Path
		}
		if overrides.Database.PoolSize > 0 {
			c.Database.PoolSize = overrides.Database.PoolSize
		}
	}

	if overrides.Listen != nil {
		if overrides.Listen.Orchestrator != "" {
			c.Listen.Orchestrator = overrides.Listen.Orchestrator
		}
		if overrides.Listen.Cattle != "" {
			c.Listen.Cattle = overrides.Listen.Cattle
		}
	}

	if overrides.Worker != nil {
		if overrides.Worker.Count > 0 {
			c.Worker.Count = overrides.Worker.Count
		}
		if overrides.Worker.PollInterval > 0 {
			c.Worker.PollInterval = overrides.Worker.PollInterval
		}
		if overrides.Worker.LeaseDuration > 0 {
			c.Worker.LeaseDuration = overrides.Worker.LeaseDuration
		}
		if overrides.Worker.HeartbeatInterval > 0 {
			c.Worker.HeartbeatInterval = overrides.Worker.HeartbeatInterval
		}
		if overrides.Worker.MaxAttempts > 0 {
			c.Worker.MaxAttempts = overrides.Worker.MaxAttempts
		}
		if overrides.Worker.RetryBase > 0 {
			c.Worker.RetryBase = overrides.Worker.RetryBase
		}
		if overrides.Worker.RetryMax > 0 {
			c.Worker.RetryMax = overrides.Worker.RetryMax
		}
	}

	if overrides.Fleet != nil {
		if overrides.Fleet.Name != "" {
			c.Fleet.Name = overrides.Fleet.Name
		}
		if overrides.Fleet.MaxInstances > 0 {
			c.Fleet.MaxInstances = overrides.Fleet.MaxInstances
		}
		if overrides.Fleet.DefaultTTL > 0 {
			c.Fleet.DefaultTTL = overrides.Fleet.DefaultTTL
		}
		if overrides.Fleet.Image != "" {
			c.Fleet.Image = overrides.Fleet.Image
		}
		if overrides.Fleet.ServerType != "" {
			c.Fleet.ServerType = overrides.Fleet.ServerType
		}
		if overrides.Fleet.Location != "" {
			c.Fleet.Location = overrides.Fleet.Location
		}
		if overrides.Fleet.SSHPublicKeyFile != "" {
			c.Fleet.SSHPublicKeyFile = overrides.Fleet.SSHPublicKeyFile
		}
		if overrides.Fleet.CattleAPIURL != "" {
			c.Fleet.CattleAPIURL = overrides.Fleet.CattleAPIURL
		}
	}

	if overrides.Reap != nil {
		if overrides.Reap.Schedule != "" {
			c.Reap.Schedule = overrides.Reap.Schedule
		}
		// DryRun is a bool, so we always apply it from overrides.
		c.Reap.DryRun = overrides.Reap.DryRun
	}
}

// expandVariables expands ${VAR} and ${VAR:-default} patterns in path
// fields.
func (c *Config) expandVariables() {
	vars := map[string]string{
		"HOME": os.Getenv("HOME"),
	}

	c.Database.Path = expandVars(c.Database.Path, vars)
	c.Personas.Dir = expandVars(c.Personas.Dir, vars)
	c.Hetzner.TokenFile = expandVars(c.Hetzner.TokenFile, vars)
	c.Fleet.SSHPublicKeyFile = expandVars(c.Fleet.SSHPublicKeyFile, vars)
}

// expandVars expands ${VAR} and ${VAR:-default} patterns.
var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		if len(parts) < 2 {
			return match
		}

		name := parts[1]
		defaultValue := ""
		if len(parts) >= 3 {
			defaultValue = parts[2]
		}

		// Check provided vars first, then environment.
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return defaultValue
	})
}

// Validate checks the configuration for errors.
func (c *Config) Validate() error {
	var errs []error

	if c.Environment != Development && c.Environment != Staging && c.Environment != Production {
		errs = append(errs, fmt.Errorf("invalid environment: %s", c.Environment))
	}

	if c.Database.Path == "" {
		errs = append(errs, fmt.Errorf("database.path is required"))
	}
	if c.Listen.Orchestrator == "" {
		errs = append(errs, fmt.Errorf("listen.orchestrator is required"))
	}
	if c.Listen.Cattle == "" {
		errs = append(errs, fmt.Errorf("listen.cattle is required"))
	}

	if c.Worker.Count < 1 {
		errs = append(errs, fmt.Errorf("worker.count must be at least 1"))
	}
	if c.Worker.MaxAttempts < 1 {
		errs = append(errs, fmt.Errorf("worker.max_attempts must be at least 1"))
	}
	for _, d := range []struct {
		name  string
		value Duration
	}{
		{"worker.poll_interval", c.Worker.PollInterval},
		{"worker.lease_duration", c.Worker.LeaseDuration},
		{"worker.heartbeat_interval", c.Worker.HeartbeatInterval},
		{"worker.retry_base", c.Worker.RetryBase},
		{"worker.retry_max", c.Worker.RetryMax},
		{"fleet.default_ttl", c.Fleet.DefaultTTL},
		{"bootstrap.token_ttl", c.Bootstrap.TokenTTL},
		{"retention.sweep_interval", c.Retention.SweepInterval},
	} {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.name))
		}
	}
	if c.Worker.HeartbeatInterval >= c.Worker.LeaseDuration {
		errs = append(errs, fmt.Errorf(
			"worker.heartbeat_interval (%s) must be shorter than worker.lease_duration (%s), "+
				"or leases expire out from under running handlers",
			c.Worker.HeartbeatInterval.Std(), c.Worker.LeaseDuration.Std()))
	}

	if !fleetNamePattern.MatchString(c.Fleet.Name) {
		errs = append(errs, fmt.Errorf(
			"fleet.name %q must be a lowercase DNS label (it prefixes instance hostnames)", c.Fleet.Name))
	}
	if c.Fleet.MaxInstances < 1 {
		errs = append(errs, fmt.Errorf("fleet.max_instances must be at least 1"))
	}
	if c.Fleet.CattleAPIURL == "" {
		errs = append(errs, fmt.Errorf("fleet.cattle_api_url is required"))
	} else if parsed, err := url.Parse(c.Fleet.CattleAPIURL); err != nil ||
		(parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		errs = append(errs, fmt.Errorf("fleet.cattle_api_url %q must be an http(s) URL", c.Fleet.CattleAPIURL))
	}

	if c.Hetzner.TokenFile == "" {
		errs = append(errs, fmt.Errorf("hetzner.token_file is required"))
	}
	if c.Personas.Dir == "" {
		errs = append(errs, fmt.Errorf("personas.dir is required"))
	}

	if c.Retention.KeepDays < 1 {
		errs = append(errs, fmt.Errorf("retention.keep_days must be at least 1"))
	}

	// The schedule's full grammar is checked where the cron entry is
	// registered; here we only catch the obvious field-count mistake.
	if fields := strings.Fields(c.Reap.Schedule); len(fields) != 5 {
		errs = append(errs, fmt.Errorf("reap.schedule %q must have five fields", c.Reap.Schedule))
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}
