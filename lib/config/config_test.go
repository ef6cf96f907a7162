// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.Environment != Development {
		t.Errorf("expected environment=development, got %s", cfg.Environment)
	}

	if cfg.Listen.Orchestrator != "127.0.0.1:7601" {
		t.Errorf("expected orchestrator=127.0.0.1:7601, got %s", cfg.Listen.Orchestrator)
	}

	if cfg.Worker.LeaseDuration.Std() != 60*time.Second {
		t.Errorf("expected lease_duration=60s, got %s", cfg.Worker.LeaseDuration.Std())
	}

	if !cfg.Reap.DryRun {
		t.Error("expected dry_run=true for development")
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestLoad_RequiresMoltletdConfig(t *testing.T) {
	// Unset MOLTLETD_CONFIG - Load() should fail.
	t.Setenv("MOLTLETD_CONFIG", "")
	os.Unsetenv("MOLTLETD_CONFIG")

	_, err := Load()
	if err == nil {
		t.Fatal("expected error when MOLTLETD_CONFIG not set, got nil")
	}

	if !strings.HasPrefix(err.Error(), "MOLTLETD_CONFIG environment variable not set") {
		t.Errorf("unexpected error message: %q", err.Error())
	}
}

func TestLoad_WithMoltletdConfig(t *testing.T) {
	configPath := writeConfig(t, `
environment: staging
database:
  path: /test/queue.db
listen:
  orchestrator: 127.0.0.1:9001
`)
	t.Setenv("MOLTLETD_CONFIG", configPath)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() failed: %v", err)
	}

	if cfg.Environment != Staging {
		t.Errorf("expected environment=staging, got %s", cfg.Environment)
	}

	if cfg.Database.Path != "/test/queue.db" {
		t.Errorf("expected path=/test/queue.db, got %s", cfg.Database.Path)
	}
}

func TestLoadFile(t *testing.T) {
	configPath := writeConfig(t, `
environment: staging

database:
  path: /custom/queue.db

listen:
  orchestrator: 10.1.2.3:7601
  cattle: 10.1.2.3:7602

worker:
  count: 4
  poll_interval: 500ms
  lease_duration: 90s

fleet:
  name: herd
  max_instances: 25
  default_ttl: 4h

reap:
  schedule: "0 * * * *"
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Environment != Staging {
		t.Errorf("expected environment=staging, got %s", cfg.Environment)
	}

	if cfg.Database.Path != "/custom/queue.db" {
		t.Errorf("expected path=/custom/queue.db, got %s", cfg.Database.Path)
	}

	if cfg.Worker.Count != 4 {
		t.Errorf("expected count=4, got %d", cfg.Worker.Count)
	}

	if cfg.Worker.PollInterval.Std() != 500*time.Millisecond {
		t.Errorf("expected poll_interval=500ms, got %s", cfg.Worker.PollInterval.Std())
	}

	if cfg.Worker.LeaseDuration.Std() != 90*time.Second {
		t.Errorf("expected lease_duration=90s, got %s", cfg.Worker.LeaseDuration.Std())
	}

	// Unset fields keep their defaults.
	if cfg.Worker.HeartbeatInterval.Std() != 20*time.Second {
		t.Errorf("expected default heartbeat_interval=20s, got %s", cfg.Worker.HeartbeatInterval.Std())
	}

	if cfg.Fleet.Name != "herd" {
		t.Errorf("expected name=herd, got %s", cfg.Fleet.Name)
	}

	if cfg.Fleet.DefaultTTL.Std() != 4*time.Hour {
		t.Errorf("expected default_ttl=4h, got %s", cfg.Fleet.DefaultTTL.Std())
	}

	if cfg.Reap.Schedule != "0 * * * *" {
		t.Errorf("expected schedule=0 * * * *, got %s", cfg.Reap.Schedule)
	}
}

func TestBareIntegerDurationRejected(t *testing.T) {
	configPath := writeConfig(t, `
worker:
  poll_interval: 30
`)

	_, err := LoadFile(configPath)
	if err == nil {
		t.Fatal("expected error for bare integer duration, got nil")
	}
}

func TestEnvironmentOverrides(t *testing.T) {
	configPath := writeConfig(t, `
environment: production

database:
  path: /default/queue.db

worker:
  count: 2

production:
  database:
    path: /prod/queue.db
  worker:
    count: 8
  reap:
    dry_run: false
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	// Production overrides should be applied.
	if cfg.Database.Path != "/prod/queue.db" {
		t.Errorf("expected path=/prod/queue.db, got %s", cfg.Database.Path)
	}

	if cfg.Worker.Count != 8 {
		t.Errorf("expected count=8, got %d", cfg.Worker.Count)
	}

	if cfg.Reap.DryRun {
		t.Error("expected dry_run=false from production override")
	}
}

func TestProductionDefaultsLiveReaping(t *testing.T) {
	// A production config with no explicit production section still
	// flips scheduled reaps from dry-run to live deletion.
	configPath := writeConfig(t, `
environment: production
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Reap.DryRun {
		t.Error("expected dry_run=false in production")
	}
}

func TestEnvVarsDoNotOverride(t *testing.T) {
	// Environment variables must NOT override config file values. The
	// config file is the single source of truth.
	t.Setenv("MOLTLETD_DATABASE_PATH", "/env/queue.db")
	t.Setenv("MOLTLETD_ENVIRONMENT", "staging")

	configPath := writeConfig(t, `
environment: development
database:
  path: /file/queue.db
`)

	cfg, err := LoadFile(configPath)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	if cfg.Environment != Development {
		t.Errorf("expected environment=development from file, got %s (env vars should not override)", cfg.Environment)
	}

	if cfg.Database.Path != "/file/queue.db" {
		t.Errorf("expected path=/file/queue.db from file, got %s (env vars should not override)", cfg.Database.Path)
	}
}

func TestExpandVars(t *testing.T) {
	tests := []struct {
		input    string
		vars     map[string]string
		expected string
	}{
		{
			input:    "${HOME}/moltletd",
			vars:     map[string]string{"HOME": "/home/user"},
			expected: "/home/user/moltletd",
		},
		{
			input:    "${MISSING:-default}",
			vars:     map[string]string{},
			expected: "default",
		},
		{
			input:    "${PRESENT:-default}",
			vars:     map[string]string{"PRESENT": "value"},
			expected: "value",
		},
		{
			input:    "${A}/${B}",
			vars:     map[string]string{"A": "first", "B": "second"},
			expected: "first/second",
		},
		{
			input:    "no variables here",
			vars:     map[string]string{},
			expected: "no variables here",
		},
	}

	for _, tt := range tests {
		result := expandVars(tt.input, tt.vars)
		if result != tt.expected {
			t.Errorf("expandVars(%q) = %q, want %q", tt.input, result, tt.expected)
		}
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		modify  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid default config",
			modify:  func(c *Config) {},
			wantErr: false,
		},
		{
			name: "invalid environment",
			modify: func(c *Config) {
				c.Environment = "invalid"
			},
			wantErr: true,
		},
		{
			name: "empty database path",
			modify: func(c *Config) {
				c.Database.Path = ""
			},
			wantErr: true,
		},
		{
			name: "zero worker count",
			modify: func(c *Config) {
				c.Worker.Count = 0
			},
			wantErr: true,
		},
		{
			name: "negative poll interval",
			modify: func(c *Config) {
				c.Worker.PollInterval = Duration(-time.Second)
			},
			wantErr: true,
		},
		{
			name: "heartbeat not shorter than lease",
			modify: func(c *Config) {
				c.Worker.HeartbeatInterval = c.Worker.LeaseDuration
			},
			wantErr: true,
		},
		{
			name: "uppercase fleet name",
			modify: func(c *Config) {
				c.Fleet.Name = "Molt"
			},
			wantErr: true,
		},
		{
			name: "fleet name ending in dash",
			modify: func(c *Config) {
				c.Fleet.Name = "molt-"
			},
			wantErr: true,
		},
		{
			name: "cattle api url without scheme",
			modify: func(c *Config) {
				c.Fleet.CattleAPIURL = "10.0.0.2:7602"
			},
			wantErr: true,
		},
		{
			name: "six-field reap schedule",
			modify: func(c *Config) {
				c.Reap.Schedule = "0 */5 * * * *"
			},
			wantErr: true,
		},
		{
			name: "zero keep days",
			modify: func(c *Config) {
				c.Retention.KeepDays = 0
			},
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)

			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

// writeConfig writes a config file into a temp directory and returns
// its path.
func writeConfig(t *testing.T, content string) string {
	t.Helper()

	configPath := filepath.Join(t.TempDir(), "moltletd.yaml")
	if err := os.WriteFile(configPath, []byte(content), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return configPath
}
