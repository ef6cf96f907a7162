// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"testing"
	"time"

	"github.com/spf13/pflag"
)

func TestConnectionDefaults(t *testing.T) {
	// t.Setenv modifies the process environment, so no t.Parallel here.
	t.Setenv("MOLTCTL_API", "")

	var c Connection
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	c.AddFlags(flagSet)

	if err := flagSet.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if c.APIURL != "http://127.0.0.1:7601" {
		t.Errorf("APIURL = %q, want %q", c.APIURL, "http://127.0.0.1:7601")
	}
	if c.Timeout != 30*time.Second {
		t.Errorf("Timeout = %v, want 30s", c.Timeout)
	}
}

func TestConnectionEnvOverride(t *testing.T) {
	t.Setenv("MOLTCTL_API", "http://fleet.internal:7601")

	var c Connection
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	c.AddFlags(flagSet)

	if err := flagSet.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if c.APIURL != "http://fleet.internal:7601" {
		t.Errorf("APIURL = %q, want env value", c.APIURL)
	}
}

func TestConnectionFlagBeatsEnv(t *testing.T) {
	t.Setenv("MOLTCTL_API", "http://fleet.internal:7601")

	var c Connection
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	c.AddFlags(flagSet)

	if err := flagSet.Parse([]string{"--api", "http://10.1.2.3:7601"}); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if c.APIURL != "http://10.1.2.3:7601" {
		t.Errorf("APIURL = %q, want explicit flag value", c.APIURL)
	}
}

func TestConnectionClient(t *testing.T) {
	c := Connection{APIURL: "http://127.0.0.1:7601", Timeout: 5 * time.Second}
	client, err := c.Client(testLogger())
	if err != nil {
		t.Fatalf("Client: %v", err)
	}
	if client == nil {
		t.Fatal("Client returned nil client")
	}
}

func TestConnectionClientRejectsBadURL(t *testing.T) {
	c := Connection{APIURL: "ftp://fleet.internal", Timeout: 5 * time.Second}
	if _, err := c.Client(testLogger()); err == nil {
		t.Fatal("expected error for non-http URL")
	}
}

func TestCattleConnectionDefaults(t *testing.T) {
	t.Setenv("MOLTCTL_CATTLE_API", "")

	var c CattleConnection
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	c.AddFlags(flagSet)

	if err := flagSet.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if c.APIURL != "http://127.0.0.1:7602" {
		t.Errorf("APIURL = %q, want %q", c.APIURL, "http://127.0.0.1:7602")
	}

	client, err := c.CattleClient(testLogger())
	if err != nil {
		t.Fatalf("CattleClient: %v", err)
	}
	if client == nil {
		t.Fatal("CattleClient returned nil client")
	}
}

func TestCattleConnectionEnvOverride(t *testing.T) {
	t.Setenv("MOLTCTL_CATTLE_API", "http://10.9.8.7:7602")

	var c CattleConnection
	flagSet := pflag.NewFlagSet("test", pflag.ContinueOnError)
	c.AddFlags(flagSet)

	if err := flagSet.Parse(nil); err != nil {
		t.Fatalf("Parse: %v", err)
	}

	if c.APIURL != "http://10.9.8.7:7602" {
		t.Errorf("APIURL = %q, want env value", c.APIURL)
	}
}
