// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cli

import (
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/regenrek/moltlets-sub007/lib/fleetclient"
)

// Default listen addresses of a locally running moltletd. Overridable
// per invocation via flags or the MOLTCTL_API / MOLTCTL_CATTLE_API
// environment variables.
const (
	defaultAPIURL       = "http://127.0.0.1:7601"
	defaultCattleAPIURL = "http://127.0.0.1:7602"
)

// Connection carries the flags shared by every command that talks to
// the orchestrator API. Embed it in a params struct; [BindFlags]
// detects the [FlagBinder] implementation and calls AddFlags.
type Connection struct {
	// APIURL is the orchestrator API base URL.
	APIURL string

	// Timeout bounds each HTTP request.
	Timeout time.Duration
}

// AddFlags registers --api and --timeout, satisfying [FlagBinder].
// The --api default honors the MOLTCTL_API environment variable so
// scripts can point a whole session at a remote daemon once.
func (c *Connection) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.APIURL, "api", envOr("MOLTCTL_API", defaultAPIURL), "orchestrator API base URL")
	flagSet.DurationVar(&c.Timeout, "timeout", 30*time.Second, "HTTP request timeout")
}

// Client builds an orchestrator API client from the parsed flags.
func (c *Connection) Client(logger *slog.Logger) (*fleetclient.Client, error) {
	return fleetclient.New(fleetclient.Config{
		BaseURL:    c.APIURL,
		HTTPClient: &http.Client{Timeout: c.Timeout},
		Logger:     logger,
	})
}

// CattleConnection carries the flags for commands that talk to the
// cattle bootstrap API instead of the orchestrator. Only "cattle env"
// uses it; everything else goes through [Connection].
type CattleConnection struct {
	// APIURL is the cattle bootstrap API base URL.
	APIURL string

	// Timeout bounds each HTTP request.
	Timeout time.Duration
}

// AddFlags registers --cattle-api and --timeout, satisfying
// [FlagBinder]. The --cattle-api default honors MOLTCTL_CATTLE_API.
func (c *CattleConnection) AddFlags(flagSet *pflag.FlagSet) {
	flagSet.StringVar(&c.APIURL, "cattle-api", envOr("MOLTCTL_CATTLE_API", defaultCattleAPIURL), "cattle bootstrap API base URL")
	flagSet.DurationVar(&c.Timeout, "timeout", 30*time.Second, "HTTP request timeout")
}

// CattleClient builds a cattle bootstrap API client from the parsed
// flags.
func (c *CattleConnection) CattleClient(logger *slog.Logger) (*fleetclient.CattleClient, error) {
	return fleetclient.NewCattle(fleetclient.Config{
		BaseURL:    c.APIURL,
		HTTPClient: &http.Client{Timeout: c.Timeout},
		Logger:     logger,
	})
}

// DefaultRequester returns the requester identity used when a command
// does not set one explicitly: the invoking user's name, or "moltctl"
// when the environment does not say.
func DefaultRequester() string {
	if user := os.Getenv("USER"); user != "" {
		return user
	}
	return "moltctl"
}

func envOr(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
