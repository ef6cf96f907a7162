// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	cattlecmd "github.com/regenrek/moltlets-sub007/cmd/moltctl/cattle"
	"github.com/regenrek/moltlets-sub007/cmd/moltctl/cli"
	jobscmd "github.com/regenrek/moltlets-sub007/cmd/moltctl/jobs"
	personacmd "github.com/regenrek/moltlets-sub007/cmd/moltctl/personas"
	statuscmd "github.com/regenrek/moltlets-sub007/cmd/moltctl/status"
	"github.com/regenrek/moltlets-sub007/lib/version"
)

func main() {
	if err := run(); err != nil {
		// Commands that print their own output (like "jobs wait")
		// return an ExitError with the desired exit code. Don't print
		// a redundant "error:" line for those.
		if coder, ok := err.(interface{ ExitCode() int }); ok {
			os.Exit(coder.ExitCode())
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return rootCommand().Execute(ctx, os.Args[1:], cli.NewCommandLogger())
}

// rootCommand builds the complete moltctl command tree.
func rootCommand() *cli.Command {
	return &cli.Command{
		Name: "moltctl",
		Description: `Moltctl: fleet control for moltletd.

Enqueue and inspect jobs, spawn and reap cattle instances, redeem
bootstrap tokens, and browse persona definitions against a running
moltletd daemon.`,
		Subcommands: []*cli.Command{
			jobscmd.Command(),
			cattlecmd.Command(),
			personacmd.Command(),
			statuscmd.Command(),
			{
				Name:    "version",
				Summary: "Print version information",
				Run: func(_ context.Context, args []string, _ *slog.Logger) error {
					fmt.Printf("moltctl %s\n", version.Full())
					return nil
				},
			},
		},
		Examples: []cli.Example{
			{
				Description: "Spawn a cattle instance running the rex persona",
				Command:     "moltctl cattle spawn --persona rex",
			},
			{
				Description: "Watch the job queue in a live dashboard",
				Command:     "moltctl jobs watch",
			},
			{
				Description: "List jobs still waiting for a worker",
				Command:     "moltctl jobs list --status queued",
			},
			{
				Description: "Dry-run a reap sweep to see what would be deleted",
				Command:     "moltctl cattle reap --dry-run",
			},
			{
				Description: "Print daemon status",
				Command:     "moltctl status",
			},
			{
				Description: "Redeem a bootstrap token from inside a cattle instance",
				Command:     "eval \"$(moltctl cattle env)\"",
			},
		},
	}
}
