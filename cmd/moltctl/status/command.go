// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// Package status implements "moltctl status", the daemon self-report.
package status

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/regenrek/moltlets-sub007/cmd/moltctl/cli"
	"github.com/regenrek/moltlets-sub007/lib/queue"
)

type statusParams struct {
	cli.Connection
	cli.JSONOutput
}

// Command returns the status command.
func Command() *cli.Command {
	var params statusParams

	return &cli.Command{
		Name:    "status",
		Summary: "Show daemon health and queue statistics",
		Description: `Fetch the daemon's self-report: build identity, fleet name, uptime,
job counts per status, live bootstrap tokens, and storage headroom.

A reachable daemon answering this is the basic liveness check; the
numbers tell you whether it is keeping up.`,
		Usage: "moltctl status [flags]",
		Examples: []cli.Example{
			{
				Description: "Human-readable report",
				Command:     "moltctl status",
			},
			{
				Description: "Queued-job count for scripts",
				Command:     "moltctl status --json | jq .queue.jobs.queued",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("status", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			return runStatus(ctx, &params, logger)
		},
	}
}

// jobStatusOrder fixes the display order to the job lifecycle.
var jobStatusOrder = []queue.Status{
	queue.StatusQueued,
	queue.StatusRunning,
	queue.StatusDone,
	queue.StatusFailed,
	queue.StatusCanceled,
}

func runStatus(ctx context.Context, params *statusParams, logger *slog.Logger) error {
	client, err := params.Connection.Client(logger)
	if err != nil {
		return err
	}

	status, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("fetching status: %w", err)
	}

	if done, err := params.EmitJSON(status); done {
		return err
	}

	version := status.Version
	if status.Commit != "" {
		version += " (" + status.Commit + ")"
	}

	fmt.Printf("Fleet:        %s\n", status.Fleet)
	fmt.Printf("Environment:  %s\n", status.Environment)
	fmt.Printf("Version:      %s\n", version)
	fmt.Printf("Started:      %s (%s)\n",
		status.StartedAt.UTC().Format(time.RFC3339), humanize.Time(status.StartedAt))
	fmt.Printf("Uptime:       %s\n", status.Uptime)

	fmt.Println("\nQueue:")
	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	for _, jobStatus := range jobStatusOrder {
		fmt.Fprintf(writer, "  %s\t%d\n", jobStatus, status.Queue.Jobs[jobStatus])
	}
	if err := writer.Flush(); err != nil {
		return err
	}

	fmt.Printf("\nLive tokens:  %d\n", status.Queue.LiveTokens)
	fmt.Printf("Database:     %s (%s free)\n",
		humanize.Bytes(uint64(status.Queue.DatabaseSizeBytes)),
		humanize.Bytes(uint64(status.Queue.DiskFreeBytes)))
	return nil
}
