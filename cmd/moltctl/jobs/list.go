// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/regenrek/moltlets-sub007/cmd/moltctl/cli"
	"github.com/regenrek/moltlets-sub007/lib/fleetclient"
	"github.com/regenrek/moltlets-sub007/lib/queue"
)

type listParams struct {
	cli.Connection
	cli.JSONOutput
	Requester string `flag:"requester" desc:"filter by requester"`
	Status    string `flag:"status" desc:"filter by status (queued, running, done, failed, canceled)"`
	Kind      string `flag:"kind" desc:"filter by job kind"`
	Limit     int    `flag:"limit" desc:"maximum rows (daemon default 100)"`
}

func listCommand() *cli.Command {
	var params listParams

	return &cli.Command{
		Name:    "list",
		Summary: "List jobs in the queue",
		Description: `List jobs, newest first, optionally filtered by requester, status,
or kind. The daemon caps the result count; use --limit to lower it.`,
		Usage: "moltctl jobs list [flags]",
		Examples: []cli.Example{
			{
				Description: "List everything the daemon still remembers",
				Command:     "moltctl jobs list",
			},
			{
				Description: "List running spawns",
				Command:     "moltctl jobs list --status running --kind cattle.spawn",
			},
			{
				Description: "List your own jobs as JSON",
				Command:     "moltctl jobs list --requester $USER --json",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("list", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			return runList(ctx, &params, logger)
		},
	}
}

func runList(ctx context.Context, params *listParams, logger *slog.Logger) error {
	client, err := params.Connection.Client(logger)
	if err != nil {
		return err
	}

	jobs, err := client.Jobs(ctx, fleetclient.JobsQuery{
		Requester: params.Requester,
		Status:    params.Status,
		Kind:      params.Kind,
		Limit:     params.Limit,
	})
	if err != nil {
		return fmt.Errorf("list jobs: %w", err)
	}

	if done, err := params.EmitJSON(jobs); done {
		return err
	}

	if len(jobs) == 0 {
		fmt.Fprintln(os.Stderr, "no jobs found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "JOB\tKIND\tSTATUS\tATTEMPT\tREQUESTER\tCREATED")
	for _, job := range jobs {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			job.ID,
			job.Kind,
			statusCell(job),
			job.Attempt, job.MaxAttempts,
			job.Requester,
			humanize.Time(job.CreatedAt),
		)
	}
	writer.Flush()

	return nil
}

// statusCell renders the status column, carrying the lease holder for
// running jobs so an operator can see which worker has the job.
func statusCell(job queue.Job) string {
	if job.Status == queue.StatusRunning && job.LockedBy != "" {
		return fmt.Sprintf("%s (%s)", job.Status, job.LockedBy)
	}
	return string(job.Status)
}
