// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/spf13/pflag"

	"github.com/regenrek/moltlets-sub007/cmd/moltctl/cli"
	"github.com/regenrek/moltlets-sub007/lib/queue"
)

type waitParams struct {
	cli.Connection
	cli.JSONOutput
	Interval time.Duration `flag:"interval" desc:"poll interval" default:"2s"`
	Deadline time.Duration `flag:"deadline" desc:"give up after this long (0 waits forever)"`
}

func waitCommand() *cli.Command {
	var params waitParams

	return &cli.Command{
		Name:    "wait",
		Summary: "Block until a job reaches a terminal status",
		Description: `Poll a job until it is done, failed, or canceled, printing status
transitions along the way. The exit code reflects the outcome: 0 for
done, 1 for failed, 2 for canceled, so scripts can enqueue work and
branch on the result.

With --json the final job document is printed instead of the
transition log.`,
		Usage: "moltctl jobs wait <job-id> [flags]",
		Examples: []cli.Example{
			{
				Description: "Spawn and block until the instance exists",
				Command:     `moltctl jobs wait "$(moltctl cattle spawn --persona rex)"`,
			},
			{
				Description: "Give up after five minutes",
				Command:     "moltctl jobs wait job-0011223344556677 --deadline 5m",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("wait", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: moltctl jobs wait <job-id>")
			}
			return runWait(ctx, &params, args[0], logger)
		},
	}
}

func runWait(ctx context.Context, params *waitParams, jobID string, logger *slog.Logger) error {
	client, err := params.Connection.Client(logger)
	if err != nil {
		return err
	}

	if params.Deadline > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, params.Deadline)
		defer cancel()
	}

	var lastSeen queue.Status
	for {
		job, err := client.Job(ctx, jobID)
		if err != nil {
			return fmt.Errorf("fetching job %s: %w", jobID, err)
		}

		if job.Status != lastSeen {
			lastSeen = job.Status
			if !params.OutputJSON {
				line := fmt.Sprintf("%s %s", job.ID, job.Status)
				if job.Status == queue.StatusRunning {
					line += fmt.Sprintf(" (attempt %d/%d)", job.Attempt, job.MaxAttempts)
				}
				if job.Status == queue.StatusFailed && job.LastError != "" {
					line += ": " + job.LastError
				}
				fmt.Println(line)
			}
		}

		if job.Status.Terminal() {
			if done, err := params.EmitJSON(job); done {
				return err
			}
			switch job.Status {
			case queue.StatusFailed:
				return &cli.ExitError{Code: 1}
			case queue.StatusCanceled:
				return &cli.ExitError{Code: 2}
			}
			return nil
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for job %s: %w", jobID, ctx.Err())
		case <-time.After(params.Interval):
		}
	}
}
