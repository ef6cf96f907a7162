// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/regenrek/moltlets-sub007/cmd/moltctl/cli"
)

type cancelParams struct {
	cli.Connection
}

func cancelCommand() *cli.Command {
	var params cancelParams

	return &cli.Command{
		Name:    "cancel",
		Summary: "Cancel queued or running jobs",
		Description: `Administratively stop one or more jobs. A queued job is removed from
contention immediately. A running job keeps its worker until the
worker's next lease interaction fails, at which point the execution
stops having any effect on the queue.

Canceling a job that already reached a terminal status is a no-op
success, so retrying a cancel is always safe.`,
		Usage: "moltctl jobs cancel <job-id> [<job-id>...]",
		Examples: []cli.Example{
			{
				Description: "Cancel one job",
				Command:     "moltctl jobs cancel job-0011223344556677",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("cancel", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) == 0 {
				return fmt.Errorf("usage: moltctl jobs cancel <job-id> [<job-id>...]")
			}
			return runCancel(ctx, &params, args, logger)
		},
	}
}

func runCancel(ctx context.Context, params *cancelParams, jobIDs []string, logger *slog.Logger) error {
	client, err := params.Connection.Client(logger)
	if err != nil {
		return err
	}

	var errs []error
	for _, jobID := range jobIDs {
		if err := client.Cancel(ctx, jobID); err != nil {
			errs = append(errs, fmt.Errorf("cancel %s: %w", jobID, err))
			continue
		}
		fmt.Printf("canceled %s\n", jobID)
	}
	return errors.Join(errs...)
}
