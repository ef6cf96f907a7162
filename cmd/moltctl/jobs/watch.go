// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/regenrek/moltlets-sub007/cmd/moltctl/cli"
	"github.com/regenrek/moltlets-sub007/lib/fleetclient"
	"github.com/regenrek/moltlets-sub007/lib/jobui"
)

type watchParams struct {
	cli.Connection

	Requester string        `flag:"requester" desc:"only watch jobs from this requester"`
	Status    string        `flag:"status" desc:"only watch jobs with this status"`
	Kind      string        `flag:"kind" desc:"only watch jobs of this kind"`
	Limit     int           `flag:"limit" desc:"maximum jobs to track" default:"100"`
	Interval  time.Duration `flag:"interval" desc:"poll interval" default:"2s"`
}

func watchCommand() *cli.Command {
	var params watchParams

	return &cli.Command{
		Name:    "watch",
		Summary: "Watch the job queue in a live terminal view",
		Description: `Open an interactive two-pane view of the job queue: a filterable job
list on the left, the selected job's payload and audit trail on the
right. The view polls the daemon on the configured interval, so it
tracks status changes, retries, and new work without restarting.

Press ? inside the view for key bindings; q quits.`,
		Usage: "moltctl jobs watch [flags]",
		Examples: []cli.Example{
			{
				Description: "Watch everything",
				Command:     "moltctl jobs watch",
			},
			{
				Description: "Watch one requester's spawns",
				Command:     "moltctl jobs watch --requester devteam --kind cattle.spawn",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("watch", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			return runWatch(ctx, &params, logger)
		},
	}
}

func runWatch(ctx context.Context, params *watchParams, logger *slog.Logger) error {
	client, err := params.Connection.Client(logger)
	if err != nil {
		return err
	}

	// Resolve the fleet name up front. This doubles as a connectivity
	// check so a wrong --api fails with a plain error instead of an
	// empty full-screen view.
	fleet := ""
	if status, err := client.Status(ctx); err == nil {
		fleet = status.Fleet
	} else {
		return err
	}

	source := &jobui.ClientSource{
		Client: client,
		Query: fleetclient.JobsQuery{
			Requester: params.Requester,
			Status:    params.Status,
			Kind:      params.Kind,
			Limit:     params.Limit,
		},
	}
	model := jobui.NewModel(jobui.Config{
		Source:       source,
		Fleet:        fleet,
		PollInterval: params.Interval,
	})

	program := tea.NewProgram(model, tea.WithAltScreen())
	_, err = program.Run()
	return err
}
