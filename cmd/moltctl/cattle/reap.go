// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cattle

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/spf13/pflag"

	"github.com/regenrek/moltlets-sub007/cmd/moltctl/cli"
	"github.com/regenrek/moltlets-sub007/lib/fleetclient"
	"github.com/regenrek/moltlets-sub007/lib/queue"
	"github.com/regenrek/moltlets-sub007/lib/worker"
)

type reapParams struct {
	cli.Connection
	cli.JSONOutput
	DryRun         bool   `flag:"dry-run" desc:"report expired instances without deleting them"`
	Requester      string `flag:"requester" desc:"requester identity (defaults to $USER)"`
	IdempotencyKey string `flag:"idempotency-key" desc:"dedup key; repeating it returns the first job"`
}

func reapCommand() *cli.Command {
	var params reapParams

	return &cli.Command{
		Name:    "reap",
		Summary: "Enqueue a cattle reap sweep",
		Description: `Enqueue a sweep over the provider's cattle instances that deletes
every instance past its deadline. The deadline comes from each
instance's labels, so the sweep is stateless: it reaps instances
spawned by any daemon, including ones whose spawn job is long gone.

With --dry-run the job reports what it would delete and deletes
nothing. The daemon usually runs this on a schedule; enqueueing it by
hand is for catching up after downtime or inspecting the fleet.`,
		Usage: "moltctl cattle reap [flags]",
		Examples: []cli.Example{
			{
				Description: "Sweep now",
				Command:     "moltctl cattle reap",
			},
			{
				Description: "Preview without deleting",
				Command:     "moltctl cattle reap --dry-run",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("reap", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			return runReap(ctx, &params, logger)
		},
	}
}

func runReap(ctx context.Context, params *reapParams, logger *slog.Logger) error {
	encoded, err := json.Marshal(worker.ReapPayload{DryRun: params.DryRun})
	if err != nil {
		return fmt.Errorf("encoding reap payload: %w", err)
	}

	requester := params.Requester
	if requester == "" {
		requester = cli.DefaultRequester()
	}

	client, err := params.Connection.Client(logger)
	if err != nil {
		return err
	}

	result, err := client.Enqueue(ctx, fleetclient.EnqueueRequest{
		Requester:      requester,
		IdempotencyKey: params.IdempotencyKey,
		Kind:           string(queue.KindCattleReap),
		Payload:        encoded,
	})
	if err != nil {
		return fmt.Errorf("enqueue reap: %w", err)
	}

	if done, err := params.EmitJSON(result); done {
		return err
	}

	if result.Deduped {
		fmt.Printf("%s (already enqueued)\n", result.JobID)
		return nil
	}
	fmt.Printf("%s\nfollow it with: moltctl jobs show %s\n", result.JobID, result.JobID)
	return nil
}
