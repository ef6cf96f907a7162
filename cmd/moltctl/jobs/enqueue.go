// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/pflag"

	"github.com/regenrek/moltlets-sub007/cmd/moltctl/cli"
	"github.com/regenrek/moltlets-sub007/lib/fleetclient"
	"github.com/regenrek/moltlets-sub007/lib/queue"
)

type enqueueParams struct {
	cli.Connection
	cli.JSONOutput
	Kind           string `flag:"kind" desc:"job kind (cattle.spawn or cattle.reap)"`
	Payload        string `flag:"payload" desc:"kind-specific JSON payload"`
	PayloadFile    string `flag:"payload-file" desc:"read the payload from a file instead"`
	Requester      string `flag:"requester" desc:"requester identity (defaults to $USER)"`
	IdempotencyKey string `flag:"idempotency-key" desc:"dedup key; repeating it returns the first job"`
}

func enqueueCommand() *cli.Command {
	var params enqueueParams

	return &cli.Command{
		Name:    "enqueue",
		Summary: "Submit a job to the queue",
		Description: `Submit a job for the worker pool to execute.

This is the low-level entry point: the payload is passed to the daemon
verbatim. For spawning and reaping cattle, prefer "moltctl cattle
spawn" and "moltctl cattle reap", which build the payload from typed
flags.

With --idempotency-key, retrying the same enqueue (same requester and
key) returns the original job instead of creating a duplicate.`,
		Usage: "moltctl jobs enqueue --kind <kind> [flags]",
		Examples: []cli.Example{
			{
				Description: "Enqueue a spawn job",
				Command:     `moltctl jobs enqueue --kind cattle.spawn --payload '{"persona":"rex"}'`,
			},
			{
				Description: "Enqueue a reap sweep, deduplicated per hour",
				Command:     `moltctl jobs enqueue --kind cattle.reap --idempotency-key reap-$(date +%H)`,
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("enqueue", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			return runEnqueue(ctx, &params, logger)
		},
	}
}

func runEnqueue(ctx context.Context, params *enqueueParams, logger *slog.Logger) error {
	// Re-validate the kind locally so a typo fails before the request
	// leaves the machine.
	kind, err := queue.ParseKind(params.Kind)
	if err != nil {
		return err
	}

	payload, err := resolvePayload(params.Payload, params.PayloadFile)
	if err != nil {
		return err
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
		Kind:           string(kind),
		Payload:        payload,
	})
	if err != nil {
		return fmt.Errorf("enqueue: %w", err)
	}

	if done, err := params.EmitJSON(result); done {
		return err
	}

	if result.Deduped {
		fmt.Printf("%s (already enqueued)\n", result.JobID)
		return nil
	}
	fmt.Println(result.JobID)
	return nil
}

// resolvePayload returns the payload JSON from --payload or
// --payload-file, validating it client-side so a malformed document
// fails with a file-level error instead of a daemon 400.
func resolvePayload(inline, file string) (json.RawMessage, error) {
	if inline != "" && file != "" {
		return nil, fmt.Errorf("--payload and --payload-file are mutually exclusive")
	}
	raw := []byte(inline)
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading payload file: %w", err)
		}
		raw = data
	}
	if len(raw) == 0 {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return json.RawMessage(raw), nil
}
