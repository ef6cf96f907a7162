// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cattle

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
	"github.com/regenrek/moltlets-sub007/lib/worker"
)

type spawnParams struct {
	cli.Connection
	cli.JSONOutput
	Persona         string `flag:"persona" desc:"persona to boot (required)"`
	TTL             string `flag:"ttl" desc:"instance lifetime, like 90m or 2h (persona default when unset)"`
	ServerType      string `flag:"server-type" desc:"override the provider server type"`
	Image           string `flag:"image" desc:"override the provider image"`
	Location        string `flag:"location" desc:"override the provider location"`
	NoAutoShutdown  bool   `flag:"no-auto-shutdown" desc:"keep the instance up after its task completes"`
	WithGithubToken bool   `flag:"with-github-token" desc:"scope the bootstrap token to include GITHUB_TOKEN"`
	Task            string `flag:"task" desc:"task document JSON, overriding the persona default"`
	TaskFile        string `flag:"task-file" desc:"read the task document from a file instead"`
	Requester       string `flag:"requester" desc:"requester identity (defaults to $USER)"`
	IdempotencyKey  string `flag:"idempotency-key" desc:"dedup key; repeating it returns the first job"`
}

func spawnCommand() *cli.Command {
	var params spawnParams

	return &cli.Command{
		Name:    "spawn",
		Summary: "Enqueue a cattle spawn job",
		Description: `Enqueue a job that boots a fresh cattle instance for a persona. The
daemon's worker pool picks the job up, creates the provider server
with a cloud-init bootstrap, and records the server details in the
job result ("moltctl jobs show" displays them).

Placement flags override the persona's defaults, which in turn
override the fleet configuration. The instance powers itself off when
its task completes unless --no-auto-shutdown is given.`,
		Usage: "moltctl cattle spawn --persona <name> [flags]",
		Examples: []cli.Example{
			{
				Description: "Boot rex with the persona's default lifetime",
				Command:     "moltctl cattle spawn --persona rex",
			},
			{
				Description: "Boot a long-lived instance on bigger hardware",
				Command:     "moltctl cattle spawn --persona rex --ttl 8h --server-type cpx41 --no-auto-shutdown",
			},
			{
				Description: "Boot with a one-off task document",
				Command:     `moltctl cattle spawn --persona rex --task '{"goal":"triage the crash reports"}'`,
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("spawn", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			return runSpawn(ctx, &params, logger)
		},
	}
}

func runSpawn(ctx context.Context, params *spawnParams, logger *slog.Logger) error {
	if params.Persona == "" {
		return fmt.Errorf("--persona is required")
	}

	task, err := resolveTask(params.Task, params.TaskFile)
	if err != nil {
		return err
	}

	payload := worker.SpawnPayload{
		Persona:         params.Persona,
		TTL:             params.TTL,
		ServerType:      params.ServerType,
		Image:           params.Image,
		Location:        params.Location,
		WithGithubToken: params.WithGithubToken,
		Task:            task,
	}
	if params.NoAutoShutdown {
		// Only an explicit opt-out goes on the wire. Absent, the
		// worker applies its default of true.
		disabled := false
		payload.AutoShutdown = &disabled
	}
	encoded, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding spawn payload: %w", err)
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
		Kind:           string(queue.KindCattleSpawn),
		Payload:        encoded,
	})
	if err != nil {
		return fmt.Errorf("enqueue spawn: %w", err)
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

// resolveTask returns the task JSON from --task or --task-file,
// validated client-side.
func resolveTask(inline, file string) (json.RawMessage, error) {
	if inline != "" && file != "" {
		return nil, fmt.Errorf("--task and --task-file are mutually exclusive")
	}
	raw := []byte(inline)
	if file != "" {
		data, err := os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("reading task file: %w", err)
		}
		raw = data
	}
	if len(raw) == 0 {
		return nil, nil
	}
	if !json.Valid(raw) {
		return nil, fmt.Errorf("task is not valid JSON")
	}
	return raw, nil
}
