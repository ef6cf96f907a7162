// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobs

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"maps"
	"os"
	"slices"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/pflag"

	"github.com/regenrek/moltlets-sub007/cmd/moltctl/cli"
	"github.com/regenrek/moltlets-sub007/lib/queue"
)

type showParams struct {
	cli.Connection
	cli.JSONOutput
}

// showResult is the JSON output of the show command: the job plus its
// audit trail in one document.
type showResult struct {
	Job    queue.Job     `json:"job"`
	Events []queue.Event `json:"events"`
}

func showCommand() *cli.Command {
	var params showParams

	return &cli.Command{
		Name:    "show",
		Summary: "Show one job and its audit trail",
		Description: `Display a job's full state: lifecycle position, attempt count, lease
holder, payload, result, and the append-only event trail recording
every transition the job went through.`,
		Usage: "moltctl jobs show <job-id> [flags]",
		Examples: []cli.Example{
			{
				Description: "Show a job",
				Command:     "moltctl jobs show job-0011223344556677",
			},
			{
				Description: "Show a job as JSON for scripting",
				Command:     "moltctl jobs show job-0011223344556677 --json",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("show", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: moltctl jobs show <job-id>")
			}
			return runShow(ctx, &params, args[0], logger)
		},
	}
}

func runShow(ctx context.Context, params *showParams, jobID string, logger *slog.Logger) error {
	client, err := params.Connection.Client(logger)
	if err != nil {
		return err
	}

	job, err := client.Job(ctx, jobID)
	if err != nil {
		return fmt.Errorf("fetch job: %w", err)
	}
	events, err := client.Events(ctx, jobID)
	if err != nil {
		return fmt.Errorf("fetch events: %w", err)
	}

	if done, err := params.EmitJSON(showResult{Job: *job, Events: events}); done {
		return err
	}

	fmt.Printf("Job:        %s\n", job.ID)
	fmt.Printf("Kind:       %s\n", job.Kind)
	fmt.Printf("Status:     %s\n", job.Status)
	fmt.Printf("Requester:  %s\n", job.Requester)
	if job.IdempotencyKey != "" {
		fmt.Printf("Dedup key:  %s\n", job.IdempotencyKey)
	}
	fmt.Printf("Attempt:    %d/%d\n", job.Attempt, job.MaxAttempts)
	fmt.Printf("Created:    %s\n", formatWhen(job.CreatedAt))
	fmt.Printf("Updated:    %s\n", formatWhen(job.UpdatedAt))
	if job.Status == queue.StatusQueued {
		fmt.Printf("Run at:     %s\n", formatWhen(job.RunAt))
	}
	if job.LockedBy != "" {
		lease := ""
		if job.LeaseExpiresAt != nil {
			lease = fmt.Sprintf(" (lease expires %s)", formatWhen(*job.LeaseExpiresAt))
		}
		fmt.Printf("Locked by:  %s%s\n", job.LockedBy, lease)
	}
	if job.LastError != "" {
		fmt.Printf("Last error: %s\n", job.LastError)
	}
	if len(job.Payload) > 0 {
		fmt.Printf("Payload:    %s\n", compactJSON(job.Payload))
	}
	if job.Result != nil {
		encoded, err := json.Marshal(job.Result)
		if err == nil {
			fmt.Printf("Result:     %s\n", encoded)
		}
	}

	if len(events) > 0 {
		fmt.Printf("\nEvents:\n")
		writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(writer, "  AT\tTYPE\tATTEMPT\tDETAILS")
		for _, event := range events {
			fmt.Fprintf(writer, "  %s\t%s\t%d\t%s\n",
				event.At.UTC().Format(time.RFC3339),
				event.Type,
				event.Attempt,
				formatDetails(event.Details),
			)
		}
		writer.Flush()
	}

	return nil
}

// formatWhen renders a timestamp with its relative age, matching the
// dashboard's detail pane.
func formatWhen(when time.Time) string {
	return when.UTC().Format(time.RFC3339) + " (" + humanize.Time(when) + ")"
}

// compactJSON re-encodes raw JSON without insignificant whitespace.
// Falls back to the input verbatim if it will not compact, since show
// output must never hide stored state.
func compactJSON(raw json.RawMessage) string {
	var compact bytes.Buffer
	if err := json.Compact(&compact, raw); err != nil {
		return string(raw)
	}
	return compact.String()
}

// formatDetails renders an event's detail map as stable "k=v" pairs.
func formatDetails(details map[string]any) string {
	if len(details) == 0 {
		return "-"
	}
	keys := slices.Sorted(maps.Keys(details))
	pairs := make([]string, len(keys))
	for i, key := range keys {
		pairs[i] = fmt.Sprintf("%s=%v", key, details[key])
	}
	return strings.Join(pairs, " ")
}
