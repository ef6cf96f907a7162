// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package jobs

import "github.com/regenrek/moltlets-sub007/cmd/moltctl/cli"

// Command returns the "jobs" subcommand group.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "jobs",
		Summary: "Job queue operations",
		Description: `Commands for the moltletd job queue.

Enqueue submits work, list and show inspect it, cancel stops it, and
watch opens a live dashboard over the whole queue.

All commands talk to the orchestrator API (default
http://127.0.0.1:7601, override with --api or MOLTCTL_API).`,
		Subcommands: []*cli.Command{
			enqueueCommand(),
			listCommand(),
			showCommand(),
			waitCommand(),
			cancelCommand(),
			watchCommand(),
		},
		Examples: []cli.Example{
			{
				Description: "Enqueue a spawn job directly",
				Command:     `moltctl jobs enqueue --kind cattle.spawn --payload '{"persona":"rex"}'`,
			},
			{
				Description: "List failed jobs",
				Command:     "moltctl jobs list --status failed",
			},
			{
				Description: "Show one job with its audit trail",
				Command:     "moltctl jobs show job-0011223344556677",
			},
			{
				Description: "Watch the queue in a live dashboard",
				Command:     "moltctl jobs watch",
			},
		},
	}
}
