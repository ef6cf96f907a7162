// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cattle

import (
	"github.com/regenrek/moltlets-sub007/cmd/moltctl/cli"
)

// Command returns the cattle command group.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "cattle",
		Summary: "Cattle lifecycle operations",
		Description: `Spawn and reap ephemeral cattle instances.

"spawn" and "reap" are typed front ends for the job queue: they build
the kind-specific payload from flags and enqueue through the
orchestrator API, so everything they do shows up in "moltctl jobs".
"env" talks to the separate cattle bootstrap API instead and redeems a
one-time token, which is what a freshly booted instance does.`,
		Examples: []cli.Example{
			{
				Description: "Boot a rex instance for two hours",
				Command:     "moltctl cattle spawn --persona rex --ttl 2h",
			},
			{
				Description: "See what a reap sweep would delete",
				Command:     "moltctl cattle reap --dry-run",
			},
			{
				Description: "Redeem a bootstrap token into the shell",
				Command:     `eval "$(moltctl cattle env)"`,
			},
		},
		Subcommands: []*cli.Command{
			spawnCommand(),
			reapCommand(),
			envCommand(),
		},
	}
}
