// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package personas

import (
	"github.com/regenrek/moltlets-sub007/cmd/moltctl/cli"
)

// Command returns the personas command group.
func Command() *cli.Command {
	return &cli.Command{
		Name:    "personas",
		Summary: "Inspect the daemon's persona directory",
		Description: `List and inspect the personas the daemon loaded at startup. A persona
bundles a model provider, placement defaults, and boot instructions;
"moltctl cattle spawn --persona <name>" boots an instance of one.

The daemon reads persona files once at startup, so edits on disk show
up here only after a daemon restart.`,
		Examples: []cli.Example{
			{
				Description: "List available personas",
				Command:     "moltctl personas list",
			},
			{
				Description: "Show one persona with its instructions",
				Command:     "moltctl personas show rex",
			},
		},
		Subcommands: []*cli.Command{
			listCommand(),
			showCommand(),
		},
	}
}
