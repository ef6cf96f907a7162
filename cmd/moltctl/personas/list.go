// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package personas

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/spf13/pflag"

	"github.com/regenrek/moltlets-sub007/cmd/moltctl/cli"
)

type listParams struct {
	cli.Connection
	cli.JSONOutput
}

func listCommand() *cli.Command {
	var params listParams

	return &cli.Command{
		Name:    "list",
		Summary: "List available personas",
		Usage:   "moltctl personas list [flags]",
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("list", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			return runList(ctx, &params, logger)
		},
	}
}

func runList(ctx context.Context, params *listParams, logger *slog.Logger) error {
	client, err := params.Connection.Client(logger)
	if err != nil {
		return err
	}

	personas, err := client.Personas(ctx)
	if err != nil {
		return fmt.Errorf("listing personas: %w", err)
	}

	if done, err := params.EmitJSON(personas); done {
		return err
	}

	if len(personas) == 0 {
		fmt.Fprintln(os.Stderr, "no personas found")
		return nil
	}

	writer := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(writer, "NAME\tPROVIDER\tMODEL\tDESCRIPTION")
	for _, p := range personas {
		fmt.Fprintf(writer, "%s\t%s\t%s\t%s\n", p.Name, p.Provider, p.Model, p.Description)
	}
	return writer.Flush()
}
