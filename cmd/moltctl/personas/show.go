// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package personas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/pflag"
	"golang.org/x/term"

	"github.com/regenrek/moltlets-sub007/cmd/moltctl/cli"
	"github.com/regenrek/moltlets-sub007/lib/persona"
	"github.com/regenrek/moltlets-sub007/lib/tui"
)

type showParams struct {
	cli.Connection
	cli.JSONOutput
}

func showCommand() *cli.Command {
	var params showParams

	return &cli.Command{
		Name:    "show",
		Summary: "Show one persona in detail",
		Description: `Show a persona's provider, placement defaults, bootstrap environment
keys, default task, and instructions. Instructions are rendered as
markdown when stdout is a terminal and passed through verbatim when
piped.`,
		Usage: "moltctl personas show <name> [flags]",
		Examples: []cli.Example{
			{
				Description: "Show the rex persona",
				Command:     "moltctl personas show rex",
			},
			{
				Description: "Extract the raw instructions",
				Command:     "moltctl personas show rex --json | jq -r .instructions",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("show", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) != 1 {
				return fmt.Errorf("usage: moltctl personas show <name>")
			}
			return runShow(ctx, &params, args[0], logger)
		},
	}
}

func runShow(ctx context.Context, params *showParams, name string, logger *slog.Logger) error {
	client, err := params.Connection.Client(logger)
	if err != nil {
		return err
	}

	p, err := client.Persona(ctx, name)
	if err != nil {
		return fmt.Errorf("fetching persona %s: %w", name, err)
	}

	if done, err := params.EmitJSON(p); done {
		return err
	}

	fmt.Printf("Name:         %s\n", p.Name)
	if p.Description != "" {
		fmt.Printf("Description:  %s\n", p.Description)
	}
	fmt.Printf("Provider:     %s\n", p.Provider)
	fmt.Printf("Model:        %s\n", p.Model)
	fmt.Printf("Env keys:     %s\n", strings.Join(p.EnvKeys(), ", "))
	if defaults := formatDefaults(p.Defaults); defaults != "" {
		fmt.Printf("Defaults:     %s\n", defaults)
	}

	if len(p.DefaultTask) > 0 {
		var indented bytes.Buffer
		if err := json.Indent(&indented, p.DefaultTask, "  ", "  "); err == nil {
			fmt.Printf("\nDefault task:\n  %s\n", indented.String())
		}
	}

	if p.Instructions != "" {
		fmt.Println("\nInstructions:")
		fmt.Println(renderInstructions(p.Instructions))
	}
	return nil
}

// formatDefaults flattens the non-zero spawn defaults into one line.
func formatDefaults(defaults persona.Defaults) string {
	var parts []string
	if defaults.TTL > 0 {
		parts = append(parts, "ttl "+defaults.TTL.String())
	}
	if defaults.ServerType != "" {
		parts = append(parts, "server-type "+defaults.ServerType)
	}
	if defaults.Location != "" {
		parts = append(parts, "location "+defaults.Location)
	}
	if defaults.Image != "" {
		parts = append(parts, "image "+defaults.Image)
	}
	return strings.Join(parts, ", ")
}

// renderInstructions styles the markdown for terminals and passes it
// through untouched for pipes.
func renderInstructions(instructions string) string {
	fd := int(os.Stdout.Fd())
	if !term.IsTerminal(fd) {
		return instructions
	}
	width := 80
	if w, _, err := term.GetSize(fd); err == nil && w > 0 && w < width {
		width = w
	}
	return tui.RenderMarkdown(instructions, tui.DefaultTheme, width)
}
