// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package cattle

import (
	"context"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"strings"

	"github.com/spf13/pflag"

	"github.com/regenrek/moltlets-sub007/cmd/moltctl/cli"
	"github.com/regenrek/moltlets-sub007/lib/secret"
)

// defaultTokenPath is where cloud-init writes the bootstrap token on a
// spawned instance.
const defaultTokenPath = "/opt/molt/bootstrap-token"

type envParams struct {
	cli.CattleConnection
	cli.JSONOutput
	TokenFile string `flag:"token-file" desc:"file holding the bootstrap token" default:"/opt/molt/bootstrap-token"`
}

func envCommand() *cli.Command {
	var params envParams

	return &cli.Command{
		Name:    "env",
		Summary: "Redeem a bootstrap token for the instance environment",
		Description: `Redeem this instance's bootstrap token against the cattle API and
print the resulting environment as shell export lines, ready for
eval. This is what a spawned instance does during boot.

The token is single use. The first redemption consumes it, and every
later attempt fails with 401 no matter who makes it, so running this
twice on the same token means the second run fails by design of the
token protocol.`,
		Usage: "moltctl cattle env [flags]",
		Examples: []cli.Example{
			{
				Description: "Load the environment into the current shell",
				Command:     `eval "$(moltctl cattle env)"`,
			},
			{
				Description: "Redeem a copied token against a remote daemon",
				Command:     "moltctl cattle env --cattle-api http://10.0.0.5:7602 --token-file ./token",
			},
		},
		Flags: func() *pflag.FlagSet {
			return cli.FlagsFromParams("env", &params)
		},
		Run: func(ctx context.Context, args []string, logger *slog.Logger) error {
			if len(args) > 0 {
				return fmt.Errorf("unexpected argument: %s", args[0])
			}
			return runEnv(ctx, &params, logger)
		},
	}
}

func runEnv(ctx context.Context, params *envParams, logger *slog.Logger) error {
	token, err := secret.FromFile(params.TokenFile)
	if err != nil {
		return err
	}
	defer token.Close()

	client, err := params.CattleConnection.CattleClient(logger)
	if err != nil {
		return err
	}

	env, err := client.Env(ctx, token)
	if err != nil {
		return fmt.Errorf("redeeming bootstrap token: %w", err)
	}

	if done, err := params.EmitJSON(env); done {
		return err
	}

	for _, key := range slices.Sorted(maps.Keys(env)) {
		fmt.Printf("export %s=%s\n", key, shellQuote(env[key]))
	}
	return nil
}

// shellQuote wraps a value in single quotes for eval, escaping any
// embedded single quote by closing, escaping, and reopening.
func shellQuote(value string) string {
	return "'" + strings.ReplaceAll(value, "'", `'\''`) + "'"
}
