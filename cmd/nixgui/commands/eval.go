package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/boredom101/nix-gui/pkg/nixeval"
)

func newEvalCommand() *cobra.Command {
	var (
		strict       bool
		showTrace    bool
		disableRetry bool
	)

	cmd := &cobra.Command{
		Use:   "eval EXPRESSION",
		Short: "Evaluate a Nix expression",
		Long: `Evaluate a Nix expression with nix-instantiate and print the result as JSON.

A failed evaluation is retried once with --show-trace so the error carries a
full stack trace. Results are never cached.`,
		Example: `  # Evaluate an expression
  nixgui eval '1 + 2'

  # Force deep evaluation of a nested value
  nixgui eval --strict '{ a = { b = [ 1 2 ]; }; }'

  # Evaluate on a remote builder
  nixgui eval --remote admin@build.example.org '(import <nixpkgs> {}).lib.version'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, appOptions{evaluator: true}, func(ctx context.Context, a *app) error {
				log.Debug().Str("expression", args[0]).Bool("strict", strict).Msg("Evaluating expression")

				v, err := a.evaluator.Evaluate(ctx, args[0], nixeval.EvalOptions{
					Strict:       strict,
					ShowTrace:    showTrace,
					DisableRetry: disableRetry,
				})
				if err != nil {
					if nixeval.IsEvaluationError(err) {
						fmt.Fprintln(cmd.ErrOrStderr(), nixeval.Diagnostics(err))
					}
					return err
				}

				return printJSON(cmd.OutOrStdout(), v)
			})
		},
	}

	cmd.Flags().BoolVar(&strict, "strict", false, "evaluate nested values")
	cmd.Flags().BoolVar(&showTrace, "show-trace", false, "request stack traces on the first attempt")
	cmd.Flags().BoolVar(&disableRetry, "no-retry", false, "do not retry a failed evaluation")

	return cmd
}
