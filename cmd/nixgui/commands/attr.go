package commands

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/boredom101/nix-gui/pkg/attribute"
)

func newAttrCommand() *cobra.Command {
	var position bool

	cmd := &cobra.Command{
		Use:   "attr MODULE ATTRIBUTE",
		Short: "Evaluate one attribute of a module file",
		Long: `Evaluate the value of ATTRIBUTE as defined by MODULE, or with --position
the file, line and column of its definition. Attribute values are never
cached.`,
		Example: `  # Print the configured host name
  nixgui attr /etc/nixos/configuration.nix networking.hostName

  # Find where a user is defined
  nixgui attr --position /etc/nixos/configuration.nix users.users.alice`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			attr, err := attribute.Parse(args[1])
			if err != nil {
				return err
			}

			return runWithApp(cmd, appOptions{evaluator: true}, func(ctx context.Context, a *app) error {
				if !position {
					v, err := a.evaluator.EvaluateAttribute(ctx, args[0], attr)
					if err != nil {
						return err
					}
					return printJSON(cmd.OutOrStdout(), v)
				}

				pos, err := a.evaluator.EvaluateAttributePosition(ctx, args[0], attr)
				if err != nil {
					return err
				}
				switch {
				case jsonOutput && pos == nil:
					return printJSON(cmd.OutOrStdout(), nil)
				case jsonOutput:
					return printJSON(cmd.OutOrStdout(), map[string]any{"file": pos.File, "line": pos.Line, "column": pos.Column})
				case pos == nil:
					fmt.Fprintf(cmd.OutOrStdout(), "%s has no known position\n", attr)
				default:
					fmt.Fprintln(cmd.OutOrStdout(), pos)
				}
				return nil
			})
		},
	}

	cmd.Flags().BoolVar(&position, "position", false, "print the definition position instead of the value")

	return cmd
}
