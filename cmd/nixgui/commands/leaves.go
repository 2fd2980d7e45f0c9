package commands

import (
	"context"
	"fmt"
	"maps"
	"slices"

	"github.com/spf13/cobra"

	"github.com/boredom101/nix-gui/pkg/attribute"
)

func newLeavesCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "leaves MODULE",
		Short: "List the option definitions of a module file",
		Long: `List every option attribute a NixOS module file defines, following its
imports, together with the source position of each definition.

Results are cached by the content hash of MODULE. Imported files are not
part of the hash, so edit MODULE itself or clear the cache after changing
an import.`,
		Example: `  # List the definitions of the system configuration
  nixgui leaves /etc/nixos/configuration.nix

  # List the definitions of a module on a remote host
  nixgui leaves --remote root@10.0.0.2 /etc/nixos/configuration.nix`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithApp(cmd, appOptions{evaluator: true}, func(ctx context.Context, a *app) error {
				defined, err := a.evaluator.GetModuleDefinedAttributes(ctx, args[0])
				if err != nil {
					return err
				}
				attrs := slices.SortedFunc(maps.Keys(defined), attribute.Attribute.Compare)

				if jsonOutput {
					out := make(map[string]any, len(defined))
					for _, attr := range attrs {
						if pos := defined[attr]; pos != nil {
							out[attr.String()] = map[string]any{"file": pos.File, "line": pos.Line, "column": pos.Column}
						} else {
							out[attr.String()] = nil
						}
					}
					return printJSON(cmd.OutOrStdout(), out)
				}

				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "ATTRIBUTE\tPOSITION")
				for _, attr := range attrs {
					pos := "-"
					if p := defined[attr]; p != nil {
						pos = p.String()
					}
					fmt.Fprintf(tw, "%s\t%s\n", attr, pos)
				}
				return tw.Flush()
			})
		},
	}

	return cmd
}
