package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/boredom101/nix-gui/pkg/attribute"
)

func newSchemaCommand() *cobra.Command {
	var (
		versionOnly bool
		describe    bool
	)

	cmd := &cobra.Command{
		Use:   "schema [PREFIX]",
		Short: "List NixOS options",
		Long: `List the NixOS options of the installed nixpkgs, optionally limited to the
options at or below PREFIX.

The schema is evaluated once per nixpkgs version and cached on disk, so only
the first run after a channel update is slow.`,
		Example: `  # List all networking options
  nixgui schema networking

  # Show descriptions of the openssh options
  nixgui schema --describe services.openssh

  # Print the nixpkgs version the cache is keyed on
  nixgui schema --nixpkgs-version`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			prefix := attribute.Root()
			if len(args) == 1 {
				var err error
				if prefix, err = attribute.Parse(args[0]); err != nil {
					return err
				}
			}

			return runWithApp(cmd, appOptions{evaluator: true}, func(ctx context.Context, a *app) error {
				if versionOnly {
					version, err := a.evaluator.SchemaVersion(ctx)
					if err != nil {
						return err
					}
					fmt.Fprintln(cmd.OutOrStdout(), version)
					return nil
				}

				schema, err := a.evaluator.GetSchema(ctx)
				if err != nil {
					return err
				}
				attrs := schema.Under(prefix)
				log.Debug().Int("options", len(schema)).Int("matched", len(attrs)).Msg("Schema loaded")

				if jsonOutput {
					out := make(map[string]any, len(attrs))
					for _, attr := range attrs {
						opt := schema[attr]
						out[attr.String()] = map[string]any{
							"description":      opt.Description,
							"read_only":        opt.ReadOnly,
							"kind":             string(opt.Kind),
							"type":             opt.Type,
							"related_packages": opt.RelatedPackages,
						}
					}
					return printJSON(cmd.OutOrStdout(), out)
				}

				tw := newTable(cmd.OutOrStdout())
				fmt.Fprintln(tw, "OPTION\tKIND\tREAD-ONLY\tTYPE")
				for _, attr := range attrs {
					opt := schema[attr]
					fmt.Fprintf(tw, "%s\t%s\t%t\t%s\n", attr, opt.Kind, opt.ReadOnly, opt.Type)
					if describe && opt.Description != "" {
						fmt.Fprintf(tw, "\t%s\n", opt.Description)
					}
				}
				return tw.Flush()
			})
		},
	}

	cmd.Flags().BoolVar(&versionOnly, "nixpkgs-version", false, "print the nixpkgs version and exit")
	cmd.Flags().BoolVar(&describe, "describe", false, "include option descriptions")

	return cmd
}
