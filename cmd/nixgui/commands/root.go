package commands

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var (
	// Global flags
	configPath string
	verbose    bool
	jsonOutput bool
	remote     string
	searchPath []string
)

// Execute runs the root command
func Execute(ctx context.Context, version, commit, buildDate string) error {
	rootCmd := newRootCommand(version, commit, buildDate)
	return rootCmd.ExecuteContext(ctx)
}

func newRootCommand(version, commit, buildDate string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "nixgui",
		Short: "nix-gui - NixOS configuration editor core",
		Long: `nixgui evaluates NixOS option schemas and module files through
nix-instantiate and edits option definitions with full undo and redo.

Features:
  - Cached option schema and module leaf discovery
  - Evaluation on the local machine or a remote host over SSH
  - Reversible edit scripts checked against Rego policies
  - Persistent edit journal in SQLite
  - Module and policy file watching`,
		Version:       fmt.Sprintf("%s (commit: %s, built: %s)", version, commit, buildDate),
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose && zerolog.GlobalLevel() > zerolog.DebugLevel {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			}
		},
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "config file path (.yaml, .json or .cue)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "enable verbose output")
	rootCmd.PersistentFlags().BoolVar(&jsonOutput, "json", false, "output in JSON format")
	rootCmd.PersistentFlags().StringVar(&remote, "remote", "", "evaluate on user@host[:port] over SSH")
	rootCmd.PersistentFlags().StringArrayVarP(&searchPath, "include", "I", nil, "add a Nix search path entry (e.g. nixpkgs=/path)")

	rootCmd.AddCommand(newEvalCommand())
	rootCmd.AddCommand(newSchemaCommand())
	rootCmd.AddCommand(newLeavesCommand())
	rootCmd.AddCommand(newAttrCommand())
	rootCmd.AddCommand(newEditCommand())
	rootCmd.AddCommand(newHistoryCommand())
	rootCmd.AddCommand(newWatchCommand())

	return rootCmd
}
