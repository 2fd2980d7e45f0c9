package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/boredom101/nix-gui/pkg/attribute"
	"github.com/boredom101/nix-gui/pkg/nixeval"
	"github.com/boredom101/nix-gui/pkg/options"
	"github.com/boredom101/nix-gui/pkg/policy"
	"github.com/boredom101/nix-gui/pkg/stores"
)

// valueWorkers bounds the evaluator processes started while loading a tree.
const valueWorkers = 4

func newEditCommand() *cobra.Command {
	var (
		scriptPath string
		noPolicy   bool
		dump       bool
	)

	cmd := &cobra.Command{
		Use:   "edit MODULE",
		Short: "Apply an edit script to a module's option tree",
		Long: `Load the option definitions of MODULE into an option tree and apply the
steps of an edit script to it.

Each step is checked against the edit policies before it is applied and is
recorded in the journal. Consecutive changes of the same option are merged
into one undo step. The module file itself is not modified; use --dump to
print the resulting definitions.

Script format:
  steps:
    - set: networking.hostName
      value: desktop
    - create: services.openssh.enable
      value: true
    - rename: users.users.alice
      to: users.users.bob
    - remove: services.printing
    - undo: 1
    - redo: 1`,
		Example: `  # Apply a script and show the resulting undo history
  nixgui edit /etc/nixos/configuration.nix --script changes.yaml

  # Read the script from stdin and print the edited definitions
  nixgui edit /etc/nixos/configuration.nix --script - --dump

  # Skip the policy checks
  nixgui edit /etc/nixos/configuration.nix --script changes.yaml --no-policy`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			modulePath := args[0]
			script, err := readScript(cmd.InOrStdin(), scriptPath)
			if err != nil {
				return err
			}

			return runWithApp(cmd, appOptions{evaluator: true, journal: true}, func(ctx context.Context, a *app) error {
				tree, err := loadTree(ctx, a.evaluator, modulePath)
				if err != nil {
					return err
				}
				log.Info().Str("module", modulePath).Int("attributes", tree.Len()).Msg("Option tree loaded")

				sessionID := uuid.NewString()
				editorCfg := options.EditorConfig{
					Logger:    a.logger,
					Events:    a.tel.Events,
					Metrics:   a.tel.Metrics,
					SessionID: sessionID,
				}

				if !noPolicy {
					guard, err := newGuard(ctx, a, sessionID)
					if err != nil {
						return err
					}
					editorCfg.Guard = guard
				}

				if a.store != nil {
					err := a.store.CreateSession(ctx, &stores.Session{
						ID:         sessionID,
						ModulePath: modulePath,
						StartedAt:  time.Now().UTC(),
					})
					if err != nil {
						return err
					}
					editorCfg.Journal = a.store
					defer func() {
						if err := a.store.EndSession(ctx, sessionID, time.Now().UTC()); err != nil {
							log.Warn().Err(err).Str("session_id", sessionID).Msg("Failed to end session")
						}
					}()
				}

				editor := options.NewEditor(tree, editorCfg)
				runErr := script.run(ctx, editor)

				if err := printHistory(cmd.OutOrStdout(), editor); err != nil {
					return err
				}
				if runErr != nil {
					return runErr
				}
				if dump {
					return editor.Export(ctx, modulePath, &definitionPrinter{w: cmd.OutOrStdout()})
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&scriptPath, "script", "s", "", "edit script file, - for stdin (required)")
	cmd.Flags().BoolVar(&noPolicy, "no-policy", false, "do not check edits against policies")
	cmd.Flags().BoolVar(&dump, "dump", false, "print the edited definitions")
	_ = cmd.MarkFlagRequired("script")

	return cmd
}

func readScript(stdin io.Reader, path string) (*editScript, error) {
	var (
		data []byte
		err  error
	)
	if path == "-" {
		data, err = io.ReadAll(stdin)
	} else {
		data, err = os.ReadFile(path)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read edit script: %w", err)
	}
	return parseScript(data)
}

// loadTree evaluates every attribute the module defines. Attributes whose
// value cannot be evaluated are kept as undefined nodes.
func loadTree(ctx context.Context, evaluator *nixeval.Evaluator, modulePath string) (*options.Tree, error) {
	defined, err := evaluator.GetModuleDefinedAttributes(ctx, modulePath)
	if err != nil {
		return nil, err
	}

	var (
		mu   sync.Mutex
		defs = make(map[attribute.Attribute]options.Definition, len(defined))
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(valueWorkers)
	for attr := range defined {
		g.Go(func() error {
			def := options.Undefined()
			v, err := evaluator.EvaluateAttribute(gctx, modulePath, attr)
			switch {
			case err == nil:
				def = options.NewDefinition(v)
			case gctx.Err() != nil:
				return gctx.Err()
			default:
				log.Warn().Err(err).Str("attribute", attr.String()).Msg("Cannot evaluate attribute, keeping it undefined")
			}
			mu.Lock()
			defs[attr] = def
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return options.BuildTree(defs), nil
}

func newGuard(ctx context.Context, a *app, sessionID string) (*policy.Guard, error) {
	engine, err := a.policyEngine(ctx)
	if err != nil {
		return nil, err
	}
	schema, err := a.evaluator.GetSchema(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load option schema for policies: %w", err)
	}
	return policy.NewGuard(policy.GuardConfig{
		Engine:    engine,
		Schema:    schema,
		Logger:    a.logger,
		Metrics:   a.tel.Metrics,
		SessionID: sessionID,
	})
}

func printHistory(w io.Writer, editor *options.Editor) error {
	history := editor.History()
	if jsonOutput {
		return printJSON(w, map[string]any{
			"session_id": editor.SessionID(),
			"history":    history,
			"redo":       editor.Log().RedoLen(),
		})
	}
	for i, details := range history {
		fmt.Fprintf(w, "%3d  %s\n", i+1, details)
	}
	return nil
}

// definitionPrinter writes "attribute = json" lines. It stands in for a Nix
// renderer.
type definitionPrinter struct {
	w io.Writer
}

func (p *definitionPrinter) WriteDefinition(_ context.Context, _ string, attr attribute.Attribute, def options.Definition) error {
	_, err := fmt.Fprintf(p.w, "%s = %s\n", attr, def)
	return err
}
