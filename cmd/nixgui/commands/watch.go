package commands

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"path/filepath"
	"slices"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/boredom101/nix-gui/pkg/attribute"
	"github.com/boredom101/nix-gui/pkg/options"
	"github.com/boredom101/nix-gui/pkg/policy"
	"github.com/boredom101/nix-gui/pkg/telemetry"
)

// settleDelay collapses the burst of events an editor produces on save.
const settleDelay = 300 * time.Millisecond

func newWatchCommand() *cobra.Command {
	var noPolicy bool

	cmd := &cobra.Command{
		Use:   "watch MODULE",
		Short: "Report option changes whenever a module file is saved",
		Long: `Watch a local module file and, each time it is saved, re-evaluate its
definitions and report which options were added, changed or removed.

Added and changed definitions are checked against the edit policies. With
policy.watch enabled in the configuration, policy files are reloaded when
they change.`,
		Example: `  # Watch the system configuration
  nixgui watch /etc/nixos/configuration.nix

  # Watch without policy checks
  nixgui watch --no-policy ./hosts/desktop.nix`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			modulePath, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}

			return runWithApp(cmd, appOptions{evaluator: true, journal: true}, func(ctx context.Context, a *app) error {
				if a.remote != nil {
					return errors.New("watch only supports local module files")
				}

				var guard *policy.Guard
				if !noPolicy {
					if guard, err = newGuard(ctx, a, ""); err != nil {
						return err
					}
					if a.cfg.Policy.Watch && len(a.cfg.Policy.Paths) > 0 {
						if err := watchPolicies(ctx, a, guard); err != nil {
							return err
						}
					}
				}

				tree, err := loadTree(ctx, a.evaluator, modulePath)
				if err != nil {
					return err
				}
				log.Info().Str("module", modulePath).Int("attributes", tree.Len()).Msg("Watching module")

				return watchFile(ctx, modulePath, settleDelay, func(ctx context.Context) {
					publishModuleChanged(a.logger, a.tel.Events, modulePath)

					next, err := loadTree(ctx, a.evaluator, modulePath)
					if err != nil {
						log.Error().Err(err).Str("module", modulePath).Msg("Failed to evaluate module")
						return
					}
					reportChanges(ctx, cmd.OutOrStdout(), tree, next, guard)
					tree = next
				})
			})
		},
	}

	cmd.Flags().BoolVar(&noPolicy, "no-policy", false, "do not check changes against policies")

	return cmd
}

func publishModuleChanged(logger zerolog.Logger, events *telemetry.EventPublisher, modulePath string) {
	err := events.Publish(telemetry.Event{
		Type:    telemetry.EventTypeModuleChanged,
		Message: fmt.Sprintf("%s changed", modulePath),
		Data:    map[string]any{"module": modulePath},
	})
	if err != nil {
		logger.Warn().Err(err).Str("module", modulePath).Msg("failed to publish event")
	}
}

// watchPolicies keeps guard's engine in sync with the configured policy
// files until ctx is done.
func watchPolicies(ctx context.Context, a *app, guard *policy.Guard) error {
	loader := policy.NewLoader(a.logger)
	return loader.Watch(ctx, a.cfg.Policy.Paths, func(ctx context.Context, policies []policy.Policy) error {
		engine := guard.Engine()
		if err := engine.ReloadPolicies(ctx, policies); err != nil {
			return err
		}
		a.disablePolicies(engine)
		return nil
	})
}

// watchFile calls onChange after path was written and has been quiet for
// delay. The directory is watched so editors that replace the file on save
// are followed. It returns when ctx is done.
func watchFile(ctx context.Context, path string, delay time.Duration, onChange func(context.Context)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create watcher: %w", err)
	}
	defer watcher.Close()

	path = filepath.Clean(path)
	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("failed to watch %s: %w", path, err)
	}

	var settled <-chan time.Time
	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if filepath.Clean(event.Name) != path || event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			log.Debug().Str("file", event.Name).Str("op", event.Op.String()).Msg("Module file changed")
			settled = time.After(delay)

		case <-settled:
			settled = nil
			onChange(ctx)

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Error().Err(err).Msg("Watcher error")
		}
	}
}

// moduleChanges is the difference between two evaluations of a module.
type moduleChanges struct {
	// Updates turn the old definitions into the new ones. Only Create and
	// ChangeDefinition occur.
	Updates []options.Update
	Removed []attribute.Attribute
}

func diffTrees(prev, next *options.Tree) moduleChanges {
	var changes moduleChanges

	nextDefs := next.Snapshot()
	for _, attr := range slices.SortedFunc(maps.Keys(nextDefs), attribute.Attribute.Compare) {
		def := nextDefs[attr]
		old, ok := prev.Definition(attr)
		switch {
		case !ok:
			changes.Updates = append(changes.Updates, options.Create{Attribute: attr, Definition: def})
		case !old.Equal(def):
			changes.Updates = append(changes.Updates, options.ChangeDefinition{Attribute: attr, Old: old, New: def})
		}
	}

	for _, attr := range slices.SortedFunc(maps.Keys(prev.Snapshot()), attribute.Attribute.Compare) {
		if !next.Has(attr) {
			changes.Removed = append(changes.Removed, attr)
		}
	}
	return changes
}

func reportChanges(ctx context.Context, w io.Writer, prev, next *options.Tree, guard *policy.Guard) {
	changes := diffTrees(prev, next)
	if len(changes.Updates) == 0 && len(changes.Removed) == 0 {
		fmt.Fprintln(w, "No option changes")
		return
	}

	for _, u := range changes.Updates {
		if c, ok := u.(options.Create); ok && c.Definition.IsUndefined() {
			continue
		}
		fmt.Fprintln(w, options.Details(u))
		if guard == nil {
			continue
		}
		if err := guard.Check(ctx, prev, u); err != nil {
			var violations *policy.ViolationError
			if !errors.As(err, &violations) {
				log.Error().Err(err).Msg("Policy check failed")
				continue
			}
			for _, v := range violations.Violations {
				fmt.Fprintf(w, "  denied by %s: %s\n", v.Policy, v.Message)
			}
		}
	}
	for _, attr := range changes.Removed {
		fmt.Fprintf(w, "Removed %s\n", attr)
	}
}
