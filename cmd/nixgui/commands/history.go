package commands

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/boredom101/nix-gui/pkg/stores"
)

var errJournalDisabled = errors.New("the edit journal is disabled in the configuration")

func newHistoryCommand() *cobra.Command {
	var (
		attr   string
		events bool
		limit  int
		prune  bool
	)

	cmd := &cobra.Command{
		Use:   "history [SESSION]",
		Short: "Show the edit journal",
		Long: `Show past editing sessions, or the journaled actions of one session.

Without SESSION the sessions are listed newest first. With --attribute the
journal is searched for actions on that option and its descendants, across
all sessions unless SESSION is given.`,
		Example: `  # List recent sessions
  nixgui history

  # Show what one session did
  nixgui history 1f0c6b9e-5c3b-4d7e-9a51-2f1f3f0a9d11

  # Find every change to the firewall options
  nixgui history --attribute networking.firewall

  # Show the events recorded for a session
  nixgui history --events 1f0c6b9e-5c3b-4d7e-9a51-2f1f3f0a9d11

  # Delete a session and its journal
  nixgui history --delete 1f0c6b9e-5c3b-4d7e-9a51-2f1f3f0a9d11`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var sessionID string
			if len(args) == 1 {
				sessionID = args[0]
			}
			if (events || prune) && sessionID == "" {
				return errors.New("a session is required")
			}

			return runWithApp(cmd, appOptions{journal: true}, func(ctx context.Context, a *app) error {
				if a.store == nil {
					return errJournalDisabled
				}
				switch {
				case prune:
					if err := a.store.DeleteSession(ctx, sessionID); err != nil {
						return err
					}
					fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", sessionID)
					return nil
				case events:
					return listEvents(ctx, cmd, a.store, sessionID, limit)
				case sessionID == "" && attr == "":
					return listSessions(ctx, cmd, a.store, limit)
				default:
					return listJournal(ctx, cmd, a.store, stores.JournalFilter{
						SessionID: sessionID,
						Attribute: attr,
						Limit:     limit,
					})
				}
			})
		},
	}

	cmd.Flags().StringVarP(&attr, "attribute", "a", "", "only show actions on this option and its descendants")
	cmd.Flags().BoolVar(&events, "events", false, "show the events of SESSION instead of its journal")
	cmd.Flags().BoolVar(&prune, "delete", false, "delete SESSION and its journal")
	cmd.Flags().IntVarP(&limit, "limit", "n", 50, "maximum number of rows, 0 for all")

	return cmd
}

func listSessions(ctx context.Context, cmd *cobra.Command, store stores.Store, limit int) error {
	sessions, err := store.ListSessions(ctx, limit, 0)
	if err != nil {
		return err
	}
	if jsonOutput {
		out := make([]map[string]any, len(sessions))
		for i, s := range sessions {
			out[i] = map[string]any{
				"id":          s.ID,
				"module_path": s.ModulePath,
				"started_at":  s.StartedAt.Format(time.RFC3339),
			}
			if s.EndedAt != nil {
				out[i]["ended_at"] = s.EndedAt.Format(time.RFC3339)
			}
		}
		return printJSON(cmd.OutOrStdout(), out)
	}

	tw := newTable(cmd.OutOrStdout())
	fmt.Fprintln(tw, "SESSION\tMODULE\tSTARTED\tENDED")
	for _, s := range sessions {
		ended := "-"
		if s.EndedAt != nil {
			ended = s.EndedAt.Local().Format(time.DateTime)
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", s.ID, s.ModulePath, s.StartedAt.Local().Format(time.DateTime), ended)
	}
	return tw.Flush()
}

func listJournal(ctx context.Context, cmd *cobra.Command, store stores.Store, filter stores.JournalFilter) error {
	records, err := store.ListJournal(ctx, filter)
	if err != nil {
		return err
	}
	if jsonOutput {
		out := make([]map[string]any, len(records))
		for i, r := range records {
			out[i] = map[string]any{
				"session_id": r.SessionID,
				"sequence":   r.Sequence,
				"action":     string(r.Action),
				"kind":       string(r.Kind),
				"attribute":  r.Attribute.String(),
				"details":    r.Details,
				"merged":     r.Merged,
				"time":       r.Time.Format(time.RFC3339Nano),
			}
		}
		return printJSON(cmd.OutOrStdout(), out)
	}

	tw := newTable(cmd.OutOrStdout())
	fmt.Fprintln(tw, "SEQ\tACTION\tKIND\tDETAILS\tTIME")
	for _, r := range records {
		action := string(r.Action)
		if r.Merged {
			action += " (merged)"
		}
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", r.Sequence, action, r.Kind, r.Details, r.Time.Local().Format(time.DateTime))
	}
	return tw.Flush()
}

func listEvents(ctx context.Context, cmd *cobra.Command, store stores.Store, sessionID string, limit int) error {
	records, err := store.ListEvents(ctx, &sessionID, nil, limit, 0)
	if err != nil {
		return err
	}
	if jsonOutput {
		out := make([]map[string]any, len(records))
		for i, r := range records {
			out[i] = map[string]any{
				"event_id":  r.EventID,
				"type":      r.Type,
				"level":     r.Level,
				"attribute": r.Attribute,
				"message":   r.Message,
				"timestamp": r.Timestamp.Format(time.RFC3339Nano),
			}
		}
		return printJSON(cmd.OutOrStdout(), out)
	}

	tw := newTable(cmd.OutOrStdout())
	fmt.Fprintln(tw, "TIME\tTYPE\tLEVEL\tMESSAGE")
	for _, r := range records {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", r.Timestamp.Local().Format(time.DateTime), r.Type, r.Level, r.Message)
	}
	return tw.Flush()
}
