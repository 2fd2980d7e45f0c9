package options

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"

	"github.com/boredom101/nix-gui/pkg/attribute"
	"github.com/boredom101/nix-gui/pkg/telemetry"
)

var tracer = otel.Tracer("github.com/boredom101/nix-gui/pkg/options")

// Guard vets an update before it is applied. A non-nil error rejects it.
type Guard interface {
	Check(ctx context.Context, tree *Tree, u Update) error
}

// Action is what the editor did with an update.
type Action string

const (
	ActionApply Action = "apply"
	ActionUndo  Action = "undo"
	ActionRedo  Action = "redo"
)

// JournalEntry is one editor action as recorded in a Journal.
type JournalEntry struct {
	SessionID string
	Sequence  int64
	Action    Action
	Kind      Kind
	Attribute attribute.Attribute
	Details   string
	// Merged is set when an applied update was folded into the previous
	// log entry. Details then describes the merged entry.
	Merged bool
	Time   time.Time
}

// Journal persists editor actions.
type Journal interface {
	Record(ctx context.Context, entry JournalEntry) error
}

// Writer turns a definition back into module source. Rendering Nix syntax
// is left to the implementation.
type Writer interface {
	WriteDefinition(ctx context.Context, modulePath string, attr attribute.Attribute, def Definition) error
}

// EditorConfig holds the optional collaborators of an Editor.
type EditorConfig struct {
	Logger  zerolog.Logger
	Guard   Guard
	Journal Journal
	Events  *telemetry.EventPublisher
	Metrics *telemetry.Metrics

	// SessionID identifies the session in the journal and in events.
	// A random one is generated when empty.
	SessionID string
}

// Editor owns an option tree and its undo log for one editing session.
// It is single-writer: callers serialize edits.
type Editor struct {
	tree      *Tree
	log       Log
	sessionID string
	seq       int64

	logger  zerolog.Logger
	guard   Guard
	journal Journal
	events  *telemetry.EventPublisher
	metrics *telemetry.Metrics
}

// NewEditor returns an editor for tree. A nil tree starts empty.
func NewEditor(tree *Tree, cfg EditorConfig) *Editor {
	if tree == nil {
		tree = NewTree()
	}
	if cfg.SessionID == "" {
		cfg.SessionID = uuid.NewString()
	}
	return &Editor{
		tree:      tree,
		sessionID: cfg.SessionID,
		logger:    cfg.Logger.With().Str("component", "editor").Str("session_id", cfg.SessionID).Logger(),
		guard:     cfg.Guard,
		journal:   cfg.Journal,
		events:    cfg.Events,
		metrics:   cfg.Metrics,
	}
}

// Tree returns the edited tree. It must not be modified except through the
// editor.
func (e *Editor) Tree() *Tree {
	return e.tree
}

// Log returns the undo log.
func (e *Editor) Log() *Log {
	return &e.log
}

// SessionID returns the session identifier.
func (e *Editor) SessionID() string {
	return e.sessionID
}

// Apply vets u with the guard, applies it to the tree and pushes it onto the
// undo log. The tree is unchanged when an error is returned.
func (e *Editor) Apply(ctx context.Context, u Update) (err error) {
	ctx, span := tracer.Start(ctx, "options.Apply")
	span.SetAttributes(
		telemetry.AttrUpdateKind.String(string(u.Kind())),
		telemetry.AttrAttribute.String(Target(u).String()),
		telemetry.AttrSessionID.String(e.sessionID),
	)
	defer func() { telemetry.EndSpan(span, err) }()

	if e.guard != nil {
		if err := e.guard.Check(ctx, e.tree, u); err != nil {
			e.logger.Warn().Err(err).Str("kind", string(u.Kind())).Msg("update rejected")
			e.publish(telemetry.Event{
				Type:      telemetry.EventTypePolicyViolation,
				Attribute: Target(u).String(),
				Message:   err.Error(),
				Level:     telemetry.EventLevelWarning,
			})
			return treeError(string(u.Kind()), Target(u), err)
		}
	}

	if err := apply(e.tree, u); err != nil {
		return err
	}

	entry, merged := e.log.push(u)
	if merged {
		e.metrics.RecordMerge(string(u.Kind()))
	}
	e.logger.Debug().Bool("merged", merged).Int("depth", e.log.Len()).Msg(Details(entry))
	e.record(ctx, ActionApply, entry, merged, telemetry.EventTypeUpdateApplied)
	return nil
}

// Undo reverts the most recent update and returns the attribute to focus
// afterwards. It returns ErrUndoUnderflow when the log is empty.
func (e *Editor) Undo(ctx context.Context) (attribute.Attribute, error) {
	u, ok := e.log.Top()
	if !ok {
		return attribute.Root(), ErrUndoUnderflow
	}
	if err := Revert(e.tree, u); err != nil {
		return attribute.Root(), fmt.Errorf("undo: %w", err)
	}
	e.log.undo()
	e.logger.Debug().Int("depth", e.log.Len()).Msg("reverted: " + Details(u))
	e.record(ctx, ActionUndo, u, false, telemetry.EventTypeUpdateReverted)
	return ImpactedAttribute(u), nil
}

// Redo re-applies the most recently undone update and returns the attribute
// it concerns. Redone updates are not merged and are not vetted again.
func (e *Editor) Redo(ctx context.Context) (attribute.Attribute, error) {
	u, ok := e.log.nextRedo()
	if !ok {
		return attribute.Root(), ErrRedoUnderflow
	}
	if err := apply(e.tree, u); err != nil {
		return attribute.Root(), fmt.Errorf("redo: %w", err)
	}
	e.log.redo()
	e.logger.Debug().Int("depth", e.log.Len()).Msg("redone: " + Details(u))
	e.record(ctx, ActionRedo, u, false, telemetry.EventTypeUpdateRedone)
	return Target(u), nil
}

// History returns a description of every entry in the undo log, oldest
// first.
func (e *Editor) History() []string {
	history := make([]string, 0, e.log.Len())
	for _, u := range e.log.applied {
		history = append(history, Details(u))
	}
	return history
}

// SetDefinition changes the definition of an existing attribute.
func (e *Editor) SetDefinition(ctx context.Context, attr attribute.Attribute, def Definition) error {
	old, ok := e.tree.Definition(attr)
	if !ok {
		return treeError(string(KindChangeDefinition), attr, ErrAttributeNotFound)
	}
	return e.Apply(ctx, ChangeDefinition{Attribute: attr, Old: old, New: def})
}

// Create adds attr with def under its existing parent.
func (e *Editor) Create(ctx context.Context, attr attribute.Attribute, def Definition) error {
	return e.Apply(ctx, Create{Attribute: attr, Definition: def})
}

// Rename moves from and its subtree to to.
func (e *Editor) Rename(ctx context.Context, from, to attribute.Attribute) error {
	return e.Apply(ctx, Rename{Old: from, New: to})
}

// Remove deletes attr and its subtree.
func (e *Editor) Remove(ctx context.Context, attr attribute.Attribute) error {
	u, err := NewRemove(e.tree, attr)
	if err != nil {
		return err
	}
	return e.Apply(ctx, u)
}

// Export hands every defined attribute to w, in tree order.
func (e *Editor) Export(ctx context.Context, modulePath string, w Writer) error {
	return e.tree.Walk(func(attr attribute.Attribute, def Definition) error {
		if def.IsUndefined() {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if err := w.WriteDefinition(ctx, modulePath, attr, def); err != nil {
			return fmt.Errorf("failed to write %s: %w", attr, err)
		}
		return nil
	})
}

func (e *Editor) record(ctx context.Context, action Action, u Update, merged bool, eventType string) {
	e.metrics.RecordUpdate(string(u.Kind()), string(action))
	e.metrics.SetUndoDepth(e.log.Len())

	e.publish(telemetry.Event{
		Type:      eventType,
		Attribute: Target(u).String(),
		Message:   Details(u),
		Data: map[string]interface{}{
			"kind":     string(u.Kind()),
			"merged":   merged,
			"impacted": ImpactedAttribute(u).String(),
		},
	})

	if e.journal == nil {
		return
	}
	e.seq++
	entry := JournalEntry{
		SessionID: e.sessionID,
		Sequence:  e.seq,
		Action:    action,
		Kind:      u.Kind(),
		Attribute: Target(u),
		Details:   Details(u),
		Merged:    merged,
		Time:      time.Now().UTC(),
	}
	// the tree has already changed, so a journal failure does not fail the edit
	if err := e.journal.Record(ctx, entry); err != nil {
		e.logger.Error().Err(err).Int64("sequence", entry.Sequence).Msg("failed to record journal entry")
	}
}

func (e *Editor) publish(event telemetry.Event) {
	event.SessionID = e.sessionID
	if err := e.events.Publish(event); err != nil {
		e.logger.Warn().Err(err).Str("event_type", event.Type).Msg("failed to publish event")
	}
}
