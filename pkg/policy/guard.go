package policy

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/boredom101/nix-gui/pkg/attribute"
	"github.com/boredom101/nix-gui/pkg/nixeval"
	"github.com/boredom101/nix-gui/pkg/options"
	"github.com/boredom101/nix-gui/pkg/telemetry"
)

// GuardConfig configures a Guard.
type GuardConfig struct {
	Engine *Engine

	// Schema provides the option metadata policies see as input.option.
	// Without it only attribute based policies can match.
	Schema nixeval.Schema

	Logger    zerolog.Logger
	Metrics   *telemetry.Metrics
	SessionID string
}

// Guard vets editor updates against the policies of an Engine. It
// implements options.Guard.
type Guard struct {
	engine    *Engine
	schema    nixeval.Schema
	logger    zerolog.Logger
	metrics   *telemetry.Metrics
	sessionID string
}

var _ options.Guard = (*Guard)(nil)

// NewGuard returns a guard for cfg.Engine.
func NewGuard(cfg GuardConfig) (*Guard, error) {
	if cfg.Engine == nil {
		return nil, fmt.Errorf("policy guard requires an engine")
	}
	return &Guard{
		engine:    cfg.Engine,
		schema:    cfg.Schema,
		logger:    cfg.Logger.With().Str("component", "policy-guard").Logger(),
		metrics:   cfg.Metrics,
		sessionID: cfg.SessionID,
	}, nil
}

// Engine returns the engine the guard evaluates against.
func (g *Guard) Engine() *Engine {
	return g.engine
}

// Check evaluates u. Blocking violations are returned as a
// *ViolationError; warnings are logged and counted.
func (g *Guard) Check(ctx context.Context, tree *options.Tree, u options.Update) error {
	input := BuildInput(tree, u, g.schema)
	input.Context = Context{SessionID: g.sessionID, Timestamp: time.Now().UTC()}

	result, err := g.engine.Evaluate(ctx, input)
	if err != nil {
		return fmt.Errorf("policy evaluation failed: %w", err)
	}

	for _, w := range result.Warnings {
		g.metrics.RecordPolicyViolation(w.Policy, string(w.Severity))
		g.logger.Warn().
			Str("policy", w.Policy).
			Str("attribute", w.Attribute).
			Msg(w.Message)
	}
	for _, v := range result.Violations {
		g.metrics.RecordPolicyViolation(v.Policy, string(v.Severity))
	}

	if !result.Allowed {
		return &ViolationError{Violations: result.Violations}
	}
	return nil
}

// BuildInput describes u, applied to tree, as policy input.
func BuildInput(tree *options.Tree, u options.Update, schema nixeval.Schema) *Input {
	var (
		subject attribute.Attribute
		update  = UpdateInput{Kind: string(u.Kind())}
	)

	switch u := u.(type) {
	case options.ChangeDefinition:
		subject = u.Attribute
		setValue(&update, u.New)
		if !u.Old.IsUndefined() {
			update.Previous = u.Old.Value()
		}
	case options.Create:
		subject = u.Attribute
		setValue(&update, u.Definition)
	case options.Rename:
		subject = u.Old
		update.RenamedTo = u.New.String()
	case options.Remove:
		subject = u.Attribute
		update.Removed = len(tree.Descendants(u.Attribute)) + 1
	}

	update.Attribute = subject.String()
	update.Path = subject.Segments()

	input := &Input{Update: update}
	if opt, ok := schema.Lookup(subject); ok {
		input.Option = &OptionInput{
			Description: opt.Description,
			ReadOnly:    opt.ReadOnly,
			Kind:        string(opt.Kind),
			Type:        opt.Type,
		}
	}
	return input
}

func setValue(update *UpdateInput, def options.Definition) {
	if def.IsUndefined() {
		return
	}
	update.Defined = true
	update.Value = def.Value()
	update.ValueKind = ValueKind(def.Value())
}

// ValueKind classifies a JSON-like value with the kinds of the option
// schema. nil is "null".
func ValueKind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case bool:
		return string(nixeval.KindBoolean)
	case int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64:
		return string(nixeval.KindInt)
	case float32, float64:
		return string(nixeval.KindFloat)
	case string:
		return string(nixeval.KindString)
	case []any:
		return string(nixeval.KindList)
	case map[string]any:
		return string(nixeval.KindSet)
	}
	return fmt.Sprintf("%T", v)
}
