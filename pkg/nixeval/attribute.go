package nixeval

import (
	"context"
	"errors"
	"fmt"

	"github.com/boredom101/nix-gui/pkg/attribute"
	"github.com/boredom101/nix-gui/pkg/telemetry"
)

// ErrRootAttribute is returned when an operation needs a named attribute.
var ErrRootAttribute = errors.New("the root attribute has no position")

// selectExpr renders `module.attr`, or the module itself for the root.
func selectExpr(module string, attr attribute.Attribute) string {
	if attr.IsRoot() {
		return module
	}
	return module + "." + attr.String()
}

// EvaluateAttribute evaluates one attribute of a module file and returns
// its fully forced value. It is not cached.
func (e *Evaluator) EvaluateAttribute(ctx context.Context, modulePath string, attr attribute.Attribute) (any, error) {
	path, err := e.modulePath(modulePath)
	if err != nil {
		return nil, err
	}
	module, err := moduleExpr(path)
	if err != nil {
		return nil, err
	}

	ctx, span := tracer.Start(ctx, "nixeval.EvaluateAttribute")
	span.SetAttributes(
		telemetry.AttrModulePath.String(path),
		telemetry.AttrAttribute.String(attr.String()),
	)
	value, err := e.Evaluate(ctx, selectExpr(module, attr), EvalOptions{Strict: true})
	telemetry.EndSpan(span, err)
	if err != nil {
		return nil, fmt.Errorf("evaluating %s in %s: %w", attr, path, err)
	}
	return value, nil
}

// EvaluateAttributePosition returns where attr is defined in a module file,
// or nil if the evaluator has no position for it. It is not cached.
func (e *Evaluator) EvaluateAttributePosition(ctx context.Context, modulePath string, attr attribute.Attribute) (*Position, error) {
	if attr.IsRoot() {
		return nil, ErrRootAttribute
	}
	path, err := e.modulePath(modulePath)
	if err != nil {
		return nil, err
	}
	module, err := moduleExpr(path)
	if err != nil {
		return nil, err
	}

	expr := fmt.Sprintf("builtins.unsafeGetAttrPos %s (%s)",
		attribute.QuoteString(attr.End()), selectExpr(module, attr.Parent()))

	raw, err := e.Evaluate(ctx, expr, EvalOptions{})
	if err != nil {
		return nil, fmt.Errorf("locating %s in %s: %w", attr, path, err)
	}
	return decodePosition(raw)
}
