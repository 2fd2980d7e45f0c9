package nixeval

import (
	"bytes"
	"context"
	"fmt"
	"maps"
	"text/template"

	"github.com/boredom101/nix-gui/pkg/attribute"
	"github.com/boredom101/nix-gui/pkg/cache"
	"github.com/boredom101/nix-gui/pkg/telemetry"
)

// Position is a source location reported by the evaluator.
type Position struct {
	File   string `json:"file"`
	Line   int    `json:"line"`
	Column int    `json:"column"`
}

func (p Position) String() string {
	return fmt.Sprintf("%s:%d:%d", p.File, p.Line, p.Column)
}

// DefinedAttributes maps each leaf attribute defined in a module file to the
// position of its definition. A nil position means the evaluator could not
// locate it.
type DefinedAttributes map[attribute.Attribute]*Position

// moduleTemplate loads a module file, calling it with stub arguments when it
// is a function.
var moduleTemplate = template.Must(template.New("module").Funcs(template.FuncMap{
	"nixString": attribute.QuoteString,
}).Parse(`(let m = import (/. + {{nixString .Path}}); in if builtins.isFunction m then m {
  config = {};
  pkgs = import <nixpkgs> {};
  lib = import <nixpkgs/lib>;
} else m)`))

// closureTemplate walks the module's attribute sets breadth first. A child is
// kept only when its definition position lies in the module file itself, so
// attributes contributed by imports, pkgs or lib are pruned. Values that are
// not attribute sets, derivations and values that fail to evaluate are leaves.
var closureTemplate = template.Must(template.New("closure").Funcs(template.FuncMap{
	"nixString": attribute.QuoteString,
}).Parse(`let
  root = {{.Module}};
  file = builtins.toString {{nixString .Path}};
  definedHere = set: name:
    let pos = builtins.unsafeGetAttrPos name set;
    in pos != null && pos.file == file;
  isBranch = v:
    let t = builtins.tryEval (builtins.isAttrs v && (v.type or null) != "derivation");
    in t.success && t.value;
  children = n: map (name: {
      key = builtins.toJSON (n.path ++ [ name ]);
      path = n.path ++ [ name ];
      value = n.value.${name};
      position = builtins.unsafeGetAttrPos name n.value;
    }) (builtins.filter (definedHere n.value) (builtins.attrNames n.value));
  nodes = builtins.genericClosure {
    startSet = [ { key = "[]"; path = [ ]; value = root; position = null; } ];
    operator = n: if isBranch n.value then children n else [ ];
  };
in map (n: { name = n.path; position = n.position; })
  (builtins.filter (n: n.path != [ ] && !(isBranch n.value)) nodes)`))

func render(t *template.Template, data any) (string, error) {
	var b bytes.Buffer
	if err := t.Execute(&b, data); err != nil {
		return "", fmt.Errorf("rendering %s expression: %w", t.Name(), err)
	}
	return b.String(), nil
}

func moduleExpr(path string) (string, error) {
	return render(moduleTemplate, struct{ Path string }{path})
}

// ModuleDefinedAttributesExpr builds the closure expression for a module at
// an absolute path.
func ModuleDefinedAttributesExpr(path string) (string, error) {
	module, err := moduleExpr(path)
	if err != nil {
		return "", err
	}
	return render(closureTemplate, struct{ Path, Module string }{path, module})
}

// GetModuleDefinedAttributes returns the leaf attributes a module file
// defines itself, with their positions. The result is cached in memory and
// on disk until the file's contents change.
func (e *Evaluator) GetModuleDefinedAttributes(ctx context.Context, modulePath string) (DefinedAttributes, error) {
	path, err := e.modulePath(modulePath)
	if err != nil {
		return nil, err
	}

	return cache.GetOrCompute(ctx, e.cache, cache.Call[DefinedAttributes]{
		Signature: cache.Signature{Function: "nixeval.GetModuleDefinedAttributes", Args: []any{path}},
		Compute: func(ctx context.Context) (DefinedAttributes, error) {
			return e.computeDefinedAttributes(ctx, path)
		},
		Hash:    cache.FileHash(e.readFile, path),
		Copy:    maps.Clone[DefinedAttributes],
		Persist: true,
	})
}

func (e *Evaluator) computeDefinedAttributes(ctx context.Context, path string) (DefinedAttributes, error) {
	ctx, span := tracer.Start(ctx, "nixeval.GetModuleDefinedAttributes")
	span.SetAttributes(telemetry.AttrModulePath.String(path))
	defer span.End()

	expr, err := ModuleDefinedAttributesExpr(path)
	if err != nil {
		return nil, err
	}

	raw, err := e.Evaluate(ctx, expr, EvalOptions{Strict: true})
	if err != nil {
		return nil, err
	}

	leaves, err := decodeLeaves(raw)
	if err != nil {
		return nil, fmt.Errorf("module %s: %w", path, err)
	}

	e.logger.Debug().Str("module", path).Int("attributes", len(leaves)).Msg("discovered module attributes")
	return leaves, nil
}

// decodeLeaves reads the closure output: a list of {name, position}.
func decodeLeaves(raw any) (DefinedAttributes, error) {
	list, ok := raw.([]any)
	if !ok {
		return nil, fmt.Errorf("expected a list of attributes, got %T", raw)
	}

	leaves := make(DefinedAttributes, len(list))
	for i, item := range list {
		record, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("attribute %d: expected an attribute set, got %T", i, item)
		}
		attr, err := locAttribute(record["name"])
		if err != nil {
			return nil, fmt.Errorf("attribute %d: %w", i, err)
		}
		pos, err := decodePosition(record["position"])
		if err != nil {
			return nil, fmt.Errorf("attribute %s: %w", attr, err)
		}
		leaves[attr] = pos
	}
	return leaves, nil
}

// decodePosition reads a unsafeGetAttrPos result, which may be null.
func decodePosition(v any) (*Position, error) {
	if v == nil {
		return nil, nil
	}
	record, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("position: expected an attribute set, got %T", v)
	}
	file, _ := record["file"].(string)
	return &Position{
		File:   file,
		Line:   toInt(record["line"]),
		Column: toInt(record["column"]),
	}, nil
}

func toInt(v any) int {
	switch n := v.(type) {
	case int64:
		return int(n)
	case float64:
		return int(n)
	case int:
		return n
	default:
		return 0
	}
}
