package nixeval

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/boredom101/nix-gui/pkg/attribute"
	"github.com/boredom101/nix-gui/pkg/cache"
)

const (
	schemaExpr = `with import <nixpkgs/nixos> {}; builtins.mapAttrs (n: v: builtins.removeAttrs v ["default" "declarations"]) (pkgs.nixosOptionsDoc { inherit options; }).optionsNix`

	versionExpr = `with import <nixpkgs/nixos> {}; pkgs.lib.version`
)

// Kind is the coarse value type of an option.
type Kind string

// Option kinds.
const (
	KindBoolean Kind = "boolean"
	KindSet     Kind = "set"
	KindList    Kind = "list"
	KindInt     Kind = "int"
	KindFloat   Kind = "float"
	KindString  Kind = "string"
)

// KindFromType maps an option type description such as "list of string"
// or "null or boolean" onto a Kind. Unrecognized types are strings.
func KindFromType(typeDesc string) Kind {
	t := strings.ToLower(typeDesc)
	switch {
	case strings.HasPrefix(t, "list of"), strings.HasPrefix(t, "null or list of"):
		return KindList
	case strings.Contains(t, "attribute set"), strings.Contains(t, "submodule"):
		return KindSet
	case strings.Contains(t, "boolean"):
		return KindBoolean
	case strings.Contains(t, "integer"), strings.Contains(t, "signed int"), strings.Contains(t, "unsigned int"):
		return KindInt
	case strings.Contains(t, "float"):
		return KindFloat
	default:
		return KindString
	}
}

// OptionSchema describes one NixOS option.
type OptionSchema struct {
	Description     string `json:"description"`
	ReadOnly        bool   `json:"read_only"`
	Kind            Kind   `json:"kind"`
	Type            string `json:"type"`
	RelatedPackages any    `json:"related_packages,omitempty"`
}

// Schema maps option attributes to their metadata.
type Schema map[attribute.Attribute]OptionSchema

// Under returns the options at or below prefix in attribute order.
func (s Schema) Under(prefix attribute.Attribute) []attribute.Attribute {
	var out []attribute.Attribute
	for attr := range s {
		if attr.HasPrefix(prefix) {
			out = append(out, attr)
		}
	}
	slices.SortFunc(out, attribute.Attribute.Compare)
	return out
}

// Lookup returns the schema entry of attr. Option names declared under
// attrsOf or listOf submodules contain placeholder segments such as
// "<name>" or "*", which match any segment when no exact entry exists.
func (s Schema) Lookup(attr attribute.Attribute) (OptionSchema, bool) {
	if opt, ok := s[attr]; ok {
		return opt, true
	}
	segs := attr.Segments()
	var (
		best      attribute.Attribute
		bestScore = -1
	)
	for candidate := range s {
		if candidate.Len() != len(segs) {
			continue
		}
		score, ok := matchPlaceholders(candidate.Segments(), segs)
		if !ok {
			continue
		}
		// prefer the entry with the most literal segments
		if score > bestScore || score == bestScore && candidate.Compare(best) < 0 {
			best, bestScore = candidate, score
		}
	}
	if bestScore < 0 {
		return OptionSchema{}, false
	}
	return s[best], true
}

func matchPlaceholders(pattern, segs []string) (int, bool) {
	literal := 0
	for i, p := range pattern {
		switch {
		case p == segs[i]:
			literal++
		case p == "*" || len(p) > 2 && p[0] == '<' && p[len(p)-1] == '>':
		default:
			return 0, false
		}
	}
	return literal, true
}

// SchemaVersion returns the version of the installed nixpkgs. It is the
// retained hash of the cached schema.
func (e *Evaluator) SchemaVersion(ctx context.Context) (string, error) {
	v, err := e.Evaluate(ctx, versionExpr, EvalOptions{})
	if err != nil {
		return "", err
	}
	version, ok := v.(string)
	if !ok {
		return "", fmt.Errorf("nixpkgs version: expected a string, got %T", v)
	}
	return version, nil
}

// GetSchema returns the metadata of every NixOS option. The result is
// cached in memory and on disk until the nixpkgs version changes.
func (e *Evaluator) GetSchema(ctx context.Context) (Schema, error) {
	return cache.GetOrCompute(ctx, e.cache, cache.Call[Schema]{
		Signature: cache.Signature{Function: "nixeval.GetSchema", Args: []any{e.searchPath}},
		Compute:   e.computeSchema,
		Hash:      e.SchemaVersion,
		Copy:      maps.Clone[Schema],
		Persist:   true,
	})
}

func (e *Evaluator) computeSchema(ctx context.Context) (Schema, error) {
	raw, err := e.Evaluate(ctx, schemaExpr, EvalOptions{Strict: true})
	if err != nil {
		return nil, err
	}

	options, ok := raw.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("option schema: expected an attribute set, got %T", raw)
	}

	schema := make(Schema, len(options))
	for name, v := range options {
		record, ok := v.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("option %s: expected an attribute set, got %T", name, v)
		}
		attr, err := locAttribute(record["loc"])
		if err != nil {
			return nil, fmt.Errorf("option %s: %w", name, err)
		}

		typeDesc, _ := record["type"].(string)
		readOnly, _ := record["readOnly"].(bool)
		schema[attr] = OptionSchema{
			Description:     description(record["description"]),
			ReadOnly:        readOnly,
			Kind:            KindFromType(typeDesc),
			Type:            typeDesc,
			RelatedPackages: record["relatedPackages"],
		}
	}

	e.logger.Info().Int("options", len(schema)).Msg("loaded option schema")
	return schema, nil
}

// locAttribute converts an option's loc list into an Attribute.
func locAttribute(v any) (attribute.Attribute, error) {
	loc, ok := v.([]any)
	if !ok {
		return attribute.Attribute{}, fmt.Errorf("loc: expected a list, got %T", v)
	}
	segments := make([]string, len(loc))
	for i, s := range loc {
		seg, ok := s.(string)
		if !ok {
			return attribute.Attribute{}, fmt.Errorf("loc[%d]: expected a string, got %T", i, s)
		}
		segments[i] = seg
	}
	return attribute.New(segments...), nil
}

// description accepts both plain strings and the {_type, text} documentation
// records older nixpkgs emit.
func description(v any) string {
	switch d := v.(type) {
	case string:
		return d
	case map[string]any:
		text, _ := d["text"].(string)
		return text
	default:
		return ""
	}
}
