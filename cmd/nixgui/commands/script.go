package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"

	"github.com/boredom101/nix-gui/pkg/attribute"
	"github.com/boredom101/nix-gui/pkg/options"
)

// editScript is the YAML document read by the edit command:
//
//	steps:
//	  - set: networking.hostName
//	    value: desktop
//	  - create: services.openssh.enable
//	    value: true
//	  - rename: users.users.alice
//	    to: users.users.bob
//	  - remove: services.printing
//	  - undo: 1
//	  - redo: 1
type editScript struct {
	Steps []scriptStep `yaml:"steps"`
}

type scriptStep struct {
	Set    string `yaml:"set"`
	Create string `yaml:"create"`
	Rename string `yaml:"rename"`
	To     string `yaml:"to"`
	Remove string `yaml:"remove"`
	Undo   int    `yaml:"undo"`
	Redo   int    `yaml:"redo"`
	Value  any    `yaml:"value"`
}

func (s scriptStep) op() (string, error) {
	var ops []string
	for name, set := range map[string]bool{
		"set":    s.Set != "",
		"create": s.Create != "",
		"rename": s.Rename != "",
		"remove": s.Remove != "",
		"undo":   s.Undo > 0,
		"redo":   s.Redo > 0,
	} {
		if set {
			ops = append(ops, name)
		}
	}
	if len(ops) != 1 {
		return "", fmt.Errorf("expected exactly one operation, found %d", len(ops))
	}
	if ops[0] == "rename" && s.To == "" {
		return "", errors.New("rename needs a target in \"to\"")
	}
	return ops[0], nil
}

// parseScript decodes and checks an edit script.
func parseScript(data []byte) (*editScript, error) {
	var script editScript
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&script); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("failed to parse edit script: %w", err)
	}
	for i, step := range script.Steps {
		if _, err := step.op(); err != nil {
			return nil, fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return &script, nil
}

// run applies the steps to editor in order and stops at the first failure.
// Undo and redo steps repeat as often as their count says.
func (s *editScript) run(ctx context.Context, editor *options.Editor) error {
	for i, step := range s.Steps {
		if err := step.apply(ctx, editor); err != nil {
			return fmt.Errorf("step %d: %w", i+1, err)
		}
	}
	return nil
}

func (s scriptStep) apply(ctx context.Context, editor *options.Editor) error {
	op, err := s.op()
	if err != nil {
		return err
	}

	switch op {
	case "set":
		attr, err := attribute.Parse(s.Set)
		if err != nil {
			return err
		}
		return editor.SetDefinition(ctx, attr, options.NewDefinition(normalizeValue(s.Value)))
	case "create":
		attr, err := attribute.Parse(s.Create)
		if err != nil {
			return err
		}
		return editor.Create(ctx, attr, options.NewDefinition(normalizeValue(s.Value)))
	case "rename":
		from, err := attribute.Parse(s.Rename)
		if err != nil {
			return err
		}
		to, err := attribute.Parse(s.To)
		if err != nil {
			return err
		}
		return editor.Rename(ctx, from, to)
	case "remove":
		attr, err := attribute.Parse(s.Remove)
		if err != nil {
			return err
		}
		return editor.Remove(ctx, attr)
	case "undo":
		for range s.Undo {
			if _, err := editor.Undo(ctx); err != nil {
				return err
			}
		}
	case "redo":
		for range s.Redo {
			if _, err := editor.Redo(ctx); err != nil {
				return err
			}
		}
	}
	return nil
}

// normalizeValue converts YAML scalars to the representation the evaluator
// produces, so equal values compare equal.
func normalizeValue(v any) any {
	switch v := v.(type) {
	case int:
		return int64(v)
	case uint64:
		return int64(v)
	case []any:
		out := make([]any, len(v))
		for i, e := range v {
			out[i] = normalizeValue(e)
		}
		return out
	case map[string]any:
		out := make(map[string]any, len(v))
		for k, e := range v {
			out[k] = normalizeValue(e)
		}
		return out
	default:
		return v
	}
}
