package commands

import (
	"bytes"
	"context"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/boredom101/nix-gui/pkg/attribute"
	"github.com/boredom101/nix-gui/pkg/options"
)

func testTree() *options.Tree {
	return options.BuildTree(map[attribute.Attribute]options.Definition{
		attribute.MustParse("networking.hostName"):            options.NewDefinition("nixos"),
		attribute.MustParse("services.openssh.enable"):        options.NewDefinition(false),
		attribute.MustParse("users.users.alice.isNormalUser"): options.NewDefinition(true),
		attribute.MustParse("users.users.alice.extraGroups"):  options.NewDefinition([]any{"wheel"}),
		attribute.MustParse("environment.systemPackages"):     options.NewDefinition([]any{}),
	})
}

func TestParseScript(t *testing.T) {
	tests := []struct {
		name    string
		content string
		steps   int
		wantErr bool
	}{
		{name: "empty", content: "", steps: 0},
		{
			name: "all operations",
			content: `
steps:
  - set: networking.hostName
    value: desktop
  - create: services.openssh.ports
    value: [22, 2222]
  - rename: users.users.alice
    to: users.users.bob
  - remove: environment.systemPackages
  - undo: 2
  - redo: 1
`,
			steps: 6,
		},
		{name: "unknown field", content: "steps:\n  - change: a\n", wantErr: true},
		{name: "no operation", content: "steps:\n  - value: 1\n", wantErr: true},
		{name: "two operations", content: "steps:\n  - set: a\n    remove: b\n", wantErr: true},
		{name: "rename without target", content: "steps:\n  - rename: a\n", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			script, err := parseScript([]byte(tt.content))
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Len(t, script.Steps, tt.steps)
		})
	}
}

func TestScriptRun(t *testing.T) {
	ctx := context.Background()
	script, err := parseScript([]byte(`
steps:
  - set: networking.hostName
    value: laptop
  - set: networking.hostName
    value: desktop
  - create: services.openssh.ports
    value: [22, 2222]
  - rename: users.users.alice
    to: users.users.bob
  - remove: environment.systemPackages
  - undo: 2
  - redo: 1
`))
	require.NoError(t, err)

	editor := options.NewEditor(testTree(), options.EditorConfig{Logger: zerolog.Nop()})
	require.NoError(t, script.run(ctx, editor))

	assert.Equal(t, []string{
		`Changed networking.hostName from "nixos" -> "desktop"`,
		"Created services.openssh.ports",
		"Renamed attribute users.users.alice to users.users.bob",
	}, editor.History())
	assert.Equal(t, 1, editor.Log().RedoLen())

	tree := editor.Tree()
	ports, ok := tree.Definition(attribute.MustParse("services.openssh.ports"))
	require.True(t, ok)
	assert.Equal(t, []any{int64(22), int64(2222)}, ports.Value())
	assert.True(t, tree.Has(attribute.MustParse("users.users.bob.isNormalUser")))
	assert.False(t, tree.Has(attribute.MustParse("users.users.alice")))
	assert.True(t, tree.Has(attribute.MustParse("environment.systemPackages")))
}

func TestScriptRunStopsAtFirstFailure(t *testing.T) {
	ctx := context.Background()
	script, err := parseScript([]byte(`
steps:
  - set: networking.hostName
    value: desktop
  - set: networking.domain
    value: example.org
  - remove: services.openssh
`))
	require.NoError(t, err)

	editor := options.NewEditor(testTree(), options.EditorConfig{Logger: zerolog.Nop()})
	err = script.run(ctx, editor)
	require.Error(t, err)
	assert.ErrorIs(t, err, options.ErrAttributeNotFound)
	assert.Contains(t, err.Error(), "step 2")
	assert.Equal(t, 1, editor.Log().Len())
	assert.True(t, editor.Tree().Has(attribute.MustParse("services.openssh")))
}

func TestScriptUndoUnderflow(t *testing.T) {
	script, err := parseScript([]byte("steps:\n  - undo: 1\n"))
	require.NoError(t, err)

	editor := options.NewEditor(testTree(), options.EditorConfig{Logger: zerolog.Nop()})
	assert.ErrorIs(t, script.run(context.Background(), editor), options.ErrUndoUnderflow)
}

func TestNormalizeValue(t *testing.T) {
	in := map[string]any{
		"port":  22,
		"hosts": []any{"a", 1},
		"ratio": 0.5,
		"on":    true,
	}
	want := map[string]any{
		"port":  int64(22),
		"hosts": []any{"a", int64(1)},
		"ratio": 0.5,
		"on":    true,
	}
	assert.Equal(t, want, normalizeValue(in))
}

func TestDefinitionPrinter(t *testing.T) {
	var buf bytes.Buffer
	editor := options.NewEditor(testTree(), options.EditorConfig{Logger: zerolog.Nop()})
	require.NoError(t, editor.Export(context.Background(), "/etc/nixos/configuration.nix", &definitionPrinter{w: &buf}))

	assert.Equal(t, `environment.systemPackages = []
networking.hostName = "nixos"
services.openssh.enable = false
users.users.alice.extraGroups = ["wheel"]
users.users.alice.isNormalUser = true
`, buf.String())
}
