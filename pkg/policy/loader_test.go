package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

const hostnameRego = `# Hostnames must be set explicitly.
# severity: error
package local.policies.hostname

import rego.v1

deny contains "networking.hostName must not be empty" if {
	input.update.attribute == "networking.hostName"
	input.update.value == ""
}
`

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		t.Fatalf("Failed to create directory: %v", err)
	}
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("Failed to write %s: %v", path, err)
	}
}

func TestLoader_RegoFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hostname.rego")
	writeFile(t, path, hostnameRego)

	loader := NewLoader(zerolog.Nop())
	policies, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}
	if len(policies) != 1 {
		t.Fatalf("Expected 1 policy, got %d", len(policies))
	}

	p := policies[0]
	if p.Name != "hostname" {
		t.Errorf("Expected name hostname, got %s", p.Name)
	}
	if p.Severity != SeverityError {
		t.Errorf("Expected severity from marker, got %s", p.Severity)
	}
	if p.Description != "Hostnames must be set explicitly." {
		t.Errorf("Unexpected description %q", p.Description)
	}
	if !p.Enabled {
		t.Error("Rego file policies must be enabled")
	}
	if p.Metadata["source"] != path {
		t.Errorf("Expected source metadata %s, got %v", path, p.Metadata["source"])
	}
}

func TestLoader_DefaultSeverity(t *testing.T) {
	content := "package local.policies.quiet\n\nimport rego.v1\n\ndeny contains \"x\" if false\n"
	if sev := severityFromComments(content); sev != SeverityWarning {
		t.Errorf("Expected warning, got %s", sev)
	}
	if sev := severityFromComments("#   severity:  info\n"); sev != SeverityInfo {
		t.Errorf("Expected info, got %s", sev)
	}
	if sev := severityFromComments("# severity: fatal\n"); sev != SeverityWarning {
		t.Errorf("Unknown severities must fall back to warning, got %s", sev)
	}
}

func TestLoader_JSONFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "policy.json")
	writeFile(t, path, `{"name": "no-root-login", "enabled": true, "rego": "package x\n\nimport rego.v1\n\ndeny contains \"x\" if false\n"}`)

	loader := NewLoader(zerolog.Nop())
	policies, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}
	if len(policies) != 1 || policies[0].Name != "no-root-login" {
		t.Fatalf("Unexpected policies %+v", policies)
	}
	if policies[0].Severity != SeverityWarning {
		t.Errorf("Expected default severity warning, got %s", policies[0].Severity)
	}

	unnamed := filepath.Join(dir, "unnamed.json")
	writeFile(t, unnamed, `{"rego": "package x"}`)
	if _, err := loader.LoadFromPaths(context.Background(), []string{unnamed}); err == nil {
		t.Error("Expected error for JSON policy without a name")
	}
}

func TestLoader_Directory(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "hostname.rego"), hostnameRego)
	writeFile(t, filepath.Join(dir, "nested", "quiet.rego"), "package local.quiet\n")
	writeFile(t, filepath.Join(dir, "README.md"), "not a policy")
	writeFile(t, filepath.Join(dir, "broken.json"), "{")

	loader := NewLoader(zerolog.Nop())
	policies, err := loader.LoadFromPaths(context.Background(), []string{dir})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}

	names := map[string]bool{}
	for _, p := range policies {
		names[p.Name] = true
	}
	if len(policies) != 2 || !names["hostname"] || !names["quiet"] {
		t.Fatalf("Expected hostname and quiet policies, got %v", names)
	}
}

func TestLoader_Errors(t *testing.T) {
	dir := t.TempDir()
	loader := NewLoader(zerolog.Nop())

	if _, err := loader.LoadFromPaths(context.Background(), []string{filepath.Join(dir, "missing.rego")}); err == nil {
		t.Error("Expected error for missing path")
	}

	txt := filepath.Join(dir, "policy.txt")
	writeFile(t, txt, "package x")
	if _, err := loader.LoadFromPaths(context.Background(), []string{txt}); err == nil {
		t.Error("Expected error for unsupported file type")
	}
}

func TestLoader_Cache(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "hostname.rego")
	writeFile(t, path, hostnameRego)

	loader := NewLoader(zerolog.Nop())
	if _, err := loader.LoadFromPaths(context.Background(), []string{path}); err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}

	writeFile(t, path, "# Changed.\npackage local.policies.hostname\n")
	policies, err := loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}
	if policies[0].Description != "Hostnames must be set explicitly." {
		t.Errorf("Expected cached policy, got description %q", policies[0].Description)
	}

	loader.ClearCache()
	policies, err = loader.LoadFromPaths(context.Background(), []string{path})
	if err != nil {
		t.Fatalf("LoadFromPaths failed: %v", err)
	}
	if policies[0].Description != "Changed." {
		t.Errorf("Expected reloaded policy, got description %q", policies[0].Description)
	}
}

func TestLoader_Watch(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "hostname.rego"), hostnameRego)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reloaded := make(chan []Policy, 4)
	loader := NewLoader(zerolog.Nop())
	err := loader.Watch(ctx, []string{dir}, func(_ context.Context, policies []Policy) error {
		reloaded <- policies
		return nil
	})
	if err != nil {
		t.Fatalf("Watch failed: %v", err)
	}

	writeFile(t, filepath.Join(dir, "quiet.rego"), "package local.quiet\n")

	select {
	case policies := <-reloaded:
		if len(policies) != 2 {
			t.Fatalf("Expected 2 policies after reload, got %d", len(policies))
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for policy reload")
	}
}
