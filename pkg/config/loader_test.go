package config

import (
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
	"time"
)

func newTestLoader(t *testing.T) *Loader {
	t.Helper()
	l, err := NewLoader()
	if err != nil {
		t.Fatalf("failed to create loader: %v", err)
	}
	return l
}

func hasPath(err error, path string) bool {
	var errs ValidationErrors
	if !errors.As(err, &errs) {
		return false
	}
	return slices.ContainsFunc(errs, func(e ValidationError) bool { return e.Path == path })
}

func TestDefaultIsValid(t *testing.T) {
	l := newTestLoader(t)
	if err := l.Validate(Default()); err != nil {
		t.Fatalf("default config is invalid: %v", err)
	}

	cfg := Default()
	if filepath.Base(cfg.CacheDir) != "func_cache" || filepath.Base(filepath.Dir(cfg.CacheDir)) != "nix-gui" {
		t.Errorf("unexpected cache dir %s", cfg.CacheDir)
	}
	if cfg.BuildVersion != BuildVersion {
		t.Errorf("expected build version %s, got %s", BuildVersion, cfg.BuildVersion)
	}
}

func TestParseYAML(t *testing.T) {
	l := newTestLoader(t)

	tests := []struct {
		name      string
		content   string
		wantErr   bool
		errPath   string
		checkFunc func(*testing.T, *Config)
	}{
		{
			name:    "empty file keeps defaults",
			content: "",
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.Evaluator.Binary != "nix-instantiate" || cfg.Log.Level != "info" || !cfg.Journal.Enabled {
					t.Errorf("expected defaults, got %+v", cfg)
				}
			},
		},
		{
			name: "overrides",
			content: `
build_version: "1.2.3"
evaluator:
  binary: /run/current-system/sw/bin/nix-instantiate
  search_path: ["nixpkgs=/src/nixpkgs"]
log:
  level: debug
  format: json
metrics:
  enabled: true
  listen_address: "localhost:9090"
policy:
  paths: [/etc/nix-gui/policies]
  disabled: [state-version]
`,
			checkFunc: func(t *testing.T, cfg *Config) {
				if cfg.BuildVersion != "1.2.3" {
					t.Errorf("expected build version 1.2.3, got %s", cfg.BuildVersion)
				}
				if !slices.Equal(cfg.Evaluator.SearchPath, []string{"nixpkgs=/src/nixpkgs"}) {
					t.Errorf("unexpected search path %v", cfg.Evaluator.SearchPath)
				}
				if cfg.Log.Level != "debug" || cfg.Log.Format != "json" {
					t.Errorf("unexpected log config %+v", cfg.Log)
				}
				if !slices.Equal(cfg.Policy.Disabled, []string{"state-version"}) {
					t.Errorf("unexpected disabled policies %v", cfg.Policy.Disabled)
				}
				if cfg.Tracing.Exporter != "none" {
					t.Errorf("expected default exporter, got %s", cfg.Tracing.Exporter)
				}
			},
		},
		{
			name: "remote defaults",
			content: `
remote:
  host: build.example.org
  user: admin
`,
			checkFunc: func(t *testing.T, cfg *Config) {
				r := cfg.Remote
				if r == nil {
					t.Fatal("expected remote config")
				}
				if r.Port != 22 || r.AuthMethod != "key" || r.ConnectTimeout != "30s" {
					t.Errorf("expected remote defaults, got %+v", r)
				}
			},
		},
		{
			name:    "unknown field",
			content: "colour: blue\n",
			wantErr: true,
		},
		{
			name:    "invalid log level",
			content: "log:\n  level: loud\n",
			wantErr: true,
			errPath: "log.level",
		},
		{
			name:    "password auth without password",
			content: "remote:\n  host: build.example.org\n  user: admin\n  auth_method: password\n",
			wantErr: true,
			errPath: "remote.password",
		},
		{
			name:    "invalid port",
			content: "remote:\n  host: build.example.org\n  user: admin\n  port: 70000\n",
			wantErr: true,
			errPath: "remote.port",
		},
		{
			name:    "invalid timeout",
			content: "remote:\n  host: build.example.org\n  user: admin\n  connect_timeout: soon\n",
			wantErr: true,
			errPath: "remote.connect_timeout",
		},
		{
			name:    "journal without path",
			content: "journal:\n  enabled: true\n  path: \"\"\n",
			wantErr: true,
			errPath: "journal.path",
		},
		{
			name:    "otlp without endpoint",
			content: "tracing:\n  enabled: true\n  exporter: otlp\n",
			wantErr: true,
			errPath: "tracing.endpoint",
		},
		{
			name:    "invalid metrics address",
			content: "metrics:\n  listen_address: nowhere\n",
			wantErr: true,
			errPath: "metrics.listen_address",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := l.Parse("config.yaml", []byte(tt.content), FormatYAML)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Parse() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.errPath != "" && !hasPath(err, tt.errPath) {
				t.Errorf("expected an error for %s, got %v", tt.errPath, err)
			}
			if tt.checkFunc != nil && err == nil {
				tt.checkFunc(t, cfg)
			}
		})
	}
}

func TestParseCUE(t *testing.T) {
	l := newTestLoader(t)

	content := `
evaluator: search_path: ["nixpkgs=/src/nixpkgs"]
remote: {
	host:        "10.0.0.2"
	user:        "root"
	auth_method: "password"
	password:    "hunter2"
}
tracing: {
	enabled:  true
	exporter: "otlp"
	endpoint: "localhost:4317"
}
`
	cfg, err := l.Parse("config.cue", []byte(content), FormatCUE)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}

	if cfg.Remote == nil || cfg.Remote.Host != "10.0.0.2" || cfg.Remote.Password != "hunter2" {
		t.Fatalf("unexpected remote %+v", cfg.Remote)
	}
	if cfg.Remote.Port != 22 || cfg.Remote.ConnectTimeout != "30s" {
		t.Errorf("expected schema defaults, got %+v", cfg.Remote)
	}
	if cfg.Tracing.Exporter != "otlp" || cfg.Tracing.SamplingRate != 1.0 {
		t.Errorf("unexpected tracing %+v", cfg.Tracing)
	}
	if cfg.Evaluator.Binary != "nix-instantiate" {
		t.Errorf("expected default binary, got %s", cfg.Evaluator.Binary)
	}
	if cfg.CacheDir != Default().CacheDir {
		t.Errorf("expected default cache dir, got %s", cfg.CacheDir)
	}
}

func TestParseCUE_Errors(t *testing.T) {
	l := newTestLoader(t)

	tests := []struct {
		name    string
		content string
	}{
		{"syntax error", "log: {"},
		{"unknown field", "colour: \"blue\"\n"},
		{"type conflict", "log: level: 3\n"},
		{"out of range", "tracing: sampling_rate: 2\n"},
		{"incomplete remote", "remote: user: \"root\"\n"},
		{"password required", "remote: {host: \"h\", user: \"u\", auth_method: \"password\"}\n"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := l.Parse("config.cue", []byte(tt.content), FormatCUE)
			var errs ValidationErrors
			if !errors.As(err, &errs) || len(errs) == 0 {
				t.Fatalf("expected ValidationErrors, got %v", err)
			}
		})
	}
}

func TestLoad(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("HOME", dir)
	l := newTestLoader(t)

	path := filepath.Join(dir, "nix-gui.yaml")
	content := "cache_dir: ~/cache\npolicy:\n  paths: [~/policies]\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := l.Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheDir != filepath.Join(dir, "cache") {
		t.Errorf("expected expanded cache dir, got %s", cfg.CacheDir)
	}
	if !slices.Equal(cfg.Policy.Paths, []string{filepath.Join(dir, "policies")}) {
		t.Errorf("expected expanded policy path, got %v", cfg.Policy.Paths)
	}

	if _, err := l.Load(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
	if _, err := l.Load(filepath.Join(dir, "config.toml")); err == nil {
		t.Error("expected error for unsupported file type")
	}
}

func TestFormatOf(t *testing.T) {
	tests := map[string]Format{
		"a.yaml": FormatYAML,
		"a.YML":  FormatYAML,
		"a.json": FormatYAML,
		"a.cue":  FormatCUE,
	}
	for path, want := range tests {
		got, err := FormatOf(path)
		if err != nil || got != want {
			t.Errorf("FormatOf(%s) = %s, %v; want %s", path, got, err, want)
		}
	}
}

func TestConversions(t *testing.T) {
	cfg := Default()
	cfg.BuildVersion = "1.0"
	cfg.Log.Level = "warn"
	cfg.Metrics.Enabled = true
	cfg.Tracing.Exporter = "stdout"

	tc := cfg.Telemetry()
	if tc.ServiceVersion != "1.0" || tc.Logging.Level != "warn" || !tc.Metrics.Enabled || tc.Tracing.Exporter != "stdout" {
		t.Errorf("unexpected telemetry config %+v", tc)
	}
	if err := tc.Validate(); err != nil {
		t.Errorf("telemetry config is invalid: %v", err)
	}

	remote := &RemoteConfig{
		Host:                     "build.example.org",
		Port:                     2222,
		User:                     "admin",
		AuthMethod:               "password",
		Password:                 "pw",
		KnownHostsPath:           "/etc/ssh/ssh_known_hosts",
		ConnectTimeout:           "5s",
		InsecureSkipHostKeyCheck: true,
	}
	sc, err := remote.SSH()
	if err != nil {
		t.Fatalf("SSH() error = %v", err)
	}
	if sc.Address() != "build.example.org:2222" || sc.ConnectionTimeout != 5*time.Second || sc.StrictHostKeyChecking {
		t.Errorf("unexpected ssh config %+v", sc)
	}
	if err := sc.Validate(); err != nil {
		t.Errorf("ssh config is invalid: %v", err)
	}

	remote.ConnectTimeout = "never"
	if _, err := remote.SSH(); err == nil {
		t.Error("expected error for invalid timeout")
	}
}
