package config

import (
	"fmt"
	"strings"
)

// Config is the nix-gui configuration.
type Config struct {
	// CacheDir holds the persisted memoization cache.
	CacheDir string `json:"cache_dir" yaml:"cache_dir" validate:"required"`

	// BuildVersion namespaces cache entries. Entries written by another
	// build are ignored.
	BuildVersion string `json:"build_version" yaml:"build_version" validate:"required"`

	Evaluator EvaluatorConfig `json:"evaluator" yaml:"evaluator"`

	// Remote evaluates on another host over SSH when set.
	Remote *RemoteConfig `json:"remote,omitempty" yaml:"remote,omitempty"`

	Journal JournalConfig `json:"journal" yaml:"journal"`
	Policy  PolicyConfig  `json:"policy" yaml:"policy"`
	Log     LogConfig     `json:"log" yaml:"log"`
	Metrics MetricsConfig `json:"metrics" yaml:"metrics"`
	Tracing TracingConfig `json:"tracing" yaml:"tracing"`
}

// EvaluatorConfig configures the Nix evaluator process.
type EvaluatorConfig struct {
	Binary string `json:"binary" yaml:"binary" validate:"required"`

	// SearchPath entries are passed as -I flags, e.g. "nixpkgs=/path".
	SearchPath []string `json:"search_path,omitempty" yaml:"search_path" validate:"dive,required"`
}

// RemoteConfig is the SSH target of remote evaluation.
type RemoteConfig struct {
	Host           string `json:"host" yaml:"host" validate:"required,hostname|ip"`
	Port           int    `json:"port" yaml:"port" validate:"min=1,max=65535"`
	User           string `json:"user" yaml:"user" validate:"required"`
	AuthMethod     string `json:"auth_method" yaml:"auth_method" validate:"oneof=key password agent"`
	Password       string `json:"password,omitempty" yaml:"password" validate:"required_if=AuthMethod password"`
	PrivateKeyPath string `json:"private_key_path,omitempty" yaml:"private_key_path"`
	KnownHostsPath string `json:"known_hosts_path,omitempty" yaml:"known_hosts_path"`
	ConnectTimeout string `json:"connect_timeout" yaml:"connect_timeout" validate:"duration"`

	// InsecureSkipHostKeyCheck accepts any host key.
	InsecureSkipHostKeyCheck bool `json:"insecure_skip_host_key_check" yaml:"insecure_skip_host_key_check"`
}

// JournalConfig configures the SQLite edit journal.
type JournalConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Path    string `json:"path,omitempty" yaml:"path" validate:"required_if=Enabled true"`
}

// PolicyConfig configures the edit policies.
type PolicyConfig struct {
	// Paths are .rego or JSON policy files or directories.
	Paths []string `json:"paths,omitempty" yaml:"paths" validate:"dive,required"`

	// Watch reloads policies when files under Paths change.
	Watch bool `json:"watch" yaml:"watch"`

	// Disabled names built-in or loaded policies to turn off.
	Disabled []string `json:"disabled,omitempty" yaml:"disabled"`
}

// LogConfig configures logging.
type LogConfig struct {
	Level  string `json:"level" yaml:"level" validate:"oneof=trace debug info warn error"`
	Format string `json:"format" yaml:"format" validate:"oneof=console json"`
}

// MetricsConfig configures Prometheus metrics.
type MetricsConfig struct {
	Enabled       bool   `json:"enabled" yaml:"enabled"`
	ListenAddress string `json:"listen_address,omitempty" yaml:"listen_address" validate:"omitempty,hostname_port"`
}

// TracingConfig configures OpenTelemetry tracing.
type TracingConfig struct {
	Enabled      bool    `json:"enabled" yaml:"enabled"`
	Exporter     string  `json:"exporter" yaml:"exporter" validate:"oneof=none stdout otlp"`
	Endpoint     string  `json:"endpoint,omitempty" yaml:"endpoint" validate:"required_if=Exporter otlp"`
	SamplingRate float64 `json:"sampling_rate" yaml:"sampling_rate" validate:"min=0,max=1"`
	Insecure     bool    `json:"insecure" yaml:"insecure"`
}

// ValidationError represents a validation error with location information.
type ValidationError struct {
	// File is the source file path.
	File string `json:"file,omitempty"`

	// Line is the line number (1-indexed).
	Line int `json:"line,omitempty"`

	// Column is the column number (1-indexed).
	Column int `json:"column,omitempty"`

	// Path is the field path of the error (e.g., "remote.port").
	Path string `json:"path,omitempty"`

	// Message is the error message.
	Message string `json:"message"`
}

func (e ValidationError) String() string {
	var b strings.Builder
	if e.File != "" {
		b.WriteString(e.File)
		if e.Line > 0 {
			fmt.Fprintf(&b, ":%d:%d", e.Line, e.Column)
		}
		b.WriteString(": ")
	}
	if e.Path != "" {
		b.WriteString(e.Path)
		b.WriteString(": ")
	}
	b.WriteString(e.Message)
	return b.String()
}

// ValidationErrors is returned when a configuration is rejected.
type ValidationErrors []ValidationError

func (errs ValidationErrors) Error() string {
	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.String()
	}
	return "invalid configuration: " + strings.Join(msgs, "; ")
}
