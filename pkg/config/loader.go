package config

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cueerrors "cuelang.org/go/cue/errors"
	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/boredom101/nix-gui/pkg/telemetry"
	"github.com/boredom101/nix-gui/pkg/transports/ssh"
)

//go:embed schema.cue
var schemaSource string

// BuildVersion is the default cache namespace. Release builds set it with
// -ldflags "-X github.com/boredom101/nix-gui/pkg/config.BuildVersion=...".
var BuildVersion = "dev"

// Format is the syntax of a configuration file.
type Format string

const (
	// FormatYAML also covers JSON files.
	FormatYAML Format = "yaml"
	FormatCUE  Format = "cue"
)

// FormatOf picks the format from the file extension.
func FormatOf(path string) (Format, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml", ".json":
		return FormatYAML, nil
	case ".cue":
		return FormatCUE, nil
	default:
		return "", fmt.Errorf("unsupported config file type: %s", path)
	}
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		CacheDir:     filepath.Join(cacheHome(), "nix-gui", "func_cache"),
		BuildVersion: BuildVersion,
		Evaluator: EvaluatorConfig{
			Binary: "nix-instantiate",
		},
		Journal: JournalConfig{
			Enabled: true,
			Path:    filepath.Join(stateHome(), "nix-gui", "journal.db"),
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
		Tracing: TracingConfig{
			Exporter:     "none",
			SamplingRate: 1.0,
			Insecure:     true,
		},
	}
}

func cacheHome() string {
	if dir, err := os.UserCacheDir(); err == nil {
		return dir
	}
	return os.TempDir()
}

func stateHome() string {
	if dir := os.Getenv("XDG_STATE_HOME"); dir != "" {
		return dir
	}
	if home, err := os.UserHomeDir(); err == nil {
		return filepath.Join(home, ".local", "state")
	}
	return os.TempDir()
}

// Loader parses configuration files and validates them against the
// embedded CUE schema and the struct tags of Config.
type Loader struct {
	ctx       *cue.Context
	schema    cue.Value
	validator *validator.Validate
}

// NewLoader creates a new configuration loader.
func NewLoader() (*Loader, error) {
	ctx := cuecontext.New()

	val := ctx.CompileString(schemaSource, cue.Filename("schema.cue"))
	if err := val.Err(); err != nil {
		return nil, fmt.Errorf("failed to compile config schema: %w", err)
	}
	schema := val.LookupPath(cue.ParsePath("#Config"))
	if !schema.Exists() {
		return nil, fmt.Errorf("config schema has no #Config definition")
	}

	v := validator.New(validator.WithRequiredStructEnabled())
	// report field paths with the names used in config files
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("yaml"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	if err := v.RegisterValidation("duration", validDuration); err != nil {
		return nil, fmt.Errorf("failed to register duration validation: %w", err)
	}

	return &Loader{ctx: ctx, schema: schema, validator: v}, nil
}

func validDuration(fl validator.FieldLevel) bool {
	d, err := time.ParseDuration(fl.Field().String())
	return err == nil && d > 0
}

// Load reads, parses and validates the configuration file at path.
func (l *Loader) Load(path string) (*Config, error) {
	format, err := FormatOf(path)
	if err != nil {
		return nil, err
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	return l.Parse(path, data, format)
}

// Parse parses and validates configuration data. Fields missing from data
// keep their Default values. name is only used in error messages.
func (l *Loader) Parse(name string, data []byte, format Format) (*Config, error) {
	cfg := Default()

	switch format {
	case FormatYAML:
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(cfg); err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to parse %s: %w", name, err)
		}
	case FormatCUE:
		val := l.ctx.CompileBytes(data, cue.Filename(name))
		if err := val.Err(); err != nil {
			return nil, convertCUEErrors(err)
		}
		unified := l.schema.Unify(val)
		if err := unified.Validate(cue.Concrete(true)); err != nil {
			return nil, convertCUEErrors(err)
		}
		if err := unified.Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to decode %s: %w", name, err)
		}
	default:
		return nil, fmt.Errorf("unsupported config format: %s", format)
	}

	if cfg.Remote != nil {
		applyRemoteDefaults(cfg.Remote)
	}
	expandPaths(cfg)

	if err := l.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyRemoteDefaults fills the fields a YAML file may leave out. CUE files
// get the same values from the schema.
func applyRemoteDefaults(r *RemoteConfig) {
	if r.Port == 0 {
		r.Port = 22
	}
	if r.AuthMethod == "" {
		r.AuthMethod = string(ssh.AuthMethodKey)
	}
	if r.ConnectTimeout == "" {
		r.ConnectTimeout = "30s"
	}
}

func expandPaths(cfg *Config) {
	cfg.CacheDir = expandHome(cfg.CacheDir)
	cfg.Journal.Path = expandHome(cfg.Journal.Path)
	for i, p := range cfg.Policy.Paths {
		cfg.Policy.Paths[i] = expandHome(p)
	}
	if cfg.Remote != nil {
		cfg.Remote.PrivateKeyPath = expandHome(cfg.Remote.PrivateKeyPath)
		cfg.Remote.KnownHostsPath = expandHome(cfg.Remote.KnownHostsPath)
	}
}

func expandHome(path string) string {
	rest, ok := strings.CutPrefix(path, "~/")
	if !ok {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, rest)
}

// Validate checks cfg against the CUE schema and the validator struct tags.
// It returns ValidationErrors.
func (l *Loader) Validate(cfg *Config) error {
	var errs ValidationErrors

	encoded := l.ctx.Encode(cfg)
	if err := encoded.Err(); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := l.schema.Unify(encoded).Validate(cue.Concrete(true)); err != nil {
		errs = append(errs, convertCUEErrors(err)...)
	}

	if err := l.validator.Struct(cfg); err != nil {
		var fieldErrs validator.ValidationErrors
		if !errors.As(err, &fieldErrs) {
			return fmt.Errorf("failed to validate config: %w", err)
		}
		for _, fe := range fieldErrs {
			_, path, _ := strings.Cut(fe.Namespace(), ".")
			errs = append(errs, ValidationError{
				Path:    path,
				Message: fmt.Sprintf("failed on the %q rule", fe.Tag()),
			})
		}
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

// convertCUEErrors converts CUE errors to ValidationErrors.
func convertCUEErrors(err error) ValidationErrors {
	var validationErrors ValidationErrors

	for _, e := range cueerrors.Errors(err) {
		var file string
		var line, column int

		if pos := cueerrors.Positions(e); len(pos) > 0 {
			file = pos[0].Filename()
			line = pos[0].Line()
			column = pos[0].Column()
		}

		format, args := e.Msg()
		validationErrors = append(validationErrors, ValidationError{
			File:    file,
			Line:    line,
			Column:  column,
			Path:    strings.Join(e.Path(), "."),
			Message: fmt.Sprintf(format, args...),
		})
	}

	return validationErrors
}

// Telemetry returns the telemetry settings of cfg.
func (c *Config) Telemetry() *telemetry.Config {
	tc := telemetry.DefaultConfig()
	tc.ServiceVersion = c.BuildVersion
	tc.Logging.Level = c.Log.Level
	tc.Logging.Format = c.Log.Format
	tc.Metrics.Enabled = c.Metrics.Enabled
	tc.Metrics.ListenAddress = c.Metrics.ListenAddress
	tc.Tracing.Enabled = c.Tracing.Enabled
	tc.Tracing.Exporter = c.Tracing.Exporter
	tc.Tracing.Endpoint = c.Tracing.Endpoint
	tc.Tracing.SamplingRate = c.Tracing.SamplingRate
	tc.Tracing.Insecure = c.Tracing.Insecure
	return tc
}

// SSH returns the transport settings of r.
func (r *RemoteConfig) SSH() (*ssh.Config, error) {
	timeout, err := time.ParseDuration(r.ConnectTimeout)
	if err != nil {
		return nil, fmt.Errorf("invalid connect timeout: %w", err)
	}

	sc := ssh.DefaultConfig(r.Host, r.User)
	sc.Port = r.Port
	sc.AuthMethod = ssh.AuthMethod(r.AuthMethod)
	sc.Password = r.Password
	sc.PrivateKeyPath = r.PrivateKeyPath
	if r.KnownHostsPath != "" {
		sc.KnownHostsPath = r.KnownHostsPath
	}
	sc.StrictHostKeyChecking = !r.InsecureSkipHostKeyCheck
	sc.ConnectionTimeout = timeout
	return sc, nil
}
