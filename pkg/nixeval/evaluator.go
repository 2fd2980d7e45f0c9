package nixeval

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"unicode/utf8"

	"github.com/ohler55/ojg/oj"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"golang.org/x/text/encoding/charmap"

	"github.com/boredom101/nix-gui/pkg/cache"
	"github.com/boredom101/nix-gui/pkg/telemetry"
)

var tracer = otel.Tracer("github.com/boredom101/nix-gui/pkg/nixeval")

// DefaultBinary is the evaluator used when Config.Binary is empty.
const DefaultBinary = "nix-instantiate"

// Evaluation outcomes reported to metrics.
const (
	outcomeSuccess = "success"
	outcomeWarning = "warning"
	outcomeFailure = "failure"
)

// Config configures an Evaluator.
type Config struct {
	// Binary is the evaluator executable. Defaults to nix-instantiate.
	Binary string

	// SearchPath entries are passed as -I flags, e.g. "nixpkgs=/path".
	SearchPath []string

	// Runner starts evaluator processes. Defaults to a local ExecRunner.
	Runner Runner

	// ReadFile reads module files for content hashing. Defaults to the
	// local filesystem. Set it together with Runner when evaluating on a
	// remote host.
	ReadFile cache.ReadFileFunc

	// Remote marks module paths as belonging to the Runner's host, so they
	// are never resolved against the local working directory.
	Remote bool

	// Cache memoizes schema and module queries. Defaults to a memory-only cache.
	Cache *cache.Cache

	// Logger receives evaluator logs.
	Logger zerolog.Logger

	// Metrics records evaluation counts and latency. May be nil.
	Metrics *telemetry.Metrics
}

// EvalOptions tunes a single Evaluate call.
type EvalOptions struct {
	// Strict forces deep evaluation of the result.
	Strict bool

	// ShowTrace requests stack traces in diagnostics from the first attempt.
	ShowTrace bool

	// DisableRetry turns off the trace-enabled retry after a failure.
	DisableRetry bool
}

// Evaluator evaluates Nix expressions through an external evaluator process.
// It is safe for concurrent use; each call starts its own process.
type Evaluator struct {
	binary     string
	searchPath []string
	runner     Runner
	readFile   cache.ReadFileFunc
	remote     bool
	cache      *cache.Cache
	logger     zerolog.Logger
	metrics    *telemetry.Metrics
}

// New creates an Evaluator.
func New(cfg Config) (*Evaluator, error) {
	e := &Evaluator{
		binary:     cfg.Binary,
		searchPath: cfg.SearchPath,
		runner:     cfg.Runner,
		readFile:   cfg.ReadFile,
		remote:     cfg.Remote,
		cache:      cfg.Cache,
		logger:     cfg.Logger.With().Str("component", "nixeval").Logger(),
		metrics:    cfg.Metrics,
	}
	if e.binary == "" {
		e.binary = DefaultBinary
	}
	if e.runner == nil {
		e.runner = &ExecRunner{}
	}
	if e.readFile == nil {
		e.readFile = cache.ReadLocalFile
	}
	if e.cache == nil {
		c, err := cache.New(cache.Config{Logger: cfg.Logger, Metrics: cfg.Metrics})
		if err != nil {
			return nil, err
		}
		e.cache = c
	}
	return e, nil
}

func (e *Evaluator) args(expr string, strict, showTrace bool) []string {
	args := make([]string, 0, 8+2*len(e.searchPath))
	for _, entry := range e.searchPath {
		args = append(args, "-I", entry)
	}
	args = append(args, "--eval", "-E", expr, "--json")
	if strict {
		args = append(args, "--strict")
	}
	if showTrace {
		args = append(args, "--show-trace")
	}
	return args
}

// Evaluate evaluates expr and decodes the JSON result.
//
// When the evaluator writes both a result and diagnostics, the result is
// trusted and the diagnostics are logged. When it writes only diagnostics,
// the evaluation is retried once with --show-trace unless retries are
// disabled or tracing was already requested. At most two processes run.
func (e *Evaluator) Evaluate(ctx context.Context, expr string, opts EvalOptions) (any, error) {
	timer := telemetry.NewTimer()
	ctx, span := tracer.Start(ctx, "nixeval.Evaluate")
	span.SetAttributes(
		telemetry.AttrExpressionLength.Int(len(expr)),
		telemetry.AttrStrict.Bool(opts.Strict),
	)

	value, outcome, err := e.evaluate(ctx, expr, opts)

	e.metrics.RecordEvaluation(outcome, opts.Strict, timer.Duration())
	telemetry.EndSpan(span, err)
	return value, err
}

func (e *Evaluator) evaluate(ctx context.Context, expr string, opts EvalOptions) (any, string, error) {
	showTrace := opts.ShowTrace

	for attempt := 1; ; attempt++ {
		log := e.logger.With().Ctx(ctx).Int("attempt", attempt).Bool("show_trace", showTrace).Logger()
		log.Debug().Str("expr", expr).Msg("evaluating")

		out, err := e.runner.Run(ctx, e.binary, e.args(expr, opts.Strict, showTrace))
		if err != nil {
			class := ErrorClassLaunch
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				class = ErrorClassCanceled
			}
			return nil, outcomeFailure, &EvaluationError{
				Class:      class,
				Expression: expr,
				Attempts:   attempt,
				Err:        err,
			}
		}

		switch {
		case len(out.Stderr) > 0 && len(out.Stdout) > 0:
			log.Warn().Str("diagnostics", decodeDiagnostics(out.Stderr)).Msg("evaluator wrote diagnostics alongside a result")
			value, err := e.decode(expr, out, attempt)
			if err != nil {
				return nil, outcomeFailure, err
			}
			return value, outcomeWarning, nil

		case len(out.Stderr) > 0:
			if !opts.DisableRetry && !showTrace {
				log.Debug().Msg("evaluation failed, retrying with --show-trace")
				e.metrics.RecordEvaluationRetry()
				showTrace = true
				continue
			}
			return nil, outcomeFailure, &EvaluationError{
				Class:       ErrorClassEvaluation,
				Expression:  expr,
				Diagnostics: decodeDiagnostics(out.Stderr),
				Attempts:    attempt,
				ExitCode:    out.ExitCode,
			}

		case out.ExitCode != 0 && len(out.Stdout) == 0:
			return nil, outcomeFailure, &EvaluationError{
				Class:      ErrorClassEvaluation,
				Expression: expr,
				Attempts:   attempt,
				ExitCode:   out.ExitCode,
				Err:        fmt.Errorf("%s exited with status %d and no output", e.binary, out.ExitCode),
			}
		}

		// only error output decides failure, a result is trusted
		if out.ExitCode != 0 {
			log.Warn().Int("exit_code", out.ExitCode).Msg("evaluator exited non-zero after writing a result")
		}
		value, err := e.decode(expr, out, attempt)
		if err != nil {
			return nil, outcomeFailure, err
		}
		return value, outcomeSuccess, nil
	}
}

// decode parses evaluator JSON. Integers stay int64 and floats stay
// float64, matching the Nix types they came from.
func (e *Evaluator) decode(expr string, out *Output, attempt int) (any, error) {
	value, err := oj.Parse(out.Stdout)
	if err != nil {
		return nil, &EvaluationError{
			Class:      ErrorClassDecode,
			Expression: expr,
			Attempts:   attempt,
			ExitCode:   out.ExitCode,
			Err:        fmt.Errorf("decoding evaluator output: %w", err),
		}
	}
	return value, nil
}

// decodeDiagnostics turns evaluator error output into text, falling back to
// ISO-8859-1 when it is not valid UTF-8.
func decodeDiagnostics(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	decoded, err := charmap.ISO8859_1.NewDecoder().Bytes(b)
	if err != nil {
		return string(b)
	}
	return string(decoded)
}

// modulePath makes local module paths absolute so they can be embedded in
// expressions and compared against evaluator positions.
func (e *Evaluator) modulePath(path string) (string, error) {
	if filepath.IsAbs(path) {
		return filepath.Clean(path), nil
	}
	if e.remote {
		return "", fmt.Errorf("remote module path %q must be absolute", path)
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", fmt.Errorf("resolving module path %q: %w", path, err)
	}
	return abs, nil
}
