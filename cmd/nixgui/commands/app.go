package commands

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/boredom101/nix-gui/pkg/cache"
	"github.com/boredom101/nix-gui/pkg/config"
	"github.com/boredom101/nix-gui/pkg/nixeval"
	"github.com/boredom101/nix-gui/pkg/policy"
	"github.com/boredom101/nix-gui/pkg/stores"
	"github.com/boredom101/nix-gui/pkg/telemetry"
	"github.com/boredom101/nix-gui/pkg/transports/ssh"
)

// app holds the collaborators a command runs with.
type app struct {
	cfg       *config.Config
	tel       *telemetry.Telemetry
	logger    zerolog.Logger
	evaluator *nixeval.Evaluator
	remote    *ssh.Client
	store     *stores.SQLiteStore
}

type appOptions struct {
	// journal opens the SQLite store when the configuration enables it.
	journal bool
	// evaluator builds the Nix evaluator and, if configured, the SSH client.
	evaluator bool
}

// loadConfig reads --config, or the defaults when it is unset, and applies
// the global flag overrides.
func loadConfig() (*config.Config, error) {
	loader, err := config.NewLoader()
	if err != nil {
		return nil, err
	}

	cfg := config.Default()
	if configPath != "" {
		cfg, err = loader.Load(configPath)
		if err != nil {
			return nil, err
		}
	}

	if verbose {
		cfg.Log.Level = "debug"
	}
	cfg.Evaluator.SearchPath = append(cfg.Evaluator.SearchPath, searchPath...)
	if remote != "" {
		if err := applyRemoteFlag(cfg, remote); err != nil {
			return nil, err
		}
	}

	if err := loader.Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyRemoteFlag parses user@host[:port] into cfg.Remote, keeping the
// remaining settings of a configured remote.
func applyRemoteFlag(cfg *config.Config, target string) error {
	user, hostport, ok := strings.Cut(target, "@")
	if !ok || user == "" || hostport == "" {
		return fmt.Errorf("invalid --remote %q: expected user@host[:port]", target)
	}

	host, port := hostport, 22
	if h, p, err := net.SplitHostPort(hostport); err == nil {
		n, err := strconv.Atoi(p)
		if err != nil {
			return fmt.Errorf("invalid --remote port %q", p)
		}
		host, port = h, n
	}

	if cfg.Remote == nil {
		cfg.Remote = &config.RemoteConfig{
			AuthMethod:     string(ssh.AuthMethodKey),
			ConnectTimeout: "30s",
		}
	}
	cfg.Remote.Host = host
	cfg.Remote.Port = port
	cfg.Remote.User = user
	return nil
}

func newApp(ctx context.Context, opts appOptions) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	tel, err := telemetry.NewTelemetry(cfg.Telemetry())
	if err != nil {
		return nil, fmt.Errorf("failed to set up telemetry: %w", err)
	}
	if err := tel.StartMetricsServer(); err != nil {
		return nil, fmt.Errorf("failed to start metrics server: %w", err)
	}

	a := &app{
		cfg:    cfg,
		tel:    tel,
		logger: tel.Logger,
	}

	if opts.journal && cfg.Journal.Enabled {
		if err := a.openStore(ctx); err != nil {
			return nil, errors.Join(err, a.close(ctx))
		}
	}

	if opts.evaluator {
		if err := a.buildEvaluator(); err != nil {
			return nil, errors.Join(err, a.close(ctx))
		}
	}

	return a, nil
}

func (a *app) openStore(ctx context.Context) error {
	store, err := stores.NewSQLiteStore(stores.Config{Path: a.cfg.Journal.Path})
	if err != nil {
		return err
	}
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("failed to open journal %s: %w", a.cfg.Journal.Path, err)
	}
	a.store = store
	a.tel.Events.Subscribe(store.EventSink(a.logger), nil)
	return nil
}

func (a *app) buildEvaluator() error {
	c, err := cache.New(cache.Config{
		Dir:     a.cfg.CacheDir,
		Version: a.cfg.BuildVersion,
		Logger:  a.logger,
		Metrics: a.tel.Metrics,
	})
	if err != nil {
		return err
	}

	evalCfg := nixeval.Config{
		Binary:     a.cfg.Evaluator.Binary,
		SearchPath: a.cfg.Evaluator.SearchPath,
		Cache:      c,
		Logger:     a.logger,
		Metrics:    a.tel.Metrics,
	}

	if a.cfg.Remote != nil {
		sshCfg, err := a.cfg.Remote.SSH()
		if err != nil {
			return err
		}
		client, err := ssh.NewClient(sshCfg, a.logger)
		if err != nil {
			return err
		}
		a.remote = client
		evalCfg.Runner = client
		evalCfg.ReadFile = client.ReadFile
		evalCfg.Remote = true
		log.Debug().Str("host", sshCfg.Address()).Msg("Evaluating on remote host")
	}

	a.evaluator, err = nixeval.New(evalCfg)
	return err
}

// policyEngine returns an engine with the built-in and configured policies,
// minus the disabled ones.
func (a *app) policyEngine(ctx context.Context) (*policy.Engine, error) {
	engine, err := policy.NewEngine(a.logger)
	if err != nil {
		return nil, err
	}
	if len(a.cfg.Policy.Paths) > 0 {
		if err := engine.LoadPolicies(ctx, a.cfg.Policy.Paths); err != nil {
			return nil, err
		}
	}
	a.disablePolicies(engine)
	return engine, nil
}

func (a *app) disablePolicies(engine *policy.Engine) {
	for _, name := range a.cfg.Policy.Disabled {
		if err := engine.DisablePolicy(name); err != nil {
			a.logger.Warn().Err(err).Str("policy", name).Msg("Cannot disable policy")
		}
	}
}

// close drains pending events into the journal before closing it.
func (a *app) close(ctx context.Context) error {
	var errs []error
	errs = append(errs, a.tel.Shutdown(context.WithoutCancel(ctx)))
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	if a.remote != nil {
		errs = append(errs, a.remote.Close())
	}
	return errors.Join(errs...)
}

// runWithApp builds an app for cmd, runs fn and closes the app.
func runWithApp(cmd *cobra.Command, opts appOptions, fn func(ctx context.Context, a *app) error) (err error) {
	ctx := cmd.Context()
	a, err := newApp(ctx, opts)
	if err != nil {
		return err
	}
	defer func() {
		err = errors.Join(err, a.close(ctx))
	}()
	return fn(ctx, a)
}
