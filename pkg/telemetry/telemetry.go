package telemetry

import (
	"context"
	"errors"
	"io"

	"github.com/rs/zerolog"
)

// Telemetry bundles logging, tracing, metrics and events.
type Telemetry struct {
	Logger  zerolog.Logger
	Tracer  *Tracer
	Metrics *Metrics
	Events  *EventPublisher
	Config  *Config

	logOutput io.Closer
}

// NewTelemetry creates a new telemetry instance from configuration.
func NewTelemetry(cfg *Config) (*Telemetry, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	logger, logOutput, err := NewLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}

	tracer, err := NewTracer(cfg.Tracing, cfg.ServiceName, cfg.ServiceVersion)
	if err != nil {
		return nil, errors.Join(err, logOutput.Close())
	}

	metrics, err := NewMetrics(cfg.Metrics)
	if err != nil {
		return nil, errors.Join(err, logOutput.Close())
	}

	events, err := NewEventPublisher(cfg.Events)
	if err != nil {
		return nil, errors.Join(err, logOutput.Close())
	}

	return &Telemetry{
		Logger:    logger,
		Tracer:    tracer,
		Metrics:   metrics,
		Events:    events,
		Config:    cfg,
		logOutput: logOutput,
	}, nil
}

// Shutdown drains events, flushes spans and closes the log file.
func (t *Telemetry) Shutdown(ctx context.Context) error {
	return errors.Join(
		t.Events.Shutdown(ctx),
		t.Tracer.Shutdown(ctx),
		t.logOutput.Close(),
	)
}

// StartMetricsServer starts the metrics HTTP server if configured.
func (t *Telemetry) StartMetricsServer() error {
	return t.Metrics.StartMetricsServer()
}
