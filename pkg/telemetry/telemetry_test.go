package telemetry

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"default", func(*Config) {}, false},
		{"bad level", func(c *Config) { c.Logging.Level = "loud" }, true},
		{"bad format", func(c *Config) { c.Logging.Format = "xml" }, true},
		{"otlp without endpoint", func(c *Config) {
			c.Tracing.Enabled = true
			c.Tracing.Exporter = "otlp"
		}, true},
		{"bad sampling", func(c *Config) { c.Tracing.SamplingRate = 2 }, true},
		{"async without buffer", func(c *Config) {
			c.Events.EnableAsync = true
			c.Events.BufferSize = 0
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestMetricsRecord(t *testing.T) {
	m, err := NewMetrics(DefaultConfig().Metrics)
	require.NoError(t, err)

	m.RecordCacheLookup("GetSchema", "hit")
	m.RecordCacheLookup("GetSchema", "hit")
	m.RecordCacheLookup("GetSchema", "miss")
	m.RecordEvaluation("success", true, 150*time.Millisecond)
	m.RecordEvaluationRetry()
	m.RecordCacheDiskWrite("GetSchema", errors.New("disk full"))
	m.SetUndoDepth(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("GetSchema", "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheLookups.WithLabelValues("GetSchema", "miss")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evaluations.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.evaluationRetries))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.cacheDiskWrites.WithLabelValues("GetSchema", "error")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.undoDepth))
}

func TestMetricsNoop(t *testing.T) {
	var nilMetrics *Metrics
	disabled, err := NewMetrics(MetricsConfig{Enabled: false})
	require.NoError(t, err)

	for _, m := range []*Metrics{nilMetrics, disabled} {
		assert.NotPanics(t, func() {
			m.RecordCacheLookup("f", "hit")
			m.RecordEvaluation("failure", false, time.Second)
			m.RecordUpdate("create", "apply")
			m.RecordPolicyViolation("read-only", "error")
			_ = m.StartMetricsServer()
		})
	}
}

func TestEventPublisherSync(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true})
	require.NoError(t, err)

	var got []Event
	ep.Subscribe(func(e Event) { got = append(got, e) }, FilterByType(EventTypeUpdateApplied))

	require.NoError(t, ep.Publish(Event{Type: EventTypeUpdateApplied, Attribute: "a.b"}))
	require.NoError(t, ep.Publish(Event{Type: EventTypeUpdateReverted, Attribute: "a.b"}))

	require.Len(t, got, 1)
	assert.Equal(t, "a.b", got[0].Attribute)
	assert.NotEmpty(t, got[0].ID)
	assert.Equal(t, EventLevelInfo, got[0].Level)
	assert.False(t, got[0].Timestamp.IsZero())
}

func TestEventPublisherAsyncDrainsOnShutdown(t *testing.T) {
	ep, err := NewEventPublisher(EventsConfig{Enabled: true, EnableAsync: true, BufferSize: 16})
	require.NoError(t, err)

	var (
		mu    sync.Mutex
		order []string
	)
	ep.Subscribe(func(e Event) {
		mu.Lock()
		defer mu.Unlock()
		order = append(order, e.Attribute)
	}, FilterBySession("s1"))

	for _, attr := range []string{"a", "b", "c"} {
		require.NoError(t, ep.Publish(Event{Type: EventTypeUpdateApplied, SessionID: "s1", Attribute: attr}))
	}
	require.NoError(t, ep.Publish(Event{Type: EventTypeUpdateApplied, SessionID: "s2", Attribute: "x"}))

	require.NoError(t, ep.Shutdown(context.Background()))
	assert.ErrorIs(t, ep.Publish(Event{Type: EventTypeUpdateApplied}), ErrPublisherStopped)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, []string{"a", "b", "c"}, order)
}

func TestNilPublisher(t *testing.T) {
	var ep *EventPublisher
	assert.NoError(t, ep.Publish(Event{Type: EventTypeUpdateApplied}))
	assert.NoError(t, ep.Shutdown(context.Background()))
}

func TestNewLoggerFileOutput(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nixgui.log")
	logger, closer, err := NewLogger(LoggingConfig{Level: "warn", Format: "json", Output: path})
	require.NoError(t, err)

	tp := sdktrace.NewTracerProvider()
	defer func() { _ = tp.Shutdown(context.Background()) }()
	ctx, span := tp.Tracer("test").Start(context.Background(), "evaluate")

	logger.Info().Msg("dropped")
	logger.Warn().Ctx(ctx).Msg("with trace")
	logger.Error().Msg("without trace")
	span.End()
	require.NoError(t, closer.Close())

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	require.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"trace_id":"`+span.SpanContext().TraceID().String()+`"`)
	assert.NotContains(t, lines[1], "trace_id")
}

func TestNewTelemetry(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Logging.Output = filepath.Join(t.TempDir(), "nixgui.log")
	cfg.Metrics.Enabled = false

	tel, err := NewTelemetry(cfg)
	require.NoError(t, err)
	assert.NoError(t, tel.StartMetricsServer())
	require.NoError(t, tel.Events.Publish(Event{Type: EventTypeModuleChanged}))
	assert.NoError(t, tel.Shutdown(context.Background()))

	cfg.Logging.Level = "loud"
	_, err = NewTelemetry(cfg)
	assert.Error(t, err)
}
