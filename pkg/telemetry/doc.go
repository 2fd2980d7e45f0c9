// Package telemetry provides logging, tracing, metrics and event publishing
// for nix-gui.
//
// Logging uses zerolog, tracing uses OpenTelemetry with stdout or OTLP
// exporters, and metrics are Prometheus collectors on a private registry.
// The event publisher lets a front end follow option tree edits as they
// happen.
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    return err
//	}
//	defer tel.Shutdown(context.Background())
//
// Library packages accept a *Metrics and tolerate nil, so tests can pass
// nothing at all.
package telemetry
