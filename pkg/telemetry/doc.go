// Package telemetry provides observability instrumentation for OpenBex.
//
// The package integrates structured logging (zerolog), distributed tracing
// (OpenTelemetry), and metrics (Prometheus) into a unified system for
// monitoring provisioning runs.
//
// # Architecture
//
// The telemetry system is built on three pillars:
//
//  1. Structured Logging - Context-aware logging with zerolog
//  2. Distributed Tracing - OpenTelemetry traces with OTLP or stdout export
//  3. Metrics Collection - Prometheus metrics for operational insights
//
// Durable run events are deliberately not part of this package: they are
// written to the state store, which implements engine.EventSink.
//
// # Usage
//
// Initialize telemetry at application startup:
//
//	cfg := telemetry.DefaultConfig()
//	cfg.ServiceVersion = version
//
//	tel, err := telemetry.NewTelemetry(cfg)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer tel.Shutdown(context.Background())
//
//	if err := tel.StartMetricsServer(); err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx = tel.WithContext(ctx)
//
// # Structured Logging
//
// The logger provides component-specific logging with run and target fields:
//
//	logger := tel.Logger.NewComponentLogger("executor")
//	logger = logger.WithRunID(runID).WithTargetID(targetID)
//	logger.Info("converging target")
//	logger.WithError(err).Error("convergence failed")
//
// Log levels: trace, debug, info, warn, error, fatal.
//
// # Metrics
//
// telemetry.Metrics implements engine.MetricsRecorder, so it plugs directly
// into the executor:
//
//	metrics, _ := telemetry.NewMetrics(cfg.Metrics)
//	executor := engine.NewPlanExecutor(execCfg, engine.ExecutorDeps{
//	    ...
//	    Metrics: metrics,
//	})
//
// Exposed series include runs_total, run_duration_seconds,
// targets_processed_total, auth_attempts_total, variant_attempts_total,
// capability_wait_seconds, and operation_poll_duration_seconds, all under
// the openbex namespace.
//
// # Distributed Tracing
//
// Tracing provides visibility into run flow and per-target latency:
//
//	ctx, span := tel.Tracer.StartTargetSpan(ctx, targetID, classification)
//	defer span.End()
//
// Exporters: otlp-grpc for a collector, stdout for debugging, none to
// generate spans without exporting them.
package telemetry
