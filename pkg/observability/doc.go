// Package observability provides logging, metrics, health checks and
// lifecycle management for the permission synchronization service.
//
// # Overview
//
// The package bundles the ambient concerns every other package leans on:
//
//   - Logger: structured JSON logging over stdlib slog, with context
//     propagation of request and actor ids
//   - Metrics: Prometheus counters, histograms and gauges for HTTP
//     traffic, webhook ingestion, synchronization passes, permission
//     grants and entity gateway calls
//   - HealthChecker: liveness and readiness endpoints backed by named
//     dependency probes
//   - InitOTel / ShutdownOTel: OTLP trace and metric export over gRPC
//   - ShutdownManager: ordered graceful shutdown on SIGINT/SIGTERM
//   - RecoverPanic: panic logging for request handlers and background
//     jobs
//
// Loggers travel through contexts; handlers recover the request-scoped
// logger with FromContext rather than holding their own.
package observability
