// Package middleware provides HTTP middleware for the service: per-client-IP
// rate limiting (in-memory token bucket or Redis-backed for multi-instance
// deployments), request-id propagation, request logging and panic recovery.
package middleware
