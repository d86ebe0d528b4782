// Package httputil provides small helpers for consistent JSON request
// parsing and response writing across the service's HTTP handlers.
package httputil
