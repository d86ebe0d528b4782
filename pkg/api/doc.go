// Package api is the HTTP surface of the permission synchronization service.
//
// # Overview
//
// Three route groups:
//
//   - /webhooks/*: CMS edit notifications. Requests are authenticated with a
//     shared secret or HMAC-SHA256 signature, shape-checked, rate limited per
//     client IP, and fed into the sync pipeline. The response reports how many
//     permission pairs the call caused to be written.
//   - /api/v1/groups/*: the onboarding endpoints, an idempotent join write
//     and the membership poll the client loops on.
//   - /api/v1/sync/*: inspection of recent synchronization passes and
//     aggregate statistics.
//
// Liveness, readiness and metrics are served separately on the health port by
// the main binary.
package api
