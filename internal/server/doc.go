// Package server implements the HTTP server for webhook-triggered
// deployments.
//
// This package provides:
//   - GitHub push webhook endpoint with HMAC signature verification
//   - Per-IP rate limiting on all routes, stricter on webhooks
//   - Health and per-app status endpoints for monitoring
//   - Structured logging of all HTTP requests
//
// The server integrates with other packages:
//   - internal/app: application configuration and registry
//   - internal/pipeline: the deployment pipeline and per-app locking
//   - internal/ledger: SQLite-based deployment history
//
// Security features:
//   - HMAC-SHA256 webhook signature verification (constant-time)
//   - Content-Type validation (application/json only)
//   - Payload size limits (1MB max)
//   - Per-app deployment locking (concurrent deploys rejected)
package server
