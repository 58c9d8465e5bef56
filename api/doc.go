// Package api holds the wire types of the guardrails HTTP API.
//
// # API Overview
//
// The service exposes:
//   - POST /api/v1/guardrails/evaluate: evaluate text against every enabled threat class
//   - POST /api/v1/guardrails/{injection,jailbreak,data-leak,content-safety,bias}: single-class scans
//   - GET  /api/v1/guardrails/incidents: query the incident log
//   - GET  /api/v1/guardrails/metrics: engine counters
//   - GET  /api/v1/guardrails/config: effective engine configuration
//   - /health, /healthz, /ready, /readyz, /version
//
// # Authentication
//
// When API keys are configured, requests carry the X-API-Key header:
//
//	X-API-Key: your-api-key
//
// When a JWT secret or public key is configured, requests carry a bearer
// token instead. A tenant_id claim scopes incident queries to that tenant.
//
// # Base URL
//
//	http://localhost:8080
package api
