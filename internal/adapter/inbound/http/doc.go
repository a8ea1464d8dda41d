// Package http exposes the tool proxy over a JSON HTTP API.
//
// # Endpoints
//
//	POST /v1/calls                - execute one tool call
//	POST /v1/sequences            - execute calls in order, stopping at the first failure
//	GET  /v1/tools                - catalog of every connected server
//	GET  /v1/servers              - connection state of every configured server
//	GET  /v1/servers/{id}/tools   - catalog of one server
//	POST /v1/servers/{id}/refresh - re-list one server's tools
//	POST /v1/assess               - risk assessment without execution
//	GET  /v1/stats                - call counters
//	GET  /v1/audit?limit=N        - most recent audit records; outcome=success|failure
//	                                filters within those N
//	GET  /health                  - component health
//	GET  /metrics                 - Prometheus metrics
//
// Tool call failures are not HTTP errors: /v1/calls answers 200 with a
// result whose success field is false. 4xx codes are reserved for malformed
// requests.
//
// # Middleware Chain
//
// API requests pass through, outermost first:
//
//  1. MetricsMiddleware - request count and duration
//  2. RequestIDMiddleware - X-Request-ID and request-scoped logger
//  3. DNSRebindingProtection - Origin header validation
package http
