// Package api implements the local HTTP status API of lbwatch.
//
// New(store) returns an http.Handler that serves:
//
//	GET /api/v1/health                 - worst state, per-state counts, failed server total
//	GET /api/v1/proxies                - all live proxies ([]ProxyResponse)
//	GET /api/v1/proxies/{host}/{proxy} - one proxy; 404 if unknown or stale
//	GET /metrics                       - Prometheus text exposition
//
// Non-GET requests get 405 with a JSON error body.
package api
