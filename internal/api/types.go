package api

import "github.com/Maronee/appscale/internal/hermes"

// HealthResponse is the payload for GET /api/v1/health.
type HealthResponse struct {
	State         string `json:"state"`
	ProxyCount    int    `json:"proxy_count"`
	HealthyCount  int    `json:"healthy_count"`
	DegradedCount int    `json:"degraded_count"`
	CriticalCount int    `json:"critical_count"`
	UnknownCount  int    `json:"unknown_count"`
	FailedServers int    `json:"failed_servers"`
}

// ProxyResponse is one proxy in GET /api/v1/proxies or
// GET /api/v1/proxies/{host}/{proxy}.
type ProxyResponse struct {
	Host         string           `json:"host"`
	Proxy        string           `json:"proxy"`
	State        string           `json:"state"`
	Load         hermes.LoadStats `json:"load"`
	RequestRate  *float64         `json:"request_rate,omitempty"`
	Running      []string         `json:"running"`
	Failed       []string         `json:"failed"`
	UptimePct    float64          `json:"uptime_pct"`
	ErrorMessage string           `json:"error_message,omitempty"`
	Diagnostics  []DiagnosticHint `json:"diagnostics"`
	LastSeen     string           `json:"last_seen"` // RFC3339
}

// errorResponse is a generic JSON error body.
type errorResponse struct {
	Error string `json:"error"`
}
