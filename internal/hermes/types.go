package hermes

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// failedStatusPrefix marks a server as failed. Agents may append suffixes
// (e.g. "DOWN 1/2"), so classification is a prefix match.
const failedStatusPrefix = "DOWN"

// IncludeLists selects which fields the agent returns per entity category
// ("proxy", "proxy.frontend", "proxy.backend", "proxy.server").
type IncludeLists map[string][]string

// StatsRequest is the body sent to the agent.
type StatsRequest struct {
	IncludeLists IncludeLists `json:"include_lists"`
	// MaxAge is the maximum staleness in seconds of cached stats the agent
	// may return. Zero forces fresh stats.
	MaxAge int `json:"max_age"`
}

// ProxyStats is one proxy as reported by the agent.
type ProxyStats struct {
	Name                 string        `json:"name"`
	AccurateFrontendScur int64         `json:"accurate_frontend_scur"`
	Frontend             FrontendStats `json:"frontend"`
	Backend              BackendStats  `json:"backend"`

	// Servers is nil unless servers were requested.
	Servers []ServerStats `json:"servers,omitempty"`
}

// FrontendStats holds the frontend counters this client asks for.
type FrontendStats struct {
	ReqTot int64 `json:"req_tot"`
}

// BackendStats holds the backend counters this client asks for.
type BackendStats struct {
	Qcur int64 `json:"qcur"`
}

// ServerStats is one backend target of a proxy.
type ServerStats struct {
	PrivateIP string `json:"private_ip"`
	Port      int    `json:"port"`
	Status    string `json:"status"`
}

// Failed reports whether the server status starts with "DOWN".
func (s ServerStats) Failed() bool {
	return strings.HasPrefix(s.Status, failedStatusPrefix)
}

// Addr renders the server as "<private_ip>:<port>".
func (s ServerStats) Addr() string {
	return s.PrivateIP + ":" + strconv.Itoa(s.Port)
}

// proxiesReply is the wire shape of the proxies endpoint. Fields are pointers
// or slices so that a field the agent left out is told apart from a zero.
type proxiesReply struct {
	ProxiesStats *[]proxyReply `json:"proxies_stats"`
}

type proxyReply struct {
	Name                 *string `json:"name"`
	AccurateFrontendScur *int64  `json:"accurate_frontend_scur"`
	Frontend             *struct {
		ReqTot *int64 `json:"req_tot"`
	} `json:"frontend"`
	Backend *struct {
		Qcur *int64 `json:"qcur"`
	} `json:"backend"`
	Servers []serverReply `json:"servers"`
}

type serverReply struct {
	PrivateIP *string `json:"private_ip"`
	Port      *int    `json:"port"`
	Status    *string `json:"status"`
}

// missingFieldError names a field the agent was asked for but did not send.
type missingFieldError struct {
	Field string
}

func (e *missingFieldError) Error() string {
	return "missing " + e.Field
}

// proxies converts the reply into ProxyStats, failing on the first requested
// field that is absent or null.
func (r proxiesReply) proxies(withServers bool) ([]ProxyStats, error) {
	if r.ProxiesStats == nil {
		return nil, &missingFieldError{Field: "proxies_stats"}
	}
	out := make([]ProxyStats, 0, len(*r.ProxiesStats))
	for i, p := range *r.ProxiesStats {
		stats, err := p.stats(withServers)
		if err != nil {
			return nil, fmt.Errorf("proxies_stats[%d]: %w", i, err)
		}
		out = append(out, stats)
	}
	return out, nil
}

func (p proxyReply) stats(withServers bool) (ProxyStats, error) {
	switch {
	case p.Name == nil:
		return ProxyStats{}, &missingFieldError{Field: "name"}
	case p.AccurateFrontendScur == nil:
		return ProxyStats{}, &missingFieldError{Field: "accurate_frontend_scur"}
	case p.Frontend == nil || p.Frontend.ReqTot == nil:
		return ProxyStats{}, &missingFieldError{Field: "frontend.req_tot"}
	case p.Backend == nil || p.Backend.Qcur == nil:
		return ProxyStats{}, &missingFieldError{Field: "backend.qcur"}
	case withServers && p.Servers == nil:
		return ProxyStats{}, &missingFieldError{Field: "servers"}
	}
	stats := ProxyStats{
		Name:                 *p.Name,
		AccurateFrontendScur: *p.AccurateFrontendScur,
		Frontend:             FrontendStats{ReqTot: *p.Frontend.ReqTot},
		Backend:              BackendStats{Qcur: *p.Backend.Qcur},
	}
	if !withServers {
		return stats, nil
	}
	stats.Servers = make([]ServerStats, 0, len(p.Servers))
	for j, s := range p.Servers {
		var field string
		switch {
		case s.PrivateIP == nil:
			field = "private_ip"
		case s.Port == nil:
			field = "port"
		case s.Status == nil:
			field = "status"
		}
		if field != "" {
			return ProxyStats{}, &missingFieldError{Field: fmt.Sprintf("servers[%d].%s", j, field)}
		}
		stats.Servers = append(stats.Servers, ServerStats{
			PrivateIP: *s.PrivateIP,
			Port:      *s.Port,
			Status:    *s.Status,
		})
	}
	return stats, nil
}

// LoadStats are the load counters a controller needs from one proxy.
type LoadStats struct {
	TotalRequests   int64 `json:"total_requests"`
	TotalQueued     int64 `json:"total_queued"`
	CurrentSessions int64 `json:"current_sessions"`
}

// agentAddr joins host and port, bracketing IPv6 literals.
func agentAddr(host string, port int) string {
	return net.JoinHostPort(host, strconv.Itoa(port))
}
