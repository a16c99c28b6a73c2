package hermes

import (
	"context"
)

// ProxiesEndpoint is the agent route serving local proxy stats.
const ProxiesEndpoint = "/stats/local/proxies"

// proxiesIncludeLists narrows the agent reply to the fields this package
// reads. The server list is only requested when fetchServers is set.
func proxiesIncludeLists(fetchServers bool) IncludeLists {
	lists := IncludeLists{
		"proxy":          {"name", "accurate_frontend_scur", "backend", "frontend"},
		"proxy.frontend": {"req_tot"},
		"proxy.backend":  {"qcur"},
	}
	if fetchServers {
		lists["proxy"] = append(lists["proxy"], "servers")
		lists["proxy.server"] = []string{"private_ip", "port", "status"}
	}
	return lists
}

// FetchAllProxyStats returns fresh stats of every proxy on host. A reply
// lacking any requested field is reported as *NodeUnavailableError.
func (c *Client) FetchAllProxyStats(ctx context.Context, host, secret string, fetchServers bool) ([]ProxyStats, error) {
	body := StatsRequest{
		IncludeLists: proxiesIncludeLists(fetchServers),
		MaxAge:       0,
	}
	var resp proxiesReply
	if err := c.FetchAgentStats(ctx, host, secret, ProxiesEndpoint, body, &resp); err != nil {
		return nil, err
	}
	proxies, err := resp.proxies(fetchServers)
	if err != nil {
		return nil, &NodeUnavailableError{
			URL:    c.agentURL(host, ProxiesEndpoint),
			Reason: "unexpected reply shape: " + err.Error(),
			Err:    err,
		}
	}
	return proxies, nil
}

// FetchNamedProxyStats returns the stats of the proxy called name on host.
// When the agent lists the name more than once the first entry wins and a
// warning is logged.
func (c *Client) FetchNamedProxyStats(ctx context.Context, host, secret, name string, fetchServers bool) (*ProxyStats, error) {
	proxies, err := c.FetchAllProxyStats(ctx, host, secret, fetchServers)
	if err != nil {
		return nil, err
	}
	proxy, matches := FindProxy(proxies, name)
	if proxy == nil {
		return nil, &ProxyNotFoundError{Proxy: name, Host: host}
	}
	if matches > 1 {
		c.log.Warn("hermes: duplicate proxy name in agent reply, using first entry",
			"proxy", name, "host", host, "matches", matches)
	}
	return proxy, nil
}

// FindProxy returns the first proxy called name and the number of entries
// carrying that name. The pointer is nil when there is no match.
func FindProxy(proxies []ProxyStats, name string) (*ProxyStats, int) {
	var (
		first   *ProxyStats
		matches int
	)
	for i := range proxies {
		if proxies[i].Name != name {
			continue
		}
		if first == nil {
			first = &proxies[i]
		}
		matches++
	}
	return first, matches
}

// ProxyLoadStats returns total requests, queued requests and current
// sessions of the proxy called name on host.
func (c *Client) ProxyLoadStats(ctx context.Context, host, secret, name string) (LoadStats, error) {
	proxy, err := c.FetchNamedProxyStats(ctx, host, secret, name, false)
	if err != nil {
		return LoadStats{}, err
	}
	stats := LoadStatsOf(*proxy)
	c.log.Debug("hermes: proxy load stats",
		"proxy", name, "host", host,
		"total_requests", stats.TotalRequests,
		"total_queued", stats.TotalQueued,
		"current_sessions", stats.CurrentSessions)
	return stats, nil
}

// LoadStatsOf extracts the load counters of p.
func LoadStatsOf(p ProxyStats) LoadStats {
	return LoadStats{
		TotalRequests:   p.Frontend.ReqTot,
		TotalQueued:     p.Backend.Qcur,
		CurrentSessions: p.AccurateFrontendScur,
	}
}

// BackendServers returns the "ip:port" addresses of the running and failed
// servers behind the proxy called name on host, each in agent order.
func (c *Client) BackendServers(ctx context.Context, host, secret, name string) (running, failed []string, err error) {
	proxy, err := c.FetchNamedProxyStats(ctx, host, secret, name, true)
	if err != nil {
		return nil, nil, err
	}
	running, failed = PartitionServers(proxy.Servers)
	c.logServers("running", name, host, running)
	c.logServers("failed", name, host, failed)
	return running, failed, nil
}

// PartitionServers splits servers into running and failed addresses,
// preserving their relative order. A server is failed iff its status starts
// with "DOWN".
func PartitionServers(servers []ServerStats) (running, failed []string) {
	running = make([]string, 0, len(servers))
	failed = make([]string, 0)
	for _, s := range servers {
		if s.Failed() {
			failed = append(failed, s.Addr())
		} else {
			running = append(running, s.Addr())
		}
	}
	return running, failed
}

func (c *Client) logServers(state, proxy, host string, servers []string) {
	if len(servers) < c.printThreshold {
		c.log.Debug("hermes: "+state+" servers",
			"proxy", proxy, "host", host, "servers", servers)
		return
	}
	c.log.Debug("hermes: "+state+" servers",
		"proxy", proxy, "host", host, "count", len(servers))
}
