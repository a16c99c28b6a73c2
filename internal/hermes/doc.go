// Package hermes is a client for the proxy statistics API of the Hermes
// monitoring agent that runs on every load balancer node.
//
// The transport layer (FetchAgentStats) performs exactly one HTTP request per
// call: a JSON-encoded StatsRequest is sent to http://<host>:<port><endpoint>
// with the cluster secret in the Appscale-Secret header. Anything other than
// HTTP 200 with a well-formed JSON body is reported as a NodeUnavailableError.
//
// The aggregation layer is built on top of it:
//   - FetchAllProxyStats - every proxy reported by the agent
//   - FetchNamedProxyStats - one proxy by name (first match wins)
//   - ProxyLoadStats - request, queue and session counters for one proxy
//   - BackendServers - running/failed partition of a proxy's servers
//
// LoadStatsOf and PartitionServers hold the pure derivation logic so it can be
// exercised without a network round trip. The client keeps no state between
// calls and never retries; polling cadence belongs to the caller.
package hermes
