// Package poller decides when agents are queried. Every interval it polls
// each configured proxy once (load stats plus backend partition), runs the
// samples through compute.Engine and hands the results to its sinks.
package poller
