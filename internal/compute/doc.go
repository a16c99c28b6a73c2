// Package compute derives per-proxy health from successive polls.
//
// Engine.Process turns the cumulative req_tot counter into a request rate,
// tracks poll uptime over the last 20 polls and classifies each proxy:
// critical when no backend server is running, degraded when some are failed,
// healthy otherwise, unknown when the poll failed. Process takes the sample
// time explicitly so tests are deterministic.
package compute
