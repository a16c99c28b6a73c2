// Package export renders poll results in the Prometheus text exposition
// format, for the /metrics endpoint and the one-shot CLI mode.
package export
