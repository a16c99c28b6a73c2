package api

import (
	"fmt"
	"strings"

	"github.com/Maronee/appscale/internal/compute"
)

// DiagnosticHint is one human-readable observation about a proxy.
type DiagnosticHint struct {
	// Key is a stable machine-readable identifier.
	Key string `json:"key"`
	// Level is "ok" | "info" | "warning" | "critical".
	Level  string `json:"level"`
	Title  string `json:"title"`
	Detail string `json:"detail"`
}

// computeDiagnostics derives hints from a result, most severe first.
func computeDiagnostics(r *compute.Result) []DiagnosticHint {
	if r.ErrorMessage != "" {
		return []DiagnosticHint{{
			Key:   "poll_failed",
			Level: "critical",
			Title: "Can't reach agent",
			Detail: fmt.Sprintf("The last poll of %s on %s failed: %q. "+
				"Check that the agent is running and the secret matches.",
				r.Proxy, r.Host, r.ErrorMessage),
		}}
	}

	var hints []DiagnosticHint
	switch {
	case len(r.Running) == 0:
		hints = append(hints, DiagnosticHint{
			Key:    "no_running_servers",
			Level:  "critical",
			Title:  "No running servers",
			Detail: fmt.Sprintf("Every backend server of %s is down or missing, so requests cannot be served.", r.Proxy),
		})
	case len(r.Failed) > 0:
		hints = append(hints, DiagnosticHint{
			Key:   "failed_servers",
			Level: "warning",
			Title: fmt.Sprintf("%d servers down", len(r.Failed)),
			Detail: fmt.Sprintf("%d of %d backend servers report DOWN: %s.",
				len(r.Failed), len(r.Failed)+len(r.Running), strings.Join(r.Failed, ", ")),
		})
	}

	if r.Load.TotalQueued > 0 {
		hints = append(hints, DiagnosticHint{
			Key:   "requests_queued",
			Level: "warning",
			Title: "Requests queued",
			Detail: fmt.Sprintf("%d requests are waiting for a free backend server. "+
				"A growing queue usually means more instances are needed.", r.Load.TotalQueued),
		})
	}

	if !r.RateKnown {
		hints = append(hints, DiagnosticHint{
			Key:    "warming_up",
			Level:  "info",
			Title:  "Warming up",
			Detail: "The request rate needs two consecutive polls and will show up after the next one.",
		})
	}

	if len(hints) == 0 {
		hints = append(hints, DiagnosticHint{
			Key:    "healthy",
			Level:  "ok",
			Title:  "All servers running",
			Detail: "All backend servers are running and nothing is queued.",
		})
	}
	return hints
}
