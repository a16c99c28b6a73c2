package export

import (
	"fmt"
	"io"
	"sort"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"
	"google.golang.org/protobuf/proto"

	"github.com/Maronee/appscale/internal/compute"
)

// Metric names written by Families.
const (
	MetricUp             = "lbwatch_proxy_up"
	MetricRequestsTotal  = "lbwatch_proxy_requests_total"
	MetricQueued         = "lbwatch_proxy_queued_requests"
	MetricSessions       = "lbwatch_proxy_sessions"
	MetricRequestRate    = "lbwatch_proxy_request_rate"
	MetricBackendServers = "lbwatch_backend_servers"
)

// Families converts poll results into Prometheus metric families sorted by
// name. Failed polls only contribute lbwatch_proxy_up 0; the request rate is
// omitted until it is known.
func Families(results []*compute.Result) []*dto.MetricFamily {
	fams := map[string]*dto.MetricFamily{
		MetricUp:             family(MetricUp, "Whether the last poll of the proxy succeeded.", dto.MetricType_GAUGE),
		MetricRequestsTotal:  family(MetricRequestsTotal, "Cumulative frontend requests (req_tot).", dto.MetricType_COUNTER),
		MetricQueued:         family(MetricQueued, "Requests currently queued on the backend (qcur).", dto.MetricType_GAUGE),
		MetricSessions:       family(MetricSessions, "Current frontend sessions.", dto.MetricType_GAUGE),
		MetricRequestRate:    family(MetricRequestRate, "Requests per second since the previous poll.", dto.MetricType_GAUGE),
		MetricBackendServers: family(MetricBackendServers, "Backend servers by state.", dto.MetricType_GAUGE),
	}

	for _, r := range results {
		labels := []*dto.LabelPair{label("host", r.Host), label("proxy", r.Proxy)}
		if r.State == compute.StateUnknown {
			addGauge(fams[MetricUp], labels, 0)
			continue
		}
		addGauge(fams[MetricUp], labels, 1)
		addCounter(fams[MetricRequestsTotal], labels, float64(r.Load.TotalRequests))
		addGauge(fams[MetricQueued], labels, float64(r.Load.TotalQueued))
		addGauge(fams[MetricSessions], labels, float64(r.Load.CurrentSessions))
		if r.RateKnown {
			addGauge(fams[MetricRequestRate], labels, r.RequestRate)
		}
		addGauge(fams[MetricBackendServers], withLabel(labels, "state", "running"), float64(len(r.Running)))
		addGauge(fams[MetricBackendServers], withLabel(labels, "state", "failed"), float64(len(r.Failed)))
	}

	out := make([]*dto.MetricFamily, 0, len(fams))
	for _, f := range fams {
		if len(f.Metric) > 0 {
			out = append(out, f)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].GetName() < out[j].GetName() })
	return out
}

// Write encodes families in the Prometheus text exposition format.
func Write(w io.Writer, families []*dto.MetricFamily) error {
	for _, f := range families {
		if _, err := expfmt.MetricFamilyToText(w, f); err != nil {
			return fmt.Errorf("export: write %s: %w", f.GetName(), err)
		}
	}
	return nil
}

// ContentType is the Content-Type of the output of Write.
var ContentType = string(expfmt.NewFormat(expfmt.TypeTextPlain))

func family(name, help string, typ dto.MetricType) *dto.MetricFamily {
	return &dto.MetricFamily{Name: proto.String(name), Help: proto.String(help), Type: typ.Enum()}
}

func label(name, value string) *dto.LabelPair {
	return &dto.LabelPair{Name: proto.String(name), Value: proto.String(value)}
}

// withLabel returns a copy of base with one more label appended.
func withLabel(base []*dto.LabelPair, name, value string) []*dto.LabelPair {
	out := make([]*dto.LabelPair, 0, len(base)+1)
	out = append(out, base...)
	return append(out, label(name, value))
}

func addGauge(f *dto.MetricFamily, labels []*dto.LabelPair, v float64) {
	f.Metric = append(f.Metric, &dto.Metric{
		Label: labels,
		Gauge: &dto.Gauge{Value: proto.Float64(v)},
	})
}

func addCounter(f *dto.MetricFamily, labels []*dto.LabelPair, v float64) {
	f.Metric = append(f.Metric, &dto.Metric{
		Label:   labels,
		Counter: &dto.Counter{Value: proto.Float64(v)},
	})
}
