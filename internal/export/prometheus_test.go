package export

import (
	"bytes"
	"testing"

	dto "github.com/prometheus/client_model/go"
	"github.com/prometheus/common/expfmt"

	"github.com/Maronee/appscale/internal/compute"
	"github.com/Maronee/appscale/internal/hermes"
)

func healthyResult() *compute.Result {
	return &compute.Result{
		Host:        "10.0.0.10",
		Proxy:       "gae_app",
		State:       compute.StateDegraded,
		Load:        hermes.LoadStats{TotalRequests: 120, TotalQueued: 3, CurrentSessions: 5},
		RequestRate: 2.5,
		RateKnown:   true,
		Running:     []string{"10.0.1.1:8080", "10.0.1.2:8080"},
		Failed:      []string{"10.0.1.3:8080"},
	}
}

// roundTrip writes families as text and parses them back, as a scraper would.
func roundTrip(t *testing.T, fams []*dto.MetricFamily) map[string]*dto.MetricFamily {
	t.Helper()
	var buf bytes.Buffer
	if err := Write(&buf, fams); err != nil {
		t.Fatalf("Write: %v", err)
	}
	var parser expfmt.TextParser
	parsed, err := parser.TextToMetricFamilies(&buf)
	if err != nil {
		t.Fatalf("parse exposition: %v\n%s", err, buf.String())
	}
	return parsed
}

// valueFor returns the value of the metric in mf whose labels include all of want.
func valueFor(t *testing.T, mf *dto.MetricFamily, want map[string]string) float64 {
	t.Helper()
	if mf == nil {
		t.Fatal("metric family missing")
	}
	for _, m := range mf.GetMetric() {
		matched := 0
		for _, lp := range m.GetLabel() {
			if v, ok := want[lp.GetName()]; ok && v == lp.GetValue() {
				matched++
			}
		}
		if matched != len(want) {
			continue
		}
		switch {
		case m.Counter != nil:
			return m.Counter.GetValue()
		case m.Gauge != nil:
			return m.Gauge.GetValue()
		}
	}
	t.Fatalf("%s: no metric with labels %v", mf.GetName(), want)
	return 0
}

func TestFamilies_LoadAndBackends(t *testing.T) {
	parsed := roundTrip(t, Families([]*compute.Result{healthyResult()}))
	id := map[string]string{"host": "10.0.0.10", "proxy": "gae_app"}

	cases := map[string]float64{
		MetricUp:            1,
		MetricRequestsTotal: 120,
		MetricQueued:        3,
		MetricSessions:      5,
		MetricRequestRate:   2.5,
	}
	for name, want := range cases {
		if got := valueFor(t, parsed[name], id); got != want {
			t.Errorf("%s = %v, want %v", name, got, want)
		}
	}

	running := map[string]string{"host": "10.0.0.10", "proxy": "gae_app", "state": "running"}
	failed := map[string]string{"host": "10.0.0.10", "proxy": "gae_app", "state": "failed"}
	if got := valueFor(t, parsed[MetricBackendServers], running); got != 2 {
		t.Errorf("running servers = %v, want 2", got)
	}
	if got := valueFor(t, parsed[MetricBackendServers], failed); got != 1 {
		t.Errorf("failed servers = %v, want 1", got)
	}
	if parsed[MetricRequestsTotal].GetType() != dto.MetricType_COUNTER {
		t.Errorf("%s type = %v, want COUNTER", MetricRequestsTotal, parsed[MetricRequestsTotal].GetType())
	}
}

func TestFamilies_FailedPollOnlyReportsDown(t *testing.T) {
	res := &compute.Result{Host: "lb-2", Proxy: "gae_app", State: compute.StateUnknown}
	fams := Families([]*compute.Result{res})

	if len(fams) != 1 || fams[0].GetName() != MetricUp {
		t.Fatalf("families = %v, want only %s", fams, MetricUp)
	}
	parsed := roundTrip(t, fams)
	if got := valueFor(t, parsed[MetricUp], map[string]string{"host": "lb-2"}); got != 0 {
		t.Errorf("%s = %v, want 0", MetricUp, got)
	}
}

func TestFamilies_UnknownRateOmitted(t *testing.T) {
	res := healthyResult()
	res.RateKnown = false
	for _, f := range Families([]*compute.Result{res}) {
		if f.GetName() == MetricRequestRate {
			t.Fatalf("%s should be omitted while the rate is unknown", MetricRequestRate)
		}
	}
}

func TestFamilies_SortedAndEmpty(t *testing.T) {
	if fams := Families(nil); len(fams) != 0 {
		t.Errorf("Families(nil) = %d families, want 0", len(fams))
	}
	fams := Families([]*compute.Result{healthyResult()})
	for i := 1; i < len(fams); i++ {
		if fams[i-1].GetName() >= fams[i].GetName() {
			t.Errorf("families not sorted: %s before %s", fams[i-1].GetName(), fams[i].GetName())
		}
	}
}
