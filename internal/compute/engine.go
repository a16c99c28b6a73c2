package compute

import (
	"log/slog"
	"sync"
	"time"

	"github.com/Maronee/appscale/internal/hermes"
)

// uptimeWindow is the number of recent poll outcomes tracked for uptime %.
const uptimeWindow = 20

// Health states reported in Result.State.
const (
	StateHealthy  = "healthy"
	StateDegraded = "degraded"
	StateCritical = "critical"
	StateUnknown  = "unknown"
)

// Sample is the outcome of polling one proxy on one load balancer.
// Err is set when either agent call failed; the other fields are then ignored.
type Sample struct {
	Host    string
	Proxy   string
	Load    hermes.LoadStats
	Running []string
	Failed  []string
	Err     error
}

// Key identifies the proxy a sample or result belongs to.
func (s Sample) Key() string { return Key(s.Host, s.Proxy) }

// Key joins host and proxy into the identifier used by Engine and the store.
func Key(host, proxy string) string { return host + "/" + proxy }

// Result is the derived view of one proxy after a poll.
type Result struct {
	Host      string           `json:"host"`
	Proxy     string           `json:"proxy"`
	Timestamp time.Time        `json:"timestamp"`
	State     string           `json:"state"`
	Load      hermes.LoadStats `json:"load"`

	// RequestRate is requests per second derived from successive req_tot
	// values. It is only meaningful when RateKnown is set.
	RequestRate float64 `json:"request_rate"`
	RateKnown   bool    `json:"rate_known"`

	Running      []string `json:"running"`
	Failed       []string `json:"failed"`
	UptimePct    float64  `json:"uptime_pct"`
	ErrorMessage string   `json:"error,omitempty"`
}

// Key returns the host/proxy identifier of r.
func (r *Result) Key() string { return Key(r.Host, r.Proxy) }

// Engine keeps the previous sample per proxy and derives request rates from
// the cumulative frontend counter.
//
// All exported methods are safe for concurrent use.
type Engine struct {
	mu     sync.Mutex
	states map[string]*proxyState
}

// NewEngine returns a ready-to-use Engine.
func NewEngine() *Engine {
	return &Engine{states: make(map[string]*proxyState)}
}

// Process ingests a Sample taken at now and returns the derived Result.
//
// The first successful sample of a proxy, and any sample whose req_tot went
// backwards (the proxy was restarted), only set a new baseline and leave
// RateKnown false.
func (e *Engine) Process(s Sample, now time.Time) *Result {
	e.mu.Lock()
	defer e.mu.Unlock()

	st := e.stateFor(s.Key())
	success := s.Err == nil
	st.recordPoll(success)

	out := &Result{
		Host:      s.Host,
		Proxy:     s.Proxy,
		Timestamp: now,
		UptimePct: st.uptimePct(),
	}

	if !success {
		slog.Warn("compute: poll failed, marking unknown",
			"host", s.Host, "proxy", s.Proxy, "err", s.Err)
		out.State = StateUnknown
		out.ErrorMessage = s.Err.Error()
		return out
	}

	out.Load = s.Load
	out.Running = s.Running
	out.Failed = s.Failed
	out.State = stateOf(len(s.Running), len(s.Failed))

	if st.hasBaseline && s.Load.TotalRequests >= st.prevTotal {
		elapsed := now.Sub(st.prevTime).Seconds()
		if elapsed > 0 {
			out.RequestRate = float64(s.Load.TotalRequests-st.prevTotal) / elapsed
			out.RateKnown = true
		}
	}

	st.prevTotal = s.Load.TotalRequests
	st.prevTime = now
	st.hasBaseline = true
	return out
}

// Forget drops the state kept for key, e.g. after a target was removed.
func (e *Engine) Forget(key string) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.states, key)
}

// stateOf classifies a proxy from its backend partition.
func stateOf(running, failed int) string {
	switch {
	case running == 0:
		return StateCritical
	case failed > 0:
		return StateDegraded
	default:
		return StateHealthy
	}
}

// proxyState holds the previous counter value and uptime history of a proxy.
type proxyState struct {
	prevTotal   int64
	prevTime    time.Time
	hasBaseline bool
	history     []bool // newest last
}

func (e *Engine) stateFor(key string) *proxyState {
	if st, ok := e.states[key]; ok {
		return st
	}
	st := &proxyState{}
	e.states[key] = st
	return st
}

func (st *proxyState) recordPoll(success bool) {
	if len(st.history) >= uptimeWindow {
		st.history = st.history[1:]
	}
	st.history = append(st.history, success)
}

func (st *proxyState) uptimePct() float64 {
	if len(st.history) == 0 {
		return 100
	}
	var ok int
	for _, s := range st.history {
		if s {
			ok++
		}
	}
	return float64(ok) / float64(len(st.history)) * 100
}
