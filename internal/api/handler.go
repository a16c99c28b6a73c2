package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/Maronee/appscale/internal/compute"
	"github.com/Maronee/appscale/internal/export"
	"github.com/Maronee/appscale/internal/store"
)

// Handler serves the local status API from the result store.
type Handler struct {
	store *store.Store
	mux   *http.ServeMux
}

// New creates a Handler wired to st and registers all routes.
func New(st *store.Store) http.Handler {
	h := &Handler{store: st, mux: http.NewServeMux()}

	h.mux.HandleFunc("/api/v1/health", h.health)
	h.mux.HandleFunc("/api/v1/proxies", h.listProxies)
	h.mux.HandleFunc("/api/v1/proxies/", h.getProxy) // subtree: {host}/{proxy}
	h.mux.HandleFunc("/metrics", h.metrics)

	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mux.ServeHTTP(w, r)
}

// health returns GET /api/v1/health: per-state counts across live proxies.
func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	entries := h.store.List()
	resp := HealthResponse{ProxyCount: len(entries)}
	for _, e := range entries {
		resp.FailedServers += len(e.Result.Failed)
		switch e.Result.State {
		case compute.StateHealthy:
			resp.HealthyCount++
		case compute.StateDegraded:
			resp.DegradedCount++
		case compute.StateCritical:
			resp.CriticalCount++
		default:
			resp.UnknownCount++
		}
	}
	resp.State = overallState(resp)
	jsonResp(w, http.StatusOK, resp)
}

// listProxies returns GET /api/v1/proxies.
func (h *Handler) listProxies(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	entries := h.store.List()
	out := make([]ProxyResponse, 0, len(entries))
	for _, e := range entries {
		out = append(out, toProxyResponse(e))
	}
	jsonResp(w, http.StatusOK, out)
}

// getProxy returns GET /api/v1/proxies/{host}/{proxy}.
func (h *Handler) getProxy(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	rest := strings.Trim(strings.TrimPrefix(r.URL.Path, "/api/v1/proxies/"), "/")
	if rest == "" {
		h.listProxies(w, r)
		return
	}
	host, proxy, ok := strings.Cut(rest, "/")
	if !ok || host == "" || proxy == "" {
		jsonErr(w, http.StatusBadRequest, "expected /api/v1/proxies/{host}/{proxy}")
		return
	}

	e, found := h.store.Fresh(compute.Key(host, proxy))
	if !found {
		jsonErr(w, http.StatusNotFound, "proxy not found")
		return
	}
	jsonResp(w, http.StatusOK, toProxyResponse(e))
}

// metrics returns GET /metrics in the Prometheus text format.
func (h *Handler) metrics(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		jsonErr(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	entries := h.store.List()
	results := make([]*compute.Result, 0, len(entries))
	for _, e := range entries {
		results = append(results, e.Result)
	}

	var buf bytes.Buffer
	if err := export.Write(&buf, export.Families(results)); err != nil {
		jsonErr(w, http.StatusInternalServerError, err.Error())
		return
	}
	w.Header().Set("Content-Type", export.ContentType)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

// --- helpers ----------------------------------------------------------------

func jsonResp(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v) //nolint:errcheck
}

func jsonErr(w http.ResponseWriter, code int, msg string) {
	jsonResp(w, code, errorResponse{Error: msg})
}

// overallState is the worst state across all proxies.
func overallState(h HealthResponse) string {
	switch {
	case h.ProxyCount == 0:
		return compute.StateUnknown
	case h.CriticalCount > 0:
		return compute.StateCritical
	case h.DegradedCount > 0 || h.UnknownCount > 0:
		return compute.StateDegraded
	default:
		return compute.StateHealthy
	}
}

// toProxyResponse maps a store.Entry to its JSON representation.
func toProxyResponse(e *store.Entry) ProxyResponse {
	r := e.Result
	resp := ProxyResponse{
		Host:         r.Host,
		Proxy:        r.Proxy,
		State:        r.State,
		Load:         r.Load,
		Running:      nonNil(r.Running),
		Failed:       nonNil(r.Failed),
		UptimePct:    r.UptimePct,
		ErrorMessage: r.ErrorMessage,
		Diagnostics:  computeDiagnostics(r),
		LastSeen:     e.UpdatedAt.UTC().Format(time.RFC3339),
	}
	if r.RateKnown {
		rate := r.RequestRate
		resp.RequestRate = &rate
	}
	return resp
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
