// Package health exposes liveness and readiness endpoints for the monitor.
package health

import (
	"context"
	"encoding/json"
	"net/http"
	"time"
)

const probeTimeout = 3 * time.Second

// Probe reports whether one dependency is reachable.
type Probe func(ctx context.Context) error

// Checker bundles the probes reported by the handlers. Nil probes are skipped.
type Checker struct {
	DBPing  Probe
	RPCPing Probe
	Running func() bool
}

// Report is the JSON body of /healthz and /readyz.
type Report struct {
	Status  string            `json:"status"`
	Checks  map[string]string `json:"checks,omitempty"`
	Monitor string            `json:"monitor,omitempty"`
}

// Healthy is true when every probe passed.
func (r Report) Healthy() bool { return r.Status == "ok" }

// Check runs every configured probe.
func (c Checker) Check(ctx context.Context) Report {
	r := Report{Status: "ok", Checks: map[string]string{}}
	for name, probe := range map[string]Probe{"db": c.DBPing, "rpc": c.RPCPing} {
		if probe == nil {
			continue
		}
		if err := probe(ctx); err != nil {
			r.Checks[name] = "fail"
			r.Status = "degraded"
			continue
		}
		r.Checks[name] = "ok"
	}
	if c.Running != nil {
		r.Monitor = "stopped"
		if c.Running() {
			r.Monitor = "running"
		}
	}
	return r
}

// Handler serves /healthz, which fails only on probe errors, and /readyz,
// which also requires the monitor to be running.
func Handler(c Checker) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		report := check(r.Context(), c)
		writeReport(w, report, report.Healthy())
	})
	mux.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		report := check(r.Context(), c)
		writeReport(w, report, report.Healthy() && report.Monitor != "stopped")
	})
	return mux
}

func check(ctx context.Context, c Checker) Report {
	ctx, cancel := context.WithTimeout(ctx, probeTimeout)
	defer cancel()
	return c.Check(ctx)
}

func writeReport(w http.ResponseWriter, report Report, ok bool) {
	code := http.StatusOK
	if !ok {
		code = http.StatusServiceUnavailable
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(report)
}

// Serve listens on addr in the background.
func Serve(addr string, c Checker) *http.Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           Handler(c),
		ReadHeaderTimeout: probeTimeout,
	}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}

// Shutdown gracefully shuts down the health server.
func Shutdown(ctx context.Context, srv *http.Server) error {
	return srv.Shutdown(ctx)
}
