package health

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
)

var (
	pass = func(context.Context) error { return nil }
	fail = func(context.Context) error { return errors.New("down") }
)

func get(t *testing.T, c Checker, path string) (int, Report) {
	t.Helper()
	w := httptest.NewRecorder()
	Handler(c).ServeHTTP(w, httptest.NewRequest(http.MethodGet, "http://localhost"+path, nil))
	var r Report
	if err := json.NewDecoder(w.Body).Decode(&r); err != nil {
		t.Fatalf("decode %s: %v", path, err)
	}
	return w.Code, r
}

func TestHealthz(t *testing.T) {
	tests := []struct {
		name    string
		checker Checker
		code    int
		db, rpc string
	}{
		{"all_ok", Checker{DBPing: pass, RPCPing: pass}, http.StatusOK, "ok", "ok"},
		{"db_fail", Checker{DBPing: fail, RPCPing: pass}, http.StatusServiceUnavailable, "fail", "ok"},
		{"rpc_fail", Checker{DBPing: pass, RPCPing: fail}, http.StatusServiceUnavailable, "ok", "fail"},
		{"no_probes", Checker{}, http.StatusOK, "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			code, r := get(t, tt.checker, "/healthz")
			if code != tt.code {
				t.Errorf("code = %d, want %d", code, tt.code)
			}
			if r.Healthy() != (tt.code == http.StatusOK) {
				t.Errorf("status = %q", r.Status)
			}
			if r.Checks["db"] != tt.db || r.Checks["rpc"] != tt.rpc {
				t.Errorf("checks = %v", r.Checks)
			}
		})
	}
}

func TestReadyzNeedsRunningMonitor(t *testing.T) {
	running := false
	c := Checker{RPCPing: pass, Running: func() bool { return running }}

	code, r := get(t, c, "/healthz")
	if code != http.StatusOK || r.Monitor != "stopped" {
		t.Fatalf("healthz = %d %+v", code, r)
	}
	if code, _ := get(t, c, "/readyz"); code != http.StatusServiceUnavailable {
		t.Fatalf("readyz while stopped = %d", code)
	}

	running = true
	if code, r := get(t, c, "/readyz"); code != http.StatusOK || r.Monitor != "running" {
		t.Fatalf("readyz while running = %d %+v", code, r)
	}
}

func TestServeShutdown(t *testing.T) {
	srv := Serve("127.0.0.1:0", Checker{})
	if err := Shutdown(context.Background(), srv); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
}
