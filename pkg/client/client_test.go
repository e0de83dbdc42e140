package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
)

func newTestServer(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return New(Config{BaseURL: srv.URL + "/api"})
}

func TestStartPreview(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/previews/start" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		var req StartRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("decode request: %v", err)
		}
		if req.BuildID != "b1" || req.UserID != "u1" {
			t.Errorf("request=%+v", req)
		}
		_ = json.NewEncoder(w).Encode(Preview{
			BuildID: "b1", Port: 4110, URL: "http://localhost:4110", Status: "ready",
		})
	})

	p, err := c.StartPreview(context.Background(), StartRequest{BuildID: "b1", UserID: "u1"})
	if err != nil {
		t.Fatalf("StartPreview: %v", err)
	}
	if p.Port != 4110 || p.Status != "ready" {
		t.Fatalf("preview=%+v", p)
	}
}

func TestStartPreviewError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "project path not found: /x"})
	})
	_, err := c.StartPreview(context.Background(), StartRequest{BuildID: "b1"})
	if err == nil || !strings.Contains(err.Error(), "project path not found") {
		t.Fatalf("err=%v", err)
	}
}

func TestStopPreview(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/previews/stop" || r.URL.Query().Get("build") != "b1" {
			t.Errorf("unexpected request %s", r.URL.String())
		}
		_, _ = w.Write([]byte(`{"ok":true,"stopped":true}`))
	})
	stopped, err := c.StopPreview(context.Background(), "b1")
	if err != nil {
		t.Fatalf("StopPreview: %v", err)
	}
	if !stopped {
		t.Fatalf("stopped=false")
	}
}

func TestStatuses(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`[{"buildId":"b1","port":4110},{"buildId":"b2","port":4111}]`))
	})
	list, err := c.Statuses(context.Background())
	if err != nil {
		t.Fatalf("Statuses: %v", err)
	}
	if len(list) != 2 || list[1].Port != 4111 {
		t.Fatalf("list=%+v", list)
	}
}

func TestPortsAndReachability(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/ports" {
			t.Errorf("unexpected path %s", r.URL.Path)
		}
		_, _ = w.Write([]byte(`{"range":{"min_port":4110,"max_port":4990,"total":881,"allocated":1,"available":880},"allocated":{"4110":{"port":4110,"build_id":"b1"}}}`))
	})
	rep, err := c.Ports(context.Background())
	if err != nil {
		t.Fatalf("Ports: %v", err)
	}
	if rep.Range.Total != 881 || rep.Allocated["4110"].BuildID != "b1" {
		t.Fatalf("report=%+v", rep)
	}
	if !c.IsReachable(context.Background()) {
		t.Fatalf("IsReachable=false against live server")
	}
}

func TestExtendTimeoutError(t *testing.T) {
	c := newTestServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
		_ = json.NewEncoder(w).Encode(ErrorResponse{Error: "unknown build: ghost"})
	})
	if err := c.ExtendTimeout(context.Background(), "ghost"); err == nil {
		t.Fatalf("expected error")
	}
}

func TestUnreachable(t *testing.T) {
	c := New(Config{BaseURL: "http://127.0.0.1:1/api"})
	if c.IsReachable(context.Background()) {
		t.Fatalf("IsReachable=true against closed port")
	}
}

func TestTLSInsecure(t *testing.T) {
	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(PortsReport{})
	}))
	t.Cleanup(srv.Close)

	// Default client must reject the self-signed certificate.
	strict := New(Config{BaseURL: srv.URL + "/api"})
	if strict.IsReachable(context.Background()) {
		t.Fatal("expected verification failure against self-signed server")
	}

	cfg := InsecureConfig()
	cfg.BaseURL = srv.URL + "/api"
	if c := New(cfg); !c.IsReachable(context.Background()) {
		t.Fatal("insecure client should reach self-signed server")
	}
}
