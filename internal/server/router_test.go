package server

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/loykin/previewd/internal/orchestrator"
)

func newTestRouter(t *testing.T) (*Router, http.Handler) {
	t.Helper()
	orch, err := orchestrator.New(orchestrator.Config{
		MinPort:     4110,
		MaxPort:     4120,
		SettleDelay: 5 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	t.Cleanup(orch.Close)
	r := NewRouter(orch, "/api", t.TempDir())
	return r, r.Handler()
}

func doReq(h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	var rd *strings.Reader
	if body == "" {
		rd = strings.NewReader("")
	} else {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	return w
}

func TestStartRejectsBadInput(t *testing.T) {
	_, h := newTestRouter(t)

	cases := []struct {
		name string
		body string
		code int
	}{
		{"invalid json", "{", http.StatusBadRequest},
		{"missing build", `{"userId":"u1"}`, http.StatusBadRequest},
		{"traversal build", `{"buildId":"../etc","userId":"u1"}`, http.StatusBadRequest},
		{"bad mode", `{"buildId":"b1","mode":"turbo"}`, http.StatusBadRequest},
		{"relative path", `{"buildId":"b1","projectPath":"relative/path"}`, http.StatusBadRequest},
		{"traversal path", `{"buildId":"b1","projectPath":"/srv/../../etc"}`, http.StatusBadRequest},
		{"bad user", `{"buildId":"b1","userId":"u 1"}`, http.StatusBadRequest},
	}
	for _, tc := range cases {
		w := doReq(h, http.MethodPost, "/api/previews/start", tc.body)
		if w.Code != tc.code {
			t.Fatalf("%s: code=%d want %d body=%s", tc.name, w.Code, tc.code, w.Body.String())
		}
	}
}

func TestStartMissingProjectIs404(t *testing.T) {
	_, h := newTestRouter(t)
	// Workspace-derived path for a build that was never generated.
	w := doReq(h, http.MethodPost, "/api/previews/start", `{"buildId":"never-generated","userId":"u1"}`)
	if w.Code != http.StatusNotFound {
		t.Fatalf("code=%d body=%s", w.Code, w.Body.String())
	}
	var resp map[string]string
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if !strings.Contains(resp["error"], "not found") {
		t.Fatalf("error=%q", resp["error"])
	}
}

func TestStopIsIdempotentOverHTTP(t *testing.T) {
	_, h := newTestRouter(t)
	w := doReq(h, http.MethodPost, "/api/previews/stop?build=ghost", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code=%d", w.Code)
	}
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp["stopped"] != false {
		t.Fatalf("stopped=%v for untracked build", resp["stopped"])
	}

	if w := doReq(h, http.MethodPost, "/api/previews/stop", ""); w.Code != http.StatusBadRequest {
		t.Fatalf("missing build param: code=%d", w.Code)
	}
}

func TestRestartUnknownBuild(t *testing.T) {
	_, h := newTestRouter(t)
	w := doReq(h, http.MethodPost, "/api/previews/restart?build=ghost", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("code=%d body=%s", w.Code, w.Body.String())
	}
}

func TestExtendUnknownBuild(t *testing.T) {
	_, h := newTestRouter(t)
	w := doReq(h, http.MethodPost, "/api/previews/extend?build=ghost", "")
	if w.Code != http.StatusNotFound {
		t.Fatalf("code=%d", w.Code)
	}
}

func TestStatusEmptyRegistry(t *testing.T) {
	_, h := newTestRouter(t)
	w := doReq(h, http.MethodGet, "/api/previews/status", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code=%d", w.Code)
	}
	var list []orchestrator.Info
	if err := json.Unmarshal(w.Body.Bytes(), &list); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if len(list) != 0 {
		t.Fatalf("expected empty list, got %v", list)
	}

	if w := doReq(h, http.MethodGet, "/api/previews/status?build=ghost", ""); w.Code != http.StatusNotFound {
		t.Fatalf("single status code=%d", w.Code)
	}
}

func TestPortsEndpoint(t *testing.T) {
	_, h := newTestRouter(t)
	w := doReq(h, http.MethodGet, "/api/ports", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code=%d", w.Code)
	}
	var resp struct {
		Range struct {
			MinPort int `json:"min_port"`
			MaxPort int `json:"max_port"`
			Total   int `json:"total"`
		} `json:"range"`
		Allocated map[string]any `json:"allocated"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Range.MinPort != 4110 || resp.Range.MaxPort != 4120 || resp.Range.Total != 11 {
		t.Fatalf("range=%+v", resp.Range)
	}
	if len(resp.Allocated) != 0 {
		t.Fatalf("allocated=%v", resp.Allocated)
	}
}

func TestDebugHealthCheck(t *testing.T) {
	_, h := newTestRouter(t)
	w := doReq(h, http.MethodPost, "/api/debug/healthcheck", "")
	if w.Code != http.StatusOK {
		t.Fatalf("code=%d", w.Code)
	}
}

func TestBasePathMounting(t *testing.T) {
	orch, err := orchestrator.New(orchestrator.Config{MinPort: 4110, MaxPort: 4120})
	if err != nil {
		t.Fatalf("orchestrator: %v", err)
	}
	t.Cleanup(orch.Close)
	h := NewRouter(orch, "", "").Handler()
	if w := doReq(h, http.MethodGet, "/ports", ""); w.Code != http.StatusOK {
		t.Fatalf("empty base path: code=%d", w.Code)
	}
}
