package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/loykin/previewd/internal/history"
	"github.com/loykin/previewd/internal/ports"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "previewd.toml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFull(t *testing.T) {
	path := writeConfig(t, `
workspace = "/var/lib/previewd/projects"

[ports]
min = 4110
max = 4990

[lifecycle]
idle_timeout = "5m"
settle_delay = "1s"
health_interval = "2m"
health_timeout = "3s"

[launch]
ready_timeout = "120s"
install_timeout = "3m"
build_timeout = "3m"
retry_delay = "2s"
max_heap_mb = 768
max_young_gen_mb = 64

[launch.env]
NODE_ENV = "development"
NPM_CONFIG_CACHE = "/var/cache/previewd/npm"

[server]
listen = ":8600"
base_path = "/api"

[metrics]
enabled = true
listen = ":9600"

[store]
dsn = "file:///var/lib/previewd/previews.json"

[[history]]
type = "clickhouse-http"
url = "http://localhost:8123"
table = "preview_events"

[[history]]
type = "opensearch"
url = "http://localhost:9200"
index = "preview-events"

[log]
level = "debug"
dir = "/var/log/previewd"
max_size_mb = 10
max_backups = 3
`)
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Workspace != "/var/lib/previewd/projects" {
		t.Fatalf("workspace=%q", c.Workspace)
	}
	if c.Ports.Min != 4110 || c.Ports.Max != 4990 {
		t.Fatalf("ports=%+v", c.Ports)
	}
	if c.Lifecycle.IdleTimeout != 5*time.Minute {
		t.Fatalf("idle_timeout=%v", c.Lifecycle.IdleTimeout)
	}
	if c.Launch.ReadyTimeout != 120*time.Second || c.Launch.MaxHeapMB != 768 {
		t.Fatalf("launch=%+v", c.Launch)
	}
	if c.Server.BasePath != "/api" {
		t.Fatalf("base_path=%q", c.Server.BasePath)
	}
	if !c.Metrics.Enabled || c.Metrics.Listen != ":9600" {
		t.Fatalf("metrics=%+v", c.Metrics)
	}
	if len(c.History) != 2 {
		t.Fatalf("history entries=%d", len(c.History))
	}

	oc := c.Orchestrator()
	if oc.MinPort != 4110 || oc.IdleTimeout != 5*time.Minute {
		t.Fatalf("orchestrator mapping: %+v", oc)
	}
	if oc.Launcher.Limits.MaxHeapMB != 768 {
		t.Fatalf("limits mapping: %+v", oc.Launcher.Limits)
	}
	if oc.Launcher.Env["NODE_ENV"] != "development" {
		t.Fatalf("env mapping: %+v", oc.Launcher.Env)
	}
	if oc.Launcher.Log.Dir != "/var/log/previewd" {
		t.Fatalf("child log mapping: %+v", oc.Launcher.Log)
	}

	sinks, err := c.BuildSinks()
	if err != nil {
		t.Fatalf("BuildSinks: %v", err)
	}
	if len(sinks) != 2 {
		t.Fatalf("sinks=%d", len(sinks))
	}
	if _, ok := sinks[0].(*history.ClickHouseSink); !ok {
		t.Fatalf("sink 0 type %T", sinks[0])
	}
	if _, ok := sinks[1].(*history.OpenSearchSink); !ok {
		t.Fatalf("sink 1 type %T", sinks[1])
	}
}

func TestLoadDefaults(t *testing.T) {
	c, err := Load(writeConfig(t, ``))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	lo, hi := c.PortRange()
	if lo != ports.DefaultMinPort || hi != ports.DefaultMaxPort {
		t.Fatalf("default range %d-%d", lo, hi)
	}
	if c.ListenAddr() != ":8600" {
		t.Fatalf("default listen %q", c.ListenAddr())
	}
}

func TestValidateRejections(t *testing.T) {
	cases := []struct {
		name string
		body string
	}{
		{"half port range", "[ports]\nmin = 4110\n"},
		{"inverted range", "[ports]\nmin = 5000\nmax = 4000\n"},
		{"unknown sink", "[[history]]\ntype = \"kafka\"\n"},
		{"missing sink type", "[[history]]\nurl = \"http://x\"\n"},
		{"tls without certs", "[server.tls]\nenabled = true\n"},
	}
	for _, tc := range cases {
		if _, err := Load(writeConfig(t, tc.body)); err == nil {
			t.Fatalf("%s: expected error", tc.name)
		}
	}
}

func TestLoadTLS(t *testing.T) {
	body := `
[server]
listen = ":8600"
tls_min_version = "1.2"

[server.tls]
enabled = true
dir = "/tmp/certs"
auto_generate = true

[server.tls.auto_gen]
common_name = "preview.local"
valid_days = 30
`
	c, err := Load(writeConfig(t, body))
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Server.TLS == nil || !c.Server.TLS.Enabled || !c.Server.TLS.AutoGenerate {
		t.Fatalf("tls config not decoded: %+v", c.Server.TLS)
	}
	if c.Server.TLS.AutoGen == nil || c.Server.TLS.AutoGen.CommonName != "preview.local" {
		t.Fatalf("auto_gen not decoded: %+v", c.Server.TLS.AutoGen)
	}
	if c.Server.TLSMinVersion != "1.2" {
		t.Fatalf("tls_min_version = %q", c.Server.TLSMinVersion)
	}
}

func TestBuildSinksRejectsIncomplete(t *testing.T) {
	c := &Config{History: []HistorySink{{Type: "clickhouse-http", URL: "http://localhost:8123"}}}
	if _, err := c.BuildSinks(); err == nil {
		t.Fatalf("expected error for missing table")
	}
	c = &Config{History: []HistorySink{{Type: "opensearch", Index: "events"}}}
	if _, err := c.BuildSinks(); err == nil {
		t.Fatalf("expected error for missing url")
	}
	c = &Config{History: []HistorySink{{Type: "clickhouse-http", URL: "http://[::1", Table: "t"}}}
	if _, err := c.BuildSinks(); err == nil {
		t.Fatalf("expected error for malformed url")
	}
}
