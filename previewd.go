package previewd

import (
	"context"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	cfg "github.com/loykin/previewd/internal/config"
	"github.com/loykin/previewd/internal/history"
	"github.com/loykin/previewd/internal/launcher"
	"github.com/loykin/previewd/internal/metrics"
	"github.com/loykin/previewd/internal/orchestrator"
	"github.com/loykin/previewd/internal/ports"
	iapi "github.com/loykin/previewd/internal/server"
	"github.com/loykin/previewd/internal/store"
	"github.com/loykin/previewd/internal/store/factory"
)

// Re-export core types for external consumers.
// These are aliases so conversions are zero-cost.

type Config = orchestrator.Config

type StartRequest = orchestrator.StartRequest

type Preview = orchestrator.Info

type Mode = launcher.Mode

const (
	ModeDevelopment = launcher.ModeDevelopment
	ModeProduction  = launcher.ModeProduction
)

type Store = store.Store

type HistorySink = history.Sink

type PortRangeInfo = ports.RangeInfo

// Errors callers may want to branch on.
var (
	ErrPathNotFound    = orchestrator.ErrPathNotFound
	ErrAlreadyStarting = orchestrator.ErrAlreadyStarting
	ErrUnknownBuild    = orchestrator.ErrUnknownBuild
	ErrPortExhausted   = ports.ErrPortExhausted
)

// Manager is a thin facade over the internal orchestrator.
// It provides a stable public API for embedding.
type Manager struct{ inner *orchestrator.Orchestrator }

func New(c Config) (*Manager, error) {
	o, err := orchestrator.New(c)
	if err != nil {
		return nil, err
	}
	return &Manager{inner: o}, nil
}

func (m *Manager) SetStore(s Store) error               { return m.inner.SetStore(s) }
func (m *Manager) SetHistorySinks(sinks ...HistorySink) { m.inner.SetHistorySinks(sinks...) }

func (m *Manager) StartPreview(ctx context.Context, req StartRequest) (Preview, error) {
	return m.inner.StartPreview(ctx, req)
}
func (m *Manager) StopPreview(buildID string) bool { return m.inner.StopPreview(buildID) }
func (m *Manager) RestartPreview(ctx context.Context, buildID, userID string) (Preview, error) {
	return m.inner.RestartPreview(ctx, buildID, userID)
}
func (m *Manager) ExtendTimeout(buildID string) bool { return m.inner.ExtendTimeout(buildID) }

func (m *Manager) Status(buildID string) (Preview, bool)     { return m.inner.Status(buildID) }
func (m *Manager) Statuses() []Preview                       { return m.inner.Statuses() }
func (m *Manager) BuildForUser(userID string) (string, bool) { return m.inner.BuildForUser(userID) }
func (m *Manager) PortsInfo() PortRangeInfo                  { return m.inner.PortsInfo() }

func (m *Manager) LoadState(ctx context.Context) { m.inner.LoadState(ctx) }
func (m *Manager) HealthCheckAll()               { m.inner.HealthCheckAll() }
func (m *Manager) StartHealthSweep()             { m.inner.StartHealthSweep() }
func (m *Manager) StopHealthSweep()              { m.inner.StopHealthSweep() }
func (m *Manager) CleanupAll()                   { m.inner.CleanupAll() }
func (m *Manager) Close()                        { m.inner.Close() }

// LoadConfig reads the daemon's TOML configuration file.
func LoadConfig(path string) (*cfg.Config, error) {
	return cfg.Load(path)
}

// NewStoreFromDSN selects a snapshot store backend from a DSN.
func NewStoreFromDSN(dsn string) (Store, error) {
	return factory.NewFromDSN(dsn)
}

// NewHTTPServer starts an HTTP server exposing the preview API.
func NewHTTPServer(addr, basePath, workspace string, m *Manager) (*http.Server, error) {
	return iapi.NewServer(addr, basePath, workspace, m.inner)
}

// NewTLSServer starts an HTTPS server exposing the preview API, with
// certificates resolved (or auto-generated) from the server config.
func NewTLSServer(scfg cfg.ServerConfig, workspace string, m *Manager) (*http.Server, error) {
	return iapi.NewTLSServer(scfg, workspace, m.inner)
}

// Metrics helpers (public facade)

func RegisterMetrics(r prometheus.Registerer) error { return metrics.Register(r) }
func RegisterMetricsDefault() error                 { return metrics.Register(prometheus.DefaultRegisterer) }

// ServeMetrics starts an HTTP server on addr exposing /metrics using the
// default registry. It returns any immediate listen error; otherwise it
// runs the server in the caller goroutine.
func ServeMetrics(addr string) error {
	http.Handle("/metrics", metrics.Handler())
	srv := &http.Server{
		Addr:              addr,
		Handler:           nil,
		ReadTimeout:       10 * time.Second,
		ReadHeaderTimeout: 10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	return srv.ListenAndServe()
}
