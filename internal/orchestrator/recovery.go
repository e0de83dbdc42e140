package orchestrator

import (
	"context"
	"time"

	"github.com/loykin/previewd/internal/history"
	"github.com/loykin/previewd/internal/metrics"
	"github.com/loykin/previewd/internal/store"
)

// LoadState reconciles the port namespace with persisted intent after a
// restart. Three stages, each fail-open:
//
//  1. load the snapshot written by the previous incarnation;
//  2. probe each entry, re-adopting responsive previews (without a
//     process handle; kill-by-port covers their teardown) and
//     force-reclaiming unresponsive ones;
//  3. sweep the whole port range for listeners no surviving entry
//     accounts for and kill them.
//
// Stage 3 exists because the snapshot itself can be lost or stale: the
// OS port table is the only ground truth that survives a crash.
func (o *Orchestrator) LoadState(ctx context.Context) {
	o.mu.Lock()
	st := o.st
	o.mu.Unlock()

	var entries map[string]store.Entry
	if st != nil {
		var err error
		entries, err = st.LoadSnapshot(ctx)
		if err != nil {
			o.log.Warn("snapshot load failed, falling back to port sweep", "err", err)
			entries = nil
		}
	}

	adopted := make(map[int]string)
	for build, e := range entries {
		if e.Status == store.StatusReady && o.probe(e.URL, o.cfg.HealthTimeout) {
			o.adopt(build, e)
			adopted[e.Port] = build
			o.log.Info("re-adopted preview from snapshot", "build", build, "port", e.Port)
			continue
		}
		o.log.Warn("purging stale snapshot entry", "build", build, "port", e.Port, "status", e.Status)
		if _, err := o.killPort(e.Port, true); err != nil {
			o.log.Warn("kill by port during recovery", "port", e.Port, "err", err)
		}
		o.ports.ForceFree(e.Port)
		metrics.IncReclaimed(history.ReasonRecovery)
		o.record(history.Event{
			Type: history.EventReclaimed, OccurredAt: time.Now().UTC(),
			BuildID: build, Port: e.Port, PID: e.PID, Reason: history.ReasonRecovery,
		})
	}

	o.sweepOrphans(adopted)
	o.persist()
	o.syncGauges()
	o.log.Info("state recovery complete", "adopted", len(adopted))
}

// adopt registers a snapshot entry as a live preview. No process handle
// exists for it; stop paths fall back to kill-by-port.
func (o *Orchestrator) adopt(build string, e store.Entry) {
	if err := o.ports.Adopt(build, e.Port); err != nil {
		// Range may have shrunk across restarts; keep the registry entry
		// anyway, stop paths free untracked ports without complaint.
		o.log.Warn("allocator rejected recovered port", "build", build, "port", e.Port, "err", err)
	}
	info := Info{
		BuildID:     e.BuildID,
		Port:        e.Port,
		PID:         e.PID,
		URL:         e.URL,
		ProjectPath: e.ProjectPath,
		Status:      store.StatusReady,
		StartedAt:   e.StartedAt,
	}
	o.mu.Lock()
	o.previews[build] = &preview{info: info}
	o.armTimerLocked(build)
	o.mu.Unlock()
}

// sweepOrphans kills every listener in the managed port range that no
// adopted entry accounts for.
func (o *Orchestrator) sweepOrphans(adopted map[int]string) {
	listeners, err := o.listeners(o.cfg.MinPort, o.cfg.MaxPort)
	if err != nil {
		o.log.Warn("port range sweep failed", "err", err)
		return
	}
	for port, pid := range listeners {
		if _, ok := adopted[port]; ok {
			continue
		}
		o.log.Warn("killing orphan listener in managed range", "port", port, "pid", pid)
		if _, err := o.killPort(port, true); err != nil {
			o.log.Warn("kill orphan", "port", port, "err", err)
		}
		o.ports.ForceFree(port)
		metrics.IncReclaimed(history.ReasonRecovery)
	}
}
