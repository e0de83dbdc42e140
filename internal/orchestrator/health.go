package orchestrator

import (
	"time"

	"github.com/loykin/previewd/internal/history"
)

// HealthCheckAll probes every tracked preview. Healthy builds get their
// idle timer re-armed; unhealthy ones are stopped and deregistered.
// There is deliberately no auto-restart here: a persistently broken
// build would otherwise flap through the whole retry pipeline every
// sweep period.
func (o *Orchestrator) HealthCheckAll() {
	type target struct {
		build string
		url   string
	}
	o.mu.Lock()
	targets := make([]target, 0, len(o.previews))
	for b, pv := range o.previews {
		targets = append(targets, target{build: b, url: pv.info.URL})
	}
	o.mu.Unlock()

	for _, t := range targets {
		if o.probe(t.url, o.cfg.HealthTimeout) {
			o.ExtendTimeout(t.build)
			continue
		}
		o.log.Warn("preview failed health probe, reclaiming", "build", t.build, "url", t.url)
		lock := o.lockFor(t.build)
		lock.Lock()
		o.stopLocked(t.build, history.ReasonUnhealthy)
		lock.Unlock()
	}
}

// StartHealthSweep runs HealthCheckAll on the configured period until
// StopHealthSweep or Close.
func (o *Orchestrator) StartHealthSweep() {
	o.mu.Lock()
	if o.sweepStop != nil {
		o.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	done := make(chan struct{})
	o.sweepStop = stop
	o.sweepDone = done
	o.mu.Unlock()

	go func() {
		defer close(done)
		ticker := time.NewTicker(o.cfg.HealthInterval)
		defer ticker.Stop()
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				o.HealthCheckAll()
			}
		}
	}()
	o.log.Info("health sweep started", "interval", o.cfg.HealthInterval.String())
}

// StopHealthSweep halts the periodic sweep and waits for an in-flight
// pass to finish. Safe to call when no sweep is running.
func (o *Orchestrator) StopHealthSweep() {
	o.mu.Lock()
	stop, done := o.sweepStop, o.sweepDone
	o.sweepStop, o.sweepDone = nil, nil
	o.mu.Unlock()
	if stop == nil {
		return
	}
	close(stop)
	<-done
}
