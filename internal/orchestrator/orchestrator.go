package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/loykin/previewd/internal/history"
	"github.com/loykin/previewd/internal/launcher"
	"github.com/loykin/previewd/internal/metrics"
	"github.com/loykin/previewd/internal/ports"
	"github.com/loykin/previewd/internal/proc"
	"github.com/loykin/previewd/internal/store"
)

// Default periods for the background reclamation machinery.
const (
	DefaultIdleTimeout    = 5 * time.Minute
	DefaultSettleDelay    = time.Second
	DefaultHealthInterval = 2 * time.Minute
)

var (
	// ErrPathNotFound rejects a start whose project directory does not
	// exist. Checked before any port is allocated.
	ErrPathNotFound = errors.New("project path not found")
	// ErrAlreadyStarting rejects a start for a build whose previous
	// start has not reached a terminal state yet.
	ErrAlreadyStarting = errors.New("preview already starting")
	// ErrUnknownBuild is returned by restart when the build is neither
	// tracked nor recoverable.
	ErrUnknownBuild = errors.New("unknown build")
)

// Config tunes the orchestrator. Zero values select the defaults above.
type Config struct {
	MinPort        int
	MaxPort        int
	IdleTimeout    time.Duration
	SettleDelay    time.Duration
	HealthInterval time.Duration
	HealthTimeout  time.Duration
	Launcher       launcher.Config
	Logger         *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.MinPort <= 0 {
		c.MinPort = ports.DefaultMinPort
	}
	if c.MaxPort <= 0 {
		c.MaxPort = ports.DefaultMaxPort
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = DefaultIdleTimeout
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = DefaultSettleDelay
	}
	if c.HealthInterval <= 0 {
		c.HealthInterval = DefaultHealthInterval
	}
	if c.HealthTimeout <= 0 {
		c.HealthTimeout = proc.DefaultHealthTimeout
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Info is the externally visible state of one tracked preview.
type Info struct {
	BuildID     string        `json:"buildId"`
	UserID      string        `json:"userId,omitempty"`
	Port        int           `json:"port"`
	PID         int           `json:"pid"`
	URL         string        `json:"url"`
	ProjectPath string        `json:"projectPath"`
	Status      string        `json:"status"`
	Mode        launcher.Mode `json:"mode"`
	StartedAt   time.Time     `json:"startTime"`
	RetryCount  int           `json:"retryCount"`
}

type preview struct {
	info Info
	proc *proc.Process
}

// StartRequest carries everything a caller must supply to bring a
// preview up. ProjectPath is produced by the generation pipeline and
// must already exist.
type StartRequest struct {
	BuildID     string
	ProjectPath string
	UserID      string
	Mode        launcher.Mode
	OnReady     func()
}

// Orchestrator owns the preview registry and enforces its lifecycle
// invariants: one live build per user, one instance per build, idle and
// health based reclamation, snapshot persistence after every mutation.
// All state lives on the instance; construct one and share it.
type Orchestrator struct {
	mu  sync.Mutex
	cfg Config
	log *slog.Logger

	ports    *ports.Allocator
	launcher *launcher.Launcher
	st       store.Store
	sinks    []history.Sink

	previews   map[string]*preview
	userBuilds map[string]string
	timers     map[string]*time.Timer
	starting   map[string]bool
	buildLocks map[string]*sync.Mutex
	userLocks  map[string]*sync.Mutex

	sweepStop chan struct{}
	sweepDone chan struct{}

	// OS-facing hooks, swappable in tests.
	launch    func(ctx context.Context, req launcher.Request) *launcher.Result
	probe     func(url string, timeout time.Duration) bool
	killPort  func(port int, force bool) (bool, error)
	listeners func(minPort, maxPort int) (map[int]int, error)
}

func New(cfg Config) (*Orchestrator, error) {
	cfg.applyDefaults()
	alloc, err := ports.New(cfg.MinPort, cfg.MaxPort)
	if err != nil {
		return nil, err
	}
	l := launcher.New(cfg.Launcher)
	o := &Orchestrator{
		cfg:        cfg,
		log:        cfg.Logger,
		ports:      alloc,
		launcher:   l,
		previews:   make(map[string]*preview),
		userBuilds: make(map[string]string),
		timers:     make(map[string]*time.Timer),
		starting:   make(map[string]bool),
		buildLocks: make(map[string]*sync.Mutex),
		userLocks:  make(map[string]*sync.Mutex),
		launch:     l.Launch,
		probe:      proc.CheckURL,
		killPort:   proc.KillOnPort,
		listeners:  proc.ListenersInRange,
	}
	return o, nil
}

// SetStore configures snapshot persistence and ensures the schema.
func (o *Orchestrator) SetStore(s store.Store) error {
	o.mu.Lock()
	o.st = s
	o.mu.Unlock()
	if s == nil {
		return nil
	}
	return s.EnsureSchema(context.Background())
}

// SetHistorySinks configures lifecycle event export (ClickHouse,
// OpenSearch, etc.). Passing no sinks clears the list.
func (o *Orchestrator) SetHistorySinks(sinks ...history.Sink) {
	o.mu.Lock()
	o.sinks = append([]history.Sink(nil), sinks...)
	o.mu.Unlock()
}

// lockFor returns the per-build mutex, creating it on first use. Locks
// are never removed; the set of builds a deployment ever sees is small.
func (o *Orchestrator) lockFor(buildID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.buildLocks[buildID]
	if !ok {
		l = &sync.Mutex{}
		o.buildLocks[buildID] = l
	}
	return l
}

// userLockFor returns the per-user mutex, creating it on first use.
// A mid-launch build is not yet in userBuilds, so concurrent starts
// for one user must serialize or both builds survive.
func (o *Orchestrator) userLockFor(userID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.userLocks[userID]
	if !ok {
		l = &sync.Mutex{}
		o.userLocks[userID] = l
	}
	return l
}

// StartPreview brings a build up and registers it. A user's previous
// build and a previous instance of the same build are stopped first. A
// start for a build that is still mid-launch is rejected outright.
func (o *Orchestrator) StartPreview(ctx context.Context, req StartRequest) (Info, error) {
	if fi, err := os.Stat(req.ProjectPath); err != nil || !fi.IsDir() {
		return Info{}, fmt.Errorf("%w: %s", ErrPathNotFound, req.ProjectPath)
	}
	if req.Mode == "" {
		req.Mode = launcher.ModeDevelopment
	}

	o.mu.Lock()
	if o.starting[req.BuildID] {
		o.mu.Unlock()
		return Info{}, fmt.Errorf("%w: %s", ErrAlreadyStarting, req.BuildID)
	}
	o.starting[req.BuildID] = true
	o.mu.Unlock()
	defer func() {
		o.mu.Lock()
		delete(o.starting, req.BuildID)
		o.mu.Unlock()
	}()

	// Starts for the same user run one at a time, so the displacement
	// check below always sees a build that finished launching.
	if req.UserID != "" {
		ul := o.userLockFor(req.UserID)
		ul.Lock()
		defer ul.Unlock()
	}

	// One build per user: displace whatever the user ran before.
	if prev := o.buildForUser(req.UserID); prev != "" && prev != req.BuildID {
		o.log.Info("displacing previous preview for user", "user", req.UserID, "old_build", prev, "new_build", req.BuildID)
		o.StopPreview(prev)
		if err := o.settle(ctx); err != nil {
			return Info{}, err
		}
	}

	lock := o.lockFor(req.BuildID)
	lock.Lock()
	defer lock.Unlock()

	// Restart semantics when the build is already tracked.
	if o.tracked(req.BuildID) {
		o.stopLocked(req.BuildID, "")
		if err := o.settle(ctx); err != nil {
			return Info{}, err
		}
	}

	port, err := o.ports.Allocate(req.BuildID)
	if err != nil {
		return Info{}, err
	}

	// The port namespace outlives orchestrator restarts; never trust it
	// to be free just because the allocator says so.
	if killed, err := o.killPort(port, true); err != nil {
		o.log.Warn("pre-launch port probe failed", "port", port, "err", err)
	} else if killed {
		o.log.Warn("reclaimed zombie process before launch", "build", req.BuildID, "port", port)
		metrics.IncReclaimed(history.ReasonRecovery)
	}

	metrics.IncStart(string(req.Mode))
	began := time.Now()
	res := o.launch(ctx, launcher.Request{
		BuildID:     req.BuildID,
		ProjectPath: req.ProjectPath,
		Port:        port,
		Mode:        req.Mode,
		OnReady:     req.OnReady,
	})
	if res.Err != nil {
		o.ports.Free(port)
		o.record(history.Event{
			Type: history.EventFailed, OccurredAt: time.Now().UTC(),
			BuildID: req.BuildID, UserID: req.UserID, Port: port,
			Error: res.Err.Error(), RetryCount: res.RetryCount,
		})
		o.syncGauges()
		return Info{}, fmt.Errorf("launch %s: %w", req.BuildID, res.Err)
	}
	metrics.ObserveLaunchDuration(time.Since(began).Seconds())

	pid := 0
	if res.Process != nil {
		pid = res.Process.PID()
	}
	info := Info{
		BuildID:     req.BuildID,
		UserID:      req.UserID,
		Port:        port,
		PID:         pid,
		URL:         res.URL,
		ProjectPath: req.ProjectPath,
		Status:      store.StatusReady,
		Mode:        req.Mode,
		StartedAt:   time.Now(),
		RetryCount:  res.RetryCount,
	}

	o.mu.Lock()
	o.previews[req.BuildID] = &preview{info: info, proc: res.Process}
	if req.UserID != "" {
		o.userBuilds[req.UserID] = req.BuildID
	}
	o.armTimerLocked(req.BuildID)
	o.mu.Unlock()

	o.persist()
	o.syncGauges()
	o.record(history.Event{
		Type: history.EventReady, OccurredAt: time.Now().UTC(),
		BuildID: req.BuildID, UserID: req.UserID, Port: port, PID: info.PID,
		URL: info.URL, RetryCount: res.RetryCount,
	})
	o.log.Info("preview started", "build", req.BuildID, "user", req.UserID, "port", port, "pid", info.PID, "mode", string(req.Mode))
	return info, nil
}

// StopPreview tears a build down. Idempotent: returns false when the
// build is not tracked.
func (o *Orchestrator) StopPreview(buildID string) bool {
	lock := o.lockFor(buildID)
	lock.Lock()
	defer lock.Unlock()
	return o.stopLocked(buildID, "")
}

// stopLocked does the actual teardown. Callers hold the build lock.
func (o *Orchestrator) stopLocked(buildID, reclaimReason string) bool {
	o.mu.Lock()
	pv, ok := o.previews[buildID]
	if !ok {
		o.mu.Unlock()
		return false
	}
	delete(o.previews, buildID)
	if t, ok := o.timers[buildID]; ok {
		t.Stop()
		delete(o.timers, buildID)
	}
	for user, b := range o.userBuilds {
		if b == buildID {
			delete(o.userBuilds, user)
		}
	}
	o.mu.Unlock()

	if pv.proc != nil {
		if err := pv.proc.Stop(5 * time.Second); err != nil {
			o.log.Warn("process stop", "build", buildID, "err", err)
		}
	}
	// The handle can lose track of re-exec'd dev servers; the port is
	// the ground truth.
	if _, err := o.killPort(pv.info.Port, true); err != nil {
		o.log.Warn("kill by port", "build", buildID, "port", pv.info.Port, "err", err)
	}
	o.ports.Free(pv.info.Port)

	o.persist()
	o.syncGauges()
	metrics.IncStop()
	evt := history.Event{
		Type: history.EventStopped, OccurredAt: time.Now().UTC(),
		BuildID: buildID, UserID: pv.info.UserID, Port: pv.info.Port, PID: pv.info.PID,
	}
	if reclaimReason != "" {
		evt.Type = history.EventReclaimed
		evt.Reason = reclaimReason
		metrics.IncReclaimed(reclaimReason)
	}
	o.record(evt)
	o.log.Info("preview stopped", "build", buildID, "port", pv.info.Port, "reason", reclaimReason)
	return true
}

// RestartPreview stops the build and starts it again with the project
// path it was last launched from.
func (o *Orchestrator) RestartPreview(ctx context.Context, buildID, userID string) (Info, error) {
	o.mu.Lock()
	pv, ok := o.previews[buildID]
	var req StartRequest
	if ok {
		req = StartRequest{
			BuildID:     buildID,
			ProjectPath: pv.info.ProjectPath,
			UserID:      userID,
			Mode:        pv.info.Mode,
		}
		if req.UserID == "" {
			req.UserID = pv.info.UserID
		}
	}
	o.mu.Unlock()
	if !ok {
		return Info{}, fmt.Errorf("%w: %s", ErrUnknownBuild, buildID)
	}

	o.StopPreview(buildID)
	if err := o.settle(ctx); err != nil {
		return Info{}, err
	}
	return o.StartPreview(ctx, req)
}

// ExtendTimeout re-arms the idle timer, keeping the preview alive while
// someone is watching it. Returns false when the build is not tracked.
func (o *Orchestrator) ExtendTimeout(buildID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	if _, ok := o.previews[buildID]; !ok {
		return false
	}
	o.armTimerLocked(buildID)
	return true
}

// CleanupAll stops every tracked build. Called on shutdown so no child
// outlives the orchestrator under a graceful exit.
func (o *Orchestrator) CleanupAll() {
	for _, b := range o.trackedBuilds() {
		o.StopPreview(b)
	}
	o.log.Info("all previews stopped")
}

// Close stops the health sweep and tears everything down.
func (o *Orchestrator) Close() {
	o.StopHealthSweep()
	o.CleanupAll()
}

// Status returns the tracked state of one build.
func (o *Orchestrator) Status(buildID string) (Info, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	pv, ok := o.previews[buildID]
	if !ok {
		return Info{}, false
	}
	return pv.info, true
}

// Statuses returns every tracked preview, ordered by build ID.
func (o *Orchestrator) Statuses() []Info {
	o.mu.Lock()
	out := make([]Info, 0, len(o.previews))
	for _, pv := range o.previews {
		out = append(out, pv.info)
	}
	o.mu.Unlock()
	sort.Slice(out, func(i, j int) bool { return out[i].BuildID < out[j].BuildID })
	return out
}

// BuildForUser returns the build currently registered to the user.
func (o *Orchestrator) BuildForUser(userID string) (string, bool) {
	b := o.buildForUser(userID)
	return b, b != ""
}

// PortsInfo reports allocator diagnostics.
func (o *Orchestrator) PortsInfo() ports.RangeInfo { return o.ports.Info() }

// AllocatedPorts returns a copy of the allocator's port table.
func (o *Orchestrator) AllocatedPorts() map[int]ports.Allocation { return o.ports.AllocatedPorts() }

func (o *Orchestrator) buildForUser(userID string) string {
	if userID == "" {
		return ""
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.userBuilds[userID]
}

func (o *Orchestrator) tracked(buildID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.previews[buildID]
	return ok
}

func (o *Orchestrator) trackedBuilds() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]string, 0, len(o.previews))
	for b := range o.previews {
		out = append(out, b)
	}
	sort.Strings(out)
	return out
}

// settle sleeps the fixed delay between a stop and the start that
// replaces it, honoring cancellation.
func (o *Orchestrator) settle(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(o.cfg.SettleDelay):
		return nil
	}
}

// armTimerLocked (re)arms the idle timer for a build. o.mu held.
func (o *Orchestrator) armTimerLocked(buildID string) {
	if t, ok := o.timers[buildID]; ok {
		t.Stop()
	}
	o.timers[buildID] = time.AfterFunc(o.cfg.IdleTimeout, func() {
		// The entry may be gone by the time the timer fires.
		if !o.tracked(buildID) {
			return
		}
		o.log.Info("idle timeout, reclaiming preview", "build", buildID)
		lock := o.lockFor(buildID)
		lock.Lock()
		o.stopLocked(buildID, history.ReasonIdle)
		lock.Unlock()
	})
}

// persist writes the snapshot. Persistence failures never abort the
// lifecycle operation that triggered them.
func (o *Orchestrator) persist() {
	o.mu.Lock()
	st := o.st
	entries := make(map[string]store.Entry, len(o.previews))
	for b, pv := range o.previews {
		entries[b] = store.Entry{
			BuildID:     pv.info.BuildID,
			Port:        pv.info.Port,
			PID:         pv.info.PID,
			URL:         pv.info.URL,
			ProjectPath: pv.info.ProjectPath,
			Status:      pv.info.Status,
			StartedAt:   pv.info.StartedAt,
		}
	}
	o.mu.Unlock()
	if st == nil {
		return
	}
	if err := st.SaveSnapshot(context.Background(), entries); err != nil {
		o.log.Warn("snapshot save failed", "err", err)
	}
}

// record fans the event out to every sink in order. Sends are
// synchronous so sinks observe transitions in lifecycle order, but each
// one is bounded so a stalled sink cannot hang a stop or start.
func (o *Orchestrator) record(evt history.Event) {
	o.mu.Lock()
	sinks := append([]history.Sink(nil), o.sinks...)
	o.mu.Unlock()
	for _, s := range sinks {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.Send(ctx, evt); err != nil {
			o.log.Warn("history sink send failed", "type", string(evt.Type), "err", err)
		}
		cancel()
	}
}

func (o *Orchestrator) syncGauges() {
	o.mu.Lock()
	running := len(o.previews)
	o.mu.Unlock()
	metrics.SetRunningPreviews(running)
	metrics.SetAllocatedPorts(o.ports.Info().Allocated)
}
