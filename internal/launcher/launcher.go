package launcher

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/loykin/previewd/internal/env"
	"github.com/loykin/previewd/internal/logger"
	"github.com/loykin/previewd/internal/metrics"
	"github.com/loykin/previewd/internal/proc"
	"github.com/loykin/previewd/internal/store"
)

// Mode selects how the preview server is brought up.
type Mode string

const (
	ModeDevelopment Mode = "development"
	ModeProduction  Mode = "production"
)

// MaxRetries caps full pipeline cycles per launch. Every retry re-runs
// preparation from scratch, cache purge included: a stale cache is a
// plausible cause of the previous failure, so nothing is reused.
const MaxRetries = 3

// Default budgets for the individual launch phases.
const (
	DefaultReadyTimeout   = 120 * time.Second
	DefaultInstallTimeout = 3 * time.Minute
	DefaultBuildTimeout   = 3 * time.Minute
	DefaultRetryDelay     = 2 * time.Second
)

// ErrLaunchTimeout marks a readiness wait that never saw an HTTP response.
var ErrLaunchTimeout = errors.New("preview server did not become ready")

// InstallError carries the tail of npm's stderr when dependency
// installation exits non-zero.
type InstallError struct {
	Stderr string
	Err    error
}

func (e *InstallError) Error() string {
	if e.Stderr != "" {
		return fmt.Sprintf("dependency install failed: %v: %s", e.Err, e.Stderr)
	}
	return fmt.Sprintf("dependency install failed: %v", e.Err)
}

func (e *InstallError) Unwrap() error { return e.Err }

// Config tunes the launcher. Zero values select the defaults above.
type Config struct {
	ReadyTimeout   time.Duration
	InstallTimeout time.Duration
	BuildTimeout   time.Duration
	RetryDelay     time.Duration
	PollInterval   time.Duration
	Limits         proc.Limits
	Env            map[string]string // global env overrides for every preview server
	Log            logger.Config     // child stdout/stderr destinations
	Logger         *slog.Logger
}

func (c *Config) applyDefaults() {
	if c.ReadyTimeout <= 0 {
		c.ReadyTimeout = DefaultReadyTimeout
	}
	if c.InstallTimeout <= 0 {
		c.InstallTimeout = DefaultInstallTimeout
	}
	if c.BuildTimeout <= 0 {
		c.BuildTimeout = DefaultBuildTimeout
	}
	if c.RetryDelay <= 0 {
		c.RetryDelay = DefaultRetryDelay
	}
	if c.PollInterval <= 0 {
		c.PollInterval = proc.DefaultPollInterval
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Request describes one build to bring up.
type Request struct {
	BuildID     string
	ProjectPath string
	Port        int
	Mode        Mode
	OnReady     func()
}

// Result is the terminal outcome of a launch: either a ready process or
// an error after the retry budget is spent.
type Result struct {
	Process    *proc.Process
	URL        string
	Status     string // store.StatusReady or store.StatusError
	RetryCount int
	Err        error
}

// Launcher runs the per-build startup pipeline:
// PREPARING -> LAUNCHING -> AWAITING_READY -> ready | retry | error.
type Launcher struct {
	cfg     Config
	environ *env.Env
}

func New(cfg Config) *Launcher {
	cfg.applyDefaults()
	return &Launcher{cfg: cfg, environ: env.FromMap(cfg.Env)}
}

// Launch drives the pipeline to a terminal state. The context cancels
// in-flight preparation, readiness waits and retry delays; a canceled
// launch returns a Result with Status error and the context's error.
func (l *Launcher) Launch(ctx context.Context, req Request) *Result {
	if req.Mode == "" {
		req.Mode = ModeDevelopment
	}
	url := fmt.Sprintf("http://localhost:%d", req.Port)
	log := l.cfg.Logger.With("build", req.BuildID, "port", req.Port, "mode", string(req.Mode))

	var lastErr error
	for attempt := 1; attempt <= MaxRetries; attempt++ {
		if err := ctx.Err(); err != nil {
			return &Result{URL: url, Status: store.StatusError, RetryCount: attempt - 1, Err: err}
		}
		log.Info("launch attempt", "attempt", attempt, "max", MaxRetries)

		p, err := l.tryOnce(ctx, req, url)
		if err == nil {
			log.Info("preview ready", "pid", p.PID(), "retries", attempt-1)
			return &Result{Process: p, URL: url, Status: store.StatusReady, RetryCount: attempt - 1}
		}
		lastErr = err
		metrics.IncRetry()
		log.Warn("launch attempt failed", "attempt", attempt, "err", err)

		if attempt < MaxRetries {
			select {
			case <-ctx.Done():
				return &Result{URL: url, Status: store.StatusError, RetryCount: attempt, Err: ctx.Err()}
			case <-time.After(l.cfg.RetryDelay):
			}
		}
	}
	metrics.IncLaunchFailure()
	log.Error("launch failed, retries exhausted", "retries", MaxRetries, "err", lastErr)
	return &Result{URL: url, Status: store.StatusError, RetryCount: MaxRetries, Err: lastErr}
}

// tryOnce runs a single full cycle. Any failure, in preparation or
// readiness, is reported identically to the caller's retry loop.
func (l *Launcher) tryOnce(ctx context.Context, req Request, url string) (*proc.Process, error) {
	if err := l.prepare(ctx, req); err != nil {
		return nil, err
	}

	if req.Mode == ModeProduction {
		if err := l.productionBuild(ctx, req); err != nil {
			return nil, err
		}
	}

	p, err := proc.Start(proc.Spec{
		Build:   req.BuildID,
		Command: serverCommand(req.Mode, req.Port),
		Dir:     req.ProjectPath,
		Environ: l.environ,
		Port:    req.Port,
		Limits:  l.cfg.Limits,
		Log:     l.cfg.Log,
		OnReady: req.OnReady,
	})
	if err != nil {
		return nil, fmt.Errorf("spawn preview server: %w", err)
	}

	if !proc.WaitForURL(ctx, url, l.cfg.ReadyTimeout, l.cfg.PollInterval) {
		// The just-spawned process is useless; kill it before the retry
		// re-runs the pipeline.
		_ = p.Kill()
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return nil, fmt.Errorf("%w after %s", ErrLaunchTimeout, l.cfg.ReadyTimeout)
	}
	p.MarkReady()
	return p, nil
}

// serverCommand picks dev-mode arguments by default; production mode
// starts the pre-built server instead.
func serverCommand(mode Mode, port int) string {
	if mode == ModeProduction {
		return fmt.Sprintf("npm run start -- -p %d", port)
	}
	return fmt.Sprintf("npm run dev -- -p %d", port)
}
