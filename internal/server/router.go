package server

import (
	"errors"
	"net/http"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/loykin/previewd/internal/config"
	"github.com/loykin/previewd/internal/launcher"
	"github.com/loykin/previewd/internal/orchestrator"
	previewtls "github.com/loykin/previewd/internal/tls"
)

// Router provides embeddable HTTP handlers for the preview lifecycle.
// Endpoints:
//   POST {basePath}/previews/start    body: startRequest JSON
//   POST {basePath}/previews/stop     query: build=...
//   POST {basePath}/previews/restart  query: build=...&user=...
//   POST {basePath}/previews/extend   query: build=...
//   GET  {basePath}/previews/status   query: build=... (single) or none (all)
//   GET  {basePath}/ports             allocator diagnostics
//   POST {basePath}/debug/healthcheck trigger a sweep out of schedule
// basePath may be empty or start with '/'; no trailing slash.

type Router struct {
	orch      *orchestrator.Orchestrator
	basePath  string
	workspace string
}

// NewRouter constructs a Router. workspace, when non-empty, lets start
// requests omit projectPath and address projects as workspace/buildId.
func NewRouter(orch *orchestrator.Orchestrator, basePath, workspace string) *Router {
	return &Router{orch: orch, basePath: sanitizeBase(basePath), workspace: workspace}
}

// Handler returns an http.Handler powered by gin that can be mounted in
// any server/mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.POST("/previews/start", r.handleStart)
	group.POST("/previews/stop", r.handleStop)
	group.POST("/previews/restart", r.handleRestart)
	group.POST("/previews/extend", r.handleExtend)
	group.GET("/previews/status", r.handleStatus)
	group.GET("/ports", r.handlePorts)
	group.POST("/debug/healthcheck", r.handleDebugHealthCheck)
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr, basePath, workspace string, orch *orchestrator.Orchestrator) (*http.Server, error) {
	r := NewRouter(orch, basePath, workspace)
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		// Start requests sit through install + launch + retries.
		WriteTimeout: 15 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server, nil
}

// NewTLSServer starts a standalone HTTPS server configured from scfg.
// Certificates come from config; with auto_generate a self-signed pair
// is created under the configured directory.
func NewTLSServer(scfg config.ServerConfig, workspace string, orch *orchestrator.Orchestrator) (*http.Server, error) {
	tlsConf, err := previewtls.Setup(scfg)
	if err != nil {
		return nil, err
	}
	if tlsConf == nil {
		return nil, errors.New("tls not enabled in server config")
	}
	r := NewRouter(orch, scfg.BasePath, workspace)
	server := &http.Server{
		Addr:              scfg.Listen,
		Handler:           r.Handler(),
		TLSConfig:         tlsConf,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Minute,
		IdleTimeout:       60 * time.Second,
	}
	// Cert/key paths come from TLSConfig.GetCertificate.
	go func() { _ = server.ListenAndServeTLS("", "") }()
	return server, nil
}

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

type startRequest struct {
	BuildID     string `json:"buildId"`
	ProjectPath string `json:"projectPath"`
	UserID      string `json:"userId"`
	Mode        string `json:"mode"`
}

func (r *Router) handleStart(c *gin.Context) {
	var req startRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if !isSafeName(req.BuildID) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid buildId: allowed [A-Za-z0-9._-] and no '..' or path separators"})
		return
	}
	if req.UserID != "" && !isSafeName(req.UserID) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid userId"})
		return
	}
	path := req.ProjectPath
	if path == "" {
		if r.workspace == "" {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "projectPath required (no workspace configured)"})
			return
		}
		path = filepath.Join(r.workspace, req.BuildID)
	} else if !isSafeAbsPath(path) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid projectPath: must be absolute path without traversal"})
		return
	}
	mode := launcher.Mode(req.Mode)
	switch mode {
	case "", launcher.ModeDevelopment, launcher.ModeProduction:
	default:
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid mode: development or production"})
		return
	}

	info, err := r.orch.StartPreview(c.Request.Context(), orchestrator.StartRequest{
		BuildID:     req.BuildID,
		ProjectPath: path,
		UserID:      req.UserID,
		Mode:        mode,
	})
	if err != nil {
		writeJSON(c, startErrorCode(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, info)
}

func startErrorCode(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrPathNotFound):
		return http.StatusNotFound
	case errors.Is(err, orchestrator.ErrAlreadyStarting):
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func (r *Router) handleStop(c *gin.Context) {
	build := c.Query("build")
	if !isSafeName(build) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "build query param required"})
		return
	}
	stopped := r.orch.StopPreview(build)
	writeJSON(c, http.StatusOK, gin.H{"ok": true, "stopped": stopped})
}

func (r *Router) handleRestart(c *gin.Context) {
	build := c.Query("build")
	if !isSafeName(build) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "build query param required"})
		return
	}
	user := c.Query("user")
	if user != "" && !isSafeName(user) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid user"})
		return
	}
	info, err := r.orch.RestartPreview(c.Request.Context(), build, user)
	if err != nil {
		code := http.StatusBadGateway
		if errors.Is(err, orchestrator.ErrUnknownBuild) {
			code = http.StatusNotFound
		}
		writeJSON(c, code, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, info)
}

func (r *Router) handleExtend(c *gin.Context) {
	build := c.Query("build")
	if !isSafeName(build) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "build query param required"})
		return
	}
	if !r.orch.ExtendTimeout(build) {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown build: " + build})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStatus(c *gin.Context) {
	build := c.Query("build")
	if build == "" {
		writeJSON(c, http.StatusOK, r.orch.Statuses())
		return
	}
	if !isSafeName(build) {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid build"})
		return
	}
	info, ok := r.orch.Status(build)
	if !ok {
		writeJSON(c, http.StatusNotFound, errorResp{Error: "unknown build: " + build})
		return
	}
	writeJSON(c, http.StatusOK, info)
}

func (r *Router) handlePorts(c *gin.Context) {
	writeJSON(c, http.StatusOK, gin.H{
		"range":     r.orch.PortsInfo(),
		"allocated": r.orch.AllocatedPorts(),
	})
}

func (r *Router) handleDebugHealthCheck(c *gin.Context) {
	r.orch.HealthCheckAll()
	writeJSON(c, http.StatusOK, okResp{OK: true})
}
