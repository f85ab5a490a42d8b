package server

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/minewarden/minewarden/internal/backup"
	"github.com/minewarden/minewarden/internal/history"
	"github.com/minewarden/minewarden/internal/metrics"
	"github.com/minewarden/minewarden/internal/proc"
	"github.com/minewarden/minewarden/internal/restart"
	"github.com/minewarden/minewarden/internal/watchdog"
)

// Router provides the embeddable HTTP control surface for one supervised
// server.
// Endpoints:
//
//	GET  {basePath}/status        watchdog snapshot
//	POST {basePath}/start         launch and monitor
//	POST {basePath}/stop          query: wait=5s (optional)
//	POST {basePath}/restart       forced operator restart
//	POST {basePath}/reset         clear the restart budget
//	POST {basePath}/command       body: {"command":"..."}
//	POST {basePath}/backup        query: reason=manual (optional)
//	GET  {basePath}/backups       list snapshots
//	GET  {basePath}/history       query: limit=50 (optional)
//	GET  {basePath}/metrics       Prometheus exposition
//	GET  {basePath}/healthz
//
// basePath may be empty or start with '/'; no trailing slash.
type Router struct {
	wd       *watchdog.Watchdog
	server   string
	backups  *backup.Manager // nil when backups are not configured
	hist     HistoryReader   // nil when the sink cannot be queried
	basePath string
}

// HistoryReader is the queryable side of a history sink.
type HistoryReader interface {
	Recent(ctx context.Context, server string, limit int) ([]history.Event, error)
}

// NewRouter constructs a Router with a configurable basePath.
func NewRouter(wd *watchdog.Watchdog, server, basePath string) *Router {
	return &Router{wd: wd, server: server, basePath: sanitizeBase(basePath)}
}

// SetBackups wires the snapshot manager for /backup and /backups.
func (r *Router) SetBackups(m *backup.Manager) { r.backups = m }

// SetHistory wires the queryable history store for /history.
func (r *Router) SetHistory(h HistoryReader) { r.hist = h }

// Handler returns an http.Handler powered by gin that can be mounted in any mux.
func (r *Router) Handler() http.Handler {
	g := gin.New()
	g.Use(gin.Recovery())
	group := g.Group(r.basePath)
	group.GET("/status", r.handleStatus)
	group.POST("/start", r.handleStart)
	group.POST("/stop", r.handleStop)
	group.POST("/restart", r.handleRestart)
	group.POST("/reset", r.handleReset)
	group.POST("/command", r.handleCommand)
	group.POST("/backup", r.handleBackup)
	group.GET("/backups", r.handleBackups)
	group.GET("/history", r.handleHistory)
	group.GET("/metrics", gin.WrapH(metrics.Handler()))
	group.GET("/healthz", func(c *gin.Context) { writeJSON(c, http.StatusOK, okResp{OK: true}) })
	return g
}

// NewServer starts a standalone HTTP server on addr using this router.
func NewServer(addr string, r *Router) *http.Server {
	server := &http.Server{
		Addr:              addr,
		Handler:           r.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      15 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	go func() { _ = server.ListenAndServe() }()
	return server
}

// --- Handlers ---

type errorResp struct {
	Error string `json:"error"`
}

type okResp struct {
	OK bool `json:"ok"`
}

func (r *Router) handleStatus(c *gin.Context) {
	writeJSON(c, http.StatusOK, r.wd.Snapshot())
}

func (r *Router) handleStart(c *gin.Context) {
	if err := r.wd.Start(); err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleStop(c *gin.Context) {
	wait := time.Duration(0)
	if s := c.Query("wait"); s != "" {
		d, err := time.ParseDuration(s)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid wait: " + err.Error()})
			return
		}
		wait = d
	}
	if err := r.wd.Stop(wait); err != nil && !errors.Is(err, proc.ErrStopTimedOut) {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleRestart(c *gin.Context) {
	if err := r.wd.Restart(); err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleReset(c *gin.Context) {
	if err := r.wd.Reset(); err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

type commandReq struct {
	Command string `json:"command"`
}

func (r *Router) handleCommand(c *gin.Context) {
	var req commandReq
	if err := c.ShouldBindJSON(&req); err != nil {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid JSON: " + err.Error()})
		return
	}
	if req.Command == "" {
		writeJSON(c, http.StatusBadRequest, errorResp{Error: "command required"})
		return
	}
	if err := r.wd.SendCommand(req.Command); err != nil {
		writeJSON(c, statusFor(err), errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, okResp{OK: true})
}

func (r *Router) handleBackup(c *gin.Context) {
	if r.backups == nil {
		writeJSON(c, http.StatusNotImplemented, errorResp{Error: "backups not configured"})
		return
	}
	reason := c.DefaultQuery("reason", "manual")
	snap, err := r.backups.CreateSnapshot(c.Request.Context(), reason)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, snap)
}

func (r *Router) handleBackups(c *gin.Context) {
	if r.backups == nil {
		writeJSON(c, http.StatusNotImplemented, errorResp{Error: "backups not configured"})
		return
	}
	snaps, err := r.backups.List()
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, snaps)
}

func (r *Router) handleHistory(c *gin.Context) {
	if r.hist == nil {
		writeJSON(c, http.StatusNotImplemented, errorResp{Error: "history store not configured"})
		return
	}
	limit := 50
	if s := c.Query("limit"); s != "" {
		n, err := parsePositiveInt(s)
		if err != nil {
			writeJSON(c, http.StatusBadRequest, errorResp{Error: "invalid limit: " + err.Error()})
			return
		}
		limit = n
	}
	events, err := r.hist.Recent(c.Request.Context(), r.server, limit)
	if err != nil {
		writeJSON(c, http.StatusInternalServerError, errorResp{Error: err.Error()})
		return
	}
	writeJSON(c, http.StatusOK, events)
}

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, proc.ErrAlreadyRunning), errors.Is(err, proc.ErrNotRunning):
		return http.StatusConflict
	case errors.Is(err, proc.ErrLockUnavailable):
		return http.StatusConflict
	case errors.Is(err, restart.ErrLimitExceeded):
		return http.StatusTooManyRequests
	default:
		return http.StatusBadRequest
	}
}
