// Package apiserver binds toolsurface.Surface to HTTP, one route per
// tool, the way the teacher's api.Server binds process.Manager to HTTP
// (apps/backend/internal/agentctl/api/server.go): gin.Engine,
// validate-then-delegate handlers, JSON in and out.
//
// Spec §6 specifies a request/response per tool invocation without
// naming a transport; this package supplies the transport the teacher's
// stack reaches for, with one route per tool rather than the teacher's
// REST-resource routing (there is no resource here besides "a tool
// call").
package apiserver

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/irskep/persistproc/internal/apperr"
	"github.com/irskep/persistproc/internal/logging"
	"github.com/irskep/persistproc/internal/toolsurface"
)

// Server is the HTTP binding over a toolsurface.Surface.
type Server struct {
	surface   *toolsurface.Surface
	log       *logging.Logger
	router    *gin.Engine
	started   time.Time
	sessionID string
}

// NewServer builds a Server and registers its routes. sessionID
// identifies this server process across a single run, the way the
// teacher keys ProcessRunner.processes by a generated uuid; here there
// is only one server per process, so the id is carried for log
// correlation and surfaced on /health instead of used as a map key.
func NewServer(surface *toolsurface.Surface, log *logging.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	sessionID := uuid.New().String()
	s := &Server{
		surface:   surface,
		log:       log.WithFields(zap.String("component", "api-server"), zap.String("session_id", sessionID)),
		router:    gin.New(),
		started:   time.Now(),
		sessionID: sessionID,
	}
	s.setupRoutes()
	return s
}

// Router returns the HTTP handler for use by an http.Server.
func (s *Server) Router() http.Handler {
	return s.router
}

func (s *Server) setupRoutes() {
	s.router.Use(gin.Recovery())
	s.router.GET("/health", s.handleHealth)

	tools := s.router.Group("/tools")
	{
		tools.POST("/start", s.handleStart)
		tools.POST("/stop", s.handleStop)
		tools.POST("/restart", s.handleRestart)
		tools.GET("/list", s.handleList)
		tools.POST("/get_status", s.handleGetStatus)
		tools.POST("/get_output", s.handleGetOutput)
		tools.POST("/get_log_paths", s.handleGetLogPaths)
		tools.POST("/kill_persistproc", s.handleKillPersistproc)
	}
}

// HealthResponse is the SPEC_FULL.md-added liveness probe shape.
type HealthResponse struct {
	Status    string `json:"status"`
	Uptime    string `json:"uptime"`
	SessionID string `json:"session_id"`
}

func (s *Server) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "ok",
		Uptime:    time.Since(s.started).String(),
		SessionID: s.sessionID,
	})
}

func (s *Server) handleStart(c *gin.Context) {
	var args toolsurface.StartArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := s.surface.Start(args)
	s.respond(c, res, err)
}

func (s *Server) handleStop(c *gin.Context) {
	var args toolsurface.StopArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := s.surface.Stop(args)
	s.respond(c, res, err)
}

func (s *Server) handleRestart(c *gin.Context) {
	var args toolsurface.RestartArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := s.surface.Restart(args)
	s.respond(c, res, err)
}

func (s *Server) handleList(c *gin.Context) {
	c.JSON(http.StatusOK, s.surface.List())
}

func (s *Server) handleGetStatus(c *gin.Context) {
	var args toolsurface.GetStatusArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := s.surface.GetStatus(args)
	s.respond(c, res, err)
}

func (s *Server) handleGetOutput(c *gin.Context) {
	var args toolsurface.GetOutputArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := s.surface.GetOutput(args)
	s.respond(c, res, err)
}

func (s *Server) handleGetLogPaths(c *gin.Context) {
	var args toolsurface.GetLogPathsArgs
	if err := c.ShouldBindJSON(&args); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	res, err := s.surface.GetLogPaths(args)
	s.respond(c, res, err)
}

func (s *Server) handleKillPersistproc(c *gin.Context) {
	c.JSON(http.StatusOK, s.surface.KillPersistproc())
}

// respond writes result on success or the stable {"error", "kind"} shape
// with an HTTP status derived from the apperr.Kind on failure (spec §7).
// kind is carried in the body, not just the HTTP status, since several
// kinds share a status (the four bad-argument kinds all map to 400) and
// rpcclient needs the original kind back, not just its status bucket.
func (s *Server) respond(c *gin.Context, result interface{}, err error) {
	if err == nil {
		c.JSON(http.StatusOK, result)
		return
	}
	kind, _ := apperr.KindOf(err)
	s.log.Error("tool call failed", zap.String("kind", string(kind)), zap.Error(err))
	c.JSON(statusForKind(kind), gin.H{"error": err.Error(), "kind": string(kind)})
}

func statusForKind(kind apperr.Kind) int {
	switch kind {
	case apperr.NotFound:
		return http.StatusNotFound
	case apperr.Duplicate, apperr.Ambiguous, apperr.NotRunning:
		return http.StatusConflict
	case apperr.PermissionDenied:
		return http.StatusForbidden
	case apperr.BadWorkingDir, apperr.CommandNotFound, apperr.BadStream, apperr.BadTimestamp:
		return http.StatusBadRequest
	case apperr.Timeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
