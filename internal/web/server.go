package web

import (
	"fmt"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/lucasnoah/stagecoach/internal/checkpoint"
	"github.com/lucasnoah/stagecoach/internal/db"
	"github.com/lucasnoah/stagecoach/internal/engine"
	"github.com/lucasnoah/stagecoach/internal/monitor"
)

// Server exposes the orchestrator's HTTP API.
type Server struct {
	engine    *engine.Engine
	manager   *checkpoint.Manager
	sequences *checkpoint.SequenceRunner
	monitor   *monitor.Monitor
	database  *db.DB // optional; event history returns 503 without it
	port      int
	router    *gin.Engine
}

// Opts wires a Server.
type Opts struct {
	Engine    *engine.Engine
	Manager   *checkpoint.Manager
	Sequences *checkpoint.SequenceRunner
	Monitor   *monitor.Monitor
	Database  *db.DB
	Port      int
}

// NewServer builds the server and registers all routes.
func NewServer(opts Opts) *Server {
	gin.SetMode(gin.ReleaseMode)
	s := &Server{
		engine:    opts.Engine,
		manager:   opts.Manager,
		sequences: opts.Sequences,
		monitor:   opts.Monitor,
		database:  opts.Database,
		port:      opts.Port,
		router:    gin.New(),
	}
	s.router.Use(gin.Recovery())
	s.routes()
	return s
}

func (s *Server) routes() {
	s.router.GET("/health", s.handleHealth)

	flows := s.router.Group("/flows")
	{
		flows.POST("/execute", s.handleExecute)
		flows.GET("/status/:id", s.handleFlowStatus)
		flows.GET("/active", s.handleActiveFlows)
		flows.POST("/resume/:id", s.handleResume)
		flows.GET("/events/:id", s.handleFlowEvents)
		flows.DELETE("/:id", s.handleEvict)
	}

	cps := s.router.Group("/checkpoints")
	{
		cps.POST("/create", s.handleCheckpointCreate)
		cps.GET("/status/:id", s.handleCheckpointStatus)
		cps.POST("/:id/intervene", s.handleIntervene)
		cps.GET("/history/:id", s.handleCheckpointHistory)
		cps.GET("/active", s.handleCheckpointActive)
		cps.POST("/sequence/start", s.handleSequenceStart)
		cps.GET("/sequence/status/:id", s.handleSequenceStatus)
	}

	mon := s.router.Group("/monitoring")
	{
		mon.GET("/agents/performance", s.handlePerformance)
		mon.GET("/agents/circuit-breaker", s.handleCircuitBreakers)
	}
}

// Router returns the underlying handler, mainly for tests.
func (s *Server) Router() http.Handler {
	return s.router
}

// Start begins listening and blocks.
func (s *Server) Start() error {
	addr := fmt.Sprintf(":%d", s.port)
	log.Printf("stagecoach API listening on %s", addr)
	return s.router.Run(addr)
}
