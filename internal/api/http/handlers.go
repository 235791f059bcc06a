package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/nocodo/nocodo/backend/internal/domain/tools"
	"github.com/nocodo/nocodo/backend/internal/infrastructure/monitoring"
	"github.com/nocodo/nocodo/backend/internal/providers/bash"
	"github.com/nocodo/nocodo/backend/internal/providers/terminal"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// Handlers contains all HTTP handlers
type Handlers struct {
	sessions *terminal.Manager
	executor *bash.Executor
	tools    *tools.Registry
	metrics  *monitoring.Metrics
	gatherer prometheus.Gatherer
	logger   *zap.Logger
}

// Deps are the collaborators the handlers serve.
type Deps struct {
	Sessions *terminal.Manager
	Executor *bash.Executor
	Tools    *tools.Registry
	Metrics  *monitoring.Metrics
	Gatherer prometheus.Gatherer
	Logger   *zap.Logger
}

// NewHandlers creates a new handler set
func NewHandlers(d Deps) *Handlers {
	h := &Handlers{
		sessions: d.Sessions,
		executor: d.Executor,
		tools:    d.Tools,
		metrics:  d.Metrics,
		gatherer: d.Gatherer,
		logger:   d.Logger,
	}
	if h.logger == nil {
		h.logger = zap.NewNop()
	}
	if h.gatherer == nil {
		h.gatherer = prometheus.DefaultGatherer
	}
	return h
}

// Register mounts every route on r.
func (h *Handlers) Register(r gin.IRouter) {
	r.GET("/health", h.Health)
	r.GET("/metrics", gin.WrapH(promhttp.HandlerFor(h.gatherer, promhttp.HandlerOpts{})))
	r.GET("/tools", h.ListTools)
	r.POST("/exec", h.Exec)

	sessions := r.Group("/sessions")
	sessions.POST("", h.CreateSession)
	sessions.GET("", h.ListSessions)
	sessions.GET("/:id", h.GetSession)
	sessions.POST("/:id/input", h.SessionInput)
	sessions.POST("/:id/resize", h.ResizeSession)
	sessions.POST("/:id/terminate", h.TerminateSession)
	sessions.GET("/:id/transcript", h.SessionTranscript)
}

// Health reports liveness with a few counters.
func (h *Handlers) Health(c *gin.Context) {
	running := 0
	for _, s := range h.sessions.List() {
		if !s.Status.Finished() {
			running++
		}
	}
	c.JSON(http.StatusOK, gin.H{
		"status":           "healthy",
		"service":          "nocodo",
		"running_sessions": running,
		"tools":            h.tools.Len(),
		"metrics":          h.metrics.Snapshot(),
	})
}

// ListTools returns registered tool names. Commands are not exposed.
func (h *Handlers) ListTools(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"tools":       h.tools.Names(),
		"interactive": h.tools.Interactive(),
	})
}
