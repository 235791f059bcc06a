package ws

import (
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/nocodo/nocodo/backend/internal/infrastructure/monitoring"
	"github.com/nocodo/nocodo/backend/internal/providers/terminal"
	"go.uber.org/zap"
)

// Config tunes connection keepalive and limits.
type Config struct {
	WriteTimeout   time.Duration
	PongTimeout    time.Duration
	PingInterval   time.Duration
	MaxMessageSize int64
	ControlQueue   int
	// CloseWait bounds how long a closing connection waits for the peer's
	// close frame.
	CloseWait time.Duration
}

// DefaultConfig returns the stock settings.
func DefaultConfig() Config {
	return Config{
		WriteTimeout:   10 * time.Second,
		PongTimeout:    60 * time.Second,
		PingInterval:   54 * time.Second,
		MaxMessageSize: 64 * 1024,
		ControlQueue:   64,
		CloseWait:      time.Second,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = def.WriteTimeout
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = def.PongTimeout
	}
	if c.PingInterval <= 0 || c.PingInterval >= c.PongTimeout {
		c.PingInterval = c.PongTimeout * 9 / 10
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = def.MaxMessageSize
	}
	if c.ControlQueue <= 0 {
		c.ControlQueue = def.ControlQueue
	}
	if c.CloseWait <= 0 {
		c.CloseWait = def.CloseWait
	}
	return c
}

// Gateway serves terminal WebSocket connections.
type Gateway struct {
	sessions *terminal.Manager
	cfg      Config
	logger   *zap.Logger
	metrics  *monitoring.Metrics
	upgrader websocket.Upgrader
}

// Option configures a Gateway.
type Option func(*Gateway)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(g *Gateway) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithMetrics enables instrumentation.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(g *Gateway) { g.metrics = m }
}

// NewGateway creates a gateway over sessions.
func NewGateway(sessions *terminal.Manager, cfg Config, opts ...Option) *Gateway {
	g := &Gateway{
		sessions: sessions,
		cfg:      cfg.withDefaults(),
		logger:   zap.NewNop(),
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 32 * 1024,
			// Origin policy is left to the CORS layer in front of the router.
			CheckOrigin: func(*http.Request) bool { return true },
		},
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// HandleSession upgrades GET /ws/sessions/:id.
func (g *Gateway) HandleSession(c *gin.Context) {
	sessionID := c.Param("id")

	sub, err := g.sessions.Subscribe(sessionID)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, terminal.ErrSessionNotFound) {
			status = http.StatusNotFound
		}
		c.JSON(status, gin.H{"error": err.Error()})
		return
	}
	info, err := g.sessions.Get(c.Request.Context(), sessionID)
	if err != nil {
		g.sessions.Unsubscribe(sub)
		c.JSON(http.StatusNotFound, gin.H{"error": err.Error()})
		return
	}

	conn, err := g.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		g.sessions.Unsubscribe(sub)
		g.logger.Warn("WebSocket upgrade failed",
			zap.String("session_id", sessionID),
			zap.Error(err))
		return
	}

	g.metrics.IncWSConnections()
	defer g.metrics.DecWSConnections()

	g.logger.Info("Viewer attached",
		zap.String("session_id", sessionID),
		zap.String("subscription", sub.ID),
		zap.String("remote", c.ClientIP()))

	newConnection(g, conn, sub).serve(ServerMessage{
		Type:      TypeAttached,
		SessionID: info.ID,
		Status:    string(info.Status),
		Cols:      info.Cols,
		Rows:      info.Rows,
		Truncated: sub.Truncated,
	})

	g.logger.Info("Viewer detached",
		zap.String("session_id", sessionID),
		zap.String("subscription", sub.ID),
		zap.Bool("dropped", sub.Dropped()))
}
