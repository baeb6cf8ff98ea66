package ws

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GriffinCanCode/injectcore/internal/app"
	"github.com/GriffinCanCode/injectcore/internal/diagnostics"
	"github.com/GriffinCanCode/injectcore/internal/infrastructure/monitoring"
	"github.com/GriffinCanCode/injectcore/internal/logging"
)

const (
	writeWait       = 10 * time.Second
	navigateTimeout = 30 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // CORS is enforced by the router middleware
	},
}

// Message is a client request
type Message struct {
	Type     string                 `json:"type"`
	Level    diagnostics.Level      `json:"level,omitempty"`
	Entry    string                 `json:"entry_type,omitempty"`
	Navigate *app.NavigationRequest `json:"navigate,omitempty"`
}

// Handler manages WebSocket connections
type Handler struct {
	manager *app.Manager
	metrics *monitoring.Metrics
	logger  *zap.Logger
}

// NewHandler creates a new WebSocket handler
func NewHandler(manager *app.Manager, metrics *monitoring.Metrics, logger *zap.Logger) *Handler {
	return &Handler{
		manager: manager,
		metrics: metrics,
		logger:  logging.OrNop(logger).Named("ws"),
	}
}

// conn serializes writes to one socket and holds its stream filter
type conn struct {
	ws *websocket.Conn

	mu     sync.Mutex
	filter diagnostics.Filter
}

func (c *conn) send(data any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(data)
}

func (c *conn) setFilter(f diagnostics.Filter) {
	c.mu.Lock()
	c.filter = f
	c.mu.Unlock()
}

func (c *conn) wants(e diagnostics.Entry) bool {
	c.mu.Lock()
	f := c.filter
	c.mu.Unlock()
	return f.Accepts(e)
}

// HandleConnection handles WebSocket upgrade and messages
func (h *Handler) HandleConnection(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	defer ws.Close()

	h.metrics.IncWSConnections()
	defer h.metrics.DecWSConnections()

	ctx, cancel := context.WithCancel(c.Request.Context())
	defer cancel()

	cn := &conn{ws: ws}
	entries, unsubscribe := h.manager.Diagnostics().Subscribe()
	defer unsubscribe()

	_ = cn.send(gin.H{"type": "system", "message": "connected to injectcore diagnostics"})

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case e, ok := <-entries:
				if !ok {
					return
				}
				if !cn.wants(e) {
					continue
				}
				if err := cn.send(gin.H{"type": "diagnostic", "entry": e}); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	for {
		var msg Message
		if err := ws.ReadJSON(&msg); err != nil {
			if !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				h.logger.Debug("websocket read error", zap.Error(err))
			}
			return
		}

		switch msg.Type {
		case "ping":
			_ = cn.send(gin.H{"type": "pong"})
		case "filter":
			cn.setFilter(diagnostics.Filter{Level: msg.Level, Type: msg.Entry})
		case "navigate":
			h.handleNavigate(ctx, cn, msg)
		default:
			_ = cn.send(errorMessage("unknown message type"))
		}
	}
}

func (h *Handler) handleNavigate(ctx context.Context, cn *conn, msg Message) {
	if msg.Navigate == nil || msg.Navigate.URL == "" {
		_ = cn.send(errorMessage("navigate requires a url"))
		return
	}
	ctx, cancel := context.WithTimeout(ctx, navigateTimeout)
	defer cancel()

	run, err := h.manager.Navigate(ctx, *msg.Navigate)
	if err != nil {
		_ = cn.send(errorMessage(err.Error()))
		return
	}
	_ = cn.send(gin.H{"type": "report", "report": run.Report()})
}

func errorMessage(msg string) gin.H {
	return gin.H{"type": "error", "message": msg}
}

