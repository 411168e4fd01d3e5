package handlers

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/anonto42/instaverse/backend/internal/notifier"
	"github.com/coder/websocket"
	"github.com/labstack/echo/v4"
)

// StreamRegistry tracks the live stream of each user.
type StreamRegistry interface {
	Register(ctx context.Context, userID string, conn notifier.Conn) notifier.FlushResult
	Unregister(userID string, conn notifier.Conn) bool
}

// StreamHandler upgrades clients to WebSocket and keeps them registered for
// live notifications until either side closes.
type StreamHandler struct {
	registry       StreamRegistry
	originPatterns []string
	pingInterval   time.Duration
	logger         *slog.Logger
}

// NewStreamHandler creates a new StreamHandler
func NewStreamHandler(registry StreamRegistry, originPatterns []string, pingInterval time.Duration, logger *slog.Logger) *StreamHandler {
	if pingInterval <= 0 {
		pingInterval = 30 * time.Second
	}
	return &StreamHandler{
		registry:       registry,
		originPatterns: originPatterns,
		pingInterval:   pingInterval,
		logger:         logger,
	}
}

// RegisterStreamRoutes registers the stream endpoint. The root path is kept
// for clients that connect to ws://host:port/?userId=...
func (h *StreamHandler) RegisterStreamRoutes(e *echo.Echo) {
	e.GET("/", h.Stream)
	e.GET("/ws", h.Stream)
}

// Stream serves one client connection identified by the userId query parameter.
func (h *StreamHandler) Stream(c echo.Context) error {
	userID := strings.TrimSpace(c.QueryParam("userId"))
	if userID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "userId query parameter is required")
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), &websocket.AcceptOptions{
		OriginPatterns: h.originPatterns,
	})
	if err != nil {
		// Accept has already written the error response
		h.logger.Warn("websocket upgrade failed", slog.String("user_id", userID), slog.Any("error", err))
		return nil
	}
	defer conn.CloseNow()

	// clients only listen; CloseRead answers pings and notices the close
	ctx := conn.CloseRead(c.Request().Context())

	stream := &wsConn{conn: conn}
	res := h.registry.Register(ctx, userID, stream)
	if res.Dropped > 0 {
		h.logger.Warn("stream lost part of its backlog", slog.String("user_id", userID), slog.Int("dropped", res.Dropped))
	}
	defer h.registry.Unregister(userID, stream)

	ticker := time.NewTicker(h.pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, h.pingInterval/2)
			err := conn.Ping(pingCtx)
			cancel()
			if err != nil {
				h.logger.Info("stream ping failed, closing", slog.String("user_id", userID), slog.Any("error", err))
				conn.Close(websocket.StatusGoingAway, "ping timeout")
				return nil
			}
		}
	}
}

// wsConn adapts a WebSocket to notifier.Conn; each payload is one text frame.
type wsConn struct {
	conn *websocket.Conn
}

func (w *wsConn) Write(ctx context.Context, payload []byte) error {
	return w.conn.Write(ctx, websocket.MessageText, payload)
}
