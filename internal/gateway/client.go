package gateway

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/classcast/backend/internal/live"
	"github.com/classcast/backend/internal/models"
)

const (
	// PingInterval and PongWait are used for heartbeat.
	PingInterval = 30
	PongWait     = 60
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// WSMessage is the WebSocket message envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// TokenValidator authenticates a gateway token and returns the caller's
// identity and role.
type TokenValidator func(token string) (viewerID uuid.UUID, role models.Role, err error)

// Client is a single WebSocket connection bound to one session viewer.
// ConnID identifies this particular connection so that teardown after a
// reconnect cannot remove the viewer's replacement entry.
type Client struct {
	SessionID uuid.UUID
	ViewerID  uuid.UUID
	ConnID    uuid.UUID
	Role      models.Role
	manager   *live.Manager
	conn      *websocket.Conn
	events    <-chan live.Event
	backfill  []models.ChatMessage
	replies   chan WSMessage // gateway-level errors back to this connection
	logger    *zap.Logger
}

// ServeWs handles the WebSocket upgrade, joins the viewer to the session
// and runs the connection loops.
func ServeWs(manager *live.Manager, logger *zap.Logger, validate TokenValidator) gin.HandlerFunc {
	return func(c *gin.Context) {
		sessionIDStr := c.Query("session_id")
		token := c.Query("token")
		if sessionIDStr == "" || token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "session_id and token required"})
			return
		}
		sessionID, err := uuid.Parse(sessionIDStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid session_id"})
			return
		}
		viewerID, role, err := validate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}

		result, err := manager.HandleJoin(c.Request.Context(), sessionID, viewerID, role)
		if err != nil {
			if errors.Is(err, live.ErrSessionNotLive) {
				c.JSON(http.StatusConflict, gin.H{"error": "session is not live"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "join failed"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			_ = manager.HandleLeave(c.Request.Context(), sessionID, viewerID, result.Viewer.ConnID)
			return
		}

		client := &Client{
			SessionID: sessionID,
			ViewerID:  viewerID,
			ConnID:    result.Viewer.ConnID,
			Role:      role,
			manager:   manager,
			conn:      conn,
			events:    result.Events,
			backfill:  result.Backfill,
			replies:   make(chan WSMessage, 8),
			logger:    logger,
		}
		go client.writePump()
		client.readPump()
	}
}

// messagePayload is the inbound body for "message" events.
type messagePayload struct {
	Body string `json:"body"`
}

// reactionPayload is the inbound body for "reaction" events.
type reactionPayload struct {
	Emoji string `json:"emoji"`
}

func (c *Client) readPump() {
	defer func() {
		ctx, cancel := contextWithTimeout()
		defer cancel()
		_ = c.manager.HandleLeave(ctx, c.SessionID, c.ViewerID, c.ConnID)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(65536)
	_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	c.conn.SetPongHandler(func(string) error {
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		ctx, cancel := contextWithTimeout()
		defer cancel()
		_ = c.manager.HandleHeartbeat(ctx, c.SessionID, c.ViewerID)
		return nil
	})

	for {
		var msg WSMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}
		_ = c.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		ctx, cancel := contextWithTimeout()
		switch msg.Event {
		case "message":
			var payload messagePayload
			if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.Body == "" {
				c.reply("error", gin.H{"error": "invalid message payload"})
				cancel()
				continue
			}
			if _, err := c.manager.HandleMessage(ctx, c.SessionID, c.ViewerID, payload.Body); err != nil {
				// verdict outcomes reach the sender as events; only
				// transport-level failures surface here
				c.logger.Debug("message not handled",
					zap.String("session_id", c.SessionID.String()), zap.Error(err))
			}
		case "reaction":
			var payload reactionPayload
			if err := json.Unmarshal(msg.Data, &payload); err != nil || payload.Emoji == "" {
				c.reply("error", gin.H{"error": "invalid reaction payload"})
				cancel()
				continue
			}
			if err := c.manager.HandleReaction(ctx, c.SessionID, c.ViewerID, payload.Emoji); err != nil {
				if errors.Is(err, live.ErrInvalidReaction) {
					c.reply("error", gin.H{"error": "invalid reaction emoji"})
				}
			}
		case "leave":
			cancel()
			return
		default:
			// ignore
		}
		cancel()
	}
}

func (c *Client) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	// late-joiner backfill goes out before any live event
	for _, m := range c.backfill {
		if !c.writeEvent(live.MessageEvent{Message: m}) {
			return
		}
	}
	c.backfill = nil

	for {
		select {
		case ev, ok := <-c.events:
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if !c.writeEvent(ev) {
				return
			}
		case msg := <-c.replies:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) writeEvent(ev live.Event) bool {
	data, err := json.Marshal(ev)
	if err != nil {
		return true
	}
	_ = c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(WSMessage{Event: ev.EventName(), Data: data}) == nil
}

func (c *Client) reply(event string, payload interface{}) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	select {
	case c.replies <- WSMessage{Event: event, Data: data}:
	default:
	}
}

// contextWithTimeout bounds one engine operation issued from the read loop.
func contextWithTimeout() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
