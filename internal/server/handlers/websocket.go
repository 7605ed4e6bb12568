// internal/server/handlers/websocket.go

package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"nearchat/internal/domain/geo"
	"nearchat/internal/domain/message"
	"nearchat/internal/domain/session"
	"nearchat/internal/service/nearby"
)

// ControllerFactory builds a nearby controller for one connection's session.
type ControllerFactory func(sess session.Session) *nearby.Controller

// WebSocketConfig contains configuration for WebSocket connections
type WebSocketConfig struct {
	// Time allowed to write a message to the peer
	WriteWait time.Duration

	// Time allowed to read the next pong message from the peer
	PongWait time.Duration

	// Send pings to peer with this period
	PingPeriod time.Duration

	// Maximum message size allowed from peer
	MaxMessageSize int64
}

// DefaultWebSocketConfig returns the default WebSocket configuration
func DefaultWebSocketConfig() WebSocketConfig {
	return WebSocketConfig{
		WriteWait:      10 * time.Second,
		PongWait:       60 * time.Second,
		PingPeriod:     (60 * time.Second * 9) / 10,
		MaxMessageSize: 64 * 1024,
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		// In production, this should be more restrictive
		return true
	},
}

// inboundFrame is the closed set of client frames.
type inboundFrame struct {
	Type      string  `json:"type"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
	Text      string  `json:"text"`
}

// wsMessage is the rendered form of a GeoMessage sent to clients.
type wsMessage struct {
	ID         string    `json:"id"`
	SenderID   string    `json:"sender_id"`
	SenderName string    `json:"sender_name"`
	Kind       string    `json:"kind"`
	Display    string    `json:"display"`
	Timestamp  int64     `json:"timestamp"`
	Location   geo.Point `json:"location"`
	AvatarURL  string    `json:"avatar_url,omitempty"`
}

// renderMessage formats a message for display. The kind switch is
// exhaustive over the closed set; unknown kinds from newer writers degrade
// to their raw text.
func renderMessage(m message.GeoMessage) wsMessage {
	out := wsMessage{
		ID:         m.ID,
		SenderID:   m.SenderID,
		SenderName: m.SenderName,
		Kind:       string(m.Kind),
		Timestamp:  m.Timestamp,
		Location:   m.Location,
		AvatarURL:  m.AvatarURL,
	}

	switch m.Kind {
	case message.KindText:
		out.Display = m.Text
	case message.KindSystem:
		out.Display = "* " + m.Text
		out.SenderName = "system"
	default:
		out.Display = m.Text
	}

	return out
}

// wsClient represents one connected viewer. The controller's lifetime is
// bound to the connection, mirroring how the mobile client binds its
// subscription to view visibility.
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	ctrl *nearby.Controller
	log  *zap.SugaredLogger

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

// NearbyWebSocketHandler handles WebSocket connections for the live nearby
// feed. Clients push location and message frames; the server pushes nearby
// snapshots.
func NearbyWebSocketHandler(factory ControllerFactory, log *zap.SugaredLogger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := r.URL.Query().Get("user_id")
		if userID == "" {
			http.Error(w, "Missing user ID", http.StatusBadRequest)
			return
		}

		sess := session.Session{
			UserID:      userID,
			DisplayName: r.URL.Query().Get("name"),
			AvatarURL:   r.URL.Query().Get("avatar_url"),
		}
		if sess.DisplayName == "" {
			sess.DisplayName = userID
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Warnw("failed to upgrade to websocket", "error", err)
			return
		}

		ctx, cancel := context.WithCancel(context.Background())

		client := &wsClient{
			conn:   conn,
			send:   make(chan []byte, 256),
			ctrl:   factory(sess),
			log:    log,
			ctx:    ctx,
			cancel: cancel,
			done:   make(chan struct{}),
		}

		go client.writePump()
		go client.readPump()
		go client.forwardSnapshots()

		client.enqueue(map[string]interface{}{
			"type": "welcome",
			"time": time.Now(),
		})

		log.Infow("websocket connected", "user", sess.UserID)
	}
}

// readPump consumes client frames and drives the controller.
func (c *wsClient) readPump() {
	config := DefaultWebSocketConfig()

	defer c.close()

	c.conn.SetReadLimit(config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(config.PongWait))
		return nil
	})

	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.log.Warnw("websocket read error", "error", err)
			}
			return
		}

		var frame inboundFrame
		if err := json.Unmarshal(raw, &frame); err != nil {
			c.enqueue(map[string]interface{}{"type": "error", "error": "invalid frame"})
			continue
		}

		switch frame.Type {
		case "location":
			c.ctrl.SetViewerLocation(c.ctx, geo.Point{
				Latitude:  frame.Latitude,
				Longitude: frame.Longitude,
			})

		case "message":
			if _, err := c.ctrl.SendMessage(c.ctx, frame.Text); err != nil {
				c.enqueue(map[string]interface{}{
					"type":  "error",
					"error": sendErrorLabel(err),
				})
			}

		default:
			c.enqueue(map[string]interface{}{"type": "error", "error": "unknown frame type"})
		}
	}
}

// forwardSnapshots pushes controller emissions to the peer.
func (c *wsClient) forwardSnapshots() {
	for snap := range c.ctrl.Updates() {
		rendered := make([]wsMessage, 0, len(snap.Messages))
		for _, m := range snap.Messages {
			rendered = append(rendered, renderMessage(m))
		}

		frame := map[string]interface{}{
			"type":     "nearby",
			"stale":    snap.Stale,
			"messages": rendered,
		}

		data, err := json.Marshal(frame)
		if err != nil {
			c.log.Warnw("failed to marshal nearby frame", "error", err)
			continue
		}

		select {
		case c.send <- data:
		case <-c.done:
			return
		}
	}
}

// writePump pumps queued frames to the WebSocket connection.
func (c *wsClient) writePump() {
	config := DefaultWebSocketConfig()
	ticker := time.NewTicker(config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(config.WriteWait))
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// enqueue marshals and queues a frame, dropping it if the peer is too slow.
func (c *wsClient) enqueue(frame map[string]interface{}) {
	data, err := json.Marshal(frame)
	if err != nil {
		return
	}

	select {
	case c.send <- data:
	default:
	}
}

// close tears the connection down. Idempotent; disposes the controller so
// no further snapshots are produced.
func (c *wsClient) close() {
	c.closeOnce.Do(func() {
		c.ctrl.Dispose()
		c.cancel()
		close(c.done)
		c.conn.Close()

		c.log.Infow("websocket disconnected")
	})
}

func sendErrorLabel(err error) string {
	switch {
	case errors.Is(err, message.ErrLocationUnavailable):
		return "location unavailable"
	case errors.Is(err, message.ErrRateLimited):
		return "rate limited"
	default:
		return "send failed"
	}
}
