package realtime

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"live-auction/internal/metrics"
	"live-auction/internal/models"
	"live-auction/utils"
)

// Client message types
const (
	MsgJoinLot  = "JOIN_LOT"
	MsgLeaveLot = "LEAVE_LOT"
	MsgPing     = "PING"
	MsgPong     = "PONG"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 4096
)

// ClientMessage is a message received from a websocket client
type ClientMessage struct {
	Type  string `json:"type"`             // JOIN_LOT | LEAVE_LOT | PING
	LotID string `json:"lot_id,omitempty"` // required for JOIN_LOT and LEAVE_LOT
}

// wsConn adapts a gorilla connection to Conn; writes are serialized
type wsConn struct {
	id string
	ws *websocket.Conn
	mu sync.Mutex
}

func (c *wsConn) ID() string { return c.id }

func (c *wsConn) Send(_ context.Context, ev models.Event) error {
	return c.writeJSON(ev)
}

func (c *wsConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteJSON(v)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait))
}

// WSHandler upgrades HTTP requests and routes client messages to the hub
type WSHandler struct {
	hub      *Hub
	source   SnapshotSource
	upgrader websocket.Upgrader
}

// NewWSHandler creates a websocket endpoint with a custom origin policy
func NewWSHandler(hub *Hub, source SnapshotSource, allowOrigin func(r *http.Request) bool) *WSHandler {
	return &WSHandler{
		hub:      hub,
		source:   source,
		upgrader: websocket.Upgrader{CheckOrigin: allowOrigin},
	}
}

// ServeHTTP handles the lifetime of one websocket connection.
// A client may join several lots over the same connection.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ws, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	conn := &wsConn{id: utils.GenerateID(), ws: ws}

	metrics.LiveConnections.Inc()
	done := make(chan struct{})
	defer func() {
		close(done)
		h.hub.Disconnect(conn)
		_ = ws.Close()
		metrics.LiveConnections.Dec()
	}()

	ws.SetReadLimit(maxMessageSize)
	_ = ws.SetReadDeadline(time.Now().Add(pongWait))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(pongWait))
	})
	go keepAlive(conn, done)

	ctx := r.Context()
	for {
		var msg ClientMessage
		if err := ws.ReadJSON(&msg); err != nil {
			return
		}
		switch msg.Type {
		case MsgJoinLot:
			if msg.LotID == "" {
				continue
			}
			if err := h.hub.Join(ctx, msg.LotID, conn, h.source); err != nil {
				utils.Warn("Failed to send lot snapshot", map[string]any{"lot_id": msg.LotID, "conn_id": conn.id, "error": err.Error()})
			}
		case MsgLeaveLot:
			if msg.LotID != "" {
				h.hub.Leave(msg.LotID, conn)
			}
		case MsgPing:
			_ = conn.writeJSON(map[string]string{"type": MsgPong})
		}
	}
}

func keepAlive(conn *wsConn, done <-chan struct{}) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if err := conn.ping(); err != nil {
				return
			}
		}
	}
}
