package ws

import (
	"time"

	"log/slog"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	maxMessageSize = 4 << 10
)

// Client adapts a websocket connection to the hub's Conn interface.
type Client struct {
	conn *websocket.Conn
	log  *slog.Logger
}

// NewClient constructs a client wrapper.
func NewClient(conn *websocket.Conn, logger *slog.Logger) *Client {
	return &Client{conn: conn, log: logger}
}

// Send writes a message to the websocket connection.
func (c *Client) Send(payload []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.log.Warn("websocket send failed", "error", err)
		_ = c.conn.Close()
		return err
	}
	return nil
}

// Close terminates the connection.
func (c *Client) Close() {
	_ = c.conn.Close()
}

// Serve registers the connection with the hub and pumps inbound frames into
// subscription commands until the client disconnects. Malformed frames are
// logged and ignored; they never end the session.
func Serve(hub *Hub, conn *websocket.Conn, remoteAddr string, logger *slog.Logger) {
	client := NewClient(conn, logger)
	session := hub.Register(client, remoteAddr)
	defer hub.Unregister(session)

	conn.SetReadLimit(maxMessageSize)
	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}
		msg, err := ParseClientMessage(raw)
		if err != nil {
			logger.Warn("invalid client message", "session_id", session.ID, "error", err)
			continue
		}
		Dispatch(hub, session, msg)
	}
}

// Dispatch routes a parsed client message to the matching hub operation.
func Dispatch(hub *Hub, session *Session, msg ClientMessage) {
	switch msg.Type {
	case MsgSubscribeHealth:
		hub.SubscribeHealth(session)
	case MsgUnsubscribeHealth:
		hub.UnsubscribeHealth(session)
	case MsgRequestHealth:
		hub.RequestHealth(session)
	case MsgSubscribeDeploymentLogs:
		hub.JoinRoom(session, msg.DeploymentID)
	case MsgUnsubscribeDeploymentLogs:
		hub.LeaveRoom(session, msg.DeploymentID)
	}
}
