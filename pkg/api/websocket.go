package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/manavgup/rag-modulo/pkg/conversation"
	"github.com/manavgup/rag-modulo/pkg/models"
)

// wsWriteTimeout bounds one WebSocket send.
const wsWriteTimeout = 10 * time.Second

// Client message types.
const (
	wsTypePing        = "ping"
	wsTypeChatMessage = "chat_message"
)

// Server message types.
const (
	wsTypePong       = "pong"
	wsTypeProcessing = "processing"
	wsTypeAIResponse = "ai_response"
	wsTypeError      = "error"
)

// clientMessage is the envelope clients send. The ping timestamp is kept raw
// so the pong echoes it byte for byte.
type clientMessage struct {
	Type      string          `json:"type"`
	SessionID string          `json:"session_id,omitempty"`
	Content   string          `json:"content,omitempty"`
	Timestamp json.RawMessage `json:"timestamp,omitempty"`
}

// serverMessage is the envelope the server sends. ai_response carries the
// assistant turn flattened; error carries only message.
type serverMessage struct {
	Type       string               `json:"type"`
	SessionID  string               `json:"session_id,omitempty"`
	MessageID  string               `json:"message_id,omitempty"`
	Content    string               `json:"content,omitempty"`
	Sources    []string             `json:"sources,omitempty"`
	TokenCount int                  `json:"token_count,omitempty"`
	Timestamp  any                  `json:"timestamp,omitempty"`
	Warning    *models.TokenWarning `json:"warning,omitempty"`
	Message    string               `json:"message,omitempty"`
}

// pongMessage echoes the ping's timestamp.
func pongMessage(msg *clientMessage) serverMessage {
	resp := serverMessage{Type: wsTypePong}
	if len(msg.Timestamp) > 0 {
		resp.Timestamp = msg.Timestamp
	}
	return resp
}

// aiResponseMessage flattens the assistant turn into the wire shape.
func aiResponseMessage(sessionID string, turn *conversation.TurnResult) serverMessage {
	return serverMessage{
		Type:       wsTypeAIResponse,
		SessionID:  sessionID,
		MessageID:  turn.AssistantMessage.ID,
		Content:    turn.AssistantMessage.Content,
		Sources:    turn.AssistantMessage.Metadata.SourceDocuments,
		TokenCount: turn.AssistantMessage.Metadata.TokenCount,
		Timestamp:  turn.AssistantMessage.CreatedAt,
		Warning:    turn.Warning,
	}
}

// wsConn is one authenticated WebSocket connection.
type wsConn struct {
	userID string
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

// Hub tracks WebSocket connections, one per user: a new connection from the
// same user evicts the old one.
type Hub struct {
	server *Server

	mu    sync.Mutex
	conns map[string]*wsConn
}

// NewHub creates a Hub bound to the server.
func NewHub(server *Server) *Hub {
	return &Hub{server: server, conns: make(map[string]*wsConn)}
}

// ActiveConnections returns the number of live connections.
func (h *Hub) ActiveConnections() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// CloseAll closes every connection; used during shutdown.
func (h *Hub) CloseAll() {
	h.mu.Lock()
	conns := make([]*wsConn, 0, len(h.conns))
	for _, c := range h.conns {
		conns = append(conns, c)
	}
	h.conns = make(map[string]*wsConn)
	h.mu.Unlock()

	for _, c := range conns {
		_ = c.conn.Close(websocket.StatusGoingAway, "server shutting down")
		c.cancel()
	}
}

// HandleConnection runs the read loop for one authenticated connection.
// Blocks until the socket closes.
func (h *Hub) HandleConnection(parentCtx context.Context, userID string, conn *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &wsConn{userID: userID, conn: conn, ctx: ctx, cancel: cancel}

	h.register(c)
	defer h.unregister(c)

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			return
		}

		var msg clientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Warn("Invalid WebSocket message", "user_id", userID, "error", err)
			h.send(c, serverMessage{Type: wsTypeError, Message: "invalid message"})
			continue
		}
		h.handleMessage(c, &msg)
	}
}

// register stores the connection, evicting the user's previous socket.
func (h *Hub) register(c *wsConn) {
	h.mu.Lock()
	previous := h.conns[c.userID]
	h.conns[c.userID] = c
	h.mu.Unlock()

	if previous != nil {
		slog.Info("Evicting previous WebSocket connection", "user_id", c.userID)
		_ = previous.conn.Close(websocket.StatusPolicyViolation, "replaced by newer connection")
		previous.cancel()
	}
}

func (h *Hub) unregister(c *wsConn) {
	h.mu.Lock()
	// Only remove the mapping if it still points at this connection; an
	// eviction may already have replaced it.
	if h.conns[c.userID] == c {
		delete(h.conns, c.userID)
	}
	h.mu.Unlock()

	c.cancel()
	_ = c.conn.Close(websocket.StatusNormalClosure, "")
}

func (h *Hub) handleMessage(c *wsConn, msg *clientMessage) {
	switch msg.Type {
	case wsTypePing:
		h.send(c, pongMessage(msg))

	case wsTypeChatMessage:
		if msg.SessionID == "" || msg.Content == "" {
			h.send(c, serverMessage{Type: wsTypeError, Message: "session_id and content are required"})
			return
		}
		h.send(c, serverMessage{Type: wsTypeProcessing, SessionID: msg.SessionID})

		turn, err := h.server.manager.ProcessMessage(c.ctx, msg.SessionID, c.userID, msg.Content,
			h.server.sessionSearch(c.userID))
		if err != nil {
			slog.Warn("WebSocket chat turn failed",
				"user_id", c.userID, "session_id", msg.SessionID, "error", err)
			h.send(c, serverMessage{Type: wsTypeError, SessionID: msg.SessionID, Message: err.Error()})
			return
		}
		h.send(c, aiResponseMessage(msg.SessionID, turn))

	default:
		h.send(c, serverMessage{Type: wsTypeError, Message: "unknown message type"})
	}
}

func (h *Hub) send(c *wsConn, msg serverMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		slog.Warn("Failed to marshal WebSocket message", "user_id", c.userID, "error", err)
		return
	}
	writeCtx, cancel := context.WithTimeout(c.ctx, wsWriteTimeout)
	defer cancel()
	if err := c.conn.Write(writeCtx, websocket.MessageText, data); err != nil {
		slog.Warn("Failed to send WebSocket message", "user_id", c.userID, "error", err)
	}
}
