package api

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/castmesh/castmesh/pkg/conversation"
)

const (
	wsWriteTimeout = 10 * time.Second
	wsReadLimit    = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// wsInbound is one client frame on the chat socket
type wsInbound struct {
	Message string `json:"message"`
	UserID  string `json:"user_id,omitempty"`
}

// wsOutbound is one server frame on the chat socket
type wsOutbound struct {
	Type           string                 `json:"type"` // connection, typing, message, error
	ConversationID string                 `json:"conversation_id,omitempty"`
	Response       string                 `json:"response,omitempty"`
	Error          string                 `json:"error,omitempty"`
	Metadata       map[string]interface{} `json:"metadata,omitempty"`
}

// handleWebSocket runs a full-duplex chat session over one socket.
// Each inbound message goes through the same pipeline as POST /chat.
func (s *Server) handleWebSocket(c *gin.Context) {
	conversationID := c.Param("conversation_id")

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer func() { _ = conn.Close() }()
	conn.SetReadLimit(wsReadLimit)

	if err := s.wsWrite(conn, wsOutbound{Type: "connection", ConversationID: conversationID}); err != nil {
		return
	}

	ctx := c.Request.Context()
	for {
		var in wsInbound
		if err := conn.ReadJSON(&in); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket closed", map[string]interface{}{"error": err.Error()})
			}
			return
		}
		if in.Message == "" {
			if err := s.wsWrite(conn, wsOutbound{Type: "error", Error: "message is required"}); err != nil {
				return
			}
			continue
		}

		if err := s.wsWrite(conn, wsOutbound{Type: "typing", ConversationID: conversationID}); err != nil {
			return
		}

		resp, err := s.orch.Chat(ctx, conversation.ChatRequest{
			Message:        in.Message,
			ConversationID: conversationID,
			UserID:         in.UserID,
		})
		if err != nil {
			if werr := s.wsWrite(conn, wsOutbound{Type: "error", Error: err.Error()}); werr != nil {
				return
			}
			continue
		}

		out := wsOutbound{
			Type:           "message",
			ConversationID: resp.ConversationID,
			Response:       resp.Response,
			Metadata:       resp.Metadata,
		}
		if err := s.wsWrite(conn, out); err != nil {
			return
		}
	}
}

func (s *Server) wsWrite(conn *websocket.Conn, frame wsOutbound) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return conn.WriteJSON(frame)
}
