package handlers

import (
	"context"
	"net/http"
	"sync"
	"time"

	"llm-gateway/internal/logger"
	chatService "llm-gateway/internal/service/chat"
	"llm-gateway/pkg/validation"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
)

const (
	wsReadTimeout  = 60 * time.Second
	wsPingInterval = 54 * time.Second
	wsWriteTimeout = 10 * time.Second
)

// Frame types sent over the chat socket
const (
	FrameDelta = "delta"
	FrameError = "error"
	FrameDone  = "done"
)

type inboundMessage struct {
	Prompt    string `json:"prompt"`
	SessionID string `json:"session_id"`
}

type outgoingFrame struct {
	Type      string `json:"type"`
	SessionID string `json:"session_id,omitempty"`
	Content   string `json:"content,omitempty"`
	Error     string `json:"error,omitempty"`
}

// WebSocketHandler runs chat turns over a single socket. Each inbound message
// starts one turn and the next message is read after that turn's done frame.
type WebSocketHandler struct {
	gateway   chatService.Gateway
	validator *validation.ChatRequestValidator
	upgrader  websocket.Upgrader
}

func NewWebSocketHandler(gateway chatService.Gateway) *WebSocketHandler {
	return &WebSocketHandler{
		gateway:   gateway,
		validator: validation.NewChatRequestValidator(),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
		},
	}
}

// wsConn serializes writes, gorilla allows one concurrent writer
type wsConn struct {
	conn *websocket.Conn
	mu   sync.Mutex
}

func (c *wsConn) writeJSON(frame outgoingFrame) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return c.conn.WriteJSON(frame)
}

func (c *wsConn) ping() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

func (h *WebSocketHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		logger.Log.WithError(err).Warn("WebSocket upgrade failed")
		return
	}
	defer conn.Close()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	ws := &wsConn{conn: conn}
	conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
		return nil
	})

	go h.pingLoop(ctx, ws)

	// The reader runs apart from the turn loop so a closed socket cancels the
	// turn in flight.
	inbound := make(chan inboundMessage)
	go func() {
		defer cancel()
		for {
			var msg inboundMessage
			if err := conn.ReadJSON(&msg); err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					logger.Log.WithError(err).Debug("WebSocket read error")
				}
				return
			}
			conn.SetReadDeadline(time.Now().Add(wsReadTimeout))
			select {
			case inbound <- msg:
			case <-ctx.Done():
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg := <-inbound:
			if err := h.runTurn(ctx, ws, msg); err != nil {
				logger.Log.WithError(err).Debug("WebSocket write failed")
				return
			}
		}
	}
}

func (h *WebSocketHandler) runTurn(ctx context.Context, ws *wsConn, msg inboundMessage) error {
	if err := h.validator.ValidateChatRequest(msg.Prompt, msg.SessionID); err != nil {
		if err := ws.writeJSON(outgoingFrame{Type: FrameError, SessionID: msg.SessionID, Error: err.Error()}); err != nil {
			return err
		}
		return ws.writeJSON(outgoingFrame{Type: FrameDone, SessionID: msg.SessionID})
	}

	sessionID, increments, err := h.gateway.StartTurn(ctx, msg.SessionID, msg.Prompt)
	if err != nil {
		logger.Log.WithError(err).WithField("session_id", msg.SessionID).Error("Error starting chat turn")
		if err := ws.writeJSON(outgoingFrame{Type: FrameError, SessionID: msg.SessionID, Error: err.Error()}); err != nil {
			return err
		}
		return ws.writeJSON(outgoingFrame{Type: FrameDone, SessionID: msg.SessionID})
	}

	deltas := 0
	for inc := range increments {
		frame := outgoingFrame{Type: FrameDelta, SessionID: sessionID, Content: inc.Content}
		switch {
		case inc.Done:
			frame = outgoingFrame{Type: FrameDone, SessionID: sessionID}
		case inc.Err:
			frame.Type = FrameError
		default:
			deltas++
		}
		if err := ws.writeJSON(frame); err != nil {
			return err
		}
	}

	logger.ForSession(sessionID).WithFields(logrus.Fields{"deltas": deltas}).Debug("WebSocket turn finished")
	return ctx.Err()
}

func (h *WebSocketHandler) pingLoop(ctx context.Context, ws *wsConn) {
	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := ws.ping(); err != nil {
				return
			}
		}
	}
}
