package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MeKo-Tech/quadpick/internal/session"
)

const (
	wsPongWait   = 60 * time.Second
	wsPingPeriod = 30 * time.Second
	wsWriteWait  = 10 * time.Second
)

// WebSocketMessage is pushed to websocket clients: a view after every
// processed event, or an error for a rejected one.
type WebSocketMessage struct {
	Type      string        `json:"type"` // "view", "error" or "closed"
	View      *session.View `json:"view,omitempty"`
	Error     string        `json:"error,omitempty"`
	ErrorType string        `json:"error_type,omitempty"`
}

// WebSocketConnWriter is an interface for writing WebSocket messages.
type WebSocketConnWriter interface {
	WriteMessage(messageType int, data []byte) error
}

// upgrader accepts the configured CORS origin, or any origin for "*".
func (s *Server) upgrader() *websocket.Upgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			origin := r.Header.Get("Origin")
			return s.corsOrigin == "" || s.corsOrigin == "*" || origin == "" || origin == s.corsOrigin
		},
	}
}

// sessionWebSocketHandler streams views of one session and accepts the same
// JSON events as the events endpoint.
func (s *Server) sessionWebSocketHandler(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.lookup(w, r)
	if !ok {
		return
	}
	conn, err := s.upgrader().Upgrade(w, r, nil)
	if err != nil {
		s.log().Error("Failed to upgrade connection to WebSocket", "error", err)
		return
	}
	defer func() { _ = conn.Close() }()

	websocketConnections.Inc()
	defer websocketConnections.Dec()

	s.log().Info("WebSocket connection established", "session", sess.ID(), "remote_addr", r.RemoteAddr)
	s.handleWebSocketConnection(conn, sess)
	s.log().Info("WebSocket connection closed", "session", sess.ID())
}

// handleWebSocketConnection reads events until the client goes away. A
// single writer goroutine owns all data frames.
func (s *Server) handleWebSocketConnection(conn *websocket.Conn, sess *session.Session) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	views, unsubscribe := sess.Subscribe()
	defer unsubscribe()

	replies := make(chan WebSocketMessage, 8)
	writerDone := make(chan struct{})
	go func() {
		defer close(writerDone)
		s.writeLoop(ctx, conn, sess, views, replies)
	}()

	_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
	conn.SetPongHandler(func(string) error {
		_ = conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		messageType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				s.log().Error("WebSocket error", "session", sess.ID(), "error", err)
			}
			break
		}
		websocketMessagesTotal.WithLabelValues("received").Inc()
		if messageType != websocket.TextMessage {
			continue
		}

		reply, closed := s.handleWebSocketEvent(ctx, sess, data)
		if reply != nil {
			select {
			case replies <- *reply:
			case <-writerDone:
			}
		}
		if closed {
			break
		}
	}

	cancel()
	<-writerDone
}

// handleWebSocketEvent dispatches one event. Successful events need no reply
// since the subscription delivers the resulting view.
func (s *Server) handleWebSocketEvent(ctx context.Context, sess *session.Session, data []byte) (*WebSocketMessage, bool) {
	var ev session.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return &WebSocketMessage{Type: "error", Error: "Failed to parse event: " + err.Error(), ErrorType: "invalid_request"}, false
	}

	dctx := ctx
	if s.timeoutSec > 0 {
		var cancel context.CancelFunc
		dctx, cancel = context.WithTimeout(ctx, time.Duration(s.timeoutSec)*time.Second)
		defer cancel()
	}
	v, err := sess.Dispatch(dctx, ev)
	switch {
	case err == nil:
		return nil, false
	case errors.Is(err, session.ErrClosed):
		return &WebSocketMessage{Type: "closed", Error: err.Error(), ErrorType: "session_closed"}, true
	default:
		return &WebSocketMessage{Type: "error", View: &v, Error: err.Error(), ErrorType: "event_rejected"}, false
	}
}

// writeLoop pushes views, replies and pings until ctx is done or the session
// closes.
func (s *Server) writeLoop(ctx context.Context, conn *websocket.Conn, sess *session.Session, views <-chan session.View, replies <-chan WebSocketMessage) {
	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()
	// Unblocks the reader when writing fails.
	defer func() { _ = conn.Close() }()

	for {
		var msg WebSocketMessage
		select {
		case <-ctx.Done():
			return
		case <-sess.Done():
			s.sendWebSocketMessage(conn, WebSocketMessage{Type: "closed", ErrorType: "session_closed"})
			_ = conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "session closed"),
				time.Now().Add(wsWriteWait))
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteWait)); err != nil {
				return
			}
			continue
		case v := <-views:
			msg = WebSocketMessage{Type: "view", View: &v}
		case msg = <-replies:
		}

		_ = conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
		if err := s.sendWebSocketMessage(conn, msg); err != nil {
			return
		}
	}
}

// sendWebSocketMessage sends a message over WebSocket.
func (s *Server) sendWebSocketMessage(conn WebSocketConnWriter, msg WebSocketMessage) error {
	data, err := json.Marshal(msg)
	if err != nil {
		s.log().Error("Failed to marshal WebSocket message", "error", err)
		return err
	}
	if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
		s.log().Debug("Failed to send WebSocket message", "error", err)
		return err
	}
	websocketMessagesTotal.WithLabelValues("sent").Inc()
	return nil
}
