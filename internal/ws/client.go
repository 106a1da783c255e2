package ws

import (
	"net/http"
	"time"

	"auction-service/internal/util"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// Session is one connected viewer. The hub writes serialized events into
// send; the write pump drains them onto the wire.
type Session struct {
	UserID string

	hub  *Hub
	conn *websocket.Conn
	send chan []byte
}

// NewSession builds a detached session; used by the hub tests
func NewSession(userID string, buffer int) *Session {
	return &Session{UserID: userID, send: make(chan []byte, buffer)}
}

// Receive returns the session's outbound event channel
func (s *Session) Receive() <-chan []byte {
	return s.send
}

// ServeWS upgrades an HTTP request to a WebSocket session and registers
// it with the hub
func ServeWS(hub *Hub, userID string, w http.ResponseWriter, r *http.Request) error {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	session := &Session{
		UserID: userID,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 32),
	}
	hub.Register(session)

	go session.writePump()
	go session.readPump()
	return nil
}

// readPump discards inbound frames (viewers are read-only) and keeps the
// connection's read deadline fresh via pongs
func (s *Session) readPump() {
	defer func() {
		s.hub.Unregister(s)
		s.conn.Close()
	}()

	s.conn.SetReadLimit(maxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(pongWait))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				util.GetLogger().Debug("Viewer connection error", zap.Error(err))
			}
			return
		}
	}
}

// writePump drains the send channel onto the wire and pings the peer
func (s *Session) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		s.conn.Close()
	}()

	for {
		select {
		case message, ok := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = s.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
