package ws

import (
	"sync"

	"auction-service/internal/util"

	"go.uber.org/zap"
)

// Hub owns the set of connected viewer sessions and fans broadcast
// events out to all of them. It is created at process start, torn down at
// shutdown, and is the single-process half of the broadcast channel; the
// broker relay extends it across instances.
type Hub struct {
	// Registered sessions.
	sessions map[*Session]bool

	// Sessions by user ID, for addressed notify events.
	userSessions map[string][]*Session

	// Register requests from new connections.
	register chan *Session

	// Unregister requests from closing connections.
	unregister chan *Session

	// Outbound events to every connected session.
	broadcast chan []byte

	mu     sync.Mutex
	done   chan struct{}
	logger *zap.Logger
}

// NewHub creates an empty session registry
func NewHub() *Hub {
	return &Hub{
		sessions:     make(map[*Session]bool),
		userSessions: make(map[string][]*Session),
		register:     make(chan *Session),
		unregister:   make(chan *Session),
		broadcast:    make(chan []byte, 64),
		done:         make(chan struct{}),
		logger:       util.GetLogger(),
	}
}

// Run processes register/unregister/broadcast requests until Shutdown
func (h *Hub) Run() {
	for {
		select {
		case <-h.done:
			h.mu.Lock()
			for session := range h.sessions {
				close(session.send)
				delete(h.sessions, session)
			}
			h.userSessions = make(map[string][]*Session)
			h.mu.Unlock()
			return

		case session := <-h.register:
			h.mu.Lock()
			h.sessions[session] = true
			h.userSessions[session.UserID] = append(h.userSessions[session.UserID], session)
			count := len(h.sessions)
			h.mu.Unlock()
			util.WSConnections.Set(float64(count))
			h.logger.Debug("Viewer connected", zap.String("user_id", session.UserID), zap.Int("sessions", count))

		case session := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.sessions[session]; ok {
				delete(h.sessions, session)
				close(session.send)
				h.dropUserSession(session)
			}
			count := len(h.sessions)
			h.mu.Unlock()
			util.WSConnections.Set(float64(count))

		case message := <-h.broadcast:
			h.mu.Lock()
			for session := range h.sessions {
				select {
				case session.send <- message:
				default:
					// Slow consumer: drop the session rather than block
					// the broadcast loop.
					close(session.send)
					delete(h.sessions, session)
					h.dropUserSession(session)
				}
			}
			h.mu.Unlock()
			util.BroadcastEventsTotal.Inc()
		}
	}
}

// dropUserSession removes a session from the per-user index. Caller holds h.mu.
func (h *Hub) dropUserSession(session *Session) {
	conns := h.userSessions[session.UserID]
	for i, s := range conns {
		if s == session {
			h.userSessions[session.UserID] = append(conns[:i], conns[i+1:]...)
			break
		}
	}
	if len(h.userSessions[session.UserID]) == 0 {
		delete(h.userSessions, session.UserID)
	}
}

// Register adds a session to the registry
func (h *Hub) Register(session *Session) {
	h.register <- session
}

// Unregister removes a session from the registry
func (h *Hub) Unregister(session *Session) {
	h.unregister <- session
}

// Broadcast queues an event for delivery to every connected session
func (h *Hub) Broadcast(message []byte) {
	select {
	case h.broadcast <- message:
	case <-h.done:
	}
}

// SendToUser delivers a message to every session of one user
func (h *Hub) SendToUser(userID string, message []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, session := range h.userSessions[userID] {
		select {
		case session.send <- message:
		default:
		}
	}
}

// SessionCount returns the number of connected sessions
func (h *Hub) SessionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.sessions)
}

// Shutdown stops the hub and closes all sessions
func (h *Hub) Shutdown() {
	close(h.done)
}
