package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 54 * time.Second
	maxMessageSize = 1 << 20
)

// hub fans confirmed action results out to every socket watching a battle.
type hub struct {
	battleID string
	clients  map[*client]struct{}
}

// client is one WebSocket connection with a buffered outbound queue drained
// by a dedicated writer goroutine.
type client struct {
	conn *websocket.Conn
	send chan []byte
}

func (s *Server) getHub(battleID string) *hub {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hubs[battleID]
	if !ok {
		h = &hub{battleID: battleID, clients: make(map[*client]struct{})}
		s.hubs[battleID] = h
	}
	return h
}

// broadcast queues a payload for every watcher. Slow clients are dropped
// rather than allowed to stall the battle.
func (s *Server) broadcast(battleID string, payload map[string]any) {
	raw, err := json.Marshal(payload)
	if err != nil {
		s.logger.Error("encoding broadcast failed", zap.Error(err))
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hubs[battleID]
	if !ok {
		return
	}
	for c := range h.clients {
		select {
		case c.send <- raw:
		default:
			delete(h.clients, c)
			close(c.send)
		}
	}
}

func (s *Server) removeClient(battleID string, c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	h, ok := s.hubs[battleID]
	if !ok {
		return
	}
	if _, present := h.clients[c]; present {
		delete(h.clients, c)
		close(c.send)
	}
}

// handleWebSocket upgrades the connection and pumps actions for one session.
// Inbound messages are submitRequest envelopes minus the session, which is
// bound once via the query string.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	battleID := mux.Vars(r)["id"]
	sessionID := r.URL.Query().Get("session")
	if _, ok := s.sessions.Get(sessionID); !ok {
		http.Error(w, "session not valid", http.StatusUnauthorized)
		return
	}
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &client{conn: conn, send: make(chan []byte, 32)}
	h := s.getHub(battleID)
	s.mu.Lock()
	h.clients[c] = struct{}{}
	s.mu.Unlock()

	go s.writePump(battleID, c)
	s.readPump(r.Context(), battleID, sessionID, c)
}

func (s *Server) readPump(ctx context.Context, battleID, sessionID string, c *client) {
	defer func() {
		s.removeClient(battleID, c)
		c.conn.Close()
	}()
	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, raw, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Debug("websocket closed unexpectedly", zap.Error(err))
			}
			return
		}
		result, _ := s.submit(ctx, battleID, sessionID, raw)
		reply, err := json.Marshal(result)
		if err != nil {
			continue
		}
		select {
		case c.send <- reply:
		default:
			return
		}
	}
}

func (s *Server) writePump(battleID string, c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()
	for {
		select {
		case raw, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, raw); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
