package transport

import (
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/sigilsec/sentinel/monitor"
)

const wsWriteTimeout = 10 * time.Second

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The realtime feed is read-only and carries no credentials beyond
	// what the dashboard already holds; origin enforcement sits at the
	// reverse proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// wsObserver adapts one websocket connection to the monitor.Observer
// contract. Writes are serialized; the hub may broadcast and ping from
// different goroutines.
type wsObserver struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func newWSObserver(conn *websocket.Conn) *wsObserver {
	return &wsObserver{conn: conn}
}

func (o *wsObserver) Send(msg *monitor.Message) error {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	return o.conn.WriteJSON(msg)
}

func (o *wsObserver) Ping() error {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout))
}

func (o *wsObserver) Close() error {
	return o.conn.Close()
}

// handleRealtime upgrades the request and attaches the client to the
// monitor. The read loop exists only to notice the peer going away.
func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("Websocket upgrade failed", map[string]interface{}{
			"remote": r.RemoteAddr,
			"error":  err.Error(),
		})
		return
	}
	obs := newWSObserver(conn)
	s.monitor.Attach(obs)

	go func() {
		defer s.monitor.Detach(obs)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
