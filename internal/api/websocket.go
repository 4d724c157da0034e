// Package api - WebSocket feed for real-time round events.
package api

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Event is one round-lifecycle notification broadcast to every connected
// client: a new round opening ("round_created") or a round's settlement
// outcome ("round_settled").
type Event struct {
	Type        string  `json:"type"`
	GameID      string  `json:"game_id,omitempty"`
	WinningCard int     `json:"winning_card,omitempty"`
	Multiplier  float64 `json:"multiplier,omitempty"`
}

// Feed is a broadcast hub: the scheduler and settlement handlers publish
// Events, every connected WebSocket client receives a copy.
//
// Grounded on the teacher's WSClient send-channel-plus-writePump shape,
// generalized from one client per game session to one broadcast fan-out
// register.
type Feed struct {
	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// NewFeed builds an empty Feed.
func NewFeed() *Feed {
	return &Feed{clients: make(map[*wsClient]struct{})}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

// Publish broadcasts a round-lifecycle event to every connected client.
// Satisfies scheduler.Broadcaster. Clients with a full send buffer are
// dropped rather than blocking the publisher.
func (f *Feed) Publish(eventType, gameID string, winningCard int) {
	payload, err := json.Marshal(Event{Type: eventType, GameID: gameID, WinningCard: winningCard})
	if err != nil {
		return
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	for c := range f.clients {
		select {
		case c.send <- payload:
		default:
			delete(f.clients, c)
			close(c.send)
		}
	}
}

func (f *Feed) register(c *wsClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.clients[c] = struct{}{}
}

func (f *Feed) unregister(c *wsClient) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.clients[c]; ok {
		delete(f.clients, c)
		close(c.send)
	}
}

// HandleWebSocket upgrades the connection and subscribes it to the round
// event feed. No authentication is required: round/settlement events are
// public information, matching SPEC_FULL.md §6.
func (h *Handler) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.Warnw("websocket upgrade failed", "err", err)
		return
	}

	c := &wsClient{conn: conn, send: make(chan []byte, 32)}
	h.feed.register(c)

	go h.writePump(c)
	go h.readPump(c)
}

func (h *Handler) writePump(c *wsClient) {
	ticker := time.NewTicker(30 * time.Second)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			w, err := c.conn.NextWriter(websocket.TextMessage)
			if err != nil {
				return
			}
			w.Write(message)
			w.Close()

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// readPump only exists to detect client disconnects and keepalive pongs;
// the feed is publish-only from the server's side.
func (h *Handler) readPump(c *wsClient) {
	defer func() {
		h.feed.unregister(c)
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		return nil
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}
