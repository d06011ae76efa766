package orchestrator

import (
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// PipelineEvent is one orchestrator decision point, streamed to operator
// consoles for local debugging (SPEC_FULL.md's supplemented "operator
// WebSocket console" feature). The event shape and broadcast-hub
// mechanics are adapted from internal/websocket's DAGStreamer, trading
// its DAG node/edge vocabulary for the orchestrator's own pipeline
// phases.
type PipelineEvent struct {
	RequestID string    `json:"request_id"`
	Phase     string    `json:"phase"`
	Verdict   string    `json:"verdict,omitempty"`
	CacheHit  bool      `json:"cache_hit,omitempty"`
	WAFAction string    `json:"waf_action,omitempty"`
	Status    int       `json:"status,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Console is a read-only live feed of PipelineEvents over WebSocket.
// Broadcasting never blocks request processing: a full client send buffer
// drops events for that client rather than applying backpressure.
type Console struct {
	clients    map[*websocket.Conn]chan PipelineEvent
	mu         sync.RWMutex
	register   chan *websocket.Conn
	unregister chan *websocket.Conn
	upgrader   websocket.Upgrader
}

// NewConsole builds a Console with no connected clients yet.
func NewConsole() *Console {
	return &Console{
		clients:    make(map[*websocket.Conn]chan PipelineEvent),
		register:   make(chan *websocket.Conn),
		unregister: make(chan *websocket.Conn),
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}
}

// HandleWebSocket upgrades r and registers the connection as a console
// client until it disconnects.
func (c *Console) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := c.upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Warn("orchestrator: console upgrade failed", "error", err)
		return
	}
	send := make(chan PipelineEvent, 64)
	c.mu.Lock()
	c.clients[conn] = send
	c.mu.Unlock()

	go c.writeLoop(conn, send)
	go c.readLoop(conn)
}

func (c *Console) writeLoop(conn *websocket.Conn, send chan PipelineEvent) {
	for ev := range send {
		if err := conn.WriteJSON(ev); err != nil {
			c.drop(conn)
			return
		}
	}
}

func (c *Console) readLoop(conn *websocket.Conn) {
	defer c.drop(conn)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (c *Console) drop(conn *websocket.Conn) {
	c.mu.Lock()
	if send, ok := c.clients[conn]; ok {
		close(send)
		delete(c.clients, conn)
	}
	c.mu.Unlock()
	conn.Close()
}

// Emit broadcasts ev to every connected client, dropping it for clients
// whose buffer is full rather than blocking the caller.
func (c *Console) Emit(ev PipelineEvent) {
	ev.Timestamp = time.Now()
	c.mu.RLock()
	defer c.mu.RUnlock()
	for _, send := range c.clients {
		select {
		case send <- ev:
		default:
		}
	}
}
