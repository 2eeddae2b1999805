package gateway

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/kodokalabs/tetsuo/internal/bus"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 4096,
	// The gateway binds to loopback and authenticates by token; origin
	// checks stay same-origin by default.
	CheckOrigin: func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || origin == "http://"+r.Host || origin == "https://"+r.Host
	},
}

// wsHub tracks connected WebSocket clients and fans sanitized events out to
// them.
type wsHub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]chan []byte
}

func newWSHub() *wsHub {
	return &wsHub{conns: make(map[*websocket.Conn]chan []byte)}
}

func (h *wsHub) add(conn *websocket.Conn) chan []byte {
	ch := make(chan []byte, 64)
	h.mu.Lock()
	h.conns[conn] = ch
	h.mu.Unlock()
	return ch
}

func (h *wsHub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	if ch, ok := h.conns[conn]; ok {
		close(ch)
		delete(h.conns, conn)
	}
	h.mu.Unlock()
	conn.Close()
}

func (h *wsHub) broadcast(payload map[string]any) {
	data, err := json.Marshal(payload)
	if err != nil {
		return
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.conns {
		select {
		case ch <- data:
		default:
			// Slow consumer: drop the event rather than block the stream.
		}
	}
}

func (h *wsHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn, ch := range h.conns {
		close(ch)
		conn.Close()
		delete(h.conns, conn)
	}
}

// handleWS upgrades the connection, sends the hello, and serves the
// sanitized event stream. Accepts {type:"ping"} and {type:"status"}.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		slog.Error("Failed to upgrade websocket", "error", err)
		return
	}
	ch := s.hub.add(conn)
	defer s.hub.remove(conn)

	hello, _ := json.Marshal(map[string]any{
		"type":  "connected",
		"agent": s.opts.AgentName,
	})
	if err := conn.WriteMessage(websocket.TextMessage, hello); err != nil {
		return
	}

	// Writer: drain the event channel.
	go func() {
		for data := range ch {
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		}
	}()

	// Reader: handle ping/status requests until the client hangs up.
	cfg := s.opts.Settings.Get()
	ip := clientIP(r)
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				return
			}
			return
		}
		if s.opts.Limiter != nil && !s.opts.Limiter.Allow("ws:"+ip, cfg.Limits.WSMessagesPerMinute) {
			continue
		}
		var msg struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			continue
		}
		switch msg.Type {
		case "ping":
			pong, _ := json.Marshal(map[string]any{"type": "pong", "ts": time.Now().Unix()})
			_ = conn.WriteMessage(websocket.TextMessage, pong)
		case "status":
			status, _ := json.Marshal(map[string]any{
				"type":   "status",
				"agent":  s.opts.AgentName,
				"uptime": time.Since(s.started).Round(time.Second).String(),
			})
			_ = conn.WriteMessage(websocket.TextMessage, status)
		}
	}
}

// sanitizeEvent strips sensitive payload values before events leave the
// process: tool inputs keep only their key names, results shrink to a
// 200-char preview, messages keep only channel/user/preview.
func sanitizeEvent(ev bus.Event) map[string]any {
	out := map[string]any{
		"type": ev.Type,
		"ts":   ev.Timestamp.Format(time.RFC3339),
	}
	switch ev.Type {
	case bus.EventToolCalled:
		out["tool"] = ev.Payload["tool"]
		if input, ok := ev.Payload["input"].(map[string]any); ok {
			keys := make([]string, 0, len(input))
			for k := range input {
				keys = append(keys, k)
			}
			out["inputKeys"] = keys
		}
	case bus.EventToolResult:
		out["tool"] = ev.Payload["tool"]
		out["isError"] = ev.Payload["is_error"]
		if preview, ok := ev.Payload["result"].(string); ok {
			if len(preview) > 200 {
				preview = preview[:200]
			}
			out["preview"] = preview
		}
	case bus.EventMessageReceived:
		out["channel"] = ev.Payload["channel"]
		out["user"] = ev.Payload["user"]
		out["preview"] = ev.Payload["preview"]
	default:
		for k, v := range ev.Payload {
			out[k] = v
		}
	}
	return out
}
