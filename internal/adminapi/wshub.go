package adminapi

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/nodeforge/proxypool/internal/store"
)

const maxStatsConnections = 200

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(r *http.Request) bool { return true },
}

// statsHub broadcasts pool statistics and health-tick summaries to every
// connected admin WebSocket client on a fixed tick, plus on demand when a
// health check completes.
type statsHub struct {
	store store.Store
	log   *zap.SugaredLogger

	mu      sync.Mutex
	clients map[*websocket.Conn]struct{}

	tickMu sync.Mutex
	lastTick tickSummary
}

type tickSummary struct {
	Probed    int `json:"probed"`
	Healthy   int `json:"healthy"`
	Unhealthy int `json:"unhealthy"`
}

func newStatsHub(s store.Store, log *zap.SugaredLogger) *statsHub {
	return &statsHub{store: s, log: log, clients: make(map[*websocket.Conn]struct{})}
}

// run drives the periodic broadcast loop until ctx is cancelled.
func (h *statsHub) run(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return
		case <-ticker.C:
			h.broadcastStats(ctx)
		}
	}
}

// reportTick records the latest health-checker tick summary and immediately
// broadcasts it to every connected client.
func (h *statsHub) reportTick(probed, healthy, unhealthy int) {
	h.tickMu.Lock()
	h.lastTick = tickSummary{Probed: probed, Healthy: healthy, Unhealthy: unhealthy}
	h.tickMu.Unlock()

	h.broadcast(map[string]any{"type": "health_tick", "data": h.lastTick})
}

func (h *statsHub) broadcastStats(ctx context.Context) {
	stats, err := h.store.Statistics(ctx)
	if err != nil {
		h.log.Warnw("stats hub: failed to load statistics", "error", err)
		return
	}
	h.broadcast(map[string]any{"type": "stats", "data": toStatsDTO(stats)})
}

func (h *statsHub) broadcast(payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
		if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
			conn.Close()
			delete(h.clients, conn)
		}
	}
}

func (h *statsHub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for conn := range h.clients {
		conn.Close()
		delete(h.clients, conn)
	}
}

func (h *statsHub) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	h.mu.Lock()
	if len(h.clients) >= maxStatsConnections {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[conn] = struct{}{}
	h.mu.Unlock()

	// Read and discard client messages so control frames are handled and a
	// dropped connection is noticed and removed; the hub never expects
	// inbound data.
	go func() {
		defer func() {
			h.mu.Lock()
			delete(h.clients, conn)
			h.mu.Unlock()
			conn.Close()
		}()
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()
}
