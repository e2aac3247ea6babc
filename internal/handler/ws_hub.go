package handler

import (
	"encoding/json"
	"sync"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

// Event types sent over WebSocket.
const (
	EventSwap2Updated    = "swap2_updated"
	EventGameEnded       = "game_ended"
	EventSeriesCompleted = "series_completed"
	EventSeriesPaused    = "series_paused"
	EventSeriesResumed   = "series_resumed"
	EventSeriesForfeit   = "series_forfeit"
	EventSeriesAbandoned = "series_abandoned"
	EventRematchReady    = "rematch_ready"
)

// WSEvent is the envelope for all WebSocket messages.
type WSEvent struct {
	Type     string `json:"type"`
	SeriesID string `json:"series_id"`
	Data     any    `json:"data"`
}

// ClientMessage is the envelope for messages sent from the client.
type ClientMessage struct {
	Action   string `json:"action"` // "subscribe" or "unsubscribe"
	SeriesID string `json:"series_id"`
}

// WSConn wraps a WebSocket connection with its player and subscriptions.
type WSConn struct {
	conn     *websocket.Conn
	playerID string
	send     chan []byte
}

// Hub manages WebSocket connections and series-channel subscriptions.
type Hub struct {
	mu          sync.RWMutex
	connections map[*WSConn]bool
	series      map[string]map[*WSConn]bool // seriesID -> set of connections
}

// NewHub creates a new Hub.
func NewHub() *Hub {
	return &Hub{
		connections: make(map[*WSConn]bool),
		series:      make(map[string]map[*WSConn]bool),
	}
}

// Register adds a connection to the hub.
func (h *Hub) Register(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.connections[c] = true
}

// Unregister removes a connection from the hub and all its subscriptions.
func (h *Hub) Unregister(c *WSConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.connections, c)
	for seriesID, conns := range h.series {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.series, seriesID)
		}
	}
	close(c.send)
}

// Subscribe adds a connection to a series channel.
func (h *Hub) Subscribe(c *WSConn, seriesID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.series[seriesID] == nil {
		h.series[seriesID] = make(map[*WSConn]bool)
	}
	h.series[seriesID][c] = true
}

// Unsubscribe removes a connection from a series channel.
func (h *Hub) Unsubscribe(c *WSConn, seriesID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if conns, ok := h.series[seriesID]; ok {
		delete(conns, c)
		if len(conns) == 0 {
			delete(h.series, seriesID)
		}
	}
}

// BroadcastToSeries sends an event to all connections subscribed to a series.
func (h *Hub) BroadcastToSeries(seriesID string, event WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("seriesId", seriesID).Msg("Failed to marshal WebSocket event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.series[seriesID] {
		select {
		case c.send <- data:
		default:
			log.Warn().Str("playerId", c.playerID).Str("seriesId", seriesID).Msg("Dropping WebSocket message, buffer full")
		}
	}
}

// BroadcastToPlayer sends an event to a specific player across all their connections.
func (h *Hub) BroadcastToPlayer(playerID string, event WSEvent) {
	data, err := json.Marshal(event)
	if err != nil {
		log.Error().Err(err).Str("playerId", playerID).Msg("Failed to marshal WebSocket event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for c := range h.connections {
		if c.playerID == playerID {
			select {
			case c.send <- data:
			default:
			}
		}
	}
}

// ConnectionCount returns the total number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// SeriesSubscriberCount returns the number of connections subscribed to a series.
func (h *Hub) SeriesSubscriberCount(seriesID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.series[seriesID])
}
