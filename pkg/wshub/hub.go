// Package wshub is the WebSocket transport layer: it accepts client
// connections, maintains topic membership, and fans broadcast frames out to
// topic members. The bridge only ever reaches it through the Broadcast
// capability and never touches individual clients.
package wshub

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/rs/zerolog"

	"github.com/illmade-knight/go-change-relay/pkg/bridge"
)

// Hub maintains the set of connected clients and their topic memberships.
// It implements bridge.Broadcaster. Join and Leave are idempotent and
// race-free against concurrent broadcasts: membership and fanout share one
// RWMutex, and actual socket writes happen outside it.
type Hub struct {
	logger zerolog.Logger

	mu      sync.RWMutex
	clients map[*Client]struct{}
	rooms   map[string]map[*Client]struct{}

	droppedFrames atomic.Uint64
}

// NewHub creates an empty hub.
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		logger:  logger.With().Str("component", "WsHub").Logger(),
		clients: make(map[*Client]struct{}),
		rooms:   make(map[string]map[*Client]struct{}),
	}
}

// Register adds a newly connected client.
func (h *Hub) Register(c *Client) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()
	h.logger.Debug().Str("client_id", c.ID).Msg("Client registered.")
}

// Unregister removes a client from the hub and from every topic it joined,
// then closes it. Safe to call for a client that was already removed.
func (h *Hub) Unregister(c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c]; ok {
		delete(h.clients, c)
		for topic, members := range h.rooms {
			delete(members, c)
			if len(members) == 0 {
				delete(h.rooms, topic)
			}
		}
	}
	h.mu.Unlock()
	c.close()
	h.logger.Debug().Str("client_id", c.ID).Msg("Client unregistered.")
}

// Join adds a client to a topic. Joining a topic the client already belongs
// to is a no-op.
func (h *Hub) Join(c *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if _, ok := h.clients[c]; !ok {
		return
	}
	members, ok := h.rooms[topic]
	if !ok {
		members = make(map[*Client]struct{})
		h.rooms[topic] = members
	}
	members[c] = struct{}{}
}

// Leave removes a client from a topic. Leaving a topic the client is not a
// member of is a no-op.
func (h *Hub) Leave(c *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	members, ok := h.rooms[topic]
	if !ok {
		return
	}
	delete(members, c)
	if len(members) == 0 {
		delete(h.rooms, topic)
	}
}

// Broadcast delivers one frame to every current member of a topic. Delivery
// is fire-and-forget: a client whose send buffer is full misses the frame,
// and an empty topic is not an error.
func (h *Hub) Broadcast(_ context.Context, topic string, event string, payload []byte) error {
	frame, err := json.Marshal(bridge.Frame{Event: event, Topic: topic, Data: payload})
	if err != nil {
		return fmt.Errorf("failed to marshal broadcast frame: %w", err)
	}

	h.mu.RLock()
	members := make([]*Client, 0, len(h.rooms[topic]))
	for c := range h.rooms[topic] {
		members = append(members, c)
	}
	h.mu.RUnlock()

	for _, c := range members {
		if !c.trySend(frame) {
			h.droppedFrames.Add(1)
			h.logger.Warn().Str("topic", topic).Str("client_id", c.ID).Msg("Client send buffer full, dropping frame.")
		}
	}
	return nil
}

// ConnectionCount returns the number of connected clients.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// TopicCounts returns a snapshot of member counts per topic.
func (h *Hub) TopicCounts() map[string]int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	counts := make(map[string]int, len(h.rooms))
	for topic, members := range h.rooms {
		counts[topic] = len(members)
	}
	return counts
}

// DroppedFrames returns the number of frames dropped for slow clients.
func (h *Hub) DroppedFrames() uint64 {
	return h.droppedFrames.Load()
}
