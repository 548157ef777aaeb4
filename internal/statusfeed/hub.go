// Package statusfeed broadcasts case-lifecycle events to connected
// websocket subscribers, for dashboards watching the orchestrator live
// instead of polling the status API.
package statusfeed

import (
	"context"
	"sync"

	"qaorchestrator/internal/caseevents"
	"qaorchestrator/internal/logger"
	"qaorchestrator/internal/metrics"
)

// Hub fans caseevents.Event values out to every connected Client.
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *caseevents.Event
	register   chan *Client
	unregister chan *Client
	source     *caseevents.RedisPub
	mu         sync.RWMutex
	stopCh     chan struct{}
	wg         sync.WaitGroup
}

// NewHub wires a Hub to a Redis-backed event source.
func NewHub(source *caseevents.RedisPub) *Hub {
	return &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *caseevents.Event, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		source:     source,
		stopCh:     make(chan struct{}),
	}
}

// Run subscribes to the event source and services registration and
// broadcast traffic until ctx is cancelled or Stop is called.
func (h *Hub) Run(ctx context.Context) {
	eventCh, err := h.source.SubscribeAll(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("status feed failed to subscribe to case events")
		return
	}

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ctx.Done():
				return
			case <-h.stopCh:
				return
			case event, ok := <-eventCh:
				if !ok {
					return
				}
				h.broadcast <- event
			}
		}
	}()

	h.wg.Add(1)
	go func() {
		defer h.wg.Done()
		for {
			select {
			case <-ctx.Done():
				h.closeAllClients()
				return
			case <-h.stopCh:
				h.closeAllClients()
				return
			case client := <-h.register:
				h.mu.Lock()
				h.clients[client] = true
				h.mu.Unlock()
				metrics.SetStatusFeedConnections(float64(h.ClientCount()))

			case client := <-h.unregister:
				h.mu.Lock()
				if _, ok := h.clients[client]; ok {
					delete(h.clients, client)
					close(client.send)
				}
				h.mu.Unlock()
				metrics.SetStatusFeedConnections(float64(h.ClientCount()))

			case event := <-h.broadcast:
				h.broadcastEvent(event)
			}
		}
	}()

	logger.Info().Msg("status feed hub started")
}

// Stop drains and tears down the hub.
func (h *Hub) Stop() {
	close(h.stopCh)
	h.wg.Wait()
}

// Register admits a client to the hub.
func (h *Hub) Register(client *Client) { h.register <- client }

// Unregister removes a client from the hub.
func (h *Hub) Unregister(client *Client) { h.unregister <- client }

// ClientCount reports the number of currently connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) broadcastEvent(event *caseevents.Event) {
	data, err := event.ToJSON()
	if err != nil {
		logger.Error().Err(err).Msg("failed to serialize case event")
		return
	}

	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.clients {
		if !client.IsSubscribed(event.Type) {
			continue
		}
		select {
		case client.send <- data:
			metrics.RecordStatusFeedMessage(string(event.Type))
		default:
			go func(c *Client) { h.unregister <- c }(client)
		}
	}
}

func (h *Hub) closeAllClients() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		close(client.send)
		delete(h.clients, client)
	}
}
