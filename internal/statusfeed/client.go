package statusfeed

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"qaorchestrator/internal/caseevents"
	"qaorchestrator/internal/logger"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 512
	sendBufferSize = 256
)

// Client is one connected status feed subscriber.
type Client struct {
	ID            string
	hub           *Hub
	conn          *websocket.Conn
	send          chan []byte
	subscriptions map[caseevents.Type]bool
	subMu         sync.RWMutex
}

// NewClient wraps an upgraded websocket connection.
func NewClient(hub *Hub, conn *websocket.Conn) *Client {
	return &Client{
		ID:            uuid.New().String()[:8],
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, sendBufferSize),
		subscriptions: make(map[caseevents.Type]bool),
	}
}

// Subscribe narrows the client's feed to a single event type.
func (c *Client) Subscribe(t caseevents.Type) {
	c.subMu.Lock()
	c.subscriptions[t] = true
	c.subMu.Unlock()
}

// IsSubscribed reports whether the client receives events of type t.
// A client with no explicit subscriptions receives everything.
func (c *Client) IsSubscribed(t caseevents.Type) bool {
	c.subMu.RLock()
	defer c.subMu.RUnlock()
	if len(c.subscriptions) == 0 {
		return true
	}
	return c.subscriptions[t]
}

// ReadPump drains the connection until it closes, handling subscription
// commands and liveness pongs.
func (c *Client) ReadPump() {
	defer func() {
		c.hub.Unregister(c)
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				logger.Error().Err(err).Str("client_id", c.ID).Msg("status feed read error")
			}
			return
		}
		c.handleMessage(message)
	}
}

// WritePump pushes broadcast events and keepalive pings to the peer.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// subscribeCommand is the single client->server message this feed
// understands: narrow to a set of event types.
type subscribeCommand struct {
	EventTypes []string `json:"event_types"`
}

func (c *Client) handleMessage(message []byte) {
	var cmd subscribeCommand
	if err := json.Unmarshal(message, &cmd); err != nil {
		logger.Debug().Str("client_id", c.ID).Msg("status feed received unparseable command, ignoring")
		return
	}
	for _, t := range cmd.EventTypes {
		c.Subscribe(caseevents.Type(t))
	}
}
