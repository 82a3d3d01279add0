// Package ws serves live price updates and bus events over websocket.
package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/alanyoungcy/dexarb/internal/domain"
	"github.com/alanyoungcy/dexarb/internal/pricefeed"
)

const (
	// writeWait is the maximum time to wait for a write to complete.
	writeWait = 10 * time.Second

	// pongWait is the maximum time to wait for a pong from the client.
	pongWait = 60 * time.Second

	// pingPeriod sends pings at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	maxMessageSize = 4096
	sendBufferSize = 256
)

// busChannels are forwarded to every connected client.
var busChannels = []string{domain.ChannelOpportunities, domain.ChannelTrades}

var errSlowClient = errors.New("ws: client send buffer full")

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// PriceFeed is the aggregator surface the hub subscribes through.
type PriceFeed interface {
	Subscribe(pair domain.Pair, fn pricefeed.Listener) pricefeed.ListenerID
	Unsubscribe(pair domain.Pair, id pricefeed.ListenerID)
	Latest(pair domain.Pair) (domain.PriceObservation, bool)
}

// inbound is a client request.
type inbound struct {
	Type      string       `json:"type"`
	TokenPair *domain.Pair `json:"token_pair"`
}

// outbound is a reply or push to a client.
type outbound struct {
	Type      string       `json:"type"`
	TokenPair *domain.Pair `json:"token_pair,omitempty"`
	Data      any          `json:"data,omitempty"`
	Message   string       `json:"message,omitempty"`
}

// Hub tracks connected clients. Price updates go only to clients subscribed
// to the pair; bus events go to everyone.
type Hub struct {
	feed       PriceFeed
	bus        domain.SignalBus
	clients    map[*client]bool
	broadcast  chan []byte
	register   chan *client
	unregister chan *client
	// done is closed when Run returns, releasing pumps blocked on
	// register or unregister.
	done       chan struct{}
	mu         sync.RWMutex
	logger     *slog.Logger
}

// NewHub creates a Hub. bus may be nil.
func NewHub(feed PriceFeed, bus domain.SignalBus, logger *slog.Logger) *Hub {
	return &Hub{
		feed:       feed,
		bus:        bus,
		clients:    make(map[*client]bool),
		broadcast:  make(chan []byte, 256),
		register:   make(chan *client),
		unregister: make(chan *client),
		done:       make(chan struct{}),
		logger:     logger.With(slog.String("component", "ws")),
	}
}

// Run drives registration and broadcast until ctx is cancelled. It must be
// running before HandleWS accepts connections.
func (h *Hub) Run(ctx context.Context) error {
	defer close(h.done)
	if h.bus != nil {
		for _, ch := range busChannels {
			go h.forward(ctx, ch)
		}
	}

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for c := range h.clients {
				c.close()
				delete(h.clients, c)
			}
			h.mu.Unlock()
			return ctx.Err()

		case c := <-h.register:
			h.mu.Lock()
			h.clients[c] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client connected", slog.Int("total_clients", n))

		case c := <-h.unregister:
			h.mu.Lock()
			if h.clients[c] {
				delete(h.clients, c)
				c.close()
			}
			n := len(h.clients)
			h.mu.Unlock()
			h.logger.Info("ws: client disconnected", slog.Int("total_clients", n))

		case msg := <-h.broadcast:
			h.mu.RLock()
			for c := range h.clients {
				if err := c.enqueue(msg); err != nil {
					h.logger.Warn("ws: dropping message for slow client")
				}
			}
			h.mu.RUnlock()
		}
	}
}

// forward relays one bus channel into the broadcast queue.
func (h *Hub) forward(ctx context.Context, channel string) {
	msgs, err := h.bus.Subscribe(ctx, channel)
	if err != nil {
		h.logger.Error("ws: failed to subscribe to channel",
			slog.String("channel", channel),
			slog.String("error", err.Error()),
		)
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-msgs:
			if !ok {
				h.logger.Warn("ws: channel subscription closed", slog.String("channel", channel))
				return
			}
			select {
			case h.broadcast <- data:
			case <-ctx.Done():
				return
			}
		}
	}
}

// HandleWS upgrades the request and starts the client's pumps.
// GET /ws
func (h *Hub) HandleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("ws: upgrade failed", slog.String("error", err.Error()))
		return
	}

	c := &client{
		hub:  h,
		conn: conn,
		send: make(chan []byte, sendBufferSize),
		subs: make(map[domain.Pair]pricefeed.ListenerID),
	}
	select {
	case h.register <- c:
	case <-h.done:
		conn.Close()
		return
	}

	go c.writePump()
	go c.readPump()
}

type client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	subs   map[domain.Pair]pricefeed.ListenerID
	closed bool
}

// enqueue queues msg without blocking. It is safe after close.
func (c *client) enqueue(msg []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	select {
	case c.send <- msg:
		return nil
	default:
		return errSlowClient
	}
}

func (c *client) reply(msg outbound) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	if err := c.enqueue(data); err != nil {
		c.hub.logger.Warn("ws: dropping reply for slow client", slog.String("type", msg.Type))
	}
}

// close drops every price subscription and ends the write pump.
func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	for pair, id := range c.subs {
		c.hub.feed.Unsubscribe(pair, id)
	}
	clear(c.subs)
	close(c.send)
}

func (c *client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
			c.close()
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("ws: unexpected close error", slog.String("error", err.Error()))
			}
			return
		}

		var msg inbound
		if err := json.Unmarshal(message, &msg); err != nil {
			c.reply(outbound{Type: "error", Message: "Invalid JSON"})
			continue
		}
		c.handle(msg)
	}
}

func (c *client) handle(msg inbound) {
	switch msg.Type {
	case "subscribe", "unsubscribe":
	default:
		c.reply(outbound{Type: "error", Message: fmt.Sprintf("Unknown message type: %s", msg.Type)})
		return
	}
	if msg.TokenPair == nil || !msg.TokenPair.Valid() {
		c.reply(outbound{Type: "error", Message: "Invalid token pair"})
		return
	}
	pair := *msg.TokenPair

	if msg.Type == "unsubscribe" {
		c.unsubscribe(pair)
		c.reply(outbound{Type: "unsubscription_success", TokenPair: &pair})
		return
	}

	c.subscribe(pair)
	c.reply(outbound{Type: "subscription_success", TokenPair: &pair})
	if obs, ok := c.hub.feed.Latest(pair); ok && obs.Usable() {
		c.reply(priceUpdate(obs))
	}
}

func (c *client) subscribe(pair domain.Pair) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[pair]; ok || c.closed {
		return
	}
	c.subs[pair] = c.hub.feed.Subscribe(pair, func(_ context.Context, obs domain.PriceObservation) error {
		data, err := json.Marshal(priceUpdate(obs))
		if err != nil {
			return err
		}
		return c.enqueue(data)
	})
}

func (c *client) unsubscribe(pair domain.Pair) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if id, ok := c.subs[pair]; ok {
		c.hub.feed.Unsubscribe(pair, id)
		delete(c.subs, pair)
	}
}

func priceUpdate(obs domain.PriceObservation) outbound {
	return outbound{Type: "price_update", TokenPair: &obs.Pair, Data: domain.NewPriceEvent(obs)}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
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
