package websocket

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"
)

// outbound is a message queued for every open page of one user
type outbound struct {
	userID string
	data   []byte
}

// Hub maintains the set of connected pages and routes messages to them
type Hub struct {
	// Registered clients, grouped by user
	clients map[*Client]bool
	byUser  map[string]map[*Client]bool

	// Outbound messages
	outbox chan outbound

	// Register requests from the clients
	register chan *Client

	// Unregister requests from clients
	unregister chan *Client

	// Closed when Run returns
	done chan struct{}

	// Mutex to protect the client maps
	mu sync.RWMutex

	// Logger
	logger zerolog.Logger
}

// NewHub creates a new Hub
func NewHub(logger zerolog.Logger) *Hub {
	return &Hub{
		outbox:     make(chan outbound, 256),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		clients:    make(map[*Client]bool),
		byUser:     make(map[string]map[*Client]bool),
		logger:     logger.With().Str("component", "hub").Logger(),
	}
}

// Run starts the hub's main loop. When ctx is done every client is
// disconnected and Run returns.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.closeAll()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			if h.byUser[client.userID] == nil {
				h.byUser[client.userID] = make(map[*Client]bool)
			}
			h.byUser[client.userID][client] = true
			total := len(h.clients)
			h.mu.Unlock()
			h.logger.Info().
				Str("client_id", client.id).
				Str("user_id", client.userID).
				Int("total_clients", total).
				Msg("page connected")

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				h.remove(client)
				h.logger.Info().
					Str("client_id", client.id).
					Str("user_id", client.userID).
					Int("total_clients", len(h.clients)).
					Msg("page disconnected")
			}
			h.mu.Unlock()

		case msg := <-h.outbox:
			h.deliver(msg)
		}
	}
}

// remove drops a client and closes its send channel. h.mu must be held.
func (h *Hub) remove(client *Client) {
	delete(h.clients, client)
	if set := h.byUser[client.userID]; set != nil {
		delete(set, client)
		if len(set) == 0 {
			delete(h.byUser, client.userID)
		}
	}
	client.closeSend()
}

func (h *Hub) deliver(msg outbound) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.byUser[msg.userID] {
		if !client.enqueue(msg.data) {
			// Client's send buffer is full, close and remove it
			h.remove(client)
			h.logger.Warn().
				Str("client_id", client.id).
				Msg("client send buffer full, closing connection")
		}
	}
}

func (h *Hub) closeAll() {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		h.remove(client)
	}
	h.logger.Info().Msg("all pages disconnected")
}

// SendToUser sends v as JSON to every open page of userID
func (h *Hub) SendToUser(userID string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	h.enqueue(outbound{userID: userID, data: data})
	return nil
}

func (h *Hub) enqueue(msg outbound) {
	select {
	case h.outbox <- msg:
	case <-h.done:
	}
}

// Register adds a client. It reports false once the hub has stopped.
func (h *Hub) Register(client *Client) bool {
	select {
	case h.register <- client:
		return true
	case <-h.done:
		return false
	}
}

func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

// ClientCount returns the number of connected pages
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// UserClientCount returns the number of open pages of one user
func (h *Hub) UserClientCount(userID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.byUser[userID])
}
