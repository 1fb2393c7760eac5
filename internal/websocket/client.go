package websocket

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/dennisdiepolder/hostline/internal/config"
	"github.com/dennisdiepolder/hostline/internal/metrics"
	"github.com/dennisdiepolder/hostline/internal/session"
	"github.com/dennisdiepolder/hostline/internal/types"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Toggler is the part of the call controller a page drives
type Toggler interface {
	Toggle(ctx context.Context) error
	Close()
}

// Client is a middleman between a page's websocket connection and its
// call controller
type Client struct {
	// Unique client ID
	id string

	// Owner of the page
	userID string

	// The hub this client belongs to
	hub *Hub

	// The websocket connection
	conn *websocket.Conn

	// Buffered channel of outbound messages
	send chan []byte

	// Guards send against use after the hub closed it
	sendMu     sync.Mutex
	sendClosed bool

	// The page's call controller, set before the pumps start
	controller Toggler

	// Canceled when the page goes away
	ctx    context.Context
	cancel context.CancelFunc

	// Configuration
	config *config.Config

	metrics *metrics.Metrics

	// Logger
	logger zerolog.Logger
}

// NewClient creates a new Client
func NewClient(hub *Hub, conn *websocket.Conn, userID string, cfg *config.Config, logger zerolog.Logger) *Client {
	clientID := uuid.New().String()
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		id:     clientID,
		userID: userID,
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, 64),
		ctx:    ctx,
		cancel: cancel,
		config: cfg,
		logger: logger.With().Str("client_id", clientID).Str("user_id", userID).Logger(),
	}
}

// enqueue queues a message without blocking. It reports false when the
// buffer is full.
func (c *Client) enqueue(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.sendClosed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if !c.sendClosed {
		c.sendClosed = true
		close(c.send)
	}
}

// sendJSON queues v for this page only
func (c *Client) sendJSON(v any) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error().Err(err).Msg("failed to marshal page message")
		return
	}
	if !c.enqueue(data) {
		c.logger.Warn().Msg("send buffer full, dropping message")
	}
}

func (c *Client) sendStatus(s types.CallSession) {
	c.sendJSON(types.CallStatusMsg{Type: types.MsgCallStatus, Status: s.Status, CallID: s.CallID})
}

func (c *Client) sendError(code, message string) {
	c.sendJSON(types.ErrorMsg{Type: types.MsgError, Code: code, Message: message})
}

// readPump pumps commands from the page to the controller
//
// The application runs readPump in a per-connection goroutine. The application
// ensures that there is at most one reader on a connection by executing all
// reads from this goroutine.
func (c *Client) readPump() {
	defer func() {
		c.cancel()
		if c.controller != nil {
			c.controller.Close()
		}
		c.hub.Unregister(c)
		c.conn.Close()
		c.metrics.RecordPageDisconnect()
	}()

	c.conn.SetReadLimit(c.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Error().Err(err).Msg("websocket read error")
			}
			break
		}

		var cmd types.PageCommand
		if err := json.Unmarshal(message, &cmd); err != nil {
			c.sendError(types.ErrCodeBadMessage, "invalid JSON")
			continue
		}

		switch cmd.Type {
		case types.MsgToggle:
			// Toggling talks to the provider; keep reading so pongs and a
			// second toggle are handled meanwhile.
			go c.toggle()
		default:
			c.logger.Debug().Str("type", cmd.Type).Msg("ignoring unknown page message")
			c.sendError(types.ErrCodeBadMessage, "unknown message type")
		}
	}
}

func (c *Client) toggle() {
	if c.controller == nil {
		return
	}
	err := c.controller.Toggle(c.ctx)
	switch {
	case err == nil:
	case errors.Is(err, session.ErrNoAgentProfile):
		c.sendError(types.ErrCodeNoAgent, "no assistant is configured for this restaurant")
	case errors.Is(err, session.ErrTransitionInProgress):
		c.sendError(types.ErrCodeBusy, "a call is already starting or stopping")
	case errors.Is(err, session.ErrClosed), errors.Is(err, context.Canceled):
	default:
		c.logger.Error().Err(err).Msg("toggle failed")
		c.sendError(types.ErrCodeCallFailed, err.Error())
	}
}

// writePump pumps messages from the hub to the websocket connection
//
// A goroutine running writePump is started for each connection. The
// application ensures that there is at most one writer to a connection by
// executing all writes from this goroutine.
func (c *Client) writePump() {
	ticker := time.NewTicker(c.config.PingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if !ok {
				// The hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// Start starts the client's read and write pumps
func (c *Client) Start() {
	go c.writePump()
	go c.readPump()
}
