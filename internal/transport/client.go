package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

const (
	// Write timeout
	writeTimeout = 10 * time.Second

	// How long Stop waits for the provider to close after hangup
	stopTimeout = 5 * time.Second

	handshakeTimeout = 10 * time.Second
)

// stream is one open call connection
type stream struct {
	conn   *websocket.Conn
	callID string
	done   chan struct{}

	mu       sync.Mutex // guards writes and the flags below
	stopping bool
	finished bool // ended or errored; the read loop exits quietly
}

// Client implements Transport over a websocket to the provider
type Client struct {
	realtimeURL string
	dialer      *websocket.Dialer
	logger      zerolog.Logger

	mu        sync.Mutex
	current   *stream
	listeners map[int]func(Event)
	nextID    int
	closed    bool
}

// NewClient creates a transport client for the given realtime base URL
func NewClient(realtimeURL string, logger zerolog.Logger) *Client {
	return &Client{
		realtimeURL: strings.TrimRight(realtimeURL, "/"),
		dialer: &websocket.Dialer{
			HandshakeTimeout: handshakeTimeout,
		},
		logger:    logger.With().Str("component", "transport").Logger(),
		listeners: make(map[int]func(Event)),
	}
}

// Subscribe registers fn for every event
func (c *Client) Subscribe(fn func(Event)) func() {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := c.nextID
	c.nextID++
	c.listeners[id] = fn

	var once sync.Once
	return func() {
		once.Do(func() {
			c.mu.Lock()
			delete(c.listeners, id)
			c.mu.Unlock()
		})
	}
}

func (c *Client) emit(ev Event) {
	c.mu.Lock()
	fns := make([]func(Event), 0, len(c.listeners))
	for _, fn := range c.listeners {
		fns = append(fns, fn)
	}
	c.mu.Unlock()

	for _, fn := range fns {
		fn(ev)
	}
}

func (c *Client) callURL(opts StartOptions) (string, error) {
	base := c.realtimeURL
	// Convert http:// to ws:// or https:// to wss://
	if strings.HasPrefix(base, "http") {
		base = "ws" + base[4:]
	}

	u, err := url.Parse(base + "/" + url.PathEscape(opts.CallID))
	if err != nil {
		return "", fmt.Errorf("invalid realtime url: %w", err)
	}
	q := u.Query()
	q.Set("access_token", opts.AccessToken)
	q.Set("sample_rate", strconv.Itoa(opts.SampleRate))
	q.Set("enable_update", strconv.FormatBool(opts.EnableUpdate))
	u.RawQuery = q.Encode()
	return u.String(), nil
}

// Start dials the realtime endpoint for opts.CallID
func (c *Client) Start(ctx context.Context, opts StartOptions) error {
	if opts.CallID == "" || opts.AccessToken == "" {
		return fmt.Errorf("transport: call id and access token are required")
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.current != nil {
		c.mu.Unlock()
		return ErrAlreadyStarted
	}
	// Reserve the slot so a concurrent Start fails fast
	pending := &stream{callID: opts.CallID, done: make(chan struct{})}
	c.current = pending
	c.mu.Unlock()

	var conn *websocket.Conn
	wsURL, err := c.callURL(opts)
	if err == nil {
		conn, _, err = c.dialer.DialContext(ctx, wsURL, nil)
	}

	c.mu.Lock()
	if err != nil || c.closed {
		c.current = nil
		c.mu.Unlock()
		if err == nil {
			conn.Close()
			return ErrClosed
		}
		return fmt.Errorf("failed to connect call %s: %w", opts.CallID, err)
	}
	pending.conn = conn
	c.mu.Unlock()

	c.logger.Debug().Str("call_id", opts.CallID).Msg("realtime connected")
	go c.readLoop(pending)
	return nil
}

// readLoop translates provider frames into events until the connection ends
func (c *Client) readLoop(s *stream) {
	defer func() {
		s.conn.Close()
		c.mu.Lock()
		if c.current == s {
			c.current = nil
		}
		c.mu.Unlock()
		close(s.done)
	}()

	for {
		_, data, err := s.conn.ReadMessage()
		if err != nil {
			s.mu.Lock()
			quiet := s.stopping || s.finished
			s.finished = true
			s.mu.Unlock()
			if !quiet {
				c.logger.Warn().Err(err).Str("call_id", s.callID).Msg("realtime connection lost")
				c.emit(Event{Kind: EventError, CallID: s.callID, Message: fmt.Sprintf("connection lost: %v", err)})
			}
			return
		}

		var f Frame
		if err := json.Unmarshal(data, &f); err != nil {
			c.logger.Debug().Err(err).Msg("ignoring malformed frame")
			continue
		}

		switch f.Type {
		case FrameConversationStarted:
			c.emit(Event{Kind: EventStarted, CallID: s.callID})
		case FrameConversationEnded:
			s.mu.Lock()
			s.finished = true
			s.mu.Unlock()
			c.emit(Event{Kind: EventEnded, CallID: s.callID, Code: f.Code, Reason: f.Reason})
			return
		case FrameError:
			s.mu.Lock()
			s.finished = true
			s.mu.Unlock()
			c.emit(Event{Kind: EventError, CallID: s.callID, Message: f.Message})
			return
		}
	}
}

// Stop sends a hangup and waits for the provider to close the connection
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	s := c.current
	started := s != nil && s.conn != nil
	c.mu.Unlock()
	if !started {
		return ErrNotStarted
	}

	s.mu.Lock()
	s.stopping = true
	var writeErr error
	if !s.finished {
		hangup, _ := json.Marshal(Frame{Type: FrameHangup})
		s.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		writeErr = s.conn.WriteMessage(websocket.TextMessage, hangup)
		if writeErr == nil {
			writeErr = s.conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "hangup"),
				time.Now().Add(writeTimeout))
		}
	}
	s.mu.Unlock()

	timer := time.NewTimer(stopTimeout)
	defer timer.Stop()

	select {
	case <-s.done:
	case <-ctx.Done():
		s.conn.Close()
		<-s.done
		return ctx.Err()
	case <-timer.C:
		c.logger.Warn().Str("call_id", s.callID).Msg("provider did not close after hangup")
		s.conn.Close()
		<-s.done
	}

	if writeErr != nil {
		return fmt.Errorf("failed to hang up call %s: %w", s.callID, writeErr)
	}
	c.logger.Debug().Str("call_id", s.callID).Msg("call stopped")
	return nil
}

// Close releases the connection and every listener
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	s := c.current
	started := s != nil && s.conn != nil
	c.listeners = make(map[int]func(Event))
	c.mu.Unlock()

	if started {
		s.mu.Lock()
		s.stopping = true
		s.mu.Unlock()
		s.conn.Close()
		<-s.done
	}
	return nil
}
