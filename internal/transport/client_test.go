package transport

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeRealtime mimics the provider's realtime endpoint
type fakeRealtime struct {
	t        *testing.T
	upgrader websocket.Upgrader
	// behaviour after the conversation starts
	onOpen func(conn *websocket.Conn)

	mu    sync.Mutex
	query url.Values
	path  string
}

func (f *fakeRealtime) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	f.query = r.URL.Query()
	f.path = r.URL.Path
	f.mu.Unlock()

	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()

	_ = conn.WriteJSON(Frame{Type: FrameConversationStarted})
	if f.onOpen != nil {
		f.onOpen(conn)
		return
	}

	// Default: wait for hangup, then end the conversation
	for {
		var frame Frame
		if err := conn.ReadJSON(&frame); err != nil {
			return
		}
		if frame.Type == FrameHangup {
			_ = conn.WriteJSON(Frame{Type: FrameConversationEnded, Code: 1000, Reason: "user_hangup"})
			return
		}
	}
}

type recorder struct {
	mu     sync.Mutex
	events []Event
	ch     chan Event
}

func newRecorder() *recorder {
	return &recorder{ch: make(chan Event, 16)}
}

func (r *recorder) record(ev Event) {
	r.mu.Lock()
	r.events = append(r.events, ev)
	r.mu.Unlock()
	r.ch <- ev
}

func (r *recorder) next(t *testing.T) Event {
	t.Helper()
	select {
	case ev := <-r.ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for transport event")
		return Event{}
	}
}

func startServer(t *testing.T, f *fakeRealtime) string {
	t.Helper()
	f.t = t
	srv := httptest.NewServer(f)
	t.Cleanup(srv.Close)
	return srv.URL + "/realtime"
}

func opts(callID string) StartOptions {
	return StartOptions{AccessToken: "tok-" + callID, CallID: callID, SampleRate: 16000, EnableUpdate: true}
}

func TestClientStartSendsCallParameters(t *testing.T) {
	fake := &fakeRealtime{}
	c := NewClient(startServer(t, fake), zerolog.Nop())
	defer c.Close()

	rec := newRecorder()
	c.Subscribe(rec.record)

	require.NoError(t, c.Start(context.Background(), opts("call-1")))
	ev := rec.next(t)
	assert.Equal(t, EventStarted, ev.Kind)
	assert.Equal(t, "call-1", ev.CallID)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.Equal(t, "/realtime/call-1", fake.path)
	assert.Equal(t, "tok-call-1", fake.query.Get("access_token"))
	assert.Equal(t, "16000", fake.query.Get("sample_rate"))
	assert.Equal(t, "true", fake.query.Get("enable_update"))
}

func TestClientStopHangsUp(t *testing.T) {
	c := NewClient(startServer(t, &fakeRealtime{}), zerolog.Nop())
	defer c.Close()

	rec := newRecorder()
	c.Subscribe(rec.record)

	require.NoError(t, c.Start(context.Background(), opts("call-1")))
	assert.Equal(t, EventStarted, rec.next(t).Kind)

	require.NoError(t, c.Stop(context.Background()))

	ev := rec.next(t)
	assert.Equal(t, EventEnded, ev.Kind)
	assert.Equal(t, "call-1", ev.CallID)
	assert.Equal(t, "user_hangup", ev.Reason)

	// The slot is free again
	require.NoError(t, c.Start(context.Background(), opts("call-2")))
	ev = rec.next(t)
	assert.Equal(t, EventStarted, ev.Kind)
	assert.Equal(t, "call-2", ev.CallID)
}

func TestClientProviderEndsCall(t *testing.T) {
	fake := &fakeRealtime{onOpen: func(conn *websocket.Conn) {
		_ = conn.WriteJSON(Frame{Type: FrameConversationEnded, Code: 1000, Reason: "agent_hangup"})
	}}
	c := NewClient(startServer(t, fake), zerolog.Nop())
	defer c.Close()

	rec := newRecorder()
	c.Subscribe(rec.record)

	require.NoError(t, c.Start(context.Background(), opts("call-1")))
	assert.Equal(t, EventStarted, rec.next(t).Kind)

	ev := rec.next(t)
	assert.Equal(t, EventEnded, ev.Kind)
	assert.Equal(t, "agent_hangup", ev.Reason)

	// No error event follows a clean end
	select {
	case ev := <-rec.ch:
		t.Fatalf("unexpected event after end: %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClientConnectionLostEmitsError(t *testing.T) {
	fake := &fakeRealtime{onOpen: func(conn *websocket.Conn) {
		// Drop the connection without a close frame
		conn.UnderlyingConn().Close()
	}}
	c := NewClient(startServer(t, fake), zerolog.Nop())
	defer c.Close()

	rec := newRecorder()
	c.Subscribe(rec.record)

	require.NoError(t, c.Start(context.Background(), opts("call-1")))
	assert.Equal(t, EventStarted, rec.next(t).Kind)

	ev := rec.next(t)
	assert.Equal(t, EventError, ev.Kind)
	assert.Equal(t, "call-1", ev.CallID)
}

func TestClientProviderErrorFrame(t *testing.T) {
	fake := &fakeRealtime{onOpen: func(conn *websocket.Conn) {
		_ = conn.WriteJSON(Frame{Type: FrameError, Message: "media failure"})
	}}
	c := NewClient(startServer(t, fake), zerolog.Nop())
	defer c.Close()

	rec := newRecorder()
	c.Subscribe(rec.record)

	require.NoError(t, c.Start(context.Background(), opts("call-1")))
	assert.Equal(t, EventStarted, rec.next(t).Kind)

	ev := rec.next(t)
	assert.Equal(t, EventError, ev.Kind)
	assert.Equal(t, "media failure", ev.Message)
}

func TestClientStateErrors(t *testing.T) {
	c := NewClient(startServer(t, &fakeRealtime{}), zerolog.Nop())
	defer c.Close()

	assert.ErrorIs(t, c.Stop(context.Background()), ErrNotStarted)

	require.NoError(t, c.Start(context.Background(), opts("call-1")))
	assert.ErrorIs(t, c.Start(context.Background(), opts("call-2")), ErrAlreadyStarted)

	require.NoError(t, c.Close())
	assert.ErrorIs(t, c.Start(context.Background(), opts("call-3")), ErrClosed)
}

func TestClientDialFailure(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	c := NewClient(srv.URL, zerolog.Nop())
	defer c.Close()

	err := c.Start(context.Background(), opts("call-1"))
	require.Error(t, err)
	assert.True(t, strings.Contains(err.Error(), "call-1"))

	// A failed start leaves the client reusable
	assert.ErrorIs(t, c.Stop(context.Background()), ErrNotStarted)
}

func TestClientUnsubscribe(t *testing.T) {
	c := NewClient(startServer(t, &fakeRealtime{}), zerolog.Nop())
	defer c.Close()

	rec := newRecorder()
	unsubscribe := c.Subscribe(rec.record)
	unsubscribe()
	unsubscribe()

	require.NoError(t, c.Start(context.Background(), opts("call-1")))
	select {
	case ev := <-rec.ch:
		t.Fatalf("unsubscribed listener received %+v", ev)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestFactoryBuildsIndependentClients(t *testing.T) {
	f := NewFactory("ws://localhost:1", zerolog.Nop())
	a, b := f.New(), f.New()
	assert.NotSame(t, a, b)
}
