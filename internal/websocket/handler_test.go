package websocket

import (
	"context"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/dennisdiepolder/hostline/internal/config"
	"github.com/dennisdiepolder/hostline/internal/reconcile"
	"github.com/dennisdiepolder/hostline/internal/storage"
	"github.com/dennisdiepolder/hostline/internal/transport"
	"github.com/dennisdiepolder/hostline/internal/types"
	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCalls struct{}

func (stubCalls) CreateWebCall(context.Context, string) (*types.WebCall, error) {
	return &types.WebCall{CallID: "call-1", AccessToken: "tok"}, nil
}

// stubTransport accepts every start and confirms every stop
type stubTransport struct {
	mu        sync.Mutex
	listeners []func(transport.Event)
	callID    string
	closed    bool
}

func (s *stubTransport) Start(_ context.Context, opts transport.StartOptions) error {
	s.mu.Lock()
	s.callID = opts.CallID
	s.mu.Unlock()
	return nil
}

func (s *stubTransport) Stop(context.Context) error { return nil }

func (s *stubTransport) Subscribe(fn func(transport.Event)) func() {
	s.mu.Lock()
	s.listeners = append(s.listeners, fn)
	s.mu.Unlock()
	return func() {}
}

func (s *stubTransport) Close() error {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
	return nil
}

func (s *stubTransport) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

type stubFactory struct {
	mu    sync.Mutex
	built []*stubTransport
}

func (f *stubFactory) New() transport.Transport {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &stubTransport{}
	f.built = append(f.built, t)
	return t
}

type countingReconciler struct {
	mu    sync.Mutex
	calls []string
}

func (r *countingReconciler) Reconcile(_ context.Context, _, callID string) *reconcile.Result {
	r.mu.Lock()
	r.calls = append(r.calls, callID)
	r.mu.Unlock()
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		AllowedOrigins: []string{"http://localhost:5173"},
		PongWait:       time.Minute,
		PingPeriod:     54 * time.Second,
		WriteWait:      10 * time.Second,
		MaxMessageSize: 4096,
		Call:           config.CallConfig{SampleRate: 16000, EnableUpdate: true},
	}
}

type pageEnv struct {
	url        string
	hub        *Hub
	store      *storage.MemoryStore
	factory    *stubFactory
	reconciler *countingReconciler
}

func newPageEnv(t *testing.T) *pageEnv {
	t.Helper()
	logger := zerolog.Nop()
	env := &pageEnv{
		hub:        NewHub(logger),
		store:      storage.NewMemoryStore(),
		factory:    &stubFactory{},
		reconciler: &countingReconciler{},
	}

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go env.hub.Run(ctx)

	h := NewHandler(env.hub, testConfig(), PageDeps{
		Store:      env.store,
		Calls:      stubCalls{},
		Transports: env.factory,
		Reconciler: env.reconciler,
	}, logger)

	r := chi.NewRouter()
	r.Get("/ws/pages/{userId}", h.ServeHTTP)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)

	env.url = "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/pages/"
	return env
}

func dialPage(t *testing.T, url string) *websocket.Conn {
	t.Helper()
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}

func readMsg(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func TestPageTogglesCall(t *testing.T) {
	env := newPageEnv(t)
	ctx := context.Background()
	require.NoError(t, env.store.PutUser(ctx, types.UserRecord{
		UserID:         "u1",
		RestaurantName: "Trattoria",
		AgentData:      &types.AgentProfile{AgentID: "agent-1"},
	}))

	conn := dialPage(t, env.url+"u1")

	assistant := readMsg(t, conn)
	assert.Equal(t, "assistant", assistant["type"])
	assert.Equal(t, "Trattoria", assistant["restaurantName"])
	assert.Equal(t, true, assistant["hasAgent"])

	status := readMsg(t, conn)
	assert.Equal(t, "call_status", status["type"])
	assert.Equal(t, "not-started", status["status"])

	require.NoError(t, conn.WriteJSON(types.PageCommand{Type: types.MsgToggle}))
	status = readMsg(t, conn)
	assert.Equal(t, "active", status["status"])
	assert.Equal(t, "call-1", status["callId"])

	require.NoError(t, conn.WriteJSON(types.PageCommand{Type: types.MsgToggle}))
	status = readMsg(t, conn)
	assert.Equal(t, "inactive", status["status"])

	env.reconciler.mu.Lock()
	assert.Equal(t, []string{"call-1"}, env.reconciler.calls)
	env.reconciler.mu.Unlock()
}

func TestPageWithoutAgentReportsError(t *testing.T) {
	env := newPageEnv(t)
	conn := dialPage(t, env.url+"unknown-user")

	assistant := readMsg(t, conn)
	assert.Equal(t, false, assistant["hasAgent"])
	readMsg(t, conn) // call_status

	require.NoError(t, conn.WriteJSON(types.PageCommand{Type: types.MsgToggle}))
	msg := readMsg(t, conn)
	assert.Equal(t, "error", msg["type"])
	assert.Equal(t, types.ErrCodeNoAgent, msg["code"])
}

func TestPageRejectsBadMessage(t *testing.T) {
	env := newPageEnv(t)
	conn := dialPage(t, env.url+"u1")
	readMsg(t, conn)
	readMsg(t, conn)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("not json")))
	msg := readMsg(t, conn)
	assert.Equal(t, types.ErrCodeBadMessage, msg["code"])
}

func TestPageDisconnectReleasesTransport(t *testing.T) {
	env := newPageEnv(t)
	conn := dialPage(t, env.url+"u1")
	readMsg(t, conn)
	readMsg(t, conn)

	require.Eventually(t, func() bool { return env.hub.UserClientCount("u1") == 1 }, time.Second, 5*time.Millisecond)
	conn.Close()

	require.Eventually(t, func() bool { return env.hub.UserClientCount("u1") == 0 }, time.Second, 5*time.Millisecond)

	env.factory.mu.Lock()
	built := env.factory.built
	env.factory.mu.Unlock()
	require.Len(t, built, 1)
	assert.Eventually(t, built[0].isClosed, time.Second, 5*time.Millisecond)
}

func TestEachPageGetsItsOwnTransport(t *testing.T) {
	env := newPageEnv(t)
	a := dialPage(t, env.url+"u1")
	b := dialPage(t, env.url+"u1")
	readMsg(t, a)
	readMsg(t, b)

	env.factory.mu.Lock()
	defer env.factory.mu.Unlock()
	require.Len(t, env.factory.built, 2)
	assert.NotSame(t, env.factory.built[0], env.factory.built[1])
}

func TestCheckOrigin(t *testing.T) {
	h := NewHandler(NewHub(zerolog.Nop()), testConfig(), PageDeps{}, zerolog.Nop())

	r := httptest.NewRequest("GET", "/ws/pages/u1", nil)
	assert.True(t, h.checkOrigin(r), "no origin header")

	r.Header.Set("Origin", "http://localhost:5173")
	assert.True(t, h.checkOrigin(r))

	r.Header.Set("Origin", "http://evil.example")
	assert.False(t, h.checkOrigin(r))
}
