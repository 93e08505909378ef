package client

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"ridelink/internal/protocol"
	"ridelink/pkg/auth"
	"ridelink/pkg/logger"
)

// relayStub speaks just enough of the wire contract for client tests:
// Authenticate -> AuthSuccess (or Error), Ping -> Pong, and it records every
// other envelope it receives.
type relayStub struct {
	t          *testing.T
	srv        *httptest.Server
	upgrader   websocket.Upgrader
	rejectAuth bool
	silent     bool // never answer pings after auth

	mu       sync.Mutex
	dials    int
	received []protocol.Envelope
	conns    []*websocket.Conn
}

func newRelayStub(t *testing.T) *relayStub {
	s := &relayStub{t: t}
	s.srv = httptest.NewServer(http.HandlerFunc(s.handle))
	t.Cleanup(s.srv.Close)
	return s
}

func (s *relayStub) url() string {
	return "ws" + strings.TrimPrefix(s.srv.URL, "http")
}

func (s *relayStub) handle(w http.ResponseWriter, r *http.Request) {
	ws, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	s.mu.Lock()
	s.dials++
	s.conns = append(s.conns, ws)
	s.mu.Unlock()

	_, msg, err := ws.ReadMessage()
	if err != nil {
		ws.Close()
		return
	}
	env, err := protocol.Decode(msg)
	if err != nil {
		ws.Close()
		return
	}
	if _, ok := env.(protocol.Authenticate); !ok {
		ws.Close()
		return
	}

	if s.rejectAuth {
		s.write(ws, protocol.Error{Code: "AUTH_INVALID", Detail: "bad token"})
		ws.Close()
		return
	}
	s.write(ws, protocol.AuthSuccess{SessionID: "session-1"})

	for {
		_, msg, err := ws.ReadMessage()
		if err != nil {
			ws.Close()
			return
		}
		env, err := protocol.Decode(msg)
		if err != nil {
			continue
		}
		if _, ok := env.(protocol.Ping); ok {
			if !s.silent {
				s.write(ws, protocol.Pong{})
			}
			continue
		}
		s.mu.Lock()
		s.received = append(s.received, env)
		s.mu.Unlock()
	}
}

func (s *relayStub) write(ws *websocket.Conn, env protocol.Envelope) {
	raw, err := protocol.Encode(env)
	if err != nil {
		s.t.Errorf("stub encode: %v", err)
		return
	}
	ws.WriteMessage(websocket.TextMessage, raw)
}

func (s *relayStub) dialCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dials
}

func (s *relayStub) receivedEnvelopes() []protocol.Envelope {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]protocol.Envelope(nil), s.received...)
}

func (s *relayStub) dropConnection(i int) {
	s.mu.Lock()
	conn := s.conns[i]
	s.mu.Unlock()
	conn.Close()
}

func testConfig(url string) Config {
	return Config{
		RelayURL:         url,
		HandshakeTimeout: time.Second,
		PingInterval:     time.Hour, // keep heartbeat quiet unless a test wants it
		StaleAfter:       2 * time.Hour,
		AllowInsecure:    true,
		Logger:           logger.Nop(),
		Backoff: BackoffPolicy{
			InitialDelay: 10 * time.Millisecond,
			MaxDelay:     50 * time.Millisecond,
			MaxAttempts:  5,
		},
	}
}

func waitForState(t *testing.T, c *Client, want State) {
	t.Helper()
	deadline := time.After(3 * time.Second)
	for {
		select {
		case got := <-c.States():
			if got == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for state %s (current %s)", want, c.State())
		}
	}
}

func waitFor(t *testing.T, desc string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(3 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", desc)
}

func TestConnectStateSequence(t *testing.T) {
	stub := newRelayStub(t)
	c, err := New(testConfig(stub.url()))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect()

	if err := c.Connect(context.Background(), "t1", auth.RoleDriver); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	want := []State{StateConnecting, StateConnected, StateAuthenticated}
	for _, w := range want {
		select {
		case got := <-c.States():
			if got != w {
				t.Fatalf("state = %s, want %s", got, w)
			}
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for state %s", w)
		}
	}
}

func TestConnectIdempotent(t *testing.T) {
	stub := newRelayStub(t)
	c, err := New(testConfig(stub.url()))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect()

	if err := c.Connect(context.Background(), "t1", auth.RoleRider); err != nil {
		t.Fatalf("Connect: %v", err)
	}
	if err := c.Connect(context.Background(), "t1", auth.RoleRider); err != nil {
		t.Fatalf("second Connect: %v", err)
	}

	if got := stub.dialCount(); got != 1 {
		t.Errorf("dials = %d, want 1", got)
	}
	if got := c.State(); got != StateAuthenticated {
		t.Errorf("state = %s, want AUTHENTICATED", got)
	}
}

func TestQueuedSendsFlushInOrder(t *testing.T) {
	stub := newRelayStub(t)
	c, err := New(testConfig(stub.url()))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect()

	// Queue while Disconnected.
	for i := 0; i < 3; i++ {
		c.Send(chatN(i))
	}
	if got := c.QueuedMessages(); got != 3 {
		t.Fatalf("queued = %d, want 3", got)
	}

	if err := c.Connect(context.Background(), "t1", auth.RoleRider); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	waitFor(t, "3 envelopes at relay", func() bool {
		return len(stub.receivedEnvelopes()) == 3
	})

	got := stub.receivedEnvelopes()
	for i, env := range got {
		msg, ok := env.(protocol.ChatMessage)
		if !ok {
			t.Fatalf("received[%d] = %T, want ChatMessage", i, env)
		}
		want := fmt.Sprintf("msg-%03d", i)
		if msg.MessageID != want {
			t.Errorf("received[%d] = %s, want %s", i, msg.MessageID, want)
		}
	}
}

func TestReconnectAfterSocketDrop(t *testing.T) {
	stub := newRelayStub(t)
	c, err := New(testConfig(stub.url()))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect()

	if err := c.Connect(context.Background(), "t1", auth.RoleDriver); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	stub.dropConnection(0)

	waitForState(t, c, StateReconnecting)
	waitForState(t, c, StateAuthenticated)

	if got := stub.dialCount(); got < 2 {
		t.Errorf("dials = %d, want at least 2", got)
	}
}

func TestRetriesExhausted(t *testing.T) {
	stub := newRelayStub(t)
	url := stub.url()
	stub.srv.Close() // nobody home

	c, err := New(testConfig(url))
	if err != nil {
		t.Fatal(err)
	}

	err = c.Connect(context.Background(), "t1", auth.RoleRider)
	if !errors.Is(err, ErrRetriesExhausted) {
		t.Fatalf("Connect error = %v, want ErrRetriesExhausted", err)
	}
	if got := c.State(); got != StateError {
		t.Errorf("state = %s, want ERROR", got)
	}
}

func TestAuthRejectedIsTerminal(t *testing.T) {
	stub := newRelayStub(t)
	stub.rejectAuth = true

	c, err := New(testConfig(stub.url()))
	if err != nil {
		t.Fatal(err)
	}

	err = c.Connect(context.Background(), "expired", auth.RoleRider)
	if !errors.Is(err, ErrAuthRejected) {
		t.Fatalf("Connect error = %v, want ErrAuthRejected", err)
	}
	if got := c.State(); got != StateError {
		t.Errorf("state = %s, want ERROR", got)
	}
	if got := stub.dialCount(); got != 1 {
		t.Errorf("dials = %d, want 1 (no retry on rejected credentials)", got)
	}
}

func TestStaleConnectionForcesReconnect(t *testing.T) {
	stub := newRelayStub(t)
	stub.silent = true

	cfg := testConfig(stub.url())
	cfg.PingInterval = 20 * time.Millisecond
	cfg.StaleAfter = 60 * time.Millisecond

	c, err := New(cfg)
	if err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect()

	if err := c.Connect(context.Background(), "t1", auth.RoleDriver); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	waitForState(t, c, StateReconnecting)
	waitFor(t, "second dial", func() bool { return stub.dialCount() >= 2 })
}

func TestDisconnectPreservesQueue(t *testing.T) {
	stub := newRelayStub(t)
	c, err := New(testConfig(stub.url()))
	if err != nil {
		t.Fatal(err)
	}

	c.Send(chatN(0))
	c.Disconnect()

	if got := c.QueuedMessages(); got != 1 {
		t.Errorf("queued after Disconnect = %d, want 1", got)
	}
	if got := c.State(); got != StateDisconnected {
		t.Errorf("state = %s, want DISCONNECTED", got)
	}
}

func TestInboundDelivery(t *testing.T) {
	stub := newRelayStub(t)
	c, err := New(testConfig(stub.url()))
	if err != nil {
		t.Fatal(err)
	}
	defer c.Disconnect()

	if err := c.Connect(context.Background(), "t1", auth.RoleRider); err != nil {
		t.Fatalf("Connect: %v", err)
	}

	update := protocol.RideStatusUpdate{RideID: "ride-9", Status: "SEARCHING", TimestampMs: 42}
	stub.mu.Lock()
	conn := stub.conns[0]
	stub.mu.Unlock()
	stub.write(conn, update)

	select {
	case env := <-c.Inbound():
		got, ok := env.(protocol.RideStatusUpdate)
		if !ok {
			t.Fatalf("inbound = %T, want RideStatusUpdate", env)
		}
		if got != update {
			t.Errorf("inbound = %+v, want %+v", got, update)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for inbound envelope")
	}
}

func TestInsecureEndpointRejected(t *testing.T) {
	cfg := testConfig("ws://relay.example.com/ws")
	cfg.AllowInsecure = false

	if _, err := New(cfg); !errors.Is(err, ErrInsecureEndpoint) {
		t.Fatalf("New error = %v, want ErrInsecureEndpoint", err)
	}
}
