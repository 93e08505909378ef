package client

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ridelink/internal/protocol"
	"ridelink/pkg/auth"
	"ridelink/pkg/logger"
)

const (
	// Time allowed to write a message to the relay
	writeWait = 10 * time.Second

	// Max inbound frame size
	maxMessageSize = 64 * 1024

	inboundBuffer = 256
	stateBuffer   = 64
)

var (
	// ErrRetriesExhausted surfaces after the backoff policy's attempt budget
	// is spent. No further automatic attempts happen until an explicit Connect.
	ErrRetriesExhausted = errors.New("reconnection attempts exhausted")

	// ErrAuthRejected means the relay refused the credentials. The caller must
	// refresh the token before calling Connect again.
	ErrAuthRejected = errors.New("authentication rejected by relay")

	// ErrDisconnected is returned to Connect waiters when Disconnect wins.
	ErrDisconnected = errors.New("client disconnected")

	// ErrInsecureEndpoint rejects ws:// relay URLs outside local development.
	ErrInsecureEndpoint = errors.New("plaintext relay endpoint rejected")
)

// Config holds transport client settings. Zero values fall back to
// production defaults.
type Config struct {
	RelayURL         string
	HandshakeTimeout time.Duration
	PingInterval     time.Duration
	StaleAfter       time.Duration
	QueueCap         int
	Backoff          BackoffPolicy
	AllowInsecure    bool
	Logger           logger.Logger
}

func (c *Config) applyDefaults() {
	if c.HandshakeTimeout == 0 {
		c.HandshakeTimeout = 5 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 30 * time.Second
	}
	if c.StaleAfter == 0 {
		c.StaleAfter = 45 * time.Second
	}
	if c.QueueCap == 0 {
		c.QueueCap = 500
	}
	if c.Backoff == (BackoffPolicy{}) {
		c.Backoff = DefaultBackoff()
	}
	if c.Logger == nil {
		c.Logger = logger.Nop()
	}
}

// Client is the transport manager: it owns one socket, the connection state
// machine, the outbound queue and the heartbeat, and exposes the inbound and
// state streams. One instance per app session; all methods are
// goroutine-safe.
type Client struct {
	cfg   Config
	log   logger.Logger
	queue *outboundQueue

	inbound  chan protocol.Envelope
	statesCh chan State
	flushCh  chan struct{}

	mu      sync.Mutex
	state   State
	token   string
	role    auth.Role
	cancel  context.CancelFunc
	runDone chan struct{}
	waiters []chan error
}

// New validates the relay URL and builds a client in the Disconnected state.
// No I/O happens until Connect.
func New(cfg Config) (*Client, error) {
	cfg.applyDefaults()

	u, err := url.Parse(cfg.RelayURL)
	if err != nil {
		return nil, fmt.Errorf("invalid relay URL: %w", err)
	}
	switch u.Scheme {
	case "wss":
	case "ws":
		if !cfg.AllowInsecure {
			return nil, fmt.Errorf("%w: %s", ErrInsecureEndpoint, cfg.RelayURL)
		}
	default:
		return nil, fmt.Errorf("invalid relay URL scheme %q", u.Scheme)
	}

	return &Client{
		cfg:      cfg,
		log:      cfg.Logger,
		queue:    newOutboundQueue(cfg.QueueCap, cfg.Logger),
		inbound:  make(chan protocol.Envelope, inboundBuffer),
		statesCh: make(chan State, stateBuffer),
		flushCh:  make(chan struct{}, 1),
		state:    StateDisconnected,
	}, nil
}

// Inbound is the ordered stream of decoded envelopes from the relay.
// Keep-alive frames are consumed internally and never appear here.
func (c *Client) Inbound() <-chan protocol.Envelope { return c.inbound }

// States is the observable sequence of connection states, for UI feedback.
func (c *Client) States() <-chan State { return c.statesCh }

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// QueuedMessages returns the number of buffered outbound envelopes.
func (c *Client) QueuedMessages() int { return c.queue.Len() }

// Connect begins the connecting sequence and suspends until the client is
// Authenticated or a terminal Error is reached. Calling it while an attempt
// is already in flight produces no additional socket attempts; the call just
// waits on the in-flight outcome.
func (c *Client) Connect(ctx context.Context, token string, role auth.Role) error {
	c.mu.Lock()
	if c.state == StateAuthenticated {
		c.mu.Unlock()
		return nil
	}
	if c.state.Terminal() {
		c.token = token
		c.role = role
		runCtx, cancel := context.WithCancel(context.Background())
		c.cancel = cancel
		c.runDone = make(chan struct{})
		go c.run(runCtx, c.runDone)
	}
	w := make(chan error, 1)
	c.waiters = append(c.waiters, w)
	c.mu.Unlock()

	select {
	case err := <-w:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Disconnect tears down the socket and cancels the heartbeat and backoff
// timers. It is synchronous: once it returns, no timer fires and no state
// change happens until the next Connect. The outbound queue is preserved.
func (c *Client) Disconnect() {
	c.mu.Lock()
	cancel := c.cancel
	done := c.runDone
	c.cancel = nil
	c.mu.Unlock()

	if cancel != nil {
		cancel()
		<-done
	}
	c.notifyWaiters(ErrDisconnected)
	c.setState(StateDisconnected)
}

// Send enqueues an envelope for delivery. It never blocks; the envelope is
// flushed opportunistically once (and while) the client is Authenticated.
func (c *Client) Send(env protocol.Envelope) {
	c.queue.Enqueue(env)
	c.signalFlush()
}

func (c *Client) signalFlush() {
	select {
	case c.flushCh <- struct{}{}:
	default:
	}
}

// run is the connection episode loop: dial, authenticate, serve, and retry
// per the backoff policy until terminal.
func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	attempt := 0
	for {
		c.setState(StateConnecting)
		conn, err := c.dial(ctx)
		if err == nil {
			c.setState(StateConnected)
			err = c.handshake(conn)
			if err == nil {
				c.setState(StateAuthenticated)
				attempt = 0
				c.notifyWaiters(nil)
				c.serve(ctx, conn)
			} else {
				conn.Close()
				if errors.Is(err, ErrAuthRejected) {
					c.log.Error("auth_rejected", err)
					c.setState(StateError)
					c.notifyWaiters(err)
					return
				}
				c.log.Error("handshake_failed", err)
			}
		} else if ctx.Err() == nil {
			c.log.Error("dial_failed", err)
		}

		if ctx.Err() != nil {
			// Disconnect owns the transition to Disconnected.
			return
		}

		c.setState(StateReconnecting)
		if c.cfg.Backoff.Exhausted(attempt) {
			c.log.WithFields(logger.LogFields{
				"attempts": attempt,
			}).Error("reconnect_exhausted", ErrRetriesExhausted)
			c.setState(StateError)
			c.notifyWaiters(ErrRetriesExhausted)
			return
		}

		delay := c.cfg.Backoff.Delay(attempt)
		attempt++
		c.log.WithFields(logger.LogFields{
			"attempt": attempt,
			"delay":   delay.String(),
		}).Info("reconnect_wait", "Waiting before next connection attempt")

		t := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
	}
}

func (c *Client) dial(ctx context.Context) (*websocket.Conn, error) {
	dialCtx, cancel := context.WithTimeout(ctx, c.cfg.HandshakeTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, c.cfg.RelayURL, nil)
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", c.cfg.RelayURL, err)
	}
	return conn, nil
}

// handshake sends Authenticate and waits for the relay's verdict within the
// handshake timeout. A relay Error envelope here means bad credentials and is
// terminal; everything else is a transport failure and retried.
func (c *Client) handshake(conn *websocket.Conn) error {
	c.mu.Lock()
	authEnv := protocol.Authenticate{Token: c.token, Role: string(c.role)}
	c.mu.Unlock()

	raw, err := protocol.Encode(authEnv)
	if err != nil {
		return fmt.Errorf("encode auth frame: %w", err)
	}

	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteMessage(websocket.TextMessage, raw); err != nil {
		return fmt.Errorf("write auth frame: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(c.cfg.HandshakeTimeout))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read auth response: %w", err)
	}
	conn.SetReadDeadline(time.Time{})

	env, err := protocol.Decode(msg)
	if err != nil {
		return fmt.Errorf("decode auth response: %w", err)
	}

	switch e := env.(type) {
	case protocol.AuthSuccess:
		c.log.WithFields(logger.LogFields{
			"session_id": e.SessionID,
		}).Info("authenticated", "Relay accepted session")
		return nil
	case protocol.Error:
		return fmt.Errorf("%w: %s: %s", ErrAuthRejected, e.Code, e.Detail)
	default:
		return fmt.Errorf("unexpected %s frame during handshake", env.Kind())
	}
}

// serve pumps one authenticated connection: a flusher goroutine drains the
// outbound queue, the heartbeat pings and watches staleness, and the read
// loop delivers inbound envelopes. Returns once the connection is dead and
// all episode goroutines have stopped.
func (c *Client) serve(ctx context.Context, conn *websocket.Conn) {
	w := &connWriter{conn: conn}
	hb := newHeartbeat(c.cfg.PingInterval, c.cfg.StaleAfter, c.log)

	episodeDone := make(chan struct{})
	var closeOnce sync.Once
	closeConn := func() {
		closeOnce.Do(func() { conn.Close() })
	}

	var wg sync.WaitGroup

	// Abort the blocking read when Disconnect cancels the episode.
	wg.Add(1)
	go func() {
		defer wg.Done()
		select {
		case <-ctx.Done():
			closeConn()
		case <-episodeDone:
		}
	}()

	wg.Add(1)
	go func() {
		defer wg.Done()
		c.flushLoop(episodeDone, w, closeConn)
	}()
	c.signalFlush() // drain anything queued while we were away

	wg.Add(1)
	go func() {
		defer wg.Done()
		hb.Run(episodeDone, func() error {
			return w.writeEnvelope(protocol.Ping{})
		}, closeConn)
	}()

	conn.SetReadLimit(maxMessageSize)
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() == nil && websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Error("read_failed", err)
			}
			break
		}
		hb.Touch()

		env, err := protocol.Decode(msg)
		if err != nil {
			// Protocol error: drop the frame, keep the connection.
			c.log.Error("decode_failed", err)
			continue
		}

		switch env.(type) {
		case protocol.Pong:
			continue
		case protocol.Ping:
			if err := w.writeEnvelope(protocol.Pong{}); err != nil {
				c.log.Error("pong_failed", err)
			}
			continue
		default:
			c.deliver(env)
		}
	}

	close(episodeDone)
	closeConn()
	wg.Wait()
}

func (c *Client) flushLoop(done <-chan struct{}, w *connWriter, closeConn func()) {
	for {
		select {
		case <-done:
			return
		case <-c.flushCh:
		}

		for {
			e, ok := c.queue.Dequeue()
			if !ok {
				break
			}
			if err := w.writeEnvelope(e.env); err != nil {
				// Unsent entries stay queued in order for the next episode.
				c.queue.Requeue(e)
				c.log.Error("flush_failed", err)
				closeConn()
				return
			}
		}
	}
}

func (c *Client) deliver(env protocol.Envelope) {
	select {
	case c.inbound <- env:
	default:
		c.log.WithFields(logger.LogFields{
			"kind": string(env.Kind()),
		}).Warn("inbound_dropped", "Inbound buffer full, dropping envelope")
	}
}

func (c *Client) setState(next State) {
	c.mu.Lock()
	prev := c.state
	if prev == next {
		c.mu.Unlock()
		return
	}
	if !prev.CanTransition(next) {
		c.log.WithFields(logger.LogFields{
			"from": prev.String(),
			"to":   next.String(),
		}).Warn("state_transition_unexpected", "Applying transition outside the table")
	}
	c.state = next
	c.mu.Unlock()

	c.log.WithFields(logger.LogFields{
		"from": prev.String(),
		"to":   next.String(),
	}).Debug("state_changed", "Connection state changed")

	select {
	case c.statesCh <- next:
	default:
		c.log.Warn("state_dropped", "State buffer full, dropping state notification")
	}
}

func (c *Client) notifyWaiters(err error) {
	c.mu.Lock()
	ws := c.waiters
	c.waiters = nil
	c.mu.Unlock()

	for _, w := range ws {
		w <- err
	}
}

// connWriter serializes writes to one socket. gorilla/websocket allows only
// one concurrent writer; the flusher and the heartbeat share this.
type connWriter struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *connWriter) writeEnvelope(env protocol.Envelope) error {
	raw, err := protocol.Encode(env)
	if err != nil {
		return err
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	w.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return w.conn.WriteMessage(websocket.TextMessage, raw)
}
