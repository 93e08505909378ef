package relay

import (
	"errors"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"ridelink/internal/protocol"
	"ridelink/pkg/auth"
	"ridelink/pkg/logger"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// A client pings every 30s; cut the connection after this much silence.
	idleTimeout = 90 * time.Second

	// Max inbound frame size
	maxMessageSize = 64 * 1024

	// Time allowed to send the Authenticate frame after the upgrade
	authTime = 5 * time.Second

	sendBuffer = 256
)

// Conn is one authenticated client connection. Writes are funneled through a
// buffered send channel drained by writePump.
type Conn struct {
	ws        *websocket.Conn
	log       logger.Logger
	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
	writeMu   sync.Mutex

	Claims    *auth.AppClaims
	SessionID string
}

func newConn(ws *websocket.Conn, log logger.Logger, claims *auth.AppClaims, sessionID string) *Conn {
	return &Conn{
		ws:        ws,
		log:       log,
		send:      make(chan []byte, sendBuffer),
		done:      make(chan struct{}),
		Claims:    claims,
		SessionID: sessionID,
	}
}

func (c *Conn) writePump() {
	defer c.Close()

	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				c.write(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.write(websocket.TextMessage, message); err != nil {
				c.log.Error("websocket_write", err)
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Conn) write(mt int, payload []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.ws.SetWriteDeadline(time.Now().Add(writeWait))
	return c.ws.WriteMessage(mt, payload)
}

// SendEnvelope encodes and queues one envelope. A full buffer drops the
// envelope rather than blocking the relay on one slow client.
func (c *Conn) SendEnvelope(env protocol.Envelope) error {
	data, err := protocol.Encode(env)
	if err != nil {
		return err
	}

	select {
	case c.send <- data:
		return nil
	case <-c.done:
		return errors.New("connection closed")
	default:
		c.log.WithFields(logger.LogFields{
			"user_id": c.Claims.UserID,
			"kind":    string(env.Kind()),
		}).Warn("websocket_send_buffer_full", "Dropping envelope for slow client")
		return errors.New("send buffer full")
	}
}

// ReadPump decodes inbound frames and hands them to onEnvelope. Malformed
// frames are dropped; the connection stays up.
func (c *Conn) ReadPump(onEnvelope func(protocol.Envelope), onDisconnect func()) {
	defer func() {
		onDisconnect()
		c.Close()
	}()

	c.ws.SetReadLimit(maxMessageSize)
	c.ws.SetReadDeadline(time.Now().Add(idleTimeout))

	for {
		_, msg, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.log.Error("websocket_read_error", err)
			} else {
				c.log.WithFields(logger.LogFields{
					"user_id": c.Claims.UserID,
				}).Info("websocket_disconnect", "Client disconnected")
			}
			break
		}
		c.ws.SetReadDeadline(time.Now().Add(idleTimeout))

		env, err := protocol.Decode(msg)
		if err != nil {
			c.log.Error("websocket_decode_error", err)
			continue
		}
		onEnvelope(env)
	}
}

func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.ws.Close()
	})
}
