package relay

import (
	"sync"

	"ridelink/internal/protocol"
	"ridelink/pkg/logger"
)

// EnvelopeSender is what the hub needs from a connection. Satisfied by *Conn;
// tests substitute fakes.
type EnvelopeSender interface {
	SendEnvelope(env protocol.Envelope) error
	Close()
}

type ridePair struct {
	RiderID  string
	DriverID string
}

// Hub tracks connected users and which rider/driver pair belongs to each
// active ride, so client traffic can be routed to the counterpart.
type Hub struct {
	mu    sync.RWMutex
	conns map[string]EnvelopeSender // user_id -> connection
	rides map[string]ridePair       // ride_id -> parties
	log   logger.Logger
}

func NewHub(log logger.Logger) *Hub {
	return &Hub{
		conns: make(map[string]EnvelopeSender),
		rides: make(map[string]ridePair),
		log:   log,
	}
}

// Add registers a connection, replacing (and closing) any previous one for
// the same user.
func (h *Hub) Add(userID string, conn EnvelopeSender) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if existing, ok := h.conns[userID]; ok {
		existing.Close()
		h.log.WithFields(logger.LogFields{
			"user_id": userID,
		}).Info("websocket_replaced", "Replacing existing connection")
	}

	h.conns[userID] = conn
	h.log.WithFields(logger.LogFields{
		"user_id": userID,
		"total":   len(h.conns),
	}).Info("websocket_connected", "New connection added")
}

// Remove drops a connection, but only if it is still the registered one —
// a reconnect may already have replaced it.
func (h *Hub) Remove(userID string, conn EnvelopeSender) {
	h.mu.Lock()
	defer h.mu.Unlock()

	current, ok := h.conns[userID]
	if !ok || current != conn {
		return
	}
	current.Close()
	delete(h.conns, userID)
	h.log.WithFields(logger.LogFields{
		"user_id": userID,
		"total":   len(h.conns),
	}).Info("websocket_disconnected", "Connection removed")
}

// SendToUser delivers an envelope to a specific user. An offline user is not
// an error; the envelope is simply not delivered.
func (h *Hub) SendToUser(userID string, env protocol.Envelope) error {
	h.mu.RLock()
	conn, ok := h.conns[userID]
	h.mu.RUnlock()

	if !ok {
		h.log.WithFields(logger.LogFields{
			"user_id": userID,
			"kind":    string(env.Kind()),
		}).Debug("websocket_user_offline", "User not connected")
		return nil
	}

	if err := conn.SendEnvelope(env); err != nil {
		h.log.WithFields(logger.LogFields{
			"user_id": userID,
		}).Error("websocket_send_failed", err)
		return err
	}
	return nil
}

// IsUserConnected checks if a user is connected.
func (h *Hub) IsUserConnected(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	_, ok := h.conns[userID]
	return ok
}

// ConnectionCount returns the number of active connections.
func (h *Hub) ConnectionCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.conns)
}

// BindRide records the rider of a ride once dispatch starts.
func (h *Hub) BindRide(rideID, riderID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	pair := h.rides[rideID]
	pair.RiderID = riderID
	h.rides[rideID] = pair
}

// AssignDriver records the driver once a ride is accepted.
func (h *Hub) AssignDriver(rideID, driverID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	pair := h.rides[rideID]
	pair.DriverID = driverID
	h.rides[rideID] = pair
}

// UnbindRide forgets a ride's routing entry after a terminal status.
func (h *Hub) UnbindRide(rideID string) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.rides, rideID)
}

// Parties returns the rider and driver bound to a ride.
func (h *Hub) Parties(rideID string) (riderID, driverID string, ok bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	pair, ok := h.rides[rideID]
	return pair.RiderID, pair.DriverID, ok
}

// Counterpart resolves who should receive a frame sent by userID on a ride.
func (h *Hub) Counterpart(rideID, userID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	pair, ok := h.rides[rideID]
	if !ok {
		return "", false
	}
	switch userID {
	case pair.RiderID:
		if pair.DriverID == "" {
			return "", false
		}
		return pair.DriverID, true
	case pair.DriverID:
		if pair.RiderID == "" {
			return "", false
		}
		return pair.RiderID, true
	}
	return "", false
}

// RideForDriver finds the active ride a driver is assigned to.
func (h *Hub) RideForDriver(driverID string) (string, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for rideID, pair := range h.rides {
		if pair.DriverID == driverID {
			return rideID, true
		}
	}
	return "", false
}
