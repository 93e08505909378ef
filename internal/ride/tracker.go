package ride

import (
	"context"
	"sync"
	"time"

	"ridelink/internal/protocol"
	"ridelink/pkg/logger"
)

// DriverLocation is the last known driver position for a ride.
type DriverLocation struct {
	Latitude    float64
	Longitude   float64
	Accuracy    float64
	TimestampMs int64
}

// State is the derived, client-side view of one ride. It is never transmitted
// directly; it exists only by folding inbound envelopes.
type State struct {
	RideID             string
	Status             Status
	DriverLocation     *DriverLocation
	LastStatusChangeAt time.Time
}

// Tracker folds inbound envelopes into per-ride state. It is the single
// writer of ride state (driven by the inbound stream); reads are safe from
// any goroutine. Illegal transitions are dropped and logged, never applied —
// they are expected artifacts of network reordering, not failures.
type Tracker struct {
	mu    sync.RWMutex
	rides map[string]*State
	log   logger.Logger
}

func NewTracker(log logger.Logger) *Tracker {
	return &Tracker{
		rides: make(map[string]*State),
		log:   log,
	}
}

// Run consumes the inbound stream until it closes or ctx is cancelled.
func (t *Tracker) Run(ctx context.Context, inbound <-chan protocol.Envelope) {
	for {
		select {
		case <-ctx.Done():
			return
		case env, ok := <-inbound:
			if !ok {
				return
			}
			t.Apply(env)
		}
	}
}

// Apply folds one envelope. Envelopes that don't affect ride state are ignored.
func (t *Tracker) Apply(env protocol.Envelope) {
	switch e := env.(type) {
	case protocol.RideStatusUpdate:
		t.applyStatus(e.RideID, Status(e.Status), e.TimestampMs)
	case protocol.RideAccepted:
		t.applyStatus(e.RideID, StatusAccepted, 0)
	case protocol.RideRequest:
		t.register(e.RideID)
	case protocol.LocationUpdate:
		t.applyLocation(e)
	}
}

// register starts tracking a ride at Requested (driver side: a dispatch offer
// is the first the client hears of the ride).
func (t *Tracker) register(rideID string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.rides[rideID]; ok {
		return
	}
	t.rides[rideID] = &State{
		RideID:             rideID,
		Status:             StatusRequested,
		LastStatusChangeAt: time.Now(),
	}
}

func (t *Tracker) applyStatus(rideID string, next Status, timestampMs int64) {
	log := t.log.WithFields(logger.LogFields{"ride_id": rideID})

	if !next.IsValid() {
		log.WithFields(logger.LogFields{
			"status": next.String(),
		}).Warn("ride_status_unknown", "Dropping update with unknown status")
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	st, ok := t.rides[rideID]
	if !ok {
		// A ride enters tracking at Requested; anything else on an unseen
		// rideId is a leftover from before this session.
		if next != StatusRequested {
			log.WithFields(logger.LogFields{
				"status": next.String(),
			}).Warn("ride_status_untracked", "Dropping update for untracked ride")
			return
		}
		t.rides[rideID] = &State{
			RideID:             rideID,
			Status:             StatusRequested,
			LastStatusChangeAt: statusTime(timestampMs),
		}
		return
	}

	if !st.Status.CanTransitionTo(next) {
		log.WithFields(logger.LogFields{
			"from": st.Status.String(),
			"to":   next.String(),
		}).Warn("ride_status_rejected", "Dropping out-of-order status transition")
		return
	}

	st.Status = next
	st.LastStatusChangeAt = statusTime(timestampMs)
}

// applyLocation updates every ride currently expecting driver movement. The
// wire format carries no rideId on location fixes; at most one ride per
// client is in a location-accepting status in practice.
func (t *Tracker) applyLocation(e protocol.LocationUpdate) {
	t.mu.Lock()
	defer t.mu.Unlock()

	for _, st := range t.rides {
		if !st.Status.AcceptsLocation() {
			continue
		}
		st.DriverLocation = &DriverLocation{
			Latitude:    e.Latitude,
			Longitude:   e.Longitude,
			Accuracy:    e.Accuracy,
			TimestampMs: e.TimestampMs,
		}
	}
}

// Ride returns a snapshot of one ride's state.
func (t *Tracker) Ride(rideID string) (State, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	st, ok := t.rides[rideID]
	if !ok {
		return State{}, false
	}
	return snapshot(st), true
}

// ActiveRides returns snapshots of all rides not yet terminal.
func (t *Tracker) ActiveRides() []State {
	t.mu.RLock()
	defer t.mu.RUnlock()

	var out []State
	for _, st := range t.rides {
		if st.Status.IsTerminal() {
			continue
		}
		out = append(out, snapshot(st))
	}
	return out
}

func snapshot(st *State) State {
	cp := *st
	if st.DriverLocation != nil {
		loc := *st.DriverLocation
		cp.DriverLocation = &loc
	}
	return cp
}

func statusTime(timestampMs int64) time.Time {
	if timestampMs <= 0 {
		return time.Now()
	}
	return time.UnixMilli(timestampMs)
}
