package client

import (
	"fmt"
	"sync/atomic"
	"time"

	"ridelink/pkg/logger"
)

// heartbeat emits protocol-level pings while the connection is authenticated
// and declares the connection stale when no inbound traffic is seen within
// staleAfter. One instance lives per connection episode; it never runs
// outside Authenticated.
type heartbeat struct {
	interval   time.Duration
	staleAfter time.Duration
	lastSeen   atomic.Int64 // unix nanoseconds of last inbound traffic
	log        logger.Logger
}

func newHeartbeat(interval, staleAfter time.Duration, log logger.Logger) *heartbeat {
	h := &heartbeat{
		interval:   interval,
		staleAfter: staleAfter,
		log:        log,
	}
	h.Touch()
	return h
}

// Touch records inbound traffic. Any received frame counts, not only Pong.
func (h *heartbeat) Touch() {
	h.lastSeen.Store(time.Now().UnixNano())
}

func (h *heartbeat) sinceLastSeen() time.Duration {
	return time.Duration(time.Now().UnixNano() - h.lastSeen.Load())
}

// Run pings every interval and checks staleness. onStale fires at most once;
// Run returns after firing it, so a stale period triggers exactly one
// reconnection even if the socket still reports itself open.
func (h *heartbeat) Run(done <-chan struct{}, sendPing func() error, onStale func()) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if idle := h.sinceLastSeen(); idle > h.staleAfter {
				h.log.WithFields(logger.LogFields{
					"idle": idle.String(),
				}).Warn("heartbeat_stale", "No inbound traffic, forcing reconnect")
				onStale()
				return
			}
			if err := sendPing(); err != nil {
				h.log.Error("heartbeat_ping_failed", fmt.Errorf("ping write failed: %w", err))
				onStale()
				return
			}
		}
	}
}
