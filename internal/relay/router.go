package relay

import (
	"context"
	"fmt"
	"time"

	"ridelink/internal/protocol"
	"ridelink/pkg/auth"
	"ridelink/pkg/logger"
)

// Router decides what happens to each envelope a client sends after
// authentication: keep-alives are answered, ride traffic is forwarded to the
// counterpart, chat is persisted and republished. Everything else a client
// has no business sending is dropped with a log, never fatal.
type Router struct {
	hub       *Hub
	history   HistoryStore
	publisher EventPublisher
	presence  Presence
	log       logger.Logger
}

func NewRouter(hub *Hub, history HistoryStore, publisher EventPublisher, presence Presence, log logger.Logger) *Router {
	return &Router{
		hub:       hub,
		history:   history,
		publisher: publisher,
		presence:  presence,
		log:       log,
	}
}

// HandleEnvelope processes one inbound envelope from an authenticated client.
func (r *Router) HandleEnvelope(ctx context.Context, claims *auth.AppClaims, reply EnvelopeSender, env protocol.Envelope) {
	log := r.log.WithFields(logger.LogFields{"user_id": claims.UserID})

	if err := r.presence.Refresh(ctx, claims.UserID); err != nil {
		log.Error("presence_refresh_failed", err)
	}

	switch e := env.(type) {
	case protocol.Ping:
		if err := reply.SendEnvelope(protocol.Pong{}); err != nil {
			log.Error("pong_send_failed", err)
		}

	case protocol.LocationUpdate:
		r.handleLocation(ctx, claims, log, e)

	case protocol.ChatMessage:
		r.handleChat(ctx, claims, log, e)

	case protocol.Authenticate:
		log.Warn("duplicate_auth", "Dropping Authenticate on established session")

	case protocol.Unknown:
		log.WithFields(logger.LogFields{
			"kind": string(e.Type),
		}).Debug("unknown_envelope", "Dropping unknown envelope kind")

	default:
		log.WithFields(logger.LogFields{
			"kind": string(env.Kind()),
		}).Warn("unexpected_envelope", "Dropping envelope clients may not send")
	}
}

func (r *Router) handleLocation(ctx context.Context, claims *auth.AppClaims, log logger.Logger, e protocol.LocationUpdate) {
	if claims.Role != auth.RoleDriver {
		log.Warn("location_from_non_driver", "Dropping location update from rider")
		return
	}

	rideID, ok := r.hub.RideForDriver(claims.UserID)
	if ok {
		riderID, _, bound := r.hub.Parties(rideID)
		if bound && riderID != "" {
			if err := r.hub.SendToUser(riderID, e); err != nil {
				log.Error("location_forward_failed", err)
			}
		}
	}

	if err := r.publisher.PublishLocation(ctx, claims.UserID, rideID, e); err != nil {
		log.Error("location_publish_failed", err)
	}
}

func (r *Router) handleChat(ctx context.Context, claims *auth.AppClaims, log logger.Logger, e protocol.ChatMessage) {
	log = log.WithFields(logger.LogFields{"ride_id": e.RideID})

	if e.SenderID != claims.UserID {
		log.Error("chat_sender_mismatch", fmt.Errorf("sender %s does not match session user %s", e.SenderID, claims.UserID))
		return
	}

	peerID, ok := r.hub.Counterpart(e.RideID, claims.UserID)
	if !ok {
		log.Warn("chat_no_counterpart", "Dropping chat for ride without a bound counterpart")
		return
	}

	if err := r.history.SaveChatMessage(ctx, e); err != nil {
		// Delivery still proceeds; history is best-effort.
		log.Error("chat_persist_failed", err)
	}

	if err := r.hub.SendToUser(peerID, e); err != nil {
		log.Error("chat_forward_failed", err)
	}

	if err := r.publisher.PublishChat(ctx, e); err != nil {
		log.Error("chat_publish_failed", err)
	}
}

// PushStatus fans a ride status transition out to both bound parties and
// records it. Terminal statuses release the routing entry.
func (r *Router) PushStatus(ctx context.Context, rideID, status string, at time.Time) {
	log := r.log.WithFields(logger.LogFields{"ride_id": rideID})

	update := protocol.RideStatusUpdate{
		RideID:      rideID,
		Status:      status,
		TimestampMs: at.UnixMilli(),
	}

	riderID, driverID, ok := r.hub.Parties(rideID)
	if !ok {
		log.Debug("status_unrouted", "No parties bound for ride status")
	}
	if riderID != "" {
		if err := r.hub.SendToUser(riderID, update); err != nil {
			log.Error("status_push_rider_failed", err)
		}
	}
	if driverID != "" {
		if err := r.hub.SendToUser(driverID, update); err != nil {
			log.Error("status_push_driver_failed", err)
		}
	}

	if err := r.history.SaveStatusChange(ctx, rideID, status, at); err != nil {
		log.Error("status_persist_failed", err)
	}

	if status == "COMPLETED" || status == "CANCELLED" {
		r.hub.UnbindRide(rideID)
	}
}
