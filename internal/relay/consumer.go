package relay

import (
	"context"
	"encoding/json"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"

	"ridelink/internal/protocol"
	"ridelink/pkg/logger"
	"ridelink/pkg/rabbitmq"
)

// Consumer bridges the ride service's AMQP events onto client WebSockets:
// dispatch offers to drivers, acceptances to riders, status transitions to
// both parties.
type Consumer struct {
	rabbit *rabbitmq.Connection
	hub    *Hub
	router *Router
	log    logger.Logger
}

func NewConsumer(rabbit *rabbitmq.Connection, hub *Hub, router *Router, log logger.Logger) *Consumer {
	return &Consumer{
		rabbit: rabbit,
		hub:    hub,
		router: router,
		log:    log,
	}
}

// RideDispatchMessage is published by the ride service when a ride is offered
// to a candidate driver. Routing key: "ride.request.{ride_type}".
type RideDispatchMessage struct {
	RideID       string    `json:"ride_id"`
	RiderID      string    `json:"rider_id"`
	DriverID     string    `json:"driver_id"`
	PickupLat    float64   `json:"pickup_lat"`
	PickupLon    float64   `json:"pickup_lon"`
	DropoffLat   float64   `json:"dropoff_lat"`
	DropoffLon   float64   `json:"dropoff_lon"`
	FareEstimate float64   `json:"fare_estimate"`
	RequestedAt  time.Time `json:"requested_at"`
}

// RideAssignmentMessage is published once a driver takes the ride.
// Routing key: "ride.accepted.{ride_id}".
type RideAssignmentMessage struct {
	RideID     string    `json:"ride_id"`
	RiderID    string    `json:"rider_id"`
	DriverID   string    `json:"driver_id"`
	EtaSeconds int       `json:"eta_seconds"`
	AcceptedAt time.Time `json:"accepted_at"`
}

// RideStatusMessage announces a lifecycle transition.
// Routing key: "ride.status.{status}".
type RideStatusMessage struct {
	RideID    string    `json:"ride_id"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

// StartConsuming starts all queue consumers.
func (c *Consumer) StartConsuming(ctx context.Context) error {
	if err := c.rabbit.Consume(rabbitmq.QueueRelayDispatch, func(msg amqp.Delivery) {
		c.handleDispatch(ctx, msg.Body)
		msg.Ack(false)
	}); err != nil {
		return err
	}

	if err := c.rabbit.Consume(rabbitmq.QueueRelayAssignments, func(msg amqp.Delivery) {
		c.handleAssignment(ctx, msg.Body)
		msg.Ack(false)
	}); err != nil {
		return err
	}

	if err := c.rabbit.Consume(rabbitmq.QueueRelayStatus, func(msg amqp.Delivery) {
		c.handleStatus(ctx, msg.Body)
		msg.Ack(false)
	}); err != nil {
		return err
	}

	c.log.Info("consumers_started", "All relay consumers started")
	return nil
}

func (c *Consumer) handleDispatch(ctx context.Context, body []byte) {
	var dispatch RideDispatchMessage
	if err := json.Unmarshal(body, &dispatch); err != nil {
		c.log.Error("unmarshal_dispatch_failed", err)
		return
	}

	log := c.log.WithFields(logger.LogFields{
		"ride_id": dispatch.RideID,
		"user_id": dispatch.DriverID,
	})

	c.hub.BindRide(dispatch.RideID, dispatch.RiderID)

	offer := protocol.RideRequest{
		RideID: dispatch.RideID,
		Pickup: protocol.GeoPoint{
			Latitude:  dispatch.PickupLat,
			Longitude: dispatch.PickupLon,
		},
		Dropoff: protocol.GeoPoint{
			Latitude:  dispatch.DropoffLat,
			Longitude: dispatch.DropoffLon,
		},
		FareEstimate: dispatch.FareEstimate,
	}
	if err := c.hub.SendToUser(dispatch.DriverID, offer); err != nil {
		log.Error("dispatch_push_failed", err)
		return
	}
	log.Info("dispatch_pushed", "Ride offer pushed to driver")
}

func (c *Consumer) handleAssignment(ctx context.Context, body []byte) {
	var assignment RideAssignmentMessage
	if err := json.Unmarshal(body, &assignment); err != nil {
		c.log.Error("unmarshal_assignment_failed", err)
		return
	}

	log := c.log.WithFields(logger.LogFields{
		"ride_id": assignment.RideID,
		"user_id": assignment.RiderID,
	})

	c.hub.BindRide(assignment.RideID, assignment.RiderID)
	c.hub.AssignDriver(assignment.RideID, assignment.DriverID)

	accepted := protocol.RideAccepted{
		RideID:     assignment.RideID,
		DriverID:   assignment.DriverID,
		EtaSeconds: assignment.EtaSeconds,
	}
	if err := c.hub.SendToUser(assignment.RiderID, accepted); err != nil {
		log.Error("assignment_push_failed", err)
		return
	}
	log.Info("assignment_pushed", "Ride acceptance pushed to rider")
}

func (c *Consumer) handleStatus(ctx context.Context, body []byte) {
	var status RideStatusMessage
	if err := json.Unmarshal(body, &status); err != nil {
		c.log.Error("unmarshal_status_failed", err)
		return
	}

	at := status.Timestamp
	if at.IsZero() {
		at = time.Now()
	}
	c.router.PushStatus(ctx, status.RideID, status.Status, at)
}
