package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"ridelink/internal/protocol"
	"ridelink/pkg/logger"
	"ridelink/pkg/rabbitmq"
)

// EventPublisher republishes client-originated realtime traffic for
// downstream consumers (matching, analytics, archival).
type EventPublisher interface {
	PublishLocation(ctx context.Context, driverID, rideID string, e protocol.LocationUpdate) error
	PublishChat(ctx context.Context, e protocol.ChatMessage) error
}

// RabbitPublisher implements EventPublisher on the shared AMQP connection.
type RabbitPublisher struct {
	rabbit *rabbitmq.Connection
	log    logger.Logger
}

func NewRabbitPublisher(rabbit *rabbitmq.Connection, log logger.Logger) *RabbitPublisher {
	return &RabbitPublisher{rabbit: rabbit, log: log}
}

type locationEvent struct {
	DriverID  string    `json:"driver_id"`
	RideID    string    `json:"ride_id,omitempty"`
	Latitude  float64   `json:"latitude"`
	Longitude float64   `json:"longitude"`
	Accuracy  float64   `json:"accuracy"`
	Timestamp time.Time `json:"timestamp"`
}

type chatEvent struct {
	MessageID string    `json:"message_id"`
	RideID    string    `json:"ride_id"`
	SenderID  string    `json:"sender_id"`
	Body      string    `json:"body"`
	Timestamp time.Time `json:"timestamp"`
}

func (p *RabbitPublisher) PublishLocation(ctx context.Context, driverID, rideID string, e protocol.LocationUpdate) error {
	body, err := json.Marshal(locationEvent{
		DriverID:  driverID,
		RideID:    rideID,
		Latitude:  e.Latitude,
		Longitude: e.Longitude,
		Accuracy:  e.Accuracy,
		Timestamp: time.UnixMilli(e.TimestampMs),
	})
	if err != nil {
		return fmt.Errorf("marshal location event: %w", err)
	}

	if err := p.rabbit.Publish(ctx, rabbitmq.ExchangeLocationFanout, "", body); err != nil {
		return fmt.Errorf("publish location event: %w", err)
	}
	return nil
}

func (p *RabbitPublisher) PublishChat(ctx context.Context, e protocol.ChatMessage) error {
	body, err := json.Marshal(chatEvent{
		MessageID: e.MessageID,
		RideID:    e.RideID,
		SenderID:  e.SenderID,
		Body:      e.Body,
		Timestamp: time.UnixMilli(e.TimestampMs),
	})
	if err != nil {
		return fmt.Errorf("marshal chat event: %w", err)
	}

	routingKey := fmt.Sprintf("chat.%s", e.RideID)
	if err := p.rabbit.Publish(ctx, rabbitmq.ExchangeChatTopic, routingKey, body); err != nil {
		return fmt.Errorf("publish chat event: %w", err)
	}
	return nil
}
