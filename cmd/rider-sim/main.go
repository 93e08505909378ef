package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ridelink/internal/client"
	"ridelink/internal/protocol"
	"ridelink/internal/ride"
	"ridelink/pkg/auth"
	"ridelink/pkg/config"
	"ridelink/pkg/logger"
	"ridelink/pkg/uuid"
)

// rider-sim connects to the relay as a rider, follows its ride's lifecycle
// and driver position, and greets the driver once the ride is accepted.
func main() {
	cfg, err := config.LoadConfig(".env")
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	token := os.Getenv("RIDER_TOKEN")
	userID := os.Getenv("RIDER_ID")
	if token == "" || userID == "" {
		fmt.Fprintln(os.Stderr, "RIDER_TOKEN and RIDER_ID are required")
		os.Exit(1)
	}

	log := logger.NewLogger("rider-sim")

	c, err := client.New(client.Config{
		RelayURL:         cfg.Client.RelayURL,
		HandshakeTimeout: cfg.Client.HandshakeTimeout,
		PingInterval:     cfg.Client.PingInterval,
		StaleAfter:       cfg.Client.StaleAfter,
		QueueCap:         cfg.Client.QueueCap,
		AllowInsecure:    cfg.Relay.AllowInsecure,
		Logger:           log,
	})
	if err != nil {
		log.Error("client_init_failed", err)
		os.Exit(1)
	}

	tracker := ride.NewTracker(log)
	go func() {
		for env := range c.Inbound() {
			tracker.Apply(env)
			switch e := env.(type) {
			case protocol.RideAccepted:
				log.WithFields(logger.LogFields{
					"ride_id": e.RideID,
					"eta":     e.EtaSeconds,
				}).Info("ride_accepted", "Driver assigned")
				c.Send(protocol.ChatMessage{
					RideID:      e.RideID,
					MessageID:   uuid.NewString(),
					SenderID:    userID,
					Body:        "Hi, I'm at the north entrance",
					TimestampMs: time.Now().UnixMilli(),
				})
			case protocol.RideStatusUpdate:
				log.WithFields(logger.LogFields{
					"ride_id": e.RideID,
					"status":  e.Status,
				}).Info("ride_status", "Ride status changed")
			case protocol.LocationUpdate:
				log.WithFields(logger.LogFields{
					"lat": e.Latitude,
					"lon": e.Longitude,
				}).Debug("driver_location", "Driver moved")
			case protocol.ChatMessage:
				log.WithFields(logger.LogFields{
					"ride_id": e.RideID,
				}).Info("chat_received", e.Body)
			case protocol.Error:
				log.WithFields(logger.LogFields{
					"code": e.Code,
				}).Warn("relay_error", e.Detail)
			}
		}
	}()

	go func() {
		for state := range c.States() {
			log.WithFields(logger.LogFields{
				"state": state.String(),
			}).Info("connection_state", "Connection state changed")
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := c.Connect(ctx, token, auth.RoleRider); err != nil {
		cancel()
		log.Error("connect_failed", err)
		os.Exit(1)
	}
	cancel()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutdown", "Disconnecting")
	c.Disconnect()
}
