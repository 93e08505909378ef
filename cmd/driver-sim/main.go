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
)

// driver-sim connects to the relay as a driver and streams fake location
// fixes, printing every ride offer and status change it receives.
func main() {
	cfg, err := config.LoadConfig(".env")
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	token := os.Getenv("DRIVER_TOKEN")
	if token == "" {
		fmt.Fprintln(os.Stderr, "DRIVER_TOKEN is required (mint one via the relay's /auth/token)")
		os.Exit(1)
	}

	log := logger.NewLogger("driver-sim")

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
			case protocol.RideRequest:
				log.WithFields(logger.LogFields{
					"ride_id": e.RideID,
					"fare":    e.FareEstimate,
				}).Info("ride_offer", "Ride offer received")
			case protocol.RideStatusUpdate:
				log.WithFields(logger.LogFields{
					"ride_id": e.RideID,
					"status":  e.Status,
				}).Info("ride_status", "Ride status changed")
			case protocol.ChatMessage:
				log.WithFields(logger.LogFields{
					"ride_id": e.RideID,
				}).Info("chat_received", e.Body)
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
	if err := c.Connect(ctx, token, auth.RoleDriver); err != nil {
		cancel()
		log.Error("connect_failed", err)
		os.Exit(1)
	}
	cancel()

	// Drift north-east from the city center, one fix every 2s.
	lat, lon := 51.1605, 71.4704
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	for {
		select {
		case <-ticker.C:
			lat += 0.0004
			lon += 0.0006
			c.Send(protocol.LocationUpdate{
				Latitude:    lat,
				Longitude:   lon,
				Accuracy:    5.0,
				TimestampMs: time.Now().UnixMilli(),
			})
		case <-quit:
			log.Info("shutdown", "Disconnecting")
			c.Disconnect()
			return
		}
	}
}
