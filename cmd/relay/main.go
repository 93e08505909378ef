package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"ridelink/internal/relay"
	"ridelink/pkg/auth"
	"ridelink/pkg/config"
	"ridelink/pkg/db"
	"ridelink/pkg/logger"
	"ridelink/pkg/rabbitmq"
)

func main() {
	cfg, err := config.LoadConfig(".env")
	if err != nil {
		panic(fmt.Sprintf("Failed to load config: %v", err))
	}

	log := logger.NewLogger("relay")
	log.Info("service_starting", fmt.Sprintf("Relay starting on port %d", cfg.Relay.Port))

	dbConn, err := db.NewConnection(cfg, log)
	if err != nil {
		log.Error("db_connect_failed", err)
		os.Exit(1)
	}
	defer dbConn.Close()

	rabbit, err := rabbitmq.NewConnection(cfg, log)
	if err != nil {
		log.Error("rabbitmq_connect_failed", err)
		os.Exit(1)
	}
	defer rabbit.Close()

	redisClient, err := relay.NewRedisClient(context.Background(), cfg)
	if err != nil {
		log.Error("redis_connect_failed", err)
		os.Exit(1)
	}
	defer redisClient.Close()

	jwtManager := auth.NewJWTManager(cfg.JWT.Secret, cfg.JWT.Duration)

	hub := relay.NewHub(log)
	presence := relay.NewRedisPresence(redisClient, log)
	history := relay.NewPostgresHistory(dbConn, log)
	publisher := relay.NewRabbitPublisher(rabbit, log)
	router := relay.NewRouter(hub, history, publisher, presence, log)

	consumer := relay.NewConsumer(rabbit, hub, router, log)
	if err := consumer.StartConsuming(context.Background()); err != nil {
		log.Error("consumer_start_failed", err)
		os.Exit(1)
	}

	wsHandler := relay.NewHandler(log, jwtManager, hub, router, presence)

	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		json.NewEncoder(w).Encode(map[string]interface{}{
			"status":      "ok",
			"connections": hub.ConnectionCount(),
		})
	})
	mux.Handle(cfg.Relay.WSPath, wsHandler)

	// Development-only token mint, same role the ride service issues in prod.
	mux.HandleFunc("POST /auth/token", func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			UserID string    `json:"user_id"`
			Role   auth.Role `json:"role"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.UserID == "" || !req.Role.IsValid() {
			http.Error(w, "user_id and role (RIDER|DRIVER) required", http.StatusBadRequest)
			return
		}
		token, err := jwtManager.GenerateToken(req.UserID, req.Role)
		if err != nil {
			log.Error("token_generate_failed", err)
			http.Error(w, "failed to generate token", http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"token": token})
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Relay.Port),
		Handler: mux,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server_failed", err)
			os.Exit(1)
		}
	}()

	log.Info("server_running", fmt.Sprintf("Relay running on :%d", cfg.Relay.Port))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("server_shutdown", "Shutting down server...")
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.Shutdown(ctx)
	log.Info("server_stopped", "Server stopped gracefully")
}
