package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"ridelink/pkg/auth"
	"ridelink/pkg/config"
	"ridelink/pkg/logger"
)

// Presence tracks which users currently hold a live realtime session.
type Presence interface {
	SessionStarted(ctx context.Context, userID, sessionID string, role auth.Role) error
	Refresh(ctx context.Context, userID string) error
	SessionEnded(ctx context.Context, userID string) error
	IsOnline(ctx context.Context, userID string) (bool, error)
}

// presenceTTL outlives the client ping interval with room for one missed
// beat; Refresh is called on every inbound frame.
const presenceTTL = 90 * time.Second

// NewRedisClient creates a Redis client and verifies connectivity.
func NewRedisClient(ctx context.Context, cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  2 * time.Second,
		WriteTimeout: 2 * time.Second,
	})

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := client.Ping(pingCtx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis: ping failed: %w", err)
	}

	return client, nil
}

// RedisPresence stores presence keys with a TTL so crashed relays don't leave
// users marked online forever.
type RedisPresence struct {
	client *redis.Client
	log    logger.Logger
}

func NewRedisPresence(client *redis.Client, log logger.Logger) *RedisPresence {
	return &RedisPresence{client: client, log: log}
}

func presenceKey(userID string) string {
	return "presence:" + userID
}

func (p *RedisPresence) SessionStarted(ctx context.Context, userID, sessionID string, role auth.Role) error {
	err := p.client.HSet(ctx, presenceKey(userID),
		"session_id", sessionID,
		"role", string(role),
		"connected_at", time.Now().UTC().Format(time.RFC3339),
	).Err()
	if err != nil {
		return fmt.Errorf("presence set: %w", err)
	}
	if err := p.client.Expire(ctx, presenceKey(userID), presenceTTL).Err(); err != nil {
		return fmt.Errorf("presence expire: %w", err)
	}
	return nil
}

func (p *RedisPresence) Refresh(ctx context.Context, userID string) error {
	return p.client.Expire(ctx, presenceKey(userID), presenceTTL).Err()
}

func (p *RedisPresence) SessionEnded(ctx context.Context, userID string) error {
	return p.client.Del(ctx, presenceKey(userID)).Err()
}

func (p *RedisPresence) IsOnline(ctx context.Context, userID string) (bool, error) {
	n, err := p.client.Exists(ctx, presenceKey(userID)).Result()
	if err != nil {
		return false, fmt.Errorf("presence exists: %w", err)
	}
	return n > 0, nil
}
