package relay

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"ridelink/internal/protocol"
	"ridelink/pkg/logger"
)

// HistoryStore persists the realtime traffic worth keeping: chat and ride
// status transitions. The relay has no other durable state.
type HistoryStore interface {
	SaveChatMessage(ctx context.Context, msg protocol.ChatMessage) error
	SaveStatusChange(ctx context.Context, rideID, status string, at time.Time) error
	ChatHistory(ctx context.Context, rideID string, limit int) ([]protocol.ChatMessage, error)
}

// PostgresHistory implements HistoryStore on pgx.
//
// Schema:
//
//	CREATE TABLE chat_messages (
//	    message_id  TEXT PRIMARY KEY,
//	    ride_id     TEXT NOT NULL,
//	    sender_id   TEXT NOT NULL,
//	    body        TEXT NOT NULL,
//	    sent_at     TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX idx_chat_messages_ride ON chat_messages (ride_id, sent_at);
//
//	CREATE TABLE ride_status_events (
//	    id          BIGSERIAL PRIMARY KEY,
//	    ride_id     TEXT NOT NULL,
//	    status      TEXT NOT NULL,
//	    occurred_at TIMESTAMPTZ NOT NULL
//	);
//	CREATE INDEX idx_ride_status_events_ride ON ride_status_events (ride_id, occurred_at);
type PostgresHistory struct {
	pool *pgxpool.Pool
	log  logger.Logger
}

func NewPostgresHistory(pool *pgxpool.Pool, log logger.Logger) *PostgresHistory {
	return &PostgresHistory{pool: pool, log: log}
}

// SaveChatMessage stores one chat message. message_id is client-generated and
// globally unique; redelivered duplicates are ignored.
func (s *PostgresHistory) SaveChatMessage(ctx context.Context, msg protocol.ChatMessage) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO chat_messages (message_id, ride_id, sender_id, body, sent_at)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (message_id) DO NOTHING`,
		msg.MessageID, msg.RideID, msg.SenderID, msg.Body, time.UnixMilli(msg.TimestampMs),
	)
	if err != nil {
		return fmt.Errorf("insert chat message: %w", err)
	}
	return nil
}

func (s *PostgresHistory) SaveStatusChange(ctx context.Context, rideID, status string, at time.Time) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO ride_status_events (ride_id, status, occurred_at)
		 VALUES ($1, $2, $3)`,
		rideID, status, at,
	)
	if err != nil {
		return fmt.Errorf("insert status event: %w", err)
	}
	return nil
}

func (s *PostgresHistory) ChatHistory(ctx context.Context, rideID string, limit int) ([]protocol.ChatMessage, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT message_id, ride_id, sender_id, body, sent_at
		 FROM chat_messages
		 WHERE ride_id = $1
		 ORDER BY sent_at DESC
		 LIMIT $2`,
		rideID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("query chat history: %w", err)
	}
	defer rows.Close()

	var out []protocol.ChatMessage
	for rows.Next() {
		var msg protocol.ChatMessage
		var sentAt time.Time
		if err := rows.Scan(&msg.MessageID, &msg.RideID, &msg.SenderID, &msg.Body, &sentAt); err != nil {
			return nil, fmt.Errorf("scan chat message: %w", err)
		}
		msg.TimestampMs = sentAt.UnixMilli()
		out = append(out, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate chat history: %w", err)
	}
	return out, nil
}
