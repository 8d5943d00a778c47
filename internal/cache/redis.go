// internal/cache/redis.go
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// DefaultQueueName is the Redis list (queue) name for draft action records.
var DefaultQueueName = "draft_actions"

// DraftActionRecord holds the minimal info a downstream consumer needs to
// replay or audit a draft.
type DraftActionRecord struct {
	DraftID       uuid.UUID              `json:"draft_id"`
	SeriesID      uuid.UUID              `json:"series_id"`
	ActionIndex   int                    `json:"action_index"`
	Actor         string                 `json:"actor"`
	ActionType    string                 `json:"action_type"`
	ActionPayload map[string]interface{} `json:"action_payload"`
	Timestamp     int64                  `json:"timestamp"`
}

// Publisher pushes draft action records onto a Redis list. A nil Publisher
// (or one with a nil client) drops records silently so Redis stays optional.
type Publisher struct {
	client *redis.Client
	queue  string
}

// Connect initializes a Redis client from environment variables:
//   - REDIS_ADDR (default "localhost:6379")
//   - REDIS_DB (optional, default 0)
//   - ACTION_QUEUE_NAME (optional, default "draft_actions")
func Connect() (*Publisher, error) {
	addr := getEnv("REDIS_ADDR", "localhost:6379")
	dbIdx := getEnvInt("REDIS_DB", 0)

	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   dbIdx,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis at %s: %w", addr, err)
	}

	return &Publisher{
		client: client,
		queue:  getEnv("ACTION_QUEUE_NAME", DefaultQueueName),
	}, nil
}

// Publish serializes the record to JSON and pushes it onto the queue. It does
// not block the calling logic beyond a quick network send.
func (p *Publisher) Publish(ctx context.Context, record DraftActionRecord) error {
	if p == nil || p.client == nil {
		return nil
	}

	data, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal DraftActionRecord: %w", err)
	}

	if err := p.client.RPush(ctx, p.queue, data).Err(); err != nil {
		return fmt.Errorf("failed to RPush to Redis list '%s': %w", p.queue, err)
	}
	return nil
}

// Close releases the underlying Redis connection.
func (p *Publisher) Close() error {
	if p == nil || p.client == nil {
		return nil
	}
	return p.client.Close()
}

// getEnv is a helper to read an environment variable or return a default value.
func getEnv(key, def string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return def
}

// getEnvInt is a helper to parse an environment variable as integer, else a default value.
func getEnvInt(key string, def int) int {
	s := os.Getenv(key)
	if s == "" {
		return def
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
