package bus

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

const streamPrefix = "warden:agent:"

// RedisBus transports envelopes over Redis Streams, allowing agents in
// separate processes to exchange messages.
type RedisBus struct {
	rdb    *redis.Client
	logger *zap.Logger
}

// NewRedisBus connects to Redis and verifies the connection.
func NewRedisBus(redisURL string, logger *zap.Logger) (*RedisBus, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	rdb := redis.NewClient(opts)
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &RedisBus{rdb: rdb, logger: logger}, nil
}

// Publish implements Bus.
func (b *RedisBus) Publish(ctx context.Context, env *Envelope) error {
	if env.ID == "" {
		env.ID = uuid.New().String()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = time.Now()
	}

	data, err := json.Marshal(env)
	if err != nil {
		return err
	}

	stream := streamPrefix + env.To
	_, err = b.rdb.XAdd(ctx, &redis.XAddArgs{
		Stream: stream,
		MaxLen: 1024,
		Approx: true,
		Values: map[string]interface{}{"data": string(data)},
	}).Result()
	if err != nil {
		return fmt.Errorf("publish to %s: %w", stream, err)
	}

	b.logger.Debug("published message",
		zap.String("from", env.From),
		zap.String("to", env.To),
		zap.String("type", string(env.Type)))
	return nil
}

// Subscribe implements Bus. Reads begin at the stream tail.
func (b *RedisBus) Subscribe(ctx context.Context, agentID string) <-chan *Envelope {
	ch := make(chan *Envelope, 16)
	stream := streamPrefix + agentID

	go func() {
		defer close(ch)
		lastID := "$"

		for {
			select {
			case <-ctx.Done():
				return
			default:
			}

			results, err := b.rdb.XRead(ctx, &redis.XReadArgs{
				Streams: []string{stream, lastID},
				Count:   10,
				Block:   2 * time.Second,
			}).Result()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				continue
			}

			for _, r := range results {
				for _, msg := range r.Messages {
					lastID = msg.ID
					data, ok := msg.Values["data"].(string)
					if !ok {
						continue
					}
					var env Envelope
					if json.Unmarshal([]byte(data), &env) == nil {
						select {
						case ch <- &env:
						case <-ctx.Done():
							return
						}
					}
				}
			}
		}
	}()
	return ch
}

// Close implements Bus.
func (b *RedisBus) Close() error {
	return b.rdb.Close()
}
