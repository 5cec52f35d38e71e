package noise

import (
	"context"
	"fmt"
	"strconv"

	"github.com/redis/go-redis/v9"
)

// RedisCounter keeps utterance text frequencies in a Redis sorted set,
// member = text and score = occurrences.
type RedisCounter struct {
	client *redis.Client
	key    string
}

// ConnectRedis establishes a connection to Redis
func ConnectRedis(ctx context.Context, addr, key string) (*RedisCounter, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
	})

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return NewRedisCounter(client, key), nil
}

func NewRedisCounter(client *redis.Client, key string) *RedisCounter {
	return &RedisCounter{client: client, key: key}
}

// Increment bumps the score of every text in one pipeline round trip.
func (r *RedisCounter) Increment(ctx context.Context, texts []string) error {
	if len(texts) == 0 {
		return nil
	}
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, text := range texts {
			pipe.ZIncrBy(ctx, r.key, 1, text)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("error incrementing frequencies: %w", err)
	}
	return nil
}

// Frequent returns all texts scored at least atLeast.
func (r *RedisCounter) Frequent(ctx context.Context, atLeast int) ([]string, error) {
	texts, err := r.client.ZRangeByScore(ctx, r.key, &redis.ZRangeBy{
		Min: strconv.Itoa(atLeast),
		Max: "+inf",
	}).Result()
	if err != nil {
		return nil, fmt.Errorf("error reading frequencies: %w", err)
	}
	return texts, nil
}

// Reset deletes the frequency set.
func (r *RedisCounter) Reset(ctx context.Context) error {
	if err := r.client.Del(ctx, r.key).Err(); err != nil {
		return fmt.Errorf("error resetting frequencies: %w", err)
	}
	return nil
}

func (r *RedisCounter) Close() error {
	return r.client.Close()
}
