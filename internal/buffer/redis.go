package buffer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
)

// pushIfRoom appends ARGV[2] to KEYS[1] unless the list already holds
// ARGV[1] items. Returns the new length, or -1 when full.
var pushIfRoom = redis.NewScript(`
local n = redis.call("LLEN", KEYS[1])
if n >= tonumber(ARGV[1]) then
  return -1
end
return redis.call("RPUSH", KEYS[1], ARGV[2])
`)

// RedisBuffer keeps items in a Redis list so several buffer processes can
// share one queue. The list head is the oldest item.
type RedisBuffer struct {
	client   redis.UniversalClient
	key      string
	capacity int

	mu     sync.Mutex
	policy string
}

var _ Store = (*RedisBuffer)(nil)

func NewRedisBuffer(client redis.UniversalClient, key string, capacity int, policy string) (*RedisBuffer, error) {
	if capacity <= 0 {
		return nil, errors.New("capacity must be greater than zero")
	}
	if !validPolicy(policy) {
		return nil, ErrInvalidPolicy
	}
	return &RedisBuffer{client: client, key: key, capacity: capacity, policy: policy}, nil
}

// OpenRedis parses a redis:// URL and checks the server is reachable.
func OpenRedis(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return client, nil
}

func (rb *RedisBuffer) Enqueue(ctx context.Context, item Item) error {
	payload, err := json.Marshal(item)
	if err != nil {
		return fmt.Errorf("encode item: %w", err)
	}
	n, err := pushIfRoom.Run(ctx, rb.client, []string{rb.key}, rb.capacity, payload).Int64()
	if err != nil {
		return fmt.Errorf("redis enqueue: %w", err)
	}
	if n < 0 {
		return ErrBufferFull
	}
	return nil
}

func (rb *RedisBuffer) Dequeue(ctx context.Context) (Item, error) {
	var cmd *redis.StringCmd
	if rb.Policy() == PolicyFreshness {
		cmd = rb.client.RPop(ctx, rb.key)
	} else {
		cmd = rb.client.LPop(ctx, rb.key)
	}
	raw, err := cmd.Bytes()
	if errors.Is(err, redis.Nil) {
		return Item{}, ErrBufferEmpty
	}
	if err != nil {
		return Item{}, fmt.Errorf("redis dequeue: %w", err)
	}
	var item Item
	if err := json.Unmarshal(raw, &item); err != nil {
		return Item{}, fmt.Errorf("decode item: %w", err)
	}
	return item, nil
}

func (rb *RedisBuffer) Size(ctx context.Context) (int, error) {
	n, err := rb.client.LLen(ctx, rb.key).Result()
	if err != nil {
		return 0, fmt.Errorf("redis size: %w", err)
	}
	return int(n), nil
}

func (rb *RedisBuffer) Capacity() int {
	return rb.capacity
}

func (rb *RedisBuffer) Policy() string {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	return rb.policy
}

func (rb *RedisBuffer) SetPolicy(policy string) error {
	if !validPolicy(policy) {
		return ErrInvalidPolicy
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.policy = policy
	return nil
}
