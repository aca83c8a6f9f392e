// Package buffer holds scored trajectories between rollout workers and the
// trainer, in memory or in Redis.
package buffer

import (
	"context"
	"errors"
	"sync"
	"time"
)

const (
	PolicyFIFO      = "fifo"
	PolicyFreshness = "freshness"
)

type Item struct {
	Trajectory Trajectory `json:"trajectory"`
	EnqueuedAt time.Time  `json:"enqueued_at"`
}

var (
	ErrBufferFull    = errors.New("buffer is full")
	ErrBufferEmpty   = errors.New("buffer is empty")
	ErrInvalidPolicy = errors.New("policy must be 'fifo' or 'freshness'")
)

// Store is a bounded trajectory queue. fifo dequeues the oldest item,
// freshness the newest.
type Store interface {
	Enqueue(ctx context.Context, item Item) error
	Dequeue(ctx context.Context) (Item, error)
	Size(ctx context.Context) (int, error)
	Capacity() int
	Policy() string
	SetPolicy(policy string) error
}

func validPolicy(policy string) bool {
	return policy == PolicyFIFO || policy == PolicyFreshness
}

type ReplayBuffer struct {
	mu       sync.Mutex
	items    []Item
	capacity int
	policy   string
}

var _ Store = (*ReplayBuffer)(nil)

func NewReplayBuffer(capacity int, policy string) (*ReplayBuffer, error) {
	if capacity <= 0 {
		return nil, errors.New("capacity must be greater than zero")
	}
	if !validPolicy(policy) {
		return nil, ErrInvalidPolicy
	}
	return &ReplayBuffer{
		items:    make([]Item, 0, capacity),
		capacity: capacity,
		policy:   policy,
	}, nil
}

func (rb *ReplayBuffer) Enqueue(_ context.Context, item Item) error {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if len(rb.items) >= rb.capacity {
		return ErrBufferFull
	}
	rb.items = append(rb.items, item)
	return nil
}

func (rb *ReplayBuffer) Dequeue(_ context.Context) (Item, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	if len(rb.items) == 0 {
		return Item{}, ErrBufferEmpty
	}

	var item Item
	if rb.policy == PolicyFreshness {
		item = rb.items[len(rb.items)-1]
		rb.items = rb.items[:len(rb.items)-1]
	} else {
		item = rb.items[0]
		rb.items[0] = Item{}
		rb.items = rb.items[1:]
	}
	return item, nil
}

func (rb *ReplayBuffer) Capacity() int {
	return rb.capacity
}

func (rb *ReplayBuffer) Policy() string {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	return rb.policy
}

func (rb *ReplayBuffer) SetPolicy(policy string) error {
	if !validPolicy(policy) {
		return ErrInvalidPolicy
	}

	rb.mu.Lock()
	defer rb.mu.Unlock()

	rb.policy = policy
	return nil
}

func (rb *ReplayBuffer) Size(_ context.Context) (int, error) {
	rb.mu.Lock()
	defer rb.mu.Unlock()

	return len(rb.items), nil
}
