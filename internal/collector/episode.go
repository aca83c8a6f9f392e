package collector

import (
	"fmt"
	"sync"

	"distributed-blackjack-rl/internal/buffer"
	"distributed-blackjack-rl/internal/chat"
	"distributed-blackjack-rl/internal/env"
)

// Episode is the live state of one seed. Only the goroutine collecting that
// seed touches it.
type Episode struct {
	Seed           int64
	Env            env.Env
	Messages       []chat.Message
	Actions        []int
	StepRewards    []float64
	Trajectory     []buffer.StepRecord
	TotalReward    float64
	CorrectActions int
	TotalActions   int
}

// Store maps seeds to live episodes. Entries exist from GetOrCreate until
// Remove; Remove closes the environment.
type Store struct {
	mu       sync.Mutex
	episodes map[int64]*Episode
	game     Game
}

func NewStore(game Game) *Store {
	return &Store{episodes: make(map[int64]*Episode), game: game}
}

// GetOrCreate returns the episode for seed, resetting a new environment and
// seeding the history with the system prompt and first observation.
func (s *Store) GetOrCreate(seed int64) (*Episode, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if ep, ok := s.episodes[seed]; ok {
		return ep, nil
	}

	e := s.game.NewEnv()
	obs, err := e.Reset(seed)
	if err != nil {
		_ = e.Close()
		return nil, fmt.Errorf("reset env for seed %d: %w", seed, err)
	}
	ep := &Episode{
		Seed: seed,
		Env:  e,
		Messages: []chat.Message{
			{Role: chat.RoleSystem, Content: s.game.SystemPrompt()},
			{Role: chat.RoleEnvironment, Content: s.game.FormatObservation(obs)},
		},
	}
	s.episodes[seed] = ep
	return ep, nil
}

// Remove closes the episode's environment and forgets it. Unknown seeds are
// ignored.
func (s *Store) Remove(seed int64) error {
	s.mu.Lock()
	ep, ok := s.episodes[seed]
	delete(s.episodes, seed)
	s.mu.Unlock()

	if !ok {
		return nil
	}
	return ep.Env.Close()
}

func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()

	return len(s.episodes)
}
