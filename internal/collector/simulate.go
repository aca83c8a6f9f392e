package collector

import (
	"errors"
	"fmt"
)

const (
	SimulationFailureScore = -10.0
	InvalidActionPenalty   = 0.5
)

var ErrReplayEnded = errors.New("simulated episode ended during history replay")

// Simulate replays history on a fresh env seeded with seed, then applies
// action and returns its reward. InvalidAction takes no step and yields 0.
// The simulation env is always closed.
func Simulate(game Game, seed int64, history []int, action int) (reward float64, err error) {
	sim := game.NewEnv()
	defer func() {
		_ = sim.Close()
	}()

	if _, err := sim.Reset(seed); err != nil {
		return 0, fmt.Errorf("reset: %w", err)
	}
	for i, past := range history {
		tr, err := sim.Step(past)
		if err != nil {
			return 0, fmt.Errorf("replay step %d: %w", i, err)
		}
		if tr.Done() {
			return 0, fmt.Errorf("%w at step %d of %d", ErrReplayEnded, i+1, len(history))
		}
	}

	if action == InvalidAction {
		return 0, nil
	}
	tr, err := sim.Step(action)
	if err != nil {
		return 0, fmt.Errorf("candidate step: %w", err)
	}
	return tr.Reward, nil
}
