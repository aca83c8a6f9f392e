// Package env defines the game-environment contract shared by the live
// episode loop and the forward simulators.
package env

// Observation is a fixed-shape tuple of game-state integers.
type Observation []int

// Transition is the outcome of applying one action.
type Transition struct {
	Observation Observation
	Reward      float64
	Terminated  bool
	Truncated   bool
}

// Done reports whether the episode ended on this transition.
func (t Transition) Done() bool {
	return t.Terminated || t.Truncated
}

// Env is a deterministic, seedable turn-based environment. Resetting with the
// same seed and applying the same actions must reproduce the same transitions.
type Env interface {
	Reset(seed int64) (Observation, error)
	Step(action int) (Transition, error)
	Close() error
}

