// Package collector builds best-of-N training trajectories: it samples N
// candidate responses per turn, scores each by forward simulation, steps the
// live game with the winner and compacts the result to a token budget.
package collector

import "distributed-blackjack-rl/internal/env"

// InvalidAction marks a response that did not parse into a legal action.
const InvalidAction = -1

// Game is everything the collector needs to know about the game being played.
type Game interface {
	NewEnv() env.Env
	SystemPrompt() string
	FormatObservation(obs env.Observation) string
	// ParseAction returns InvalidAction for unusable responses.
	ParseAction(response string) int
	// DefaultAction is stepped on the live env when the selection is invalid.
	DefaultAction() int
}
