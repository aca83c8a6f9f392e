package collector

import (
	"context"
	"math"

	"go.uber.org/zap"

	"distributed-blackjack-rl/internal/applog"
	"distributed-blackjack-rl/internal/chat"
)

// Selection is the outcome of one best-of-N decision. Scores has the same
// order and length as the candidates. Index is -1 only when there were no
// candidates.
type Selection struct {
	Action int
	Index  int
	Scores []float64
}

type Selector struct {
	Game    Game
	Encoder chat.Encoder
}

// Score turns a simulated reward into a candidate score.
func Score(reward float64, action int) float64 {
	if action == InvalidAction {
		return reward - InvalidActionPenalty
	}
	return reward
}

// Select simulates every candidate from the episode's confirmed history and
// picks the highest score. Ties prefer valid actions, then the response with
// the fewest tokens, then the earliest candidate.
func (s Selector) Select(ctx context.Context, seed int64, history, actions []int, responses []string) Selection {
	log := applog.FromContext(ctx)

	if len(actions) != len(responses) {
		log.Error("candidate count mismatch",
			zap.Int("actions", len(actions)),
			zap.Int("responses", len(responses)))
		return failClosed(actions)
	}
	if len(actions) == 0 {
		return Selection{Action: InvalidAction, Index: -1, Scores: []float64{}}
	}

	scores := make([]float64, len(actions))
	for i, action := range actions {
		reward, err := Simulate(s.Game, seed, history, action)
		if err != nil {
			log.Warn("candidate simulation failed", zap.Int("candidate", i), zap.Error(err))
			scores[i] = SimulationFailureScore
			continue
		}
		scores[i] = Score(reward, action)
	}

	best := math.Inf(-1)
	for _, sc := range scores {
		if sc > best {
			best = sc
		}
	}

	var tied, valid []int
	for i, sc := range scores {
		if sc != best {
			continue
		}
		tied = append(tied, i)
		if actions[i] != InvalidAction {
			valid = append(valid, i)
		}
	}

	var idx int
	switch {
	case len(valid) == 1:
		idx = valid[0]
	case len(valid) > 1:
		idx = s.shortest(ctx, valid, responses)
	case len(tied) > 0:
		idx = tied[0]
		log.Debug("all top candidates are invalid, taking the first", zap.Int("candidate", idx))
	default:
		// Every score is NaN.
		idx = 0
	}

	log.Info("selected action",
		zap.Int("action", actions[idx]),
		zap.Int("candidate", idx),
		zap.Float64s("scores", scores))
	return Selection{Action: actions[idx], Index: idx, Scores: scores}
}

// shortest returns the candidate with the fewest encoded tokens. An encoding
// failure counts as the longest possible response.
func (s Selector) shortest(ctx context.Context, candidates []int, responses []string) int {
	best, bestLen := candidates[0], math.MaxInt
	for _, i := range candidates {
		n, err := chat.EncodeLen(ctx, s.Encoder, responses[i])
		if err != nil {
			applog.FromContext(ctx).Warn("encode for tie-break failed", zap.Int("candidate", i), zap.Error(err))
			n = math.MaxInt
		}
		if n < bestLen {
			best, bestLen = i, n
		}
	}
	return best
}

func failClosed(actions []int) Selection {
	scores := make([]float64, len(actions))
	sel := Selection{Action: InvalidAction, Index: -1, Scores: scores}
	for i := range scores {
		scores[i] = SimulationFailureScore
	}
	for i, a := range actions {
		if a != InvalidAction {
			sel.Action, sel.Index = a, i
			return sel
		}
	}
	if len(actions) > 0 {
		sel.Index = 0
	}
	return sel
}
