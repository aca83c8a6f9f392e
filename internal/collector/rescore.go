package collector

import (
	"context"
	"math"
	"sort"

	"go.uber.org/zap"

	"distributed-blackjack-rl/internal/applog"
	"distributed-blackjack-rl/internal/buffer"
	"distributed-blackjack-rl/internal/chat"
)

const (
	WinBonus        = 1.0
	TieBreakPenalty = 0.0001
)

// Rescorer adjusts the scores of a finished trajectory once its true outcome
// is known.
type Rescorer struct {
	Game    Game
	Encoder chat.Encoder
}

// Outcome replays the chosen actions on a fresh env and returns the reward
// of the last step taken. An invalid chosen action or an env error ends the
// replay with 0.
func (r Rescorer) Outcome(ctx context.Context, steps []buffer.StepRecord) float64 {
	if len(steps) == 0 {
		return 0
	}
	log := applog.FromContext(ctx)

	replay := r.Game.NewEnv()
	defer func() {
		_ = replay.Close()
	}()

	if _, err := replay.Reset(steps[0].Seed); err != nil {
		log.Warn("outcome replay reset failed", zap.Error(err))
		return 0
	}

	outcome := 0.0
	for i, step := range steps {
		if step.ChosenAction == InvalidAction {
			log.Info("invalid action in trajectory, treating as non-win", zap.Int("step", i))
			return 0
		}
		tr, err := replay.Step(step.ChosenAction)
		if err != nil {
			log.Warn("outcome replay failed", zap.Int("step", i), zap.Error(err))
			return 0
		}
		outcome = tr.Reward
		if tr.Done() {
			break
		}
	}
	return outcome
}

// Rescore returns a copy of steps with tie-break penalties applied to every
// step and, when the replayed outcome is a win, WinBonus added to the best
// alternative of each step. Malformed steps are passed through.
func (r Rescorer) Rescore(ctx context.Context, steps []buffer.StepRecord) []buffer.StepRecord {
	log := applog.FromContext(ctx)

	outcome := r.Outcome(ctx, steps)
	win := outcome > 0
	log.Info("trajectory outcome", zap.Float64("reward", outcome), zap.Bool("win", win))

	out := make([]buffer.StepRecord, len(steps))
	for i, step := range steps {
		out[i] = step.Clone()
		if step.Scores == nil {
			log.Warn("step has no scores, leaving it unchanged", zap.Int("step", i))
			continue
		}

		lengths, ok := r.responseLengths(ctx, step)
		if !ok {
			log.Warn("step messages do not line up with scores, leaving it unchanged", zap.Int("step", i))
			continue
		}
		out[i].Scores = breakTies(out[i].Scores, lengths)

		if win {
			if j := argmax(out[i].Scores); j >= 0 {
				out[i].Scores[j] += WinBonus
			}
		}
	}
	return out
}

// responseLengths encodes the final message of every alternative. A failed
// encode counts as the longest possible response.
func (r Rescorer) responseLengths(ctx context.Context, step buffer.StepRecord) ([]int, bool) {
	if len(step.Messages) != len(step.Scores) {
		return nil, false
	}
	lengths := make([]int, len(step.Messages))
	for i, msgs := range step.Messages {
		if len(msgs) == 0 {
			return nil, false
		}
		n, err := chat.EncodeLen(ctx, r.Encoder, msgs[len(msgs)-1].Content)
		if err != nil {
			applog.FromContext(ctx).Warn("encode for tie-break failed", zap.Int("alternative", i), zap.Error(err))
			n = math.MaxInt
		}
		lengths[i] = n
	}
	return lengths, true
}

// breakTies groups alternatives by exactly equal score and, within each
// group, subtracts TieBreakPenalty*rank ordered by ascending length. The
// shortest member keeps its score.
func breakTies(scores []float64, lengths []int) []float64 {
	groups := make(map[float64][]int)
	var order []float64
	for i, sc := range scores {
		if math.IsNaN(sc) {
			continue
		}
		if _, ok := groups[sc]; !ok {
			order = append(order, sc)
		}
		groups[sc] = append(groups[sc], i)
	}

	out := append([]float64(nil), scores...)
	for _, sc := range order {
		members := groups[sc]
		if len(members) < 2 {
			continue
		}
		sort.SliceStable(members, func(a, b int) bool {
			return lengths[members[a]] < lengths[members[b]]
		})
		for rank, idx := range members[1:] {
			out[idx] -= TieBreakPenalty * float64(rank+1)
		}
	}
	return out
}

// argmax returns the first index holding the maximum, or -1 for an empty or
// all-NaN slice.
func argmax(scores []float64) int {
	best := -1
	for i, sc := range scores {
		if math.IsNaN(sc) {
			continue
		}
		if best == -1 || sc > scores[best] {
			best = i
		}
	}
	return best
}
