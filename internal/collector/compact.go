package collector

import (
	"context"

	"go.uber.org/zap"

	"distributed-blackjack-rl/internal/applog"
	"distributed-blackjack-rl/internal/buffer"
	"distributed-blackjack-rl/internal/chat"
)

// Compactor keeps every alternative of a step within MaxTokens by dropping
// the oldest turns, identically across alternatives.
type Compactor struct {
	Encoder   chat.Encoder
	MaxTokens int
}

func maxLen(seqs [][]int) int {
	n := 0
	for _, s := range seqs {
		if len(s) > n {
			n = len(s)
		}
	}
	return n
}

// popCount is how many leading messages (after the system prompt) can be
// removed from msgs this round: 2 for an (environment, agent) pair, 1 for a
// lone message, 0 when only the protected messages remain. The last agent
// message and the observation before it are protected.
func popCount(msgs []chat.Message) int {
	preserved := 0
	if len(msgs) > 1 && msgs[len(msgs)-1].Role == chat.RoleAgent {
		preserved = 1
		if len(msgs) > 2 && msgs[len(msgs)-2].Role == chat.RoleEnvironment {
			preserved = 2
		}
	}
	available := len(msgs) - 1 - preserved
	if available <= 0 {
		return 0
	}
	if available >= 2 && msgs[1].Role == chat.RoleEnvironment && msgs[2].Role == chat.RoleAgent {
		return 2
	}
	return 1
}

// Compact returns step unchanged when it fits, a truncated copy when it can
// be made to fit, and ok=false when it must be discarded. step is never
// modified.
func (c Compactor) Compact(ctx context.Context, step buffer.StepRecord) (buffer.StepRecord, bool) {
	log := applog.FromContext(ctx)

	current := maxLen(step.Tokens)
	if current <= c.MaxTokens {
		return step, true
	}
	log.Info("step over token budget, truncating",
		zap.Int("max_tokens", current),
		zap.Int("budget", c.MaxTokens))

	working := make([][]chat.Message, len(step.Messages))
	for i, msgs := range step.Messages {
		working[i] = chat.Clone(msgs)
	}
	tokens, masks := step.Tokens, step.Masks

	for current > c.MaxTokens {
		counts := make([]int, len(working))
		pop := 0
		for i, msgs := range working {
			counts[i] = popCount(msgs)
			if counts[i] > 0 && (pop == 0 || counts[i] < pop) {
				pop = counts[i]
			}
		}
		if pop == 0 {
			break
		}

		for i := range working {
			if counts[i] == 0 {
				continue
			}
			working[i] = append(working[i][:1], working[i][1+pop:]...)
		}

		newTokens := make([][]int, len(working))
		newMasks := make([][]int, len(working))
		for i, msgs := range working {
			out, err := chat.TokenizeForTrainer(ctx, c.Encoder, msgs)
			if err != nil {
				log.Warn("discarding step: re-tokenization failed", zap.Int("alternative", i), zap.Error(err))
				return buffer.StepRecord{}, false
			}
			newTokens[i], newMasks[i] = out.Tokens, out.Masks
		}
		tokens, masks = newTokens, newMasks
		current = maxLen(tokens)
		log.Debug("truncated step", zap.Int("popped", pop), zap.Int("max_tokens", current))
	}

	if current > c.MaxTokens {
		log.Warn("discarding step: still over token budget",
			zap.Int("max_tokens", current),
			zap.Int("budget", c.MaxTokens))
		return buffer.StepRecord{}, false
	}

	out := step.Clone()
	out.Messages = working
	out.Tokens = tokens
	out.Masks = masks
	return out, true
}

// CompactTrajectory compacts every step and drops the ones that cannot fit
// or lack tokens, masks or messages.
func (c Compactor) CompactTrajectory(ctx context.Context, steps []buffer.StepRecord) []buffer.StepRecord {
	log := applog.FromContext(ctx)

	out := make([]buffer.StepRecord, 0, len(steps))
	for i, step := range steps {
		if len(step.Messages) == 0 || len(step.Tokens) == 0 || len(step.Masks) == 0 {
			log.Warn("dropping step with missing data", zap.Int("step", i))
			continue
		}
		compacted, ok := c.Compact(ctx, step)
		if !ok {
			continue
		}
		out = append(out, compacted)
	}
	if dropped := len(steps) - len(out); dropped > 0 {
		log.Warn("steps dropped by token budget",
			zap.Int("dropped", dropped),
			zap.Int("kept", len(out)))
	}
	return out
}
