package collector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"

	"distributed-blackjack-rl/internal/blackjack"
	"distributed-blackjack-rl/internal/config"
	"distributed-blackjack-rl/internal/env"
	"distributed-blackjack-rl/internal/inference"
)

// tableGame is a scripted game: stick ends the episode with stickReward, hit
// pays hitReward and ends the episode after maxSteps hits (0 = never). It
// reuses the Blackjack prompt and action parsing.
type tableGame struct {
	blackjack.Game
	hitReward   float64
	stickReward float64
	maxSteps    int
	resetErr    error

	created atomic.Int64
	closed  atomic.Int64
}

func newTableGame(hitReward, stickReward float64) *tableGame {
	return &tableGame{Game: blackjack.NewGame(), hitReward: hitReward, stickReward: stickReward}
}

func (g *tableGame) NewEnv() env.Env {
	g.created.Add(1)
	return &tableEnv{g: g}
}

func (g *tableGame) FormatObservation(obs env.Observation) string {
	return fmt.Sprintf("step %d of hand %d", obs[0], obs[1])
}

type tableEnv struct {
	g     *tableGame
	seed  int64
	steps int
	done  bool
}

func (e *tableEnv) Reset(seed int64) (env.Observation, error) {
	if e.g.resetErr != nil {
		return nil, e.g.resetErr
	}
	e.seed, e.steps, e.done = seed, 0, false
	return env.Observation{0, int(seed % 100)}, nil
}

func (e *tableEnv) Step(action int) (env.Transition, error) {
	if e.done {
		return env.Transition{}, errors.New("step after end")
	}
	e.steps++
	obs := env.Observation{e.steps, int(e.seed % 100)}
	switch action {
	case blackjack.ActionStick:
		e.done = true
		return env.Transition{Observation: obs, Reward: e.g.stickReward, Terminated: true}, nil
	case blackjack.ActionHit:
		if e.g.maxSteps > 0 && e.steps >= e.g.maxSteps {
			e.done = true
			return env.Transition{Observation: obs, Reward: e.g.hitReward, Terminated: true}, nil
		}
		return env.Transition{Observation: obs, Reward: e.g.hitReward}, nil
	default:
		return env.Transition{}, fmt.Errorf("bad action %d", action)
	}
}

func (e *tableEnv) Close() error {
	e.g.closed.Add(1)
	return nil
}

// wordEncoder yields one token per whitespace-separated word. It fails once
// failAfter successful calls have been made (0 = never).
type wordEncoder struct {
	failAfter int64
	calls     atomic.Int64
}

func (w *wordEncoder) Encode(_ context.Context, text string) ([]int, error) {
	n := w.calls.Add(1)
	if w.failAfter > 0 && n > w.failAfter {
		return nil, errors.New("tokenizer unavailable")
	}
	fields := strings.Fields(text)
	ids := make([]int, len(fields))
	for i, f := range fields {
		ids[i] = len(f)
	}
	return ids, nil
}

// scriptedLLM answers call i with turns[i] (the last entry repeats).
type scriptedLLM struct {
	mu       sync.Mutex
	turns    [][]string
	err      error
	errAt    int
	requests []inference.Request
}

func (s *scriptedLLM) Complete(_ context.Context, req inference.Request) ([]inference.Choice, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	call := len(s.requests)
	s.requests = append(s.requests, req)
	if s.err != nil && call >= s.errAt {
		return nil, s.err
	}
	texts := s.turns[min(call, len(s.turns)-1)]
	out := make([]inference.Choice, len(texts))
	for i, t := range texts {
		out[i] = inference.TextChoice(t)
	}
	return out, nil
}

func toolCall(action string) string {
	return `<tool_call>{"name": "take_action", "arguments": {"action": "` + action + `"}}</tool_call>`
}

// completion is a model continuation after the forced "<think>\n" opening.
func completion(thought, action string) string {
	return thought + "\n</think>\n\n" + toolCall(action)
}

func testConfig(n int) config.Collector {
	return config.Collector{
		GroupSize:            n,
		MaxTokenLength:       512,
		Temperature:          0.7,
		TopP:                 0.9,
		MaxTurns:             5,
		ThinkingActive:       true,
		MaxThinkCharsHistory: 3000,
		MaxTrajectoryTokens:  100000,
		EvalEpisodes:         4,
	}
}
