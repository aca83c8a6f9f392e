package collector

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"distributed-blackjack-rl/internal/applog"
	"distributed-blackjack-rl/internal/buffer"
	"distributed-blackjack-rl/internal/chat"
	"distributed-blackjack-rl/internal/config"
	"distributed-blackjack-rl/internal/env"
	"distributed-blackjack-rl/internal/inference"
)

// AbortReason says why an episode stopped before the environment ended it.
type AbortReason string

const (
	AbortNone         AbortReason = ""
	AbortEnvSetup     AbortReason = "env_setup"
	AbortInference    AbortReason = "inference_error"
	AbortChoiceCount  AbortReason = "choice_count"
	AbortTokenization AbortReason = "tokenization_error"
	AbortSelection    AbortReason = "selection_index"
)

// phase is the position of a turn in the collection state machine.
type phase string

const (
	phaseAwaitingPrompt      phase = "awaiting_prompt"
	phaseAwaitingCompletions phase = "awaiting_completions"
	phaseSelecting           phase = "selecting"
	phaseStepping            phase = "stepping"
	phaseContinue            phase = "continue"
	phaseTerminal            phase = "terminal"
	phaseAborted             phase = "aborted"
)

const thinkStub = "<think>\n"

// missingAlternative fills message slots of candidates that produced no data.
var missingAlternative = []chat.Message{{Role: chat.RoleSystem, Content: "missing alternative"}}

// Result is what one collection attempt produced. Steps are already
// compacted. Abort is AbortNone when the episode ended normally.
type Result struct {
	Seed        int64
	Steps       []buffer.StepRecord
	TotalReward float64
	Abort       AbortReason
	Err         error
}

func (r Result) Aborted() bool {
	return r.Abort != AbortNone
}

type Collector struct {
	game      Game
	llm       inference.Completer
	encoder   chat.Encoder
	cfg       config.Collector
	store     *Store
	selector  Selector
	compactor Compactor
	rescorer  Rescorer
	metrics   *Metrics

	// EvalConcurrency bounds parallel evaluation episodes.
	EvalConcurrency int
}

func New(game Game, llm inference.Completer, encoder chat.Encoder, cfg config.Collector) *Collector {
	return &Collector{
		game:            game,
		llm:             llm,
		encoder:         encoder,
		cfg:             cfg,
		store:           NewStore(game),
		selector:        Selector{Game: game, Encoder: encoder},
		compactor:       Compactor{Encoder: encoder, MaxTokens: cfg.MaxTrajectoryTokens},
		rescorer:        Rescorer{Game: game, Encoder: encoder},
		metrics:         &Metrics{},
		EvalConcurrency: 16,
	}
}

func (c *Collector) Store() *Store {
	return c.store
}

func (c *Collector) Metrics() *Metrics {
	return c.metrics
}

// Rescore applies outcome-based scoring to a collected trajectory.
func (c *Collector) Rescore(ctx context.Context, steps []buffer.StepRecord) []buffer.StepRecord {
	return c.rescorer.Rescore(ctx, steps)
}

type turnResult struct {
	next   phase
	reason AbortReason
	err    error
}

func aborted(reason AbortReason, err error) turnResult {
	return turnResult{next: phaseAborted, reason: reason, err: err}
}

// Collect plays one best-of-N episode for seed. It never panics on
// collaborator failures: an abort releases the episode and returns the
// compacted steps gathered so far together with the reason.
func (c *Collector) Collect(ctx context.Context, seed int64) Result {
	ctx = applog.AddContextFields(ctx, zap.Int64("seed", seed), zap.String("split", string(inference.SplitTrain)))
	log := applog.FromContext(ctx)

	ep, err := c.store.GetOrCreate(seed)
	if err != nil {
		log.Error("episode setup failed", zap.Error(err))
		return Result{Seed: seed, Abort: AbortEnvSetup, Err: err}
	}
	defer func() {
		if err := c.store.Remove(seed); err != nil {
			log.Warn("closing episode env failed", zap.Error(err))
		}
	}()

	log.Info("starting episode", zap.Int("max_turns", c.cfg.MaxTurns))
	for turn := 0; turn < c.cfg.MaxTurns; turn++ {
		tctx := applog.AddContextFields(ctx, zap.Int("turn", turn+1))
		res := c.playTurn(tctx, ep)
		if res.next == phaseAborted {
			log.Warn("episode aborted",
				zap.Int("turn", turn+1),
				zap.String("reason", string(res.reason)),
				zap.Error(res.err))
			return c.result(ctx, ep, res.reason, res.err)
		}
		if res.next == phaseTerminal {
			break
		}
	}

	summary := EpisodeSummary{
		Seed:           seed,
		TotalReward:    ep.TotalReward,
		CorrectActions: ep.CorrectActions,
		TotalActions:   ep.TotalActions,
		Steps:          len(ep.Actions),
	}
	if n := len(ep.StepRewards); n > 0 {
		summary.Outcome = outcomeSign(ep.StepRewards[n-1])
	}
	c.metrics.Record(summary)

	log.Info("finished episode",
		zap.Int("steps", len(ep.Actions)),
		zap.Float64("total_reward", ep.TotalReward),
		zap.Float64("action_accuracy", ratio(ep.CorrectActions, max(1, ep.TotalActions))))
	return c.result(ctx, ep, AbortNone, nil)
}

func (c *Collector) result(ctx context.Context, ep *Episode, reason AbortReason, err error) Result {
	return Result{
		Seed:        ep.Seed,
		Steps:       c.compactor.CompactTrajectory(ctx, ep.Trajectory),
		TotalReward: ep.TotalReward,
		Abort:       reason,
		Err:         err,
	}
}

func (c *Collector) stub() string {
	if c.cfg.ThinkingActive {
		return thinkStub
	}
	return ""
}

// fullResponse re-attaches the forced opening of the agent turn.
func (c *Collector) fullResponse(text string) string {
	return c.stub() + text
}

func (c *Collector) playTurn(ctx context.Context, ep *Episode) turnResult {
	log := applog.FromContext(ctx)
	state := phaseAwaitingPrompt
	log.Debug("rendering prompt", zap.String("phase", string(state)), zap.Int("history", len(ep.Messages)))
	prompt := chat.RenderPrompt(append(chat.Clone(ep.Messages), chat.Message{Role: chat.RoleAgent, Content: c.stub()}))

	state = phaseAwaitingCompletions
	log.Debug("requesting completions", zap.String("phase", string(state)), zap.Int("n", c.cfg.GroupSize))
	choices, err := c.llm.Complete(ctx, inference.Request{
		Prompt:      prompt,
		N:           c.cfg.GroupSize,
		MaxTokens:   c.cfg.MaxTokenLength,
		Temperature: c.cfg.Temperature,
		TopP:        c.cfg.TopP,
		Split:       inference.SplitTrain,
	})
	if errors.Is(err, inference.ErrChoiceCount) {
		return aborted(AbortChoiceCount, err)
	}
	if err != nil {
		return aborted(AbortInference, err)
	}
	if len(choices) != c.cfg.GroupSize {
		return aborted(AbortChoiceCount, fmt.Errorf("%w: want %d, got %d", inference.ErrChoiceCount, c.cfg.GroupSize, len(choices)))
	}

	state = phaseSelecting
	responses := make([]string, len(choices))
	actions := make([]int, len(choices))
	for i, ch := range choices {
		responses[i] = c.fullResponse(ch.Content())
		actions[i] = c.game.ParseAction(responses[i])
		log.Debug("parsed candidate", zap.String("phase", string(state)), zap.Int("candidate", i), zap.Int("action", actions[i]), zap.Int("chars", len(responses[i])))
	}

	sel := c.selector.Select(ctx, ep.Seed, ep.Actions, actions, responses)
	if sel.Index < 0 || sel.Index >= len(responses) {
		return aborted(AbortSelection, fmt.Errorf("selection index %d out of range", sel.Index))
	}
	chosen := responses[sel.Index]

	step := buffer.StepRecord{
		Seed:         ep.Seed,
		Tokens:       make([][]int, 0, c.cfg.GroupSize),
		Masks:        make([][]int, 0, c.cfg.GroupSize),
		Scores:       sel.Scores,
		Messages:     make([][]chat.Message, 0, c.cfg.GroupSize),
		ChosenAction: sel.Action,
	}
	for i, resp := range responses {
		msgs := append(chat.Clone(ep.Messages), chat.Message{Role: chat.RoleAgent, Content: resp})
		out, err := chat.TokenizeForTrainer(ctx, c.encoder, msgs)
		if err != nil {
			return aborted(AbortTokenization, fmt.Errorf("candidate %d: %w", i, err))
		}
		step.Tokens = append(step.Tokens, out.Tokens)
		step.Masks = append(step.Masks, out.Masks)
		step.Messages = append(step.Messages, msgs)
	}
	padStep(&step, c.cfg.GroupSize)

	state = phaseStepping
	envAction := sel.Action
	if envAction == InvalidAction {
		envAction = c.game.DefaultAction()
		log.Warn("selected response has no valid action, stepping default", zap.Int("action", envAction))
	}
	tr, err := ep.Env.Step(envAction)
	if err != nil {
		log.Error("live env step failed", zap.String("phase", string(state)), zap.Int("action", envAction), zap.Error(err))
		tr = env.Transition{Reward: -1, Terminated: true}
	}

	ep.Actions = append(ep.Actions, envAction)
	ep.StepRewards = append(ep.StepRewards, tr.Reward)
	ep.TotalReward += tr.Reward
	ep.TotalActions++
	if sel.Action != InvalidAction {
		ep.CorrectActions++
	}
	ep.Trajectory = append(ep.Trajectory, step)

	log.Info("stepped env",
		zap.Int("action", envAction),
		zap.Float64("reward", tr.Reward),
		zap.Bool("terminated", tr.Terminated),
		zap.Bool("truncated", tr.Truncated),
		zap.Float64("total_reward", ep.TotalReward))

	if tr.Done() {
		ep.Messages = append(ep.Messages, chat.Message{Role: chat.RoleAgent, Content: chosen})
		return turnResult{next: phaseTerminal}
	}

	ep.Messages = append(ep.Messages,
		chat.Message{Role: chat.RoleAgent, Content: TruncateThinking(chosen, c.cfg.MaxThinkCharsHistory)},
		chat.Message{Role: chat.RoleEnvironment, Content: c.game.FormatObservation(tr.Observation)},
	)
	return turnResult{next: phaseContinue}
}

// padStep extends every per-alternative field to n so indices stay aligned.
func padStep(step *buffer.StepRecord, n int) {
	for len(step.Tokens) < n {
		step.Tokens = append(step.Tokens, []int{})
	}
	for len(step.Masks) < n {
		step.Masks = append(step.Masks, []int{})
	}
	for len(step.Messages) < n {
		step.Messages = append(step.Messages, chat.Clone(missingAlternative))
	}
	for len(step.Scores) < n {
		step.Scores = append(step.Scores, SimulationFailureScore)
	}
}
