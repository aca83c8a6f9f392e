package collector

import (
	"context"
	"math/rand"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gonum.org/v1/gonum/stat"

	"distributed-blackjack-rl/internal/applog"
	"distributed-blackjack-rl/internal/chat"
	"distributed-blackjack-rl/internal/env"
	"distributed-blackjack-rl/internal/inference"
)

// Evaluation seeds never overlap the training range.
const (
	TrainSeedMin = 0
	TrainSeedMax = 1000000
	EvalSeedMin  = 1000001
	EvalSeedMax  = 2000000
)

// EvalEpisode is the record of one greedy evaluation episode.
type EvalEpisode struct {
	Seed           int64   `json:"seed"`
	TotalReward    float64 `json:"total_env_reward"`
	Turns          int     `json:"num_turns"`
	CorrectActions int     `json:"num_correct_actions"`
	InvalidActions int     `json:"num_invalid_actions"`
	ActionsChosen  []int   `json:"actions_chosen"`
	Outcome        int     `json:"game_outcome"`
}

// RunEvalEpisode plays seed with one completion per turn. Invalid responses
// step the default action. Inference failures end the episode early.
func (c *Collector) RunEvalEpisode(ctx context.Context, seed int64) EvalEpisode {
	ctx = applog.AddContextFields(ctx, zap.Int64("seed", seed), zap.String("split", string(inference.SplitEval)))
	log := applog.FromContext(ctx)

	m := EvalEpisode{Seed: seed, ActionsChosen: []int{}}
	ep, err := c.store.GetOrCreate(seed)
	if err != nil {
		log.Error("eval episode setup failed", zap.Error(err))
		return m
	}
	defer func() {
		if err := c.store.Remove(seed); err != nil {
			log.Warn("closing episode env failed", zap.Error(err))
		}
	}()

	for turn := 0; turn < c.cfg.MaxTurns; turn++ {
		m.Turns = turn + 1

		prompt := chat.RenderPrompt(append(chat.Clone(ep.Messages), chat.Message{Role: chat.RoleAgent, Content: c.stub()}))
		choices, err := c.llm.Complete(ctx, inference.Request{
			Prompt:      prompt,
			N:           1,
			MaxTokens:   c.cfg.MaxTokenLength,
			Temperature: c.cfg.Temperature,
			TopP:        c.cfg.TopP,
			Split:       inference.SplitEval,
		})
		if err != nil {
			log.Error("eval completion failed", zap.Int("turn", turn+1), zap.Error(err))
			break
		}
		if len(choices) == 0 {
			log.Error("eval completion returned no choices", zap.Int("turn", turn+1))
			break
		}

		response := c.fullResponse(choices[0].Content())
		action := c.game.ParseAction(response)
		m.ActionsChosen = append(m.ActionsChosen, action)

		envAction := action
		if action == InvalidAction {
			m.InvalidActions++
			envAction = c.game.DefaultAction()
		} else {
			m.CorrectActions++
		}

		tr, err := ep.Env.Step(envAction)
		if err != nil {
			log.Error("eval env step failed", zap.Int("turn", turn+1), zap.Error(err))
			tr = env.Transition{Reward: -1, Terminated: true}
		}
		ep.Actions = append(ep.Actions, envAction)
		ep.StepRewards = append(ep.StepRewards, tr.Reward)
		ep.TotalReward += tr.Reward

		ep.Messages = append(ep.Messages, chat.Message{Role: chat.RoleAgent, Content: response})
		if tr.Done() {
			m.Outcome = int(tr.Reward)
			break
		}
		ep.Messages = append(ep.Messages, chat.Message{Role: chat.RoleEnvironment, Content: c.game.FormatObservation(tr.Observation)})
	}

	m.TotalReward = ep.TotalReward
	log.Info("finished eval episode",
		zap.Int("turns", m.Turns),
		zap.Float64("total_reward", m.TotalReward),
		zap.Int("outcome", m.Outcome))
	return m
}

type EvalReport struct {
	CompletedEpisodes int     `json:"num_completed_episodes"`
	AvgReward         float64 `json:"avg_total_env_reward"`
	AvgTurns          float64 `json:"avg_num_turns"`
	ActionAccuracy    float64 `json:"action_accuracy"`
	InvalidRate       float64 `json:"invalid_action_rate"`
	WinRate           float64 `json:"win_rate"`
	LossRate          float64 `json:"loss_rate"`
	DrawRate          float64 `json:"draw_rate"`
	Wins              int     `json:"num_wins"`
	Losses            int     `json:"num_losses"`
	Draws             int     `json:"num_draws"`
	HitRate           float64 `json:"hit_chosen_rate"`
	StickRate         float64 `json:"stick_chosen_rate"`
	ErrorRate         float64 `json:"error_action_chosen_rate"`
}

// Evaluate runs n evaluation episodes on distinct seeds drawn from rng.
func (c *Collector) Evaluate(ctx context.Context, n int, rng *rand.Rand) (EvalReport, error) {
	seeds := UniqueSeeds(rng, n, EvalSeedMin, EvalSeedMax)
	episodes := make([]EvalEpisode, len(seeds))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(max(1, c.EvalConcurrency))
	for i, seed := range seeds {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			episodes[i] = c.RunEvalEpisode(gctx, seed)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return EvalReport{}, err
	}

	report := SummarizeEval(episodes)
	applog.FromContext(ctx).Info("evaluation completed", zap.Any("report", report))
	return report, nil
}

// SummarizeEval aggregates evaluation episodes. Hit and stick rates assume
// the Blackjack action ids.
func SummarizeEval(episodes []EvalEpisode) EvalReport {
	r := EvalReport{CompletedEpisodes: len(episodes)}
	if len(episodes) == 0 {
		return r
	}

	rewards := make([]float64, len(episodes))
	turns := make([]float64, len(episodes))
	var correct, invalid, hits, sticks, errs, chosen int
	for i, e := range episodes {
		rewards[i] = e.TotalReward
		turns[i] = float64(e.Turns)
		correct += e.CorrectActions
		invalid += e.InvalidActions
		switch e.Outcome {
		case 1:
			r.Wins++
		case -1:
			r.Losses++
		case 0:
			r.Draws++
		}
		for _, a := range e.ActionsChosen {
			chosen++
			switch a {
			case 1:
				hits++
			case 0:
				sticks++
			case InvalidAction:
				errs++
			}
		}
	}

	n := float64(len(episodes))
	r.AvgReward = stat.Mean(rewards, nil)
	r.AvgTurns = stat.Mean(turns, nil)
	r.ActionAccuracy = ratio(correct, correct+invalid)
	r.InvalidRate = ratio(invalid, correct+invalid)
	r.WinRate = float64(r.Wins) / n
	r.LossRate = float64(r.Losses) / n
	r.DrawRate = float64(r.Draws) / n
	r.HitRate = ratio(hits, chosen)
	r.StickRate = ratio(sticks, chosen)
	r.ErrorRate = ratio(errs, chosen)
	return r
}

// UniqueSeeds draws n distinct seeds uniformly from [lo, hi]. n is capped at
// the size of the range.
func UniqueSeeds(rng *rand.Rand, n int, lo, hi int64) []int64 {
	span := hi - lo + 1
	if span <= 0 || n <= 0 {
		return nil
	}
	if int64(n) > span {
		n = int(span)
	}
	seen := make(map[int64]struct{}, n)
	out := make([]int64, 0, n)
	for len(out) < n {
		s := lo + rng.Int63n(span)
		if _, ok := seen[s]; ok {
			continue
		}
		seen[s] = struct{}{}
		out = append(out, s)
	}
	return out
}
