package collector

import (
	"sync"

	"gonum.org/v1/gonum/stat"
)

// EpisodeSummary describes one completed training episode.
type EpisodeSummary struct {
	Seed           int64
	TotalReward    float64
	CorrectActions int
	TotalActions   int
	// Outcome is the sign of the last step reward: 1 win, -1 loss, 0 draw.
	Outcome int
	Steps   int
}

// Metrics buffers episode summaries until the next report drains them.
type Metrics struct {
	mu        sync.Mutex
	summaries []EpisodeSummary
}

func (m *Metrics) Record(s EpisodeSummary) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.summaries = append(m.summaries, s)
}

func (m *Metrics) Drain() []EpisodeSummary {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := m.summaries
	m.summaries = nil
	return out
}

type TrainReport struct {
	Episodes       int     `json:"episodes"`
	AvgReward      float64 `json:"avg_episode_env_reward"`
	RewardStdDev   float64 `json:"episode_env_reward_std"`
	ActionAccuracy float64 `json:"avg_episode_action_accuracy"`
	AvgSteps       float64 `json:"avg_episode_num_steps"`
	WinRate        float64 `json:"episode_win_rate"`
	LossRate       float64 `json:"episode_loss_rate"`
	DrawRate       float64 `json:"episode_draw_rate"`
}

func Summarize(summaries []EpisodeSummary) TrainReport {
	r := TrainReport{Episodes: len(summaries)}
	if len(summaries) == 0 {
		return r
	}

	rewards := make([]float64, len(summaries))
	steps := make([]float64, len(summaries))
	var correct, total, wins, losses, draws int
	for i, s := range summaries {
		rewards[i] = s.TotalReward
		steps[i] = float64(s.Steps)
		correct += s.CorrectActions
		total += s.TotalActions
		switch s.Outcome {
		case 1:
			wins++
		case -1:
			losses++
		default:
			draws++
		}
	}

	n := float64(len(summaries))
	r.AvgReward = stat.Mean(rewards, nil)
	if len(rewards) > 1 {
		r.RewardStdDev = stat.StdDev(rewards, nil)
	}
	r.AvgSteps = stat.Mean(steps, nil)
	r.ActionAccuracy = ratio(correct, total)
	r.WinRate = float64(wins) / n
	r.LossRate = float64(losses) / n
	r.DrawRate = float64(draws) / n
	return r
}

func ratio(num, den int) float64 {
	if den == 0 {
		return 0
	}
	return float64(num) / float64(den)
}

func outcomeSign(reward float64) int {
	switch {
	case reward > 0:
		return 1
	case reward < 0:
		return -1
	default:
		return 0
	}
}
