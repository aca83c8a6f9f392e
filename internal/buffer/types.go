package buffer

import "distributed-blackjack-rl/internal/chat"

// StepRecord is one turn of training data: N alternatives with aligned
// tokens, masks, scores and message histories.
type StepRecord struct {
	Seed         int64            `json:"seed"`
	Tokens       [][]int          `json:"tokens"`
	Masks        [][]int          `json:"masks"`
	Scores       []float64        `json:"scores"`
	Messages     [][]chat.Message `json:"messages"`
	ChosenAction int              `json:"chosen_action"`
}

// Width is the number of alternatives, or -1 when the fields disagree.
func (s StepRecord) Width() int {
	n := len(s.Tokens)
	if len(s.Masks) != n || len(s.Scores) != n || len(s.Messages) != n {
		return -1
	}
	return n
}

// Clone deep-copies the record.
func (s StepRecord) Clone() StepRecord {
	out := StepRecord{Seed: s.Seed, ChosenAction: s.ChosenAction}
	if s.Tokens != nil {
		out.Tokens = make([][]int, len(s.Tokens))
		for i, t := range s.Tokens {
			out.Tokens[i] = append([]int(nil), t...)
		}
	}
	if s.Masks != nil {
		out.Masks = make([][]int, len(s.Masks))
		for i, m := range s.Masks {
			out.Masks[i] = append([]int(nil), m...)
		}
	}
	if s.Scores != nil {
		out.Scores = append([]float64(nil), s.Scores...)
	}
	if s.Messages != nil {
		out.Messages = make([][]chat.Message, len(s.Messages))
		for i, m := range s.Messages {
			out.Messages[i] = chat.Clone(m)
		}
	}
	return out
}

type Trajectory struct {
	WorkerID      string       `json:"worker_id"`
	TrajectoryID  string       `json:"trajectory_id"`
	Seed          int64        `json:"seed"`
	Steps         []StepRecord `json:"steps"`
	EpisodeReward float64      `json:"episode_reward"`
	CreatedAtMs   int64        `json:"created_at_ms"`
}

type EnqueueRequest struct {
	BatchSentAtMs int64        `json:"batch_sent_at_ms"`
	Trajectories  []Trajectory `json:"trajectories"`
}

type EnqueueResponse struct {
	Accepted int `json:"accepted"`
	Rejected int `json:"rejected"`
}

type DequeueResponse struct {
	Trajectories []Trajectory `json:"trajectories"`
}
