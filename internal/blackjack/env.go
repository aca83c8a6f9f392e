package blackjack

import (
	"errors"

	"gonum.org/v1/gonum/mathext/prng"

	"distributed-blackjack-rl/internal/env"
)

const (
	ActionStick = 0
	ActionHit   = 1

	dealerStandsOn = 17
	bustThreshold  = 21
	aceBonus       = 10
)

// deck is the infinite-deck draw table: face cards count as ten.
var deck = [13]int{1, 2, 3, 4, 5, 6, 7, 8, 9, 10, 10, 10, 10}

var (
	ErrEpisodeOver   = errors.New("blackjack: step after episode end")
	ErrNotReset      = errors.New("blackjack: step before reset")
	ErrInvalidAction = errors.New("blackjack: invalid action")
	ErrClosed        = errors.New("blackjack: environment closed")
)

type State struct {
	Player []int
	Dealer []int
}

// Env is a single-hand Blackjack table with the Blackjack-v1 rules: infinite
// deck, dealer draws to 17, no natural bonus, no split or double down.
type Env struct {
	State  State
	Steps  int
	rng    *prng.Xoshiro256starstar
	ready  bool
	done   bool
	closed bool
}

var _ env.Env = (*Env)(nil)

func NewEnv() *Env {
	return &Env{rng: prng.NewXoshiro256starstar(0)}
}

func (e *Env) Reset(seed int64) (env.Observation, error) {
	if e.closed {
		return nil, ErrClosed
	}
	if e.rng == nil {
		e.rng = prng.NewXoshiro256starstar(0)
	}
	e.rng.Seed(uint64(seed))
	e.State = State{}
	e.State.Dealer = []int{e.draw(), e.draw()}
	e.State.Player = []int{e.draw(), e.draw()}
	e.Steps = 0
	e.ready = true
	e.done = false
	return e.observation(), nil
}

func (e *Env) Step(action int) (env.Transition, error) {
	switch {
	case e.closed:
		return env.Transition{}, ErrClosed
	case !e.ready:
		return env.Transition{}, ErrNotReset
	case e.done:
		return env.Transition{}, ErrEpisodeOver
	}

	e.Steps++
	switch action {
	case ActionHit:
		e.State.Player = append(e.State.Player, e.draw())
		if isBust(e.State.Player) {
			e.done = true
			return env.Transition{Observation: e.observation(), Reward: -1, Terminated: true}, nil
		}
		return env.Transition{Observation: e.observation()}, nil
	case ActionStick:
		for handSum(e.State.Dealer) < dealerStandsOn {
			e.State.Dealer = append(e.State.Dealer, e.draw())
		}
		e.done = true
		reward := cmp(score(e.State.Player), score(e.State.Dealer))
		return env.Transition{Observation: e.observation(), Reward: reward, Terminated: true}, nil
	default:
		e.Steps--
		return env.Transition{}, ErrInvalidAction
	}
}

func (e *Env) Close() error {
	e.closed = true
	return nil
}

func (e *Env) observation() env.Observation {
	ace := 0
	if usableAce(e.State.Player) {
		ace = 1
	}
	return env.Observation{handSum(e.State.Player), e.State.Dealer[0], ace}
}

func (e *Env) draw() int {
	return deck[e.rng.Uint64()%uint64(len(deck))]
}

func usableAce(hand []int) bool {
	sum := 0
	hasAce := false
	for _, c := range hand {
		sum += c
		if c == 1 {
			hasAce = true
		}
	}
	return hasAce && sum+aceBonus <= bustThreshold
}

func handSum(hand []int) int {
	sum := 0
	for _, c := range hand {
		sum += c
	}
	if usableAce(hand) {
		return sum + aceBonus
	}
	return sum
}

func isBust(hand []int) bool {
	return handSum(hand) > bustThreshold
}

func score(hand []int) int {
	if isBust(hand) {
		return 0
	}
	return handSum(hand)
}

func cmp(a, b int) float64 {
	switch {
	case a > b:
		return 1
	case a < b:
		return -1
	default:
		return 0
	}
}
