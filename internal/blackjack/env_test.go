package blackjack

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distributed-blackjack-rl/internal/env"
)

func play(t *testing.T, seed int64, actions ...int) []env.Transition {
	t.Helper()
	e := NewEnv()
	defer e.Close()
	_, err := e.Reset(seed)
	require.NoError(t, err)
	var out []env.Transition
	for _, a := range actions {
		tr, err := e.Step(a)
		require.NoError(t, err)
		out = append(out, tr)
		if tr.Done() {
			break
		}
	}
	return out
}

func TestResetIsDeterministic(t *testing.T) {
	for seed := int64(0); seed < 50; seed++ {
		a, b := NewEnv(), NewEnv()
		oa, err := a.Reset(seed)
		require.NoError(t, err)
		ob, err := b.Reset(seed)
		require.NoError(t, err)
		assert.Equal(t, oa, ob)
		assert.Equal(t, a.State, b.State)
		assert.Equal(t, play(t, seed, ActionHit, ActionHit, ActionStick), play(t, seed, ActionHit, ActionHit, ActionStick))
	}
}

func TestResetReseedsSameTable(t *testing.T) {
	e := NewEnv()
	first, err := e.Reset(9)
	require.NoError(t, err)
	dealt := e.State

	_, err = e.Step(ActionHit)
	require.NoError(t, err)
	_, err = e.Reset(123)
	require.NoError(t, err)

	again, err := e.Reset(9)
	require.NoError(t, err)
	assert.Equal(t, first, again)
	assert.Equal(t, dealt, e.State)

	var zero Env
	obs, err := zero.Reset(9)
	require.NoError(t, err)
	assert.Equal(t, first, obs)
}

func TestSeedsDealDifferentHands(t *testing.T) {
	seen := map[string]bool{}
	for seed := int64(0); seed < 50; seed++ {
		e := NewEnv()
		_, err := e.Reset(seed)
		require.NoError(t, err)
		seen[fmt.Sprint(e.State)] = true
	}
	assert.Greater(t, len(seen), 25)
}

func TestObservationShape(t *testing.T) {
	e := NewEnv()
	obs, err := e.Reset(42)
	require.NoError(t, err)
	require.Len(t, obs, 3)
	assert.GreaterOrEqual(t, obs[0], 2)
	assert.LessOrEqual(t, obs[0], 21)
	assert.GreaterOrEqual(t, obs[1], 1)
	assert.LessOrEqual(t, obs[1], 10)
	assert.Contains(t, []int{0, 1}, obs[2])
	assert.Equal(t, handSum(e.State.Player), obs[0])
	assert.Equal(t, e.State.Dealer[0], obs[1])
}

func TestStickSettlesAgainstDealer(t *testing.T) {
	for seed := int64(0); seed < 200; seed++ {
		e := NewEnv()
		_, err := e.Reset(seed)
		require.NoError(t, err)

		tr, err := e.Step(ActionStick)
		require.NoError(t, err)
		require.True(t, tr.Terminated)
		assert.GreaterOrEqual(t, handSum(e.State.Dealer), 17)
		assert.Equal(t, cmp(score(e.State.Player), score(e.State.Dealer)), tr.Reward)

		_, err = e.Step(ActionHit)
		assert.ErrorIs(t, err, ErrEpisodeOver)
	}
}

func TestHitBustsWithNegativeReward(t *testing.T) {
	busted := 0
	for seed := int64(0); seed < 200; seed++ {
		trs := play(t, seed, ActionHit, ActionHit, ActionHit, ActionHit, ActionHit, ActionHit)
		last := trs[len(trs)-1]
		if last.Terminated {
			busted++
			assert.Equal(t, -1.0, last.Reward)
		}
		for _, tr := range trs[:len(trs)-1] {
			assert.False(t, tr.Done())
			assert.Equal(t, 0.0, tr.Reward)
		}
	}
	assert.Positive(t, busted)
}

func TestHandArithmetic(t *testing.T) {
	assert.Equal(t, 21, handSum([]int{1, 10}))
	assert.True(t, usableAce([]int{1, 5}))
	assert.Equal(t, 16, handSum([]int{1, 5}))
	assert.Equal(t, 16, handSum([]int{1, 5, 10}))
	assert.False(t, usableAce([]int{1, 5, 10}))
	assert.True(t, isBust([]int{10, 10, 2}))
	assert.Equal(t, 0, score([]int{10, 10, 2}))
}

func TestStepErrors(t *testing.T) {
	e := NewEnv()
	_, err := e.Step(ActionHit)
	assert.ErrorIs(t, err, ErrNotReset)

	_, err = e.Reset(1)
	require.NoError(t, err)
	_, err = e.Step(7)
	assert.ErrorIs(t, err, ErrInvalidAction)
	assert.Equal(t, 0, e.Steps)

	require.NoError(t, e.Close())
	_, err = e.Step(ActionStick)
	assert.ErrorIs(t, err, ErrClosed)
	_, err = e.Reset(1)
	assert.ErrorIs(t, err, ErrClosed)
}
