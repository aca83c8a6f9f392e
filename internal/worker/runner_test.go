package worker

import (
	"context"
	"encoding/json"
	"math/rand"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"distributed-blackjack-rl/internal/buffer"
	"distributed-blackjack-rl/internal/chat"
	"distributed-blackjack-rl/internal/collector"
)

type fakeRollouts struct {
	mu       sync.Mutex
	seeds    []int64
	abortOn  map[int64]bool
	metrics  collector.Metrics
	evals    atomic.Int32
	rescored atomic.Int32
}

func (f *fakeRollouts) Collect(_ context.Context, seed int64) collector.Result {
	f.mu.Lock()
	f.seeds = append(f.seeds, seed)
	abort := f.abortOn[seed]
	f.mu.Unlock()

	if abort {
		return collector.Result{Seed: seed, Abort: collector.AbortInference}
	}
	f.metrics.Record(collector.EpisodeSummary{Seed: seed, TotalReward: 1, Outcome: 1, Steps: 1})
	return collector.Result{
		Seed:        seed,
		TotalReward: 1,
		Steps:       []buffer.StepRecord{{Seed: seed, Tokens: [][]int{{1}}, Masks: [][]int{{1}}, Scores: []float64{0}, Messages: [][]chat.Message{{}}}},
	}
}

func (f *fakeRollouts) Rescore(_ context.Context, steps []buffer.StepRecord) []buffer.StepRecord {
	f.rescored.Add(1)
	return steps
}

func (f *fakeRollouts) Evaluate(context.Context, int, *rand.Rand) (collector.EvalReport, error) {
	f.evals.Add(1)
	return collector.EvalReport{CompletedEpisodes: 2}, nil
}

func (f *fakeRollouts) Metrics() *collector.Metrics { return &f.metrics }

type recordingSink struct {
	mu    sync.Mutex
	train []collector.TrainReport
	eval  []int
}

func (s *recordingSink) SaveTrainReport(_ context.Context, _ string, _ int, r collector.TrainReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.train = append(s.train, r)
	return nil
}

func (s *recordingSink) SaveEvalReport(_ context.Context, _ string, batch int, _ collector.EvalReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.eval = append(s.eval, batch)
	return nil
}

func bufferServer(t *testing.T, status int, got chan<- buffer.EnqueueRequest) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/enqueue", r.URL.Path)
		var req buffer.EnqueueRequest
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		got <- req
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_ = json.NewEncoder(w).Encode(buffer.EnqueueResponse{Accepted: len(req.Trajectories)})
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestRunPostsRescoredBatches(t *testing.T) {
	got := make(chan buffer.EnqueueRequest, 4)
	srv := bufferServer(t, http.StatusAccepted, got)
	rollouts := &fakeRollouts{}
	sink := &recordingSink{}

	r := &Runner{
		WorkerID:      "w-1",
		BufferURL:     srv.URL,
		BatchEpisodes: 3,
		StepsPerEval:  2,
		EvalEpisodes:  2,
		Seed:          42,
		MaxBatches:    2,
		Rollouts:      rollouts,
		Reports:       sink,
	}
	require.NoError(t, r.Run(context.Background()))

	require.Len(t, got, 2)
	first := <-got
	require.Len(t, first.Trajectories, 3)
	ids := map[string]bool{}
	for _, traj := range first.Trajectories {
		assert.Equal(t, "w-1", traj.WorkerID)
		assert.NotEmpty(t, traj.TrajectoryID)
		assert.GreaterOrEqual(t, traj.Seed, int64(collector.TrainSeedMin))
		assert.LessOrEqual(t, traj.Seed, int64(collector.TrainSeedMax))
		ids[traj.TrajectoryID] = true
	}
	assert.Len(t, ids, 3)

	assert.Equal(t, int32(6), rollouts.rescored.Load())
	assert.Equal(t, int32(1), rollouts.evals.Load())
	assert.Equal(t, []int{2}, sink.eval)
	require.Len(t, sink.train, 2)
	assert.Equal(t, 3, sink.train[0].Episodes)
	assert.InDelta(t, 1.0, sink.train[0].WinRate, 1e-9)
}

func TestRunUsesUniqueSeedsPerBatch(t *testing.T) {
	got := make(chan buffer.EnqueueRequest, 1)
	srv := bufferServer(t, http.StatusAccepted, got)
	rollouts := &fakeRollouts{}

	r := &Runner{BufferURL: srv.URL, BatchEpisodes: 50, Seed: 7, MaxBatches: 1, Rollouts: rollouts}
	require.NoError(t, r.Run(context.Background()))

	seen := map[int64]bool{}
	for _, s := range rollouts.seeds {
		assert.False(t, seen[s], "seed %d repeated", s)
		seen[s] = true
	}
	assert.Len(t, seen, 50)
}

func TestRunSkipsEmptyPartialTrajectories(t *testing.T) {
	got := make(chan buffer.EnqueueRequest, 1)
	srv := bufferServer(t, http.StatusAccepted, got)
	rollouts := &fakeRollouts{abortOn: map[int64]bool{}}

	// Abort every seed the first batch will draw.
	for _, s := range collector.UniqueSeeds(rand.New(rand.NewSource(3)), 2, collector.TrainSeedMin, collector.TrainSeedMax) {
		rollouts.abortOn[s] = true
	}

	r := &Runner{BufferURL: srv.URL, BatchEpisodes: 2, Seed: 3, MaxBatches: 1, Rollouts: rollouts}
	require.NoError(t, r.Run(context.Background()))
	assert.Empty(t, got)
}

func TestRunBacksOffWhenBufferFull(t *testing.T) {
	got := make(chan buffer.EnqueueRequest, 2)
	srv := bufferServer(t, http.StatusTooManyRequests, got)

	r := &Runner{
		BufferURL:     srv.URL,
		BatchEpisodes: 1,
		MaxBatches:    2,
		Backoff:       20 * time.Millisecond,
		Rollouts:      &fakeRollouts{},
	}
	start := time.Now()
	require.NoError(t, r.Run(context.Background()))
	assert.GreaterOrEqual(t, time.Since(start), 40*time.Millisecond)
	assert.Len(t, got, 2)
}

func TestRunStopsOnCancel(t *testing.T) {
	got := make(chan buffer.EnqueueRequest, 1)
	srv := bufferServer(t, http.StatusTooManyRequests, got)

	ctx, cancel := context.WithCancel(context.Background())
	r := &Runner{
		BufferURL:     srv.URL,
		BatchEpisodes: 1,
		Backoff:       time.Hour,
		Rollouts:      &fakeRollouts{},
	}
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	<-got
	cancel()
	select {
	case err := <-done:
		assert.ErrorIs(t, err, context.Canceled)
	case <-time.After(5 * time.Second):
		t.Fatal("runner did not stop after cancel")
	}
}

func TestRunRejectsBadSettings(t *testing.T) {
	assert.Error(t, (&Runner{Rollouts: &fakeRollouts{}}).Run(context.Background()))
	assert.Error(t, (&Runner{BatchEpisodes: 1}).Run(context.Background()))
}
