// Package worker drives batches of best-of-N rollouts into the replay buffer.
package worker

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/http"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"resty.dev/v3"

	"distributed-blackjack-rl/internal/applog"
	"distributed-blackjack-rl/internal/buffer"
	"distributed-blackjack-rl/internal/collector"
)

// Rollouts is the part of collector.Collector the runner drives.
type Rollouts interface {
	Collect(ctx context.Context, seed int64) collector.Result
	Rescore(ctx context.Context, steps []buffer.StepRecord) []buffer.StepRecord
	Evaluate(ctx context.Context, n int, rng *rand.Rand) (collector.EvalReport, error)
	Metrics() *collector.Metrics
}

// ReportSink persists per-batch reports. Optional.
type ReportSink interface {
	SaveTrainReport(ctx context.Context, workerID string, batch int, r collector.TrainReport) error
	SaveEvalReport(ctx context.Context, workerID string, batch int, r collector.EvalReport) error
}

var ErrBufferFull = errors.New("replay buffer rejected trajectories")

type Runner struct {
	WorkerID      string
	BufferURL     string
	BatchEpisodes int
	// StepsPerEval runs an evaluation every that many batches; 0 disables it.
	StepsPerEval int
	EvalEpisodes int
	Seed         int64
	Backoff      time.Duration
	// MaxBatches stops Run after that many batches; 0 runs until ctx ends.
	MaxBatches int

	Rollouts Rollouts
	Reports  ReportSink
	Client   *resty.Client
}

func (r *Runner) Run(ctx context.Context) error {
	if r.BatchEpisodes <= 0 {
		return errors.New("batch episodes must be > 0")
	}
	if r.Rollouts == nil {
		return errors.New("runner has no rollouts")
	}
	if r.Backoff <= 0 {
		r.Backoff = 500 * time.Millisecond
	}
	if r.WorkerID == "" {
		r.WorkerID = "worker-" + uuid.NewString()
	}
	client := r.Client
	if client == nil {
		client = resty.New().SetTimeout(10 * time.Second)
		defer client.Close()
	}
	client.SetBaseURL(r.BufferURL)

	ctx = applog.AddContextFields(ctx, zap.String("worker_id", r.WorkerID))
	log := applog.FromContext(ctx)
	rng := rand.New(rand.NewSource(r.Seed))

	for batch := 1; r.MaxBatches <= 0 || batch <= r.MaxBatches; batch++ {
		if err := ctx.Err(); err != nil {
			return err
		}

		trajectories, err := r.collectBatch(ctx, rng)
		if err != nil {
			return err
		}
		r.report(ctx, batch)

		if len(trajectories) > 0 {
			if err := r.enqueue(ctx, client, trajectories); err != nil {
				log.Warn("enqueue failed", zap.Int("batch", batch), zap.Error(err))
				if err := sleep(ctx, r.Backoff); err != nil {
					return err
				}
			}
		}

		if r.StepsPerEval > 0 && batch%r.StepsPerEval == 0 {
			r.evaluate(ctx, rng, batch)
		}
	}
	return nil
}

// collectBatch plays BatchEpisodes episodes concurrently on distinct seeds
// and returns the rescored trajectories that produced at least one step.
func (r *Runner) collectBatch(ctx context.Context, rng *rand.Rand) ([]buffer.Trajectory, error) {
	seeds := collector.UniqueSeeds(rng, r.BatchEpisodes, collector.TrainSeedMin, collector.TrainSeedMax)
	results := make([]collector.Result, len(seeds))

	g, gctx := errgroup.WithContext(ctx)
	for i, seed := range seeds {
		g.Go(func() error {
			results[i] = r.Rollouts.Collect(gctx, seed)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	log := applog.FromContext(ctx)
	out := make([]buffer.Trajectory, 0, len(results))
	for _, res := range results {
		if res.Aborted() {
			log.Warn("partial trajectory", zap.Int64("seed", res.Seed), zap.String("reason", string(res.Abort)))
		}
		steps := r.Rollouts.Rescore(ctx, res.Steps)
		if len(steps) == 0 {
			continue
		}
		out = append(out, buffer.Trajectory{
			WorkerID:      r.WorkerID,
			TrajectoryID:  uuid.NewString(),
			Seed:          res.Seed,
			Steps:         steps,
			EpisodeReward: res.TotalReward,
			CreatedAtMs:   time.Now().UnixMilli(),
		})
	}
	return out, ctx.Err()
}

func (r *Runner) enqueue(ctx context.Context, client *resty.Client, trajectories []buffer.Trajectory) error {
	var result buffer.EnqueueResponse
	resp, err := client.R().
		SetContext(ctx).
		SetBody(buffer.EnqueueRequest{
			BatchSentAtMs: time.Now().UnixMilli(),
			Trajectories:  trajectories,
		}).
		SetResult(&result).
		Post("/enqueue")
	if err != nil {
		return fmt.Errorf("post enqueue: %w", err)
	}
	switch resp.StatusCode() {
	case http.StatusAccepted, http.StatusOK:
		return nil
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w: %d of %d", ErrBufferFull, result.Rejected, len(trajectories))
	default:
		return fmt.Errorf("post enqueue: %v", resp.Status())
	}
}

func (r *Runner) report(ctx context.Context, batch int) {
	rep := collector.Summarize(r.Rollouts.Metrics().Drain())
	log := applog.FromContext(ctx)
	log.Info("batch completed", zap.Int("batch", batch), zap.Any("train", rep))
	if r.Reports == nil || rep.Episodes == 0 {
		return
	}
	if err := r.Reports.SaveTrainReport(ctx, r.WorkerID, batch, rep); err != nil {
		log.Warn("saving train report failed", zap.Error(err))
	}
}

func (r *Runner) evaluate(ctx context.Context, rng *rand.Rand, batch int) {
	log := applog.FromContext(ctx)
	rep, err := r.Rollouts.Evaluate(ctx, r.EvalEpisodes, rng)
	if err != nil {
		log.Warn("evaluation failed", zap.Int("batch", batch), zap.Error(err))
		return
	}
	if r.Reports == nil {
		return
	}
	if err := r.Reports.SaveEvalReport(ctx, r.WorkerID, batch, rep); err != nil {
		log.Warn("saving eval report failed", zap.Error(err))
	}
}

func sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
