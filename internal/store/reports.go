package store

import (
	"context"
	"time"

	"gorm.io/gorm"

	"distributed-blackjack-rl/internal/collector"
)

type TrainReportRow struct {
	ID             uint      `gorm:"primaryKey"`
	WorkerID       string    `gorm:"index;not null"`
	Batch          int       `gorm:"not null"`
	Episodes       int       `gorm:"not null"`
	AvgReward      float64
	RewardStdDev   float64
	ActionAccuracy float64
	AvgSteps       float64
	WinRate        float64
	LossRate       float64
	DrawRate       float64
	CreatedAt      time.Time `gorm:"index"`
}

func (TrainReportRow) TableName() string { return "train_reports" }

type EvalReportRow struct {
	ID                uint      `gorm:"primaryKey"`
	WorkerID          string    `gorm:"index;not null"`
	Batch             int       `gorm:"not null"`
	CompletedEpisodes int       `gorm:"not null"`
	AvgReward         float64
	AvgTurns          float64
	ActionAccuracy    float64
	InvalidRate       float64
	Wins              int
	Losses            int
	Draws             int
	HitRate           float64
	StickRate         float64
	ErrorRate         float64
	CreatedAt         time.Time `gorm:"index"`
}

func (EvalReportRow) TableName() string { return "eval_reports" }

type ReportRepo struct {
	db *gorm.DB
}

func NewReportRepo(db *gorm.DB) ReportRepo {
	return ReportRepo{db: db}
}

func (r ReportRepo) SaveTrainReport(ctx context.Context, workerID string, batch int, rep collector.TrainReport) error {
	row := TrainReportRow{
		WorkerID:       workerID,
		Batch:          batch,
		Episodes:       rep.Episodes,
		AvgReward:      rep.AvgReward,
		RewardStdDev:   rep.RewardStdDev,
		ActionAccuracy: rep.ActionAccuracy,
		AvgSteps:       rep.AvgSteps,
		WinRate:        rep.WinRate,
		LossRate:       rep.LossRate,
		DrawRate:       rep.DrawRate,
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

func (r ReportRepo) SaveEvalReport(ctx context.Context, workerID string, batch int, rep collector.EvalReport) error {
	row := EvalReportRow{
		WorkerID:          workerID,
		Batch:             batch,
		CompletedEpisodes: rep.CompletedEpisodes,
		AvgReward:         rep.AvgReward,
		AvgTurns:          rep.AvgTurns,
		ActionAccuracy:    rep.ActionAccuracy,
		InvalidRate:       rep.InvalidRate,
		Wins:              rep.Wins,
		Losses:            rep.Losses,
		Draws:             rep.Draws,
		HitRate:           rep.HitRate,
		StickRate:         rep.StickRate,
		ErrorRate:         rep.ErrorRate,
	}
	return r.db.WithContext(ctx).Create(&row).Error
}

// LatestEval returns the most recent evaluation rows for a worker, newest first.
func (r ReportRepo) LatestEval(ctx context.Context, workerID string, limit int) ([]EvalReportRow, error) {
	var rows []EvalReportRow
	err := r.db.WithContext(ctx).
		Where(&EvalReportRow{WorkerID: workerID}).
		Order("created_at DESC, id DESC").
		Limit(limit).
		Find(&rows).Error
	if err != nil {
		return nil, err
	}
	return rows, nil
}
