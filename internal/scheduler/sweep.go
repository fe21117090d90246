// Package scheduler runs the periodic stale-room sweep in-process.
package scheduler

import (
	"context"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Sweeper reclaims rooms idle for longer than threshold.
type Sweeper interface {
	SweepStaleRooms(ctx context.Context, threshold time.Duration) (int, error)
}

// SweepJob is a cron schedule bound to a sweeper.
type SweepJob struct {
	sweeper   Sweeper
	threshold time.Duration
	logger    *zap.Logger
	cron      *cron.Cron
}

// NewSweepJob validates schedule (standard 5-field expression or a descriptor like "@every 5m").
func NewSweepJob(sweeper Sweeper, schedule string, threshold time.Duration, logger *zap.Logger) (*SweepJob, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if threshold <= 0 {
		return nil, fmt.Errorf("sweep threshold must be positive")
	}
	j := &SweepJob{
		sweeper:   sweeper,
		threshold: threshold,
		logger:    logger,
		cron:      cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger))),
	}
	if _, err := j.cron.AddFunc(schedule, func() { j.sweep(context.Background()) }); err != nil {
		return nil, fmt.Errorf("sweep schedule %q: %w", schedule, err)
	}
	return j, nil
}

func (j *SweepJob) sweep(ctx context.Context) {
	n, err := j.sweeper.SweepStaleRooms(ctx, j.threshold)
	if err != nil {
		j.logger.Error("room sweep failed", zap.Error(err))
		return
	}
	if n > 0 {
		j.logger.Info("stale rooms swept", zap.Int("rooms", n), zap.Duration("threshold", j.threshold))
	}
}

// Run starts the schedule and blocks until ctx is done, then waits for a running sweep.
func (j *SweepJob) Run(ctx context.Context) error {
	j.cron.Start()
	<-ctx.Done()
	<-j.cron.Stop().Done()
	return nil
}
