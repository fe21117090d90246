package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type countingSweeper struct {
	calls     atomic.Int32
	threshold atomic.Int64
	err       error
}

func (s *countingSweeper) SweepStaleRooms(_ context.Context, threshold time.Duration) (int, error) {
	s.calls.Add(1)
	s.threshold.Store(int64(threshold))
	return 2, s.err
}

func TestNewSweepJobValidates(t *testing.T) {
	_, err := NewSweepJob(&countingSweeper{}, "not a schedule", time.Minute, nil)
	assert.Error(t, err)

	_, err = NewSweepJob(&countingSweeper{}, "@every 1m", 0, nil)
	assert.Error(t, err)

	_, err = NewSweepJob(&countingSweeper{}, "*/5 * * * *", time.Minute, nil)
	assert.NoError(t, err)
}

func TestSweepJobRunsOnSchedule(t *testing.T) {
	sweeper := &countingSweeper{}
	job, err := NewSweepJob(sweeper, "@every 1s", 30*time.Minute, zaptest.NewLogger(t))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- job.Run(ctx) }()

	require.Eventually(t, func() bool { return sweeper.calls.Load() >= 1 }, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, int64(30*time.Minute), sweeper.threshold.Load())

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("sweep job did not stop")
	}
}

func TestSweepErrorIsLogged(t *testing.T) {
	sweeper := &countingSweeper{err: errors.New("db down")}
	job, err := NewSweepJob(sweeper, "@hourly", time.Minute, zaptest.NewLogger(t))
	require.NoError(t, err)
	job.sweep(context.Background())
	assert.Equal(t, int32(1), sweeper.calls.Load())
}
