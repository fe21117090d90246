package reconcile

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"quizroom-service/internal/domain"
)

// Fetcher pulls the authoritative snapshot of a room.
type Fetcher interface {
	FetchSnapshot(ctx context.Context, roomID string) (domain.Snapshot, error)
}

// SyncerConfig tunes the polling safety net.
type SyncerConfig struct {
	PollInterval time.Duration
	MaxFailures  int
}

// DefaultSyncerConfig polls every 2s and flags reconnecting after 3 failures.
func DefaultSyncerConfig() SyncerConfig {
	return SyncerConfig{PollInterval: 2 * time.Second, MaxFailures: 3}
}

// Syncer maintains one player's local view of one room from pushed snapshots and
// periodic polls.
type Syncer struct {
	fetcher Fetcher
	roomID  string
	cfg     SyncerConfig
	now     func() time.Time
	logger  *zap.Logger
	saver   *ProgressSaver

	mu       sync.Mutex
	local    Local
	onChange []func(Local)
}

// SyncerOption customizes a Syncer.
type SyncerOption func(*Syncer)

// WithProgressSaver persists progress on every change.
func WithProgressSaver(p *ProgressSaver) SyncerOption {
	return func(s *Syncer) { s.saver = p }
}

// WithNow replaces the local clock.
func WithNow(now func() time.Time) SyncerOption {
	return func(s *Syncer) { s.now = now }
}

func NewSyncer(fetcher Fetcher, roomID, playerID string, cfg SyncerConfig, logger *zap.Logger, opts ...SyncerOption) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Syncer{
		fetcher: fetcher,
		roomID:  roomID,
		cfg:     cfg,
		now:     time.Now,
		logger:  logger.With(zap.String("room_id", roomID), zap.String("player_id", playerID)),
		local:   Local{PlayerID: playerID, Status: StatusEmpty},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OnChange registers a callback invoked with every new local view.
func (s *Syncer) OnChange(fn func(Local)) {
	s.mu.Lock()
	s.onChange = append(s.onChange, fn)
	s.mu.Unlock()
}

// Local returns the current merged view.
func (s *Syncer) Local() Local {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.local
}

// View derives what to render now.
func (s *Syncer) View() View {
	return Derive(s.Local(), s.now())
}

// Push merges a snapshot received over the realtime channel.
func (s *Syncer) Push(ctx context.Context, snap domain.Snapshot) Local {
	return s.update(ctx, func(l Local) Local { return Reduce(l, snap, s.now()) })
}

// Poll fetches once. Failures keep the local view and count toward reconnecting.
func (s *Syncer) Poll(ctx context.Context) (Local, error) {
	snap, err := s.fetcher.FetchSnapshot(ctx, s.roomID)
	if err != nil {
		local := s.update(ctx, func(l Local) Local { return Failed(l, s.cfg.MaxFailures) })
		s.logger.Warn("snapshot poll failed", zap.Int("failures", local.Failures), zap.Error(err))
		return local, err
	}
	return s.Push(ctx, snap), nil
}

// Submit records an optimistic answer, to be sent by the caller over its transport.
func (s *Syncer) Submit(ctx context.Context, questionID, answer string) (Local, error) {
	var err error
	local := s.update(ctx, func(l Local) Local {
		next, subErr := Submit(l, questionID, answer, s.now())
		err = subErr
		return next
	})
	return local, err
}

// Run polls every PollInterval and merges pushed snapshots until ctx is done or
// pushes is closed.
func (s *Syncer) Run(ctx context.Context, pushes <-chan domain.Snapshot) error {
	interval := s.cfg.PollInterval
	if interval <= 0 {
		interval = DefaultSyncerConfig().PollInterval
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	_, _ = s.Poll(ctx)
	for {
		select {
		case <-ctx.Done():
			if s.saver != nil {
				s.saver.Flush(context.Background())
			}
			return ctx.Err()
		case snap, ok := <-pushes:
			if !ok {
				pushes = nil
				continue
			}
			s.Push(ctx, snap)
		case <-ticker.C:
			_, _ = s.Poll(ctx)
		}
	}
}

func (s *Syncer) update(ctx context.Context, fn func(Local) Local) Local {
	s.mu.Lock()
	s.local = fn(s.local)
	local := s.local
	callbacks := append([]func(Local){}, s.onChange...)
	s.mu.Unlock()

	if s.saver != nil {
		s.saver.Observe(ctx, local)
	}
	for _, cb := range callbacks {
		cb(local)
	}
	return local
}
