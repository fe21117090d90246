package reconcile

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"quizroom-service/internal/domain"
)

// Progress is the resumable part of a player's session.
type Progress struct {
	RoomID        string       `json:"roomId"`
	PlayerID      string       `json:"playerId"`
	Phase         domain.Phase `json:"phase"`
	QuestionIndex int          `json:"questionIndex"`
	Version       int64        `json:"version"`
	PendingAnswer *Overlay     `json:"pendingAnswer,omitempty"`
	SavedAt       time.Time    `json:"savedAt"`
}

// ProgressStore persists progress by session key. LoadProgress returns
// domain.ErrNotFound for unknown keys.
type ProgressStore interface {
	SaveProgress(ctx context.Context, key string, p Progress) error
	LoadProgress(ctx context.Context, key string) (Progress, error)
}

// SessionKey namespaces progress by room and player.
func SessionKey(roomID, playerID string) string {
	return "quizroom:progress:" + roomID + ":" + playerID
}

// ProgressFrom extracts the resumable fields of a local view.
func ProgressFrom(local Local, now time.Time) (Progress, bool) {
	if local.Snapshot == nil {
		return Progress{}, false
	}
	p := Progress{
		RoomID:        local.Snapshot.Room.ID,
		PlayerID:      local.PlayerID,
		Phase:         local.Snapshot.State.Phase,
		QuestionIndex: local.Snapshot.State.QuestionIndex,
		Version:       local.Snapshot.State.Version,
		SavedAt:       now,
	}
	if local.Overlay != nil {
		ov := *local.Overlay
		p.PendingAnswer = &ov
	}
	return p, true
}

// ProgressSaver writes progress at most once per debounce window, and immediately
// when the phase or question changes.
type ProgressSaver struct {
	store    ProgressStore
	debounce time.Duration
	now      func() time.Time
	logger   *zap.Logger

	mu      sync.Mutex
	last    *Progress
	pending *Progress
	timer   *time.Timer
}

func NewProgressSaver(store ProgressStore, debounce time.Duration, logger *zap.Logger) *ProgressSaver {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ProgressSaver{store: store, debounce: debounce, now: time.Now, logger: logger}
}

// Observe schedules a save for the given view.
func (p *ProgressSaver) Observe(ctx context.Context, local Local) {
	prog, ok := ProgressFrom(local, p.now())
	if !ok {
		return
	}
	p.mu.Lock()
	immediate := p.last == nil || p.last.Phase != prog.Phase || p.last.QuestionIndex != prog.QuestionIndex || p.debounce <= 0
	p.pending = &prog
	if immediate {
		p.stopTimerLocked()
		p.mu.Unlock()
		p.flush(ctx)
		return
	}
	if p.timer == nil {
		p.timer = time.AfterFunc(p.debounce, func() { p.flush(context.Background()) })
	}
	p.mu.Unlock()
}

// Flush writes any pending progress now.
func (p *ProgressSaver) Flush(ctx context.Context) {
	p.mu.Lock()
	p.stopTimerLocked()
	p.mu.Unlock()
	p.flush(ctx)
}

// Restore loads the last saved progress of a session.
func (p *ProgressSaver) Restore(ctx context.Context, roomID, playerID string) (Progress, error) {
	return p.store.LoadProgress(ctx, SessionKey(roomID, playerID))
}

func (p *ProgressSaver) flush(ctx context.Context) {
	p.mu.Lock()
	prog := p.pending
	p.pending = nil
	p.timer = nil
	if prog != nil {
		p.last = prog
	}
	p.mu.Unlock()
	if prog == nil {
		return
	}
	if err := p.store.SaveProgress(ctx, SessionKey(prog.RoomID, prog.PlayerID), *prog); err != nil {
		p.logger.Warn("save progress failed",
			zap.String("room_id", prog.RoomID), zap.String("player_id", prog.PlayerID), zap.Error(err))
	}
}

func (p *ProgressSaver) stopTimerLocked() {
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}
