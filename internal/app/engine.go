package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"quizroom-service/internal/domain"
	"quizroom-service/internal/game"
)

const maxCASAttempts = 5

// roomEngine serializes every phase-changing operation of one room inside this
// process. Across processes the repository compare-and-swap is the arbiter.
type roomEngine struct {
	svc    *Service
	roomID string
	quiz   domain.Quiz

	mu     sync.Mutex
	last   domain.GameState
	timer  Timer
	closed bool
}

func newRoomEngine(svc *Service, roomID string, quiz domain.Quiz) *roomEngine {
	return &roomEngine{svc: svc, roomID: roomID, quiz: quiz}
}

// mutation computes the next state from the current one. Returning changed=false
// leaves the stored state alone.
type mutation func(cur domain.GameState, players []domain.Player) (next domain.GameState, changed bool, err error)

// mutate runs fn under the room lock and persists its result with compare-and-swap,
// retrying on conflicts with a fresh read.
func (e *roomEngine) mutate(ctx context.Context, fn mutation) (domain.GameState, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.closed {
		return domain.GameState{}, domain.ErrRoomInactive
	}
	room, err := e.svc.store.Rooms.GetRoom(ctx, e.roomID)
	if err != nil {
		return domain.GameState{}, err
	}
	if room.Status == domain.RoomInactive {
		// Swept or abandoned by another path; never drive its timers again.
		e.closeLocked()
		return domain.GameState{}, domain.ErrRoomInactive
	}

	for attempt := 0; attempt < maxCASAttempts; attempt++ {
		cur, err := e.svc.store.States.GetState(ctx, e.roomID)
		if err != nil {
			return domain.GameState{}, err
		}
		players, err := e.svc.store.Rooms.ListPlayers(ctx, e.roomID)
		if err != nil {
			return cur, err
		}
		next, changed, err := fn(cur, players)
		if err != nil {
			e.observeLocked(ctx, cur)
			return cur, err
		}
		if !changed {
			e.observeLocked(ctx, cur)
			return cur, nil
		}
		err = e.svc.store.States.CompareAndSwap(ctx, cur.Version, next)
		if errors.Is(err, domain.ErrStateConflict) {
			e.svc.logger.Debug("state conflict, retrying",
				zap.String("room_id", e.roomID), zap.Int64("version", cur.Version))
			continue
		}
		if err != nil {
			return cur, fmt.Errorf("persist game state: %w", err)
		}
		e.observeLocked(ctx, next)
		return next, nil
	}
	return domain.GameState{}, domain.ErrStateConflict
}

// tick applies every transition that is due now.
func (e *roomEngine) tick(ctx context.Context) error {
	_, err := e.mutate(ctx, func(cur domain.GameState, players []domain.Player) (domain.GameState, bool, error) {
		next, changed := game.CatchUp(cur, e.svc.clock.Now(), e.svc.cfg.Rules, activeIDs(players))
		return next, changed, nil
	})
	return err
}

// advanceFrom is what timers call: it only acts if the room is still in the phase
// and question the timer was armed for.
func (e *roomEngine) advanceFrom(ctx context.Context, from domain.Phase, index int) error {
	_, err := e.mutate(ctx, func(cur domain.GameState, players []domain.Player) (domain.GameState, bool, error) {
		now := e.svc.clock.Now()
		active := activeIDs(players)
		next, changed := game.StepFrom(cur, from, index, now, e.svc.cfg.Rules, active)
		if !changed {
			return cur, false, nil
		}
		next, _ = game.CatchUp(next, now, e.svc.cfg.Rules, active)
		return next, true, nil
	})
	return err
}

func (e *roomEngine) start(ctx context.Context, playerID string) (domain.GameState, error) {
	room, err := e.svc.store.Rooms.GetRoom(ctx, e.roomID)
	if err != nil {
		return domain.GameState{}, err
	}
	if room.Status != domain.RoomActive {
		return domain.GameState{}, domain.ErrRoomInactive
	}
	if room.HostID != playerID {
		return domain.GameState{}, domain.ErrNotHost
	}
	return e.mutate(ctx, func(cur domain.GameState, _ []domain.Player) (domain.GameState, bool, error) {
		next, err := game.Start(cur, e.svc.clock.Now())
		if err != nil {
			return cur, false, err
		}
		return next, true, nil
	})
}

// maybeAutoStart starts the countdown when the roster reaches the configured minimum.
func (e *roomEngine) maybeAutoStart(ctx context.Context) error {
	_, err := e.mutate(ctx, func(cur domain.GameState, players []domain.Player) (domain.GameState, bool, error) {
		if !game.ShouldAutoStart(cur, e.svc.cfg.Rules, len(players)) {
			return cur, false, nil
		}
		next, err := game.Start(cur, e.svc.clock.Now())
		if err != nil {
			return cur, false, nil
		}
		return next, true, nil
	})
	return err
}

// observeLocked records the latest known state and reacts when it differs from the
// previous one: timers are re-armed and subscribers notified. The first state an
// engine sees was reached elsewhere (another instance, before a restart), so its
// transition side effects already happened.
func (e *roomEngine) observeLocked(ctx context.Context, state domain.GameState) {
	prev := e.last
	first := prev.RoomID == ""
	if !first && prev.Version == state.Version {
		return
	}
	e.last = state
	e.armLocked(state)

	e.svc.publishSnapshot(ctx, e.roomID, state)
	if first {
		e.resumeLocked(ctx, state)
		return
	}
	if prev.Phase == state.Phase && prev.QuestionIndex == state.QuestionIndex {
		return
	}
	e.svc.logger.Info("room phase changed",
		zap.String("room_id", e.roomID),
		zap.String("phase", string(state.Phase)),
		zap.Int("question_index", state.QuestionIndex))

	switch state.Phase {
	case domain.PhaseCountdown:
		if state.QuestionIndex == 0 {
			e.svc.systemMessage(e.roomID, "The game is starting!")
		}
	case domain.PhaseQuestion:
		e.svc.systemMessage(e.roomID, fmt.Sprintf("Question %d of %d", state.QuestionIndex+1, state.QuestionCount))
		if q, ok := game.QuestionAt(e.quiz, state.QuestionIndex); ok {
			e.svc.npcs.questionOpened(e.roomID, q, state)
		}
	case domain.PhaseFeedback:
		e.svc.publishLeaderboard(ctx, e.roomID)
	case domain.PhaseCompleted:
		e.svc.publishLeaderboard(ctx, e.roomID)
		e.svc.systemMessage(e.roomID, "Game over!")
		if err := e.svc.store.Rooms.SetStatus(ctx, e.roomID, domain.RoomCompleted, e.svc.clock.Now()); err != nil {
			e.svc.logger.Warn("mark room completed failed", zap.String("room_id", e.roomID), zap.Error(err))
		}
		e.svc.npcs.stopRoom(e.roomID)
	}
}

// resumeLocked picks up local duties for a state this engine did not produce.
func (e *roomEngine) resumeLocked(ctx context.Context, state domain.GameState) {
	switch state.Phase {
	case domain.PhaseQuestion:
		if q, ok := game.QuestionAt(e.quiz, state.QuestionIndex); ok {
			e.svc.npcs.questionOpened(e.roomID, q, state)
		}
	case domain.PhaseCompleted:
		room, err := e.svc.store.Rooms.GetRoom(ctx, e.roomID)
		if err != nil || room.Status != domain.RoomActive {
			return
		}
		if err := e.svc.store.Rooms.SetStatus(ctx, e.roomID, domain.RoomCompleted, e.svc.clock.Now()); err != nil {
			e.svc.logger.Warn("mark room completed failed", zap.String("room_id", e.roomID), zap.Error(err))
		}
	}
}

// armLocked replaces the pending timer with one for the current phase deadline.
func (e *roomEngine) armLocked(state domain.GameState) {
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
	if e.closed {
		return
	}
	deadline, ok := game.Deadline(state, e.svc.cfg.Rules)
	if !ok {
		return
	}
	delay := deadline.Sub(e.svc.clock.Now())
	if delay < 0 {
		delay = 0
	}
	phase, index := state.Phase, state.QuestionIndex
	e.timer = e.svc.clock.AfterFunc(delay, func() {
		if err := e.advanceFrom(context.Background(), phase, index); err != nil && !errors.Is(err, domain.ErrRoomInactive) {
			e.svc.logger.Warn("timed advance failed",
				zap.String("room_id", e.roomID), zap.String("phase", string(phase)), zap.Error(err))
		}
	})
}

func (e *roomEngine) close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.closeLocked()
}

func (e *roomEngine) closeLocked() {
	e.closed = true
	if e.timer != nil {
		e.timer.Stop()
		e.timer = nil
	}
}

// activeIDs lists the players that must answer before a question closes early.
func activeIDs(players []domain.Player) []string {
	ids := make([]string, 0, len(players))
	for _, p := range players {
		if p.Active() {
			ids = append(ids, p.ID)
		}
	}
	return ids
}

// questionLatency derives the response time used for scoring.
func questionLatency(state domain.GameState, reported time.Duration, now time.Time, timeout time.Duration) int64 {
	if reported > 0 && (timeout <= 0 || reported <= timeout) {
		return reported.Milliseconds()
	}
	if state.QuestionStartedAt == nil {
		return 0
	}
	elapsed := now.Sub(*state.QuestionStartedAt)
	if elapsed < 0 {
		elapsed = 0
	}
	return elapsed.Milliseconds()
}
