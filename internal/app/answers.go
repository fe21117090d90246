package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"quizroom-service/internal/domain"
	"quizroom-service/internal/game"
)

// Submission is one player's answer as received from a client or an NPC.
type Submission struct {
	RoomID     string
	PlayerID   string
	QuestionID string
	Answer     string
	// ResponseTime is the client-observed latency since the question opened. Zero or
	// implausible values are replaced by the server-measured latency.
	ResponseTime time.Duration
}

// SubmitResult reports the outcome of a submission. For duplicates Recorded is false
// and Response holds the answer that stands.
type SubmitResult struct {
	Recorded bool                    `json:"recorded"`
	Response domain.QuestionResponse `json:"response"`
	State    domain.GameState        `json:"state"`
}

// SubmitAnswer records a human player's answer for the current question. It returns
// domain.ErrPhaseMismatch outside the question phase or for another question,
// domain.ErrDuplicateSubmission (with the original response) for repeats and
// domain.ErrNotHuman for NPC seats, which answer on their own timers.
func (s *Service) SubmitAnswer(ctx context.Context, sub Submission) (SubmitResult, error) {
	player, err := s.Player(ctx, sub.RoomID, sub.PlayerID)
	if err != nil {
		return SubmitResult{}, err
	}
	if player.IsNPC() {
		return SubmitResult{}, domain.ErrNotHuman
	}
	return s.recordAnswer(ctx, sub)
}

// recordAnswer is the submission pipeline shared by humans and NPCs.
func (s *Service) recordAnswer(ctx context.Context, sub Submission) (SubmitResult, error) {
	e, err := s.engine(ctx, sub.RoomID)
	if err != nil {
		return SubmitResult{}, err
	}
	if _, err := s.Player(ctx, sub.RoomID, sub.PlayerID); err != nil {
		return SubmitResult{}, err
	}

	var (
		resp     domain.QuestionResponse
		inserted bool
	)
	apply := func(cur domain.GameState, players []domain.Player) (domain.GameState, bool, error) {
		now := s.clock.Now()
		question, ok := game.QuestionAt(e.quiz, cur.QuestionIndex)
		if cur.Phase != domain.PhaseQuestion || !ok || question.ID != sub.QuestionID {
			if inserted {
				return cur, false, nil
			}
			return cur, false, domain.ErrPhaseMismatch
		}

		if !inserted {
			correct, err := game.Grade(e.quiz, sub.QuestionID, sub.Answer)
			if err != nil {
				return cur, false, err
			}
			resp = domain.QuestionResponse{
				RoomID:         sub.RoomID,
				PlayerID:       sub.PlayerID,
				QuestionID:     sub.QuestionID,
				QuestionIndex:  cur.QuestionIndex,
				Answer:         sub.Answer,
				IsCorrect:      correct,
				ResponseTimeMS: questionLatency(cur, sub.ResponseTime, now, s.cfg.Rules.Timing.QuestionTimeout),
				SubmittedAt:    now,
			}
			if err := s.store.Responses.InsertResponse(ctx, resp); err != nil {
				return cur, false, err
			}
			inserted = true
		}

		next := game.RecordAnswer(cur, sub.PlayerID, now)
		next, _ = game.CatchUp(next, now, s.cfg.Rules, activeIDs(players))
		return next, next.Version != cur.Version, nil
	}
	state, err := e.mutate(ctx, apply)
	if err != nil && inserted && !errors.Is(err, domain.ErrRoomInactive) {
		// The response row exists; only the answered set is missing.
		s.logger.Warn("answer stored but state update failed, retrying",
			zap.String("room_id", sub.RoomID), zap.String("player_id", sub.PlayerID), zap.Error(err))
		state, err = e.mutate(ctx, apply)
	}

	switch {
	case errors.Is(err, domain.ErrDuplicateSubmission):
		original, getErr := s.store.Responses.GetResponse(ctx, sub.RoomID, sub.PlayerID, sub.QuestionID)
		if getErr != nil {
			return SubmitResult{}, getErr
		}
		return SubmitResult{Recorded: false, Response: original, State: state}, err
	case errors.Is(err, domain.ErrPhaseMismatch):
		s.logger.Info("answer outside question phase",
			zap.String("room_id", sub.RoomID),
			zap.String("player_id", sub.PlayerID),
			zap.String("question_id", sub.QuestionID),
			zap.String("phase", string(state.Phase)))
		return SubmitResult{State: state}, err
	case err != nil && inserted:
		return SubmitResult{Recorded: true, Response: resp}, fmt.Errorf("update answered players: %w", err)
	case err != nil:
		return SubmitResult{}, err
	}

	if err := s.store.Rooms.Touch(ctx, sub.RoomID, s.clock.Now()); err != nil {
		s.logger.Warn("touch room failed", zap.String("room_id", sub.RoomID), zap.Error(err))
	}
	return SubmitResult{Recorded: true, Response: resp, State: state}, nil
}
